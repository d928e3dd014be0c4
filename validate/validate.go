// Package validate runs per-field validation predicates over cleaned
// documents and implements the audit gate that decides whether a job
// needs human review.
package validate

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/docfold/docfold/common"
	"github.com/docfold/docfold/model"
	"github.com/docfold/docfold/schema"
)

// namedPatterns are the built-in pattern predicates.
var namedPatterns = map[string]*regexp.Regexp{
	"email":   regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`),
	"phone":   regexp.MustCompile(`^1[3-9]\d{9}$`),
	"url":     regexp.MustCompile(`^https?://[^\s]+$`),
	"id_card": regexp.MustCompile(`^\d{17}[\dXx]$`),
}

// Run evaluates every validator bound to the document and returns one
// audit reason per failing predicate.
func Run(doc map[string]interface{}, rules map[string]model.FieldRules) []model.AuditReason {
	paths := make([]string, 0, len(rules))
	for path := range rules {
		if len(rules[path].Validate) > 0 {
			paths = append(paths, path)
		}
	}
	sort.Strings(paths)

	var reasons []model.AuditReason
	for _, path := range paths {
		value, _ := schema.Get(doc, path)
		for _, v := range rules[path].Validate {
			ok, message := check(value, doc, v)
			if ok {
				continue
			}
			if v.Message != "" {
				message = v.Message
			}
			reasons = append(reasons, model.AuditReason{
				Type:    model.ReasonValidationFailed,
				Field:   path,
				Message: message,
			})
		}
	}
	return reasons
}

func check(value interface{}, doc map[string]interface{}, v model.Validator) (bool, string) {
	switch v.Type {
	case model.ValidateRequired:
		return checkRequired(value)
	case model.ValidateNotEmpty:
		return checkNotEmpty(value)
	case model.ValidatePattern:
		return checkPattern(value, v)
	case model.ValidateRange:
		return checkRange(value, v)
	case model.ValidateLength:
		return checkLength(value, v)
	case model.ValidateUnique:
		return checkUnique(value, v)
	case model.ValidateHasFields:
		return checkHasFields(value, v)
	case model.ValidateItemsRequired:
		return checkItemsRequired(value, v)
	case model.ValidateExpression:
		return checkExpression(value, doc, v)
	default:
		common.Logger.WithField("validator", string(v.Type)).Warn("unknown validator type, passing")
		return true, ""
	}
}

func isEmpty(value interface{}) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	case []interface{}:
		return len(v) == 0
	case map[string]interface{}:
		return len(v) == 0
	default:
		return false
	}
}

func checkRequired(value interface{}) (bool, string) {
	if isEmpty(value) {
		return false, "field is required"
	}
	return true, ""
}

func checkNotEmpty(value interface{}) (bool, string) {
	switch v := value.(type) {
	case []interface{}:
		if len(v) == 0 {
			return false, "array must not be empty"
		}
	case map[string]interface{}:
		if len(v) == 0 {
			return false, "object must not be empty"
		}
	case nil:
		return false, "value must not be empty"
	}
	return true, ""
}

func checkPattern(value interface{}, v model.Validator) (bool, string) {
	if isEmpty(value) {
		return true, "" // absence is for required to flag
	}
	s := toString(value)

	var re *regexp.Regexp
	if v.Named != "" {
		named, ok := namedPatterns[v.Named]
		if !ok {
			common.Logger.WithField("pattern", v.Named).Warn("unknown named pattern, passing")
			return true, ""
		}
		re = named
	} else {
		compiled, err := regexp.Compile(v.Pattern)
		if err != nil {
			common.Logger.WithError(err).Warn("invalid validation pattern, passing")
			return true, ""
		}
		re = compiled
	}

	if !re.MatchString(s) {
		name := v.Named
		if name == "" {
			name = v.Pattern
		}
		return false, fmt.Sprintf("value does not match pattern %s", name)
	}
	return true, ""
}

func checkRange(value interface{}, v model.Validator) (bool, string) {
	if isEmpty(value) {
		return true, ""
	}
	n, ok := toNumber(value)
	if !ok {
		return false, "value is not numeric"
	}
	if v.Min != nil && n < *v.Min {
		return false, fmt.Sprintf("value %v below minimum %v", n, *v.Min)
	}
	if v.Max != nil && n > *v.Max {
		return false, fmt.Sprintf("value %v above maximum %v", n, *v.Max)
	}
	return true, ""
}

func checkLength(value interface{}, v model.Validator) (bool, string) {
	list, ok := value.([]interface{})
	if !ok {
		if value == nil {
			list = nil
		} else {
			return false, "value is not an array"
		}
	}
	if v.MinLen != nil && len(list) < *v.MinLen {
		return false, fmt.Sprintf("array has %d elements, minimum is %d", len(list), *v.MinLen)
	}
	if v.MaxLen != nil && len(list) > *v.MaxLen {
		return false, fmt.Sprintf("array has %d elements, maximum is %d", len(list), *v.MaxLen)
	}
	return true, ""
}

func checkUnique(value interface{}, v model.Validator) (bool, string) {
	list, ok := value.([]interface{})
	if !ok {
		return true, ""
	}
	seen := make(map[string]bool, len(list))
	for _, elem := range list {
		key := elem
		if v.UniqueBy != "" {
			if m, ok := elem.(map[string]interface{}); ok {
				key = m[v.UniqueBy]
			}
		}
		s := toString(key)
		if seen[s] {
			return false, fmt.Sprintf("duplicate element %q", s)
		}
		seen[s] = true
	}
	return true, ""
}

func checkHasFields(value interface{}, v model.Validator) (bool, string) {
	m, ok := value.(map[string]interface{})
	if !ok {
		return false, "value is not an object"
	}
	for _, field := range v.Fields {
		if isEmpty(m[field]) {
			return false, fmt.Sprintf("missing required subfield %s", field)
		}
	}
	return true, ""
}

func checkItemsRequired(value interface{}, v model.Validator) (bool, string) {
	list, ok := value.([]interface{})
	if !ok {
		return true, ""
	}
	for i, elem := range list {
		m, ok := elem.(map[string]interface{})
		if !ok {
			return false, fmt.Sprintf("element %d is not an object", i)
		}
		for _, field := range v.Fields {
			if isEmpty(m[field]) {
				return false, fmt.Sprintf("element %d missing required subfield %s", i, field)
			}
		}
	}
	return true, ""
}

func toString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	case float64:
		if s == float64(int64(s)) {
			return strconv.FormatInt(int64(s), 10)
		}
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func toNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}
