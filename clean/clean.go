// Package clean normalizes extracted field values before validation.
// Three operation kinds run in declared order per field: regex-replace,
// trim and date-reformat. Paths are dotted and broadcast over arrays, so
// "order.lines.qty" cleans the qty of every line.
package clean

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/docfold/docfold/common"
	"github.com/docfold/docfold/model"
)

// dateInputFormats are the accepted source layouts for date-reformat,
// tried in order; the first successful parse wins.
var dateInputFormats = []string{
	"2006-01-02",
	"2006/01/02",
	"2006.01.02",
	"2006年01月02日",
	"2006-01-02 15:04:05",
	"02/01/2006",
	"02-01-2006",
	"02.01.2006",
	"Jan 2, 2006",
	"20060102",
}

const defaultDateOutput = "2006-01-02"

// Apply runs every field's cleaning ops over the document and returns
// the cleaned document. Unknown paths are ignored; non-string values
// pass through untouched.
func Apply(doc map[string]interface{}, rules map[string]model.FieldRules) map[string]interface{} {
	paths := make([]string, 0, len(rules))
	for path := range rules {
		if len(rules[path].Clean) > 0 {
			paths = append(paths, path)
		}
	}
	sort.Strings(paths)

	result := interface{}(doc)
	for _, path := range paths {
		ops := rules[path].Clean
		result = transform(result, strings.Split(path, "."), func(v interface{}) interface{} {
			return applyOps(v, ops, path)
		})
	}
	if m, ok := result.(map[string]interface{}); ok {
		return m
	}
	return doc
}

// Field runs a list of ops over a single value. Exposed for audit
// preview tooling.
func Field(value interface{}, ops []model.CleanOp) interface{} {
	return applyOps(value, ops, "")
}

func applyOps(value interface{}, ops []model.CleanOp, path string) interface{} {
	if list, ok := value.([]interface{}); ok {
		cleaned := make([]interface{}, len(list))
		for i, elem := range list {
			cleaned[i] = applyOps(elem, ops, path)
		}
		return cleaned
	}

	s, ok := value.(string)
	if !ok {
		return value
	}

	for _, op := range ops {
		switch op.Type {
		case model.CleanRegexReplace:
			re, err := regexp.Compile(op.Pattern)
			if err != nil {
				common.Logger.WithError(err).WithField("field", path).Warn("invalid clean pattern, skipping op")
				continue
			}
			s = re.ReplaceAllString(s, op.Replacement)
		case model.CleanTrim:
			s = strings.TrimSpace(s)
		case model.CleanDateFormat:
			s = reformatDate(s, op.OutputFormat)
		default:
			common.Logger.WithField("field", path).
				WithField("op", string(op.Type)).
				Warn("unknown clean op, skipping")
		}
	}
	return s
}

// reformatDate parses the value against the accepted input layouts and
// renders it in the output layout. Unparseable values pass through
// unchanged.
func reformatDate(value, outputFormat string) string {
	if outputFormat == "" {
		outputFormat = defaultDateOutput
	}
	trimmed := strings.TrimSpace(value)
	for _, layout := range dateInputFormats {
		if t, err := time.Parse(layout, trimmed); err == nil {
			return t.Format(outputFormat)
		}
	}
	return value
}

// transform applies fn to the value addressed by parts, broadcasting
// over arrays along the way.
func transform(doc interface{}, parts []string, fn func(interface{}) interface{}) interface{} {
	if len(parts) == 0 {
		return fn(doc)
	}

	switch v := doc.(type) {
	case map[string]interface{}:
		child, ok := v[parts[0]]
		if !ok {
			return v
		}
		v[parts[0]] = transform(child, parts[1:], fn)
		return v
	case []interface{}:
		for i, elem := range v {
			v[i] = transform(elem, parts, fn)
		}
		return v
	default:
		return doc
	}
}
