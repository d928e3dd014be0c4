package schema

import "strings"

// Get returns the value at the dotted path within a nested document.
// Documents are the JSON shapes produced by extraction:
// map[string]interface{} for objects and []interface{} for arrays.
//
// When the path traverses an array the remainder is applied to every
// element and the results are returned as a slice (broadcast). A missing
// segment yields (nil, false).
func Get(doc interface{}, path string) (interface{}, bool) {
	if path == "" {
		return doc, doc != nil
	}
	return get(doc, strings.Split(path, "."))
}

func get(doc interface{}, parts []string) (interface{}, bool) {
	if len(parts) == 0 {
		return doc, true
	}
	switch v := doc.(type) {
	case map[string]interface{}:
		child, ok := v[parts[0]]
		if !ok {
			return nil, false
		}
		return get(child, parts[1:])
	case []interface{}:
		out := make([]interface{}, 0, len(v))
		any := false
		for _, elem := range v {
			val, ok := get(elem, parts)
			if ok {
				any = true
			}
			out = append(out, val)
		}
		return out, any
	default:
		return nil, false
	}
}

// Set writes value at the dotted path within doc and returns the updated
// document. Intermediate objects are created as needed. When the existing
// value and the new value at the final segment are both objects they are
// deep-merged; otherwise the new value replaces the old. Array nodes
// broadcast: setting through an array applies to every element.
func Set(doc interface{}, path string, value interface{}) interface{} {
	if path == "" {
		return merge(doc, value)
	}
	return set(doc, strings.Split(path, "."), value)
}

func set(doc interface{}, parts []string, value interface{}) interface{} {
	if list, ok := doc.([]interface{}); ok {
		out := make([]interface{}, len(list))
		for i, elem := range list {
			out[i] = set(elem, parts, value)
		}
		return out
	}

	obj, ok := doc.(map[string]interface{})
	if !ok {
		obj = map[string]interface{}{}
	}

	key := parts[0]
	if len(parts) == 1 {
		obj[key] = merge(obj[key], value)
		return obj
	}
	obj[key] = set(obj[key], parts[1:], value)
	return obj
}

// merge deep-merges b into a when both are objects; otherwise b wins.
func merge(a, b interface{}) interface{} {
	am, aok := a.(map[string]interface{})
	bm, bok := b.(map[string]interface{})
	if !aok || !bok {
		return b
	}
	for key, bv := range bm {
		am[key] = merge(am[key], bv)
	}
	return am
}
