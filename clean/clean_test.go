package clean

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/docfold/docfold/model"
)

func TestApplyRegexReplace(t *testing.T) {
	doc := map[string]interface{}{"amount": "1,234"}
	rules := map[string]model.FieldRules{
		"amount": {Clean: []model.CleanOp{
			{Type: model.CleanRegexReplace, Pattern: ",", Replacement: ""},
		}},
	}

	cleaned := Apply(doc, rules)
	assert.Equal(t, "1234", cleaned["amount"])
}

func TestApplyOpsInDeclaredOrder(t *testing.T) {
	doc := map[string]interface{}{"ref": "  AB-0042  "}
	rules := map[string]model.FieldRules{
		"ref": {Clean: []model.CleanOp{
			{Type: model.CleanTrim},
			{Type: model.CleanRegexReplace, Pattern: `^AB-`, Replacement: ""},
		}},
	}

	cleaned := Apply(doc, rules)
	assert.Equal(t, "0042", cleaned["ref"])
}

func TestApplyDateFormats(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"2026-08-24", "2026-08-24"},
		{"2026/08/24", "2026-08-24"},
		{"2026.08.24", "2026-08-24"},
		{"2026年08月24日", "2026-08-24"},
		{"2026-08-24 10:30:00", "2026-08-24"},
		{"24/08/2026", "2026-08-24"},
		{"24-08-2026", "2026-08-24"},
		{"24.08.2026", "2026-08-24"},
		{"Aug 24, 2026", "2026-08-24"},
		{"20260824", "2026-08-24"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			doc := map[string]interface{}{"date": tt.in}
			rules := map[string]model.FieldRules{
				"date": {Clean: []model.CleanOp{{Type: model.CleanDateFormat}}},
			}
			assert.Equal(t, tt.want, Apply(doc, rules)["date"])
		})
	}
}

func TestApplyDateCustomOutput(t *testing.T) {
	doc := map[string]interface{}{"date": "2026-08-24"}
	rules := map[string]model.FieldRules{
		"date": {Clean: []model.CleanOp{
			{Type: model.CleanDateFormat, OutputFormat: "02.01.2006"},
		}},
	}

	assert.Equal(t, "24.08.2026", Apply(doc, rules)["date"])
}

func TestApplyDateUnparseablePassesThrough(t *testing.T) {
	doc := map[string]interface{}{"date": "not a date"}
	rules := map[string]model.FieldRules{
		"date": {Clean: []model.CleanOp{{Type: model.CleanDateFormat}}},
	}

	assert.Equal(t, "not a date", Apply(doc, rules)["date"])
}

func TestApplyBroadcastsOverArrays(t *testing.T) {
	doc := map[string]interface{}{
		"order": map[string]interface{}{
			"lines": []interface{}{
				map[string]interface{}{"qty": " 3 "},
				map[string]interface{}{"qty": " 5 "},
			},
		},
	}
	rules := map[string]model.FieldRules{
		"order.lines.qty": {Clean: []model.CleanOp{{Type: model.CleanTrim}}},
	}

	cleaned := Apply(doc, rules)
	lines := cleaned["order"].(map[string]interface{})["lines"].([]interface{})
	assert.Equal(t, "3", lines[0].(map[string]interface{})["qty"])
	assert.Equal(t, "5", lines[1].(map[string]interface{})["qty"])
}

func TestApplyLeafArrayCleansEachElement(t *testing.T) {
	doc := map[string]interface{}{"tags": []interface{}{" a ", " b "}}
	rules := map[string]model.FieldRules{
		"tags": {Clean: []model.CleanOp{{Type: model.CleanTrim}}},
	}

	cleaned := Apply(doc, rules)
	assert.Equal(t, []interface{}{"a", "b"}, cleaned["tags"])
}

func TestApplyIgnoresMissingPathsAndNonStrings(t *testing.T) {
	doc := map[string]interface{}{"n": 42.0}
	rules := map[string]model.FieldRules{
		"n":       {Clean: []model.CleanOp{{Type: model.CleanTrim}}},
		"missing": {Clean: []model.CleanOp{{Type: model.CleanTrim}}},
	}

	cleaned := Apply(doc, rules)
	assert.Equal(t, 42.0, cleaned["n"])
	assert.NotContains(t, cleaned, "missing")
}
