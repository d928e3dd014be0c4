package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/docfold/docfold/model"
)

func confPage(boxes ...model.OCRBox) []model.OCRPage {
	return []model.OCRPage{{Index: 1, Boxes: boxes, AvgConfidence: 0.5}}
}

func TestOCRConfidenceExactBoxMatch(t *testing.T) {
	pages := confPage(model.OCRBox{Text: "ABC-123", Confidence: 0.9})

	score := OCRConfidence("ABC-123", pages)
	assert.InDelta(t, 99.0, score, 1e-9) // 90 with +10% exact bonus
}

func TestOCRConfidenceOverlapAverage(t *testing.T) {
	pages := confPage(
		model.OCRBox{Text: "Invoice", Confidence: 0.8},
		model.OCRBox{Text: "No.", Confidence: 0.6},
		model.OCRBox{Text: "unrelated", Confidence: 0.1},
	)

	score := OCRConfidence("Invoice No.", pages)
	assert.InDelta(t, 70.0, score, 1e-9)
}

func TestOCRConfidenceShortValuePenalty(t *testing.T) {
	pages := confPage(model.OCRBox{Text: "42", Confidence: 0.9})

	score := OCRConfidence("42", pages)
	// 90 with exact bonus then short penalty: 90 * 1.1 * 0.9
	assert.InDelta(t, 89.1, score, 1e-9)
}

func TestOCRConfidenceNoOverlapFallsBackToPageAverage(t *testing.T) {
	pages := confPage(model.OCRBox{Text: "something", Confidence: 0.9})

	score := OCRConfidence("missing-value", pages)
	assert.InDelta(t, 50.0, score, 1e-9)
}

func TestOCRConfidenceListAveragesElements(t *testing.T) {
	pages := confPage(
		model.OCRBox{Text: "aaa", Confidence: 1.0},
		model.OCRBox{Text: "bbb", Confidence: 0.5},
	)

	score := OCRConfidence([]interface{}{"aaa", "bbb"}, pages)
	// (100*1.1 clamped + 50*1.1) / 2
	assert.InDelta(t, (100.0+55.0)/2, score, 1e-9)
}

func TestOCRConfidenceEmptyValue(t *testing.T) {
	assert.Zero(t, OCRConfidence("", nil))
	assert.Zero(t, OCRConfidence(nil, nil))
}

func TestLLMConfidenceVerbatim(t *testing.T) {
	score := LLMConfidence("ACME GmbH", "Seller: ACME GmbH, Berlin")
	assert.InDelta(t, 90.0, score, 1e-9)
}

func TestLLMConfidenceFuzzy(t *testing.T) {
	// Not verbatim but most characters present.
	score := LLMConfidence("ACMEGmbH", "Seller: ACME GmbH, Berlin")
	assert.InDelta(t, 75.0, score, 1e-9)
}

func TestLLMConfidenceAbsent(t *testing.T) {
	score := LLMConfidence("zzzzqqqq", "completely different text")
	assert.InDelta(t, 70.0, score, 1e-9)
}

func TestLLMConfidenceArrayMatchRate(t *testing.T) {
	text := "INV-001 INV-002"
	score := LLMConfidence([]interface{}{"INV-001", "INV-002", "INV-999"}, text)
	assert.InDelta(t, 70+15*(2.0/3.0), score, 1e-9)
}

func TestLLMConfidenceEmpty(t *testing.T) {
	assert.Zero(t, LLMConfidence(nil, "text"))
	assert.Zero(t, LLMConfidence("", "text"))
	assert.Zero(t, LLMConfidence([]interface{}{}, "text"))
}

func TestValueSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b interface{}
		want float64
	}{
		{"IdenticalStrings", "hello", "hello", 1},
		{"DisjointStrings", "abc", "xyz", 0},
		{"EmptyBoth", "", "", 1},
		{"IdenticalMaps", map[string]interface{}{"a": "x"}, map[string]interface{}{"a": "x"}, 1},
		{"IdenticalArrays", []interface{}{"x", "y"}, []interface{}{"x", "y"}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, ValueSimilarity(tt.a, tt.b), 1e-9)
		})
	}
}

func TestValueSimilarityPartialMap(t *testing.T) {
	a := map[string]interface{}{"x": "same", "y": "aaa"}
	b := map[string]interface{}{"x": "same", "y": "bbb"}

	sim := ValueSimilarity(a, b)
	assert.InDelta(t, 0.5, sim, 1e-9)
}

func TestValueSimilarityArrayLengthMismatch(t *testing.T) {
	a := []interface{}{"x", "y"}
	b := []interface{}{"x"}

	// Second position compares "y" against nothing.
	assert.InDelta(t, 0.5, ValueSimilarity(a, b), 1e-9)
}

func TestLCSRatio(t *testing.T) {
	assert.InDelta(t, 1.0, lcsRatio("abc", "abc"), 1e-9)
	assert.InDelta(t, 0.0, lcsRatio("abc", "xyz"), 1e-9)
	assert.InDelta(t, 2.0*2/5, lcsRatio("ab", "axb"), 1e-9)
	assert.InDelta(t, 1.0, lcsRatio("", ""), 1e-9)
	assert.InDelta(t, 0.0, lcsRatio("a", ""), 1e-9)
}
