package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docfold/docfold/model"
)

func TestExtractRegexMatchAllOnArrayField(t *testing.T) {
	text := "INV-001 INV-002 INV-003"
	strat := model.Strategy{
		Type:      model.StrategyRegex,
		Pattern:   `INV-\d+`,
		MatchMode: model.MatchAll,
	}

	value, found, err := ExtractRegex(text, strat, true)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []interface{}{"INV-001", "INV-002", "INV-003"}, value)
}

func TestExtractRegexFirstMatch(t *testing.T) {
	strat := model.Strategy{
		Type:      model.StrategyRegex,
		Pattern:   `INV-(\d+)`,
		MatchMode: model.MatchFirst,
		Group:     1,
	}

	value, found, err := ExtractRegex("INV-001 INV-002", strat, false)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "001", value)
}

func TestExtractRegexCollectionWrapsFirstMatch(t *testing.T) {
	strat := model.Strategy{
		Type:      model.StrategyRegex,
		Pattern:   `INV-\d+`,
		MatchMode: model.MatchFirst,
	}

	value, found, err := ExtractRegex("INV-001 INV-002", strat, true)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []interface{}{"INV-001"}, value)
}

func TestExtractRegexNoMatch(t *testing.T) {
	strat := model.Strategy{Type: model.StrategyRegex, Pattern: `XYZ-\d+`}

	_, found, err := ExtractRegex("nothing here", strat, false)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestExtractRegexBadPattern(t *testing.T) {
	strat := model.Strategy{Type: model.StrategyRegex, Pattern: `([`}

	_, _, err := ExtractRegex("x", strat, false)
	assert.Error(t, err)
}

func TestExtractAnchorPlain(t *testing.T) {
	text := "Invoice No: ABC-123\nDate: 2026-08-24"
	strat := model.Strategy{
		Type:        model.StrategyAnchor,
		Anchor:      "Invoice No",
		MaxDistance: 20,
	}

	value, found, err := ExtractAnchor(text, strat, false)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "ABC-123", value)
}

func TestExtractAnchorEndMarker(t *testing.T) {
	text := "Total: 99.50 EUR due"
	strat := model.Strategy{
		Type:        model.StrategyAnchor,
		Anchor:      "Total:",
		MaxDistance: 40,
		EndMarker:   "EUR",
	}

	value, found, err := ExtractAnchor(text, strat, false)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "99.50", value)
}

func TestExtractAnchorAllOccurrences(t *testing.T) {
	text := "Item: apple\nItem: pear\nItem: plum"
	strat := model.Strategy{
		Type:        model.StrategyAnchor,
		Anchor:      "Item:",
		MaxDistance: 10,
	}

	value, found, err := ExtractAnchor(text, strat, true)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []interface{}{"apple", "pear", "plum"}, value)
}

func TestExtractAnchorRegex(t *testing.T) {
	text := "REF_A 111 REF_B 222"
	strat := model.Strategy{
		Type:          model.StrategyAnchor,
		Anchor:        `REF_[A-Z]`,
		AnchorIsRegex: true,
		MaxDistance:   4,
	}

	value, found, err := ExtractAnchor(text, strat, true)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []interface{}{"111", "222"}, value)
}

func TestExtractAnchorMissing(t *testing.T) {
	strat := model.Strategy{Type: model.StrategyAnchor, Anchor: "Nope"}

	_, found, err := ExtractAnchor("text without it", strat, false)
	require.NoError(t, err)
	assert.False(t, found)
}

// box places a word on a synthetic grid: row r, column c.
func box(text string, r, c int) model.OCRBox {
	return model.OCRBox{
		Text:       text,
		Confidence: 0.95,
		X:          c * 120,
		Y:          r * 40,
		W:          100,
		H:          20,
	}
}

func tablePage() model.OCRPage {
	return model.OCRPage{
		Index: 1,
		Boxes: []model.OCRBox{
			box("Item", 0, 0), box("Qty", 0, 1), box("Price", 0, 2),
			box("apple", 1, 0), box("3", 1, 1), box("1.50", 1, 2),
			box("pear", 2, 0), box("5", 2, 1), box("0.80", 2, 2),
		},
	}
}

func TestDetectTablesClustersRows(t *testing.T) {
	tables := DetectTables([]model.OCRPage{tablePage()})

	require.Len(t, tables, 1)
	assert.Equal(t, []string{"Item", "Qty", "Price"}, tables[0].Header)
	require.Len(t, tables[0].Rows, 2)
	assert.Equal(t, []string{"apple", "3", "1.50"}, tables[0].Rows[0])
}

func TestDetectTablesMergesAcrossPages(t *testing.T) {
	page2 := model.OCRPage{
		Index: 2,
		Boxes: []model.OCRBox{
			box("Item", 0, 0), box("Qty", 0, 1), box("Price", 0, 2),
			box("plum", 1, 0), box("7", 1, 1), box("2.10", 1, 2),
		},
	}

	tables := DetectTables([]model.OCRPage{tablePage(), page2})

	require.Len(t, tables, 1)
	assert.Len(t, tables[0].Rows, 3)
	assert.Equal(t, "plum", tables[0].Rows[2][0])
}

func TestDetectTablesKeepsDistinctTables(t *testing.T) {
	page2 := model.OCRPage{
		Index: 2,
		Boxes: []model.OCRBox{
			box("Code", 0, 0), box("Amount", 0, 1),
			box("X1", 1, 0), box("10", 1, 1),
		},
	}

	tables := DetectTables([]model.OCRPage{tablePage(), page2})
	assert.Len(t, tables, 2)
}

func TestExtractTableColumn(t *testing.T) {
	strat := model.Strategy{
		Type:        model.StrategyTable,
		TableHeader: "Item",
		ColumnName:  "Qty",
	}

	value, found, err := ExtractTable([]model.OCRPage{tablePage()}, strat, true)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []interface{}{"3", "5"}, value)
}

func TestExtractTableWithFilter(t *testing.T) {
	strat := model.Strategy{
		Type:        model.StrategyTable,
		TableHeader: "Item",
		ColumnName:  "Price",
		FilterKey:   "Item",
		FilterValue: "pear",
	}

	value, found, err := ExtractTable([]model.OCRPage{tablePage()}, strat, false)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "0.80", value)
}

func TestExtractTableMissingColumn(t *testing.T) {
	strat := model.Strategy{
		Type:       model.StrategyTable,
		ColumnName: "Discount",
	}

	_, found, err := ExtractTable([]model.OCRPage{tablePage()}, strat, true)
	require.NoError(t, err)
	assert.False(t, found)
}
