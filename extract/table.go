package extract

import (
	"sort"
	"strings"

	"github.com/docfold/docfold/model"
)

const (
	// rowClusterThreshold groups boxes into one visual row when their
	// vertical centers are within this many pixels.
	rowClusterThreshold = 10
	// headerMergeSimilarity is the cell-equality ratio above which a
	// table continuing on the next page is merged into its predecessor.
	headerMergeSimilarity = 0.8
)

// Table is a detected grid of text cells. Header is the first clustered
// row; Rows hold the remaining rows in reading order.
type Table struct {
	Header []string
	Rows   [][]string
}

// DetectTables clusters each page's text boxes into rows by y proximity,
// keeps runs of rows with at least two columns, and merges tables that
// continue across pages when the follower's first row matches the
// leader's header.
func DetectTables(pages []model.OCRPage) []Table {
	var tables []Table
	for _, page := range pages {
		for _, t := range detectPageTables(page.Boxes) {
			if len(tables) > 0 && rowSimilarity(tables[len(tables)-1].Header, t.Header) >= headerMergeSimilarity {
				prev := &tables[len(tables)-1]
				prev.Rows = append(prev.Rows, t.Rows...)
				continue
			}
			tables = append(tables, t)
		}
	}
	return tables
}

func detectPageTables(boxes []model.OCRBox) []Table {
	rows := clusterRows(boxes)

	var tables []Table
	var current [][]string
	flush := func() {
		if len(current) >= 2 {
			tables = append(tables, Table{Header: current[0], Rows: current[1:]})
		}
		current = nil
	}

	for _, row := range rows {
		if len(row) < 2 {
			flush()
			continue
		}
		current = append(current, row)
	}
	flush()
	return tables
}

// clusterRows groups boxes whose vertical centers are within the row
// threshold, then sorts each group left to right.
func clusterRows(boxes []model.OCRBox) [][]string {
	if len(boxes) == 0 {
		return nil
	}

	sorted := make([]model.OCRBox, len(boxes))
	copy(sorted, boxes)
	sort.Slice(sorted, func(i, j int) bool {
		return centerY(sorted[i]) < centerY(sorted[j])
	})

	var groups [][]model.OCRBox
	group := []model.OCRBox{sorted[0]}
	anchorY := centerY(sorted[0])
	for _, box := range sorted[1:] {
		if centerY(box)-anchorY <= rowClusterThreshold {
			group = append(group, box)
			continue
		}
		groups = append(groups, group)
		group = []model.OCRBox{box}
		anchorY = centerY(box)
	}
	groups = append(groups, group)

	rows := make([][]string, 0, len(groups))
	for _, g := range groups {
		sort.Slice(g, func(i, j int) bool { return g[i].X < g[j].X })
		row := make([]string, len(g))
		for i, box := range g {
			row[i] = strings.TrimSpace(box.Text)
		}
		rows = append(rows, row)
	}
	return rows
}

func centerY(b model.OCRBox) int {
	return b.Y + b.H/2
}

// rowSimilarity is the fraction of positionally equal cells, compared
// case-insensitively over the longer row.
func rowSimilarity(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	equal := 0
	for i := 0; i < n; i++ {
		if strings.EqualFold(strings.TrimSpace(a[i]), strings.TrimSpace(b[i])) {
			equal++
		}
	}
	longer := len(a)
	if len(b) > longer {
		longer = len(b)
	}
	return float64(equal) / float64(longer)
}

// columnIndex finds the header cell matching name, exact first then
// substring.
func (t Table) columnIndex(name string) int {
	for i, cell := range t.Header {
		if strings.EqualFold(strings.TrimSpace(cell), strings.TrimSpace(name)) {
			return i
		}
	}
	for i, cell := range t.Header {
		if strings.Contains(cell, name) {
			return i
		}
	}
	return -1
}

// hasHeaderCell reports whether any header cell matches the label.
func (t Table) hasHeaderCell(label string) bool {
	return t.columnIndex(label) >= 0
}

// ExtractTable picks the table containing the strategy's table_header
// cell, optionally filters rows by key=value, and returns the values of
// column_name. Collection fields yield the full column; scalar fields
// yield the first row's value.
func ExtractTable(pages []model.OCRPage, s model.Strategy, isCollection bool) (interface{}, bool, error) {
	tables := DetectTables(pages)

	for _, t := range tables {
		if s.TableHeader != "" && !t.hasHeaderCell(s.TableHeader) {
			continue
		}
		col := t.columnIndex(s.ColumnName)
		if col < 0 {
			continue
		}

		filterCol := -1
		if s.FilterKey != "" {
			filterCol = t.columnIndex(s.FilterKey)
			if filterCol < 0 {
				continue
			}
		}

		var values []interface{}
		for _, row := range t.Rows {
			if col >= len(row) {
				continue
			}
			if filterCol >= 0 {
				if filterCol >= len(row) || !strings.EqualFold(strings.TrimSpace(row[filterCol]), s.FilterValue) {
					continue
				}
			}
			values = append(values, row[col])
		}
		if len(values) == 0 {
			continue
		}
		if isCollection {
			return values, true, nil
		}
		return values[0], true, nil
	}
	return nil, false, nil
}
