package ocr

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docfold/docfold/model"
)

func TestResolvePages(t *testing.T) {
	tests := []struct {
		name    string
		expr    string
		total   int
		want    []int
		wantErr bool
	}{
		{"EmptyMeansAll", "", 3, []int{1, 2, 3}, false},
		{"AllPages", "All Pages", 2, []int{1, 2}, false},
		{"SinglePage", "2", 5, []int{2}, false},
		{"Range", "1-3", 5, []int{1, 2, 3}, false},
		{"List", "1,3,5", 5, []int{1, 3, 5}, false},
		{"LastPage", "Last Page", 7, []int{7}, false},
		{"LastLowercase", "last", 4, []int{4}, false},
		{"MixedListAndRange", "1-2, 4, Last Page", 6, []int{1, 2, 4, 6}, false},
		{"RangeToLast", "3-Last Page", 5, []int{3, 4, 5}, false},
		{"Duplicates", "1,1,1-2", 3, []int{1, 2}, false},
		{"OutOfRangeSkipped", "9,2", 3, []int{2}, false},
		{"ZeroPageSkipped", "0,1", 3, []int{1}, false},
		{"BackwardsRangeSkipped", "3-1,2", 5, []int{2}, false},
		{"GarbageTokenSkipped", "abc,2", 3, []int{2}, false},
		{"NothingValidFallsBackToAll", "abc", 3, []int{1, 2, 3}, false},
		{"NoPagesInDocument", "1", 0, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolvePages(tt.expr, tt.total)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

const sampleTSV = "level\tpage_num\tblock_num\tpar_num\tline_num\tword_num\tleft\ttop\twidth\theight\tconf\ttext\n" +
	"1\t1\t0\t0\t0\t0\t0\t0\t1000\t1400\t-1\t\n" +
	"5\t1\t1\t1\t1\t1\t10\t20\t80\t30\t96\tInvoice\n" +
	"5\t1\t1\t1\t1\t2\t100\t20\t60\t30\t88\tNo.\n" +
	"5\t1\t1\t1\t2\t1\t10\t60\t90\t30\t92\tTotal\n" +
	"5\t1\t1\t1\t2\t2\t110\t60\t70\t30\t-1\t \n"

func TestParseTSV(t *testing.T) {
	page := ParseTSV(3, []byte(sampleTSV))

	assert.Equal(t, 3, page.Index)
	assert.Equal(t, "Invoice No.\nTotal", page.Text)
	require.Len(t, page.Boxes, 3)
	assert.Equal(t, "Invoice", page.Boxes[0].Text)
	assert.InDelta(t, 0.96, page.Boxes[0].Confidence, 1e-9)
	assert.Equal(t, 10, page.Boxes[0].X)
	assert.Equal(t, 20, page.Boxes[0].Y)
	assert.InDelta(t, (0.96+0.88+0.92)/3, page.AvgConfidence, 1e-9)
}

func TestParseTSVEmptyOutput(t *testing.T) {
	page := ParseTSV(1, []byte("level\tpage_num\n"))

	assert.Empty(t, page.Text)
	assert.Zero(t, page.AvgConfidence)
	assert.Empty(t, page.Boxes)
}

type stubBackend struct {
	name  string
	pages []model.OCRPage
	err   error
	calls int
}

func (s *stubBackend) Name() string { return s.name }

func (s *stubBackend) Recognize(ctx context.Context, pdfPath string, pages []int) ([]model.OCRPage, error) {
	s.calls++
	return s.pages, s.err
}

func TestMergeText(t *testing.T) {
	pages := []model.OCRPage{
		{Index: 1, Text: "first"},
		{Index: 2, Text: "second"},
	}

	assert.Equal(t, "first\n---\nsecond", MergeText(pages, "\n---\n"))
	assert.Equal(t, "", MergeText(nil, "\n"))
}

func TestAverageConfidence(t *testing.T) {
	pages := []model.OCRPage{
		{AvgConfidence: 0.9},
		{AvgConfidence: 0.7},
	}

	assert.InDelta(t, 0.8, AverageConfidence(pages), 1e-9)
	assert.Zero(t, AverageConfidence(nil))
}

func TestEngineFallbackOnPrimaryError(t *testing.T) {
	primary := &stubBackend{name: "http", err: errors.New("service down")}
	fallback := &stubBackend{name: "cli", pages: []model.OCRPage{{Index: 1, Text: "rescued", AvgConfidence: 0.9}}}
	engine := NewEngineWithBackends(primary, fallback, "\n")

	pages, usedFallback, err := engine.recognize(context.Background(), "x.pdf", []int{1})
	require.NoError(t, err)
	assert.True(t, usedFallback)
	assert.Equal(t, "rescued", pages[0].Text)
	assert.Equal(t, 1, fallback.calls)
}

func TestEngineFallbackOnEmptyText(t *testing.T) {
	primary := &stubBackend{name: "local", pages: []model.OCRPage{{Index: 1, Text: "   "}}}
	fallback := &stubBackend{name: "http", pages: []model.OCRPage{{Index: 1, Text: "found it"}}}
	engine := NewEngineWithBackends(primary, fallback, "\n")

	pages, usedFallback, err := engine.recognize(context.Background(), "x.pdf", []int{1})
	require.NoError(t, err)
	assert.True(t, usedFallback)
	assert.Equal(t, "found it", pages[0].Text)
}

func TestEnginePrimarySuccessSkipsFallback(t *testing.T) {
	primary := &stubBackend{name: "local", pages: []model.OCRPage{{Index: 1, Text: "ok"}}}
	fallback := &stubBackend{name: "http"}
	engine := NewEngineWithBackends(primary, fallback, "\n")

	pages, usedFallback, err := engine.recognize(context.Background(), "x.pdf", []int{1})
	require.NoError(t, err)
	assert.False(t, usedFallback)
	assert.Equal(t, "ok", pages[0].Text)
	assert.Zero(t, fallback.calls)
}

func TestEngineNoFallbackPropagatesError(t *testing.T) {
	primary := &stubBackend{name: "cli", err: errors.New("boom")}
	engine := NewEngineWithBackends(primary, nil, "\n")

	_, usedFallback, err := engine.recognize(context.Background(), "x.pdf", []int{1})
	assert.Error(t, err)
	assert.False(t, usedFallback)
}
