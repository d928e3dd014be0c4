package extract

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docfold/docfold/llm"
	"github.com/docfold/docfold/model"
	"github.com/docfold/docfold/schema"
)

type stubLLM struct {
	available   bool
	jsonReplies []string
	jsonCalls   int
	visionReply string
	visionCalls int
	err         error
}

func (s *stubLLM) Available() bool { return s.available }

func (s *stubLLM) CompleteJSON(ctx context.Context, system, user string) (*llm.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	reply := s.jsonReplies[s.jsonCalls]
	s.jsonCalls++
	return &llm.Result{Content: reply, Usage: llm.Usage{PromptTokens: 10, CompletionTokens: 5}}, nil
}

func (s *stubLLM) CompleteVision(ctx context.Context, system, user string, images [][]byte) (*llm.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.visionCalls++
	return &llm.Result{Content: s.visionReply, Usage: llm.Usage{PromptTokens: 20, CompletionTokens: 8}}, nil
}

func testSchema() *schema.Node {
	return &schema.Node{
		Type: schema.TypeObject,
		Properties: map[string]*schema.Node{
			"invoice_no": {Type: schema.TypeField, Label: "Invoice number"},
			"seller":     {Type: schema.TypeField, Label: "Seller name"},
			"numbers": {
				Type:  schema.TypeArray,
				Items: &schema.Node{Type: schema.TypeField},
			},
		},
	}
}

func testVersion(extraction map[string]model.Strategy) *model.RuleVersion {
	return &model.RuleVersion{
		ID:         "v1",
		RuleID:     "r1",
		Version:    "V1.0",
		Schema:     testSchema(),
		Extraction: extraction,
	}
}

func TestExtractRegexAndLLMTogether(t *testing.T) {
	version := testVersion(map[string]model.Strategy{
		"invoice_no": {Type: model.StrategyRegex, Pattern: `INV-\d+`, MatchMode: model.MatchFirst},
		"seller":     {Type: model.StrategyLLM, Prompt: "The selling company"},
	})
	client := &stubLLM{available: true, jsonReplies: []string{`{"seller": "ACME GmbH"}`}}
	engine := NewEngine(client)

	in := Input{
		Text: "INV-042 issued by ACME GmbH",
		Pages: []model.OCRPage{{
			Index: 1,
			Boxes: []model.OCRBox{{Text: "INV-042", Confidence: 0.9}},
		}},
	}
	out, err := engine.Extract(context.Background(), version, in)
	require.NoError(t, err)

	assert.Equal(t, "INV-042", out.Fields["invoice_no"])
	assert.Equal(t, "ACME GmbH", out.Fields["seller"])
	assert.InDelta(t, 99.0, out.Confidences["invoice_no"], 1e-9)
	assert.InDelta(t, 90.0, out.Confidences["seller"], 1e-9) // verbatim in OCR text
	assert.Equal(t, 10, out.Usage.PromptTokens)
}

func TestExtractLLMUnavailableLeavesFieldsEmpty(t *testing.T) {
	version := testVersion(map[string]model.Strategy{
		"seller": {Type: model.StrategyLLM},
	})
	client := &stubLLM{available: false}
	engine := NewEngine(client)

	out, err := engine.Extract(context.Background(), version, Input{Text: "whatever"})
	require.NoError(t, err)

	_, ok := out.Fields["seller"]
	assert.False(t, ok)
	assert.Zero(t, client.jsonCalls)
}

func TestExtractArrayField(t *testing.T) {
	version := testVersion(map[string]model.Strategy{
		"numbers": {Type: model.StrategyRegex, Pattern: `INV-\d+`, MatchMode: model.MatchAll},
	})
	engine := NewEngine(nil)

	out, err := engine.Extract(context.Background(), version, Input{Text: "INV-001 INV-002 INV-003"})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"INV-001", "INV-002", "INV-003"}, out.Fields["numbers"])
}

func TestEnhanceReplacesWeakFields(t *testing.T) {
	version := testVersion(map[string]model.Strategy{
		"seller": {Type: model.StrategyLLM, Prompt: "The selling company"},
	})
	version.Enhancement = model.EnhancementConfig{Enabled: true, Threshold: 85}

	// First reply scores 70 (absent from text), second is the
	// enhancement pass.
	client := &stubLLM{available: true, jsonReplies: []string{
		`{"seller": "Wrong Corp"}`,
		`{"seller": "Right GmbH"}`,
	}}
	engine := NewEngine(client)

	out, err := engine.Extract(context.Background(), version, Input{Text: "unrelated document text"})
	require.NoError(t, err)

	assert.Equal(t, 2, client.jsonCalls)
	assert.Equal(t, "Right GmbH", out.Fields["seller"])
	assert.InDelta(t, 75.0, out.Confidences["seller"], 1e-9)
}

func TestConsistencyManualReviewFlags(t *testing.T) {
	version := testVersion(map[string]model.Strategy{
		"seller": {Type: model.StrategyLLM},
	})
	version.Consistency = model.ConsistencyConfig{
		Enabled:   true,
		Threshold: 0.9,
		Policy:    model.PolicyManualReview,
	}

	client := &stubLLM{
		available:   true,
		jsonReplies: []string{`{"seller": "ACME GmbH"}`},
		visionReply: `{"seller": "Completely Different Ltd"}`,
	}
	engine := NewEngine(client)

	in := Input{Text: "ACME GmbH", Images: [][]byte{{0x89}}}
	out, err := engine.Extract(context.Background(), version, in)
	require.NoError(t, err)

	assert.Equal(t, 1, client.visionCalls)
	assert.Equal(t, "ACME GmbH", out.Fields["seller"])
	require.Len(t, out.NeedsReview, 1)
	assert.Equal(t, model.ReasonConsistencyLow, out.NeedsReview[0].Type)
	assert.Equal(t, "seller", out.NeedsReview[0].Field)
}

func TestConsistencyPreferLLMReplacesValue(t *testing.T) {
	version := testVersion(map[string]model.Strategy{
		"seller": {Type: model.StrategyLLM},
	})
	version.Consistency = model.ConsistencyConfig{
		Enabled:   true,
		Threshold: 0.9,
		Policy:    model.PolicyPreferLLM,
	}

	client := &stubLLM{
		available:   true,
		jsonReplies: []string{`{"seller": "ACME GmbH"}`},
		visionReply: `{"seller": "Completely Different Ltd"}`,
	}
	engine := NewEngine(client)

	in := Input{Text: "ACME GmbH", Images: [][]byte{{0x89}}}
	out, err := engine.Extract(context.Background(), version, in)
	require.NoError(t, err)

	assert.Equal(t, "Completely Different Ltd", out.Fields["seller"])
	assert.InDelta(t, 85.0, out.Confidences["seller"], 1e-9)
	assert.Empty(t, out.NeedsReview)
}

func TestConsistencyMalformedVisionReplyIsTolerated(t *testing.T) {
	version := testVersion(map[string]model.Strategy{
		"seller": {Type: model.StrategyLLM},
	})
	version.Consistency = model.ConsistencyConfig{Enabled: true, Policy: model.PolicyPreferLLM}

	client := &stubLLM{
		available:   true,
		jsonReplies: []string{`{"seller": "ACME GmbH"}`},
		visionReply: `this is not json`,
	}
	engine := NewEngine(client)

	in := Input{Text: "ACME GmbH", Images: [][]byte{{0x89}}}
	out, err := engine.Extract(context.Background(), version, in)
	require.NoError(t, err)
	assert.Equal(t, "ACME GmbH", out.Fields["seller"])
}

func TestStripEmbeddedJSON(t *testing.T) {
	assert.Equal(t, "Find the seller", stripEmbeddedJSON(`Find the seller {"example": "x"}`))
	assert.Equal(t, "plain prompt", stripEmbeddedJSON("plain prompt"))
	assert.Equal(t, "a  b", stripEmbeddedJSON(`a {"n": {"deep": 1}} b`))
}

func TestBuildContextFirstPages(t *testing.T) {
	pages := []model.OCRPage{
		{Index: 1, Text: "one"},
		{Index: 2, Text: "two"},
		{Index: 3, Text: "three"},
	}
	strat := model.Strategy{ContextMode: "first_pages", FirstPages: 2}

	assert.Equal(t, "one\ntwo", BuildContext("full", pages, "\n", strat))
}

func TestBuildContextRegion(t *testing.T) {
	pages := []model.OCRPage{{
		Index: 1,
		Boxes: []model.OCRBox{
			{Text: "inside", X: 10, Y: 10, W: 10, H: 10},
			{Text: "outside", X: 500, Y: 500, W: 10, H: 10},
		},
	}}
	strat := model.Strategy{
		ContextMode: "region",
		Region:      &model.Region{Page: 1, X: 0, Y: 0, W: 100, H: 100},
	}

	assert.Equal(t, "inside", BuildContext("full", pages, "\n", strat))
}

func TestBuildContextDefaultIsFullText(t *testing.T) {
	assert.Equal(t, "full", BuildContext("full", nil, "\n", model.Strategy{}))
}
