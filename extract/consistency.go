package extract

import (
	"context"

	"github.com/docfold/docfold/common"
	"github.com/docfold/docfold/model"
	"github.com/docfold/docfold/schema"
)

const visionUserPrompt = "Extract the requested fields directly from the attached document images."

// ValueSimilarity computes a 0..1 similarity between two extracted
// values: strings by longest-common-subsequence ratio, objects by
// recursive average over the union of keys, arrays positionally
// averaged. Mismatched kinds compare their string forms.
func ValueSimilarity(a, b interface{}) float64 {
	switch av := a.(type) {
	case map[string]interface{}:
		bv, ok := b.(map[string]interface{})
		if !ok {
			return lcsRatio(stringify(a), stringify(b))
		}
		keys := make(map[string]bool)
		for k := range av {
			keys[k] = true
		}
		for k := range bv {
			keys[k] = true
		}
		if len(keys) == 0 {
			return 1
		}
		var sum float64
		for k := range keys {
			sum += ValueSimilarity(av[k], bv[k])
		}
		return sum / float64(len(keys))
	case []interface{}:
		bv, ok := b.([]interface{})
		if !ok {
			return lcsRatio(stringify(a), stringify(b))
		}
		n := len(av)
		if len(bv) > n {
			n = len(bv)
		}
		if n == 0 {
			return 1
		}
		var sum float64
		for i := 0; i < n; i++ {
			var ae, be interface{}
			if i < len(av) {
				ae = av[i]
			}
			if i < len(bv) {
				be = bv[i]
			}
			sum += ValueSimilarity(ae, be)
		}
		return sum / float64(n)
	default:
		return lcsRatio(stringify(a), stringify(b))
	}
}

// consistencyCheck runs the vision extraction path and reconciles
// disagreements per the configured policy. Malformed vision output is
// tolerated: the check logs and leaves the current values standing.
func (e *Engine) consistencyCheck(ctx context.Context, version *model.RuleVersion, llmPaths []string, images [][]byte, doc map[string]interface{}, conf map[string]float64, out *Output) map[string]interface{} {
	cfg := version.Consistency
	if !cfg.Enabled || len(images) == 0 || len(llmPaths) == 0 || e.llm == nil || !e.llm.Available() {
		return doc
	}

	strategies := make(map[string]model.Strategy, len(llmPaths))
	for _, path := range llmPaths {
		strategies[path] = version.Extraction[path]
	}
	user, err := BuildLLMRequest("", version.Schema, strategies)
	if err != nil {
		common.Logger.WithError(err).Warn("failed to build vision request, skipping consistency check")
		return doc
	}

	result, err := e.llm.CompleteVision(ctx, llmSystemPrompt, visionUserPrompt+"\n"+user, images)
	if err != nil {
		common.Logger.WithError(err).Warn("vision consistency check failed, keeping OCR values")
		return doc
	}
	out.Usage.PromptTokens += result.Usage.PromptTokens
	out.Usage.CompletionTokens += result.Usage.CompletionTokens

	vision := make(map[string]interface{})
	vision, err = ParseLLMResponse(result.Content, llmPaths, vision)
	if err != nil {
		common.Logger.WithError(err).Warn("vision reply was malformed, keeping OCR values")
		return doc
	}

	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = 0.8
	}

	for _, path := range llmPaths {
		current, _ := schema.Get(doc, path)
		visionValue, ok := schema.Get(vision, path)
		if !ok {
			continue
		}
		sim := ValueSimilarity(current, visionValue)
		if sim >= threshold {
			continue
		}

		switch cfg.Policy {
		case model.PolicyPreferLLM:
			doc = schema.Set(doc, path, visionValue).(map[string]interface{})
			conf[path] = 85
		case model.PolicyManualReview:
			out.NeedsReview = append(out.NeedsReview, model.AuditReason{
				Type:       model.ReasonConsistencyLow,
				Field:      path,
				Confidence: sim * 100,
				Threshold:  threshold * 100,
				Message:    "vision and text extraction disagree",
			})
		default:
			// prefer_ocr keeps the current value.
		}
		common.Logger.WithField("field", path).
			WithField("similarity", sim).
			WithField("policy", string(cfg.Policy)).
			Debug("consistency check flagged field")
	}
	return doc
}
