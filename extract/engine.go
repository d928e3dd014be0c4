// Package extract implements the field extraction engine: four
// strategies (regex, anchor, table, LLM-schema) applied per schema
// field, local confidence synthesis, an optional low-confidence
// enhancement pass and an optional vision consistency check.
package extract

import (
	"context"
	"errors"
	"sort"

	"github.com/docfold/docfold/common"
	"github.com/docfold/docfold/llm"
	"github.com/docfold/docfold/model"
	"github.com/docfold/docfold/schema"
)

const enhancedConfidence = 75

// LLMClient is the slice of the llm package the engine depends on.
type LLMClient interface {
	Available() bool
	CompleteJSON(ctx context.Context, system, user string) (*llm.Result, error)
	CompleteVision(ctx context.Context, system, user string, images [][]byte) (*llm.Result, error)
}

// Input carries the OCR artifacts extraction operates on.
type Input struct {
	// Text is the merged full text.
	Text string
	// Pages holds per-page text and boxes.
	Pages []model.OCRPage
	// Separator joins page texts, used when building partial contexts.
	Separator string
	// Images are rasterized page images for the vision consistency
	// check; empty disables it.
	Images [][]byte
}

// Output is the result of one extraction run.
type Output struct {
	// Fields is the nested extracted document.
	Fields map[string]interface{}
	// Confidences maps field paths to scores in [0,100].
	Confidences map[string]float64
	// NeedsReview collects consistency flags for the audit gate.
	NeedsReview []model.AuditReason
	// Usage accumulates LLM token consumption across all calls.
	Usage llm.Usage
}

// Engine runs extraction for one rule version over one document.
type Engine struct {
	llm LLMClient
}

// NewEngine creates an extraction engine on the given LLM client.
func NewEngine(client LLMClient) *Engine {
	return &Engine{llm: client}
}

// Extract applies every bound strategy and synthesizes confidences.
// LLM strategies for the same context share a single call; when the
// circuit breaker is open, LLM-bound fields stay null and the rest of
// the pipeline proceeds.
func (e *Engine) Extract(ctx context.Context, version *model.RuleVersion, in Input) (*Output, error) {
	out := &Output{
		Fields:      make(map[string]interface{}),
		Confidences: make(map[string]float64),
	}

	llmGroups := make(map[string]map[string]model.Strategy)

	paths := make([]string, 0, len(version.Extraction))
	for path := range version.Extraction {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		strat := version.Extraction[path]
		isCollection := e.isCollection(version.Schema, path)

		var value interface{}
		var found bool
		var err error

		switch strat.Type {
		case model.StrategyRegex:
			value, found, err = ExtractRegex(in.Text, strat, isCollection)
		case model.StrategyAnchor:
			value, found, err = ExtractAnchor(in.Text, strat, isCollection)
		case model.StrategyTable:
			value, found, err = ExtractTable(in.Pages, strat, isCollection)
		case model.StrategyLLM:
			key := contextKey(strat)
			if llmGroups[key] == nil {
				llmGroups[key] = make(map[string]model.Strategy)
			}
			llmGroups[key][path] = strat
			continue
		default:
			common.Logger.WithField("field", path).
				WithField("strategy", string(strat.Type)).
				Warn("unknown extraction strategy, skipping field")
			continue
		}

		if err != nil {
			common.Logger.WithError(err).WithField("field", path).Warn("extraction strategy failed")
			continue
		}
		if !found {
			continue
		}
		out.Fields = schema.Set(out.Fields, path, value).(map[string]interface{})
		out.Confidences[path] = OCRConfidence(value, in.Pages)
	}

	llmPaths := e.runLLMGroups(ctx, version, in, llmGroups, out)

	e.enhance(ctx, version, in, out)
	out.Fields = e.consistencyCheck(ctx, version, llmPaths, in.Images, out.Fields, out.Confidences, out)

	return out, nil
}

func (e *Engine) isCollection(root *schema.Node, path string) bool {
	node, err := root.Resolve(path)
	if err != nil {
		return false
	}
	return node.IsCollection()
}

// runLLMGroups issues one call per distinct context and merges replies.
// Returns all LLM-bound paths for downstream passes.
func (e *Engine) runLLMGroups(ctx context.Context, version *model.RuleVersion, in Input, groups map[string]map[string]model.Strategy, out *Output) []string {
	var allPaths []string
	for _, strategies := range groups {
		for path := range strategies {
			allPaths = append(allPaths, path)
		}
	}
	sort.Strings(allPaths)

	if len(groups) == 0 {
		return allPaths
	}
	if e.llm == nil || !e.llm.Available() {
		common.Logger.Warn("llm unavailable, leaving LLM-bound fields empty")
		return allPaths
	}

	for _, strategies := range groups {
		var sample model.Strategy
		groupPaths := make([]string, 0, len(strategies))
		for path, strat := range strategies {
			groupPaths = append(groupPaths, path)
			sample = strat
		}
		sort.Strings(groupPaths)

		contextText := BuildContext(in.Text, in.Pages, in.Separator, sample)
		user, err := BuildLLMRequest(contextText, version.Schema, strategies)
		if err != nil {
			common.Logger.WithError(err).Warn("failed to build llm request")
			continue
		}

		result, err := e.llm.CompleteJSON(ctx, llmSystemPrompt, user)
		if err != nil {
			if errors.Is(err, llm.ErrUnavailable) {
				common.Logger.Warn("llm circuit open, leaving LLM-bound fields empty")
				return allPaths
			}
			common.Logger.WithError(err).Warn("llm extraction failed")
			continue
		}
		out.Usage.PromptTokens += result.Usage.PromptTokens
		out.Usage.CompletionTokens += result.Usage.CompletionTokens

		merged, err := ParseLLMResponse(result.Content, groupPaths, out.Fields)
		if err != nil {
			common.Logger.WithError(err).Warn("llm reply was malformed")
			continue
		}
		out.Fields = merged
		for _, path := range groupPaths {
			value, ok := schema.Get(out.Fields, path)
			if !ok {
				continue
			}
			out.Confidences[path] = LLMConfidence(value, in.Text)
		}
	}
	return allPaths
}

// enhance re-asks the model for fields whose confidence fell below the
// operator threshold, replacing values and pinning confidence to 75.
func (e *Engine) enhance(ctx context.Context, version *model.RuleVersion, in Input, out *Output) {
	cfg := version.Enhancement
	if !cfg.Enabled || e.llm == nil || !e.llm.Available() {
		return
	}
	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = 80
	}

	weak := make(map[string]model.Strategy)
	for path := range version.Extraction {
		if conf, ok := out.Confidences[path]; ok && conf < threshold {
			weak[path] = version.Extraction[path]
		}
	}
	if len(weak) == 0 {
		return
	}

	weakPaths := make([]string, 0, len(weak))
	for path := range weak {
		weakPaths = append(weakPaths, path)
	}
	sort.Strings(weakPaths)

	user, err := BuildLLMRequest(in.Text, version.Schema, weak)
	if err != nil {
		common.Logger.WithError(err).Warn("failed to build enhancement request")
		return
	}
	result, err := e.llm.CompleteJSON(ctx, llmSystemPrompt, user)
	if err != nil {
		common.Logger.WithError(err).Warn("enhancement pass failed")
		return
	}
	out.Usage.PromptTokens += result.Usage.PromptTokens
	out.Usage.CompletionTokens += result.Usage.CompletionTokens

	merged, err := ParseLLMResponse(result.Content, weakPaths, out.Fields)
	if err != nil {
		common.Logger.WithError(err).Warn("enhancement reply was malformed")
		return
	}
	out.Fields = merged
	for _, path := range weakPaths {
		if _, ok := schema.Get(out.Fields, path); ok {
			out.Confidences[path] = enhancedConfidence
		}
	}
}
