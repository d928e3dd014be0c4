package extract

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/docfold/docfold/model"
	"github.com/docfold/docfold/schema"
)

// The request keeps four explicit channels: the document text (input),
// operator hints (info), fixed rules (instruct) and the schema-shaped
// output definition. Collapsing them into one prompt degrades results.
const llmSystemPrompt = "You are a document data extraction engine. " +
	"You receive document text, field hints and an output schema, and you reply with a single JSON object matching the schema exactly."

var llmInstructions = []string{
	"Find every requested field in the document text.",
	"Use an empty string when a field is absent.",
	"Return arrays for array fields, one element per occurrence.",
	"Preserve the original wording; do not normalize or translate values.",
	"Reply with JSON only, no commentary.",
}

var embeddedJSONRe = regexp.MustCompile(`\{[^{}]*\}`)

// stripEmbeddedJSON removes JSON fragments an operator pasted into a
// prompt snippet so hints stay prose.
func stripEmbeddedJSON(s string) string {
	for embeddedJSONRe.MatchString(s) {
		s = embeddedJSONRe.ReplaceAllString(s, "")
	}
	return strings.TrimSpace(s)
}

// schemaOutline renders the output definition for the LLM-bound subtree:
// leaves become type names, objects and arrays keep their shape.
func schemaOutline(node *schema.Node, paths []string) map[string]interface{} {
	outline := make(map[string]interface{})
	for _, path := range paths {
		target, err := node.Resolve(path)
		if err != nil {
			target = nil
		}
		schema.Set(outline, path, nodeOutline(target))
	}
	return outline
}

func nodeOutline(node *schema.Node) interface{} {
	if node == nil {
		return "string"
	}
	switch node.Type {
	case schema.TypeObject:
		child := make(map[string]interface{}, len(node.Properties))
		for name, prop := range node.Properties {
			child[name] = nodeOutline(prop)
		}
		return child
	case schema.TypeArray:
		return []interface{}{nodeOutline(node.Items)}
	case schema.TypeTable:
		row := make(map[string]interface{}, len(node.Columns))
		for name, col := range node.Columns {
			row[name] = nodeOutline(col)
		}
		return []interface{}{row}
	default:
		return "string"
	}
}

// llmRequest is the serialized user message for a schema extraction call.
type llmRequest struct {
	Input    string                 `json:"input"`
	Info     map[string]string      `json:"info"`
	Instruct []string               `json:"instruct"`
	Output   map[string]interface{} `json:"output"`
}

// BuildLLMRequest assembles the user message for the given LLM-bound
// field paths against one context text.
func BuildLLMRequest(contextText string, node *schema.Node, strategies map[string]model.Strategy) (string, error) {
	paths := make([]string, 0, len(strategies))
	for path := range strategies {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	hints := make(map[string]string)
	for _, path := range paths {
		if prompt := stripEmbeddedJSON(strategies[path].Prompt); prompt != "" {
			hints[path] = prompt
		}
		if target, err := node.Resolve(path); err == nil && target.Label != "" {
			if _, ok := hints[path]; !ok {
				hints[path] = target.Label
			}
		}
	}

	req := llmRequest{
		Input:    contextText,
		Info:     hints,
		Instruct: llmInstructions,
		Output:   schemaOutline(node, paths),
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal llm request: %w", err)
	}
	return string(payload), nil
}

// ParseLLMResponse decodes a model reply and copies the requested paths
// into the destination document.
func ParseLLMResponse(reply string, paths []string, doc map[string]interface{}) (map[string]interface{}, error) {
	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(reply), &parsed); err != nil {
		return nil, fmt.Errorf("llm reply is not valid JSON: %w", err)
	}
	for _, path := range paths {
		value, ok := schema.Get(parsed, path)
		if !ok {
			continue
		}
		doc = schema.Set(doc, path, value).(map[string]interface{})
	}
	return doc, nil
}

// BuildContext derives the document context for an LLM call from the
// strategy's context mode: full text, the first N pages, or the text
// boxes inside a pixel region.
func BuildContext(text string, pages []model.OCRPage, separator string, s model.Strategy) string {
	switch s.ContextMode {
	case "first_pages":
		n := s.FirstPages
		if n <= 0 {
			n = 1
		}
		var texts []string
		for _, page := range pages {
			if len(texts) >= n {
				break
			}
			texts = append(texts, page.Text)
		}
		return strings.Join(texts, separator)
	case "region":
		if s.Region == nil {
			return text
		}
		return regionText(pages, *s.Region)
	default:
		return text
	}
}

func regionText(pages []model.OCRPage, region model.Region) string {
	var words []string
	for _, page := range pages {
		if region.Page != 0 && page.Index != region.Page {
			continue
		}
		for _, box := range page.Boxes {
			cx := box.X + box.W/2
			cy := box.Y + box.H/2
			if cx >= region.X && cx <= region.X+region.W && cy >= region.Y && cy <= region.Y+region.H {
				words = append(words, box.Text)
			}
		}
	}
	return strings.Join(words, " ")
}

// contextKey groups LLM strategies that share one context so all their
// fields ride a single call.
func contextKey(s model.Strategy) string {
	switch s.ContextMode {
	case "first_pages":
		return fmt.Sprintf("first_pages:%d", s.FirstPages)
	case "region":
		if s.Region != nil {
			r := *s.Region
			return fmt.Sprintf("region:%d:%d:%d:%d:%d", r.Page, r.X, r.Y, r.W, r.H)
		}
		return "full"
	default:
		return "full"
	}
}
