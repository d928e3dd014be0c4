package webhook

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/docfold/docfold/model"
)

// Vars are the values available to request templates.
type Vars struct {
	TaskID     string
	ResultJSON map[string]interface{}
	FileURL    string
	MetaInfo   map[string]interface{}
}

// NewVars assembles the template variables for a job.
func NewVars(job *model.Job, fileURL string) Vars {
	return Vars{
		TaskID:     job.ID,
		ResultJSON: job.ExtractedFields,
		FileURL:    fileURL,
		MetaInfo:   job.MetaInfo,
	}
}

func (v Vars) values() map[string]interface{} {
	meta := v.MetaInfo
	if meta == nil {
		meta = map[string]interface{}{}
	}
	result := v.ResultJSON
	if result == nil {
		result = map[string]interface{}{}
	}
	return map[string]interface{}{
		"task_id":     v.TaskID,
		"result_json": result,
		"file_url":    v.FileURL,
		"meta_info":   meta,
	}
}

// Render substitutes {{placeholder}} tokens in the template with JSON
// values. A quoted placeholder is replaced together with its quotes by
// the JSON encoding of the value, so `"{{result_json}}"` yields an
// object and `"{{task_id}}"` a JSON string. Bare string placeholders
// splice the raw string in place. An empty template renders the default
// body with all four variables.
func Render(template string, v Vars) (string, error) {
	values := v.values()
	if strings.TrimSpace(template) == "" {
		body, err := json.Marshal(values)
		if err != nil {
			return "", fmt.Errorf("failed to encode default body: %w", err)
		}
		return string(body), nil
	}

	out := template
	for name, value := range values {
		encoded, err := json.Marshal(value)
		if err != nil {
			return "", fmt.Errorf("failed to encode %s: %w", name, err)
		}
		quoted := `"{{` + name + `}}"`
		bare := `{{` + name + `}}`

		out = strings.ReplaceAll(out, quoted, string(encoded))
		if s, ok := value.(string); ok {
			out = strings.ReplaceAll(out, bare, s)
		} else {
			out = strings.ReplaceAll(out, bare, string(encoded))
		}
	}
	return out, nil
}
