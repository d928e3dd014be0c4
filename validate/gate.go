package validate

import (
	"sort"

	"github.com/docfold/docfold/model"
)

// defaultConfidenceThreshold applies when neither the schema node nor
// the rule version declares one.
const defaultConfidenceThreshold = 80.0

// GateInput carries everything the audit gate inspects.
type GateInput struct {
	Doc         map[string]interface{}
	Confidences map[string]float64
	Version     *model.RuleVersion

	// Extra reasons accumulated upstream, e.g. consistency flags.
	Extra []model.AuditReason
}

// Gate runs validation and the confidence check and returns the full
// audit-reasons list. The job needs human review iff the list is
// non-empty.
func Gate(in GateInput) []model.AuditReason {
	reasons := Run(in.Doc, in.Version.Validation)
	reasons = append(reasons, confidenceReasons(in.Confidences, in.Version)...)
	reasons = append(reasons, in.Extra...)
	return reasons
}

// confidenceReasons flags every field scoring below its threshold. The
// threshold is the schema node's override, else the rule default, else
// 80.
func confidenceReasons(confidences map[string]float64, version *model.RuleVersion) []model.AuditReason {
	paths := make([]string, 0, len(confidences))
	for path := range confidences {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	var reasons []model.AuditReason
	for _, path := range paths {
		threshold := fieldThreshold(path, version)
		conf := confidences[path]
		if conf >= threshold {
			continue
		}
		reasons = append(reasons, model.AuditReason{
			Type:       model.ReasonConfidenceLow,
			Field:      path,
			Confidence: conf,
			Threshold:  threshold,
			Message:    "confidence below threshold",
		})
	}
	return reasons
}

func fieldThreshold(path string, version *model.RuleVersion) float64 {
	if version.Schema != nil {
		if node, err := version.Schema.Resolve(path); err == nil {
			if node.ConfidenceThreshold != nil {
				return *node.ConfidenceThreshold
			}
		}
	}
	if version.DefaultThreshold > 0 {
		return version.DefaultThreshold
	}
	return defaultConfidenceThreshold
}
