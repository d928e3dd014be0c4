// Package model defines the persistent entities of the docfold platform:
// jobs, rules and their versions, webhooks, push logs, pipelines and the
// supporting account records. All nested documents are stored in JSON
// columns via the gorm JSON serializer.
package model

// JobStatus is the lifecycle state of a job, see the transition table below.
type JobStatus string

const (
	StatusQueued       JobStatus = "queued"
	StatusProcessing   JobStatus = "processing"
	StatusPendingAudit JobStatus = "pending_audit"
	StatusCompleted    JobStatus = "completed"
	StatusPushing      JobStatus = "pushing"
	StatusPushSuccess  JobStatus = "push_success"
	StatusPushFailed   JobStatus = "push_failed"
	StatusFailed       JobStatus = "failed"
	StatusRejected     JobStatus = "rejected"
)

// transitions is the authoritative state machine. Operator-driven re-entries
// (failed/rejected -> queued, push_failed -> pushing) are included because
// the store enforces the same table for them.
var transitions = map[JobStatus][]JobStatus{
	StatusQueued:       {StatusProcessing, StatusRejected},
	StatusProcessing:   {StatusPendingAudit, StatusCompleted, StatusFailed},
	StatusPendingAudit: {StatusCompleted, StatusRejected, StatusFailed},
	StatusCompleted:    {StatusPushing, StatusFailed},
	StatusPushing:      {StatusPushSuccess, StatusPushFailed, StatusFailed},
	StatusFailed:       {StatusQueued},
	StatusRejected:     {StatusQueued},
	StatusPushFailed:   {StatusPushing},
}

// CanTransition reports whether the state machine permits from -> to.
func CanTransition(from, to JobStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no worker will pick the job up again without
// operator action.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case StatusPushSuccess, StatusPushFailed, StatusFailed, StatusRejected:
		return true
	}
	return false
}

// VersionStatus is the publication state of a rule version.
type VersionStatus string

const (
	VersionDraft     VersionStatus = "draft"
	VersionPublished VersionStatus = "published"
	VersionArchived  VersionStatus = "archived"
)

// AuditReasonType tags why a job was routed to human review.
type AuditReasonType string

const (
	ReasonValidationFailed AuditReasonType = "validation_failed"
	ReasonConfidenceLow    AuditReasonType = "confidence_low"
	ReasonConsistencyLow   AuditReasonType = "consistency_low"
)

// AuditReason is one entry in a job's audit-reasons list.
type AuditReason struct {
	Type       AuditReasonType `json:"type"`
	Field      string          `json:"field"`
	Message    string          `json:"message,omitempty"`
	Confidence float64         `json:"confidence,omitempty"`
	Threshold  float64         `json:"threshold,omitempty"`
}
