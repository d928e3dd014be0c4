package queue

import "time"

// Stage names a processing queue. Each stage maps to one durable queue
// plus a companion wait queue used for delayed redelivery.
type Stage string

const (
	// StageOCR carries jobs awaiting text recognition and extraction.
	StageOCR Stage = "ocr"
	// StagePipeline carries jobs awaiting script post-processing.
	StagePipeline Stage = "pipeline"
	// StagePush carries jobs awaiting webhook delivery.
	StagePush Stage = "push"
	// StageDead collects messages that exhausted their retries.
	StageDead Stage = "dead_letter"
)

// Stages lists every work stage in pipeline order. StageDead is declared
// alongside them but never consumed automatically.
var Stages = []Stage{StageOCR, StagePipeline, StagePush, StageDead}

// TaskMessage is the unit of work exchanged over the queue fabric.
// Workers load the job row by ID; the message itself stays small so a
// requeued job always sees the latest database state.
type TaskMessage struct {
	JobID       string    `json:"job_id"`
	RuleID      string    `json:"rule_id"`
	RuleVersion string    `json:"rule_version"`
	// Attempt counts deliveries of this message, starting at 0.
	Attempt int `json:"attempt"`
	// WebhookID is set on push-stage messages that target a single
	// webhook; empty means all bound webhooks.
	WebhookID  string    `json:"webhook_id,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// DeadLetterRecord wraps a message that exhausted its retries, preserving
// the original payload and the reason it was parked.
type DeadLetterRecord struct {
	Stage    Stage       `json:"stage"`
	Message  TaskMessage `json:"message"`
	Reason   string      `json:"reason"`
	ParkedAt time.Time   `json:"parked_at"`
}
