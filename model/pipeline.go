package model

import "time"

// Pipeline is the optional per-rule operator-authored transform stage: a
// script body plus declared dependencies executed in an isolated runtime.
// At most one pipeline exists per rule.
type Pipeline struct {
	ID     string `gorm:"primaryKey;size:36" json:"id"`
	RuleID string `gorm:"size:36;uniqueIndex" json:"rule_id"`

	Script       string   `gorm:"type:text" json:"script"`
	Dependencies []string `gorm:"serializer:json;type:jsonb" json:"dependencies"`
	// RuntimeKey identifies the cached isolated runtime; it changes when
	// the dependency list changes, invalidating the cache.
	RuntimeKey string `gorm:"size:64" json:"runtime_key"`

	TimeoutSeconds int               `json:"timeout_seconds"`
	MemoryMB       int               `json:"memory_mb"`
	MaxRetries     int               `json:"max_retries"`
	EnvVars        map[string]string `gorm:"serializer:json;type:jsonb" json:"env_vars,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ExecutionStatus is the terminal status of one pipeline invocation.
type ExecutionStatus string

const (
	ExecutionSuccess ExecutionStatus = "success"
	ExecutionFailed  ExecutionStatus = "failed"
	ExecutionTimeout ExecutionStatus = "timeout"
)

// PipelineExecution records one invocation of a pipeline for a job.
type PipelineExecution struct {
	ID         string `gorm:"primaryKey;size:36" json:"id"`
	JobID      string `gorm:"size:26;index" json:"job_id"`
	PipelineID string `gorm:"size:36;index" json:"pipeline_id"`

	Input  JSONMap `gorm:"serializer:json;type:jsonb" json:"input"`
	Output JSONMap `gorm:"serializer:json;type:jsonb" json:"output"`
	Stdout string  `gorm:"type:text" json:"stdout"`
	Stderr string  `gorm:"type:text" json:"stderr"`

	DurationMS   int64           `json:"duration_ms"`
	RetryCount   int             `json:"retry_count"`
	Status       ExecutionStatus `gorm:"size:16" json:"status"`
	ErrorMessage string          `gorm:"type:text" json:"error_message,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
