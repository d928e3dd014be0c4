package model

import (
	"time"
)

// JSONMap is a free-form JSON object column.
type JSONMap map[string]interface{}

// OCRBox is a recognized text box with pixel coordinates.
type OCRBox struct {
	Text       string `json:"text"`
	Confidence float64 `json:"confidence"` // 0..1
	X          int    `json:"x"`
	Y          int    `json:"y"`
	W          int    `json:"w"`
	H          int    `json:"h"`
}

// OCRPage is the recognition result for one document page.
type OCRPage struct {
	Index         int      `json:"index"`
	Text          string   `json:"text"`
	AvgConfidence float64  `json:"avg_confidence"` // 0..1
	Boxes         []OCRBox `json:"boxes"`
}

// Job is the primary entity: one uploaded document processed under one
// frozen rule version. The (ContentHash, RuleID, RuleVersion) triple is
// immutable after creation and is the deduplication key.
type Job struct {
	ID string `gorm:"primaryKey;size:26" json:"id"` // ULID

	OriginalFilename string `gorm:"size:512" json:"original_filename"`
	FilePath         string `gorm:"size:1024" json:"file_path"` // object-store key
	ContentHash      string `gorm:"size:64;index:idx_jobs_dedup,priority:1" json:"content_hash"`
	PageCount        int    `json:"page_count"`

	RuleID      string `gorm:"size:36;index:idx_jobs_dedup,priority:2" json:"rule_id"`
	RuleVersion string `gorm:"size:16;index:idx_jobs_dedup,priority:3" json:"rule_version"`

	Status    JobStatus `gorm:"size:16;index" json:"status"`
	IsInstant bool      `json:"is_instant"`

	OCRText          string    `gorm:"type:text" json:"ocr_text"`
	OCRPages         []OCRPage `gorm:"serializer:json;type:jsonb" json:"ocr_pages"`
	ExtractedFields  JSONMap   `gorm:"serializer:json;type:jsonb" json:"extracted_fields"`
	ConfidenceScores JSONMap   `gorm:"serializer:json;type:jsonb" json:"confidence_scores"`

	AuditReasons []AuditReason `gorm:"serializer:json;type:jsonb" json:"audit_reasons"`
	AuditorID    *string       `gorm:"size:36" json:"auditor_id,omitempty"`
	AuditedAt    *time.Time    `json:"audited_at,omitempty"`

	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	LLMCost          float64 `json:"llm_cost"`

	MetaInfo  JSONMap `gorm:"serializer:json;type:jsonb" json:"meta_info"`
	LastError string  `gorm:"type:text" json:"last_error,omitempty"`

	CreatedAt   time.Time  `gorm:"index" json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// AddTokens accumulates LLM accounting onto the job.
func (j *Job) AddTokens(prompt, completion int, inputPrice, outputPrice float64) {
	j.PromptTokens += prompt
	j.CompletionTokens += completion
	j.LLMCost += float64(prompt)/1000.0*inputPrice + float64(completion)/1000.0*outputPrice
}

// PushLog records one delivery attempt of a job to a webhook target.
type PushLog struct {
	ID        string `gorm:"primaryKey;size:36" json:"id"` // UUID
	JobID     string `gorm:"size:26;index" json:"job_id"`
	WebhookID string `gorm:"size:36;index" json:"webhook_id"`

	URL            string  `gorm:"size:1024" json:"url"`
	RequestHeaders JSONMap `gorm:"serializer:json;type:jsonb" json:"request_headers"`
	RequestBody    string  `gorm:"type:text" json:"request_body"`
	StatusCode     int     `json:"status_code"`
	ResponseBody   string  `gorm:"type:text" json:"response_body"`

	DurationMS int64  `json:"duration_ms"`
	RetryCount int    `json:"retry_count"`
	Success    bool   `json:"success"`
	Terminal   bool   `json:"terminal"` // envelope exhausted or delivered
	SaveMode   string `gorm:"size:16" json:"save_mode,omitempty"`
	IsDegraded bool   `json:"is_degraded"`
	Error      string `gorm:"type:text" json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
