package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/docfold/docfold/model"
)

// JobStore persists jobs and enforces the state machine on every update.
type JobStore struct {
	db *gorm.DB
}

// NewJobStore creates a job store on the given database handle.
func NewJobStore(db *gorm.DB) *JobStore {
	return &JobStore{db: db}
}

// Create inserts a new job record.
func (s *JobStore) Create(ctx context.Context, job *model.Job) error {
	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// Get loads a job by ID.
func (s *JobStore) Get(ctx context.Context, id string) (*model.Job, error) {
	var job model.Job
	err := s.db.WithContext(ctx).First(&job, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", id, err)
	}
	return &job, nil
}

// Transition performs a compare-and-set status change: the update applies
// only when the row is still in the from status. Extra column updates are
// applied atomically with the status change. Returns ErrInvalidTransition
// when the state machine forbids the edge and ErrConflict when the CAS
// guard lost the race.
func (s *JobStore) Transition(ctx context.Context, id string, from, to model.JobStatus, updates map[string]interface{}) error {
	if !model.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	values := map[string]interface{}{"status": to}
	for k, v := range updates {
		values[k] = v
	}

	res := s.db.WithContext(ctx).Model(&model.Job{}).
		Where("id = ? AND status = ?", id, from).
		Updates(values)
	if res.Error != nil {
		return fmt.Errorf("failed to transition job %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: job %s not in %s", ErrConflict, id, from)
	}
	return nil
}

// MarkFailed moves the job to failed from whatever processing-stage status
// it is in and records the error. Used on stage exceptions.
func (s *JobStore) MarkFailed(ctx context.Context, id string, from model.JobStatus, cause error) error {
	now := time.Now()
	return s.Transition(ctx, id, from, model.StatusFailed, map[string]interface{}{
		"last_error":   cause.Error(),
		"completed_at": &now,
	})
}

// SaveOutputs writes the extraction outputs of a job without changing its
// status. Only the stage worker owning the job calls this.
func (s *JobStore) SaveOutputs(ctx context.Context, job *model.Job) error {
	err := s.db.WithContext(ctx).Model(&model.Job{}).
		Where("id = ?", job.ID).
		Updates(map[string]interface{}{
			"ocr_text":          job.OCRText,
			"ocr_pages":         job.OCRPages,
			"extracted_fields":  job.ExtractedFields,
			"confidence_scores": job.ConfidenceScores,
			"audit_reasons":     job.AuditReasons,
			"page_count":        job.PageCount,
			"prompt_tokens":     job.PromptTokens,
			"completion_tokens": job.CompletionTokens,
			"llm_cost":          job.LLMCost,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to save job outputs: %w", err)
	}
	return nil
}

// ClearOutputs wipes prior stage outputs. Used when a failed or rejected
// job is requeued from the beginning.
func (s *JobStore) ClearOutputs(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Model(&model.Job{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"ocr_text":          "",
			"ocr_pages":         nil,
			"extracted_fields":  nil,
			"confidence_scores": nil,
			"audit_reasons":     nil,
			"auditor_id":        nil,
			"audited_at":        nil,
			"last_error":        "",
			"started_at":        nil,
			"completed_at":      nil,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to clear job outputs: %w", err)
	}
	return nil
}

// FindDuplicate returns the most recent terminal job for the dedup triple,
// or ErrNotFound. Ordering by created_at desc reflects any prior auditor
// corrections in the newest record.
func (s *JobStore) FindDuplicate(ctx context.Context, contentHash, ruleID, ruleVersion string) (*model.Job, error) {
	var job model.Job
	err := s.db.WithContext(ctx).
		Where("content_hash = ? AND rule_id = ? AND rule_version = ?", contentHash, ruleID, ruleVersion).
		Where("status IN ?", []model.JobStatus{model.StatusCompleted, model.StatusPushSuccess}).
		Order("created_at DESC").
		First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query duplicate: %w", err)
	}
	return &job, nil
}

// CountActive returns the number of jobs waiting or in flight before the
// push stage. Feeds the upload wait estimate.
func (s *JobStore) CountActive(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&model.Job{}).
		Where("status IN ?", []model.JobStatus{model.StatusQueued, model.StatusProcessing}).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count active jobs: %w", err)
	}
	return n, nil
}
