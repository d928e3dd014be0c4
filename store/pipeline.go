package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/docfold/docfold/model"
)

// PipelineStore persists per-rule pipelines and their execution records.
type PipelineStore struct {
	db *gorm.DB
}

// NewPipelineStore creates a pipeline store on the given database handle.
func NewPipelineStore(db *gorm.DB) *PipelineStore {
	return &PipelineStore{db: db}
}

// ForRule returns the pipeline bound to a rule, or ErrNotFound when the
// rule has no script stage.
func (s *PipelineStore) ForRule(ctx context.Context, ruleID string) (*model.Pipeline, error) {
	var p model.Pipeline
	err := s.db.WithContext(ctx).First(&p, "rule_id = ?", ruleID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load pipeline for rule %s: %w", ruleID, err)
	}
	return &p, nil
}

// RecordExecution persists one pipeline invocation.
func (s *PipelineStore) RecordExecution(ctx context.Context, exec *model.PipelineExecution) error {
	if exec.ID == "" {
		exec.ID = model.NewID()
	}
	if err := s.db.WithContext(ctx).Create(exec).Error; err != nil {
		return fmt.Errorf("failed to record pipeline execution: %w", err)
	}
	return nil
}

// Executions returns all invocations for a job, oldest first.
func (s *PipelineStore) Executions(ctx context.Context, jobID string) ([]model.PipelineExecution, error) {
	var execs []model.PipelineExecution
	err := s.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("created_at ASC").
		Find(&execs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list pipeline executions: %w", err)
	}
	return execs, nil
}
