package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/docfold/docfold/model"
)

// PushLogStore persists per-attempt webhook delivery records.
type PushLogStore struct {
	db *gorm.DB
}

// NewPushLogStore creates a push-log store on the given database handle.
func NewPushLogStore(db *gorm.DB) *PushLogStore {
	return &PushLogStore{db: db}
}

// Append records one delivery attempt.
func (s *PushLogStore) Append(ctx context.Context, entry *model.PushLog) error {
	if entry.ID == "" {
		entry.ID = model.NewID()
	}
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to append push log: %w", err)
	}
	return nil
}

// ListByJob returns all attempts for a job, oldest first.
func (s *PushLogStore) ListByJob(ctx context.Context, jobID string) ([]model.PushLog, error) {
	var logs []model.PushLog
	err := s.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("created_at ASC").
		Find(&logs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list push logs: %w", err)
	}
	return logs, nil
}

// LatestTerminal returns the newest terminal attempt of a job for one
// webhook, or ErrNotFound when the target has not reached a terminal
// outcome yet.
func (s *PushLogStore) LatestTerminal(ctx context.Context, jobID, webhookID string) (*model.PushLog, error) {
	var entry model.PushLog
	err := s.db.WithContext(ctx).
		Where("job_id = ? AND webhook_id = ? AND terminal = ?", jobID, webhookID, true).
		Order("created_at DESC").
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load terminal push log: %w", err)
	}
	return &entry, nil
}
