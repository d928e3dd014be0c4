package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/docfold/docfold/model"
)

// AuditLogStore persists operator action records.
type AuditLogStore struct {
	db *gorm.DB
}

// NewAuditLogStore creates an audit-log store on the given database handle.
func NewAuditLogStore(db *gorm.DB) *AuditLogStore {
	return &AuditLogStore{db: db}
}

// Record appends one operator action.
func (s *AuditLogStore) Record(ctx context.Context, entry *model.AuditLog) error {
	if entry.ID == "" {
		entry.ID = model.NewID()
	}
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to record audit log: %w", err)
	}
	return nil
}

// ListByTarget returns the actions taken on one target, newest first.
func (s *AuditLogStore) ListByTarget(ctx context.Context, targetType, targetID string) ([]model.AuditLog, error) {
	var entries []model.AuditLog
	err := s.db.WithContext(ctx).
		Where("target_type = ? AND target_id = ?", targetType, targetID).
		Order("created_at DESC").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list audit logs: %w", err)
	}
	return entries, nil
}
