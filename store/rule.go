package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/docfold/docfold/model"
)

// RuleStore persists rules and their immutable versions and implements the
// publish/rollback protocol. Exactly one version per rule is published at
// any time; the rule's current_version_id always points at it.
type RuleStore struct {
	db *gorm.DB
}

// NewRuleStore creates a rule store on the given database handle.
func NewRuleStore(db *gorm.DB) *RuleStore {
	return &RuleStore{db: db}
}

// Get loads a rule by ID.
func (s *RuleStore) Get(ctx context.Context, id string) (*model.Rule, error) {
	var rule model.Rule
	err := s.db.WithContext(ctx).First(&rule, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load rule %s: %w", id, err)
	}
	return &rule, nil
}

// GetVersion loads a rule version by ID.
func (s *RuleStore) GetVersion(ctx context.Context, id string) (*model.RuleVersion, error) {
	var version model.RuleVersion
	err := s.db.WithContext(ctx).First(&version, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load rule version %s: %w", id, err)
	}
	return &version, nil
}

// CurrentVersion loads the published version of a rule.
func (s *RuleStore) CurrentVersion(ctx context.Context, ruleID string) (*model.RuleVersion, error) {
	rule, err := s.Get(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	if rule.CurrentVersionID == nil {
		return nil, ErrNoPublishedVersion
	}
	return s.GetVersion(ctx, *rule.CurrentVersionID)
}

// VersionByLabel loads the version of a rule carrying the given label.
func (s *RuleStore) VersionByLabel(ctx context.Context, ruleID, label string) (*model.RuleVersion, error) {
	var version model.RuleVersion
	err := s.db.WithContext(ctx).
		First(&version, "rule_id = ? AND version = ?", ruleID, label).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load rule %s version %s: %w", ruleID, label, err)
	}
	return &version, nil
}

// CreateDraft inserts a new draft version for a rule. The version label is
// allocated at publish time, not here.
func (s *RuleStore) CreateDraft(ctx context.Context, version *model.RuleVersion) error {
	version.Status = model.VersionDraft
	version.Version = ""
	if version.ID == "" {
		version.ID = model.NewID()
	}
	if err := s.db.WithContext(ctx).Create(version).Error; err != nil {
		return fmt.Errorf("failed to create draft version: %w", err)
	}
	return nil
}

// Publish promotes a draft version: the previous published version is
// archived, the draft receives the next V<major>.<minor> label and becomes
// published, and the rule's current pointer moves. First publish is V1.0.
func (s *RuleStore) Publish(ctx context.Context, ruleID, versionID string) (*model.RuleVersion, error) {
	var published *model.RuleVersion

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var target model.RuleVersion
		if err := tx.First(&target, "id = ? AND rule_id = ?", versionID, ruleID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if target.Status != model.VersionDraft {
			return fmt.Errorf("version %s is %s, only drafts can be published", versionID, target.Status)
		}

		var labels []string
		if err := tx.Model(&model.RuleVersion{}).
			Where("rule_id = ? AND status IN ?", ruleID,
				[]model.VersionStatus{model.VersionPublished, model.VersionArchived}).
			Pluck("version", &labels).Error; err != nil {
			return err
		}
		label := NextVersionLabel(labels)

		if err := tx.Model(&model.RuleVersion{}).
			Where("rule_id = ? AND status = ?", ruleID, model.VersionPublished).
			Update("status", model.VersionArchived).Error; err != nil {
			return err
		}

		if err := tx.Model(&model.RuleVersion{}).
			Where("id = ?", target.ID).
			Updates(map[string]interface{}{
				"status":  model.VersionPublished,
				"version": label,
			}).Error; err != nil {
			return err
		}

		if err := tx.Model(&model.Rule{}).
			Where("id = ?", ruleID).
			Updates(map[string]interface{}{
				"current_version_id": target.ID,
				"updated_at":         time.Now(),
			}).Error; err != nil {
			return err
		}

		target.Status = model.VersionPublished
		target.Version = label
		published = &target
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to publish version: %w", err)
	}
	return published, nil
}

// Rollback republishes an archived version under its original label,
// archiving the currently published one.
func (s *RuleStore) Rollback(ctx context.Context, ruleID, versionID string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var target model.RuleVersion
		if err := tx.First(&target, "id = ? AND rule_id = ?", versionID, ruleID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if target.Status != model.VersionArchived {
			return fmt.Errorf("version %s is %s, only archived versions can be rolled back to", versionID, target.Status)
		}

		if err := tx.Model(&model.RuleVersion{}).
			Where("rule_id = ? AND status = ?", ruleID, model.VersionPublished).
			Update("status", model.VersionArchived).Error; err != nil {
			return err
		}

		if err := tx.Model(&model.RuleVersion{}).
			Where("id = ?", target.ID).
			Update("status", model.VersionPublished).Error; err != nil {
			return err
		}

		return tx.Model(&model.Rule{}).
			Where("id = ?", ruleID).
			Updates(map[string]interface{}{
				"current_version_id": target.ID,
				"updated_at":         time.Now(),
			}).Error
	})
	if err != nil {
		return fmt.Errorf("failed to roll back version: %w", err)
	}
	return nil
}

// WebhooksForRule returns the active webhooks bound to a rule.
func (s *RuleStore) WebhooksForRule(ctx context.Context, ruleID string) ([]model.Webhook, error) {
	var hooks []model.Webhook
	err := s.db.WithContext(ctx).
		Joins("JOIN rule_webhooks ON rule_webhooks.webhook_id = webhooks.id").
		Where("rule_webhooks.rule_id = ? AND webhooks.active = ?", ruleID, true).
		Find(&hooks).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load webhooks for rule %s: %w", ruleID, err)
	}
	return hooks, nil
}

// GetWebhook loads a webhook by ID.
func (s *RuleStore) GetWebhook(ctx context.Context, id string) (*model.Webhook, error) {
	var hook model.Webhook
	err := s.db.WithContext(ctx).First(&hook, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load webhook %s: %w", id, err)
	}
	return &hook, nil
}
