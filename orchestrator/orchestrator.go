// Package orchestrator owns the job lifecycle: upload intake with
// validation and deduplication, operator actions (retry, repush,
// cancel), auditor verdicts and dead-letter re-drive. Stage processing
// itself lives in the worker package; the orchestrator only creates
// jobs, moves them between operator-visible states and feeds the
// queues.
package orchestrator

import (
	"context"
	"time"

	"github.com/streadway/amqp"

	"github.com/docfold/docfold/common"
	"github.com/docfold/docfold/config"
	"github.com/docfold/docfold/dedup"
	"github.com/docfold/docfold/model"
	"github.com/docfold/docfold/queue"
	"github.com/docfold/docfold/store"
)

// TaskQueue is the slice of the queue fabric the orchestrator uses.
// Satisfied by queue.Fabric.
type TaskQueue interface {
	Publish(stage queue.Stage, msg queue.TaskMessage) error
	Depth(stage queue.Stage) (int, error)
	Consume(stage queue.Stage, consumerTag string) (<-chan amqp.Delivery, error)
}

// DocumentStore is the slice of the object store the orchestrator uses.
// Satisfied by storage.ObjectStore.
type DocumentStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// Orchestrator coordinates job creation and operator-driven
// transitions.
type Orchestrator struct {
	jobs   *store.JobStore
	rules  *store.RuleStore
	dedup  *dedup.Index
	files  DocumentStore
	queue  TaskQueue
	audits *store.AuditLogStore
	cfg    config.UploadConfig

	now func() time.Time
}

// New wires an orchestrator. audits may be nil; operator actions are
// then not recorded.
func New(jobs *store.JobStore, rules *store.RuleStore, index *dedup.Index, files DocumentStore, q TaskQueue, audits *store.AuditLogStore, cfg config.UploadConfig) *Orchestrator {
	return &Orchestrator{
		jobs:   jobs,
		rules:  rules,
		dedup:  index,
		files:  files,
		queue:  q,
		audits: audits,
		cfg:    cfg,
		now:    time.Now,
	}
}

// audit records an operator action. Recording failures are logged and
// swallowed; the action itself already happened.
func (o *Orchestrator) audit(ctx context.Context, actor, action, targetID string, detail model.JSONMap) {
	if o.audits == nil {
		return
	}
	err := o.audits.Record(ctx, &model.AuditLog{
		Actor:      actor,
		Action:     action,
		TargetType: "job",
		TargetID:   targetID,
		Detail:     detail,
	})
	if err != nil {
		common.Logger.WithError(err).WithField("action", action).Warn("failed to record audit log")
	}
}

// publishTask emits a stage message for a job.
func (o *Orchestrator) publishTask(stage queue.Stage, job *model.Job) error {
	return o.queue.Publish(stage, queue.TaskMessage{
		JobID:       job.ID,
		RuleID:      job.RuleID,
		RuleVersion: job.RuleVersion,
	})
}
