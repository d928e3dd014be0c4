package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/docfold/docfold/common"
	"github.com/docfold/docfold/model"
	"github.com/docfold/docfold/queue"
	"github.com/docfold/docfold/schema"
)

// correctedConfidence is pinned onto auditor-corrected fields.
const correctedConfidence = 100.0

// Retry requeues a failed or rejected job from the beginning. Prior
// outputs are cleared and a fresh OCR message is published.
func (o *Orchestrator) Retry(ctx context.Context, jobID string) error {
	job, err := o.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != model.StatusFailed && job.Status != model.StatusRejected {
		return fmt.Errorf("job %s is %s, only failed or rejected jobs retry", jobID, job.Status)
	}

	if err := o.jobs.Transition(ctx, jobID, job.Status, model.StatusQueued, nil); err != nil {
		return err
	}
	if err := o.jobs.ClearOutputs(ctx, jobID); err != nil {
		return err
	}
	return o.publishTask(queue.StageOCR, job)
}

// Repush re-enters the push stage for a job whose envelope was
// exhausted. The fresh attempt starts with retry_count 0.
func (o *Orchestrator) Repush(ctx context.Context, jobID string) error {
	job, err := o.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if err := o.jobs.Transition(ctx, jobID, model.StatusPushFailed, model.StatusPushing, map[string]interface{}{
		"last_error": "",
	}); err != nil {
		return err
	}
	return o.publishTask(queue.StagePush, job)
}

// Cancel rejects a job that has not been picked up yet. In-flight
// stages always run to completion; only queued jobs cancel.
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) error {
	now := o.now()
	return o.jobs.Transition(ctx, jobID, model.StatusQueued, model.StatusRejected, map[string]interface{}{
		"last_error":   "cancelled",
		"completed_at": &now,
	})
}

// Approve records the auditor verdict, applies field corrections with
// confidence pinned to 100 and hands the job to the pipeline stage.
// Repeating the same verdict on an already-adjudicated job is a no-op
// error at the CAS, which keeps auditor actions idempotent.
func (o *Orchestrator) Approve(ctx context.Context, jobID, auditorID string, corrections map[string]interface{}) error {
	job, err := o.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != model.StatusPendingAudit {
		return fmt.Errorf("job %s is %s, not pending_audit", jobID, job.Status)
	}

	fields := map[string]interface{}(job.ExtractedFields)
	if fields == nil {
		fields = map[string]interface{}{}
	}
	confidences := map[string]interface{}(job.ConfidenceScores)
	if confidences == nil {
		confidences = map[string]interface{}{}
	}
	for path, value := range corrections {
		merged := schema.Set(fields, path, value)
		if m, ok := merged.(map[string]interface{}); ok {
			fields = m
		}
		confidences[path] = correctedConfidence
	}

	now := o.now()
	err = o.jobs.Transition(ctx, jobID, model.StatusPendingAudit, model.StatusCompleted, map[string]interface{}{
		"extracted_fields":  model.JSONMap(fields),
		"confidence_scores": model.JSONMap(confidences),
		"auditor_id":        &auditorID,
		"audited_at":        &now,
		"completed_at":      &now,
	})
	if err != nil {
		return err
	}
	o.dedup.Record(ctx, &model.Job{
		ID:          jobID,
		ContentHash: job.ContentHash,
		RuleID:      job.RuleID,
		RuleVersion: job.RuleVersion,
		Status:      model.StatusCompleted,
	})
	o.audit(ctx, auditorID, "approve", jobID, model.JSONMap{"corrected": correctionPaths(corrections)})
	return o.publishTask(queue.StagePipeline, job)
}

// Reject records the auditor's rejection.
func (o *Orchestrator) Reject(ctx context.Context, jobID, auditorID, reason string) error {
	now := o.now()
	err := o.jobs.Transition(ctx, jobID, model.StatusPendingAudit, model.StatusRejected, map[string]interface{}{
		"auditor_id":   &auditorID,
		"audited_at":   &now,
		"completed_at": &now,
		"last_error":   reason,
	})
	if err != nil {
		return err
	}
	o.audit(ctx, auditorID, "reject", jobID, model.JSONMap{"reason": reason})
	return nil
}

// correctionPaths lists the corrected field paths for the audit trail.
func correctionPaths(corrections map[string]interface{}) []string {
	paths := make([]string, 0, len(corrections))
	for path := range corrections {
		paths = append(paths, path)
	}
	return paths
}

// RedriveDead drains up to max parked messages from the dead-letter
// queue, moves each job back into the status its stage consumes from
// and republishes with retry_count reset to 0. Dead letters whose job
// has since moved on are dropped. Returns the number of messages
// re-driven.
func (o *Orchestrator) RedriveDead(ctx context.Context, max int) (int, error) {
	deliveries, err := o.queue.Consume(queue.StageDead, "redrive")
	if err != nil {
		return 0, fmt.Errorf("failed to consume dead letters: %w", err)
	}

	redriven := 0
	for redriven < max {
		select {
		case d, ok := <-deliveries:
			if !ok {
				return redriven, nil
			}
			record, err := queue.DecodeDeadLetter(d)
			if err != nil {
				common.Logger.WithError(err).Warn("dropping undecodable dead letter")
				d.Ack(false)
				continue
			}
			stage, msg, err := o.restage(ctx, record)
			if err != nil {
				common.Logger.WithError(err).
					WithField("job_id", record.Message.JobID).
					Warn("dropping dead letter, job is no longer re-drivable")
				d.Ack(false)
				continue
			}
			if err := o.queue.Publish(stage, msg); err != nil {
				d.Nack(false, true)
				return redriven, fmt.Errorf("failed to republish dead letter: %w", err)
			}
			d.Ack(false)
			redriven++
			o.audit(ctx, "operator", "redrive", msg.JobID, model.JSONMap{"stage": string(stage)})
			common.Logger.WithField("job_id", msg.JobID).
				WithField("stage", string(stage)).
				Info("re-drove dead letter")
		case <-time.After(time.Second):
			return redriven, nil
		case <-ctx.Done():
			return redriven, ctx.Err()
		}
	}
	return redriven, nil
}

// restage returns the job to the status its stage's worker expects, so
// the republished message is not dropped as a duplicate. Push dead
// letters re-enter the push stage with a clean slate, as Repush does;
// pipeline and OCR dead letters restart the job from the beginning, as
// Retry does.
func (o *Orchestrator) restage(ctx context.Context, record queue.DeadLetterRecord) (queue.Stage, queue.TaskMessage, error) {
	msg := record.Message
	msg.Attempt = 0
	if record.Stage == queue.StagePush {
		err := o.jobs.Transition(ctx, msg.JobID, model.StatusPushFailed, model.StatusPushing, map[string]interface{}{
			"last_error": "",
		})
		return queue.StagePush, msg, err
	}
	if err := o.jobs.Transition(ctx, msg.JobID, model.StatusFailed, model.StatusQueued, nil); err != nil {
		return "", msg, err
	}
	if err := o.jobs.ClearOutputs(ctx, msg.JobID); err != nil {
		return "", msg, err
	}
	msg.WebhookID = ""
	return queue.StageOCR, msg, nil
}
