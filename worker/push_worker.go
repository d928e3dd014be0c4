package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/docfold/docfold/common"
	"github.com/docfold/docfold/model"
	"github.com/docfold/docfold/queue"
	"github.com/docfold/docfold/store"
	"github.com/docfold/docfold/webhook"
)

// Deliverer is the slice of the webhook dispatcher the push worker
// uses. Satisfied by webhook.Dispatcher.
type Deliverer interface {
	DeliverAll(ctx context.Context, job *model.Job, hooks []model.Webhook, retryCount int) []*webhook.Delivery
	RetryDelay(retryCount int) (time.Duration, bool)
}

// PushWorker dispatches job results to the rule's bound webhooks and
// settles the job's terminal push status.
type PushWorker struct {
	jobs       *store.JobStore
	rules      *store.RuleStore
	logs       *store.PushLogStore
	dispatcher Deliverer
	queue      TaskPublisher
}

// NewPushWorker wires the push stage handler.
func NewPushWorker(jobs *store.JobStore, rules *store.RuleStore, logs *store.PushLogStore, dispatcher Deliverer, q TaskPublisher) *PushWorker {
	return &PushWorker{jobs: jobs, rules: rules, logs: logs, dispatcher: dispatcher, queue: q}
}

// Stage implements Handler.
func (w *PushWorker) Stage() queue.Stage { return queue.StagePush }

// Handle dispatches the job to its targets. A message carrying a
// webhook ID is a per-target retry and only touches that target.
func (w *PushWorker) Handle(ctx context.Context, msg queue.TaskMessage) error {
	job, err := w.jobs.Get(ctx, msg.JobID)
	if err != nil {
		common.Logger.WithError(err).WithField("job_id", msg.JobID).Warn("dropping message for unknown job")
		return nil
	}
	if job.Status != model.StatusPushing {
		common.Logger.WithField("job_id", job.ID).
			WithField("status", string(job.Status)).
			Debug("job not pushing, dropping duplicate delivery")
		return nil
	}

	bound, err := w.rules.WebhooksForRule(ctx, job.RuleID)
	if err != nil {
		return err
	}
	if len(bound) == 0 {
		now := time.Now()
		return w.jobs.Transition(ctx, job.ID, model.StatusPushing, model.StatusPushSuccess, map[string]interface{}{
			"completed_at": &now,
		})
	}

	targets := bound
	if msg.WebhookID != "" {
		targets = nil
		for i := range bound {
			if bound[i].ID == msg.WebhookID {
				targets = bound[i : i+1]
				break
			}
		}
		if len(targets) == 0 {
			common.Logger.WithField("webhook_id", msg.WebhookID).Warn("retry target no longer bound, dropping")
			return w.settle(ctx, job, bound)
		}
	}

	results := w.dispatcher.DeliverAll(ctx, job, targets, msg.Attempt)

	pendingRetry := false
	for _, res := range results {
		if res.Success {
			continue
		}
		if res.Retryable {
			delay, ok := w.dispatcher.RetryDelay(msg.Attempt)
			if ok {
				pendingRetry = true
				retry := queue.TaskMessage{
					JobID:       job.ID,
					RuleID:      job.RuleID,
					RuleVersion: job.RuleVersion,
					WebhookID:   res.WebhookID,
					Attempt:     msg.Attempt + 1,
				}
				if err := w.queue.PublishDelayed(queue.StagePush, retry, delay); err != nil {
					return err
				}
				continue
			}
		}
		// Envelope exhausted: park the attempt for manual re-drive.
		dead := queue.TaskMessage{
			JobID:       job.ID,
			RuleID:      job.RuleID,
			RuleVersion: job.RuleVersion,
			WebhookID:   res.WebhookID,
			Attempt:     msg.Attempt,
		}
		reason := fmt.Sprintf("webhook %s: %s", res.WebhookID, res.Log.Error)
		if err := w.queue.PublishDead(queue.StagePush, dead, reason); err != nil {
			return err
		}
	}

	if pendingRetry {
		// Terminal status settles once every target has a terminal log.
		return nil
	}
	return w.settle(ctx, job, bound)
}

// settle inspects the terminal outcome of every bound target and moves
// the job to push_success or push_failed once all are decided.
func (w *PushWorker) settle(ctx context.Context, job *model.Job, bound []model.Webhook) error {
	var failures []string
	for i := range bound {
		entry, err := w.logs.LatestTerminal(ctx, job.ID, bound[i].ID)
		if errors.Is(err, store.ErrNotFound) {
			// A target is still inside its retry envelope.
			return nil
		}
		if err != nil {
			return err
		}
		if !entry.Success {
			failures = append(failures, fmt.Sprintf("%s: %s", bound[i].Name, entry.Error))
		}
	}

	now := time.Now()
	if len(failures) > 0 {
		return w.jobs.Transition(ctx, job.ID, model.StatusPushing, model.StatusPushFailed, map[string]interface{}{
			"last_error":   strings.Join(failures, "; "),
			"completed_at": &now,
		})
	}
	return w.jobs.Transition(ctx, job.ID, model.StatusPushing, model.StatusPushSuccess, map[string]interface{}{
		"completed_at": &now,
	})
}
