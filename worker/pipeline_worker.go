package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/docfold/docfold/common"
	"github.com/docfold/docfold/model"
	"github.com/docfold/docfold/queue"
	"github.com/docfold/docfold/sandbox"
	"github.com/docfold/docfold/store"
)

const defaultPipelineRetries = 1

// ScriptRunner executes pipeline scripts. Satisfied by
// sandbox.Executor.
type ScriptRunner interface {
	Execute(ctx context.Context, p *model.Pipeline, in sandbox.Input) (*sandbox.Execution, error)
}

// PipelineWorker runs the optional per-rule transform script between
// completion and push.
type PipelineWorker struct {
	jobs      *store.JobStore
	pipelines *store.PipelineStore
	runner    ScriptRunner
	queue     TaskPublisher
}

// NewPipelineWorker wires the pipeline stage handler.
func NewPipelineWorker(jobs *store.JobStore, pipelines *store.PipelineStore, runner ScriptRunner, q TaskPublisher) *PipelineWorker {
	return &PipelineWorker{jobs: jobs, pipelines: pipelines, runner: runner, queue: q}
}

// Stage implements Handler.
func (w *PipelineWorker) Stage() queue.Stage { return queue.StagePipeline }

// Handle executes the rule's script if one exists and hands the job to
// the push stage. The retry count in the message is authoritative.
func (w *PipelineWorker) Handle(ctx context.Context, msg queue.TaskMessage) error {
	job, err := w.jobs.Get(ctx, msg.JobID)
	if err != nil {
		common.Logger.WithError(err).WithField("job_id", msg.JobID).Warn("dropping message for unknown job")
		return nil
	}
	if job.Status != model.StatusCompleted {
		common.Logger.WithField("job_id", job.ID).
			WithField("status", string(job.Status)).
			Debug("job not completed, dropping duplicate delivery")
		return nil
	}

	pipeline, err := w.pipelines.ForRule(ctx, job.RuleID)
	if errors.Is(err, store.ErrNotFound) {
		return w.toPush(ctx, job, nil)
	}
	if err != nil {
		return err
	}

	exec, err := w.runner.Execute(ctx, pipeline, sandbox.Input{
		TaskID:        job.ID,
		ExtractedData: job.ExtractedFields,
		OCRText:       job.OCRText,
		MetaInfo:      job.MetaInfo,
	})
	if err != nil {
		return err
	}

	record := &model.PipelineExecution{
		JobID:        job.ID,
		PipelineID:   pipeline.ID,
		Input:        job.ExtractedFields,
		Output:       exec.OutputData,
		Stdout:       exec.Stdout,
		Stderr:       exec.Stderr,
		DurationMS:   exec.Duration.Milliseconds(),
		RetryCount:   msg.Attempt,
		Status:       exec.Status,
		ErrorMessage: exec.ErrorMessage,
	}
	if err := w.pipelines.RecordExecution(ctx, record); err != nil {
		common.Logger.WithError(err).WithField("job_id", job.ID).Warn("failed to record pipeline execution")
	}

	if exec.Status == model.ExecutionSuccess {
		return w.toPush(ctx, job, exec.OutputData)
	}

	maxRetries := pipeline.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultPipelineRetries
	}
	if msg.Attempt < maxRetries {
		retry := msg
		retry.Attempt++
		delay := sandbox.RetryDelay(msg.Attempt)
		common.Logger.WithField("job_id", job.ID).
			WithField("attempt", retry.Attempt).
			WithField("delay", delay.String()).
			Warn("pipeline script failed, scheduling retry")
		return w.queue.PublishDelayed(queue.StagePipeline, retry, delay)
	}

	cause := fmt.Errorf("pipeline script failed: %s", exec.ErrorMessage)
	if err := w.jobs.MarkFailed(ctx, job.ID, model.StatusCompleted, cause); err != nil {
		return err
	}
	return w.queue.PublishDead(queue.StagePipeline, msg, cause.Error())
}

// toPush transitions the job to pushing, replacing the extracted data
// with the script output when one was produced, and emits the push
// message.
func (w *PipelineWorker) toPush(ctx context.Context, job *model.Job, outputData map[string]interface{}) error {
	updates := map[string]interface{}{}
	if outputData != nil {
		updates["extracted_fields"] = model.JSONMap(outputData)
	}
	if err := w.jobs.Transition(ctx, job.ID, model.StatusCompleted, model.StatusPushing, updates); err != nil {
		return err
	}
	return w.queue.Publish(queue.StagePush, queue.TaskMessage{
		JobID:       job.ID,
		RuleID:      job.RuleID,
		RuleVersion: job.RuleVersion,
	})
}
