package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/docfold/docfold/clean"
	"github.com/docfold/docfold/common"
	"github.com/docfold/docfold/config"
	"github.com/docfold/docfold/dedup"
	"github.com/docfold/docfold/extract"
	"github.com/docfold/docfold/model"
	"github.com/docfold/docfold/ocr"
	"github.com/docfold/docfold/queue"
	"github.com/docfold/docfold/store"
	"github.com/docfold/docfold/validate"
)

const (
	visionPageLimit = 3
	visionDPI       = 150
)

// TaskPublisher is the outbound slice of the queue fabric handlers use.
// Satisfied by queue.Fabric.
type TaskPublisher interface {
	Publish(stage queue.Stage, msg queue.TaskMessage) error
	PublishDelayed(stage queue.Stage, msg queue.TaskMessage, delay time.Duration) error
	PublishDead(stage queue.Stage, msg queue.TaskMessage, reason string) error
}

// FileFetcher downloads stored documents. Satisfied by
// storage.ObjectStore.
type FileFetcher interface {
	GetToFile(ctx context.Context, key, localPath string) error
}

// OCRWorker runs the full extraction pipeline for one queued job:
// OCR, strategy extraction, cleaning, validation and the audit gate.
type OCRWorker struct {
	jobs    *store.JobStore
	rules   *store.RuleStore
	files   FileFetcher
	ocr     *ocr.Engine
	extract *extract.Engine
	dedup   *dedup.Index
	queue   TaskPublisher
	llmCfg  config.LLMConfig
}

// NewOCRWorker wires the extraction stage handler.
func NewOCRWorker(jobs *store.JobStore, rules *store.RuleStore, files FileFetcher, ocrEngine *ocr.Engine, extractEngine *extract.Engine, index *dedup.Index, q TaskPublisher, llmCfg config.LLMConfig) *OCRWorker {
	return &OCRWorker{
		jobs:    jobs,
		rules:   rules,
		files:   files,
		ocr:     ocrEngine,
		extract: extractEngine,
		dedup:   index,
		queue:   q,
		llmCfg:  llmCfg,
	}
}

// Stage implements Handler.
func (w *OCRWorker) Stage() queue.Stage { return queue.StageOCR }

// Handle claims the job and runs the pipeline. A job not in queued
// state is a duplicate delivery and is dropped.
func (w *OCRWorker) Handle(ctx context.Context, msg queue.TaskMessage) error {
	job, err := w.jobs.Get(ctx, msg.JobID)
	if err != nil {
		common.Logger.WithError(err).WithField("job_id", msg.JobID).Warn("dropping message for unknown job")
		return nil
	}
	if job.Status != model.StatusQueued {
		common.Logger.WithField("job_id", job.ID).
			WithField("status", string(job.Status)).
			Debug("job not queued, dropping duplicate delivery")
		return nil
	}

	now := time.Now()
	if err := w.jobs.Transition(ctx, job.ID, model.StatusQueued, model.StatusProcessing, map[string]interface{}{
		"started_at": &now,
	}); err != nil {
		// Another worker claimed the message first.
		common.Logger.WithField("job_id", job.ID).Debug("lost claim race, dropping")
		return nil
	}
	job.Status = model.StatusProcessing

	if err := w.process(ctx, job); err != nil {
		if markErr := w.jobs.MarkFailed(ctx, job.ID, model.StatusProcessing, err); markErr != nil {
			common.Logger.WithError(markErr).WithField("job_id", job.ID).Error("failed to record job failure")
		}
		return err
	}
	return nil
}

func (w *OCRWorker) process(ctx context.Context, job *model.Job) error {
	version, err := w.rules.VersionByLabel(ctx, job.RuleID, job.RuleVersion)
	if err != nil {
		return fmt.Errorf("failed to load rule version: %w", err)
	}

	workDir, err := os.MkdirTemp("", "docfold-job-*")
	if err != nil {
		return fmt.Errorf("failed to create work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	localPath := filepath.Join(workDir, filepath.Base(job.FilePath))
	if err := w.files.GetToFile(ctx, job.FilePath, localPath); err != nil {
		return fmt.Errorf("failed to fetch document: %w", err)
	}
	pdfPath, err := ocr.EnsurePDF(localPath, workDir)
	if err != nil {
		return err
	}

	result, err := w.ocr.Run(ctx, pdfPath, version.PageExpression)
	if err != nil {
		return err
	}

	var images [][]byte
	if version.Consistency.Enabled {
		images, err = w.visionImages(ctx, pdfPath, workDir)
		if err != nil {
			common.Logger.WithError(err).WithField("job_id", job.ID).Warn("rasterization failed, skipping consistency check")
		}
	}

	out, err := w.extract.Extract(ctx, version, extract.Input{
		Text:      result.Text,
		Pages:     result.Pages,
		Separator: "\n",
		Images:    images,
	})
	if err != nil {
		return err
	}

	cleaned := clean.Apply(out.Fields, version.Validation)
	reasons := validate.Gate(validate.GateInput{
		Doc:         cleaned,
		Confidences: out.Confidences,
		Version:     version,
		Extra:       out.NeedsReview,
	})

	job.OCRText = result.Text
	job.OCRPages = result.Pages
	job.PageCount = len(result.Pages)
	job.ExtractedFields = cleaned
	job.ConfidenceScores = confidenceMap(out.Confidences)
	job.AuditReasons = reasons
	job.AddTokens(out.Usage.PromptTokens, out.Usage.CompletionTokens, w.llmCfg.InputTokenPrice, w.llmCfg.OutputTokenPrice)
	if err := w.jobs.SaveOutputs(ctx, job); err != nil {
		return err
	}

	if len(reasons) > 0 {
		return w.jobs.Transition(ctx, job.ID, model.StatusProcessing, model.StatusPendingAudit, nil)
	}

	now := time.Now()
	if err := w.jobs.Transition(ctx, job.ID, model.StatusProcessing, model.StatusCompleted, map[string]interface{}{
		"completed_at": &now,
	}); err != nil {
		return err
	}
	job.Status = model.StatusCompleted
	w.dedup.Record(ctx, job)
	return w.queue.Publish(queue.StagePipeline, queue.TaskMessage{
		JobID:       job.ID,
		RuleID:      job.RuleID,
		RuleVersion: job.RuleVersion,
	})
}

// visionImages rasterizes the first pages for the vision consistency
// path.
func (w *OCRWorker) visionImages(ctx context.Context, pdfPath, workDir string) ([][]byte, error) {
	total, err := ocr.PageCount(pdfPath)
	if err != nil {
		return nil, err
	}
	pages := make([]int, 0, visionPageLimit)
	for p := 1; p <= total && p <= visionPageLimit; p++ {
		pages = append(pages, p)
	}

	rasterDir := filepath.Join(workDir, "vision")
	files, err := ocr.Rasterize(ctx, pdfPath, pages, visionDPI, rasterDir)
	if err != nil {
		return nil, err
	}

	images := make([][]byte, 0, len(files))
	for _, page := range ocr.SortedPages(files) {
		data, err := os.ReadFile(files[page])
		if err != nil {
			return nil, err
		}
		images = append(images, data)
	}
	return images, nil
}

func confidenceMap(confidences map[string]float64) model.JSONMap {
	out := make(model.JSONMap, len(confidences))
	for path, conf := range confidences {
		out[path] = conf
	}
	return out
}
