package orchestrator

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/zeebo/blake3"

	"github.com/docfold/docfold/common"
	"github.com/docfold/docfold/config"
	"github.com/docfold/docfold/model"
	"github.com/docfold/docfold/ocr"
	"github.com/docfold/docfold/queue"
	"github.com/docfold/docfold/storage"
	"github.com/docfold/docfold/store"
)

const (
	defaultMaxSizeBytes   = 20 << 20
	defaultMaxPages       = 50
	defaultSecondsPerJob  = 10
	defaultSecondsPerPage = 3
)

var defaultExtensions = []string{".pdf", ".png", ".jpg", ".jpeg", ".bmp", ".tiff"}

// ErrInvalidUpload marks synchronous intake rejections; no job is
// created for them.
var ErrInvalidUpload = errors.New("invalid upload")

// UploadRequest is one document intake.
type UploadRequest struct {
	Filename string
	Data     []byte
	RuleID   string
	MetaInfo model.JSONMap
}

// UploadResult is what the uploader reports back to the client.
type UploadResult struct {
	Job *model.Job
	// EstimatedWait is the backpressure estimate for queued jobs; zero
	// for instant completions.
	EstimatedWait time.Duration
}

// Upload validates, deduplicates and either instant-completes or
// enqueues a new job.
func (o *Orchestrator) Upload(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	if err := o.validate(req); err != nil {
		return nil, err
	}

	pages, err := o.countPages(req)
	if err != nil {
		return nil, err
	}
	maxPages := o.cfg.MaxPages
	if maxPages <= 0 {
		maxPages = defaultMaxPages
	}
	if pages > maxPages {
		return nil, fmt.Errorf("%w: %d pages exceeds limit of %d", ErrInvalidUpload, pages, maxPages)
	}

	version, err := o.rules.CurrentVersion(ctx, req.RuleID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve rule %s: %w", req.RuleID, err)
	}

	hash := ContentHash(req.Data)

	if prior, err := o.dedup.Lookup(ctx, hash, req.RuleID, version.Version); err == nil {
		job := CloneForInstant(prior, req, o.now())
		if err := o.jobs.Create(ctx, job); err != nil {
			return nil, err
		}
		common.Logger.WithField("job_id", job.ID).WithField("source", prior.ID).Info("instant completion from dedup hit")
		return &UploadResult{Job: job}, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	now := o.now()
	job := &model.Job{
		ID:               model.NewJobID(),
		OriginalFilename: req.Filename,
		ContentHash:      hash,
		PageCount:        pages,
		RuleID:           req.RuleID,
		RuleVersion:      version.Version,
		Status:           model.StatusQueued,
		MetaInfo:         req.MetaInfo,
		CreatedAt:        now,
	}
	job.FilePath = storage.DocumentKey(now, job.ID, req.Filename)

	if err := o.files.Put(ctx, job.FilePath, req.Data, contentType(req.Filename)); err != nil {
		return nil, fmt.Errorf("failed to store document: %w", err)
	}
	if err := o.jobs.Create(ctx, job); err != nil {
		return nil, err
	}
	if err := o.publishTask(queue.StageOCR, job); err != nil {
		return nil, fmt.Errorf("failed to enqueue job %s: %w", job.ID, err)
	}

	wait, err := o.estimateWait(ctx, pages)
	if err != nil {
		common.Logger.WithError(err).Warn("failed to estimate wait")
	}
	return &UploadResult{Job: job, EstimatedWait: wait}, nil
}

func (o *Orchestrator) validate(req UploadRequest) error {
	maxSize := o.cfg.MaxSizeBytes
	if maxSize <= 0 {
		maxSize = defaultMaxSizeBytes
	}
	if int64(len(req.Data)) > maxSize {
		return fmt.Errorf("%w: file exceeds %s", ErrInvalidUpload, humanize.IBytes(uint64(maxSize)))
	}
	if len(req.Data) == 0 {
		return fmt.Errorf("%w: empty file", ErrInvalidUpload)
	}

	exts := o.cfg.Extensions
	if len(exts) == 0 {
		exts = defaultExtensions
	}
	ext := strings.ToLower(filepath.Ext(req.Filename))
	for _, allowed := range exts {
		if ext == strings.ToLower(allowed) {
			return nil
		}
	}
	return fmt.Errorf("%w: extension %q not accepted", ErrInvalidUpload, ext)
}

// countPages reads the page count for PDFs; single images count as one
// page.
func (o *Orchestrator) countPages(req UploadRequest) (int, error) {
	if strings.ToLower(filepath.Ext(req.Filename)) != ".pdf" {
		return 1, nil
	}

	tmp, err := os.CreateTemp("", "docfold-upload-*.pdf")
	if err != nil {
		return 0, fmt.Errorf("failed to stage upload: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(req.Data); err != nil {
		tmp.Close()
		return 0, fmt.Errorf("failed to stage upload: %w", err)
	}
	tmp.Close()

	pages, err := ocr.PageCount(tmp.Name())
	if err != nil {
		return 0, fmt.Errorf("%w: unreadable PDF: %v", ErrInvalidUpload, err)
	}
	return pages, nil
}

// estimateWait is the upload backpressure estimate: a flat cost per
// enqueued job ahead of us plus a per-page OCR cost for this document.
func (o *Orchestrator) estimateWait(ctx context.Context, pages int) (time.Duration, error) {
	depth, err := o.queue.Depth(queue.StageOCR)
	if err != nil {
		return 0, err
	}
	active, err := o.jobs.CountActive(ctx)
	if err != nil {
		return 0, err
	}
	if int64(depth) > active {
		active = int64(depth)
	}
	return EstimateWait(active, pages, o.cfg), nil
}

// EstimateWait converts a queue position and page count into seconds.
func EstimateWait(jobsAhead int64, pages int, cfg config.UploadConfig) time.Duration {
	perJob := cfg.SecondsPerJob
	if perJob <= 0 {
		perJob = defaultSecondsPerJob
	}
	perPage := cfg.SecondsPerPage
	if perPage <= 0 {
		perPage = defaultSecondsPerPage
	}
	seconds := jobsAhead*int64(perJob) + int64(pages*perPage)
	return time.Duration(seconds) * time.Second
}

// ContentHash is the dedup key component: a 32-byte blake3 digest of
// the file bytes, hex encoded.
func ContentHash(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// CloneForInstant builds the instant-completion record from a prior
// terminal job. The object-store key is shared; OCR and extraction
// outputs are copied; LLM accounting stays zero.
func CloneForInstant(prior *model.Job, req UploadRequest, now time.Time) *model.Job {
	completed := now
	return &model.Job{
		ID:               model.NewJobID(),
		OriginalFilename: req.Filename,
		FilePath:         prior.FilePath,
		ContentHash:      prior.ContentHash,
		PageCount:        prior.PageCount,
		RuleID:           prior.RuleID,
		RuleVersion:      prior.RuleVersion,
		Status:           model.StatusCompleted,
		IsInstant:        true,
		OCRText:          prior.OCRText,
		OCRPages:         prior.OCRPages,
		ExtractedFields:  prior.ExtractedFields,
		ConfidenceScores: prior.ConfidenceScores,
		MetaInfo:         req.MetaInfo,
		CreatedAt:        now,
		CompletedAt:      &completed,
	}
}

func contentType(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return "application/pdf"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".bmp":
		return "image/bmp"
	case ".tiff":
		return "image/tiff"
	default:
		return "application/octet-stream"
	}
}
