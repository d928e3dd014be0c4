// Package ocr turns uploaded PDFs into per-page text with word boxes and
// confidence scores. Three interchangeable backends are supported: a
// mutex-serialized local engine, a CLI engine that fans pages out to
// tesseract processes, and an HTTP engine that delegates to a remote
// recognition service. An optional fallback backend catches failures and
// empty results from the primary.
package ocr

import (
	"context"
	"fmt"
	"strings"

	"github.com/docfold/docfold/common"
	"github.com/docfold/docfold/config"
	"github.com/docfold/docfold/model"
)

// Backend recognizes the given 1-indexed pages of a PDF file.
type Backend interface {
	Name() string
	Recognize(ctx context.Context, pdfPath string, pages []int) ([]model.OCRPage, error)
}

// Result is the outcome of running recognition over a document.
type Result struct {
	// Text is the page texts joined by the configured separator.
	Text string
	// Pages holds per-page text, boxes and confidence in page order.
	Pages []model.OCRPage
	// Fallback reports whether the fallback backend produced the result.
	Fallback bool
}

// Engine orchestrates backend selection, page resolution and fallback.
type Engine struct {
	primary   Backend
	fallback  Backend
	separator string
}

// NewEngine builds an engine from configuration.
func NewEngine(cfg config.OCRConfig) (*Engine, error) {
	primary, err := backendByName(cfg.Backend, cfg)
	if err != nil {
		return nil, err
	}

	var fallback Backend
	if cfg.Fallback != "" {
		if cfg.Fallback == cfg.Backend {
			return nil, fmt.Errorf("fallback backend must differ from primary %q", cfg.Backend)
		}
		fallback, err = backendByName(cfg.Fallback, cfg)
		if err != nil {
			return nil, err
		}
	}

	separator := cfg.PageSeparator
	if separator == "" {
		separator = "\n"
	}
	return &Engine{primary: primary, fallback: fallback, separator: separator}, nil
}

// NewEngineWithBackends creates an engine on injected backends.
// Used by tests.
func NewEngineWithBackends(primary, fallback Backend, separator string) *Engine {
	if separator == "" {
		separator = "\n"
	}
	return &Engine{primary: primary, fallback: fallback, separator: separator}
}

func backendByName(name string, cfg config.OCRConfig) (Backend, error) {
	switch name {
	case "local":
		return NewLocalBackend(cfg.CLICommand), nil
	case "cli":
		return NewCLIBackend(cfg.CLICommand, cfg.Parallelism), nil
	case "http":
		return NewHTTPBackend(cfg.HTTPEndpoint, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown OCR backend %q", name)
	}
}

// Run recognizes the pages selected by the expression and merges the
// result. The fallback backend is tried when the primary errors or
// returns only empty text.
func (e *Engine) Run(ctx context.Context, pdfPath, pageExpr string) (*Result, error) {
	total, err := PageCount(pdfPath)
	if err != nil {
		return nil, err
	}
	pages, err := ResolvePages(pageExpr, total)
	if err != nil {
		return nil, err
	}

	recognized, usedFallback, err := e.recognize(ctx, pdfPath, pages)
	if err != nil {
		return nil, fmt.Errorf("OCR failed: %w", err)
	}

	return &Result{
		Text:     MergeText(recognized, e.separator),
		Pages:    recognized,
		Fallback: usedFallback,
	}, nil
}

func (e *Engine) recognize(ctx context.Context, pdfPath string, pages []int) ([]model.OCRPage, bool, error) {
	recognized, err := e.primary.Recognize(ctx, pdfPath, pages)
	if err == nil && !allEmpty(recognized) {
		return recognized, false, nil
	}
	if e.fallback == nil {
		return recognized, false, err
	}

	if err != nil {
		common.Logger.WithError(err).
			WithField("backend", e.primary.Name()).
			Warn("primary OCR backend failed, trying fallback")
	} else {
		common.Logger.WithField("backend", e.primary.Name()).
			Warn("primary OCR backend returned no text, trying fallback")
	}
	recognized, err = e.fallback.Recognize(ctx, pdfPath, pages)
	return recognized, true, err
}

func allEmpty(pages []model.OCRPage) bool {
	for _, p := range pages {
		if strings.TrimSpace(p.Text) != "" {
			return false
		}
	}
	return true
}

// MergeText joins page texts in page order with the separator.
func MergeText(pages []model.OCRPage, separator string) string {
	texts := make([]string, len(pages))
	for i, p := range pages {
		texts[i] = p.Text
	}
	return strings.Join(texts, separator)
}

// AverageConfidence returns the mean page confidence, or 0 for no pages.
func AverageConfidence(pages []model.OCRPage) float64 {
	if len(pages) == 0 {
		return 0
	}
	var sum float64
	for _, p := range pages {
		sum += p.AvgConfidence
	}
	return sum / float64(len(pages))
}
