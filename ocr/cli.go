package ocr

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"sync"

	"github.com/docfold/docfold/model"
)

// CLIBackend recognizes pages by spawning one tesseract process per
// page, bounded by a parallelism limit. Each page is rasterized first
// because tesseract consumes images, not PDFs.
type CLIBackend struct {
	command     string
	parallelism int
	dpi         int
}

// NewCLIBackend creates a CLI backend for the given executable.
func NewCLIBackend(command string, parallelism int) *CLIBackend {
	if command == "" {
		command = "tesseract"
	}
	if parallelism < 1 {
		parallelism = 1
	}
	return &CLIBackend{command: command, parallelism: parallelism, dpi: 200}
}

// Name identifies this backend in logs.
func (b *CLIBackend) Name() string { return "cli" }

// Recognize rasterizes and recognizes the selected pages concurrently.
func (b *CLIBackend) Recognize(ctx context.Context, pdfPath string, pages []int) ([]model.OCRPage, error) {
	outDir, err := os.MkdirTemp("", "docfold-ocr-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(outDir)

	images, err := Rasterize(ctx, pdfPath, pages, b.dpi, outDir)
	if err != nil {
		return nil, err
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		sem     = make(chan struct{}, b.parallelism)
		results = make([]model.OCRPage, 0, len(pages))
		firstErr error
	)

	for _, page := range SortedPages(images) {
		wg.Add(1)
		sem <- struct{}{}
		go func(page int, imagePath string) {
			defer wg.Done()
			defer func() { <-sem }()

			recognized, err := b.recognizeImage(ctx, page, imagePath)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			results = append(results, recognized)
		}(page, images[page])
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Index < results[j].Index })
	return results, nil
}

func (b *CLIBackend) recognizeImage(ctx context.Context, page int, imagePath string) (model.OCRPage, error) {
	cmd := exec.CommandContext(ctx, b.command, imagePath, "stdout", "tsv")
	out, err := cmd.Output()
	if err != nil {
		return model.OCRPage{}, fmt.Errorf("%s failed on page %d: %w", b.command, page, err)
	}
	return ParseTSV(page, out), nil
}
