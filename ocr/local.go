package ocr

import (
	"context"
	"sync"

	"github.com/docfold/docfold/model"
)

// localMu serializes all local recognition in the process. The local
// engine keeps its language models resident, so concurrent documents
// would multiply memory instead of throughput.
var localMu sync.Mutex

// LocalBackend recognizes documents with the in-process engine, one
// document at a time.
type LocalBackend struct {
	inner *CLIBackend
}

// NewLocalBackend creates the serialized local backend.
func NewLocalBackend(command string) *LocalBackend {
	return &LocalBackend{inner: NewCLIBackend(command, 1)}
}

// Name identifies this backend in logs.
func (b *LocalBackend) Name() string { return "local" }

// Recognize holds the process-wide lock for the whole document.
func (b *LocalBackend) Recognize(ctx context.Context, pdfPath string, pages []int) ([]model.OCRPage, error) {
	localMu.Lock()
	defer localMu.Unlock()
	return b.inner.Recognize(ctx, pdfPath, pages)
}
