package ocr

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	pdfmodel "github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// PageCount returns the number of pages in a PDF file.
func PageCount(filePath string) (int, error) {
	pdfCtx, err := api.ReadContextFile(filePath)
	if err != nil {
		return 0, fmt.Errorf("failed to read PDF context: %w", err)
	}
	return pdfCtx.PageCount, nil
}

// TrimToPages writes a copy of the PDF containing only the selected
// 1-indexed pages. Used to narrow a document before handing it to a
// whole-document backend.
func TrimToPages(inPath, outPath string, pages []int) error {
	selected := make([]string, len(pages))
	for i, p := range pages {
		selected[i] = strconv.Itoa(p)
	}
	conf := pdfmodel.NewDefaultConfiguration()
	if err := api.TrimFile(inPath, outPath, selected, conf); err != nil {
		return fmt.Errorf("failed to trim PDF to pages %v: %w", pages, err)
	}
	return nil
}

// EnsurePDF returns a PDF path for the document. PDFs pass through;
// image files are wrapped into a single-page PDF under outDir.
func EnsurePDF(path, outDir string) (string, error) {
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		return path, nil
	}
	out := filepath.Join(outDir, "document.pdf")
	if err := api.ImportImagesFile([]string{path}, out, nil, pdfmodel.NewDefaultConfiguration()); err != nil {
		return "", fmt.Errorf("failed to convert image to PDF: %w", err)
	}
	return out, nil
}

// Rasterize renders the selected pages of a PDF to PNG files via
// pdftoppm and returns the image paths keyed by page number.
//
// pdfcpu cannot render page content, so rasterization shells out to
// poppler. The caller owns outDir and its cleanup.
func Rasterize(ctx context.Context, pdfPath string, pages []int, dpi int, outDir string) (map[int]string, error) {
	if dpi <= 0 {
		dpi = 200
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create raster dir: %w", err)
	}

	images := make(map[int]string, len(pages))
	for _, page := range pages {
		prefix := filepath.Join(outDir, fmt.Sprintf("page_%d", page))
		cmd := exec.CommandContext(ctx, "pdftoppm",
			"-png",
			"-r", strconv.Itoa(dpi),
			"-f", strconv.Itoa(page),
			"-l", strconv.Itoa(page),
			"-singlefile",
			pdfPath, prefix)
		if out, err := cmd.CombinedOutput(); err != nil {
			return nil, fmt.Errorf("pdftoppm failed on page %d: %w: %s", page, err, out)
		}
		images[page] = prefix + ".png"
	}
	return images, nil
}

// SortedPages returns the keys of a page-image map in ascending order.
func SortedPages(images map[int]string) []int {
	pages := make([]int, 0, len(images))
	for p := range images {
		pages = append(pages, p)
	}
	sort.Ints(pages)
	return pages
}
