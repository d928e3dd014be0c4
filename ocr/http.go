package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/docfold/docfold/model"
)

// HTTPBackend delegates recognition to a remote OCR service. The
// document is trimmed to the selected pages before upload so the service
// never sees pages the rule does not ask for.
type HTTPBackend struct {
	endpoint string
	client   *http.Client
}

// httpResponse is the wire format returned by the recognition service.
type httpResponse struct {
	Pages []struct {
		Index         int     `json:"index"`
		Text          string  `json:"text"`
		AvgConfidence float64 `json:"avg_confidence"`
		Boxes         []struct {
			Text       string  `json:"text"`
			Confidence float64 `json:"confidence"`
			X          int     `json:"x"`
			Y          int     `json:"y"`
			W          int     `json:"w"`
			H          int     `json:"h"`
		} `json:"boxes"`
	} `json:"pages"`
}

// NewHTTPBackend creates an HTTP backend for the given service URL.
func NewHTTPBackend(endpoint string, timeout time.Duration) *HTTPBackend {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &HTTPBackend{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

// Name identifies this backend in logs.
func (b *HTTPBackend) Name() string { return "http" }

// Recognize uploads the selected pages and decodes the service response.
func (b *HTTPBackend) Recognize(ctx context.Context, pdfPath string, pages []int) ([]model.OCRPage, error) {
	trimmed, err := os.CreateTemp("", "docfold-trim-*.pdf")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	trimmed.Close()
	defer os.Remove(trimmed.Name())

	if err := TrimToPages(pdfPath, trimmed.Name(), pages); err != nil {
		return nil, err
	}

	body, contentType, err := buildUpload(trimmed.Name(), pages)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build OCR request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("OCR service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("OCR service returned %d: %s", resp.StatusCode, payload)
	}

	var decoded httpResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode OCR response: %w", err)
	}

	result := make([]model.OCRPage, 0, len(decoded.Pages))
	for i, p := range decoded.Pages {
		page := model.OCRPage{
			Text:          p.Text,
			AvgConfidence: p.AvgConfidence,
		}
		// The service numbers pages within the trimmed document; map
		// them back to the original page numbers.
		if i < len(pages) {
			page.Index = pages[i]
		} else {
			page.Index = p.Index
		}
		for _, box := range p.Boxes {
			page.Boxes = append(page.Boxes, model.OCRBox{
				Text:       box.Text,
				Confidence: box.Confidence,
				X:          box.X,
				Y:          box.Y,
				W:          box.W,
				H:          box.H,
			})
		}
		result = append(result, page)
	}
	return result, nil
}

func buildUpload(filePath string, pages []int) (io.Reader, string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read %s: %w", filePath, err)
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", filepath.Base(filePath))
	if err != nil {
		return nil, "", fmt.Errorf("failed to build upload: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", fmt.Errorf("failed to build upload: %w", err)
	}

	pageList := make([]string, len(pages))
	for i, p := range pages {
		pageList[i] = strconv.Itoa(p)
	}
	if err := writer.WriteField("pages", strings.Join(pageList, ",")); err != nil {
		return nil, "", fmt.Errorf("failed to build upload: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to build upload: %w", err)
	}
	return &buf, writer.FormDataContentType(), nil
}
