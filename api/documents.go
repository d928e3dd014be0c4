package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/docfold/docfold/model"
	"github.com/docfold/docfold/orchestrator"
)

// UploadResponse is the intake reply. EstimatedWaitSeconds is zero for
// instant completions.
type UploadResponse struct {
	Job                  *model.Job `json:"job"`
	EstimatedWaitSeconds int        `json:"estimated_wait_seconds"`
}

// uploadDocument accepts a multipart form with the document under
// "file", the target rule under "rule_id" and optional JSON metadata
// under "meta_info".
func (s *Server) uploadDocument(c echo.Context) error {
	ruleID := c.FormValue("rule_id")
	if ruleID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "rule_id is required")
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}
	f, err := fileHeader.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable file part")
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable file part")
	}

	var meta model.JSONMap
	if raw := c.FormValue("meta_info"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "meta_info must be a JSON object")
		}
	}

	result, err := s.orch.Upload(c.Request().Context(), orchestrator.UploadRequest{
		Filename: fileHeader.Filename,
		Data:     data,
		RuleID:   ruleID,
		MetaInfo: meta,
	})
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusCreated, UploadResponse{
		Job:                  result.Job,
		EstimatedWaitSeconds: int(result.EstimatedWait.Seconds()),
	})
}
