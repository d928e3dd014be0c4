package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// ApproveRequest carries the auditor verdict with optional field
// corrections keyed by schema path.
type ApproveRequest struct {
	AuditorID   string                 `json:"auditor_id"`
	Corrections map[string]interface{} `json:"corrections,omitempty"`
}

// RejectRequest carries a rejection with the reason shown to the
// uploader.
type RejectRequest struct {
	AuditorID string `json:"auditor_id"`
	Reason    string `json:"reason"`
}

func (s *Server) approveJob(c echo.Context) error {
	var req ApproveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.AuditorID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "auditor_id is required")
	}
	if err := s.orch.Approve(c.Request().Context(), c.Param("id"), req.AuditorID, req.Corrections); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) rejectJob(c echo.Context) error {
	var req RejectRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.AuditorID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "auditor_id is required")
	}
	if req.Reason == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "reason is required")
	}
	if err := s.orch.Reject(c.Request().Context(), c.Param("id"), req.AuditorID, req.Reason); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
