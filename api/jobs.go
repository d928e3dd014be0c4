package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

func (s *Server) getJob(c echo.Context) error {
	job, err := s.jobs.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, job)
}

func (s *Server) listPushLogs(c echo.Context) error {
	logs, err := s.logs.ListByJob(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, logs)
}

// retryJob requeues a failed or rejected job from the beginning.
func (s *Server) retryJob(c echo.Context) error {
	if err := s.orch.Retry(c.Request().Context(), c.Param("id")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusAccepted)
}

// repushJob restarts delivery for a job whose push failed.
func (s *Server) repushJob(c echo.Context) error {
	if err := s.orch.Repush(c.Request().Context(), c.Param("id")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusAccepted)
}

// cancelJob withdraws a job that is still queued.
func (s *Server) cancelJob(c echo.Context) error {
	if err := s.orch.Cancel(c.Request().Context(), c.Param("id")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// RedriveRequest bounds one manual dead-letter re-drive.
type RedriveRequest struct {
	Max int `json:"max"`
}

// RedriveResponse reports how many parked messages were requeued.
type RedriveResponse struct {
	Redriven int `json:"redriven"`
}

func (s *Server) redriveDeadLetters(c echo.Context) error {
	var req RedriveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Max <= 0 {
		req.Max = 100
	}
	n, err := s.orch.RedriveDead(c.Request().Context(), req.Max)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, RedriveResponse{Redriven: n})
}
