package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// testWebhook fires the target with a synthetic job so operators can
// verify template, auth and connectivity. No push log is persisted.
func (s *Server) testWebhook(c echo.Context) error {
	hook, err := s.hooks.GetWebhook(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	entry := s.tester.TestFire(c.Request().Context(), hook)
	return c.JSON(http.StatusOK, entry)
}
