package httpserver

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// preferencesUser is the namespace preferences are stored under; the
// preference API is not tied to an authenticated user identity.
const preferencesUser = "default"

type purifierPreferenceRequest struct {
	UsePurifier bool `json:"usePurifier"`
}

// handleSetPurifierPreference persists the use_purifier preference.
func (s *Server) handleSetPurifierPreference(c echo.Context) error {
	var req purifierPreferenceRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if err := s.store.SetPreference(preferencesUser, "use_purifier", req.UsePurifier); err != nil {
		s.log.Error("failed to set preference", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to set preference"})
	}
	return c.JSON(http.StatusOK, map[string]bool{"usePurifier": req.UsePurifier})
}

// handleGetPurifierPreference returns the current use_purifier preference,
// defaulting to true.
func (s *Server) handleGetPurifierPreference(c echo.Context) error {
	value, _ := s.store.GetPreference(preferencesUser, "use_purifier", true).(bool)
	return c.JSON(http.StatusOK, map[string]bool{"usePurifier": value})
}
