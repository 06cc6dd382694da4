package httpserver

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

type workerAddRequest struct {
	URL string `json:"url"`
}

type workerRemoveRequest struct {
	URL string `json:"url"`
}

type workerView struct {
	ID     int    `json:"id"`
	URL    string `json:"url"`
	Status string `json:"status"`
}

// handleListWorkers probes every known worker live and returns the ones
// currently online.
func (s *Server) handleListWorkers(c echo.Context) error {
	online := s.dispatcher.ListOnlineWorkers()
	workers := make([]workerView, len(online))
	for i, w := range online {
		workers[i] = workerView{ID: i, URL: w.URL, Status: "online"}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"workers": workers,
		"count":   len(workers),
	})
}

// handleAddWorker registers a new worker URL, prepending http:// when no
// scheme was given, and rejecting duplicates.
func (s *Server) handleAddWorker(c echo.Context) error {
	var req workerAddRequest
	if err := c.Bind(&req); err != nil || req.URL == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "url is required"})
	}

	url := req.URL
	if !strings.Contains(url, "://") {
		url = "http://" + url
	}

	if _, ok := s.store.GetWorker(url); ok {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "worker already registered"})
	}

	if err := s.store.AddWorker(url); err != nil {
		s.log.Error("failed to add worker", "url", url, "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to add worker"})
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "added", "url": url})
}

// handleRemoveWorker deregisters a worker URL, rejecting unknown ones.
func (s *Server) handleRemoveWorker(c echo.Context) error {
	var req workerRemoveRequest
	if err := c.Bind(&req); err != nil || req.URL == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "url is required"})
	}

	if _, ok := s.store.GetWorker(req.URL); !ok {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "unknown worker"})
	}

	if err := s.store.RemoveWorker(req.URL); err != nil {
		s.log.Error("failed to remove worker", "url", req.URL, "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to remove worker"})
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "removed", "url": req.URL})
}
