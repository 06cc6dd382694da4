package httpserver

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/labstack/echo/v4"
)

const recentJobsLimit = 50

// handleSubmit accepts a multipart file upload, stages it under the upload
// directory, and hands it to the orchestrator, returning immediately with
// the new job id.
func (s *Server) handleSubmit(c echo.Context) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "No file"})
	}
	if fileHeader.Filename == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "No filename"})
	}

	src, err := fileHeader.Open()
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "No file"})
	}
	defer src.Close()

	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		s.log.Error("failed to create upload directory", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "upload failed"})
	}

	destPath := filepath.Join(s.uploadDir, fileHeader.Filename)
	dest, err := os.Create(destPath)
	if err != nil {
		s.log.Error("failed to stage uploaded file", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "upload failed"})
	}
	defer dest.Close()

	if _, err := dest.ReadFrom(src); err != nil {
		s.log.Error("failed to stage uploaded file", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "upload failed"})
	}

	jobID, err := s.orchestrator.Submit(destPath, fileHeader.Filename)
	if err != nil {
		s.log.Error("failed to start job", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to start job"})
	}

	return c.JSON(http.StatusAccepted, map[string]any{
		"status": "accepted",
		"job_id": jobID,
	})
}

// handleListJobs returns the most recent jobs, newest first, capped at
// recentJobsLimit.
func (s *Server) handleListJobs(c echo.Context) error {
	jobs := s.store.ListRecentJobs(recentJobsLimit)
	return c.JSON(http.StatusOK, map[string]any{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// handleGetJob returns a single job record.
func (s *Server) handleGetJob(c echo.Context) error {
	id := c.Param("id")
	job, ok := s.store.GetJob(id)
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "job not found"})
	}
	return c.JSON(http.StatusOK, job)
}

// handleStats returns aggregate worker and job counts.
func (s *Server) handleStats(c echo.Context) error {
	return c.JSON(http.StatusOK, s.store.Stats())
}
