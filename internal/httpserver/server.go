// Package httpserver implements the external HTTP/WebSocket surface: the
// submission, job, worker-management and preferences REST API plus the
// job-room notification channel.
package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/avian-audio/transcribe-master/internal/conf"
	"github.com/avian-audio/transcribe-master/internal/dispatcher"
	"github.com/avian-audio/transcribe-master/internal/orchestrator"
	"github.com/avian-audio/transcribe-master/internal/store"
)

// Server wraps the echo instance and every dependency its handlers need,
// grounded on internal/httpcontroller/server.go's Server struct.
type Server struct {
	Echo *echo.Echo

	settings     *conf.Settings
	store        *store.Store
	dispatcher   *dispatcher.Dispatcher
	orchestrator *orchestrator.Orchestrator
	rooms        *JobRoomManager
	log          *slog.Logger
	uploadDir    string
}

// New constructs the Server and registers every route, with its own
// JobRoomManager. Use NewWithNotifier when the orchestrator must be wired
// to the same room manager the server serves over /ws.
func New(settings *conf.Settings, st *store.Store, d *dispatcher.Dispatcher, orch *orchestrator.Orchestrator, uploadDir string, log *slog.Logger) *Server {
	return NewWithNotifier(settings, st, d, orch, NewJobRoomManager(log), uploadDir, log)
}

// NewWithNotifier is like New but takes an externally constructed
// JobRoomManager, letting callers hand the same instance to the
// orchestrator as its Notifier before the Server exists.
func NewWithNotifier(settings *conf.Settings, st *store.Store, d *dispatcher.Dispatcher, orch *orchestrator.Orchestrator, rooms *JobRoomManager, uploadDir string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	if rooms == nil {
		rooms = NewJobRoomManager(log)
	}

	s := &Server{
		Echo:         echo.New(),
		settings:     settings,
		store:        st,
		dispatcher:   d,
		orchestrator: orch,
		rooms:        rooms,
		log:          log,
		uploadDir:    uploadDir,
	}

	s.Echo.HideBanner = true
	s.Echo.HidePort = true
	s.configureMiddleware()
	s.initRoutes()

	return s
}

func (s *Server) configureMiddleware() {
	s.Echo.Use(middleware.Recover())
	s.Echo.Use(middleware.RequestID())
	s.Echo.Use(middleware.Logger())
}

func (s *Server) initRoutes() {
	s.Echo.POST("/submit", s.handleSubmit)
	s.Echo.GET("/jobs", s.handleListJobs)
	s.Echo.GET("/jobs/:id", s.handleGetJob)
	s.Echo.GET("/stats", s.handleStats)

	s.Echo.GET("/workers", s.handleListWorkers)
	s.Echo.POST("/workers/add", s.handleAddWorker)
	s.Echo.POST("/workers/remove", s.handleRemoveWorker)

	s.Echo.POST("/preferences/purifier", s.handleSetPurifierPreference)
	s.Echo.GET("/preferences/purifier", s.handleGetPurifierPreference)

	s.Echo.GET("/ws", s.handleWebsocket)
	s.Echo.GET("/metrics", s.handleMetrics)
}

// Notifier returns the job-room broadcaster so it can be wired into the
// orchestrator as its orchestrator.Notifier.
func (s *Server) Notifier() *JobRoomManager {
	return s.rooms
}

// Start launches the echo server in the background, returning a channel
// that receives a single error if it ever stops (nil on graceful Shutdown).
func (s *Server) Start(addr string) <-chan error {
	errc := make(chan error, 1)
	go func() {
		if err := s.Echo.Start(addr); err != nil && err != http.ErrServerClosed {
			errc <- fmt.Errorf("http server stopped: %w", err)
			return
		}
		errc <- nil
	}()
	return errc
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.Echo.Shutdown(ctx)
}
