package httpserver

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/avian-audio/transcribe-master/internal/model"
)

var (
	onlineWorkersGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "transcribe_master_workers_by_status",
		Help: "Number of known workers by status.",
	}, []string{"status"})

	pendingChunksGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "transcribe_master_worker_pending_chunks",
		Help: "In-flight chunks assigned to each worker.",
	}, []string{"worker_url"})

	jobsByStatusGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "transcribe_master_jobs_by_status",
		Help: "Number of recent jobs by status.",
	}, []string{"status"})
)

func init() {
	prometheus.MustRegister(onlineWorkersGauge, pendingChunksGauge, jobsByStatusGauge)
}

// handleMetrics refreshes the gauges from current store state and then
// serves the standard Prometheus text exposition, alongside /stats's JSON
// view of the same counts.
func (s *Server) handleMetrics(c echo.Context) error {
	s.refreshMetrics()
	promhttp.Handler().ServeHTTP(c.Response(), c.Request())
	return nil
}

func (s *Server) refreshMetrics() {
	onlineWorkersGauge.Reset()
	pendingChunksGauge.Reset()
	jobsByStatusGauge.Reset()

	for _, w := range s.store.ListWorkers() {
		onlineWorkersGauge.WithLabelValues(string(w.Status)).Inc()
		pendingChunksGauge.WithLabelValues(w.URL).Set(float64(w.PendingChunks))
	}

	stats := s.store.Stats()
	for status, count := range stats.JobsByStatus {
		jobsByStatusGauge.WithLabelValues(string(status)).Set(float64(count))
	}
	// Ensure every known status has a series even at zero, useful for alerting.
	for _, status := range []model.JobStatus{
		model.JobCreated, model.JobPurifying, model.JobPurifierCompleted, model.JobPurifierBypassed,
		model.JobSplitting, model.JobProcessing, model.JobAggregating, model.JobCompleted, model.JobFailed,
	} {
		if _, ok := stats.JobsByStatus[status]; !ok {
			jobsByStatusGauge.WithLabelValues(string(status)).Set(0)
		}
	}
}
