// Package model defines the record types shared by the state store,
// dispatcher, orchestrator and aggregator.
package model

import "time"

// WorkerStatus is the lifecycle status of a transcription worker.
type WorkerStatus string

const (
	WorkerOnline  WorkerStatus = "online"
	WorkerOffline WorkerStatus = "offline"
	WorkerBusy    WorkerStatus = "busy"
)

// PerformanceSample is one recorded chunk-processing observation for a
// worker. SpeedRatio is ProcessingTimeSec / ChunkDurationSec; below 1.0
// means faster than real time.
type PerformanceSample struct {
	ChunkDurationSec float64   `json:"chunk_duration_sec"`
	ProcessingTimeSec float64  `json:"processing_time_sec"`
	SpeedRatio       float64   `json:"speed_ratio"`
	Timestamp        time.Time `json:"timestamp"`
}

// MaxPerformanceHistory is the cap on PerformanceSample entries retained
// per worker.
const MaxPerformanceHistory = 20

// PerformanceWindow is how many of the most recent samples feed
// AvgSpeedRatio.
const PerformanceWindow = 10

// Worker is the per-URL record tracked by the state store.
type Worker struct {
	URL             string               `json:"url"`
	Status          WorkerStatus         `json:"status"`
	IsProcessing    bool                 `json:"is_processing"`
	PendingChunks   int                  `json:"pending_chunks"`
	PerformanceHistory []PerformanceSample `json:"performance_history"`
	CurrentJobID    string               `json:"current_job_id,omitempty"`
	UpdatedAt       time.Time            `json:"updated_at"`
}

// AvgSpeedRatio is the mean SpeedRatio over the most recent
// PerformanceWindow samples, or 1.0 if the worker has no history.
func (w *Worker) AvgSpeedRatio() float64 {
	n := len(w.PerformanceHistory)
	if n == 0 {
		return 1.0
	}
	start := 0
	if n > PerformanceWindow {
		start = n - PerformanceWindow
	}
	window := w.PerformanceHistory[start:]
	var sum float64
	for _, s := range window {
		sum += s.SpeedRatio
	}
	return sum / float64(len(window))
}

// Benchmarked reports whether the worker has any recorded performance
// sample.
func (w *Worker) Benchmarked() bool {
	return len(w.PerformanceHistory) > 0
}

// JobStatus is the lifecycle status of a submitted transcription job.
type JobStatus string

const (
	JobCreated            JobStatus = "created"
	JobPurifying          JobStatus = "purifying"
	JobPurifierCompleted  JobStatus = "purifier_completed"
	JobPurifierBypassed   JobStatus = "purifier_bypassed"
	JobSplitting          JobStatus = "splitting"
	JobProcessing         JobStatus = "processing"
	JobAggregating        JobStatus = "aggregating"
	JobCompleted          JobStatus = "completed"
	JobFailed             JobStatus = "failed"
)

// ChunkStatus is the lifecycle status of a single chunk within a job.
type ChunkStatus string

const (
	ChunkProcessing ChunkStatus = "processing"
	ChunkCompleted  ChunkStatus = "completed"
)

// Chunk is one entry in a job's ordered chunk list.
type Chunk struct {
	ChunkID       string      `json:"chunk_id"`
	WorkerURL     string      `json:"worker_url"`
	Status        ChunkStatus `json:"status"`
	StartedAt     time.Time   `json:"started_at"`
	CompletedAt   *time.Time  `json:"completed_at,omitempty"`
	ResultSummary string      `json:"result_summary,omitempty"`
}

// Segment is one corrected, timestamped span of the aggregated transcript.
type Segment struct {
	StartMs        int64  `json:"start_ms"`
	EndMs          int64  `json:"end_ms"`
	Text           string `json:"text"`
	StartFormatted string `json:"start_formatted"`
	EndFormatted   string `json:"end_formatted"`
}

// AggregateResult is the final transcript produced by the aggregator.
type AggregateResult struct {
	Text                 string    `json:"text"`
	TotalProcessingTimeMs int64    `json:"total_processing_time_ms"`
	SegmentsCount        int       `json:"segments_count"`
	Segments             []Segment `json:"segments"`
}

// Job is the per-submission record tracked by the state store.
type Job struct {
	JobID          string          `json:"job_id"`
	Filename       string          `json:"filename"`
	Status         JobStatus       `json:"status"`
	TotalChunks    int             `json:"total_chunks"`
	CompletedChunks int            `json:"completed_chunks"`
	Chunks         []Chunk         `json:"chunks"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	Result         *AggregateResult `json:"result,omitempty"`
	Error          string          `json:"error,omitempty"`
}

// ChunkResult is what a worker's /transcribe call returns for one chunk.
type ChunkResult struct {
	Text     string         `json:"text"`
	TimeMs   int64          `json:"time_ms"`
	Segments []WorkerSegment `json:"segments"`
}

// WorkerSegment is a raw, uncorrected segment as reported by a worker.
type WorkerSegment struct {
	StartMs int64  `json:"start_ms"`
	EndMs   int64  `json:"end_ms"`
	Text    string `json:"text"`
}

// Stats is the aggregate counts returned by GET /stats.
type Stats struct {
	WorkersByStatus map[WorkerStatus]int `json:"workers_by_status"`
	JobsByStatus    map[JobStatus]int    `json:"jobs_by_status"`
}
