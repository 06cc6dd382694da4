// Package store implements the typed job/worker/preference state store on
// top of a pluggable Backend: a networked JetStream KV backend when
// configured, an in-process fallback otherwise.
package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/avian-audio/transcribe-master/internal/model"
)

// Store is the typed contract used by the dispatcher, orchestrator and
// HTTP API. All methods are safe for concurrent use.
type Store struct {
	backend   Backend
	log       *slog.Logger
	workerTTL time.Duration
	jobTTL    time.Duration
	prefTTL   time.Duration

	keyLocks sync.Map // key string -> *sync.Mutex, guards read-modify-write sequences
}

// Config selects and parameterizes a backend.
type Config struct {
	Backend          string // "memory" or "nats"
	NatsURL          string
	WorkerTTL        time.Duration
	JobTTL           time.Duration
	PreferenceTTL    time.Duration
}

// New builds a Store. On any failure to reach a configured networked
// backend it logs once and falls back to the in-process map.
func New(cfg Config, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	var backend Backend
	if cfg.Backend == "nats" {
		nb, err := newNatsBackend(cfg.NatsURL, cfg.WorkerTTL, cfg.JobTTL, cfg.PreferenceTTL)
		if err != nil {
			log.Warn("nats state store unavailable, falling back to in-process map", "error", err)
			backend = newMemoryBackend()
		} else {
			backend = nb
		}
	} else {
		backend = newMemoryBackend()
	}

	return &Store{
		backend:   backend,
		log:       log,
		workerTTL: cfg.WorkerTTL,
		jobTTL:    cfg.JobTTL,
		prefTTL:   cfg.PreferenceTTL,
	}
}

func (s *Store) lockFor(key string) *sync.Mutex {
	v, _ := s.keyLocks.LoadOrStore(key, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func (s *Store) suppress(op string, err error) {
	if err != nil {
		s.log.Warn("state store operation failed, proceeding with defaults", "op", op, "error", err)
	}
}

// --- Worker operations ---

func workerKey(url string) string { return "worker/" + url }

// GetWorker returns the worker record, or ok=false if absent or expired.
func (s *Store) GetWorker(url string) (*model.Worker, bool) {
	raw, ok, err := s.backend.Get(TTLWorker, workerKey(url))
	if err != nil {
		s.suppress("GetWorker", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var w model.Worker
	if err := json.Unmarshal(raw, &w); err != nil {
		s.suppress("GetWorker.unmarshal", err)
		return nil, false
	}
	return &w, true
}

func (s *Store) putWorker(w *model.Worker) error {
	w.UpdatedAt = time.Now()
	raw, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("marshal worker: %w", err)
	}
	return s.backend.Set(TTLWorker, workerKey(w.URL), raw, s.workerTTL)
}

// AddWorker creates (or refreshes) a worker record in the online state,
// preserving any prior performance history.
func (s *Store) AddWorker(url string) error {
	mu := s.lockFor(workerKey(url))
	mu.Lock()
	defer mu.Unlock()

	w, ok := s.GetWorker(url)
	if !ok {
		w = &model.Worker{URL: url}
	}
	w.Status = model.WorkerOnline
	return s.putWorker(w)
}

// RemoveWorker deletes the worker record entirely.
func (s *Store) RemoveWorker(url string) error {
	return s.backend.Delete(TTLWorker, workerKey(url))
}

// ListWorkers returns every known worker record.
func (s *Store) ListWorkers() []*model.Worker {
	keys, err := s.backend.Keys(TTLWorker, "*")
	if err != nil {
		s.suppress("ListWorkers.keys", err)
		return nil
	}
	workers := make([]*model.Worker, 0, len(keys))
	for _, k := range keys {
		raw, ok, err := s.backend.Get(TTLWorker, k)
		if err != nil || !ok {
			continue
		}
		var w model.Worker
		if err := json.Unmarshal(raw, &w); err != nil {
			continue
		}
		workers = append(workers, &w)
	}
	sort.Slice(workers, func(i, j int) bool { return workers[i].URL < workers[j].URL })
	return workers
}

// UpsertWorkerStatus sets status/metadata while preserving pending count
// and performance history, refreshing the TTL.
func (s *Store) UpsertWorkerStatus(url string, status model.WorkerStatus, isProcessing bool, jobID string) error {
	mu := s.lockFor(workerKey(url))
	mu.Lock()
	defer mu.Unlock()

	w, ok := s.GetWorker(url)
	if !ok {
		w = &model.Worker{URL: url}
	}
	w.Status = status
	w.IsProcessing = isProcessing
	w.CurrentJobID = jobID
	if status == model.WorkerOffline {
		w.IsProcessing = false
	}
	return s.putWorker(w)
}

// SetWorkerProcessing flips the advisory is_processing flag.
func (s *Store) SetWorkerProcessing(url string, processing bool) error {
	mu := s.lockFor(workerKey(url))
	mu.Lock()
	defer mu.Unlock()

	w, ok := s.GetWorker(url)
	if !ok {
		return nil
	}
	w.IsProcessing = processing
	return s.putWorker(w)
}

// IncrementWorkerPending increments the pending-chunk counter.
func (s *Store) IncrementWorkerPending(url string) error {
	mu := s.lockFor(workerKey(url))
	mu.Lock()
	defer mu.Unlock()

	w, ok := s.GetWorker(url)
	if !ok {
		w = &model.Worker{URL: url, Status: model.WorkerOnline}
	}
	w.PendingChunks++
	return s.putWorker(w)
}

// DecrementWorkerPending decrements the pending-chunk counter, floored at 0.
func (s *Store) DecrementWorkerPending(url string) error {
	mu := s.lockFor(workerKey(url))
	mu.Lock()
	defer mu.Unlock()

	w, ok := s.GetWorker(url)
	if !ok {
		return nil
	}
	w.PendingChunks--
	if w.PendingChunks < 0 {
		w.PendingChunks = 0
	}
	return s.putWorker(w)
}

// RecordWorkerPerformance appends a performance sample, truncated to the
// MaxPerformanceHistory most recent entries.
func (s *Store) RecordWorkerPerformance(url string, chunkDurationSec, processingTimeSec float64) error {
	mu := s.lockFor(workerKey(url))
	mu.Lock()
	defer mu.Unlock()

	w, ok := s.GetWorker(url)
	if !ok {
		w = &model.Worker{URL: url, Status: model.WorkerOnline}
	}

	speedRatio := 1.0
	if chunkDurationSec > 0 {
		speedRatio = processingTimeSec / chunkDurationSec
	}
	w.PerformanceHistory = append(w.PerformanceHistory, model.PerformanceSample{
		ChunkDurationSec:  chunkDurationSec,
		ProcessingTimeSec: processingTimeSec,
		SpeedRatio:        speedRatio,
		Timestamp:         time.Now(),
	})
	if n := len(w.PerformanceHistory); n > model.MaxPerformanceHistory {
		w.PerformanceHistory = w.PerformanceHistory[n-model.MaxPerformanceHistory:]
	}
	return s.putWorker(w)
}

// --- Job operations ---

func jobKey(jobID string) string { return "job/" + jobID }

// CreateJob creates a new job record in the "created" state.
func (s *Store) CreateJob(jobID, filename string) error {
	now := time.Now()
	job := &model.Job{
		JobID:     jobID,
		Filename:  filename,
		Status:    model.JobCreated,
		Chunks:    []model.Chunk{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	return s.putJob(job)
}

func (s *Store) putJob(job *model.Job) error {
	job.UpdatedAt = time.Now()
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	return s.backend.Set(TTLJob, jobKey(job.JobID), raw, s.jobTTL)
}

// GetJob returns the job record, or ok=false if absent or expired.
func (s *Store) GetJob(jobID string) (*model.Job, bool) {
	raw, ok, err := s.backend.Get(TTLJob, jobKey(jobID))
	if err != nil {
		s.suppress("GetJob", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var job model.Job
	if err := json.Unmarshal(raw, &job); err != nil {
		s.suppress("GetJob.unmarshal", err)
		return nil, false
	}
	return &job, true
}

// UpdateJobStatus sets the job's status field.
func (s *Store) UpdateJobStatus(jobID string, status model.JobStatus) error {
	mu := s.lockFor(jobKey(jobID))
	mu.Lock()
	defer mu.Unlock()

	job, ok := s.GetJob(jobID)
	if !ok {
		return fmt.Errorf("job %s not found", jobID)
	}
	job.Status = status
	return s.putJob(job)
}

// SetTotalChunks records the chunk count produced by the splitter.
func (s *Store) SetTotalChunks(jobID string, total int) error {
	mu := s.lockFor(jobKey(jobID))
	mu.Lock()
	defer mu.Unlock()

	job, ok := s.GetJob(jobID)
	if !ok {
		return fmt.Errorf("job %s not found", jobID)
	}
	job.TotalChunks = total
	return s.putJob(job)
}

// AddChunk appends a new in-flight chunk entry.
func (s *Store) AddChunk(jobID, chunkID, workerURL string) error {
	mu := s.lockFor(jobKey(jobID))
	mu.Lock()
	defer mu.Unlock()

	job, ok := s.GetJob(jobID)
	if !ok {
		return fmt.Errorf("job %s not found", jobID)
	}
	job.Chunks = append(job.Chunks, model.Chunk{
		ChunkID:   chunkID,
		WorkerURL: workerURL,
		Status:    model.ChunkProcessing,
		StartedAt: time.Now(),
	})
	return s.putJob(job)
}

// SetChunkWorker records which worker a chunk was handed to, once the
// dispatcher has made that choice.
func (s *Store) SetChunkWorker(jobID, chunkID, workerURL string) error {
	mu := s.lockFor(jobKey(jobID))
	mu.Lock()
	defer mu.Unlock()

	job, ok := s.GetJob(jobID)
	if !ok {
		return fmt.Errorf("job %s not found", jobID)
	}
	for i := range job.Chunks {
		if job.Chunks[i].ChunkID == chunkID {
			job.Chunks[i].WorkerURL = workerURL
			break
		}
	}
	return s.putJob(job)
}

// CompleteChunk marks a chunk completed and, when every chunk in the job
// has completed, auto-advances the job to "aggregating". The transition is
// idempotent: it never regresses a job already past "processing".
func (s *Store) CompleteChunk(jobID, chunkID, resultSummary string) error {
	mu := s.lockFor(jobKey(jobID))
	mu.Lock()
	defer mu.Unlock()

	job, ok := s.GetJob(jobID)
	if !ok {
		return fmt.Errorf("job %s not found", jobID)
	}

	now := time.Now()
	for i := range job.Chunks {
		if job.Chunks[i].ChunkID == chunkID {
			job.Chunks[i].Status = model.ChunkCompleted
			job.Chunks[i].CompletedAt = &now
			job.Chunks[i].ResultSummary = resultSummary
			break
		}
	}

	completed := 0
	for _, c := range job.Chunks {
		if c.Status == model.ChunkCompleted {
			completed++
		}
	}
	job.CompletedChunks = completed

	if job.TotalChunks > 0 && completed == job.TotalChunks && job.Status == model.JobProcessing {
		job.Status = model.JobAggregating
	}

	return s.putJob(job)
}

// SetJobResult persists the final aggregated transcript and marks the job
// completed.
func (s *Store) SetJobResult(jobID string, result *model.AggregateResult) error {
	mu := s.lockFor(jobKey(jobID))
	mu.Lock()
	defer mu.Unlock()

	job, ok := s.GetJob(jobID)
	if !ok {
		return fmt.Errorf("job %s not found", jobID)
	}
	job.Result = result
	job.Status = model.JobCompleted
	return s.putJob(job)
}

// SetJobError marks the job failed with the given message.
func (s *Store) SetJobError(jobID, message string) error {
	mu := s.lockFor(jobKey(jobID))
	mu.Lock()
	defer mu.Unlock()

	job, ok := s.GetJob(jobID)
	if !ok {
		return fmt.Errorf("job %s not found", jobID)
	}
	job.Status = model.JobFailed
	job.Error = message
	return s.putJob(job)
}

// ListRecentJobs returns up to limit jobs, sorted newest first.
func (s *Store) ListRecentJobs(limit int) []*model.Job {
	keys, err := s.backend.Keys(TTLJob, "*")
	if err != nil {
		s.suppress("ListRecentJobs.keys", err)
		return nil
	}
	jobs := make([]*model.Job, 0, len(keys))
	for _, k := range keys {
		raw, ok, err := s.backend.Get(TTLJob, k)
		if err != nil || !ok {
			continue
		}
		var job model.Job
		if err := json.Unmarshal(raw, &job); err != nil {
			continue
		}
		jobs = append(jobs, &job)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.After(jobs[j].CreatedAt) })
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs
}

// --- Preferences ---

func prefKey(user, key string) string { return "pref/" + user + "/" + key }

// SetPreference stores an arbitrary JSON-able value for a user/key pair.
func (s *Store) SetPreference(user, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal preference: %w", err)
	}
	return s.backend.Set(TTLPreference, prefKey(user, key), raw, s.prefTTL)
}

// GetPreference returns the stored value, or def if absent or expired.
func (s *Store) GetPreference(user, key string, def any) any {
	raw, ok, err := s.backend.Get(TTLPreference, prefKey(user, key))
	if err != nil {
		s.suppress("GetPreference", err)
		return def
	}
	if !ok {
		return def
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		s.suppress("GetPreference.unmarshal", err)
		return def
	}
	return v
}

// --- Stats ---

// Stats returns aggregate worker and job counts by status.
func (s *Store) Stats() model.Stats {
	stats := model.Stats{
		WorkersByStatus: make(map[model.WorkerStatus]int),
		JobsByStatus:    make(map[model.JobStatus]int),
	}
	for _, w := range s.ListWorkers() {
		stats.WorkersByStatus[w.Status]++
	}
	for _, j := range s.ListRecentJobs(0) {
		stats.JobsByStatus[j.Status]++
	}
	return stats
}
