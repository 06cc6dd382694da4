// Package dispatcher implements worker selection and chunk execution: a
// performance-adaptive scheduler guarded by a single scheduling mutex, and
// the HTTP call that hands a chunk to a worker.
package dispatcher

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	apperrors "github.com/avian-audio/transcribe-master/internal/errors"
	"github.com/avian-audio/transcribe-master/internal/model"
	"github.com/avian-audio/transcribe-master/internal/store"
)

// probeShortChunkThreshSec is the chunk-duration cutoff below which an
// unbenchmarked worker is preferred over a scored benchmarked one, per the
// "measure new workers on cheap chunks" rule.
const probeShortChunkThreshSec = 40.0

// Dispatcher selects workers and executes chunk dispatch over HTTP.
type Dispatcher struct {
	store            *store.Store
	log              *slog.Logger
	healthClient     *http.Client
	transcribeClient *http.Client
	schedulingMu     sync.Mutex // serializes select-worker + reserve
}

// New builds a Dispatcher. requestTimeout bounds the worker /transcribe
// call; it is effectively unbounded in production, so callers typically
// pass a very long duration (hours) or 0 for no timeout.
func New(st *store.Store, log *slog.Logger, requestTimeout, healthTimeout time.Duration) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		store:            st,
		log:              log,
		healthClient:     &http.Client{Timeout: healthTimeout},
		transcribeClient: &http.Client{Timeout: requestTimeout},
	}
}

// ListOnlineWorkers probes every known worker with a short GET and updates
// its online/offline status in the store. HTTP 200 or 404 both count as
// alive (the worker root route may not be implemented) — preserved as-is
// even though it's a questionable rule.
func (d *Dispatcher) ListOnlineWorkers() []*model.Worker {
	workers := d.store.ListWorkers()
	online := make([]*model.Worker, 0, len(workers))
	for _, w := range workers {
		if d.probe(w.URL) {
			if err := d.store.UpsertWorkerStatus(w.URL, model.WorkerOnline, w.IsProcessing, w.CurrentJobID); err != nil {
				d.log.Warn("failed to record worker online", "worker", w.URL, "error", err)
			}
			refreshed, ok := d.store.GetWorker(w.URL)
			if ok {
				online = append(online, refreshed)
			}
		} else {
			if err := d.store.UpsertWorkerStatus(w.URL, model.WorkerOffline, false, ""); err != nil {
				d.log.Warn("failed to record worker offline", "worker", w.URL, "error", err)
			}
		}
	}
	return online
}

func (d *Dispatcher) probe(url string) bool {
	resp, err := d.healthClient.Get(url + "/")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNotFound
}

// ProcessChunk assigns chunkPath to the best available worker and executes
// the transcribe call, returning nil if no worker was available or the
// call failed.
func (d *Dispatcher) ProcessChunk(chunkPath, jobID, chunkID string, chunkDurationSec float64) (*model.ChunkResult, error) {
	worker, err := d.selectAndReserve(jobID, chunkDurationSec)
	if err != nil {
		return nil, err
	}
	if worker == "" {
		return nil, nil
	}
	if err := d.store.SetChunkWorker(jobID, chunkID, worker); err != nil {
		d.log.Warn("failed to record chunk worker", "job_id", jobID, "chunk_id", chunkID, "error", err)
	}

	data, err := os.ReadFile(chunkPath)
	if err != nil {
		d.log.Warn("failed to read chunk file, marking worker offline", "worker", worker, "chunk_id", chunkID, "error", err)
		if uerr := d.store.UpsertWorkerStatus(worker, model.WorkerOffline, false, ""); uerr != nil {
			d.log.Warn("failed to mark worker offline", "worker", worker, "error", uerr)
		}
		d.decrementPending(worker)
		return nil, apperrors.New(err).Component("dispatcher").Category(apperrors.CategoryFileIO).ChunkContext(chunkID, worker).Build()
	}

	start := time.Now()
	result, callErr := d.postChunk(worker, data)
	elapsed := time.Since(start).Seconds()

	if callErr != nil {
		d.log.Warn("worker unreachable, marking offline", "worker", worker, "chunk_id", chunkID, "error", callErr)
		if err := d.store.UpsertWorkerStatus(worker, model.WorkerOffline, false, ""); err != nil {
			d.log.Warn("failed to mark worker offline", "worker", worker, "error", err)
		}
		d.decrementPending(worker)
		return nil, nil
	}
	if result == nil {
		d.log.Warn("worker returned non-2xx", "worker", worker, "chunk_id", chunkID)
		d.release(worker)
		return nil, nil
	}

	if err := d.store.RecordWorkerPerformance(worker, chunkDurationSec, elapsed); err != nil {
		d.log.Warn("failed to record worker performance", "worker", worker, "error", err)
	}
	if err := d.store.CompleteChunk(jobID, chunkID, summarize(result)); err != nil {
		d.log.Warn("failed to complete chunk record", "job_id", jobID, "chunk_id", chunkID, "error", err)
	}
	d.release(worker)

	return result, nil
}

func summarize(r *model.ChunkResult) string {
	const maxLen = 120
	text := r.Text
	if len(text) > maxLen {
		text = text[:maxLen] + "…"
	}
	return text
}

// release undoes a reservation after a successful or rejected call:
// decrements pending and clears is_processing, leaving the worker online
// and idle. Failure paths that need to mark the worker offline instead call
// UpsertWorkerStatus directly, which also clears is_processing.
func (d *Dispatcher) release(worker string) {
	d.decrementPending(worker)
	if err := d.store.UpsertWorkerStatus(worker, model.WorkerOnline, false, ""); err != nil {
		d.log.Warn("failed to release worker", "worker", worker, "error", err)
	}
}

func (d *Dispatcher) decrementPending(worker string) {
	if err := d.store.DecrementWorkerPending(worker); err != nil {
		d.log.Warn("failed to decrement pending", "worker", worker, "error", err)
	}
}

// postChunk sends the raw WAV bytes to the worker's /transcribe endpoint.
// A nil, nil return means a non-2xx response; a non-nil error means the
// request itself failed (network/timeout).
func (d *Dispatcher) postChunk(worker string, data []byte) (*model.ChunkResult, error) {
	url := worker + "/transcribe?include_formatted_log=false"
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("building transcribe request: %w", err)
	}
	req.Header.Set("Content-Type", "audio/wav")

	resp, err := d.transcribeClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling worker: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		d.log.Warn("worker returned non-200", "worker", worker, "status", resp.StatusCode, "body", string(body))
		return nil, nil
	}

	var result model.ChunkResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding worker response: %w", err)
	}
	return &result, nil
}

// selectAndReserve performs the scheduling decision and reservation under
// the scheduling mutex, returning the chosen worker URL (or "" if none is
// available).
func (d *Dispatcher) selectAndReserve(jobID string, chunkDurationSec float64) (string, error) {
	d.schedulingMu.Lock()
	defer d.schedulingMu.Unlock()

	workers := d.store.ListWorkers()
	candidates := make([]*model.Worker, 0, len(workers))
	for _, w := range workers {
		if w.Status == model.WorkerOnline && !w.IsProcessing {
			candidates = append(candidates, w)
		}
	}
	if len(candidates) == 0 {
		return "", nil
	}

	chosen := selectBestWorker(candidates, chunkDurationSec)
	if chosen == "" {
		return "", nil
	}

	if err := d.store.SetWorkerProcessing(chosen, true); err != nil {
		return "", apperrors.New(err).Component("dispatcher").Category(apperrors.CategoryWorker).Build()
	}
	if err := d.store.IncrementWorkerPending(chosen); err != nil {
		return "", apperrors.New(err).Component("dispatcher").Category(apperrors.CategoryWorker).Build()
	}
	if err := d.store.UpsertWorkerStatus(chosen, model.WorkerBusy, true, jobID); err != nil {
		return "", apperrors.New(err).Component("dispatcher").Category(apperrors.CategoryWorker).Build()
	}
	return chosen, nil
}

// KnownWorkerCount returns the number of workers last recorded as online,
// read straight from the store with no live health probe. Used to size the
// orchestrator's parallelism limit, where a side-effecting probe sweep
// would be wasteful and could strand a momentarily-unreachable worker.
func (d *Dispatcher) KnownWorkerCount() int {
	count := 0
	for _, w := range d.store.ListWorkers() {
		if w.Status == model.WorkerOnline {
			count++
		}
	}
	return count
}

// selectBestWorker scores each candidate by pending load plus a
// duration-dependent penalty, preferring unbenchmarked workers on short
// chunks so their speed ratio gets measured cheaply.
func selectBestWorker(candidates []*model.Worker, chunkDurationSec float64) string {
	var unbenchmarked, benchmarked []*model.Worker
	for _, w := range candidates {
		if w.Benchmarked() {
			benchmarked = append(benchmarked, w)
		} else {
			unbenchmarked = append(unbenchmarked, w)
		}
	}

	if len(unbenchmarked) > 0 && chunkDurationSec < probeShortChunkThreshSec {
		return firstByURL(unbenchmarked)
	}

	if len(benchmarked) > 0 {
		type scored struct {
			url   string
			score float64
		}
		scoredList := make([]scored, 0, len(benchmarked))
		for _, w := range benchmarked {
			speed := w.AvgSpeedRatio()
			var penalty float64
			switch {
			case chunkDurationSec > 60:
				penalty = speed * 50
			case chunkDurationSec < 40:
				penalty = (2.0 - speed) * 50
			default:
				penalty = absFloat(speed-1.0) * 30
			}
			score := float64(w.PendingChunks)*1000 + penalty
			scoredList = append(scoredList, scored{w.URL, score})
		}
		sort.SliceStable(scoredList, func(i, j int) bool { return scoredList[i].score < scoredList[j].score })
		return scoredList[0].url
	}

	if len(unbenchmarked) > 0 {
		return firstByURL(unbenchmarked)
	}

	return leastLoaded(candidates)
}

func firstByURL(workers []*model.Worker) string {
	sorted := append([]*model.Worker(nil), workers...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].URL < sorted[j].URL })
	return sorted[0].URL
}

func leastLoaded(candidates []*model.Worker) string {
	if len(candidates) == 0 {
		return ""
	}
	sorted := append([]*model.Worker(nil), candidates...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].PendingChunks != sorted[j].PendingChunks {
			return sorted[i].PendingChunks < sorted[j].PendingChunks
		}
		return sorted[i].URL < sorted[j].URL
	})
	return sorted[0].URL
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
