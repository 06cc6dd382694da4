// Package orchestrator runs the staged per-job pipeline: purification,
// splitting, bounded-parallel chunk dispatch, and aggregation, emitting a
// notification on every stage transition and chunk completion.
package orchestrator

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/avian-audio/transcribe-master/internal/aggregator"
	"github.com/avian-audio/transcribe-master/internal/dispatcher"
	apperrors "github.com/avian-audio/transcribe-master/internal/errors"
	"github.com/avian-audio/transcribe-master/internal/model"
	"github.com/avian-audio/transcribe-master/internal/splitter"
	"github.com/avian-audio/transcribe-master/internal/store"
)

// defaultUser is the preference namespace used for use_purifier when the
// caller doesn't attach a per-user identity (submission is unauthenticated).
const defaultUser = "default"

// These model the purifier's artificial pacing delays. They are package
// variables, not constants, so tests can shrink them.
var (
	purifyingDelay         = 5 * time.Second
	purifierCompletedDelay = 500 * time.Millisecond
	purifierBypassedDelay  = 500 * time.Millisecond
)

// Notifier delivers the current job record to every subscriber of its job
// room. Implemented by the websocket job-room broadcaster.
type Notifier interface {
	JobUpdated(job *model.Job)
}

type noopNotifier struct{}

func (noopNotifier) JobUpdated(*model.Job) {}

// Orchestrator runs one background pipeline per submitted job.
type Orchestrator struct {
	store        *store.Store
	dispatcher   *dispatcher.Dispatcher
	notifier     Notifier
	log          *slog.Logger
	chunkDir     string
	splitterOpts splitter.Options
	maxParallel  int // 0 means "one per online worker"
}

// Config parameterizes a new Orchestrator.
type Config struct {
	ChunkDir     string
	SplitterOpts splitter.Options
	MaxParallel  int
}

// New builds an Orchestrator. notifier may be nil, in which case
// notifications are simply dropped.
func New(st *store.Store, d *dispatcher.Dispatcher, notifier Notifier, log *slog.Logger, cfg Config) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &Orchestrator{
		store:        st,
		dispatcher:   d,
		notifier:     notifier,
		log:          log,
		chunkDir:     cfg.ChunkDir,
		splitterOpts: cfg.SplitterOpts,
		maxParallel:  cfg.MaxParallel,
	}
}

// Submit creates a job record and starts its pipeline in the background,
// returning the new job id immediately.
func (o *Orchestrator) Submit(srcPath, filename string) (string, error) {
	jobID := uuid.NewString()
	if err := o.store.CreateJob(jobID, filename); err != nil {
		return "", apperrors.New(err).Component("orchestrator").Category(apperrors.CategoryJob).JobContext(jobID).Build()
	}
	o.notify(jobID)

	go o.run(jobID, srcPath)

	return jobID, nil
}

func (o *Orchestrator) run(jobID, srcPath string) {
	defer o.cleanupSource(jobID, srcPath)

	if err := o.purify(jobID); err != nil {
		o.fail(jobID, err)
		return
	}

	chunkPaths, chunkDurationsMs, err := o.split(jobID, srcPath)
	if err != nil {
		o.fail(jobID, err)
		return
	}

	o.transition(jobID, model.JobProcessing)

	results := o.dispatchChunks(jobID, chunkPaths, chunkDurationsMs)

	o.transition(jobID, model.JobAggregating)

	agg := aggregator.Aggregate(results, chunkDurationsMs)
	if err := o.store.SetJobResult(jobID, &agg); err != nil {
		o.fail(jobID, err)
		return
	}
	o.notify(jobID)
}

func (o *Orchestrator) purify(jobID string) error {
	usePurifier, _ := o.store.GetPreference(defaultUser, "use_purifier", true).(bool)

	if usePurifier {
		o.transition(jobID, model.JobPurifying)
		time.Sleep(purifyingDelay)
		o.transition(jobID, model.JobPurifierCompleted)
		time.Sleep(purifierCompletedDelay)
		return nil
	}

	o.transition(jobID, model.JobPurifierBypassed)
	time.Sleep(purifierBypassedDelay)
	return nil
}

func (o *Orchestrator) split(jobID, srcPath string) ([]string, []int64, error) {
	o.transition(jobID, model.JobSplitting)

	paths, err := splitter.Split(srcPath, o.chunkDir, o.splitterOpts)
	if err != nil {
		return nil, nil, apperrors.New(err).Component("orchestrator").Category(apperrors.CategoryAudio).JobContext(jobID).Build()
	}

	durations := make([]int64, len(paths))
	for i, p := range paths {
		ms, err := splitter.DurationMs(p)
		if err != nil {
			return nil, nil, apperrors.New(err).Component("orchestrator").Category(apperrors.CategoryAudio).JobContext(jobID).Build()
		}
		durations[i] = int64(ms)
	}

	if err := o.store.SetTotalChunks(jobID, len(paths)); err != nil {
		o.log.Warn("failed to record total chunks", "job_id", jobID, "error", err)
	}

	return paths, durations, nil
}

// dispatchChunks fans the chunks out to the dispatcher with parallelism
// bounded by the last known count of online workers (or maxParallel if
// set), dispatching the longest chunks first so expensive work starts
// early, and reassembles the results in original chunk order regardless of
// completion order.
func (o *Orchestrator) dispatchChunks(jobID string, chunkPaths []string, chunkDurationsMs []int64) []*model.ChunkResult {
	results := make([]*model.ChunkResult, len(chunkPaths))

	order := make([]int, len(chunkPaths))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return chunkDurationsMs[order[a]] > chunkDurationsMs[order[b]]
	})

	limit := o.maxParallel
	if limit <= 0 {
		limit = o.dispatcher.KnownWorkerCount()
	}
	if limit <= 0 {
		limit = 1
	}

	var g errgroup.Group
	g.SetLimit(limit)

	for _, idx := range order {
		idx := idx
		g.Go(func() error {
			o.dispatchOne(jobID, idx, chunkPaths[idx], chunkDurationsMs[idx], results)
			return nil
		})
	}
	_ = g.Wait() // dispatchOne never returns an error; failures become nil results

	return results
}

func (o *Orchestrator) dispatchOne(jobID string, index int, chunkPath string, durationMs int64, results []*model.ChunkResult) {
	chunkID := fmt.Sprintf("%s_chunk_%d", jobID, index)
	defer o.deleteChunkFile(chunkPath)

	if err := o.store.AddChunk(jobID, chunkID, ""); err != nil {
		o.log.Warn("failed to record chunk start", "job_id", jobID, "chunk_id", chunkID, "error", err)
	}

	result, err := o.dispatcher.ProcessChunk(chunkPath, jobID, chunkID, float64(durationMs)/1000.0)
	if err != nil {
		o.log.Warn("chunk dispatch error", "job_id", jobID, "chunk_id", chunkID, "error", err)
	}
	results[index] = result
	o.notify(jobID)
}

func (o *Orchestrator) deleteChunkFile(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		o.log.Warn("failed to delete chunk file", "path", path, "error", err)
	}
}

func (o *Orchestrator) cleanupSource(jobID, srcPath string) {
	if err := os.Remove(srcPath); err != nil && !os.IsNotExist(err) {
		o.log.Warn("failed to delete source file", "job_id", jobID, "path", srcPath, "error", err)
	}
}

func (o *Orchestrator) transition(jobID string, status model.JobStatus) {
	if err := o.store.UpdateJobStatus(jobID, status); err != nil {
		o.log.Warn("failed to transition job status", "job_id", jobID, "status", status, "error", err)
	}
	o.notify(jobID)
}

func (o *Orchestrator) fail(jobID string, err error) {
	o.log.Error("job failed", "job_id", jobID, "error", err)
	if setErr := o.store.SetJobError(jobID, err.Error()); setErr != nil {
		o.log.Warn("failed to record job failure", "job_id", jobID, "error", setErr)
	}
	o.notify(jobID)
}

func (o *Orchestrator) notify(jobID string) {
	job, ok := o.store.GetJob(jobID)
	if !ok {
		return
	}
	o.notifier.JobUpdated(job)
}
