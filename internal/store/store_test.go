package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avian-audio/transcribe-master/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(Config{
		Backend:       "memory",
		WorkerTTL:     300 * time.Second,
		JobTTL:        3600 * time.Second,
		PreferenceTTL: 86400 * time.Second,
	}, nil)
}

func TestWorkerPendingNeverNegative(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	require.NoError(t, s.AddWorker("http://w1"))
	require.NoError(t, s.DecrementWorkerPending("http://w1"))

	w, ok := s.GetWorker("http://w1")
	require.True(t, ok)
	assert.Equal(t, 0, w.PendingChunks)

	require.NoError(t, s.IncrementWorkerPending("http://w1"))
	require.NoError(t, s.IncrementWorkerPending("http://w1"))
	require.NoError(t, s.DecrementWorkerPending("http://w1"))

	w, ok = s.GetWorker("http://w1")
	require.True(t, ok)
	assert.Equal(t, 1, w.PendingChunks)
}

func TestPerformanceHistoryCappedAt20(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	require.NoError(t, s.AddWorker("http://w1"))

	for i := 0; i < 25; i++ {
		require.NoError(t, s.RecordWorkerPerformance("http://w1", 10, 5))
	}

	w, ok := s.GetWorker("http://w1")
	require.True(t, ok)
	assert.Len(t, w.PerformanceHistory, model.MaxPerformanceHistory)
	assert.InDelta(t, 0.5, w.AvgSpeedRatio(), 0.0001)
}

func TestAvgSpeedRatioUsesLast10Of20(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	require.NoError(t, s.AddWorker("http://w1"))

	// First 10 samples at speed 2.0, then 10 at speed 1.0: avg of the last
	// 10 (window) should be close to 1.0, not 1.5 (which would mix both).
	for i := 0; i < 10; i++ {
		require.NoError(t, s.RecordWorkerPerformance("http://w1", 10, 20))
	}
	for i := 0; i < 10; i++ {
		require.NoError(t, s.RecordWorkerPerformance("http://w1", 10, 10))
	}

	w, ok := s.GetWorker("http://w1")
	require.True(t, ok)
	assert.InDelta(t, 1.0, w.AvgSpeedRatio(), 0.0001)
}

func TestCompleteChunkAutoAdvancesToAggregating(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	require.NoError(t, s.CreateJob("job1", "audio.wav"))
	require.NoError(t, s.SetTotalChunks("job1", 2))
	require.NoError(t, s.UpdateJobStatus("job1", model.JobProcessing))
	require.NoError(t, s.AddChunk("job1", "job1_chunk_0", "http://w1"))
	require.NoError(t, s.AddChunk("job1", "job1_chunk_1", "http://w1"))

	require.NoError(t, s.CompleteChunk("job1", "job1_chunk_0", "partial"))
	job, ok := s.GetJob("job1")
	require.True(t, ok)
	assert.Equal(t, model.JobProcessing, job.Status)
	assert.Equal(t, 1, job.CompletedChunks)

	require.NoError(t, s.CompleteChunk("job1", "job1_chunk_1", "partial"))
	job, ok = s.GetJob("job1")
	require.True(t, ok)
	assert.Equal(t, model.JobAggregating, job.Status)
	assert.Equal(t, 2, job.CompletedChunks)
}

func TestSetChunkWorkerBackfillsWorkerURL(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	require.NoError(t, s.CreateJob("job1", "audio.wav"))
	require.NoError(t, s.AddChunk("job1", "job1_chunk_0", ""))

	require.NoError(t, s.SetChunkWorker("job1", "job1_chunk_0", "http://w1"))

	job, ok := s.GetJob("job1")
	require.True(t, ok)
	require.Len(t, job.Chunks, 1)
	assert.Equal(t, "http://w1", job.Chunks[0].WorkerURL)
}

func TestListRecentJobsSortedNewestFirst(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	require.NoError(t, s.CreateJob("job1", "a.wav"))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, s.CreateJob("job2", "b.wav"))

	jobs := s.ListRecentJobs(50)
	require.Len(t, jobs, 2)
	assert.Equal(t, "job2", jobs[0].JobID)
	assert.Equal(t, "job1", jobs[1].JobID)
}

func TestPreferenceDefault(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	v := s.GetPreference("alice", "use_purifier", true)
	assert.Equal(t, true, v)

	require.NoError(t, s.SetPreference("alice", "use_purifier", false))
	v = s.GetPreference("alice", "use_purifier", true)
	assert.Equal(t, false, v)
}

func TestStats(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	require.NoError(t, s.AddWorker("http://w1"))
	require.NoError(t, s.UpsertWorkerStatus("http://w2", model.WorkerOffline, false, ""))
	require.NoError(t, s.CreateJob("job1", "a.wav"))

	stats := s.Stats()
	assert.Equal(t, 1, stats.WorkersByStatus[model.WorkerOnline])
	assert.Equal(t, 1, stats.WorkersByStatus[model.WorkerOffline])
	assert.Equal(t, 1, stats.JobsByStatus[model.JobCreated])
}
