package orchestrator

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/avian-audio/transcribe-master/internal/dispatcher"
	"github.com/avian-audio/transcribe-master/internal/model"
	"github.com/avian-audio/transcribe-master/internal/splitter"
	"github.com/avian-audio/transcribe-master/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingNotifier struct {
	updates []model.Job
}

func (r *recordingNotifier) JobUpdated(job *model.Job) {
	r.updates = append(r.updates, *job)
}

func writeSilentWav(t *testing.T, path string, seconds int) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	sampleRate := 16000
	enc := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           make([]int, sampleRate*seconds),
		SourceBitDepth: 16,
	}
	require.NoError(t, enc.Write(buf))
	require.NoError(t, enc.Close())
}

func TestSubmitRunsFullPipelineToCompletion(t *testing.T) {
	purifyingDelay = time.Millisecond
	purifierCompletedDelay = time.Millisecond
	purifierBypassedDelay = time.Millisecond

	st := store.New(store.Config{
		Backend:       "memory",
		WorkerTTL:     300 * time.Second,
		JobTTL:        3600 * time.Second,
		PreferenceTTL: 86400 * time.Second,
	}, nil)
	require.NoError(t, st.AddWorker("http://w1"))
	require.NoError(t, st.SetPreference(defaultUser, "use_purifier", false))

	d := dispatcher.New(st, nil, 5*time.Second, 2*time.Second)
	httpmock.Activate()
	t.Cleanup(httpmock.DeactivateAndReset)
	httpmock.RegisterResponder("POST", `=~^http://w1/transcribe`,
		httpmock.NewJsonResponderOrPanic(200, model.ChunkResult{Text: "hello world", TimeMs: 100}))

	dir := t.TempDir()
	src := filepath.Join(dir, "source.wav")
	writeSilentWav(t, src, 3)

	chunkDir := filepath.Join(dir, "chunks")
	notifier := &recordingNotifier{}
	o := New(st, d, notifier, nil, Config{
		ChunkDir:     chunkDir,
		SplitterOpts: splitter.Options{MinLengthMs: 1, SilenceThreshDB: -20, SilenceLenMs: 200},
	})

	jobID, err := o.Submit(src, "source.wav")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		job, ok := st.GetJob(jobID)
		return ok && (job.Status == model.JobCompleted || job.Status == model.JobFailed)
	}, 5*time.Second, 10*time.Millisecond)

	job, ok := st.GetJob(jobID)
	require.True(t, ok)
	assert.Equal(t, model.JobCompleted, job.Status)
	assert.Equal(t, job.TotalChunks, job.CompletedChunks)
	require.NotNil(t, job.Result)

	_, statErr := os.Stat(src)
	assert.True(t, os.IsNotExist(statErr))

	assert.NotEmpty(t, notifier.updates)
}
