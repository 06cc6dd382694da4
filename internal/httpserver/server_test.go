package httpserver

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avian-audio/transcribe-master/internal/dispatcher"
	"github.com/avian-audio/transcribe-master/internal/orchestrator"
	"github.com/avian-audio/transcribe-master/internal/splitter"
	"github.com/avian-audio/transcribe-master/internal/store"
)

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	dir := t.TempDir()

	st := store.New(store.Config{
		Backend:       "memory",
		WorkerTTL:     300 * time.Second,
		JobTTL:        3600 * time.Second,
		PreferenceTTL: 86400 * time.Second,
	}, nil)
	d := dispatcher.New(st, nil, 5*time.Second, 2*time.Second)
	orch := orchestrator.New(st, d, nil, nil, orchestrator.Config{
		ChunkDir:     filepath.Join(dir, "chunks"),
		SplitterOpts: splitter.Options{},
	})
	s := New(nil, st, d, orch, filepath.Join(dir, "uploads"), nil)
	return s, st
}

func TestSubmitRejectsMissingFile(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/submit", nil)
	req.Header.Set("Content-Type", "multipart/form-data; boundary=x")
	rec := httptest.NewRecorder()
	s.Echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "No file", body["error"])
}

func multipartFileRequest(t *testing.T, filename string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/submit", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestSubmitAcceptsValidUpload(t *testing.T) {
	t.Parallel()
	s, st := newTestServer(t)

	req := multipartFileRequest(t, "audio.wav", []byte("RIFF...."))
	rec := httptest.NewRecorder()
	s.Echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "accepted", body["status"])
	require.NotEmpty(t, body["job_id"])

	_, ok := st.GetJob(body["job_id"])
	assert.True(t, ok)
}

func TestListJobsEmpty(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/jobs", nil)
	rec := httptest.NewRecorder()
	s.Echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(0), body["count"])
}

func TestGetJobNotFound(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/jobs/does-not-exist", nil)
	rec := httptest.NewRecorder()
	s.Echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAddAndRemoveWorker(t *testing.T) {
	t.Parallel()
	s, st := newTestServer(t)

	body, _ := json.Marshal(map[string]string{"url": "w1.local:8080"})
	req := httptest.NewRequest(http.MethodPost, "/workers/add", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Echo.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	_, ok := st.GetWorker("http://w1.local:8080")
	assert.True(t, ok)

	// duplicate add is rejected
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/workers/add", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	s.Echo.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	removeBody, _ := json.Marshal(map[string]string{"url": "http://w1.local:8080"})
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/workers/remove", bytes.NewReader(removeBody))
	req.Header.Set("Content-Type", "application/json")
	s.Echo.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	_, ok = st.GetWorker("http://w1.local:8080")
	assert.False(t, ok)
}

func TestRemoveUnknownWorkerRejected(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t)

	body, _ := json.Marshal(map[string]string{"url": "http://nope"})
	req := httptest.NewRequest(http.MethodPost, "/workers/remove", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPurifierPreferenceDefaultsTrue(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/preferences/purifier", nil)
	rec := httptest.NewRecorder()
	s.Echo.ServeHTTP(rec, req)

	var body map[string]bool
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body["usePurifier"])
}

func TestSetPurifierPreference(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t)

	payload, _ := json.Marshal(map[string]bool{"usePurifier": false})
	req := httptest.NewRequest(http.MethodPost, "/preferences/purifier", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Echo.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/preferences/purifier", nil)
	rec = httptest.NewRecorder()
	s.Echo.ServeHTTP(rec, req)
	var body map[string]bool
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body["usePurifier"])
}

func TestStatsEndpoint(t *testing.T) {
	t.Parallel()
	s, st := newTestServer(t)
	require.NoError(t, st.AddWorker("http://w1"))

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	s.Echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
