package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xploytlabs/xployt/internal/events"
	"github.com/xploytlabs/xployt/internal/pipeline"
	"github.com/xploytlabs/xployt/internal/stage"
)

type fakeStage struct {
	name       string
	checkpoint int
	fn         func(run *stage.Run) error
}

func (s *fakeStage) Name() string    { return s.name }
func (s *fakeStage) Checkpoint() int { return s.checkpoint }
func (s *fakeStage) Execute(ctx context.Context, run *stage.Run) error {
	if s.fn != nil {
		return s.fn(run)
	}
	return nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	registry, err := stage.NewRegistry(
		&fakeStage{name: "walk", checkpoint: 50, fn: func(run *stage.Run) error {
			run.Logf("walk finished")
			return nil
		}},
		&fakeStage{name: "report", checkpoint: 100, fn: func(run *stage.Run) error {
			return os.WriteFile(run.FindingsPath(), []byte("[]"), 0644)
		}},
	)
	require.NoError(t, err)

	orch, err := pipeline.New(pipeline.Config{
		Registry:   registry,
		OutputRoot: t.TempDir(),
		Heartbeat:  10 * time.Millisecond,
	})
	require.NoError(t, err)
	return NewServer(orch, nil)
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStartScanValidation(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{name: "invalid json", body: "{not json"},
		{name: "missing id", body: `{"path": "/tmp"}`},
		{name: "missing path", body: `{"id": "repo"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/v1/scans", strings.NewReader(tt.body))
			srv.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestStartScanStreamsToTerminal(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	body := `{"id": "myrepo", "path": "` + t.TempDir() + `"}`
	resp, err := http.Post(ts.URL+"/v1/scans", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.NotEmpty(t, resp.Header.Get("X-Run-ID"))

	var envelopes []events.Envelope
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var env events.Envelope
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &env))
		envelopes = append(envelopes, env)
	}
	require.NoError(t, scanner.Err())

	require.NotEmpty(t, envelopes)
	assert.Equal(t, events.StatusSettingUp, envelopes[0].Status)
	last := envelopes[len(envelopes)-1]
	assert.Equal(t, events.StatusCompleted, last.Status)
	assert.Equal(t, 100, last.Progress)
}

func TestRunStageEndpoint(t *testing.T) {
	srv := newTestServer(t)
	rec := httptest.NewRecorder()

	body := `{"id": "repo", "path": "` + t.TempDir() + `", "index": 0}`
	req := httptest.NewRequest(http.MethodPost, "/v1/scans/stage", strings.NewReader(body))
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp["output"], "walk finished")
}

func TestRunStageEndpointBadIndex(t *testing.T) {
	srv := newTestServer(t)
	rec := httptest.NewRecorder()

	body := `{"id": "repo", "path": "` + t.TempDir() + `", "index": 9}`
	req := httptest.NewRequest(http.MethodPost, "/v1/scans/stage", strings.NewReader(body))
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["error"])
}

func TestHistoryEndpointsWithoutStore(t *testing.T) {
	srv := newTestServer(t)

	for _, path := range []string{"/v1/runs", "/v1/runs/some-id/findings"} {
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code, "path %s", path)
	}
}
