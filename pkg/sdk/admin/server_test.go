package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/pprof/profile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/coral-trace/internal/agent"
	"github.com/coral-mesh/coral-trace/internal/calltree"
	"github.com/coral-mesh/coral-trace/internal/config"
	"github.com/coral-mesh/coral-trace/internal/nanoclock"
	"github.com/coral-mesh/coral-trace/internal/selfmetrics"
	"github.com/coral-mesh/coral-trace/internal/sink"
	"github.com/coral-mesh/coral-trace/internal/testutil"
	"github.com/coral-mesh/coral-trace/pkg/probe"
)

func newAgent(t *testing.T) *agent.Agent {
	t.Helper()
	a, err := agent.New(agent.Options{
		Config:  config.NewStaticProvider(config.DefaultConfig()),
		Sink:    &testutil.RecordingSink{},
		Logger:  testutil.NewTestLogger(t),
		Metrics: selfmetrics.New(),
		Clock:   nanoclock.NewManual(1_000_000_000),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := testutil.NewTestContext()
		defer cancel()
		_ = a.Shutdown(ctx)
	})
	return a
}

func serve(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestNewServer_RequiresAgent(t *testing.T) {
	_, err := NewServer(testutil.NewTestLogger(t), Options{})
	require.Error(t, err)
}

func TestServer_ListAndGet(t *testing.T) {
	a := newAgent(t)
	_, span := a.PushTraceEvent(context.Background(), probe.HTTPRequest{Method: "GET", Path: "/orders", User: "alice"})
	require.NotNil(t, span)
	defer span.End()

	s, err := NewServer(testutil.NewTestLogger(t), Options{Agent: a})
	require.NoError(t, err)

	rec := serve(t, s.Handler(), "/operations")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var list []OperationSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "GET /orders", list[0].Description)
	assert.Equal(t, "alice", list[0].Username)
	assert.Equal(t, 1, list[0].Events)

	rec = serve(t, s.Handler(), fmt.Sprintf("/operations/%d", list[0].Handle))
	require.Equal(t, http.StatusOK, rec.Code)
	var record sink.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &record))
	assert.Equal(t, sink.KindLive, record.Kind)
	assert.Equal(t, "GET /orders", record.Description)
	assert.False(t, record.Completed)
	assert.Zero(t, span.Operation().FlushCount(), "live view must not flush")
}

func TestServer_NotFound(t *testing.T) {
	s, err := NewServer(testutil.NewTestLogger(t), Options{Agent: newAgent(t)})
	require.NoError(t, err)

	tests := []struct {
		name string
		path string
	}{
		{name: "unknown handle", path: "/operations/42"},
		{name: "unknown id", path: "/operations/8c1f6c2e-0000-4000-8000-000000000000"},
		{name: "unknown profile", path: "/operations/42/profile"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(t, s.Handler(), tt.path)
			assert.Equal(t, http.StatusNotFound, rec.Code)
		})
	}
}

func TestServer_Profile(t *testing.T) {
	a := newAgent(t)
	_, span := a.PushTraceEvent(context.Background(), probe.Simple{Desc: "batch"})
	require.NotNil(t, span)
	defer span.End()

	span.Operation().CallTree().Capture(calltree.GoroutineSample{
		ID:         1,
		WaitReason: "running",
		Frames: []calltree.Frame{
			{Function: "main.work", File: "main.go", Line: 20},
			{Function: "main.main", File: "main.go", Line: 10},
		},
	})

	s, err := NewServer(testutil.NewTestLogger(t), Options{Agent: a})
	require.NoError(t, err)

	entries := a.Operations()
	require.Len(t, entries, 1)
	rec := serve(t, s.Handler(), fmt.Sprintf("/operations/%d/profile", entries[0].Handle))
	require.Equal(t, http.StatusOK, rec.Code)

	p, err := profile.Parse(rec.Body)
	require.NoError(t, err)
	assert.NotEmpty(t, p.Sample)
}

func TestServer_Metrics(t *testing.T) {
	a := newAgent(t)
	s, err := NewServer(testutil.NewTestLogger(t), Options{Agent: a})
	require.NoError(t, err)

	_, span := a.PushTraceEvent(context.Background(), probe.Simple{Desc: "job"})
	span.End()

	rec := serve(t, s.Handler(), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "operations_started_total")
}

func TestServer_TraceRequestsExcludesOwnOperation(t *testing.T) {
	a := newAgent(t)
	_, span := a.PushTraceEvent(context.Background(), probe.Simple{Desc: "background job"})
	require.NotNil(t, span)
	defer span.End()

	s, err := NewServer(testutil.NewTestLogger(t), Options{Agent: a, TraceRequests: true})
	require.NoError(t, err)

	rec := serve(t, s.Handler(), "/operations")
	require.Equal(t, http.StatusOK, rec.Code)

	var list []OperationSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "background job", list[0].Description)

	// The admin request itself was traced and has completed.
	assert.Len(t, a.Operations(), 1)
}

func TestServer_StartStop(t *testing.T) {
	s, err := NewServer(testutil.NewTestLogger(t), Options{Addr: "127.0.0.1:0", Agent: newAgent(t)})
	require.NoError(t, err)
	require.NoError(t, s.Start())
	require.NotEmpty(t, s.Addr())

	resp, err := http.Get("http://" + s.Addr() + "/operations")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := testutil.NewTestContext()
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}
