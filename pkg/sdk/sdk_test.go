package sdk

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/coral-trace/internal/config"
	"github.com/coral-mesh/coral-trace/internal/sink"
	"github.com/coral-mesh/coral-trace/internal/store"
	"github.com/coral-mesh/coral-trace/pkg/probe"
)

func nopLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

func TestNew(t *testing.T) {
	invalid := config.DefaultConfig()
	invalid.PollIntervalMillis = 0

	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name:   "defaults",
			config: Config{ServiceName: "test-service", Logger: nopLogger()},
		},
		{
			name:    "missing service name",
			config:  Config{Logger: nopLogger()},
			wantErr: true,
		},
		{
			name:    "invalid tracer config",
			config:  Config{ServiceName: "test-service", Tracer: invalid, Logger: nopLogger()},
			wantErr: true,
		},
		{
			name: "sink path is a directory",
			config: Config{
				ServiceName: "test-service",
				Tracer: func() *config.Config {
					c := config.DefaultConfig()
					c.Sinks.FilePath = t.TempDir()
					return c
				}(),
				Logger: nopLogger(),
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(tt.config)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, s.Agent())
			assert.Empty(t, s.AdminAddr())
			require.NoError(t, s.Close())
		})
	}
}

func TestSDK_MiddlewareReachesSinks(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.ThresholdMillis = config.Disabled
	cfg.Sinks.FilePath = filepath.Join(dir, "ops.jsonl")
	cfg.Sinks.DuckDBPath = filepath.Join(dir, "ops.duckdb")

	s, err := New(Config{ServiceName: "orders", Tracer: cfg, Logger: nopLogger()})
	require.NoError(t, err)

	handler := s.Middleware(probe.MiddlewareOptions{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = probe.Around(r.Context(), s.Tracer(), probe.Simple{Desc: "load orders", Key: "db"}, func(context.Context) error {
			return nil
		})
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	require.NoError(t, s.Close())

	f, err := os.Open(cfg.Sinks.FilePath)
	require.NoError(t, err)
	defer f.Close()
	scanner := bufio.NewScanner(f)
	require.True(t, scanner.Scan())
	var record sink.Record
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &record))
	assert.Equal(t, "GET /orders", record.Description)
	assert.True(t, record.Completed)
	assert.Equal(t, 2, record.EventCount)

	st, err := store.OpenReadOnly(cfg.Sinks.DuckDBPath, zerolog.Nop())
	require.NoError(t, err)
	defer st.Close()
	ops, err := st.ListOperations(context.Background(), store.Filter{})
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, "GET /orders", ops[0].Description)
	assert.NotEmpty(t, ops[0].ID)
}

func TestSDK_AdminServer(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Admin.Addr = "127.0.0.1:0"

	s, err := New(Config{ServiceName: "test-service", Tracer: cfg, Logger: nopLogger()})
	require.NoError(t, err)
	defer s.Close()

	require.NotEmpty(t, s.AdminAddr())
	resp, err := http.Get("http://" + s.AdminAddr() + "/metrics")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSDK_WatchConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.yaml")
	require.NoError(t, os.WriteFile(path, []byte("threshold_millis: 50\n"), 0o600))

	s, err := New(Config{ServiceName: "test-service", ConfigPath: path, WatchConfig: true, Logger: nopLogger()})
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, int64(50), s.Agent().Config().ThresholdMillis)
}
