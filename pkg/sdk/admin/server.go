// Package admin serves the tracer's introspection endpoints: in-flight
// operations, their live trace and call tree profile, self metrics and the
// websocket feed of dispatched operations.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/coral-mesh/coral-trace/internal/agent"
	"github.com/coral-mesh/coral-trace/internal/constants"
	"github.com/coral-mesh/coral-trace/internal/operation"
	"github.com/coral-mesh/coral-trace/internal/sink"
	"github.com/coral-mesh/coral-trace/pkg/probe"
)

// Options configures the admin server.
type Options struct {
	// Addr is the listen address, e.g. "127.0.0.1:0".
	Addr  string
	Agent *agent.Agent
	// Feed is served on /feed when set.
	Feed *sink.Feed
	// TraceRequests traces the admin requests themselves.
	TraceRequests bool
}

// OperationSummary is one entry of GET /operations.
type OperationSummary struct {
	Handle      agent.Handle  `json:"handle"`
	ID          string        `json:"id,omitempty"`
	Description string        `json:"description"`
	Username    string        `json:"username,omitempty"`
	StartTime   time.Time     `json:"start_time"`
	Duration    time.Duration `json:"duration_ns"`
	Events      int           `json:"events"`
	Stuck       bool          `json:"stuck"`
	Samples     int64         `json:"samples"`
}

// Server is the admin HTTP server. It speaks HTTP/1.1 and cleartext HTTP/2.
type Server struct {
	logger  zerolog.Logger
	opts    Options
	handler http.Handler

	listener net.Listener
	server   *http.Server
	addr     string
}

// NewServer builds the server without listening.
func NewServer(logger zerolog.Logger, opts Options) (*Server, error) {
	if opts.Agent == nil {
		return nil, errors.New("admin server requires an agent")
	}
	s := &Server{
		logger: logger.With().Str("component", "admin-server").Logger(),
		opts:   opts,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /operations", s.listOperations)
	mux.HandleFunc("GET /operations/{id}", s.getOperation)
	mux.HandleFunc("GET /operations/{id}/profile", s.getProfile)
	if m := opts.Agent.Metrics(); m != nil {
		mux.Handle("GET /metrics", m.Handler())
	}
	if opts.Feed != nil {
		mux.Handle("GET /feed", opts.Feed)
	}

	var h http.Handler = mux
	if opts.TraceRequests {
		h = probe.Middleware(opts.Agent, probe.MiddlewareOptions{SkipPaths: []string{"/metrics", "/feed"}})(h)
	}
	s.handler = h
	return s, nil
}

// Handler returns the routing handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}
	s.listener = listener
	s.addr = listener.Addr().String()
	s.server = &http.Server{
		Handler:           h2c.NewHandler(s.handler, &http2.Server{}),
		ReadHeaderTimeout: constants.DefaultReadHeaderTimeout,
	}

	go func() {
		s.logger.Info().Str("addr", s.addr).Msg("Admin server started")
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Admin server error")
		}
	}()
	return nil
}

// Stop shuts the server down, waiting for requests until ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info().Msg("Stopping admin server")
	return s.server.Shutdown(ctx)
}

// Addr returns the listen address, empty before Start.
func (s *Server) Addr() string {
	return s.addr
}

func (s *Server) listOperations(w http.ResponseWriter, r *http.Request) {
	entries := s.opts.Agent.OperationsExcept(r.Context())
	out := make([]OperationSummary, 0, len(entries))
	for _, e := range entries {
		op := e.Operation
		out = append(out, OperationSummary{
			Handle:      e.Handle,
			ID:          op.ID(),
			Description: op.Description(),
			Username:    op.Username(),
			StartTime:   op.StartTime(),
			Duration:    op.Duration(),
			Events:      op.Trace().Size(),
			Stuck:       op.IsStuck(),
			Samples:     op.CallTree().SampleCount(),
		})
	}
	s.writeJSON(w, out)
}

func (s *Server) getOperation(w http.ResponseWriter, r *http.Request) {
	op, ok := s.lookup(r.PathValue("id"))
	if !ok {
		http.Error(w, "operation not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, sink.NewRecord(sink.KindLive, op.LiveSnapshot()))
}

func (s *Server) getProfile(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	op, ok := s.lookup(id)
	if !ok {
		http.Error(w, "operation not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="operation-%s.pb.gz"`, id))
	if err := op.CallTree().WriteProfile(w); err != nil {
		s.logger.Warn().Err(err).Str("id", id).Msg("Failed to write profile")
	}
}

// lookup accepts a registry handle or an operation id.
func (s *Server) lookup(id string) (*operation.Operation, bool) {
	if h, err := strconv.ParseUint(id, 10, 64); err == nil {
		return s.opts.Agent.Lookup(agent.Handle(h))
	}
	return s.opts.Agent.Find(id)
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to write response")
	}
}
