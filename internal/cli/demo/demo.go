// Package demo implements 'coral-trace demo', an instrumented HTTP server
// with endpoints that are fast, slow, or stuck on purpose.
package demo

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/coral-mesh/coral-trace/internal/config"
	"github.com/coral-mesh/coral-trace/internal/constants"
	"github.com/coral-mesh/coral-trace/pkg/probe"
	"github.com/coral-mesh/coral-trace/pkg/sdk"
)

// Options configures the demo server.
type Options struct {
	Addr        string
	ConfigPath  string
	AdminAddr   string
	DBPath      string
	Threshold   time.Duration
	Stuck       time.Duration
	DriveEvery  time.Duration
	SlowDefault time.Duration
}

// NewDemoCmd creates the demo command.
func NewDemoCmd(logger *zerolog.Logger) *cobra.Command {
	opts := Options{}

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run an instrumented HTTP server",
		Long: `Run an HTTP server traced by coral-trace.

Endpoints:
  /fast             returns immediately
  /slow?d=2s        runs nested steps for about d
  /stuck            blocks until the client goes away

Slow and stuck requests are reported through the configured sinks. With
--admin-addr set, in-flight requests can be inspected while they run:

  curl localhost:9090/operations
  go tool pprof localhost:9090/operations/1/profile`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return Run(ctx, *logger, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", constants.DefaultDemoAddr, "Listen address of the demo server")
	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "", "Tracer config file, watched for changes")
	cmd.Flags().StringVar(&opts.AdminAddr, "admin-addr", constants.DefaultAdminAddr, "Admin server address (empty to disable)")
	cmd.Flags().StringVar(&opts.DBPath, "db", "", "Record operations into this DuckDB file")
	cmd.Flags().DurationVar(&opts.Threshold, "threshold", 500*time.Millisecond, "Report completed operations at least this long")
	cmd.Flags().DurationVar(&opts.Stuck, "stuck-threshold", 5*time.Second, "Report running operations older than this")
	cmd.Flags().DurationVar(&opts.DriveEvery, "drive", 0, "Send a random request to the demo server at this interval")
	cmd.Flags().DurationVar(&opts.SlowDefault, "slow-default", 2*time.Second, "Duration of /slow without ?d=")

	return cmd
}

// TracerConfig returns the tracer config used when no config file is given.
func TracerConfig(opts Options) *config.Config {
	cfg := config.DefaultConfig()
	cfg.ThresholdMillis = opts.Threshold.Milliseconds()
	cfg.StuckThresholdMillis = opts.Stuck.Milliseconds()
	cfg.StackTraceInitialDelayMillis = opts.Threshold.Milliseconds() / 2
	cfg.Sinks.Log = true
	cfg.Sinks.DuckDBPath = opts.DBPath
	cfg.Admin.Addr = opts.AdminAddr
	return cfg
}

// Run serves until ctx is cancelled.
func Run(ctx context.Context, logger zerolog.Logger, opts Options) error {
	sdkCfg := sdk.Config{ServiceName: "coral-trace-demo", Logger: &logger}
	if opts.ConfigPath != "" {
		sdkCfg.ConfigPath = opts.ConfigPath
		sdkCfg.WatchConfig = true
	} else {
		sdkCfg.Tracer = TracerConfig(opts)
	}

	tracer, err := sdk.New(sdkCfg)
	if err != nil {
		return fmt.Errorf("failed to start tracer: %w", err)
	}
	defer func() {
		if err := tracer.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to stop tracer")
		}
	}()

	handler := tracer.Middleware(probe.MiddlewareOptions{
		SkipPaths: []string{"/healthz"},
		Headers:   []string{"User-Agent"},
	})(NewHandler(tracer.Tracer(), opts.SlowDefault))

	listener, err := net.Listen("tcp", opts.Addr)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}
	server := &http.Server{Handler: handler, ReadHeaderTimeout: constants.DefaultReadHeaderTimeout}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(listener)
	}()
	logger.Info().
		Str("addr", listener.Addr().String()).
		Str("admin_addr", tracer.AdminAddr()).
		Msg("Demo server started")

	if opts.DriveEvery > 0 {
		go drive(ctx, logger, "http://"+listener.Addr().String(), opts.DriveEvery)
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("demo server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	logger.Info().Msg("Stopping demo server")
	return server.Shutdown(shutdownCtx)
}

// NewHandler returns the demo endpoints. Nested steps are traced through
// tracer.
func NewHandler(tracer probe.Tracer, slowDefault time.Duration) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("GET /fast", func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprintln(w, "ok")
	})

	mux.HandleFunc("GET /slow", func(w http.ResponseWriter, r *http.Request) {
		d := slowDefault
		if v := r.URL.Query().Get("d"); v != "" {
			parsed, err := time.ParseDuration(v)
			if err != nil || parsed < 0 {
				http.Error(w, "invalid duration", http.StatusBadRequest)
				return
			}
			d = parsed
		}
		if err := slowRequest(r.Context(), tracer, d); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		_, _ = fmt.Fprintf(w, "done after %s\n", d)
	})

	mux.HandleFunc("GET /stuck", func(w http.ResponseWriter, r *http.Request) {
		_ = probe.Around(r.Context(), tracer, probe.Simple{Desc: "wait for lock", Key: "lock"},
			func(ctx context.Context) error {
				<-ctx.Done()
				return ctx.Err()
			})
	})

	return mux
}

// slowRequest spends d across a query phase made of several statements and
// a render phase.
func slowRequest(ctx context.Context, tracer probe.Tracer, d time.Duration) error {
	query := d * 3 / 4
	err := probe.Around(ctx, tracer, probe.Simple{Desc: "load orders", Key: "repository"},
		func(ctx context.Context) error {
			const statements = 3
			for i := 0; i < statements; i++ {
				stmt := probe.Simple{
					Desc:    fmt.Sprintf("SELECT * FROM orders WHERE shard = %d", i),
					Key:     "sql",
					Context: probe.ContextMap{"shard": i},
				}
				if err := probe.Around(ctx, tracer, stmt, func(ctx context.Context) error {
					return sleep(ctx, query/statements)
				}); err != nil {
					return err
				}
			}
			return nil
		})
	if err != nil {
		return err
	}
	return probe.Around(ctx, tracer, probe.Simple{Desc: "render", Key: "template"},
		func(ctx context.Context) error {
			return sleep(ctx, d-query)
		})
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func drive(ctx context.Context, logger zerolog.Logger, base string, every time.Duration) {
	paths := []string{"/fast", "/fast", "/slow?d=200ms", "/slow", "/slow?d=4s"}
	client := &http.Client{Timeout: 30 * time.Second}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		path := paths[rand.IntN(len(paths))]
		go func() {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+path, nil)
			if err != nil {
				return
			}
			req.SetBasicAuth("demo", "")
			resp, err := client.Do(req)
			if err != nil {
				logger.Debug().Err(err).Str("path", path).Msg("Demo request failed")
				return
			}
			_ = resp.Body.Close()
		}()
	}
}
