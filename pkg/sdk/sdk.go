package sdk

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/coral-mesh/coral-trace/internal/agent"
	"github.com/coral-mesh/coral-trace/internal/config"
	"github.com/coral-mesh/coral-trace/internal/constants"
	"github.com/coral-mesh/coral-trace/internal/hoststats"
	"github.com/coral-mesh/coral-trace/internal/logging"
	"github.com/coral-mesh/coral-trace/internal/selfmetrics"
	"github.com/coral-mesh/coral-trace/internal/sink"
	"github.com/coral-mesh/coral-trace/internal/store"
	"github.com/coral-mesh/coral-trace/pkg/probe"
	"github.com/coral-mesh/coral-trace/pkg/sdk/admin"
)

// DefaultShutdownTimeout bounds Close.
const DefaultShutdownTimeout = constants.DefaultShutdownTimeout

// SDK is a tracer embedded in an application.
type SDK struct {
	logger      zerolog.Logger
	serviceName string

	provider config.Provider
	agent    *agent.Agent
	sinks    *sink.Multi
	admin    *admin.Server

	shutdownTimeout time.Duration
}

// Config contains SDK configuration options.
type Config struct {
	// ServiceName is the name of the service (required).
	ServiceName string

	// ConfigPath is a YAML tracer config. When empty, Tracer is used, and
	// when that is nil too, defaults plus CORAL_TRACE_* variables.
	ConfigPath string

	// WatchConfig reloads ConfigPath when it changes.
	WatchConfig bool

	// Tracer is an explicit tracer config, ignored when ConfigPath is set.
	Tracer *config.Config

	// Logger overrides the logger built from the tracer's logging config.
	Logger *zerolog.Logger

	// ShutdownTimeout bounds Close. Defaults to DefaultShutdownTimeout.
	ShutdownTimeout time.Duration
}

// New builds and starts the tracer: config provider, sinks, agent and, when
// admin.addr is set, the admin server.
func New(cfg Config) (*SDK, error) {
	if cfg.ServiceName == "" {
		return nil, fmt.Errorf("service name is required")
	}

	provider, err := newProvider(cfg)
	if err != nil {
		return nil, err
	}
	tracerCfg := provider.Config()

	var logger zerolog.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	} else {
		logCfg := logging.DefaultConfig()
		logCfg.Level = tracerCfg.Logging.Level
		logCfg.Pretty = logCfg.Pretty || tracerCfg.Logging.Pretty
		logger = logging.New(logCfg)
	}
	logger = logger.With().Str("component", "coral-trace").Str("service", cfg.ServiceName).Logger()

	s := &SDK{
		logger:          logger,
		serviceName:     cfg.ServiceName,
		provider:        provider,
		shutdownTimeout: cfg.ShutdownTimeout,
	}
	if s.shutdownTimeout <= 0 {
		s.shutdownTimeout = DefaultShutdownTimeout
	}

	if fp, ok := provider.(*config.FileProvider); ok && cfg.WatchConfig {
		fp.OnReload(func(c *config.Config) {
			logger.Info().
				Bool("enabled", c.Enabled).
				Int64("threshold_millis", c.ThresholdMillis).
				Msg("Tracer configuration reloaded")
		})
		if err := fp.Watch(context.Background()); err != nil {
			_ = fp.Close()
			return nil, fmt.Errorf("failed to watch config: %w", err)
		}
	}

	if err := s.init(tracerCfg); err != nil {
		s.closeSinks()
		s.closeProvider()
		return nil, err
	}

	logger.Info().
		Bool("enabled", tracerCfg.Enabled).
		Str("admin_addr", s.AdminAddr()).
		Msg("Coral tracer initialized")
	return s, nil
}

func newProvider(cfg Config) (config.Provider, error) {
	switch {
	case cfg.ConfigPath != "" && cfg.WatchConfig:
		p, err := config.NewFileProvider(cfg.ConfigPath, zerolog.Nop())
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		return p, nil
	case cfg.ConfigPath != "":
		c, err := config.Load(cfg.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		return config.NewStaticProvider(c), nil
	case cfg.Tracer != nil:
		c := cfg.Tracer.Clone()
		if err := c.Validate(); err != nil {
			return nil, err
		}
		return config.NewStaticProvider(c), nil
	default:
		c, err := config.Load("")
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		return config.NewStaticProvider(c), nil
	}
}

func (s *SDK) init(tracerCfg *config.Config) error {
	host, err := hoststats.New(s.logger)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Host statistics unavailable")
	}

	var sinks []sink.Sink
	// Sinks built so far are closed by New when a later step fails.
	defer func() { s.sinks = sink.NewMulti(s.logger, sinks...) }()

	if tracerCfg.Sinks.Log {
		sinks = append(sinks, sink.NewLogSink(s.logger, host))
	}
	if path := tracerCfg.Sinks.FilePath; path != "" {
		fs, err := sink.NewFileSink(path, s.logger, host)
		if err != nil {
			return fmt.Errorf("failed to create file sink: %w", err)
		}
		sinks = append(sinks, fs)
	}
	if path := tracerCfg.Sinks.OTLPPath; path != "" {
		otlp, err := sink.NewOTLPSink(path, s.serviceName, s.logger)
		if err != nil {
			return fmt.Errorf("failed to create otlp sink: %w", err)
		}
		sinks = append(sinks, otlp)
	}
	if path := tracerCfg.Sinks.DuckDBPath; path != "" {
		st, err := store.Open(path, s.logger)
		if err != nil {
			return fmt.Errorf("failed to open operation store: %w", err)
		}
		sinks = append(sinks, st)
	}

	var feed *sink.Feed
	if tracerCfg.Admin.Addr != "" {
		feed = sink.NewFeed(s.logger)
		sinks = append(sinks, feed)
	}

	a, err := agent.New(agent.Options{
		Config:  s.provider,
		Sink:    sink.NewMulti(s.logger, sinks...),
		Logger:  s.logger,
		Metrics: selfmetrics.New(),
	})
	if err != nil {
		return err
	}
	if err := a.Start(); err != nil {
		return fmt.Errorf("failed to start agent: %w", err)
	}
	s.agent = a

	if tracerCfg.Admin.Addr != "" {
		srv, err := admin.NewServer(s.logger, admin.Options{
			Addr:  tracerCfg.Admin.Addr,
			Agent: a,
			Feed:  feed,
		})
		if err == nil {
			err = srv.Start()
		}
		if err != nil {
			s.shutdownAgent()
			return fmt.Errorf("failed to start admin server: %w", err)
		}
		s.admin = srv
	}
	return nil
}

// Close stops the agent, waiting for queued dispatches, then the admin
// server, sinks and config watcher.
func (s *SDK) Close() error {
	s.logger.Info().Msg("Shutting down Coral tracer")

	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	var first error
	if err := s.agent.Shutdown(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Failed to stop agent")
		first = err
	}

	g, gctx := errgroup.WithContext(ctx)
	if s.admin != nil {
		g.Go(func() error {
			if err := s.admin.Stop(gctx); err != nil {
				return fmt.Errorf("failed to stop admin server: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		if err := s.sinks.Close(); err != nil {
			return fmt.Errorf("failed to close sinks: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		s.closeProvider()
		return nil
	})
	if err := g.Wait(); err != nil {
		s.logger.Error().Err(err).Msg("Failed to shut down cleanly")
		if first == nil {
			first = err
		}
	}
	return first
}

// Agent returns the running agent.
func (s *SDK) Agent() *agent.Agent {
	return s.agent
}

// Tracer returns the agent as a probe tracer.
func (s *SDK) Tracer() probe.Tracer {
	return s.agent
}

// AdminAddr returns the admin server address. Returns empty string if the
// admin server is not enabled.
func (s *SDK) AdminAddr() string {
	if s.admin == nil {
		return ""
	}
	return s.admin.Addr()
}

// Middleware returns an HTTP middleware tracing each request as an
// operation.
func (s *SDK) Middleware(opts probe.MiddlewareOptions) func(http.Handler) http.Handler {
	return probe.Middleware(s.agent, opts)
}

func (s *SDK) shutdownAgent() {
	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.agent.Shutdown(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to stop agent")
	}
	s.agent = nil
}

func (s *SDK) closeSinks() {
	if s.sinks == nil {
		return
	}
	if err := s.sinks.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to close sinks")
	}
}

func (s *SDK) closeProvider() {
	fp, ok := s.provider.(*config.FileProvider)
	if !ok {
		return
	}
	if err := fp.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to stop config watcher")
	}
}
