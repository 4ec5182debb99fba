package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/roach88/admitlog/internal/engine"
	"github.com/roach88/admitlog/internal/feed"
	"github.com/roach88/admitlog/internal/ir"
	"github.com/roach88/admitlog/internal/lock"
	"github.com/roach88/admitlog/internal/metrics"
	"github.com/roach88/admitlog/internal/platform/config"
	"github.com/roach88/admitlog/internal/platform/otel"
	"github.com/roach88/admitlog/internal/store"
)

const serviceName = "admitlog"

// IngestOptions holds flags for the ingest command. Unset flags fall
// back to the ADMITLOG_* environment.
type IngestOptions struct {
	*RootOptions
	Database    string
	Workers     int
	MetricsAddr string

	// Now overrides the wall clock of the engine (for testing).
	Now func() time.Time
}

// IngestSummary reports an ingest run.
type IngestSummary struct {
	Files    []string      `json:"files"`
	Events   int           `json:"events"`
	Applied  int           `json:"applied"`
	Ignored  int           `json:"ignored"`
	Failed   int           `json:"failed"`
	Warnings []feed.Issue  `json:"warnings,omitempty"`
	Failures []EventReport `json:"failures,omitempty"`
}

// EventReport describes one event that did not apply.
type EventReport struct {
	File   string `json:"file"`
	Index  int    `json:"index"`
	Kind   string `json:"kind"`
	Key    string `json:"key"`
	Code   string `json:"code,omitempty"`
	Reason string `json:"reason"`
}

// NewIngestCommand creates the ingest command.
func NewIngestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &IngestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "ingest --db PATH FEED...",
		Short: "Apply ADT feeds to the store",
		Long: `Validate feed files and apply their events to the store.

Every feed is validated before any event is applied; an invalid feed
aborts the run. Events are processed by a worker pool. Events of one
encounter or patient never run concurrently, and each event gets its own
transaction, so a failed event never affects the others.

Directories contribute their .yaml and .yml files in lexical order.

Environment:
  ADMITLOG_DB, ADMITLOG_WORKERS, ADMITLOG_METRICS_ADDR   flag defaults
  ADMITLOG_REDIS_URL     share per-key locks with other processes
  ADMITLOG_OTEL_ENDPOINT export traces over OTLP/HTTP

Exit codes:
  0 - Every event was applied or ignored
  1 - Invalid feed, or one or more events failed
  2 - Command error (bad configuration, database not writable, etc.)

Examples:
  admitlog ingest --db ./admitlog.db feeds/ward-3.yaml
  admitlog ingest --db ./admitlog.db --workers 8 feeds/
  admitlog ingest --db ./admitlog.db --metrics-addr :9090 feeds/`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default $ADMITLOG_DB)")
	cmd.Flags().IntVar(&opts.Workers, "workers", 0, "worker pool size (default $ADMITLOG_WORKERS)")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	return cmd
}

// feedEvent remembers where an event came from.
type feedEvent struct {
	file  string
	index int
}

func runIngest(opts *IngestOptions, args []string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	logger := opts.logger(cmd.ErrOrStderr())

	cfg, err := loadIngestConfig(opts, cmd)
	if err != nil {
		return err
	}

	paths, err := feed.Expand(args)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to resolve feeds", err)
	}
	if len(paths) == 0 {
		return NewExitError(ExitCommandError, "no feed files found")
	}

	summary := IngestSummary{Files: paths}
	var (
		events  []ir.Event
		origins []feedEvent
	)
	for _, path := range paths {
		f, err := feed.Load(path)
		if err != nil {
			var verr *feed.ValidationError
			if errors.As(err, &verr) {
				_ = formatter.Error(ErrCodeInvalid, verr.Error(), verr.Issues)
				return WrapExitError(ExitFailure, "invalid feed", err)
			}
			return WrapExitError(ExitCommandError, "failed to read feed", err)
		}
		formatter.VerboseLog("Loaded %d event(s) from %s", len(f.Events), path)
		summary.Warnings = append(summary.Warnings, f.Warnings...)
		for i, ev := range f.Events {
			events = append(events, ev)
			origins = append(origins, feedEvent{file: path, index: i})
		}
	}

	ctx, stop := signal.NotifyContext(cmdContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := otel.Setup(ctx, serviceName, cfg.OTelEndpoint, cfg.OTelEnabled)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to set up tracing", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	m := metrics.New(reg)
	if cfg.MetricsAddr != "" {
		stopMetrics, err := serveMetrics(cfg.MetricsAddr, reg, logger)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to serve metrics", err)
		}
		defer stopMetrics()
	}

	st, err := store.Open(cfg.DBPath, store.WithBusyTimeout(cfg.BusyTimeout))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("error closing database", "error", err)
		}
	}()

	clock, err := engine.ResumeClock(ctx, st, opts.Now)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read processing times", err)
	}

	engOpts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithClock(clock),
		engine.WithMetrics(m),
		engine.WithWorkers(cfg.Workers),
		engine.WithRetry(cfg.MaxAttempts, cfg.RetryBackoff),
		engine.WithLockTimeout(cfg.LockTimeout),
	}
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid redis url", err)
		}
		client := redis.NewClient(redisOpts)
		defer client.Close()
		engOpts = append(engOpts, engine.WithLocker(lock.NewRedis(client,
			lock.WithTTL(cfg.LockTTL),
			lock.WithLogger(logger),
		)))
	}
	eng := engine.New(st, engOpts...)

	logger.Info("ingest starting", "db", cfg.DBPath, "files", len(paths), "events", len(events), "workers", cfg.Workers)
	results, err := eng.Ingest(ctx, events)
	if err != nil {
		return WrapExitError(ExitCommandError, "ingest interrupted", err)
	}

	for i, res := range results {
		summary.Events++
		switch res.Status {
		case engine.StatusApplied:
			summary.Applied++
		case engine.StatusIgnored:
			summary.Ignored++
			formatter.VerboseLog("ignored %s[%d] %s %s: %s", origins[i].file, origins[i].index, res.Kind, res.Key, res.Reason)
		default:
			summary.Failed++
			summary.Failures = append(summary.Failures, EventReport{
				File:   origins[i].file,
				Index:  origins[i].index,
				Kind:   string(res.Kind),
				Key:    res.Key,
				Code:   res.Code,
				Reason: res.Reason,
			})
		}
	}

	if summary.Failed > 0 {
		msg := fmt.Sprintf("%d event(s) failed", summary.Failed)
		if formatter.JSON() {
			if err := formatter.Failure(summary, ErrCodeIngest, msg); err != nil {
				return err
			}
		} else {
			printIngestText(cmd, summary)
		}
		return NewExitError(ExitFailure, msg)
	}

	if formatter.JSON() {
		return formatter.Success(summary)
	}
	printIngestText(cmd, summary)
	return nil
}

// loadIngestConfig reads the environment and applies flag overrides.
func loadIngestConfig(opts *IngestOptions, cmd *cobra.Command) (config.Config, error) {
	var cfg config.Config
	if err := config.ParseEnv(&cfg); err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	flags := cmd.Flags()
	if flags.Changed("db") {
		cfg.DBPath = opts.Database
	}
	if flags.Changed("workers") {
		cfg.Workers = opts.Workers
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr = opts.MetricsAddr
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	return cfg, nil
}

// serveMetrics exposes reg on addr under /metrics until the returned
// function is called.
func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", ln.Addr().String())

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

func printIngestText(cmd *cobra.Command, s IngestSummary) {
	w := cmd.OutOrStdout()

	for _, warn := range s.Warnings {
		fmt.Fprintf(w, "warning: %s\n", warn.Error())
	}
	for _, f := range s.Failures {
		fmt.Fprintf(w, "✗ %s events[%d] %s %s: %s\n", f.File, f.Index, f.Kind, f.Key, f.Reason)
	}

	fmt.Fprintf(w, "Ingested %d event(s) from %d feed(s): %d applied, %d ignored, %d failed\n",
		s.Events, len(s.Files), s.Applied, s.Ignored, s.Failed)
}

// cmdContext returns the command context, or Background when the command
// runs outside Execute.
func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
