package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"esgbu/internal/blob"
	"esgbu/internal/config"
	"esgbu/internal/core"
)

// app holds the state shared by every subcommand of one invocation.
type app struct {
	configPath string
	envFile    string
	trace      string
	metrics    bool

	cfg    config.Config
	logger *slog.Logger
}

// load reads the optional env file, then the configuration. A missing
// default .env is not an error; an explicit --env-file must exist.
func (a *app) load(stderr io.Writer) error {
	if err := validTraceMode(a.trace); err != nil {
		return err
	}
	if a.envFile != "" {
		if err := godotenv.Load(a.envFile); err != nil {
			return fmt.Errorf("load env file %s: %w", a.envFile, err)
		}
	} else if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return fmt.Errorf("load .env: %w", err)
		}
	}
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = newLogger(stderr, cfg.Log)
	return nil
}

func newLogger(w io.Writer, cfg config.Log) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// runtime is an opened service plus the sinks that must be drained when the
// command finishes.
type runtime struct {
	svc      *core.Service
	audit    *core.BlobAuditRecorder
	registry *prometheus.Registry
	spans    *sdktrace.TracerProvider
}

func (a *app) open(ctx context.Context, stderr io.Writer) (*runtime, error) {
	store, err := core.OpenPersistentStore(ctx, a.cfg.Storage, nil)
	if err != nil {
		return nil, err
	}
	rt := &runtime{registry: prometheus.NewRegistry()}
	opts := []core.Option{
		core.WithLogger(a.logger),
		core.WithLockTTL(a.cfg.Locks.TTL),
		core.WithMetricsRecorder(core.NewPrometheusMetricsRecorder(rt.registry, a.cfg.Metrics.Namespace)),
	}
	switch a.trace {
	case traceJSON:
		opts = append(opts, core.WithTracer(core.NewJSONTracer(stderr)))
	case traceOTel:
		tp, err := newTracerProvider(stderr)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		rt.spans = tp
		opts = append(opts, core.WithTracer(core.NewOTelTracer(tp)))
	}
	archive, err := blob.Open(ctx, a.cfg.Audit)
	if err != nil {
		if rt.spans != nil {
			_ = rt.spans.Shutdown(ctx)
		}
		_ = store.Close()
		return nil, err
	}
	if archive != nil {
		rt.audit = core.NewBlobAuditRecorder(archive,
			core.WithAuditBatchSize(a.cfg.Audit.BatchSize),
			core.WithAuditLogger(a.logger),
		)
		opts = append(opts, core.WithAuditRecorder(rt.audit))
	}
	rt.svc = core.NewService(store, opts...)
	return rt, nil
}

// close flushes pending audit entries and spans, optionally dumps metrics and
// closes the store.
func (a *app) close(ctx context.Context, rt *runtime, stderr io.Writer) error {
	var errs []error
	if rt.audit != nil {
		if err := rt.audit.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if rt.spans != nil {
		if err := rt.spans.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.metrics {
		if err := dumpMetrics(stderr, rt.registry); err != nil {
			errs = append(errs, err)
		}
	}
	if err := rt.svc.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// dumpMetrics prints counters and histogram sample counts, one series per line.
func dumpMetrics(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			labels := make([]string, 0, len(m.GetLabel()))
			for _, lp := range m.GetLabel() {
				labels = append(labels, lp.GetName()+"="+lp.GetValue())
			}
			sort.Strings(labels)
			series := mf.GetName() + "{" + strings.Join(labels, ",") + "}"
			switch {
			case m.GetCounter() != nil:
				fmt.Fprintf(w, "%s %g\n", series, m.GetCounter().GetValue())
			case m.GetHistogram() != nil:
				fmt.Fprintf(w, "%s count=%d sum=%g\n", series, m.GetHistogram().GetSampleCount(), m.GetHistogram().GetSampleSum())
			}
		}
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
