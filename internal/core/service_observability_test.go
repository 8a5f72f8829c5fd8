package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"esgbu/pkg/domain"
)

func TestServiceRecordsAuditAndMetrics(t *testing.T) {
	ctx := context.Background()
	audit := &captureAuditRecorder{}
	metrics := &captureMetricsRecorder{}
	logger := &captureLogger{}
	f := newFixture(t, WithAuditRecorder(audit), WithMetricsRecorder(metrics), WithLogger(logger))

	if _, err := f.svc.AcquireGroupLock(ctx, f.lockRequest(f.staff.ID, f.y2023.ID, 1)); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := f.svc.AcquireGroupLock(ctx, f.lockRequest(f.staff.ID, f.y2023.ID, 2)); err == nil {
		t.Fatal("expected busy error")
	}
	if _, err := f.svc.ListSurveys(ctx); err != nil {
		t.Fatalf("list: %v", err)
	}

	if !audit.has(opAcquireGroupLock, AuditStatusSuccess) || !audit.has(opAcquireGroupLock, AuditStatusError) {
		t.Fatalf("expected success and error audit entries, got %+v", audit.entries)
	}
	if !audit.has(opCreateOperation, AuditStatusSuccess) {
		t.Fatal("expected catalog writes to be audited")
	}
	if audit.has(opListSurveys, AuditStatusSuccess) {
		t.Fatal("reads must not be audited")
	}
	for _, entry := range audit.entries {
		if entry.Operation == opAcquireGroupLock && entry.Status == AuditStatusError {
			if entry.UserID != 2 || entry.Entity != domain.EntityGroupLock || !strings.Contains(entry.Error, "being edited") {
				t.Fatalf("unexpected error audit entry %+v", entry)
			}
			if !entry.Timestamp.Equal(testEpoch) {
				t.Fatalf("expected service clock timestamp, got %s", entry.Timestamp)
			}
		}
	}
	if !metrics.has(opAcquireGroupLock, true) || !metrics.has(opAcquireGroupLock, false) || !metrics.has(opListSurveys, true) {
		t.Fatalf("unexpected metrics %+v", metrics.calls)
	}
	if !logger.has("error: operation failed") || !logger.has("debug: operation completed") {
		t.Fatalf("unexpected log entries %v", logger.entries)
	}
}

func TestOTelTracerRecordsSpans(t *testing.T) {
	ctx := context.Background()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer func() { _ = tp.Shutdown(ctx) }()

	f := newFixture(t, WithTracer(NewOTelTracer(tp)))
	if _, err := f.svc.RecomputeOperations(ctx, domain.KindEstablishment, adminID, f.y2023.ID); err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if _, err := f.svc.RecomputeOperations(ctx, domain.KindEstablishment, adminID, 999); err == nil {
		t.Fatal("expected unknown survey error")
	}

	var ok, failed int
	for _, span := range recorder.Ended() {
		if span.Name() != "esgbu."+opRecompute {
			continue
		}
		switch span.Status().Code {
		case codes.Ok:
			ok++
		case codes.Error:
			failed++
			if len(span.Events()) == 0 {
				t.Fatal("expected the error to be recorded as a span event")
			}
		}
	}
	if ok != 1 || failed != 1 {
		t.Fatalf("expected one ok and one failed recompute span, got %d/%d", ok, failed)
	}
}

func TestPrometheusMetricsRecorder(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewPedanticRegistry()
	rec := NewPrometheusMetricsRecorder(reg, "esgbu")
	f := newFixture(t, WithMetricsRecorder(rec))

	if _, err := f.svc.AcquireGroupLock(ctx, f.lockRequest(f.staff.ID, f.y2023.ID, 1)); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := f.svc.AcquireGroupLock(ctx, f.lockRequest(f.staff.ID, f.y2023.ID, 2)); err == nil {
		t.Fatal("expected busy error")
	}
	if got := testutil.ToFloat64(rec.calls.WithLabelValues(opAcquireGroupLock, "success")); got != 1 {
		t.Fatalf("expected 1 success, got %v", got)
	}
	if got := testutil.ToFloat64(rec.calls.WithLabelValues(opAcquireGroupLock, "error")); got != 1 {
		t.Fatalf("expected 1 error, got %v", got)
	}
	if n := testutil.CollectAndCount(rec.duration, "esgbu_service_operation_duration_seconds"); n == 0 {
		t.Fatal("expected latency series")
	}
	if problems, err := testutil.GatherAndLint(reg); err != nil || len(problems) > 0 {
		t.Fatalf("metric lint: %v %+v", err, problems)
	}
}

func TestExpvarAndJSONTracer(t *testing.T) {
	ctx := context.Background()
	rec := NewExpvarMetricsRecorder("")
	var buf bytes.Buffer
	tracer := NewJSONTracer(&buf)
	f := newFixture(t, WithMetricsRecorder(rec), WithTracer(tracer))

	if _, err := f.svc.ListSurveys(ctx); err != nil {
		t.Fatalf("list: %v", err)
	}
	if _, err := f.svc.AcquireGroupLock(ctx, LockRequest{}); err == nil {
		t.Fatal("expected validation error")
	}

	snap := rec.Snapshot()
	if success, _ := snap.Calls(opListSurveys); success != 1 {
		t.Fatalf("expected one list_surveys success, got %+v", snap.Operations)
	}
	if _, failed := snap.Calls(opAcquireGroupLock); failed != 1 {
		t.Fatalf("expected one failed acquisition, got %+v", snap.Operations)
	}
	if expvar.Get(rec.Name()) == nil {
		t.Fatalf("expected %s to be published", rec.Name())
	}
	if len(rec.Operations()) == 0 {
		t.Fatal("expected observed operations")
	}

	entries := tracer.Entries()
	if len(entries) == 0 {
		t.Fatal("expected spans")
	}
	last := entries[len(entries)-1]
	if last.Operation != opAcquireGroupLock || last.Status != "error" || last.Error == "" {
		t.Fatalf("unexpected last span %+v", last)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var decoded JSONTraceEntry
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &decoded); err != nil {
		t.Fatalf("decode span line: %v", err)
	}
	if decoded.Operation != opAcquireGroupLock {
		t.Fatalf("unexpected encoded span %+v", decoded)
	}
}

func TestRunPropagatesContextCancellation(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.svc.ListSurveys(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
