package core

import (
	"context"
	"testing"
	"time"
)

// TestDefaultServiceOptions ensures default options wiring executes without nil derefs.
func TestDefaultServiceOptions(t *testing.T) {
	opts := defaultServiceOptions()
	if opts.clock == nil || opts.logger == nil || opts.audit == nil || opts.metrics == nil || opts.tracer == nil {
		t.Fatalf("expected defaults populated")
	}
	if opts.lockTTL != DefaultLockTTL {
		t.Fatalf("expected default lock ttl, got %v", opts.lockTTL)
	}
	if now := opts.clock.Now(); now.Location() != time.UTC {
		t.Fatalf("default clock should be UTC, got %v", now.Location())
	}
	opts.audit.Record(context.Background(), AuditEntry{})
	opts.metrics.Observe(context.Background(), "noop", true, 0)
	_, span := opts.tracer.Start(context.Background(), "noop")
	span.End(nil)
	var l noopLogger
	l.Debug("d", "k", 1)
	l.Info("i", "k2", 2)
	l.Warn("w", "k3", 3)
	l.Error("e", "k4", 4)
}

func TestNilOptionsKeepDefaults(t *testing.T) {
	svc := NewInMemoryService(nil,
		WithClock(nil),
		WithLogger(nil),
		WithMetricsRecorder(nil),
		WithTracer(nil),
		WithAuditRecorder(nil),
		WithLockTTL(-time.Minute),
	)
	if svc.clock == nil || svc.logger == nil || svc.metrics == nil || svc.tracer == nil || svc.audit == nil {
		t.Fatalf("nil options must not clear defaults")
	}
	if svc.LockTTL() != DefaultLockTTL {
		t.Fatalf("non-positive ttl should be ignored, got %v", svc.LockTTL())
	}
}
