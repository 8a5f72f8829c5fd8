// Package core implements the ESGBU service: formula-driven recomputation of
// operation values, group edit locks and catalog maintenance on top of a
// domain.PersistentStore.
package core

import (
	"context"
	"time"

	"esgbu/internal/infra/persistence/memory"
)

// Service exposes the transactional operations of the survey core.
type Service struct {
	store   PersistentStore
	clock   Clock
	logger  Logger
	metrics MetricsRecorder
	tracer  Tracer
	audit   AuditRecorder
	lockTTL time.Duration
}

// NewService constructs a service backed by the supplied store.
func NewService(store PersistentStore, opts ...Option) *Service {
	o := defaultServiceOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Service{
		store:   store,
		clock:   o.clock,
		logger:  o.logger,
		metrics: o.metrics,
		tracer:  o.tracer,
		audit:   o.audit,
		lockTTL: o.lockTTL,
	}
}

// NewInMemoryService creates a service and in-memory store with the given rules engine.
func NewInMemoryService(engine *RulesEngine, opts ...Option) *Service {
	if engine == nil {
		engine = NewDefaultRulesEngine()
	}
	return NewService(memory.NewStore(engine), opts...)
}

// Store returns the underlying storage implementation.
func (s *Service) Store() PersistentStore { return s.store }

// LockTTL returns the configured group lock lifetime.
func (s *Service) LockTTL() time.Duration { return s.lockTTL }

// Close releases the store.
func (s *Service) Close() error { return s.store.Close() }

type operationMeta struct {
	entity EntityType
	action Action
}

var auditedOperations = map[string]operationMeta{
	opAcquireGroupLock:    {EntityGroupLock, ActionCreate},
	opAcquireDataTypeLock: {EntityGroupLock, ActionCreate},
	opReleaseGroupLock:    {EntityGroupLock, ActionDelete},
	opCreateDataGroup:     {EntityDataGroup, ActionCreate},
	opCreateDataType:      {EntityDataType, ActionCreate},
	opCreateOperation:     {EntityOperation, ActionCreate},
	opUpdateOperation:     {EntityOperation, ActionUpdate},
	opDeleteOperation:     {EntityOperation, ActionDelete},
	opCreateSurvey:        {EntitySurvey, ActionCreate},
	opSetDataValue:        {EntityDataValue, ActionUpdate},
	opDeleteDataValue:     {EntityDataValue, ActionDelete},
	opRecompute:           {EntityDataValue, ActionUpdate},
	opRecomputeAll:        {EntityDataValue, ActionUpdate},
}

// Operation names reported to metrics, traces and the audit trail.
const (
	opAcquireGroupLock    = "acquire_group_lock"
	opAcquireDataTypeLock = "acquire_data_type_lock"
	opReleaseGroupLock    = "release_group_lock"
	opLockStatus          = "lock_status"
	opCreateDataGroup     = "create_data_group"
	opCreateDataType      = "create_data_type"
	opCreateOperation     = "create_operation"
	opUpdateOperation     = "update_operation"
	opDeleteOperation     = "delete_operation"
	opCreateSurvey        = "create_survey"
	opListSurveys         = "list_surveys"
	opSetDataValue        = "set_data_value"
	opDeleteDataValue     = "delete_data_value"
	opRecompute           = "recompute_operations"
	opRecomputeAll        = "recompute_operations_all_surveys"
)

// opResult is what an operation reports back to run for auditing.
type opResult struct {
	entityID string
	userID   int64
}

// run wraps fn with tracing, metrics, logging and auditing.
func (s *Service) run(ctx context.Context, operation string, fn func(ctx context.Context) (opResult, error)) error {
	ctx, span := s.tracer.Start(ctx, operation)
	started := time.Now()
	res, err := fn(ctx)
	duration := time.Since(started)
	span.End(err)
	s.metrics.Observe(ctx, operation, err == nil, duration)
	if err != nil {
		s.logger.Error("operation failed", "operation", operation, "entity_id", res.entityID, "error", err)
		s.recordAudit(ctx, operation, res, AuditStatusError, err, duration)
		return err
	}
	s.logger.Debug("operation completed", "operation", operation, "entity_id", res.entityID, "duration", duration)
	s.recordAudit(ctx, operation, res, AuditStatusSuccess, nil, duration)
	return nil
}

func (s *Service) recordAudit(ctx context.Context, operation string, res opResult, status AuditStatus, err error, duration time.Duration) {
	meta, ok := auditedOperations[operation]
	if !ok {
		return
	}
	entry := AuditEntry{
		Operation: operation,
		Entity:    meta.entity,
		Action:    meta.action,
		EntityID:  res.entityID,
		UserID:    res.userID,
		Status:    status,
		Duration:  duration,
		Timestamp: s.clock.Now(),
	}
	if err != nil {
		entry.Error = err.Error()
	}
	s.audit.Record(ctx, entry)
}
