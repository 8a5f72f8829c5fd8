// Package memory provides an in-memory implementation of the persistence
// store used for tests and ephemeral environments.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"esgbu/pkg/domain"
)

// Compile-time contract assertion ensuring Store adheres to the domain persistence interface.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

type memoryState struct {
	groups     map[int64]domain.DataGroup
	dataTypes  map[int64]domain.DataType
	operations map[int64]domain.Operation
	surveys    map[int64]domain.Survey
	values     map[domain.ValueKey]domain.DataValue
	locks      map[domain.LockKey]domain.GroupLock
	seq        map[domain.EntityType]int64
}

func newMemoryState() memoryState {
	return memoryState{
		groups:     make(map[int64]domain.DataGroup),
		dataTypes:  make(map[int64]domain.DataType),
		operations: make(map[int64]domain.Operation),
		surveys:    make(map[int64]domain.Survey),
		values:     make(map[domain.ValueKey]domain.DataValue),
		locks:      make(map[domain.LockKey]domain.GroupLock),
		seq:        make(map[domain.EntityType]int64),
	}
}

func cloneValue(v domain.DataValue) domain.DataValue {
	if v.Value != nil {
		s := *v.Value
		v.Value = &s
	}
	return v
}

func (s memoryState) clone() memoryState {
	c := memoryState{
		groups:     make(map[int64]domain.DataGroup, len(s.groups)),
		dataTypes:  make(map[int64]domain.DataType, len(s.dataTypes)),
		operations: make(map[int64]domain.Operation, len(s.operations)),
		surveys:    make(map[int64]domain.Survey, len(s.surveys)),
		values:     make(map[domain.ValueKey]domain.DataValue, len(s.values)),
		locks:      make(map[domain.LockKey]domain.GroupLock, len(s.locks)),
		seq:        make(map[domain.EntityType]int64, len(s.seq)),
	}
	for k, v := range s.groups {
		c.groups[k] = v
	}
	for k, v := range s.dataTypes {
		c.dataTypes[k] = v
	}
	for k, v := range s.operations {
		c.operations[k] = v
	}
	for k, v := range s.surveys {
		c.surveys[k] = v
	}
	for k, v := range s.values {
		c.values[k] = cloneValue(v)
	}
	for k, v := range s.locks {
		c.locks[k] = v
	}
	for k, v := range s.seq {
		c.seq[k] = v
	}
	return c
}

func (s *memoryState) nextID(entity domain.EntityType) int64 {
	s.seq[entity]++
	return s.seq[entity]
}

// Store is an in-memory implementation of domain.PersistentStore. Transactions
// run against a copy of the state under a single writer lock and are swapped in
// only after the rules engine accepts the change set.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

// RulesEngine exposes the configured rules engine.
func (s *Store) RulesEngine() *RulesEngine { return s.engine }

// SetNowFunc overrides the transaction clock.
func (s *Store) SetNowFunc(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fn == nil {
		fn = func() time.Time { return time.Now().UTC() }
	}
	s.nowFn = fn
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error { return nil }

type transaction struct {
	state   memoryState
	changes []Change
	now     time.Time
}

type transactionView struct {
	state *memoryState
}

// RunInTransaction executes fn within a transactional snapshot, evaluates the
// rules engine and commits the state when no blocking violation is reported.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		state: s.state.clone(),
		now:   s.nowFn(),
	}
	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		res, err := s.engine.Evaluate(ctx, transactionView{state: &tx.state}, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(ctx context.Context, fn func(TransactionView) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	snapshot := s.state.clone()
	s.mu.RUnlock()
	return fn(transactionView{state: &snapshot})
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

func (tx *transaction) view() transactionView { return transactionView{state: &tx.state} }

func (tx *transaction) Now() time.Time { return tx.now }

func (tx *transaction) ListDataGroups() ([]domain.DataGroup, error) { return tx.view().ListDataGroups() }
func (tx *transaction) FindDataGroup(id int64) (domain.DataGroup, bool, error) {
	return tx.view().FindDataGroup(id)
}
func (tx *transaction) ListDataTypes() ([]domain.DataType, error) { return tx.view().ListDataTypes() }
func (tx *transaction) FindDataType(id int64) (domain.DataType, bool, error) {
	return tx.view().FindDataType(id)
}
func (tx *transaction) FindDataTypeByCode(code string) (domain.DataType, bool, error) {
	return tx.view().FindDataTypeByCode(code)
}
func (tx *transaction) ListOperations(kind domain.AdministrationKind) ([]domain.OperationDefinition, error) {
	return tx.view().ListOperations(kind)
}
func (tx *transaction) FindOperation(dataTypeID int64) (domain.Operation, bool, error) {
	return tx.view().FindOperation(dataTypeID)
}
func (tx *transaction) ListSurveys() ([]domain.Survey, error) { return tx.view().ListSurveys() }
func (tx *transaction) FindSurvey(id int64) (domain.Survey, bool, error) {
	return tx.view().FindSurvey(id)
}
func (tx *transaction) ListDataValues(kind domain.AdministrationKind, administrationID int64, surveyIDs ...int64) ([]domain.DataValue, error) {
	return tx.view().ListDataValues(kind, administrationID, surveyIDs...)
}
func (tx *transaction) FindDataValue(key domain.ValueKey) (domain.DataValue, bool, error) {
	return tx.view().FindDataValue(key)
}
func (tx *transaction) FindGroupLock(key domain.LockKey) (domain.GroupLock, bool, error) {
	return tx.view().FindGroupLock(key)
}
func (tx *transaction) ListGroupLocks(kind domain.AdministrationKind) ([]domain.GroupLock, error) {
	return tx.view().ListGroupLocks(kind)
}

// CreateDataGroup stores a new group.
func (tx *transaction) CreateDataGroup(g domain.DataGroup) (domain.DataGroup, error) {
	if !g.Kind.Valid() {
		return domain.DataGroup{}, fmt.Errorf("%w: administration kind %q", domain.ErrInvalidInput, g.Kind)
	}
	g.ID = tx.state.nextID(domain.EntityDataGroup)
	tx.state.groups[g.ID] = g
	tx.recordChange(Change{Entity: domain.EntityDataGroup, Action: domain.ActionCreate, After: g})
	return g, nil
}

// CreateDataType stores a new data type; codes are unique.
func (tx *transaction) CreateDataType(d domain.DataType) (domain.DataType, error) {
	if _, ok := tx.state.groups[d.GroupID]; !ok {
		return domain.DataType{}, domain.NotFoundError{Entity: domain.EntityDataGroup, ID: strconv.FormatInt(d.GroupID, 10)}
	}
	for _, existing := range tx.state.dataTypes {
		if existing.Code == d.Code {
			return domain.DataType{}, domain.ConflictError{Entity: domain.EntityDataType, Key: d.Code}
		}
	}
	d.ID = tx.state.nextID(domain.EntityDataType)
	tx.state.dataTypes[d.ID] = d
	tx.recordChange(Change{Entity: domain.EntityDataType, Action: domain.ActionCreate, After: d})
	return d, nil
}

// CreateOperation attaches a formula to an existing data type.
func (tx *transaction) CreateOperation(op domain.Operation) (domain.Operation, error) {
	if _, ok := tx.state.dataTypes[op.DataTypeID]; !ok {
		return domain.Operation{}, domain.NotFoundError{Entity: domain.EntityDataType, ID: strconv.FormatInt(op.DataTypeID, 10)}
	}
	if _, ok := tx.state.operations[op.DataTypeID]; ok {
		return domain.Operation{}, domain.ConflictError{Entity: domain.EntityOperation, Key: strconv.FormatInt(op.DataTypeID, 10)}
	}
	tx.state.operations[op.DataTypeID] = op
	tx.recordChange(Change{Entity: domain.EntityOperation, Action: domain.ActionCreate, After: op})
	return op, nil
}

// UpdateOperation mutates an operation in place.
func (tx *transaction) UpdateOperation(dataTypeID int64, mutator func(*domain.Operation) error) (domain.Operation, error) {
	current, ok := tx.state.operations[dataTypeID]
	if !ok {
		return domain.Operation{}, domain.NotFoundError{Entity: domain.EntityOperation, ID: strconv.FormatInt(dataTypeID, 10)}
	}
	before := current
	if err := mutator(&current); err != nil {
		return domain.Operation{}, err
	}
	current.DataTypeID = dataTypeID
	tx.state.operations[dataTypeID] = current
	tx.recordChange(Change{Entity: domain.EntityOperation, Action: domain.ActionUpdate, Before: before, After: current})
	return current, nil
}

// DeleteOperation removes an operation.
func (tx *transaction) DeleteOperation(dataTypeID int64) error {
	current, ok := tx.state.operations[dataTypeID]
	if !ok {
		return domain.NotFoundError{Entity: domain.EntityOperation, ID: strconv.FormatInt(dataTypeID, 10)}
	}
	delete(tx.state.operations, dataTypeID)
	tx.recordChange(Change{Entity: domain.EntityOperation, Action: domain.ActionDelete, Before: current})
	return nil
}

// CreateSurvey stores a new survey stamped with the transaction time.
func (tx *transaction) CreateSurvey(s domain.Survey) (domain.Survey, error) {
	s.ID = tx.state.nextID(domain.EntitySurvey)
	if s.CreatedAt.IsZero() {
		s.CreatedAt = tx.now
	}
	tx.state.surveys[s.ID] = s
	tx.recordChange(Change{Entity: domain.EntitySurvey, Action: domain.ActionCreate, After: s})
	return s, nil
}

// UpsertDataValue inserts or replaces the value at v.Key().
func (tx *transaction) UpsertDataValue(v domain.DataValue) (domain.DataValue, error) {
	if _, ok := tx.state.dataTypes[v.DataTypeID]; !ok {
		return domain.DataValue{}, domain.NotFoundError{Entity: domain.EntityDataType, ID: strconv.FormatInt(v.DataTypeID, 10)}
	}
	if _, ok := tx.state.surveys[v.SurveyID]; !ok {
		return domain.DataValue{}, domain.NotFoundError{Entity: domain.EntitySurvey, ID: strconv.FormatInt(v.SurveyID, 10)}
	}
	key := v.Key()
	v.UpdatedAt = tx.now
	action := domain.ActionCreate
	var before any
	if existing, ok := tx.state.values[key]; ok {
		v.ID = existing.ID
		action = domain.ActionUpdate
		before = existing
	} else {
		v.ID = tx.state.nextID(domain.EntityDataValue)
	}
	v = cloneValue(v)
	tx.state.values[key] = v
	tx.recordChange(Change{Entity: domain.EntityDataValue, Action: action, Before: before, After: v})
	return cloneValue(v), nil
}

// DeleteDataValue removes the value at key.
func (tx *transaction) DeleteDataValue(key domain.ValueKey) error {
	existing, ok := tx.state.values[key]
	if !ok {
		return domain.NotFoundError{Entity: domain.EntityDataValue, ID: key.String()}
	}
	delete(tx.state.values, key)
	tx.recordChange(Change{Entity: domain.EntityDataValue, Action: domain.ActionDelete, Before: existing})
	return nil
}

// DeleteExpiredGroupLocks removes locks of kind dated before cutoff.
func (tx *transaction) DeleteExpiredGroupLocks(kind domain.AdministrationKind, cutoff time.Time) (int, error) {
	removed := 0
	for key, lock := range tx.state.locks {
		if key.Kind == kind && lock.LockDate.Before(cutoff) {
			delete(tx.state.locks, key)
			tx.recordChange(Change{Entity: domain.EntityGroupLock, Action: domain.ActionDelete, Before: lock})
			removed++
		}
	}
	return removed, nil
}

// DeleteUserGroupLocks removes every lock of kind held by userID.
func (tx *transaction) DeleteUserGroupLocks(kind domain.AdministrationKind, userID int64) (int, error) {
	removed := 0
	for key, lock := range tx.state.locks {
		if key.Kind == kind && lock.UserID == userID {
			delete(tx.state.locks, key)
			tx.recordChange(Change{Entity: domain.EntityGroupLock, Action: domain.ActionDelete, Before: lock})
			removed++
		}
	}
	return removed, nil
}

// InsertGroupLock stores a lock, failing with ErrLockConflict if the key is taken.
func (tx *transaction) InsertGroupLock(lock domain.GroupLock) (domain.GroupLock, error) {
	key := lock.Key()
	if _, ok := tx.state.locks[key]; ok {
		return domain.GroupLock{}, domain.ErrLockConflict
	}
	lock.ID = tx.state.nextID(domain.EntityGroupLock)
	tx.state.locks[key] = lock
	tx.recordChange(Change{Entity: domain.EntityGroupLock, Action: domain.ActionCreate, After: lock})
	return lock, nil
}

// RenewGroupLock moves the lock date of an existing lock.
func (tx *transaction) RenewGroupLock(key domain.LockKey, lockDate time.Time) (domain.GroupLock, error) {
	lock, ok := tx.state.locks[key]
	if !ok {
		return domain.GroupLock{}, domain.NotFoundError{Entity: domain.EntityGroupLock, ID: key.String()}
	}
	before := lock
	lock.LockDate = lockDate
	tx.state.locks[key] = lock
	tx.recordChange(Change{Entity: domain.EntityGroupLock, Action: domain.ActionUpdate, Before: before, After: lock})
	return lock, nil
}

// DeleteGroupLock removes the lock at key.
func (tx *transaction) DeleteGroupLock(key domain.LockKey) error {
	lock, ok := tx.state.locks[key]
	if !ok {
		return domain.NotFoundError{Entity: domain.EntityGroupLock, ID: key.String()}
	}
	delete(tx.state.locks, key)
	tx.recordChange(Change{Entity: domain.EntityGroupLock, Action: domain.ActionDelete, Before: lock})
	return nil
}

func (v transactionView) ListDataGroups() ([]domain.DataGroup, error) {
	out := make([]domain.DataGroup, 0, len(v.state.groups))
	for _, g := range v.state.groups {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v transactionView) FindDataGroup(id int64) (domain.DataGroup, bool, error) {
	g, ok := v.state.groups[id]
	return g, ok, nil
}

func (v transactionView) ListDataTypes() ([]domain.DataType, error) {
	out := make([]domain.DataType, 0, len(v.state.dataTypes))
	for _, d := range v.state.dataTypes {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v transactionView) FindDataType(id int64) (domain.DataType, bool, error) {
	d, ok := v.state.dataTypes[id]
	return d, ok, nil
}

func (v transactionView) FindDataTypeByCode(code string) (domain.DataType, bool, error) {
	for _, d := range v.state.dataTypes {
		if d.Code == code {
			return d, true, nil
		}
	}
	return domain.DataType{}, false, nil
}

func (v transactionView) ListOperations(kind domain.AdministrationKind) ([]domain.OperationDefinition, error) {
	var out []domain.OperationDefinition
	for id, op := range v.state.operations {
		dt, ok := v.state.dataTypes[id]
		if !ok {
			continue
		}
		group, ok := v.state.groups[dt.GroupID]
		if !ok || group.Kind != kind {
			continue
		}
		out = append(out, domain.OperationDefinition{Operation: op, Code: dt.Code, GroupID: dt.GroupID, Kind: group.Kind})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DataTypeID < out[j].DataTypeID })
	return out, nil
}

func (v transactionView) FindOperation(dataTypeID int64) (domain.Operation, bool, error) {
	op, ok := v.state.operations[dataTypeID]
	return op, ok, nil
}

func (v transactionView) ListSurveys() ([]domain.Survey, error) {
	out := make([]domain.Survey, 0, len(v.state.surveys))
	for _, s := range v.state.surveys {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v transactionView) FindSurvey(id int64) (domain.Survey, bool, error) {
	s, ok := v.state.surveys[id]
	return s, ok, nil
}

func (v transactionView) ListDataValues(kind domain.AdministrationKind, administrationID int64, surveyIDs ...int64) ([]domain.DataValue, error) {
	var filter map[int64]struct{}
	if len(surveyIDs) > 0 {
		filter = make(map[int64]struct{}, len(surveyIDs))
		for _, id := range surveyIDs {
			filter[id] = struct{}{}
		}
	}
	var out []domain.DataValue
	for key, val := range v.state.values {
		if key.Kind != kind || key.AdministrationID != administrationID {
			continue
		}
		if filter != nil {
			if _, ok := filter[key.SurveyID]; !ok {
				continue
			}
		}
		out = append(out, cloneValue(val))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SurveyID != out[j].SurveyID {
			return out[i].SurveyID < out[j].SurveyID
		}
		return out[i].DataTypeID < out[j].DataTypeID
	})
	return out, nil
}

func (v transactionView) FindDataValue(key domain.ValueKey) (domain.DataValue, bool, error) {
	val, ok := v.state.values[key]
	if !ok {
		return domain.DataValue{}, false, nil
	}
	return cloneValue(val), true, nil
}

func (v transactionView) FindGroupLock(key domain.LockKey) (domain.GroupLock, bool, error) {
	l, ok := v.state.locks[key]
	return l, ok, nil
}

func (v transactionView) ListGroupLocks(kind domain.AdministrationKind) ([]domain.GroupLock, error) {
	var out []domain.GroupLock
	for key, l := range v.state.locks {
		if key.Kind == kind {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
