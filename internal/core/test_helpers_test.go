package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"esgbu/pkg/domain"
)

var testEpoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock { return &testClock{now: testEpoch} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fixture is an establishment catalog:
//
//	Staff group:  A, B, C (number)
//	Totals group: TOTAL = sum(A,B,C), MEAN = avg(A,B,C), DOUBLE = TOTAL*2
type fixture struct {
	svc    *Service
	clock  *testClock
	staff  domain.DataGroup
	totals domain.DataGroup
	a, b   domain.DataType
	c      domain.DataType
	total  domain.DataType
	mean   domain.DataType
	double domain.DataType
	y2023  domain.Survey
	y2024  domain.Survey
}

const adminID = int64(42)

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{clock: newTestClock()}
	f.svc = NewInMemoryService(nil, append([]Option{WithClock(f.clock)}, opts...)...)
	t.Cleanup(func() { _ = f.svc.Close() })

	f.staff = mustCreate(t, func() (domain.DataGroup, error) {
		return f.svc.CreateDataGroup(ctx, domain.DataGroup{Name: "Staff", Kind: domain.KindEstablishment})
	})
	f.totals = mustCreate(t, func() (domain.DataGroup, error) {
		return f.svc.CreateDataGroup(ctx, domain.DataGroup{Name: "Totals", Kind: domain.KindEstablishment, DisplayOrder: 1})
	})
	newType := func(code string, kind domain.DataTypeKind, group domain.DataGroup) domain.DataType {
		return mustCreate(t, func() (domain.DataType, error) {
			return f.svc.CreateDataType(ctx, domain.DataType{Code: code, Name: code, Type: kind, GroupID: group.ID})
		})
	}
	f.a = newType("A", domain.DataTypeNumber, f.staff)
	f.b = newType("B", domain.DataTypeNumber, f.staff)
	f.c = newType("C", domain.DataTypeNumber, f.staff)
	f.total = newType("TOTAL", domain.DataTypeOperation, f.totals)
	f.mean = newType("MEAN", domain.DataTypeOperation, f.totals)
	f.double = newType("DOUBLE", domain.DataTypeOperation, f.totals)
	for dt, expr := range map[int64]string{f.total.ID: "sum(A,B,C)", f.mean.ID: "avg(A,B,C)"} {
		if _, err := f.svc.CreateOperation(ctx, dt, expr); err != nil {
			t.Fatalf("create operation %d: %v", dt, err)
		}
	}
	if _, err := f.svc.CreateOperation(ctx, f.double.ID, "TOTAL*2"); err != nil {
		t.Fatalf("create DOUBLE: %v", err)
	}
	f.y2023 = mustCreate(t, func() (domain.Survey, error) {
		return f.svc.CreateSurvey(ctx, domain.Survey{Name: "2023", CalendarYear: 2023})
	})
	f.y2024 = mustCreate(t, func() (domain.Survey, error) {
		return f.svc.CreateSurvey(ctx, domain.Survey{Name: "2024", CalendarYear: 2024})
	})
	return f
}

func mustCreate[T any](t *testing.T, fn func() (T, error)) T {
	t.Helper()
	v, err := fn()
	if err != nil {
		t.Fatalf("fixture: %v", err)
	}
	return v
}

// put stores raw values directly, bypassing locks and recomputation.
func (f *fixture) put(t *testing.T, surveyID int64, values map[int64]*string) {
	t.Helper()
	_, err := f.svc.Store().RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		for dt, v := range values {
			if _, err := tx.UpsertDataValue(domain.DataValue{
				Kind: domain.KindEstablishment, AdministrationID: adminID, SurveyID: surveyID, DataTypeID: dt, Value: v,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("put values: %v", err)
	}
}

// values returns the stored values of one survey keyed by data type id;
// rows with a nil value map to "<nil>".
func (f *fixture) values(t *testing.T, surveyID int64) map[int64]string {
	t.Helper()
	out := map[int64]string{}
	err := f.svc.Store().View(context.Background(), func(v domain.TransactionView) error {
		rows, err := v.ListDataValues(domain.KindEstablishment, adminID, surveyID)
		if err != nil {
			return err
		}
		for _, row := range rows {
			if row.Value == nil {
				out[row.DataTypeID] = "<nil>"
				continue
			}
			out[row.DataTypeID] = *row.Value
		}
		return nil
	})
	if err != nil {
		t.Fatalf("list values: %v", err)
	}
	return out
}

func (f *fixture) lockRequest(groupID, surveyID, userID int64) LockRequest {
	return LockRequest{Kind: domain.KindEstablishment, AdministrationID: adminID, GroupID: groupID, SurveyID: surveyID, UserID: userID}
}

func strPtr(v string) *string { return &v }

type captureAuditRecorder struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func (c *captureAuditRecorder) Record(_ context.Context, entry AuditEntry) {
	c.mu.Lock()
	c.entries = append(c.entries, entry)
	c.mu.Unlock()
}

func (c *captureAuditRecorder) has(op string, status AuditStatus) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, entry := range c.entries {
		if entry.Operation == op && entry.Status == status {
			return true
		}
	}
	return false
}

type metricsCall struct {
	op      string
	success bool
}

type captureMetricsRecorder struct {
	mu    sync.Mutex
	calls []metricsCall
}

func (c *captureMetricsRecorder) Observe(_ context.Context, op string, success bool, _ time.Duration) {
	c.mu.Lock()
	c.calls = append(c.calls, metricsCall{op: op, success: success})
	c.mu.Unlock()
}

func (c *captureMetricsRecorder) has(op string, success bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, call := range c.calls {
		if call.op == op && call.success == success {
			return true
		}
	}
	return false
}

type captureLogger struct {
	mu      sync.Mutex
	entries []string
}

func (l *captureLogger) log(level, msg string) {
	l.mu.Lock()
	l.entries = append(l.entries, level+": "+msg)
	l.mu.Unlock()
}

func (l *captureLogger) Debug(msg string, _ ...any) { l.log("debug", msg) }
func (l *captureLogger) Info(msg string, _ ...any)  { l.log("info", msg) }
func (l *captureLogger) Warn(msg string, _ ...any)  { l.log("warn", msg) }
func (l *captureLogger) Error(msg string, _ ...any) { l.log("error", msg) }

func (l *captureLogger) has(entry string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e == entry {
			return true
		}
	}
	return false
}
