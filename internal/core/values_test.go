package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"esgbu/pkg/domain"
)

func (f *fixture) edit(dataTypeID, surveyID, userID int64, value *string) ValueEdit {
	return ValueEdit{Kind: domain.KindEstablishment, AdministrationID: adminID, SurveyID: surveyID, DataTypeID: dataTypeID, UserID: userID, Value: value}
}

func TestSetDataValueRecomputesSurvey(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	if _, err := f.svc.SetDataValue(ctx, f.edit(f.a.ID, f.y2023.ID, 1, strPtr("3"))); err != nil {
		t.Fatalf("set A: %v", err)
	}
	res, err := f.svc.SetDataValue(ctx, f.edit(f.b.ID, f.y2023.ID, 1, strPtr("4.126")))
	if err != nil {
		t.Fatalf("set B: %v", err)
	}
	if res.Lock.GroupID != f.staff.ID || res.Lock.UserID != 1 {
		t.Fatalf("expected staff lock for user 1, got %+v", res.Lock)
	}
	if res.Value.Value == nil || *res.Value.Value != "4.126" {
		t.Fatalf("unexpected stored value %+v", res.Value)
	}
	got := f.values(t, f.y2023.ID)
	if got[f.total.ID] != "7.13" || got[f.double.ID] != "14.26" {
		t.Fatalf("unexpected operation values %v", got)
	}
	if len(f.values(t, f.y2024.ID)) != 0 {
		t.Fatal("other surveys must not be recomputed")
	}
}

func TestSetDataValueRespectsGroupLock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	if _, err := f.svc.SetDataValue(ctx, f.edit(f.a.ID, f.y2023.ID, 1, strPtr("1"))); err != nil {
		t.Fatalf("set by holder: %v", err)
	}
	_, err := f.svc.SetDataValue(ctx, f.edit(f.b.ID, f.y2023.ID, 2, strPtr("5")))
	var busy *domain.GroupBusyError
	if !errors.As(err, &busy) || busy.HolderID != 1 {
		t.Fatalf("expected busy error held by 1, got %v", err)
	}
	if _, ok := f.values(t, f.y2023.ID)[f.b.ID]; ok {
		t.Fatal("rejected edit must not be stored")
	}
	if _, err := f.svc.SetDataValue(ctx, f.edit(f.b.ID, f.y2024.ID, 2, strPtr("5"))); err != nil {
		t.Fatalf("another survey is another lock: %v", err)
	}
	f.clock.Advance(DefaultLockTTL + time.Second)
	if _, err := f.svc.SetDataValue(ctx, f.edit(f.b.ID, f.y2023.ID, 2, strPtr("5"))); err != nil {
		t.Fatalf("expired lock should be taken over: %v", err)
	}
}

func TestSetDataValueRejectsDerivedAndInvalid(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	if _, err := f.svc.SetDataValue(ctx, f.edit(f.total.ID, f.y2023.ID, 1, strPtr("10"))); !errors.Is(err, domain.ErrDerivedValue) {
		t.Fatalf("expected ErrDerivedValue, got %v", err)
	}
	if _, err := f.svc.SetDataValue(ctx, f.edit(f.a.ID, f.y2023.ID, 1, strPtr("ten"))); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	for _, ok := range []*string{nil, strPtr(""), strPtr(domain.NoDataValue), strPtr(" 12.5 ")} {
		if _, err := f.svc.SetDataValue(ctx, f.edit(f.a.ID, f.y2023.ID, 1, ok)); err != nil {
			t.Fatalf("value %v should be accepted: %v", ok, err)
		}
	}
	var nf domain.NotFoundError
	if _, err := f.svc.SetDataValue(ctx, f.edit(f.a.ID, 999, 1, strPtr("1"))); !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError for unknown survey, got %v", err)
	}
	if _, err := f.svc.SetDataValue(ctx, f.edit(999, f.y2023.ID, 1, strPtr("1"))); !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError for unknown data type, got %v", err)
	}
	if _, err := f.svc.SetDataValue(ctx, f.edit(f.a.ID, f.y2023.ID, 0, strPtr("1"))); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for missing user, got %v", err)
	}
}

func TestDeleteDataValueRecomputes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	for dt, v := range map[int64]string{f.a.ID: "2", f.b.ID: "6"} {
		if _, err := f.svc.SetDataValue(ctx, f.edit(dt, f.y2023.ID, 1, strPtr(v))); err != nil {
			t.Fatalf("set: %v", err)
		}
	}
	if got := f.values(t, f.y2023.ID)[f.mean.ID]; got != "4.00" {
		t.Fatalf("expected mean 4.00, got %s", got)
	}
	res, err := f.svc.DeleteDataValue(ctx, f.edit(f.b.ID, f.y2023.ID, 1, nil))
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if res.Value.Value == nil || *res.Value.Value != "6" {
		t.Fatalf("expected deleted value to be returned, got %+v", res.Value)
	}
	got := f.values(t, f.y2023.ID)
	if _, ok := got[f.b.ID]; ok {
		t.Fatal("B should be gone")
	}
	if got[f.mean.ID] != "2.00" || got[f.total.ID] != "2.00" {
		t.Fatalf("unexpected values after delete %v", got)
	}
	if _, err := f.svc.DeleteDataValue(ctx, f.edit(f.b.ID, f.y2023.ID, 1, nil)); err != nil {
		t.Fatalf("deleting an absent value should succeed: %v", err)
	}
}

// interleavedStore runs between in its own transaction just before the
// second transaction it is asked for, i.e. after an edit took its lock and
// before the value is written.
type interleavedStore struct {
	domain.PersistentStore
	calls   int
	between func(domain.Transaction) error
}

func (s *interleavedStore) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	s.calls++
	if s.calls == 2 {
		if _, err := s.PersistentStore.RunInTransaction(ctx, s.between); err != nil {
			return domain.Result{}, err
		}
	}
	return s.PersistentStore.RunInTransaction(ctx, fn)
}

func TestSetDataValueRelocksWhenLockVanished(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	key := f.lockRequest(f.staff.ID, f.y2023.ID, 1).Key()
	store := &interleavedStore{PersistentStore: f.svc.Store(), between: func(tx domain.Transaction) error {
		return tx.DeleteGroupLock(key)
	}}
	svc := NewService(store, WithClock(f.clock))

	res, err := svc.SetDataValue(ctx, f.edit(f.a.ID, f.y2023.ID, 1, strPtr("3")))
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	if res.Lock.UserID != 1 || res.Lock.GroupID != f.staff.ID {
		t.Fatalf("unexpected lock %+v", res.Lock)
	}
	status, err := f.svc.LockStatus(ctx, key)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !status.Held || status.Lock.UserID != 1 {
		t.Fatalf("expected the edit to leave the lock held by user 1, got %+v", status)
	}
	if f.values(t, f.y2023.ID)[f.a.ID] != "3" {
		t.Fatal("value should be stored")
	}
}

func TestSetDataValueRejectsWhenLockTakenOver(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	key := f.lockRequest(f.staff.ID, f.y2023.ID, 1).Key()
	store := &interleavedStore{PersistentStore: f.svc.Store(), between: func(tx domain.Transaction) error {
		if err := tx.DeleteGroupLock(key); err != nil {
			return err
		}
		_, err := tx.InsertGroupLock(domain.GroupLock{
			Kind: key.Kind, AdministrationID: key.AdministrationID, GroupID: key.GroupID, SurveyID: key.SurveyID,
			UserID: 2, LockDate: f.clock.Now(),
		})
		return err
	}}
	svc := NewService(store, WithClock(f.clock))

	_, err := svc.SetDataValue(ctx, f.edit(f.a.ID, f.y2023.ID, 1, strPtr("3")))
	var busy *domain.GroupBusyError
	if !errors.As(err, &busy) || busy.HolderID != 2 {
		t.Fatalf("expected busy error held by 2, got %v", err)
	}
	if _, ok := f.values(t, f.y2023.ID)[f.a.ID]; ok {
		t.Fatal("edit without the lock must not be stored")
	}
}
