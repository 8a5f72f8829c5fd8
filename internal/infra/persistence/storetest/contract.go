// Package storetest holds the behavioural contract every domain.PersistentStore
// implementation must satisfy. Backend packages call Run from their tests.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"esgbu/pkg/domain"
)

// Factory opens an empty store wired to engine.
type Factory func(t *testing.T, engine *domain.RulesEngine) domain.PersistentStore

// Catalog is the fixture seeded by Seed.
type Catalog struct {
	Group     domain.DataGroup
	Other     domain.DataGroup
	A, B, Sum domain.DataType
	Survey    domain.Survey
	Next      domain.Survey
}

// Seed creates two establishment groups, data types A and B, an operation SUM
// over them and two surveys.
func Seed(t *testing.T, store domain.PersistentStore) Catalog {
	t.Helper()
	var c Catalog
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		var err error
		if c.Group, err = tx.CreateDataGroup(domain.DataGroup{Name: "Staff", Kind: domain.KindEstablishment}); err != nil {
			return err
		}
		if c.Other, err = tx.CreateDataGroup(domain.DataGroup{Name: "Budget", Kind: domain.KindEstablishment, DisplayOrder: 1}); err != nil {
			return err
		}
		if c.A, err = tx.CreateDataType(domain.DataType{Code: "A", Type: domain.DataTypeNumber, GroupID: c.Group.ID}); err != nil {
			return err
		}
		if c.B, err = tx.CreateDataType(domain.DataType{Code: "B", Type: domain.DataTypeNumber, GroupID: c.Group.ID, GroupOrder: 1}); err != nil {
			return err
		}
		if c.Sum, err = tx.CreateDataType(domain.DataType{Code: "SUM", Type: domain.DataTypeOperation, GroupID: c.Other.ID}); err != nil {
			return err
		}
		if _, err = tx.CreateOperation(domain.Operation{DataTypeID: c.Sum.ID, Formula: "A+B"}); err != nil {
			return err
		}
		if c.Survey, err = tx.CreateSurvey(domain.Survey{Name: "2023", CalendarYear: 2023}); err != nil {
			return err
		}
		c.Next, err = tx.CreateSurvey(domain.Survey{Name: "2024", CalendarYear: 2024})
		return err
	})
	require.NoError(t, err)
	return c
}

// Run executes the contract against stores produced by open.
func Run(t *testing.T, open Factory) {
	t.Run("catalog", func(t *testing.T) { testCatalog(t, open) })
	t.Run("values", func(t *testing.T) { testValues(t, open) })
	t.Run("locks", func(t *testing.T) { testLocks(t, open) })
	t.Run("rollback", func(t *testing.T) { testRollback(t, open) })
	t.Run("rules", func(t *testing.T) { testRules(t, open) })
}

func testCatalog(t *testing.T, open Factory) {
	store := open(t, nil)
	c := Seed(t, store)
	ctx := context.Background()

	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.CreateDataType(domain.DataType{Code: "A", Type: domain.DataTypeNumber, GroupID: c.Group.ID})
		return err
	})
	var conflict domain.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, domain.EntityDataType, conflict.Entity)

	err = store.View(ctx, func(v domain.TransactionView) error {
		groups, err := v.ListDataGroups()
		require.NoError(t, err)
		require.Len(t, groups, 2)
		assert.Equal(t, domain.KindEstablishment, groups[0].Kind)

		types, err := v.ListDataTypes()
		require.NoError(t, err)
		assert.Len(t, types, 3)

		dt, ok, err := v.FindDataTypeByCode("SUM")
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, dt.IsOperation())
		assert.Equal(t, c.Other.ID, dt.GroupID)

		_, ok, err = v.FindDataTypeByCode("NOPE")
		require.NoError(t, err)
		assert.False(t, ok)

		ops, err := v.ListOperations(domain.KindEstablishment)
		require.NoError(t, err)
		require.Len(t, ops, 1)
		assert.Equal(t, "SUM", ops[0].Code)
		assert.Equal(t, "A+B", ops[0].Formula)

		ops, err = v.ListOperations(domain.KindPhysicalLibrary)
		require.NoError(t, err)
		assert.Empty(t, ops)

		surveys, err := v.ListSurveys()
		require.NoError(t, err)
		require.Len(t, surveys, 2)
		assert.Equal(t, c.Survey.ID, surveys[0].ID)
		assert.Equal(t, c.Next.ID, surveys[1].ID)
		assert.False(t, surveys[0].CreatedAt.IsZero())
		return nil
	})
	require.NoError(t, err)

	_, err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		updated, err := tx.UpdateOperation(c.Sum.ID, func(op *domain.Operation) error {
			op.Formula = "avg(A, B)"
			return nil
		})
		if err != nil {
			return err
		}
		assert.Equal(t, "avg(A, B)", updated.Formula)
		return nil
	})
	require.NoError(t, err)

	_, err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		return tx.DeleteOperation(c.Sum.ID)
	})
	require.NoError(t, err)
	_, err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		return tx.DeleteOperation(c.Sum.ID)
	})
	var nf domain.NotFoundError
	require.ErrorAs(t, err, &nf)
}

func testValues(t *testing.T, open Factory) {
	store := open(t, nil)
	c := Seed(t, store)
	ctx := context.Background()
	key := domain.ValueKey{Kind: domain.KindEstablishment, AdministrationID: 7, SurveyID: c.Survey.ID, DataTypeID: c.A.ID}

	var first domain.DataValue
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var err error
		first, err = tx.UpsertDataValue(domain.DataValue{
			Kind: key.Kind, AdministrationID: 7, SurveyID: c.Survey.ID, DataTypeID: c.A.ID, Value: domain.StringPtr("12"),
		})
		if err != nil {
			return err
		}
		_, err = tx.UpsertDataValue(domain.DataValue{
			Kind: key.Kind, AdministrationID: 7, SurveyID: c.Next.ID, DataTypeID: c.B.ID,
		})
		if err != nil {
			return err
		}
		_, err = tx.UpsertDataValue(domain.DataValue{
			Kind: domain.KindPhysicalLibrary, AdministrationID: 7, SurveyID: c.Survey.ID, DataTypeID: c.A.ID, Value: domain.StringPtr("99"),
		})
		return err
	})
	require.NoError(t, err)
	require.NotZero(t, first.ID)

	var second domain.DataValue
	_, err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var err error
		second, err = tx.UpsertDataValue(domain.DataValue{
			Kind: key.Kind, AdministrationID: 7, SurveyID: c.Survey.ID, DataTypeID: c.A.ID, Value: domain.StringPtr(domain.NoDataValue),
		})
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	err = store.View(ctx, func(v domain.TransactionView) error {
		got, ok, err := v.FindDataValue(key)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, domain.NoDataValue, got.Raw())

		all, err := v.ListDataValues(domain.KindEstablishment, 7)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Nil(t, all[1].Value)

		one, err := v.ListDataValues(domain.KindEstablishment, 7, c.Next.ID)
		require.NoError(t, err)
		require.Len(t, one, 1)
		assert.Equal(t, c.B.ID, one[0].DataTypeID)

		other, err := v.ListDataValues(domain.KindPhysicalLibrary, 7)
		require.NoError(t, err)
		require.Len(t, other, 1)
		assert.Equal(t, "99", other[0].Raw())
		return nil
	})
	require.NoError(t, err)

	_, err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		return tx.DeleteDataValue(key)
	})
	require.NoError(t, err)
	err = store.View(ctx, func(v domain.TransactionView) error {
		_, ok, err := v.FindDataValue(key)
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	})
	require.NoError(t, err)
}

func testLocks(t *testing.T, open Factory) {
	store := open(t, nil)
	c := Seed(t, store)
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	key := domain.LockKey{Kind: domain.KindEstablishment, AdministrationID: 3, GroupID: c.Group.ID, SurveyID: c.Survey.ID}
	otherKey := domain.LockKey{Kind: domain.KindEstablishment, AdministrationID: 3, GroupID: c.Other.ID, SurveyID: c.Survey.ID}
	libKey := domain.LockKey{Kind: domain.KindPhysicalLibrary, AdministrationID: 3, GroupID: c.Group.ID, SurveyID: c.Survey.ID}

	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		for _, l := range []domain.GroupLock{
			{Kind: key.Kind, AdministrationID: 3, GroupID: c.Group.ID, SurveyID: c.Survey.ID, UserID: 1, LockDate: now},
			{Kind: otherKey.Kind, AdministrationID: 3, GroupID: c.Other.ID, SurveyID: c.Survey.ID, UserID: 2, LockDate: now.Add(-time.Hour)},
			{Kind: libKey.Kind, AdministrationID: 3, GroupID: c.Group.ID, SurveyID: c.Survey.ID, UserID: 1, LockDate: now.Add(-time.Hour)},
		} {
			if _, err := tx.InsertGroupLock(l); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	_, err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.InsertGroupLock(domain.GroupLock{Kind: key.Kind, AdministrationID: 3, GroupID: c.Group.ID, SurveyID: c.Survey.ID, UserID: 9, LockDate: now})
		return err
	})
	require.True(t, errors.Is(err, domain.ErrLockConflict), "got %v", err)

	_, err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		n, err := tx.DeleteExpiredGroupLocks(domain.KindEstablishment, now.Add(-15*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		renewed, err := tx.RenewGroupLock(key, now.Add(time.Minute))
		require.NoError(t, err)
		assert.True(t, renewed.LockDate.Equal(now.Add(time.Minute)))
		assert.Equal(t, int64(1), renewed.UserID)
		return nil
	})
	require.NoError(t, err)

	err = store.View(ctx, func(v domain.TransactionView) error {
		_, ok, err := v.FindGroupLock(otherKey)
		require.NoError(t, err)
		assert.False(t, ok, "expired lock should be swept")
		got, ok, err := v.FindGroupLock(key)
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, got.LockDate.Equal(now.Add(time.Minute)))
		_, ok, err = v.FindGroupLock(libKey)
		require.NoError(t, err)
		assert.True(t, ok, "sweep is scoped to one kind")
		return nil
	})
	require.NoError(t, err)

	_, err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		n, err := tx.DeleteUserGroupLocks(domain.KindEstablishment, 1)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		return nil
	})
	require.NoError(t, err)

	err = store.View(ctx, func(v domain.TransactionView) error {
		est, err := v.ListGroupLocks(domain.KindEstablishment)
		require.NoError(t, err)
		assert.Empty(t, est)
		lib, err := v.ListGroupLocks(domain.KindPhysicalLibrary)
		require.NoError(t, err)
		assert.Len(t, lib, 1)
		return nil
	})
	require.NoError(t, err)

	_, err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		return tx.DeleteGroupLock(libKey)
	})
	require.NoError(t, err)
	_, err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		return tx.DeleteGroupLock(libKey)
	})
	var nf domain.NotFoundError
	require.ErrorAs(t, err, &nf)
}

func testRollback(t *testing.T, open Factory) {
	store := open(t, nil)
	ctx := context.Background()
	boom := errors.New("boom")
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, err := tx.CreateDataGroup(domain.DataGroup{Name: "tmp", Kind: domain.KindEstablishment}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	err = store.View(ctx, func(v domain.TransactionView) error {
		groups, err := v.ListDataGroups()
		require.NoError(t, err)
		assert.Empty(t, groups)
		return nil
	})
	require.NoError(t, err)
}

type blockSurveys struct{}

func (blockSurveys) Name() string { return "block_surveys" }

func (blockSurveys) Evaluate(_ context.Context, _ domain.TransactionView, changes []domain.Change) (domain.Result, error) {
	var res domain.Result
	for _, ch := range changes {
		if ch.Entity == domain.EntitySurvey {
			res.Violations = append(res.Violations, domain.Violation{Rule: "block_surveys", Severity: domain.SeverityBlock, Entity: ch.Entity})
		}
	}
	return res, nil
}

func testRules(t *testing.T, open Factory) {
	engine := domain.NewRulesEngine()
	engine.Register(blockSurveys{})
	store := open(t, engine)
	ctx := context.Background()
	res, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.CreateSurvey(domain.Survey{Name: "blocked"})
		return err
	})
	var rv domain.RuleViolationError
	require.ErrorAs(t, err, &rv)
	assert.True(t, res.HasBlocking())
	err = store.View(ctx, func(v domain.TransactionView) error {
		surveys, err := v.ListSurveys()
		require.NoError(t, err)
		assert.Empty(t, surveys)
		return nil
	})
	require.NoError(t, err)
}
