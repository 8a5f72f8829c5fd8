package core

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"esgbu/pkg/domain"
	"esgbu/pkg/formula"
)

// ValueEdit is one user edit of a data value. A nil Value clears the cell
// while keeping the row.
type ValueEdit struct {
	Kind             domain.AdministrationKind
	AdministrationID int64
	SurveyID         int64
	DataTypeID       int64
	UserID           int64
	Value            *string
}

func (e ValueEdit) key() domain.ValueKey {
	return domain.ValueKey{Kind: e.Kind, AdministrationID: e.AdministrationID, SurveyID: e.SurveyID, DataTypeID: e.DataTypeID}
}

// EditResult is the stored value and the recomputation it triggered.
type EditResult struct {
	Value     domain.DataValue
	Lock      domain.GroupLock
	Recompute RecomputeReport
}

// SetDataValue takes the group lock of the edited data type, stores the value
// and recomputes the survey's operations in the same transaction.
func (s *Service) SetDataValue(ctx context.Context, edit ValueEdit) (EditResult, error) {
	var out EditResult
	err := s.run(ctx, opSetDataValue, func(ctx context.Context) (opResult, error) {
		res := opResult{entityID: edit.key().String(), userID: edit.UserID}
		var err error
		out, err = s.edit(ctx, edit, func(tx domain.Transaction, dt domain.DataType) (domain.DataValue, error) {
			if err := checkValue(dt, edit.Value); err != nil {
				return domain.DataValue{}, err
			}
			return tx.UpsertDataValue(domain.DataValue{
				Kind:             edit.Kind,
				AdministrationID: edit.AdministrationID,
				SurveyID:         edit.SurveyID,
				DataTypeID:       edit.DataTypeID,
				Value:            edit.Value,
			})
		})
		return res, err
	})
	return out, err
}

// DeleteDataValue removes the stored value under the same locking and
// recomputation rules as SetDataValue. edit.Value is ignored.
func (s *Service) DeleteDataValue(ctx context.Context, edit ValueEdit) (EditResult, error) {
	var out EditResult
	err := s.run(ctx, opDeleteDataValue, func(ctx context.Context) (opResult, error) {
		res := opResult{entityID: edit.key().String(), userID: edit.UserID}
		var err error
		out, err = s.edit(ctx, edit, func(tx domain.Transaction, _ domain.DataType) (domain.DataValue, error) {
			key := edit.key()
			prev, ok, err := tx.FindDataValue(key)
			if err != nil || !ok {
				return domain.DataValue{}, err
			}
			return prev, tx.DeleteDataValue(key)
		})
		return res, err
	})
	return out, err
}

func (s *Service) edit(ctx context.Context, edit ValueEdit, write func(domain.Transaction, domain.DataType) (domain.DataValue, error)) (EditResult, error) {
	if !edit.Kind.Valid() {
		return EditResult{}, fmt.Errorf("%w: administration kind %q", domain.ErrInvalidInput, edit.Kind)
	}
	if edit.AdministrationID <= 0 || edit.SurveyID <= 0 || edit.UserID <= 0 {
		return EditResult{}, fmt.Errorf("%w: value edit needs positive administration, survey and user ids", domain.ErrInvalidInput)
	}
	dt, err := s.editTarget(ctx, edit)
	if err != nil {
		return EditResult{}, err
	}
	if dt.IsOperation() {
		return EditResult{}, fmt.Errorf("%w: %s is computed by formula", domain.ErrDerivedValue, dt.Code)
	}
	req := LockRequest{
		Kind:             edit.Kind,
		AdministrationID: edit.AdministrationID,
		GroupID:          dt.GroupID,
		SurveyID:         edit.SurveyID,
		UserID:           edit.UserID,
	}
	lock, err := s.acquire(ctx, req)
	if err != nil {
		return EditResult{}, err
	}

	out := EditResult{Lock: lock}
	_, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		// Re-take the lock here: it may have been swept or superseded since acquire.
		held, err := s.lockInTx(tx, req)
		if errors.Is(err, domain.ErrLockConflict) {
			return s.busy(domain.GroupLock{Kind: req.Kind, AdministrationID: req.AdministrationID, GroupID: req.GroupID, SurveyID: req.SurveyID})
		}
		if err != nil {
			return err
		}
		out.Lock = held
		out.Value, err = write(tx, dt)
		if err != nil {
			return err
		}
		out.Recompute, err = recomputeInTx(ctx, tx, edit.Kind, edit.AdministrationID, []int64{edit.SurveyID})
		return err
	})
	if err != nil {
		return EditResult{}, err
	}
	return out, nil
}

// editTarget resolves the edited data type and checks the survey exists
// before any lock is taken.
func (s *Service) editTarget(ctx context.Context, edit ValueEdit) (domain.DataType, error) {
	var dt domain.DataType
	err := s.store.View(ctx, func(v domain.TransactionView) error {
		found, ok, err := v.FindDataType(edit.DataTypeID)
		if err != nil {
			return err
		}
		if !ok {
			return domain.NotFoundError{Entity: domain.EntityDataType, ID: strconv.FormatInt(edit.DataTypeID, 10)}
		}
		if _, ok, err := v.FindSurvey(edit.SurveyID); err != nil {
			return err
		} else if !ok {
			return domain.NotFoundError{Entity: domain.EntitySurvey, ID: strconv.FormatInt(edit.SurveyID, 10)}
		}
		dt = found
		return nil
	})
	return dt, err
}

// checkValue accepts empty and ND values for every type; number types
// otherwise need a decimal literal.
func checkValue(dt domain.DataType, value *string) error {
	if value == nil || dt.Type != domain.DataTypeNumber {
		return nil
	}
	v := strings.TrimSpace(*value)
	if v == "" || v == formula.NoData {
		return nil
	}
	if _, err := strconv.ParseFloat(v, 64); err != nil {
		return fmt.Errorf("%w: %s expects a number, got %q", domain.ErrInvalidInput, dt.Code, *value)
	}
	return nil
}
