package core

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"esgbu/pkg/domain"
	"esgbu/pkg/formula"
)

// CreateDataGroup stores a new data group.
func (s *Service) CreateDataGroup(ctx context.Context, group domain.DataGroup) (domain.DataGroup, error) {
	var created domain.DataGroup
	err := s.run(ctx, opCreateDataGroup, func(ctx context.Context) (opResult, error) {
		res := opResult{entityID: group.Name}
		if strings.TrimSpace(group.Name) == "" {
			return res, fmt.Errorf("%w: data group name is required", domain.ErrInvalidInput)
		}
		_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			var err error
			created, err = tx.CreateDataGroup(group)
			return err
		})
		res.entityID = strconv.FormatInt(created.ID, 10)
		return res, err
	})
	return created, err
}

// CreateDataType stores a new data type. Codes are checked by the catalog
// rules at commit.
func (s *Service) CreateDataType(ctx context.Context, dt domain.DataType) (domain.DataType, error) {
	var created domain.DataType
	err := s.run(ctx, opCreateDataType, func(ctx context.Context) (opResult, error) {
		res := opResult{entityID: dt.Code}
		_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			var err error
			created, err = tx.CreateDataType(dt)
			return err
		})
		return res, err
	})
	return created, err
}

// CreateOperation attaches formula to an existing operation data type. The
// formula must parse, reference known codes only and not close a cycle.
func (s *Service) CreateOperation(ctx context.Context, dataTypeID int64, expr string) (domain.Operation, error) {
	var created domain.Operation
	err := s.run(ctx, opCreateOperation, func(ctx context.Context) (opResult, error) {
		res := opResult{entityID: strconv.FormatInt(dataTypeID, 10)}
		_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			var err error
			created, err = tx.CreateOperation(domain.Operation{DataTypeID: dataTypeID, Formula: strings.TrimSpace(expr)})
			return err
		})
		return res, err
	})
	return created, err
}

// UpdateOperationFormula replaces the formula of an operation.
func (s *Service) UpdateOperationFormula(ctx context.Context, dataTypeID int64, expr string) (domain.Operation, error) {
	var updated domain.Operation
	err := s.run(ctx, opUpdateOperation, func(ctx context.Context) (opResult, error) {
		res := opResult{entityID: strconv.FormatInt(dataTypeID, 10)}
		_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			var err error
			updated, err = tx.UpdateOperation(dataTypeID, func(op *domain.Operation) error {
				op.Formula = strings.TrimSpace(expr)
				return nil
			})
			return err
		})
		return res, err
	})
	return updated, err
}

// DeleteOperation removes the formula of an operation data type. Stored
// values are left in place.
func (s *Service) DeleteOperation(ctx context.Context, dataTypeID int64) error {
	return s.run(ctx, opDeleteOperation, func(ctx context.Context) (opResult, error) {
		res := opResult{entityID: strconv.FormatInt(dataTypeID, 10)}
		_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			return tx.DeleteOperation(dataTypeID)
		})
		return res, err
	})
}

// CreateSurvey stores a new survey.
func (s *Service) CreateSurvey(ctx context.Context, survey domain.Survey) (domain.Survey, error) {
	var created domain.Survey
	err := s.run(ctx, opCreateSurvey, func(ctx context.Context) (opResult, error) {
		res := opResult{entityID: survey.Name}
		if strings.TrimSpace(survey.Name) == "" {
			return res, fmt.Errorf("%w: survey name is required", domain.ErrInvalidInput)
		}
		_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			var err error
			created, err = tx.CreateSurvey(survey)
			return err
		})
		res.entityID = strconv.FormatInt(created.ID, 10)
		return res, err
	})
	return created, err
}

// ListSurveys returns every survey ordered by creation date.
func (s *Service) ListSurveys(ctx context.Context) ([]domain.Survey, error) {
	var surveys []domain.Survey
	err := s.run(ctx, opListSurveys, func(ctx context.Context) (opResult, error) {
		return opResult{}, s.store.View(ctx, func(v domain.TransactionView) error {
			var err error
			surveys, err = v.ListSurveys()
			return err
		})
	})
	return surveys, err
}

// KnownCodes returns every data type code in the catalog.
func (s *Service) KnownCodes(ctx context.Context) (formula.CodeSet, error) {
	var codes formula.CodeSet
	err := s.store.View(ctx, func(v domain.TransactionView) error {
		var err error
		codes, err = KnownCodesIn(v)
		return err
	})
	return codes, err
}

// ValidateFormula checks syntax and operands of expr against the catalog.
// Cycles are only detected once the formula is attached to an operation.
func (s *Service) ValidateFormula(ctx context.Context, expr string) error {
	codes, err := s.KnownCodes(ctx)
	if err != nil {
		return err
	}
	return formula.Validate(expr, codes)
}
