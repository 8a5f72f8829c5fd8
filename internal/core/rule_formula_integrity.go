package core

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"esgbu/pkg/domain"
	"esgbu/pkg/formula"
)

// FormulaIntegrityRule blocks operation formulas that do not parse, reference
// unknown codes, or close a dependency cycle between operations of one kind.
func FormulaIntegrityRule() domain.Rule {
	return formulaIntegrityRule{}
}

type formulaIntegrityRule struct{}

func (formulaIntegrityRule) Name() string { return "formula_integrity" }

func (r formulaIntegrityRule) Evaluate(_ context.Context, view domain.TransactionView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	var touched []domain.Operation
	for _, change := range changes {
		if change.Entity != domain.EntityOperation || change.Action == domain.ActionDelete {
			continue
		}
		if op, ok := change.After.(domain.Operation); ok {
			touched = append(touched, op)
		}
	}
	if len(touched) == 0 {
		return res, nil
	}

	known, err := KnownCodesIn(view)
	if err != nil {
		return domain.Result{}, err
	}
	kinds := make(map[domain.AdministrationKind]struct{})
	for _, op := range touched {
		id := strconv.FormatInt(op.DataTypeID, 10)
		if err := formula.Validate(op.Formula, known); err != nil {
			res.Violations = append(res.Violations, r.violation(id, err.Error()))
			continue
		}
		kind, ok, err := operationKind(view, op.DataTypeID)
		if err != nil {
			return domain.Result{}, err
		}
		if ok {
			kinds[kind] = struct{}{}
		}
	}

	for _, kind := range domain.AllKinds() {
		if _, ok := kinds[kind]; !ok {
			continue
		}
		defs, err := view.ListOperations(kind)
		if err != nil {
			return domain.Result{}, err
		}
		formulas := make(map[string]string, len(defs))
		ids := make(map[string]int64, len(defs))
		for _, def := range defs {
			formulas[def.Code] = def.Formula
			ids[def.Code] = def.DataTypeID
		}
		if cycle := formula.NewGraph(formulas).FindCycle(); cycle != nil {
			res.Violations = append(res.Violations, r.violation(strconv.FormatInt(ids[cycle[0]], 10),
				fmt.Sprintf("operations form a dependency cycle: %s", strings.Join(cycle, " -> "))))
		}
	}
	return res, nil
}

func (r formulaIntegrityRule) violation(id, msg string) domain.Violation {
	return domain.Violation{Rule: r.Name(), Severity: domain.SeverityBlock, Message: msg, Entity: domain.EntityOperation, EntityID: id}
}

func operationKind(view domain.TransactionView, dataTypeID int64) (domain.AdministrationKind, bool, error) {
	dt, ok, err := view.FindDataType(dataTypeID)
	if err != nil || !ok {
		return "", false, err
	}
	group, ok, err := view.FindDataGroup(dt.GroupID)
	if err != nil || !ok {
		return "", false, err
	}
	return group.Kind, true, nil
}

// KnownCodesIn returns every data type code visible in view.
func KnownCodesIn(view domain.TransactionView) (formula.CodeSet, error) {
	types, err := view.ListDataTypes()
	if err != nil {
		return nil, err
	}
	set := make(formula.CodeSet, len(types))
	for _, dt := range types {
		set.Add(dt.Code)
	}
	return set, nil
}
