package core

import (
	"context"
	"fmt"
	"runtime"
	"strconv"

	"golang.org/x/sync/errgroup"

	"esgbu/pkg/domain"
	"esgbu/pkg/formula"
)

// FailedOperation is an operation that evaluated to ERROR.
type FailedOperation struct {
	SurveyID int64  `json:"survey_id"`
	Code     string `json:"code"`
	Reason   string `json:"reason"`
}

// RecomputeReport summarises one recomputation.
type RecomputeReport struct {
	Surveys   []int64           `json:"surveys"`
	Evaluated int               `json:"evaluated"`
	Written   int               `json:"written"`
	Unchanged int               `json:"unchanged"`
	Failed    []FailedOperation `json:"failed,omitempty"`
}

func (r *RecomputeReport) merge(other RecomputeReport) {
	r.Surveys = append(r.Surveys, other.Surveys...)
	r.Evaluated += other.Evaluated
	r.Written += other.Written
	r.Unchanged += other.Unchanged
	r.Failed = append(r.Failed, other.Failed...)
}

// RecomputeOperations evaluates every operation of kind for one administration
// and survey and stores the results. Values that did not change are not rewritten.
func (s *Service) RecomputeOperations(ctx context.Context, kind domain.AdministrationKind, administrationID, surveyID int64) (RecomputeReport, error) {
	var report RecomputeReport
	err := s.run(ctx, opRecompute, func(ctx context.Context) (opResult, error) {
		res := opResult{entityID: fmt.Sprintf("%s/%d/%d", kind, administrationID, surveyID)}
		if !kind.Valid() {
			return res, fmt.Errorf("%w: administration kind %q", domain.ErrInvalidInput, kind)
		}
		_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			var err error
			report, err = recomputeInTx(ctx, tx, kind, administrationID, []int64{surveyID})
			return err
		})
		return res, err
	})
	return report, err
}

// RecomputeOperationsForAllSurveys recomputes the given surveys, or every
// survey in creation order when surveyIDs is empty, in one transaction with a
// single batched read of the administration's values.
func (s *Service) RecomputeOperationsForAllSurveys(ctx context.Context, kind domain.AdministrationKind, administrationID int64, surveyIDs ...int64) (RecomputeReport, error) {
	var report RecomputeReport
	err := s.run(ctx, opRecomputeAll, func(ctx context.Context) (opResult, error) {
		res := opResult{entityID: fmt.Sprintf("%s/%d", kind, administrationID)}
		if !kind.Valid() {
			return res, fmt.Errorf("%w: administration kind %q", domain.ErrInvalidInput, kind)
		}
		_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			ids := surveyIDs
			if len(ids) == 0 {
				surveys, err := tx.ListSurveys()
				if err != nil {
					return err
				}
				for _, sv := range surveys {
					ids = append(ids, sv.ID)
				}
			}
			if len(ids) == 0 {
				return nil
			}
			var err error
			report, err = recomputeInTx(ctx, tx, kind, administrationID, ids)
			return err
		})
		return res, err
	})
	if err == nil && len(report.Failed) > 0 {
		s.logger.Warn("operations evaluated to ERROR", "kind", string(kind), "administration_id", administrationID, "failed", len(report.Failed))
	}
	return report, err
}

type compiledOperation struct {
	def  domain.OperationDefinition
	expr *formula.Expression
	err  error
}

// plan is the evaluation order of a kind's operations. Operations on or behind
// a dependency cycle are kept apart and always evaluate to ERROR.
type plan struct {
	ordered []compiledOperation
	blocked []domain.OperationDefinition
}

func newPlan(defs []domain.OperationDefinition) plan {
	byCode := make(map[string]domain.OperationDefinition, len(defs))
	formulas := make(map[string]string, len(defs))
	for _, def := range defs {
		byCode[def.Code] = def
		formulas[def.Code] = def.Formula
	}
	order, blocked := formula.NewGraph(formulas).Partition()
	p := plan{ordered: make([]compiledOperation, 0, len(order))}
	for _, code := range order {
		def := byCode[code]
		expr, err := formula.Parse(def.Formula)
		p.ordered = append(p.ordered, compiledOperation{def: def, expr: expr, err: err})
	}
	for _, code := range blocked {
		p.blocked = append(p.blocked, byCode[code])
	}
	return p
}

type outcome struct {
	def   domain.OperationDefinition
	value formula.Value
}

// evaluate computes every operation against values, feeding each result to
// the operations that depend on it. values is not modified.
func (p plan) evaluate(values formula.Values) []outcome {
	env := make(formula.Values, len(values)+len(p.ordered))
	for k, v := range values {
		env[k] = v
	}
	out := make([]outcome, 0, len(p.ordered)+len(p.blocked))
	for _, op := range p.ordered {
		var v formula.Value
		if op.err != nil {
			v = formula.ErrorValue(op.def.Formula, op.err.Error())
		} else {
			v = op.expr.Evaluate(env)
		}
		env[op.def.Code] = v.String()
		out = append(out, outcome{def: op.def, value: v})
	}
	for _, def := range p.blocked {
		out = append(out, outcome{def: def, value: formula.ErrorValue(def.Formula, "operation depends on a dependency cycle")})
	}
	return out
}

// surveyInput is what one survey's evaluation needs from storage.
type surveyInput struct {
	surveyID int64
	values   formula.Values
	stored   map[int64]domain.DataValue
}

func recomputeInTx(ctx context.Context, tx domain.Transaction, kind domain.AdministrationKind, administrationID int64, surveyIDs []int64) (RecomputeReport, error) {
	surveyIDs = uniqueIDs(surveyIDs)
	report := RecomputeReport{Surveys: surveyIDs}
	for _, id := range surveyIDs {
		if _, ok, err := tx.FindSurvey(id); err != nil {
			return RecomputeReport{}, err
		} else if !ok {
			return RecomputeReport{}, domain.NotFoundError{Entity: domain.EntitySurvey, ID: strconv.FormatInt(id, 10)}
		}
	}
	defs, err := tx.ListOperations(kind)
	if err != nil {
		return RecomputeReport{}, err
	}
	if len(defs) == 0 {
		return report, nil
	}
	types, err := tx.ListDataTypes()
	if err != nil {
		return RecomputeReport{}, err
	}
	codes := make(map[int64]string, len(types))
	for _, dt := range types {
		codes[dt.ID] = dt.Code
	}
	stored, err := tx.ListDataValues(kind, administrationID, surveyIDs...)
	if err != nil {
		return RecomputeReport{}, err
	}

	inputs := make([]surveyInput, len(surveyIDs))
	index := make(map[int64]int, len(surveyIDs))
	for i, id := range surveyIDs {
		inputs[i] = surveyInput{surveyID: id, values: formula.Values{}, stored: map[int64]domain.DataValue{}}
		index[id] = i
	}
	for _, v := range stored {
		i, ok := index[v.SurveyID]
		if !ok {
			continue
		}
		inputs[i].stored[v.DataTypeID] = v
		if code, ok := codes[v.DataTypeID]; ok && v.Value != nil {
			inputs[i].values[code] = *v.Value
		}
	}

	p := newPlan(defs)
	results := make([][]outcome, len(inputs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range inputs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = p.evaluate(inputs[i].values)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return RecomputeReport{}, err
	}

	for i, in := range inputs {
		for _, o := range results[i] {
			report.Evaluated++
			text := o.value.String()
			if o.value.IsError() {
				report.Failed = append(report.Failed, FailedOperation{SurveyID: in.surveyID, Code: o.def.Code, Reason: o.value.Err().Error()})
			}
			if prev, ok := in.stored[o.def.DataTypeID]; ok && prev.Value != nil && *prev.Value == text {
				report.Unchanged++
				continue
			}
			if _, err := tx.UpsertDataValue(domain.DataValue{
				Kind:             kind,
				AdministrationID: administrationID,
				SurveyID:         in.surveyID,
				DataTypeID:       o.def.DataTypeID,
				Value:            domain.StringPtr(text),
			}); err != nil {
				return RecomputeReport{}, err
			}
			report.Written++
		}
	}
	return report, nil
}

// uniqueIDs copies ids without repeats, keeping first-seen order.
func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
