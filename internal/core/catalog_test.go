package core

import (
	"context"
	"errors"
	"strings"
	"testing"

	"esgbu/pkg/domain"
	"esgbu/pkg/formula"
)

func blockedBy(err error, rule string) bool {
	var rv domain.RuleViolationError
	if !errors.As(err, &rv) {
		return false
	}
	for _, v := range rv.Result.Violations {
		if v.Rule == rule {
			return true
		}
	}
	return false
}

func TestCreateOperationRejectsCycles(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	if _, err := f.svc.UpdateOperationFormula(ctx, f.total.ID, "DOUBLE+A"); !blockedBy(err, "formula_integrity") {
		t.Fatalf("expected cycle to be blocked, got %v", err)
	}
	if _, err := f.svc.UpdateOperationFormula(ctx, f.total.ID, "TOTAL+1"); !blockedBy(err, "formula_integrity") {
		t.Fatalf("expected self reference to be blocked, got %v", err)
	}
	op, err := f.svc.UpdateOperationFormula(ctx, f.total.ID, " sum(A,B) ")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if op.Formula != "sum(A,B)" {
		t.Fatalf("expected trimmed formula, got %q", op.Formula)
	}
}

func TestCreateOperationValidatesFormula(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	extra, err := f.svc.CreateDataType(ctx, domain.DataType{Code: "EXTRA", Type: domain.DataTypeOperation, GroupID: f.totals.ID})
	if err != nil {
		t.Fatalf("create data type: %v", err)
	}
	for _, expr := range []string{"A+", "A+UNKNOWN", "(A+B", "sum(A,)"} {
		if _, err := f.svc.CreateOperation(ctx, extra.ID, expr); !blockedBy(err, "formula_integrity") {
			t.Fatalf("formula %q: expected rule violation, got %v", expr, err)
		}
	}
	if _, err := f.svc.CreateOperation(ctx, f.a.ID, "B+C"); !blockedBy(err, "catalog_shape") {
		t.Fatalf("expected operation on a number data type to be blocked, got %v", err)
	}
	if _, err := f.svc.CreateOperation(ctx, extra.ID, "A*B"); err != nil {
		t.Fatalf("valid formula: %v", err)
	}
	var conflict domain.ConflictError
	if _, err := f.svc.CreateOperation(ctx, extra.ID, "A"); !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError for second operation, got %v", err)
	}
}

func TestCreateDataTypeShape(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	for _, code := range []string{"12", "BAD-CODE", "", "a b"} {
		if _, err := f.svc.CreateDataType(ctx, domain.DataType{Code: code, Type: domain.DataTypeNumber, GroupID: f.staff.ID}); !blockedBy(err, "catalog_shape") {
			t.Fatalf("code %q: expected catalog_shape violation, got %v", code, err)
		}
	}
	if _, err := f.svc.CreateDataType(ctx, domain.DataType{Code: "OK", Type: "money", GroupID: f.staff.ID}); !blockedBy(err, "catalog_shape") {
		t.Fatalf("expected unknown type to be blocked, got %v", err)
	}
	var conflict domain.ConflictError
	if _, err := f.svc.CreateDataType(ctx, domain.DataType{Code: "A", Type: domain.DataTypeNumber, GroupID: f.staff.ID}); !errors.As(err, &conflict) {
		t.Fatalf("expected duplicate code conflict, got %v", err)
	}
	if _, err := f.svc.CreateDataGroup(ctx, domain.DataGroup{Name: " ", Kind: domain.KindEstablishment}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected missing group name to be rejected, got %v", err)
	}
}

func TestDeleteOperationKeepsValues(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.put(t, f.y2023.ID, map[int64]*string{f.a.ID: strPtr("1")})
	if _, err := f.svc.RecomputeOperations(ctx, domain.KindEstablishment, adminID, f.y2023.ID); err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if err := f.svc.DeleteOperation(ctx, f.double.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	var nf domain.NotFoundError
	if err := f.svc.DeleteOperation(ctx, f.double.ID); !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	report, err := f.svc.RecomputeOperations(ctx, domain.KindEstablishment, adminID, f.y2023.ID)
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if report.Evaluated != 2 {
		t.Fatalf("expected two remaining operations, got %+v", report)
	}
	if got := f.values(t, f.y2023.ID)[f.double.ID]; got != "2.00" {
		t.Fatalf("stored value should survive operation removal, got %q", got)
	}
}

func TestSurveysAndFormulaHelpers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	surveys, err := f.svc.ListSurveys(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(surveys) != 2 || surveys[0].ID != f.y2023.ID || surveys[1].ID != f.y2024.ID {
		t.Fatalf("expected surveys in creation order, got %+v", surveys)
	}
	if _, err := f.svc.CreateSurvey(ctx, domain.Survey{}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected unnamed survey to be rejected, got %v", err)
	}

	codes, err := f.svc.KnownCodes(ctx)
	if err != nil {
		t.Fatalf("codes: %v", err)
	}
	if got := strings.Join(codes.Sorted(), ","); got != "A,B,C,DOUBLE,MEAN,TOTAL" {
		t.Fatalf("unexpected codes %s", got)
	}
	if err := f.svc.ValidateFormula(ctx, "avg(A, B, TOTAL)"); err != nil {
		t.Fatalf("validate: %v", err)
	}
	var unknown *formula.UnknownOperandError
	if err := f.svc.ValidateFormula(ctx, "A+ZZ"); !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownOperandError, got %v", err)
	}
	if err := f.svc.ValidateFormula(ctx, "A++"); !errors.Is(err, formula.ErrSyntax) {
		t.Fatalf("expected syntax error, got %v", err)
	}
}
