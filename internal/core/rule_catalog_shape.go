package core

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"esgbu/pkg/domain"
	"esgbu/pkg/formula"
)

var dataTypeCodePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// CatalogShapeRule blocks data type codes that formulas could not reference
// and operations attached to data types that are not of kind operation.
func CatalogShapeRule() domain.Rule {
	return catalogShapeRule{}
}

type catalogShapeRule struct{}

func (catalogShapeRule) Name() string { return "catalog_shape" }

func (r catalogShapeRule) Evaluate(_ context.Context, view domain.TransactionView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		switch after := change.After.(type) {
		case domain.DataType:
			id := strconv.FormatInt(after.ID, 10)
			if !dataTypeCodePattern.MatchString(after.Code) || formula.IsNumeric(after.Code) {
				res.Violations = append(res.Violations, r.violation(domain.EntityDataType, id,
					fmt.Sprintf("data type code %q must be letters, digits and underscores and not a number", after.Code)))
			}
			if !after.Type.Valid() {
				res.Violations = append(res.Violations, r.violation(domain.EntityDataType, id,
					fmt.Sprintf("data type %s has unknown type %q", after.Code, after.Type)))
			}
		case domain.Operation:
			dt, ok, err := view.FindDataType(after.DataTypeID)
			if err != nil {
				return domain.Result{}, err
			}
			id := strconv.FormatInt(after.DataTypeID, 10)
			if !ok {
				res.Violations = append(res.Violations, r.violation(domain.EntityOperation, id, "operation references a missing data type"))
				continue
			}
			if !dt.IsOperation() {
				res.Violations = append(res.Violations, r.violation(domain.EntityOperation, id,
					fmt.Sprintf("data type %s is of type %s, not operation", dt.Code, dt.Type)))
			}
		}
	}
	return res, nil
}

func (r catalogShapeRule) violation(entity domain.EntityType, id, msg string) domain.Violation {
	return domain.Violation{Rule: r.Name(), Severity: domain.SeverityBlock, Message: msg, Entity: entity, EntityID: id}
}
