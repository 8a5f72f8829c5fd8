package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"esgbu/pkg/domain"
)

type transaction struct {
	ctx     context.Context
	tx      *sql.Tx
	d       Dialect
	now     time.Time
	changes []domain.Change
}

func (tx *transaction) exec(query string, args ...any) (sql.Result, error) {
	return tx.tx.ExecContext(tx.ctx, tx.d.Rebind(query), args...)
}

func (tx *transaction) query(query string, args ...any) (*sql.Rows, error) {
	return tx.tx.QueryContext(tx.ctx, tx.d.Rebind(query), args...)
}

func (tx *transaction) queryRow(query string, args ...any) *sql.Row {
	return tx.tx.QueryRowContext(tx.ctx, tx.d.Rebind(query), args...)
}

func (tx *transaction) wrap(op string, err error) error {
	return fmt.Errorf("%s: %s: %w", tx.d.Name, op, err)
}

func (tx *transaction) record(entity domain.EntityType, action domain.Action, before, after any) {
	tx.changes = append(tx.changes, domain.Change{Entity: entity, Action: action, Before: before, After: after})
}

func (tx *transaction) Now() time.Time { return tx.now }

func id(n int64) string { return strconv.FormatInt(n, 10) }

const groupColumns = `id, name, administration_kind, display_order`

func scanGroup(row interface{ Scan(...any) error }) (domain.DataGroup, error) {
	var g domain.DataGroup
	var kind string
	if err := row.Scan(&g.ID, &g.Name, &kind, &g.DisplayOrder); err != nil {
		return domain.DataGroup{}, err
	}
	g.Kind = domain.AdministrationKind(kind)
	return g, nil
}

func (tx *transaction) ListDataGroups() ([]domain.DataGroup, error) {
	rows, err := tx.query(`SELECT ` + groupColumns + ` FROM data_groups ORDER BY id`)
	if err != nil {
		return nil, tx.wrap("list data groups", err)
	}
	defer func() { _ = rows.Close() }()
	var out []domain.DataGroup
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, tx.wrap("scan data group", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (tx *transaction) FindDataGroup(groupID int64) (domain.DataGroup, bool, error) {
	g, err := scanGroup(tx.queryRow(`SELECT `+groupColumns+` FROM data_groups WHERE id = ?`, groupID))
	if notFound(err) {
		return domain.DataGroup{}, false, nil
	}
	if err != nil {
		return domain.DataGroup{}, false, tx.wrap("find data group", err)
	}
	return g, true, nil
}

const dataTypeColumns = `id, code, name, type, group_id, group_order, administrator_only`

func scanDataType(row interface{ Scan(...any) error }) (domain.DataType, error) {
	var d domain.DataType
	var kind string
	if err := row.Scan(&d.ID, &d.Code, &d.Name, &kind, &d.GroupID, &d.GroupOrder, &d.AdministratorOnly); err != nil {
		return domain.DataType{}, err
	}
	d.Type = domain.DataTypeKind(kind)
	return d, nil
}

func (tx *transaction) ListDataTypes() ([]domain.DataType, error) {
	rows, err := tx.query(`SELECT ` + dataTypeColumns + ` FROM data_types ORDER BY id`)
	if err != nil {
		return nil, tx.wrap("list data types", err)
	}
	defer func() { _ = rows.Close() }()
	var out []domain.DataType
	for rows.Next() {
		d, err := scanDataType(rows)
		if err != nil {
			return nil, tx.wrap("scan data type", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (tx *transaction) FindDataType(dataTypeID int64) (domain.DataType, bool, error) {
	d, err := scanDataType(tx.queryRow(`SELECT `+dataTypeColumns+` FROM data_types WHERE id = ?`, dataTypeID))
	if notFound(err) {
		return domain.DataType{}, false, nil
	}
	if err != nil {
		return domain.DataType{}, false, tx.wrap("find data type", err)
	}
	return d, true, nil
}

func (tx *transaction) FindDataTypeByCode(code string) (domain.DataType, bool, error) {
	d, err := scanDataType(tx.queryRow(`SELECT `+dataTypeColumns+` FROM data_types WHERE code = ?`, code))
	if notFound(err) {
		return domain.DataType{}, false, nil
	}
	if err != nil {
		return domain.DataType{}, false, tx.wrap("find data type by code", err)
	}
	return d, true, nil
}

func (tx *transaction) ListOperations(kind domain.AdministrationKind) ([]domain.OperationDefinition, error) {
	rows, err := tx.query(`SELECT o.data_type_id, o.formula, t.code, t.group_id
		FROM operations o
		JOIN data_types t ON t.id = o.data_type_id
		JOIN data_groups g ON g.id = t.group_id
		WHERE g.administration_kind = ?
		ORDER BY o.data_type_id`, string(kind))
	if err != nil {
		return nil, tx.wrap("list operations", err)
	}
	defer func() { _ = rows.Close() }()
	var out []domain.OperationDefinition
	for rows.Next() {
		def := domain.OperationDefinition{Kind: kind}
		if err := rows.Scan(&def.DataTypeID, &def.Formula, &def.Code, &def.GroupID); err != nil {
			return nil, tx.wrap("scan operation", err)
		}
		out = append(out, def)
	}
	return out, rows.Err()
}

func (tx *transaction) FindOperation(dataTypeID int64) (domain.Operation, bool, error) {
	op := domain.Operation{DataTypeID: dataTypeID}
	err := tx.queryRow(`SELECT formula FROM operations WHERE data_type_id = ?`, dataTypeID).Scan(&op.Formula)
	if notFound(err) {
		return domain.Operation{}, false, nil
	}
	if err != nil {
		return domain.Operation{}, false, tx.wrap("find operation", err)
	}
	return op, true, nil
}

const surveyColumns = `id, name, calendar_year, created_at`

func scanSurvey(row interface{ Scan(...any) error }) (domain.Survey, error) {
	var s domain.Survey
	var created int64
	if err := row.Scan(&s.ID, &s.Name, &s.CalendarYear, &created); err != nil {
		return domain.Survey{}, err
	}
	s.CreatedAt = fromMicros(created)
	return s, nil
}

func (tx *transaction) ListSurveys() ([]domain.Survey, error) {
	rows, err := tx.query(`SELECT ` + surveyColumns + ` FROM surveys ORDER BY created_at, id`)
	if err != nil {
		return nil, tx.wrap("list surveys", err)
	}
	defer func() { _ = rows.Close() }()
	var out []domain.Survey
	for rows.Next() {
		s, err := scanSurvey(rows)
		if err != nil {
			return nil, tx.wrap("scan survey", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (tx *transaction) FindSurvey(surveyID int64) (domain.Survey, bool, error) {
	s, err := scanSurvey(tx.queryRow(`SELECT `+surveyColumns+` FROM surveys WHERE id = ?`, surveyID))
	if notFound(err) {
		return domain.Survey{}, false, nil
	}
	if err != nil {
		return domain.Survey{}, false, tx.wrap("find survey", err)
	}
	return s, true, nil
}

func (tx *transaction) scanValue(kind domain.AdministrationKind, administrationID int64, row interface{ Scan(...any) error }) (domain.DataValue, error) {
	v := domain.DataValue{Kind: kind, AdministrationID: administrationID}
	var raw sql.NullString
	var updated int64
	if err := row.Scan(&v.ID, &v.SurveyID, &v.DataTypeID, &raw, &updated); err != nil {
		return domain.DataValue{}, err
	}
	v.Value = fromNullable(raw)
	v.UpdatedAt = fromMicros(updated)
	return v, nil
}

func (tx *transaction) ListDataValues(kind domain.AdministrationKind, administrationID int64, surveyIDs ...int64) ([]domain.DataValue, error) {
	spec := kind.Spec()
	query := `SELECT id, survey_id, data_type_id, value, updated_at FROM ` + spec.ValueTable +
		` WHERE ` + spec.IDColumn + ` = ?`
	args := []any{administrationID}
	if len(surveyIDs) > 0 {
		query += ` AND survey_id IN (?` + strings.Repeat(`, ?`, len(surveyIDs)-1) + `)`
		for _, sid := range surveyIDs {
			args = append(args, sid)
		}
	}
	query += ` ORDER BY survey_id, data_type_id`
	rows, err := tx.query(query, args...)
	if err != nil {
		return nil, tx.wrap("list data values", err)
	}
	defer func() { _ = rows.Close() }()
	var out []domain.DataValue
	for rows.Next() {
		v, err := tx.scanValue(kind, administrationID, rows)
		if err != nil {
			return nil, tx.wrap("scan data value", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (tx *transaction) FindDataValue(key domain.ValueKey) (domain.DataValue, bool, error) {
	spec := key.Kind.Spec()
	row := tx.queryRow(`SELECT id, survey_id, data_type_id, value, updated_at FROM `+spec.ValueTable+
		` WHERE `+spec.IDColumn+` = ? AND survey_id = ? AND data_type_id = ?`,
		key.AdministrationID, key.SurveyID, key.DataTypeID)
	v, err := tx.scanValue(key.Kind, key.AdministrationID, row)
	if notFound(err) {
		return domain.DataValue{}, false, nil
	}
	if err != nil {
		return domain.DataValue{}, false, tx.wrap("find data value", err)
	}
	return v, true, nil
}

func scanLock(key domain.LockKey, row interface{ Scan(...any) error }) (domain.GroupLock, error) {
	l := domain.GroupLock{Kind: key.Kind, AdministrationID: key.AdministrationID, GroupID: key.GroupID, SurveyID: key.SurveyID}
	var date int64
	if err := row.Scan(&l.ID, &l.UserID, &date); err != nil {
		return domain.GroupLock{}, err
	}
	l.LockDate = fromMicros(date)
	return l, nil
}

func (tx *transaction) FindGroupLock(key domain.LockKey) (domain.GroupLock, bool, error) {
	spec := key.Kind.Spec()
	row := tx.queryRow(`SELECT id, user_id, lock_date FROM `+spec.LockTable+
		` WHERE `+spec.IDColumn+` = ? AND group_id = ? AND survey_id = ?`,
		key.AdministrationID, key.GroupID, key.SurveyID)
	l, err := scanLock(key, row)
	if notFound(err) {
		return domain.GroupLock{}, false, nil
	}
	if err != nil {
		return domain.GroupLock{}, false, tx.wrap("find group lock", err)
	}
	return l, true, nil
}

func (tx *transaction) selectLocks(kind domain.AdministrationKind, where string, args ...any) ([]domain.GroupLock, error) {
	spec := kind.Spec()
	query := `SELECT id, ` + spec.IDColumn + `, group_id, survey_id, user_id, lock_date FROM ` + spec.LockTable
	if where != "" {
		query += ` WHERE ` + where
	}
	query += ` ORDER BY id`
	rows, err := tx.query(query, args...)
	if err != nil {
		return nil, tx.wrap("list group locks", err)
	}
	defer func() { _ = rows.Close() }()
	var out []domain.GroupLock
	for rows.Next() {
		l := domain.GroupLock{Kind: kind}
		var date int64
		if err := rows.Scan(&l.ID, &l.AdministrationID, &l.GroupID, &l.SurveyID, &l.UserID, &date); err != nil {
			return nil, tx.wrap("scan group lock", err)
		}
		l.LockDate = fromMicros(date)
		out = append(out, l)
	}
	return out, rows.Err()
}

func (tx *transaction) ListGroupLocks(kind domain.AdministrationKind) ([]domain.GroupLock, error) {
	return tx.selectLocks(kind, "")
}
