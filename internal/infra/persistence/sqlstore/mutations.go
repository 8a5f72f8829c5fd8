package sqlstore

import (
	"fmt"
	"time"

	"esgbu/pkg/domain"
)

func (tx *transaction) CreateDataGroup(g domain.DataGroup) (domain.DataGroup, error) {
	if !g.Kind.Valid() {
		return domain.DataGroup{}, fmt.Errorf("%w: administration kind %q", domain.ErrInvalidInput, g.Kind)
	}
	err := tx.queryRow(`INSERT INTO data_groups (name, administration_kind, display_order) VALUES (?, ?, ?) RETURNING id`,
		g.Name, string(g.Kind), g.DisplayOrder).Scan(&g.ID)
	if err != nil {
		return domain.DataGroup{}, tx.wrap("insert data group", err)
	}
	tx.record(domain.EntityDataGroup, domain.ActionCreate, nil, g)
	return g, nil
}

func (tx *transaction) CreateDataType(d domain.DataType) (domain.DataType, error) {
	if _, ok, err := tx.FindDataGroup(d.GroupID); err != nil {
		return domain.DataType{}, err
	} else if !ok {
		return domain.DataType{}, domain.NotFoundError{Entity: domain.EntityDataGroup, ID: id(d.GroupID)}
	}
	err := tx.queryRow(`INSERT INTO data_types (code, name, type, group_id, group_order, administrator_only)
		VALUES (?, ?, ?, ?, ?, ?) RETURNING id`,
		d.Code, d.Name, string(d.Type), d.GroupID, d.GroupOrder, d.AdministratorOnly).Scan(&d.ID)
	if err != nil {
		if tx.d.IsUniqueViolation(err) {
			return domain.DataType{}, domain.ConflictError{Entity: domain.EntityDataType, Key: d.Code}
		}
		return domain.DataType{}, tx.wrap("insert data type", err)
	}
	tx.record(domain.EntityDataType, domain.ActionCreate, nil, d)
	return d, nil
}

func (tx *transaction) CreateOperation(op domain.Operation) (domain.Operation, error) {
	if _, ok, err := tx.FindDataType(op.DataTypeID); err != nil {
		return domain.Operation{}, err
	} else if !ok {
		return domain.Operation{}, domain.NotFoundError{Entity: domain.EntityDataType, ID: id(op.DataTypeID)}
	}
	if _, err := tx.exec(`INSERT INTO operations (data_type_id, formula) VALUES (?, ?)`, op.DataTypeID, op.Formula); err != nil {
		if tx.d.IsUniqueViolation(err) {
			return domain.Operation{}, domain.ConflictError{Entity: domain.EntityOperation, Key: id(op.DataTypeID)}
		}
		return domain.Operation{}, tx.wrap("insert operation", err)
	}
	tx.record(domain.EntityOperation, domain.ActionCreate, nil, op)
	return op, nil
}

func (tx *transaction) UpdateOperation(dataTypeID int64, mutator func(*domain.Operation) error) (domain.Operation, error) {
	current, ok, err := tx.FindOperation(dataTypeID)
	if err != nil {
		return domain.Operation{}, err
	}
	if !ok {
		return domain.Operation{}, domain.NotFoundError{Entity: domain.EntityOperation, ID: id(dataTypeID)}
	}
	before := current
	if err := mutator(&current); err != nil {
		return domain.Operation{}, err
	}
	current.DataTypeID = dataTypeID
	if _, err := tx.exec(`UPDATE operations SET formula = ? WHERE data_type_id = ?`, current.Formula, dataTypeID); err != nil {
		return domain.Operation{}, tx.wrap("update operation", err)
	}
	tx.record(domain.EntityOperation, domain.ActionUpdate, before, current)
	return current, nil
}

func (tx *transaction) DeleteOperation(dataTypeID int64) error {
	current, ok, err := tx.FindOperation(dataTypeID)
	if err != nil {
		return err
	}
	if !ok {
		return domain.NotFoundError{Entity: domain.EntityOperation, ID: id(dataTypeID)}
	}
	if _, err := tx.exec(`DELETE FROM operations WHERE data_type_id = ?`, dataTypeID); err != nil {
		return tx.wrap("delete operation", err)
	}
	tx.record(domain.EntityOperation, domain.ActionDelete, current, nil)
	return nil
}

func (tx *transaction) CreateSurvey(s domain.Survey) (domain.Survey, error) {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = tx.now
	}
	s.CreatedAt = truncate(s.CreatedAt)
	err := tx.queryRow(`INSERT INTO surveys (name, calendar_year, created_at) VALUES (?, ?, ?) RETURNING id`,
		s.Name, s.CalendarYear, toMicros(s.CreatedAt)).Scan(&s.ID)
	if err != nil {
		return domain.Survey{}, tx.wrap("insert survey", err)
	}
	tx.record(domain.EntitySurvey, domain.ActionCreate, nil, s)
	return s, nil
}

func (tx *transaction) UpsertDataValue(v domain.DataValue) (domain.DataValue, error) {
	if _, ok, err := tx.FindDataType(v.DataTypeID); err != nil {
		return domain.DataValue{}, err
	} else if !ok {
		return domain.DataValue{}, domain.NotFoundError{Entity: domain.EntityDataType, ID: id(v.DataTypeID)}
	}
	if _, ok, err := tx.FindSurvey(v.SurveyID); err != nil {
		return domain.DataValue{}, err
	} else if !ok {
		return domain.DataValue{}, domain.NotFoundError{Entity: domain.EntitySurvey, ID: id(v.SurveyID)}
	}
	existing, found, err := tx.FindDataValue(v.Key())
	if err != nil {
		return domain.DataValue{}, err
	}
	spec := v.Kind.Spec()
	v.UpdatedAt = tx.now
	err = tx.queryRow(`INSERT INTO `+spec.ValueTable+` (`+spec.IDColumn+`, survey_id, data_type_id, value, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (`+spec.IDColumn+`, survey_id, data_type_id)
		DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
		RETURNING id`,
		v.AdministrationID, v.SurveyID, v.DataTypeID, nullable(v.Value), toMicros(v.UpdatedAt)).Scan(&v.ID)
	if err != nil {
		return domain.DataValue{}, tx.wrap("upsert data value", err)
	}
	if found {
		tx.record(domain.EntityDataValue, domain.ActionUpdate, existing, v)
	} else {
		tx.record(domain.EntityDataValue, domain.ActionCreate, nil, v)
	}
	return v, nil
}

func (tx *transaction) DeleteDataValue(key domain.ValueKey) error {
	existing, ok, err := tx.FindDataValue(key)
	if err != nil {
		return err
	}
	if !ok {
		return domain.NotFoundError{Entity: domain.EntityDataValue, ID: key.String()}
	}
	spec := key.Kind.Spec()
	if _, err := tx.exec(`DELETE FROM `+spec.ValueTable+` WHERE id = ?`, existing.ID); err != nil {
		return tx.wrap("delete data value", err)
	}
	tx.record(domain.EntityDataValue, domain.ActionDelete, existing, nil)
	return nil
}

func (tx *transaction) deleteLocks(kind domain.AdministrationKind, where string, args ...any) (int, error) {
	doomed, err := tx.selectLocks(kind, where, args...)
	if err != nil {
		return 0, err
	}
	if len(doomed) == 0 {
		return 0, nil
	}
	res, err := tx.exec(`DELETE FROM `+kind.Spec().LockTable+` WHERE `+where, args...)
	if err != nil {
		return 0, tx.wrap("delete group locks", err)
	}
	for _, l := range doomed {
		tx.record(domain.EntityGroupLock, domain.ActionDelete, l, nil)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return len(doomed), nil
	}
	return int(n), nil
}

func (tx *transaction) DeleteExpiredGroupLocks(kind domain.AdministrationKind, cutoff time.Time) (int, error) {
	return tx.deleteLocks(kind, `lock_date < ?`, toMicros(cutoff))
}

func (tx *transaction) DeleteUserGroupLocks(kind domain.AdministrationKind, userID int64) (int, error) {
	return tx.deleteLocks(kind, `user_id = ?`, userID)
}

func (tx *transaction) InsertGroupLock(lock domain.GroupLock) (domain.GroupLock, error) {
	spec := lock.Kind.Spec()
	lock.LockDate = truncate(lock.LockDate)
	err := tx.queryRow(`INSERT INTO `+spec.LockTable+` (`+spec.IDColumn+`, group_id, survey_id, user_id, lock_date)
		VALUES (?, ?, ?, ?, ?) RETURNING id`,
		lock.AdministrationID, lock.GroupID, lock.SurveyID, lock.UserID, toMicros(lock.LockDate)).Scan(&lock.ID)
	if err != nil {
		if tx.d.IsUniqueViolation(err) {
			return domain.GroupLock{}, domain.ErrLockConflict
		}
		return domain.GroupLock{}, tx.wrap("insert group lock", err)
	}
	tx.record(domain.EntityGroupLock, domain.ActionCreate, nil, lock)
	return lock, nil
}

func (tx *transaction) RenewGroupLock(key domain.LockKey, lockDate time.Time) (domain.GroupLock, error) {
	current, ok, err := tx.FindGroupLock(key)
	if err != nil {
		return domain.GroupLock{}, err
	}
	if !ok {
		return domain.GroupLock{}, domain.NotFoundError{Entity: domain.EntityGroupLock, ID: key.String()}
	}
	spec := key.Kind.Spec()
	renewed := current
	renewed.LockDate = truncate(lockDate)
	if _, err := tx.exec(`UPDATE `+spec.LockTable+` SET lock_date = ? WHERE id = ?`, toMicros(renewed.LockDate), current.ID); err != nil {
		return domain.GroupLock{}, tx.wrap("renew group lock", err)
	}
	tx.record(domain.EntityGroupLock, domain.ActionUpdate, current, renewed)
	return renewed, nil
}

func (tx *transaction) DeleteGroupLock(key domain.LockKey) error {
	current, ok, err := tx.FindGroupLock(key)
	if err != nil {
		return err
	}
	if !ok {
		return domain.NotFoundError{Entity: domain.EntityGroupLock, ID: key.String()}
	}
	if _, err := tx.exec(`DELETE FROM `+key.Kind.Spec().LockTable+` WHERE id = ?`, current.ID); err != nil {
		return tx.wrap("delete group lock", err)
	}
	tx.record(domain.EntityGroupLock, domain.ActionDelete, current, nil)
	return nil
}
