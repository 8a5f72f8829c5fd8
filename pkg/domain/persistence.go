package domain

import (
	"context"
	"time"
)

// TransactionView provides read-only access to store state. Reads return an
// error because SQL backends can fail mid-query.
type TransactionView interface {
	ListDataGroups() ([]DataGroup, error)
	FindDataGroup(id int64) (DataGroup, bool, error)
	ListDataTypes() ([]DataType, error)
	FindDataType(id int64) (DataType, bool, error)
	FindDataTypeByCode(code string) (DataType, bool, error)
	// ListOperations returns the operations whose data type belongs to a group of kind.
	ListOperations(kind AdministrationKind) ([]OperationDefinition, error)
	FindOperation(dataTypeID int64) (Operation, bool, error)
	// ListSurveys returns surveys in creation order.
	ListSurveys() ([]Survey, error)
	FindSurvey(id int64) (Survey, bool, error)
	// ListDataValues returns the values of one administration. With no survey
	// ids every survey is included.
	ListDataValues(kind AdministrationKind, administrationID int64, surveyIDs ...int64) ([]DataValue, error)
	FindDataValue(key ValueKey) (DataValue, bool, error)
	FindGroupLock(key LockKey) (GroupLock, bool, error)
	ListGroupLocks(kind AdministrationKind) ([]GroupLock, error)
}

// Transaction exposes the mutations a persistence implementation must support
// within an atomic scope.
type Transaction interface {
	TransactionView
	// Now is the transaction timestamp used for UpdatedAt and CreatedAt fields.
	Now() time.Time

	CreateDataGroup(DataGroup) (DataGroup, error)
	CreateDataType(DataType) (DataType, error)
	CreateOperation(Operation) (Operation, error)
	UpdateOperation(dataTypeID int64, mutator func(*Operation) error) (Operation, error)
	DeleteOperation(dataTypeID int64) error
	CreateSurvey(Survey) (Survey, error)

	// UpsertDataValue inserts or replaces the value at v.Key().
	UpsertDataValue(v DataValue) (DataValue, error)
	DeleteDataValue(key ValueKey) error

	// DeleteExpiredGroupLocks removes locks of kind with LockDate before cutoff.
	DeleteExpiredGroupLocks(kind AdministrationKind, cutoff time.Time) (int, error)
	// DeleteUserGroupLocks removes every lock of kind held by userID.
	DeleteUserGroupLocks(kind AdministrationKind, userID int64) (int, error)
	// InsertGroupLock returns ErrLockConflict if the key is taken.
	InsertGroupLock(lock GroupLock) (GroupLock, error)
	RenewGroupLock(key LockKey, lockDate time.Time) (GroupLock, error)
	DeleteGroupLock(key LockKey) error
}

// PersistentStore is the abstraction over durable backends used by the core service.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	Close() error
}
