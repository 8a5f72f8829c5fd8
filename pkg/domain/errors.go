package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrLockConflict is returned by a Transaction when inserting a group lock
	// collides with a lock committed concurrently for the same key.
	ErrLockConflict = errors.New("group lock already held")
	// ErrGroupBusy is matched by GroupBusyError.
	ErrGroupBusy = errors.New("group locked by another user")
	// ErrDerivedValue rejects direct writes to operation data types.
	ErrDerivedValue = errors.New("operation values are computed and cannot be edited")
	// ErrInvalidInput flags malformed arguments.
	ErrInvalidInput = errors.New("invalid input")
)

// NotFoundError is returned when a referenced record does not exist.
type NotFoundError struct {
	Entity EntityType
	ID     string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// ConflictError is returned when a write violates a uniqueness constraint
// other than the group lock key.
type ConflictError struct {
	Entity EntityType
	Key    string
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("%s %s already exists", e.Entity, e.Key)
}

// GroupBusyError is returned when the requested group is locked by another user.
type GroupBusyError struct {
	Key       LockKey
	HolderID  int64
	LockDate  time.Time
	ExpiresAt time.Time
}

func (e *GroupBusyError) Error() string {
	return fmt.Sprintf("%s data group %d for survey %d is being edited by user %d until %s",
		e.Key.Kind.Spec().Label, e.Key.GroupID, e.Key.SurveyID, e.HolderID, e.ExpiresAt.UTC().Format(time.RFC3339))
}

func (e *GroupBusyError) Unwrap() error { return ErrGroupBusy }

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	if len(e.Result.Violations) > 0 {
		v := e.Result.Violations[0]
		return fmt.Sprintf("transaction blocked by rules: %s: %s", v.Rule, v.Message)
	}
	return "transaction blocked by rules"
}
