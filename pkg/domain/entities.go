// Package domain defines the entities, persistence contracts and rule engine
// shared by every storage backend and the core service.
package domain

import (
	"strconv"
	"time"
)

// EntityType identifies the kind of record referenced in changes and violations.
type EntityType string

// Entity type identifiers used in changes, violations and audit entries.
const (
	EntityDataGroup EntityType = "data_group"
	EntityDataType  EntityType = "data_type"
	EntityOperation EntityType = "operation"
	EntitySurvey    EntityType = "survey"
	EntityDataValue EntityType = "data_value"
	EntityGroupLock EntityType = "group_lock"
)

// DataTypeKind is the value type of a data type.
type DataTypeKind string

// Supported data type kinds. Operation data types hold derived values and
// have exactly one Operation record.
const (
	DataTypeNumber    DataTypeKind = "number"
	DataTypeText      DataTypeKind = "text"
	DataTypeBoolean   DataTypeKind = "boolean"
	DataTypeOperation DataTypeKind = "operation"
)

// Valid reports whether k is a known data type kind.
func (k DataTypeKind) Valid() bool {
	switch k {
	case DataTypeNumber, DataTypeText, DataTypeBoolean, DataTypeOperation:
		return true
	}
	return false
}

// Sentinel stored values.
const (
	// NoDataValue marks a value the respondent declared unavailable.
	NoDataValue = "ND"
	// ErrorValue is stored for operations whose formula could not be computed.
	ErrorValue = "ERROR"
)

// DataGroup is a named set of data types belonging to one administration kind.
// Locks are taken per group.
type DataGroup struct {
	ID           int64              `json:"id"`
	Name         string             `json:"name"`
	Kind         AdministrationKind `json:"administration_kind"`
	DisplayOrder int                `json:"display_order"`
}

// DataType is a single indicator definition.
type DataType struct {
	ID                int64        `json:"id"`
	Code              string       `json:"code"`
	Name              string       `json:"name"`
	Type              DataTypeKind `json:"type"`
	GroupID           int64        `json:"group_id"`
	GroupOrder        int          `json:"group_order"`
	AdministratorOnly bool         `json:"administrator_only"`
}

// IsOperation reports whether the data type is derived from a formula.
func (d DataType) IsOperation() bool { return d.Type == DataTypeOperation }

// Operation attaches a formula to an operation data type.
type Operation struct {
	DataTypeID int64  `json:"data_type_id"`
	Formula    string `json:"formula"`
}

// OperationDefinition is an operation joined with its data type code and group.
type OperationDefinition struct {
	Operation
	Code    string             `json:"code"`
	GroupID int64              `json:"group_id"`
	Kind    AdministrationKind `json:"administration_kind"`
}

// Survey is one data collection campaign.
type Survey struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	CalendarYear int       `json:"calendar_year"`
	CreatedAt    time.Time `json:"created_at"`
}

// ValueKey addresses one stored value.
type ValueKey struct {
	Kind             AdministrationKind `json:"administration_kind"`
	AdministrationID int64              `json:"administration_id"`
	SurveyID         int64              `json:"survey_id"`
	DataTypeID       int64              `json:"data_type_id"`
}

func (k ValueKey) String() string {
	return string(k.Kind) + "/" + strconv.FormatInt(k.AdministrationID, 10) +
		"/" + strconv.FormatInt(k.SurveyID, 10) + "/" + strconv.FormatInt(k.DataTypeID, 10)
}

// DataValue is the stored value of one data type for one administration and survey.
// A nil Value is an explicit null and is treated like a missing value.
type DataValue struct {
	ID               int64              `json:"id"`
	Kind             AdministrationKind `json:"administration_kind"`
	AdministrationID int64              `json:"administration_id"`
	SurveyID         int64              `json:"survey_id"`
	DataTypeID       int64              `json:"data_type_id"`
	Value            *string            `json:"value"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

// Key returns the unique address of the value.
func (v DataValue) Key() ValueKey {
	return ValueKey{Kind: v.Kind, AdministrationID: v.AdministrationID, SurveyID: v.SurveyID, DataTypeID: v.DataTypeID}
}

// Raw returns the stored string, with nil folded into "".
func (v DataValue) Raw() string {
	if v.Value == nil {
		return ""
	}
	return *v.Value
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string { return &s }

// LockKey addresses one group lock.
type LockKey struct {
	Kind             AdministrationKind `json:"administration_kind"`
	AdministrationID int64              `json:"administration_id"`
	GroupID          int64              `json:"group_id"`
	SurveyID         int64              `json:"survey_id"`
}

func (k LockKey) String() string {
	return string(k.Kind) + "/" + strconv.FormatInt(k.AdministrationID, 10) +
		"/group/" + strconv.FormatInt(k.GroupID, 10) + "/survey/" + strconv.FormatInt(k.SurveyID, 10)
}

// GroupLock grants one user exclusive edit rights over a group for an
// administration and survey until LockDate plus the lock TTL.
type GroupLock struct {
	ID               int64              `json:"id"`
	Kind             AdministrationKind `json:"administration_kind"`
	AdministrationID int64              `json:"administration_id"`
	GroupID          int64              `json:"group_id"`
	SurveyID         int64              `json:"survey_id"`
	UserID           int64              `json:"user_id"`
	LockDate         time.Time          `json:"lock_date"`
}

// Key returns the unique address of the lock.
func (l GroupLock) Key() LockKey {
	return LockKey{Kind: l.Kind, AdministrationID: l.AdministrationID, GroupID: l.GroupID, SurveyID: l.SurveyID}
}

// ExpiresAt returns the instant after which the lock no longer protects the group.
func (l GroupLock) ExpiresAt(ttl time.Duration) time.Time { return l.LockDate.Add(ttl) }

// Expired reports whether the lock is past its TTL at now.
func (l GroupLock) Expired(now time.Time, ttl time.Duration) bool {
	return l.LockDate.Before(now.Add(-ttl))
}

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported CRUD operations captured in audit trail.
const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Severity captures rule outcomes.
type Severity string

const (
	// SeverityBlock aborts the transaction.
	SeverityBlock Severity = "block"
	// SeverityWarn is reported but does not abort.
	SeverityWarn Severity = "warn"
	// SeverityLog is informational.
	SeverityLog Severity = "log"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}
