package sqlstore

import (
	"bufio"
	"fmt"
	"strings"

	"esgbu/pkg/domain"
)

// Timestamps are stored as BIGINT unix microseconds in UTC so that lock
// expiry comparisons behave the same on every backend.

const catalogDDL = `
CREATE TABLE IF NOT EXISTS data_groups (
	id %[1]s,
	name TEXT NOT NULL,
	administration_kind TEXT NOT NULL,
	display_order INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS data_types (
	id %[1]s,
	code TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL DEFAULT '',
	type TEXT NOT NULL,
	group_id BIGINT NOT NULL REFERENCES data_groups(id),
	group_order INTEGER NOT NULL DEFAULT 0,
	administrator_only BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE TABLE IF NOT EXISTS operations (
	data_type_id BIGINT PRIMARY KEY REFERENCES data_types(id) ON DELETE CASCADE,
	formula TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS surveys (
	id %[1]s,
	name TEXT NOT NULL,
	calendar_year INTEGER NOT NULL DEFAULT 0,
	created_at BIGINT NOT NULL
);
`

const kindDDL = `
CREATE TABLE IF NOT EXISTS %[2]s (
	id %[1]s,
	%[4]s BIGINT NOT NULL,
	survey_id BIGINT NOT NULL REFERENCES surveys(id),
	data_type_id BIGINT NOT NULL REFERENCES data_types(id) ON DELETE CASCADE,
	value TEXT,
	updated_at BIGINT NOT NULL,
	UNIQUE (%[4]s, survey_id, data_type_id)
);
CREATE TABLE IF NOT EXISTS %[3]s (
	id %[1]s,
	%[4]s BIGINT NOT NULL,
	group_id BIGINT NOT NULL REFERENCES data_groups(id),
	survey_id BIGINT NOT NULL REFERENCES surveys(id),
	user_id BIGINT NOT NULL,
	lock_date BIGINT NOT NULL,
	UNIQUE (%[4]s, group_id, survey_id)
);
CREATE INDEX IF NOT EXISTS %[3]s_user_idx ON %[3]s (user_id);
CREATE INDEX IF NOT EXISTS %[3]s_date_idx ON %[3]s (lock_date);
`

// Schema renders the full DDL script for d.
func Schema(d Dialect) string {
	var b strings.Builder
	fmt.Fprintf(&b, catalogDDL, d.IdentityColumn)
	for _, kind := range domain.AllKinds() {
		spec := kind.Spec()
		fmt.Fprintf(&b, kindDDL, d.IdentityColumn, spec.ValueTable, spec.LockTable, spec.IDColumn)
	}
	return b.String()
}

// SplitStatements splits a semicolon-terminated DDL script into executable statements.
// It drops blank lines and single-line comments that start with "--".
func SplitStatements(ddl string) []string {
	scanner := bufio.NewScanner(strings.NewReader(ddl))
	var stmts []string
	var current strings.Builder

	flush := func() {
		stmt := strings.TrimSpace(current.String())
		if stmt != "" {
			stmts = append(stmts, stmt)
		}
		current.Reset()
	}

	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		current.WriteString(line)
		current.WriteByte('\n')
		if strings.HasSuffix(trimmed, ";") {
			flush()
		}
	}

	if tail := strings.TrimSpace(current.String()); tail != "" {
		stmts = append(stmts, tail)
	}

	return stmts
}
