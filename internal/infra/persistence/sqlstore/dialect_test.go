package sqlstore

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRebind(t *testing.T) {
	pg := Dialect{Placeholder: DollarPlaceholder}
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y IN ($2, $3)", pg.Rebind("SELECT a FROM t WHERE x = ? AND y IN (?, ?)"))

	lite := Dialect{Placeholder: QuestionPlaceholder}
	assert.Equal(t, "x = ?", lite.Rebind("x = ?"))
	assert.Equal(t, "x = ?", Dialect{}.Rebind("x = ?"))
}

func TestSchemaCoversEveryKind(t *testing.T) {
	ddl := Schema(Dialect{IdentityColumn: "BIGSERIAL PRIMARY KEY"})
	for _, table := range []string{
		"data_groups", "data_types", "operations", "surveys",
		"establishment_data_values", "establishment_group_locks",
		"documentary_structure_data_values", "documentary_structure_group_locks",
		"physical_library_data_values", "physical_library_group_locks",
	} {
		assert.Contains(t, ddl, "CREATE TABLE IF NOT EXISTS "+table+" (")
	}
	assert.Contains(t, ddl, "UNIQUE (physical_library_id, group_id, survey_id)")
	assert.NotContains(t, ddl, "%!")
}

func TestSplitStatements(t *testing.T) {
	stmts := SplitStatements(Schema(Dialect{IdentityColumn: "INTEGER PRIMARY KEY AUTOINCREMENT"}))
	require.Len(t, stmts, 4+3*4)
	for _, stmt := range stmts {
		assert.False(t, strings.HasPrefix(stmt, "--"), stmt)
		assert.True(t, strings.HasSuffix(stmt, ";"), stmt)
	}

	stmts = SplitStatements("-- comment\nSELECT 1;\n\nSELECT 2")
	assert.Equal(t, []string{"SELECT 1;", "SELECT 2"}, stmts)
}
