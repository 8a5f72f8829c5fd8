package sqlstore

import (
	"strconv"
	"strings"
)

// Dialect captures the differences between the SQL backends.
type Dialect struct {
	// Name is reported in errors.
	Name string
	// Placeholder renders the n-th (1-based) bind parameter.
	Placeholder func(n int) string
	// IdentityColumn is the column definition of an auto-increment primary key.
	IdentityColumn string
	// IsUniqueViolation reports whether err is a unique constraint failure.
	IsUniqueViolation func(err error) bool
}

// QuestionPlaceholder renders '?' parameters.
func QuestionPlaceholder(int) string { return "?" }

// DollarPlaceholder renders $1, $2, ... parameters.
func DollarPlaceholder(n int) string { return "$" + strconv.Itoa(n) }

// Rebind rewrites the '?' parameters of query into the dialect's style.
func (d Dialect) Rebind(query string) string {
	if d.Placeholder == nil {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteString(d.Placeholder(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
