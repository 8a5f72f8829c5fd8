// Package sqlstore implements domain.PersistentStore on top of database/sql.
// The sqlite and postgres packages supply a Dialect and open the connection;
// every query and transaction rule lives here.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"esgbu/pkg/domain"
)

// Compile-time contract assertion ensuring Store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

// Store runs every domain transaction inside one SQL transaction and evaluates
// the rules engine against it before commit.
type Store struct {
	db      *sql.DB
	dialect Dialect
	engine  *domain.RulesEngine
	nowFn   func() time.Time
}

// New wraps db. Call Migrate before first use on an empty database.
func New(db *sql.DB, dialect Dialect, engine *domain.RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		db:      db,
		dialect: dialect,
		engine:  engine,
		nowFn:   func() time.Time { return time.Now().UTC() },
	}
}

// Migrate applies the schema. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range SplitStatements(Schema(s.dialect)) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s: apply schema: %w", s.dialect.Name, err)
		}
	}
	return nil
}

// DB exposes the underlying connection pool.
func (s *Store) DB() *sql.DB { return s.db }

// Dialect returns the dialect in use.
func (s *Store) Dialect() Dialect { return s.dialect }

// RulesEngine exposes the configured rules engine.
func (s *Store) RulesEngine() *domain.RulesEngine { return s.engine }

// SetNowFunc overrides the transaction clock.
func (s *Store) SetNowFunc(fn func() time.Time) {
	if fn == nil {
		fn = func() time.Time { return time.Now().UTC() }
	}
	s.nowFn = fn
}

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// RunInTransaction executes fn inside a SQL transaction. The transaction is
// rolled back when fn fails or a rule reports a blocking violation.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Result{}, fmt.Errorf("%s: begin: %w", s.dialect.Name, err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = sqlTx.Rollback()
		}
	}()

	tx := &transaction{ctx: ctx, tx: sqlTx, d: s.dialect, now: truncate(s.nowFn())}
	if err := fn(tx); err != nil {
		return domain.Result{}, err
	}

	var result domain.Result
	if s.engine != nil {
		res, err := s.engine.Evaluate(ctx, tx, tx.changes)
		if err != nil {
			return domain.Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	if err := sqlTx.Commit(); err != nil {
		return domain.Result{}, fmt.Errorf("%s: commit: %w", s.dialect.Name, err)
	}
	committed = true
	return result, nil
}

// View executes fn inside a transaction that is always rolled back.
func (s *Store) View(ctx context.Context, fn func(domain.TransactionView) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin: %w", s.dialect.Name, err)
	}
	defer func() { _ = sqlTx.Rollback() }()
	return fn(&transaction{ctx: ctx, tx: sqlTx, d: s.dialect, now: truncate(s.nowFn())})
}

func truncate(t time.Time) time.Time { return time.UnixMicro(t.UnixMicro()).UTC() }

func toMicros(t time.Time) int64 { return t.UTC().UnixMicro() }

func fromMicros(n int64) time.Time { return time.UnixMicro(n).UTC() }

func nullable(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func fromNullable(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func notFound(err error) bool { return errors.Is(err, sql.ErrNoRows) }
