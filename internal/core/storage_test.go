package core

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"esgbu/internal/config"
	"esgbu/internal/infra/persistence/memory"
	"esgbu/internal/infra/persistence/postgres"
	"esgbu/internal/infra/persistence/postgres/testutil"
	"esgbu/internal/infra/persistence/sqlite"
	"esgbu/pkg/domain"
)

func TestOpenPersistentStoreMemory(t *testing.T) {
	store, err := OpenPersistentStore(context.Background(), config.Storage{Driver: config.StorageMemory}, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, ok := store.(*memory.Store); !ok {
		t.Fatalf("expected *memory.Store, got %T", store)
	}
}

func TestOpenPersistentStoreSQLite(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "esgbu.db")
	store, err := OpenPersistentStore(ctx, config.Storage{Driver: config.StorageSQLite, SQLitePath: path}, NewDefaultRulesEngine())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = store.Close() }()
	s, ok := store.(*sqlite.Store)
	if !ok {
		t.Fatalf("expected *sqlite.Store, got %T", store)
	}
	if s.Path() != path {
		t.Fatalf("expected path %s, got %s", path, s.Path())
	}

	svc := NewService(store)
	group, err := svc.CreateDataGroup(ctx, domain.DataGroup{Name: "Staff", Kind: domain.KindEstablishment})
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	if _, err := svc.CreateDataType(ctx, domain.DataType{Code: "12", Type: domain.DataTypeNumber, GroupID: group.ID}); !blockedBy(err, "catalog_shape") {
		t.Fatalf("expected rules to run on sqlite, got %v", err)
	}
}

func TestOpenPersistentStorePostgres(t *testing.T) {
	db, _ := testutil.NewStubDB()
	var opened string
	restore := postgres.OverrideSQLOpen(func(driverName, dsn string) (*sql.DB, error) {
		opened = dsn
		return db, nil
	})
	defer restore()

	store, err := OpenPersistentStore(context.Background(), config.Storage{Driver: config.StoragePostgres, PostgresDSN: "postgres://db/esgbu"}, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, ok := store.(*postgres.Store); !ok {
		t.Fatalf("expected *postgres.Store, got %T", store)
	}
	if opened != "postgres://db/esgbu" {
		t.Fatalf("unexpected dsn %q", opened)
	}
}

func TestOpenPersistentStoreUnknownDriver(t *testing.T) {
	if _, err := OpenPersistentStore(context.Background(), config.Storage{Driver: "mongo"}, nil); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
