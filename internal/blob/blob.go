// Package blob is the entry point to the blob stores that back the audit
// archive. Callers depend on Store; the infra packages stay behind Open.
package blob

import (
	"context"
	"fmt"

	"esgbu/internal/blob/core"
	"esgbu/internal/config"
	fsstore "esgbu/internal/infra/blob/fs"
	memorystore "esgbu/internal/infra/blob/memory"
	s3store "esgbu/internal/infra/blob/s3"
)

type (
	Driver     = core.Driver
	PutOptions = core.PutOptions
	Info       = core.Info
	Store      = core.Store
)

const (
	DriverFilesystem = core.DriverFilesystem
	DriverS3         = core.DriverS3
	DriverMemory     = core.DriverMemory
)

var (
	ErrExists   = core.ErrExists
	ErrNotFound = core.ErrNotFound
)

// NewMemory returns an in-memory store.
func NewMemory() Store { return memorystore.New() }

// NewFilesystem returns a store rooted at root.
func NewFilesystem(root string) (Store, error) { return fsstore.New(root) }

// Open builds the archive store selected by cfg. The "none" driver yields a
// nil store and no error.
func Open(ctx context.Context, cfg config.Audit) (Store, error) {
	switch cfg.Driver {
	case config.AuditNone, "":
		return nil, nil
	case config.AuditMemory:
		return NewMemory(), nil
	case config.AuditFS:
		return NewFilesystem(cfg.Root)
	case config.AuditS3:
		return s3store.New(ctx, s3store.Config{
			Bucket:    cfg.Bucket,
			Region:    cfg.Region,
			Endpoint:  cfg.Endpoint,
			PathStyle: cfg.PathStyle,
		})
	default:
		return nil, fmt.Errorf("unknown audit archive driver %q", cfg.Driver)
	}
}
