// Package blob is the entry point for object storage. Callers depend on
// blob.Store; the drivers live under internal/infra/blob.
package blob

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"meshcore/internal/blob/core"
	"meshcore/internal/config"
	"meshcore/internal/infra/blob/fs"
	memorystore "meshcore/internal/infra/blob/memory"
	infraS3 "meshcore/internal/infra/blob/s3"
)

type (
	Driver           = core.Driver
	PutOptions       = core.PutOptions
	SignedURLOptions = core.SignedURLOptions
	Info             = core.Info
	Store            = core.Store
)

const (
	DriverFilesystem = core.DriverFilesystem
	DriverS3         = core.DriverS3
	DriverMemory     = core.DriverMemory
)

var (
	ErrUnsupported = core.ErrUnsupported
	ErrNotFound    = core.ErrNotFound
	ErrExists      = core.ErrExists
)

// S3Config configures the S3 driver.
type S3Config = infraS3.Config

// Open builds the store selected by cfg.Driver; empty selects the filesystem.
func Open(ctx context.Context, cfg config.Blob, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	driver := Driver(cfg.Driver)
	if driver == "" {
		driver = DriverFilesystem
	}
	logger.Info("opening blob store", zap.String("driver", string(driver)))
	switch driver {
	case DriverFilesystem:
		return NewFilesystem(cfg.Root)
	case DriverMemory:
		return NewMemory(), nil
	case DriverS3:
		return NewS3(ctx, S3Config{
			Bucket:    cfg.Bucket,
			Region:    cfg.Region,
			Endpoint:  cfg.Endpoint,
			PathStyle: cfg.PathStyle,
		})
	default:
		return nil, fmt.Errorf("unknown blob driver %q", cfg.Driver)
	}
}

func NewFilesystem(root string) (Store, error) { return fs.New(root) }

func NewMemory() Store { return memorystore.New() }

func NewS3(ctx context.Context, cfg S3Config) (Store, error) { return infraS3.New(ctx, cfg) }

// NewMockS3ForTests returns an S3 store whose HTTP traffic is served in memory.
func NewMockS3ForTests() Store { return infraS3.NewMockForTests() }
