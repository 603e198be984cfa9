// Package blob selects and opens the blob store that version exports are
// written to.
package blob

import (
	"context"
	"fmt"
	"os"

	"sequelacore/internal/blob/core"
	"sequelacore/internal/config"
	fsblob "sequelacore/internal/infra/blob/fs"
	memblob "sequelacore/internal/infra/blob/memory"
	s3blob "sequelacore/internal/infra/blob/s3"
)

type (
	Store      = core.Store
	Info       = core.Info
	PutOptions = core.PutOptions
	Driver     = core.Driver
)

var (
	ErrNotFound   = core.ErrNotFound
	ErrExists     = core.ErrExists
	ErrInvalidKey = core.ErrInvalidKey
)

// Open builds the store selected by cfg.Driver. S3 credentials come from the
// standard AWS environment variables when present, otherwise from the default
// credential chain.
func Open(ctx context.Context, cfg config.BlobConfig) (Store, error) {
	switch cfg.Driver {
	case config.BlobMemory:
		return memblob.New(), nil
	case config.BlobFS, "":
		return fsblob.New(cfg.FSRoot)
	case config.BlobS3:
		return s3blob.New(ctx, s3blob.Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			PathStyle:       cfg.S3.PathStyle,
			AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
			SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
		})
	default:
		return nil, fmt.Errorf("unknown blob driver %q", cfg.Driver)
	}
}
