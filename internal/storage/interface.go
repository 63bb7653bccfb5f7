// Package storage holds uploaded grade spreadsheets until the import worker
// picks them up.
package storage

import (
	"context"
	"io"
)

type Storage interface {
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	Upload(ctx context.Context, key string, data io.Reader) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}
