// Package metadata stores small key/value state alongside each dataset:
// the last successful sync timestamp and the snapshot schema version.
package metadata

import (
	"context"
	"time"
)

// Well-known metadata keys.
const (
	KeyLastSync      = "last_sync"
	KeySchemaVersion = "schema_version"
)

type Repository interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error

	// GetTime reads a key holding an RFC3339 timestamp. The zero time and
	// ok=false are returned when the key is absent or unparseable.
	GetTime(ctx context.Context, key string) (time.Time, bool, error)
	SetTime(ctx context.Context, key string, t time.Time) error
}
