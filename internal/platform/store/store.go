// Package store provides the execution record backends: in-memory, Redis and SQLite.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/dontdude/codestream/internal/domain"
)

// ErrExists is returned by Create when the id is already taken.
var ErrExists = errors.New("execution already exists")

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

// Options selects and configures a backend.
type Options struct {
	Backend     string
	RedisAddr   string
	RedisPrefix string
	SQLitePath  string
}

// Open returns the backend named in opts.
func Open(ctx context.Context, opts Options) (domain.ExecutionStore, error) {
	switch opts.Backend {
	case BackendMemory, "":
		return NewMemoryStore(), nil
	case BackendRedis:
		return NewRedisStore(ctx, opts.RedisAddr, opts.RedisPrefix)
	case BackendSQLite:
		return OpenSQLite(opts.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", opts.Backend)
	}
}
