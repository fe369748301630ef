package store

import (
	"context"
	"fmt"
)

// Supported drivers.
const (
	DriverRedis  = "redis"
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// Options selects and configures a backend.
type Options struct {
	Driver     string
	Redis      RedisOptions
	SQLitePath string
}

// Open returns the Store for opts.Driver.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Driver {
	case DriverRedis, "":
		return NewRedisStore(ctx, opts.Redis)
	case DriverSQLite:
		return NewSQLiteStore(opts.SQLitePath)
	case DriverMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
	}
}
