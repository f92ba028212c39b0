// Package storage provides the durable key-value stores behind the forecast
// cache and the search history.
package storage

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Store is a string-key, byte-value store. Set replaces any existing value
// in a single operation; readers never observe a partially written value.
type Store interface {
	// Get returns false, nil on a miss and false, err on a backend failure.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}

// Backend names accepted by Open.
const (
	BackendMemory    = "memory"
	BackendSQLite    = "sqlite"
	BackendMySQL     = "mysql"
	BackendMemcached = "memcached"
)

// Options selects and configures a backend.
type Options struct {
	Backend string

	// SQLitePath is the database file for the sqlite backend.
	SQLitePath string
	// MySQLDSN is a go-sql-driver/mysql DSN.
	MySQLDSN string

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int
}

// Open builds the configured backend wrapped with operation metrics.
func Open(ctx context.Context, opts Options) (Store, error) {
	var (
		s   Store
		err error
	)
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case BackendMemory:
		s = NewMemoryStore()
	case BackendSQLite, "":
		s, err = OpenSQLite(ctx, opts.SQLitePath)
	case BackendMySQL:
		s, err = OpenMySQL(ctx, opts.MySQLDSN)
	case BackendMemcached:
		s, err = NewMemcachedStore(opts.MemcachedAddrs, opts.MemcachedTimeout, opts.MemcachedMaxIdleConns)
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", opts.Backend)
	}
	if err != nil {
		return nil, err
	}
	return Instrument(s), nil
}
