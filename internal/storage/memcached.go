package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

const (
	memcachedKeyPrefix = "weatherlookup:"
	// memcachedMaxKeyLen is the protocol limit in bytes.
	memcachedMaxKeyLen = 250
)

// MemcachedStore implements Store using memcached. Items are written without
// expiration; memcached may still evict them under memory pressure, which
// the forecast cache treats as a miss.
type MemcachedStore struct {
	client *memcache.Client
}

// NewMemcachedStore creates a MemcachedStore. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout and maxIdleConns
// use package defaults if zero.
func NewMemcachedStore(addrs string, timeout time.Duration, maxIdleConns int) (*MemcachedStore, error) {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return &MemcachedStore{client: client}, nil
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

// memcached keys may not contain spaces or control characters and are capped
// at 250 bytes; longer keys are replaced by a hash of the original.
func (m *MemcachedStore) key(k string) string {
	key := memcachedKeyPrefix + strings.ReplaceAll(k, " ", "_")
	if len(key) <= memcachedMaxKeyLen {
		return key
	}
	sum := sha256.Sum256([]byte(k))
	return memcachedKeyPrefix + "sha256:" + hex.EncodeToString(sum[:])
}

func (m *MemcachedStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	item, err := m.client.Get(m.key(key))
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return item.Value, true, nil
}

func (m *MemcachedStore) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.client.Set(&memcache.Item{Key: m.key(key), Value: value})
}

func (m *MemcachedStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := m.client.Delete(m.key(key))
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil
	}
	return err
}

// Ping checks that every configured server is reachable.
func (m *MemcachedStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.client.Ping()
}

func (m *MemcachedStore) Close() error {
	return m.client.Close()
}
