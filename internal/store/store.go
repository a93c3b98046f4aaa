// Package store provides the key/value persistence used for extension
// priorities, enablement flags and settings.
package store

import (
	"context"
	"fmt"
	"strconv"

	"gorm.io/gorm"
)

// DB is the gorm handle the database backend writes to.
type DB = *gorm.DB

// KeyValueStore is the only persistence contract the extension runtime needs.
// Getters report whether the key existed so callers can apply their own
// defaults.
type KeyValueStore interface {
	GetString(ctx context.Context, key string) (string, bool, error)
	PutString(ctx context.Context, key, value string) error
	GetBool(ctx context.Context, key string) (bool, bool, error)
	PutBool(ctx context.Context, key string, value bool) error
}

// stringStore is what a backend has to provide; bool handling is shared.
type stringStore interface {
	GetString(ctx context.Context, key string) (string, bool, error)
	PutString(ctx context.Context, key, value string) error
}

func getBool(ctx context.Context, s stringStore, key string) (bool, bool, error) {
	raw, ok, err := s.GetString(ctx, key)
	if err != nil || !ok {
		return false, ok, err
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, true, fmt.Errorf("key %s holds non boolean value %q: %w", key, raw, err)
	}
	return v, true, nil
}

func putBool(ctx context.Context, s stringStore, key string, value bool) error {
	return s.PutString(ctx, key, strconv.FormatBool(value))
}

// Backend names accepted by Open.
const (
	BackendDatabase = "database"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

// Options selects a backend for Open.
type Options struct {
	Backend  string
	RedisURL string
	Prefix   string
}

// Open builds the configured backend. db is only used by the database backend.
func Open(ctx context.Context, opts Options, db DB) (KeyValueStore, error) {
	switch opts.Backend {
	case BackendDatabase, "":
		if db == nil {
			return nil, fmt.Errorf("database store requires an open database")
		}
		return NewGormStore(db), nil
	case BackendRedis:
		s, err := NewRedisStore(opts.RedisURL, opts.Prefix)
		if err != nil {
			return nil, err
		}
		if err := s.Ping(ctx); err != nil {
			s.Close()
			return nil, fmt.Errorf("redis unavailable: %w", err)
		}
		return s, nil
	case BackendMemory:
		return NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unsupported store backend: %s", opts.Backend)
}
