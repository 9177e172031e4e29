// Package store provides the durable key-value storage that holds
// serialized queue state across process restarts.
package store

import (
	"context"
	"errors"
	"fmt"
	"unicode"
)

var (
	// ErrNotFound is returned by Get when a key has never been written.
	ErrNotFound = errors.New("key not found")

	// ErrInvalidKey is returned when a key contains invalid characters.
	ErrInvalidKey = errors.New("invalid store key")
)

// Store is a minimal durable key-value store.
// Implementations must make Set atomic: a reader never observes a partial value.
type Store interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set creates or replaces the value stored under key.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases backend resources.
	Close() error
}

// Backend names accepted by Open.
const (
	BackendFile     = "file"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config selects and configures a backend.
type Config struct {
	Backend     string
	Path        string // file backend directory
	RedisURL    string
	PostgresDSN string
	KeyPrefix   string // namespace for redis/postgres keys
}

// Open constructs the configured backend.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case BackendFile, "":
		return NewFileStore(cfg.Path)
	case BackendRedis:
		return NewRedisStore(ctx, cfg.RedisURL, cfg.KeyPrefix)
	case BackendPostgres:
		return NewPostgresStore(ctx, cfg.PostgresDSN, cfg.KeyPrefix)
	case BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// ValidateKey checks that a key contains only letters, digits, dots,
// underscores and hyphens, and does not start or end with a dot.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: key cannot be empty", ErrInvalidKey)
	}
	for i, r := range key {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '.' && r != '_' && r != '-' {
			return fmt.Errorf("%w: invalid character %q at position %d", ErrInvalidKey, r, i)
		}
	}
	if key[0] == '.' || key[len(key)-1] == '.' {
		return fmt.Errorf("%w: key cannot start or end with a dot", ErrInvalidKey)
	}
	return nil
}
