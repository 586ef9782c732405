package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Logical records. Each component owns a disjoint key.
const (
	KeyRoster      = "graminbus_data"
	KeyQueue       = "graminbus_offline_queue"
	KeyLanguage    = "graminbus_lang"
	KeyPredictions = "graminbus_predictions"
)

var ErrNotFound = errors.New("store: key not found")

// Store is a flat durable key/value store. Writes are last-write-wins per key.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Close() error
}

// GetJSON decodes the value stored under key into v.
func GetJSON(ctx context.Context, s Store, key string, v any) error {
	b, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// PutJSON encodes v and stores it under key.
func PutJSON(ctx context.Context, s Store, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Put(ctx, key, b)
}

// Open returns the store selected by driver. dsn is a file path for "bolt"
// and a connection string for "postgres"; "memory" ignores it.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case "memory":
		return NewMemory(), nil
	case "", "bolt":
		return OpenBolt(dsn)
	case "postgres":
		return OpenPostgres(ctx, dsn)
	}
	return nil, fmt.Errorf("unknown store driver %q", driver)
}
