// Package kv is the string-keyed record store that profiles, appointments and
// their lookup indexes live in. Values are JSON documents.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get when no record exists for the key.
var ErrNotFound = errors.New("kv: key not found")

// Entry is a single key/value pair.
type Entry struct {
	Key   string
	Value []byte
}

// Store is the persistence contract. Single-key operations are atomic;
// SetMany writes all entries or none.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	// ScanPrefix returns every entry whose key starts with prefix, ordered by key.
	ScanPrefix(ctx context.Context, prefix string) ([]Entry, error)
	SetMany(ctx context.Context, entries []Entry) error
	Ping(ctx context.Context) error
	Close() error
}

// GetJSON loads key and decodes it into v.
func GetJSON(ctx context.Context, s Store, key string, v interface{}) error {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// SetJSON encodes v and stores it under key.
func SetJSON(ctx context.Context, s Store, key string, v interface{}) error {
	e, err := JSONEntry(key, v)
	if err != nil {
		return err
	}
	return s.Set(ctx, e.Key, e.Value)
}

// JSONEntry encodes v into an Entry for use with SetMany.
func JSONEntry(key string, v interface{}) (Entry, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Entry{}, fmt.Errorf("encode %s: %w", key, err)
	}
	return Entry{Key: key, Value: raw}, nil
}
