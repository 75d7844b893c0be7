// Package storage defines the artifact store the crawler snapshots its progress into.
// Artifacts are whole JSON documents addressed by a file-shaped key such as
// "companies_with_drivers.json"; every write replaces the previous document.
// This abstraction keeps the pipeline independent of a specific backend
// (local filesystem, Google Cloud Storage, Postgres, Redis or memory).
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get when the key has never been written.
var ErrNotFound = errors.New("artifact not found")

// Provider defines the common interface for an artifact store.
type Provider interface {
	// Get returns the full document stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Put replaces the document stored under key.
	Put(ctx context.Context, key string, data []byte) error
}

// ReadJSON loads the document under key and decodes it into dest.
func ReadJSON(ctx context.Context, p Provider, key string, dest any) error {
	data, err := p.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// WriteJSON encodes payload with two-space indentation and stores it under key.
func WriteJSON(ctx context.Context, p Provider, key string, payload any) error {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := p.Put(ctx, key, data); err != nil {
		return fmt.Errorf("store %s: %w", key, err)
	}
	return nil
}

// NoOpProvider discards writes and never finds anything.
// It is useful for dry runs where only the logs and metrics matter.
type NoOpProvider struct{}

// Get always reports ErrNotFound.
func (NoOpProvider) Get(context.Context, string) ([]byte, error) {
	return nil, ErrNotFound
}

// Put does nothing and always returns nil.
func (NoOpProvider) Put(context.Context, string, []byte) error {
	return nil
}
