package store

import (
	"context"
)

// CacheStore holds binary assets: synthesized speech and downloaded art.
// Keys are opaque; values are stored compressed when that is smaller.
type CacheStore interface {
	GetCache(ctx context.Context, key string) ([]byte, bool)
	HasCache(ctx context.Context, key string) (bool, error)
	SetCache(ctx context.Context, key string, val []byte) error
	DeleteCache(ctx context.Context, key string) error
	ListCacheKeys(ctx context.Context, prefix string) ([]string, error)
}

// UserDataStore holds structured per-learner records as JSON documents.
type UserDataStore interface {
	GetUserData(ctx context.Context, key string) ([]byte, bool)
	SetUserData(ctx context.Context, key string, doc []byte) error
	ListUserDataKeys(ctx context.Context, prefix string) ([]string, error)
}

// StateStore handles the flat key-value area (progress marker, dictionary list).
type StateStore interface {
	GetState(ctx context.Context, key string) (string, bool)
	SetState(ctx context.Context, key, val string) error
	DeleteState(ctx context.Context, key string) error
}

// Store composes all sub-interfaces.
// Consumers should depend on specific sub-interfaces when possible.
type Store interface {
	CacheStore
	UserDataStore
	StateStore

	// Available reports whether the backend could be opened.
	Available(ctx context.Context) bool
	Close() error
}
