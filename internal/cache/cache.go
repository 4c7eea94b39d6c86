// Package cache defines the namespaced key-value cache used by every
// enrichment stage, with pluggable backing stores.
package cache

import (
	"context"

	"go.uber.org/zap"
)

// Cache namespaces, one per operation kind.
const (
	NamespaceFind      = "tmdb-find"
	NamespaceMetadata  = "tmdb-detail"
	NamespaceLocations = "imdb-locations"
	NamespaceGeocode   = "geocode"
)

// Store persists previously computed results by namespaced key. Values are
// marshalled to JSON by the implementation; Get unmarshals into out and
// reports whether the key was present.
type Store interface {
	Get(ctx context.Context, namespace, key string, out any) (bool, error)
	Set(ctx context.Context, namespace, key string, value any) error
}

type failOpen struct {
	inner  Store
	logger *zap.Logger
}

// FailOpen wraps a store so that backend failures degrade to cache misses
// and dropped writes instead of propagating. The enrichment stages must
// tolerate a cold or partially corrupt cache.
func FailOpen(inner Store, logger *zap.Logger) Store {
	return &failOpen{inner: inner, logger: logger}
}

func (f *failOpen) Get(ctx context.Context, namespace, key string, out any) (bool, error) {
	ok, err := f.inner.Get(ctx, namespace, key, out)
	if err != nil {
		f.logger.Warn("cache read failed, treating as miss",
			zap.String("namespace", namespace),
			zap.String("key", key),
			zap.Error(err),
		)
		return false, nil
	}
	return ok, nil
}

func (f *failOpen) Set(ctx context.Context, namespace, key string, value any) error {
	if err := f.inner.Set(ctx, namespace, key, value); err != nil {
		f.logger.Warn("cache write failed, dropping entry",
			zap.String("namespace", namespace),
			zap.String("key", key),
			zap.Error(err),
		)
	}
	return nil
}
