// Package kvstore is the small key-value contract shared by the rate
// limiter, the dashboard snapshot cache and the geolocation cache.
package kvstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key is missing or expired.
var ErrNotFound = errors.New("kvstore: key not found")

type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value under key. ttl <= 0 keeps the key forever.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// IncrementBelow atomically bumps the counter at key unless it already
	// reached limit. A missing key starts at 1 with ttl; later increments keep
	// the remaining ttl. It returns the counter value after the call and
	// whether the increment happened.
	IncrementBelow(ctx context.Context, key string, limit int64, ttl time.Duration) (int64, bool, error)
}
