// Package persistence provides the namespaced key-value store that portfolio
// snapshots are written to.
package persistence

import "context"

// Store is a string/double key-value store. Get methods distinguish a
// missing key (found == false) from a store failure.
type Store interface {
	GetString(ctx context.Context, key string) (value string, found bool, err error)
	SetString(ctx context.Context, key, value string) error
	GetFloat(ctx context.Context, key string) (value float64, found bool, err error)
	SetFloat(ctx context.Context, key string, value float64) error
	Delete(ctx context.Context, keys ...string) error
}
