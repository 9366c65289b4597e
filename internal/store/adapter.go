// Package store defines the storage adapter contract the engine uses for
// rule, timer, and version-history persistence, plus the in-memory and
// SQLite implementations.
//
// Adapters must provide atomic single-key writes; multi-key consistency
// is not required. The engine keys its state as "rules", "timers", and
// "versions:<ruleId>".
package store

import "context"

// Well-known persistence keys.
const (
	KeyRules         = "rules"
	KeyTimers        = "timers"
	KeyVersionPrefix = "versions:"
)

// Adapter is the persistence contract. State blobs are opaque JSON.
type Adapter interface {
	// Save atomically writes state under key.
	Save(ctx context.Context, key string, state []byte) error

	// Load reads the state under key. The second return is false when the
	// key has never been saved.
	Load(ctx context.Context, key string) ([]byte, bool, error)

	// Delete removes the key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// ListKeys returns every stored key with the given prefix, sorted.
	ListKeys(ctx context.Context, prefix string) ([]string, error)
}
