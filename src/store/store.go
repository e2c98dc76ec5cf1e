package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/amzoon/sync/src/types"
)

// ErrStorage wraps any failure of the underlying store. Requests that hit it
// fail outright; retry policy belongs to the caller.
var ErrStorage = errors.New("storage error")

// Store is a path-addressed document store. Paths are slash-separated
// (`users/u1/activeDevice`); values are JSON. Consistency is per path only,
// no cross-path transactions.
//
// Timestamp fields (registered_at, last_heartbeat_at, updated_at) set to
// types.ServerTimestamp are replaced with the store's clock at write time;
// other fields pass through untouched.
type Store interface {
	// Get decodes the value at path into out. Returns false if absent.
	Get(ctx context.Context, path string, out any) (bool, error)

	// Set replaces the value at path.
	Set(ctx context.Context, path string, value any) error

	// Update merges partial into the object at path, creating it if absent.
	Update(ctx context.Context, path string, partial map[string]any) error

	// List returns the immediate children of path, keyed by child name.
	List(ctx context.Context, path string) (map[string]json.RawMessage, error)
}

// encode marshals value with server-timestamp substitution applied.
func encode(value any, nowMilli int64) ([]byte, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var tree any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, err
	}
	return json.Marshal(stampTree(tree, nowMilli))
}

// timestampFields are the only keys eligible for sentinel substitution.
// Restricting the rewrite keeps the sentinel out of band for every other
// field: a client-supplied -1 in, say, position_sec must round-trip as -1,
// never turn into the wall clock.
var timestampFields = map[string]struct{}{
	"registered_at":     {},
	"last_heartbeat_at": {},
	"updated_at":        {},
}

// stampTree walks a decoded JSON tree and replaces the ServerTimestamp
// sentinel with nowMilli in known timestamp fields.
func stampTree(v any, nowMilli int64) any {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			if num, ok := child.(float64); ok {
				if _, isTS := timestampFields[k]; isTS && num == float64(types.ServerTimestamp) {
					t[k] = nowMilli
					continue
				}
			}
			t[k] = stampTree(child, nowMilli)
		}
		return t
	case []any:
		for i, child := range t {
			t[i] = stampTree(child, nowMilli)
		}
		return t
	default:
		return v
	}
}
