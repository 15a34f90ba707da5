// Package realtime abstracts the hosted realtime document store: a JSON tree
// addressed by slash-separated paths with point reads, writes, push-keyed
// appends, child-equality queries and change subscriptions.
package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
)

var ErrInvalidPath = errors.New("invalid store path")

// Snapshot is the state of a subtree at one point in time.
type Snapshot struct {
	Path string
	Raw  json.RawMessage
}

// Exists reports whether the subtree held any value.
func (s Snapshot) Exists() bool {
	trimmed := bytes.TrimSpace(s.Raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

// Decode unmarshals the snapshot into v. Absent snapshots leave v untouched.
func (s Snapshot) Decode(v interface{}) error {
	if !s.Exists() {
		return nil
	}
	return json.Unmarshal(s.Raw, v)
}

// Listener receives the initial state of a watched subtree and every change after it.
type Listener func(Snapshot)

// Unsubscribe releases a subscription. Calling it more than once is harmless.
type Unsubscribe func()

type Store interface {
	// Get reads the value at path into v and reports whether it existed.
	Get(ctx context.Context, path string, v interface{}) (bool, error)
	// Set overwrites the value at path.
	Set(ctx context.Context, path string, v interface{}) error
	// Push appends v under a freshly generated key and returns the key.
	Push(ctx context.Context, path string, v interface{}) (string, error)
	// CreateIfAbsent writes v at path only when nothing is stored there.
	// It reports whether the write happened; the check and the write are atomic.
	CreateIfAbsent(ctx context.Context, path string, v interface{}) (bool, error)
	// QueryEqual returns the children of path whose value at child equals value.
	QueryEqual(ctx context.Context, path, child, value string) (map[string]json.RawMessage, error)
	// Watch calls fn with the current state of path before returning, then on every change.
	Watch(ctx context.Context, path string, fn Listener) (Unsubscribe, error)
}

// Join builds a store path from segments, rejecting empty or slash-bearing keys.
func Join(segments ...string) (string, error) {
	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		seg = strings.Trim(seg, "/")
		if seg == "" {
			return "", ErrInvalidPath
		}
		parts = append(parts, seg)
	}
	return strings.Join(parts, "/"), nil
}

// ValidKey reports whether key can be used as a single path segment.
func ValidKey(key string) bool {
	if key == "" {
		return false
	}
	return !strings.ContainsAny(key, "/.#$[]")
}

// Once wraps an unsubscribe function so that it runs at most once.
func Once(fn func()) Unsubscribe {
	var once sync.Once
	return func() {
		once.Do(fn)
	}
}
