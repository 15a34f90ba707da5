// Package memory is an in-process realtime.Store used for local development
// and tests. Listeners are notified synchronously from the writing goroutine.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vitalwatch/platform/pkg/realtime"
)

type Store struct {
	mu       sync.RWMutex
	root     map[string]interface{}
	watchers map[int]*watcher
	nextID   int
	version  uint64

	lastPushMillis int64
	pushSeq        int
}

type watcher struct {
	path []string
	fn   realtime.Listener

	mu          sync.Mutex
	lastVersion uint64
	lastRaw     string
	delivered   bool
}

type delivery struct {
	w       *watcher
	version uint64
	snap    realtime.Snapshot
}

var _ realtime.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		root:     map[string]interface{}{},
		watchers: map[int]*watcher{},
	}
}

func (s *Store) Get(ctx context.Context, path string, v interface{}) (bool, error) {
	segs, err := split(path)
	if err != nil {
		return false, err
	}
	s.mu.RLock()
	node := lookup(s.root, segs)
	raw, err := encode(node)
	s.mu.RUnlock()
	if err != nil {
		return false, err
	}
	snap := realtime.Snapshot{Path: path, Raw: raw}
	if !snap.Exists() {
		return false, nil
	}
	return true, snap.Decode(v)
}

func (s *Store) Set(ctx context.Context, path string, v interface{}) error {
	segs, err := split(path)
	if err != nil {
		return err
	}
	val, err := normalize(v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	assign(s.root, segs, val)
	deliveries := s.collectLocked(segs)
	s.mu.Unlock()

	dispatch(deliveries)
	return nil
}

func (s *Store) Push(ctx context.Context, path string, v interface{}) (string, error) {
	segs, err := split(path)
	if err != nil {
		return "", err
	}
	val, err := normalize(v)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	key := s.pushKeyLocked()
	full := append(append([]string{}, segs...), key)
	assign(s.root, full, val)
	deliveries := s.collectLocked(full)
	s.mu.Unlock()

	dispatch(deliveries)
	return key, nil
}

func (s *Store) CreateIfAbsent(ctx context.Context, path string, v interface{}) (bool, error) {
	segs, err := split(path)
	if err != nil {
		return false, err
	}
	val, err := normalize(v)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	if lookup(s.root, segs) != nil {
		s.mu.Unlock()
		return false, nil
	}
	assign(s.root, segs, val)
	deliveries := s.collectLocked(segs)
	s.mu.Unlock()

	dispatch(deliveries)
	return true, nil
}

func (s *Store) QueryEqual(ctx context.Context, path, child, value string) (map[string]json.RawMessage, error) {
	segs, err := split(path)
	if err != nil {
		return nil, err
	}
	childSegs, err := split(child)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := map[string]json.RawMessage{}
	parent, ok := lookup(s.root, segs).(map[string]interface{})
	if !ok {
		return out, nil
	}
	for key, node := range parent {
		got, ok := lookup(node, childSegs).(string)
		if !ok || got != value {
			continue
		}
		raw, err := encode(node)
		if err != nil {
			return nil, err
		}
		out[key] = raw
	}
	return out, nil
}

func (s *Store) Watch(ctx context.Context, path string, fn realtime.Listener) (realtime.Unsubscribe, error) {
	segs, err := split(path)
	if err != nil {
		return nil, err
	}
	w := &watcher{path: segs, fn: fn}

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = w
	raw, err := encode(lookup(s.root, segs))
	version := s.version
	s.mu.Unlock()
	if err != nil {
		s.remove(id)
		return nil, err
	}

	dispatch([]delivery{{w: w, version: version, snap: realtime.Snapshot{Path: path, Raw: raw}}})

	return realtime.Once(func() { s.remove(id) }), nil
}

// Watchers reports the number of live subscriptions.
func (s *Store) Watchers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.watchers)
}

// Load replaces the whole tree, notifying every watcher whose subtree changed.
func (s *Store) Load(tree map[string]interface{}) error {
	val, err := normalize(tree)
	if err != nil {
		return err
	}
	root, _ := val.(map[string]interface{})
	if root == nil {
		root = map[string]interface{}{}
	}
	s.mu.Lock()
	s.root = root
	deliveries := s.collectLocked(nil)
	s.mu.Unlock()

	dispatch(deliveries)
	return nil
}

func (s *Store) remove(id int) {
	s.mu.Lock()
	delete(s.watchers, id)
	s.mu.Unlock()
}

// collectLocked snapshots every watcher whose subtree overlaps the written path.
func (s *Store) collectLocked(written []string) []delivery {
	s.version++
	var out []delivery
	for _, w := range s.watchers {
		if !overlaps(w.path, written) {
			continue
		}
		raw, err := encode(lookup(s.root, w.path))
		if err != nil {
			continue
		}
		out = append(out, delivery{
			w:       w,
			version: s.version,
			snap:    realtime.Snapshot{Path: strings.Join(w.path, "/"), Raw: raw},
		})
	}
	return out
}

func (s *Store) pushKeyLocked() string {
	now := time.Now().UnixMilli()
	if now <= s.lastPushMillis {
		now = s.lastPushMillis
		s.pushSeq++
	} else {
		s.pushSeq = 0
	}
	s.lastPushMillis = now
	return fmt.Sprintf("-%011x%04x%s", now, s.pushSeq, strings.ReplaceAll(uuid.NewString(), "-", "")[:5])
}

func dispatch(deliveries []delivery) {
	for _, d := range deliveries {
		d.w.deliver(d.version, d.snap)
	}
}

func (w *watcher) deliver(version uint64, snap realtime.Snapshot) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.delivered && version < w.lastVersion {
		return
	}
	raw := string(snap.Raw)
	if w.delivered && raw == w.lastRaw {
		return
	}
	w.delivered = true
	w.lastVersion = version
	w.lastRaw = raw
	w.fn(snap)
}

func split(path string) ([]string, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil, realtime.ErrInvalidPath
	}
	segs := strings.Split(path, "/")
	for _, seg := range segs {
		if !realtime.ValidKey(seg) {
			return nil, fmt.Errorf("%w: %q", realtime.ErrInvalidPath, path)
		}
	}
	return segs, nil
}

func overlaps(a, b []string) bool {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func lookup(node interface{}, segs []string) interface{} {
	for _, seg := range segs {
		m, ok := node.(map[string]interface{})
		if !ok {
			return nil
		}
		node = m[seg]
	}
	return node
}

// assign writes val at segs, pruning maps left empty when val is nil.
func assign(root map[string]interface{}, segs []string, val interface{}) {
	if len(segs) == 0 {
		return
	}
	parent := root
	trail := []map[string]interface{}{root}
	for _, seg := range segs[:len(segs)-1] {
		next, ok := parent[seg].(map[string]interface{})
		if !ok {
			if val == nil {
				return
			}
			next = map[string]interface{}{}
			parent[seg] = next
		}
		parent = next
		trail = append(trail, parent)
	}
	last := segs[len(segs)-1]
	if val == nil {
		delete(parent, last)
		for i := len(trail) - 1; i > 0; i-- {
			if len(trail[i]) > 0 {
				break
			}
			delete(trail[i-1], segs[i-1])
		}
		return
	}
	parent[last] = val
}

// normalize converts v into the generic JSON tree the store keeps.
func normalize(v interface{}) (interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	return prune(out), nil
}

// prune drops nulls and empty objects, which the hosted store never keeps.
func prune(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, child := range t {
			if p := prune(child); p == nil {
				delete(t, k)
			} else {
				t[k] = p
			}
		}
		if len(t) == 0 {
			return nil
		}
		return t
	case []interface{}:
		if len(t) == 0 {
			return nil
		}
		return t
	}
	return v
}

func encode(node interface{}) (json.RawMessage, error) {
	if node == nil {
		return json.RawMessage("null"), nil
	}
	data, err := json.Marshal(node)
	if err != nil {
		return nil, err
	}
	return data, nil
}
