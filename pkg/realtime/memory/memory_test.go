package memory

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/vitalwatch/platform/pkg/realtime"
)

func TestGetMissingPath(t *testing.T) {
	s := New()
	var v map[string]interface{}
	ok, err := s.Get(context.Background(), "patients/nope", &v)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok || v != nil {
		t.Fatalf("expected absent value, got %v", v)
	}
}

func TestCreateIfAbsentDoesNotOverwrite(t *testing.T) {
	s := New()
	ctx := context.Background()

	created, err := s.CreateIfAbsent(ctx, "patients/1/info", map[string]string{"name": "first"})
	if err != nil || !created {
		t.Fatalf("first create: created=%v err=%v", created, err)
	}
	created, err = s.CreateIfAbsent(ctx, "patients/1/info", map[string]string{"name": "second"})
	if err != nil || created {
		t.Fatalf("second create: created=%v err=%v", created, err)
	}

	var got map[string]string
	if _, err := s.Get(ctx, "patients/1/info", &got); err != nil {
		t.Fatalf("get: %v", err)
	}
	if got["name"] != "first" {
		t.Fatalf("record overwritten: %v", got)
	}
}

func TestCreateIfAbsentConcurrent(t *testing.T) {
	s := New()
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			created, err := s.CreateIfAbsent(ctx, "patients/race/info", map[string]int{"n": i})
			if err != nil {
				t.Errorf("create: %v", err)
				return
			}
			if created {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
}

func TestQueryEqualExactMatch(t *testing.T) {
	s := New()
	ctx := context.Background()
	areas := map[string]string{"a": "North", "b": "north", "c": "North East", "d": "", "e": "North"}
	for id, area := range areas {
		if err := s.Set(ctx, "patients/"+id+"/info", map[string]string{"area": area, "aadhaar": id}); err != nil {
			t.Fatalf("set: %v", err)
		}
	}

	got, err := s.QueryEqual(ctx, "patients", "info/area", "North")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 2 || got["a"] == nil || got["e"] == nil {
		t.Fatalf("unexpected matches: %v", keys(got))
	}

	got, err = s.QueryEqual(ctx, "patients", "info/area", "")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 || got["d"] == nil {
		t.Fatalf("unexpected matches for empty area: %v", keys(got))
	}
}

func TestWatchDeliversInitialAndChanges(t *testing.T) {
	s := New()
	ctx := context.Background()
	if err := s.Set(ctx, "patients/1/records/r1", map[string]int{"timestamp": 5}); err != nil {
		t.Fatalf("set: %v", err)
	}

	var got []map[string]json.RawMessage
	unsub, err := s.Watch(ctx, "patients/1/records", func(snap realtime.Snapshot) {
		var m map[string]json.RawMessage
		if err := snap.Decode(&m); err != nil {
			t.Errorf("decode: %v", err)
		}
		got = append(got, m)
	})
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	if len(got) != 1 || len(got[0]) != 1 {
		t.Fatalf("expected initial snapshot before Watch returns, got %v", got)
	}

	if _, err := s.Push(ctx, "patients/1/records", map[string]int{"timestamp": 6}); err != nil {
		t.Fatalf("push: %v", err)
	}
	if len(got) != 2 || len(got[1]) != 2 {
		t.Fatalf("expected change notification, got %d snapshots", len(got))
	}

	// sibling subtree changes are not delivered
	if err := s.Set(ctx, "patients/2/records/x", map[string]int{"timestamp": 1}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("unrelated write notified watcher")
	}

	unsub()
	unsub()
	if s.Watchers() != 0 {
		t.Fatalf("watcher not released")
	}
	if _, err := s.Push(ctx, "patients/1/records", map[string]int{"timestamp": 7}); err != nil {
		t.Fatalf("push: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("callback fired after unsubscribe")
	}
}

func TestPushKeysAreOrdered(t *testing.T) {
	s := New()
	ctx := context.Background()
	prev := ""
	for i := 0; i < 50; i++ {
		key, err := s.Push(ctx, "log", i)
		if err != nil {
			t.Fatalf("push: %v", err)
		}
		if key <= prev {
			t.Fatalf("push key %q not after %q", key, prev)
		}
		prev = key
	}
}

func TestInvalidPath(t *testing.T) {
	s := New()
	if err := s.Set(context.Background(), "patients/a.b", 1); !errors.Is(err, realtime.ErrInvalidPath) {
		t.Fatalf("expected ErrInvalidPath, got %v", err)
	}
	if _, err := s.Get(context.Background(), "", nil); !errors.Is(err, realtime.ErrInvalidPath) {
		t.Fatalf("expected ErrInvalidPath, got %v", err)
	}
}

func TestLoadYAML(t *testing.T) {
	s, err := LoadYAML([]byte(`
data:
  patients:
    123456789012:
      info:
        aadhaar: "123456789012"
        name: Asha Rao
        age: 54
        area: North
  users:
    admin-1:
      role: admin
      area: North
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	var profile struct {
		Role string `json:"role"`
		Area string `json:"area"`
	}
	ok, err := s.Get(context.Background(), "users/admin-1", &profile)
	if err != nil || !ok {
		t.Fatalf("get profile: ok=%v err=%v", ok, err)
	}
	if profile.Role != "admin" || profile.Area != "North" {
		t.Fatalf("unexpected profile %+v", profile)
	}
	if ok, _ := s.Get(context.Background(), "patients/123456789012/info", &map[string]interface{}{}); !ok {
		t.Fatal("numeric yaml key not converted")
	}
}

func keys(m map[string]json.RawMessage) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestLoadDevFixture(t *testing.T) {
	s, err := LoadFile("../../../fixtures/dev.yaml")
	if err != nil {
		t.Fatalf("load fixture: %v", err)
	}
	north, err := s.QueryEqual(context.Background(), "patients", "info/area", "North")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(north) != 2 {
		t.Fatalf("north patients = %v", keys(north))
	}
}
