// Package viewmodel holds the per-screen state derived from the patient
// gateway: static info from a one-shot lookup plus live vitals and insights
// that are recomputed on every snapshot.
package viewmodel

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vitalwatch/platform/pkg/common/models"
	"github.com/vitalwatch/platform/pkg/patients"
	"github.com/vitalwatch/platform/pkg/realtime"
)

// Gateway is the part of the patient repository a detail screen reads from.
type Gateway interface {
	Get(ctx context.Context, aadhaar string) (*models.Patient, error)
	ListenVitals(ctx context.Context, aadhaar string, fn func(map[string]models.VitalRecord)) (realtime.Unsubscribe, error)
	ListenInsights(ctx context.Context, aadhaar string, fn func(map[string]models.Insight)) (realtime.Unsubscribe, error)
}

type RecordEntry struct {
	Key    string
	Record models.VitalRecord
	Time   time.Time
	Valid  bool
}

type InsightEntry struct {
	Key     string
	Insight models.Insight
	Time    time.Time
	Valid   bool
}

// State is a copy of the derived screen state.
type State struct {
	Aadhaar  string
	Info     models.PatientInfo
	NotFound bool
	// Latest is nil until a record arrives.
	Latest   *RecordEntry
	Insights []InsightEntry
	// Version increases with every applied snapshot.
	Version uint64
}

type Option func(*PatientDetail)

// WithLocation sets the zone used to read timestamps that carry none.
func WithLocation(loc *time.Location) Option {
	return func(p *PatientDetail) {
		if loc != nil {
			p.loc = loc
		}
	}
}

// PatientDetail backs the admin patient detail and the patient self-dashboard.
type PatientDetail struct {
	mu       sync.Mutex
	state    State
	closed   bool
	unsubs   []realtime.Unsubscribe
	onChange func(State)
	loc      *time.Location
}

// OpenPatientDetail looks the patient up once and subscribes to its vitals
// and insights. onChange receives a copy of the state after every update,
// including the initial ones delivered before OpenPatientDetail returns. It
// runs with the view model locked and must not call back into it.
// The caller must Close the returned view model.
func OpenPatientDetail(ctx context.Context, gw Gateway, aadhaar string, onChange func(State), opts ...Option) (*PatientDetail, error) {
	vm := &PatientDetail{
		state:    State{Aadhaar: aadhaar},
		onChange: onChange,
		loc:      time.UTC,
	}
	for _, opt := range opts {
		opt(vm)
	}

	p, err := gw.Get(ctx, aadhaar)
	switch {
	case errors.Is(err, patients.ErrNotFound):
		vm.update(func(s *State) { s.NotFound = true })
		return vm, nil
	case err != nil:
		return nil, fmt.Errorf("loading patient: %w", err)
	}
	vm.update(func(s *State) { s.Info = p.Info })

	offVitals, err := gw.ListenVitals(ctx, aadhaar, vm.applyVitals)
	if err != nil {
		return nil, err
	}
	vm.track(offVitals)

	offInsights, err := gw.ListenInsights(ctx, aadhaar, vm.applyInsights)
	if err != nil {
		vm.Close()
		return nil, err
	}
	vm.track(offInsights)

	return vm, nil
}

// Finder is the lookup LoadPatientDetail needs.
type Finder interface {
	Get(ctx context.Context, aadhaar string) (*models.Patient, error)
}

// LoadPatientDetail derives the detail state from a single lookup, for
// screens rendered once. No subscriptions are opened.
func LoadPatientDetail(ctx context.Context, gw Finder, aadhaar string, opts ...Option) (State, error) {
	vm := &PatientDetail{loc: time.UTC}
	for _, opt := range opts {
		opt(vm)
	}

	state := State{Aadhaar: aadhaar}
	p, err := gw.Get(ctx, aadhaar)
	switch {
	case errors.Is(err, patients.ErrNotFound):
		state.NotFound = true
		return state, nil
	case err != nil:
		return State{}, fmt.Errorf("loading patient: %w", err)
	}

	state.Info = p.Info
	if latest, ok := Latest(p.Records, vm.loc); ok {
		state.Latest = &latest
	}
	state.Insights = SortInsights(p.MLInsights, vm.loc)
	state.Version = 1
	return state, nil
}

func (vm *PatientDetail) track(off realtime.Unsubscribe) {
	vm.mu.Lock()
	if vm.closed {
		vm.mu.Unlock()
		off()
		return
	}
	vm.unsubs = append(vm.unsubs, off)
	vm.mu.Unlock()
}

func (vm *PatientDetail) applyVitals(records map[string]models.VitalRecord) {
	latest, ok := Latest(records, vm.loc)
	vm.update(func(s *State) {
		if ok {
			s.Latest = &latest
		} else {
			s.Latest = nil
		}
	})
}

func (vm *PatientDetail) applyInsights(insights map[string]models.Insight) {
	sorted := SortInsights(insights, vm.loc)
	vm.update(func(s *State) { s.Insights = sorted })
}

func (vm *PatientDetail) update(fn func(*State)) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if vm.closed {
		return
	}
	fn(&vm.state)
	vm.state.Version++
	if vm.onChange != nil {
		vm.onChange(vm.copyLocked())
	}
}

// Snapshot returns the current state.
func (vm *PatientDetail) Snapshot() State {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.copyLocked()
}

func (vm *PatientDetail) copyLocked() State {
	out := vm.state
	if vm.state.Latest != nil {
		latest := *vm.state.Latest
		out.Latest = &latest
	}
	out.Insights = append([]InsightEntry(nil), vm.state.Insights...)
	return out
}

// Close releases both subscriptions. Later calls do nothing.
func (vm *PatientDetail) Close() {
	vm.mu.Lock()
	if vm.closed {
		vm.mu.Unlock()
		return
	}
	vm.closed = true
	unsubs := vm.unsubs
	vm.unsubs = nil
	vm.mu.Unlock()

	for _, off := range unsubs {
		off()
	}
}

// Latest picks the record with the greatest timestamp. Records whose
// timestamp cannot be read rank below all others; equal times go to the
// lexicographically highest key.
func Latest(records map[string]models.VitalRecord, loc *time.Location) (RecordEntry, bool) {
	var best RecordEntry
	found := false
	for key, rec := range records {
		t, valid := rec.Timestamp.Time(loc)
		cand := RecordEntry{Key: key, Record: rec, Time: t, Valid: valid}
		if !found || newer(cand.Valid, cand.Time, cand.Key, best.Valid, best.Time, best.Key) {
			best = cand
			found = true
		}
	}
	return best, found
}

// SortInsights orders insights newest first by creation time. Unreadable
// times sort last; equal times fall back to descending key order.
func SortInsights(insights map[string]models.Insight, loc *time.Location) []InsightEntry {
	out := make([]InsightEntry, 0, len(insights))
	for key, ins := range insights {
		t, valid := ins.Created().Time(loc)
		out = append(out, InsightEntry{Key: key, Insight: ins, Time: t, Valid: valid})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		return newer(a.Valid, a.Time, a.Key, b.Valid, b.Time, b.Key)
	})
	return out
}

func newer(aValid bool, aTime time.Time, aKey string, bValid bool, bTime time.Time, bKey string) bool {
	if aValid != bValid {
		return aValid
	}
	if aValid && !aTime.Equal(bTime) {
		return aTime.After(bTime)
	}
	return aKey > bKey
}
