// Package timestamps normalizes the creation/record times found in the
// realtime store. Writers have used unix seconds, millisecond epochs,
// {seconds, nanoseconds} objects and free-form date strings; Parse accepts
// all of them in a fixed priority order.
package timestamps

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	// Missing is rendered when no time value is present at all.
	Missing = "N/A"
	// Invalid is rendered when a value is present but cannot be interpreted.
	Invalid = "Invalid Date"

	DisplayLayout = "02 Jan 2006, 15:04:05"

	// Numbers below this are unix seconds, at or above it millisecond epochs.
	millisThreshold = 1e12
)

var stringLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// Parse interprets v as an instant. Supported inputs, in priority order:
// numbers below 1e12 as unix seconds, larger numbers as milliseconds,
// objects carrying "seconds" (and optionally "nanoseconds"), and strings
// that are either numeric or match one of the accepted layouts. Strings
// without a zone are read in loc.
func Parse(v interface{}, loc *time.Location) (time.Time, bool) {
	if loc == nil {
		loc = time.UTC
	}
	switch t := v.(type) {
	case nil:
		return time.Time{}, false
	case float64:
		return fromNumber(t)
	case float32:
		return fromNumber(float64(t))
	case int:
		return fromNumber(float64(t))
	case int64:
		return fromNumber(float64(t))
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return time.Time{}, false
		}
		return fromNumber(f)
	case map[string]interface{}:
		return fromStructured(t)
	case string:
		return fromString(t, loc)
	case time.Time:
		return t, !t.IsZero()
	}
	return time.Time{}, false
}

// Format renders v in loc for display, falling back to Missing or Invalid.
func Format(v interface{}, loc *time.Location) string {
	if isAbsent(v) {
		return Missing
	}
	t, ok := Parse(v, loc)
	if !ok {
		return Invalid
	}
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(DisplayLayout)
}

func fromNumber(f float64) (time.Time, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return time.Time{}, false
	}
	if f < millisThreshold {
		sec, frac := math.Modf(f)
		return time.Unix(int64(sec), int64(frac*1e9)).UTC(), true
	}
	return time.UnixMilli(int64(f)).UTC(), true
}

func fromStructured(m map[string]interface{}) (time.Time, bool) {
	raw, ok := m["seconds"]
	if !ok {
		raw, ok = m["_seconds"]
	}
	if !ok {
		return time.Time{}, false
	}
	sec, ok := toFloat(raw)
	if !ok || sec <= 0 {
		return time.Time{}, false
	}
	var nanos float64
	if n, ok := m["nanoseconds"]; ok {
		nanos, _ = toFloat(n)
	}
	return time.Unix(int64(sec), int64(nanos)).UTC(), true
}

func fromString(s string, loc *time.Location) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return fromNumber(f)
	}
	for _, layout := range stringLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func isAbsent(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case float64:
		return t == 0
	case int:
		return t == 0
	case int64:
		return t == 0
	}
	return false
}

// Raw keeps a time value exactly as the store holds it so that it can be
// written back unchanged and interpreted lazily.
type Raw struct {
	v interface{}
}

// Unix builds a Raw holding unix seconds.
func Unix(sec int64) Raw {
	return Raw{v: float64(sec)}
}

// Of wraps an arbitrary decoded value.
func Of(v interface{}) Raw {
	return Raw{v: v}
}

func (r Raw) Value() interface{} { return r.v }

func (r Raw) IsZero() bool { return isAbsent(r.v) }

func (r Raw) Time(loc *time.Location) (time.Time, bool) {
	return Parse(r.v, loc)
}

func (r Raw) Format(loc *time.Location) string {
	return Format(r.v, loc)
}

func (r Raw) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.v)
}

func (r *Raw) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		r.v = nil
		return nil
	}
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	r.v = v
	return nil
}
