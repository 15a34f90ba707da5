package timestamps

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEquivalentRepresentationsRenderTheSameInstant(t *testing.T) {
	loc := time.FixedZone("IST", 5*3600+1800)
	inputs := []interface{}{
		float64(1700000000),
		float64(1700000000000),
		map[string]interface{}{"seconds": float64(1700000000)},
		"1700000000",
	}

	want := Format(inputs[0], loc)
	if want == Invalid || want == Missing {
		t.Fatalf("unexpected placeholder for unix seconds: %q", want)
	}
	for _, in := range inputs[1:] {
		if got := Format(in, loc); got != want {
			t.Fatalf("Format(%v) = %q, want %q", in, got, want)
		}
	}
}

func TestFormatPlaceholders(t *testing.T) {
	tests := []struct {
		name string
		in   interface{}
		want string
	}{
		{"nil", nil, Missing},
		{"empty string", "", Missing},
		{"zero", float64(0), Missing},
		{"garbage string", "not a date", Invalid},
		{"object without seconds", map[string]interface{}{"foo": "bar"}, Invalid},
		{"array", []interface{}{1, 2}, Invalid},
		{"negative", float64(-5), Invalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Format(tt.in, time.UTC); got != tt.want {
				t.Fatalf("Format(%v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseStringLayouts(t *testing.T) {
	loc := time.UTC
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2024-03-01 10:20:30", time.Date(2024, 3, 1, 10, 20, 30, 0, loc)},
		{"2024-03-01T10:20:30", time.Date(2024, 3, 1, 10, 20, 30, 0, loc)},
		{"2024-03-01T10:20:30Z", time.Date(2024, 3, 1, 10, 20, 30, 0, loc)},
		{"2024-03-01", time.Date(2024, 3, 1, 0, 0, 0, 0, loc)},
	}
	for _, tt := range tests {
		got, ok := Parse(tt.in, loc)
		if !ok {
			t.Fatalf("Parse(%q) failed", tt.in)
		}
		if !got.Equal(tt.want) {
			t.Fatalf("Parse(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestStructuredNanoseconds(t *testing.T) {
	got, ok := Parse(map[string]interface{}{"seconds": float64(10), "nanoseconds": float64(500)}, nil)
	if !ok {
		t.Fatal("expected structured timestamp to parse")
	}
	if got.Unix() != 10 || got.Nanosecond() != 500 {
		t.Fatalf("unexpected time %v", got)
	}
}

func TestRawRoundTripKeepsOriginalShape(t *testing.T) {
	in := []byte(`{"seconds":1700000000}`)
	var r Raw
	if err := json.Unmarshal(in, &r); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	out, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != string(in) {
		t.Fatalf("got %s, want %s", out, in)
	}
	if _, ok := r.Time(nil); !ok {
		t.Fatal("expected raw structured value to parse")
	}
}
