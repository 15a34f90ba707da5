package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestSeriesDecodesScalarsAndLists(t *testing.T) {
	cases := []struct {
		in   string
		want Series
	}{
		{`72`, Series{72}},
		{`"98.5"`, Series{98.5}},
		{`[70, "71", null, 73]`, Series{70, 71, 73}},
		{`null`, nil},
		{`{"x": 1}`, nil},
	}
	for _, tc := range cases {
		var s Series
		if err := json.Unmarshal([]byte(tc.in), &s); err != nil {
			t.Fatalf("unmarshal %s: %v", tc.in, err)
		}
		if len(s) != len(tc.want) {
			t.Fatalf("%s: got %v, want %v", tc.in, s, tc.want)
		}
		for i := range s {
			if s[i] != tc.want[i] {
				t.Fatalf("%s: got %v, want %v", tc.in, s, tc.want)
			}
		}
	}
}

func TestSeriesLatestAndTail(t *testing.T) {
	s := Series{1, 2, 3, 4}
	if v, ok := s.Latest(); !ok || v != 4 {
		t.Fatalf("latest = %v, %v", v, ok)
	}
	if _, ok := Series(nil).Latest(); ok {
		t.Fatalf("empty series reported a latest value")
	}
	if tail := s.Tail(2); len(tail) != 2 || tail[0] != 3 {
		t.Fatalf("tail = %v", tail)
	}
	if tail := s.Tail(10); len(tail) != 4 {
		t.Fatalf("tail longer than series = %v", tail)
	}
}

func TestVitalRecordECGFallsBackToAverage(t *testing.T) {
	var rec VitalRecord
	if err := json.Unmarshal([]byte(`{"timestamp": 1714550400, "ecg_avg": 512}`), &rec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if v, ok := rec.ECGChannel().Latest(); !ok || v != 512 {
		t.Fatalf("ecg channel = %v", rec.ECGChannel())
	}
	rec.ECG = Series{0.1, 0.2}
	if v, _ := rec.ECGChannel().Latest(); v != 0.2 {
		t.Fatalf("raw ecg not preferred: %v", rec.ECGChannel())
	}
}

func TestInsightCreatedPrefersCreatedAt(t *testing.T) {
	var ins Insight
	raw := `{"diagnosis": "Normal", "confidence": 0.875, "timestamp": 100, "created_at": "2024-05-01T10:00:00Z"}`
	if err := json.Unmarshal([]byte(raw), &ins); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	got, ok := ins.Created().Time(time.UTC)
	if !ok || !got.Equal(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("created = %v, %v", got, ok)
	}
	if p := ins.ConfidencePercent(); p != 88 {
		t.Fatalf("confidence percent = %d", p)
	}
	if p := (Insight{}).ConfidencePercent(); p != 0 {
		t.Fatalf("absent confidence = %d", p)
	}
}

func TestAdminRoleIsCaseSensitive(t *testing.T) {
	if !(AdminProfile{Role: "admin"}).IsAdmin() {
		t.Fatalf("admin role rejected")
	}
	if (AdminProfile{Role: "Admin"}).IsAdmin() {
		t.Fatalf("Admin role accepted")
	}
}

func TestUplinkReadingRecord(t *testing.T) {
	at := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	rec := UplinkReading{HeartRate: 80, SpO2: 97, Temperature: 36.75, ECGAvg: 500, ReceivedAt: at}.Record()
	if ts, ok := rec.Timestamp.Time(time.UTC); !ok || !ts.Equal(at) {
		t.Fatalf("timestamp = %v", rec.Timestamp.Value())
	}
	if v, _ := rec.Temperature.Latest(); v != 36.75 {
		t.Fatalf("temperature = %v", rec.Temperature)
	}
	if len(rec.ECG) != 0 || len(rec.ECGAvg) != 1 {
		t.Fatalf("ecg channels = %v %v", rec.ECG, rec.ECGAvg)
	}
}

func TestPatientFirstName(t *testing.T) {
	if got := (PatientInfo{Name: "  Asha  Rao"}).FirstName(); got != "Asha" {
		t.Fatalf("first name = %q", got)
	}
}
