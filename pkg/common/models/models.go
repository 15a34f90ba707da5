package models

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/vitalwatch/platform/pkg/timestamps"
)

type Gender string

const (
	GenderMale   Gender = "Male"
	GenderFemale Gender = "Female"
	GenderOther  Gender = "Other"
)

func (g Gender) Valid() bool {
	switch g {
	case GenderMale, GenderFemale, GenderOther:
		return true
	}
	return false
}

const RoleAdmin = "admin"

// Patient registry
type PatientInfo struct {
	Aadhaar string `json:"aadhaar"`
	Name    string `json:"name"`
	Age     int    `json:"age"`
	Gender  Gender `json:"gender"`
	Area    string `json:"area"`
}

// UnmarshalJSON reads age from a number or numeric string, dropping any
// fractional part. Writers store whatever the form produced.
func (p *PatientInfo) UnmarshalJSON(data []byte) error {
	type plain PatientInfo
	var raw struct {
		plain
		Age json.RawMessage `json:"age"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = PatientInfo(raw.plain)
	if age, ok := looseFloat(raw.Age); ok {
		p.Age = int(age)
	}
	return nil
}

// FirstName is used for the patient greeting.
func (p PatientInfo) FirstName() string {
	fields := strings.Fields(p.Name)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

type Patient struct {
	Aadhaar    string                 `json:"aadhaar"`
	Info       PatientInfo            `json:"info"`
	Records    map[string]VitalRecord `json:"records"`
	MLInsights map[string]Insight     `json:"ml_insights"`
}

// Vitals

// Series is one physiological channel. Writers store either a scalar
// latest value or a list of recent samples; both decode to a Series.
type Series []float64

func (s Series) Latest() (float64, bool) {
	if len(s) == 0 {
		return 0, false
	}
	return s[len(s)-1], true
}

// Tail returns at most the last n samples.
func (s Series) Tail(n int) Series {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func (s Series) MarshalJSON() ([]byte, error) {
	switch len(s) {
	case 0:
		return []byte("null"), nil
	case 1:
		return json.Marshal(s[0])
	}
	return json.Marshal([]float64(s))
}

func (s *Series) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = nil
		return nil
	}

	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	switch v := raw.(type) {
	case []interface{}:
		out := make(Series, 0, len(v))
		for _, item := range v {
			if f, ok := sampleValue(item); ok {
				out = append(out, f)
			}
		}
		*s = out
	default:
		if f, ok := sampleValue(v); ok {
			*s = Series{f}
		} else {
			*s = nil
		}
	}
	return nil
}

func sampleValue(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func looseFloat(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false
	}
	return sampleValue(v)
}

func looseString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	}
	return ""
}

type VitalRecord struct {
	Timestamp   timestamps.Raw `json:"timestamp"`
	HeartRate   Series         `json:"heart_rate,omitempty"`
	SpO2        Series         `json:"spo2,omitempty"`
	Temperature Series         `json:"temperature,omitempty"`
	ECG         Series         `json:"ecg,omitempty"`
	ECGAvg      Series         `json:"ecg_avg,omitempty"`
}

// ECGChannel prefers the raw ECG samples and falls back to the averaged value.
func (r VitalRecord) ECGChannel() Series {
	if len(r.ECG) > 0 {
		return r.ECG
	}
	return r.ECGAvg
}

// Insights
type Insight struct {
	Diagnosis      string         `json:"diagnosis"`
	Confidence     *float64       `json:"confidence,omitempty"`
	Recommendation string         `json:"recommendation,omitempty"`
	RecordUsed     string         `json:"record_used,omitempty"`
	Timestamp      timestamps.Raw `json:"timestamp"`
	CreatedAt      timestamps.Raw `json:"created_at"`
}

// UnmarshalJSON accepts the loosely typed documents model writers produce:
// confidence may be a numeric string, record_used and the text fields may
// be numbers.
func (i *Insight) UnmarshalJSON(data []byte) error {
	var raw struct {
		Diagnosis      json.RawMessage `json:"diagnosis"`
		Confidence     json.RawMessage `json:"confidence"`
		Recommendation json.RawMessage `json:"recommendation"`
		RecordUsed     json.RawMessage `json:"record_used"`
		Timestamp      timestamps.Raw  `json:"timestamp"`
		CreatedAt      timestamps.Raw  `json:"created_at"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*i = Insight{
		Diagnosis:      looseString(raw.Diagnosis),
		Recommendation: looseString(raw.Recommendation),
		RecordUsed:     looseString(raw.RecordUsed),
		Timestamp:      raw.Timestamp,
		CreatedAt:      raw.CreatedAt,
	}
	if c, ok := looseFloat(raw.Confidence); ok {
		i.Confidence = &c
	}
	return nil
}

// Created returns the creation time, preferring created_at over timestamp.
func (i Insight) Created() timestamps.Raw {
	if !i.CreatedAt.IsZero() {
		return i.CreatedAt
	}
	return i.Timestamp
}

// ConfidencePercent rounds confidence to a whole percentage; absent counts as zero.
func (i Insight) ConfidencePercent() int {
	if i.Confidence == nil {
		return 0
	}
	return int(*i.Confidence*100 + 0.5)
}

// Access control
type AdminProfile struct {
	Role string `json:"role"`
	Area string `json:"area"`
}

func (p AdminProfile) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// Event Bus models
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"` // uplink
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}

// UplinkReading is one decoded LoRa sensor frame.
type UplinkReading struct {
	IngestID    string    `json:"ingest_id"`
	DeviceID    string    `json:"device_id"`
	Aadhaar     string    `json:"aadhaar"`
	HeartRate   int       `json:"heart_rate"`
	SpO2        int       `json:"spo2"`
	Temperature float64   `json:"temperature"`
	ECGAvg      int       `json:"ecg_avg"`
	ReceivedAt  time.Time `json:"received_at"`
}

// Record converts the reading into the shape stored under patients/{id}/records.
func (u UplinkReading) Record() VitalRecord {
	return VitalRecord{
		Timestamp:   timestamps.Unix(u.ReceivedAt.Unix()),
		HeartRate:   Series{float64(u.HeartRate)},
		SpO2:        Series{float64(u.SpO2)},
		Temperature: Series{u.Temperature},
		ECGAvg:      Series{float64(u.ECGAvg)},
	}
}
