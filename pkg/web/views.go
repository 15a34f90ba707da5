package web

import (
	"fmt"
	"strings"
	"time"

	"github.com/vitalwatch/platform/pkg/common/logger"
	"github.com/vitalwatch/platform/pkg/common/models"
	"github.com/vitalwatch/platform/pkg/timestamps"
	"github.com/vitalwatch/platform/pkg/viewmodel"
)

type VitalCard struct {
	Label string
	Value string
	Spark string
}

type VitalsView struct {
	HasRecord bool
	Updated   string
	Cards     []VitalCard
}

type InsightView struct {
	Diagnosis      string
	Confidence     int
	Recommendation string
	RecordUsed     string
	Created        string
}

type vitalChannel struct {
	label string
	unit  string
	get   func(models.VitalRecord) models.Series
}

var channels = []vitalChannel{
	{"Heart Rate", "bpm", func(r models.VitalRecord) models.Series { return r.HeartRate }},
	{"SpO₂", "%", func(r models.VitalRecord) models.Series { return r.SpO2 }},
	{"Temperature", "°C", func(r models.VitalRecord) models.Series { return r.Temperature }},
	{"ECG", "", func(r models.VitalRecord) models.Series { return r.ECGChannel() }},
}

func formatReading(s models.Series, unit string) string {
	v, ok := s.Latest()
	value := "--"
	if ok {
		value = fmt.Sprintf("%.1f", v)
	}
	if unit != "" {
		value += " " + unit
	}
	return value
}

// buildVitals turns the latest record into display cards. Sparklines are
// only drawn on the patient dashboard.
func buildVitals(latest *viewmodel.RecordEntry, loc *time.Location, sparklines bool) VitalsView {
	if latest == nil {
		return VitalsView{}
	}
	view := VitalsView{
		HasRecord: true,
		Updated:   latest.Record.Timestamp.Format(loc),
	}
	for _, ch := range channels {
		series := ch.get(latest.Record)
		card := VitalCard{Label: ch.label, Value: formatReading(series, ch.unit)}
		if sparklines {
			spark, err := sparkline(ch.label, series)
			if err != nil {
				logger.Log.WithError(err).WithField("channel", ch.label).Warn("Sparkline render failed")
			}
			card.Spark = spark
		}
		view.Cards = append(view.Cards, card)
	}
	return view
}

func buildInsights(entries []viewmodel.InsightEntry, loc *time.Location) []InsightView {
	out := make([]InsightView, 0, len(entries))
	for _, e := range entries {
		out = append(out, InsightView{
			Diagnosis:      e.Insight.Diagnosis,
			Confidence:     e.Insight.ConfidencePercent(),
			Recommendation: e.Insight.Recommendation,
			RecordUsed:     e.Insight.RecordUsed,
			Created:        timestamps.Format(e.Insight.Created().Value(), loc),
		})
	}
	return out
}

func initials(name string) string {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return "U"
	}
	var b strings.Builder
	for _, f := range fields {
		for _, r := range f {
			b.WriteRune(r)
			break
		}
	}
	return strings.ToUpper(b.String())
}
