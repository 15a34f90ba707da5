package patients

import (
	"encoding/json"

	"github.com/vitalwatch/platform/pkg/common/logger"
	"github.com/vitalwatch/platform/pkg/common/models"
	"github.com/vitalwatch/platform/pkg/realtime"
)

// SingleInsightKey names the synthetic entry for insights stored as one flat object.
const SingleInsightKey = "single"

// normalizeInsights resolves the shapes found under ml_insights into a map
// keyed by insight id: a keyed map passes through, a flat object carrying
// "diagnosis" becomes a single entry, and anything absent becomes empty.
// Entries without a diagnosis are skipped.
func normalizeInsights(raw json.RawMessage) map[string]models.Insight {
	out := map[string]models.Insight{}
	if !(realtime.Snapshot{Raw: raw}).Exists() {
		return out
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return out
	}

	if _, flat := fields["diagnosis"]; flat {
		if ins, ok := decodeInsight(SingleInsightKey, raw); ok {
			out[SingleInsightKey] = ins
		}
		return out
	}

	for key, value := range fields {
		if ins, ok := decodeInsight(key, value); ok {
			out[key] = ins
		}
	}
	return out
}

func decodeInsight(key string, raw json.RawMessage) (models.Insight, bool) {
	var ins models.Insight
	if err := json.Unmarshal(raw, &ins); err != nil {
		logger.Log.WithError(err).WithField("insight", key).Debug("Skipping unreadable insight")
		return models.Insight{}, false
	}
	if ins.Diagnosis == "" {
		logger.Log.WithField("insight", key).Debug("Skipping insight without diagnosis")
		return models.Insight{}, false
	}
	return ins, true
}

func decodeRecords(raw json.RawMessage) map[string]models.VitalRecord {
	out := map[string]models.VitalRecord{}
	if !(realtime.Snapshot{Raw: raw}).Exists() {
		return out
	}
	var entries map[string]json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return out
	}
	for key, value := range entries {
		var rec models.VitalRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			continue
		}
		out[key] = rec
	}
	return out
}
