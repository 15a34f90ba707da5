package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vitalwatch/platform/pkg/common/logger"
	"github.com/vitalwatch/platform/pkg/common/models"
	"github.com/vitalwatch/platform/pkg/gateway/httpclient"
	"github.com/vitalwatch/platform/pkg/observability/metrics"
	"github.com/vitalwatch/platform/pkg/patients"
)

// RecordAppender writes vital records under a patient.
type RecordAppender interface {
	AppendRecord(ctx context.Context, aadhaar string, rec models.VitalRecord) (string, error)
}

// Uploader moves readings from the event bus into the realtime store.
type Uploader struct {
	records RecordAppender
	backoff httpclient.Backoff
}

func NewUploader(records RecordAppender, backoff httpclient.Backoff) *Uploader {
	return &Uploader{records: records, backoff: backoff}
}

// Handle appends the reading carried by an uplink event. Events of other
// types and readings that can never be stored are skipped; store failures
// that outlast the backoff are returned so the event is not committed.
func (u *Uploader) Handle(ctx context.Context, event models.Event) error {
	if event.Type != EventTypeUplink {
		return nil
	}

	reading, err := decodeReading(event.Data)
	if err != nil {
		metrics.RecordFailed()
		logger.Log.WithError(err).WithField("event_id", event.ID).Warn("Skipping malformed uplink event")
		return nil
	}
	log := logger.WithFields(map[string]interface{}{
		"event_id":  event.ID,
		"ingest_id": reading.IngestID,
		"aadhaar":   reading.Aadhaar,
	})

	var key string
	err = httpclient.Retry(ctx, u.backoff, func() error {
		var err error
		key, err = u.records.AppendRecord(ctx, reading.Aadhaar, reading.Record())
		return err
	})
	switch {
	case err == nil:
	case patients.IsValidationError(err):
		metrics.RecordFailed()
		log.WithError(err).Warn("Skipping reading for invalid patient key")
		return nil
	default:
		metrics.RecordFailed()
		return fmt.Errorf("appending record for %s: %w", reading.Aadhaar, err)
	}

	metrics.RecordUploaded()
	log.WithField("record", key).Info("Reading uploaded")
	return nil
}

func decodeReading(data map[string]interface{}) (models.UplinkReading, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return models.UplinkReading{}, err
	}
	var reading models.UplinkReading
	if err := json.Unmarshal(raw, &reading); err != nil {
		return models.UplinkReading{}, err
	}
	if reading.Aadhaar == "" {
		return models.UplinkReading{}, fmt.Errorf("event carries no aadhaar")
	}
	if reading.ReceivedAt.IsZero() {
		reading.ReceivedAt = time.Now().UTC()
	}
	return reading, nil
}
