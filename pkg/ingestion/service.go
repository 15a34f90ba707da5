package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vitalwatch/platform/pkg/common/logger"
	"github.com/vitalwatch/platform/pkg/common/models"
	"github.com/vitalwatch/platform/pkg/gateway/httpclient"
	"github.com/vitalwatch/platform/pkg/observability/metrics"
	"gorm.io/datatypes"
)

// StatusStore records the life of each uplink.
type StatusStore interface {
	Create(ctx context.Context, rec *Record) error
	UpdateStatus(ctx context.Context, id, status, errMsg string) error
	IncrementRetry(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*Record, error)
	CountByStatus(ctx context.Context, window time.Duration) (map[string]int64, error)
	CleanupExpired(ctx context.Context, ttl time.Duration) error
}

// Publisher puts events on the bus.
type Publisher interface {
	PublishEvent(ctx context.Context, eventType, source, key string, data map[string]interface{}) error
}

type Service struct {
	repo      StatusStore
	producer  Publisher
	backoff   httpclient.Backoff
	statusTTL time.Duration
}

func NewService(repo StatusStore, producer Publisher, backoff httpclient.Backoff, ttl time.Duration) *Service {
	return &Service{
		repo:      repo,
		producer:  producer,
		backoff:   backoff,
		statusTTL: ttl,
	}
}

// Process decodes one TTN uplink document, records it and publishes the
// reading. topic may be empty for webhook deliveries.
func (s *Service) Process(ctx context.Context, topic string, raw []byte) (*models.UplinkReading, error) {
	id := uuid.New().String()
	msg, err := ParseUplink(raw)
	if err != nil {
		s.reject(ctx, id, DeviceFromTopic(topic), topic, datatypes.JSONMap{"raw": string(raw)}, err)
		return nil, err
	}

	device := msg.EndDeviceIDs.DeviceID
	if device == "" {
		device = DeviceFromTopic(topic)
	}
	frame, err := DecodeFrame(msg.Uplink.FrmPayload)
	if err != nil {
		s.reject(ctx, id, device, topic, datatypes.JSONMap{"frm_payload": msg.Uplink.FrmPayload}, err)
		return nil, err
	}

	reading := models.UplinkReading{
		IngestID:    id,
		DeviceID:    device,
		Aadhaar:     frame.Aadhaar,
		HeartRate:   frame.HeartRate,
		SpO2:        frame.SpO2,
		Temperature: frame.Temperature,
		ECGAvg:      frame.ECGAvg,
		ReceivedAt:  msg.Received(),
	}
	payload := readingPayload(reading)

	record := &Record{
		ID:       id,
		DeviceID: device,
		Topic:    topic,
		Aadhaar:  frame.Aadhaar,
		Payload:  datatypes.JSONMap(payload),
		Status:   StatusAccepted,
	}
	if err := s.repo.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("persisting uplink record: %w", err)
	}
	metrics.UplinkAccepted()

	log := logger.WithFields(map[string]interface{}{
		"ingest_id": id,
		"device_id": device,
		"aadhaar":   frame.Aadhaar,
	})

	attempt := 0
	sendErr := httpclient.Retry(ctx, s.backoff, func() error {
		if attempt > 0 {
			if err := s.repo.IncrementRetry(ctx, id); err != nil {
				log.WithError(err).Warn("Failed to count publish retry")
			}
		}
		attempt++
		return s.producer.PublishEvent(ctx, EventTypeUplink, device, frame.Aadhaar, payload)
	})
	if sendErr != nil {
		metrics.UplinkFailed()
		log.WithError(sendErr).Error("Failed to publish uplink")
		if err := s.repo.UpdateStatus(ctx, id, StatusFailed, sendErr.Error()); err != nil {
			log.WithError(err).Warn("Failed to record uplink failure")
		}
		return nil, fmt.Errorf("publishing uplink: %w", sendErr)
	}

	if err := s.repo.UpdateStatus(ctx, id, StatusPublished, ""); err != nil {
		log.WithError(err).Warn("Failed to record uplink publication")
	}
	metrics.UplinkPublished()
	log.Info("Uplink published")
	return &reading, nil
}

// reject keeps a failed row for an uplink that could not be decoded.
func (s *Service) reject(ctx context.Context, id, device, topic string, payload datatypes.JSONMap, cause error) {
	metrics.UplinkFailed()
	logger.Log.WithError(cause).WithField("device_id", device).Warn("Rejected uplink")
	rec := &Record{
		ID:       id,
		DeviceID: device,
		Topic:    topic,
		Payload:  payload,
		Status:   StatusFailed,
		Error:    cause.Error(),
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		logger.Log.WithError(err).Warn("Failed to record rejected uplink")
	}
}

// HandleUplink processes an MQTT delivery.
func (s *Service) HandleUplink(ctx context.Context, topic string, raw []byte) error {
	_, err := s.Process(ctx, topic, raw)
	return err
}

func readingPayload(r models.UplinkReading) map[string]interface{} {
	return map[string]interface{}{
		"ingest_id":   r.IngestID,
		"device_id":   r.DeviceID,
		"aadhaar":     r.Aadhaar,
		"heart_rate":  r.HeartRate,
		"spo2":        r.SpO2,
		"temperature": r.Temperature,
		"ecg_avg":     r.ECGAvg,
		"received_at": r.ReceivedAt.Format(time.RFC3339Nano),
	}
}

func (s *Service) Status(ctx context.Context, id string) (*Record, error) {
	rec, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Service) Cleanup(ctx context.Context) error {
	return s.repo.CleanupExpired(ctx, s.statusTTL)
}

// RefreshBacklog publishes the number of uplinks still waiting to be published.
func (s *Service) RefreshBacklog(ctx context.Context) error {
	counts, err := s.repo.CountByStatus(ctx, s.window())
	if err != nil {
		return err
	}
	metrics.ObserveUplinkBacklog(counts[StatusAccepted])
	return nil
}

func (s *Service) window() time.Duration {
	if s.statusTTL > 0 {
		return s.statusTTL
	}
	return 7 * 24 * time.Hour
}
