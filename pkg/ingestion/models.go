package ingestion

import (
	"time"

	"gorm.io/datatypes"
)

const (
	StatusAccepted  = "accepted"
	StatusPublished = "published"
	StatusFailed    = "failed"
)

// EventTypeUplink marks bus events carrying one decoded reading.
const EventTypeUplink = "vitals.uplink"

// Record is the status row kept for every uplink received.
type Record struct {
	ID          string            `json:"id" gorm:"primaryKey;column:id"`
	DeviceID    string            `json:"device_id" gorm:"column:device_id;index"`
	Topic       string            `json:"topic" gorm:"column:topic"`
	Aadhaar     string            `json:"aadhaar,omitempty" gorm:"column:aadhaar;index"`
	Payload     datatypes.JSONMap `json:"payload" gorm:"column:payload"`
	Status      string            `json:"status" gorm:"column:status;index"`
	Error       string            `json:"error,omitempty" gorm:"column:error"`
	CreatedAt   time.Time         `json:"created_at" gorm:"column:created_at;index"`
	UpdatedAt   time.Time         `json:"updated_at" gorm:"column:updated_at"`
	RetryCount  int               `json:"retry_count" gorm:"column:retry_count"`
	LastAttempt *time.Time        `json:"last_attempt,omitempty" gorm:"column:last_attempt"`
}

func (Record) TableName() string {
	return "uplink_ingestions"
}
