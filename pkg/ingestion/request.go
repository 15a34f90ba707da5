package ingestion

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// UplinkMessage is the part of a The Things Network v3 uplink that the
// ingestion path reads. The same document arrives over MQTT and from the
// webhook integration.
type UplinkMessage struct {
	EndDeviceIDs struct {
		DeviceID       string `json:"device_id"`
		ApplicationIDs struct {
			ApplicationID string `json:"application_id"`
		} `json:"application_ids"`
	} `json:"end_device_ids"`
	ReceivedAt time.Time `json:"received_at"`
	Uplink     struct {
		FPort      int       `json:"f_port"`
		FCnt       int       `json:"f_cnt"`
		FrmPayload []byte    `json:"frm_payload"`
		ReceivedAt time.Time `json:"received_at"`
	} `json:"uplink_message"`
}

// ParseUplink reads a TTN uplink document. frm_payload is base64 in the
// document and is decoded here.
func ParseUplink(raw []byte) (UplinkMessage, error) {
	var msg UplinkMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return UplinkMessage{}, ValidationError{reason: fmt.Errorf("uplink document: %w", err)}
	}
	if len(msg.Uplink.FrmPayload) == 0 {
		return UplinkMessage{}, ValidationError{reason: errNoPayload}
	}
	return msg, nil
}

// Received is when the network saw the uplink, falling back to now.
func (m UplinkMessage) Received() time.Time {
	switch {
	case !m.Uplink.ReceivedAt.IsZero():
		return m.Uplink.ReceivedAt.UTC()
	case !m.ReceivedAt.IsZero():
		return m.ReceivedAt.UTC()
	}
	return time.Now().UTC()
}

// UplinkTopic is the MQTT topic of a device's uplinks. An empty application
// or device subscribes to all of them.
func UplinkTopic(application, device string) string {
	application = strings.TrimSpace(application)
	device = strings.TrimSpace(device)
	if application == "" {
		application = "+"
	}
	if device == "" {
		device = "+"
	}
	return fmt.Sprintf("v3/%s/devices/%s/up", application, device)
}

// DeviceFromTopic extracts the device id from an uplink topic.
func DeviceFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) == 5 && parts[0] == "v3" && parts[2] == "devices" && parts[4] == "up" {
		return parts[3]
	}
	return ""
}
