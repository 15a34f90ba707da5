package ingestion

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"testing"
)

func frame(aadhaar string, hr, spo2, temp, ecg uint16) []byte {
	b := make([]byte, FrameSize)
	b[0], b[1] = 0xAA, 0x55
	copy(b[2:14], aadhaar)
	binary.BigEndian.PutUint16(b[14:16], hr)
	binary.BigEndian.PutUint16(b[16:18], spo2)
	binary.BigEndian.PutUint16(b[18:20], temp)
	binary.BigEndian.PutUint16(b[20:22], ecg)
	b[22], b[23] = 0x0D, 0x0A
	return b
}

func uplinkDoc(device string, payload []byte) []byte {
	return []byte(fmt.Sprintf(`{
		"end_device_ids": {"device_id": %q, "application_ids": {"application_id": "belt-app"}},
		"received_at": "2024-03-01T10:00:00.5Z",
		"uplink_message": {"f_port": 1, "f_cnt": 7, "frm_payload": %q, "received_at": "2024-03-01T10:00:00Z"}
	}`, device, base64.StdEncoding.EncodeToString(payload)))
}

func TestDecodeFrame(t *testing.T) {
	got, err := DecodeFrame(frame("123456789012", 72, 98, 3665, 512))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := Frame{Aadhaar: "123456789012", HeartRate: 72, SpO2: 98, Temperature: 36.65, ECGAvg: 512}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestDecodeFrameStripsPadding(t *testing.T) {
	got, err := DecodeFrame(frame("98765", 60, 95, 3700, 0))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Aadhaar != "98765" {
		t.Fatalf("aadhaar = %q", got.Aadhaar)
	}
}

func TestDecodeFrameRejects(t *testing.T) {
	cases := []struct {
		name string
		in   []byte
		want error
	}{
		{"short", frame("123456789012", 1, 2, 3, 4)[:23], errShortFrame},
		{"no aadhaar", frame("", 1, 2, 3, 4), errMissingPerson},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeFrame(tc.in)
			if !IsValidationError(err) || !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want validation error wrapping %v", err, tc.want)
			}
		})
	}

	bad := frame("12/45", 1, 2, 3, 4)
	if _, err := DecodeFrame(bad); !IsValidationError(err) {
		t.Fatalf("reserved characters accepted: %v", err)
	}
}

func TestParseUplink(t *testing.T) {
	msg, err := ParseUplink(uplinkDoc("belt-01", frame("123456789012", 72, 98, 3665, 512)))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if msg.EndDeviceIDs.DeviceID != "belt-01" || len(msg.Uplink.FrmPayload) != FrameSize {
		t.Fatalf("unexpected message %+v", msg)
	}
	if got := msg.Received().Format("15:04:05.0"); got != "10:00:00.0" {
		t.Fatalf("received = %s", got)
	}

	if _, err := ParseUplink([]byte(`{"uplink_message": {}}`)); !errors.Is(err, errNoPayload) {
		t.Fatalf("missing payload err = %v", err)
	}
	if _, err := ParseUplink([]byte(`not json`)); !IsValidationError(err) {
		t.Fatalf("garbage err = %v", err)
	}
}

func TestUplinkTopic(t *testing.T) {
	if got := UplinkTopic("belt-app@ttn", "belt-01"); got != "v3/belt-app@ttn/devices/belt-01/up" {
		t.Fatalf("topic = %s", got)
	}
	if got := UplinkTopic("", ""); got != "v3/+/devices/+/up" {
		t.Fatalf("wildcard topic = %s", got)
	}
	if got := DeviceFromTopic("v3/belt-app@ttn/devices/belt-01/up"); got != "belt-01" {
		t.Fatalf("device = %q", got)
	}
	if got := DeviceFromTopic("v3/belt-app@ttn/devices/belt-01/join"); got != "" {
		t.Fatalf("device from join topic = %q", got)
	}
}
