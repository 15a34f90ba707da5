package ingestion

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/vitalwatch/platform/pkg/realtime"
)

// FrameSize is the minimum length of a sensor frame: two start bytes, a
// twelve byte aadhaar, four big-endian 16 bit readings and trailing bytes.
const FrameSize = 24

var (
	errNoPayload     = errors.New("uplink carries no frm_payload")
	errShortFrame    = errors.New("frame too short")
	errMissingPerson = errors.New("frame carries no aadhaar")
)

type ValidationError struct {
	reason error
}

func (e ValidationError) Error() string {
	return e.reason.Error()
}

func (e ValidationError) Unwrap() error {
	return e.reason
}

func IsValidationError(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}

// Frame is one decoded sensor reading.
type Frame struct {
	Aadhaar     string
	HeartRate   int
	SpO2        int
	Temperature float64
	ECGAvg      int
}

// DecodeFrame reads the belt's binary frame. Bytes 2-13 hold the aadhaar as
// ASCII padded with NULs; temperature is sent in hundredths of a degree.
func DecodeFrame(b []byte) (Frame, error) {
	if len(b) < FrameSize {
		return Frame{}, ValidationError{reason: fmt.Errorf("%d bytes: %w", len(b), errShortFrame)}
	}

	aadhaar := strings.TrimSpace(strings.ReplaceAll(string(b[2:14]), "\x00", ""))
	if aadhaar == "" {
		return Frame{}, ValidationError{reason: errMissingPerson}
	}
	if !realtime.ValidKey(aadhaar) {
		return Frame{}, ValidationError{reason: fmt.Errorf("aadhaar %q is not a valid key", aadhaar)}
	}

	temp := float64(binary.BigEndian.Uint16(b[18:20])) / 100
	return Frame{
		Aadhaar:     aadhaar,
		HeartRate:   int(binary.BigEndian.Uint16(b[14:16])),
		SpO2:        int(binary.BigEndian.Uint16(b[16:18])),
		Temperature: math.Round(temp*100) / 100,
		ECGAvg:      int(binary.BigEndian.Uint16(b[20:22])),
	}, nil
}
