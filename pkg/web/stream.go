package web

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vitalwatch/platform/pkg/common/logger"
	"github.com/vitalwatch/platform/pkg/observability/metrics"
	"github.com/vitalwatch/platform/pkg/viewmodel"
)

// stream keeps a patient's vitals and insights sections current over
// server-sent events until the client goes away. The view model, and with
// it both subscriptions, lives exactly as long as the request.
func (h *Handler) stream(w http.ResponseWriter, r *http.Request, id string, sparklines bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	// Only the newest state matters; a slow client skips intermediate ones.
	// onChange runs serialized under the view model lock, so drain and
	// replace cannot race with another send.
	updates := make(chan viewmodel.State, 1)
	publish := func(s viewmodel.State) {
		select {
		case updates <- s:
			return
		default:
		}
		select {
		case <-updates:
		default:
		}
		updates <- s
	}

	vm, err := viewmodel.OpenPatientDetail(r.Context(), h.patients, id, publish, viewmodel.WithLocation(h.loc))
	if err != nil {
		logger.Log.WithError(err).WithField("aadhaar", id).Error("Failed to open patient stream")
		http.Error(w, "failed to load patient", http.StatusInternalServerError)
		return
	}
	defer vm.Close()

	done := metrics.StreamOpened()
	defer done()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	var sent sentSections
	emit := func(s viewmodel.State) bool {
		if s.NotFound {
			writeEvent(w, "notfound", "Patient not found")
			flusher.Flush()
			return false
		}
		if err := h.sendState(w, s, sparklines, &sent); err != nil {
			logger.Log.WithError(err).WithField("aadhaar", id).Debug("Patient stream closed")
			return false
		}
		flusher.Flush()
		return true
	}

	// initial snapshots were delivered while opening
	select {
	case s := <-updates:
		if !emit(s) {
			return
		}
	default:
		flusher.Flush()
	}

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case s := <-updates:
			if !emit(s) {
				return
			}
		case <-heartbeat.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// sentSections remembers what the client already shows.
type sentSections struct {
	vitals, insights string
}

func (h *Handler) sendState(w io.Writer, s viewmodel.State, sparklines bool, sent *sentSections) error {
	vitals, err := h.views.fragment("vitals", buildVitals(s.Latest, h.loc, sparklines))
	if err != nil {
		return fmt.Errorf("render vitals: %w", err)
	}
	if vitals != sent.vitals {
		if err := writeEvent(w, "vitals", vitals); err != nil {
			return err
		}
		sent.vitals = vitals
	}

	insights, err := h.views.fragment("insights", buildInsights(s.Insights, h.loc))
	if err != nil {
		return fmt.Errorf("render insights: %w", err)
	}
	if insights != sent.insights {
		if err := writeEvent(w, "insights", insights); err != nil {
			return err
		}
		sent.insights = insights
	}
	return nil
}

// writeEvent frames data as one event, one data line per input line.
func writeEvent(w io.Writer, event, data string) error {
	var b strings.Builder
	b.WriteString("event: ")
	b.WriteString(event)
	b.WriteByte('\n')
	for _, line := range strings.Split(strings.ReplaceAll(data, "\r\n", "\n"), "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	_, err := io.WriteString(w, b.String())
	return err
}
