package metrics

import (
	"fmt"
	"net/http"
	"sync/atomic"
)

var (
	sessionsAllowed  atomic.Int64
	sessionsDenied   atomic.Int64
	signInFailures   atomic.Int64
	liveStreams      atomic.Int64
	patientsCreated  atomic.Int64
	uplinksAccepted  atomic.Int64
	uplinksPublished atomic.Int64
	uplinksFailed    atomic.Int64
	uplinkBacklog    atomic.Int64
	recordsUploaded  atomic.Int64
	recordsFailed    atomic.Int64
)

func SessionAllowed() { sessionsAllowed.Add(1) }
func SessionDenied() { sessionsDenied.Add(1) }
func SignInFailed() { signInFailures.Add(1) }
func PatientCreated() { patientsCreated.Add(1) }
func UplinkAccepted() { uplinksAccepted.Add(1) }
func UplinkPublished() { uplinksPublished.Add(1) }
func UplinkFailed() { uplinksFailed.Add(1) }
func RecordUploaded() { recordsUploaded.Add(1) }
func RecordFailed() { recordsFailed.Add(1) }

// StreamOpened tracks a live SSE stream; call the returned func when it ends.
func StreamOpened() func() {
	liveStreams.Add(1)
	var done atomic.Bool
	return func() {
		if done.CompareAndSwap(false, true) {
			liveStreams.Add(-1)
		}
	}
}

// ObserveUplinkBacklog records the number of uplinks not yet published.
func ObserveUplinkBacklog(n int64) {
	uplinkBacklog.Store(n)
}

func LiveStreams() int64 { return liveStreams.Load() }

type metric struct {
	name, help, kind string
	value            *atomic.Int64
}

var all = []metric{
	{"vitalwatch_sessions_allowed_total", "Admin requests granted by the session guard.", "counter", &sessionsAllowed},
	{"vitalwatch_sessions_denied_total", "Admin requests redirected to login by the session guard.", "counter", &sessionsDenied},
	{"vitalwatch_sign_in_failures_total", "Rejected admin sign-in attempts.", "counter", &signInFailures},
	{"vitalwatch_live_streams", "Open vitals and insights event streams.", "gauge", &liveStreams},
	{"vitalwatch_patients_created_total", "Patients registered from the admin dashboard.", "counter", &patientsCreated},
	{"vitalwatch_uplinks_accepted_total", "LoRa uplinks decoded and recorded.", "counter", &uplinksAccepted},
	{"vitalwatch_uplinks_published_total", "LoRa uplinks published to the event bus.", "counter", &uplinksPublished},
	{"vitalwatch_uplinks_failed_total", "LoRa uplinks that failed decoding or publication.", "counter", &uplinksFailed},
	{"vitalwatch_uplinks_backlog", "Uplinks recorded but not yet published.", "gauge", &uplinkBacklog},
	{"vitalwatch_records_uploaded_total", "Vital records appended to the realtime store.", "counter", &recordsUploaded},
	{"vitalwatch_records_failed_total", "Vital records that could not be appended.", "counter", &recordsFailed},
}

func WritePrometheus(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	for _, m := range all {
		fmt.Fprintf(w, "# HELP %s %s\n", m.name, m.help)
		fmt.Fprintf(w, "# TYPE %s %s\n", m.name, m.kind)
		fmt.Fprintf(w, "%s %d\n", m.name, m.value.Load())
	}
}

// Handler serves WritePrometheus.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WritePrometheus(w)
	})
}
