package ingestion

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
)

func TestWebhookAndStatus(t *testing.T) {
	status := newFakeStatus()
	svc := NewService(status, &fakePublisher{}, testBackoff, time.Hour)
	r := mux.NewRouter()
	NewHTTPHandler(svc, status, 1<<20).Register(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/uplinks",
		bytes.NewReader(uplinkDoc("belt-01", frame("123456789012", 72, 98, 3665, 512)))))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("webhook status = %d: %s", rec.Code, rec.Body.String())
	}
	var accepted struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&accepted); err != nil || accepted.ID == "" {
		t.Fatalf("decode: %v (%+v)", err, accepted)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/uplinks/"+accepted.ID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status lookup = %d", rec.Code)
	}
	var row Record
	if err := json.NewDecoder(rec.Body).Decode(&row); err != nil || row.Status != StatusPublished {
		t.Fatalf("row = %+v err = %v", row, err)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/uplinks/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing status = %d", rec.Code)
	}
}

func TestWebhookRejectsBadFrame(t *testing.T) {
	status := newFakeStatus()
	svc := NewService(status, &fakePublisher{}, testBackoff, time.Hour)
	r := mux.NewRouter()
	NewHTTPHandler(svc, status, 1<<20).Register(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/uplinks", bytes.NewReader(uplinkDoc("belt-01", []byte{1, 2, 3}))))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/uplinks/alerts", nil))
	var alerts alertsResponse
	if err := json.NewDecoder(rec.Body).Decode(&alerts); err != nil {
		t.Fatalf("decode alerts: %v", err)
	}
	if alerts.Summary.Failed != 1 || len(alerts.Items) != 1 {
		t.Fatalf("alerts = %+v", alerts)
	}
}
