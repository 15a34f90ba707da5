package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/vitalwatch/platform/pkg/common/logger"
)

// StatusReader is the read side of the status log used by the HTTP API.
type StatusReader interface {
	Recent(ctx context.Context, statuses []string, limit int) ([]Record, error)
	CountByStatus(ctx context.Context, window time.Duration) (map[string]int64, error)
}

type HTTPHandler struct {
	service *Service
	status  StatusReader
	maxBody int64
}

func NewHTTPHandler(service *Service, status StatusReader, maxBody int64) *HTTPHandler {
	return &HTTPHandler{service: service, status: status, maxBody: maxBody}
}

func (h *HTTPHandler) Register(router *mux.Router) {
	router.HandleFunc("/uplinks", h.handleWebhook).Methods(http.MethodPost)
	router.HandleFunc("/uplinks/alerts", h.handleAlerts).Methods(http.MethodGet)
	router.HandleFunc("/uplinks/{id}", h.handleStatus).Methods(http.MethodGet)
}

// handleWebhook accepts the TTN webhook integration's uplink documents.
func (h *HTTPHandler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if h.maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	}
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	reading, err := h.service.Process(r.Context(), "", raw)
	if err != nil {
		if IsValidationError(err) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		logger.Log.WithError(err).Error("failed to process uplink")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"id":      reading.IngestID,
		"status":  StatusPublished,
		"aadhaar": reading.Aadhaar,
	})
}

func (h *HTTPHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	rec, err := h.service.Status(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "uplink not found", http.StatusNotFound)
			return
		}
		logger.Log.WithError(err).Error("failed to fetch uplink status")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rec)
}

type alertSummary struct {
	Failed    int64 `json:"failed"`
	Pending   int64 `json:"pending"`
	Published int64 `json:"published"`
}

type alertsResponse struct {
	Summary alertSummary `json:"summary"`
	Items   []Record     `json:"items"`
}

// handleAlerts summarises the last week of uplinks and lists the newest ones
// that failed or are still waiting to be published.
func (h *HTTPHandler) handleAlerts(w http.ResponseWriter, r *http.Request) {
	counts, err := h.status.CountByStatus(r.Context(), 7*24*time.Hour)
	if err != nil {
		logger.Log.WithError(err).Error("failed to summarize uplinks")
		http.Error(w, "failed to fetch alerts", http.StatusInternalServerError)
		return
	}
	items, err := h.status.Recent(r.Context(), []string{StatusFailed, StatusAccepted}, 25)
	if err != nil {
		logger.Log.WithError(err).Error("failed to load uplink alerts")
		http.Error(w, "failed to fetch alerts", http.StatusInternalServerError)
		return
	}
	if items == nil {
		items = []Record{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(alertsResponse{
		Summary: alertSummary{
			Failed:    counts[StatusFailed],
			Pending:   counts[StatusAccepted],
			Published: counts[StatusPublished],
		},
		Items: items,
	})
}
