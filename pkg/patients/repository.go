// Package patients is the data gateway for the patient registry, vital
// records and generated insights kept in the realtime store.
package patients

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/vitalwatch/platform/pkg/common/logger"
	"github.com/vitalwatch/platform/pkg/common/models"
	"github.com/vitalwatch/platform/pkg/realtime"
)

const (
	patientsRoot = "patients"
	areaChild    = "info/area"
)

type Repository struct {
	store realtime.Store
}

func NewRepository(store realtime.Store) *Repository {
	return &Repository{store: store}
}

// stored is the nested shape under patients/{id}.
type stored struct {
	Info       models.PatientInfo `json:"info"`
	Records    json.RawMessage    `json:"records"`
	MLInsights json.RawMessage    `json:"ml_insights"`
}

// CreateIfNotExists registers a patient under its trimmed aadhaar. An
// existing registration is never overwritten; ErrPatientExists is returned instead.
func (r *Repository) CreateIfNotExists(ctx context.Context, info models.PatientInfo) (models.PatientInfo, error) {
	info.Aadhaar = strings.TrimSpace(info.Aadhaar)
	info.Name = strings.TrimSpace(info.Name)
	info.Area = strings.TrimSpace(info.Area)
	if err := validate(info); err != nil {
		return models.PatientInfo{}, err
	}

	path, err := realtime.Join(patientsRoot, info.Aadhaar, "info")
	if err != nil {
		return models.PatientInfo{}, ValidationError{reason: errAadhaarInvalid}
	}
	created, err := r.store.CreateIfAbsent(ctx, path, info)
	if err != nil {
		return models.PatientInfo{}, fmt.Errorf("creating patient: %w", err)
	}
	if !created {
		return models.PatientInfo{}, ErrPatientExists
	}
	return info, nil
}

func validate(info models.PatientInfo) error {
	if info.Aadhaar == "" {
		return ValidationError{reason: errAadhaarRequired}
	}
	if !realtime.ValidKey(info.Aadhaar) {
		return ValidationError{reason: fmt.Errorf("aadhaar '%s': %w", info.Aadhaar, errAadhaarInvalid)}
	}
	if info.Age < 0 {
		return ValidationError{reason: errAgeInvalid}
	}
	if info.Gender != "" && !info.Gender.Valid() {
		return ValidationError{reason: errGenderInvalid}
	}
	return nil
}

// Get returns the nested patient for an exact aadhaar, or ErrNotFound.
func (r *Repository) Get(ctx context.Context, aadhaar string) (*models.Patient, error) {
	path, ok := patientPath(aadhaar)
	if !ok {
		return nil, ErrNotFound
	}

	var s stored
	found, err := r.store.Get(ctx, path, &s)
	if err != nil {
		return nil, fmt.Errorf("fetching patient: %w", err)
	}
	if !found {
		return nil, ErrNotFound
	}
	return &models.Patient{
		Aadhaar:    aadhaar,
		Info:       s.Info,
		Records:    decodeRecords(s.Records),
		MLInsights: normalizeInsights(s.MLInsights),
	}, nil
}

// ListByArea returns the patients whose info.area equals area exactly,
// ordered by aadhaar.
func (r *Repository) ListByArea(ctx context.Context, area string) ([]models.Patient, error) {
	rows, err := r.store.QueryEqual(ctx, patientsRoot, areaChild, area)
	if err != nil {
		return nil, fmt.Errorf("listing patients for area: %w", err)
	}

	out := make([]models.Patient, 0, len(rows))
	for key, raw := range rows {
		var s stored
		if err := json.Unmarshal(raw, &s); err != nil {
			logger.Log.WithError(err).WithField("aadhaar", key).Warn("Skipping unreadable patient")
			continue
		}
		// guard against backends that match loosely
		if s.Info.Area != area {
			continue
		}
		out = append(out, models.Patient{
			Aadhaar:    key,
			Info:       s.Info,
			Records:    decodeRecords(s.Records),
			MLInsights: normalizeInsights(s.MLInsights),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Aadhaar < out[j].Aadhaar })
	return out, nil
}

// ListenVitals calls fn with every record of the patient now and on each change.
func (r *Repository) ListenVitals(ctx context.Context, aadhaar string, fn func(map[string]models.VitalRecord)) (realtime.Unsubscribe, error) {
	path, err := subtree(aadhaar, "records")
	if err != nil {
		return nil, err
	}
	unsub, err := r.store.Watch(ctx, path, func(snap realtime.Snapshot) {
		fn(decodeRecords(snap.Raw))
	})
	if err != nil {
		return nil, fmt.Errorf("listening to vitals: %w", err)
	}
	return unsub, nil
}

// ListenInsights calls fn with the normalized insights now and on each change.
func (r *Repository) ListenInsights(ctx context.Context, aadhaar string, fn func(map[string]models.Insight)) (realtime.Unsubscribe, error) {
	path, err := subtree(aadhaar, "ml_insights")
	if err != nil {
		return nil, err
	}
	unsub, err := r.store.Watch(ctx, path, func(snap realtime.Snapshot) {
		fn(normalizeInsights(snap.Raw))
	})
	if err != nil {
		return nil, fmt.Errorf("listening to insights: %w", err)
	}
	return unsub, nil
}

// AppendRecord pushes a vital record under the patient and returns its key.
func (r *Repository) AppendRecord(ctx context.Context, aadhaar string, rec models.VitalRecord) (string, error) {
	path, err := subtree(strings.TrimSpace(aadhaar), "records")
	if err != nil {
		return "", err
	}
	key, err := r.store.Push(ctx, path, rec)
	if err != nil {
		return "", fmt.Errorf("appending record: %w", err)
	}
	return key, nil
}

func patientPath(aadhaar string) (string, bool) {
	if !realtime.ValidKey(aadhaar) {
		return "", false
	}
	path, err := realtime.Join(patientsRoot, aadhaar)
	return path, err == nil
}

func subtree(aadhaar, child string) (string, error) {
	if !realtime.ValidKey(aadhaar) {
		return "", ValidationError{reason: fmt.Errorf("aadhaar '%s': %w", aadhaar, errAadhaarInvalid)}
	}
	return realtime.Join(patientsRoot, aadhaar, child)
}
