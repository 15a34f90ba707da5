// Package web serves the administrator and patient screens. Pages are
// rendered on the server; the detail screens keep their vitals and insights
// current over server-sent events.
package web

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/vitalwatch/platform/pkg/common/logger"
	"github.com/vitalwatch/platform/pkg/common/models"
	"github.com/vitalwatch/platform/pkg/gateway/middleware"
	"github.com/vitalwatch/platform/pkg/identity"
	"github.com/vitalwatch/platform/pkg/observability/metrics"
	"github.com/vitalwatch/platform/pkg/patients"
	"github.com/vitalwatch/platform/pkg/viewmodel"
)

const (
	msgEnterAadhaar    = "Please enter an Aadhaar number"
	msgNoPatient       = "No patient found with that Aadhaar number"
	msgNoPatientInArea = "No patient found with that Aadhaar in your area"
	msgPatientCreated  = "✅ Patient created successfully!"
	msgEnterAadhaarID  = "Enter Aadhaar ID"
	msgPatientNotFound = "❌ Patient not found"
	msgSignInFailed    = "Login failed. Please try again."
	msgSearchFailed    = "Search failed. Please try again."

	warnPrefix = "⚠️ "
)

// PatientStore is what the screens need from the patient gateway.
type PatientStore interface {
	viewmodel.Gateway
	CreateIfNotExists(ctx context.Context, info models.PatientInfo) (models.PatientInfo, error)
	ListByArea(ctx context.Context, area string) ([]models.Patient, error)
}

type Options struct {
	Cookie   middleware.SessionCookie
	Location *time.Location
	// Heartbeat is the comment interval on idle event streams.
	Heartbeat      time.Duration
	LoginRateRPS   int
	LoginRateBurst int
}

type Handler struct {
	patients  PatientStore
	guard     *identity.Guard
	provider  identity.Provider
	sessions  identity.SessionStore
	cookie    middleware.SessionCookie
	loc       *time.Location
	heartbeat time.Duration
	limit     func(http.Handler) http.Handler
	views     *renderer
}

func NewHandler(store PatientStore, guard *identity.Guard, provider identity.Provider, sessions identity.SessionStore, opts Options) (*Handler, error) {
	views, err := newRenderer()
	if err != nil {
		return nil, err
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 15 * time.Second
	}
	if opts.LoginRateBurst <= 0 {
		opts.LoginRateBurst = 20
	}
	return &Handler{
		patients:  store,
		guard:     guard,
		provider:  provider,
		sessions:  sessions,
		cookie:    opts.Cookie,
		loc:       opts.Location,
		heartbeat: opts.Heartbeat,
		limit:     middleware.RateLimit(opts.LoginRateRPS, opts.LoginRateBurst),
		views:     views,
	}, nil
}

func (h *Handler) Register(r *mux.Router) {
	site := r.NewRoute().Subrouter()
	site.Use(middleware.Sessions(h.sessions, h.cookie))

	admin := middleware.RequireAdmin(h.guard)
	adminRoute := func(path string, fn http.HandlerFunc, methods ...string) {
		site.Handle(path, admin(fn)).Methods(methods...)
	}

	site.HandleFunc("/", h.handleLanding).Methods(http.MethodGet)
	site.Handle("/login", h.limit(http.HandlerFunc(h.handleLogin))).Methods(http.MethodGet, http.MethodPost)
	site.HandleFunc("/logout", h.handleLogout).Methods(http.MethodGet, http.MethodPost)

	adminRoute("/dashboard", h.handleDashboard, http.MethodGet)
	adminRoute("/dashboard", h.handleCreatePatient, http.MethodPost)
	adminRoute("/patients", h.handlePatients, http.MethodGet)
	adminRoute("/patients/export.xlsx", h.handleExport, http.MethodGet)
	adminRoute("/patient/{aadhaar}", h.handlePatientDetail, http.MethodGet)
	adminRoute("/patient/{aadhaar}/events", h.handlePatientEvents, http.MethodGet)

	site.HandleFunc("/patient-login", h.handlePatientLogin).Methods(http.MethodGet, http.MethodPost)
	site.HandleFunc("/patient-logout", h.handlePatientLogout).Methods(http.MethodGet, http.MethodPost)
	site.HandleFunc("/patient-dashboard/{aadhaar}", h.handlePatientDashboard).Methods(http.MethodGet)
	site.HandleFunc("/patient-dashboard/{aadhaar}/events", h.handlePatientDashboardEvents).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/", http.StatusFound)
	})
}

type landingPage struct {
	Title string
}

type loginPage struct {
	Title string
	Email string
	Error string
}

type patientForm struct {
	Aadhaar string
	Name    string
	Age     string
	Gender  string
	Area    string
}

type dashboardPage struct {
	Title         string
	Admin         identity.AdminContext
	Search        string
	SearchError   string
	Form          patientForm
	Genders       []models.Gender
	CreateMessage string
	CreateOK      bool
}

type patientsPage struct {
	Title       string
	Admin       identity.AdminContext
	Search      string
	SearchError string
	Patients    []models.Patient
}

type detailPage struct {
	Title     string
	Aadhaar   string
	Greeting  string
	NotFound  bool
	Info      models.PatientInfo
	Vitals    VitalsView
	Insights  []InsightView
	EventsURL string
}

type patientLoginPage struct {
	Title   string
	Aadhaar string
	Error   string
}

var genders = []models.Gender{models.GenderMale, models.GenderFemale, models.GenderOther}

func (h *Handler) handleLanding(w http.ResponseWriter, r *http.Request) {
	h.views.page(w, http.StatusOK, "landing.html", landingPage{Title: "Welcome"})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		h.views.page(w, http.StatusOK, "login.html", loginPage{Title: "Admin login"})
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	email := strings.TrimSpace(r.PostFormValue("email"))
	password := r.PostFormValue("password")

	cred, err := h.provider.SignIn(r.Context(), email, password)
	if err != nil {
		metrics.SignInFailed()
		msg, ok := identity.SignInMessage(err)
		if !ok {
			logger.Log.WithError(err).Error("Sign-in failed")
			msg = msgSignInFailed
		}
		h.views.page(w, http.StatusUnauthorized, "login.html", loginPage{Title: "Admin login", Email: email, Error: msg})
		return
	}

	// a fresh id on every sign-in; the patient shortcut survives it
	prev := sessionOf(r)
	sess := identity.NewSession()
	sess.PatientAadhaar = prev.PatientAadhaar
	sess.UID = cred.Principal.UID
	sess.Email = cred.Principal.Email
	sess.Token = cred.Token
	if err := h.sessions.Save(r.Context(), sess); err != nil {
		logger.Log.WithError(err).Error("Failed to save session")
		h.views.page(w, http.StatusInternalServerError, "login.html", loginPage{Title: "Admin login", Email: email, Error: msgSignInFailed})
		return
	}
	if prev.ID != "" && prev.ID != sess.ID {
		if err := h.sessions.Delete(r.Context(), prev.ID); err != nil {
			logger.Log.WithError(err).Warn("Failed to drop previous session")
		}
	}
	h.cookie.Write(w, sess.ID)

	logger.Log.WithField("uid", sess.UID).Info("Admin signed in")
	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := sessionOf(r)
	if sess.Token != "" {
		if err := h.provider.SignOut(r.Context(), sess.Token); err != nil {
			logger.Log.WithError(err).WithField("uid", sess.UID).Warn("Sign-out failed")
		}
	}
	sess.ClearAdmin()
	h.persist(w, r, sess)
	http.Redirect(w, r, middleware.LoginPath, http.StatusSeeOther)
}

func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	admin, _ := identity.AdminFrom(r.Context())
	data := dashboardPage{
		Title:   "Dashboard",
		Admin:   admin,
		Form:    patientForm{Area: admin.Area, Gender: string(models.GenderMale)},
		Genders: genders,
	}

	query := r.URL.Query()
	if _, searched := query["aadhaar"]; !searched {
		h.views.page(w, http.StatusOK, "dashboard.html", data)
		return
	}

	data.Search = strings.TrimSpace(query.Get("aadhaar"))
	if data.Search == "" {
		data.SearchError = msgEnterAadhaar
		h.views.page(w, http.StatusOK, "dashboard.html", data)
		return
	}
	_, err := h.patients.Get(r.Context(), data.Search)
	switch {
	case err == nil:
		http.Redirect(w, r, patientURL(data.Search), http.StatusFound)
		return
	case errors.Is(err, patients.ErrNotFound):
		data.SearchError = msgNoPatient
	default:
		logger.Log.WithError(err).Error("Patient search failed")
		data.SearchError = msgSearchFailed
	}
	h.views.page(w, http.StatusOK, "dashboard.html", data)
}

func (h *Handler) handleCreatePatient(w http.ResponseWriter, r *http.Request) {
	admin, _ := identity.AdminFrom(r.Context())
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	form := patientForm{
		Aadhaar: r.PostFormValue("aadhaar"),
		Name:    r.PostFormValue("name"),
		Age:     strings.TrimSpace(r.PostFormValue("age")),
		Gender:  r.PostFormValue("gender"),
		Area:    r.PostFormValue("area"),
	}
	data := dashboardPage{Title: "Dashboard", Admin: admin, Form: form, Genders: genders}

	age := 0
	if form.Age != "" {
		n, err := strconv.Atoi(form.Age)
		if err != nil {
			data.CreateMessage = warnPrefix + "Age must be a whole number"
			h.views.page(w, http.StatusBadRequest, "dashboard.html", data)
			return
		}
		age = n
	}

	created, err := h.patients.CreateIfNotExists(r.Context(), models.PatientInfo{
		Aadhaar: form.Aadhaar,
		Name:    form.Name,
		Age:     age,
		Gender:  models.Gender(form.Gender),
		Area:    form.Area,
	})
	status := http.StatusOK
	switch {
	case err == nil:
		metrics.PatientCreated()
		logger.Log.WithFields(map[string]interface{}{
			"aadhaar": created.Aadhaar,
			"area":    created.Area,
			"by":      admin.UID,
		}).Info("Patient created")
		data.CreateOK = true
		data.CreateMessage = msgPatientCreated
		data.Form = patientForm{Area: admin.Area, Gender: string(models.GenderMale)}
	case errors.Is(err, patients.ErrPatientExists):
		status = http.StatusConflict
		data.CreateMessage = warnPrefix + "Patient already exists"
	case patients.IsValidationError(err):
		status = http.StatusBadRequest
		data.CreateMessage = warnPrefix + err.Error()
	default:
		logger.Log.WithError(err).Error("Failed to create patient")
		status = http.StatusInternalServerError
		data.CreateMessage = warnPrefix + "Failed to create patient"
	}
	h.views.page(w, status, "dashboard.html", data)
}

func (h *Handler) handlePatients(w http.ResponseWriter, r *http.Request) {
	admin, _ := identity.AdminFrom(r.Context())
	data := patientsPage{Title: "Patients", Admin: admin}

	if search := strings.TrimSpace(r.URL.Query().Get("aadhaar")); search != "" {
		data.Search = search
		p, err := h.patients.Get(r.Context(), search)
		switch {
		case err == nil && p.Info.Area == admin.Area:
			http.Redirect(w, r, patientURL(search), http.StatusFound)
			return
		case err == nil, errors.Is(err, patients.ErrNotFound):
			data.SearchError = msgNoPatientInArea
		default:
			logger.Log.WithError(err).Error("Patient search failed")
			data.SearchError = msgSearchFailed
		}
	}

	list, err := h.patients.ListByArea(r.Context(), admin.Area)
	if err != nil {
		logger.Log.WithError(err).WithField("area", admin.Area).Error("Failed to list patients")
		http.Error(w, "failed to fetch patients", http.StatusInternalServerError)
		return
	}
	data.Patients = list
	h.views.page(w, http.StatusOK, "patients.html", data)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	admin, _ := identity.AdminFrom(r.Context())
	list, err := h.patients.ListByArea(r.Context(), admin.Area)
	if err != nil {
		logger.Log.WithError(err).WithField("area", admin.Area).Error("Failed to list patients for export")
		http.Error(w, "failed to fetch patients", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := writeAreaExport(&buf, list, h.loc); err != nil {
		logger.Log.WithError(err).Error("Failed to build export")
		http.Error(w, "failed to build export", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", exportName(admin.Area)))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		logger.Log.WithError(err).WithField("area", admin.Area).Debug("Export download interrupted")
	}
}

func exportName(area string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		case r == ' ':
			return '-'
		}
		return -1
	}, area)
	if name == "" {
		name = "area"
	}
	return "patients-" + name + ".xlsx"
}

func (h *Handler) handlePatientDetail(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["aadhaar"]
	data, ok := h.detail(w, r, id, false)
	if !ok {
		return
	}
	data.Title = "Patient " + id
	data.EventsURL = patientURL(id) + "/events"
	h.views.page(w, http.StatusOK, "patient_detail.html", data)
}

func (h *Handler) handlePatientEvents(w http.ResponseWriter, r *http.Request) {
	h.stream(w, r, mux.Vars(r)["aadhaar"], false)
}

func (h *Handler) handlePatientLogin(w http.ResponseWriter, r *http.Request) {
	sess := sessionOf(r)
	if r.Method == http.MethodGet {
		h.views.page(w, http.StatusOK, "patient_login.html", patientLoginPage{Title: "Patient login", Aadhaar: sess.PatientAadhaar})
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	id := strings.TrimSpace(r.PostFormValue("aadhaar"))
	data := patientLoginPage{Title: "Patient login", Aadhaar: id}
	if id == "" {
		data.Error = msgEnterAadhaarID
		h.views.page(w, http.StatusOK, "patient_login.html", data)
		return
	}

	_, err := h.patients.Get(r.Context(), id)
	switch {
	case errors.Is(err, patients.ErrNotFound):
		data.Error = msgPatientNotFound
		h.views.page(w, http.StatusNotFound, "patient_login.html", data)
		return
	case err != nil:
		logger.Log.WithError(err).Error("Patient lookup failed")
		data.Error = msgSearchFailed
		h.views.page(w, http.StatusInternalServerError, "patient_login.html", data)
		return
	}

	sess.PatientAadhaar = id
	h.persist(w, r, sess)
	http.Redirect(w, r, patientDashboardURL(id), http.StatusSeeOther)
}

func (h *Handler) handlePatientLogout(w http.ResponseWriter, r *http.Request) {
	sess := sessionOf(r)
	sess.PatientAadhaar = ""
	h.persist(w, r, sess)
	http.Redirect(w, r, "/patient-login", http.StatusSeeOther)
}

func (h *Handler) handlePatientDashboard(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["aadhaar"]
	data, ok := h.detail(w, r, id, true)
	if !ok {
		return
	}
	data.Title = "My dashboard"
	data.Greeting = "Hello"
	if first := data.Info.FirstName(); first != "" {
		data.Greeting = "Hello, " + first
	}
	data.EventsURL = patientDashboardURL(id) + "/events"
	h.views.page(w, http.StatusOK, "patient_dashboard.html", data)
}

func (h *Handler) handlePatientDashboardEvents(w http.ResponseWriter, r *http.Request) {
	h.stream(w, r, mux.Vars(r)["aadhaar"], true)
}

// detail renders the current state of a patient once from a single lookup.
func (h *Handler) detail(w http.ResponseWriter, r *http.Request, id string, sparklines bool) (detailPage, bool) {
	state, err := viewmodel.LoadPatientDetail(r.Context(), h.patients, id, viewmodel.WithLocation(h.loc))
	if err != nil {
		logger.Log.WithError(err).WithField("aadhaar", id).Error("Failed to load patient")
		http.Error(w, "failed to load patient", http.StatusInternalServerError)
		return detailPage{}, false
	}

	return detailPage{
		Aadhaar:  id,
		NotFound: state.NotFound,
		Info:     state.Info,
		Vitals:   buildVitals(state.Latest, h.loc, sparklines),
		Insights: buildInsights(state.Insights, h.loc),
	}, true
}

// persist saves the session and refreshes its cookie. A session left with
// nothing in it is deleted instead.
func (h *Handler) persist(w http.ResponseWriter, r *http.Request, sess *identity.Session) {
	if sess.Token == "" && sess.PatientAadhaar == "" {
		if err := h.sessions.Delete(r.Context(), sess.ID); err != nil {
			logger.Log.WithError(err).Warn("Failed to delete session")
		}
		h.cookie.Clear(w)
		return
	}
	if err := h.sessions.Save(r.Context(), *sess); err != nil {
		logger.Log.WithError(err).Error("Failed to save session")
		return
	}
	h.cookie.Write(w, sess.ID)
}

func sessionOf(r *http.Request) *identity.Session {
	if sess, ok := identity.SessionFrom(r.Context()); ok {
		return sess
	}
	s := identity.NewSession()
	return &s
}

func patientURL(id string) string {
	return "/patient/" + url.PathEscape(id)
}

func patientDashboardURL(id string) string {
	return "/patient-dashboard/" + url.PathEscape(id)
}
