package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/360EntSecGroup-Skylar/excelize"
	"github.com/gorilla/mux"

	"github.com/vitalwatch/platform/pkg/common/models"
	"github.com/vitalwatch/platform/pkg/gateway/middleware"
	"github.com/vitalwatch/platform/pkg/identity"
	"github.com/vitalwatch/platform/pkg/patients"
	"github.com/vitalwatch/platform/pkg/realtime/memory"
)

const (
	northAdmin    = "north@vitalwatch.test"
	northPassword = "north-pass"
	nurseEmail    = "nurse@vitalwatch.test"
	nursePassword = "nurse-pass"
)

type fixture struct {
	router *mux.Router
	store  *memory.Store
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := memory.New()
	ctx := context.Background()
	seed := map[string]interface{}{
		"users/admin-north": models.AdminProfile{Role: "admin", Area: "North"},
		"users/nurse-north": models.AdminProfile{Role: "nurse", Area: "North"},
		"patients/111111111111/info": models.PatientInfo{
			Aadhaar: "111111111111", Name: "Asha Rao", Age: 54, Gender: models.GenderFemale, Area: "North",
		},
		"patients/111111111111/records/-rec1": map[string]interface{}{
			"timestamp": 1700000000, "heart_rate": 72, "spo2": 98, "temperature": 36.6,
			"ecg": []float64{0.1, 0.4, 0.2},
		},
		"patients/111111111111/ml_insights/ins1": map[string]interface{}{
			"diagnosis": "Normal sinus rhythm", "confidence": 0.934, "created_at": 1700000100,
		},
		"patients/222222222222/info": models.PatientInfo{
			Aadhaar: "222222222222", Name: "Ravi Kumar", Age: 61, Gender: models.GenderMale, Area: "South",
		},
	}
	for path, v := range seed {
		if err := store.Set(ctx, path, v); err != nil {
			t.Fatalf("seed %s: %v", path, err)
		}
	}

	provider, err := identity.NewDevProvider("web-handler-test-secret", time.Hour, []identity.DevAccount{
		{UID: "admin-north", Email: northAdmin, Password: northPassword},
		{UID: "nurse-north", Email: nurseEmail, Password: nursePassword},
	})
	if err != nil {
		t.Fatalf("provider: %v", err)
	}
	sessions := identity.NewMemorySessions(time.Hour)
	guard := identity.NewGuard(provider, identity.StoreProfiles{Store: store}, sessions)

	h, err := NewHandler(patients.NewRepository(store), guard, provider, sessions, Options{
		Cookie:         middleware.SessionCookie{Name: "vw_session", TTL: time.Hour},
		LoginRateRPS:   100,
		LoginRateBurst: 100,
	})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	r := mux.NewRouter()
	h.Register(r)
	return fixture{router: r, store: store}
}

func (f fixture) do(t *testing.T, method, target string, form url.Values, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f fixture) login(t *testing.T, email, password string) *http.Cookie {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/login", url.Values{"email": {email}, "password": {password}}, nil)
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/dashboard" {
		t.Fatalf("login status %d location %q", rec.Code, rec.Header().Get("Location"))
	}
	return sessionCookie(t, rec)
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == "vw_session" && c.Value != "" {
			return c
		}
	}
	t.Fatalf("no session cookie in response")
	return nil
}

func expectRedirect(t *testing.T, rec *httptest.ResponseRecorder, location string) {
	t.Helper()
	if rec.Code != http.StatusFound && rec.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, want redirect to %s", rec.Code, location)
	}
	if got := rec.Header().Get("Location"); got != location {
		t.Fatalf("location = %q, want %q", got, location)
	}
}

func expectBody(t *testing.T, rec *httptest.ResponseRecorder, want string) {
	t.Helper()
	if !strings.Contains(rec.Body.String(), want) {
		t.Fatalf("body does not contain %q:\n%s", want, rec.Body.String())
	}
}

func TestLoginShowsProviderMessage(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/login", url.Values{"email": {northAdmin}, "password": {"wrong"}}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
	expectBody(t, rec, "INVALID_LOGIN_CREDENTIALS")
}

func TestAdminScreensRedirectToLogin(t *testing.T) {
	f := newFixture(t)
	nurse := f.login(t, nurseEmail, nursePassword)

	for _, path := range []string{"/dashboard", "/patients", "/patients/export.xlsx", "/patient/111111111111", "/patient/111111111111/events"} {
		expectRedirect(t, f.do(t, http.MethodGet, path, nil, nil), middleware.LoginPath)
		expectRedirect(t, f.do(t, http.MethodGet, path, nil, nurse), middleware.LoginPath)
	}
}

func TestLogoutEndsAdminAccess(t *testing.T) {
	f := newFixture(t)
	cookie := f.login(t, northAdmin, northPassword)
	if rec := f.do(t, http.MethodGet, "/dashboard", nil, cookie); rec.Code != http.StatusOK {
		t.Fatalf("dashboard status = %d", rec.Code)
	}
	expectRedirect(t, f.do(t, http.MethodGet, "/logout", nil, cookie), middleware.LoginPath)
	expectRedirect(t, f.do(t, http.MethodGet, "/dashboard", nil, cookie), middleware.LoginPath)
}

func TestDashboardSearch(t *testing.T) {
	f := newFixture(t)
	cookie := f.login(t, northAdmin, northPassword)

	expectBody(t, f.do(t, http.MethodGet, "/dashboard?aadhaar=", nil, cookie), msgEnterAadhaar)
	expectBody(t, f.do(t, http.MethodGet, "/dashboard?aadhaar=999999999999", nil, cookie), msgNoPatient)
	// the dashboard search is not limited to the admin's area
	expectRedirect(t, f.do(t, http.MethodGet, "/dashboard?aadhaar=+222222222222+", nil, cookie), "/patient/222222222222")
}

func TestCreatePatient(t *testing.T) {
	f := newFixture(t)
	cookie := f.login(t, northAdmin, northPassword)
	form := url.Values{
		"aadhaar": {" 333333333333 "},
		"name":    {"Meera Iyer"},
		"age":     {"37"},
		"gender":  {"Female"},
		"area":    {"North"},
	}

	rec := f.do(t, http.MethodPost, "/dashboard", form, cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("create status = %d", rec.Code)
	}
	expectBody(t, rec, msgPatientCreated)

	var info models.PatientInfo
	found, err := f.store.Get(context.Background(), "patients/333333333333/info", &info)
	if err != nil || !found {
		t.Fatalf("stored patient found=%v err=%v", found, err)
	}
	if info.Name != "Meera Iyer" || info.Age != 37 {
		t.Fatalf("stored info = %+v", info)
	}

	form.Set("name", "Someone Else")
	rec = f.do(t, http.MethodPost, "/dashboard", form, cookie)
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate status = %d", rec.Code)
	}
	expectBody(t, rec, "Patient already exists")

	rec = f.do(t, http.MethodPost, "/dashboard", url.Values{"aadhaar": {"  "}}, cookie)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("blank aadhaar status = %d", rec.Code)
	}
}

func TestPatientListIsScopedToArea(t *testing.T) {
	f := newFixture(t)
	cookie := f.login(t, northAdmin, northPassword)

	rec := f.do(t, http.MethodGet, "/patients", nil, cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	expectBody(t, rec, "Asha Rao")
	if strings.Contains(rec.Body.String(), "Ravi Kumar") {
		t.Fatalf("patient from another area listed")
	}

	expectBody(t, f.do(t, http.MethodGet, "/patients?aadhaar=222222222222", nil, cookie), msgNoPatientInArea)
	expectRedirect(t, f.do(t, http.MethodGet, "/patients?aadhaar=111111111111", nil, cookie), "/patient/111111111111")
}

func TestPatientDetail(t *testing.T) {
	f := newFixture(t)
	cookie := f.login(t, northAdmin, northPassword)

	rec := f.do(t, http.MethodGet, "/patient/111111111111", nil, cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	expectBody(t, rec, "72.0 bpm")
	expectBody(t, rec, "Normal sinus rhythm")
	expectBody(t, rec, "(93%)")

	expectBody(t, f.do(t, http.MethodGet, "/patient/999999999999", nil, cookie), "Patient not found")
	if n := f.store.Watchers(); n != 0 {
		t.Fatalf("watchers left open: %d", n)
	}
}

func TestExportContainsAreaPatients(t *testing.T) {
	f := newFixture(t)
	cookie := f.login(t, northAdmin, northPassword)

	rec := f.do(t, http.MethodGet, "/patients/export.xlsx", nil, cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Disposition"); !strings.Contains(got, "patients-North.xlsx") {
		t.Fatalf("content disposition = %q", got)
	}
	book, err := excelize.OpenReader(rec.Body)
	if err != nil {
		t.Fatalf("open export: %v", err)
	}
	if got := book.GetCellValue(exportSheet, "A1"); got != "Aadhaar" {
		t.Fatalf("A1 = %q", got)
	}
	if got := book.GetCellValue(exportSheet, "A2"); got != "111111111111" {
		t.Fatalf("A2 = %q", got)
	}
	if got := book.GetCellValue(exportSheet, "K2"); got != "Normal sinus rhythm" {
		t.Fatalf("K2 = %q", got)
	}
	if got := book.GetCellValue(exportSheet, "A3"); got != "" {
		t.Fatalf("unexpected third row %q", got)
	}
}

func TestUnknownPathRedirectsHome(t *testing.T) {
	f := newFixture(t)
	expectRedirect(t, f.do(t, http.MethodGet, "/no/such/page", nil, nil), "/")
}

func TestPatientLoginFlow(t *testing.T) {
	f := newFixture(t)

	expectBody(t, f.do(t, http.MethodPost, "/patient-login", url.Values{"aadhaar": {" "}}, nil), msgEnterAadhaarID)

	rec := f.do(t, http.MethodPost, "/patient-login", url.Values{"aadhaar": {"999999999999"}}, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown patient status = %d", rec.Code)
	}
	expectBody(t, rec, "Patient not found")

	rec = f.do(t, http.MethodPost, "/patient-login", url.Values{"aadhaar": {"111111111111"}}, nil)
	expectRedirect(t, rec, "/patient-dashboard/111111111111")
	cookie := sessionCookie(t, rec)

	expectBody(t, f.do(t, http.MethodGet, "/patient-login", nil, cookie), `value="111111111111"`)

	dash := f.do(t, http.MethodGet, "/patient-dashboard/111111111111", nil, cookie)
	expectBody(t, dash, "Hello, Asha")
	expectBody(t, dash, "<iframe")

	expectRedirect(t, f.do(t, http.MethodGet, "/patient-logout", nil, cookie), "/patient-login")
	if strings.Contains(f.do(t, http.MethodGet, "/patient-login", nil, cookie).Body.String(), `value="111111111111"`) {
		t.Fatalf("patient aadhaar kept after logout")
	}
}

func TestPatientEventsSendInitialState(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/patient-dashboard/111111111111/events", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("content type = %q", got)
	}
	body := rec.Body.String()
	for _, want := range []string{"event: vitals\n", "event: insights\n", "72.0 bpm", "Normal sinus rhythm"} {
		if !strings.Contains(body, want) {
			t.Fatalf("stream missing %q:\n%s", want, body)
		}
	}
	if n := f.store.Watchers(); n != 0 {
		t.Fatalf("watchers left open after stream: %d", n)
	}
}

func TestWriteEventSplitsLines(t *testing.T) {
	var b strings.Builder
	if err := writeEvent(&b, "vitals", "<p>\n</p>"); err != nil {
		t.Fatalf("write: %v", err)
	}
	want := "event: vitals\ndata: <p>\ndata: </p>\n\n"
	if b.String() != want {
		t.Fatalf("got %q, want %q", b.String(), want)
	}
}
