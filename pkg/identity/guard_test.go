package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vitalwatch/platform/pkg/common/models"
	"github.com/vitalwatch/platform/pkg/realtime/memory"
)

const testSecret = "guard-test-secret-0123456789"

func newDevProvider(t *testing.T) *DevProvider {
	t.Helper()
	p, err := NewDevProvider(testSecret, time.Hour, []DevAccount{
		{UID: "admin-north", Email: "north@vitalwatch.test", Password: "north-pass"},
		{UID: "nurse-1", Email: "nurse@vitalwatch.test", Password: "nurse-pass"},
		{UID: "ghost", Email: "ghost@vitalwatch.test", Password: "ghost-pass"},
	})
	if err != nil {
		t.Fatalf("dev provider: %v", err)
	}
	return p
}

func newGuard(t *testing.T) (*Guard, *DevProvider, *MemorySessions) {
	t.Helper()
	store := memory.New()
	ctx := context.Background()
	if err := store.Set(ctx, "users/admin-north", models.AdminProfile{Role: "admin", Area: "North"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := store.Set(ctx, "users/nurse-1", models.AdminProfile{Role: "Admin", Area: "North"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	provider := newDevProvider(t)
	sessions := NewMemorySessions(time.Hour)
	return NewGuard(provider, StoreProfiles{Store: store}, sessions), provider, sessions
}

func signedIn(t *testing.T, p *DevProvider, email, password string) *Session {
	t.Helper()
	cred, err := p.SignIn(context.Background(), email, password)
	if err != nil {
		t.Fatalf("sign in %s: %v", email, err)
	}
	s := NewSession()
	s.Token = cred.Token
	return &s
}

func TestGuardDeniesWithoutPrincipal(t *testing.T) {
	g, _, _ := newGuard(t)
	if d := g.Authorize(context.Background(), nil); d.Allowed || d.Reason != ReasonNoPrincipal {
		t.Fatalf("nil session: %+v", d)
	}
	s := NewSession()
	if d := g.Authorize(context.Background(), &s); d.Allowed || d.Reason != ReasonNoPrincipal {
		t.Fatalf("anonymous session: %+v", d)
	}
}

func TestGuardDeniesForgedToken(t *testing.T) {
	g, _, _ := newGuard(t)
	s := NewSession()
	s.Token = "not.a.token"
	if d := g.Authorize(context.Background(), &s); d.Allowed || d.Reason != ReasonInvalidSession {
		t.Fatalf("forged token: %+v", d)
	}
}

func TestGuardDeniesNonAdminRole(t *testing.T) {
	g, p, _ := newGuard(t)
	s := signedIn(t, p, "nurse@vitalwatch.test", "nurse-pass")
	if d := g.Authorize(context.Background(), s); d.Allowed || d.Reason != ReasonNotAdmin {
		t.Fatalf("role with different case must be denied: %+v", d)
	}
	if s.AdminArea != "" {
		t.Fatalf("area recorded for denied session: %q", s.AdminArea)
	}
}

func TestGuardDeniesMissingProfile(t *testing.T) {
	g, p, _ := newGuard(t)
	s := signedIn(t, p, "ghost@vitalwatch.test", "ghost-pass")
	if d := g.Authorize(context.Background(), s); d.Allowed || d.Reason != ReasonProfileUnavailable {
		t.Fatalf("missing profile: %+v", d)
	}
}

type failingProfiles struct{}

func (failingProfiles) Profile(context.Context, string) (models.AdminProfile, bool, error) {
	return models.AdminProfile{}, false, errors.New("backend unavailable")
}

func TestGuardDeniesOnProfileFetchFailure(t *testing.T) {
	p := newDevProvider(t)
	g := NewGuard(p, failingProfiles{}, nil)
	s := signedIn(t, p, "north@vitalwatch.test", "north-pass")
	if d := g.Authorize(context.Background(), s); d.Allowed || d.Reason != ReasonProfileUnavailable {
		t.Fatalf("fetch failure must deny: %+v", d)
	}
}

func TestGuardGrantsAdminAndRecordsArea(t *testing.T) {
	g, p, sessions := newGuard(t)
	ctx := context.Background()
	s := signedIn(t, p, "north@vitalwatch.test", "north-pass")
	if err := sessions.Save(ctx, *s); err != nil {
		t.Fatalf("save: %v", err)
	}

	d := g.Authorize(ctx, s)
	if !d.Allowed {
		t.Fatalf("admin denied: %+v", d)
	}
	if d.Admin.Area != "North" || d.Admin.UID != "admin-north" {
		t.Fatalf("unexpected admin context %+v", d.Admin)
	}

	stored, err := sessions.Get(ctx, s.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if stored.AdminArea != "North" {
		t.Fatalf("area not recorded in session: %+v", stored)
	}
}

func TestGuardDeniesAfterSignOut(t *testing.T) {
	g, p, _ := newGuard(t)
	s := signedIn(t, p, "north@vitalwatch.test", "north-pass")
	if err := p.SignOut(context.Background(), s.Token); err != nil {
		t.Fatalf("sign out: %v", err)
	}
	if d := g.Authorize(context.Background(), s); d.Allowed {
		t.Fatal("revoked token still authorized")
	}
}
