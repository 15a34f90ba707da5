package identity

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/vitalwatch/platform/pkg/common/logger"
	"github.com/vitalwatch/platform/pkg/common/models"
	"github.com/vitalwatch/platform/pkg/realtime"
)

// Denial reasons, used for logging and metrics only. Visitors never see them.
const (
	ReasonNoPrincipal        = "no_principal"
	ReasonInvalidSession     = "invalid_session"
	ReasonProfileUnavailable = "profile_unavailable"
	ReasonNotAdmin           = "not_admin"
)

type Decision struct {
	Allowed bool
	Reason  string
	Admin   AdminContext
}

// ProfileReader loads the access profile stored for a principal.
type ProfileReader interface {
	Profile(ctx context.Context, uid string) (models.AdminProfile, bool, error)
}

// StoreProfiles reads profiles from users/{uid} in the realtime store.
type StoreProfiles struct {
	Store realtime.Store
}

func (p StoreProfiles) Profile(ctx context.Context, uid string) (models.AdminProfile, bool, error) {
	path, err := realtime.Join("users", uid)
	if err != nil || !realtime.ValidKey(uid) {
		return models.AdminProfile{}, false, fmt.Errorf("profile path for %q: %w", uid, realtime.ErrInvalidPath)
	}
	var profile models.AdminProfile
	found, err := p.Store.Get(ctx, path, &profile)
	if err != nil {
		return models.AdminProfile{}, false, err
	}
	return profile, found, nil
}

// Guard decides whether a session belongs to an administrator.
type Guard struct {
	provider Provider
	profiles ProfileReader
	sessions SessionStore
}

func NewGuard(provider Provider, profiles ProfileReader, sessions SessionStore) *Guard {
	return &Guard{provider: provider, profiles: profiles, sessions: sessions}
}

// Authorize resolves the session to an admin decision. Any failure along
// the way, including a transient profile fetch error, is a denial. On grant
// the admin's area is recorded in the session.
func (g *Guard) Authorize(ctx context.Context, sess *Session) Decision {
	if sess == nil || sess.Token == "" {
		return Decision{Reason: ReasonNoPrincipal}
	}
	log := logger.WithFields(logrus.Fields{"session_id": sess.ID})

	principal, err := g.provider.Verify(ctx, sess.Token)
	if err != nil {
		log.WithError(err).Debug("Session token rejected")
		return Decision{Reason: ReasonInvalidSession}
	}

	profile, found, err := g.profiles.Profile(ctx, principal.UID)
	if err != nil {
		log.WithError(err).WithField("uid", principal.UID).Warn("Admin profile fetch failed")
		return Decision{Reason: ReasonProfileUnavailable}
	}
	if !found {
		return Decision{Reason: ReasonProfileUnavailable}
	}
	if !profile.IsAdmin() {
		return Decision{Reason: ReasonNotAdmin}
	}

	if sess.AdminArea != profile.Area || sess.UID != principal.UID {
		sess.UID = principal.UID
		sess.Email = principal.Email
		sess.AdminArea = profile.Area
		if g.sessions != nil {
			if err := g.sessions.Save(ctx, *sess); err != nil {
				log.WithError(err).Warn("Failed to record admin area in session")
			}
		}
	}

	return Decision{
		Allowed: true,
		Admin:   AdminContext{UID: principal.UID, Email: principal.Email, Area: profile.Area},
	}
}
