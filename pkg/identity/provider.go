// Package identity authenticates administrators against the identity
// provider, keeps server-side sessions and decides admin access.
package identity

import (
	"context"
	"errors"
	"time"
)

var (
	ErrInvalidSession = errors.New("session token rejected")
	ErrNoPrincipal    = errors.New("no authenticated principal")
)

// Principal is the authenticated account behind a session.
type Principal struct {
	UID   string
	Email string
}

// Credential is what a successful sign-in hands back for storage in the session.
type Credential struct {
	Principal Principal
	Token     string
	ExpiresAt time.Time
}

// Provider exchanges email and password for a session token and verifies
// tokens on later requests.
type Provider interface {
	SignIn(ctx context.Context, email, password string) (Credential, error)
	Verify(ctx context.Context, token string) (Principal, error)
	SignOut(ctx context.Context, token string) error
}

// SignInError carries the provider's message, which is shown to the user as-is.
type SignInError struct {
	Message string
}

func (e *SignInError) Error() string {
	return e.Message
}

// SignInMessage extracts the user-facing message of a failed sign-in.
func SignInMessage(err error) (string, bool) {
	var se *SignInError
	if errors.As(err, &se) {
		return se.Message, true
	}
	return "", false
}
