package identity

import "context"

type contextKey string

const (
	adminContextKey   contextKey = "admin"
	sessionContextKey contextKey = "session"
)

// AdminContext is what admin screens know about the signed-in administrator.
type AdminContext struct {
	UID   string
	Email string
	Area  string
}

func WithAdmin(ctx context.Context, admin AdminContext) context.Context {
	return context.WithValue(ctx, adminContextKey, admin)
}

func AdminFrom(ctx context.Context) (AdminContext, bool) {
	admin, ok := ctx.Value(adminContextKey).(AdminContext)
	return admin, ok
}

func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey, s)
}

func SessionFrom(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(sessionContextKey).(*Session)
	return s, ok && s != nil
}
