package middleware

import (
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/vitalwatch/platform/pkg/common/logger"
	"github.com/vitalwatch/platform/pkg/identity"
	"github.com/vitalwatch/platform/pkg/observability/metrics"
)

// LoginPath is where unauthorized admin requests are sent.
const LoginPath = "/login"

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps event streams working through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		// Ensure a request ID exists
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.New().String()
		}

		r.Header.Set("X-Request-ID", reqID)
		w.Header().Set("X-Request-ID", reqID)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		logger.Log.WithFields(map[string]interface{}{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      rec.status,
			"remote_addr": r.RemoteAddr,
			"request_id":  reqID,
			"duration":    time.Since(start).Milliseconds(),
		}).Info("HTTP request")
	})
}

func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				logger.Log.WithField("error", err).Error("Panic recovered")
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// CORS allows the configured origins to call the form endpoints.
func CORS(origins []string) func(http.Handler) http.Handler {
	return handlers.CORS(
		handlers.AllowedOrigins(origins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", "X-Request-ID"}),
		handlers.AllowCredentials(),
	)
}

// SessionCookie describes the cookie that carries the session id.
type SessionCookie struct {
	Name   string
	Secure bool
	TTL    time.Duration
}

func (c SessionCookie) Write(w http.ResponseWriter, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.Name,
		Value:    id,
		Path:     "/",
		MaxAge:   int(c.TTL.Seconds()),
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (c SessionCookie) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.Name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Sessions loads the session named by the cookie into the request context.
// Visitors without a stored session get a fresh, unsaved one.
func Sessions(store identity.SessionStore, cookie SessionCookie) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var sess identity.Session
			if c, err := r.Cookie(cookie.Name); err == nil && c.Value != "" {
				loaded, err := store.Get(r.Context(), c.Value)
				if err == nil {
					sess = loaded
				} else if !errors.Is(err, identity.ErrSessionNotFound) {
					logger.Log.WithError(err).Warn("Session lookup failed")
				}
			}
			if sess.ID == "" {
				sess = identity.NewSession()
			}
			next.ServeHTTP(w, r.WithContext(identity.WithSession(r.Context(), &sess)))
		})
	}
}

// RequireAdmin lets a request through only when the guard grants the
// session admin access, placing the AdminContext into the request context.
// Everyone else is redirected to the login page without explanation.
func RequireAdmin(guard *identity.Guard) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, _ := identity.SessionFrom(r.Context())
			decision := guard.Authorize(r.Context(), sess)
			if !decision.Allowed {
				metrics.SessionDenied()
				logger.Log.WithFields(map[string]interface{}{
					"path":   r.URL.Path,
					"reason": decision.Reason,
				}).Debug("Admin access denied")
				http.Redirect(w, r, LoginPath, http.StatusFound)
				return
			}
			metrics.SessionAllowed()
			next.ServeHTTP(w, r.WithContext(identity.WithAdmin(r.Context(), decision.Admin)))
		})
	}
}

// RateLimit is a token-bucket limiter with one bucket per client address
// (per-process). Buckets idle for longer than idleBucket are dropped.
func RateLimit(rps int, burst int) func(http.Handler) http.Handler {
	type bucket struct {
		tokens int
		last   time.Time
	}
	var (
		mu      sync.Mutex
		buckets = map[string]*bucket{}
		swept   = time.Now()
	)
	take := func(client string, now time.Time) bool {
		mu.Lock()
		defer mu.Unlock()

		if now.Sub(swept) > idleBucket {
			for k, b := range buckets {
				if now.Sub(b.last) > idleBucket {
					delete(buckets, k)
				}
			}
			swept = now
		}

		b, ok := buckets[client]
		if !ok {
			b = &bucket{tokens: burst, last: now}
			buckets[client] = b
		}
		add := int(now.Sub(b.last).Seconds() * float64(rps))
		if add > 0 {
			b.tokens += add
			if b.tokens > burst {
				b.tokens = burst
			}
			b.last = now
		}
		if b.tokens <= 0 {
			return false
		}
		b.tokens--
		return true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// only form submissions count against the budget
			if r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}
			if !take(clientAddr(r), time.Now()) {
				logger.Log.WithField("client", clientAddr(r)).Warn("Login rate limit exceeded")
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

const idleBucket = 10 * time.Minute

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func BodyLimit(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}
