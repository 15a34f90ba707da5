package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrSessionNotFound = errors.New("session not found")

// Session is the server-side state behind the session cookie. PatientAadhaar
// only pre-fills the self-service dashboard and grants nothing.
type Session struct {
	ID             string    `json:"id"`
	UID            string    `json:"uid,omitempty"`
	Email          string    `json:"email,omitempty"`
	Token          string    `json:"token,omitempty"`
	AdminArea      string    `json:"admin_area,omitempty"`
	PatientAadhaar string    `json:"patient_aadhaar,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// NewSession returns an empty session with a fresh id.
func NewSession() Session {
	return Session{ID: uuid.NewString(), CreatedAt: time.Now().UTC()}
}

// ClearAdmin drops everything the admin sign-in put into the session.
func (s *Session) ClearAdmin() {
	s.UID = ""
	s.Email = ""
	s.Token = ""
	s.AdminArea = ""
}

type SessionStore interface {
	Get(ctx context.Context, id string) (Session, error)
	Save(ctx context.Context, s Session) error
	Delete(ctx context.Context, id string) error
}

// RedisSessions keeps sessions as JSON values that expire with the session.
type RedisSessions struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

func NewRedisSessions(client *redis.Client, ttl time.Duration) *RedisSessions {
	return &RedisSessions{client: client, ttl: ttl, prefix: "vitalwatch:session:"}
}

func (r *RedisSessions) key(id string) string {
	return r.prefix + id
}

func (r *RedisSessions) Get(ctx context.Context, id string) (Session, error) {
	if id == "" {
		return Session{}, ErrSessionNotFound
	}
	raw, err := r.client.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("reading session: %w", err)
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return Session{}, fmt.Errorf("decoding session: %w", err)
	}
	return s, nil
}

func (r *RedisSessions) Save(ctx context.Context, s Session) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key(s.ID), raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("writing session: %w", err)
	}
	return nil
}

func (r *RedisSessions) Delete(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, r.key(id)).Err(); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// MemorySessions is the development and test session store.
type MemorySessions struct {
	mu       sync.Mutex
	ttl      time.Duration
	nowFunc  func() time.Time
	sessions map[string]memorySession
}

type memorySession struct {
	session Session
	expires time.Time
}

func NewMemorySessions(ttl time.Duration) *MemorySessions {
	return &MemorySessions{ttl: ttl, nowFunc: time.Now, sessions: map[string]memorySession{}}
}

func (m *MemorySessions) Get(ctx context.Context, id string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.sessions[id]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	if m.ttl > 0 && m.nowFunc().After(entry.expires) {
		delete(m.sessions, id)
		return Session{}, ErrSessionNotFound
	}
	return entry.session, nil
}

func (m *MemorySessions) Save(ctx context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = memorySession{session: s, expires: m.nowFunc().Add(m.ttl)}
	return nil
}

func (m *MemorySessions) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}
