package identity

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

const devIssuer = "vitalwatch-dev"

// Messages mirror the identity toolkit error codes so the login form behaves
// the same in both modes.
const (
	msgInvalidCredentials = "INVALID_LOGIN_CREDENTIALS"
	msgInvalidEmail       = "INVALID_EMAIL"
	msgMissingPassword    = "MISSING_PASSWORD"
)

// DevAccount is a development login. Either PasswordHash (bcrypt) or a
// plaintext Password, hashed at load, must be present.
type DevAccount struct {
	UID          string `yaml:"uid"`
	Email        string `yaml:"email"`
	PasswordHash string `yaml:"password_hash"`
	Password     string `yaml:"password"`
}

// DevProvider authenticates fixture accounts and issues HS256 session tokens.
type DevProvider struct {
	signingKey []byte
	ttl        time.Duration
	nowFunc    func() time.Time

	accounts map[string]DevAccount

	mu      sync.Mutex
	revoked map[string]time.Time
}

type devClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

func NewDevProvider(secret string, ttl time.Duration, accounts []DevAccount) (*DevProvider, error) {
	if len(secret) < 16 {
		return nil, errors.New("dev token secret must be at least 16 characters")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	p := &DevProvider{
		signingKey: []byte(secret),
		ttl:        ttl,
		nowFunc:    time.Now,
		accounts:   make(map[string]DevAccount, len(accounts)),
		revoked:    map[string]time.Time{},
	}
	for _, acc := range accounts {
		acc.Email = strings.ToLower(strings.TrimSpace(acc.Email))
		if acc.Email == "" || acc.UID == "" {
			return nil, fmt.Errorf("dev account requires uid and email")
		}
		if acc.PasswordHash == "" {
			if acc.Password == "" {
				return nil, fmt.Errorf("dev account %s has no password", acc.Email)
			}
			hash, err := bcrypt.GenerateFromPassword([]byte(acc.Password), bcrypt.DefaultCost)
			if err != nil {
				return nil, err
			}
			acc.PasswordHash = string(hash)
		}
		acc.Password = ""
		p.accounts[acc.Email] = acc
	}
	return p, nil
}

// LoadDevAccounts reads the accounts section of a YAML fixture.
func LoadDevAccounts(path string) ([]DevAccount, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	var f struct {
		Accounts []DevAccount `yaml:"accounts"`
	}
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse fixture: %w", err)
	}
	return f.Accounts, nil
}

func (p *DevProvider) SignIn(ctx context.Context, email, password string) (Credential, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return Credential{}, &SignInError{Message: msgInvalidEmail}
	}
	if password == "" {
		return Credential{}, &SignInError{Message: msgMissingPassword}
	}
	acc, ok := p.accounts[email]
	if !ok || bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(password)) != nil {
		return Credential{}, &SignInError{Message: msgInvalidCredentials}
	}

	now := p.nowFunc()
	expires := now.Add(p.ttl)
	claims := devClaims{
		Email: acc.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    devIssuer,
			Subject:   acc.UID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.signingKey)
	if err != nil {
		return Credential{}, fmt.Errorf("signing session token: %w", err)
	}
	return Credential{
		Principal: Principal{UID: acc.UID, Email: acc.Email},
		Token:     token,
		ExpiresAt: expires,
	}, nil
}

func (p *DevProvider) parse(token string) (*devClaims, error) {
	claims := &devClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return p.signingKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(devIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.nowFunc),
	)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

func (p *DevProvider) Verify(ctx context.Context, token string) (Principal, error) {
	if token == "" {
		return Principal{}, ErrNoPrincipal
	}
	claims, err := p.parse(token)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}

	p.mu.Lock()
	_, revoked := p.revoked[claims.ID]
	p.mu.Unlock()
	if revoked {
		return Principal{}, fmt.Errorf("%w: token revoked", ErrInvalidSession)
	}
	return Principal{UID: claims.Subject, Email: claims.Email}, nil
}

// SignOut revokes the token until it would have expired anyway.
func (p *DevProvider) SignOut(ctx context.Context, token string) error {
	claims, err := p.parse(token)
	if err != nil {
		return nil
	}

	now := p.nowFunc()
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, exp := range p.revoked {
		if now.After(exp) {
			delete(p.revoked, id)
		}
	}
	p.revoked[claims.ID] = claims.ExpiresAt.Time
	return nil
}
