package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"firebase.google.com/go/v4/auth"
	"github.com/vitalwatch/platform/pkg/gateway/httpclient"
	"golang.org/x/oauth2"
)

// FirebaseProvider signs administrators in with the Identity Toolkit
// password endpoint and keeps them signed in with Firebase session cookies.
type FirebaseProvider struct {
	auth       *auth.Client
	httpClient *http.Client
	baseURL    string
	apiKey     string
	sessionTTL time.Duration
}

type FirebaseOptions struct {
	APIKey     string
	BaseURL    string
	SessionTTL time.Duration
	Timeout    time.Duration
}

func NewFirebaseProvider(client *auth.Client, opts FirebaseOptions) (*FirebaseProvider, error) {
	if client == nil {
		return nil, errors.New("firebase auth client required")
	}
	if opts.APIKey == "" {
		return nil, errors.New("firebase web API key required for password sign-in")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = "https://identitytoolkit.googleapis.com/v1"
	}
	// Firebase accepts session cookies between 5 minutes and 2 weeks.
	ttl := opts.SessionTTL
	if ttl < 5*time.Minute {
		ttl = 5 * time.Minute
	}
	if ttl > 14*24*time.Hour {
		ttl = 14 * 24 * time.Hour
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &FirebaseProvider{
		auth:       client,
		httpClient: httpclient.New(opts.Timeout),
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		apiKey:     opts.APIKey,
		sessionTTL: ttl,
	}, nil
}

type passwordSignInRequest struct {
	Email             string `json:"email"`
	Password          string `json:"password"`
	ReturnSecureToken bool   `json:"returnSecureToken"`
}

type passwordSignInResponse struct {
	LocalID      string `json:"localId"`
	Email        string `json:"email"`
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    string `json:"expiresIn"`
}

type identityToolkitError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (p *FirebaseProvider) SignIn(ctx context.Context, email, password string) (Credential, error) {
	principal, tok, err := p.passwordSignIn(ctx, email, password)
	if err != nil {
		return Credential{}, err
	}

	cookie, err := p.auth.SessionCookie(ctx, tok.AccessToken, p.sessionTTL)
	if err != nil {
		return Credential{}, fmt.Errorf("creating session cookie: %w", err)
	}
	return Credential{
		Principal: principal,
		Token:     cookie,
		ExpiresAt: time.Now().Add(p.sessionTTL),
	}, nil
}

// passwordSignIn returns the ID token as an oauth2 token so expiry handling
// matches the rest of the Google client stack.
func (p *FirebaseProvider) passwordSignIn(ctx context.Context, email, password string) (Principal, *oauth2.Token, error) {
	body, err := json.Marshal(passwordSignInRequest{Email: email, Password: password, ReturnSecureToken: true})
	if err != nil {
		return Principal{}, nil, err
	}

	endpoint := p.baseURL + "/accounts:signInWithPassword?key=" + url.QueryEscape(p.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Principal{}, nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Principal{}, nil, fmt.Errorf("password sign-in: %w", err)
	}
	defer resp.Body.Close()

	if err := httpclient.CheckResponse(resp); err != nil {
		var statusErr *httpclient.StatusError
		if errors.As(err, &statusErr) {
			var apiErr identityToolkitError
			if json.Unmarshal(statusErr.Body, &apiErr) == nil && apiErr.Error.Message != "" {
				return Principal{}, nil, &SignInError{Message: apiErr.Error.Message}
			}
		}
		return Principal{}, nil, fmt.Errorf("password sign-in: %w", err)
	}

	var out passwordSignInResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Principal{}, nil, fmt.Errorf("decoding sign-in response: %w", err)
	}
	if out.IDToken == "" || out.LocalID == "" {
		return Principal{}, nil, errors.New("sign-in response missing token")
	}

	tok := &oauth2.Token{
		AccessToken:  out.IDToken,
		TokenType:    "Bearer",
		RefreshToken: out.RefreshToken,
	}
	if secs, err := strconv.Atoi(out.ExpiresIn); err == nil {
		tok.Expiry = time.Now().Add(time.Duration(secs) * time.Second)
	}
	return Principal{UID: out.LocalID, Email: out.Email}, tok, nil
}

func (p *FirebaseProvider) Verify(ctx context.Context, token string) (Principal, error) {
	if token == "" {
		return Principal{}, ErrNoPrincipal
	}
	decoded, err := p.auth.VerifySessionCookieAndCheckRevoked(ctx, token)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	email, _ := decoded.Claims["email"].(string)
	return Principal{UID: decoded.UID, Email: email}, nil
}

// SignOut revokes the refresh tokens of the account behind token, which
// also invalidates every session cookie minted for it.
func (p *FirebaseProvider) SignOut(ctx context.Context, token string) error {
	decoded, err := p.auth.VerifySessionCookie(ctx, token)
	if err != nil {
		// already unusable
		return nil
	}
	if err := p.auth.RevokeRefreshTokens(ctx, decoded.UID); err != nil {
		return fmt.Errorf("revoking refresh tokens: %w", err)
	}
	return nil
}
