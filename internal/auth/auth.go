// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// =============================================================================
// CONSTANTS AND ERRORS
// =============================================================================

const (
	// CookieName is the session cookie set by a successful login.
	CookieName = "pb_session"

	// DefaultTTL is the session lifetime when none is configured.
	DefaultTTL = 24 * time.Hour

	// tokenBytes is the amount of randomness in a session token.
	tokenBytes = 32
)

var (
	// ErrInvalidCredentials is returned for an unknown user or wrong password.
	ErrInvalidCredentials = errors.New("invalid username or password")

	// ErrUnauthenticated is returned for a missing, unknown or expired token.
	ErrUnauthenticated = errors.New("not authenticated")
)

// dummyHash is compared against when the user does not exist so a miss
// costs the same as a wrong password.
var dummyHash = []byte("$2a$10$7EqJtq98hPqEX7fNZaFWoOhi5BWX4Z3aLbWUI/SUq8cg6Ol/1gE3e")

// =============================================================================
// AUTHENTICATOR
// =============================================================================

// Config configures an Authenticator.
type Config struct {
	// Enabled turns authentication on. When false every request passes.
	Enabled bool

	// UsersFile is the path of the JSON users file.
	UsersFile string

	// TTL is the session lifetime (default: 24h).
	TTL time.Duration
}

type session struct {
	user    string
	expires time.Time
}

// Authenticator checks credentials and tracks issued tokens.
type Authenticator struct {
	enabled   bool
	usersFile string
	ttl       time.Duration
	now       func() time.Time

	mu       sync.RWMutex
	users    Users
	sessions map[string]session
}

// New creates an Authenticator. When enabled, the users file is loaded and
// must be valid.
func New(cfg Config) (*Authenticator, error) {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	a := &Authenticator{
		enabled:   cfg.Enabled,
		usersFile: cfg.UsersFile,
		ttl:       cfg.TTL,
		now:       time.Now,
		users:     Users{},
		sessions:  make(map[string]session),
	}
	if !cfg.Enabled {
		return a, nil
	}
	if cfg.UsersFile == "" {
		return nil, errors.New("auth enabled but no users file configured")
	}
	users, err := LoadUsers(cfg.UsersFile)
	if err != nil {
		return nil, err
	}
	a.users = users
	return a, nil
}

// Disabled returns an Authenticator that lets everything through.
func Disabled() *Authenticator {
	a, _ := New(Config{})
	return a
}

// NewWithUsers creates an enabled Authenticator over an in-memory user set.
func NewWithUsers(users Users, ttl time.Duration) *Authenticator {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Authenticator{
		enabled:  true,
		ttl:      ttl,
		now:      time.Now,
		users:    users,
		sessions: make(map[string]session),
	}
}

// Enabled reports whether requests must carry a valid token.
func (a *Authenticator) Enabled() bool {
	return a.enabled
}

// TTL returns the session lifetime.
func (a *Authenticator) TTL() time.Duration {
	return a.ttl
}

// SetUsers replaces the user set. Existing sessions of removed users are
// revoked.
func (a *Authenticator) SetUsers(users Users) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.users = users
	for token, s := range a.sessions {
		if _, ok := users[s.user]; !ok {
			delete(a.sessions, token)
		}
	}
}

// UserCount returns the number of known users.
func (a *Authenticator) UserCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.users)
}

// =============================================================================
// LOGIN / LOGOUT
// =============================================================================

// Login checks the password and issues a token.
func (a *Authenticator) Login(username, password string) (string, time.Time, error) {
	a.mu.RLock()
	user, ok := a.users[username]
	a.mu.RUnlock()

	hash := dummyHash
	if ok {
		hash = []byte(user.PasswordHash)
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil || !ok {
		return "", time.Time{}, ErrInvalidCredentials
	}

	token, err := newToken()
	if err != nil {
		return "", time.Time{}, err
	}
	now := a.now()
	expires := now.Add(a.ttl)

	a.mu.Lock()
	a.sweep(now)
	a.sessions[token] = session{user: username, expires: expires}
	a.mu.Unlock()

	return token, expires, nil
}

// Logout revokes token. Unknown tokens are ignored.
func (a *Authenticator) Logout(token string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.sessions, token)
}

// Lookup returns the user owning token.
func (a *Authenticator) Lookup(token string) (string, error) {
	if token == "" {
		return "", ErrUnauthenticated
	}
	a.mu.RLock()
	s, ok := a.sessions[token]
	a.mu.RUnlock()
	if !ok {
		return "", ErrUnauthenticated
	}
	if !a.now().Before(s.expires) {
		a.Logout(token)
		return "", ErrUnauthenticated
	}
	return s.user, nil
}

// sweep drops expired sessions. Caller holds a.mu.
func (a *Authenticator) sweep(now time.Time) {
	for token, s := range a.sessions {
		if !now.Before(s.expires) {
			delete(a.sessions, token)
		}
	}
}

func newToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// =============================================================================
// REQUEST HELPERS
// =============================================================================

// TokenFromRequest returns the bearer token, or the session cookie value.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	if c, err := r.Cookie(CookieName); err == nil {
		return c.Value
	}
	return ""
}

type ctxKey struct{}

// WithUser returns a context carrying the authenticated user.
func WithUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, ctxKey{}, user)
}

// UserFromContext returns the user stored by WithUser.
func UserFromContext(ctx context.Context) (string, bool) {
	user, ok := ctx.Value(ctxKey{}).(string)
	return user, ok && user != ""
}

// SessionCookie builds the cookie set on login. An empty token with a zero
// expiry clears it.
func SessionCookie(token string, expires time.Time) *http.Cookie {
	c := &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	if token == "" {
		c.MaxAge = -1
	} else {
		c.Expires = expires
	}
	return c
}
