package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"slices"
	"strings"
	"time"
)

const (
	cookieName = "mailstash_session"
)

var (
	ErrInvalidSession = errors.New("invalid session token")
	ErrExpired        = errors.New("session expired")
)

// Session lists the remote account ids the browser has logged into.
type Session struct {
	Accounts []string `json:"accounts"`
	IssuedAt int64    `json:"iat"`
}

func (s Session) Has(id string) bool {
	return slices.Contains(s.Accounts, id)
}

// With returns a copy of s that also holds id.
func (s Session) With(id string) Session {
	accounts := slices.Clone(s.Accounts)
	if !slices.Contains(accounts, id) {
		accounts = append(accounts, id)
	}
	return Session{Accounts: accounts, IssuedAt: s.IssuedAt}
}

// Without returns a copy of s that no longer holds id.
func (s Session) Without(id string) Session {
	accounts := slices.DeleteFunc(slices.Clone(s.Accounts), func(a string) bool { return a == id })
	return Session{Accounts: accounts, IssuedAt: s.IssuedAt}
}

type Manager struct {
	secret []byte
	maxAge time.Duration
}

func New(secret string, maxAge time.Duration) (*Manager, error) {
	if strings.TrimSpace(secret) == "" {
		generated := make([]byte, 32)
		if _, err := rand.Read(generated); err != nil {
			return nil, fmt.Errorf("generate auth secret: %w", err)
		}
		secret = base64.RawURLEncoding.EncodeToString(generated)
	}
	return &Manager{secret: []byte(secret), maxAge: maxAge}, nil
}

func (m *Manager) CookieName() string {
	return cookieName
}

func (m *Manager) MaxAge() time.Duration {
	return m.maxAge
}

// Issue signs a session for accounts, stamped with now.
func (m *Manager) Issue(accounts []string, now time.Time) (string, error) {
	if len(accounts) == 0 {
		return "", errors.New("at least one account is required")
	}
	payload, err := json.Marshal(Session{Accounts: accounts, IssuedAt: now.Unix()})
	if err != nil {
		return "", fmt.Errorf("encode session: %w", err)
	}
	encoded := base64.RawURLEncoding.EncodeToString(payload)
	return encoded + "." + m.sign(encoded), nil
}

func (m *Manager) Parse(token string, now time.Time) (Session, error) {
	encoded, sig, ok := strings.Cut(token, ".")
	if !ok || !m.verify(encoded, sig) {
		return Session{}, ErrInvalidSession
	}
	payload, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return Session{}, ErrInvalidSession
	}
	var session Session
	if err := json.Unmarshal(payload, &session); err != nil || len(session.Accounts) == 0 {
		return Session{}, ErrInvalidSession
	}
	if now.Sub(time.Unix(session.IssuedAt, 0)) > m.maxAge {
		return Session{}, ErrExpired
	}
	return session, nil
}

// NormalizeAddress lower-cases an email address and checks its syntax.
func NormalizeAddress(address string) (string, error) {
	trimmed := strings.TrimSpace(strings.ToLower(address))
	if trimmed == "" {
		return "", errors.New("address is required")
	}
	addr, err := mail.ParseAddress(trimmed)
	if err != nil {
		return "", errors.New("address must be valid")
	}
	return strings.ToLower(addr.Address), nil
}

func (m *Manager) sign(payload string) string {
	mac := hmac.New(sha256.New, m.secret)
	mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func (m *Manager) verify(payload, signature string) bool {
	expected := m.sign(payload)
	return hmac.Equal([]byte(expected), []byte(signature))
}
