// Package session binds a browser to a trading login through signed,
// client-held cookies. There is no server-side session table.
package session

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dukerupert/brokerdesk/internal/apperr"
	"github.com/dukerupert/brokerdesk/internal/token"
)

const (
	CookieSession    = "session"
	CookieOTPEmail   = "otp_email"
	CookieOTPLogin   = "otp_login"
	CookieOTPHash    = "otp_hash"
	CookieOTPExpires = "otp_expires"

	SessionTTL = 24 * time.Hour
)

var otpCookies = []string{CookieOTPEmail, CookieOTPLogin, CookieOTPHash, CookieOTPExpires}

// Manager reads and writes the session and OTP cookies.
type Manager struct {
	codec *Codec
}

func NewManager(codec *Codec) *Manager {
	return &Manager{codec: codec}
}

// IsSecure reports whether the request reached us over TLS, either directly
// or through a proxy that set X-Forwarded-Proto.
func IsSecure(r *http.Request) bool {
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		return strings.EqualFold(strings.TrimSpace(strings.Split(proto, ",")[0]), "https")
	}
	return r.TLS != nil || r.URL.Scheme == "https"
}

// Issue sets the session cookie for login. Expiry is fixed at issuance.
func (m *Manager) Issue(w http.ResponseWriter, r *http.Request, login string) error {
	return m.set(w, r, CookieSession, login, SessionTTL)
}

// Clear expires the named cookie immediately.
func (m *Manager) Clear(w http.ResponseWriter, r *http.Request, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   IsSecure(r),
	})
}

// CurrentLogin returns the login bound to the request's session cookie.
// A missing, tampered or expired cookie is ErrUnauthorized.
func (m *Manager) CurrentLogin(r *http.Request) (string, error) {
	login, ok := m.read(r, CookieSession)
	if !ok {
		return "", apperr.ErrUnauthorized
	}
	return login, nil
}

// SetChallenge stores an OTP challenge in the four OTP cookies. The plaintext
// code is never written.
func (m *Manager) SetChallenge(w http.ResponseWriter, r *http.Request, c token.Challenge) error {
	values := map[string]string{
		CookieOTPEmail:   c.Email,
		CookieOTPLogin:   c.Login,
		CookieOTPHash:    c.Hash,
		CookieOTPExpires: c.ExpiresAt.UTC().Format(time.RFC3339),
	}
	for _, name := range otpCookies {
		if err := m.set(w, r, name, values[name], token.OTPTTL); err != nil {
			return err
		}
	}
	return nil
}

// ReadChallenge reconstructs the outstanding challenge. Any missing or
// invalid cookie means there is no usable challenge.
func (m *Manager) ReadChallenge(r *http.Request) (token.Challenge, error) {
	values := make(map[string]string, len(otpCookies))
	for _, name := range otpCookies {
		v, ok := m.read(r, name)
		if !ok {
			return token.Challenge{}, apperr.New(apperr.ErrExpired, "OTP session expired. Please login again.")
		}
		values[name] = v
	}
	expiresAt, err := time.Parse(time.RFC3339, values[CookieOTPExpires])
	if err != nil {
		return token.Challenge{}, apperr.New(apperr.ErrExpired, "OTP session expired. Please login again.")
	}
	return token.Challenge{
		Email:     values[CookieOTPEmail],
		Login:     values[CookieOTPLogin],
		Hash:      values[CookieOTPHash],
		ExpiresAt: expiresAt,
	}, nil
}

// ClearChallenge expires all four OTP cookies together.
func (m *Manager) ClearChallenge(w http.ResponseWriter, r *http.Request) {
	for _, name := range otpCookies {
		m.Clear(w, r, name)
	}
}

func (m *Manager) set(w http.ResponseWriter, r *http.Request, name, value string, ttl time.Duration) error {
	encoded, err := m.codec.Encode(name, value, ttl)
	if err != nil {
		return fmt.Errorf("set cookie: %w", err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    encoded,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   IsSecure(r),
	})
	return nil
}

func (m *Manager) read(r *http.Request, name string) (string, bool) {
	cookie, err := r.Cookie(name)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	v, err := m.codec.Decode(name, cookie.Value)
	if err != nil {
		return "", false
	}
	return v, true
}
