package session

import (
	"crypto/tls"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dukerupert/brokerdesk/internal/apperr"
	"github.com/dukerupert/brokerdesk/internal/token"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestManager(now *time.Time) *Manager {
	codec := NewCodec([]byte("test-secret")).WithClock(func() time.Time { return *now })
	return NewManager(codec)
}

// requestWith replays the cookies set on rec into a new request.
func requestWith(rec *httptest.ResponseRecorder) *http.Request {
	req := httptest.NewRequest("GET", "/", nil)
	for _, c := range rec.Result().Cookies() {
		if c.MaxAge >= 0 {
			req.AddCookie(c)
		}
	}
	return req
}

func findCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestIssueAndCurrentLogin(t *testing.T) {
	now := testNow
	m := newTestManager(&now)

	rec := httptest.NewRecorder()
	if err := m.Issue(rec, httptest.NewRequest("POST", "/", nil), "DEMO123"); err != nil {
		t.Fatalf("issue: %v", err)
	}

	c := findCookie(rec, CookieSession)
	if c == nil {
		t.Fatal("expected session cookie")
	}
	if !c.HttpOnly {
		t.Error("expected HttpOnly")
	}
	if c.SameSite != http.SameSiteLaxMode {
		t.Errorf("SameSite = %v, want Lax", c.SameSite)
	}
	if c.MaxAge != 86400 {
		t.Errorf("MaxAge = %d, want 86400", c.MaxAge)
	}
	if c.Secure {
		t.Error("expected Secure = false for plain HTTP")
	}

	login, err := m.CurrentLogin(requestWith(rec))
	if err != nil {
		t.Fatalf("current login: %v", err)
	}
	if login != "DEMO123" {
		t.Errorf("login = %q, want DEMO123", login)
	}
}

func TestCurrentLoginMissing(t *testing.T) {
	now := testNow
	m := newTestManager(&now)

	_, err := m.CurrentLogin(httptest.NewRequest("GET", "/", nil))
	if !errors.Is(err, apperr.ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}
}

func TestCurrentLoginTampered(t *testing.T) {
	now := testNow
	m := newTestManager(&now)

	// a raw login no longer passes as a session
	req := httptest.NewRequest("GET", "/", nil)
	req.AddCookie(&http.Cookie{Name: CookieSession, Value: "DEMO123"})
	if _, err := m.CurrentLogin(req); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Errorf("raw value err = %v, want ErrUnauthorized", err)
	}

	// signed with another secret
	other := NewManager(NewCodec([]byte("other-secret")).WithClock(func() time.Time { return now }))
	rec := httptest.NewRecorder()
	other.Issue(rec, httptest.NewRequest("POST", "/", nil), "DEMO123")
	if _, err := m.CurrentLogin(requestWith(rec)); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Errorf("foreign signature err = %v, want ErrUnauthorized", err)
	}
}

func TestCurrentLoginExpired(t *testing.T) {
	now := testNow
	m := newTestManager(&now)

	rec := httptest.NewRecorder()
	m.Issue(rec, httptest.NewRequest("POST", "/", nil), "DEMO123")

	now = testNow.Add(SessionTTL + time.Second)
	if _, err := m.CurrentLogin(requestWith(rec)); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}
}

func TestCookieNotReusableUnderOtherName(t *testing.T) {
	now := testNow
	m := newTestManager(&now)

	rec := httptest.NewRecorder()
	m.SetChallenge(rec, httptest.NewRequest("POST", "/", nil), token.Challenge{
		Email: "a@x.com", Login: "DEMO123", Hash: "h", ExpiresAt: testNow.Add(5 * time.Minute),
	})

	req := httptest.NewRequest("GET", "/", nil)
	req.AddCookie(&http.Cookie{Name: CookieSession, Value: findCookie(rec, CookieOTPLogin).Value})
	if _, err := m.CurrentLogin(req); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}
}

func TestIsSecure(t *testing.T) {
	tests := []struct {
		name  string
		setup func(r *http.Request)
		want  bool
	}{
		{"plain", func(r *http.Request) {}, false},
		{"forwarded https", func(r *http.Request) { r.Header.Set("X-Forwarded-Proto", "https") }, true},
		{"forwarded list", func(r *http.Request) { r.Header.Set("X-Forwarded-Proto", "https, http") }, true},
		{"forwarded http over tls", func(r *http.Request) {
			r.Header.Set("X-Forwarded-Proto", "http")
			r.TLS = &tls.ConnectionState{}
		}, false},
		{"direct tls", func(r *http.Request) { r.TLS = &tls.ConnectionState{} }, true},
		{"https scheme", func(r *http.Request) { r.URL.Scheme = "https" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			tt.setup(r)
			if got := IsSecure(r); got != tt.want {
				t.Errorf("IsSecure = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIssueSecureBehindProxy(t *testing.T) {
	now := testNow
	m := newTestManager(&now)

	req := httptest.NewRequest("POST", "/", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	rec := httptest.NewRecorder()
	m.Issue(rec, req, "DEMO123")

	if c := findCookie(rec, CookieSession); c == nil || !c.Secure {
		t.Error("expected Secure session cookie")
	}
}

func TestChallengeRoundTrip(t *testing.T) {
	now := testNow
	m := newTestManager(&now)

	want := token.Challenge{
		Email:     "a@x.com",
		Login:     "DEMO123",
		Code:      "123456",
		Hash:      token.HashCode("123456"),
		ExpiresAt: testNow.Add(5 * time.Minute),
	}
	rec := httptest.NewRecorder()
	if err := m.SetChallenge(rec, httptest.NewRequest("POST", "/", nil), want); err != nil {
		t.Fatalf("set challenge: %v", err)
	}

	for _, name := range []string{CookieOTPEmail, CookieOTPLogin, CookieOTPHash, CookieOTPExpires} {
		c := findCookie(rec, name)
		if c == nil {
			t.Fatalf("missing cookie %s", name)
		}
		if c.MaxAge != 300 {
			t.Errorf("%s MaxAge = %d, want 300", name, c.MaxAge)
		}
	}
	if findCookie(rec, CookieSession) != nil {
		t.Error("expected no session cookie")
	}

	got, err := m.ReadChallenge(requestWith(rec))
	if err != nil {
		t.Fatalf("read challenge: %v", err)
	}
	if got.Email != want.Email || got.Login != want.Login || got.Hash != want.Hash {
		t.Errorf("challenge = %+v, want %+v", got, want)
	}
	if !got.ExpiresAt.Equal(want.ExpiresAt) {
		t.Errorf("expires = %v, want %v", got.ExpiresAt, want.ExpiresAt)
	}
	if got.Code != "" {
		t.Error("expected plaintext code not to round trip")
	}
}

func TestReadChallengeMissingCookie(t *testing.T) {
	now := testNow
	m := newTestManager(&now)

	rec := httptest.NewRecorder()
	m.SetChallenge(rec, httptest.NewRequest("POST", "/", nil), token.Challenge{
		Email: "a@x.com", Login: "DEMO123", Hash: "h", ExpiresAt: testNow.Add(5 * time.Minute),
	})

	req := httptest.NewRequest("GET", "/", nil)
	for _, c := range rec.Result().Cookies() {
		if c.Name != CookieOTPHash {
			req.AddCookie(c)
		}
	}
	if _, err := m.ReadChallenge(req); !errors.Is(err, apperr.ErrExpired) {
		t.Errorf("err = %v, want ErrExpired", err)
	}
}

func TestClearChallenge(t *testing.T) {
	now := testNow
	m := newTestManager(&now)

	rec := httptest.NewRecorder()
	m.ClearChallenge(rec, httptest.NewRequest("POST", "/", nil))

	cookies := rec.Result().Cookies()
	if len(cookies) != 4 {
		t.Fatalf("cookies = %d, want 4", len(cookies))
	}
	for _, c := range cookies {
		if c.MaxAge >= 0 {
			t.Errorf("%s MaxAge = %d, want < 0", c.Name, c.MaxAge)
		}
	}
}
