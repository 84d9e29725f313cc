package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var errInvalidValue = errors.New("invalid cookie value")

// Codec signs and verifies cookie values. A value is an HS256 JWT whose
// subject carries the payload and whose audience is the cookie name, so a
// value signed for one cookie cannot be replayed in another.
type Codec struct {
	secret []byte
	now    func() time.Time
}

func NewCodec(secret []byte) *Codec {
	return &Codec{secret: secret, now: time.Now}
}

// WithClock replaces the codec clock. Used by tests.
func (c *Codec) WithClock(now func() time.Time) *Codec {
	c.now = now
	return c
}

// Encode signs value for the named cookie, valid for ttl.
func (c *Codec) Encode(name, value string, ttl time.Duration) (string, error) {
	now := c.now()
	claims := jwt.RegisteredClaims{
		Subject:   value,
		Audience:  jwt.ClaimStrings{name},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign %s cookie: %w", name, err)
	}
	return signed, nil
}

// Decode verifies a cookie value and returns its payload.
func (c *Codec) Decode(name, raw string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims,
		func(*jwt.Token) (any, error) { return c.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(name),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %w", errInvalidValue, err)
	}
	if claims.Subject == "" {
		return "", errInvalidValue
	}
	return claims.Subject, nil
}
