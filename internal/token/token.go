// Package token issues and validates email verification tokens and one-time
// login codes.
package token

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/dukerupert/brokerdesk/internal/apperr"
	"github.com/dukerupert/brokerdesk/internal/model"
)

const (
	VerificationTTL = 24 * time.Hour
	OTPTTL          = 5 * time.Minute
)

var otpSpace = big.NewInt(1_000_000)

// Verification is a freshly issued email verification token.
type Verification struct {
	Token     string
	ExpiresAt time.Time
}

// IssueVerificationToken returns a 256-bit random hex token valid for 24h.
func IssueVerificationToken(now time.Time) (Verification, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return Verification{}, fmt.Errorf("generate verification token: %w", err)
	}
	return Verification{Token: hex.EncodeToString(b), ExpiresAt: now.Add(VerificationTTL).UTC()}, nil
}

// ValidateVerification checks a record looked up by token. ErrAlreadyConsumed
// means the email was verified earlier; callers treat that as success.
func ValidateVerification(rec *model.Signup, now time.Time) error {
	if rec == nil {
		return apperr.ErrNotFound
	}
	if !now.Before(rec.TokenExpiresAt) {
		return apperr.New(apperr.ErrExpired, "Verification link has expired.")
	}
	if rec.EmailVerifiedAt != nil {
		return apperr.ErrAlreadyConsumed
	}
	return nil
}

// Challenge is an outstanding OTP. Code is the plaintext sent by email and is
// never stored; only Hash and ExpiresAt travel in cookies.
type Challenge struct {
	Email     string
	Login     string
	Code      string
	Hash      string
	ExpiresAt time.Time
}

// IssueOTP returns a uniformly random six digit code valid for 5 minutes.
func IssueOTP(now time.Time) (Challenge, error) {
	n, err := rand.Int(rand.Reader, otpSpace)
	if err != nil {
		return Challenge{}, fmt.Errorf("generate otp: %w", err)
	}
	code := fmt.Sprintf("%06d", n.Int64())
	return Challenge{Code: code, Hash: HashCode(code), ExpiresAt: now.Add(OTPTTL).UTC()}, nil
}

// HashCode returns the hex SHA-256 of code.
func HashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

// ValidateOTP checks a submitted code against the challenge hash.
func ValidateOTP(code, hash string, expiresAt, now time.Time) error {
	if !now.Before(expiresAt) {
		return apperr.New(apperr.ErrExpired, "OTP expired")
	}
	if subtle.ConstantTimeCompare([]byte(HashCode(code)), []byte(hash)) != 1 {
		return apperr.New(apperr.ErrMismatch, "Invalid OTP")
	}
	return nil
}

// EncodePassword carries a plaintext password in a verification link.
func EncodePassword(password string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(password))
}

// DecodePassword reverses EncodePassword. Padded input is accepted.
func DecodePassword(encoded string) (string, error) {
	for len(encoded) > 0 && encoded[len(encoded)-1] == '=' {
		encoded = encoded[:len(encoded)-1]
	}
	b, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", apperr.New(apperr.ErrValidation, "Invalid verification link.")
	}
	return string(b), nil
}
