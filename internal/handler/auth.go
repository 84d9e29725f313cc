package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/dukerupert/brokerdesk/internal/apperr"
	"github.com/dukerupert/brokerdesk/internal/auth"
	"github.com/dukerupert/brokerdesk/internal/lifecycle"
	"github.com/dukerupert/brokerdesk/internal/session"
	"github.com/dukerupert/brokerdesk/internal/token"
)

type AuthHandler struct {
	lifecycle *lifecycle.Service
	sessions  *session.Manager
	logger    *slog.Logger
}

func NewAuthHandler(ls *lifecycle.Service, sm *session.Manager, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{lifecycle: ls, sessions: sm, logger: logger.With("component", "auth_handler")}
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var in lifecycle.RegisterInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, h.logger, err, "Registration failed.")
		return
	}
	in.Origin = r.Header.Get("Origin")

	if err := h.lifecycle.Register(r.Context(), in); err != nil {
		writeError(w, h.logger, err, "Registration failed.")
		return
	}
	writeOK(w, map[string]any{"message": "Verification email sent."})
}

type verifyRequest struct {
	Token           string `json:"token"`
	PasswordEncoded string `json:"passwordEncoded"`
	Password        string `json:"password"`
}

// Verify consumes a verification link. The password arrives either encoded
// from the link or retyped by the user.
func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err, "Verification failed.")
		return
	}
	encoded := req.PasswordEncoded
	if encoded == "" && req.Password != "" {
		encoded = token.EncodePassword(req.Password)
	}

	res, err := h.lifecycle.Verify(r.Context(), req.Token, encoded)
	if err != nil {
		writeError(w, h.logger, err, "Verification failed.")
		return
	}
	if res.AlreadyVerified {
		writeOK(w, map[string]any{"message": "Email already verified."})
		return
	}

	if err := h.sessions.Issue(w, r, res.DemoLogin); err != nil {
		writeError(w, h.logger, err, "Verification failed.")
		return
	}
	writeOK(w, map[string]any{
		"message":    "Email verified. Demo account created.",
		"demo_login": res.DemoLogin,
		"real_login": nil,
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login checks credentials and starts an OTP challenge. Any earlier
// challenge is replaced.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err, "Login failed.")
		return
	}

	ch, err := h.lifecycle.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, h.logger, err, "Login failed.")
		return
	}

	h.sessions.ClearChallenge(w, r)
	if err := h.sessions.SetChallenge(w, r, ch); err != nil {
		writeError(w, h.logger, err, "Login failed.")
		return
	}
	writeOK(w, map[string]any{"valid": true, "requireOtp": true, "email": ch.Email})
}

type otpRequest struct {
	Code string `json:"code"`
}

// VerifyOTP completes login. An expired challenge is cleared; a wrong code
// leaves it in place so the user can retry.
func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err, "OTP verification failed.")
		return
	}

	ch, err := h.sessions.ReadChallenge(r)
	if err != nil {
		// Challenge cookies expire with the code and stop decoding.
		h.sessions.ClearChallenge(w, r)
		writeError(w, h.logger, err, "OTP verification failed.")
		return
	}

	login, err := h.lifecycle.VerifyOTP(req.Code, ch)
	if err != nil {
		if errors.Is(err, apperr.ErrExpired) {
			h.sessions.ClearChallenge(w, r)
		}
		writeError(w, h.logger, err, "OTP verification failed.")
		return
	}

	if err := h.sessions.Issue(w, r, login); err != nil {
		writeError(w, h.logger, err, "OTP verification failed.")
		return
	}
	h.sessions.ClearChallenge(w, r)
	writeOK(w, nil)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.sessions.Clear(w, r, session.CookieSession)
	h.sessions.ClearChallenge(w, r)
	writeOK(w, nil)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err, "Failed to update password.")
		return
	}

	err := h.lifecycle.ChangePassword(r.Context(), auth.Login(r.Context()), req.CurrentPassword, req.NewPassword)
	if err != nil {
		writeError(w, h.logger, err, "Failed to update password.")
		return
	}
	writeOK(w, map[string]any{"message": "Password updated."})
}
