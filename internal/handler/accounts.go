package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/brokerdesk/internal/auth"
	"github.com/dukerupert/brokerdesk/internal/lifecycle"
	"github.com/dukerupert/brokerdesk/internal/session"
)

// AccountsHandler lists, switches and creates the trading accounts linked to
// the session's signup.
type AccountsHandler struct {
	lifecycle *lifecycle.Service
	sessions  *session.Manager
	logger    *slog.Logger
}

func NewAccountsHandler(ls *lifecycle.Service, sm *session.Manager, logger *slog.Logger) *AccountsHandler {
	return &AccountsHandler{lifecycle: ls, sessions: sm, logger: logger.With("component", "accounts_handler")}
}

type accountsResponse struct {
	Success bool `json:"success"`
	*lifecycle.Accounts
}

func (h *AccountsHandler) List(w http.ResponseWriter, r *http.Request) {
	accts, err := h.lifecycle.ListAccounts(r.Context(), auth.Login(r.Context()))
	if err != nil {
		writeError(w, h.logger, err, "Failed to load accounts.")
		return
	}
	writeJSON(w, http.StatusOK, accountsResponse{Success: true, Accounts: accts})
}

type switchRequest struct {
	Login string `json:"login"`
}

func (h *AccountsHandler) Switch(w http.ResponseWriter, r *http.Request) {
	var req switchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err, "Failed to switch account.")
		return
	}
	target := strings.TrimSpace(req.Login)

	if err := h.lifecycle.SwitchAccount(r.Context(), auth.Login(r.Context()), target); err != nil {
		writeError(w, h.logger, err, "Failed to switch account.")
		return
	}
	if err := h.sessions.Issue(w, r, target); err != nil {
		writeError(w, h.logger, err, "Failed to switch account.")
		return
	}
	writeOK(w, map[string]any{"login": target})
}

type createRealRequest struct {
	Password string `json:"password"`
}

// CreateReal provisions a live account and moves the session onto it.
func (h *AccountsHandler) CreateReal(w http.ResponseWriter, r *http.Request) {
	var req createRealRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err, "Failed to create live account.")
		return
	}

	rec, err := h.lifecycle.CreateLiveAccount(r.Context(), auth.Login(r.Context()), req.Password)
	if err != nil {
		writeError(w, h.logger, err, "Failed to create live account.")
		return
	}
	if err := h.sessions.Issue(w, r, *rec.RealLogin); err != nil {
		writeError(w, h.logger, err, "Failed to create live account.")
		return
	}
	writeOK(w, map[string]any{"real_login": rec.RealLogin, "demo_login": rec.DemoLogin})
}
