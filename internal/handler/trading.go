package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/dukerupert/brokerdesk/internal/apperr"
	"github.com/dukerupert/brokerdesk/internal/auth"
	"github.com/dukerupert/brokerdesk/internal/model"
	"github.com/dukerupert/brokerdesk/internal/store"
)

// PlatformPasswords checks and changes trading account passwords.
type PlatformPasswords interface {
	CheckPassword(ctx context.Context, login, password, passwordType string) (bool, error)
	ChangePassword(ctx context.Context, login, passwordType, password string) error
}

// TradingHandler serves the read-only trading views of the session login
// and its platform password operations.
type TradingHandler struct {
	mirror    *store.MirrorStore
	signups   *store.SignupStore
	passwords PlatformPasswords
	logger    *slog.Logger
}

func NewTradingHandler(ms *store.MirrorStore, ss *store.SignupStore, pp PlatformPasswords, logger *slog.Logger) *TradingHandler {
	return &TradingHandler{mirror: ms, signups: ss, passwords: pp, logger: logger.With("component", "trading_handler")}
}

func (h *TradingHandler) Account(w http.ResponseWriter, r *http.Request) {
	acct, err := h.mirror.GetAccount(r.Context(), auth.Login(r.Context()))
	if err != nil {
		writeError(w, h.logger, err, "Failed to load account.")
		return
	}
	if acct == nil {
		writeError(w, h.logger, apperr.New(apperr.ErrNotFound, "Account not found."), "")
		return
	}
	writeOK(w, map[string]any{"retcode": "0 Done", "answer": acct})
}

func (h *TradingHandler) Profile(w http.ResponseWriter, r *http.Request) {
	p, err := h.mirror.GetProfile(r.Context(), auth.Login(r.Context()))
	if err != nil {
		writeError(w, h.logger, err, "Failed to load profile.")
		return
	}
	if p == nil {
		writeError(w, h.logger, apperr.New(apperr.ErrNotFound, "User not found."), "")
		return
	}
	writeOK(w, map[string]any{"user": p})
}

func (h *TradingHandler) Deals(w http.ResponseWriter, r *http.Request) {
	deals, err := h.mirror.ListDeals(r.Context(), auth.Login(r.Context()))
	if err != nil {
		writeError(w, h.logger, err, "Failed to fetch trading history.")
		return
	}
	if deals == nil {
		deals = []model.Deal{}
	}
	writeOK(w, map[string]any{"deals": deals})
}

func (h *TradingHandler) Positions(w http.ResponseWriter, r *http.Request) {
	positions, err := h.mirror.ListPositions(r.Context(), auth.Login(r.Context()))
	if err != nil {
		writeError(w, h.logger, err, "Failed to fetch positions.")
		return
	}
	if positions == nil {
		positions = []model.Position{}
	}
	writeOK(w, map[string]any{"positions": positions})
}

// BalanceHistory returns the chart series as a bare array.
func (h *TradingHandler) BalanceHistory(w http.ResponseWriter, r *http.Request) {
	points, err := h.mirror.BalanceHistory(r.Context(), auth.Login(r.Context()))
	if err != nil {
		writeError(w, h.logger, err, "Failed to fetch balance history.")
		return
	}
	if points == nil {
		points = []model.BalancePoint{}
	}
	writeJSON(w, http.StatusOK, points)
}

type platformPasswordRequest struct {
	Password string `json:"password"`
	Type     string `json:"type"`
}

func (req platformPasswordRequest) valid() bool {
	return req.Password != "" && (req.Type == "" || req.Type == "main" || req.Type == "investor")
}

func (h *TradingHandler) CheckPassword(w http.ResponseWriter, r *http.Request) {
	var req platformPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err, "Password check failed.")
		return
	}
	if !req.valid() {
		writeError(w, h.logger, apperr.New(apperr.ErrValidation, "Invalid parameters."), "")
		return
	}

	ok, err := h.passwords.CheckPassword(r.Context(), auth.Login(r.Context()), req.Password, req.Type)
	if err != nil {
		writeError(w, h.logger, err, "Password check failed.")
		return
	}
	writeOK(w, map[string]any{"valid": ok})
}

// ChangePassword sets a trading password on the platform. When the new main
// password equals the portal password the account is marked in sync again.
func (h *TradingHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req platformPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err, "Password change failed.")
		return
	}
	if !req.valid() {
		writeError(w, h.logger, apperr.New(apperr.ErrValidation, "Invalid parameters."), "")
		return
	}

	ctx := r.Context()
	login := auth.Login(ctx)
	if err := h.passwords.ChangePassword(ctx, login, req.Type, req.Password); err != nil {
		writeError(w, h.logger, err, "Password change failed.")
		return
	}

	if strings.ToLower(req.Type) != "investor" {
		if rec, err := h.signups.GetByID(ctx, auth.SignupID(ctx)); err == nil && rec != nil &&
			bcrypt.CompareHashAndPassword([]byte(rec.PasswordHash), []byte(req.Password)) == nil {
			if err := h.signups.MarkPasswordSynced(ctx, rec.ID); err != nil {
				h.logger.Warn("mark password synced", "login", login, "error", err)
			}
		}
	}
	writeOK(w, map[string]any{"message": "Password changed."})
}
