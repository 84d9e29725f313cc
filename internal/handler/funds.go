package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/dukerupert/brokerdesk/internal/apperr"
	"github.com/dukerupert/brokerdesk/internal/auth"
	"github.com/dukerupert/brokerdesk/internal/funds"
	"github.com/dukerupert/brokerdesk/internal/websocket"
)

type FundsHandler struct {
	funds  *funds.Service
	feed   *websocket.Feed
	logger *slog.Logger
}

func NewFundsHandler(fs *funds.Service, feed *websocket.Feed, logger *slog.Logger) *FundsHandler {
	return &FundsHandler{funds: fs, feed: feed, logger: logger.With("component", "funds_handler")}
}

// refresh pushes a fresh snapshot to the login's open feeds.
func (h *FundsHandler) refresh(r *http.Request, login string) {
	if h.feed != nil {
		h.feed.Push(r.Context(), login)
	}
}

// amountString accepts a JSON number or a numeric string.
func amountString(raw json.RawMessage) string {
	return strings.Trim(strings.TrimSpace(string(raw)), `"`)
}

type setBalanceRequest struct {
	Balance json.RawMessage `json:"balance"`
}

func (h *FundsHandler) SetDemoBalance(w http.ResponseWriter, r *http.Request) {
	var req setBalanceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err, "Failed to update balance.")
		return
	}
	target, err := decimal.NewFromString(amountString(req.Balance))
	if err != nil {
		writeError(w, h.logger, apperr.New(apperr.ErrValidation, "Invalid balance amount."), "")
		return
	}

	login := auth.Login(r.Context())
	got, err := h.funds.SetDemoBalance(r.Context(), login, target)
	if err != nil {
		writeError(w, h.logger, err, "Failed to update balance.")
		return
	}
	h.refresh(r, login)
	writeOK(w, map[string]any{"newBalance": got.InexactFloat64()})
}

type withdrawRequest struct {
	Amount        json.RawMessage `json:"amount"`
	BankName      string          `json:"bankName"`
	AccountNumber string          `json:"accountNumber"`
	AccountName   string          `json:"accountName"`
}

func (h *FundsHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err, "Withdrawal failed.")
		return
	}

	login := auth.Login(r.Context())
	wd, err := h.funds.Withdraw(r.Context(), login, funds.WithdrawInput{
		Amount:        amountString(req.Amount),
		BankName:      req.BankName,
		AccountNumber: req.AccountNumber,
		AccountName:   req.AccountName,
	})
	if err != nil {
		writeError(w, h.logger, err, "Withdrawal failed.")
		return
	}
	h.refresh(r, login)
	writeOK(w, map[string]any{"id": wd.ID, "ref": wd.Ref(), "status": wd.Status})
}

func (h *FundsHandler) History(w http.ResponseWriter, r *http.Request) {
	entries, err := h.funds.History(r.Context(), auth.Login(r.Context()))
	if err != nil {
		writeError(w, h.logger, err, "Failed to load withdrawal history.")
		return
	}
	writeOK(w, map[string]any{"data": entries})
}

type cancelRequest struct {
	RequestID int64 `json:"requestId"`
}

func (h *FundsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err, "Cancel failed.")
		return
	}

	login := auth.Login(r.Context())
	ticket, err := h.funds.Cancel(r.Context(), login, req.RequestID)
	if err != nil {
		writeError(w, h.logger, err, "Cancel failed.")
		return
	}
	h.refresh(r, login)
	writeOK(w, map[string]any{"refundTicket": ticket})
}
