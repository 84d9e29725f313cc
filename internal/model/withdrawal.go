package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	WithdrawalSettling  = "settling"
	WithdrawalPending   = "pending"
	WithdrawalApproved  = "approved"
	WithdrawalCancelled = "cancelled"
	WithdrawalFailed    = "failed"
)

// Withdrawal is a client withdrawal request. Funds are deducted on the
// trading platform when the request is submitted; an operator completes the
// bank transfer later.
type Withdrawal struct {
	ID             int64           `json:"id"`
	IdempotencyKey string          `json:"-"`
	Login          string          `json:"login"`
	ClientName     string          `json:"client_name"`
	Amount         decimal.Decimal `json:"amount"`
	BankName       string          `json:"bank_name"`
	BankNumber     string          `json:"bank_number"`
	Status         string          `json:"status"`
	Balance        decimal.Decimal `json:"balance"`
	Credit         decimal.Decimal `json:"credit"`
	Equity         decimal.Decimal `json:"equity"`
	Margin         decimal.Decimal `json:"margin"`
	MarginFree     decimal.Decimal `json:"margin_free"`
	MarginLevel    decimal.Decimal `json:"margin_level"`
	DealTicket     *string         `json:"deal_ticket"`
	RefundTicket   *string         `json:"refund_ticket"`
	Comment        string          `json:"comment"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Ref is the client-facing reference number, e.g. W1000001.
func (w *Withdrawal) Ref() string {
	return fmt.Sprintf("W%07d", 1000000+w.ID)
}
