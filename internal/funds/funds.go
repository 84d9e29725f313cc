// Package funds handles demo balance resets and client withdrawals against
// the trading platform ledger.
package funds

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"

	"github.com/dukerupert/brokerdesk/internal/apperr"
	"github.com/dukerupert/brokerdesk/internal/model"
	"github.com/dukerupert/brokerdesk/internal/platform"
	"github.com/dukerupert/brokerdesk/internal/store"
)

const historyLimit = 50

var minWithdrawal = decimal.NewFromInt(50)

// Ledger reads and moves balance on the trading platform.
type Ledger interface {
	GetAccount(ctx context.Context, login string) (*model.AccountSummary, error)
	AdjustBalance(ctx context.Context, login string, delta decimal.Decimal, comment string) (string, error)
}

type Service struct {
	withdrawals *store.WithdrawalStore
	signups     *store.SignupStore
	ledger      Ledger
	logger      *slog.Logger
	now         func() time.Time
	newKey      func() string
	backoff     func() retry.Backoff
}

func NewService(withdrawals *store.WithdrawalStore, signups *store.SignupStore, ledger Ledger, logger *slog.Logger) *Service {
	return &Service{
		withdrawals: withdrawals,
		signups:     signups,
		ledger:      ledger,
		logger:      logger.With("component", "funds"),
		now:         func() time.Time { return time.Now().UTC() },
		newKey:      uuid.NewString,
		backoff: func() retry.Backoff {
			return retry.WithMaxRetries(4, retry.NewExponential(50*time.Millisecond))
		},
	}
}

// WithClock replaces the service clock. Used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// SetDemoBalance moves a demo account's balance to target by applying the
// difference. A zero difference makes no platform call.
func (s *Service) SetDemoBalance(ctx context.Context, login string, target decimal.Decimal) (decimal.Decimal, error) {
	if target.IsNegative() {
		return decimal.Zero, apperr.New(apperr.ErrValidation, "Invalid balance amount.")
	}

	rec, err := s.signups.GetByLogin(ctx, login)
	if err != nil {
		return decimal.Zero, fmt.Errorf("set demo balance: %w", err)
	}
	if rec == nil || rec.AccountType(login) != "demo" {
		return decimal.Zero, apperr.New(apperr.ErrForbidden, "Only demo accounts can set balance.")
	}

	acct, err := s.ledger.GetAccount(ctx, login)
	if err != nil {
		s.logger.Error("load demo balance", "login", login, "error", err)
		return decimal.Zero, apperr.New(apperr.ErrSettlement, "Failed to load account balance.")
	}

	delta := target.Sub(acct.Balance)
	if delta.IsZero() {
		return target, nil
	}
	if _, err := s.ledger.AdjustBalance(ctx, login, delta, platform.CommentDemo); err != nil && !errors.Is(err, platform.ErrNoTicket) {
		s.logger.Error("adjust demo balance", "login", login, "delta", delta.String(), "error", err)
		return decimal.Zero, apperr.New(apperr.ErrSettlement, "Failed to update balance.")
	}

	s.logger.Info("demo balance set", "login", login, "balance", target.String())
	return target, nil
}

// WithdrawInput is a client withdrawal form.
type WithdrawInput struct {
	Amount        string `json:"amount"`
	BankName      string `json:"bankName"`
	AccountNumber string `json:"accountNumber"`
	AccountName   string `json:"accountName"`
}

func (in WithdrawInput) Validate() error {
	required := validation.Required.Error("All fields are required")
	return validation.ValidateStruct(&in,
		validation.Field(&in.Amount, required, validation.By(minimumAmount)),
		validation.Field(&in.BankName, required),
		validation.Field(&in.AccountNumber, required),
		validation.Field(&in.AccountName, required),
	)
}

func minimumAmount(value interface{}) error {
	s, _ := value.(string)
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil || d.LessThan(minWithdrawal) {
		return errors.New("Minimum withdrawal is $50")
	}
	return nil
}

// Withdraw deducts amount from the login's balance and records a pending
// request for the back office. The local row is written before the remote
// deduction under a fresh idempotency key, so a deduction that cannot be
// confirmed locally is left in settling status for Reconcile.
func (s *Service) Withdraw(ctx context.Context, login string, in WithdrawInput) (*model.Withdrawal, error) {
	if err := in.Validate(); err != nil {
		return nil, apperr.FromValidation(err, "amount", "bankName", "accountNumber", "accountName")
	}
	amount := decimal.RequireFromString(strings.TrimSpace(in.Amount))

	acct, err := s.ledger.GetAccount(ctx, login)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.New(apperr.ErrValidation, "Account not found")
		}
		s.logger.Error("load account for withdrawal", "login", login, "error", err)
		return nil, apperr.New(apperr.ErrSettlement, "Failed to load account")
	}
	if acct.Balance.LessThan(amount) {
		return nil, apperr.New(apperr.ErrValidation,
			fmt.Sprintf("Insufficient balance. Available: $%s", acct.Balance.StringFixed(2)))
	}

	key := s.newKey()
	w, err := s.withdrawals.CreateSettling(ctx, &model.Withdrawal{
		IdempotencyKey: key,
		Login:          login,
		ClientName:     strings.TrimSpace(in.AccountName),
		Amount:         amount,
		BankName:       strings.TrimSpace(in.BankName),
		BankNumber:     strings.TrimSpace(in.AccountNumber),
		Balance:        acct.Balance,
		Credit:         acct.Credit,
		Equity:         acct.Equity,
		Margin:         acct.Margin,
		MarginFree:     acct.MarginFree,
		MarginLevel:    acct.MarginLevel,
		Comment:        "Awaiting deduction",
	})
	if err != nil {
		return nil, fmt.Errorf("withdraw: %w", err)
	}

	ticket, err := s.ledger.AdjustBalance(ctx, login, amount.Neg(), platform.CommentWithdrawal)
	if errors.Is(err, platform.ErrNoTicket) {
		// Deducted but unrecorded; the row stays settling for Reconcile.
		s.logger.Error("withdrawal executed without ticket", "login", login, "key", key)
		return nil, apperr.New(apperr.ErrSettlement, "Withdrawal executed but no ticket returned")
	}
	if err != nil {
		s.logger.Error("withdrawal deduction rejected", "login", login, "key", key, "error", err)
		if markErr := s.withdrawals.MarkFailed(ctx, key, "Rejected by trading server"); markErr != nil {
			s.logger.Error("mark withdrawal failed", "key", key, "error", markErr)
		}
		return nil, apperr.New(apperr.ErrSettlement, "Withdrawal failed on trading server")
	}

	err = retry.Do(ctx, s.backoff(), func(ctx context.Context) error {
		err := s.withdrawals.MarkSettled(ctx, key, ticket, "Auto-deducted on submit, awaiting bank transfer")
		if err != nil && !errors.Is(err, apperr.ErrConflict) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		s.logger.Error("withdrawal deducted but not recorded", "login", login, "key", key, "ticket", ticket, "error", err)
		return nil, apperr.New(apperr.ErrSettlement, "Withdrawal is being reviewed. Please contact support before retrying.")
	}

	s.logger.Info("withdrawal submitted", "login", login, "id", w.ID, "amount", amount.String(), "ticket", ticket)
	return s.withdrawals.GetByKey(ctx, key)
}

// HistoryEntry is one row of a client's withdrawal history.
type HistoryEntry struct {
	ID         int64           `json:"id"`
	Ref        string          `json:"ref"`
	Amount     decimal.Decimal `json:"amount"`
	BankName   string          `json:"bank_name"`
	BankNumber string          `json:"bank_number"`
	Status     string          `json:"status"`
	Time       time.Time       `json:"time"`
}

// History returns the latest withdrawals for login, newest first.
func (s *Service) History(ctx context.Context, login string) ([]HistoryEntry, error) {
	rows, err := s.withdrawals.ListByLogin(ctx, login, historyLimit)
	if err != nil {
		return nil, fmt.Errorf("withdrawal history: %w", err)
	}
	out := make([]HistoryEntry, 0, len(rows))
	for _, w := range rows {
		out = append(out, HistoryEntry{
			ID:         w.ID,
			Ref:        w.Ref(),
			Amount:     w.Amount,
			BankName:   w.BankName,
			BankNumber: w.BankNumber,
			Status:     w.Status,
			Time:       w.CreatedAt,
		})
	}
	return out, nil
}

// Cancel refunds a pending withdrawal owned by login and returns the refund
// ticket.
func (s *Service) Cancel(ctx context.Context, login string, id int64) (string, error) {
	if id <= 0 {
		return "", apperr.New(apperr.ErrValidation, "Missing ID")
	}
	w, err := s.withdrawals.GetByID(ctx, id)
	if err != nil {
		return "", fmt.Errorf("cancel withdrawal: %w", err)
	}
	if w == nil || w.Login != login || w.Status != model.WithdrawalPending {
		return "", apperr.New(apperr.ErrValidation, "Cannot cancel this request")
	}

	if err := s.withdrawals.ClaimCancel(ctx, id, login); err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			return "", apperr.New(apperr.ErrValidation, "Cannot cancel this request")
		}
		return "", fmt.Errorf("cancel withdrawal: %w", err)
	}

	ticket, err := s.ledger.AdjustBalance(ctx, login, w.Amount, platform.CommentRefund)
	if err != nil {
		s.logger.Error("withdrawal refund failed", "login", login, "id", id, "error", err)
		if relErr := s.withdrawals.ReleaseCancel(ctx, id); relErr != nil {
			s.logger.Error("release withdrawal cancel", "id", id, "error", relErr)
		}
		return "", apperr.New(apperr.ErrSettlement, "Refund failed on trading server")
	}

	err = retry.Do(ctx, s.backoff(), func(ctx context.Context) error {
		if err := s.withdrawals.SetRefundTicket(ctx, id, ticket, "Cancelled by client, amount refunded"); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("refund issued but ticket not recorded", "id", id, "ticket", ticket, "error", err)
	}

	s.logger.Info("withdrawal cancelled", "login", login, "id", id, "refund_ticket", ticket)
	return ticket, nil
}

// Reconcile fails withdrawals that have been settling for longer than
// olderThan and returns them for manual review against the platform ledger.
func (s *Service) Reconcile(ctx context.Context, olderThan time.Duration) ([]model.Withdrawal, error) {
	stale, err := s.withdrawals.ListStale(ctx, s.now().Add(-olderThan))
	if err != nil {
		return nil, fmt.Errorf("reconcile: %w", err)
	}
	for _, w := range stale {
		if err := s.withdrawals.MarkFailed(ctx, w.IdempotencyKey, "Unconfirmed deduction, check platform ledger"); err != nil {
			return nil, fmt.Errorf("reconcile %s: %w", w.IdempotencyKey, err)
		}
		s.logger.Warn("stale withdrawal failed", "id", w.ID, "login", w.Login, "key", w.IdempotencyKey, "amount", w.Amount.String())
	}
	return stale, nil
}
