package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/brokerdesk/internal/model"
)

type WithdrawalStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewWithdrawalStore(db *sql.DB) *WithdrawalStore {
	return &WithdrawalStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// WithClock replaces the store clock. Used by tests.
func (s *WithdrawalStore) WithClock(now func() time.Time) *WithdrawalStore {
	s.now = now
	return s
}

func scanWithdrawal(scanner interface{ Scan(...any) error }) (*model.Withdrawal, error) {
	var w model.Withdrawal
	var deal, refund sql.NullString

	err := scanner.Scan(
		&w.ID, &w.IdempotencyKey, &w.Login, &w.ClientName, &w.Amount, &w.BankName, &w.BankNumber, &w.Status,
		&w.Balance, &w.Credit, &w.Equity, &w.Margin, &w.MarginFree, &w.MarginLevel,
		&deal, &refund, &w.Comment, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if deal.Valid {
		w.DealTicket = &deal.String
	}
	if refund.Valid {
		w.RefundTicket = &refund.String
	}
	return &w, nil
}

const withdrawalCols = `id, idempotency_key, login, client_name, amount, bank_name, bank_number, status, balance, credit, equity, margin, margin_free, margin_level, deal_ticket, refund_ticket, comment, created_at, updated_at`

// CreateSettling records a withdrawal before the remote deduction is
// attempted, so a deduction is never left without a local row.
func (s *WithdrawalStore) CreateSettling(ctx context.Context, w *model.Withdrawal) (*model.Withdrawal, error) {
	now := s.now()
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO withdrawal_requests
			(idempotency_key, login, client_name, amount, bank_name, bank_number, status,
			 balance, credit, equity, margin, margin_free, margin_level, comment, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 'settling', ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		w.IdempotencyKey, w.Login, w.ClientName, w.Amount.String(), w.BankName, w.BankNumber,
		w.Balance.String(), w.Credit.String(), w.Equity.String(), w.Margin.String(), w.MarginFree.String(), w.MarginLevel.String(),
		w.Comment, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert withdrawal: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *WithdrawalStore) GetByID(ctx context.Context, id int64) (*model.Withdrawal, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+withdrawalCols+` FROM withdrawal_requests WHERE id = ?`, id)
	w, err := scanWithdrawal(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get withdrawal: %w", err)
	}
	return w, nil
}

func (s *WithdrawalStore) GetByKey(ctx context.Context, key string) (*model.Withdrawal, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+withdrawalCols+` FROM withdrawal_requests WHERE idempotency_key = ?`, key)
	w, err := scanWithdrawal(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get withdrawal by key: %w", err)
	}
	return w, nil
}

// MarkSettled stores the deduction ticket and hands the request to operators.
func (s *WithdrawalStore) MarkSettled(ctx context.Context, key, ticket, comment string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE withdrawal_requests SET status = 'pending', deal_ticket = ?, comment = ?, updated_at = ?
		WHERE idempotency_key = ? AND status = 'settling'`,
		ticket, comment, s.now(), key,
	)
	if err != nil {
		return fmt.Errorf("mark withdrawal settled: %w", err)
	}
	return expectOne(result, "mark withdrawal settled")
}

func (s *WithdrawalStore) MarkFailed(ctx context.Context, key, comment string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE withdrawal_requests SET status = 'failed', comment = ?, updated_at = ?
		WHERE idempotency_key = ? AND status = 'settling'`,
		comment, s.now(), key,
	)
	if err != nil {
		return fmt.Errorf("mark withdrawal failed: %w", err)
	}
	return nil
}

// ClaimCancel moves a pending request owned by login to cancelled before the
// refund is issued, so concurrent cancels cannot refund twice.
func (s *WithdrawalStore) ClaimCancel(ctx context.Context, id int64, login string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE withdrawal_requests SET status = 'cancelled', updated_at = ?
		WHERE id = ? AND login = ? AND status = 'pending'`,
		s.now(), id, login,
	)
	if err != nil {
		return fmt.Errorf("claim withdrawal cancel: %w", err)
	}
	return expectOne(result, "claim withdrawal cancel")
}

// ReleaseCancel returns a claimed request to pending when the refund failed.
func (s *WithdrawalStore) ReleaseCancel(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE withdrawal_requests SET status = 'pending', updated_at = ?
		WHERE id = ? AND status = 'cancelled' AND refund_ticket IS NULL`,
		s.now(), id,
	)
	if err != nil {
		return fmt.Errorf("release withdrawal cancel: %w", err)
	}
	return nil
}

// SetRefundTicket records the refund of a cancelled request.
func (s *WithdrawalStore) SetRefundTicket(ctx context.Context, id int64, refundTicket, comment string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE withdrawal_requests SET refund_ticket = ?, comment = ?, updated_at = ?
		WHERE id = ? AND status = 'cancelled'`,
		refundTicket, comment, s.now(), id,
	)
	if err != nil {
		return fmt.Errorf("set refund ticket: %w", err)
	}
	return expectOne(result, "set refund ticket")
}

// ListByLogin returns the most recent requests for a login, newest first.
func (s *WithdrawalStore) ListByLogin(ctx context.Context, login string, limit int) ([]model.Withdrawal, error) {
	return s.list(ctx, `SELECT `+withdrawalCols+` FROM withdrawal_requests WHERE login = ? ORDER BY created_at DESC, id DESC LIMIT ?`, login, limit)
}

// ListStale returns requests still settling that were created before cutoff.
func (s *WithdrawalStore) ListStale(ctx context.Context, cutoff time.Time) ([]model.Withdrawal, error) {
	return s.list(ctx, `SELECT `+withdrawalCols+` FROM withdrawal_requests WHERE status = 'settling' AND created_at < ? ORDER BY id`, cutoff.UTC())
}

func (s *WithdrawalStore) list(ctx context.Context, query string, args ...any) ([]model.Withdrawal, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list withdrawals: %w", err)
	}
	defer rows.Close()

	var out []model.Withdrawal
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan withdrawal: %w", err)
		}
		out = append(out, *w)
	}
	return out, rows.Err()
}
