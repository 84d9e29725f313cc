package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/brokerdesk/internal/apperr"
	"github.com/dukerupert/brokerdesk/internal/model"
)

type SignupStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSignupStore(db *sql.DB) *SignupStore {
	return &SignupStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// WithClock replaces the store clock. Used by tests.
func (s *SignupStore) WithClock(now func() time.Time) *SignupStore {
	s.now = now
	return s
}

func scanSignup(scanner interface{ Scan(...any) error }) (*model.Signup, error) {
	var su model.Signup
	var token, demoLogin, realLogin sql.NullString
	var verifiedAt sql.NullTime

	err := scanner.Scan(
		&su.ID, &su.Email, &su.PasswordHash, &token, &su.TokenExpiresAt, &su.Status,
		&verifiedAt, &demoLogin, &realLogin, &su.AccountPasswordSynced, &su.CreatedAt, &su.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if token.Valid {
		su.VerificationToken = &token.String
	}
	if verifiedAt.Valid {
		su.EmailVerifiedAt = &verifiedAt.Time
	}
	if demoLogin.Valid {
		su.DemoLogin = &demoLogin.String
	}
	if realLogin.Valid {
		su.RealLogin = &realLogin.String
	}
	return &su, nil
}

const signupCols = `id, email, password_hash, verification_token, token_expires_at, status, email_verified_at, demo_login, real_login, account_password_synced, created_at, updated_at`

// UpsertPending inserts a pending record or restarts the flow for an existing
// pending one. Any other status is left alone and fails with ErrConflict.
func (s *SignupStore) UpsertPending(ctx context.Context, email, passwordHash, token string, expiresAt time.Time) (*model.Signup, error) {
	now := s.now()
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO user_signups (email, password_hash, verification_token, token_expires_at, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, 'pending', ?, ?)
		ON CONFLICT (email) DO UPDATE SET
			password_hash = excluded.password_hash,
			verification_token = excluded.verification_token,
			token_expires_at = excluded.token_expires_at,
			updated_at = excluded.updated_at
		WHERE user_signups.status = 'pending'`,
		email, passwordHash, token, expiresAt.UTC(), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert signup: %w", err)
	}
	if err := expectOne(result, "upsert signup"); err != nil {
		return nil, err
	}
	return s.GetByEmail(ctx, email)
}

func (s *SignupStore) GetByID(ctx context.Context, id int64) (*model.Signup, error) {
	return s.getOne(ctx, "get signup", `SELECT `+signupCols+` FROM user_signups WHERE id = ?`, id)
}

func (s *SignupStore) GetByEmail(ctx context.Context, email string) (*model.Signup, error) {
	return s.getOne(ctx, "get signup by email", `SELECT `+signupCols+` FROM user_signups WHERE email = ?`, email)
}

func (s *SignupStore) GetByToken(ctx context.Context, token string) (*model.Signup, error) {
	return s.getOne(ctx, "get signup by token", `SELECT `+signupCols+` FROM user_signups WHERE verification_token = ?`, token)
}

// GetByLogin finds the record owning a demo or live trading login.
func (s *SignupStore) GetByLogin(ctx context.Context, login string) (*model.Signup, error) {
	return s.getOne(ctx, "get signup by login",
		`SELECT `+signupCols+` FROM user_signups WHERE demo_login = ? OR real_login = ? LIMIT 1`, login, login)
}

func (s *SignupStore) getOne(ctx context.Context, op, query string, args ...any) (*model.Signup, error) {
	row := s.db.QueryRowContext(ctx, query, args...)
	su, err := scanSignup(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return su, nil
}

// MarkVerifiedAndProvisioned links the demo login and finalizes verification.
// Only one caller can win for a given record; later callers get ErrConflict.
func (s *SignupStore) MarkVerifiedAndProvisioned(ctx context.Context, id int64, demoLogin string) error {
	now := s.now()
	result, err := s.db.ExecContext(ctx, `
		UPDATE user_signups
		SET email_verified_at = ?, status = 'accounts_created', demo_login = ?, real_login = NULL,
		    account_password_synced = 1, updated_at = ?
		WHERE id = ? AND email_verified_at IS NULL`,
		now, demoLogin, now, id,
	)
	if err != nil {
		return fmt.Errorf("mark signup provisioned: %w", err)
	}
	return expectOne(result, "mark signup provisioned")
}

// MarkFailed records a provisioning failure. The record stays failed until
// an operator requeues it.
func (s *SignupStore) MarkFailed(ctx context.Context, id int64) error {
	now := s.now()
	_, err := s.db.ExecContext(ctx,
		`UPDATE user_signups SET email_verified_at = ?, status = 'failed', updated_at = ? WHERE id = ?`,
		now, now, id,
	)
	if err != nil {
		return fmt.Errorf("mark signup failed: %w", err)
	}
	return nil
}

// AttachRealLogin links a live login. Fails with ErrConflict when one is
// already attached.
func (s *SignupStore) AttachRealLogin(ctx context.Context, id int64, realLogin string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE user_signups
		SET real_login = ?, status = 'accounts_created', account_password_synced = 1, updated_at = ?
		WHERE id = ? AND real_login IS NULL`,
		realLogin, s.now(), id,
	)
	if err != nil {
		return fmt.Errorf("attach real login: %w", err)
	}
	return expectOne(result, "attach real login")
}

// UpdatePasswordHash stores a new hash and flags the trading accounts'
// passwords as out of sync with it.
func (s *SignupStore) UpdatePasswordHash(ctx context.Context, id int64, newHash string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE user_signups SET password_hash = ?, account_password_synced = 0, updated_at = ? WHERE id = ?`,
		newHash, s.now(), id,
	)
	if err != nil {
		return fmt.Errorf("update password hash: %w", err)
	}
	return nil
}

func (s *SignupStore) MarkPasswordSynced(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE user_signups SET account_password_synced = 1, updated_at = ? WHERE id = ?`,
		s.now(), id,
	)
	if err != nil {
		return fmt.Errorf("mark password synced: %w", err)
	}
	return nil
}

// Requeue moves a failed record back to pending with a fresh token.
func (s *SignupStore) Requeue(ctx context.Context, id int64, token string, expiresAt time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE user_signups
		SET status = 'pending', verification_token = ?, token_expires_at = ?, email_verified_at = NULL,
		    demo_login = NULL, real_login = NULL, updated_at = ?
		WHERE id = ? AND status = 'failed'`,
		token, expiresAt.UTC(), s.now(), id,
	)
	if err != nil {
		return fmt.Errorf("requeue signup: %w", err)
	}
	return expectOne(result, "requeue signup")
}

func (s *SignupStore) ListByStatus(ctx context.Context, status string) ([]model.Signup, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+signupCols+` FROM user_signups WHERE status = ? ORDER BY updated_at DESC`, status)
	if err != nil {
		return nil, fmt.Errorf("list signups: %w", err)
	}
	defer rows.Close()

	var out []model.Signup
	for rows.Next() {
		su, err := scanSignup(rows)
		if err != nil {
			return nil, fmt.Errorf("scan signup: %w", err)
		}
		out = append(out, *su)
	}
	return out, rows.Err()
}

func expectOne(result sql.Result, op string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, apperr.ErrConflict)
	}
	return nil
}
