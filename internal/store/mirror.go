package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dukerupert/brokerdesk/internal/model"
)

// volumeScale converts platform volume units to lots.
var volumeScale = decimal.NewFromInt(10000)

// MirrorStore reads the trading platform's replicated tables. It never writes.
type MirrorStore struct {
	db *sql.DB
}

func NewMirrorStore(db *sql.DB) *MirrorStore {
	return &MirrorStore{db: db}
}

func (s *MirrorStore) GetProfile(ctx context.Context, login string) (*model.Profile, error) {
	var p model.Profile
	var registration int64
	err := s.db.QueryRowContext(ctx,
		`SELECT login, registration, phone, email, name FROM mt5_users WHERE login = ? LIMIT 1`, login,
	).Scan(&p.Login, &registration, &p.Phone, &p.Email, &p.Name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	p.Registration = time.Unix(registration, 0).UTC()
	return &p, nil
}

// GetAccount returns the mirrored balance view for a login.
func (s *MirrorStore) GetAccount(ctx context.Context, login string) (*model.AccountSummary, error) {
	var a model.AccountSummary
	err := s.db.QueryRowContext(ctx, `
		SELECT login, currency_digits, balance, credit, margin, margin_free, margin_level, leverage,
		       profit, storage, floating, equity
		FROM mt5_users WHERE login = ? LIMIT 1`, login,
	).Scan(&a.Login, &a.CurrencyDigits, &a.Balance, &a.Credit, &a.Margin, &a.MarginFree, &a.MarginLevel,
		&a.MarginLeverage, &a.Profit, &a.Storage, &a.Floating, &a.Equity)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get mirrored account: %w", err)
	}
	return &a, nil
}

// ListDeals returns closing deals (entry = 1), newest first.
func (s *MirrorStore) ListDeals(ctx context.Context, login string) ([]model.Deal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT deal, login, time, symbol, profit, priceposition, pricesl, pricetp, marketbid, marketask, volume
		FROM mt5_deals
		WHERE login = ? AND entry = 1
		ORDER BY time DESC`, login)
	if err != nil {
		return nil, fmt.Errorf("list deals: %w", err)
	}
	defer rows.Close()

	var out []model.Deal
	for rows.Next() {
		var d model.Deal
		var ts, volume int64
		if err := rows.Scan(&d.Deal, &d.Login, &ts, &d.Symbol, &d.Profit, &d.PricePosition,
			&d.PriceSL, &d.PriceTP, &d.MarketBid, &d.MarketAsk, &volume); err != nil {
			return nil, fmt.Errorf("scan deal: %w", err)
		}
		d.Time = time.Unix(ts, 0).UTC()
		d.Volume = decimal.NewFromInt(volume).Div(volumeScale)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *MirrorStore) ListPositions(ctx context.Context, login string) ([]model.Position, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT position, login, timecreate, symbol, profit, storage, priceopen, pricesl, pricetp, pricecurrent, volume
		FROM mt5_positions
		WHERE login = ?
		ORDER BY timecreate DESC`, login)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	defer rows.Close()

	var out []model.Position
	for rows.Next() {
		var p model.Position
		var ts, volume int64
		if err := rows.Scan(&p.Position, &p.Login, &ts, &p.Symbol, &p.Profit, &p.Storage,
			&p.PriceOpen, &p.PriceSL, &p.PriceTP, &p.PriceCurrent, &volume); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		p.TimeCreate = time.Unix(ts, 0).UTC()
		p.Volume = decimal.NewFromInt(volume).Div(volumeScale)
		out = append(out, p)
	}
	return out, rows.Err()
}

// BalanceHistory returns the daily balance series in chronological order.
func (s *MirrorStore) BalanceHistory(ctx context.Context, login string) ([]model.BalancePoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT datetime, balance FROM mt5_daily WHERE login = ? ORDER BY datetime ASC`, login)
	if err != nil {
		return nil, fmt.Errorf("balance history: %w", err)
	}
	defer rows.Close()

	var out []model.BalancePoint
	for rows.Next() {
		var bp model.BalancePoint
		if err := rows.Scan(&bp.Timestamp, &bp.Balance); err != nil {
			return nil, fmt.Errorf("scan balance point: %w", err)
		}
		bp.Date = time.Unix(bp.Timestamp, 0).UTC().Format("2006-01-02")
		out = append(out, bp)
	}
	return out, rows.Err()
}
