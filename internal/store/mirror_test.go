package store

import (
	"context"
	"database/sql"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/dukerupert/brokerdesk/internal/database"
)

func setupMirrorTestDB(t *testing.T) (*MirrorStore, *sql.DB) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewMirrorStore(db), db
}

func mustExec(t *testing.T, db *sql.DB, query string, args ...any) {
	t.Helper()
	if _, err := db.Exec(query, args...); err != nil {
		t.Fatalf("exec %q: %v", query, err)
	}
}

func TestMirrorGetProfileAndAccount(t *testing.T) {
	ms, db := setupMirrorTestDB(t)
	ctx := context.Background()

	mustExec(t, db, `INSERT INTO mt5_users (login, name, email, phone, registration, balance, equity, margin_level)
		VALUES ('1001', 'N/A', 'a@x.com', '555', 1700000000, 10000.5, 10010.25, 0)`)

	p, err := ms.GetProfile(ctx, "1001")
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if p == nil {
		t.Fatal("expected profile")
	}
	if p.Email != "a@x.com" {
		t.Errorf("email = %q, want a@x.com", p.Email)
	}
	if p.Registration.Unix() != 1700000000 {
		t.Errorf("registration = %v, want unix 1700000000", p.Registration)
	}

	a, err := ms.GetAccount(ctx, "1001")
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if !a.Balance.Equal(decimal.RequireFromString("10000.5")) {
		t.Errorf("balance = %s, want 10000.5", a.Balance)
	}
	if a.CurrencyDigits != 2 {
		t.Errorf("digits = %d, want 2", a.CurrencyDigits)
	}

	if p, err := ms.GetProfile(ctx, "9999"); err != nil || p != nil {
		t.Errorf("missing profile = %v, %v; want nil, nil", p, err)
	}
	if a, err := ms.GetAccount(ctx, "9999"); err != nil || a != nil {
		t.Errorf("missing account = %v, %v; want nil, nil", a, err)
	}
}

func TestMirrorListDealsClosedOnly(t *testing.T) {
	ms, db := setupMirrorTestDB(t)
	ctx := context.Background()

	mustExec(t, db, `INSERT INTO mt5_deals (deal, login, time, symbol, entry, profit, volume) VALUES
		(1, '1001', 100, 'EURUSD', 0, 0, 10000),
		(2, '1001', 200, 'EURUSD', 1, 12.5, 10000),
		(3, '1001', 300, 'XAUUSD', 1, -3, 2500),
		(4, '2002', 400, 'EURUSD', 1, 1, 10000)`)

	deals, err := ms.ListDeals(ctx, "1001")
	if err != nil {
		t.Fatalf("deals: %v", err)
	}
	if len(deals) != 2 {
		t.Fatalf("len = %d, want 2", len(deals))
	}
	if deals[0].Deal != 3 {
		t.Errorf("first deal = %d, want 3", deals[0].Deal)
	}
	if !deals[0].Volume.Equal(decimal.RequireFromString("0.25")) {
		t.Errorf("volume = %s, want 0.25", deals[0].Volume)
	}
	if deals[1].Time.Unix() != 200 {
		t.Errorf("time = %d, want 200", deals[1].Time.Unix())
	}
}

func TestMirrorListPositions(t *testing.T) {
	ms, db := setupMirrorTestDB(t)
	ctx := context.Background()

	mustExec(t, db, `INSERT INTO mt5_positions (position, login, timecreate, symbol, priceopen, volume) VALUES
		(10, '1001', 100, 'EURUSD', 1.1, 20000),
		(11, '1001', 200, 'GBPUSD', 1.3, 10000)`)

	positions, err := ms.ListPositions(ctx, "1001")
	if err != nil {
		t.Fatalf("positions: %v", err)
	}
	if len(positions) != 2 {
		t.Fatalf("len = %d, want 2", len(positions))
	}
	if positions[0].Position != 11 {
		t.Errorf("first = %d, want 11", positions[0].Position)
	}
	if !positions[1].Volume.Equal(decimal.NewFromInt(2)) {
		t.Errorf("volume = %s, want 2", positions[1].Volume)
	}
}

func TestMirrorBalanceHistory(t *testing.T) {
	ms, db := setupMirrorTestDB(t)
	ctx := context.Background()

	mustExec(t, db, `INSERT INTO mt5_daily (login, datetime, balance) VALUES
		('1001', 1700092800, 10100),
		('1001', 1700006400, 10000)`)

	points, err := ms.BalanceHistory(ctx, "1001")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("len = %d, want 2", len(points))
	}
	if points[0].Date != "2023-11-15" {
		t.Errorf("date = %q, want 2023-11-15", points[0].Date)
	}
	if !points[1].Balance.Equal(decimal.NewFromInt(10100)) {
		t.Errorf("balance = %s, want 10100", points[1].Balance)
	}
}
