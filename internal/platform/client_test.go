package platform

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/dukerupert/brokerdesk/internal/apperr"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(h)
	t.Cleanup(server.Close)
	return NewClient(Config{BaseURL: server.URL})
}

func TestCreateAccount(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/user/add" {
			t.Errorf("path = %q, want /api/user/add", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("group") != `demo\itrade` {
			t.Errorf("group = %q, want demo\\itrade", q.Get("group"))
		}
		if q.Get("name") != "N/A" {
			t.Errorf("name = %q, want N/A", q.Get("name"))
		}
		if q.Get("pass_main") != "Abc123!x" || q.Get("pass_investor") != "Abc123!x" {
			t.Errorf("passwords = %q/%q", q.Get("pass_main"), q.Get("pass_investor"))
		}
		if q.Get("email") != "a@x.com" {
			t.Errorf("email = %q", q.Get("email"))
		}
		w.Write([]byte(`{"retcode":"0 Done","answer":{"Login":"500123"}}`))
	})

	login, err := c.CreateAccount(context.Background(), Demo, "a@x.com", "Abc123!x")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if login != "500123" {
		t.Errorf("login = %q, want 500123", login)
	}
}

func TestCreateAccountRealGroupNumericLogin(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if g := r.URL.Query().Get("group"); g != `real\itrade` {
			t.Errorf("group = %q, want real\\itrade", g)
		}
		w.Write([]byte(`{"retcode":"0 Done","answer":{"login":700001}}`))
	})

	login, err := c.CreateAccount(context.Background(), Real, "a@x.com", "Abc123!x")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if login != "700001" {
		t.Errorf("login = %q, want 700001", login)
	}
}

func TestCreateAccountFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"bad retcode", 200, `{"retcode":"3 Invalid params","answer":{}}`},
		{"no login", 200, `{"retcode":"0 Done","answer":{}}`},
		{"server error", 500, `oops`},
		{"not json", 200, `<html>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})
			_, err := c.CreateAccount(context.Background(), Demo, "a@x.com", "pw")
			if !errors.Is(err, apperr.ErrProvisioning) {
				t.Errorf("err = %v, want ErrProvisioning", err)
			}
		})
	}
}

func TestAdjustBalance(t *testing.T) {
	var gotQuery map[string]string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		gotQuery = map[string]string{
			"login":   q.Get("login"),
			"type":    q.Get("type"),
			"balance": q.Get("balance"),
			"comment": q.Get("comment"),
		}
		w.Write([]byte(`{"success":true,"data":{"ticket":"88123"}}`))
	})

	ticket, err := c.AdjustBalance(context.Background(), "1001", decimal.NewFromInt(-40), CommentDemo)
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if ticket != "88123" {
		t.Errorf("ticket = %q, want 88123", ticket)
	}
	want := map[string]string{"login": "1001", "type": "2", "balance": "-40", "comment": "demo"}
	for k, v := range want {
		if gotQuery[k] != v {
			t.Errorf("%s = %q, want %q", k, gotQuery[k], v)
		}
	}
}

func TestAdjustBalanceResponseShapes(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantTicket string
		wantErr    bool
	}{
		{"retcode with deal", `{"retcode":"0 Done","answer":{"Deal":555}}`, "555", false},
		{"numeric retcode with ticket", `{"retcode":0,"data":{"ticket":"77"}}`, "77", false},
		{"rejected", `{"success":false}`, "", true},
		{"bad retcode", `{"retcode":"10019 No money"}`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			})
			ticket, err := c.AdjustBalance(context.Background(), "1001", decimal.NewFromInt(10), CommentDemo)
			if tt.wantErr {
				if !errors.Is(err, apperr.ErrSettlement) {
					t.Errorf("err = %v, want ErrSettlement", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("adjust: %v", err)
			}
			if ticket != tt.wantTicket {
				t.Errorf("ticket = %q, want %q", ticket, tt.wantTicket)
			}
		})
	}
}

func TestAdjustBalanceWithoutTicket(t *testing.T) {
	for _, body := range []string{`{"retcode":0}`, `{"retcode":"0 Done","answer":{}}`, ``} {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(body))
		})
		ticket, err := c.AdjustBalance(context.Background(), "1001", decimal.NewFromInt(10), CommentWithdrawal)
		if !errors.Is(err, ErrNoTicket) {
			t.Errorf("body %q: err = %v, want ErrNoTicket", body, err)
		}
		if !errors.Is(err, apperr.ErrSettlement) {
			t.Errorf("body %q: err = %v, want ErrSettlement", body, err)
		}
		if ticket != "" {
			t.Errorf("body %q: ticket = %q, want empty", body, ticket)
		}
	}
}

func TestSeedDemoBalance(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("balance") != "10000" || q.Get("comment") != "demo_initial" {
			t.Errorf("query = %v", q)
		}
		w.Write([]byte(`{"retcode":"0 Done"}`))
	})

	if err := c.SeedDemoBalance(context.Background(), "1001", decimal.NewFromInt(10000)); err != nil {
		t.Errorf("seed: %v", err)
	}
}

func TestGetAccountNormalizesKeys(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"capitalized strings", `{"retcode":"0 Done","answer":{"Login":"1001","Balance":"50.00","Equity":"52.10","MarginFree":"40","CurrencyDigits":"2"}}`},
		{"lowercase numbers", `{"retcode":"0 Done","answer":{"login":1001,"balance":50,"equity":52.1,"margin_free":40}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Query().Get("login") != "1001" {
					t.Errorf("login = %q", r.URL.Query().Get("login"))
				}
				w.Write([]byte(tt.body))
			})

			a, err := c.GetAccount(context.Background(), "1001")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if a.Login != "1001" {
				t.Errorf("login = %q, want 1001", a.Login)
			}
			if !a.Balance.Equal(decimal.NewFromInt(50)) {
				t.Errorf("balance = %s, want 50", a.Balance)
			}
			if !a.Equity.Equal(decimal.RequireFromString("52.1")) {
				t.Errorf("equity = %s, want 52.1", a.Equity)
			}
			if !a.MarginFree.Equal(decimal.NewFromInt(40)) {
				t.Errorf("margin free = %s, want 40", a.MarginFree)
			}
			if a.CurrencyDigits != 2 {
				t.Errorf("digits = %d, want 2", a.CurrencyDigits)
			}
		})
	}
}

func TestGetAccountNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"retcode":"2 Error","answer":"User not found"}`))
	})

	_, err := c.GetAccount(context.Background(), "1001")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestCheckPassword(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("type") != "main" {
			t.Errorf("type = %q, want main", q.Get("type"))
		}
		if q.Get("password") == "right" {
			w.Write([]byte(`{"success":true,"valid":true}`))
			return
		}
		w.Write([]byte(`{"success":true,"valid":false}`))
	})

	ok, err := c.CheckPassword(context.Background(), "1001", "right", "")
	if err != nil || !ok {
		t.Errorf("right password = %v, %v; want true, nil", ok, err)
	}
	ok, err = c.CheckPassword(context.Background(), "1001", "wrong", "")
	if err != nil || ok {
		t.Errorf("wrong password = %v, %v; want false, nil", ok, err)
	}
}

func TestChangePassword(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("type") != "investor" || q.Get("password") != "N3w!pass" {
			t.Errorf("query = %v", q)
		}
		w.Write([]byte(`{"retcode":"0 Done"}`))
	})

	if err := c.ChangePassword(context.Background(), "1001", "investor", "N3w!pass"); err != nil {
		t.Errorf("change: %v", err)
	}
}
