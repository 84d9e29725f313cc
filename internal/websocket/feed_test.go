package websocket

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	ws "github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/shopspring/decimal"

	"github.com/dukerupert/brokerdesk/internal/auth"
	"github.com/dukerupert/brokerdesk/internal/model"
)

type fakeSource struct {
	mu       sync.Mutex
	accounts map[string]*model.AccountSummary
	calls    []string
}

func (s *fakeSource) GetAccount(_ context.Context, login string) (*model.AccountSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, login)
	acct, ok := s.accounts[login]
	if !ok {
		return nil, nil
	}
	cp := *acct
	return &cp, nil
}

func (s *fakeSource) setBalance(login string, balance int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[login] = &model.AccountSummary{Login: login, Balance: decimal.NewFromInt(balance)}
}

func (s *fakeSource) called() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func withLogin(login string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := auth.WithAuth(r.Context(), auth.AuthContext{Login: login})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func dialFeed(t *testing.T, srv *httptest.Server) *ws.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := ws.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(ws.StatusNormalClosure, "") })
	return conn
}

func readMessage(t *testing.T, conn *ws.Conn) Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var msg Message
	if err := wsjson.Read(ctx, conn, &msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("client count = %d, want %d", hub.ClientCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestFeedInitialSnapshotAndPush(t *testing.T) {
	src := &fakeSource{accounts: map[string]*model.AccountSummary{}}
	src.setBalance("100", 500)
	hub := NewHub(slog.Default())
	feed := NewFeed(hub, src, time.Hour, slog.Default())

	srv := httptest.NewServer(withLogin("100", feed.Handler()))
	defer srv.Close()

	conn := dialFeed(t, srv)

	first := readMessage(t, conn)
	if first.Type != "account_snapshot" {
		t.Fatalf("type = %q, want account_snapshot", first.Type)
	}
	if !first.Account.Balance.Equal(decimal.NewFromInt(500)) {
		t.Errorf("balance = %s, want 500", first.Account.Balance)
	}

	waitForClients(t, hub, 1)
	src.setBalance("100", 450)
	feed.Push(context.Background(), "100")

	next := readMessage(t, conn)
	if !next.Account.Balance.Equal(decimal.NewFromInt(450)) {
		t.Errorf("balance = %s, want 450", next.Account.Balance)
	}
}

func TestFeedUnknownLogin(t *testing.T) {
	src := &fakeSource{accounts: map[string]*model.AccountSummary{}}
	feed := NewFeed(NewHub(slog.Default()), src, time.Hour, slog.Default())

	srv := httptest.NewServer(withLogin("404", feed.Handler()))
	defer srv.Close()

	msg := readMessage(t, dialFeed(t, srv))
	if msg.Type != "account_unavailable" {
		t.Errorf("type = %q, want account_unavailable", msg.Type)
	}
	if msg.Login != "404" {
		t.Errorf("login = %q, want 404", msg.Login)
	}
}

func TestFeedRequiresLogin(t *testing.T) {
	feed := NewFeed(NewHub(slog.Default()), &fakeSource{}, time.Hour, slog.Default())

	rec := httptest.NewRecorder()
	feed.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/ws/account", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestFeedRunPollsSubscribedLogins(t *testing.T) {
	src := &fakeSource{accounts: map[string]*model.AccountSummary{}}
	src.setBalance("100", 1)
	src.setBalance("200", 2)
	hub := NewHub(slog.Default())
	c := mockClient(hub, "100")
	hub.Register(c)

	feed := NewFeed(hub, src, 10*time.Millisecond, slog.Default())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		feed.Run(ctx)
		close(done)
	}()

	select {
	case <-c.send:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for polled snapshot")
	}
	cancel()
	<-done

	for _, login := range src.called() {
		if login != "100" {
			t.Errorf("polled %q, want only subscribed login 100", login)
		}
	}
}
