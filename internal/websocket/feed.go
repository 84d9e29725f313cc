package websocket

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	ws "github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/dukerupert/brokerdesk/internal/auth"
	"github.com/dukerupert/brokerdesk/internal/model"
)

const DefaultPollInterval = 5 * time.Second

// AccountSource loads the current balance view of a login.
type AccountSource interface {
	GetAccount(ctx context.Context, login string) (*model.AccountSummary, error)
}

// Feed polls account snapshots for subscribed logins and pushes them to the
// hub. Logins without subscribers are never polled.
type Feed struct {
	hub      *Hub
	source   AccountSource
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

func NewFeed(hub *Hub, source AccountSource, interval time.Duration, logger *slog.Logger) *Feed {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Feed{
		hub:      hub,
		source:   source,
		interval: interval,
		logger:   logger.With("component", "account_feed"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run polls until ctx is cancelled.
func (f *Feed) Run(ctx context.Context) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, login := range f.hub.Logins() {
				f.Push(ctx, login)
			}
		}
	}
}

// Push loads and delivers one snapshot for login.
func (f *Feed) Push(ctx context.Context, login string) {
	f.hub.Send(f.snapshot(ctx, login))
}

func (f *Feed) snapshot(ctx context.Context, login string) Message {
	acct, err := f.source.GetAccount(ctx, login)
	if err != nil {
		f.logger.Warn("load account snapshot", "login", login, "error", err)
	}
	if err != nil || acct == nil {
		return NewUnavailable(login, f.now())
	}
	return NewSnapshot(acct, f.now())
}

// Handler upgrades the request and subscribes it to the session login's feed.
// It must run behind the session middleware.
func (f *Feed) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		login := auth.Login(r.Context())
		if login == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		conn, err := ws.Accept(w, r, nil)
		if err != nil {
			f.logger.Warn("websocket accept", "error", err)
			return
		}

		if err := wsjson.Write(r.Context(), conn, f.snapshot(r.Context(), login)); err != nil {
			conn.Close(ws.StatusInternalError, "initial snapshot")
			return
		}

		NewClient(f.hub, conn, login).Run(r.Context())
		conn.Close(ws.StatusNormalClosure, "")
	}
}
