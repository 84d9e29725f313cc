package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dukerupert/brokerdesk/internal/funds"
	"github.com/dukerupert/brokerdesk/internal/handler"
	"github.com/dukerupert/brokerdesk/internal/lifecycle"
	"github.com/dukerupert/brokerdesk/internal/middleware"
	"github.com/dukerupert/brokerdesk/internal/session"
	"github.com/dukerupert/brokerdesk/internal/store"
	ws "github.com/dukerupert/brokerdesk/internal/websocket"
)

const (
	authRateLimit  = 10
	authRateWindow = time.Minute
)

// Platform is everything the server needs from the trading platform.
type Platform interface {
	lifecycle.Provisioner
	funds.Ledger
	handler.PlatformPasswords
}

type Deps struct {
	Platform      Platform
	Mailer        lifecycle.Mailer
	Lifecycle     lifecycle.Config
	SessionSecret []byte
	FeedInterval  time.Duration
}

type Server struct {
	db          *sql.DB
	signups     *store.SignupStore
	sessions    *session.Manager
	funds       *funds.Service
	lifecycle   *lifecycle.Service
	feed        *ws.Feed
	authH       *handler.AuthHandler
	accountsH   *handler.AccountsHandler
	tradingH    *handler.TradingHandler
	fundsH      *handler.FundsHandler
	authLimiter *middleware.Limiter
	logger      *slog.Logger
}

func New(db *sql.DB, deps Deps, logger *slog.Logger) *Server {
	signups := store.NewSignupStore(db)
	withdrawals := store.NewWithdrawalStore(db)
	mirror := store.NewMirrorStore(db)

	sessions := session.NewManager(session.NewCodec(deps.SessionSecret))
	lc := lifecycle.NewService(signups, deps.Platform, deps.Mailer, deps.Lifecycle, logger)
	fs := funds.NewService(withdrawals, signups, deps.Platform, logger)
	feed := ws.NewFeed(ws.NewHub(logger.With("component", "websocket")), deps.Platform, deps.FeedInterval, logger)

	return &Server{
		db:          db,
		signups:     signups,
		sessions:    sessions,
		funds:       fs,
		lifecycle:   lc,
		feed:        feed,
		authH:       handler.NewAuthHandler(lc, sessions, logger),
		accountsH:   handler.NewAccountsHandler(lc, sessions, logger),
		tradingH:    handler.NewTradingHandler(mirror, signups, deps.Platform, logger),
		fundsH:      handler.NewFundsHandler(fs, feed, logger),
		authLimiter: middleware.NewLimiter(authRateLimit, authRateWindow),
		logger:      logger,
	}
}

// AuthLimiter returns the auth route limiter so its buckets can be swept.
func (s *Server) AuthLimiter() *middleware.Limiter {
	return s.authLimiter
}

// Feed returns the account feed so its poller can be started.
func (s *Server) Feed() *ws.Feed {
	return s.feed
}

func (s *Server) Funds() *funds.Service {
	return s.funds
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestLogger(s.logger.With("component", "http")))

	requireSession := middleware.RequireSession(s.sessions, s.signups, s.logger.With("component", "session"))

	r.Get("/health", s.healthHandler)

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.With(s.rateLimited).Post("/register", s.authH.Register)
			r.Post("/verify", s.authH.Verify)
			r.With(s.rateLimited).Post("/login", s.authH.Login)
			r.With(s.rateLimited).Post("/otp-verify", s.authH.VerifyOTP)
			r.Post("/logout", s.authH.Logout)
			r.With(requireSession).Post("/password", s.authH.ChangePassword)
		})

		r.Group(func(r chi.Router) {
			r.Use(requireSession)

			r.Get("/accounts/list", s.accountsH.List)
			r.Post("/accounts/switch", s.accountsH.Switch)
			r.Post("/accounts/create-real", s.accountsH.CreateReal)

			r.Get("/user/account/get", s.tradingH.Account)
			r.Get("/profile", s.tradingH.Profile)
			r.Get("/deals/history", s.tradingH.Deals)
			r.Get("/deals/positions", s.tradingH.Positions)
			r.Get("/balance-history", s.tradingH.BalanceHistory)
			r.Post("/user/check_password", s.tradingH.CheckPassword)
			r.Post("/user/change_password", s.tradingH.ChangePassword)

			r.Post("/demo/set_balance", s.fundsH.SetDemoBalance)
			r.Post("/funds/withdrawal", s.fundsH.Withdraw)
			r.Get("/funds/withdrawal/history", s.fundsH.History)
			r.Post("/funds/withdrawal/cancel", s.fundsH.Cancel)

			r.Get("/ws/account", s.feed.Handler())
		})
	})

	return r
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	w.Header().Set("Content-Type", "application/json")
	if err := s.db.PingContext(ctx); err != nil {
		s.logger.Error("health check", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"status": "unavailable"})
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) rateLimited(next http.Handler) http.Handler {
	return s.authLimiter.Middleware(middleware.ClientRoute)(next)
}
