package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukerupert/brokerdesk/internal/backup"
	"github.com/dukerupert/brokerdesk/internal/config"
	"github.com/dukerupert/brokerdesk/internal/database"
	"github.com/dukerupert/brokerdesk/internal/email"
	"github.com/dukerupert/brokerdesk/internal/funds"
	"github.com/dukerupert/brokerdesk/internal/lifecycle"
	"github.com/dukerupert/brokerdesk/internal/logging"
	"github.com/dukerupert/brokerdesk/internal/platform"
	"github.com/dukerupert/brokerdesk/internal/server"
)

func main() {
	configPath := flag.String("config", os.Getenv("BROKERDESK_CONFIG"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := logging.Setup(cfg.LogLevel)

	demoBalance, err := cfg.DemoBalance()
	if err != nil {
		log.Fatalf("invalid demo balance: %v", err)
	}

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	mailer := email.NewClient(cfg.PostmarkToken, cfg.PostmarkFrom)
	if !mailer.Configured() {
		logger.Warn("postmark not configured, verification emails cannot be sent")
	}

	srv := server.New(db, server.Deps{
		Platform: platform.NewClient(platform.Config{BaseURL: cfg.PlatformURL, Timeout: cfg.PlatformTimeout}),
		Mailer:   mailer,
		Lifecycle: lifecycle.Config{
			BaseURL:            cfg.BaseURL,
			DemoInitialBalance: demoBalance,
		},
		SessionSecret: []byte(cfg.SessionSecret),
		FeedInterval:  cfg.FeedInterval,
	}, logger)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	go srv.Feed().Run(ctx)
	go srv.AuthLimiter().CleanupLoop(time.Minute, ctx.Done())
	go reconcileLoop(ctx, srv.Funds(), cfg.ReconcileAfter, logger)
	if cfg.Backup.Interval > 0 {
		storage := cfg.Backup.Storage()
		backups := backup.NewService(backup.NewS3Client(storage), storage, db, logger)
		go backups.Loop(ctx, cfg.Backup.Interval, cfg.Backup.Retention)
	}

	// no WriteTimeout: account feed connections are long-lived
	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.Info("brokerdesk listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("shutdown error: %v", err)
	}
}

// reconcileLoop periodically fails withdrawals whose deduction was never
// confirmed locally so operators see them.
func reconcileLoop(ctx context.Context, svc *funds.Service, olderThan time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(olderThan)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stale, err := svc.Reconcile(ctx, olderThan)
			if err != nil {
				logger.Error("reconcile withdrawals", "error", err)
				continue
			}
			if len(stale) > 0 {
				logger.Warn("stale withdrawals need review", "count", len(stale))
			}
		}
	}
}
