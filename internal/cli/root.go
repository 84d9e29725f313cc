// Package cli implements brokerctl, the operator command line for signup
// and withdrawal maintenance.
package cli

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/dukerupert/brokerdesk/internal/backup"
	"github.com/dukerupert/brokerdesk/internal/config"
	"github.com/dukerupert/brokerdesk/internal/database"
	"github.com/dukerupert/brokerdesk/internal/email"
	"github.com/dukerupert/brokerdesk/internal/funds"
	"github.com/dukerupert/brokerdesk/internal/lifecycle"
	"github.com/dukerupert/brokerdesk/internal/logging"
	"github.com/dukerupert/brokerdesk/internal/platform"
	"github.com/dukerupert/brokerdesk/internal/store"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Format     string // "json" | "text"
}

var ValidFormats = []string{"text", "json"}

// Env is the set of services a command runs against.
type Env struct {
	DB             *sql.DB
	Signups        *store.SignupStore
	Lifecycle      *lifecycle.Service
	Funds          *funds.Service
	Backups        *backup.Service // nil when storage is not configured
	Retention      time.Duration
	ReconcileAfter time.Duration
	Logger         *slog.Logger

	closeFn func() error
}

func (e *Env) Close() error {
	if e.closeFn == nil {
		return nil
	}
	return e.closeFn()
}

// Opener builds an Env from the global options.
type Opener func(opts *RootOptions) (*Env, error)

// NewRootCommand creates brokerctl wired to the configured database and
// trading platform.
func NewRootCommand() *cobra.Command {
	return NewRootCommandWith(OpenEnv)
}

// NewRootCommandWith creates brokerctl using open to build its services.
func NewRootCommandWith(open Opener) *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "brokerctl",
		Short: "brokerdesk operator tool",
		Long:  "Inspect signups, requeue failed provisioning, reconcile unconfirmed withdrawals and manage database backups.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to YAML config file")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewMigrateCommand(opts, open))
	cmd.AddCommand(NewSignupCommand(opts, open))
	cmd.AddCommand(NewSignupsCommand(opts, open))
	cmd.AddCommand(NewRequeueCommand(opts, open))
	cmd.AddCommand(NewReconcileCommand(opts, open))
	cmd.AddCommand(NewBackupCommand(opts, open))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// OpenEnv loads configuration and connects to the database, the platform and
// Postmark the same way the server does.
func OpenEnv(opts *RootOptions) (*Env, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	logger := logging.Setup(cfg.LogLevel)

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	demoBalance, _ := cfg.DemoBalance()
	pc := platform.NewClient(platform.Config{BaseURL: cfg.PlatformURL, Timeout: cfg.PlatformTimeout})
	mailer := email.NewClient(cfg.PostmarkToken, cfg.PostmarkFrom)
	signups := store.NewSignupStore(db)

	var backups *backup.Service
	if storage := cfg.Backup.Storage(); storage.Enabled() {
		backups = backup.NewService(backup.NewS3Client(storage), storage, db, logger)
	}

	return &Env{
		DB:      db,
		Signups: signups,
		Lifecycle: lifecycle.NewService(signups, pc, mailer, lifecycle.Config{
			BaseURL:            cfg.BaseURL,
			DemoInitialBalance: demoBalance,
		}, logger),
		Funds:          funds.NewService(store.NewWithdrawalStore(db), signups, pc, logger),
		Backups:        backups,
		Retention:      cfg.Backup.Retention,
		ReconcileAfter: cfg.ReconcileAfter,
		Logger:         logger,
		closeFn:        db.Close,
	}, nil
}
