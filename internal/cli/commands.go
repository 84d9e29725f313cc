package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dukerupert/brokerdesk/internal/database"
	"github.com/dukerupert/brokerdesk/internal/model"
)

// NewMigrateCommand applies pending migrations and reports the schema version.
func NewMigrateCommand(rootOpts *RootOptions, open Opener) *cobra.Command {
	return &cobra.Command{
		Use:          "migrate",
		Short:        "Apply database migrations",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := open(rootOpts)
			if err != nil {
				return err
			}
			defer env.Close()

			// opening the database already migrated it
			v, err := database.Version(env.DB)
			if err != nil {
				return err
			}
			if rootOpts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), map[string]int64{"version": v})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema at version %d\n", v)
			return nil
		},
	}
}

// NewSignupCommand shows one signup by email.
func NewSignupCommand(rootOpts *RootOptions, open Opener) *cobra.Command {
	return &cobra.Command{
		Use:          "signup <email>",
		Short:        "Show a signup record",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := open(rootOpts)
			if err != nil {
				return err
			}
			defer env.Close()

			su, err := env.Signups.GetByEmail(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if su == nil {
				return fmt.Errorf("no signup for %s", args[0])
			}
			return writeSignups(cmd.OutOrStdout(), rootOpts.Format, []model.Signup{*su})
		},
	}
}

// NewSignupsCommand lists signups in one status.
func NewSignupsCommand(rootOpts *RootOptions, open Opener) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:          "signups",
		Short:        "List signups by status",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch status {
			case model.StatusPending, model.StatusVerified, model.StatusAccountsCreated, model.StatusFailed:
			default:
				return fmt.Errorf("invalid status %q", status)
			}

			env, err := open(rootOpts)
			if err != nil {
				return err
			}
			defer env.Close()

			rows, err := env.Signups.ListByStatus(cmd.Context(), status)
			if err != nil {
				return err
			}
			return writeSignups(cmd.OutOrStdout(), rootOpts.Format, rows)
		},
	}
	cmd.Flags().StringVarP(&status, "status", "s", model.StatusFailed, "signup status to list")
	return cmd
}

// NewRequeueCommand moves a failed signup back to pending and emails a new
// verification link.
func NewRequeueCommand(rootOpts *RootOptions, open Opener) *cobra.Command {
	return &cobra.Command{
		Use:          "requeue <email>",
		Short:        "Requeue a signup whose provisioning failed",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := open(rootOpts)
			if err != nil {
				return err
			}
			defer env.Close()

			su, err := env.Lifecycle.Requeue(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if rootOpts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), su)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "requeued %s, verification email sent\n", su.Email)
			return nil
		},
	}
}

// NewReconcileCommand fails withdrawals left settling after a deduction
// that was never confirmed locally, and lists them for review.
func NewReconcileCommand(rootOpts *RootOptions, open Opener) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:          "reconcile",
		Short:        "Fail stale settling withdrawals",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := open(rootOpts)
			if err != nil {
				return err
			}
			defer env.Close()

			age := olderThan
			if age <= 0 {
				age = env.ReconcileAfter
			}
			stale, err := env.Funds.Reconcile(cmd.Context(), age)
			if err != nil {
				return err
			}
			return writeWithdrawals(cmd.OutOrStdout(), rootOpts.Format, stale)
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "minimum age of a settling withdrawal (default from config)")
	return cmd
}
