package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dukerupert/brokerdesk/internal/backup"
)

// NewBackupCommand groups database snapshot commands.
func NewBackupCommand(rootOpts *RootOptions, open Opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Encrypted database snapshots in S3",
	}
	cmd.AddCommand(newBackupRunCommand(rootOpts, open))
	cmd.AddCommand(newBackupListCommand(rootOpts, open))
	cmd.AddCommand(newBackupPruneCommand(rootOpts, open))
	cmd.AddCommand(newBackupFetchCommand(rootOpts, open))
	return cmd
}

// withBackups opens the env and fails when no storage is configured.
func withBackups(rootOpts *RootOptions, open Opener, fn func(env *Env) error) error {
	env, err := open(rootOpts)
	if err != nil {
		return err
	}
	defer env.Close()
	if env.Backups == nil {
		return backup.ErrNotConfigured
	}
	return fn(env)
}

func newBackupRunCommand(rootOpts *RootOptions, open Opener) *cobra.Command {
	return &cobra.Command{
		Use:          "run",
		Short:        "Snapshot, encrypt and upload the database",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackups(rootOpts, open, func(env *Env) error {
				a, err := env.Backups.Run(cmd.Context())
				if err != nil {
					return err
				}
				if rootOpts.Format == "json" {
					return writeJSON(cmd.OutOrStdout(), a)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "uploaded %s (%d bytes)\n", a.Key, a.Size)
				return nil
			})
		},
	}
}

func newBackupListCommand(rootOpts *RootOptions, open Opener) *cobra.Command {
	return &cobra.Command{
		Use:          "list",
		Short:        "List stored snapshots, newest first",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackups(rootOpts, open, func(env *Env) error {
				archives, err := env.Backups.List(cmd.Context())
				if err != nil {
					return err
				}
				if rootOpts.Format == "json" {
					return writeJSON(cmd.OutOrStdout(), archives)
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "KEY\tSIZE\tCREATED")
				for _, a := range archives {
					fmt.Fprintf(tw, "%s\t%d\t%s\n", a.Key, a.Size, a.CreatedAt.Format(time.RFC3339))
				}
				return tw.Flush()
			})
		},
	}
}

func newBackupPruneCommand(rootOpts *RootOptions, open Opener) *cobra.Command {
	var retention time.Duration
	cmd := &cobra.Command{
		Use:          "prune",
		Short:        "Delete snapshots past retention, keeping the newest",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackups(rootOpts, open, func(env *Env) error {
				keep := retention
				if keep <= 0 {
					keep = env.Retention
				}
				deleted, err := env.Backups.Prune(cmd.Context(), keep)
				if err != nil {
					return err
				}
				if rootOpts.Format == "json" {
					return writeJSON(cmd.OutOrStdout(), map[string][]string{"deleted": deleted})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %d snapshots\n", len(deleted))
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&retention, "older-than", 0, "retention window (default from config)")
	return cmd
}

func newBackupFetchCommand(rootOpts *RootOptions, open Opener) *cobra.Command {
	return &cobra.Command{
		Use:          "fetch <key> <dst>",
		Short:        "Download and decrypt a snapshot to a local file",
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackups(rootOpts, open, func(env *Env) error {
				if err := env.Backups.Fetch(cmd.Context(), args[0], args[1]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "restored %s to %s; stop the server and replace the database file to use it\n", args[0], args[1])
				return nil
			})
		},
	}
}
