package app

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/dyadsync/dyad"
	"github.com/dyadsync/dyad/internal/daemon"
	"github.com/dyadsync/dyad/internal/google"
	"github.com/dyadsync/dyad/pkg/reconcile"
)

// NewSyncCommand creates the sync command.
func (a *App) NewSyncCommand() *cobra.Command {
	var (
		dryRun    bool
		full      bool
		strategy  string
		batchSize int
		threshold float64
		timeout   time.Duration
		noBackup  bool
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one reconciliation pass between both accounts",
		Long: `Sync fetches changes from both accounts, matches and reconciles
them, and applies the resulting creates, updates, and deletes.

The first run lists both address books in full and records mappings;
later runs are incremental. Use --dry-run to preview the plan without
touching either account.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			engine, err := a.Engine(ctx)
			if err != nil {
				return err
			}

			if !dryRun && !noBackup {
				if err := a.snapshotAccounts(ctx); err != nil {
					a.logger.Warn().Err(err).Msg("Pre-sync backup failed, continuing")
				}
			}

			opts := []dyad.SyncOption{}
			if dryRun {
				opts = append(opts, dyad.WithDryRun())
			}
			if full {
				opts = append(opts, dyad.WithFull())
			}
			if strategy != "" {
				parsed, err := reconcile.ParseStrategy(strategy)
				if err != nil {
					return err
				}
				opts = append(opts, dyad.WithStrategy(parsed))
			}
			if batchSize > 0 {
				opts = append(opts, dyad.WithBatchSize(batchSize))
			}
			if threshold > 0 {
				opts = append(opts, dyad.WithSimilarityThreshold(threshold))
			}
			if timeout > 0 {
				opts = append(opts, dyad.WithTimeout(timeout))
			}

			result, err := engine.Sync(ctx, opts...)
			if err != nil {
				return err
			}

			printResult(cmd, result)
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "plan without mutating either account")
	cmd.Flags().BoolVar(&full, "full", false, "ignore stored cursors and list both accounts in full")
	cmd.Flags().StringVar(&strategy, "strategy", "", "conflict strategy: last_modified, prefer_a, prefer_b")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "cap mutations per account for this run")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "override the name similarity threshold (0-1)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "abort the run after this duration")
	cmd.Flags().BoolVar(&noBackup, "no-backup", false, "skip the pre-sync snapshot")

	return cmd
}

// printResult renders a run summary for humans.
func printResult(cmd *cobra.Command, result *dyad.Result) {
	mode := "sync"
	if result.DryRun {
		mode = "dry run"
	}
	cmd.Printf("Run %s (%s) finished in %s\n", result.RunID, mode, result.Duration.Round(time.Millisecond))
	cmd.Printf("  fetched: %d + %d records\n", result.FetchedA, result.FetchedB)
	cmd.Printf("  matched: %d pairs\n", result.Matched)

	if len(result.Planned) > 0 {
		ops := make([]string, 0, len(result.Planned))
		for op := range result.Planned {
			ops = append(ops, string(op))
		}
		sort.Strings(ops)
		for _, op := range ops {
			cmd.Printf("  planned %s: %d\n", op, result.Planned[reconcile.Op(op)])
		}
	}

	cmd.Printf("  applied: %d", result.Applied)
	if result.Skipped > 0 {
		cmd.Printf(", skipped: %d", result.Skipped)
	}
	cmd.Println()

	if result.HasFailures() {
		cmd.Printf("  failures: %d\n", len(result.Failures))
		for _, f := range result.Failures {
			cmd.Printf("    %s %s: %s\n", f.Op, f.RecordID, f.Reason)
		}
	}
}

// snapshotAccounts backs up both address books before a mutating run.
func (a *App) snapshotAccounts(ctx context.Context) error {
	manager := a.Backups()
	for _, name := range []string{a.config.AccountA, a.config.AccountB} {
		account, err := google.NewAccount(ctx, name, google.WithAccountLogger(a.logger))
		if err != nil {
			return err
		}
		page, err := account.List(ctx, "")
		if err != nil {
			return err
		}
		groups, err := account.ListGroups(ctx)
		if err != nil {
			return err
		}
		if _, err := manager.Create(name, page.Contacts, groups); err != nil {
			return err
		}
	}
	return nil
}

// NewStatusCommand creates the status command.
func (a *App) NewStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show sync state: mappings, group mappings, and cursors",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			engine, err := a.Engine(ctx)
			if err != nil {
				return err
			}

			status, err := engine.Status(ctx)
			if err != nil {
				return err
			}

			cmd.Printf("Accounts: %s <-> %s\n", a.config.AccountA, a.config.AccountB)
			cmd.Printf("State:    %s\n", a.config.StatePath)
			cmd.Printf("Mappings: %d contacts, %d groups\n", status.Mappings, status.GroupMappings)

			if len(status.Cursors) == 0 {
				cmd.Println("Cursors:  none (next run lists both accounts in full)")
				return nil
			}
			accounts := make([]string, 0, len(status.Cursors))
			for account := range status.Cursors {
				accounts = append(accounts, account)
			}
			sort.Strings(accounts)
			cmd.Println("Cursors:")
			for _, account := range accounts {
				cmd.Printf("  %s: %s\n", account, truncate(status.Cursors[account], 40))
			}
			return nil
		},
	}
}

// NewResetCommand creates the reset command.
func (a *App) NewResetCommand() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Clear all sync state",
		Long: `Reset deletes every stored mapping, cursor, and cached matching
decision. Contacts in both accounts are untouched. The next sync run
starts from scratch: full listings, fresh matching.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("reset discards all sync state; rerun with --yes to confirm")
			}

			ctx := cmd.Context()
			engine, err := a.Engine(ctx)
			if err != nil {
				return err
			}
			if err := engine.Reset(ctx); err != nil {
				return err
			}
			cmd.Println("Sync state cleared.")
			return nil
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the reset")
	return cmd
}

// NewDaemonCommand creates the daemon command.
func (a *App) NewDaemonCommand() *cobra.Command {
	var (
		interval time.Duration
		jitter   time.Duration
		noStart  bool
	)

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Sync continuously on an interval",
		Long: `Daemon runs sync passes on a fixed interval until interrupted.
Failures are logged and retried on the next tick.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			engine, err := a.Engine(ctx)
			if err != nil {
				return err
			}

			runner := daemon.NewRunner(engine,
				daemon.WithInterval(interval),
				daemon.WithJitter(jitter),
				daemon.WithRunOnStart(!noStart),
				daemon.WithRunnerLogger(a.logger),
			)

			err = runner.Run(ctx)
			stats := runner.Stats()
			cmd.Printf("Daemon exiting: %d runs, %d failures\n", stats.Runs, stats.Failures)
			if err != nil && ctx.Err() != nil {
				// Normal signal-driven shutdown.
				return nil
			}
			return err
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", a.config.Interval, "pause between sync runs")
	cmd.Flags().DurationVar(&jitter, "jitter", 0, "random extra delay before each run")
	cmd.Flags().BoolVar(&noStart, "no-start-run", false, "wait a full interval before the first run")
	return cmd
}

// NewBackupCommand creates the backup command.
func (a *App) NewBackupCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Snapshot both address books to YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			manager := a.Backups()

			for _, name := range []string{a.config.AccountA, a.config.AccountB} {
				account, err := google.NewAccount(ctx, name, google.WithAccountLogger(a.logger))
				if err != nil {
					return err
				}
				page, err := account.List(ctx, "")
				if err != nil {
					return err
				}
				groups, err := account.ListGroups(ctx)
				if err != nil {
					return err
				}
				path, err := manager.Create(name, page.Contacts, groups)
				if err != nil {
					return err
				}
				cmd.Printf("%s: %d contacts -> %s\n", name, len(page.Contacts), path)
			}
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored snapshots, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := a.Backups().List("")
			if err != nil {
				return err
			}
			if len(paths) == 0 {
				cmd.Println("No snapshots.")
				return nil
			}
			for _, path := range paths {
				cmd.Println(path)
			}
			return nil
		},
	})

	return cmd
}

// NewVersionCommand creates the version command.
func (a *App) NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("dyad %s\n", a.version)
			if a.config.Verbose {
				cmd.Printf("  commit: %s\n", a.commit)
				cmd.Printf("  built:  %s\n", a.date)
			}
		},
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
