package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"followsync/internal/scheduler"
	"followsync/pkg/harvest"
	"followsync/pkg/logger"
	"followsync/pkg/ui"
	"followsync/pkg/ui/tui"
)

var (
	// Sync command flags
	syncWorkers  int
	syncAll      bool
	useTUI       bool
	notifyOnDone bool
	maxPages     int
)

// syncCmd represents the sync command
var syncCmd = &cobra.Command{
	Use:   "sync [account-id...]",
	Short: "Harvest followers and record unfollowers",
	Long: `Harvest the current follower list of each account, compare it with the
stored snapshot and record unfollowers.

A sync is refused when the previous one is more recent than the configured
minimum interval, and an empty harvest never replaces a stored snapshot.`,
	Example: `  # Sync one account
  followsync sync 783214

  # Sync the accounts listed under scheduler.accounts with a live dashboard
  followsync sync --all --tui

  # Get a desktop notification when someone unfollows
  followsync sync 783214 --notify`,
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)

	syncCmd.Flags().IntVar(&syncWorkers, "workers", 0, "accounts synced concurrently (default: scheduler.workers)")
	syncCmd.Flags().BoolVar(&syncAll, "all", false, "sync every account listed under scheduler.accounts")
	syncCmd.Flags().BoolVar(&useTUI, "tui", false, "use interactive terminal UI with real-time progress")
	syncCmd.Flags().BoolVar(&notifyOnDone, "notify", false, "send a desktop notification when unfollowers are found")
	syncCmd.Flags().IntVar(&maxPages, "max-pages", 0, "maximum follower pages per harvest")
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(map[string]interface{}{"max-pages": maxPages})
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	accounts := args
	if syncAll {
		accounts = append(accounts, cfg.Scheduler.Accounts...)
	}
	if len(accounts) == 0 {
		return fmt.Errorf("no accounts to sync: pass account ids or use --all")
	}

	var view ui.SyncView
	var terminal *tui.TUI
	if useTUI {
		terminal = tui.NewTUI(accounts)
		view = terminal
	} else if !quiet {
		view = ui.NewConsoleProgress(cfg.Harvest.MaxPages)
	}

	var pages harvest.PageObserver
	if view != nil {
		pages = view
	}
	a, err := newApp(cfg, pages)
	if err != nil {
		return err
	}
	defer a.Close()

	if !a.client.HasCredentials() {
		ui.PrintError("No upstream API key found", "")
		fmt.Println("\nStore one securely with:")
		fmt.Println("  followsync auth login")
		fmt.Println("\nor set FOLLOWSYNC_API_KEY in the environment.")
		return errors.New("missing API key")
	}

	workers := syncWorkers
	if workers <= 0 {
		workers = cfg.Scheduler.Workers
	}
	opts := scheduler.Options{
		Workers: workers,
		Retries: a.metrics,
		Logger:  a.log,
	}
	if view != nil {
		opts.Listener = view
	}
	sched := scheduler.New(a.syncer, opts)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var results []scheduler.SyncResult
	if terminal != nil {
		results, err = runWithTUI(ctx, terminal, sched, accounts)
		if err != nil {
			return err
		}
	} else {
		results = sched.RunOnce(ctx, accounts)
	}

	if notifyOnDone {
		notifier := ui.NewNotifier()
		for _, r := range results {
			if r.Error == nil {
				notifier.NotifySync(r.Job.AccountID, r.Result)
			}
		}
	}

	summary := scheduler.Summarize(results)
	logger.GetLogger().InfoWithFields("Sync run finished", map[string]interface{}{
		"succeeded": summary.Succeeded,
		"skipped":   summary.Skipped,
		"failed":    summary.Failed,
	})
	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d syncs failed", summary.Failed, len(results))
	}
	return nil
}

// runWithTUI runs the round in the background while the dashboard owns the
// terminal. Quitting the dashboard cancels the round.
func runWithTUI(ctx context.Context, terminal *tui.TUI, sched *scheduler.Scheduler, accounts []string) ([]scheduler.SyncResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	syncDone := make(chan []scheduler.SyncResult, 1)
	go func() {
		syncDone <- sched.RunOnce(ctx, accounts)
	}()

	tuiDone := make(chan error, 1)
	go func() {
		tuiDone <- terminal.Start()
	}()

	select {
	case results := <-syncDone:
		terminal.Stop()
		<-tuiDone
		return results, nil
	case err := <-tuiDone:
		cancel()
		results := <-syncDone
		if err != nil {
			return results, fmt.Errorf("terminal UI failed: %w", err)
		}
		return results, nil
	}
}
