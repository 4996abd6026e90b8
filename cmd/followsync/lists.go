package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"followsync/pkg/models"
	"followsync/pkg/ui"
)

var (
	jsonOutput bool
	refresh    bool
)

var followersCmd = &cobra.Command{
	Use:   "followers <account-id>",
	Short: "Show the stored follower snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			snap, err := a.syncer.Followers(ctx, args[0])
			if err != nil {
				return err
			}
			return printRecords(snap, nil)
		})
	},
}

var unfollowersCmd = &cobra.Command{
	Use:   "unfollowers <account-id>",
	Short: "Show unfollowers of the retention window, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			events, err := a.syncer.Unfollowers(ctx, args[0])
			if err != nil {
				return err
			}
			records := make([]models.FollowerRecord, len(events))
			when := make([]time.Time, len(events))
			for i, e := range events {
				records[i] = e.FollowerRecord
				when[i] = e.UnfollowedAt
			}
			if jsonOutput {
				return printJSON(events)
			}
			return printRecords(records, when)
		})
	},
}

var notFollowingBackCmd = &cobra.Command{
	Use:   "not-following-back <account-id>",
	Short: "Show accounts followed that do not follow back",
	Long: `Harvest the accounts the given account follows and list those missing
from its stored follower snapshot. The following list is cached for
sync.following_cache_ttl; --refresh bypasses the cache.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			users, err := a.syncer.NotFollowingBack(ctx, args[0], refresh)
			if err != nil {
				return err
			}
			return printRecords(users, nil)
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <account-id>",
	Short: "Show whether an account needs or allows a sync",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			st, err := a.syncer.Status(ctx, args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(st)
			}

			last := "never"
			if !st.LastSync.IsZero() {
				last = st.LastSync.Local().Format(time.RFC1123)
			}
			ui.PrintInfo("Account", st.AccountID)
			ui.PrintInfo("Followers stored", fmt.Sprint(st.FollowerCount))
			ui.PrintInfo("Last sync", last)
			ui.PrintInfo("Needs sync", fmt.Sprint(st.NeedsSync))
			if st.CanUpdate {
				ui.PrintSuccess("A sync is allowed now")
			} else {
				ui.PrintWarning("Next sync allowed in " + ui.FormatWait(st.NextUpdateIn))
			}
			return nil
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{followersCmd, unfollowersCmd, notFollowingBackCmd, statusCmd} {
		c.Flags().BoolVar(&jsonOutput, "json", false, "print JSON instead of a table")
		rootCmd.AddCommand(c)
	}
	notFollowingBackCmd.Flags().BoolVar(&refresh, "refresh", false, "harvest the following list even when cached")
}

// withApp loads the configuration, builds the engine and runs fn
func withApp(fn func(ctx context.Context, a *app) error) error {
	cfg, err := loadConfig(nil)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	a, err := newApp(cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.SyncTimeout)
	defer cancel()
	return fn(ctx, a)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var (
	headerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FFFF")).Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
)

// printRecords renders records as a table. when, if set, adds a date column.
func printRecords(records []models.FollowerRecord, when []time.Time) error {
	if jsonOutput {
		if records == nil {
			records = []models.FollowerRecord{}
		}
		return printJSON(records)
	}
	if len(records) == 0 {
		ui.PrintInfo("Accounts", "0")
		return nil
	}

	headers := []string{"ID", "USERNAME", "NAME"}
	if when != nil {
		headers = append(headers, "UNFOLLOWED")
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("#FF00FF"))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...)

	for i, r := range records {
		row := []string{r.ID, "@" + r.Username, r.DisplayName}
		if when != nil {
			row = append(row, when[i].Local().Format("2006-01-02 15:04"))
		}
		t.Row(row...)
	}

	fmt.Println(t.Render())
	ui.PrintInfo("Accounts", fmt.Sprint(len(records)))
	return nil
}
