package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"followsync/pkg/config"
	"followsync/pkg/logger"
	"followsync/pkg/ui"
)

var (
	// Version information
	version   = "1.0.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile string
	logLevel   string
	profile    string
	apiKey     string
	storeFlag  string
	redisAddr  string
	quiet      bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "followsync",
	Short: "Track who follows and unfollows an account",
	Long: `followsync harvests an account's follower list from a paginated
social-graph API, compares it with the previous snapshot and keeps a
30-day history of unfollowers.

Features:
  - One-shot syncs from the terminal, with an optional live dashboard
  - An HTTP API with POST /api/v1/sync and read endpoints
  - Periodic background syncs for a list of accounts
  - Redis, file or in-memory storage
  - API keys kept in the system keychain or an encrypted file`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if quiet {
			logLevel = "error"
		}
		switch cmd.Name() {
		case "version", "help", "serve":
		default:
			if !quiet && !jsonOutput {
				ui.PrintLogo()
			}
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		ui.PrintError("Error", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is ./.followsync.yaml or ~/.config/followsync/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVarP(&profile, "profile", "p", "", "stored credential profile to use")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "upstream API key (overrides stored credentials)")
	rootCmd.PersistentFlags().StringVar(&storeFlag, "store", "", "store driver (redis, file, memory)")
	rootCmd.PersistentFlags().StringVar(&redisAddr, "redis-addr", "", "redis address for the redis store")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress all output except errors")

	rootCmd.SetVersionTemplate(`followsync {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// loadConfig loads the configuration with the global flags applied and
// initializes the global logger from it.
func loadConfig(extra map[string]interface{}) (*config.Config, error) {
	flags := map[string]interface{}{
		"api-key":    apiKey,
		"store":      storeFlag,
		"redis-addr": redisAddr,
		"log-level":  logLevel,
	}
	for k, v := range extra {
		flags[k] = v
	}

	cfg, err := config.Load(configFile, flags)
	if err != nil {
		return nil, err
	}
	if err := logger.Initialize(&cfg.Logging); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, nil
}
