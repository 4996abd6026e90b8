package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"followsync/pkg/auth"
	"followsync/pkg/config"
	"followsync/pkg/ui"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage followsync configuration files.

Configuration can be loaded from:
  - Command line flags (highest priority)
  - Environment variables (FOLLOWSYNC_*)
  - Configuration file
  - Default values (lowest priority)`,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create an example configuration file",
	Long: `Create an example configuration file with all available options.

The file is created as '.followsync.yaml' in the current directory
unless a different path is given with the --config flag.`,
	RunE: runConfigInit,
}

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration with secrets masked",
	RunE:  runConfigShow,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	RunE:  runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(initCmd)
	configCmd.AddCommand(showCmd)
	configCmd.AddCommand(validateCmd)
}

const exampleConfig = `# followsync configuration
#
# Every value can also be set with a FOLLOWSYNC_* environment variable,
# e.g. FOLLOWSYNC_API_KEY or FOLLOWSYNC_REDIS_ADDR.

api:
  # v2 uses x-api-key; v1 uses "Authorization: Bearer"
  variant: "v2"
  base_url: "https://api.tweetapi.com/tw-v2"
  # Prefer 'followsync auth login' over storing the key here
  api_key: ""
  page_size: 200
  # v2 query parameter carrying page_size
  page_size_param: "max_results"
  timeout: 30s

harvest:
  # Pages fetched per sync before the result is truncated
  max_pages: 50
  page_delay: 500ms
  # Wait before the single retry of a rate-limited page
  rate_limit_backoff: 30s

sync:
  # Minimum time between two syncs of one account, 0 disables the gate
  min_interval: 0s
  retention: 720h
  lock_ttl: 10m
  following_cache_ttl: 1h

store:
  # redis, file or memory
  driver: "redis"
  redis_addr: "localhost:6379"
  redis_password: ""
  redis_db: 0
  file_path: "followsync-state.json"

server:
  # header identity is only accepted on loopback unless trust_header is set
  addr: "127.0.0.1:8080"
  read_timeout: 15s
  write_timeout: 10m
  sync_timeout: 5m

identity:
  # header reads the account id from a header; jwt reads the sub claim
  mode: "header"
  header: "X-Account-ID"
  # set when a proxy in front of the server authenticates callers and sets the header
  trust_header: false
  jwt_secret: ""

scheduler:
  enabled: false
  interval: 12h
  workers: 2
  accounts: []

rate_limit:
  # smooth spreads requests evenly; sliding_window allows a full quota per minute
  strategy: "smooth"
  requests_per_minute: 120
  burst_size: 5

metrics:
  enabled: true
  path: "/metrics"

logging:
  # debug, info, warn, error
  level: "info"
  json: false
  file: ""
`

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := configFile
	if path == "" {
		path = ".followsync.yaml"
	}

	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("configuration file already exists: %s", path)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(exampleConfig), 0600); err != nil {
		return fmt.Errorf("failed to create configuration file: %w", err)
	}

	ui.PrintSuccess("Configuration file created: " + path)
	fmt.Println("\nNext steps:")
	fmt.Println("1. Store your API key with 'followsync auth login'")
	fmt.Println("2. Run 'followsync config validate' to check the configuration")
	fmt.Println("3. Sync an account with 'followsync sync <account-id>'")
	return nil
}

// masked returns a copy of cfg safe to print
func masked(cfg *config.Config) config.Config {
	out := *cfg
	if out.API.APIKey != "" {
		out.API.APIKey = auth.MaskKey(out.API.APIKey)
	}
	if out.Store.RedisPassword != "" {
		out.Store.RedisPassword = "********"
	}
	if out.Identity.JWTSecret != "" {
		out.Identity.JWTSecret = "********"
	}
	return out
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, nil)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	display := masked(cfg)
	data, err := yaml.Marshal(&display)
	if err != nil {
		return fmt.Errorf("failed to format configuration: %w", err)
	}

	ui.PrintHighlight("Current Configuration")
	fmt.Println()
	fmt.Print(string(data))

	fmt.Println("\nConfiguration sources (in order of priority):")
	fmt.Println("1. Command line flags")
	fmt.Println("2. Environment variables (FOLLOWSYNC_*)")
	if configFile != "" {
		fmt.Printf("3. Configuration file: %s\n", configFile)
	} else {
		fmt.Println("3. Configuration file: (searched in default locations)")
	}
	fmt.Println("4. Default values")
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	if configFile != "" {
		ui.PrintInfo("Validating configuration", configFile)
	}

	cfg, err := config.Load(configFile, nil)
	if err != nil {
		ui.PrintError("Configuration has errors:")
		var joined interface{ Unwrap() []error }
		if errors.As(err, &joined) {
			for _, e := range joined.Unwrap() {
				fmt.Printf("  - %v\n", e)
			}
		} else {
			fmt.Printf("  - %v\n", err)
		}
		return errors.New("invalid configuration")
	}

	var warnings []string
	if cfg.API.APIKey == "" {
		if _, err := resolveCredential(); err != nil {
			warnings = append(warnings, "no API key configured, run 'followsync auth login'")
		}
	}
	if cfg.Scheduler.Enabled && len(cfg.Scheduler.Accounts) == 0 {
		warnings = append(warnings, "scheduler is enabled without accounts")
	}
	if cfg.Store.Driver == "memory" {
		warnings = append(warnings, "memory store loses every snapshot on exit")
	}

	if len(warnings) > 0 {
		ui.PrintWarning("Configuration warnings:")
		for _, w := range warnings {
			fmt.Printf("  - %s\n", w)
		}
		fmt.Println()
	}

	ui.PrintSuccess("Configuration is valid")
	fmt.Println("\nConfiguration summary:")
	fmt.Printf("  Upstream: %s (%s)\n", cfg.API.BaseURL, cfg.API.Variant)
	fmt.Printf("  Store: %s\n", cfg.Store.Driver)
	fmt.Printf("  Max pages: %d\n", cfg.Harvest.MaxPages)
	fmt.Printf("  Min interval: %s\n", cfg.Sync.MinInterval)
	fmt.Printf("  Retention: %s\n", cfg.Sync.Retention)
	fmt.Printf("  Log level: %s\n", cfg.Logging.Level)
	return nil
}
