package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"followsync/pkg/auth"
	"followsync/pkg/ui"
)

// authCmd represents the auth command
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage upstream API keys",
	Long: `Manage stored upstream API keys.

Keys are stored using:
  - System keychain (when available)
  - Encrypted file with PBKDF2 key derivation
  - Environment variables (FOLLOWSYNC_API_KEY, read only)`,
}

var loginCmd = &cobra.Command{
	Use:   "login [profile]",
	Short: "Store an API key securely",
	Example: `  # Store the default key
  followsync auth login

  # Store a key under another profile
  followsync auth login staging`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout [profile]",
	Short: "Remove a stored API key",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		manager, err := auth.NewManager()
		if err != nil {
			return fmt.Errorf("failed to initialize credential manager: %w", err)
		}
		name := profileArg(args)
		if err := manager.Delete(name); err != nil {
			return err
		}
		ui.PrintSuccess("Profile removed: " + name)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		manager, err := auth.NewManager()
		if err != nil {
			return fmt.Errorf("failed to initialize credential manager: %w", err)
		}
		creds, err := manager.List()
		if err != nil {
			return fmt.Errorf("failed to list profiles: %w", err)
		}
		if len(creds) == 0 {
			ui.PrintInfo("No stored profiles", "Use 'followsync auth login' to add one")
			return nil
		}

		ui.PrintHighlight("Stored Profiles")
		fmt.Println()
		for i, cred := range creds {
			c := auth.Sanitize(cred)
			fmt.Printf("%d. Profile: %s\n", i+1, c.Profile)
			fmt.Printf("   API Key: %s\n", c.APIKey)
			if c.BaseURL != "" {
				fmt.Printf("   Base URL: %s\n", c.BaseURL)
			}
			if !c.LastModified.IsZero() {
				fmt.Printf("   Last Modified: %s\n", c.LastModified.Format("2006-01-02 15:04:05"))
			}
			fmt.Println()
		}
		return nil
	},
}

var authStatusCmd = &cobra.Command{
	Use:   "status [profile]",
	Short: "Show which API key a sync would use",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if v := os.Getenv("FOLLOWSYNC_API_KEY"); v != "" {
			ui.PrintInfo("Source", "FOLLOWSYNC_API_KEY")
			ui.PrintInfo("API Key", auth.MaskKey(v))
			return nil
		}

		manager, err := auth.NewManager()
		if err != nil {
			return fmt.Errorf("failed to initialize credential manager: %w", err)
		}
		cred, err := manager.Retrieve(profileArg(args))
		if errors.Is(err, auth.ErrCredentialsNotFound) {
			ui.PrintWarning("No API key configured")
			fmt.Println("\nRun 'followsync auth login' or set FOLLOWSYNC_API_KEY.")
			return nil
		}
		if err != nil {
			return err
		}
		ui.PrintInfo("Profile", cred.Profile)
		ui.PrintInfo("API Key", auth.MaskKey(cred.APIKey))
		if cred.BaseURL != "" {
			ui.PrintInfo("Base URL", cred.BaseURL)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(loginCmd)
	authCmd.AddCommand(logoutCmd)
	authCmd.AddCommand(listCmd)
	authCmd.AddCommand(authStatusCmd)
}

func profileArg(args []string) string {
	if len(args) > 0 && args[0] != "" {
		return args[0]
	}
	if profile != "" {
		return profile
	}
	return auth.DefaultProfile
}

func runLogin(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	name := profileArg(args)
	reader := bufio.NewReader(os.Stdin)

	if existing, _ := manager.Retrieve(name); existing != nil {
		fmt.Printf("Profile '%s' already exists. Replace its key? (y/N): ", name)
		input, _ := reader.ReadString('\n')
		if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(input)), "y") {
			return nil
		}
	}

	fmt.Print("API key (hidden): ")
	key, err := readPassword(reader)
	if err != nil {
		return fmt.Errorf("failed to read API key: %w", err)
	}
	if key == "" {
		return errors.New("an API key is required")
	}

	fmt.Print("Base URL (press Enter for the configured default): ")
	baseURL, _ := reader.ReadString('\n')

	cred := &auth.Credential{
		Profile:      name,
		APIKey:       key,
		BaseURL:      strings.TrimSpace(baseURL),
		LastModified: time.Now(),
	}
	if err := manager.Store(cred); err != nil {
		return fmt.Errorf("failed to store API key: %w", err)
	}

	ui.PrintSuccess(fmt.Sprintf("API key saved for profile %s (%s)", name, auth.MaskKey(key)))
	fmt.Println("\nSync an account with:")
	fmt.Println("  followsync sync <account-id>")
	return nil
}

// readPassword reads a secret from stdin without echoing when stdin is a terminal
func readPassword(reader *bufio.Reader) (string, error) {
	if term.IsTerminal(int(syscall.Stdin)) {
		secret, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err == nil {
			return strings.TrimSpace(string(secret)), nil
		}
	}

	input, err := reader.ReadString('\n')
	if err != nil && input == "" {
		return "", err
	}
	return strings.TrimSpace(input), nil
}
