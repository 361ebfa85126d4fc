package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Manage application settings",
	Long: `View and change transfer, anonymisation and platform settings.

Settings are stored in ~/.subanon/config.toml. Environment variables such
as SUBANON_CONCURRENCY override the stored values.`,
	RunE: runSettingsShow,
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current settings",
	RunE:  runSettingsShow,
}

var settingsSetCmd = &cobra.Command{
	Use:   "set [key] [value]",
	Short: "Change a setting",
	Long: `Change one setting by its dotted key, for example:

  subanon settings set transfer.concurrency 6
  subanon settings set transfer.cooldown 45s
  subanon settings set anonymise.token_prefix Student`,
	Args: cobra.ExactArgs(2),
	RunE: runSettingsSet,
}

func init() {
	settingsCmd.AddCommand(settingsShowCmd)
	settingsCmd.AddCommand(settingsSetCmd)
	rootCmd.AddCommand(settingsCmd)
}

func runSettingsShow(cmd *cobra.Command, _ []string) error {
	if settingsService == nil {
		return errors.New("settings service not configured")
	}

	settings, err := settingsService.Get()
	if err != nil {
		return fmt.Errorf("failed to get settings: %w", err)
	}

	cmd.Println("Current Settings")
	cmd.Println("================")
	cmd.Println()

	t := settings.Transfer
	cmd.Println("[Transfer]")
	cmd.Printf("  Concurrency: %d\n", t.Concurrency)
	cmd.Printf("  Max Attempts: %d\n", t.MaxAttempts)
	cmd.Printf("  Backoff: %s to %s\n", t.BaseDelay, t.MaxDelay)
	cmd.Printf("  Rate Limit Cooldown: %s\n", t.Cooldown)
	cmd.Printf("  Requests Per Second: %g\n", t.RequestsPerSecond)
	cmd.Printf("  Rate Limit Retries: %d\n", t.RateLimitRetries)
	cmd.Printf("  In-flight Timeout: %s\n", t.InFlightTimeout)
	cmd.Println()

	cmd.Println("[Anonymise]")
	cmd.Printf("  Token Prefix: %s\n", settings.Anonymise.TokenPrefix)
	if settings.Anonymise.Salt != "" {
		cmd.Printf("  Salt: %s\n", maskSecret(settings.Anonymise.Salt))
	} else {
		cmd.Printf("  Salt: (random per batch)\n")
	}
	cmd.Println()

	cmd.Println("[Platform]")
	cmd.Printf("  Base URL: %s\n", settings.Platform.BaseURL)
	cmd.Println()

	cmd.Println(mutedStyle.Render("Keys: " + strings.Join(settingsService.Keys(), ", ")))
	return nil
}

func runSettingsSet(cmd *cobra.Command, args []string) error {
	if settingsService == nil {
		return errors.New("settings service not configured")
	}

	key, value := args[0], args[1]
	if err := settingsService.Set(key, value); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}

	shown := value
	if key == "anonymise.salt" {
		shown = maskSecret(value)
	}
	cmd.Printf("%s set to %s\n", key, shown)
	return nil
}
