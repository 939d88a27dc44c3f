package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jxucoder/bedrockcall/internal/config"
)

// configKey describes a single configuration value.
type configKey struct {
	Key    string
	Desc   string
	Secret bool
}

// allConfigKeys lists every configurable value in display order.
var allConfigKeys = []configKey{
	{"BEDROCKCALL_MODEL_ID", "Bedrock model ID", false},
	{"BEDROCKCALL_MAX_TOKENS", "Default token budget", false},
	{"BEDROCKCALL_HUMAN_PREFIX", "Prepend \"Human: \" to prompts (true/false)", false},
	{"BEDROCKCALL_TIMEOUT", "Per-command timeout (e.g. 60s, 0 = none)", false},
	{"BEDROCKCALL_PROMPT_FILE", "Prompt file read by `run`", false},
	{"AWS_REGION", "AWS region for Bedrock", false},
	{"AWS_PROFILE", "AWS shared config profile", false},
	{"BEDROCKCALL_DATA_DIR", "Data directory", false},
	{"BEDROCKCALL_DATABASE_URL", "PostgreSQL URL for history (default SQLite)", true},
	{"BEDROCKCALL_RECORD", "Record CLI invocations (true/false)", false},
	{"BEDROCKCALL_ADDR", "HTTP listen address for `serve`", false},
	{"BEDROCKCALL_JOBS_DIR", "Prompt jobs directory", false},
	{"TELEGRAM_BOT_TOKEN", "Telegram bot token (from @BotFather)", true},
	{"SLACK_BOT_TOKEN", "Slack Bot User OAuth Token (xoxb-...)", true},
	{"SLACK_APP_TOKEN", "Slack App-Level Token (xapp-...)", true},
}

// ---------------------------------------------------------------------------
// Cobra commands
// ---------------------------------------------------------------------------

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage bedrockcall configuration",
	Long: `Manage bedrockcall configuration.

Configuration is stored in ~/.bedrockcall/config.env (or $BEDROCKCALL_CONFIG)
and can be overridden by environment variables.

  bedrockcall config set KEY VALUE      Set a single config value
  bedrockcall config unset KEY          Remove a config value
  bedrockcall config show               Show current configuration
  bedrockcall config path               Print config file path`,
}

var configSetCmd = &cobra.Command{
	Use:   "set KEY VALUE",
	Short: "Set a config value",
	Long: `Set a single configuration value. Example:
  bedrockcall config set AWS_REGION us-east-1`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset KEY",
	Short: "Remove a config value",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigUnset,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  "Display all configured values. Secrets are masked.",
	RunE:  runConfigShow,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print config file path",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintln(cmd.OutOrStdout(), config.FilePath())
		return nil
	},
}

func init() {
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configPathCmd)
	rootCmd.AddCommand(configCmd)
}

// ---------------------------------------------------------------------------
// Config file helpers
// ---------------------------------------------------------------------------

// saveConfigFile writes key=value pairs to path.
func saveConfigFile(path string, values map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("opening config file: %w", err)
	}
	defer f.Close()

	writeConfig(f, values)
	return nil
}

func writeConfig(w io.Writer, values map[string]string) {
	fmt.Fprintln(w, "# bedrockcall configuration")
	fmt.Fprintln(w, "# Managed by: bedrockcall config")
	fmt.Fprintln(w, "# Environment variables override these values.")
	fmt.Fprintln(w)

	// Write in a stable order: known keys first, then any extras.
	written := make(map[string]bool)
	for _, ck := range allConfigKeys {
		if v, ok := values[ck.Key]; ok && v != "" {
			fmt.Fprintf(w, "%s=%s\n", ck.Key, v)
			written[ck.Key] = true
		}
	}

	var extras []string
	for k := range values {
		if !written[k] && values[k] != "" {
			extras = append(extras, k)
		}
	}
	sort.Strings(extras)
	for _, k := range extras {
		fmt.Fprintf(w, "%s=%s\n", k, values[k])
	}
}

// effectiveValue returns the current value for a key, preferring env vars over config file.
func effectiveValue(key string, fileValues map[string]string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fileValues[key]
}

// maskSecret masks a secret string, showing only the first 4 and last 4 characters.
func maskSecret(s string) string {
	if len(s) <= 12 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}

func isSecret(key string) bool {
	for _, ck := range allConfigKeys {
		if ck.Key == key {
			return ck.Secret
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// config set / unset / show
// ---------------------------------------------------------------------------

// runConfigSet sets a single key=value in the config file.
func runConfigSet(cmd *cobra.Command, args []string) error {
	key, value := args[0], args[1]
	path := config.FilePath()

	fileValues, err := config.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}

	fileValues[key] = value

	if err := saveConfigFile(path, fileValues); err != nil {
		return err
	}

	if isSecret(key) {
		value = maskSecret(value)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s\n", key, value)
	return nil
}

func runConfigUnset(cmd *cobra.Command, args []string) error {
	key := args[0]
	path := config.FilePath()

	fileValues, err := config.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	if _, ok := fileValues[key]; !ok {
		fmt.Fprintf(cmd.OutOrStdout(), "%s is not set in %s\n", key, path)
		return nil
	}
	delete(fileValues, key)

	if err := saveConfigFile(path, fileValues); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Unset %s\n", key)
	return nil
}

// runConfigShow displays the current effective configuration.
func runConfigShow(cmd *cobra.Command, args []string) error {
	path := config.FilePath()
	fileValues, err := config.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Config file: %s\n\n", path)

	for _, ck := range allConfigKeys {
		value := effectiveValue(ck.Key, fileValues)
		source := ""
		if os.Getenv(ck.Key) != "" {
			source = " (from env)"
		} else if fileValues[ck.Key] != "" {
			source = " (from config file)"
		}

		display := "(not set)"
		if value != "" {
			if ck.Secret {
				display = maskSecret(value)
			} else {
				display = value
			}
		}

		fmt.Fprintf(out, "  %-25s %s%s\n", ck.Key, display, source)
	}
	return nil
}
