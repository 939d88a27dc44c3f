// Package config provides configuration management for bedrockcall.
package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jxucoder/bedrockcall/pkg/bedrock"
)

// Config holds all configuration for bedrockcall.
type Config struct {
	// ModelID is the Bedrock model identifier sent with every invocation.
	ModelID string

	// MaxTokens is the default token budget.
	MaxTokens int

	// HumanPrefix prepends "Human: " to every prompt.
	HumanPrefix bool

	// Timeout bounds a single CLI invocation. 0 means no timeout.
	Timeout time.Duration

	// PromptFile is the file `bedrockcall run` reads its prompt from.
	PromptFile string

	// Region and Profile override the AWS SDK's default resolution.
	// Empty values leave the SDK in charge.
	Region  string
	Profile string

	// DataDir is the directory for persistent data (SQLite DB, jobs).
	DataDir string

	// DatabasePath is the full path to the SQLite database file.
	DatabasePath string

	// DatabaseURL selects PostgreSQL for invocation history instead of SQLite.
	DatabaseURL string

	// Record keeps a history of CLI invocations.
	Record bool

	// ServerAddr is the address the HTTP server listens on (e.g., ":7090").
	ServerAddr string

	// JobsDir holds YAML prompt job definitions.
	JobsDir string

	// Telegram relay (optional -- long polling, no public URL needed).
	TelegramBotToken string

	// Slack relay (optional -- Socket Mode).
	// SlackBotToken is the Bot User OAuth Token (xoxb-...).
	SlackBotToken string
	// SlackAppToken is the App-Level Token (xapp-...) required for Socket Mode.
	SlackAppToken string
}

// Load creates a Config from the config file and environment variables.
// Values are resolved in order: environment variable > config file > default.
func Load() (*Config, error) {
	// Existing env vars take precedence (loadConfigFile only sets unset vars).
	if err := loadConfigFile(FilePath()); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	dataDir := envOr("BEDROCKCALL_DATA_DIR", defaultDataDir())

	cfg := &Config{
		ModelID:          envOr("BEDROCKCALL_MODEL_ID", bedrock.DefaultModelID),
		MaxTokens:        envOrInt("BEDROCKCALL_MAX_TOKENS", bedrock.DefaultMaxTokens),
		HumanPrefix:      envOrBool("BEDROCKCALL_HUMAN_PREFIX", false),
		Timeout:          envOrDuration("BEDROCKCALL_TIMEOUT", 0),
		PromptFile:       envOr("BEDROCKCALL_PROMPT_FILE", "prompt.txt"),
		Region:           os.Getenv("AWS_REGION"),
		Profile:          os.Getenv("AWS_PROFILE"),
		DataDir:          dataDir,
		DatabasePath:     filepath.Join(dataDir, "bedrockcall.db"),
		DatabaseURL:      os.Getenv("BEDROCKCALL_DATABASE_URL"),
		Record:           envOrBool("BEDROCKCALL_RECORD", false),
		ServerAddr:       envOr("BEDROCKCALL_ADDR", ":7090"),
		JobsDir:          envOr("BEDROCKCALL_JOBS_DIR", filepath.Join(dataDir, "jobs")),
		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		SlackBotToken:    os.Getenv("SLACK_BOT_TOKEN"),
		SlackAppToken:    os.Getenv("SLACK_APP_TOKEN"),
	}

	return cfg, nil
}

// FilePath returns the config file location: $BEDROCKCALL_CONFIG if set,
// otherwise ~/.bedrockcall/config.env.
func FilePath() string {
	if p := os.Getenv("BEDROCKCALL_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(defaultDataDir(), "config.env")
}

// loadConfigFile reads key=value pairs from path and sets any values that
// are not already present in the environment. A missing file is not an error.
func loadConfigFile(path string) error {
	values, err := ReadFile(path)
	if err != nil {
		return err
	}
	for key, value := range values {
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
	return nil
}

// ReadFile parses a key=value config file. Blank lines and lines starting
// with '#' are skipped. A missing file yields an empty map.
func ReadFile(path string) (map[string]string, error) {
	values := make(map[string]string)

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return values, nil
		}
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) == 2 {
			values[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
		}
	}
	return values, scanner.Err()
}

// Validate checks that the configuration can produce a valid request.
func (c *Config) Validate() error {
	if c.ModelID == "" {
		return fmt.Errorf("BEDROCKCALL_MODEL_ID must not be empty")
	}
	if c.MaxTokens <= 0 {
		return fmt.Errorf("BEDROCKCALL_MAX_TOKENS must be positive, got %d", c.MaxTokens)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("BEDROCKCALL_TIMEOUT must not be negative, got %s", c.Timeout)
	}
	return nil
}

// EnsureDataDir creates DataDir if it does not exist.
func (c *Config) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	return nil
}

// TelegramEnabled returns true if the Telegram relay is configured.
func (c *Config) TelegramEnabled() bool {
	return c.TelegramBotToken != ""
}

// SlackEnabled returns true if Slack Socket Mode is configured.
func (c *Config) SlackEnabled() bool {
	return c.SlackBotToken != "" && c.SlackAppToken != ""
}

// BedrockOptions returns the invocation options this configuration implies.
func (c *Config) BedrockOptions() []bedrock.Option {
	opts := []bedrock.Option{
		bedrock.WithModel(c.ModelID),
		bedrock.WithMaxTokens(c.MaxTokens),
	}
	if c.HumanPrefix {
		opts = append(opts, bedrock.WithHumanPrefix())
	}
	return opts
}

// RuntimeConfig returns the AWS SDK overrides.
func (c *Config) RuntimeConfig() bedrock.RuntimeConfig {
	return bedrock.RuntimeConfig{Region: c.Region, Profile: c.Profile}
}

func envOrDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".bedrockcall"
	}
	return filepath.Join(home, ".bedrockcall")
}
