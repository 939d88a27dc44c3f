package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jxucoder/bedrockcall/internal/config"
	"github.com/jxucoder/bedrockcall/pkg/bedrock"
	"github.com/jxucoder/bedrockcall/pkg/store"
	"github.com/jxucoder/bedrockcall/pkg/store/postgres"
	"github.com/jxucoder/bedrockcall/pkg/store/sqlite"
)

// demoPrompt is the fixed prompt sent by `bedrockcall demo`.
const demoPrompt = "I need a few sentences on why gold is the best color."

// newInvokeAPI creates the Bedrock runtime client. Tests replace it.
var newInvokeAPI = func(ctx context.Context, cfg *config.Config) (bedrock.InvokeModelAPI, error) {
	return bedrock.NewRuntimeClient(ctx, cfg.RuntimeConfig())
}

var (
	askModel     string
	askMaxTokens int
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Ask the model why gold is the best color",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return invokeAndPrint(cmd, cfg, demoPrompt)
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Send the contents of the prompt file",
	Long: `Read the whole prompt from prompt.txt in the working directory (or
BEDROCKCALL_PROMPT_FILE), echo it, then print the reply.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		data, err := os.ReadFile(cfg.PromptFile)
		if err != nil {
			return fmt.Errorf("reading prompt: %w", err)
		}
		prompt := string(data)

		echoPrompt(cmd.OutOrStdout(), prompt)
		return invokeAndPrint(cmd, cfg, prompt)
	},
}

var askCmd = &cobra.Command{
	Use:   "ask PROMPT",
	Short: "Send an ad-hoc prompt",
	Long: `Send PROMPT and print the reply. Use "-" to read the prompt from stdin.

  bedrockcall ask "Say hi."
  echo "Say hi." | bedrockcall ask -
  bedrockcall ask --max-tokens 200 "Summarize the gold standard."`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if askModel != "" {
			cfg.ModelID = askModel
		}
		if askMaxTokens != 0 {
			cfg.MaxTokens = askMaxTokens
		}

		prompt, err := readPrompt(cmd.InOrStdin(), args[0])
		if err != nil {
			return err
		}
		return invokeAndPrint(cmd, cfg, prompt)
	},
}

func init() {
	askCmd.Flags().StringVar(&askModel, "model", "", "Model ID (overrides BEDROCKCALL_MODEL_ID)")
	askCmd.Flags().IntVar(&askMaxTokens, "max-tokens", 0, "Token budget (overrides BEDROCKCALL_MAX_TOKENS, 0 = config)")

	rootCmd.AddCommand(demoCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(askCmd)
}

// invokeAndPrint performs one invocation and prints each fragment on its own
// line. With recording enabled the invocation goes into the history store.
func invokeAndPrint(cmd *cobra.Command, cfg *config.Config, prompt string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, cancel := commandContext(cmd, cfg)
	defer cancel()

	eng, closeStore, err := newEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	inv, err := eng.Run(ctx, "cli", prompt)
	if err != nil {
		return err
	}

	printTexts(cmd.OutOrStdout(), inv.Texts)
	return nil
}

// loadConfig loads the configuration and applies persistent flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if recordFlag {
		cfg.Record = true
	}
	return cfg, nil
}

// commandContext returns the command's context, bounded by the configured
// timeout when one is set.
func commandContext(cmd *cobra.Command, cfg *config.Config) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.Timeout > 0 {
		return context.WithTimeout(ctx, cfg.Timeout)
	}
	return context.WithCancel(ctx)
}

// openStore opens PostgreSQL when BEDROCKCALL_DATABASE_URL is set, otherwise
// the SQLite database in the data directory.
func openStore(ctx context.Context, cfg *config.Config) (store.InvocationStore, error) {
	if cfg.DatabaseURL != "" {
		st, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("opening postgres store: %w", err)
		}
		return st, nil
	}

	if err := cfg.EnsureDataDir(); err != nil {
		return nil, err
	}
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite store: %w", err)
	}
	return st, nil
}

// readPrompt returns arg, or everything on in when arg is "-".
func readPrompt(in io.Reader, arg string) (string, error) {
	if arg != "-" {
		return arg, nil
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return "", fmt.Errorf("reading prompt from stdin: %w", err)
	}
	return string(data), nil
}

// echoPrompt writes the prompt followed by a newline.
func echoPrompt(w io.Writer, prompt string) {
	fmt.Fprintln(w, prompt)
}

func printTexts(w io.Writer, texts []string) {
	for _, text := range texts {
		fmt.Fprintln(w, text)
	}
}
