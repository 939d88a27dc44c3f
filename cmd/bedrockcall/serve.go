package main

import (
	"log"

	"github.com/spf13/cobra"

	"github.com/jxucoder/bedrockcall"
	"github.com/jxucoder/bedrockcall/pkg/bedrock"
	"github.com/jxucoder/bedrockcall/pkg/channel/slack"
	"github.com/jxucoder/bedrockcall/pkg/channel/telegram"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API, chat relays and scheduled jobs",
	Long: `Start the HTTP API on BEDROCKCALL_ADDR (default :7090). Every invocation is
recorded in the history store.

Telegram and Slack relays start when their tokens are configured. Jobs with
"every" set run on their interval.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx := cmd.Context()

	api, err := newInvokeAPI(ctx, cfg)
	if err != nil {
		return err
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}

	app, err := bedrockcall.NewBuilder().
		WithConfig(bedrockcall.Config{
			ServerAddr:   cfg.ServerAddr,
			DataDir:      cfg.DataDir,
			DatabasePath: cfg.DatabasePath,
			JobsDir:      cfg.JobsDir,
			ModelID:      cfg.ModelID,
			MaxTokens:    cfg.MaxTokens,
		}).
		WithLLM(bedrock.NewClient(api, cfg.BedrockOptions()...)).
		WithStore(st).
		Build()
	if err != nil {
		st.Close()
		return err
	}

	if cfg.TelegramEnabled() {
		bot, err := telegram.NewBot(cfg.TelegramBotToken, app.Engine())
		if err != nil {
			log.Printf("Telegram relay disabled: %v", err)
		} else {
			app.AddChannel(bot)
		}
	}
	if cfg.SlackEnabled() {
		app.AddChannel(slack.NewBot(cfg.SlackBotToken, cfg.SlackAppToken, app.Engine()))
	}

	log.Printf("Using model %s (max_tokens=%d)", cfg.ModelID, cfg.MaxTokens)
	return app.Start(ctx)
}
