// bedrockcall
//
// Send a prompt to an Anthropic model on Amazon Bedrock and print what comes
// back, one text fragment per line.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	version    = "dev"
	recordFlag bool
)

var rootCmd = &cobra.Command{
	Use:   "bedrockcall",
	Short: "bedrockcall - prompts for Anthropic models on Amazon Bedrock",
	Long: `bedrockcall sends a prompt to an Anthropic model on Amazon Bedrock and
prints each text fragment of the reply on its own line.

  bedrockcall demo                     Ask why gold is the best color
  bedrockcall run                      Send the contents of prompt.txt
  bedrockcall ask "Say hi."            Send an ad-hoc prompt
  bedrockcall history                  List recorded invocations
  bedrockcall jobs run                 Run the prompt jobs once
  bedrockcall serve                    Start the HTTP API, relays and jobs
  bedrockcall config show              Show current configuration`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&recordFlag, "record", false, "Record invocations in the history store")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
