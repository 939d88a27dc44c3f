package main

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jxucoder/bedrockcall/pkg/model"
	"github.com/jxucoder/bedrockcall/pkg/store"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded invocations",
	Long: `List invocations recorded with --record, BEDROCKCALL_RECORD=1, the HTTP
API, the chat relays or prompt jobs. Newest first.

  bedrockcall history --limit 5
  bedrockcall history show <id>`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

var historyShowCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Show one invocation and its events",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum number of invocations to list (0 = all)")

	historyCmd.AddCommand(historyShowCmd)
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext(cmd, cfg)
	defer cancel()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	invs, err := st.ListInvocations(ctx, historyLimit)
	if err != nil {
		return fmt.Errorf("listing invocations: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(invs) == 0 {
		fmt.Fprintln(out, "No invocations recorded.")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tSOURCE\tCREATED\tPROMPT")
	for _, inv := range invs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			inv.ID,
			inv.Status,
			inv.Source,
			inv.CreatedAt.Local().Format(time.DateTime),
			model.Truncate(oneLine(inv.Prompt), 50),
		)
	}
	return tw.Flush()
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext(cmd, cfg)
	defer cancel()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	inv, err := st.GetInvocation(ctx, args[0])
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("invocation %s not found", args[0])
	}
	if err != nil {
		return fmt.Errorf("loading invocation: %w", err)
	}

	events, err := st.GetEvents(ctx, inv.ID, 0)
	if err != nil {
		return fmt.Errorf("loading events: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Invocation %s\n", inv.ID)
	fmt.Fprintf(out, "  Status:     %s\n", inv.Status)
	fmt.Fprintf(out, "  Source:     %s\n", inv.Source)
	fmt.Fprintf(out, "  Model:      %s\n", inv.ModelID)
	fmt.Fprintf(out, "  Max tokens: %d\n", inv.MaxTokens)
	fmt.Fprintf(out, "  Created:    %s\n", inv.CreatedAt.Local().Format(time.DateTime))
	if inv.Error != "" {
		fmt.Fprintf(out, "  Error:      %s\n", inv.Error)
	}
	fmt.Fprintf(out, "\nPrompt:\n%s\n", strings.TrimRight(inv.Prompt, "\n"))

	if len(inv.Texts) > 0 {
		fmt.Fprintln(out, "\nReply:")
		printTexts(out, inv.Texts)
	}

	if len(events) > 0 {
		fmt.Fprintln(out, "\nEvents:")
		for _, e := range events {
			fmt.Fprintf(out, "  [%s] [%s] %s\n",
				e.CreatedAt.Local().Format("15:04:05"),
				strings.ToUpper(e.Type),
				model.Truncate(oneLine(e.Data), 80))
		}
	}
	return nil
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
