package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jxucoder/bedrockcall/internal/config"
	"github.com/jxucoder/bedrockcall/internal/engine"
	"github.com/jxucoder/bedrockcall/pkg/bedrock"
	"github.com/jxucoder/bedrockcall/pkg/jobs"
	"github.com/jxucoder/bedrockcall/pkg/store"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List or run prompt jobs",
	Long: `Prompt jobs are YAML files in the jobs directory (BEDROCKCALL_JOBS_DIR,
default ~/.bedrockcall/jobs):

  name: gold
  prompt: "I need a few sentences on why gold is the best color."
  every: 1h

  bedrockcall jobs list         List jobs
  bedrockcall jobs run          Run every job once
  bedrockcall jobs run gold     Run one job

Jobs with "every" set run on that interval under "bedrockcall serve".`,
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List prompt jobs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		scheduler := jobs.New(cfg.JobsDir, nil)
		if err := scheduler.LoadJobs(); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		loaded := scheduler.Jobs()
		if len(loaded) == 0 {
			fmt.Fprintf(out, "No jobs in %s\n", cfg.JobsDir)
			return nil
		}

		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tEVERY\tPROMPT")
		for _, job := range loaded {
			every := "-"
			if job.Every > 0 {
				every = job.Every.String()
			}
			prompt := oneLine(job.Prompt)
			if job.PromptFile != "" {
				prompt = "@" + job.PromptFile
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\n", job.Name, every, prompt)
		}
		return tw.Flush()
	},
}

var jobsRunCmd = &cobra.Command{
	Use:   "run [NAME]",
	Short: "Run one job, or every job, once",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runJobs,
}

func init() {
	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsRunCmd)
	rootCmd.AddCommand(jobsCmd)
}

func runJobs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
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

	scheduler := jobs.New(cfg.JobsDir, eng)
	if err := scheduler.LoadJobs(); err != nil {
		return err
	}

	selected := scheduler.Jobs()
	if len(args) == 1 {
		job, ok := scheduler.Find(args[0])
		if !ok {
			return fmt.Errorf("job %q not found in %s", args[0], cfg.JobsDir)
		}
		selected = []jobs.Job{job}
	}
	if len(selected) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "No jobs in %s\n", cfg.JobsDir)
		return nil
	}

	out := cmd.OutOrStdout()
	for i, job := range selected {
		if len(selected) > 1 {
			if i > 0 {
				fmt.Fprintln(out)
			}
			fmt.Fprintf(out, "== %s ==\n", job.Name)
		}
		inv, err := scheduler.RunJob(ctx, job)
		if err != nil {
			return fmt.Errorf("job %s: %w", job.Name, err)
		}
		printTexts(out, inv.Texts)
	}
	return nil
}

// newEngine builds an engine around the Bedrock client, recording into the
// history store when enabled. The returned func closes the store.
func newEngine(ctx context.Context, cfg *config.Config) (*engine.Engine, func(), error) {
	api, err := newInvokeAPI(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	client := bedrock.NewClient(api, cfg.BedrockOptions()...)

	var st store.InvocationStore
	closeStore := func() {}
	if cfg.Record {
		st, err = openStore(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		closeStore = func() { st.Close() }
	}

	eng := engine.New(engine.Config{ModelID: cfg.ModelID, MaxTokens: cfg.MaxTokens}, client, st, nil)
	return eng, closeStore, nil
}
