package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"

	"github.com/tourops/tourops/cmd/tourops-cli/cli"
	"github.com/tourops/tourops/internal/app"
	"github.com/tourops/tourops/internal/insights"
	"github.com/tourops/tourops/internal/platform/db"
	"github.com/tourops/tourops/jobs"
)

// exitCode carries a command's exit status once it has already reported to stderr.
type exitCode int

func (c exitCode) Error() string { return fmt.Sprintf("exit status %d", int(c)) }

// usageError marks invalid flags or arguments; it exits with status 2.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

// deps opens the resources commands run against.
type deps struct {
	loadConfig  func() (*app.CLIConfig, error)
	openReports func(ctx context.Context, cfg *app.CLIConfig) (cli.InsightsService, func(), error)
	openJobs    func(cfg *app.CLIConfig) *cli.JobsCLI
}

func defaultDeps() deps {
	return deps{
		loadConfig: app.LoadCLIConfig,
		openReports: func(ctx context.Context, cfg *app.CLIConfig) (cli.InsightsService, func(), error) {
			pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns})
			if err != nil {
				return nil, nil, fmt.Errorf("connect postgres: %w", err)
			}
			service := insights.NewService(insights.NewPostgresRepository(pool), nil, insights.ServiceConfig{
				Location:    cfg.Location(),
				Concurrency: cfg.InsightsFetchConcurrency,
			})
			return service, pool.Close, nil
		},
		openJobs: func(cfg *app.CLIConfig) *cli.JobsCLI {
			return cli.NewJobsCLI(asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		},
	}
}

// execute runs the command tree and maps its outcome to a process exit code.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer, d deps) int {
	root := newRootCmd(d)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	var code exitCode
	switch {
	case err == nil:
		return 0
	case errors.As(err, &code):
		return int(code)
	case errors.As(err, new(usageError)):
		fmt.Fprintf(stderr, "tourops-cli: %v\n", err)
		return 2
	default:
		fmt.Fprintf(stderr, "tourops-cli: %v\n", err)
		return 1
	}
}

func newRootCmd(d deps) *cobra.Command {
	root := &cobra.Command{
		Use:           "tourops-cli",
		Short:         "Operator tools for guide insights",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err}
	})
	root.AddCommand(newReportCmd(d), newJobsCmd(d))
	return root
}

func newReportCmd(d deps) *cobra.Command {
	var (
		guide, branch, month, lang string
		jsonOut                    bool
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print a guide's monthly insights",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tag, err := language.Parse(lang)
			if err != nil {
				return usageError{fmt.Errorf("invalid --lang %q", lang)}
			}
			cfg, err := d.loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			service, closeFn, err := d.openReports(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			reportCLI, err := cli.NewReportCLI(service)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.RequestTimeout)
			defer cancel()
			code := reportCLI.ReportCommand(ctx, cli.ReportOptions{
				GuideID:    guide,
				BranchID:   branch,
				Month:      month,
				JSONOutput: jsonOut,
				Language:   tag,
				Stdout:     cmd.OutOrStdout(),
				Stderr:     cmd.ErrOrStderr(),
			})
			if code != 0 {
				return exitCode(code)
			}
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&guide, "guide", "", "guide UUID")
	flags.StringVar(&branch, "branch", "", "optional branch UUID restriction")
	flags.StringVar(&month, "month", "", "month as YYYY-MM, defaults to the current month")
	flags.BoolVar(&jsonOut, "json", false, "print the report as JSON")
	flags.StringVar(&lang, "lang", "en", "BCP 47 language for number formatting")
	return cmd
}

func newJobsCmd(d deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Trigger and inspect insights background jobs",
	}
	cmd.AddCommand(newJobsTriggerCmd(d), newJobsInspectCmd(d))
	return cmd
}

func openJobs(d deps) (*cli.JobsCLI, error) {
	cfg, err := d.loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return d.openJobs(cfg), nil
}

func newJobsTriggerCmd(d deps) *cobra.Command {
	var name, arg string
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Enqueue " + jobs.TaskInsightsWarmup + " or " + jobs.TaskInsightsCacheBump,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			jobsCLI, err := openJobs(d)
			if err != nil {
				return err
			}
			defer func() { _ = jobsCLI.Close() }()

			info, err := jobsCLI.Trigger(cmd.Context(), name, arg)
			if err != nil {
				return fmt.Errorf("jobs trigger: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "task type: "+jobs.TaskInsightsWarmup+" or "+jobs.TaskInsightsCacheBump)
	cmd.Flags().StringVar(&arg, "arg", "", "warmup month (YYYY-MM) or bump reason")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newJobsInspectCmd(d deps) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show default queue depth and scheduled tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			jobsCLI, err := openJobs(d)
			if err != nil {
				return err
			}
			defer func() { _ = jobsCLI.Close() }()

			stats, err := jobsCLI.InspectQueue(cmd.Context())
			if err != nil {
				return fmt.Errorf("jobs inspect: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "queue=%s pending=%d active=%d scheduled=%d retry=%d\n",
				stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
			scheduled, err := jobsCLI.ListScheduled(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("jobs inspect: %w", err)
			}
			for _, task := range scheduled {
				fmt.Fprintf(out, "  %s %s at %s\n", task.ID, task.Type, task.NextProcessAt.Format(time.RFC3339))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "scheduled tasks to list")
	return cmd
}
