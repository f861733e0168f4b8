package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/unclebandit/outreach-engine/internal/app"
	"github.com/unclebandit/outreach-engine/internal/config"
	"github.com/unclebandit/outreach-engine/internal/logging"
	"github.com/unclebandit/outreach-engine/internal/queue"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, relying on OS environment variables")
	}
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:   "worker",
		Short: "Background jobs for the outreach engine",
		Long: `Consume queued jobs or run a single job by hand.

Available subcommands:
  run       - Consume every job topic and run the scheduler
  process   - Run one pass over a campaign
  followups - Send due follow-ups for a campaign
  ingest    - Poll an account's inbox and process replies
  analytics - Print workspace analytics`,
		SilenceUsage: true,
	}

	var timeframe string
	analyticsCmd := &cobra.Command{
		Use:   "analytics <workspace-id>",
		Short: "Print workspace analytics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Analytics.GetAnalytics(ctx, args[0], timeframe)
				if err != nil {
					return err
				}
				return printJSON(out, res)
			})
		},
	}
	analyticsCmd.Flags().StringVar(&timeframe, "timeframe", "30d", "24h, 7d, 30d, 90d or all")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Consume every job topic and run the scheduler",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withApp(cmd.Context(), runWorker)
			},
		},
		&cobra.Command{
			Use:   "process <campaign-id>",
			Short: "Run one pass over a campaign",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
					res, err := a.Campaigns.ProcessCampaign(ctx, args[0])
					if err != nil {
						return err
					}
					return printJSON(out, res)
				})
			},
		},
		&cobra.Command{
			Use:   "followups <campaign-id>",
			Short: "Send due follow-ups for a campaign",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
					res, err := a.Followups.ScheduleFollowups(ctx, args[0])
					if err != nil {
						return err
					}
					return printJSON(out, res)
				})
			},
		},
		&cobra.Command{
			Use:   "ingest <account-id>",
			Short: "Poll an account's inbox and process replies",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
					res, err := a.Inbound.Ingest(ctx, args[0])
					if err != nil {
						return err
					}
					return printJSON(out, res)
				})
			},
		},
		analyticsCmd,
	)
	return root
}

// withApp loads configuration, builds the app and runs fn until it returns
// or the process is interrupted.
func withApp(parent context.Context, fn func(ctx context.Context, a *app.App) error) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func runWorker(ctx context.Context, a *app.App) error {
	if _, ok := a.Queue.(*queue.InMemoryQueue); ok {
		a.Logger.Warn("AMQP_URL not set, the worker only sees jobs its own scheduler queues")
	}
	if err := a.Worker.Start(a.Queue); err != nil {
		return err
	}
	a.Logger.Info("worker running, waiting for jobs")
	err := a.Scheduler.Run(ctx)
	a.Logger.Info("worker stopping", zap.Error(err))
	return err
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}
