// Command worker plans and runs OCR extractions for a list of library items
// without starting the API server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/therealutkarshpriyadarshi/subextract/internal/app"
	"github.com/therealutkarshpriyadarshi/subextract/internal/cli"
	"github.com/therealutkarshpriyadarshi/subextract/internal/config"
	"github.com/therealutkarshpriyadarshi/subextract/internal/logging"
	"github.com/therealutkarshpriyadarshi/subextract/internal/tracing"
	"github.com/therealutkarshpriyadarshi/subextract/pkg/models"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		configPath string
		planOnly   bool
	)

	cmd := &cobra.Command{
		Use:   "worker ITEM_ID...",
		Short: "Extract image subtitles for library items",
		Long: "Queues an extraction for every image subtitle stream of the given items that is not\n" +
			"cached yet, then processes the queue one job at a time and prints the results.",
		Args:         cobra.MinimumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger, err := logging.NewLogger(logging.Config{
				Level:  cfg.Log.Level,
				Format: cfg.Log.Format,
				Output: cfg.Log.Output,
			})
			if err != nil {
				return err
			}

			_, closer, err := tracing.InitTracer(cfg.Tracing.Enabled, cfg.Tracing.ServiceName, cfg.Tracing.Endpoint)
			if err != nil {
				logger.WithError(err).Warn("tracing disabled")
			} else {
				defer closer.Close()
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.Build(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			jobs, err := run(ctx, a, args, planOnly, logger)
			if len(jobs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Nothing to extract")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), cli.JobTable(jobs))
			}
			return err
		},
	}

	defaultConfig := os.Getenv("CONFIG_PATH")
	if defaultConfig == "" {
		defaultConfig = "config.yaml"
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfig, "path to the configuration file")
	cmd.Flags().BoolVar(&planOnly, "plan", false, "only queue the jobs, do not run the extraction tool")

	return cmd
}

// run plans every item, drains the queue and returns the planned jobs in
// their final state. Items that fail to plan are reported and skipped.
func run(ctx context.Context, a *app.App, itemIDs []string, planOnly bool, logger *logging.Logger) ([]*models.ExtractionJob, error) {
	var planned []*models.ExtractionJob
	unplanned := 0
	for _, id := range itemIDs {
		jobs, err := a.Service.PlanItem(ctx, id)
		if err != nil {
			logger.WithItemID(id).WithError(err).Error("failed to plan item")
			unplanned++
			continue
		}
		planned = append(planned, jobs...)
	}

	if !planOnly {
		n := a.Worker.Drain(ctx)
		logger.Infof("processed %d jobs", n)
	}

	failed := 0
	out := make([]*models.ExtractionJob, 0, len(planned))
	for _, j := range planned {
		if current, ok := a.Registry.Get(j.ID); ok {
			j = current
		}
		out = append(out, j)
		if j.Status == models.JobStatusError {
			failed++
		}
	}

	if unplanned > 0 || failed > 0 {
		return out, fmt.Errorf("%d items could not be planned, %d jobs failed", unplanned, failed)
	}
	return out, nil
}
