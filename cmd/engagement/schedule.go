package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newScheduleCmd(opts *rootOptions) *cobra.Command {
	var spec string

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run the full pipeline on a cron schedule until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := setup(ctx, opts)
			if err != nil {
				return err
			}
			defer func() {
				a.Close()
				_ = a.logger.Sync()
			}()

			if spec == "" {
				spec = a.cfg.Schedule
			}
			return runSchedule(ctx, a, spec)
		},
	}

	cmd.Flags().StringVar(&spec, "cron", "", "cron spec, overrides PIPELINE_SCHEDULE")
	return cmd
}

// runSchedule blocks until ctx is done. Overlapping ticks are skipped.
func runSchedule(ctx context.Context, a *app, spec string) error {
	if spec == "" {
		return errors.New("no schedule: set PIPELINE_SCHEDULE or --cron")
	}

	logger := a.logger.Named("scheduler")
	c := cron.New(cron.WithChain(
		cron.Recover(cron.DefaultLogger),
		cron.SkipIfStillRunning(cron.DefaultLogger),
	))

	_, err := c.AddFunc(spec, func() {
		r, err := a.runner(a.fullRun()...)
		if err != nil {
			logger.Error("Failed to build pipeline run", zap.Error(err))
			return
		}
		report := r.Run(ctx)
		logger.Info("Scheduled run finished",
			zap.String("run_id", report.RunID),
			zap.String("status", string(report.Status)))
	})
	if err != nil {
		return fmt.Errorf("invalid cron spec %q: %w", spec, err)
	}

	c.Start()
	logger.Info("Pipeline scheduler started", zap.String("spec", spec))

	<-ctx.Done()
	<-c.Stop().Done()
	logger.Info("Pipeline scheduler stopped")
	return nil
}
