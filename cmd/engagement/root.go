package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/David-Botos/engagement-pipeline/pkg/config"
	"github.com/David-Botos/engagement-pipeline/pkg/logging"
	"github.com/David-Botos/engagement-pipeline/pkg/pipeline"
)

type rootOptions struct {
	configPath string
	envFile    string
}

// exitError carries a run's exit status back to main
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("pipeline exited with status %d", e.code)
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "engagement",
		Short: "Social media engagement ETL and incremental scoring",
		Long: `engagement cleans a raw social media engagement feed, loads it into the
relational store and predicts high engagement for records not yet scored.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", "", "path to a .env file (default ./.env when present)")

	root.AddCommand(
		newRunCmd(opts),
		newStageCmd(opts, pipeline.StageClean, "Clean the raw feed and write the cleaned file"),
		newStageCmd(opts, pipeline.StageLoad, "Replace the cleaned table with the cleaned file"),
		newStageCmd(opts, pipeline.StageTrain, "Fit the category encoding and classifier on the cleaned file"),
		newStageCmd(opts, pipeline.StageScore, "Predict engagement for records without a prediction"),
		newScheduleCmd(opts),
	)
	return root
}

// setup loads configuration, builds the logger and wires the app
func setup(ctx context.Context, opts *rootOptions) (*app, error) {
	if err := config.LoadEnvFile(opts.envFile); err != nil {
		return nil, err
	}
	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, cfg.LogFile)
	if err != nil {
		return nil, err
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialise pipeline", zap.Error(err))
		_ = logger.Sync()
		return nil, err
	}
	return a, nil
}

// runOnce executes the named stages once and converts the report to an exit status
func runOnce(ctx context.Context, opts *rootOptions, names func(*app) []string) error {
	a, err := setup(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		a.Close()
		_ = a.logger.Sync()
	}()

	r, err := a.runner(names(a)...)
	if err != nil {
		return err
	}

	report := r.Run(ctx)
	if code := report.ExitCode(); code != 0 {
		return &exitError{code: code}
	}
	return nil
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the full pipeline: clean, load, optional train, score",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runOnce(cmd.Context(), opts, (*app).fullRun)
		},
	}
}

func newStageCmd(opts *rootOptions, stage, short string) *cobra.Command {
	return &cobra.Command{
		Use:   stage,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runOnce(cmd.Context(), opts, func(*app) []string { return []string{stage} })
		},
	}
}
