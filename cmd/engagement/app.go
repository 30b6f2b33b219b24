package main

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/David-Botos/engagement-pipeline/pkg/blob"
	"github.com/David-Botos/engagement-pipeline/pkg/classifier"
	"github.com/David-Botos/engagement-pipeline/pkg/cleaner"
	"github.com/David-Botos/engagement-pipeline/pkg/config"
	"github.com/David-Botos/engagement-pipeline/pkg/connector"
	"github.com/David-Botos/engagement-pipeline/pkg/features"
	"github.com/David-Botos/engagement-pipeline/pkg/lock"
	"github.com/David-Botos/engagement-pipeline/pkg/notify"
	"github.com/David-Botos/engagement-pipeline/pkg/pipeline"
	"github.com/David-Botos/engagement-pipeline/pkg/source"
	"github.com/David-Botos/engagement-pipeline/pkg/store"
)

const (
	runLockKey         = "engagement-pipeline"
	snowflakeBatchSize = 10000
)

// app holds the collaborators shared by every command. Database connections
// are opened by the first stage that needs them.
type app struct {
	cfg        *config.Config
	logger     *zap.Logger
	factory    *connector.ConnectorFactory
	blobs      *blob.Router
	normalizer *cleaner.Normalizer
	notifier   notify.Notifier
	lock       lock.Lock

	mu        sync.Mutex
	storeConn connector.DatabaseConnector
	store     *store.Store
	snowflake *connector.SnowflakeConnector
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{
		cfg:     cfg,
		logger:  logger,
		factory: connector.NewConnectorFactory(cfg, logger),
	}

	var err error
	if a.blobs, err = newBlobRouter(ctx, cfg, logger); err != nil {
		return nil, err
	}

	if a.normalizer, err = cleaner.NewNormalizer(cleaner.Options{
		DateTokens:        cfg.Cleaning.DateColumnTokens,
		EngagementColumns: cfg.Cleaning.EngagementColumns,
		IdentityStrategy:  cleaner.IdentityStrategy(cfg.Cleaning.RecordIDStrategy),
		NaturalKey:        cfg.Cleaning.NaturalKeyColumns,
	}, logger.Named("cleaner")); err != nil {
		return nil, err
	}

	if a.notifier, err = notify.New(ctx, cfg.Notify, logger.Named("notify")); err != nil {
		return nil, err
	}

	a.lock = a.newLock()
	return a, nil
}

// openStore connects to the relational store on first use
func (a *app) openStore(ctx context.Context) (*store.Store, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.store != nil {
		return a.store, nil
	}

	conn, err := a.factory.CreateStoreConnector(ctx)
	if err != nil {
		return nil, err
	}
	connector.LogConnectionStats(a.logger, "store", conn.DB())

	db := sqlx.NewDb(conn.DB(), conn.DriverName())
	s, err := store.New(db, store.Tables{
		Cleaned:     a.cfg.Store.CleanedTable,
		Predictions: a.cfg.Store.PredictionsTable,
		Runs:        a.cfg.Store.RunsTable,
	}, a.logger.Named("store"))
	if err != nil {
		conn.Close()
		return nil, err
	}

	a.storeConn, a.store = conn, s
	return s, nil
}

// newLock builds a run lock that connects when a run first acquires it
func (a *app) newLock() lock.Lock {
	return lock.NewLazyLock(func(ctx context.Context) (lock.Lock, error) {
		var db *sql.DB
		if a.cfg.Lock.Backend == "postgres" {
			if _, err := a.openStore(ctx); err != nil {
				return nil, err
			}
			db = a.storeConn.DB()
		}
		return lock.New(a.cfg.Lock, db, runLockKey, a.logger.Named("lock"))
	})
}

// RecordRun stores the run report once the store can be reached
func (a *app) RecordRun(ctx context.Context, run store.RunRecord) error {
	s, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	return s.RecordRun(ctx, run)
}

// newBlobRouter creates the S3 client only when a configured path needs it
func newBlobRouter(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*blob.Router, error) {
	router := &blob.Router{Local: blob.NewLocalStore("")}

	needsS3 := false
	for _, uri := range []string{cfg.Paths.RawData, cfg.Paths.CleanedData, cfg.Paths.Model, cfg.Paths.Encoding} {
		if blob.IsS3(uri) {
			needsS3 = true
		}
	}
	if needsS3 {
		s3Store, err := blob.NewS3Store(ctx, cfg.Paths.AWSRegion, logger.Named("s3"))
		if err != nil {
			return nil, err
		}
		router.S3 = s3Store
	}
	return router, nil
}

func (a *app) delimiter() rune {
	return []rune(a.cfg.Paths.CSVDelimiter)[0]
}

func (a *app) cleanedFile() pipeline.CleanedFile {
	return pipeline.CleanedFile{Blobs: a.blobs, URI: a.cfg.Paths.CleanedData, Delimiter: a.delimiter()}
}

func (a *app) artifacts() pipeline.Artifacts {
	return pipeline.Artifacts{Blobs: a.blobs, EncodingURI: a.cfg.Paths.Encoding, ModelURI: a.cfg.Paths.Model}
}

func (a *app) rawSource(ctx context.Context) (source.RawSource, error) {
	switch a.cfg.Paths.RawSource {
	case "snowflake":
		a.mu.Lock()
		defer a.mu.Unlock()
		if a.snowflake == nil {
			sf, err := a.factory.CreateSnowflakeConnector(ctx)
			if err != nil {
				return nil, err
			}
			if err := sf.Validate(ctx); err != nil {
				sf.Close()
				return nil, fmt.Errorf("snowflake connection validation failed: %w", err)
			}
			a.snowflake = sf
		}
		return source.NewSnowflakeSource(a.snowflake, a.cfg.Snowflake.RawQuery, snowflakeBatchSize, a.logger.Named("source")), nil
	default:
		return source.NewCSVSource(a.blobs, a.cfg.Paths.RawData, a.delimiter(), a.logger.Named("source")), nil
	}
}

// stage returns the named stage. It is built when the run reaches it.
func (a *app) stage(name string) (pipeline.Stage, error) {
	switch name {
	case pipeline.StageClean:
		return pipeline.Defer(name, pipeline.ErrorCategoryInput, func(ctx context.Context) (pipeline.Stage, error) {
			src, err := a.rawSource(ctx)
			if err != nil {
				return nil, err
			}
			return pipeline.NewCleanStage(src, a.normalizer, a.cleanedFile(), a.logger.Named("clean")), nil
		}), nil
	case pipeline.StageLoad:
		return pipeline.Defer(name, pipeline.ErrorCategoryStorage, func(ctx context.Context) (pipeline.Stage, error) {
			s, err := a.openStore(ctx)
			if err != nil {
				return nil, err
			}
			return pipeline.NewLoadStage(s, a.cleanedFile(), a.normalizer, a.logger.Named("load")), nil
		}), nil
	case pipeline.StageTrain:
		target := classifier.TargetSpec{Columns: a.cfg.Model.TargetColumns, Threshold: a.cfg.Model.TargetThreshold}
		return pipeline.NewTrainStage(
			classifier.NewLogisticTrainer(target, a.cfg.Model.Version, a.logger.Named("trainer")),
			features.FitOptions{Exclude: a.cfg.Model.FeatureExclude, Version: a.cfg.Model.Version},
			a.cfg.WorkerPoolSize,
			a.cleanedFile(),
			a.normalizer,
			a.artifacts(),
			a.logger.Named("train"),
		), nil
	case pipeline.StageScore:
		return pipeline.Defer(name, pipeline.ErrorCategoryStorage, func(ctx context.Context) (pipeline.Stage, error) {
			s, err := a.openStore(ctx)
			if err != nil {
				return nil, err
			}
			return pipeline.NewScoreStage(s, a.artifacts(), a.cfg.WorkerPoolSize, a.logger.Named("score")), nil
		}), nil
	default:
		return nil, fmt.Errorf("unknown stage %q", name)
	}
}

// fullRun lists the stages of a complete pipeline run
func (a *app) fullRun() []string {
	names := []string{pipeline.StageClean, pipeline.StageLoad}
	if a.cfg.Model.TrainOnRun {
		names = append(names, pipeline.StageTrain)
	}
	return append(names, pipeline.StageScore)
}

func (a *app) runner(names ...string) (*pipeline.Runner, error) {
	stages := make([]pipeline.Stage, 0, len(names))
	for _, name := range names {
		s, err := a.stage(name)
		if err != nil {
			return nil, err
		}
		stages = append(stages, s)
	}

	return pipeline.NewRunner(stages, a.logger,
		pipeline.WithLock(a.lock),
		pipeline.WithNotifier(a.notifier),
		pipeline.WithRecorder(a),
		pipeline.WithLogLocation(a.cfg.LogFile),
	)
}

func (a *app) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.snowflake != nil {
		if err := a.snowflake.Close(); err != nil {
			a.logger.Warn("Failed to close Snowflake connection", zap.Error(err))
		}
	}
	if a.storeConn != nil {
		if err := a.storeConn.Close(); err != nil {
			a.logger.Warn("Failed to close store connection", zap.Error(err))
		}
	}
}
