package thalml

import (
	"context"
	"fmt"
	"time"

	"github.com/thalcare-ai/platform/pkg/alerts"
	"github.com/thalcare-ai/platform/pkg/common/config"
	"github.com/thalcare-ai/platform/pkg/common/database"
	"github.com/thalcare-ai/platform/pkg/common/kafka"
	"github.com/thalcare-ai/platform/pkg/common/logger"
	"github.com/thalcare-ai/platform/pkg/serving"
	"github.com/thalcare-ai/platform/pkg/serving/predictor"
	"github.com/thalcare-ai/platform/pkg/storage"
	"github.com/thalcare-ai/platform/pkg/synthetic"
	"github.com/thalcare-ai/platform/pkg/training"
	"gorm.io/gorm"
)

const connectAttempts = 5

// Runtime is a wired Manager plus the connections it owns.
type Runtime struct {
	Manager  *training.Manager
	Snapshot *storage.Repository
	Archive  *storage.AlertArchive
	closers  []func() error
}

func (rt *Runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			logger.Log.WithError(err).Warn("Failed to close resource")
		}
	}
}

// Bootstrap connects the optional backing services named by cfg and builds
// the Manager over them. Postgres is required only for the postgres source;
// redis and kafka failures degrade to running without them.
func Bootstrap(ctx context.Context, cfg *config.Config) (*Runtime, error) {
	mc, err := config.LoadModelConfig(cfg.ModelConfigPath)
	if err != nil {
		return nil, err
	}

	rt := &Runtime{}
	runnerOpts := []alerts.Option{alerts.WithWorkers(cfg.AlertWorkers)}
	opts := []training.Option{
		training.WithTimingConfig(training.TimingConfig(mc)),
		training.WithAlertLimit(cfg.AlertLimit),
	}

	var source training.SnapshotSource
	switch cfg.DataSource {
	case config.DataSourceSynthetic:
		source = synthetic.NewSource(synthetic.Options{
			Patients: cfg.SyntheticPatients,
			Donors:   cfg.SyntheticDonors,
			Seed:     cfg.SyntheticSeed,
		})
	case config.DataSourcePostgres:
		var db *gorm.DB
		err := database.Retry(ctx, connectAttempts, time.Second, func() error {
			var err error
			db, err = database.OpenPostgres(cfg)
			return err
		})
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, func() error { return database.ClosePostgres(db) })
		dbOpts, err := rt.postgresOptions(db, cfg)
		if err != nil {
			rt.Close()
			return nil, err
		}
		source = rt.Snapshot
		opts = append(opts, dbOpts...)
	default:
		return nil, fmt.Errorf("unknown data source %q", cfg.DataSource)
	}

	if cfg.FeatureCacheEnabled {
		client, err := database.NewRedis(ctx, cfg)
		if err != nil {
			logger.Log.WithError(err).Warn("Feature cache disabled")
			client.Close()
		} else {
			rt.closers = append(rt.closers, client.Close)
			opts = append(opts, training.WithFeatureCache(storage.NewFeatureCache(client, cfg.FeatureCacheTTL)))
		}
	}

	if cfg.AlertTopic != "" {
		producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.AlertTopic)
		rt.closers = append(rt.closers, producer.Close)
		runnerOpts = append(runnerOpts, alerts.WithPublisher(producer))
	}

	opts = append(opts, training.WithAlertRunner(alerts.NewRunner(runnerOpts...)))
	rt.Manager = training.NewManager(source, predictor.NewStore(cfg.ArtifactDir), opts...)
	return rt, nil
}

func (rt *Runtime) postgresOptions(db *gorm.DB, cfg *config.Config) ([]training.Option, error) {
	repo := storage.NewRepository(db)
	archive := storage.NewAlertArchive(db)
	runs := training.NewRepository(db)
	migrations := []func() error{repo.AutoMigrate, archive.AutoMigrate, runs.AutoMigrate}

	opts := []training.Option{
		training.WithTransfusionWriter(repo),
		training.WithAlertArchive(archive),
		training.WithRunRecorder(runs),
	}
	if cfg.PredictionLogEnabled {
		predictions := serving.NewRepository(db)
		migrations = append(migrations, predictions.AutoMigrate)
		opts = append(opts, training.WithPredictionLog(predictions))
	}
	for _, migrate := range migrations {
		if err := migrate(); err != nil {
			return nil, fmt.Errorf("migrating tables: %w", err)
		}
	}
	rt.Snapshot = repo
	rt.Archive = archive
	return opts, nil
}
