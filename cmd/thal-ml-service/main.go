package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/thalcare-ai/platform/pkg/common/config"
	"github.com/thalcare-ai/platform/pkg/common/kafka"
	"github.com/thalcare-ai/platform/pkg/common/logger"
	"github.com/thalcare-ai/platform/pkg/thalml"
)

func main() {
	logger.Init()
	cfg := config.Load()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	rt, err := thalml.Bootstrap(ctx, cfg)
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to initialize thal ML service")
	}
	defer rt.Close()

	if cfg.TrainOnStart {
		go func() {
			if err := rt.Manager.EnsureReady(ctx); err != nil {
				logger.Log.WithError(err).Error("Startup training failed; first request will retry")
			}
		}()
	}

	if cfg.TransfusionTopic != "" {
		consumer := kafka.NewConsumer(cfg.KafkaBrokers, cfg.TransfusionTopic, cfg.KafkaGroupID)
		defer consumer.Close()
		go func() {
			if err := consumer.Consume(ctx, rt.Manager.HandleEvent); err != nil && !errors.Is(err, context.Canceled) {
				logger.Log.WithError(err).Error("Transfusion consumer stopped")
			}
		}()
	}

	opts := thalml.Options{
		SyntheticRetrain: cfg.DataSource == config.DataSourceSynthetic,
		SyntheticSeed:    cfg.SyntheticSeed,
		TrainRateLimit:   1,
	}
	if rt.Archive != nil {
		opts.History = rt.Archive
	}
	handler := thalml.NewHandler(rt.Manager, opts)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler:      handler.Router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host":        cfg.ServerHost,
			"port":        cfg.ServerPort,
			"data_source": cfg.DataSource,
		}).Info("Thal ML Service started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Thal ML Service...")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.WithError(err).Error("Server forced to shutdown")
	}

	logger.Log.Info("Thal ML Service stopped")
}
