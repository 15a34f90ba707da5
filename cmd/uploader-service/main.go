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

	"github.com/gorilla/mux"
	"github.com/vitalwatch/platform/pkg/common/config"
	"github.com/vitalwatch/platform/pkg/common/kafka"
	"github.com/vitalwatch/platform/pkg/common/logger"
	"github.com/vitalwatch/platform/pkg/gateway/httpclient"
	"github.com/vitalwatch/platform/pkg/ingestion"
	"github.com/vitalwatch/platform/pkg/observability/metrics"
	"github.com/vitalwatch/platform/pkg/patients"
	"github.com/vitalwatch/platform/pkg/realtime/firebasedb"
)

func main() {
	logger.Init()
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opts := firebasedb.Options{
		ProjectID:       cfg.FirebaseProjectID,
		DatabaseURL:     cfg.FirebaseDatabaseURL,
		CredentialsFile: cfg.FirebaseCredentialsFile,
		EmulatorToken:   cfg.FirebaseEmulatorToken,
	}
	app, err := firebasedb.NewApp(ctx, opts)
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to initialize firebase")
	}
	store, err := firebasedb.New(ctx, app, opts)
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to connect to realtime database")
	}

	uploader := ingestion.NewUploader(patients.NewRepository(store), httpclient.DefaultBackoff)
	consumer := kafka.NewConsumer(cfg.KafkaBrokers, cfg.UplinkTopic, cfg.KafkaGroupID)

	router := mux.NewRouter()
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, "8082"),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("failed to start server")
		}
	}()

	done := make(chan error, 1)
	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"topic": cfg.UplinkTopic,
			"group": cfg.KafkaGroupID,
		}).Info("Uploader Service started")
		done <- consumer.Consume(ctx, uploader.Handle)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case <-quit:
		logger.Log.Info("Shutting down Uploader Service...")
		cancel()
		<-done
	case err := <-done:
		// the failed event stays uncommitted and is retried by the next run
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Log.WithError(err).Error("Uploader stopped on a failed event")
			exitCode = 1
		}
	}

	if err := consumer.Close(); err != nil {
		logger.Log.WithError(err).Warn("failed to close consumer")
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.WithError(err).Error("server forced to shutdown")
	}

	logger.Log.Info("Uploader Service stopped")
	if exitCode != 0 {
		shutdownCancel()
		os.Exit(exitCode)
	}
}
