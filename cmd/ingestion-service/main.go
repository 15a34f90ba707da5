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
	"github.com/vitalwatch/platform/pkg/common/database"
	"github.com/vitalwatch/platform/pkg/common/kafka"
	"github.com/vitalwatch/platform/pkg/common/logger"
	"github.com/vitalwatch/platform/pkg/gateway/httpclient"
	"github.com/vitalwatch/platform/pkg/gateway/middleware"
	"github.com/vitalwatch/platform/pkg/ingestion"
	"github.com/vitalwatch/platform/pkg/observability/metrics"
)

func main() {
	logger.Init()
	cfg := config.Load()

	db, err := database.GetPostgres(cfg)
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to connect to postgres")
	}
	defer database.ClosePostgres()

	repo := ingestion.NewRepository(db)
	if err := repo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate ingestion tables")
	}

	producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.UplinkTopic)
	defer producer.Close()

	backoff := httpclient.Backoff{
		Attempts:  3,
		BaseDelay: 250 * time.Millisecond,
		MaxDelay:  2 * time.Second,
		Retriable: func(err error) bool { return !errors.Is(err, context.Canceled) },
	}
	svc := ingestion.NewService(repo, producer, backoff, cfg.IngestStatusTTL)
	handler := ingestion.NewHTTPHandler(svc, repo, cfg.MaxRequestBody)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	subscriber := ingestion.NewSubscriber(ingestion.SubscriberConfig{
		Broker:   cfg.MQTTBroker,
		ClientID: cfg.MQTTClientID,
		Username: cfg.MQTTUsername,
		Password: cfg.MQTTPassword,
		DeviceID: cfg.TTNDeviceID,
		Timeout:  cfg.GatewayRequestTimeout,
	}, svc)
	if err := subscriber.Start(ctx); err != nil {
		logger.Log.WithError(err).Fatal("failed to subscribe to uplinks")
	}

	scheduler, err := ingestion.StartMaintenance(ctx, svc)
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to schedule maintenance")
	}

	router := mux.NewRouter()
	router.Use(middleware.Logging)
	router.Use(middleware.Recovery)

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	handler.Register(api)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, "8081"),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host":  cfg.ServerHost,
			"port":  "8081",
			"topic": cfg.UplinkTopic,
		}).Info("Ingestion Service started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Ingestion Service...")
	subscriber.Stop(5 * time.Second)
	scheduler.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.WithError(err).Error("server forced to shutdown")
	}

	logger.Log.Info("Ingestion Service stopped")
}
