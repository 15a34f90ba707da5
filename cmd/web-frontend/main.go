package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/vitalwatch/platform/pkg/common/config"
	"github.com/vitalwatch/platform/pkg/common/database"
	"github.com/vitalwatch/platform/pkg/common/logger"
	"github.com/vitalwatch/platform/pkg/gateway/middleware"
	"github.com/vitalwatch/platform/pkg/identity"
	"github.com/vitalwatch/platform/pkg/observability/metrics"
	"github.com/vitalwatch/platform/pkg/patients"
	"github.com/vitalwatch/platform/pkg/realtime"
	"github.com/vitalwatch/platform/pkg/realtime/firebasedb"
	"github.com/vitalwatch/platform/pkg/realtime/memory"
	"github.com/vitalwatch/platform/pkg/web"
)

func main() {
	logger.Init()
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, provider, err := openBackend(ctx, cfg)
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to initialize backend")
	}

	var sessions identity.SessionStore
	redisClient, err := database.GetRedis(cfg)
	if err != nil {
		logger.Log.WithError(err).Warn("Redis unavailable, keeping sessions in memory")
		sessions = identity.NewMemorySessions(cfg.SessionTTL)
	} else {
		sessions = identity.NewRedisSessions(redisClient, cfg.SessionTTL)
		defer database.CloseRedis()
	}

	loc, err := time.LoadLocation(cfg.DisplayTimezone)
	if err != nil {
		logger.Log.WithError(err).WithField("timezone", cfg.DisplayTimezone).Warn("Unknown display timezone, using UTC")
		loc = time.UTC
	}

	guard := identity.NewGuard(provider, identity.StoreProfiles{Store: store}, sessions)
	handler, err := web.NewHandler(patients.NewRepository(store), guard, provider, sessions, web.Options{
		Cookie: middleware.SessionCookie{
			Name:   cfg.SessionCookieName,
			Secure: cfg.SessionSecure,
			TTL:    cfg.SessionTTL,
		},
		Location:       loc,
		LoginRateRPS:   cfg.LoginRateLimitRPS,
		LoginRateBurst: cfg.LoginRateLimitBurst,
	})
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to load page templates")
	}

	// Setup router
	router := mux.NewRouter()

	// Middleware
	router.Use(middleware.Logging)
	router.Use(middleware.Recovery)
	router.Use(middleware.CORS(cfg.CORSOrigins))
	router.Use(middleware.BodyLimit(cfg.MaxRequestBody))

	// Health check
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	handler.Register(router)

	// Server. WriteTimeout stays unset by default: event streams are long-lived.
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(_ net.Listener) context.Context { return ctx },
	}

	// Graceful shutdown
	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host":    cfg.ServerHost,
			"port":    cfg.ServerPort,
			"backend": cfg.Backend,
		}).Info("Web frontend started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down web frontend...")

	// ends open event streams, which Shutdown would otherwise wait for
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.WithError(err).Error("Server forced to shutdown")
	}

	logger.Log.Info("Web frontend stopped")
}

// openBackend wires the realtime store and the identity provider for the
// configured backend.
func openBackend(ctx context.Context, cfg *config.Config) (realtime.Store, identity.Provider, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		store, err := memory.LoadFile(cfg.FixturePath)
		if err != nil {
			return nil, nil, err
		}
		accounts, err := identity.LoadDevAccounts(cfg.FixturePath)
		if err != nil {
			return nil, nil, err
		}
		provider, err := identity.NewDevProvider(cfg.DevTokenSecret, cfg.SessionTTL, accounts)
		if err != nil {
			return nil, nil, err
		}
		logger.Log.WithFields(map[string]interface{}{
			"fixture":  cfg.FixturePath,
			"accounts": len(accounts),
		}).Warn("Running against the in-memory development backend")
		return store, provider, nil

	case config.BackendFirebase:
		opts := firebasedb.Options{
			ProjectID:       cfg.FirebaseProjectID,
			DatabaseURL:     cfg.FirebaseDatabaseURL,
			CredentialsFile: cfg.FirebaseCredentialsFile,
			EmulatorToken:   cfg.FirebaseEmulatorToken,
			PollInterval:    cfg.WatchPollInterval,
		}
		app, err := firebasedb.NewApp(ctx, opts)
		if err != nil {
			return nil, nil, err
		}
		store, err := firebasedb.New(ctx, app, opts)
		if err != nil {
			return nil, nil, err
		}
		authClient, err := app.Auth(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("initialize firebase auth: %w", err)
		}
		provider, err := identity.NewFirebaseProvider(authClient, identity.FirebaseOptions{
			APIKey:     cfg.FirebaseAPIKey,
			BaseURL:    cfg.IdentityToolkitURL,
			SessionTTL: cfg.SessionTTL,
			Timeout:    cfg.GatewayRequestTimeout,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, provider, nil
	}
	return nil, nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}
