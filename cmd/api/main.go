// Package main is the entry point for the expert chat gateway.
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

	"go.uber.org/zap"

	"github.com/doutor-motors/expert-chat/internal/chat"
	"github.com/doutor-motors/expert-chat/internal/config"
	"github.com/doutor-motors/expert-chat/internal/expert"
	"github.com/doutor-motors/expert-chat/internal/handler"
	natsclient "github.com/doutor-motors/expert-chat/internal/nats"
	"github.com/doutor-motors/expert-chat/internal/postgres"
	"github.com/doutor-motors/expert-chat/internal/service"
	"github.com/doutor-motors/expert-chat/pkg/logger"
	"github.com/doutor-motors/expert-chat/pkg/tracing"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting expert chat gateway")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "expert-chat-gateway", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(context.Background(), tp)
		}
	}

	expertClient, err := expert.NewClient(expert.Config{
		URL:     cfg.ExpertChatURL,
		APIKey:  cfg.ExpertChatAPIKey,
		Timeout: cfg.ExpertChatTimeout,
	})
	if err != nil {
		log.Fatal("invalid expert chat configuration", zap.Error(err))
	}

	svcCfg := service.Config{
		Transport:    expertClient,
		MaxLineBytes: cfg.MaxLineBytes,
		IdleTTL:      cfg.SessionIdleTTL,
	}
	deps := map[string]handler.Pinger{}

	if cfg.NATSEnabled {
		natsClient, err := natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			log.Fatal("failed to connect to NATS", zap.Error(err))
		}
		defer natsClient.Close()

		archive := natsclient.NewArchive(natsClient, log)
		if err := archive.EnsureStream(ctx); err != nil {
			log.Fatal("failed to ensure stream", zap.Error(err))
		}

		svcCfg.Archiver = archive
		svcCfg.Loader = archive
		svcCfg.NotifierFor = func(sessionID string) chat.Notifier {
			return natsclient.NewNotifier(natsClient, sessionID)
		}
		deps["nats"] = natsClient
	}

	if cfg.DatabaseURL != "" {
		pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal("failed to connect to database", zap.Error(err))
		}
		defer pool.Close()

		store := postgres.NewStore(pool, log)
		svcCfg.Loader = store
		deps["postgres"] = store
	}

	sessions := service.NewSessionService(svcCfg, log)
	go sessions.Run(ctx)

	router := handler.NewRouter(handler.RouterConfig{
		Sessions:          sessions,
		Health:            handler.NewHealthHandler(deps),
		Logger:            log,
		JWTSecret:         cfg.JWTSecret,
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow,
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}
