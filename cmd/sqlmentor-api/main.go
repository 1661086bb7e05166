package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/sqlmentor/sqlmentor/internal/api"
	"github.com/sqlmentor/sqlmentor/internal/archive"
	"github.com/sqlmentor/sqlmentor/internal/config"
	"github.com/sqlmentor/sqlmentor/internal/dbgateway"
	"github.com/sqlmentor/sqlmentor/internal/memory/postgres"
	"github.com/sqlmentor/sqlmentor/internal/nl2sql"
	"github.com/sqlmentor/sqlmentor/internal/observability"
	"github.com/sqlmentor/sqlmentor/internal/retrieval"
	"github.com/sqlmentor/sqlmentor/internal/session"
	s3store "github.com/sqlmentor/sqlmentor/internal/storage/s3"
	"github.com/sqlmentor/sqlmentor/internal/tools"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadFromEnv("sqlmentor-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)

	storeDB, err := postgres.Open(context.Background(), postgres.DBConfig{
		DSN:             cfg.Store.DSN,
		MaxOpenConns:    cfg.Store.MaxOpenConns,
		MaxIdleConns:    cfg.Store.MaxIdleConns,
		ConnMaxIdleTime: cfg.Store.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.Store.ConnMaxLifetime,
	})
	if err != nil {
		logger.Error("failed to open store db", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = storeDB.Close() }()

	repo := postgres.NewRepository(storeDB, logger)

	objectStore, err := s3store.New(context.Background(), s3store.Config{
		Endpoint:         cfg.ObjectStore.Endpoint,
		Region:           cfg.ObjectStore.Region,
		Bucket:           cfg.ObjectStore.Bucket,
		AccessKeyID:      cfg.ObjectStore.AccessKeyID,
		SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
		UseSSL:           cfg.ObjectStore.UseSSL,
		Prefix:           cfg.ObjectStore.Prefix,
		AutoCreateBucket: cfg.ObjectStore.AutoCreateBucket,
	}, logger)
	if err != nil {
		logger.Error("failed to initialize object store", slog.Any("error", err))
		os.Exit(1)
	}

	var generator nl2sql.Generator
	if cfg.AI.Enabled {
		generator, err = nl2sql.NewOpenAIGenerator(nl2sql.OpenAIConfig{
			BaseURL:     cfg.AI.BaseURL,
			APIKey:      cfg.AI.APIKey,
			Model:       cfg.AI.Model,
			Temperature: cfg.AI.Temperature,
			Timeout:     cfg.AI.Timeout,
		})
		if err != nil {
			logger.Error("failed to initialize sql generator", slog.Any("error", err))
			os.Exit(1)
		}
	}

	gateway := dbgateway.NewGateway(cfg.Gateway.QueryTimeout, logger)
	archiver := archive.NewService(repo, objectStore, logger)

	toolService := tools.NewService(tools.Config{
		MaxResultRows: cfg.Tools.MaxResultRows,
		HistoryLimit:  cfg.Tools.HistoryLimit,
	}, tools.Dependencies{
		Resolver:     session.NewResolver(repo, cfg.Session.DefaultConnectionID),
		Connections:  repo,
		Chats:        repo,
		Examples:     repo,
		Stats:        repo,
		Ranker:       retrieval.NewRanker(cfg.Retrieval.TopK),
		Generator:    generator,
		Introspector: gateway,
		Executor:     gateway,
		Pinger:       gateway,
		Archiver:     archiver,
		Logger:       logger,
	})

	handler := api.NewHandler(cfg, api.Dependencies{
		Logger: logger,
		Tools:  toolService,
		Readiness: api.CombineReadinessChecks(
			repo.HealthCheck,
			api.CheckStoreDSN(cfg),
		),
		DependencyTimeout: time.Second,
	})

	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server", slog.String("addr", cfg.HTTP.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}
