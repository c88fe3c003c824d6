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

	"github.com/bhuvisx/area-news/backend/internal/archive"
	"github.com/bhuvisx/area-news/backend/internal/config"
	"github.com/bhuvisx/area-news/backend/internal/diagnostics"
	"github.com/bhuvisx/area-news/backend/internal/elasticsearch"
	"github.com/bhuvisx/area-news/backend/internal/logger"
	"github.com/bhuvisx/area-news/backend/internal/metrics"
	"github.com/bhuvisx/area-news/backend/internal/normalize"
	"github.com/bhuvisx/area-news/backend/internal/sonar"
)

func main() {
	log := logger.New("api")
	if err := config.LoadDotEnv(); err != nil {
		log.Error("load .env", slog.Any("err", err))
		os.Exit(1)
	}
	cfg, err := config.LoadAPI()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	srv := &server{
		log:        log,
		cfg:        cfg,
		upstream:   newFetcher(cfg, log),
		normalizer: newNormalizer(cfg),
		diag:       diagnostics.New(cfg.DiagnosticsDir, log),
		metrics:    metrics.New(),
	}

	if cfg.ArchiveEnabled() {
		publisher := archive.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, log)
		defer func() {
			if err := publisher.Close(); err != nil {
				log.Error("close archive publisher", slog.Any("err", err))
			}
		}()
		srv.archive = publisher
	}

	if cfg.SearchEnabled() {
		esClient, err := elasticsearch.New(cfg.ElasticsearchAddr, cfg.ElasticsearchIndex, log)
		if err != nil {
			log.Error("init elasticsearch", slog.Any("err", err))
			os.Exit(1)
		}
		srv.search = esClient
	}

	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.Sonar.Timeout + 15*time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	go func() {
		log.Info("api server starting",
			slog.String("addr", cfg.BindAddr),
			slog.String("sonar_mode", cfg.Sonar.Mode),
			slog.String("sonar_model", cfg.Sonar.Model),
			slog.Bool("archive", cfg.ArchiveEnabled()),
			slog.Bool("search", cfg.SearchEnabled()),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server stopped", slog.Any("err", err))
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown", slog.Any("err", err))
	}
}

func newFetcher(cfg *config.API, log *slog.Logger) sonar.Fetcher {
	if cfg.Sonar.Mode == config.ModeContent {
		return sonar.NewContentClient(cfg.Sonar.BaseURL, cfg.Sonar.APIKey, cfg.Sonar.Model, cfg.Sonar.Timeout)
	}
	return sonar.NewClient(cfg.Sonar.BaseURL, cfg.Sonar.APIKey, cfg.Sonar.Model, cfg.Sonar.Timeout, log)
}

func newNormalizer(cfg *config.API) *normalize.Normalizer {
	var opts []normalize.Option
	if cfg.RepairJSON {
		opts = append(opts, normalize.WithRepair())
	}
	if cfg.StrictItems {
		opts = append(opts, normalize.WithValidator(normalize.RequireTitle))
	}
	return normalize.New(opts...)
}
