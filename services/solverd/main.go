package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"tidepool/native/common"
	"tidepool/observability/logging"
	telemetry "tidepool/observability/otel"
	"tidepool/services/solverd/chain"
	"tidepool/services/solverd/config"
	"tidepool/services/solverd/pubsub"
	"tidepool/services/solverd/quotecache"
	"tidepool/services/solverd/report"
	"tidepool/services/solverd/server"
	"tidepool/services/solverd/settlement"
	"tidepool/services/solverd/storage"
	"tidepool/services/solverd/sweeper"
	"tidepool/services/solverd/txbuilder"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/solverd/config.yaml", "path to solverd configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("TIDEPOOL_ENV"))
	logger := logging.Setup("solverd", env)

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.FromEnvironment("solverd", env))
	if err != nil {
		log.Fatalf("solverd: init telemetry: %v", err)
	}
	defer func() {
		_ = shutdownTelemetry(context.Background())
	}()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("solverd: load config: %v", err)
	}
	logger.Info("configuration loaded",
		"listen", cfg.ListenAddress,
		logging.MaskField("database_url", cfg.DatabaseURL),
		logging.MaskField("solver_secret", cfg.API.SolverSecret),
	)

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		log.Fatalf("solverd: open database: %v", err)
	}
	if err := storage.AutoMigrate(db); err != nil {
		log.Fatalf("solverd: migrate database: %v", err)
	}
	defer func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}()
	store := storage.New(db)

	provider := chain.NewClient(cfg.Chain.Endpoint, cfg.Chain.AuthToken)
	builder := txbuilder.NewClient(cfg.TxBuilder.Endpoint, "")

	var quotes *quotecache.Cache
	if cfg.QuoteCache.Addr != "" {
		quotes, err = quotecache.New(context.Background(), cfg.QuoteCache.Addr, cfg.QuoteCache.Password, cfg.QuoteCache.DB, cfg.QuoteCache.TTL.Duration)
		if err != nil {
			log.Fatalf("solverd: connect quote cache: %v", err)
		}
		defer quotes.Close()
	}

	var events *pubsub.Publisher
	if cfg.Events.NATSURL != "" {
		events, err = pubsub.Connect(cfg.Events.NATSURL, logger)
		if err != nil {
			log.Fatalf("solverd: connect nats: %v", err)
		}
		defer events.Close()
	}

	coordinator := settlement.New(store, store, store, builder, nil, events, logger, settlement.Config{
		MaxBatchSize: cfg.Settlement.MaxBatchSize,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sweep := sweeper.New(store, provider, logger, cfg.Sweeper.Interval.Duration)
	go sweep.Run(ctx)

	if cfg.Reports.Enabled {
		exporter, err := report.New(report.Config{
			Source:    store,
			OutputDir: cfg.Reports.OutputDir,
			Logger:    logger,
		})
		if err != nil {
			log.Fatalf("solverd: configure reports: %v", err)
		}
		go exporter.RunDaily(ctx)
	}

	api := server.New(server.Config{
		Store:        store,
		Coordinator:  coordinator,
		Quotes:       quotes,
		SolverSecret: []byte(cfg.API.SolverSecret),
		Quota: common.Quota{
			MaxOpenIntents: cfg.API.MaxOpenIntents,
			MaxOpenOrders:  cfg.API.MaxOpenOrders,
		},
		CreateLimit: server.RateLimit{
			RequestsPerMinute: cfg.API.RequestsPerMinute,
			Burst:             cfg.API.Burst,
		},
		Logger: logger,
	})

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("http server listening", "listen", cfg.ListenAddress)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "err", err)
	}
}
