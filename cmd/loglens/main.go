package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/loglens/loglens/internal/aggregate"
	"github.com/loglens/loglens/internal/config"
	"github.com/loglens/loglens/internal/pipeline"
	"github.com/loglens/loglens/internal/report"
	"github.com/loglens/loglens/internal/server"
	"github.com/loglens/loglens/internal/sink"
	"github.com/loglens/loglens/internal/sink/archive"
	"github.com/loglens/loglens/internal/sink/memory"
	"github.com/loglens/loglens/internal/sink/postgres"
	"github.com/loglens/loglens/internal/sink/redisstore"
	"github.com/loglens/loglens/internal/source"
)

func main() {
	configPath := flag.String("config", "configs/default.yaml", "Path to YAML config")
	port := flag.Int("port", 0, "HTTP port override")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if *port > 0 {
		cfg.HTTPPort = *port
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)
	logger.Info("loglens starting",
		"http_port", cfg.HTTPPort,
		"hot_backend", cfg.HotBackend,
		"window_size", cfg.WindowSize.String())

	ctx := context.Background()

	// 1. Stores.
	hot, err := openHotStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Hot store init failed: %v", err)
	}
	cold, err := archive.Open(cfg.ArchiveDir)
	if err != nil {
		log.Fatalf("Archive init failed: %v", err)
	}

	// 2. Pipeline.
	if err := os.MkdirAll(filepath.Dir(cfg.DeadLetterPath), 0755); err != nil {
		log.Fatalf("Dead-letter dir init failed: %v", err)
	}
	dlq, err := pipeline.OpenDeadLetterLog(cfg.DeadLetterPath)
	if err != nil {
		log.Fatalf("Dead-letter log init failed: %v", err)
	}
	pipe := pipeline.New(hot, cold, dlq, pipeline.Options{
		QueueCapacity:  cfg.QueueCapacity,
		MaxRetries:     cfg.MaxRetries,
		BackoffBase:    cfg.BackoffBase,
		BackoffCap:     cfg.BackoffCap,
		AttemptTimeout: cfg.AttemptTimeout,
		BatchSize:      cfg.BatchSize,
		BatchInterval:  cfg.BatchInterval,
		Logger:         logger,
	})
	pipe.Start()

	// 3. Aggregation engine and report sink.
	reports, err := report.NewFileSink(cfg.ReportDir, logger)
	if err != nil {
		log.Fatalf("Report sink init failed: %v", err)
	}
	engineCtx, stopEngine := context.WithCancel(ctx)
	engine := aggregate.NewEngine(hot, reports, cfg.WindowSize, logger)
	go func() {
		if err := engine.Run(engineCtx); err != nil && engineCtx.Err() == nil {
			logger.Error("aggregation engine stopped", "error", err)
		}
	}()
	cleanerDone := make(chan struct{})
	go reports.RunCleaner(cleanerDone, time.Hour, cfg.ReportRetention)

	// 4. Optional Kafka source.
	var kafkaSrc *source.KafkaSource
	if len(cfg.KafkaBrokers) > 0 {
		kafkaSrc, err = source.NewKafkaSource(cfg.KafkaBrokers, cfg.KafkaGroupID, cfg.KafkaTopic, pipe, logger)
		if err != nil {
			log.Fatalf("Kafka source init failed: %v", err)
		}
		go func() {
			if err := kafkaSrc.Run(engineCtx); err != nil && engineCtx.Err() == nil {
				logger.Error("kafka source stopped", "error", err)
			}
		}()
	}

	// 5. HTTP server.
	srv := server.New(pipe, hot, reports, logger)
	addr := fmt.Sprintf(":%d", cfg.HTTPPort)
	go func() {
		logger.Info("listening", "addr", addr)
		if err := srv.Start(addr); err != nil {
			logger.Error("server stopped", "error", err)
		}
	}()

	// 6. Graceful shutdown: stop intake first, then flush deliveries.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info("shutting down", "signal", sig.String())

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	cancel()

	if kafkaSrc != nil {
		_ = kafkaSrc.Close()
	}
	stopEngine()
	close(cleanerDone)

	drainCtx, cancelDrain := context.WithTimeout(ctx, cfg.DrainGrace)
	deadLettered, err := pipe.Drain(drainCtx)
	cancelDrain()
	if err != nil {
		logger.Error("drain error", "error", err)
	}
	logger.Info("pipeline drained", "dead_lettered", deadLettered)

	if err := dlq.Close(); err != nil {
		logger.Error("dead-letter close error", "error", err)
	}
	logger.Info("loglens exited gracefully")
}

func openHotStore(ctx context.Context, cfg config.Config) (sink.HotStore, error) {
	switch cfg.HotBackend {
	case "postgres":
		return postgres.Connect(ctx, cfg.PostgresURL, cfg.MaxDBConns)
	case "redis":
		client, err := redisstore.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		return redisstore.NewHotStore(client), nil
	default:
		return memory.NewHotStore(), nil
	}
}
