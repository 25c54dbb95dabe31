package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	config "cmdworker/configs"
	"cmdworker/pkg/command"
	"cmdworker/pkg/coordination/etcd"
	"cmdworker/pkg/logger"
	tracing "cmdworker/pkg/observability"
	"cmdworker/pkg/ops"
	"cmdworker/pkg/storage"
	"cmdworker/pkg/storage/redis"
	"cmdworker/pkg/worker"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if _, err := logger.Init(logger.Config{
		Level:    cfg.LogLevel,
		Encoding: cfg.LogEncoding,
		Service:  "cmdworker",
	}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting command line worker", zap.String("version", version))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	tcfg := tracing.DefaultConfig("cmdworker")
	tcfg.ServiceVersion = version
	tcfg.Enabled = cfg.TracingEnabled
	tcfg.Endpoint = cfg.TracingEndpoint
	tcfg.SamplingRate = cfg.TracingSampleRate
	traceProvider, err := tracing.Init(ctx, tcfg)
	if err != nil {
		logger.Warn("tracing disabled, exporter initialization failed", zap.Error(err))
	}

	coord, err := etcd.NewEtcdCoordinator(cfg.EtcdEndpoints)
	if err != nil {
		logger.Fatal("failed to connect to etcd", zap.Error(err))
	}
	defer coord.Close()
	logger.Info("etcd connected", zap.Strings("endpoints", cfg.EtcdEndpoints))

	qcfg := redis.DefaultRedisQueueConfig(cfg.RedisAddr())
	qcfg.JobStream = cfg.JobStream
	qcfg.ResultStream = cfg.ResultStream
	queue, err := redis.NewRedisQueueWithConfig(qcfg)
	if err != nil {
		logger.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer queue.Close()
	logger.Info("redis connected", zap.String("addr", cfg.RedisAddr()))

	logs, sweeper, err := buildLogStore(cfg)
	if err != nil {
		logger.Fatal("failed to initialize output archive", zap.Error(err))
	}
	if sweeper != nil {
		sweeper.Start()
		defer sweeper.Stop()
	}

	w := worker.New(cfg, worker.CommandLineDescriptor(version), coord, queue, logs, command.NewProcessLauncher())

	opsServer := ops.NewServer(ops.Config{
		Port:        cfg.OpsPort,
		Worker:      w,
		Coordinator: coord,
	})
	go func() {
		if err := opsServer.Start(); err != nil {
			logger.Error("ops server error", zap.Error(err))
		}
	}()

	// Blocks until the context is cancelled and in-flight jobs drain.
	w.Start(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("ops server shutdown error", zap.Error(err))
	}
	if traceProvider != nil {
		if err := traceProvider.Shutdown(shutdownCtx); err != nil {
			logger.Error("trace provider shutdown error", zap.Error(err))
		}
	}

	logger.Info("shutdown complete")
}

// buildLogStore wires the archive backend selected in config. The returned
// sweeper is non-nil only for the local backend, which owns its retention.
func buildLogStore(cfg *config.Config) (storage.LogStore, *storage.RetentionSweeper, error) {
	switch cfg.ArchiveBackend {
	case "", "off":
		return nil, nil, nil
	case "local":
		store, err := storage.NewLocalLogStore(cfg.ArchiveDir)
		if err != nil {
			return nil, nil, err
		}
		sweeper, err := storage.NewRetentionSweeper(cfg.ArchiveDir, cfg.ArchiveRetention, cfg.ArchiveSweepSchedule)
		if err != nil {
			return nil, nil, err
		}
		return store, sweeper, nil
	case "s3":
		store, err := storage.NewS3LogStore(storage.S3LogStoreConfig{
			Bucket:          cfg.S3Bucket,
			Prefix:          cfg.S3Prefix,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown archive backend %q", cfg.ArchiveBackend)
	}
}
