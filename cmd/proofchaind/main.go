package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"ProofChain/internal/api"
	"ProofChain/internal/config"
	"ProofChain/internal/events"
	"ProofChain/internal/observability/metrics"
	"ProofChain/internal/proofs"
	"ProofChain/internal/storage/mysql"
	"ProofChain/internal/web3/provider"
	"ProofChain/pkg/logger"
)

// main 是 ProofChain 网关守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("proofchaind 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("PROOFCHAIN_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "proofchain.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(cfg.Log); err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	defer logger.Sync()
	appLogger := logger.Named("proofchaind")

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}

	ledger, err := mysql.Open(ctx, mysql.Options{
		Driver:  cfg.Ledger.Driver,
		DataDir: cfg.Runtime.DataDir,
		SQL: mysql.Config{
			DSN:             cfg.Ledger.DSN,
			MaxOpenConns:    cfg.Ledger.MaxOpenConns,
			MaxIdleConns:    cfg.Ledger.MaxIdleConns,
			ConnMaxLifetime: mysql.ConnLifetime(cfg.Ledger.ConnMaxLifetimeSeconds),
			ConnMaxIdleTime: mysql.ConnLifetime(cfg.Ledger.ConnMaxIdleTimeSeconds),
		},
	})
	if err != nil {
		return err
	}
	defer ledger.Close()

	publisher, err := newPublisher(ctx, cfg.Events)
	if err != nil {
		return err
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			appLogger.Warn("关闭事件通道失败", slog.String("error", err.Error()))
		}
	}()

	chainRegistry, err := provider.NewRegistry(ctx, cfg.Web3)
	if err != nil {
		return err
	}
	defer chainRegistry.Close()

	client, err := chainRegistry.DefaultClient()
	if err != nil {
		return err
	}

	gateway, err := proofs.NewGateway(client.ContractAddress(), client, client,
		proofs.WithLogger(logger.Named("gateway")),
		proofs.WithAuditLogger(logger.Audit()),
		proofs.WithRecorder(mysql.NewLedgerRecorder(ledger)),
		proofs.WithPublisher(publisher),
		proofs.WithLogSubscriber(client),
		proofs.WithUnlockDuration(cfg.Gateway.UnlockDurationSeconds),
		proofs.WithPollInterval(cfg.Gateway.PollInterval()),
	)
	if err != nil {
		return err
	}
	appLogger.Info("proof gateway ready",
		slog.String("chain", client.Name()),
		slog.String("chain_notes", client.Notes()),
		slog.String("contract", gateway.Contract().Hex()),
		slog.String("ledger", cfg.Ledger.Driver),
		slog.String("events", cfg.Events.Driver))

	if !cfg.Gateway.DisableListener {
		go func() {
			if err := gateway.Listen(ctx); err != nil {
				appLogger.Error("事件监听退出", slog.String("error", err.Error()))
			}
		}()
	}

	if addr := cfg.Metrics.Address; addr != "" {
		go func() {
			if err := metrics.StartServer(ctx, addr); err != nil && !errors.Is(err, context.Canceled) {
				appLogger.Error("指标服务退出", slog.String("addr", addr), slog.String("error", err.Error()))
			}
		}()
		appLogger.Info("metrics server listening", slog.String("addr", addr))
	}

	server := api.NewServer(cfg.Server.Address, gateway, ledger)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newPublisher(ctx context.Context, cfg config.EventsConfig) (events.Publisher, error) {
	switch cfg.Driver {
	case "", "log":
		return events.NewLogPublisher(logger.Named("events")), nil
	case "redis":
		redisPublisher, err := events.NewRedisPublisher(ctx, events.RedisConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			List:     cfg.Redis.List,
			Channel:  cfg.Redis.Channel,
			MaxLen:   cfg.Redis.MaxLen,
		})
		if err != nil {
			return nil, err
		}
		return events.NewFanout(events.NewLogPublisher(logger.Named("events")), redisPublisher), nil
	case "rabbitmq":
		rabbitPublisher, err := events.NewRabbitMQPublisher(events.RabbitMQConfig{
			URL:        cfg.RabbitMQ.URL,
			Queue:      cfg.RabbitMQ.Queue,
			Durable:    cfg.RabbitMQ.Durable,
			AutoDelete: cfg.RabbitMQ.AutoDelete,
		})
		if err != nil {
			return nil, err
		}
		return events.NewFanout(events.NewLogPublisher(logger.Named("events")), rabbitPublisher), nil
	default:
		return nil, fmt.Errorf("未知的事件驱动: %s", cfg.Driver)
	}
}
