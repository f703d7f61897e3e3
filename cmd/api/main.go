package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/custody_ledger/internal/account"
	"github.com/congo-pay/custody_ledger/internal/auth"
	"github.com/congo-pay/custody_ledger/internal/config"
	"github.com/congo-pay/custody_ledger/internal/disbursement"
	"github.com/congo-pay/custody_ledger/internal/infra"
	"github.com/congo-pay/custody_ledger/internal/ledger"
	"github.com/congo-pay/custody_ledger/internal/logging"
	"github.com/congo-pay/custody_ledger/internal/notification"
	"github.com/congo-pay/custody_ledger/internal/routes"
	"github.com/congo-pay/custody_ledger/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.AppName, cfg.AppEnv)
	if err := run(cfg, logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
	logger.Info("server exited cleanly")
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	var db *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		pool, err := infra.NewPostgresPool(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConns)
		if err != nil {
			return err
		}
		defer pool.Close()
		db = pool
	}

	var cache *redis.Client
	if cfg.RedisURL != "" {
		client, err := infra.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer func() {
			if err := client.Close(); err != nil {
				logger.Warn("close redis", "error", err)
			}
		}()
		cache = client
	}

	store, err := buildStore(ctx, cfg, db, cache)
	if err != nil {
		return err
	}

	notifier := notification.Multi{notification.NewLoggerNotifier(logging.Component(logger, "events"))}
	var sink disbursement.Sink = disbursement.NewLogSink(logging.Component(logger, "disbursement"))
	if len(cfg.KafkaBrokers) > 0 {
		events, err := infra.NewKafkaWriter(cfg.KafkaBrokers, cfg.EventsTopic)
		if err != nil {
			return err
		}
		defer events.Close()
		notifier = append(notifier, notification.NewKafkaNotifier(events))

		disbursements, err := infra.NewKafkaWriter(cfg.KafkaBrokers, cfg.DisbursementTopic)
		if err != nil {
			return err
		}
		defer disbursements.Close()
		sink = disbursement.NewKafkaSink(disbursements)
	} else {
		logger.Warn("KAFKA_BROKERS not set, disbursement instructions are only logged")
	}

	relay := disbursement.NewRelay(store, sink,
		disbursement.WithInterval(cfg.RelayInterval),
		disbursement.WithLogger(logging.Component(logger, "relay")),
	)

	codec := account.NewCodec(cfg.AddressPrefix)
	svc := ledger.NewService(store, codec,
		ledger.WithNotifier(notifier),
		ledger.WithLogger(logging.Component(logger, "ledger")),
		ledger.WithDisbursementHook(relay.Kick),
	)
	ledgerCfg, err := svc.Bootstrap(ctx, cfg.AllowedAsset)
	if err != nil {
		return fmt.Errorf("bootstrap ledger: %w", err)
	}
	logger.Info("ledger ready",
		"store", cfg.LedgerStore,
		"allowed_asset", ledgerCfg.AllowedAsset,
		"version", ledgerCfg.Version,
	)

	tokens, err := auth.NewCallerTokens(cfg.CallerTokenSecret, codec)
	if err != nil {
		return err
	}

	srv, err := server.New(routes.Deps{
		Cfg:    cfg,
		DB:     db,
		Cache:  cache,
		Logger: logger,
		Ledger: svc,
		Codec:  codec,
		Tokens: tokens,
	})
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		relay.Run(ctx)
	}()

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Listen()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-srvErrCh:
		stop()
		wg.Wait()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	// Stop the relay after the last request so committed withdrawals get a
	// final flush.
	if _, err := relay.Flush(shutdownCtx); err != nil {
		logger.Warn("final disbursement flush", "error", err)
	}
	stop()
	wg.Wait()
	return nil
}

func buildStore(ctx context.Context, cfg config.Config, db *pgxpool.Pool, cache *redis.Client) (ledger.Store, error) {
	switch cfg.LedgerStore {
	case config.StorePostgres:
		store := ledger.NewPostgresStore(db)
		if err := store.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return store, nil
	case config.StoreRedis:
		return ledger.NewRedisStore(cache), nil
	default:
		return ledger.NewInMemory(), nil
	}
}
