package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"salefeed-relay/api"
	"salefeed-relay/config"
	"salefeed-relay/feed"
	"salefeed-relay/services"
	"salefeed-relay/storage"
	"salefeed-relay/utils"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		utils.NewLogger().Error("Invalid configuration: %v", err)
		os.Exit(1)
	}
	logger := utils.NewLoggerWithLevel(utils.ParseLevel(cfg.LogLevel))

	logger.Info("=== Sale feed relay starting (mode: %s) ===", cfg.Mode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}
	logger.Info("=== Sale feed relay stopped ===")
}

func run(ctx context.Context, cfg *config.Config, logger *utils.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg   sync.WaitGroup
		errs = make(chan error, 2)
	)

	if cfg.RunsServer() {
		st, err := openStore(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := st.Close(); err != nil {
				logger.Warn("Closing store: %v", err)
			}
		}()

		if cfg.SweepEnabled {
			sweeper := services.NewSweeper(st, cfg.SweepInterval, logger)
			wg.Add(1)
			go func() {
				defer wg.Done()
				sweeper.Run(ctx)
			}()
		} else {
			logger.Warn("Retention sweep disabled; listings accumulate until restart")
		}

		ingester := services.NewIngester(st, cfg.DedupStrategy, logger)
		app := api.NewApp(ingester, st, services.NewInsightService(logger), logger)
		srv := &http.Server{
			Addr:              ":" + strconv.Itoa(cfg.Port),
			Handler:           api.NewRouter(app),
			ReadHeaderTimeout: 10 * time.Second,
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Info("Server running on port %d (dedup: %s)", cfg.Port, ingester.Strategy())
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errs <- fmt.Errorf("http server: %w", err)
			}
		}()

		// Shut the server down after the listener below has drained, so
		// relays to this process still find it listening.
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("HTTP shutdown: %v", err)
			}
			wg.Wait()
		}()
	}

	var listenerWG sync.WaitGroup
	if cfg.RunsListener() {
		relay := feed.NewRelay(cfg.RelayURL, cfg.RelayTimeout)
		listener := feed.NewListener(feed.ListenerConfig{
			URL:       cfg.FeedURL,
			JoinEvent: cfg.FeedJoinEvent,
			SaleEvent: cfg.FeedSaleEvent,
			Filter: feed.JoinFilter{
				Currency: cfg.FeedCurrency,
				Locale:   cfg.FeedLocale,
				AppID:    cfg.FeedAppID,
			},
			Reconnect:           cfg.FeedReconnect,
			ReconnectMaxElapsed: cfg.FeedReconnectMaxElapsed,
			RelayConcurrency:    cfg.RelayConcurrency,
		}, relay, logger)

		listenerWG.Add(1)
		go func() {
			defer listenerWG.Done()
			logger.Info("Relaying %s events from %s to %s", cfg.FeedSaleEvent, cfg.FeedURL, cfg.RelayURL)
			if err := listener.Run(ctx); err != nil && !cfg.RunsServer() {
				errs <- fmt.Errorf("feed listener: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case runErr = <-errs:
	}
	cancel()

	listenerWG.Wait()
	return runErr
}

// openStore builds the configured Record Store and waits until it answers.
func openStore(ctx context.Context, cfg *config.Config, logger *utils.Logger) (storage.Store, error) {
	retry := &utils.RetryConfig{
		MaxAttempts: cfg.StoreConnectRetries,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Logger:      logger,
	}

	switch cfg.StoreDriver {
	case config.DriverMemory:
		logger.Info("Using in-memory store")
		return storage.NewMemoryStore(), nil

	case config.DriverRedis:
		client, err := storage.ConnectRedis(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		st := storage.NewRedisStore(client, cfg.RedisPrefix)
		if err := retry.Do(ctx, "redis ping", func() error { return st.Ping(ctx) }); err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		logger.Info("Connected to Redis (prefix %q)", cfg.RedisPrefix)
		return st, nil

	default:
		st, err := storage.NewPostgresStore(ctx, cfg.DSN(), retry)
		if err != nil {
			logger.Error("Make sure the database is running: docker compose up -d")
			return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
		}
		logger.Info("Connected to PostgreSQL at %s:%s/%s", cfg.PostgresHost, cfg.PostgresPort, cfg.PostgresDB)
		return st, nil
	}
}
