package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"kite-trading-bot/config"
	"kite-trading-bot/internal/api"
	"kite-trading-bot/internal/broker"
	"kite-trading-bot/internal/circuit"
	"kite-trading-bot/internal/database"
	"kite-trading-bot/internal/events"
	"kite-trading-bot/internal/notification"
	"kite-trading-bot/internal/regime"
	"kite-trading-bot/internal/stops"
	"kite-trading-bot/internal/vault"
	"kite-trading-bot/internal/vsr"
	"kite-trading-bot/internal/watchdog"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.LoggingConfig)
	logger.Info().Str("vendor", cfg.BrokerConfig.Vendor).Bool("dry_run", cfg.BrokerConfig.DryRun).Msg("Starting stop-loss watchdog")

	if err := run(cfg, logger); err != nil && err != context.Canceled {
		logger.Fatal().Err(err).Msg("Watchdog exited with error")
	}
	logger.Info().Msg("Shutdown complete")
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	if cfg.Pretty {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Vault-held credentials win over config when enabled.
	vaultClient, err := vault.NewClient(cfg.VaultConfig)
	if err != nil {
		return fmt.Errorf("vault: %w", err)
	}
	if vaultClient.Enabled() {
		creds, err := vaultClient.GetBrokerCredentials(ctx)
		if err != nil {
			return fmt.Errorf("vault credentials: %w", err)
		}
		cfg.BrokerConfig.APIKey = creds.APIKey
		cfg.BrokerConfig.APISecret = creds.APISecret
		cfg.BrokerConfig.AccessToken = creds.AccessToken
		cfg.BrokerConfig.ClientID = creds.ClientID
		logger.Info().Msg("Broker credentials loaded from Vault")
	}

	client, err := buildBrokerClient(ctx, cfg.BrokerConfig)
	if err != nil {
		return fmt.Errorf("broker client: %w", err)
	}

	bus := events.NewBus()

	var repo *database.Repository
	var db *database.DB
	if cfg.DatabaseConfig.Enabled {
		db, err = database.NewDB(cfg.DatabaseConfig, logger)
		if err != nil {
			return fmt.Errorf("database: %w", err)
		}
		defer db.Close()
		if err := db.RunMigrations(ctx); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		repo = database.NewRepository(db)
	} else {
		logger.Warn().Msg("Database disabled, no trade history will be recorded")
	}

	redisState := database.NewRedisState(cfg.RedisConfig, logger)
	defer redisState.Close()

	var regimeMon *regime.Monitor
	cronRunner := cron.New()
	if cfg.RegimeConfig.Enabled {
		regimeMon = regime.NewMonitor(client, redisState, cfg.RegimeConfig, logger)
		if _, err := cronRunner.AddFunc(cfg.RegimeConfig.RefreshCron, func() {
			refreshCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
			defer cancel()
			before := regimeMon.Current()
			if err := regimeMon.Refresh(refreshCtx); err != nil {
				logger.Error().Err(err).Msg("Regime refresh failed")
				return
			}
			after := regimeMon.Current()
			if regime.Changed(before, after) {
				prevLabel := ""
				if before != nil {
					prevLabel = string(before.Label)
				}
				bus.PublishRegimeChanged(prevLabel, string(after.Label), after.Confidence)
			}
		}); err != nil {
			return fmt.Errorf("regime cron %q: %w", cfg.RegimeConfig.RefreshCron, err)
		}
		cronRunner.Start()
		defer cronRunner.Stop()
	}

	var vsrTracker *vsr.Tracker
	if cfg.VSRConfig.Enabled {
		vsrTracker = vsr.NewTracker(cfg.VSRConfig, redisState, bus, logger)
	}

	notifier := notification.NewManager(cfg.NotificationConfig.Enabled)
	notifier.AddNotifier(notification.NewTelegramNotifier(
		cfg.NotificationConfig.Telegram.BotToken,
		cfg.NotificationConfig.Telegram.ChatID,
		cfg.NotificationConfig.Telegram.Enabled,
	))
	notifier.WireEvents(bus)

	breaker := circuit.NewBreaker(cfg.CircuitConfig, bus)
	tracker := watchdog.NewTracker(bus, logger)
	dispatcher := watchdog.NewDispatcher(client, tracker, breaker, repo, bus, cfg.WatchdogConfig, logger)
	multipliers := stops.NewMultiplierSource(cfg.RegimeStopsConfig)

	ticks, tickStream, err := startTickStream(ctx, cfg, client, logger)
	if err != nil {
		// The watchdog still protects positions on the polling cycle alone.
		logger.Warn().Err(err).Msg("Tick stream unavailable, PSAR stops disabled")
	}
	if tickStream != nil {
		defer tickStream.Stop()
	}

	wd := watchdog.New(
		client, tracker, dispatcher, multipliers,
		regimeMon, vsrTracker, redisState, repo, bus,
		cfg.WatchdogConfig, ticks, logger,
	)

	server := api.NewServer(
		cfg.ServerConfig, cfg.AuthConfig,
		tracker, dispatcher, breaker, regimeMon, vsrTracker, repo,
		logger,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return wd.Run(gctx) })
	g.Go(func() error { return server.Start(gctx) })

	return g.Wait()
}

// buildBrokerClient constructs the vendor adapter. Dry-run always routes
// through the mock so no real order can leave the process.
func buildBrokerClient(ctx context.Context, cfg config.BrokerConfig) (broker.Client, error) {
	if cfg.DryRun || cfg.Vendor == "mock" {
		return broker.NewMockClient(), nil
	}

	switch cfg.Vendor {
	case "kite":
		client, err := broker.NewKiteClient(cfg.APIKey, cfg.AccessToken, cfg.BaseURL)
		if err != nil {
			return nil, err
		}
		// Without the instrument map neither candles nor token-keyed quotes
		// resolve, so a failed load is fatal.
		if err := client.LoadInstruments(ctx); err != nil {
			return nil, err
		}
		return client, nil
	case "xts":
		client, err := broker.NewXTSClient(cfg.APIKey, cfg.APISecret, cfg.ClientID, cfg.BaseURL)
		if err != nil {
			return nil, err
		}
		if err := client.Login(ctx); err != nil {
			return nil, fmt.Errorf("xts login: %w", err)
		}
		if err := client.LoadInstruments(ctx); err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown broker vendor %q", cfg.Vendor)
	}
}

// startTickStream subscribes to ticks for the currently open positions. The
// mock vendor has no stream; PSAR is simply inactive in dry-run.
func startTickStream(ctx context.Context, cfg *config.Config, client broker.Client, logger zerolog.Logger) (<-chan broker.Tick, *broker.TickStream, error) {
	if cfg.BrokerConfig.DryRun || cfg.BrokerConfig.Vendor == "mock" || cfg.BrokerConfig.WSURL == "" {
		return nil, nil, nil
	}

	positions, err := client.GetPositions(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("initial positions for tick subscription: %w", err)
	}
	tickers := make([]string, 0, len(positions))
	for _, p := range positions {
		if p.Quantity != 0 {
			tickers = append(tickers, p.Ticker)
		}
	}
	if len(tickers) == 0 {
		logger.Info().Msg("No open positions, tick stream not started")
		return nil, nil, nil
	}

	stream := broker.NewTickStream(
		cfg.BrokerConfig.WSURL,
		cfg.BrokerConfig.APIKey,
		cfg.BrokerConfig.AccessToken,
		tickers,
		cfg.WatchdogConfig.TickBufferSize,
		logger,
	)
	if err := stream.Start(); err != nil {
		return nil, nil, err
	}
	return stream.Ticks(), stream, nil
}
