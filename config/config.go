package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	BrokerConfig       BrokerConfig       `json:"broker"`
	WatchdogConfig     WatchdogConfig     `json:"watchdog"`
	RegimeStopsConfig  RegimeStopsConfig  `json:"regime_stops"`
	RegimeConfig       RegimeConfig       `json:"regime"`
	VSRConfig          VSRConfig          `json:"vsr"`
	CircuitConfig      CircuitConfig      `json:"circuit"`
	DatabaseConfig     DatabaseConfig     `json:"database"`
	RedisConfig        RedisConfig        `json:"redis"`
	ServerConfig       ServerConfig       `json:"server"`
	AuthConfig         AuthConfig         `json:"auth"`
	VaultConfig        VaultConfig        `json:"vault"`
	NotificationConfig NotificationConfig `json:"notification"`
	LoggingConfig      LoggingConfig      `json:"logging"`
}

// BrokerConfig selects and configures the broker adapter.
type BrokerConfig struct {
	Vendor      string `json:"vendor"`       // "kite", "xts", or "mock"
	APIKey      string `json:"api_key"`      // Kite API key / XTS app key
	APISecret   string `json:"api_secret"`   // Kite API secret / XTS secret key
	AccessToken string `json:"access_token"` // Daily session token
	BaseURL     string `json:"base_url"`
	WSURL       string `json:"ws_url"`    // Tick stream endpoint
	ClientID    string `json:"client_id"` // XTS client code
	DryRun      bool   `json:"dry_run"`   // Route orders through the mock broker
}

// WatchdogConfig tunes the stop-loss polling loop.
type WatchdogConfig struct {
	PollIntervalSeconds int     `json:"poll_interval_seconds"` // Default 60
	CandleInterval      string  `json:"candle_interval"`       // e.g. "5minute"
	CandleLookback      int     `json:"candle_lookback"`       // Candles fetched per refresh
	ATRPeriod           int     `json:"atr_period"`
	ExitLimitBufferPct  float64 `json:"exit_limit_buffer_pct"` // Unfavorable limit offset, default 0.5
	TicksPerCandle      int     `json:"ticks_per_candle"`      // PSAR synthetic candle size
	TickBufferSize      int     `json:"tick_buffer_size"`      // Bounded tick channel capacity
	PSARAFStart         float64 `json:"psar_af_start"`
	PSARAFStep          float64 `json:"psar_af_step"`
	PSARAFMax           float64 `json:"psar_af_max"`
}

// RegimeStopsConfig tunes the regime-aware ATR multiplier.
type RegimeStopsConfig struct {
	MinMultiplier    float64 `json:"min_multiplier"`
	MaxMultiplier    float64 `json:"max_multiplier"`
	ConfidenceWeight float64 `json:"confidence_weight"`
	MomentumWeight   float64 `json:"momentum_weight"`
	PatternWeight    float64 `json:"pattern_weight"`
	AgeWeight        float64 `json:"age_weight"`
	StaleAfterHours  int     `json:"stale_after_hours"` // Regime snapshot staleness cutoff
}

// RegimeConfig drives the market breadth classifier.
type RegimeConfig struct {
	Enabled     bool     `json:"enabled"`
	Universe    []string `json:"universe"`     // Tickers sampled for breadth
	IndexTicker string   `json:"index_ticker"` // e.g. "NIFTY 50"
	RefreshCron string   `json:"refresh_cron"` // robfig/cron spec, e.g. "*/15 * * * *"
	SMAPeriod   int      `json:"sma_period"`   // Breadth moving average period
	ATRPeriod   int      `json:"atr_period"`   // Volatility bucket input
}

// VSRConfig tunes volume-spread-ratio spike tracking.
type VSRConfig struct {
	Enabled         bool    `json:"enabled"`
	SpikeMultiplier float64 `json:"spike_multiplier"` // Spike when VSR >= multiplier * trailing mean
	TrailingWindow  int     `json:"trailing_window"`  // Candles in the trailing mean
	MinPersistence  int     `json:"min_persistence"`  // Consecutive spike cycles to trend
	MaxTracked      int     `json:"max_tracked"`      // Cap on trending list size
}

// CircuitConfig guards exit-order dispatch.
type CircuitConfig struct {
	Enabled               bool    `json:"enabled"`
	MaxConsecutiveRejects int     `json:"max_consecutive_rejects"`
	MaxDailyLossPct       float64 `json:"max_daily_loss_pct"`
	CooldownMinutes       int     `json:"cooldown_minutes"`
}

type DatabaseConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

type ServerConfig struct {
	Port           int      `json:"port"`
	AllowedOrigins []string `json:"allowed_origins"`
	RateLimit      int      `json:"rate_limit"` // Requests per window per client
	RateWindowSecs int      `json:"rate_window_secs"`
}

type AuthConfig struct {
	Enabled        bool   `json:"enabled"`
	JWTSecret      string `json:"jwt_secret"`
	TokenTTLHours  int    `json:"token_ttl_hours"`
	OperatorUser   string `json:"operator_user"`
	OperatorPwHash string `json:"operator_pw_hash"` // bcrypt hash
}

type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`  // KV v2 mount, default "secret"
	SecretPath string `json:"secret_path"` // Path holding broker credentials
	TLSEnabled bool   `json:"tls_enabled"`
	CACert     string `json:"ca_cert"`
}

type NotificationConfig struct {
	Enabled  bool           `json:"enabled"`
	Telegram TelegramConfig `json:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	ChatID   string `json:"chat_id"`
}

type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Pretty bool   `json:"pretty"` // Console writer instead of JSON
}

// Load reads configuration from config.json (or CONFIG_FILE) and applies
// environment overrides. The returned struct is constructed once at startup
// and passed explicitly to every component.
func Load() (*Config, error) {
	cfg := defaultConfig()

	filename := getEnvOrDefault("CONFIG_FILE", "config.json")
	if _, err := os.Stat(filename); err == nil {
		loaded, err := loadFromFile(filename)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", filename, err)
		}
		cfg = loaded
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		BrokerConfig: BrokerConfig{
			Vendor:  "mock",
			BaseURL: "https://api.kite.trade",
			WSURL:   "wss://ws.kite.trade",
			DryRun:  true,
		},
		WatchdogConfig: WatchdogConfig{
			PollIntervalSeconds: 60,
			CandleInterval:      "5minute",
			CandleLookback:      100,
			ATRPeriod:           14,
			ExitLimitBufferPct:  0.5,
			TicksPerCandle:      15,
			TickBufferSize:      4096,
			PSARAFStart:         0.02,
			PSARAFStep:          0.02,
			PSARAFMax:           0.2,
		},
		RegimeStopsConfig: RegimeStopsConfig{
			MinMultiplier:    1.0,
			MaxMultiplier:    4.0,
			ConfidenceWeight: 0.3,
			MomentumWeight:   0.2,
			PatternWeight:    0.15,
			AgeWeight:        0.1,
			StaleAfterHours:  24,
		},
		RegimeConfig: RegimeConfig{
			Enabled:     true,
			IndexTicker: "NIFTY 50",
			RefreshCron: "*/15 * * * *",
			SMAPeriod:   50,
			ATRPeriod:   14,
		},
		VSRConfig: VSRConfig{
			Enabled:         true,
			SpikeMultiplier: 2.5,
			TrailingWindow:  20,
			MinPersistence:  3,
			MaxTracked:      50,
		},
		CircuitConfig: CircuitConfig{
			Enabled:               true,
			MaxConsecutiveRejects: 3,
			MaxDailyLossPct:       5.0,
			CooldownMinutes:       30,
		},
		DatabaseConfig: DatabaseConfig{
			Enabled:  true,
			Host:     "localhost",
			Port:     5432,
			User:     "watchdog",
			Password: "watchdog",
			Database: "watchdog",
			SSLMode:  "disable",
		},
		RedisConfig: RedisConfig{
			Enabled:  true,
			Address:  "localhost:6379",
			PoolSize: 10,
		},
		ServerConfig: ServerConfig{
			Port:           3001,
			AllowedOrigins: []string{"http://localhost:3000"},
			RateLimit:      120,
			RateWindowSecs: 60,
		},
		AuthConfig: AuthConfig{
			Enabled:       true,
			TokenTTLHours: 12,
			OperatorUser:  "operator",
		},
		VaultConfig: VaultConfig{
			MountPath:  "secret",
			SecretPath: "trading/broker",
		},
		LoggingConfig: LoggingConfig{
			Level: "info",
		},
	}
}

func loadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config JSON: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.BrokerConfig.Vendor = getEnvOrDefault("BROKER_VENDOR", cfg.BrokerConfig.Vendor)
	cfg.BrokerConfig.APIKey = getEnvOrDefault("BROKER_API_KEY", cfg.BrokerConfig.APIKey)
	cfg.BrokerConfig.APISecret = getEnvOrDefault("BROKER_API_SECRET", cfg.BrokerConfig.APISecret)
	cfg.BrokerConfig.AccessToken = getEnvOrDefault("BROKER_ACCESS_TOKEN", cfg.BrokerConfig.AccessToken)
	cfg.BrokerConfig.BaseURL = getEnvOrDefault("BROKER_BASE_URL", cfg.BrokerConfig.BaseURL)
	cfg.BrokerConfig.WSURL = getEnvOrDefault("BROKER_WS_URL", cfg.BrokerConfig.WSURL)
	cfg.BrokerConfig.ClientID = getEnvOrDefault("BROKER_CLIENT_ID", cfg.BrokerConfig.ClientID)
	if v := os.Getenv("BROKER_DRY_RUN"); v != "" {
		cfg.BrokerConfig.DryRun = v == "true" || v == "1"
	}

	cfg.WatchdogConfig.PollIntervalSeconds = getEnvIntOrDefault("WATCHDOG_POLL_SECONDS", cfg.WatchdogConfig.PollIntervalSeconds)
	cfg.WatchdogConfig.TicksPerCandle = getEnvIntOrDefault("WATCHDOG_TICKS_PER_CANDLE", cfg.WatchdogConfig.TicksPerCandle)

	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", cfg.DatabaseConfig.Host)
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", cfg.DatabaseConfig.Port)
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", cfg.DatabaseConfig.User)
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DB_NAME", cfg.DatabaseConfig.Database)
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSLMODE", cfg.DatabaseConfig.SSLMode)

	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", cfg.RedisConfig.Address)
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)

	cfg.ServerConfig.Port = getEnvIntOrDefault("SERVER_PORT", cfg.ServerConfig.Port)

	cfg.AuthConfig.JWTSecret = getEnvOrDefault("JWT_SECRET", cfg.AuthConfig.JWTSecret)
	cfg.AuthConfig.OperatorPwHash = getEnvOrDefault("OPERATOR_PW_HASH", cfg.AuthConfig.OperatorPwHash)

	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", cfg.VaultConfig.Address)
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)

	cfg.NotificationConfig.Telegram.BotToken = getEnvOrDefault("TELEGRAM_BOT_TOKEN", cfg.NotificationConfig.Telegram.BotToken)
	cfg.NotificationConfig.Telegram.ChatID = getEnvOrDefault("TELEGRAM_CHAT_ID", cfg.NotificationConfig.Telegram.ChatID)

	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", cfg.LoggingConfig.Level)
}

func (c *Config) validate() error {
	switch c.BrokerConfig.Vendor {
	case "kite", "xts", "mock":
	default:
		return fmt.Errorf("unknown broker vendor %q", c.BrokerConfig.Vendor)
	}
	if c.WatchdogConfig.PollIntervalSeconds <= 0 {
		return fmt.Errorf("watchdog poll interval must be positive")
	}
	if c.WatchdogConfig.TicksPerCandle <= 0 {
		return fmt.Errorf("ticks per candle must be positive")
	}
	if c.WatchdogConfig.PSARAFStart <= 0 || c.WatchdogConfig.PSARAFMax < c.WatchdogConfig.PSARAFStart {
		return fmt.Errorf("invalid PSAR acceleration bounds")
	}
	if c.RegimeStopsConfig.MinMultiplier <= 0 || c.RegimeStopsConfig.MaxMultiplier < c.RegimeStopsConfig.MinMultiplier {
		return fmt.Errorf("invalid regime stop multiplier bounds")
	}
	if c.AuthConfig.Enabled && c.AuthConfig.JWTSecret == "" {
		return fmt.Errorf("auth enabled but JWT_SECRET not set")
	}
	return nil
}

// PollInterval returns the watchdog poll interval as a duration.
func (c *WatchdogConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

// GenerateSampleConfig writes a starter config.json with defaults filled in.
func GenerateSampleConfig(filename string) error {
	cfg := defaultConfig()
	cfg.AuthConfig.JWTSecret = "change-me"
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0644)
}
