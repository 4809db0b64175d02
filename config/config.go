package config

import (
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Process modes.
const (
	ModeAll      = "all"
	ModeServer   = "server"
	ModeListener = "listener"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverMemory   = "memory"
)

// Deduplication strategies for the ingestion endpoint.
const (
	StrategyInsertAndCatchConflict = "insertAndCatchConflict"
	StrategyCheckThenInsert        = "checkThenInsert"
)

// Sweep interval bounds. Values outside them are configuration errors.
const (
	MinSweepInterval = time.Second
	MaxSweepInterval = 24 * time.Hour
)

// Config holds all application configuration. Values come from defaults, an
// optional YAML file named by CONFIG_FILE, then environment variables.
type Config struct {
	Mode     string `yaml:"mode"`
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`

	StoreDriver         string `yaml:"store_driver"`
	StoreConnectRetries int    `yaml:"store_connect_retries"`

	PostgresHost     string `yaml:"postgres_host"`
	PostgresPort     string `yaml:"postgres_port"`
	PostgresUser     string `yaml:"postgres_user"`
	PostgresPassword string `yaml:"postgres_password"`
	PostgresDB       string `yaml:"postgres_db"`
	PostgresSSLMode  string `yaml:"postgres_sslmode"`

	RedisURL    string `yaml:"redis_url"`
	RedisPrefix string `yaml:"redis_prefix"`

	DedupStrategy string `yaml:"dedup_strategy"`

	SweepEnabled  bool          `yaml:"sweep_enabled"`
	SweepInterval time.Duration `yaml:"sweep_interval"`

	FeedURL                 string        `yaml:"feed_url"`
	FeedJoinEvent           string        `yaml:"feed_join_event"`
	FeedSaleEvent           string        `yaml:"feed_sale_event"`
	FeedCurrency            string        `yaml:"feed_currency"`
	FeedLocale              string        `yaml:"feed_locale"`
	FeedAppID               int           `yaml:"feed_appid"`
	FeedReconnect           bool          `yaml:"feed_reconnect"`
	FeedReconnectMaxElapsed time.Duration `yaml:"feed_reconnect_max_elapsed"`

	RelayURL         string        `yaml:"relay_url"`
	RelayTimeout     time.Duration `yaml:"relay_timeout"`
	RelayConcurrency int           `yaml:"relay_concurrency"`
}

// Defaults returns the configuration used when nothing overrides it.
func Defaults() *Config {
	return &Config{
		Mode:     ModeAll,
		Port:     10000,
		LogLevel: "info",

		StoreDriver:         DriverPostgres,
		StoreConnectRetries: 10,

		PostgresHost:     "localhost",
		PostgresPort:     "5432",
		PostgresUser:     "salefeed",
		PostgresPassword: "salefeed",
		PostgresDB:       "salefeed",
		PostgresSSLMode:  "disable",

		RedisURL:    "redis://localhost:6379/0",
		RedisPrefix: "salefeed",

		DedupStrategy: StrategyInsertAndCatchConflict,

		SweepEnabled:  true,
		SweepInterval: 120 * time.Second,

		FeedURL:       "https://skinport.com",
		FeedJoinEvent: "saleFeedJoin",
		FeedSaleEvent: "saleFeed",
		FeedCurrency:  "EUR",
		FeedLocale:    "en",
		FeedAppID:     730,
		FeedReconnect: true,

		RelayURL:         "http://localhost:10000/receiveSaleFeed",
		RelayTimeout:     30 * time.Second,
		RelayConcurrency: 0,
	}
}

// Load reads the .env file and optional YAML file, applies environment
// overrides, and returns a validated Config.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	cfg := Defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	c.Mode = getEnv("MODE", c.Mode)
	c.Port = getEnvInt("PORT", c.Port, collect)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	c.StoreDriver = getEnv("STORE_DRIVER", c.StoreDriver)
	c.StoreConnectRetries = getEnvInt("STORE_CONNECT_RETRIES", c.StoreConnectRetries, collect)

	c.PostgresHost = getEnv("POSTGRES_HOST", c.PostgresHost)
	c.PostgresPort = getEnv("POSTGRES_PORT", c.PostgresPort)
	c.PostgresUser = getEnv("POSTGRES_USER", c.PostgresUser)
	c.PostgresPassword = getEnv("POSTGRES_PASSWORD", c.PostgresPassword)
	c.PostgresDB = getEnv("POSTGRES_DB", c.PostgresDB)
	c.PostgresSSLMode = getEnv("POSTGRES_SSLMODE", c.PostgresSSLMode)

	c.RedisURL = getEnv("REDIS_URL", c.RedisURL)
	c.RedisPrefix = getEnv("REDIS_PREFIX", c.RedisPrefix)

	c.DedupStrategy = getEnv("DEDUP_STRATEGY", c.DedupStrategy)

	c.SweepEnabled = getEnvBool("SWEEP_ENABLED", c.SweepEnabled, collect)
	c.SweepInterval = getEnvDuration("SWEEP_INTERVAL", c.SweepInterval, collect)

	c.FeedURL = getEnv("FEED_URL", c.FeedURL)
	c.FeedJoinEvent = getEnv("FEED_JOIN_EVENT", c.FeedJoinEvent)
	c.FeedSaleEvent = getEnv("FEED_SALE_EVENT", c.FeedSaleEvent)
	c.FeedCurrency = getEnv("FEED_CURRENCY", c.FeedCurrency)
	c.FeedLocale = getEnv("FEED_LOCALE", c.FeedLocale)
	c.FeedAppID = getEnvInt("FEED_APPID", c.FeedAppID, collect)
	c.FeedReconnect = getEnvBool("FEED_RECONNECT", c.FeedReconnect, collect)
	c.FeedReconnectMaxElapsed = getEnvDuration("FEED_RECONNECT_MAX_ELAPSED", c.FeedReconnectMaxElapsed, collect)

	c.RelayURL = getEnv("RELAY_URL", c.RelayURL)
	c.RelayTimeout = getEnvDuration("RELAY_TIMEOUT", c.RelayTimeout, collect)
	c.RelayConcurrency = getEnvInt("RELAY_CONCURRENCY", c.RelayConcurrency, collect)

	return errors.Join(errs...)
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error

	switch c.Mode {
	case ModeAll, ModeServer, ModeListener:
	default:
		errs = append(errs, fmt.Errorf("MODE %q: must be one of all, server, listener", c.Mode))
	}

	if c.RunsServer() {
		if c.Port < 1 || c.Port > 65535 {
			errs = append(errs, fmt.Errorf("PORT %d: out of range", c.Port))
		}
		switch c.StoreDriver {
		case DriverPostgres, DriverRedis, DriverMemory:
		default:
			errs = append(errs, fmt.Errorf("STORE_DRIVER %q: must be one of postgres, redis, memory", c.StoreDriver))
		}
		switch c.DedupStrategy {
		case StrategyInsertAndCatchConflict, StrategyCheckThenInsert:
		default:
			errs = append(errs, fmt.Errorf("DEDUP_STRATEGY %q: must be %s or %s",
				c.DedupStrategy, StrategyInsertAndCatchConflict, StrategyCheckThenInsert))
		}
		if c.SweepEnabled && (c.SweepInterval < MinSweepInterval || c.SweepInterval > MaxSweepInterval) {
			errs = append(errs, fmt.Errorf("SWEEP_INTERVAL %s: must be between %s and %s (set SWEEP_ENABLED=false to disable the sweep)",
				c.SweepInterval, MinSweepInterval, MaxSweepInterval))
		}
	}

	if c.RunsListener() {
		if strings.TrimSpace(c.FeedURL) == "" {
			errs = append(errs, errors.New("FEED_URL: required in listener mode"))
		}
		if strings.TrimSpace(c.RelayURL) == "" {
			errs = append(errs, errors.New("RELAY_URL: required in listener mode"))
		}
		if c.FeedSaleEvent == "" || c.FeedJoinEvent == "" {
			errs = append(errs, errors.New("FEED_JOIN_EVENT and FEED_SALE_EVENT: must not be empty"))
		}
		if c.RelayConcurrency < 0 {
			errs = append(errs, fmt.Errorf("RELAY_CONCURRENCY %d: must be zero (unbounded) or positive", c.RelayConcurrency))
		}
		if c.RelayTimeout <= 0 {
			errs = append(errs, fmt.Errorf("RELAY_TIMEOUT %s: must be positive", c.RelayTimeout))
		}
	}

	return errors.Join(errs...)
}

// RunsServer reports whether this process hosts the HTTP endpoints and store.
func (c *Config) RunsServer() bool {
	return c.Mode == ModeAll || c.Mode == ModeServer
}

// RunsListener reports whether this process runs the feed listener.
func (c *Config) RunsListener() bool {
	return c.Mode == ModeAll || c.Mode == ModeListener
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int, collect func(error)) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		collect(fmt.Errorf("%s %q: not an integer", key, val))
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool, collect func(error)) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		collect(fmt.Errorf("%s %q: not a boolean", key, val))
		return fallback
	}
	return b
}

// getEnvDuration accepts Go duration strings ("2m") or bare seconds ("120").
func getEnvDuration(key string, fallback time.Duration, collect func(error)) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	if secs, err := strconv.ParseInt(val, 10, 64); err == nil {
		if secs < 0 || secs > math.MaxInt64/int64(time.Second) {
			collect(fmt.Errorf("%s %q: seconds out of range", key, val))
			return fallback
		}
		return time.Duration(secs) * time.Second
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		collect(fmt.Errorf("%s %q: not a duration", key, val))
		return fallback
	}
	return d
}
