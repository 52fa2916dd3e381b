package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Relay    RelayConfig
	Dispatch DispatchConfig
	Monitor  MonitorConfig
}

type ServerConfig struct {
	Address string
}

type DatabaseConfig struct {
	PostgresURL string
}

type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	TTL      time.Duration
}

type RelayConfig struct {
	URL   string
	Token string
}

type DispatchConfig struct {
	RatePerMinute  int
	MinDelayMs     int
	MaxDelayMs     int
	BatchSize      int
	BatchDelayMs   int
	MaxRecipients  int
	DefaultCountry string
	PickupAddress  string
	PickupHours    string
	DryRunDefault  bool
	TestMode       bool
	TestPhone      string
}

type MonitorConfig struct {
	Enabled  bool
	Interval time.Duration
}

func LoadAll() (*Config, error) {
	var errs []error

	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	postgresURL, err := requireEnv("POSTGRES_URL")
	collect(err)
	relayURL, err := requireEnv("WA_RELAY_URL")
	collect(err)
	relayToken, err := requireEnv("WA_RELAY_TOKEN")
	collect(err)

	perMinute, err := getEnvInt("WA_RATE_PER_MINUTE", 45)
	collect(err)
	minDelay, err := getEnvInt("WA_MIN_DELAY_MS", 900)
	collect(err)
	maxDelay, err := getEnvInt("WA_MAX_DELAY_MS", 1700)
	collect(err)
	batchSize, err := getEnvInt("WA_BATCH_SIZE", 10)
	collect(err)
	batchDelay, err := getEnvInt("WA_BATCH_DELAY_MS", 1000)
	collect(err)
	maxRecipients, err := getEnvInt("WA_MAX_RECIPIENTS", 50)
	collect(err)
	dryRunDefault, err := getEnvBool("WA_DRY_RUN_DEFAULT", false)
	collect(err)
	testMode, err := getEnvBool("WA_TEST_MODE", false)
	collect(err)
	monitorEnabled, err := getEnvBool("MONITOR_ENABLED", true)
	collect(err)
	monitorInterval, err := getEnvInt("MONITOR_INTERVAL_SECONDS", 60)
	collect(err)

	redisCfg, err := loadRedisConfig()
	collect(err)

	if err := joinErrors(errs); err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Address: getEnv("SERVER_ADDRESS", ":8080"),
		},
		Database: DatabaseConfig{
			PostgresURL: postgresURL,
		},
		Relay: RelayConfig{
			URL:   relayURL,
			Token: relayToken,
		},
		Dispatch: DispatchConfig{
			RatePerMinute:  perMinute,
			MinDelayMs:     minDelay,
			MaxDelayMs:     maxDelay,
			BatchSize:      batchSize,
			BatchDelayMs:   batchDelay,
			MaxRecipients:  maxRecipients,
			DefaultCountry: getEnv("WA_DEFAULT_COUNTRY", "BY"),
			PickupAddress:  getEnv("PICKUP_ADDRESS", "Наш склад, ул. Примерная, 123"),
			PickupHours:    getEnv("PICKUP_HOURS", "Пн-Пт: 10:00-19:00, Сб: 10:00-16:00"),
			DryRunDefault:  dryRunDefault,
			TestMode:       testMode,
			TestPhone:      getEnv("WA_TEST_PHONE", "+375291234567"),
		},
		Monitor: MonitorConfig{
			Enabled:  monitorEnabled,
			Interval: time.Duration(monitorInterval) * time.Second,
		},
		Redis: redisCfg,
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadRedisConfig() (RedisConfig, error) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return RedisConfig{Enabled: false}, nil
	}

	db, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		return RedisConfig{}, err
	}
	ttl, err := getEnvInt("REDIS_TTL_SECONDS", 86400)
	if err != nil {
		return RedisConfig{}, err
	}

	return RedisConfig{
		Enabled:  true,
		Address:  addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       db,
		TTL:      time.Duration(ttl) * time.Second,
	}, nil
}

func validate(cfg *Config) error {
	var errs []error

	if cfg.Dispatch.MinDelayMs <= 0 {
		errs = append(errs, errors.New("WA_MIN_DELAY_MS must be > 0"))
	}
	if cfg.Dispatch.MaxDelayMs < cfg.Dispatch.MinDelayMs {
		errs = append(errs, errors.New("WA_MAX_DELAY_MS must be >= WA_MIN_DELAY_MS"))
	}
	if cfg.Dispatch.BatchSize <= 0 {
		errs = append(errs, errors.New("WA_BATCH_SIZE must be > 0"))
	}
	if cfg.Dispatch.MaxRecipients <= 0 {
		errs = append(errs, errors.New("WA_MAX_RECIPIENTS must be > 0"))
	}
	if cfg.Dispatch.RatePerMinute <= 0 {
		errs = append(errs, errors.New("WA_RATE_PER_MINUTE must be > 0"))
	}
	if cfg.Monitor.Interval <= 0 {
		errs = append(errs, errors.New("MONITOR_INTERVAL_SECONDS must be > 0"))
	}
	if cfg.Dispatch.TestMode && cfg.Dispatch.TestPhone == "" {
		errs = append(errs, errors.New("WA_TEST_PHONE required when WA_TEST_MODE is enabled"))
	}

	return joinErrors(errs)
}

func requireEnv(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("missing required env var: %s", key)
	}
	return val, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid int for env %s: %s", key, v)
	}
	return i, nil
}

func getEnvBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid bool for env %s: %s", key, v)
	}
	return b, nil
}

func joinErrors(errs []error) error {
	return errors.Join(errs...)
}
