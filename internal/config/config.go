// Package config содержит логику чтения конфигурации сервиса ваучеров.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/rewards-engine/internal/selector"
	"github.com/mmeshcher/rewards-engine/internal/service"
)

const defaultRunAddress = "localhost:8080"

// Config содержит параметры конфигурации сервиса ваучеров.
type Config struct {
	RunAddress  string `env:"RUN_ADDRESS"`
	DatabaseURI string `env:"DATABASE_URI"`
	AuthSecret  string `env:"AUTH_SECRET"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	WheelCategory       string        `env:"WHEEL_CATEGORY" envDefault:"wheel"`
	SpinLimit           int           `env:"SPIN_LIMIT" envDefault:"2"`
	WeightMode          string        `env:"WEIGHT_MODE" envDefault:"percent"`
	WheelStockGated     bool          `env:"WHEEL_STOCK_GATED" envDefault:"true"`
	WeightCap           string        `env:"WEIGHT_CAP" envDefault:"100"`
	TxTimeout           time.Duration `env:"TX_TIMEOUT" envDefault:"5s"`
	ExpirySweepSchedule string        `env:"EXPIRY_SWEEP_SCHEDULE" envDefault:"@every 10m"`
	ShutdownTimeout     time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Parse считывает конфигурацию из файла .env, флагов командной строки
// и переменных окружения. Переменные окружения важнее флагов.
func Parse() (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envAuthSecret := cfg.AuthSecret

	flag.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI; empty runs on the in-memory store")
	flag.StringVar(&cfg.AuthSecret, "s", "", "secret for access token signatures")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envAuthSecret != "" {
		cfg.AuthSecret = envAuthSecret
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = defaultRunAddress
	}

	return cfg, nil
}

// loadDotEnv дополняет окружение значениями из файла; уже заданные переменные не меняются.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Policy собирает политику выдачи из конфигурации.
func (c *Config) Policy() (service.Policy, error) {
	mode, err := selector.ParseMode(c.WeightMode)
	if err != nil {
		return service.Policy{}, err
	}

	weightCap, err := decimal.NewFromString(c.WeightCap)
	if err != nil {
		return service.Policy{}, fmt.Errorf("parse weight cap %q: %w", c.WeightCap, err)
	}
	if !weightCap.IsPositive() {
		return service.Policy{}, fmt.Errorf("weight cap must be positive, got %s", weightCap)
	}

	if c.SpinLimit < 0 {
		return service.Policy{}, fmt.Errorf("spin limit must not be negative, got %d", c.SpinLimit)
	}
	if c.WheelCategory == "" {
		return service.Policy{}, errors.New("wheel category must not be empty")
	}

	return service.Policy{
		WeightedCategory:    c.WheelCategory,
		SpinLimit:           c.SpinLimit,
		Mode:                mode,
		GateWeightedOnStock: c.WheelStockGated,
		WeightCap:           weightCap,
		TxTimeout:           c.TxTimeout,
	}, nil
}
