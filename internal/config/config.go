// Package config содержит логику чтения конфигурации сервиса маркетплейса.
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config содержит параметры конфигурации сервиса маркетплейса.
type Config struct {
	RunAddress        string  `env:"RUN_ADDRESS"`
	DatabaseURI       string  `env:"DATABASE_URI"`
	AuthSecret        string  `env:"AUTH_SECRET"`
	GenesisFile       string  `env:"GENESIS_FILE"`
	AllowSelfTransfer bool    `env:"ALLOW_SELF_TRANSFER"`
	RateLimitRPS      float64 `env:"RATE_LIMIT_RPS"`
	RateLimitBurst    int     `env:"RATE_LIMIT_BURST"`
	LogMode           string  `env:"LOG_MODE"`
}

// Parse считывает конфигурацию из файла .env, флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	// .env не обязателен
	_ = godotenv.Load()

	cfg := &Config{}

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.AuthSecret, "s", "", "shared secret for caller tokens")
	flag.StringVar(&cfg.GenesisFile, "g", "", "genesis allocation file")
	flag.BoolVar(&cfg.AllowSelfTransfer, "self", false, "allow self transfers as no-op")
	flag.Float64Var(&cfg.RateLimitRPS, "rps", 0, "per caller requests per second, 0 disables limiting")
	flag.IntVar(&cfg.RateLimitBurst, "burst", 20, "per caller burst")
	flag.StringVar(&cfg.LogMode, "log", "production", "log mode: production or development")

	flag.Parse()

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.RateLimitRPS < 0 {
		return nil, fmt.Errorf("rate limit rps must not be negative: %v", cfg.RateLimitRPS)
	}
	if cfg.RateLimitRPS > 0 && cfg.RateLimitBurst <= 0 {
		return nil, fmt.Errorf("rate limit burst must be positive: %d", cfg.RateLimitBurst)
	}

	return cfg, nil
}
