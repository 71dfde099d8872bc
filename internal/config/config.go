// Package config содержит логику чтения конфигурации сервиса заказов.
package config

import (
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/mmeshcher/bagstore/internal/lifecycle"
)

const (
	defaultRunAddress = "localhost:8080"
	defaultKafkaTopic = "storefront.orders"
)

// Config содержит параметры конфигурации HTTP-сервиса заказов.
type Config struct {
	RunAddress      string
	DatabaseURI     string
	AuthSecret      string
	RedisAddress    string
	KafkaBrokers    []string
	KafkaTopic      string
	ShipAfter       time.Duration
	DeliverAfter    time.Duration
	AdvanceInterval time.Duration
}

// Policy возвращает пороги автоматических переходов статусов.
func (c *Config) Policy() lifecycle.Policy {
	return lifecycle.Policy{ShipAfter: c.ShipAfter, DeliverAfter: c.DeliverAfter}
}

// envConfig содержит значения из окружения. Указатели позволяют отличить
// незаданную переменную от пустого или нулевого значения.
type envConfig struct {
	RunAddress      *string        `env:"RUN_ADDRESS"`
	DatabaseURI     *string        `env:"DATABASE_URI"`
	AuthSecret      *string        `env:"AUTH_SECRET"`
	RedisAddress    *string        `env:"REDIS_ADDRESS"`
	KafkaBrokers    []string       `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic      *string        `env:"KAFKA_TOPIC"`
	ShipAfter       *time.Duration `env:"SHIP_AFTER"`
	DeliverAfter    *time.Duration `env:"DELIVER_AFTER"`
	AdvanceInterval *time.Duration `env:"ADVANCE_INTERVAL"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	var e envConfig
	if err := env.Parse(&e); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg := &Config{}
	var brokers string

	flag.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.AuthSecret, "s", "", "secret used to sign auth tokens")
	flag.StringVar(&cfg.RedisAddress, "r", "", "redis address for idempotency keys (empty for in-memory)")
	flag.StringVar(&brokers, "k", "", "comma separated kafka brokers (empty disables events)")
	flag.StringVar(&cfg.KafkaTopic, "t", defaultKafkaTopic, "kafka topic for order events")
	flag.DurationVar(&cfg.ShipAfter, "ship-after", lifecycle.DefaultShipAfter, "age after which a processing order ships")
	flag.DurationVar(&cfg.DeliverAfter, "deliver-after", lifecycle.DefaultDeliverAfter, "time after shipping when an order is delivered")
	flag.DurationVar(&cfg.AdvanceInterval, "i", 0, "in-process status advance interval (0 disables)")

	flag.Parse()

	cfg.KafkaBrokers = splitList(brokers)

	override(&cfg.RunAddress, e.RunAddress)
	override(&cfg.DatabaseURI, e.DatabaseURI)
	override(&cfg.AuthSecret, e.AuthSecret)
	override(&cfg.RedisAddress, e.RedisAddress)
	override(&cfg.KafkaTopic, e.KafkaTopic)
	override(&cfg.ShipAfter, e.ShipAfter)
	override(&cfg.DeliverAfter, e.DeliverAfter)
	override(&cfg.AdvanceInterval, e.AdvanceInterval)
	if len(e.KafkaBrokers) > 0 {
		cfg.KafkaBrokers = splitList(strings.Join(e.KafkaBrokers, ","))
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = defaultRunAddress
	}
	if cfg.KafkaTopic == "" {
		cfg.KafkaTopic = defaultKafkaTopic
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.ShipAfter <= 0 || c.DeliverAfter <= 0 {
		return fmt.Errorf("ship and deliver thresholds must be positive")
	}
	if c.AdvanceInterval < 0 {
		return fmt.Errorf("advance interval must not be negative")
	}
	return nil
}

// PollerConfig содержит параметры внешнего планировщика продвижения статусов.
type PollerConfig struct {
	StorefrontAddress string
	AuthSecret        string
	UserID            int64
	PollInterval      time.Duration
}

type pollerEnvConfig struct {
	StorefrontAddress *string        `env:"STOREFRONT_ADDRESS"`
	AuthSecret        *string        `env:"AUTH_SECRET"`
	UserID            *int64         `env:"POLLER_USER_ID"`
	PollInterval      *time.Duration `env:"POLL_INTERVAL"`
}

// ParsePoller считывает конфигурацию планировщика из флагов и переменных окружения.
func ParsePoller() (*PollerConfig, error) {
	var e pollerEnvConfig
	if err := env.Parse(&e); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg := &PollerConfig{}

	flag.StringVar(&cfg.StorefrontAddress, "a", "http://"+defaultRunAddress, "storefront base URL")
	flag.StringVar(&cfg.AuthSecret, "s", "", "secret used to sign auth tokens")
	flag.Int64Var(&cfg.UserID, "u", 1, "service user id the poller authenticates as")
	flag.DurationVar(&cfg.PollInterval, "i", 10*time.Second, "poll interval")

	flag.Parse()

	override(&cfg.StorefrontAddress, e.StorefrontAddress)
	override(&cfg.AuthSecret, e.AuthSecret)
	override(&cfg.UserID, e.UserID)
	override(&cfg.PollInterval, e.PollInterval)

	if !strings.HasPrefix(cfg.StorefrontAddress, "http://") && !strings.HasPrefix(cfg.StorefrontAddress, "https://") {
		cfg.StorefrontAddress = "http://" + cfg.StorefrontAddress
	}
	cfg.StorefrontAddress = strings.TrimRight(cfg.StorefrontAddress, "/")

	if cfg.AuthSecret == "" {
		return nil, fmt.Errorf("auth secret is required")
	}
	if cfg.UserID <= 0 {
		return nil, fmt.Errorf("poller user id must be positive")
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive")
	}

	return cfg, nil
}

func override[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

func splitList(s string) []string {
	var res []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			res = append(res, part)
		}
	}
	return res
}
