// Package config содержит логику чтения конфигурации сервиса доступа.
package config

import (
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	defaultRunAddress    = "localhost:8080"
	defaultStorePath     = "accessgate.json"
	defaultTrialCooldown = 24 * time.Hour
	defaultTrialDuration = 10 * time.Minute
)

// Config содержит параметры конфигурации сервиса доступа.
type Config struct {
	RunAddress    string        `env:"RUN_ADDRESS"`
	DatabaseURI   string        `env:"DATABASE_URI"`
	StorePath     string        `env:"STORE_PATH"`
	WalletAddress string        `env:"WALLET_ADDRESS"`
	PeerAddress   string        `env:"PEER_ADDRESS"`
	AccessSecret  string        `env:"ACCESS_SECRET"`
	TrialCooldown time.Duration `env:"TRIAL_COOLDOWN"`
	TrialDuration time.Duration `env:"TRIAL_DURATION"`

	// TrustedProxies подсети обратных прокси через запятую, например 10.0.0.0/8,127.0.0.1/32
	TrustedProxies string `env:"TRUSTED_PROXIES"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Значения из окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	envCfg := Config{}
	if err := env.Parse(&envCfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg := &Config{}
	flag.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.StorePath, "s", defaultStorePath, "local store file used without database")
	flag.StringVar(&cfg.WalletAddress, "w", "", "wallet bridge address")
	flag.StringVar(&cfg.PeerAddress, "p", "", "address advertised to peers")
	flag.StringVar(&cfg.AccessSecret, "k", "", "access cookie signing secret")
	flag.DurationVar(&cfg.TrialCooldown, "trial-cooldown", defaultTrialCooldown, "cooldown between guest trials")
	flag.DurationVar(&cfg.TrialDuration, "trial-duration", defaultTrialDuration, "guest trial length")

	flag.StringVar(&cfg.TrustedProxies, "trusted-proxies", "", "comma-separated CIDRs of reverse proxies allowed to set client IP headers")

	flag.Parse()

	overrideString(&cfg.RunAddress, envCfg.RunAddress)
	overrideString(&cfg.DatabaseURI, envCfg.DatabaseURI)
	overrideString(&cfg.StorePath, envCfg.StorePath)
	overrideString(&cfg.WalletAddress, envCfg.WalletAddress)
	overrideString(&cfg.PeerAddress, envCfg.PeerAddress)
	overrideString(&cfg.AccessSecret, envCfg.AccessSecret)
	overrideString(&cfg.TrustedProxies, envCfg.TrustedProxies)
	if envCfg.TrialCooldown > 0 {
		cfg.TrialCooldown = envCfg.TrialCooldown
	}
	if envCfg.TrialDuration > 0 {
		cfg.TrialDuration = envCfg.TrialDuration
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = defaultRunAddress
	}
	if cfg.PeerAddress == "" {
		cfg.PeerAddress = cfg.RunAddress
	}
	if cfg.StorePath == "" {
		cfg.StorePath = defaultStorePath
	}
	if cfg.TrialCooldown <= 0 || cfg.TrialDuration <= 0 {
		return nil, fmt.Errorf("trial cooldown and duration must be positive")
	}

	return cfg, nil
}

// ProxyCIDRs возвращает подсети доверенных прокси списком.
func (c *Config) ProxyCIDRs() []string {
	var res []string
	for _, part := range strings.Split(c.TrustedProxies, ",") {
		if part = strings.TrimSpace(part); part != "" {
			res = append(res, part)
		}
	}
	return res
}

func overrideString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
