package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the service configuration, read from the environment.
type Config struct {
	ListenAddr  string `env:"LISTEN_ADDR" envDefault:":8080"`
	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9090"`
	GinMode     string `env:"GIN_MODE" envDefault:"release"`

	// DirectMode executes commands in-process instead of over NATS.
	DirectMode bool   `env:"DIRECT_MODE" envDefault:"false"`
	NATSURL    string `env:"NATS_URL" envDefault:"nats://localhost:4222"`

	JournalPath  string `env:"JOURNAL_PATH" envDefault:"data/journal.log"`
	BindingsPath string `env:"BINDINGS_PATH" envDefault:"config/bindings.json"`

	// TrustedCIDRs defines the address space admitted to the service.
	TrustedCIDRs []string `env:"TRUSTED_CIDRS" envSeparator:"," envDefault:"127.0.0.0/8,10.0.0.0/8,172.16.0.0/12,192.168.0.0/16,::1/128"`

	// LockWait bounds how long a transfer waits for account access.
	LockWait       time.Duration `env:"LOCK_WAIT" envDefault:"3s"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"5s"`

	// Per-address rate limit for the gateway.
	RateLimit float64 `env:"RATE_LIMIT" envDefault:"50"`
	RateBurst int     `env:"RATE_BURST" envDefault:"100"`
}

// Load reads configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse configuration: %w", err)
	}
	return cfg, nil
}
