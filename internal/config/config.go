package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config represents the application configuration.
type Config struct {
	App      AppConfig
	Database DatabaseConfig `envPrefix:"DB_"`
	Ledger   LedgerConfig
	Sync     SyncConfig `envPrefix:"SYNC_"`
	Auth     AuthConfig
}

// AppConfig represents the HTTP process configuration.
type AppConfig struct {
	Port  string `env:"PORT" envDefault:"8080"`
	Env   string `env:"ENV" envDefault:"development"`
	Debug bool   `env:"DEBUG" envDefault:"false"`
}

// DatabaseConfig selects the gorm dialect backing the order mirror.
type DatabaseConfig struct {
	Driver string `env:"DRIVER" envDefault:"sqlite"`
	DSN    string `env:"DSN" envDefault:"orders.db"`
}

// LedgerConfig describes how to reach the on-chain order book.
type LedgerConfig struct {
	Mode            string        `env:"LEDGER_MODE" envDefault:"ethereum"`
	RPCEndpoint     string        `env:"WEB3_RPC_ENDPOINT"`
	ContractAddress string        `env:"CONTRACT_ADDRESS"`
	ABIPath         string        `env:"CONTRACT_ABI_PATH"`
	ExplorerURL     string        `env:"ETHERSCAN_API_URL" envDefault:"https://api-rinkeby.etherscan.io/api"`
	ExplorerAPIKey  string        `env:"ETHERSCAN_API_KEY"`
	PrivateKey      string        `env:"LEDGER_PRIVATE_KEY"`
	ChainID         int64         `env:"LEDGER_CHAIN_ID" envDefault:"0"`
	CallTimeout     time.Duration `env:"LEDGER_CALL_TIMEOUT" envDefault:"15s"`
	// MemorySeed is a JSON file of orders loaded into the memory ledger
	MemorySeed string `env:"LEDGER_MEMORY_SEED"`
}

// SyncConfig controls the background mirror pass.
type SyncConfig struct {
	Interval    time.Duration `env:"INTERVAL" envDefault:"1m"`
	OnStart     bool          `env:"ON_START" envDefault:"true"`
	RefreshMode string        `env:"REFRESH_MODE" envDefault:"never"`
}

// AuthConfig holds the operator credentials allowed to request tokens.
type AuthConfig struct {
	JWTSecret      string `env:"JWT_SECRET" envDefault:"orderbook-mirror-secret"`
	OperatorKey    string `env:"OPERATOR_API_KEY"`
	OperatorSecret string `env:"OPERATOR_API_SECRET"`
}

// Load loads the configuration from the environment.
// A .env file in the working directory is read first if it exists.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the combinations env tags cannot express.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver)
	}

	switch c.Ledger.Mode {
	case "ethereum":
		if c.Ledger.RPCEndpoint == "" {
			return errors.New("WEB3_RPC_ENDPOINT is required in ethereum ledger mode")
		}
		if c.Ledger.ContractAddress == "" {
			return errors.New("CONTRACT_ADDRESS is required in ethereum ledger mode")
		}
	case "memory":
	default:
		return fmt.Errorf("unsupported LEDGER_MODE %q", c.Ledger.Mode)
	}

	if c.Ledger.CallTimeout <= 0 {
		return errors.New("LEDGER_CALL_TIMEOUT must be positive")
	}

	switch c.Sync.RefreshMode {
	case "never", "state":
	default:
		return fmt.Errorf("unsupported SYNC_REFRESH_MODE %q", c.Sync.RefreshMode)
	}

	return nil
}

// IsProduction reports whether the process runs with production logging.
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}
