package main

import (
	"io/fs"
	"math/big"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"

	"github.com/erc7824/nitrolite/walletnode/pkg/log"
)

const (
	configDirPathEnv     = "WALLETNODE_CONFIG_DIR_PATH"
	defaultConfigDirPath = "."
)

// Config represents the overall application configuration
type Config struct {
	PrivateKey  string `env:"WALLET_PRIVATE_KEY" validate:"required"`
	RPCURL      string `env:"WALLET_RPC_URL" validate:"omitempty,url"`
	SignChainID uint64 `env:"WALLET_SIGN_CHAIN_ID"`
	// Network names an entry of networks.yaml. It supplies the endpoint when
	// RPCURL is empty and the expected chain id either way.
	Network string `env:"WALLET_NETWORK"`

	ListenAddr  string `env:"WALLETNODE_LISTEN_ADDR" env-default:":8000" validate:"required"`
	MetricsAddr string `env:"WALLETNODE_METRICS_ADDR" env-default:":4242" validate:"required"`
	// AllowedOrigins lists browser origins, besides the node's own, that may
	// open a websocket, e.g. https://app.example.org.
	AllowedOrigins []string `env:"WALLETNODE_ALLOWED_ORIGINS" env-separator:"," validate:"dive,url"`

	Auth AuthConfig

	BalancePollInterval time.Duration `env:"WALLETNODE_BALANCE_POLL_INTERVAL" env-default:"30s"`

	Log      log.Config
	Database DatabaseConfig

	networks Networks
}

// AuthConfig enables bearer token auth on the websocket endpoint when Secret is set.
type AuthConfig struct {
	Secret   string        `env:"WALLETNODE_AUTH_SECRET" validate:"omitempty,min=32"`
	TokenTTL time.Duration `env:"WALLETNODE_AUTH_TOKEN_TTL" env-default:"24h" validate:"gt=0"`
}

// Enabled reports whether a secret is configured.
func (c AuthConfig) Enabled() bool {
	return c.Secret != ""
}

// LoadConfig builds configuration from environment variables
func LoadConfig(logger log.Logger) (*Config, error) {
	logger = logger.WithName("config")

	configDirPath := loadDotEnv(logger)

	var config Config
	if err := cleanenv.ReadEnv(&config); err != nil {
		return nil, errors.Wrap(err, "failed to read env")
	}

	dbConf, err := LoadDatabaseConfig()
	if err != nil {
		return nil, err
	}
	config.Database = dbConf

	networks, err := LoadNetworks(configDirPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load networks")
	}
	config.networks = networks
	logger.Info("loaded networks", "count", len(networks))

	if config.Network != "" {
		network, ok := networks.Lookup(config.Network)
		if !ok {
			return nil, errors.Errorf("unknown network %q", config.Network)
		}
		if config.RPCURL == "" {
			config.RPCURL = network.RPCURL
		}
	}

	if err := validator.New().Struct(&config); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	logger.Info("configuration loaded",
		"listenAddr", config.ListenAddr,
		"metricsAddr", config.MetricsAddr,
		"network", config.Network,
		"authEnabled", config.Auth.Enabled(),
	)
	return &config, nil
}

// LoadDatabaseConfig reads the database settings alone, for commands that
// only need the journal.
func LoadDatabaseConfig() (DatabaseConfig, error) {
	// If WALLETNODE_DATABASE_URL is set it wins over the separate variables.
	if dbURL := os.Getenv("WALLETNODE_DATABASE_URL"); dbURL != "" {
		dbConf, err := ParseConnectionString(dbURL)
		if err != nil {
			return DatabaseConfig{}, errors.Wrap(err, "failed to parse connection string")
		}
		return dbConf, nil
	}

	var dbConf DatabaseConfig
	if err := cleanenv.ReadEnv(&dbConf); err != nil {
		return DatabaseConfig{}, errors.Wrap(err, "failed to read database env")
	}
	return dbConf, nil
}

// loadDotEnv loads <config dir>/.env into the process environment and returns
// the config dir. Variables already set are not overridden.
func loadDotEnv(logger log.Logger) string {
	configDirPath := os.Getenv(configDirPathEnv)
	if configDirPath == "" {
		configDirPath = defaultConfigDirPath
	}

	configDotEnvPath := filepath.Join(configDirPath, ".env")
	if err := godotenv.Load(configDotEnvPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Debug(".env file not found", "path", configDotEnvPath)
		} else {
			logger.Warn("failed to load .env file", "path", configDotEnvPath, "error", err)
		}
	}
	return configDirPath
}

// LoadAuthConfig reads the auth settings alone, for issuing tokens.
func LoadAuthConfig(logger log.Logger) (AuthConfig, error) {
	loadDotEnv(logger)

	var conf AuthConfig
	if err := cleanenv.ReadEnv(&conf); err != nil {
		return AuthConfig{}, errors.Wrap(err, "failed to read auth env")
	}
	if !conf.Enabled() {
		return AuthConfig{}, errors.New("WALLETNODE_AUTH_SECRET is not set")
	}
	if err := validator.New().Struct(conf); err != nil {
		return AuthConfig{}, errors.Wrap(err, "invalid auth configuration")
	}
	return conf, nil
}

// LoadLogConfig reads the LOG_* variables.
func LoadLogConfig() (log.Config, error) {
	var conf log.Config
	if err := cleanenv.ReadEnv(&conf); err != nil {
		return log.Config{}, errors.Wrap(err, "failed to read log env")
	}
	return conf, nil
}

// SignChainIDBig returns the configured signing chain id, or nil.
func (c *Config) SignChainIDBig() *big.Int {
	if c.SignChainID == 0 {
		return nil
	}
	return new(big.Int).SetUint64(c.SignChainID)
}

// Networks returns the networks loaded from networks.yaml.
func (c *Config) Networks() Networks {
	return c.networks
}
