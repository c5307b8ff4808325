package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

const (
	DriverMongo  = "mongo"
	DriverMemory = "memory"
)

type Config struct {
	Port            string        `env:"PORT,             default=8080"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT, default=10s"`
	Env             string        `env:"ENV,        default=development"`
	LogLevel        string        `env:"LOG_LEVEL,  default=info"`
	LogPretty       bool          `env:"LOG_PRETTY, default=false"`

	// StoreDriver selects the document store backend: "mongo" or "memory".
	StoreDriver string `env:"STORE_DRIVER, default=mongo"`

	Auth     AuthConfig
	DeepLink DeepLinkConfig
	Sync     SyncConfig
	Mongo    MongoConfig
	Redis    RedisConfig
}

type AuthConfig struct {
	IDTokenSecret     string        `env:"ID_TOKEN_SECRET"`
	IDTokenTTL        time.Duration `env:"ID_TOKEN_TTL,        default=1h"`
	ResetCodeTTL      time.Duration `env:"RESET_CODE_TTL,      default=1h"`
	SignInMaxAttempts int           `env:"SIGNIN_MAX_ATTEMPTS, default=5"`
	SignInWindow      time.Duration `env:"SIGNIN_WINDOW,       default=15m"`
}

type DeepLinkConfig struct {
	Scheme string `env:"DEEPLINK_SCHEME, default=myapp"`
}

type SyncConfig struct {
	JournalsCollection string `env:"JOURNALS_COLLECTION, default=journals"`
	DispatchWorkers    int    `env:"DISPATCH_WORKERS,    default=4"`
}

type MongoConfig struct {
	URI      string `env:"MONGO_URI, default=mongodb://localhost:27017"`
	Database string `env:"MONGO_DB,  default=companion"`
}

type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR,      default=localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB,        default=0"`
	PoolSize int    `env:"REDIS_POOL_SIZE, default=10"`
}

// Load reads configuration from environment variables using go-envconfig.
func Load(ctx context.Context) (*Config, error) {
	return load(ctx, envconfig.OsLookuper())
}

func load(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &cfg, Lookuper: lookuper}); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints the struct tags cannot express.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case DriverMongo, DriverMemory:
	default:
		return fmt.Errorf("config: STORE_DRIVER must be %q or %q, got %q", DriverMongo, DriverMemory, c.StoreDriver)
	}
	if c.IsProduction() && len(c.Auth.IDTokenSecret) < 32 {
		return fmt.Errorf("config: ID_TOKEN_SECRET must be at least 32 characters in production")
	}
	if c.Sync.DispatchWorkers <= 0 {
		return fmt.Errorf("config: DISPATCH_WORKERS must be positive")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func (c *Config) Addr() string {
	return ":" + c.Port
}
