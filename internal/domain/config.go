package domain

import (
	"fmt"
	"strconv"
	"time"
)

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines which backing services are used
	Tier Tier `json:"tier"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`
	Detection  DetectionConfig  `json:"detection"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// DetectionConfig holds settings for detection runs.
type DetectionConfig struct {
	// Workers bounds per-user parallelism; 1 analyzes sequentially.
	Workers int `json:"workers"`

	// DefaultConfiguration is used when a run names no configuration.
	DefaultConfiguration string `json:"defaultConfiguration"`

	// ResultTTL is how long run metrics stay cached.
	ResultTTL time.Duration `json:"resultTtl"`

	// AsyncWorker subscribes to run requests on the event bus.
	AsyncWorker bool `json:"asyncWorker"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled"`
	ServiceName string `json:"serviceName"`
}

// Tier represents the deployment profile.
type Tier string

const (
	// TierCommunity runs on SQLite + channels + in-memory cache
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 60,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Detection: DetectionConfig{
			Workers:              1,
			DefaultConfiguration: "default",
			ResultTTL:            time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Detection.Workers = 8
	cfg.Detection.AsyncWorker = true
	cfg.Tracing.Enabled = true
	return cfg
}

// LoadConfig picks the tier profile from KESTREL_TIER and overlays the
// remaining KESTREL_* variables read through getenv.
func LoadConfig(getenv func(string) string) (*Config, error) {
	cfg := DefaultConfig()
	if Tier(getenv("KESTREL_TIER")) == TierPro {
		cfg = ProConfig()
	}
	if err := cfg.ApplyEnv(getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from KESTREL_* environment variables.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v := getenv(key)
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}
	flag := func(key string, dst *bool) error {
		v := getenv(key)
		if v == "" {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = b
		return nil
	}

	str("KESTREL_HOST", &c.Server.Host)
	str("KESTREL_SQLITE_PATH", &c.Repository.SQLitePath)
	str("KESTREL_POSTGRES_HOST", &c.Repository.PostgresHost)
	str("KESTREL_POSTGRES_USER", &c.Repository.PostgresUser)
	str("KESTREL_POSTGRES_PASSWORD", &c.Repository.PostgresPassword)
	str("KESTREL_POSTGRES_DB", &c.Repository.PostgresDB)
	str("KESTREL_POSTGRES_SSLMODE", &c.Repository.PostgresSSLMode)
	str("KESTREL_REDIS_ADDR", &c.Cache.RedisAddr)
	str("KESTREL_REDIS_PASSWORD", &c.Cache.RedisPassword)
	str("KESTREL_NATS_URL", &c.EventBus.NATSUrl)
	str("KESTREL_NATS_TOKEN", &c.EventBus.NATSToken)
	str("KESTREL_DEFAULT_CONFIGURATION", &c.Detection.DefaultConfiguration)
	str("KESTREL_LOG_LEVEL", &c.Logging.Level)
	str("KESTREL_LOG_FORMAT", &c.Logging.Format)

	for key, dst := range map[string]*int{
		"KESTREL_PORT":          &c.Server.Port,
		"KESTREL_POSTGRES_PORT": &c.Repository.PostgresPort,
		"KESTREL_WORKERS":       &c.Detection.Workers,
	} {
		if err := num(key, dst); err != nil {
			return err
		}
	}

	if err := flag("KESTREL_ASYNC_WORKER", &c.Detection.AsyncWorker); err != nil {
		return err
	}
	if err := flag("KESTREL_TRACING", &c.Tracing.Enabled); err != nil {
		return err
	}

	var debug bool
	if err := flag("KESTREL_DEBUG", &debug); err != nil {
		return err
	}
	if debug {
		c.Logging.Level = "debug"
	}

	if c.Detection.Workers < 1 {
		return fmt.Errorf("KESTREL_WORKERS must be at least 1, got %d", c.Detection.Workers)
	}
	return nil
}
