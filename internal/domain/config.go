package domain

import "time"

// Config holds the complete service configuration.
type Config struct {
	// Server settings
	Server ServerConfig `yaml:"server" json:"server"`

	// Tier determines which backends are wired
	Tier Tier `yaml:"tier" json:"tier"`

	// Upstream is the Synchronie web application that owns grids and cotations
	Upstream UpstreamConfig `yaml:"upstream" json:"upstream"`

	// Session registry limits
	Session SessionConfig `yaml:"session" json:"session"`

	// Score bands, evaluated in order
	Bands []BandConfig `yaml:"bands" json:"bands"`

	// Component configurations
	Repository RepositoryConfig `yaml:"repository" json:"repository"`
	Cache      CacheConfig      `yaml:"cache" json:"cache"`
	EventBus   EventBusConfig   `yaml:"eventBus" json:"eventBus"`

	// Observability
	Logging LoggingConfig `yaml:"logging" json:"logging"`
	Tracing TracingConfig `yaml:"tracing" json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `yaml:"host" json:"host"`
	Port         int    `yaml:"port" json:"port"`
	ReadTimeout  int    `yaml:"readTimeout" json:"readTimeout"`   // seconds
	WriteTimeout int    `yaml:"writeTimeout" json:"writeTimeout"` // seconds
}

// UpstreamConfig points at the web application serving grids and
// accepting cotation saves.
type UpstreamConfig struct {
	BaseURL   string        `yaml:"baseUrl" json:"baseUrl"`
	Timeout   time.Duration `yaml:"timeout" json:"timeout"`
	CSRFToken string        `yaml:"csrfToken" json:"-"`
	Cookie    string        `yaml:"cookie" json:"-"`
}

// SessionConfig bounds the in-memory session registry.
type SessionConfig struct {
	MaxSessions   int           `yaml:"maxSessions" json:"maxSessions"`
	IdleTTL       time.Duration `yaml:"idleTtl" json:"idleTtl"`
	SweepInterval time.Duration `yaml:"sweepInterval" json:"sweepInterval"`
}

// BandConfig maps a CEL condition over `percent` to a band level.
type BandConfig struct {
	Level      string `yaml:"level" json:"level"`
	Expression string `yaml:"expression" json:"expression"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`   // debug, info, warn, error
	Format string `yaml:"format" json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `yaml:"enabled" json:"enabled"`
	ServiceName  string `yaml:"serviceName" json:"serviceName"`
	ExporterType string `yaml:"exporterType" json:"exporterType"` // stdout, otlp, jaeger
	Endpoint     string `yaml:"endpoint" json:"endpoint"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite + channels + in-process LRU
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultBands reproduce the colour thresholds of the scoring screen.
func DefaultBands() []BandConfig {
	return []BandConfig{
		{Level: "high", Expression: "percent >= 80"},
		{Level: "medium", Expression: "percent >= 60"},
		{Level: "low", Expression: "true"},
	}
}

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Upstream: UpstreamConfig{
			BaseURL: "http://localhost:5000",
			Timeout: 15 * time.Second,
		},
		Session: SessionConfig{
			MaxSessions:   1000,
			IdleTTL:       2 * time.Hour,
			SweepInterval: time.Minute,
		},
		Bands: DefaultBands(),
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./cotation.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			GridTTL:      10 * time.Minute,
			LocalMaxSize: 1000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "cotation",
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
		PostgresDB:   "cotation",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		GridTTL:        10 * time.Minute,
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSSubjectPrefix: "synchronie",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
