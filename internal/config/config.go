// Package config loads the service configuration from an optional YAML file
// and COTATION_* environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/synchronie/cotation/internal/domain"
)

const (
	configPathEnv   = "COTATION_CONFIG"
	tierEnv         = "COTATION_TIER"
	upstreamURLEnv  = "COTATION_UPSTREAM_URL"
	csrfTokenEnv    = "COTATION_UPSTREAM_CSRF_TOKEN"
	dbDriverEnv     = "COTATION_DB_DRIVER"
	sqlitePathEnv   = "COTATION_SQLITE_PATH"
	postgresPassEnv = "COTATION_POSTGRES_PASSWORD"
	redisAddrEnv    = "COTATION_REDIS_ADDR"
	natsURLEnv      = "COTATION_NATS_URL"
	portEnv         = "COTATION_PORT"
	debugEnv        = "COTATION_DEBUG"
)

// Load builds the configuration. Defaults come from the tier (file value,
// overridden by COTATION_TIER), then the YAML file, then the environment.
// An empty path falls back to COTATION_CONFIG; no file at all is fine.
func Load(path string) (*domain.Config, error) {
	if path == "" {
		path = os.Getenv(configPathEnv)
	}

	var raw []byte
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: cannot read %s: %w", path, err)
		}
		raw = b
	}

	tier, err := resolveTier(raw)
	if err != nil {
		return nil, fmt.Errorf("config: cannot parse %s: %w", path, err)
	}

	cfg := domain.DefaultConfig()
	if tier == domain.TierPro {
		cfg = domain.ProConfig()
	}

	// decoding onto the defaults keeps every key the file leaves out
	if len(raw) > 0 {
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("config: cannot parse %s: %w", path, err)
		}
	}
	cfg.Tier = tier

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func resolveTier(raw []byte) (domain.Tier, error) {
	var peek struct {
		Tier domain.Tier `yaml:"tier"`
	}
	if len(raw) > 0 {
		if err := yaml.Unmarshal(raw, &peek); err != nil {
			return "", err
		}
	}
	if v := os.Getenv(tierEnv); v != "" {
		peek.Tier = domain.Tier(strings.ToLower(v))
	}
	if peek.Tier == "" {
		peek.Tier = domain.TierCommunity
	}
	return peek.Tier, nil
}

func applyEnvOverrides(cfg *domain.Config) error {
	if v := os.Getenv(upstreamURLEnv); v != "" {
		cfg.Upstream.BaseURL = v
	}
	if v := os.Getenv(csrfTokenEnv); v != "" {
		cfg.Upstream.CSRFToken = v
	}

	if v := os.Getenv(dbDriverEnv); v != "" {
		cfg.Repository.Driver = v
	}
	if v := os.Getenv(sqlitePathEnv); v != "" {
		cfg.Repository.SQLitePath = v
	}
	if v := os.Getenv(postgresPassEnv); v != "" {
		cfg.Repository.PostgresPassword = v
	}

	if v := os.Getenv(redisAddrEnv); v != "" {
		cfg.Cache.Type = "redis"
		cfg.Cache.RedisAddr = v
	}
	if v := os.Getenv(natsURLEnv); v != "" {
		cfg.EventBus.Type = "nats"
		cfg.EventBus.NATSUrl = v
	}

	if v := os.Getenv(portEnv); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %s must be a number: %w", portEnv, err)
		}
		cfg.Server.Port = port
	}

	if os.Getenv(debugEnv) == "true" {
		cfg.Logging.Level = "debug"
	}
	return nil
}

// Validate rejects configurations the service cannot start with.
func Validate(cfg *domain.Config) error {
	switch cfg.Tier {
	case domain.TierCommunity, domain.TierPro:
	default:
		return fmt.Errorf("config: unknown tier %q", cfg.Tier)
	}

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("config: server port %d out of range", cfg.Server.Port)
	}
	if cfg.Upstream.BaseURL == "" {
		return fmt.Errorf("config: upstream.baseUrl is required")
	}

	switch cfg.Repository.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unsupported repository driver %q", cfg.Repository.Driver)
	}
	switch cfg.Cache.Type {
	case "memory", "redis":
	default:
		return fmt.Errorf("config: unsupported cache type %q", cfg.Cache.Type)
	}
	switch cfg.EventBus.Type {
	case "channel", "nats":
	default:
		return fmt.Errorf("config: unsupported event bus type %q", cfg.EventBus.Type)
	}

	if len(cfg.Bands) == 0 {
		return fmt.Errorf("config: at least one score band is required")
	}
	for i, b := range cfg.Bands {
		if b.Level == "" || b.Expression == "" {
			return fmt.Errorf("config: band #%d needs a level and an expression", i)
		}
	}

	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", cfg.Logging.Level)
	}
	return nil
}
