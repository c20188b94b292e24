// Package config loads service configuration from an optional YAML file
// layered under environment variables. Env always wins so deployments can
// override a checked-in file without editing it.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the Atrium server.
type Config struct {
	Port      int             `yaml:"port"`
	LogLevel  string          `yaml:"log_level"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Usage     UsageConfig     `yaml:"usage"`
	Engine    EngineConfig    `yaml:"engine"`
	Model     ModelConfig     `yaml:"model"`
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// ERP is the default backing-system credential set; Tenants may
	// override it per tenant.
	ERP     ERPConfig                `yaml:"erp"`
	Tenants map[string]TenantProfile `yaml:"tenants"`
}

// ERPConfig is a credential set for the business-data backend.
type ERPConfig struct {
	BaseURL  string `yaml:"base_url"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	APIKey   string `yaml:"api_key"`
}

// TenantProfile carries per-tenant context text and credential
// overrides.
type TenantProfile struct {
	ContextText string    `yaml:"context_text"`
	ERP         ERPConfig `yaml:"erp"`
}

// DatabaseConfig configures the sqlite-backed agent directory.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// RedisConfig configures the usage counter store.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// UsageConfig sets the per-period token allowance.
type UsageConfig struct {
	MonthlyTokenLimit int64 `yaml:"monthly_token_limit"`
}

// EngineConfig bounds the generation loop.
type EngineConfig struct {
	MaxRounds int `yaml:"max_rounds"`
}

// ModelConfig points at the generative-model endpoint.
type ModelConfig struct {
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
}

// TelemetryConfig configures OTLP trace export.
type TelemetryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
}

// Load reads the optional YAML file named by ATRIUM_CONFIG, then applies
// environment overrides and defaults.
func Load() (*Config, error) {
	cfg := &Config{}

	if path := os.Getenv("ATRIUM_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.Port = envInt("ATRIUM_PORT", defInt(cfg.Port, 8080))
	cfg.LogLevel = envStr("ATRIUM_LOG_LEVEL", defStr(cfg.LogLevel, "info"))
	cfg.Database.Path = envStr("ATRIUM_DB_PATH", defStr(cfg.Database.Path, "atrium.db"))
	cfg.Redis.Addr = envStr("ATRIUM_REDIS_ADDR", defStr(cfg.Redis.Addr, "localhost:6379"))
	cfg.Redis.Password = envStr("ATRIUM_REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = envInt("ATRIUM_REDIS_DB", cfg.Redis.DB)
	cfg.Usage.MonthlyTokenLimit = envInt64("ATRIUM_MONTHLY_TOKEN_LIMIT", defInt64(cfg.Usage.MonthlyTokenLimit, 2_000_000))
	cfg.Engine.MaxRounds = envInt("ATRIUM_MAX_ROUNDS", defInt(cfg.Engine.MaxRounds, 6))
	cfg.Model.Endpoint = envStr("ATRIUM_MODEL_ENDPOINT", defStr(cfg.Model.Endpoint, "https://api.openai.com/v1"))
	cfg.Model.APIKey = envStr("ATRIUM_MODEL_API_KEY", cfg.Model.APIKey)
	cfg.Model.Model = envStr("ATRIUM_MODEL", defStr(cfg.Model.Model, "gpt-4o-mini"))
	cfg.ERP.BaseURL = envStr("ATRIUM_ERP_BASE_URL", cfg.ERP.BaseURL)
	cfg.ERP.Database = envStr("ATRIUM_ERP_DATABASE", cfg.ERP.Database)
	cfg.ERP.Username = envStr("ATRIUM_ERP_USERNAME", cfg.ERP.Username)
	cfg.ERP.APIKey = envStr("ATRIUM_ERP_API_KEY", cfg.ERP.APIKey)
	cfg.Telemetry.Enabled = envBool("OTEL_ENABLED", cfg.Telemetry.Enabled)
	cfg.Telemetry.OTLPEndpoint = envStr("OTEL_EXPORTER_OTLP_ENDPOINT", defStr(cfg.Telemetry.OTLPEndpoint, "localhost:4317"))
	cfg.Telemetry.ServiceName = envStr("OTEL_SERVICE_NAME", defStr(cfg.Telemetry.ServiceName, "atrium"))

	return cfg, nil
}

func defStr(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

func defInt(v, fallback int) int {
	if v != 0 {
		return v
	}
	return fallback
}

func defInt64(v, fallback int64) int64 {
	if v != 0 {
		return v
	}
	return fallback
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
