// Package config provides application configuration with multi-source
// priority.
//
// Sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (./config.yaml or ~/.vadf-assistant/config.yaml)
//  3. Default values
//
// Categories:
//   - Shop: merchant public URL and tool-server endpoints
//   - OAuth: customer-account authorization flow
//   - AI: model selection and loop bounds
//   - Storage: PostgreSQL conversation store, Redis token/endpoint cache
//   - Server: HTTP listen address
//
// Security: secrets are read from the environment only and never logged.
// Validation is fail-fast with sentinel errors checkable via errors.Is().
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates the model API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidShopURL indicates the shop public URL is missing or malformed.
	ErrInvalidShopURL = errors.New("invalid shop URL")

	// ErrMissingOAuthClientID indicates no OAuth client id is configured.
	ErrMissingOAuthClientID = errors.New("missing OAuth client id")

	// ErrInvalidRedirectURI indicates the OAuth redirect URI is malformed.
	ErrInvalidRedirectURI = errors.New("invalid OAuth redirect URI")

	// ErrInvalidModelName indicates the model name is empty.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidMaxTurns indicates the model-loop bound is out of range.
	ErrInvalidMaxTurns = errors.New("invalid max turns")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the database name is empty.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidRedisURL indicates the Redis URL is missing or malformed.
	ErrInvalidRedisURL = errors.New("invalid Redis URL")

	// ErrInvalidTimeout indicates a client timeout is non-positive.
	// Unbounded tool or model calls can hold a stream open indefinitely.
	ErrInvalidTimeout = errors.New("invalid timeout")
)

// DatadogConfig configures the OTLP trace exporter pointing at a local
// Datadog Agent.
type DatadogConfig struct {
	AgentHost   string `mapstructure:"agent_host"`
	Environment string `mapstructure:"environment"`
	ServiceName string `mapstructure:"service_name"`
}

// Config stores application configuration.
type Config struct {
	// HTTP server
	Addr string `mapstructure:"addr"`

	// Shop / tool servers
	ShopURL           string `mapstructure:"shop_url"`            // merchant public URL, e.g. https://boutique.vadf.fr
	ShopID            string `mapstructure:"shop_id"`             // merchant identifier used in OAuth state
	StorefrontMCPPath string `mapstructure:"storefront_mcp_path"` // relative to ShopURL
	WellKnownPath     string `mapstructure:"well_known_path"`     // customer-account discovery document

	// OAuth customer-account flow
	OAuthClientID    string   `mapstructure:"oauth_client_id"`
	OAuthRedirectURI string   `mapstructure:"oauth_redirect_uri"`
	OAuthScopes      []string `mapstructure:"oauth_scopes"`

	// AI model
	ModelName   string  `mapstructure:"model_name"`
	Temperature float32 `mapstructure:"temperature"`
	MaxTurns    int     `mapstructure:"max_turns"`

	// Account-status lookup collaborator
	AccountAPIURL string `mapstructure:"account_api_url"`

	// Client timeouts (finite bounds are mandatory, see ErrInvalidTimeout)
	ToolTimeout  time.Duration `mapstructure:"tool_timeout"`
	ModelTimeout time.Duration `mapstructure:"model_timeout"`

	// PostgreSQL conversation store
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"`
	PostgresDBName   string `mapstructure:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode"`

	// Redis token/endpoint cache
	RedisURL    string        `mapstructure:"redis_url"`
	EndpointTTL time.Duration `mapstructure:"endpoint_ttl"`

	// Observability
	Datadog DatadogConfig `mapstructure:"datadog"`
}

// Load loads configuration with env > file > defaults priority.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}
	configDir := filepath.Join(home, ".vadf-assistant")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath(configDir)

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing file is not an error, defaults plus env apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{".", configDir})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("addr", "127.0.0.1:3400")

	v.SetDefault("storefront_mcp_path", "/api/mcp")
	v.SetDefault("well_known_path", "/.well-known/customer-account-api.json")

	v.SetDefault("oauth_scopes", []string{"openid", "email", "customer-account-api:full"})

	v.SetDefault("model_name", "gemini-2.5-flash")
	v.SetDefault("temperature", 0.7)
	v.SetDefault("max_turns", 5)

	v.SetDefault("tool_timeout", 15*time.Second)
	v.SetDefault("model_timeout", 60*time.Second)

	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "vadf")
	v.SetDefault("postgres_password", "vadf_dev_password")
	v.SetDefault("postgres_db_name", "vadf_assistant")
	v.SetDefault("postgres_ssl_mode", "disable")

	v.SetDefault("redis_url", "redis://localhost:6379/0")
	v.SetDefault("endpoint_ttl", 24*time.Hour)

	v.SetDefault("datadog.agent_host", "localhost:4318")
	v.SetDefault("datadog.environment", "dev")
	v.SetDefault("datadog.service_name", "vadf-assistant")
}

// bindEnvVariables binds the environment variables that override file values.
// Secrets (GEMINI_API_KEY) are read straight from the environment at the
// point of use and never stored in the Config struct.
func bindEnvVariables(v *viper.Viper) {
	bindings := map[string]string{
		"addr":               "ASSISTANT_ADDR",
		"shop_url":           "SHOP_URL",
		"shop_id":            "SHOP_ID",
		"oauth_client_id":    "OAUTH_CLIENT_ID",
		"oauth_redirect_uri": "OAUTH_REDIRECT_URI",
		"model_name":         "MODEL_NAME",
		"account_api_url":    "ACCOUNT_API_URL",
		"postgres_host":      "POSTGRES_HOST",
		"postgres_port":      "POSTGRES_PORT",
		"postgres_user":      "POSTGRES_USER",
		"postgres_password":  "POSTGRES_PASSWORD",
		"postgres_db_name":   "POSTGRES_DB_NAME",
		"postgres_ssl_mode":  "POSTGRES_SSL_MODE",
		"redis_url":          "REDIS_URL",
	}
	for key, env := range bindings {
		_ = v.BindEnv(key, env)
	}
}

// PostgresURL returns the postgres:// connection URL for the configured
// database, suitable for both pgxpool and golang-migrate.
func (c *Config) PostgresURL() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.PostgresUser, c.PostgresPassword),
		Host:   fmt.Sprintf("%s:%d", c.PostgresHost, c.PostgresPort),
		Path:   "/" + c.PostgresDBName,
	}
	q := url.Values{}
	q.Set("sslmode", c.PostgresSSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}
