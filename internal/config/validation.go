package config

import (
	"fmt"
	"net/url"
	"os"
)

// Validate validates configuration values.
// Returns sentinel errors checkable with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	// Model API key is required for the model-driven strategy.
	if os.Getenv("GEMINI_API_KEY") == "" {
		return fmt.Errorf("%w: GEMINI_API_KEY environment variable is required", ErrMissingAPIKey)
	}

	if err := validateHTTPURL(c.ShopURL); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidShopURL, err)
	}

	if c.OAuthClientID == "" {
		return fmt.Errorf("%w: oauth_client_id cannot be empty", ErrMissingOAuthClientID)
	}
	if err := validateHTTPURL(c.OAuthRedirectURI); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRedirectURI, err)
	}

	if c.ModelName == "" {
		return fmt.Errorf("%w: model_name cannot be empty", ErrInvalidModelName)
	}

	// Loop bound: 1 model call minimum, 20 keeps runaway tool loops finite.
	if c.MaxTurns < 1 || c.MaxTurns > 20 {
		return fmt.Errorf("%w: must be between 1 and 20, got %d", ErrInvalidMaxTurns, c.MaxTurns)
	}

	if c.ToolTimeout <= 0 {
		return fmt.Errorf("%w: tool_timeout must be positive, got %v", ErrInvalidTimeout, c.ToolTimeout)
	}
	if c.ModelTimeout <= 0 {
		return fmt.Errorf("%w: model_timeout must be positive, got %v", ErrInvalidTimeout, c.ModelTimeout)
	}

	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgresDBName)
	}

	if c.RedisURL == "" {
		return fmt.Errorf("%w: redis_url cannot be empty", ErrInvalidRedisURL)
	}

	return nil
}

func validateHTTPURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("empty URL")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}
