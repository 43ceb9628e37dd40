package config

import (
	"fmt"
	"strings"
	"time"

	"visible-relay/internal/domain/entity"

	"github.com/caarlos0/env/v9"
	"github.com/hashicorp/go-multierror"
)

const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"

	// MaxOutputTokensCap bounds the generation budget of a single answer.
	MaxOutputTokensCap = 300
)

type Config struct {
	Port       string `env:"PORT" envDefault:"8000"`
	AppVersion string `env:"APP_VERSION" envDefault:"dev"`
	Env        string `env:"ENV" envDefault:"development"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat  string `env:"LOG_FORMAT" envDefault:"text"`

	Provider        string `env:"UPSTREAM_PROVIDER" envDefault:"openai"`
	OpenAIAPIKey    string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL   string `env:"OPENAI_BASE_URL"`
	OpenAIModel     string `env:"OPENAI_MODEL" envDefault:"gpt-4o"`
	GeminiAPIKey    string `env:"GEMINI_API_KEY"`
	GeminiModel     string `env:"GEMINI_MODEL" envDefault:"gemini-2.5-flash"`
	FallbackEnabled bool   `env:"FALLBACK_ENABLED" envDefault:"false"`

	MaxOutputTokens int           `env:"MAX_OUTPUT_TOKENS" envDefault:"300"`
	DefaultMode     entity.Mode   `env:"DEFAULT_MODE" envDefault:"product_info"`
	UpstreamTimeout time.Duration `env:"UPSTREAM_TIMEOUT" envDefault:"30s"`
	MaxRetries      int           `env:"UPSTREAM_MAX_RETRIES" envDefault:"0"`
	RetryDelay      time.Duration `env:"UPSTREAM_RETRY_DELAY" envDefault:"500ms"`
	BodyLimitMB     int           `env:"BODY_LIMIT_MB" envDefault:"10"`

	RedisAddr      string `env:"REDIS_ADDR"`
	RedisPassword  string `env:"REDIS_PASSWORD"`
	RedisDB        int    `env:"REDIS_DB" envDefault:"0"`
	UserTokenLimit int    `env:"USER_TOKEN_LIMIT" envDefault:"0"`
}

// Load reads the process environment.
func Load() (*Config, error) {
	return parse(env.Options{})
}

// LoadFrom reads configuration from vars instead of the process environment.
func LoadFrom(vars map[string]string) (*Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("%w: parsing env: %v", entity.ErrConfiguration, err)
	}
	cfg.Provider = strings.ToLower(strings.TrimSpace(cfg.Provider))
	cfg.DefaultMode = entity.Mode(strings.ToLower(string(cfg.DefaultMode)))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every problem at once so a misconfigured deployment can be
// fixed in one pass.
func (c *Config) Validate() error {
	var errs *multierror.Error

	switch c.Provider {
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			errs = multierror.Append(errs, fmt.Errorf("OPENAI_API_KEY is required for provider %q", c.Provider))
		}
	case ProviderGemini:
		if c.GeminiAPIKey == "" {
			errs = multierror.Append(errs, fmt.Errorf("GEMINI_API_KEY is required for provider %q", c.Provider))
		}
	default:
		errs = multierror.Append(errs, fmt.Errorf("UPSTREAM_PROVIDER %q is not one of %s, %s", c.Provider, ProviderOpenAI, ProviderGemini))
	}

	if c.MaxOutputTokens < 1 || c.MaxOutputTokens > MaxOutputTokensCap {
		errs = multierror.Append(errs, fmt.Errorf("MAX_OUTPUT_TOKENS must be within 1..%d, got %d", MaxOutputTokensCap, c.MaxOutputTokens))
	}
	if !c.DefaultMode.Valid() {
		errs = multierror.Append(errs, fmt.Errorf("DEFAULT_MODE %q: %w", c.DefaultMode, entity.ErrUnknownMode))
	}
	if c.UpstreamTimeout <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("UPSTREAM_TIMEOUT must be positive, got %s", c.UpstreamTimeout))
	}
	if c.MaxRetries < 0 {
		errs = multierror.Append(errs, fmt.Errorf("UPSTREAM_MAX_RETRIES must not be negative, got %d", c.MaxRetries))
	}
	if c.BodyLimitMB < 1 {
		errs = multierror.Append(errs, fmt.Errorf("BODY_LIMIT_MB must be at least 1, got %d", c.BodyLimitMB))
	}
	if c.UserTokenLimit < 0 {
		errs = multierror.Append(errs, fmt.Errorf("USER_TOKEN_LIMIT must not be negative, got %d", c.UserTokenLimit))
	}

	if err := errs.ErrorOrNil(); err != nil {
		return fmt.Errorf("%w: %v", entity.ErrConfiguration, err)
	}
	return nil
}

// FallbackProvider names the secondary provider, or "" when fallback is off or
// has no credential.
func (c *Config) FallbackProvider() string {
	if !c.FallbackEnabled {
		return ""
	}
	switch c.Provider {
	case ProviderOpenAI:
		if c.GeminiAPIKey != "" {
			return ProviderGemini
		}
	case ProviderGemini:
		if c.OpenAIAPIKey != "" {
			return ProviderOpenAI
		}
	}
	return ""
}

// LimiterEnabled reports whether the Redis token budget is configured.
func (c *Config) LimiterEnabled() bool {
	return c.RedisAddr != "" && c.UserTokenLimit > 0
}

func (c *Config) BodyLimit() int {
	return c.BodyLimitMB * 1024 * 1024
}
