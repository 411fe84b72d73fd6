package lycento

import (
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	defaultTimeout   = 10 * time.Second
	maxResponseBytes = 1 << 20 // 1 MB

	// maxTimeoutMS is the largest timeout a time.Duration can hold.
	maxTimeoutMS = math.MaxInt64 / int64(time.Millisecond)
)

// Config holds the settings shared by a Client. It is a value type: every
// With* method returns a modified copy and never touches the receiver, so a
// Config can be built fluently and handed to any number of clients.
//
//	cfg := lycento.NewConfig("https://api.lycento.com").
//	    WithAPIKey("k1").
//	    WithTimeout(5000)
//
// Invalid inputs are reported by Validate and NewClient, never coerced.
type Config struct {
	baseURL    string
	apiKey     string
	timeout    time.Duration
	timeoutErr *ConfigError
}

// NewConfig starts a Config from the licensing service base URL.
// Surrounding whitespace and trailing slashes are removed.
func NewConfig(baseURL string) Config {
	return Config{baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/")}
}

// WithAPIKey returns a copy that authenticates with the given bearer credential.
func (c Config) WithAPIKey(apiKey string) Config {
	c.apiKey = apiKey
	return c
}

// WithTimeout returns a copy with the per-request timeout in milliseconds.
// Zero, negative or out-of-range values make the Config invalid.
func (c Config) WithTimeout(ms int64) Config {
	if ms <= 0 {
		c.timeoutErr = &ConfigError{
			Code:   ConfigInvalidTimeout,
			Value:  strconv.FormatInt(ms, 10),
			Reason: "timeout must be a positive number of milliseconds",
		}
		return c
	}
	if ms > maxTimeoutMS {
		c.timeoutErr = &ConfigError{
			Code:   ConfigInvalidTimeout,
			Value:  strconv.FormatInt(ms, 10),
			Reason: "timeout is too large",
		}
		return c
	}
	c.timeout = time.Duration(ms) * time.Millisecond
	c.timeoutErr = nil
	return c
}

// BaseURL returns the normalized base URL.
func (c Config) BaseURL() string { return c.baseURL }

// APIKey returns the configured API key, or "" when none is set.
func (c Config) APIKey() string { return c.apiKey }

// Timeout returns the per-request timeout, defaulting to 10 seconds.
func (c Config) Timeout() time.Duration {
	if c.timeout <= 0 {
		return defaultTimeout
	}
	return c.timeout
}

// Validate reports the first invalid setting as a *ConfigError.
func (c Config) Validate() error {
	if c.timeoutErr != nil {
		return c.timeoutErr
	}
	if c.baseURL == "" {
		return &ConfigError{Code: ConfigInvalidURL, Reason: "base URL is empty"}
	}
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return &ConfigError{Code: ConfigInvalidURL, Value: c.baseURL, Reason: err.Error()}
	}
	if !u.IsAbs() || u.Host == "" {
		return &ConfigError{Code: ConfigInvalidURL, Value: c.baseURL, Reason: "base URL must be absolute"}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &ConfigError{Code: ConfigInvalidURL, Value: c.baseURL, Reason: fmt.Sprintf("unsupported scheme %q", u.Scheme)}
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return &ConfigError{Code: ConfigInvalidURL, Value: c.baseURL, Reason: "base URL must not carry a query or fragment"}
	}
	return nil
}

// envConfig is the environment layout read by ConfigFromEnv.
type envConfig struct {
	BaseURL   string `envconfig:"BASE_URL"`
	APIKey    string `envconfig:"API_KEY"`
	TimeoutMS string `envconfig:"TIMEOUT_MS"`
}

// ConfigFromEnv builds a Config from LYCENTO_BASE_URL, LYCENTO_API_KEY and
// LYCENTO_TIMEOUT_MS. The result still has to pass Validate.
func ConfigFromEnv() (Config, error) {
	var env envConfig
	if err := envconfig.Process("LYCENTO", &env); err != nil {
		return Config{}, fmt.Errorf("load config from env: %w", err)
	}
	cfg := NewConfig(env.BaseURL)
	if env.APIKey != "" {
		cfg = cfg.WithAPIKey(env.APIKey)
	}
	if env.TimeoutMS != "" {
		ms, err := strconv.ParseInt(strings.TrimSpace(env.TimeoutMS), 10, 64)
		if err != nil {
			return Config{}, &ConfigError{Code: ConfigInvalidTimeout, Value: env.TimeoutMS, Reason: "not an integer"}
		}
		cfg = cfg.WithTimeout(ms)
	}
	return cfg, nil
}
