package core

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// Credentials holds the API key pair for a venue account. Both values
// are opaque strings supplied by the caller's secret store.
type Credentials struct {
	// APIKey is the public key identifier, sent in a request header.
	APIKey string `json:"api_key"`
	// SecretKey is the private key used to sign requests. Never leaves
	// the process.
	SecretKey string `json:"secret_key"`
}

// Config carries every tunable of the connectivity core. It is an
// explicit immutable value passed into constructors; nothing reads
// process-wide state.
type Config struct {
	// BaseURL is the REST API origin.
	BaseURL string `json:"base_url" validate:"required,url"`
	// WSURL is the WebSocket API endpoint.
	WSURL string `json:"ws_url" validate:"required"`

	Credentials *Credentials `json:"credentials,omitempty"`

	// Timeout is the per-request HTTP deadline.
	Timeout time.Duration `json:"timeout" validate:"min=1ms"`
	// RequestTimeout is how long a WS call waits for its correlated response.
	RequestTimeout time.Duration `json:"request_timeout" validate:"min=1ms"`
	// RecvWindow is the signed-request validity window in milliseconds.
	RecvWindow int `json:"recv_window" validate:"min=0"`

	// MaxRetries bounds 429/418 retry attempts on the REST path.
	MaxRetries int `json:"max_retries" validate:"min=0"`
	// MaxServerRetries bounds 5xx retry attempts on the REST path.
	MaxServerRetries int           `json:"max_server_retries" validate:"min=0"`
	RetryWaitMin     time.Duration `json:"retry_wait_min" validate:"min=0"`
	RetryWaitMax     time.Duration `json:"retry_wait_max" validate:"min=0"`

	// RateLimits are the venue budgets the local limiter enforces.
	RateLimits []RateLimit `json:"rate_limits"`

	// PingInterval is how often the keepalive loop pings the venue.
	PingInterval time.Duration `json:"ping_interval" validate:"min=1s"`
	// PongWait is how long to wait for a pong before reconnecting.
	PongWait time.Duration `json:"pong_wait" validate:"min=1s"`
	// MaxConnAge forces a proactive reconnect before the venue's
	// session cap terminates the connection server-side.
	MaxConnAge time.Duration `json:"max_conn_age" validate:"min=1m"`

	// ReconnectMaxAttempts bounds consecutive reconnect failures.
	ReconnectMaxAttempts int           `json:"reconnect_max_attempts" validate:"min=1"`
	ReconnectBaseWait    time.Duration `json:"reconnect_base_wait" validate:"min=1ms"`
	ReconnectMaxWait     time.Duration `json:"reconnect_max_wait" validate:"min=1ms"`

	LogLevel string `json:"log_level" validate:"omitempty,oneof=debug info warn error"`
}

// DefaultConfig returns a Config with the venue's published defaults:
// 3 minute pings, 10 second pong window, 24 hour connection age cap,
// and the spot API rate budgets.
func DefaultConfig(baseURL, wsURL string) *Config {
	return &Config{
		BaseURL: baseURL,
		WSURL:   wsURL,

		Timeout:        10 * time.Second,
		RequestTimeout: 10 * time.Second,
		RecvWindow:     5000,

		MaxRetries:       5,
		MaxServerRetries: 2,
		RetryWaitMin:     500 * time.Millisecond,
		RetryWaitMax:     30 * time.Second,

		RateLimits: DefaultRateLimits(),

		PingInterval: 3 * time.Minute,
		PongWait:     10 * time.Second,
		MaxConnAge:   24 * time.Hour,

		ReconnectMaxAttempts: 10,
		ReconnectBaseWait:    1 * time.Second,
		ReconnectMaxWait:     30 * time.Second,

		LogLevel: "info",
	}
}

var validate = validator.New()

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	return validate.Struct(c)
}

// WithCredentials sets the API credentials and returns the config for chaining.
func (c *Config) WithCredentials(creds *Credentials) *Config {
	c.Credentials = creds
	return c
}

// WithTimeout sets the HTTP request deadline and returns the config for chaining.
func (c *Config) WithTimeout(timeout time.Duration) *Config {
	c.Timeout = timeout
	return c
}

// WithRateLimits replaces the enforced budgets and returns the config
// for chaining. Callers typically feed this from live exchangeInfo.
func (c *Config) WithRateLimits(limits []RateLimit) *Config {
	c.RateLimits = limits
	return c
}

// WithPing sets the keepalive cadence and returns the config for chaining.
func (c *Config) WithPing(interval, pongWait time.Duration) *Config {
	c.PingInterval = interval
	c.PongWait = pongWait
	return c
}

// WithReconnect sets the reconnect policy and returns the config for chaining.
func (c *Config) WithReconnect(maxAttempts int, baseWait, maxWait time.Duration) *Config {
	c.ReconnectMaxAttempts = maxAttempts
	c.ReconnectBaseWait = baseWait
	c.ReconnectMaxWait = maxWait
	return c
}
