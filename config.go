package gatekit

// Environment-style configuration for the gateway and its components.
// Values populate the component constructors at startup; there is no hot
// reload.

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Config holds the tunable parameters for a gateway instance.
type Config struct {
	// RateLimitCalls is the upstream quota per RateLimitPeriod.
	RateLimitCalls int `validate:"gt=0"`

	// RateLimitPeriod is the quota window.
	RateLimitPeriod time.Duration `validate:"gt=0"`

	// CallTimeout bounds one whole gateway call, including retries.
	CallTimeout time.Duration `validate:"gt=0"`

	// RetryMaxAttempts bounds upstream attempts, including the first.
	RetryMaxAttempts int `validate:"gt=0"`

	// RetryInitialDelay is the backoff before the second attempt.
	RetryInitialDelay time.Duration `validate:"gt=0"`

	// RetryMaxDelay caps the computed backoff delay.
	RetryMaxDelay time.Duration `validate:"gtefield=RetryInitialDelay"`

	// BreakerFailureThreshold is the consecutive failure count that trips
	// the circuit.
	BreakerFailureThreshold int `validate:"gt=0"`

	// BreakerOpenDuration is how long the circuit rejects calls before a
	// half-open probe.
	BreakerOpenDuration time.Duration `validate:"gt=0"`

	// CacheTTL is the default freshness window for cached responses.
	CacheTTL time.Duration `validate:"gte=0"`
}

// DefaultConfig returns the production defaults: 100 calls per 60s, 30s per
// call, 3 attempts backing off 1s to 10s, breaker tripping after 5 failures
// for 30s, and a 5 minute cache TTL.
func DefaultConfig() Config {
	return Config{
		RateLimitCalls:          100,
		RateLimitPeriod:         time.Minute,
		CallTimeout:             30 * time.Second,
		RetryMaxAttempts:        3,
		RetryInitialDelay:       time.Second,
		RetryMaxDelay:           10 * time.Second,
		BreakerFailureThreshold: 5,
		BreakerOpenDuration:     30 * time.Second,
		CacheTTL:                5 * time.Minute,
	}
}

// Validate checks the configuration for internal consistency.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid gateway config: %w", err)
	}
	return nil
}

// ConfigFromEnv returns DefaultConfig overridden by GATEWAY_* environment
// variables, validated. Recognized variables:
//
//	GATEWAY_RATE_LIMIT_CALLS          int
//	GATEWAY_RATE_LIMIT_PERIOD         duration, e.g. "60s"
//	GATEWAY_CALL_TIMEOUT              duration
//	GATEWAY_RETRY_MAX_ATTEMPTS        int
//	GATEWAY_RETRY_INITIAL_DELAY       duration
//	GATEWAY_RETRY_MAX_DELAY           duration
//	GATEWAY_BREAKER_FAILURE_THRESHOLD int
//	GATEWAY_BREAKER_OPEN_DURATION     duration
//	GATEWAY_CACHE_TTL                 duration
func ConfigFromEnv() (Config, error) {
	c := DefaultConfig()

	var err error
	intVars := []struct {
		name string
		dst  *int
	}{
		{"GATEWAY_RATE_LIMIT_CALLS", &c.RateLimitCalls},
		{"GATEWAY_RETRY_MAX_ATTEMPTS", &c.RetryMaxAttempts},
		{"GATEWAY_BREAKER_FAILURE_THRESHOLD", &c.BreakerFailureThreshold},
	}
	for _, v := range intVars {
		if err = overrideInt(v.name, v.dst); err != nil {
			return Config{}, err
		}
	}

	durationVars := []struct {
		name string
		dst  *time.Duration
	}{
		{"GATEWAY_RATE_LIMIT_PERIOD", &c.RateLimitPeriod},
		{"GATEWAY_CALL_TIMEOUT", &c.CallTimeout},
		{"GATEWAY_RETRY_INITIAL_DELAY", &c.RetryInitialDelay},
		{"GATEWAY_RETRY_MAX_DELAY", &c.RetryMaxDelay},
		{"GATEWAY_BREAKER_OPEN_DURATION", &c.BreakerOpenDuration},
		{"GATEWAY_CACHE_TTL", &c.CacheTTL},
	}
	for _, v := range durationVars {
		if err = overrideDuration(v.name, v.dst); err != nil {
			return Config{}, err
		}
	}

	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func overrideInt(name string, dst *int) error {
	raw := os.Getenv(name)
	if raw == "" {
		return nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	*dst = v
	return nil
}

func overrideDuration(name string, dst *time.Duration) error {
	raw := os.Getenv(name)
	if raw == "" {
		return nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	*dst = v
	return nil
}
