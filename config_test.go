package gatekit

import (
	"testing"
	"time"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("DefaultConfig().Validate() error = %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:   "defaults pass",
			mutate: func(*Config) {},
		},
		{
			name:    "zero rate limit calls",
			mutate:  func(c *Config) { c.RateLimitCalls = 0 },
			wantErr: true,
		},
		{
			name:    "negative period",
			mutate:  func(c *Config) { c.RateLimitPeriod = -time.Second },
			wantErr: true,
		},
		{
			name:    "max delay below initial delay",
			mutate:  func(c *Config) { c.RetryMaxDelay = 500 * time.Millisecond },
			wantErr: true,
		},
		{
			name:    "zero breaker threshold",
			mutate:  func(c *Config) { c.BreakerFailureThreshold = 0 },
			wantErr: true,
		},
		{
			name:   "zero cache TTL allowed",
			mutate: func(c *Config) { c.CacheTTL = 0 },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.mutate(&c)
			err := c.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("GATEWAY_RATE_LIMIT_CALLS", "50")
	t.Setenv("GATEWAY_RATE_LIMIT_PERIOD", "30s")
	t.Setenv("GATEWAY_CACHE_TTL", "10m")

	c, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() error = %v", err)
	}
	if c.RateLimitCalls != 50 {
		t.Errorf("RateLimitCalls = %d, want 50", c.RateLimitCalls)
	}
	if c.RateLimitPeriod != 30*time.Second {
		t.Errorf("RateLimitPeriod = %v, want 30s", c.RateLimitPeriod)
	}
	if c.CacheTTL != 10*time.Minute {
		t.Errorf("CacheTTL = %v, want 10m", c.CacheTTL)
	}
	// Untouched fields keep their defaults.
	if c.RetryMaxAttempts != 3 {
		t.Errorf("RetryMaxAttempts = %d, want default 3", c.RetryMaxAttempts)
	}
}

func TestConfigFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"malformed int", "GATEWAY_RETRY_MAX_ATTEMPTS", "three"},
		{"malformed duration", "GATEWAY_CALL_TIMEOUT", "30 seconds"},
		{"fails validation", "GATEWAY_BREAKER_FAILURE_THRESHOLD", "-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := ConfigFromEnv(); err == nil {
				t.Errorf("ConfigFromEnv() error = nil, want error for %s=%q", tt.key, tt.value)
			}
		})
	}
}

func TestConfigFromEnv_Defaults(t *testing.T) {
	c, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() error = %v", err)
	}
	if c != DefaultConfig() {
		t.Errorf("ConfigFromEnv() = %+v, want defaults %+v", c, DefaultConfig())
	}
}
