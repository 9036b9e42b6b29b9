package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Auth.LockoutWindow != 30*time.Minute {
		t.Fatalf("unexpected lockout window %v", cfg.Auth.LockoutWindow)
	}
	if cfg.Auth.MaxRetryAttempts != 5 {
		t.Fatalf("unexpected retry attempts %d", cfg.Auth.MaxRetryAttempts)
	}
	if cfg.Directory.PolicyCacheTTL != time.Hour {
		t.Fatalf("unexpected policy cache ttl %v", cfg.Directory.PolicyCacheTTL)
	}
	if cfg.Events.Store != "postgres" {
		t.Fatalf("unexpected events store %q", cfg.Events.Store)
	}
	if cfg.RateLimit.AccountAuthenticateMaxAttempts != 10 || cfg.RateLimit.AccountChangeMaxAttempts != 3 {
		t.Fatalf("unexpected account rate limits %+v", cfg.RateLimit)
	}
}

func TestLoadReadsPrefixedEnv(t *testing.T) {
	t.Setenv("DISPENSE_AUTH_MAX_RETRY_ATTEMPTS", "3")
	t.Setenv("DISPENSE_DIRECTORY_DISCONNECTED_MODE", "enabled")
	t.Setenv("DISPENSE_AUTH_POLICY_MIN_LENGTH", "12")
	t.Setenv("DISPENSE_EVENTS_STORE", "redis")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Auth.MaxRetryAttempts != 3 {
		t.Fatalf("expected 3 retries, got %d", cfg.Auth.MaxRetryAttempts)
	}
	if cfg.Directory.DisconnectedMode != "enabled" {
		t.Fatalf("expected enabled disconnected mode, got %q", cfg.Directory.DisconnectedMode)
	}
	if cfg.Auth.Policy.MinLength != 12 {
		t.Fatalf("expected min length 12, got %d", cfg.Auth.Policy.MinLength)
	}
	if cfg.Events.Store != "redis" {
		t.Fatalf("expected redis events store, got %q", cfg.Events.Store)
	}
}

func TestLoadRejectsUnknownEventStore(t *testing.T) {
	t.Setenv("DISPENSE_EVENTS_STORE", "mongo")

	if _, err := Load(); err == nil {
		t.Fatalf("expected validation error")
	}
}
