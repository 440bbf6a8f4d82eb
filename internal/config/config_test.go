package config

import (
	"os"
	"testing"
	"time"
)

func unsetEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, key := range keys {
		t.Setenv(key, "")
		if err := os.Unsetenv(key); err != nil {
			t.Fatalf("unset %s: %v", key, err)
		}
	}
}

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("MANAGER_PIN", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
	if cfg.ManagerPIN != "" {
		t.Fatalf("expected empty MANAGER_PIN when unset, got %q", cfg.ManagerPIN)
	}
}

func TestLoadGatewayDefaults(t *testing.T) {
	unsetEnv(t, "MPESA_POLL_INTERVAL", "MPESA_MAX_ATTEMPTS", "TAX_RATE_PERCENT", "PORT")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MpesaPollInterval != 3*time.Second {
		t.Fatalf("expected 3s poll interval, got %s", cfg.MpesaPollInterval)
	}
	if cfg.MpesaMaxAttempts != 12 {
		t.Fatalf("expected 12 attempts, got %d", cfg.MpesaMaxAttempts)
	}
	if cfg.TaxRatePercent != 16 {
		t.Fatalf("expected 16%% tax default, got %v", cfg.TaxRatePercent)
	}
	if cfg.Address() != ":8080" {
		t.Fatalf("unexpected address %q", cfg.Address())
	}
}

func TestLoadRejectsOutOfRangeTaxRate(t *testing.T) {
	t.Setenv("TAX_RATE_PERCENT", "140")
	if _, err := Load(); err == nil {
		t.Fatalf("expected tax rate above 100 to be rejected")
	}
}

func TestLoadTrimsBackofficeURL(t *testing.T) {
	t.Setenv("BACKOFFICE_URL", " https://shop.example.com/ ")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BackofficeURL != "https://shop.example.com" {
		t.Fatalf("unexpected backoffice url %q", cfg.BackofficeURL)
	}
}
