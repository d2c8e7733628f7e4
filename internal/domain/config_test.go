package domain

import (
	"testing"
)

func TestLoadConfig(t *testing.T) {
	env := func(vars map[string]string) func(string) string {
		return func(key string) string { return vars[key] }
	}

	t.Run("Defaults", func(t *testing.T) {
		cfg, err := LoadConfig(env(nil))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.Tier != TierCommunity || cfg.Repository.Driver != "sqlite" {
			t.Errorf("unexpected defaults: %+v", cfg)
		}
		if cfg.Detection.DefaultConfiguration != "default" {
			t.Errorf("expected default configuration, got %q", cfg.Detection.DefaultConfiguration)
		}
	})

	t.Run("ProTierWithOverrides", func(t *testing.T) {
		cfg, err := LoadConfig(env(map[string]string{
			"KESTREL_TIER":     "pro",
			"KESTREL_PORT":     "9090",
			"KESTREL_WORKERS":  "4",
			"KESTREL_NATS_URL": "nats://bus:4222",
			"KESTREL_DEBUG":    "true",
		}))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.Repository.Driver != "postgres" || cfg.EventBus.Type != "nats" {
			t.Errorf("expected pro backends, got %s/%s", cfg.Repository.Driver, cfg.EventBus.Type)
		}
		if cfg.Server.Port != 9090 || cfg.Detection.Workers != 4 {
			t.Errorf("overrides not applied: port=%d workers=%d", cfg.Server.Port, cfg.Detection.Workers)
		}
		if cfg.EventBus.NATSUrl != "nats://bus:4222" {
			t.Errorf("unexpected NATS url %s", cfg.EventBus.NATSUrl)
		}
		if cfg.Logging.Level != "debug" {
			t.Errorf("expected debug level, got %s", cfg.Logging.Level)
		}
	})

	t.Run("InvalidNumber", func(t *testing.T) {
		if _, err := LoadConfig(env(map[string]string{"KESTREL_PORT": "eighty"})); err == nil {
			t.Error("expected error for non-numeric port")
		}
	})

	t.Run("ZeroWorkers", func(t *testing.T) {
		if _, err := LoadConfig(env(map[string]string{"KESTREL_WORKERS": "0"})); err == nil {
			t.Error("expected error for zero workers")
		}
	})
}
