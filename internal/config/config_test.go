package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load with defaults: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("server.port = %q, want 8080", cfg.Server.Port)
	}
	if cfg.Server.BackofficePort != "8081" {
		t.Errorf("server.backoffice_port = %q, want 8081", cfg.Server.BackofficePort)
	}
	if cfg.Chain.PollInterval != 5*time.Second {
		t.Errorf("chain.poll_interval = %v, want 5s", cfg.Chain.PollInterval)
	}
	if cfg.Chain.BatchSlots != 100 {
		t.Errorf("chain.batch_slots = %d, want 100", cfg.Chain.BatchSlots)
	}
	if cfg.Redis.Enabled {
		t.Error("redis should be disabled by default")
	}
	if cfg.Ledger.CloseFeeBps != 0 {
		t.Errorf("ledger.close_fee_bps = %d, want 0", cfg.Ledger.CloseFeeBps)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("log.format = %q, want json", cfg.Log.Format)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("KMARKET_SERVER_PORT", "9090")
	t.Setenv("KMARKET_LOG_LEVEL", "debug")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != "9090" {
		t.Errorf("server.port = %q, want env override 9090", cfg.Server.Port)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log.level = %q, want debug", cfg.Log.Level)
	}
}

func TestValidate_Failures(t *testing.T) {
	base := func() *Config {
		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing port", func(c *Config) { c.Server.Port = "" }},
		{"missing dsn", func(c *Config) { c.DB.DSN = "" }},
		{"prod without jwt secret", func(c *Config) { c.Server.Env = "production"; c.JWT.AccessSecret = "" }},
		{"poll interval too small", func(c *Config) { c.Chain.PollInterval = 100 * time.Millisecond }},
		{"batch slots zero", func(c *Config) { c.Chain.BatchSlots = 0 }},
		{"batch slots too large", func(c *Config) { c.Chain.BatchSlots = 5000 }},
		{"fee above 100%", func(c *Config) { c.Ledger.CloseFeeBps = 10001 }},
		{"bad log level", func(c *Config) { c.Log.Level = "verbose" }},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("Validate() should fail for %s", tc.name)
			}
		})
	}
}

func TestBackofficeIPList(t *testing.T) {
	cfg := &Config{}
	if got := cfg.BackofficeIPList(); got != nil {
		t.Errorf("empty allow-list should return nil, got %v", got)
	}

	cfg.Server.BackofficeAllowedIPs = "10.0.0.1, 10.0.0.2 ,,192.168.1.5"
	got := cfg.BackofficeIPList()
	want := []string{"10.0.0.1", "10.0.0.2", "192.168.1.5"}
	if len(got) != len(want) {
		t.Fatalf("BackofficeIPList() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ip[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
