package goPullToken

import (
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantValid bool
	}{
		{
			name:      "short default period",
			mutate:    func(c *Config) { c.Token.DefaultPeriod = time.Microsecond },
			wantValid: false,
		},
		{
			name:      "negative default ttl",
			mutate:    func(c *Config) { c.Token.DefaultTTL = -time.Second },
			wantValid: false,
		},
		{
			name:      "positive default ttl",
			mutate:    func(c *Config) { c.Token.DefaultTTL = time.Hour },
			wantValid: true,
		},
		{
			name:      "tiny max token size",
			mutate:    func(c *Config) { c.Token.MaxTokenSize = 10 },
			wantValid: false,
		},
		{
			name:      "zero max caveats",
			mutate:    func(c *Config) { c.Token.MaxCaveats = 0 },
			wantValid: false,
		},
		{
			name:      "invalid utf8 location",
			mutate:    func(c *Config) { c.Token.Location = "\xff" },
			wantValid: false,
		},
		{
			name:      "throttle without window",
			mutate:    func(c *Config) { c.Exchange.ExchangeWindow = 0 },
			wantValid: false,
		},
		{
			name: "throttle disabled ignores limits",
			mutate: func(c *Config) {
				c.Exchange.EnableIPThrottle = false
				c.Exchange.MaxExchangesPerIP = 0
			},
			wantValid: true,
		},
		{
			name:      "empty base address",
			mutate:    func(c *Config) { c.Stream.BaseAddress = "" },
			wantValid: false,
		},
		{
			name:      "base address trailing dot",
			mutate:    func(c *Config) { c.Stream.BaseAddress = "g.pull." },
			wantValid: false,
		},
		{
			name:      "ledger prefix with colon",
			mutate:    func(c *Config) { c.Ledger.RedisPrefix = "a:b" },
			wantValid: false,
		},
		{
			name:      "ledger zero claim ttl",
			mutate:    func(c *Config) { c.Ledger.ClaimTTL = 0 },
			wantValid: false,
		},
		{
			name:      "audit to stream without audit",
			mutate:    func(c *Config) { c.Ledger.AuditToStream = true },
			wantValid: false,
		},
		{
			name: "audit to stream with audit",
			mutate: func(c *Config) {
				c.Ledger.AuditToStream = true
				c.Audit.Enabled = true
			},
			wantValid: true,
		},
		{
			name: "audit without buffer",
			mutate: func(c *Config) {
				c.Audit.Enabled = true
				c.Audit.BufferSize = 0
			},
			wantValid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantValid && err != nil {
				t.Fatalf("expected valid config, got %v", err)
			}
			if !tt.wantValid && err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestBuilderRequirements(t *testing.T) {
	if _, err := New().Build(); err == nil {
		t.Fatal("expected error without master secret")
	}
	if _, err := New().WithMasterSecret([]byte("short")).Build(); err == nil {
		t.Fatal("expected error for short master secret")
	}

	cfg := DefaultConfig()
	cfg.Audit.Enabled = true
	cfg.Ledger.AuditToStream = true
	if _, err := New().WithConfig(cfg).WithMasterSecret(testMaster).Build(); err == nil {
		t.Fatal("expected error for audit stream without redis")
	}

	b := New().WithMasterSecret(testMaster)
	e, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer e.Close()
	if _, err := b.Build(); err == nil {
		t.Fatal("expected builder reuse to fail")
	}
}
