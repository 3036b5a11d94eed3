package goPullToken

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

// Config holds every tunable of an [Engine]. Build validates it once; it is not read
// again after that.
type Config struct {
	Token    TokenConfig
	Exchange ExchangeConfig
	Stream   StreamConfig
	Ledger   LedgerConfig
	Audit    AuditConfig
	Metrics  MetricsConfig
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig controls issuance defaults and the size of tokens the engine will parse.
type TokenConfig struct {
	Location      string
	DefaultPeriod time.Duration
	DefaultTTL    time.Duration
	MaxTokenSize  int
	MaxCaveats    int
}

/*
====================================
EXCHANGE CONFIG
====================================
*/

// ExchangeConfig controls per-IP throttling of the exchange endpoint. Throttling needs a
// Redis client; without one the throttle is skipped.
type ExchangeConfig struct {
	EnableIPThrottle   bool
	MaxExchangesPerIP  int
	ExchangeWindow     time.Duration
	MaxFailedExchanges int
	FailureCooldown    time.Duration
}

/*
====================================
STREAM CONFIG
====================================
*/

// StreamConfig controls the credentials handed out on exchange.
type StreamConfig struct {
	BaseAddress string
}

/*
====================================
LEDGER CONFIG
====================================
*/

// LedgerConfig controls the Redis ledger. When Enabled, exchanges are claimed in Redis so
// a token is exchanged at most once across every engine sharing the prefix.
type LedgerConfig struct {
	Enabled       bool
	RedisPrefix   string
	ClaimTTL      time.Duration
	StreamMaxLen  int64
	AuditToStream bool
}

/*
====================================
OBSERVABILITY CONFIG
====================================
*/

// AuditConfig controls asynchronous audit dispatch.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls in-process counters and histograms.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

func defaultConfig() Config {
	return Config{
		Token: TokenConfig{
			Location:      "",
			DefaultPeriod: 24 * time.Hour,
			DefaultTTL:    0,
			MaxTokenSize:  4096,
			MaxCaveats:    32,
		},
		Exchange: ExchangeConfig{
			EnableIPThrottle:   true,
			MaxExchangesPerIP:  60,
			ExchangeWindow:     time.Minute,
			MaxFailedExchanges: 10,
			FailureCooldown:    15 * time.Minute,
		},
		Stream: StreamConfig{
			BaseAddress: "private.pulltoken",
		},
		Ledger: LedgerConfig{
			Enabled:       true,
			RedisPrefix:   "pt",
			ClaimTTL:      30 * 24 * time.Hour,
			StreamMaxLen:  10000,
			AuditToStream: false,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

// DefaultConfig returns the configuration [New] starts from.
func DefaultConfig() Config {
	return defaultConfig()
}

// cloneConfig returns an independent copy. Config holds only values today; keep this in
// step if reference fields are added.
func cloneConfig(cfg Config) Config {
	out := cfg
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first setting that cannot work.
func (c *Config) Validate() error {
	// Token
	if !utf8.ValidString(c.Token.Location) {
		return errors.New("Token Location must be valid UTF-8")
	}
	if c.Token.DefaultPeriod < time.Millisecond {
		return errors.New("Token DefaultPeriod must be >= 1ms")
	}
	if c.Token.DefaultTTL < 0 {
		return errors.New("Token DefaultTTL must be >= 0")
	}
	if c.Token.MaxTokenSize < 64 {
		return errors.New("Token MaxTokenSize must be >= 64")
	}
	if c.Token.MaxCaveats <= 0 {
		return errors.New("Token MaxCaveats must be > 0")
	}

	// Exchange
	if c.Exchange.EnableIPThrottle {
		if c.Exchange.MaxExchangesPerIP <= 0 {
			return errors.New("Exchange MaxExchangesPerIP must be > 0")
		}
		if c.Exchange.ExchangeWindow <= 0 {
			return errors.New("Exchange ExchangeWindow must be > 0")
		}
		if c.Exchange.MaxFailedExchanges <= 0 {
			return errors.New("Exchange MaxFailedExchanges must be > 0")
		}
		if c.Exchange.FailureCooldown <= 0 {
			return errors.New("Exchange FailureCooldown must be > 0")
		}
	}

	// Stream
	base := c.Stream.BaseAddress
	if base == "" || strings.HasSuffix(base, ".") || strings.ContainsAny(base, "~ ") {
		return errors.New("Stream BaseAddress must be a non-empty address without a trailing dot")
	}

	// Ledger
	if c.Ledger.Enabled {
		if c.Ledger.RedisPrefix == "" || strings.Contains(c.Ledger.RedisPrefix, ":") {
			return errors.New("Ledger RedisPrefix must be non-empty and contain no ':'")
		}
		if c.Ledger.ClaimTTL <= 0 {
			return errors.New("Ledger ClaimTTL must be > 0")
		}
		if c.Ledger.StreamMaxLen < 0 {
			return errors.New("Ledger StreamMaxLen must be >= 0")
		}
	}
	if c.Ledger.AuditToStream && (!c.Ledger.Enabled || !c.Audit.Enabled) {
		return errors.New("Ledger AuditToStream requires Ledger and Audit to be enabled")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	return nil
}
