package goPullToken

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	internalaudit "github.com/MrEthical07/goPullToken/internal/audit"
	"github.com/MrEthical07/goPullToken/internal/budget"
	"github.com/MrEthical07/goPullToken/internal/clock"
	"github.com/MrEthical07/goPullToken/internal/coordinator"
	"github.com/MrEthical07/goPullToken/internal/keys"
	"github.com/MrEthical07/goPullToken/internal/rate"
	"github.com/MrEthical07/goPullToken/internal/streamcred"
	"github.com/MrEthical07/goPullToken/ledger"
	"github.com/MrEthical07/goPullToken/token"
)

// Builder assembles an [Engine]. A Builder is single use; configure it during
// initialization and call Build once.
type Builder struct {
	config Config
	master []byte
	redis  redis.UniversalClient
	logger *slog.Logger
	clock  clock.Clock

	auditSink AuditSink

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithMasterSecret sets the secret every token root key and the stream secret are
// derived from. It must be at least 16 bytes.
func (b *Builder) WithMasterSecret(secret []byte) *Builder {
	b.master = append([]byte(nil), secret...)
	return b
}

// WithRedis enables the exchange ledger and IP throttling. Both *redis.Client and
// *redis.ClusterClient are accepted.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithLogger sets the structured logger. The default discards everything.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithAuditSink sets where audit events go. It only has an effect when Audit.Enabled is
// set.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithClock replaces the wall clock, mostly for tests.
func (b *Builder) WithClock(c clock.Clock) *Builder {
	b.clock = c
	return b
}

// WithMetricsEnabled toggles in-process metrics.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the exchange latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the engine. Without a Redis client the
// ledger and the exchange throttle are disabled and exchanges are deduplicated in memory
// only.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if len(b.master) == 0 {
		return nil, errors.New("master secret required")
	}
	keyring, err := keys.NewKeyring(b.master)
	if err != nil {
		return nil, err
	}

	creds, err := streamcred.NewGenerator(cfg.Stream.BaseAddress, keyring.StreamSecret())
	if err != nil {
		return nil, fmt.Errorf("stream credentials: %w", err)
	}

	logger := b.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	clk := b.clock
	if clk == nil {
		clk = clock.Real()
	}

	engine := &Engine{
		config:  cloneConfig(cfg),
		clock:   clk,
		logger:  logger,
		keyring: keyring,
		creds:   creds,
		metrics: NewMetrics(cfg.Metrics),
		tokens:  make(map[string]*token.Token),
	}

	// -------- REDIS BACKED --------
	if b.redis != nil {
		engine.limiter = rate.New(b.redis, rate.Config{
			EnableIPThrottle:   cfg.Exchange.EnableIPThrottle,
			MaxExchangesPerIP:  cfg.Exchange.MaxExchangesPerIP,
			ExchangeWindow:     cfg.Exchange.ExchangeWindow,
			MaxFailedExchanges: cfg.Exchange.MaxFailedExchanges,
			FailureCooldown:    cfg.Exchange.FailureCooldown,
		})
		if cfg.Ledger.Enabled {
			engine.ledger = ledger.New(b.redis, ledger.Config{
				Prefix:       cfg.Ledger.RedisPrefix,
				ClaimTTL:     cfg.Ledger.ClaimTTL,
				StreamMaxLen: cfg.Ledger.StreamMaxLen,
			})
		}
	} else if cfg.Ledger.AuditToStream {
		return nil, errors.New("Ledger AuditToStream requires redis client")
	}

	// -------- AUDIT --------
	sink := b.auditSink
	if cfg.Ledger.AuditToStream && engine.ledger != nil {
		sink = internalaudit.MultiSink{b.auditSink, engine.ledger}
	}
	engine.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, sink)

	// -------- BUDGETS --------
	engine.tracker = budget.NewTracker(clk)
	engine.coordinator = coordinator.New(engine.tracker, clk,
		coordinator.WithLogger(logger.With("component", "coordinator")),
		coordinator.WithObserver(engineObserver{engine: engine}),
	)

	b.built = true
	logger.Info("pull token engine ready",
		"ledger", engine.ledger != nil,
		"throttle", engine.limiter != nil && cfg.Exchange.EnableIPThrottle,
		"audit", engine.audit != nil,
		"metrics", cfg.Metrics.Enabled,
	)

	return engine, nil
}
