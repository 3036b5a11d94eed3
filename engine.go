package goPullToken

import (
	"log/slog"
	"sync"

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

// Engine issues pull tokens, exchanges them for stream credentials and keeps every
// exchanged token's stream inside its budget. Build one with [New]; all methods are safe
// for concurrent use.
type Engine struct {
	config  Config
	clock   clock.Clock
	logger  *slog.Logger
	keyring *keys.Keyring
	creds   *streamcred.Generator

	tracker     *budget.Tracker
	coordinator *coordinator.Coordinator
	limiter     *rate.Limiter
	ledger      *ledger.Store
	audit       *internalaudit.Dispatcher
	metrics     *Metrics

	mu     sync.RWMutex
	tokens map[string]*token.Token
	closed bool
}

// Close stops every boundary timer and drains the audit queue. Exchanged tokens are
// forgotten; ledger claims stay in Redis until they expire.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.tokens = make(map[string]*token.Token)
	e.mu.Unlock()

	if e.coordinator != nil {
		e.coordinator.Close()
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped returns how many audit events were dropped because the queue was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a point-in-time copy of the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Exchanged returns the number of tokens currently holding a budget.
func (e *Engine) Exchanged() int {
	if e == nil {
		return 0
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.tokens)
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) ready() error {
	if e == nil || e.keyring == nil || e.coordinator == nil {
		return ErrEngineNotReady
	}
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return ErrEngineNotReady
	}
	return nil
}

func (e *Engine) lookup(tokenID string) (*token.Token, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	tok, ok := e.tokens[tokenID]
	return tok, ok
}
