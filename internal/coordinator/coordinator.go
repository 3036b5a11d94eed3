package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/google/uuid"

	"github.com/MrEthical07/goPullToken/internal/budget"
	"github.com/MrEthical07/goPullToken/internal/clock"
)

// Stream is the transport handle a ceiling is issued to.
type Stream interface {
	// TotalSent returns the cumulative amount sent on the stream so far.
	TotalSent() *big.Int
	// SetSendCeiling replaces the cumulative send limit. It must not block.
	SetSendCeiling(ceiling *big.Int)
}

// SpendEvent reports money that just left on a connection.
type SpendEvent struct {
	ConnectionID string
	Amount       *big.Int
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithObserver sets the lane event observer.
func WithObserver(o Observer) Option {
	return func(c *Coordinator) {
		if o != nil {
			c.observer = o
		}
	}
}

// Coordinator drives a [budget.Tracker] from spend events and boundary timers.
type Coordinator struct {
	tracker  *budget.Tracker
	clock    clock.Clock
	logger   *slog.Logger
	observer Observer

	mu     sync.Mutex
	lanes  map[string]*lane
	conns  map[string]string
	closed bool
}

type lane struct {
	mu sync.Mutex

	tokenID   string
	connID    string
	stream    Stream
	timer     clock.Timer
	period    uint64
	exhausted bool
	released  bool
}

// New returns a coordinator over tracker. The clock must be the one the tracker uses.
func New(tracker *budget.Tracker, c clock.Clock, opts ...Option) *Coordinator {
	if c == nil {
		c = clock.Real()
	}
	co := &Coordinator{
		tracker:  tracker,
		clock:    c,
		logger:   slog.New(slog.DiscardHandler),
		observer: NopObserver{},
		lanes:    make(map[string]*lane),
		conns:    make(map[string]string),
	}
	for _, opt := range opts {
		opt(co)
	}
	return co
}

// Register creates the budget record for tokenID and starts its boundary timer.
func (c *Coordinator) Register(tokenID string, g budget.Grant) (budget.Record, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return budget.Record{}, ErrClosed
	}
	// The lane is published under the registry lock so a concurrent Remove cannot miss
	// it; the tracker rejects duplicates before anything is replaced.
	rec, err := c.tracker.Register(tokenID, g)
	if err != nil {
		c.mu.Unlock()
		return budget.Record{}, err
	}
	l := &lane{tokenID: tokenID, period: rec.PeriodIndex}
	l.mu.Lock()
	c.lanes[tokenID] = l
	c.mu.Unlock()

	defer l.mu.Unlock()
	c.schedule(l, rec)
	c.logger.Debug("budget registered",
		"token_id", tokenID,
		"send_max", rec.PeriodSendMax.String(),
		"period", rec.PeriodDuration,
		"periods_left", rec.PeriodsLeft,
		"pending", rec.Pending,
	)
	return rec, nil
}

// Attach binds stream to the token's lane and issues its first ceiling. An empty connID
// is replaced with a generated one, which is returned. A token holds at most one stream;
// a second attach fails with [ErrStreamAttached] until the first is detached.
func (c *Coordinator) Attach(tokenID, connID string, stream Stream) (string, error) {
	if stream == nil {
		return "", ErrNilStream
	}
	if connID == "" {
		connID = uuid.NewString()
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", ErrClosed
	}
	l, ok := c.lanes[tokenID]
	if !ok {
		c.mu.Unlock()
		return "", fmt.Errorf("%w: %s", budget.ErrUnknownToken, tokenID)
	}
	if _, taken := c.conns[connID]; taken {
		c.mu.Unlock()
		return "", fmt.Errorf("%w: connection %s already in use", ErrStreamAttached, connID)
	}
	l.mu.Lock()
	if l.stream != nil {
		l.mu.Unlock()
		c.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrStreamAttached, tokenID)
	}
	l.stream = stream
	l.connID = connID
	c.conns[connID] = tokenID
	c.mu.Unlock()
	defer l.mu.Unlock()

	rec, err := c.tracker.AdvanceToNow(tokenID)
	if err != nil {
		return connID, err
	}
	c.observeRoll(l, rec)
	c.issue(l, rec)
	return connID, nil
}

// HandleSpend records a spend reported by the transport and reissues the ceiling. An
// over-budget spend is still recorded; the record is returned with [budget.ErrOverBudget].
func (c *Coordinator) HandleSpend(ev SpendEvent) (budget.Record, error) {
	l, err := c.laneForConn(ev.ConnectionID)
	if err != nil {
		return budget.Record{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released || l.connID != ev.ConnectionID {
		return budget.Record{}, fmt.Errorf("%w: %s", ErrUnknownConnection, ev.ConnectionID)
	}

	rec, err := c.tracker.RecordSpend(l.tokenID, ev.Amount)
	switch {
	case errors.Is(err, budget.ErrOverBudget):
		c.logger.Warn("spend over budget",
			"token_id", l.tokenID,
			"conn_id", ev.ConnectionID,
			"amount", ev.Amount.String(),
			"sent_in_period", rec.TotalSentInPeriod.String(),
			"send_max", rec.PeriodSendMax.String(),
		)
		c.observer.OverBudget(l.tokenID, ev.ConnectionID, ev.Amount, rec)
	case err != nil:
		return rec, err
	default:
		c.observer.SpendRecorded(l.tokenID, ev.ConnectionID, ev.Amount, rec)
	}

	c.observeRoll(l, rec)
	c.issue(l, rec)
	return rec, err
}

// Run consumes events until ctx is done or events is closed. Per-event failures are
// logged and do not stop the loop.
func (c *Coordinator) Run(ctx context.Context, events <-chan SpendEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if _, err := c.HandleSpend(ev); err != nil && !errors.Is(err, budget.ErrOverBudget) {
				c.logger.Error("spend event rejected", "conn_id", ev.ConnectionID, "error", err)
			}
		}
	}
}

// Detach unbinds the stream for connID. The budget record and its timer stay in place so
// another stream may attach later.
func (c *Coordinator) Detach(connID string) bool {
	c.mu.Lock()
	tokenID, ok := c.conns[connID]
	if !ok {
		c.mu.Unlock()
		return false
	}
	delete(c.conns, connID)
	l := c.lanes[tokenID]
	c.mu.Unlock()

	if l != nil {
		l.mu.Lock()
		if l.connID == connID {
			l.stream = nil
			l.connID = ""
		}
		l.mu.Unlock()
	}
	return true
}

// Remove cancels the token's timer, detaches its stream and releases its record.
func (c *Coordinator) Remove(tokenID string) bool {
	c.mu.Lock()
	l, ok := c.lanes[tokenID]
	if ok {
		delete(c.lanes, tokenID)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}

	l.mu.Lock()
	connID := c.releaseLocked(l)
	l.mu.Unlock()

	if connID != "" {
		c.mu.Lock()
		delete(c.conns, connID)
		c.mu.Unlock()
	}
	c.tracker.Remove(tokenID)
	return true
}

// Close cancels every timer and releases every record. Later calls fail with [ErrClosed].
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	lanes := make([]*lane, 0, len(c.lanes))
	for _, l := range c.lanes {
		lanes = append(lanes, l)
	}
	c.lanes = make(map[string]*lane)
	c.conns = make(map[string]string)
	c.mu.Unlock()

	for _, l := range lanes {
		l.mu.Lock()
		c.releaseLocked(l)
		l.mu.Unlock()
		c.tracker.Remove(l.tokenID)
	}
}

// Ceiling returns the cumulative ceiling that would be issued for tokenID now.
func (c *Coordinator) Ceiling(tokenID string) (*big.Int, error) {
	c.mu.Lock()
	l, ok := c.lanes[tokenID]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", budget.ErrUnknownToken, tokenID)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	rec, err := c.tracker.AdvanceToNow(tokenID)
	if err != nil {
		return nil, err
	}
	return ceiling(rec, l.stream), nil
}

// Snapshot advances the token's record to now and returns a copy.
func (c *Coordinator) Snapshot(tokenID string) (budget.Record, error) {
	c.mu.Lock()
	l, ok := c.lanes[tokenID]
	c.mu.Unlock()
	if !ok {
		return budget.Record{}, fmt.Errorf("%w: %s", budget.ErrUnknownToken, tokenID)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	rec, err := c.tracker.AdvanceToNow(tokenID)
	if err != nil {
		return budget.Record{}, err
	}
	c.observeRoll(l, rec)
	return rec, nil
}

// Lanes returns the number of registered tokens.
func (c *Coordinator) Lanes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.lanes)
}

func (c *Coordinator) laneForConn(connID string) (*lane, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tokenID, ok := c.conns[connID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownConnection, connID)
	}
	l, ok := c.lanes[tokenID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownConnection, connID)
	}
	return l, nil
}

// releaseLocked stops the lane and returns the connection it was bound to.
func (c *Coordinator) releaseLocked(l *lane) string {
	l.released = true
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	connID := l.connID
	l.stream = nil
	l.connID = ""
	return connID
}

func (c *Coordinator) issue(l *lane, rec budget.Record) {
	if l.stream == nil {
		return
	}
	limit := ceiling(rec, l.stream)
	l.stream.SetSendCeiling(limit)
	c.logger.Debug("send ceiling issued",
		"token_id", l.tokenID,
		"conn_id", l.connID,
		"ceiling", limit.String(),
		"period_start", rec.PeriodStart,
		"sent_in_period", rec.TotalSentInPeriod.String(),
	)
	c.observer.CeilingIssued(l.tokenID, l.connID, limit)
}

func (c *Coordinator) observeRoll(l *lane, rec budget.Record) {
	if rec.PeriodIndex != l.period {
		l.period = rec.PeriodIndex
		c.observer.PeriodRolled(l.tokenID, rec)
	}
}

func ceiling(rec budget.Record, s Stream) *big.Int {
	limit := rec.Remaining()
	if s != nil {
		if sent := s.TotalSent(); sent != nil {
			limit.Add(limit, sent)
		}
	}
	return limit
}
