package budget

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/MrEthical07/goPullToken/internal/clock"
)

// Tracker is a registry of budget records keyed by token identifier. Each record has its
// own lock; the registry lock is held only for lookup, insert and delete.
type Tracker struct {
	clock clock.Clock

	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	mu      sync.Mutex
	record  Record
	removed bool
}

// NewTracker returns an empty tracker reading time from c. A nil clock uses the wall
// clock.
func NewTracker(c clock.Clock) *Tracker {
	if c == nil {
		c = clock.Real()
	}
	return &Tracker{
		clock:   c,
		entries: make(map[string]*entry),
	}
}

// Register creates the record for id. The check and the insert happen under one lock, so
// of two concurrent registrations for the same id exactly one succeeds and the other gets
// [ErrDuplicateRegistration].
func (t *Tracker) Register(id string, g Grant) (Record, error) {
	if err := g.Validate(); err != nil {
		return Record{}, err
	}

	rec := newRecord(g)
	rec.advance(t.clock.Now())

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[id]; ok {
		return Record{}, fmt.Errorf("%w: %s", ErrDuplicateRegistration, id)
	}
	t.entries[id] = &entry{record: rec}
	return rec.clone(), nil
}

// AdvanceToNow rolls the record to the current window. It is a no-op when no boundary
// has been crossed.
func (t *Tracker) AdvanceToNow(id string) (Record, error) {
	var out Record
	err := t.with(id, func(r *Record) error {
		r.advance(t.clock.Now())
		out = r.clone()
		return nil
	})
	return out, err
}

// RecordSpend rolls the record forward and adds amount to the current window. A spend
// that takes the window past its maximum is still recorded; the updated record is
// returned together with [ErrOverBudget]. Spends against an expired record are dropped
// and reported as over budget when non-zero.
func (t *Tracker) RecordSpend(id string, amount *big.Int) (Record, error) {
	if amount == nil || amount.Sign() < 0 {
		return Record{}, fmt.Errorf("%w: %v", ErrInvalidAmount, amount)
	}

	var out Record
	err := t.with(id, func(r *Record) error {
		r.advance(t.clock.Now())
		if r.Expired || r.Pending {
			out = r.clone()
			if amount.Sign() > 0 {
				return fmt.Errorf("%w: record is not in an active window", ErrOverBudget)
			}
			return nil
		}

		r.TotalSentInPeriod = new(big.Int).Add(r.TotalSentInPeriod, amount)
		out = r.clone()
		if r.TotalSentInPeriod.Cmp(r.PeriodSendMax) > 0 {
			return fmt.Errorf("%w: sent %s of %s", ErrOverBudget, r.TotalSentInPeriod, r.PeriodSendMax)
		}
		return nil
	})
	return out, err
}

// Remaining returns the unspent budget of the current window.
func (t *Tracker) Remaining(id string) (*big.Int, error) {
	rec, err := t.AdvanceToNow(id)
	if err != nil {
		return nil, err
	}
	return rec.Remaining(), nil
}

// Snapshot returns the record as last computed, without rolling it forward.
func (t *Tracker) Snapshot(id string) (Record, error) {
	var out Record
	err := t.with(id, func(r *Record) error {
		out = r.clone()
		return nil
	})
	return out, err
}

// NextBoundary rolls the record forward and returns when it next changes on its own.
// The boolean is false once the record has expired.
func (t *Tracker) NextBoundary(id string) (time.Time, bool, error) {
	rec, err := t.AdvanceToNow(id)
	if err != nil {
		return time.Time{}, false, err
	}
	at, ok := rec.NextBoundary()
	return at, ok, nil
}

// Remove releases the record for id and reports whether one existed. Calls already
// holding the record finish against it; later calls get [ErrUnknownToken].
func (t *Tracker) Remove(id string) bool {
	t.mu.Lock()
	e, ok := t.entries[id]
	delete(t.entries, id)
	t.mu.Unlock()

	if ok {
		e.mu.Lock()
		e.removed = true
		e.mu.Unlock()
	}
	return ok
}

// Len returns the number of registered records.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func (t *Tracker) with(id string, fn func(*Record) error) error {
	t.mu.Lock()
	e, ok := t.entries[id]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownToken, id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return fmt.Errorf("%w: %s", ErrUnknownToken, id)
	}
	return fn(&e.record)
}
