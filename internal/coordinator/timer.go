package coordinator

import (
	"fmt"

	"github.com/MrEthical07/goPullToken/internal/budget"
)

// schedule arms the lane timer for the record's next boundary, or marks the lane
// exhausted when there is none. The lane lock must be held.
func (c *Coordinator) schedule(l *lane, rec budget.Record) {
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}

	at, ok := rec.NextBoundary()
	if !ok {
		if !l.exhausted {
			l.exhausted = true
			c.logger.Info("budget exhausted", "token_id", l.tokenID)
			c.observer.Exhausted(l.tokenID)
		}
		return
	}

	delay := at.Sub(c.clock.Now())
	l.timer = c.clock.AfterFunc(delay, func() { c.fire(l) })
}

// fire refreshes the ceiling at a window boundary and rearms the timer, even when the
// stream panics. Failures are logged and reported, never propagated.
func (c *Coordinator) fire(l *lane) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return
	}
	l.timer = nil

	defer func() {
		if r := recover(); r != nil {
			c.timerFailed(l, fmt.Errorf("panic in boundary timer: %v", r))
		}
	}()

	rec, err := c.tracker.AdvanceToNow(l.tokenID)
	if err != nil {
		c.timerFailed(l, err)
		return
	}
	defer c.schedule(l, rec)
	c.observeRoll(l, rec)
	c.issue(l, rec)
}

func (c *Coordinator) timerFailed(l *lane, err error) {
	c.logger.Error("boundary timer failed", "token_id", l.tokenID, "error", err)
	c.observer.TimerFailed(l.tokenID, err)
}
