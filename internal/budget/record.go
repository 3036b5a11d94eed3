package budget

import (
	"fmt"
	"math/big"
	"time"

	"github.com/MrEthical07/goPullToken/token"
)

// Grant is the schedule a record is created from.
type Grant struct {
	Amount      *big.Int
	Start       time.Time
	Period      time.Duration
	Repetitions uint64
}

// GrantFromCaveat converts the governing amount caveat of a token into a grant.
func GrantFromCaveat(c *token.AmountCaveat) Grant {
	g := Grant{
		Start:       c.StartTime,
		Period:      c.Duration,
		Repetitions: c.Repetitions,
	}
	if c.Amount != nil {
		g.Amount = new(big.Int).Set(c.Amount)
	}
	return g
}

// Validate reports whether the grant can back a record.
func (g Grant) Validate() error {
	switch {
	case g.Amount == nil:
		return fmt.Errorf("%w: amount is required", ErrInvalidGrant)
	case g.Amount.Sign() < 0:
		return fmt.Errorf("%w: amount must not be negative", ErrInvalidGrant)
	case g.Period <= 0:
		return fmt.Errorf("%w: period must be positive", ErrInvalidGrant)
	case g.Repetitions < 1:
		return fmt.Errorf("%w: repetitions must be >= 1", ErrInvalidGrant)
	}
	return nil
}

// Record is a copy of one token's budget state.
//
// PeriodsLeft counts the windows remaining after the current one. Expired is terminal:
// once set, the record never rolls forward again and its remaining budget is zero.
// Pending is set while the current time is before the first window.
type Record struct {
	PeriodStart       time.Time
	PeriodDuration    time.Duration
	PeriodSendMax     *big.Int
	TotalSentInPeriod *big.Int
	PeriodsLeft       uint64
	PeriodIndex       uint64
	Expired           bool
	Pending           bool
}

// Remaining returns the unspent budget of the current window, never negative.
func (r Record) Remaining() *big.Int {
	if r.Expired || r.Pending {
		return new(big.Int)
	}
	left := new(big.Int).Sub(r.PeriodSendMax, r.TotalSentInPeriod)
	if left.Sign() < 0 {
		left.SetInt64(0)
	}
	return left
}

// NextBoundary returns the instant the record next changes on its own: the first window
// start while pending, otherwise the end of the current window. It reports false once the
// record has expired.
func (r Record) NextBoundary() (time.Time, bool) {
	if r.Expired {
		return time.Time{}, false
	}
	if r.Pending {
		return r.PeriodStart, true
	}
	return r.PeriodStart.Add(r.PeriodDuration), true
}

func (r Record) clone() Record {
	out := r
	out.PeriodSendMax = new(big.Int).Set(r.PeriodSendMax)
	out.TotalSentInPeriod = new(big.Int).Set(r.TotalSentInPeriod)
	return out
}

func newRecord(g Grant) Record {
	return Record{
		PeriodStart:       g.Start,
		PeriodDuration:    g.Period,
		PeriodSendMax:     new(big.Int).Set(g.Amount),
		TotalSentInPeriod: new(big.Int),
		PeriodsLeft:       g.Repetitions - 1,
	}
}

// advance rolls r to the window containing now and reports how many windows were
// crossed. The spend counter is reset only when the window start moves.
func (r *Record) advance(now time.Time) uint64 {
	if r.Expired {
		return 0
	}
	if now.Before(r.PeriodStart) {
		r.Pending = r.PeriodIndex == 0
		return 0
	}
	r.Pending = false

	elapsed := uint64(now.Sub(r.PeriodStart) / r.PeriodDuration)
	if elapsed == 0 {
		return 0
	}

	r.PeriodStart = r.PeriodStart.Add(time.Duration(elapsed) * r.PeriodDuration)
	r.PeriodIndex += elapsed
	r.TotalSentInPeriod = new(big.Int)
	if elapsed > r.PeriodsLeft {
		r.PeriodsLeft = 0
		r.Expired = true
	} else {
		r.PeriodsLeft -= elapsed
	}
	return elapsed
}
