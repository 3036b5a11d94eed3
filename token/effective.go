package token

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Effective holds the most restrictive value of each caveat kind seen across a token's
// caveat history. It is computed once per append and never mutated afterwards.
type Effective struct {
	amount     *AmountCaveat
	prefixes   []string
	hasAddress bool
	expiry     time.Time
	hasExpiry  bool
}

// Amount returns a copy of the governing amount caveat.
func (e Effective) Amount() (*AmountCaveat, bool) {
	if e.amount == nil {
		return nil, false
	}
	return e.amount.normalized().(*AmountCaveat), true
}

// AddressPrefixes returns the effective destination prefixes.
func (e Effective) AddressPrefixes() ([]string, bool) {
	if !e.hasAddress {
		return nil, false
	}
	return append([]string(nil), e.prefixes...), true
}

// Expiry returns the earliest expiry seen.
func (e Effective) Expiry() (time.Time, bool) {
	return e.expiry, e.hasExpiry
}

// AllowsAddress reports whether address is permitted. Without an address caveat every
// address is permitted.
func (e Effective) AllowsAddress(address string) bool {
	if !e.hasAddress {
		return true
	}
	return prefixMatch(e.prefixes, address)
}

// apply folds c into the effective values. Each new caveat must be at least as
// restrictive as the most restrictive one of its kind seen so far.
func (e Effective) apply(c Caveat) (Effective, error) {
	next := e
	switch v := c.(type) {
	case *AmountCaveat:
		if e.amount != nil {
			if err := narrowsSchedule(e.amount, v); err != nil {
				return e, err
			}
		}
		next.amount = v
	case *AddressCaveat:
		if e.hasAddress && !refinesPrefixes(e.prefixes, v.Prefixes) {
			return e, fmt.Errorf("%w: address prefixes %q do not refine %q",
				ErrCaveatWidening, v.Prefixes, e.prefixes)
		}
		next.prefixes = v.Prefixes
		next.hasAddress = true
	case *ExpiryCaveat:
		if e.hasExpiry && !v.Expiry.Before(e.expiry) {
			return e, fmt.Errorf("%w: expiry %s is not earlier than %s",
				ErrCaveatWidening, v.Expiry.Format(time.RFC3339Nano), e.expiry.Format(time.RFC3339Nano))
		}
		next.expiry = v.Expiry
		next.hasExpiry = true
	default:
		return e, fmt.Errorf("%w: %T", ErrUnknownCaveatType, c)
	}
	return next, nil
}

// narrowsSchedule checks that next grants no more than cur: no larger amount per window,
// no shorter window, no earlier start and no later end of the last window.
func narrowsSchedule(cur, next *AmountCaveat) error {
	switch {
	case next.Amount.Cmp(cur.Amount) > 0:
		return fmt.Errorf("%w: amount %s exceeds %s", ErrCaveatWidening, next.Amount, cur.Amount)
	case next.Duration < cur.Duration:
		return fmt.Errorf("%w: period %s is shorter than %s", ErrCaveatWidening, next.Duration, cur.Duration)
	case next.StartTime.Before(cur.StartTime):
		return fmt.Errorf("%w: start %s is earlier than %s", ErrCaveatWidening,
			next.StartTime.Format(time.RFC3339Nano), cur.StartTime.Format(time.RFC3339Nano))
	}

	curEnd, curBounded := scheduleEnd(cur)
	nextEnd, nextBounded := scheduleEnd(next)
	if curBounded && (!nextBounded || nextEnd.After(curEnd)) {
		return fmt.Errorf("%w: schedule ends after %s", ErrCaveatWidening, curEnd.Format(time.RFC3339Nano))
	}
	return nil
}

// scheduleEnd returns when the last window of c closes. It reports false when the end
// lies beyond what time.Time can represent.
func scheduleEnd(c *AmountCaveat) (time.Time, bool) {
	if c.Duration <= 0 || c.Repetitions > uint64(math.MaxInt64/int64(c.Duration)) {
		return time.Time{}, false
	}
	total := c.Duration * time.Duration(c.Repetitions)
	end := c.StartTime.Add(total)
	if end.Sub(c.StartTime) != total {
		return time.Time{}, false
	}
	return end, true
}

// refinesPrefixes reports whether every prefix in next extends some prefix in current.
func refinesPrefixes(current, next []string) bool {
	for _, n := range next {
		ok := false
		for _, c := range current {
			if strings.HasPrefix(n, c) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

func foldCaveats(caveats []Caveat) (Effective, error) {
	var eff Effective
	for i, c := range caveats {
		next, err := eff.apply(c)
		if err != nil {
			return Effective{}, fmt.Errorf("caveat %d: %w", i, err)
		}
		eff = next
	}
	return eff, nil
}
