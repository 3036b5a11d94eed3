package goPullToken

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/MrEthical07/goPullToken/internal/budget"
	"github.com/MrEthical07/goPullToken/internal/coordinator"
	"github.com/MrEthical07/goPullToken/internal/rate"
	"github.com/MrEthical07/goPullToken/ledger"
	"github.com/MrEthical07/goPullToken/token"
)

// Exchange trades a verified token for stream credentials and starts enforcing its
// budget. A token is exchanged at most once: with a ledger across every engine sharing
// the Redis prefix, otherwise within this engine.
//
// Failures return [ErrExchangeRateLimited], [ErrLedgerUnavailable],
// [ErrAmountCaveatRequired], [ErrDuplicateRegistration] or a token verification error.
func (e *Engine) Exchange(ctx context.Context, req ExchangeRequest) (ExchangeResult, error) {
	return e.exchange(ctx, req.ClientIP, req.Token, nil)
}

// ExchangeString is [Engine.Exchange] for the bearer text form.
func (e *Engine) ExchangeString(ctx context.Context, bearer, clientIP string) (ExchangeResult, error) {
	raw, err := token.DecodeText(bearer)
	return e.exchange(ctx, clientIP, raw, err)
}

// exchange runs the exchange pipeline. decodeErr is a failure to decode the bearer text;
// it is reported after the throttle check like any other invalid token.
func (e *Engine) exchange(ctx context.Context, ip string, raw []byte, decodeErr error) (ExchangeResult, error) {
	if err := e.ready(); err != nil {
		return ExchangeResult{}, err
	}

	if ip == "" {
		ip = clientIPFromContext(ctx)
	} else {
		ctx = WithClientIP(ctx, ip)
	}

	started := time.Now()
	defer func() {
		e.metrics.Observe(MetricExchangeLatency, time.Since(started))
	}()

	if e.limiter != nil {
		if err := e.limiter.CheckExchange(ctx, ip); err != nil {
			if errors.Is(err, rate.ErrRateLimited) {
				e.metricInc(MetricExchangeRateLimited)
				e.emitAudit(ctx, auditEventExchangeRateLimited, false, "", "", ErrExchangeRateLimited, nil)
				return ExchangeResult{}, ErrExchangeRateLimited
			}
			return ExchangeResult{}, e.exchangeUnavailable(ctx, "", err)
		}
	}

	if decodeErr != nil {
		return ExchangeResult{}, e.exchangeRejected(ctx, ip, "", decodeErr)
	}
	tok, err := e.verify(raw)
	if err != nil {
		return ExchangeResult{}, e.exchangeRejected(ctx, ip, "", err)
	}
	id := tok.ID()

	amount, ok := tok.Effective().Amount()
	if !ok {
		return ExchangeResult{}, e.exchangeRejected(ctx, ip, id, ErrAmountCaveatRequired)
	}
	grant := budget.GrantFromCaveat(amount)

	creds, err := e.creds.Generate(id)
	if err != nil {
		return ExchangeResult{}, err
	}

	if e.ledger != nil {
		if err := e.ledger.Claim(ctx, id, e.claimTTL(tok, grant)); err != nil {
			if errors.Is(err, ledger.ErrAlreadyClaimed) {
				return ExchangeResult{}, e.exchangeDuplicate(ctx, id)
			}
			return ExchangeResult{}, e.exchangeUnavailable(ctx, id, err)
		}
	}

	rec, err := e.coordinator.Register(id, grant)
	if err != nil {
		if errors.Is(err, budget.ErrDuplicateRegistration) {
			return ExchangeResult{}, e.exchangeDuplicate(ctx, id)
		}
		e.unclaim(ctx, id)
		if errors.Is(err, coordinator.ErrClosed) {
			return ExchangeResult{}, ErrEngineNotReady
		}
		e.metricInc(MetricExchangeFailure)
		e.emitAudit(ctx, auditEventExchangeFailure, false, id, "", err, nil)
		return ExchangeResult{}, err
	}

	if err := e.storeExchanged(ctx, id, tok); err != nil {
		return ExchangeResult{}, err
	}

	if e.limiter != nil {
		if err := e.limiter.ResetFailures(ctx, ip); err != nil {
			e.logger.Warn("failed to reset exchange failures", "ip", ip, "error", err)
		}
	}

	e.metricInc(MetricExchangeSuccess)
	e.emitAudit(ctx, auditEventExchangeSuccess, true, id, "", nil, func() map[string]string {
		return map[string]string{
			"send_max":     rec.PeriodSendMax.String(),
			"periods_left": fmt.Sprint(rec.PeriodsLeft),
			"pending":      fmt.Sprint(rec.Pending),
		}
	})
	e.logger.Info("token exchanged", "token_id", id, "ip", ip)

	return ExchangeResult{
		TokenID:            id,
		DestinationAccount: creds.DestinationAccount,
		SharedSecret:       creds.SharedSecret,
		Budget:             rec,
	}, nil
}

// exchangeRejected records a credential failure against ip.
func (e *Engine) exchangeRejected(ctx context.Context, ip, tokenID string, err error) error {
	e.metricInc(MetricExchangeFailure)
	if e.limiter != nil {
		if incErr := e.limiter.IncrementFailure(ctx, ip); incErr != nil {
			e.logger.Warn("failed to count exchange failure", "ip", ip, "error", incErr)
		}
	}
	e.emitAudit(ctx, auditEventExchangeFailure, false, tokenID, "", err, nil)
	e.logger.Debug("exchange rejected", "token_id", tokenID, "ip", ip, "error", err)
	return err
}

func (e *Engine) exchangeDuplicate(ctx context.Context, tokenID string) error {
	e.metricInc(MetricExchangeDuplicate)
	e.emitAudit(ctx, auditEventExchangeDuplicate, false, tokenID, "", ErrDuplicateRegistration, nil)
	e.logger.Warn("token already exchanged", "token_id", tokenID)
	return fmt.Errorf("%w: %s", ErrDuplicateRegistration, tokenID)
}

func (e *Engine) exchangeUnavailable(ctx context.Context, tokenID string, err error) error {
	e.metricInc(MetricExchangeUnavailable)
	e.emitAudit(ctx, auditEventExchangeFailure, false, tokenID, "", ErrLedgerUnavailable, nil)
	e.logger.Error("exchange backend unavailable", "token_id", tokenID, "error", err)
	return fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
}

// storeExchanged makes a registered token attachable. If the engine closed after
// registration, the budget lane and the ledger claim are released so the token can be
// exchanged again elsewhere.
func (e *Engine) storeExchanged(ctx context.Context, id string, tok *token.Token) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		e.coordinator.Remove(id)
		e.unclaim(ctx, id)
		return ErrEngineNotReady
	}
	e.tokens[id] = tok
	e.mu.Unlock()
	return nil
}

func (e *Engine) unclaim(ctx context.Context, tokenID string) {
	if e.ledger == nil {
		return
	}
	if _, err := e.ledger.Unclaim(ctx, tokenID); err != nil {
		e.logger.Error("failed to release ledger claim", "token_id", tokenID, "error", err)
	}
}

// claimTTL keeps the claim alive at least until the token expires and its last budget
// window closes, and never shorter than Ledger.ClaimTTL.
func (e *Engine) claimTTL(tok *token.Token, g budget.Grant) time.Duration {
	now := e.clock.Now()
	ttl := e.config.Ledger.ClaimTTL

	if exp, ok := tok.Effective().Expiry(); ok {
		if d := exp.Sub(now); d > ttl {
			ttl = d
		}
	}
	if g.Repetitions <= uint64(math.MaxInt64/int64(g.Period)) {
		end := g.Start.Add(g.Period * time.Duration(g.Repetitions))
		if d := end.Sub(now); d > ttl {
			ttl = d
		}
	}
	return ttl
}
