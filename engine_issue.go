package goPullToken

import (
	"context"
	"fmt"
	"time"

	"github.com/MrEthical07/goPullToken/token"
)

// Issue mints a token for req. The root key is derived from the master secret and a
// fresh random key id, so issuing needs no storage.
func (e *Engine) Issue(ctx context.Context, req IssueRequest) (*token.Token, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	tok, err := e.issue(req)
	if err != nil {
		e.metricInc(MetricIssueFailure)
		e.emitAudit(ctx, auditEventIssueFailure, false, "", "", err, nil)
		return nil, err
	}

	e.metricInc(MetricIssueSuccess)
	e.emitAudit(ctx, auditEventIssueSuccess, true, tok.ID(), "", nil, func() map[string]string {
		amount, _ := tok.Effective().Amount()
		return map[string]string{
			"amount":      amount.Amount.String(),
			"period":      amount.Duration.String(),
			"repetitions": fmt.Sprint(amount.Repetitions),
		}
	})
	e.logger.Debug("token issued", "token_id", tok.ID(), "caveats", len(tok.Caveats()))
	return tok, nil
}

func (e *Engine) issue(req IssueRequest) (*token.Token, error) {
	now := e.clock.Now()

	if req.Amount == nil {
		return nil, fmt.Errorf("%w: amount is required", ErrInvalidIssueRequest)
	}
	if req.Amount.Sign() < 0 {
		return nil, fmt.Errorf("%w: amount must not be negative", ErrInvalidIssueRequest)
	}

	start := req.Start
	if start.IsZero() {
		start = now
	}
	period := req.Period
	if period == 0 {
		period = e.config.Token.DefaultPeriod
	}
	reps := req.Repetitions
	if reps == 0 {
		reps = 1
	}
	expiry := req.Expiry
	if expiry.IsZero() && e.config.Token.DefaultTTL > 0 {
		expiry = now.Add(e.config.Token.DefaultTTL)
	}
	if !expiry.IsZero() && !expiry.After(now) {
		return nil, fmt.Errorf("%w: expiry %s is not in the future", ErrInvalidIssueRequest, expiry.Format(time.RFC3339))
	}
	location := req.Location
	if location == "" {
		location = e.config.Token.Location
	}

	keyID, err := token.NewKeyID()
	if err != nil {
		return nil, fmt.Errorf("key id: %w", err)
	}
	rootKey, err := e.keyring.RootKey(keyID)
	if err != nil {
		return nil, err
	}
	tok, err := token.FromRootKey(keyID, location, rootKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidIssueRequest, err)
	}

	if req.Address != "" {
		if err := tok.SetAddress(req.Address); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidIssueRequest, err)
		}
	}
	if err := tok.SetAmount(req.Amount, start, period, reps); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidIssueRequest, err)
	}
	if !expiry.IsZero() {
		if err := tok.SetExpiry(expiry); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidIssueRequest, err)
		}
	}
	return tok, nil
}

// Verify parses raw and checks its signature chain and expiry. The returned token can be
// attenuated further by the holder without the engine's involvement.
func (e *Engine) Verify(ctx context.Context, raw []byte) (*token.Token, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	tok, err := e.verify(raw)
	if err != nil {
		e.metricInc(MetricVerifyFailure)
		return nil, err
	}
	e.metricInc(MetricVerifySuccess)
	return tok, nil
}

func (e *Engine) verify(raw []byte) (*token.Token, error) {
	if len(raw) > e.config.Token.MaxTokenSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrMalformedToken, len(raw), e.config.Token.MaxTokenSize)
	}
	tok, err := token.Parse(raw)
	if err != nil {
		return nil, err
	}
	if n := len(tok.Caveats()); n > e.config.Token.MaxCaveats {
		return nil, fmt.Errorf("%w: %d caveats exceeds limit of %d", ErrMalformedToken, n, e.config.Token.MaxCaveats)
	}

	rootKey, err := e.keyring.RootKey(tok.KeyID())
	if err != nil {
		return nil, err
	}
	if err := tok.VerifyAt(rootKey, e.clock.Now()); err != nil {
		return nil, err
	}
	return tok, nil
}

// VerifyString is [Engine.Verify] for the bearer text form (base64url, base64 or hex).
func (e *Engine) VerifyString(ctx context.Context, s string) (*token.Token, error) {
	raw, err := token.DecodeText(s)
	if err != nil {
		e.metricInc(MetricVerifyFailure)
		return nil, err
	}
	return e.Verify(ctx, raw)
}
