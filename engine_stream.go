package goPullToken

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/goPullToken/internal/streamcred"
)

// StreamCredentials resolves a destination address handed out by [Engine.Exchange] to
// the exchanged token's id and the shared secret the connection must be keyed with.
func (e *Engine) StreamCredentials(destination string) (string, []byte, error) {
	if err := e.ready(); err != nil {
		return "", nil, err
	}
	tag, secret, err := e.creds.Parse(destination)
	if err != nil {
		if errors.Is(err, streamcred.ErrInvalidDestination) || errors.Is(err, streamcred.ErrInvalidTag) {
			return "", nil, fmt.Errorf("%w: %v", ErrUnknownToken, err)
		}
		return "", nil, err
	}
	if _, ok := e.lookup(tag); !ok {
		return "", nil, fmt.Errorf("%w: %s", ErrUnknownToken, tag)
	}
	return tag, secret, nil
}

// Attach binds an incoming stream to the exchanged token named by info.Tag and issues its
// first send ceiling. Expired tokens are released. When the token carries an address
// caveat, info.DestinationAccount must be non-empty and match one of its prefixes.
// The connection id is returned, generated when info.ID is empty.
func (e *Engine) Attach(info ConnectionInfo, stream Stream) (string, error) {
	if err := e.ready(); err != nil {
		return "", err
	}
	ctx := context.Background()

	tok, ok := e.lookup(info.Tag)
	if !ok {
		err := fmt.Errorf("%w: %s", ErrUnknownToken, info.Tag)
		e.emitAudit(ctx, auditEventAttachRejected, false, info.Tag, info.ID, err, nil)
		return "", err
	}
	id := tok.ID()

	if tok.ExpiredAt(e.clock.Now()) {
		e.release(id)
		e.emitAudit(ctx, auditEventAttachRejected, false, id, info.ID, ErrExpired, nil)
		return "", fmt.Errorf("%w: %s", ErrExpired, id)
	}
	if _, restricted := tok.Effective().AddressPrefixes(); restricted {
		if info.DestinationAccount == "" || !tok.AllowsAddress(info.DestinationAccount) {
			e.emitAudit(ctx, auditEventAttachRejected, false, id, info.ID, ErrAddressNotAllowed, func() map[string]string {
				return map[string]string{"destination": info.DestinationAccount}
			})
			return "", fmt.Errorf("%w: %q", ErrAddressNotAllowed, info.DestinationAccount)
		}
	}

	connID, err := e.coordinator.Attach(id, info.ID, stream)
	if err != nil {
		e.emitAudit(ctx, auditEventAttachRejected, false, id, info.ID, err, nil)
		return "", err
	}

	e.metricInc(MetricStreamAttached)
	e.emitAudit(ctx, auditEventStreamAttached, true, id, connID, nil, nil)
	e.logger.Debug("stream attached", "token_id", id, "conn_id", connID)
	return connID, nil
}

// HandleSpend records money that left on a connection and reissues its ceiling. An
// over-budget spend is recorded and returned together with [ErrOverBudget].
func (e *Engine) HandleSpend(ev SpendEvent) (BudgetRecord, error) {
	if err := e.ready(); err != nil {
		return BudgetRecord{}, err
	}
	return e.coordinator.HandleSpend(ev)
}

// RunSpendEvents feeds events into [Engine.HandleSpend] until ctx is done or events is
// closed.
func (e *Engine) RunSpendEvents(ctx context.Context, events <-chan SpendEvent) error {
	if err := e.ready(); err != nil {
		return err
	}
	return e.coordinator.Run(ctx, events)
}

// Detach unbinds a connection. The token keeps its budget and may be attached again.
func (e *Engine) Detach(connID string) bool {
	if err := e.ready(); err != nil {
		return false
	}
	if !e.coordinator.Detach(connID) {
		return false
	}
	e.emitAudit(context.Background(), auditEventStreamDetached, true, "", connID, nil, nil)
	return true
}

// Release drops an exchanged token: its timer is cancelled, any stream is detached and
// its budget is forgotten. The ledger claim is kept so the token cannot be exchanged
// again.
func (e *Engine) Release(ctx context.Context, tokenID string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if !e.release(tokenID) {
		return fmt.Errorf("%w: %s", ErrUnknownToken, tokenID)
	}
	e.metricInc(MetricTokenReleased)
	e.emitAudit(ctx, auditEventTokenReleased, true, tokenID, "", nil, nil)
	return nil
}

func (e *Engine) release(tokenID string) bool {
	e.mu.Lock()
	_, known := e.tokens[tokenID]
	delete(e.tokens, tokenID)
	e.mu.Unlock()

	removed := e.coordinator.Remove(tokenID)
	return known || removed
}

// Budget returns the token's budget window state as of now.
func (e *Engine) Budget(tokenID string) (BudgetRecord, error) {
	if err := e.ready(); err != nil {
		return BudgetRecord{}, err
	}
	return e.coordinator.Snapshot(tokenID)
}
