package goPullToken

import (
	"context"
	"errors"
	"math/big"

	"github.com/google/uuid"

	"github.com/MrEthical07/goPullToken/internal/budget"
	"github.com/MrEthical07/goPullToken/internal/coordinator"
)

const (
	auditEventIssueSuccess        = "issue_success"
	auditEventIssueFailure        = "issue_failure"
	auditEventExchangeSuccess     = "exchange_success"
	auditEventExchangeFailure     = "exchange_failure"
	auditEventExchangeDuplicate   = "exchange_duplicate"
	auditEventExchangeRateLimited = "exchange_rate_limited"
	auditEventStreamAttached      = "stream_attached"
	auditEventStreamDetached      = "stream_detached"
	auditEventAttachRejected      = "attach_rejected"
	auditEventTokenReleased       = "token_released"
	auditEventOverBudget          = "spend_over_budget"
	auditEventBudgetExhausted     = "budget_exhausted"
	auditEventTimerFailed         = "boundary_timer_failed"
)

// AuditErrorCode is the stable error label carried in [AuditEvent].Error.
type AuditErrorCode string

const (
	auditErrMalformedToken AuditErrorCode = "malformed_token"
	auditErrInvalidToken   AuditErrorCode = "invalid_token"
	auditErrExpired        AuditErrorCode = "expired"
	auditErrAmountRequired AuditErrorCode = "amount_caveat_required"
	auditErrAddressDenied  AuditErrorCode = "address_not_allowed"
	auditErrRateLimited    AuditErrorCode = "rate_limited"
	auditErrDuplicate      AuditErrorCode = "duplicate"
	auditErrOverBudget     AuditErrorCode = "over_budget"
	auditErrUnknownToken   AuditErrorCode = "unknown_token"
	auditErrStreamAttached AuditErrorCode = "stream_attached"
	auditErrInvalidRequest AuditErrorCode = "invalid_request"
	auditErrUnavailable    AuditErrorCode = "backend_unavailable"
	auditErrInternal       AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	tokenID string,
	connID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	e.audit.Emit(ctx, e.auditEvent(ctx, eventType, success, tokenID, connID, err, metadataBuilder))
}

// emitAuditNow never blocks; it is used from the coordinator's callbacks, which run with
// a lane locked.
func (e *Engine) emitAuditNow(
	eventType string,
	success bool,
	tokenID string,
	connID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	e.audit.TryEmit(e.auditEvent(context.Background(), eventType, success, tokenID, connID, err, metadataBuilder))
}

func (e *Engine) auditEvent(
	ctx context.Context,
	eventType string,
	success bool,
	tokenID string,
	connID string,
	err error,
	metadataBuilder func() map[string]string,
) AuditEvent {
	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		ID:           uuid.NewString(),
		Timestamp:    e.clock.Now().UTC(),
		EventType:    eventType,
		TokenID:      tokenID,
		ConnectionID: connID,
		IP:           clientIPFromContext(ctx),
		Success:      success,
		Metadata:     metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}
	return event
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrMalformedToken),
		errors.Is(err, ErrMalformedCaveat),
		errors.Is(err, ErrUnknownCaveatType),
		errors.Is(err, ErrInvalidCaveatChain):
		return auditErrMalformedToken
	case errors.Is(err, ErrInvalidSignature),
		errors.Is(err, ErrEmptyKeyID):
		return auditErrInvalidToken
	case errors.Is(err, ErrExpired):
		return auditErrExpired
	case errors.Is(err, ErrAmountCaveatRequired):
		return auditErrAmountRequired
	case errors.Is(err, ErrAddressNotAllowed):
		return auditErrAddressDenied
	case errors.Is(err, ErrExchangeRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrDuplicateRegistration):
		return auditErrDuplicate
	case errors.Is(err, ErrOverBudget):
		return auditErrOverBudget
	case errors.Is(err, ErrUnknownToken),
		errors.Is(err, ErrUnknownConnection):
		return auditErrUnknownToken
	case errors.Is(err, ErrStreamAttached):
		return auditErrStreamAttached
	case errors.Is(err, ErrInvalidIssueRequest),
		errors.Is(err, ErrInvalidGrant),
		errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrCaveatWidening):
		return auditErrInvalidRequest
	case errors.Is(err, ErrLedgerUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}

// engineObserver turns coordinator lane events into metrics and audit events.
type engineObserver struct {
	engine *Engine
}

var _ coordinator.Observer = engineObserver{}

func (o engineObserver) CeilingIssued(string, string, *big.Int) {
	o.engine.metricInc(MetricCeilingIssued)
}

func (o engineObserver) SpendRecorded(string, string, *big.Int, budget.Record) {
	o.engine.metricInc(MetricSpendRecorded)
}

func (o engineObserver) OverBudget(tokenID, connID string, amount *big.Int, rec budget.Record) {
	o.engine.metricInc(MetricSpendOverBudget)
	o.engine.emitAuditNow(auditEventOverBudget, false, tokenID, connID, ErrOverBudget, func() map[string]string {
		return map[string]string{
			"amount":         amount.String(),
			"sent_in_period": rec.TotalSentInPeriod.String(),
			"send_max":       rec.PeriodSendMax.String(),
		}
	})
}

func (o engineObserver) PeriodRolled(string, budget.Record) {
	o.engine.metricInc(MetricPeriodRolled)
}

func (o engineObserver) Exhausted(tokenID string) {
	o.engine.metricInc(MetricBudgetExhausted)
	o.engine.emitAuditNow(auditEventBudgetExhausted, true, tokenID, "", nil, nil)
}

func (o engineObserver) TimerFailed(tokenID string, err error) {
	o.engine.metricInc(MetricTimerFailure)
	o.engine.emitAuditNow(auditEventTimerFailed, false, tokenID, "", err, nil)
}
