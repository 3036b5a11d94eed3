package goPullToken

import (
	"io"
	"math/big"
	"time"

	internalaudit "github.com/MrEthical07/goPullToken/internal/audit"
	"github.com/MrEthical07/goPullToken/internal/budget"
	"github.com/MrEthical07/goPullToken/internal/coordinator"
)

// IssueRequest describes a token to mint. Caveats are added in the order address,
// amount, expiry.
//
// Zero values fall back to configuration: Start defaults to now, Period to
// Token.DefaultPeriod, Repetitions to 1 and Expiry to now+Token.DefaultTTL (no expiry
// when that is zero). Location defaults to Token.Location.
type IssueRequest struct {
	Amount      *big.Int
	Start       time.Time
	Period      time.Duration
	Repetitions uint64
	Address     string
	Expiry      time.Time
	Location    string
}

// ExchangeRequest carries a bearer token presented for exchange.
type ExchangeRequest struct {
	Token    []byte
	ClientIP string
}

// ExchangeResult is what the client needs to open a payment stream.
type ExchangeResult struct {
	TokenID            string
	DestinationAccount string
	SharedSecret       []byte
	Budget             BudgetRecord
}

// ConnectionInfo identifies an incoming stream. Tag is the connection tag carried in the
// destination address (the token id). DestinationAccount is where the stream sends
// money and is checked against the token's address caveat.
type ConnectionInfo struct {
	ID                 string
	Tag                string
	DestinationAccount string
}

// Stream is the transport handle that receives send ceilings.
type Stream = coordinator.Stream

// SpendEvent reports money that just left on a connection.
type SpendEvent = coordinator.SpendEvent

// BudgetRecord is a copy of a token's budget window state.
type BudgetRecord = budget.Record

// AuditEvent is a structured audit record emitted by the engine.
type AuditEvent = internalaudit.Event

// AuditSink receives [AuditEvent] values from the engine's audit dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink is an [AuditSink] that silently discards all events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink is a buffered channel-based [AuditSink].
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink is an [AuditSink] that writes JSON-encoded events to an [io.Writer].
type JSONWriterSink = internalaudit.JSONWriterSink

// NewChannelSink creates a [ChannelSink] with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a [JSONWriterSink] that writes to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}
