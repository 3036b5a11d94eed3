package goPullToken

import (
	"errors"

	"github.com/MrEthical07/goPullToken/internal/budget"
	"github.com/MrEthical07/goPullToken/internal/coordinator"
	"github.com/MrEthical07/goPullToken/token"
)

// Token construction and verification errors.
var (
	// ErrMalformedToken is returned for token bytes or text that cannot be decoded.
	ErrMalformedToken = token.ErrMalformedToken
	// ErrMalformedCaveat is returned for a caveat body that cannot be decoded.
	ErrMalformedCaveat = token.ErrMalformedCaveat
	// ErrUnknownCaveatType is returned for a caveat tag this package does not know.
	ErrUnknownCaveatType = token.ErrUnknownCaveatType
	// ErrCaveatWidening is returned when an added caveat would relax the token.
	ErrCaveatWidening = token.ErrCaveatWidening
	// ErrInvalidCaveatChain is returned for a decoded caveat history that widens.
	ErrInvalidCaveatChain = token.ErrInvalidCaveatChain
	// ErrInvalidSignature is returned when the signature chain does not verify.
	ErrInvalidSignature = token.ErrInvalidSignature
	// ErrExpired is returned for a token past its effective expiry.
	ErrExpired = token.ErrExpired
	// ErrEmptyRootKey is returned when a token is minted or verified with no root key.
	ErrEmptyRootKey = token.ErrEmptyRootKey
	// ErrEmptyKeyID is returned for a token with an empty key identifier.
	ErrEmptyKeyID = token.ErrEmptyKeyID
)

// Budget and stream errors.
var (
	// ErrDuplicateRegistration is returned when a token has already been exchanged.
	ErrDuplicateRegistration = budget.ErrDuplicateRegistration
	// ErrOverBudget is returned when a spend does not fit the current period.
	ErrOverBudget = budget.ErrOverBudget
	// ErrUnknownToken is returned for a token that was never exchanged or was released.
	ErrUnknownToken = budget.ErrUnknownToken
	// ErrInvalidGrant is returned for an amount caveat that cannot back a budget.
	ErrInvalidGrant = budget.ErrInvalidGrant
	// ErrInvalidAmount is returned for a nil or negative spend.
	ErrInvalidAmount = budget.ErrInvalidAmount
	// ErrStreamAttached is returned when a token already has a live stream.
	ErrStreamAttached = coordinator.ErrStreamAttached
	// ErrUnknownConnection is returned for a connection id with no attached stream.
	ErrUnknownConnection = coordinator.ErrUnknownConnection
)

var (
	// ErrAmountCaveatRequired is returned when an exchanged token carries no amount caveat.
	ErrAmountCaveatRequired = errors.New("token has no amount caveat")
	// ErrAddressNotAllowed is returned when a stream's destination is outside the token's
	// address prefixes.
	ErrAddressNotAllowed = errors.New("destination not allowed by token")
	// ErrExchangeRateLimited is returned when the client IP has exceeded its exchange budget.
	ErrExchangeRateLimited = errors.New("exchange rate limited")
	// ErrLedgerUnavailable is returned when Redis cannot be reached during exchange.
	ErrLedgerUnavailable = errors.New("exchange backend unavailable")
	// ErrEngineNotReady is returned by methods called on a nil or closed Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrInvalidIssueRequest is returned for issue requests that cannot produce a token.
	ErrInvalidIssueRequest = errors.New("invalid issue request")
)
