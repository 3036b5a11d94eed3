package budget

import "errors"

var (
	// ErrDuplicateRegistration is returned when a token already has a budget.
	ErrDuplicateRegistration = errors.New("budget already registered for token")
	// ErrUnknownToken is returned for a token with no registered budget.
	ErrUnknownToken = errors.New("no budget registered for token")
	// ErrOverBudget is returned when a spend does not fit the current period.
	ErrOverBudget = errors.New("spend exceeds period budget")
	// ErrInvalidGrant is returned for an amount caveat that cannot back a budget.
	ErrInvalidGrant = errors.New("invalid budget grant")
	// ErrInvalidAmount is returned for a nil or negative spend.
	ErrInvalidAmount = errors.New("invalid spend amount")
)
