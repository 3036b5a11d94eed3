package coordinator

import (
	"math/big"

	"github.com/MrEthical07/goPullToken/internal/budget"
)

// Observer receives lane events. Calls are made while the lane is locked and must not
// call back into the coordinator.
type Observer interface {
	CeilingIssued(tokenID, connID string, ceiling *big.Int)
	SpendRecorded(tokenID, connID string, amount *big.Int, rec budget.Record)
	OverBudget(tokenID, connID string, amount *big.Int, rec budget.Record)
	PeriodRolled(tokenID string, rec budget.Record)
	Exhausted(tokenID string)
	TimerFailed(tokenID string, err error)
}

// NopObserver ignores every event.
type NopObserver struct{}

var _ Observer = NopObserver{}

func (NopObserver) CeilingIssued(string, string, *big.Int)                {}
func (NopObserver) SpendRecorded(string, string, *big.Int, budget.Record) {}
func (NopObserver) OverBudget(string, string, *big.Int, budget.Record)    {}
func (NopObserver) PeriodRolled(string, budget.Record)                    {}
func (NopObserver) Exhausted(string)                                      {}
func (NopObserver) TimerFailed(string, error)                             {}
