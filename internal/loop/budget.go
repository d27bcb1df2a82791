package loop

import (
	"fmt"
	"time"
)

// BudgetReasonCode identifies why a budget check failed.
type BudgetReasonCode string

const (
	// BudgetReasonNone indicates no budget limit was exceeded.
	BudgetReasonNone BudgetReasonCode = "none"
	// BudgetReasonIterations indicates the iteration cap was reached.
	BudgetReasonIterations BudgetReasonCode = "iterations"
	// BudgetReasonTime indicates the wall-clock limit was exceeded.
	BudgetReasonTime BudgetReasonCode = "time"
	// BudgetReasonCost indicates the cost limit was exceeded.
	BudgetReasonCost BudgetReasonCode = "cost"
)

// BudgetLimits bounds one restart cycle. Zero values mean unlimited.
type BudgetLimits struct {
	// MaxIterations caps executions within a cycle.
	MaxIterations int `json:"max_iterations" yaml:"max_iterations"`

	// MaxDuration caps wall-clock time across the cycle, reset waits included.
	MaxDuration time.Duration `json:"max_duration" yaml:"max_duration"`

	// MaxCostUSD caps the agent-reported cost across the cycle.
	MaxCostUSD float64 `json:"max_cost_usd" yaml:"max_cost_usd"`
}

// BudgetState tracks the current budget consumption.
type BudgetState struct {
	// Iterations is the number of executions completed.
	Iterations int `json:"iterations"`

	// TotalCostUSD is the total cost incurred so far.
	TotalCostUSD float64 `json:"total_cost_usd"`

	// StartTime is when the budget tracking started.
	StartTime time.Time `json:"start_time"`
}

// BudgetStatus represents the result of a budget check.
type BudgetStatus struct {
	// CanContinue indicates whether another execution is allowed.
	CanContinue bool

	// Reason is a human-readable explanation if CanContinue is false.
	Reason string

	// ReasonCode identifies the specific budget limit that was exceeded.
	ReasonCode BudgetReasonCode
}

// BudgetTracker tracks budget consumption and enforces limits.
type BudgetTracker struct {
	limits BudgetLimits
	state  BudgetState
	clock  Clock
}

// NewBudgetTracker creates a tracker. A nil clock uses the real clock.
func NewBudgetTracker(limits BudgetLimits, clock Clock) *BudgetTracker {
	if clock == nil {
		clock = RealClock()
	}
	return &BudgetTracker{
		limits: limits,
		clock:  clock,
	}
}

// RecordIteration records a finished execution with its cost.
func (bt *BudgetTracker) RecordIteration(costUSD float64) {
	if bt.state.StartTime.IsZero() {
		bt.state.StartTime = bt.clock.Now()
	}

	bt.state.Iterations++
	bt.state.TotalCostUSD += costUSD
}

// CheckBudget reports whether another execution is within limits.
func (bt *BudgetTracker) CheckBudget() BudgetStatus {
	if bt.limits.MaxIterations > 0 && bt.state.Iterations >= bt.limits.MaxIterations {
		return BudgetStatus{
			CanContinue: false,
			Reason:      fmt.Sprintf("max iteration limit reached (%d/%d)", bt.state.Iterations, bt.limits.MaxIterations),
			ReasonCode:  BudgetReasonIterations,
		}
	}

	if bt.limits.MaxDuration > 0 && !bt.state.StartTime.IsZero() {
		elapsed := bt.ElapsedTime()
		if elapsed >= bt.limits.MaxDuration {
			return BudgetStatus{
				CanContinue: false,
				Reason:      fmt.Sprintf("max time limit exceeded (%s/%s)", elapsed.Round(time.Second), bt.limits.MaxDuration),
				ReasonCode:  BudgetReasonTime,
			}
		}
	}

	if bt.limits.MaxCostUSD > 0 && bt.state.TotalCostUSD >= bt.limits.MaxCostUSD {
		return BudgetStatus{
			CanContinue: false,
			Reason:      fmt.Sprintf("max cost limit exceeded ($%.2f/$%.2f)", bt.state.TotalCostUSD, bt.limits.MaxCostUSD),
			ReasonCode:  BudgetReasonCost,
		}
	}

	return BudgetStatus{
		CanContinue: true,
		ReasonCode:  BudgetReasonNone,
	}
}

// GetState returns a copy of the current budget state.
func (bt *BudgetTracker) GetState() BudgetState {
	return bt.state
}

// Reset starts a fresh budget window.
func (bt *BudgetTracker) Reset() {
	bt.state = BudgetState{
		StartTime: bt.clock.Now(),
	}
}

// ElapsedTime returns the time elapsed since the budget tracking started.
func (bt *BudgetTracker) ElapsedTime() time.Duration {
	if bt.state.StartTime.IsZero() {
		return 0
	}
	return bt.clock.Now().Sub(bt.state.StartTime)
}
