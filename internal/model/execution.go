package model

import "time"

// ExecutionState is the lifecycle state of an ExecutionRecord
type ExecutionState string

const (
	StatePending    ExecutionState = "pending"
	StateRunning    ExecutionState = "running"
	StatePaused     ExecutionState = "paused"
	StateCancelling ExecutionState = "cancelling"
	StateRerouting  ExecutionState = "rerouting"
	StateCompleted  ExecutionState = "completed"
	StateFailed     ExecutionState = "failed"
	StateCancelled  ExecutionState = "cancelled"
)

// Terminal reports whether no further transitions are legal from this state
func (s ExecutionState) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

// OutcomeStatus is the terminal status of a single segment execution
type OutcomeStatus string

const (
	OutcomeSkipped   OutcomeStatus = "skipped"
	OutcomeSucceeded OutcomeStatus = "succeeded"
	OutcomeFailed    OutcomeStatus = "failed"
	OutcomeCancelled OutcomeStatus = "cancelled"
)

// SegmentOutcome records what happened when one segment was executed
type SegmentOutcome struct {
	ProviderTxnID string        `json:"provider_txn_id,omitempty"`
	Status        OutcomeStatus `json:"status"`
	AmountIn      float64       `json:"amount_in"`
	AmountOut     float64       `json:"amount_out"`
	FeesPaid      float64       `json:"fees_paid"`
	Attempts      int           `json:"attempts"`
	Error         string        `json:"error,omitempty"`
	ConfirmedAt   *time.Time    `json:"confirmed_at,omitempty"`
}

// ExecutionRecord tracks one execute request through the state machine.
// The orchestrator owns the record exclusively; callers only ever see
// by-value snapshots.
type ExecutionRecord struct {
	ExecutionID   string           `json:"execution_id"`
	Route         Route            `json:"route"`
	CurrentIndex  int              `json:"current_index"`
	State         ExecutionState   `json:"state"`
	Outcomes      []SegmentOutcome `json:"segment_outcomes"`
	InitialAmount float64          `json:"initial_amount"`
	FinalAmount   float64          `json:"final_amount"`
	FromAsset     string           `json:"from_asset"`
	ToAsset       string           `json:"to_asset"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// Clone returns a deep copy safe to hand outside the orchestrator lock
func (r *ExecutionRecord) Clone() ExecutionRecord {
	out := *r
	out.Route.Segments = append([]RouteSegment(nil), r.Route.Segments...)
	out.Outcomes = append([]SegmentOutcome(nil), r.Outcomes...)
	return out
}

// TransitionRecord is one row of the execution_history stream: a single
// state transition of an ExecutionRecord.
type TransitionRecord struct {
	ExecutionID  string          `json:"execution_id"`
	OldState     ExecutionState  `json:"old_state"`
	NewState     ExecutionState  `json:"new_state"`
	CurrentIndex int             `json:"current_index"`
	Outcome      *SegmentOutcome `json:"segment_outcome,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
}

// Snapshot is one row of the edge_snapshots stream: the complete current
// edge set at a snapshot tick, persisted immutably.
type Snapshot struct {
	TickID    int64          `json:"tick_id"`
	Timestamp time.Time      `json:"timestamp"`
	Edges     []RouteSegment `json:"edges"`
}
