// Package scheduler defines the Run/NodeRun state machines and the
// WorkflowScheduler that enqueues runs, reserves budget, and tracks status.
//
// The field shapes (Run mirroring a conventional db.FlowRun, NodeRun
// mirroring db.NodeRun) are grounded on a conventional internal/db/models.go,
// narrowed to the agent-only node type and atomic-money budget fields in
// place of JSON-string-snapshot columns (those exist to survive a SQL
// round trip; the core's contract is in-memory first).
package scheduler

import (
	"time"

	"github.com/useVega/vega-protocol/internal/money"
)

// RunStatus is the lifecycle of a Run.
type RunStatus string

const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// NodeRunStatus is the lifecycle of one node's execution within a run.
type NodeRunStatus string

const (
	NodeRunPending   NodeRunStatus = "pending"
	NodeRunRunning   NodeRunStatus = "running"
	NodeRunCompleted NodeRunStatus = "completed"
	NodeRunSkipped   NodeRunStatus = "skipped"
	NodeRunFailed    NodeRunStatus = "failed"
)

// Run is one execution of a workflow spec.
type Run struct {
	ID             string
	WorkflowID     string
	OwnerUserID    string
	UserWallet     string
	Status         RunStatus
	CreatedAt      time.Time
	StartedAt      *time.Time
	EndedAt        *time.Time
	Chain          string
	Token          string
	ReservedBudget money.Atomic
	SpentBudget    money.Atomic
	OutputNodeID   string
	Output         any
	Error          string
}

// NodeRun is the record of one node's execution within a Run.
type NodeRun struct {
	ID             string
	RunID          string
	NodeID         string
	AgentRef       string
	Status         NodeRunStatus
	StartedAt      *time.Time
	EndedAt        *time.Time
	ResolvedInputs map[string]any
	Output         any
	Cost           money.Atomic
	RetryCount     int
	Error          string
	LogLines       []string
}

// validRunTransitions encodes the run status state machine:
// queued -> {running, cancelled}; running -> {completed, failed, cancelled};
// terminal states are sinks.
var validRunTransitions = map[RunStatus]map[RunStatus]bool{
	RunQueued: {
		RunRunning:   true,
		RunCancelled: true,
	},
	RunRunning: {
		RunCompleted: true,
		RunFailed:    true,
		RunCancelled: true,
	},
}

// IsTerminal reports whether status is a sink state.
func (s RunStatus) IsTerminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunCancelled
}

// CanTransition reports whether moving from s to next is legal.
func (s RunStatus) CanTransition(next RunStatus) bool {
	allowed, ok := validRunTransitions[s]
	return ok && allowed[next]
}
