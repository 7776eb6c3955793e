// Package workflow implements the Workflow Executor and Human-in-the-Loop
// (HIL) gate: deterministic classification, suspend/resume state machine,
// CAS-idempotent approval, payload redaction, and the designer compile
// subflow, per spec.md §4.2.
package workflow

import (
	"encoding/json"
	"time"
)

// State is one of the Workflow Execution Record's lifecycle states
// (spec.md §3).
type State string

const (
	StatePendingApproval     State = "pending_approval"
	StateExecuting           State = "executing"
	StateExecuted            State = "executed"
	StateApprovedAndExecuted State = "approved_and_executed"
	StateApprovedButFailed   State = "approved_but_failed"
	StateFailed              State = "failed"
)

// ApprovalStatus is one of the Approval Task's lifecycle states.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// Record is the Workflow Execution Record (spec.md §3). WorkflowID is
// assigned at submission and never changes.
type Record struct {
	WorkflowID     string          `json:"workflow_id"`
	WorkflowPackID string          `json:"workflow_pack_id"`
	WorkflowType   string          `json:"workflow_type"`
	Payload        json.RawMessage `json:"payload"` // redacted form
	InputHash      string          `json:"-"`       // unredacted input hash, ledger-only
	State          State           `json:"state"`
	ApprovalTaskID string          `json:"approval_task_id,omitempty"`
	ApprovedBy     string          `json:"approved_by,omitempty"`
	ApprovedAt     *time.Time      `json:"approved_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	CorrelationID  string          `json:"correlation_id"`
}

// ApprovalTask is the Approval Task (spec.md §3). A task transitions from
// pending exactly once; subsequent approvals are no-ops reporting
// OutcomeAlreadyResolved.
type ApprovalTask struct {
	TaskID        string                 `json:"task_id"`
	WorkflowID    string                 `json:"workflow_id"`
	Requester     string                 `json:"requester"`
	CreatedAt     time.Time              `json:"created_at"`
	PayloadHash   string                 `json:"payload_hash"`
	Status        ApprovalStatus         `json:"status"`
	ApprovedBy    string                 `json:"approved_by,omitempty"`
	ApprovedAt    *time.Time             `json:"approved_at,omitempty"`
	ApprovalData  map[string]interface{} `json:"approval_data,omitempty"`
}

// Executor is the function a workflow record is handed to once it is clear
// to run (either immediately, or after approval). It returns the execution
// outcome only; state-machine bookkeeping is the caller's (the Engine's)
// responsibility.
type Executor func(rec *Record) error
