package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/compliantcore/platform/pkg/canonicalize"
	"github.com/compliantcore/platform/pkg/ledger"
	"github.com/compliantcore/platform/pkg/redaction"
)

// Event types appended to the ledger for every workflow state transition.
const (
	EventSubmitted       ledger.EventType = "workflow.submitted"
	EventPendingApproval ledger.EventType = "workflow.pending_approval"
	EventApproved        ledger.EventType = "workflow.approved"
	EventRejected        ledger.EventType = "workflow.rejected"
	EventExecuted        ledger.EventType = "workflow.executed"
	EventFailed          ledger.EventType = "workflow.failed"
)

// SubmitRequest is the input to Submit, mirroring POST /execute-workflow.
type SubmitRequest struct {
	WorkflowPackID string
	WorkflowType   string
	Payload        json.RawMessage
	Requester      string
	TenantID       string
	CorrelationID  string // generated if empty
}

// SubmitResult is returned from Submit.
type SubmitResult struct {
	Record               *Record
	ApprovalTask         *ApprovalTask // non-nil iff Record.State == pending_approval
	RequiresHumanApproval bool
}

// ApproveResult is returned from Approve.
type ApproveResult struct {
	Record  *Record
	Task    *ApprovalTask
	Outcome ApprovalOutcome
}

// LedgerAppender is the narrow slice of ledger.Store (or ledger.Service) the
// Engine needs: it only ever appends workflow transition events.
type LedgerAppender interface {
	Append(req ledger.AppendRequest) (*ledger.AppendResult, error)
}

// Engine is the Workflow Executor + HIL gate: it classifies, suspends,
// resumes, and ledgers every workflow state transition (spec.md §4.2).
type Engine struct {
	store      ApprovalStore
	ledgerSvc  LedgerAppender
	classifier *Classifier
	redactor   *redaction.Redactor
	execute    Executor
	clock      func() time.Time
	logger     *slog.Logger
}

// New constructs an Engine. execute runs the business logic of an approved
// or directly-runnable workflow; it is the caller's (Gateway's) orchestrator
// hook, out of CORE's scope beyond the contract.
func New(store ApprovalStore, ledgerSvc LedgerAppender, classifier *Classifier, redactor *redaction.Redactor, execute Executor, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if classifier == nil {
		classifier = &Classifier{}
	}
	return &Engine{
		store:      store,
		ledgerSvc:  ledgerSvc,
		classifier: classifier,
		redactor:   redactor,
		execute:    execute,
		clock:      time.Now,
		logger:     logger,
	}
}

// WithClock overrides the engine's clock for deterministic testing.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// Submit classifies req and either runs it immediately or suspends it behind
// an Approval Task, per spec.md §4.2's state machine.
func (e *Engine) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	inputHash, err := canonicalize.CanonicalHash(json.RawMessage(req.Payload))
	if err != nil {
		return nil, fmt.Errorf("workflow: hash payload: %w", err)
	}

	redactedPayload := req.Payload
	if e.redactor != nil {
		redactedPayload, err = e.redactor.RedactJSON(ctx, req.Payload)
		if err != nil {
			return nil, fmt.Errorf("workflow: redact payload: %w", err)
		}
	}

	requiresApproval, classifyErr := e.classifier.Classify(req.WorkflowType, req.Payload)
	if classifyErr != nil {
		e.logger.Warn("secondary classifier error, deterministic rules still apply",
			"workflow_type", req.WorkflowType, "error", classifyErr)
	}

	rec := &Record{
		WorkflowID:     uuid.NewString(),
		WorkflowPackID: req.WorkflowPackID,
		WorkflowType:   req.WorkflowType,
		Payload:        redactedPayload,
		InputHash:      inputHash,
		CreatedAt:      e.clock(),
		CorrelationID:  correlationID,
	}

	if requiresApproval {
		rec.State = StatePendingApproval
		if err := e.store.CreateRecord(rec); err != nil {
			return nil, err
		}

		task := &ApprovalTask{
			TaskID:      uuid.NewString(),
			WorkflowID:  rec.WorkflowID,
			Requester:   req.Requester,
			CreatedAt:   e.clock(),
			PayloadHash: inputHash,
			Status:      ApprovalPending,
		}
		if err := e.store.Create(task); err != nil {
			return nil, err
		}
		rec.ApprovalTaskID = task.TaskID
		if err := e.store.UpdateRecord(rec); err != nil {
			return nil, err
		}

		e.appendLedger(req.TenantID, EventSubmitted, rec, req.Requester, correlationID, "workflow submitted, pending approval")
		e.appendLedger(req.TenantID, EventPendingApproval, rec, req.Requester, correlationID, "suspended for HIL approval")

		return &SubmitResult{Record: rec, ApprovalTask: task, RequiresHumanApproval: true}, nil
	}

	rec.State = StateExecuting
	if err := e.store.CreateRecord(rec); err != nil {
		return nil, err
	}
	e.appendLedger(req.TenantID, EventSubmitted, rec, req.Requester, correlationID, "workflow submitted, executing directly")

	if execErr := e.execute(rec); execErr != nil {
		rec.State = StateFailed
		_ = e.store.UpdateRecord(rec)
		e.appendLedger(req.TenantID, EventFailed, rec, req.Requester, correlationID, execErr.Error())
		return &SubmitResult{Record: rec, RequiresHumanApproval: false}, nil
	}

	rec.State = StateExecuted
	_ = e.store.UpdateRecord(rec)
	e.appendLedger(req.TenantID, EventExecuted, rec, req.Requester, correlationID, "workflow executed directly")

	return &SubmitResult{Record: rec, RequiresHumanApproval: false}, nil
}

// Approve resolves an approval task. A task transitions from pending exactly
// once; subsequent calls observe OutcomeAlreadyResolved and perform no
// re-execution (spec.md §3, §8 scenario 3). Resumption uses the workflow's
// original correlation_id, not the caller's, to preserve trace continuity
// across the suspend/resume boundary (spec.md §4.2).
func (e *Engine) Approve(ctx context.Context, tenantID, taskID, approverID string, approved bool, approvalData map[string]interface{}) (*ApproveResult, error) {
	task, outcome, err := e.store.Resolve(taskID, approved, approverID, approvalData, e.clock())
	if err != nil {
		return nil, err
	}

	rec, err := e.store.GetRecord(task.WorkflowID)
	if err != nil {
		return nil, err
	}

	if outcome == OutcomeAlreadyResolved {
		return &ApproveResult{Record: rec, Task: task, Outcome: outcome}, nil
	}

	originalCorrelationID := rec.CorrelationID

	if !approved {
		rec.State = StateFailed
		_ = e.store.UpdateRecord(rec)
		e.appendLedger(tenantID, EventRejected, rec, approverID, originalCorrelationID, "workflow rejected by approver")
		return &ApproveResult{Record: rec, Task: task, Outcome: outcome}, nil
	}

	rec.ApprovedBy = approverID
	rec.ApprovedAt = task.ApprovedAt
	rec.State = StateExecuting
	_ = e.store.UpdateRecord(rec)
	e.appendLedger(tenantID, EventApproved, rec, approverID, originalCorrelationID, "workflow approved, executing")

	if execErr := e.execute(rec); execErr != nil {
		rec.State = StateApprovedButFailed
		_ = e.store.UpdateRecord(rec)
		e.appendLedger(tenantID, EventFailed, rec, approverID, originalCorrelationID, execErr.Error())
		return &ApproveResult{Record: rec, Task: task, Outcome: outcome}, nil
	}

	rec.State = StateApprovedAndExecuted
	_ = e.store.UpdateRecord(rec)
	e.appendLedger(tenantID, EventExecuted, rec, approverID, originalCorrelationID, "workflow approved and executed")

	return &ApproveResult{Record: rec, Task: task, Outcome: outcome}, nil
}

// Status returns the current Workflow Execution Record.
func (e *Engine) Status(workflowID string) (*Record, error) {
	return e.store.GetRecord(workflowID)
}

func (e *Engine) appendLedger(tenantID string, eventType ledger.EventType, rec *Record, userID, correlationID, description string) {
	if e.ledgerSvc == nil {
		return
	}
	_, err := e.ledgerSvc.Append(ledger.AppendRequest{
		TenantID:  tenantID,
		EventType: eventType,
		EventData: map[string]interface{}{
			"workflow_id":      rec.WorkflowID,
			"workflow_pack_id": rec.WorkflowPackID,
			"workflow_type":    rec.WorkflowType,
			"state":            rec.State,
			"input_hash":       rec.InputHash,
		},
		UserID:        userID,
		CorrelationID: correlationID,
		Description:   description,
	})
	if err != nil {
		e.logger.Warn("ledger append failed for workflow event",
			"workflow_id", rec.WorkflowID, "event_type", eventType, "error", err)
	}
}
