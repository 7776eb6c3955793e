package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compliantcore/platform/pkg/ledger"
	"github.com/compliantcore/platform/pkg/redaction"
)

func newTestEngine(t *testing.T, execute Executor) (*Engine, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	ledgerSvc := ledger.NewService(ledger.NewMemoryStore())
	redactor := redaction.New(nil)
	engine := New(store, ledgerSvc, &Classifier{}, redactor, execute, nil)
	return engine, store
}

func TestEngine_Submit_DirectExecutionBelowThreshold(t *testing.T) {
	executed := false
	engine, _ := newTestEngine(t, func(rec *Record) error {
		executed = true
		return nil
	})

	result, err := engine.Submit(context.Background(), SubmitRequest{
		WorkflowPackID: "pack.ops",
		WorkflowType:   "operational",
		Payload:        json.RawMessage(`{"amount": 10000}`),
		Requester:      "alice",
		TenantID:       "t1",
	})
	require.NoError(t, err)
	assert.False(t, result.RequiresHumanApproval)
	assert.Nil(t, result.ApprovalTask)
	assert.Equal(t, StateExecuted, result.Record.State)
	assert.True(t, executed)
}

func TestEngine_Submit_SuspendsAboveThreshold(t *testing.T) {
	executed := false
	engine, _ := newTestEngine(t, func(rec *Record) error {
		executed = true
		return nil
	})

	result, err := engine.Submit(context.Background(), SubmitRequest{
		WorkflowPackID: "pack.ops",
		WorkflowType:   "operational",
		Payload:        json.RawMessage(`{"amount": 10001}`),
		Requester:      "alice",
		TenantID:       "t1",
	})
	require.NoError(t, err)
	assert.True(t, result.RequiresHumanApproval)
	require.NotNil(t, result.ApprovalTask)
	assert.Equal(t, StatePendingApproval, result.Record.State)
	assert.Equal(t, ApprovalPending, result.ApprovalTask.Status)
	assert.False(t, executed)
}

func TestEngine_Submit_LegalWorkflowAlwaysSuspends(t *testing.T) {
	engine, _ := newTestEngine(t, func(rec *Record) error { return nil })

	result, err := engine.Submit(context.Background(), SubmitRequest{
		WorkflowPackID: "title.pack",
		WorkflowType:   "legal",
		Payload:        json.RawMessage(`{"deed": "123 Main St"}`),
		Requester:      "alice",
		TenantID:       "t1",
	})
	require.NoError(t, err)
	assert.True(t, result.RequiresHumanApproval)
	assert.Equal(t, StatePendingApproval, result.Record.State)
}

func TestEngine_Approve_ExecutesAndTransitionsToApprovedAndExecuted(t *testing.T) {
	executed := false
	engine, _ := newTestEngine(t, func(rec *Record) error {
		executed = true
		return nil
	})

	submitResult, err := engine.Submit(context.Background(), SubmitRequest{
		WorkflowPackID: "title.pack",
		WorkflowType:   "legal",
		Payload:        json.RawMessage(`{"deed": "x"}`),
		Requester:      "alice",
		TenantID:       "t1",
	})
	require.NoError(t, err)

	approveResult, err := engine.Approve(context.Background(), "t1", submitResult.ApprovalTask.TaskID, "bob", true, nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeResolved, approveResult.Outcome)
	assert.Equal(t, StateApprovedAndExecuted, approveResult.Record.State)
	assert.True(t, executed)
}

func TestEngine_Approve_SecondCallIsIdempotent(t *testing.T) {
	calls := 0
	engine, _ := newTestEngine(t, func(rec *Record) error {
		calls++
		return nil
	})

	submitResult, err := engine.Submit(context.Background(), SubmitRequest{
		WorkflowPackID: "title.pack",
		WorkflowType:   "legal",
		Payload:        json.RawMessage(`{"deed": "x"}`),
		Requester:      "alice",
		TenantID:       "t1",
	})
	require.NoError(t, err)

	first, err := engine.Approve(context.Background(), "t1", submitResult.ApprovalTask.TaskID, "bob", true, nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeResolved, first.Outcome)

	second, err := engine.Approve(context.Background(), "t1", submitResult.ApprovalTask.TaskID, "carol", true, nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyResolved, second.Outcome)
	assert.Equal(t, 1, calls)
}

func TestEngine_Approve_RejectionTerminatesFailed(t *testing.T) {
	engine, _ := newTestEngine(t, func(rec *Record) error { return nil })

	submitResult, err := engine.Submit(context.Background(), SubmitRequest{
		WorkflowPackID: "title.pack",
		WorkflowType:   "legal",
		Payload:        json.RawMessage(`{"deed": "x"}`),
		Requester:      "alice",
		TenantID:       "t1",
	})
	require.NoError(t, err)

	result, err := engine.Approve(context.Background(), "t1", submitResult.ApprovalTask.TaskID, "bob", false, nil)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, result.Record.State)
}

func TestEngine_Approve_ExecutionFailureYieldsApprovedButFailed(t *testing.T) {
	engine, _ := newTestEngine(t, func(rec *Record) error {
		return errors.New("downstream boom")
	})

	submitResult, err := engine.Submit(context.Background(), SubmitRequest{
		WorkflowPackID: "title.pack",
		WorkflowType:   "legal",
		Payload:        json.RawMessage(`{"deed": "x"}`),
		Requester:      "alice",
		TenantID:       "t1",
	})
	require.NoError(t, err)

	result, err := engine.Approve(context.Background(), "t1", submitResult.ApprovalTask.TaskID, "bob", true, nil)
	require.NoError(t, err)
	assert.Equal(t, StateApprovedButFailed, result.Record.State)
}

func TestEngine_Approve_ResumptionUsesOriginalCorrelationID(t *testing.T) {
	engine, store := newTestEngine(t, func(rec *Record) error { return nil })
	engine.WithClock(func() time.Time { return time.Unix(1000, 0) })

	submitResult, err := engine.Submit(context.Background(), SubmitRequest{
		WorkflowPackID: "title.pack",
		WorkflowType:   "legal",
		Payload:        json.RawMessage(`{"deed": "x"}`),
		Requester:      "alice",
		TenantID:       "t1",
		CorrelationID:  "original-corr-id",
	})
	require.NoError(t, err)

	_, err = engine.Approve(context.Background(), "t1", submitResult.ApprovalTask.TaskID, "bob", true, nil)
	require.NoError(t, err)

	rec, err := store.GetRecord(submitResult.Record.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, "original-corr-id", rec.CorrelationID)
}

func TestEngine_Submit_PayloadIsRedactedBeforePersistence(t *testing.T) {
	engine, store := newTestEngine(t, func(rec *Record) error { return nil })

	result, err := engine.Submit(context.Background(), SubmitRequest{
		WorkflowPackID: "pack.ops",
		WorkflowType:   "operational",
		Payload:        json.RawMessage(`{"contact": "jane.doe@example.com"}`),
		Requester:      "alice",
		TenantID:       "t1",
	})
	require.NoError(t, err)

	rec, err := store.GetRecord(result.Record.WorkflowID)
	require.NoError(t, err)
	assert.Contains(t, string(rec.Payload), "[REDACTED-EMAIL]")
	assert.NotContains(t, string(rec.Payload), "jane.doe@example.com")
}
