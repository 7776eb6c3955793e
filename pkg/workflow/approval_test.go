package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_Resolve_TransitionsExactlyOnce(t *testing.T) {
	store := NewMemoryStore()
	task := &ApprovalTask{TaskID: "task-1", WorkflowID: "wf-1", Status: ApprovalPending}
	require.NoError(t, store.Create(task))

	first, outcome, err := store.Resolve("task-1", true, "bob", nil, time.Now())
	require.NoError(t, err)
	assert.Equal(t, OutcomeResolved, outcome)
	assert.Equal(t, ApprovalApproved, first.Status)

	second, outcome, err := store.Resolve("task-1", false, "carol", nil, time.Now())
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyResolved, outcome)
	assert.Equal(t, ApprovalApproved, second.Status) // unchanged, still approved
}

func TestMemoryStore_Resolve_UnknownTask(t *testing.T) {
	store := NewMemoryStore()
	_, _, err := store.Resolve("missing", true, "bob", nil, time.Now())
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestMemoryStore_RecordRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	rec := &Record{WorkflowID: "wf-1", State: StateExecuting}
	require.NoError(t, store.CreateRecord(rec))

	got, err := store.GetRecord("wf-1")
	require.NoError(t, err)
	assert.Equal(t, StateExecuting, got.State)

	got.State = StateExecuted
	require.NoError(t, store.UpdateRecord(got))

	got2, err := store.GetRecord("wf-1")
	require.NoError(t, err)
	assert.Equal(t, StateExecuted, got2.State)
}

func TestMemoryStore_UpdateRecord_UnknownWorkflow(t *testing.T) {
	store := NewMemoryStore()
	err := store.UpdateRecord(&Record{WorkflowID: "missing"})
	assert.ErrorIs(t, err, ErrWorkflowNotFound)
}
