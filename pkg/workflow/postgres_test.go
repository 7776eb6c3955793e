package workflow

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func TestPostgresStore_Resolve_CASWinsOnPendingTask(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	mock.ExpectExec("UPDATE workflow_approval_tasks").
		WithArgs("approved", "reviewer-1", now, []byte("{}"), "task-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT task_id, workflow_id, requester, created_at, payload_hash, status, approved_by, approved_at, approval_data").
		WithArgs("task-1").
		WillReturnRows(sqlmock.NewRows(
			[]string{"task_id", "workflow_id", "requester", "created_at", "payload_hash", "status", "approved_by", "approved_at", "approval_data"},
		).AddRow("task-1", "wf-1", "requester-1", now, "hash", "approved", "reviewer-1", now, []byte("{}")))

	store := NewPostgresStore(db)
	task, outcome, err := store.Resolve("task-1", true, "reviewer-1", map[string]interface{}{}, now)
	require.NoError(t, err)
	require.Equal(t, OutcomeResolved, outcome)
	require.Equal(t, ApprovalApproved, task.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Resolve_AlreadyResolvedWhenNoRowsAffected(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	mock.ExpectExec("UPDATE workflow_approval_tasks").
		WithArgs("rejected", "reviewer-2", now, []byte("{}"), "task-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT task_id, workflow_id, requester, created_at, payload_hash, status, approved_by, approved_at, approval_data").
		WithArgs("task-1").
		WillReturnRows(sqlmock.NewRows(
			[]string{"task_id", "workflow_id", "requester", "created_at", "payload_hash", "status", "approved_by", "approved_at", "approval_data"},
		).AddRow("task-1", "wf-1", "requester-1", now, "hash", "approved", "reviewer-1", now, []byte("{}")))

	store := NewPostgresStore(db)
	task, outcome, err := store.Resolve("task-1", false, "reviewer-2", map[string]interface{}{}, now)
	require.NoError(t, err)
	require.Equal(t, OutcomeAlreadyResolved, outcome)
	// The first resolution wins; the task reflects its original approver.
	require.Equal(t, "reviewer-1", task.ApprovedBy)
	require.NoError(t, mock.ExpectationsWereMet())
}
