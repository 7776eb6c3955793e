package workflow

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresStore is a durable ApprovalStore + RecordStore backed by Postgres.
// Resolve performs the pending -> approved|rejected transition as a single
// conditional UPDATE (`WHERE status = 'pending'`); RowsAffected distinguishes
// the winning caller from a concurrent replay without a separate lock.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an already-opened *sql.DB.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const pgWorkflowSchema = `
CREATE TABLE IF NOT EXISTS workflow_records (
	workflow_id TEXT PRIMARY KEY,
	workflow_pack_id TEXT NOT NULL,
	workflow_type TEXT NOT NULL,
	payload JSONB NOT NULL,
	input_hash TEXT NOT NULL,
	state TEXT NOT NULL,
	approval_task_id TEXT,
	approved_by TEXT,
	approved_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL,
	correlation_id TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS workflow_approval_tasks (
	task_id TEXT PRIMARY KEY,
	workflow_id TEXT NOT NULL REFERENCES workflow_records(workflow_id),
	requester TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	payload_hash TEXT NOT NULL,
	status TEXT NOT NULL,
	approved_by TEXT,
	approved_at TIMESTAMPTZ,
	approval_data JSONB
);
`

// Init creates the workflow tables if they do not already exist.
func (s *PostgresStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, pgWorkflowSchema)
	return err
}

func (s *PostgresStore) Create(task *ApprovalTask) error {
	ctx := context.Background()
	approvalData, err := json.Marshal(task.ApprovalData)
	if err != nil {
		return fmt.Errorf("workflow: marshal approval_data: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflow_approval_tasks
			(task_id, workflow_id, requester, created_at, payload_hash, status, approved_by, approved_at, approval_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, task.TaskID, task.WorkflowID, task.Requester, task.CreatedAt, task.PayloadHash,
		string(task.Status), task.ApprovedBy, task.ApprovedAt, approvalData)
	if err != nil {
		return fmt.Errorf("workflow: insert approval task: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(taskID string) (*ApprovalTask, error) {
	ctx := context.Background()
	return scanApprovalTask(s.db.QueryRowContext(ctx, `
		SELECT task_id, workflow_id, requester, created_at, payload_hash, status, approved_by, approved_at, approval_data
		FROM workflow_approval_tasks WHERE task_id = $1
	`, taskID))
}

// Resolve implements the CAS transition via a conditional UPDATE. If zero
// rows are affected, the task was already resolved by a prior caller and the
// current stored state is returned with OutcomeAlreadyResolved.
func (s *PostgresStore) Resolve(taskID string, approved bool, approvedBy string, approvalData map[string]interface{}, now time.Time) (*ApprovalTask, ApprovalOutcome, error) {
	ctx := context.Background()
	status := ApprovalRejected
	if approved {
		status = ApprovalApproved
	}

	dataJSON, err := json.Marshal(approvalData)
	if err != nil {
		return nil, OutcomeResolved, fmt.Errorf("workflow: marshal approval_data: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE workflow_approval_tasks
		SET status = $1, approved_by = $2, approved_at = $3, approval_data = $4
		WHERE task_id = $5 AND status = 'pending'
	`, string(status), approvedBy, now, dataJSON, taskID)
	if err != nil {
		return nil, OutcomeResolved, fmt.Errorf("workflow: resolve approval task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, OutcomeResolved, fmt.Errorf("workflow: rows affected: %w", err)
	}

	task, err := s.Get(taskID)
	if err != nil {
		return nil, OutcomeResolved, err
	}
	if affected == 0 {
		return task, OutcomeAlreadyResolved, nil
	}
	return task, OutcomeResolved, nil
}

func (s *PostgresStore) CreateRecord(rec *Record) error {
	ctx := context.Background()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workflow_records
			(workflow_id, workflow_pack_id, workflow_type, payload, input_hash, state, approval_task_id, approved_by, approved_at, created_at, correlation_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, rec.WorkflowID, rec.WorkflowPackID, rec.WorkflowType, []byte(rec.Payload), rec.InputHash,
		string(rec.State), nullString(rec.ApprovalTaskID), nullString(rec.ApprovedBy), rec.ApprovedAt, rec.CreatedAt, rec.CorrelationID)
	if err != nil {
		return fmt.Errorf("workflow: insert record: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetRecord(workflowID string) (*Record, error) {
	ctx := context.Background()
	return scanRecord(s.db.QueryRowContext(ctx, `
		SELECT workflow_id, workflow_pack_id, workflow_type, payload, input_hash, state, approval_task_id, approved_by, approved_at, created_at, correlation_id
		FROM workflow_records WHERE workflow_id = $1
	`, workflowID))
}

func (s *PostgresStore) UpdateRecord(rec *Record) error {
	ctx := context.Background()
	res, err := s.db.ExecContext(ctx, `
		UPDATE workflow_records
		SET state = $1, approval_task_id = $2, approved_by = $3, approved_at = $4, payload = $5
		WHERE workflow_id = $6
	`, string(rec.State), nullString(rec.ApprovalTaskID), nullString(rec.ApprovedBy), rec.ApprovedAt, []byte(rec.Payload), rec.WorkflowID)
	if err != nil {
		return fmt.Errorf("workflow: update record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrWorkflowNotFound
	}
	return nil
}

func scanApprovalTask(row *sql.Row) (*ApprovalTask, error) {
	var (
		task         ApprovalTask
		approvedBy   sql.NullString
		approvedAt   sql.NullTime
		approvalData []byte
		status       string
	)
	if err := row.Scan(&task.TaskID, &task.WorkflowID, &task.Requester, &task.CreatedAt,
		&task.PayloadHash, &status, &approvedBy, &approvedAt, &approvalData); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("workflow: scan approval task: %w", err)
	}
	task.Status = ApprovalStatus(status)
	task.ApprovedBy = approvedBy.String
	if approvedAt.Valid {
		task.ApprovedAt = &approvedAt.Time
	}
	if len(approvalData) > 0 {
		_ = json.Unmarshal(approvalData, &task.ApprovalData)
	}
	return &task, nil
}

func scanRecord(row *sql.Row) (*Record, error) {
	var (
		rec            Record
		payload        []byte
		approvalTaskID sql.NullString
		approvedBy     sql.NullString
		approvedAt     sql.NullTime
		state          string
	)
	if err := row.Scan(&rec.WorkflowID, &rec.WorkflowPackID, &rec.WorkflowType, &payload, &rec.InputHash,
		&state, &approvalTaskID, &approvedBy, &approvedAt, &rec.CreatedAt, &rec.CorrelationID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrWorkflowNotFound
		}
		return nil, fmt.Errorf("workflow: scan record: %w", err)
	}
	rec.Payload = payload
	rec.State = State(state)
	rec.ApprovalTaskID = approvalTaskID.String
	rec.ApprovedBy = approvedBy.String
	if approvedAt.Valid {
		rec.ApprovedAt = &approvedAt.Time
	}
	return &rec, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
