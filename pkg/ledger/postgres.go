package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/compliantcore/platform/pkg/canonicalize"
)

// PostgresStore is a durable, tenant-partitioned ledger backed by Postgres.
// Append serializes per tenant via SELECT ... FOR UPDATE on the chain's tail
// row inside a transaction, so two concurrent appenders for the same tenant
// cannot both observe the same previous_hash.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an already-opened *sql.DB.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const pgLedgerSchema = `
CREATE TABLE IF NOT EXISTS ledger_events (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	event_type TEXT NOT NULL,
	event_data JSONB NOT NULL,
	content_hash TEXT NOT NULL,
	previous_hash TEXT NOT NULL,
	chain_hash TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	user_id TEXT,
	correlation_id TEXT,
	description TEXT
);

CREATE INDEX IF NOT EXISTS idx_ledger_events_tenant_created
	ON ledger_events (tenant_id, created_at DESC);

CREATE INDEX IF NOT EXISTS idx_ledger_events_tenant_type
	ON ledger_events (tenant_id, event_type);

CREATE INDEX IF NOT EXISTS idx_ledger_events_correlation
	ON ledger_events (tenant_id, correlation_id);
`

// Init creates the ledger table and indexes if they do not already exist.
func (s *PostgresStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, pgLedgerSchema)
	return err
}

// Append implements Store.
func (s *PostgresStore) Append(req AppendRequest) (*AppendResult, error) {
	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("ledger: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Lock the tenant's chain tail so a concurrent Append for the same
	// tenant blocks until this one commits or rolls back.
	var prevHash string
	err = tx.QueryRowContext(ctx, `
		SELECT chain_hash FROM ledger_events
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		FOR UPDATE
		LIMIT 1
	`, req.TenantID).Scan(&prevHash)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		prevHash = Genesis
	case err != nil:
		return nil, fmt.Errorf("ledger: read chain tail: %w", err)
	}

	contentHash, err := canonicalize.CanonicalHash(req.EventData)
	if err != nil {
		return nil, fmt.Errorf("ledger: canonicalize event data: %w", err)
	}
	data, err := canonicalize.JCS(req.EventData)
	if err != nil {
		return nil, fmt.Errorf("ledger: marshal event data: %w", err)
	}
	chainHash := canonicalize.HashBytes([]byte(contentHash + prevHash))

	id := uuid.NewString()
	createdAt := time.Now().UTC()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_events
			(id, tenant_id, event_type, event_data, content_hash, previous_hash, chain_hash, created_at, user_id, correlation_id, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, id, req.TenantID, string(req.EventType), data, contentHash, prevHash, chainHash, createdAt, req.UserID, req.CorrelationID, req.Description)
	if err != nil {
		return nil, fmt.Errorf("ledger: insert event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("ledger: commit: %w", err)
	}

	return &AppendResult{ID: id, ChainHash: chainHash, CreatedAt: createdAt}, nil
}

// Query implements Store.
func (s *PostgresStore) Query(p Page) (*PageResult, error) {
	if err := validatePage(p); err != nil {
		return nil, err
	}
	ctx := context.Background()

	where := "WHERE tenant_id = $1"
	args := []interface{}{p.TenantID}
	n := 1
	if p.EventType != "" {
		n++
		where += fmt.Sprintf(" AND event_type = $%d", n)
		args = append(args, string(p.EventType))
	}
	if p.CorrelationID != "" {
		n++
		where += fmt.Sprintf(" AND correlation_id = $%d", n)
		args = append(args, p.CorrelationID)
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM ledger_events " + where
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("ledger: count: %w", err)
	}

	args = append(args, p.Limit, p.Offset)
	listQuery := fmt.Sprintf(`
		SELECT id, tenant_id, event_type, event_data, content_hash, previous_hash, chain_hash, created_at, user_id, correlation_id, description
		FROM ledger_events %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, where, n+1, n+2)

	rows, err := s.db.QueryContext(ctx, listQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger: query: %w", err)
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}

	return &PageResult{Events: events, Total: total, Limit: p.Limit, Offset: p.Offset}, nil
}

// AllForVerify implements Store.
func (s *PostgresStore) AllForVerify(tenantID string) ([]*Event, error) {
	ctx := context.Background()
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, event_type, event_data, content_hash, previous_hash, chain_hash, created_at, user_id, correlation_id, description
		FROM ledger_events
		WHERE tenant_id = $1
		ORDER BY created_at ASC
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("ledger: query chain: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]*Event, error) {
	var out []*Event
	for rows.Next() {
		var (
			ev                                       Event
			userID, correlationID, description       sql.NullString
		)
		if err := rows.Scan(
			&ev.ID, &ev.TenantID, &ev.EventType, &ev.EventData, &ev.ContentHash,
			&ev.PreviousHash, &ev.ChainHash, &ev.CreatedAt, &userID, &correlationID, &description,
		); err != nil {
			return nil, fmt.Errorf("ledger: scan row: %w", err)
		}
		ev.UserID = userID.String
		ev.CorrelationID = correlationID.String
		ev.Description = description.String
		out = append(out, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
