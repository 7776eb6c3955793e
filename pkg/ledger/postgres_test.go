package ledger

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func TestPostgresStore_Append_GenesisWhenChainEmpty(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT chain_hash FROM ledger_events").
		WithArgs("tenant-a").
		WillReturnRows(sqlmock.NewRows([]string{"chain_hash"}))
	mock.ExpectExec("INSERT INTO ledger_events").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	store := NewPostgresStore(db)
	result, err := store.Append(AppendRequest{
		TenantID:  "tenant-a",
		EventType: EventType("workflow.submitted"),
		EventData: map[string]interface{}{"amount": 100},
	})
	require.NoError(t, err)
	require.NotEmpty(t, result.ChainHash)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Append_ChainsOffPreviousHash(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT chain_hash FROM ledger_events").
		WithArgs("tenant-a").
		WillReturnRows(sqlmock.NewRows([]string{"chain_hash"}).AddRow("abc123"))
	mock.ExpectExec("INSERT INTO ledger_events").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	store := NewPostgresStore(db)
	result, err := store.Append(AppendRequest{
		TenantID:  "tenant-a",
		EventType: EventType("workflow.approved"),
		EventData: map[string]interface{}{"task_id": "t-1"},
	})
	require.NoError(t, err)
	require.NotEqual(t, "abc123", result.ChainHash)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Append_RollsBackOnInsertError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT chain_hash FROM ledger_events").
		WithArgs("tenant-a").
		WillReturnRows(sqlmock.NewRows([]string{"chain_hash"}))
	mock.ExpectExec("INSERT INTO ledger_events").
		WillReturnError(sqlmock.ErrCancelled)
	mock.ExpectRollback()

	store := NewPostgresStore(db)
	_, err = store.Append(AppendRequest{TenantID: "tenant-a", EventType: EventType("x"), EventData: map[string]interface{}{}})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
