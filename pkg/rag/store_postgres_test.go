package rag

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func TestPostgresStore_PutDocument_Upserts(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO rag_documents").
		WillReturnResult(sqlmock.NewResult(1, 1))

	store := NewPostgresStore(db, 384)
	err = store.PutDocument(context.Background(), Document{
		ID: "doc-1", TenantID: "tenant-a", Level: LevelModule,
		Title: "GTAS control set", AccessLevel: AccessInternal, Status: "active",
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_BumpStats_UpsertsPerDocument(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO rag_kb_stats").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO rag_kb_stats").
		WillReturnResult(sqlmock.NewResult(1, 1))

	store := NewPostgresStore(db, 384)
	err = store.BumpStats(context.Background(), []string{"doc-1", "doc-2"}, time.Now())
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetDocument_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT id, tenant_id, level, suite_id, module_id, title, source_type, access_level, status").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "level", "suite_id", "module_id", "title", "source_type", "access_level", "status"}))

	store := NewPostgresStore(db, 384)
	_, err = store.GetDocument(context.Background(), "missing")
	require.ErrorIs(t, err, ErrDocumentNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
