package webhook

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock
}

func TestRepository_Create(t *testing.T) {
	db, mock := setupTestDB(t)
	defer db.Close()

	repo := NewRepository(db)
	mock.ExpectExec(`INSERT INTO webhook_endpoints`).WillReturnResult(sqlmock.NewResult(1, 1))

	e, err := repo.Create(context.Background(), Endpoint{
		TenantID:   "tenant-1",
		WorkflowID: "wf-1",
		NodeID:     "start",
		Provider:   "slack",
		Secret:     "s3cr3t",
		Enabled:    true,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, e.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_Get_NotFound(t *testing.T) {
	db, mock := setupTestDB(t)
	defer db.Close()

	repo := NewRepository(db)
	mock.ExpectQuery(`SELECT \* FROM webhook_endpoints`).WillReturnRows(sqlmock.NewRows(nil))

	_, err := repo.Get(context.Background(), "tenant-1", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRepository_Delete_NotFound(t *testing.T) {
	db, mock := setupTestDB(t)
	defer db.Close()

	repo := NewRepository(db)
	mock.ExpectExec(`DELETE FROM webhook_endpoints`).WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Delete(context.Background(), "tenant-1", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
