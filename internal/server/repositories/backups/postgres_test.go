package backups

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/vaultguard/internal/common"
	"github.com/dmitrijs2005/vaultguard/internal/server/models"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return NewPostgresRepository(db), mock, db
}

var columnNames = []string{"id", "owner_id", "kind", "status", "data_types", "selection", "size_bytes",
	"items_backed_up", "storage_location", "checksum", "algorithm", "key_material", "iv", "health", "restorable",
	"error", "started_at", "completed_at", "last_restored_at", "updated_at"}

func sampleRow(status string, completed any) []driver.Value {
	started := time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC)
	return []driver.Value{
		"b1", "u1", "selective", status,
		[]byte(`["passwords"]`), []byte(`{"passwordIds":["p1","p2"],"documentIds":[],"qrcodeIds":[]}`), int64(512),
		[]byte(`{"passwords":2,"documents":0,"qrcodes":0}`), "backups/u1/b1", "abc", "AES-256-GCM",
		[]byte("km"), []byte("iv"), []byte(`{"integrityScore":100,"encryptionStrength":"AES-256-GCM","verificationStatus":"verified"}`),
		true, nil, started, completed, nil, started,
	}
}

func TestCreate_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO backups`).
		WithArgs("b1", "u1", "full", "initiated", []byte(`["passwords","documents","qrcodes"]`), nil, int64(0),
			sqlmock.AnyArg(), "", "", "", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), false, nil,
			sqlmock.AnyArg(), nil, nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Create(context.Background(), &models.Backup{
		ID: "b1", OwnerID: "u1", Kind: models.BackupKindFull, Status: models.BackupStatusInitiated,
		DataTypes: models.AllDataTypes, StartedAt: time.Now(), UpdatedAt: time.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_UniqueViolationIsConflict(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO backups`).WillReturnError(&pgconn.PgError{Code: "23505"})

	err := repo.Create(context.Background(), &models.Backup{ID: "b2", OwnerID: "u1"})
	require.ErrorIs(t, err, common.ErrConflict)
}

func TestCreate_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO backups`).WillReturnError(errors.New("db is down"))

	err := repo.Create(context.Background(), &models.Backup{ID: "b2", OwnerID: "u1"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, common.ErrConflict)
	assert.Contains(t, err.Error(), "db is down")
}

func TestGet_DecodesRow(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	completed := time.Date(2025, 2, 1, 10, 1, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT .* FROM backups WHERE id = \$1`).
		WithArgs("b1").
		WillReturnRows(sqlmock.NewRows(columnNames).AddRow(sampleRow("completed", completed)...))

	b, err := repo.Get(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, models.BackupKindSelective, b.Kind)
	assert.Equal(t, models.BackupStatusCompleted, b.Status)
	assert.Equal(t, []models.DataType{models.DataTypePasswords}, b.DataTypes)
	require.NotNil(t, b.Selection)
	assert.Equal(t, []string{"p1", "p2"}, b.Selection.PasswordIDs)
	assert.Equal(t, 2, b.ItemsBackedUp.Passwords)
	assert.Equal(t, 100, b.Health.IntegrityScore)
	assert.Equal(t, models.VerificationVerified, b.Health.VerificationStatus)
	assert.Nil(t, b.Error)
	require.NotNil(t, b.CompletedAt)
	assert.True(t, completed.Equal(*b.CompletedAt))
	assert.Nil(t, b.LastRestoredAt)
}

func TestGet_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT .* FROM backups WHERE id = \$1`).
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows(columnNames))

	_, err := repo.Get(context.Background(), "nope")
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestGetActive_FiltersByStatus(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`FROM backups WHERE owner_id = \$1 AND status IN \('initiated', 'in_progress'\)`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows(columnNames).AddRow(sampleRow("in_progress", nil)...))

	b, err := repo.GetActive(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, models.BackupStatusInProgress, b.Status)
	assert.Nil(t, b.CompletedAt)
}

func TestListByOwner(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	rows := sqlmock.NewRows(columnNames).
		AddRow(sampleRow("completed", time.Now())...).
		AddRow(sampleRow("failed", time.Now())...)
	mock.ExpectQuery(`FROM backups WHERE owner_id = \$1 ORDER BY started_at DESC`).WithArgs("u1").WillReturnRows(rows)

	list, err := repo.ListByOwner(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, models.BackupStatusFailed, list[1].Status)
}

func TestListStale(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	before := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`status IN \('initiated', 'in_progress', 'restoring'\) AND updated_at < \$1`).
		WithArgs(before).
		WillReturnRows(sqlmock.NewRows(columnNames).AddRow(sampleRow("initiated", nil)...))

	list, err := repo.ListStale(context.Background(), before)
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestTransition(t *testing.T) {
	cases := []struct {
		name    string
		result  driver.Result
		want    bool
		wantErr bool
	}{
		{"applied", sqlmock.NewResult(0, 1), true, false},
		{"lost race", sqlmock.NewResult(0, 0), false, false},
		{"rows error", sqlmock.NewErrorResult(errors.New("rows-err")), false, true},
		{"too many", sqlmock.NewResult(0, 2), false, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo, mock, db := newRepoWithMock(t)
			defer db.Close()

			mock.ExpectExec(`UPDATE backups SET .* WHERE id = \$16 AND status = \$17`).
				WillReturnResult(tc.result)

			ok, err := repo.Transition(context.Background(), &models.Backup{
				ID: "b1", Status: models.BackupStatusCompleted, UpdatedAt: time.Now(),
			}, models.BackupStatusInProgress)
			assert.Equal(t, tc.want, ok)
			if tc.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestUpdateHealth(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE backups SET health = \$1, updated_at = \$2 WHERE id = \$3 AND status = 'completed'`).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "b1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateHealth(context.Background(), &models.Backup{ID: "b1", UpdatedAt: time.Now()})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDelete(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`DELETE FROM backups WHERE id = \$1 AND owner_id = \$2`).
		WithArgs("b1", "u1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM backups`).
		WithArgs("b1", "u2").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.Delete(context.Background(), "u1", "b1"))
	require.ErrorIs(t, repo.Delete(context.Background(), "u2", "b1"), common.ErrNotFound)
}
