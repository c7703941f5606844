package synclogs

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

var columnNames = []string{"id", "owner_id", "device_id", "type", "status", "data_types", "items_synced",
	"bytes_synced", "duration_ms", "conflicts", "error", "started_at", "completed_at", "updated_at"}

func row(status string, jobErr any) []driver.Value {
	ts := time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC)
	return []driver.Value{
		"s1", "u1", "d1", "manual", status, []byte(`["passwords"]`), []byte(`{"passwords":3,"documents":0,"qrcodes":0}`),
		int64(300), int64(1500),
		[]byte(`[{"field":"passwords/p1","category":"passwords","itemId":"p1","localValue":"a","remoteValue":"b","serverVersion":2,"serverChecksum":"a"}]`),
		jobErr, ts, nil, ts,
	}
}

func TestCreate(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO sync_logs`).
		WithArgs("s1", "u1", "d1", "manual", "initiated", []byte(`["passwords"]`), sqlmock.AnyArg(), int64(0),
			int64(0), []byte("[]"), nil, sqlmock.AnyArg(), nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Create(context.Background(), &models.SyncLog{
		ID: "s1", OwnerID: "u1", DeviceID: "d1", Type: models.SyncTypeManual, Status: models.SyncStatusInitiated,
		DataTypes: []models.DataType{models.DataTypePasswords}, StartedAt: time.Now(), UpdatedAt: time.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_ActiveExistsIsConflict(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO sync_logs`).WillReturnError(&pgconn.PgError{Code: "23505"})

	err := repo.Create(context.Background(), &models.SyncLog{ID: "s2", DeviceID: "d1"})
	require.ErrorIs(t, err, common.ErrConflict)
}

func TestGet_DecodesConflictsAndDuration(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`FROM sync_logs WHERE id = \$1`).WithArgs("s1").
		WillReturnRows(sqlmock.NewRows(columnNames).AddRow(row("completed", nil)...))

	l, err := repo.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusCompleted, l.Status)
	assert.Equal(t, 1500*time.Millisecond, l.Duration)
	assert.Equal(t, 3, l.ItemsSynced.Passwords)
	require.Len(t, l.Conflicts, 1)
	assert.Equal(t, "p1", l.Conflicts[0].ItemID)
	assert.False(t, l.Conflicts[0].Resolved())
	assert.Equal(t, 1, l.UnresolvedConflicts())
	assert.Nil(t, l.CompletedAt)
}

func TestGet_DecodesError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`FROM sync_logs WHERE id = \$1`).WithArgs("s1").
		WillReturnRows(sqlmock.NewRows(columnNames).
			AddRow(row("failed", []byte(`{"message":"cancelled by user","code":"UserCancelled"}`))...))

	l, err := repo.Get(context.Background(), "s1")
	require.NoError(t, err)
	require.NotNil(t, l.Error)
	assert.Equal(t, common.CodeUserCancelled, l.Error.Code)
}

func TestGetActiveByDevice_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`WHERE device_id = \$1 AND status IN \('initiated', 'in_progress'\)`).WithArgs("d1").
		WillReturnRows(sqlmock.NewRows(columnNames))

	_, err := repo.GetActiveByDevice(context.Background(), "d1")
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestListByDevice(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`WHERE device_id = \$1 ORDER BY started_at DESC LIMIT \$2`).WithArgs("d1", 10).
		WillReturnRows(sqlmock.NewRows(columnNames).AddRow(row("completed", nil)...).AddRow(row("failed", nil)...))

	list, err := repo.ListByDevice(context.Background(), "d1", 10)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestListByDevice_QueryError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`FROM sync_logs`).WillReturnError(errors.New("boom"))

	_, err := repo.ListByDevice(context.Background(), "d1", 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to select sync logs")
}

func TestStart(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE sync_logs SET status = 'in_progress'`).
		WithArgs(sqlmock.AnyArg(), "s1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.Start(context.Background(), &models.SyncLog{ID: "s1", UpdatedAt: time.Now()})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFinish_DoesNotOverwriteTerminal(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`WHERE id = \$9 AND status IN \('initiated', 'in_progress'\)`).
		WithArgs("completed", sqlmock.AnyArg(), int64(10), int64(2000), []byte("[]"), nil, sqlmock.AnyArg(),
			sqlmock.AnyArg(), "s1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	now := time.Now()
	ok, err := repo.Finish(context.Background(), &models.SyncLog{
		ID: "s1", Status: models.SyncStatusCompleted, BytesSynced: 10, Duration: 2 * time.Second,
		CompletedAt: &now, UpdatedAt: now,
	})
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateConflicts(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE sync_logs SET conflicts = \$1`).WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "s1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE sync_logs SET conflicts = \$1`).WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "gone").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.UpdateConflicts(context.Background(), &models.SyncLog{ID: "s1"}))
	require.ErrorIs(t, repo.UpdateConflicts(context.Background(), &models.SyncLog{ID: "gone"}), common.ErrNotFound)
}

func TestListStale(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`status IN \('initiated', 'in_progress'\) AND updated_at < \$1`).
		WillReturnRows(sqlmock.NewRows(columnNames).AddRow(row("in_progress", nil)...))

	list, err := repo.ListStale(context.Background(), time.Now())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, models.SyncStatusInProgress, list[0].Status)
}
