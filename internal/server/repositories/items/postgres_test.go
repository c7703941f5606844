package items

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/vaultguard/internal/common"
	"github.com/dmitrijs2005/vaultguard/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return NewPostgresRepository(db), mock, db
}

func TestListActiveItems(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	exp := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`FROM vault_items WHERE owner_id = \$1 AND type = \$2 AND is_active ORDER BY id`).
		WithArgs("u1", "qrcodes").
		WillReturnRows(sqlmock.NewRows([]string{"id", "owner_id", "type", "title", "category", "data",
			"encoded_data", "expires_at", "version", "checksum", "size_bytes", "is_active", "updated_at"}).
			AddRow("q1", "u1", "qrcodes", "Visa", "credit", `{"expiry":"02/25"}`, "", nil, int64(2), "c", int64(18),
				true, exp).
			AddRow("q2", "u1", "qrcodes", "Train", "boarding_pass", `{}`, `{"expiry":"03/25"}`, exp, int64(1), "d",
				int64(2), true, exp))

	list, err := repo.ListActiveItems(context.Background(), "u1", models.DataTypeQRCodes)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, models.DataTypeQRCodes, list[0].Type)
	assert.Nil(t, list[0].ExpiresAt)
	require.NotNil(t, list[1].ExpiresAt)
	assert.Equal(t, `{"expiry":"03/25"}`, list[1].EncodedData)
}

func TestListActiveItems_QueryError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`FROM vault_items`).WillReturnError(errors.New("boom"))
	_, err := repo.ListActiveItems(context.Background(), "u1", models.DataTypePasswords)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to select items")
}

func TestCountItems(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM vault_items`).WithArgs("u1", "documents").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))

	n, err := repo.CountItems(context.Background(), "u1", models.DataTypeDocuments)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestListOwners(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT DISTINCT owner_id FROM vault_items`).
		WillReturnRows(sqlmock.NewRows([]string{"owner_id"}).AddRow("u1").AddRow("u2"))

	owners, err := repo.ListOwners(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, owners)
}

func TestAcceptRemote(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)UPDATE vault_items SET checksum = \$1, version = version \+ 1,.* RETURNING version`).
		WithArgs("c2", "p1", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(int64(5)))
	mock.ExpectQuery(`UPDATE vault_items`).
		WithArgs("c2", "gone", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"version"}))

	v, err := repo.AcceptRemote(context.Background(), "u1", "p1", "c2")
	require.NoError(t, err)
	assert.Equal(t, int64(5), v)

	_, err = repo.AcceptRemote(context.Background(), "u1", "gone", "c2")
	require.ErrorIs(t, err, common.ErrNotFound)
}
