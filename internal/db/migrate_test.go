package db

import (
	"context"
	"database/sql"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var (
	existsQuery = regexp.QuoteMeta(`SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)`)
	recordExec  = regexp.QuoteMeta(`INSERT INTO schema_migrations (version) VALUES ($1)`)
)

func TestMigrationFiles_Sorted(t *testing.T) {
	files, err := migrationFiles()
	require.NoError(t, err)
	require.NotEmpty(t, files)
	assert.Equal(t, "000_create_schema_migrations.sql", files[0])
	assert.IsNonDecreasing(t, files)
}

func TestMigrate_FreshDatabase(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	files, err := migrationFiles()
	require.NoError(t, err)

	for i, f := range files {
		version := f[:3]
		if i == 0 {
			mock.ExpectQuery(existsQuery).WithArgs(version).
				WillReturnError(sql.ErrNoRows)
		} else {
			mock.ExpectQuery(existsQuery).WithArgs(version).
				WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		}
		mock.ExpectBegin()
		mock.ExpectExec("CREATE TABLE").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(recordExec).
			WithArgs(version).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()
	}

	n, err := Migrate(context.Background(), conn, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	assert.Equal(t, len(files), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate_AlreadyApplied(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	files, err := migrationFiles()
	require.NoError(t, err)
	for _, f := range files {
		mock.ExpectQuery(existsQuery).WithArgs(f[:3]).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	}

	n, err := Migrate(context.Background(), conn, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate_MissingTableAfterBaseline(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	mock.ExpectQuery(existsQuery).WithArgs("000").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(existsQuery).WithArgs("001").
		WillReturnError(sql.ErrConnDone)

	_, err = Migrate(context.Background(), conn, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "001_create_jobs.sql")
}
