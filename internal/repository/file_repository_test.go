package repository

import (
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestFindByHashAndPathNoRowsIsNilNotError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewFileRepository(db)

	mock.ExpectQuery("SELECT id, library_id, path").
		WithArgs(int64(12345), "/movies/a.mkv").
		WillReturnError(sql.ErrNoRows)

	f, err := repo.FindByHashAndPath(12345, "/movies/a.mkv")
	require.NoError(t, err)
	require.Nil(t, f)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByPathReturnsMostRecentRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewFileRepository(db)

	libID := uuid.New()
	fileID := uuid.New()
	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "library_id", "path", "size", "hash", "mime", "duration_seconds", "container",
		"probe_score", "file_status", "movie_entry_id", "episode_id", "created_at", "updated_at",
	}).AddRow(fileID, libID, "/movies/a.mkv", int64(100), int64(42), nil, nil, nil, nil, "known", nil, nil, now, now)
	mock.ExpectQuery("SELECT id, library_id, path").
		WithArgs(libID, "/movies/a.mkv").
		WillReturnRows(rows)

	f, err := repo.FindByPath(libID, "/movies/a.mkv")
	require.NoError(t, err)
	require.Equal(t, fileID, f.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkChangedSetsStatus(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewFileRepository(db)

	id := uuid.New()
	mock.ExpectExec("UPDATE files SET file_status").
		WithArgs(id, "changed").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.MarkChanged(id))
	require.NoError(t, mock.ExpectationsWereMet())
}
