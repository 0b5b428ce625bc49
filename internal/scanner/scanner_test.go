package scanner

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/beamstream/vault/internal/ffmpeg"
	"github.com/beamstream/vault/internal/fingerprint"
	"github.com/beamstream/vault/internal/models"
	"github.com/beamstream/vault/internal/repository"
)

var fixedTime = time.Now()

func writeFakeFFprobe(t *testing.T, json string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "ffprobe")
	script := fmt.Sprintf("#!/bin/sh\ncat <<'EOF'\n%s\nEOF\n", json)
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

const testProbeJSON = `{
	"format": {"format_name": "mov,mp4,m4a,3gp,3g2,mj2", "duration": "10.0", "size": "123", "bit_rate": "1000", "probe_score": 100, "tags": {}},
	"streams": [
		{"index": 0, "codec_type": "video", "codec_name": "h264", "disposition": {"default": 1, "forced": 0}},
		{"index": 1, "codec_type": "audio", "codec_name": "aac", "disposition": {"default": 1, "forced": 0}}
	],
	"chapters": []
}`

// scannerHarness wires a Scanner against a sqlmock-backed *sql.DB and a fake
// ffprobe binary, returning a library whose root holds one undiscovered
// movie file.
func scannerHarness(t *testing.T) (*Scanner, sqlmock.Sqlmock, *models.Library, string) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	libRepo := repository.NewLibraryRepository(db)
	catRepo := repository.NewCatalogRepository(db)
	fileRepo := repository.NewFileRepository(db)
	streamRepo := repository.NewMediaStreamRepository(db)

	hasher := fingerprint.New(1)
	ffprobePath := writeFakeFFprobe(t, testProbeJSON)
	prober := ffmpeg.NewProber(ffprobePath, 1)

	s := New(db, hasher, prober, libRepo, catRepo, fileRepo, streamRepo, 1, []string{".mkv"})

	root := t.TempDir()
	lib := &models.Library{ID: uuid.New(), RootPath: root}
	videoPath := filepath.Join(root, "Arrival (2016).mkv")
	require.NoError(t, os.WriteFile(videoPath, []byte("fake movie bytes"), 0o644))

	return s, mock, lib, videoPath
}

// expectDedupeLookups wires the two pre-transaction lookups processNewFile
// always runs before it decides this is a brand new file.
func expectDedupeLookups(mock sqlmock.Sqlmock) {
	mock.ExpectQuery("SELECT id, library_id, path, size, hash").WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("SELECT id, library_id, path, size, hash").WillReturnError(sql.ErrNoRows)
}

// TestProcessNewFilePersistsMovieAndStreamsTransactionally exercises the
// happy path of the persist sequence spec.md §4.4/§5 requires bracketed in
// one transaction: classification find-or-creates, the File row and both
// MediaStream rows all land under a single Begin/Commit.
func TestProcessNewFilePersistsMovieAndStreamsTransactionally(t *testing.T) {
	s, mock, lib, videoPath := scannerHarness(t)

	expectDedupeLookups(mock)

	mock.ExpectBegin()

	mock.ExpectQuery("SELECT id, title, runtime_seconds").
		WithArgs("Arrival").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("SAVEPOINT catalog_create").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("INSERT INTO movies").
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(fixedTime, fixedTime))
	mock.ExpectExec("RELEASE SAVEPOINT catalog_create").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO library_movies").WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectQuery("SELECT id, library_id, movie_id, edition, is_primary").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM movie_entries").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec("SAVEPOINT catalog_create").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("INSERT INTO movie_entries").
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(fixedTime, fixedTime))
	mock.ExpectExec("RELEASE SAVEPOINT catalog_create").WillReturnResult(sqlmock.NewResult(0, 0))

	mock.ExpectQuery("INSERT INTO files").
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(fixedTime, fixedTime))

	mock.ExpectExec("INSERT INTO media_streams").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO media_streams").WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectCommit()

	ingested, err := s.processNewFile(context.Background(), videoPath, lib)
	require.NoError(t, err)
	require.True(t, ingested)
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestProcessNewFileRollsBackOnStreamFailure simulates stream #2 of 2
// failing to insert after the File row's INSERT already succeeded on the
// same transaction. The whole sequence must roll back rather than leaving a
// Known File row with partial streams (the permanent-inconsistency scenario
// the review comment calls out).
func TestProcessNewFileRollsBackOnStreamFailure(t *testing.T) {
	s, mock, lib, videoPath := scannerHarness(t)

	expectDedupeLookups(mock)

	mock.ExpectBegin()

	mock.ExpectQuery("SELECT id, title, runtime_seconds").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("SAVEPOINT catalog_create").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("INSERT INTO movies").
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(fixedTime, fixedTime))
	mock.ExpectExec("RELEASE SAVEPOINT catalog_create").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO library_movies").WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectQuery("SELECT id, library_id, movie_id, edition, is_primary").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM movie_entries").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec("SAVEPOINT catalog_create").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("INSERT INTO movie_entries").
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(fixedTime, fixedTime))
	mock.ExpectExec("RELEASE SAVEPOINT catalog_create").WillReturnResult(sqlmock.NewResult(0, 0))

	mock.ExpectQuery("INSERT INTO files").
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(fixedTime, fixedTime))

	mock.ExpectExec("INSERT INTO media_streams").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO media_streams").WillReturnError(fmt.Errorf("connection reset"))

	mock.ExpectRollback()

	ingested, err := s.processNewFile(context.Background(), videoPath, lib)
	require.Error(t, err)
	require.False(t, ingested)
	require.NoError(t, mock.ExpectationsWereMet())
}
