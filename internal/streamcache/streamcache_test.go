package streamcache

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/beamstream/vault/internal/repository"
)

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "artifact.mp4")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestServeRangeNoRangeHeaderReturnsFullBody(t *testing.T) {
	path := writeTempFile(t, "0123456789")

	req := httptest.NewRequest(http.MethodGet, "/stream/mp4/x", nil)
	rec := httptest.NewRecorder()

	require.NoError(t, ServeRange(rec, req, path))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "0123456789", rec.Body.String())
	require.Equal(t, "10", rec.Header().Get("Content-Length"))
}

func TestServeRangeSatisfiableRangeReturnsPartialContent(t *testing.T) {
	path := writeTempFile(t, "0123456789")

	req := httptest.NewRequest(http.MethodGet, "/stream/mp4/x", nil)
	req.Header.Set("Range", "bytes=2-4")
	rec := httptest.NewRecorder()

	require.NoError(t, ServeRange(rec, req, path))
	require.Equal(t, http.StatusPartialContent, rec.Code)
	require.Equal(t, "234", rec.Body.String())
	require.Equal(t, "bytes 2-4/10", rec.Header().Get("Content-Range"))
}

func TestServeRangeSuffixRangeReturnsLastNBytes(t *testing.T) {
	path := writeTempFile(t, "0123456789")

	req := httptest.NewRequest(http.MethodGet, "/stream/mp4/x", nil)
	req.Header.Set("Range", "bytes=-3")
	rec := httptest.NewRecorder()

	require.NoError(t, ServeRange(rec, req, path))
	require.Equal(t, http.StatusPartialContent, rec.Code)
	require.Equal(t, "789", rec.Body.String())
}

func TestServeRangeOpenEndedRangeReturnsToEOF(t *testing.T) {
	path := writeTempFile(t, "0123456789")

	req := httptest.NewRequest(http.MethodGet, "/stream/mp4/x", nil)
	req.Header.Set("Range", "bytes=7-")
	rec := httptest.NewRecorder()

	require.NoError(t, ServeRange(rec, req, path))
	require.Equal(t, http.StatusPartialContent, rec.Code)
	require.Equal(t, "789", rec.Body.String())
}

func TestServeRangeUnsatisfiableRangeReturns416(t *testing.T) {
	path := writeTempFile(t, "0123456789")

	req := httptest.NewRequest(http.MethodGet, "/stream/mp4/x", nil)
	req.Header.Set("Range", "bytes=100-200")
	rec := httptest.NewRecorder()

	require.NoError(t, ServeRange(rec, req, path))
	require.Equal(t, http.StatusRequestedRangeNotSatisfiable, rec.Code)
	require.Equal(t, "bytes */10", rec.Header().Get("Content-Range"))
}

func TestServeRangeMalformedRangeReturns400(t *testing.T) {
	path := writeTempFile(t, "0123456789")

	req := httptest.NewRequest(http.MethodGet, "/stream/mp4/x", nil)
	req.Header.Set("Range", "bytes=abc-def")
	rec := httptest.NewRecorder()

	require.NoError(t, ServeRange(rec, req, path))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServeRangeMultiRangeReturns400(t *testing.T) {
	path := writeTempFile(t, "0123456789")

	req := httptest.NewRequest(http.MethodGet, "/stream/mp4/x", nil)
	req.Header.Set("Range", "bytes=0-1,3-4")
	rec := httptest.NewRecorder()

	require.NoError(t, ServeRange(rec, req, path))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServeRangeMissingArtifactReturnsNotFoundErr(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/stream/mp4/x", nil)
	rec := httptest.NewRecorder()

	err := ServeRange(rec, req, filepath.Join(t.TempDir(), "missing.mp4"))
	require.Error(t, err)
}

func TestParseRangeForms(t *testing.T) {
	const size = int64(100)

	start, end, ok := parseRange("bytes=10-20", size)
	require.True(t, ok)
	require.Equal(t, int64(10), start)
	require.Equal(t, int64(20), end)

	start, end, ok = parseRange("bytes=-10", size)
	require.True(t, ok)
	require.Equal(t, int64(90), start)
	require.Equal(t, int64(99), end)

	start, end, ok = parseRange("bytes=90-", size)
	require.True(t, ok)
	require.Equal(t, int64(90), start)
	require.Equal(t, int64(99), end)

	// Suffix length larger than the file clamps to the start of the file.
	start, end, ok = parseRange("bytes=-1000", size)
	require.True(t, ok)
	require.Equal(t, int64(0), start)
	require.Equal(t, int64(99), end)

	_, _, ok = parseRange("not-bytes=0-1", size)
	require.False(t, ok)
}

func TestEnsureArtifactReturnsCachedPathWhenArtifactStillOnDisk(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := repository.NewStreamCacheRepository(db)
	fileID := uuid.New()
	artifactPath := writeTempFile(t, "cached")

	rows := sqlmock.NewRows([]string{
		"id", "file_id", "target_codec", "container", "resolution", "bit_rate", "artifact_path", "created_at",
	}).AddRow(uuid.New(), fileID, "copy", "fmp4", nil, nil, artifactPath, time.Now())
	mock.ExpectQuery("SELECT id, file_id, target_codec, container").
		WithArgs(fileID, "copy", "fmp4").
		WillReturnRows(rows)

	c := New(t.TempDir(), repo, nil, nil, nil)
	got, err := c.EnsureArtifact(context.Background(), fileID)
	require.NoError(t, err)
	require.Equal(t, artifactPath, got)
	require.NoError(t, mock.ExpectationsWereMet())
}
