package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/beamstream/vault/internal/config"
	"github.com/beamstream/vault/internal/repository"
)

func newTestServer(t *testing.T) (*Server, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	libRepo := repository.NewLibraryRepository(db)
	fileRepo := repository.NewFileRepository(db)
	cfg := &config.Config{Port: 8080}
	s := NewServer(cfg, db, libRepo, fileRepo, nil, nil, nil)
	return s, mock
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestHandleHealthReturnsOKWhenDBReachable(t *testing.T) {
	s, mock := newTestServer(t)
	mock.ExpectPing()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	require.True(t, resp.Success)
}

func TestHandleHealthReturns503WhenDBUnreachable(t *testing.T) {
	s, mock := newTestServer(t)
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleCreateLibraryRejectsMissingFields(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/libraries", strings.NewReader(`{"name":""}`))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeResponse(t, rec)
	require.False(t, resp.Success)
}

func TestHandleCreateLibraryRejectsMalformedBody(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/libraries", strings.NewReader(`not-json`))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleCreateLibrarySucceeds(t *testing.T) {
	s, mock := newTestServer(t)

	now := time.Now()
	mock.ExpectQuery("INSERT INTO libraries").
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	body := `{"name":"Movies","root_path":"/media/movies"}`
	req := httptest.NewRequest(http.MethodPost, "/libraries", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	resp := decodeResponse(t, rec)
	require.True(t, resp.Success)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleGetLibraryRejectsInvalidID(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/libraries/not-a-uuid", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleGetLibraryReturns500OnDBError(t *testing.T) {
	s, mock := newTestServer(t)
	id := uuid.New()

	mock.ExpectQuery("SELECT id, name, root_path").WithArgs(id).WillReturnError(errors.New("connection reset"))

	req := httptest.NewRequest(http.MethodGet, "/libraries/"+id.String(), nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHandleGetLibraryReturnsLibrary(t *testing.T) {
	s, mock := newTestServer(t)
	id := uuid.New()
	now := time.Now()

	rows := sqlmock.NewRows([]string{
		"id", "name", "root_path", "last_scan_started_at", "last_scan_finished_at",
		"last_scan_file_count", "created_at", "updated_at",
	}).AddRow(id, "Movies", "/media/movies", nil, nil, 0, now, now)
	mock.ExpectQuery("SELECT id, name, root_path").WithArgs(id).WillReturnRows(rows)

	req := httptest.NewRequest(http.MethodGet, "/libraries/"+id.String(), nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	require.True(t, resp.Success)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleGetFileRejectsInvalidID(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/files/not-a-uuid", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSecurityHeadersMiddlewareSetsStandardHeaders(t *testing.T) {
	s, mock := newTestServer(t)
	mock.ExpectPing()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.securityHeadersMiddleware(s.router).ServeHTTP(rec, req)

	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	require.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}
