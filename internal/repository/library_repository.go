package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/beamstream/vault/internal/coreerr"
	"github.com/beamstream/vault/internal/models"
)

type LibraryRepository struct {
	db *sql.DB
}

func NewLibraryRepository(db *sql.DB) *LibraryRepository {
	return &LibraryRepository{db: db}
}

func (r *LibraryRepository) Create(lib *models.Library) error {
	query := `
		INSERT INTO libraries (id, name, root_path)
		VALUES ($1, $2, $3)
		RETURNING created_at, updated_at`
	err := r.db.QueryRow(query, lib.ID, lib.Name, lib.RootPath).
		Scan(&lib.CreatedAt, &lib.UpdatedAt)
	if err != nil {
		return coreerr.New(coreerr.Repository, "create library", err)
	}
	return nil
}

func (r *LibraryRepository) GetByID(id uuid.UUID) (*models.Library, error) {
	lib := &models.Library{}
	query := `
		SELECT id, name, root_path, last_scan_started_at, last_scan_finished_at,
		       last_scan_file_count, created_at, updated_at
		FROM libraries WHERE id = $1`
	err := r.db.QueryRow(query, id).Scan(
		&lib.ID, &lib.Name, &lib.RootPath, &lib.LastScanStartedAt, &lib.LastScanFinishedAt,
		&lib.LastScanFileCount, &lib.CreatedAt, &lib.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, coreerr.New(coreerr.NotFound, fmt.Sprintf("library %s", id), err)
	}
	if err != nil {
		return nil, coreerr.New(coreerr.Repository, "get library", err)
	}
	return lib, nil
}

func (r *LibraryRepository) List() ([]*models.Library, error) {
	query := `
		SELECT id, name, root_path, last_scan_started_at, last_scan_finished_at,
		       last_scan_file_count, created_at, updated_at
		FROM libraries ORDER BY name`
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, coreerr.New(coreerr.Repository, "list libraries", err)
	}
	defer rows.Close()

	var out []*models.Library
	for rows.Next() {
		lib := &models.Library{}
		if err := rows.Scan(&lib.ID, &lib.Name, &lib.RootPath, &lib.LastScanStartedAt,
			&lib.LastScanFinishedAt, &lib.LastScanFileCount, &lib.CreatedAt, &lib.UpdatedAt); err != nil {
			return nil, coreerr.New(coreerr.Repository, "scan library row", err)
		}
		out = append(out, lib)
	}
	return out, rows.Err()
}

// MarkScanStarted stamps last_scan_started_at at the beginning of a scan pass.
func (r *LibraryRepository) MarkScanStarted(id uuid.UUID, at time.Time) error {
	_, err := r.db.Exec(`UPDATE libraries SET last_scan_started_at = $2, updated_at = NOW() WHERE id = $1`, id, at)
	if err != nil {
		return coreerr.New(coreerr.Repository, "mark scan started", err)
	}
	return nil
}

// MarkScanFinished stamps last_scan_finished_at and last_scan_file_count at
// the end of a scan pass — called even when the pass errored, per spec.md §4.5.
func (r *LibraryRepository) MarkScanFinished(id uuid.UUID, at time.Time, fileCount int) error {
	_, err := r.db.Exec(
		`UPDATE libraries SET last_scan_finished_at = $2, last_scan_file_count = $3, updated_at = NOW() WHERE id = $1`,
		id, at, fileCount)
	if err != nil {
		return coreerr.New(coreerr.Repository, "mark scan finished", err)
	}
	return nil
}
