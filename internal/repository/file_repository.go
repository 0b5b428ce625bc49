package repository

import (
	"database/sql"

	"github.com/google/uuid"

	"github.com/beamstream/vault/internal/coreerr"
	"github.com/beamstream/vault/internal/models"
)

type FileRepository struct {
	db dbtx
}

func NewFileRepository(db *sql.DB) *FileRepository {
	return &FileRepository{db: db}
}

// WithTx returns a FileRepository whose statements run inside tx.
func (r *FileRepository) WithTx(tx *sql.Tx) *FileRepository {
	return &FileRepository{db: tx}
}

// FindByHashAndPath looks up the natural key spec.md §3 assigns to File:
// (hash, path). A hit means the scan step for this exact file is a no-op.
func (r *FileRepository) FindByHashAndPath(hash uint64, path string) (*models.File, error) {
	f := &models.File{}
	err := r.db.QueryRow(`
		SELECT id, library_id, path, size, hash, mime, duration_seconds, container, probe_score,
		       file_status, movie_entry_id, episode_id, created_at, updated_at
		FROM files WHERE hash = $1 AND path = $2`, int64(hash), path).
		Scan(&f.ID, &f.LibraryID, &f.Path, &f.Size, &f.Hash, &f.Mime, &f.DurationSecs, &f.Container,
			&f.ProbeScore, &f.Status, &f.MovieEntryID, &f.EpisodeID, &f.CreatedAt, &f.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, coreerr.New(coreerr.Repository, "find file by hash and path", err)
	}
	return f, nil
}

// FindByPath looks up whichever row currently occupies a path, regardless
// of hash — used by the scanner to detect a changed file.
func (r *FileRepository) FindByPath(libraryID uuid.UUID, path string) (*models.File, error) {
	f := &models.File{}
	err := r.db.QueryRow(`
		SELECT id, library_id, path, size, hash, mime, duration_seconds, container, probe_score,
		       file_status, movie_entry_id, episode_id, created_at, updated_at
		FROM files WHERE library_id = $1 AND path = $2 ORDER BY created_at DESC LIMIT 1`,
		libraryID, path).
		Scan(&f.ID, &f.LibraryID, &f.Path, &f.Size, &f.Hash, &f.Mime, &f.DurationSecs, &f.Container,
			&f.ProbeScore, &f.Status, &f.MovieEntryID, &f.EpisodeID, &f.CreatedAt, &f.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, coreerr.New(coreerr.Repository, "find file by path", err)
	}
	return f, nil
}

func (r *FileRepository) Create(f *models.File) error {
	err := r.db.QueryRow(`
		INSERT INTO files (id, library_id, path, size, hash, mime, duration_seconds, container,
		                    probe_score, file_status, movie_entry_id, episode_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at`,
		f.ID, f.LibraryID, f.Path, f.Size, int64(f.Hash), f.Mime, f.DurationSecs, f.Container,
		f.ProbeScore, f.Status, f.MovieEntryID, f.EpisodeID).
		Scan(&f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return coreerr.New(coreerr.Repository, "create file", err)
	}
	return nil
}

// MarkChanged flips an existing row's status to Changed, per spec.md §4.5:
// the old row's associations remain until reconciled by a subsequent pass.
func (r *FileRepository) MarkChanged(id uuid.UUID) error {
	_, err := r.db.Exec(`UPDATE files SET file_status = $2, updated_at = NOW() WHERE id = $1`,
		id, models.FileStatusChanged)
	if err != nil {
		return coreerr.New(coreerr.Repository, "mark file changed", err)
	}
	return nil
}

func (r *FileRepository) GetByID(id uuid.UUID) (*models.File, error) {
	f := &models.File{}
	err := r.db.QueryRow(`
		SELECT id, library_id, path, size, hash, mime, duration_seconds, container, probe_score,
		       file_status, movie_entry_id, episode_id, created_at, updated_at
		FROM files WHERE id = $1`, id).
		Scan(&f.ID, &f.LibraryID, &f.Path, &f.Size, &f.Hash, &f.Mime, &f.DurationSecs, &f.Container,
			&f.ProbeScore, &f.Status, &f.MovieEntryID, &f.EpisodeID, &f.CreatedAt, &f.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, coreerr.New(coreerr.NotFound, "file", err)
	}
	if err != nil {
		return nil, coreerr.New(coreerr.Repository, "get file", err)
	}
	return f, nil
}

// ── MediaStream ──

type MediaStreamRepository struct {
	db dbtx
}

func NewMediaStreamRepository(db *sql.DB) *MediaStreamRepository {
	return &MediaStreamRepository{db: db}
}

// WithTx returns a MediaStreamRepository whose statements run inside tx.
func (r *MediaStreamRepository) WithTx(tx *sql.Tx) *MediaStreamRepository {
	return &MediaStreamRepository{db: tx}
}

func (r *MediaStreamRepository) Create(s *models.MediaStream) error {
	_, err := r.db.Exec(`
		INSERT INTO media_streams (id, file_id, stream_index, kind, codec, language, title,
		                           is_default, is_forced, width, height, frame_rate, bit_rate,
		                           color_space, color_transfer, profile, level,
		                           channels, sample_rate, channel_layout)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		s.ID, s.FileID, s.StreamIndex, s.Kind, s.Codec, s.Language, s.Title,
		s.IsDefault, s.IsForced, s.Width, s.Height, s.FrameRate, s.BitRate,
		s.ColorSpace, s.ColorTransfer, s.Profile, s.Level,
		s.Channels, s.SampleRate, s.ChannelLayout)
	if err != nil {
		return coreerr.New(coreerr.Repository, "create media stream", err)
	}
	return nil
}

func (r *MediaStreamRepository) ListByFile(fileID uuid.UUID) ([]*models.MediaStream, error) {
	rows, err := r.db.Query(`
		SELECT id, file_id, stream_index, kind, codec, language, title, is_default, is_forced,
		       width, height, frame_rate, bit_rate, color_space, color_transfer, profile, level,
		       channels, sample_rate, channel_layout
		FROM media_streams WHERE file_id = $1 ORDER BY stream_index`, fileID)
	if err != nil {
		return nil, coreerr.New(coreerr.Repository, "list media streams", err)
	}
	defer rows.Close()

	var out []*models.MediaStream
	for rows.Next() {
		s := &models.MediaStream{}
		if err := rows.Scan(&s.ID, &s.FileID, &s.StreamIndex, &s.Kind, &s.Codec, &s.Language, &s.Title,
			&s.IsDefault, &s.IsForced, &s.Width, &s.Height, &s.FrameRate, &s.BitRate,
			&s.ColorSpace, &s.ColorTransfer, &s.Profile, &s.Level,
			&s.Channels, &s.SampleRate, &s.ChannelLayout); err != nil {
			return nil, coreerr.New(coreerr.Repository, "scan media stream row", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
