package repository

import (
	"database/sql"

	"github.com/google/uuid"

	"github.com/beamstream/vault/internal/coreerr"
	"github.com/beamstream/vault/internal/models"
)

type StreamCacheRepository struct {
	db *sql.DB
}

func NewStreamCacheRepository(db *sql.DB) *StreamCacheRepository {
	return &StreamCacheRepository{db: db}
}

// FindByFile looks up the cache artifact for a file's fixed target profile
// (fragmented-MP4, copy codecs) — the natural key degenerates to file_id
// alone for the profile this core materializes, per spec.md §4.8.
func (r *StreamCacheRepository) FindByFile(fileID uuid.UUID, targetCodec, container string) (*models.StreamCache, error) {
	c := &models.StreamCache{}
	err := r.db.QueryRow(`
		SELECT id, file_id, target_codec, container, resolution, bit_rate, artifact_path, created_at
		FROM stream_caches WHERE file_id = $1 AND target_codec = $2 AND container = $3`,
		fileID, targetCodec, container).
		Scan(&c.ID, &c.FileID, &c.TargetCodec, &c.Container, &c.Resolution, &c.BitRate, &c.ArtifactPath, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, coreerr.New(coreerr.Repository, "find stream cache", err)
	}
	return c, nil
}

func (r *StreamCacheRepository) Create(c *models.StreamCache) error {
	err := r.db.QueryRow(`
		INSERT INTO stream_caches (id, file_id, target_codec, container, resolution, bit_rate, artifact_path)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (file_id, target_codec, container) DO UPDATE SET artifact_path = EXCLUDED.artifact_path
		RETURNING created_at`,
		c.ID, c.FileID, c.TargetCodec, c.Container, c.Resolution, c.BitRate, c.ArtifactPath).
		Scan(&c.CreatedAt)
	if err != nil {
		return coreerr.New(coreerr.Repository, "create stream cache", err)
	}
	return nil
}
