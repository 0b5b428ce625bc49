// Package streamcache maps a catalog file to its materialized fMP4
// artifact, materializing on miss under at-most-one-per-file discipline,
// and serves HTTP range responses. Range-parsing/serving is kept close to
// CineVault's internal/stream/direct.go, generalized to cover the
// bytes=-n / bytes=a- forms and the ETag/Cache-Control headers spec.md
// §4.8/§6 add. The materialization lease uses golang.org/x/sync/singleflight
// in place of the teacher's (nonexistent, here hand-specified) per-key
// mutex map, since singleflight already provides exactly the
// at-most-one-concurrent-call-per-key + waiter-fan-in contract spec.md §9
// describes.
package streamcache

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/beamstream/vault/internal/coreerr"
	"github.com/beamstream/vault/internal/materializer"
	"github.com/beamstream/vault/internal/models"
	"github.com/beamstream/vault/internal/repository"
	"github.com/beamstream/vault/internal/streamplan"
)

const (
	targetCodec    = "copy"
	targetContainer = "fmp4"
)

// Cache maps file IDs to on-disk fMP4 artifacts, materializing lazily.
type Cache struct {
	cacheRoot string
	repo      *repository.StreamCacheRepository
	fileRepo  *repository.FileRepository
	builder   *streamplan.Builder
	materializer *materializer.Materializer
	group     singleflight.Group
}

func New(cacheRoot string, repo *repository.StreamCacheRepository, fileRepo *repository.FileRepository,
	builder *streamplan.Builder, m *materializer.Materializer) *Cache {
	return &Cache{cacheRoot: cacheRoot, repo: repo, fileRepo: fileRepo, builder: builder, materializer: m}
}

func (c *Cache) artifactPath(fileID uuid.UUID) string {
	return filepath.Join(c.cacheRoot, fileID.String()+".mp4")
}

// EnsureArtifact returns the on-disk path of file's fMP4 artifact,
// materializing it on miss. Concurrent calls for the same file_id collapse
// onto one materialization via singleflight; see spec.md §4.8.
func (c *Cache) EnsureArtifact(ctx context.Context, fileID uuid.UUID) (string, error) {
	if cached, err := c.repo.FindByFile(fileID, targetCodec, targetContainer); err != nil {
		return "", err
	} else if cached != nil {
		if _, statErr := os.Stat(cached.ArtifactPath); statErr == nil {
			return cached.ArtifactPath, nil
		}
		// Row exists but artifact vanished from disk; fall through to rematerialize.
	}

	result, err, _ := c.group.Do(fileID.String(), func() (interface{}, error) {
		return c.materialize(ctx, fileID)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func (c *Cache) materialize(ctx context.Context, fileID uuid.UUID) (string, error) {
	file, err := c.fileRepo.GetByID(fileID)
	if err != nil {
		return "", err
	}

	finalPath := c.artifactPath(fileID)
	tmpPath := finalPath + ".tmp"

	plan, err := c.builder.Build(ctx, []streamplan.Source{{Kind: streamplan.SourceVideo, Path: file.Path}})
	if err != nil {
		os.Remove(tmpPath)
		return "", err
	}

	if err := c.materializer.Materialize(ctx, plan, tmpPath); err != nil {
		os.Remove(tmpPath)
		return "", err
	}

	if err := fsyncAndRename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return "", coreerr.New(coreerr.Io, "publish artifact", err)
	}

	cache := &models.StreamCache{
		ID:           uuid.New(),
		FileID:       fileID,
		TargetCodec:  targetCodec,
		Container:    targetContainer,
		ArtifactPath: finalPath,
	}
	if err := c.repo.Create(cache); err != nil {
		return "", err
	}
	return finalPath, nil
}

func fsyncAndRename(tmpPath, finalPath string) error {
	f, err := os.OpenFile(tmpPath, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, finalPath)
}

// ServeRange serves artifactPath honoring the Range header, per spec.md
// §4.8/§6: bytes=a-b, bytes=-n, and bytes=a- forms; 400 on malformed,
// 416 when the requested range can't be satisfied, 206/200 otherwise.
func ServeRange(w http.ResponseWriter, r *http.Request, artifactPath string) error {
	file, err := os.Open(artifactPath)
	if err != nil {
		return coreerr.New(coreerr.NotFound, "open artifact", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return coreerr.New(coreerr.Io, "stat artifact", err)
	}
	size := stat.Size()
	etag := fmt.Sprintf(`"%x"`, size)

	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Header().Set("ETag", etag)
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Type", "video/mp4")

	rangeHeader := r.Header.Get("Range")
	if rangeHeader == "" {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		_, err := io.Copy(w, file)
		return err
	}

	start, end, ok := parseRange(rangeHeader, size)
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return nil
	}
	if start > end || start >= size {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return nil
	}
	if end >= size {
		end = size - 1
	}

	length := end - start + 1
	if _, err := file.Seek(start, io.SeekStart); err != nil {
		return coreerr.New(coreerr.Io, "seek artifact", err)
	}

	w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	w.WriteHeader(http.StatusPartialContent)
	_, err = io.CopyN(w, file, length)
	return err
}

// parseRange accepts "bytes=a-b", "bytes=-n" (last n bytes) and "bytes=a-"
// (from a to end). A suffix range whose n exceeds size clamps start to 0
// and still serves 206, per this core's Open Question decision (b).
func parseRange(header string, size int64) (start, end int64, ok bool) {
	if !strings.HasPrefix(header, "bytes=") {
		return 0, 0, false
	}
	spec := strings.TrimPrefix(header, "bytes=")
	if strings.Contains(spec, ",") {
		return 0, 0, false // multi-range requests are not supported
	}
	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}

	if parts[0] == "" {
		// bytes=-n: last n bytes
		n, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil || n <= 0 {
			return 0, 0, false
		}
		start = size - n
		if start < 0 {
			start = 0
		}
		return start, size - 1, true
	}

	s, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || s < 0 {
		return 0, 0, false
	}
	start = s

	if parts[1] == "" {
		return start, size - 1, true
	}
	e, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || e < 0 {
		return 0, 0, false
	}
	return start, e, true
}
