// Package scanner walks a library root and advances each discovered file
// through hash ∥ probe → classify → persist, grounded on CineVault's
// internal/scanner worker-pool/WalkDir shape, generalized from its 8-worker
// channel pool to an errgroup-bounded pipeline per spec.md §4.5.
package scanner

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/beamstream/vault/internal/classify"
	"github.com/beamstream/vault/internal/coreerr"
	"github.com/beamstream/vault/internal/ffmpeg"
	"github.com/beamstream/vault/internal/fingerprint"
	"github.com/beamstream/vault/internal/models"
	"github.com/beamstream/vault/internal/repository"
)

// Scanner coordinates the Hasher, Probe, Classifier and repositories to
// produce or update catalog rows for one library.
type Scanner struct {
	db         *sql.DB
	hasher     *fingerprint.Hasher
	prober     *ffmpeg.Prober
	libRepo    *repository.LibraryRepository
	catRepo    *repository.CatalogRepository
	fileRepo   *repository.FileRepository
	streamRepo *repository.MediaStreamRepository

	// Concurrency is the bounded worker-pool size for this scan; spec.md
	// §4.5 requires it configurable per library.
	Concurrency int
	// VideoExtensions gates which files the walker even considers.
	VideoExtensions map[string]bool
}

func New(db *sql.DB, hasher *fingerprint.Hasher, prober *ffmpeg.Prober, libRepo *repository.LibraryRepository,
	catRepo *repository.CatalogRepository, fileRepo *repository.FileRepository,
	streamRepo *repository.MediaStreamRepository, concurrency int, videoExtensions []string) *Scanner {
	if concurrency <= 0 {
		concurrency = 8
	}
	exts := make(map[string]bool, len(videoExtensions))
	for _, e := range videoExtensions {
		exts[strings.ToLower(e)] = true
	}
	return &Scanner{
		db: db, hasher: hasher, prober: prober, libRepo: libRepo, catRepo: catRepo,
		fileRepo: fileRepo, streamRepo: streamRepo,
		Concurrency: concurrency, VideoExtensions: exts,
	}
}

// ScanLibrary enumerates the library root, advances every discovered file
// through the ingestion pipeline and updates the library's scan-progress
// fields. last_scan_finished_at and last_scan_file_count are stamped even
// when the pass itself errors, per spec.md §4.5.
func (s *Scanner) ScanLibrary(ctx context.Context, libraryID uuid.UUID) (*models.ScanResult, error) {
	lib, err := s.libRepo.GetByID(libraryID)
	if err != nil {
		return nil, err
	}

	startedAt := time.Now().UTC()
	if err := s.libRepo.MarkScanStarted(libraryID, startedAt); err != nil {
		return nil, err
	}

	result := &models.ScanResult{}
	var discovered, ingested, errored int64
	var errMu sync.Mutex

	finish := func() {
		s.libRepo.MarkScanFinished(libraryID, time.Now().UTC(), int(atomic.LoadInt64(&discovered)))
		result.FilesDiscovered = int(atomic.LoadInt64(&discovered))
		result.FilesIngested = int(atomic.LoadInt64(&ingested))
		result.FilesErrored = int(atomic.LoadInt64(&errored))
	}

	paths := make(chan string, s.Concurrency*4)
	visited := make(map[string]bool)

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(s.Concurrency)

	walkErrCh := make(chan error, 1)
	go func() {
		defer close(paths)
		walkErrCh <- filepath.WalkDir(lib.RootPath, func(path string, d os.DirEntry, walkErr error) error {
			if walkErr != nil {
				errMu.Lock()
				result.Errors = append(result.Errors, fmt.Sprintf("walk %s: %v", path, walkErr))
				errMu.Unlock()
				return nil
			}
			if d.IsDir() {
				real, evalErr := filepath.EvalSymlinks(path)
				if evalErr != nil {
					return nil
				}
				if visited[real] {
					return filepath.SkipDir
				}
				visited[real] = true
				return nil
			}
			if !s.VideoExtensions[strings.ToLower(filepath.Ext(path))] {
				return nil
			}
			select {
			case paths <- path:
			case <-gctx.Done():
				return gctx.Err()
			}
			return nil
		})
	}()

	for path := range paths {
		path := path
		atomic.AddInt64(&discovered, 1)
		group.Go(func() error {
			ingestedFile, procErr := s.processNewFile(gctx, path, lib)
			if procErr != nil {
				atomic.AddInt64(&errored, 1)
				errMu.Lock()
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", path, procErr))
				errMu.Unlock()
				log.Printf("scanner: %s: %v", path, procErr)
				return nil
			}
			if ingestedFile {
				atomic.AddInt64(&ingested, 1)
			}
			return nil
		})
	}

	groupErr := group.Wait()
	walkErr := <-walkErrCh
	finish()

	if walkErr != nil && walkErr != context.Canceled {
		return result, coreerr.Wrap(coreerr.Io, walkErr)
	}
	if groupErr != nil && groupErr != context.Canceled {
		return result, coreerr.Wrap(coreerr.Io, groupErr)
	}
	return result, nil
}

// ProcessNewFile ingests one path, returning true when a new File row was
// produced. Exported as the public per-file operation spec.md §4.5 names.
func (s *Scanner) ProcessNewFile(ctx context.Context, path string, libraryID uuid.UUID) (bool, error) {
	lib, err := s.libRepo.GetByID(libraryID)
	if err != nil {
		return false, err
	}
	return s.processNewFile(ctx, path, lib)
}

func (s *Scanner) processNewFile(ctx context.Context, path string, lib *models.Library) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, coreerr.New(coreerr.Io, "stat file", err)
	}

	// Hash and probe run concurrently, joined before classify/persist, per
	// spec.md §4.5's "Per file: dispatch hash and probe in parallel; join".
	var hash uint64
	var probeResult *ffmpeg.VideoFileMetadata
	var hashErr, probeErr error

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		hash, hashErr = s.hasher.Hash(path)
		return hashErr
	})
	group.Go(func() error {
		probeResult, probeErr = s.prober.Probe(gctx, path)
		return nil // probe failure is non-fatal; handled below
	})
	if err := group.Wait(); err != nil {
		return false, coreerr.Wrap(coreerr.Io, err)
	}

	if existing, err := s.fileRepo.FindByHashAndPath(hash, path); err != nil {
		return false, err
	} else if existing != nil {
		return false, nil // idempotent re-scan: identical (hash, path) already known
	}

	if prior, err := s.fileRepo.FindByPath(lib.ID, path); err != nil {
		return false, err
	} else if prior != nil {
		if err := s.fileRepo.MarkChanged(prior.ID); err != nil {
			return false, err
		}
	}

	relPath, err := filepath.Rel(lib.RootPath, path)
	if err != nil {
		relPath = path
	}
	verdict := classify.Classify(relPath)

	file := &models.File{
		ID:        uuid.New(),
		LibraryID: lib.ID,
		Path:      path,
		Size:      info.Size(),
		Hash:      hash,
		Status:    models.FileStatusUnknown,
	}

	if probeErr != nil || probeResult == nil {
		// Probe failure but hash succeeded: insert minimal row, no streams.
		if err := s.fileRepo.Create(file); err != nil {
			return false, err
		}
		return true, nil
	}

	durationSecs := probeResult.Duration.Seconds()
	file.DurationSecs = &durationSecs
	container := probeResult.FormatName
	file.Container = &container
	if probeResult.ProbeScore != 0 {
		file.ProbeScore = &probeResult.ProbeScore
	}

	// The rest of this function is the multi-row persist sequence spec.md
	// §4.4/§5 requires bracketed in one transaction: either every row for
	// this file lands (classification find-or-creates, the File row, every
	// MediaStream row) or none of them do. Without this, a mid-sequence
	// failure (e.g. stream #2 of 3) would leave a Known File row with
	// partial streams that a later rescan's FindByHashAndPath no-op would
	// never backfill.
	tx, err := s.db.Begin()
	if err != nil {
		return false, coreerr.New(coreerr.Repository, "begin ingest transaction", err)
	}
	defer tx.Rollback()

	txCatRepo := s.catRepo.WithTx(tx)
	txFileRepo := s.fileRepo.WithTx(tx)
	txStreamRepo := s.streamRepo.WithTx(tx)

	if err := s.associateClassification(txCatRepo, file, verdict, lib); err != nil {
		return false, err
	}

	if err := txFileRepo.Create(file); err != nil {
		return false, err
	}

	for i, sm := range probeResult.Streams {
		stream := &models.MediaStream{
			ID:          uuid.New(),
			FileID:      file.ID,
			StreamIndex: sm.Index,
			Codec:       sm.Codec,
			IsDefault:   sm.IsDefault,
			IsForced:    sm.IsForced,
		}
		if sm.Language != "" {
			lang := sm.Language
			stream.Language = &lang
		}
		if sm.Title != "" {
			title := sm.Title
			stream.Title = &title
		}
		switch sm.Kind {
		case ffmpeg.KindVideo:
			stream.Kind = models.StreamVideo
			if sm.Video != nil {
				stream.Width = &sm.Video.Width
				stream.Height = &sm.Video.Height
				stream.FrameRate = &sm.Video.FrameRate
				stream.BitRate = &sm.Video.BitRate
				if sm.Video.Profile != "" {
					stream.Profile = &sm.Video.Profile
				}
				if sm.Video.Level != "" {
					stream.Level = &sm.Video.Level
				}
				if sm.Video.ColorSpace != "" {
					stream.ColorSpace = &sm.Video.ColorSpace
				}
				if sm.Video.ColorTransfer != "" {
					stream.ColorTransfer = &sm.Video.ColorTransfer
				}
			}
		case ffmpeg.KindAudio:
			stream.Kind = models.StreamAudio
			if sm.Audio != nil {
				stream.Channels = &sm.Audio.Channels
				stream.SampleRate = &sm.Audio.SampleRate
				stream.BitRate = &sm.Audio.BitRate
				if sm.Audio.ChannelLayout != "" {
					stream.ChannelLayout = &sm.Audio.ChannelLayout
				}
			}
		case ffmpeg.KindSubtitle:
			stream.Kind = models.StreamSubtitle
		default:
			_ = i
			continue
		}
		if err := txStreamRepo.Create(stream); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return false, coreerr.New(coreerr.Repository, "commit ingest transaction", err)
	}
	return true, nil
}

// associateClassification runs the find-or-create sequence for whatever
// Classify decided and wires file.MovieEntryID/EpisodeID accordingly. catRepo
// is the caller's transaction-bound repository, so every find-or-create here
// participates in the same persist transaction as the File/MediaStream rows.
func (s *Scanner) associateClassification(catRepo *repository.CatalogRepository, file *models.File, verdict classify.Result, lib *models.Library) error {
	switch verdict.Kind {
	case classify.KindMovie:
		movie, err := catRepo.FindOrCreateMovie(verdict.Title)
		if err != nil {
			return err
		}
		if err := catRepo.EnsureLibraryMovie(lib.ID, movie.ID); err != nil {
			return err
		}
		entry, err := catRepo.FindOrCreateMovieEntry(lib.ID, movie.ID, nil)
		if err != nil {
			return err
		}
		file.MovieEntryID = &entry.ID
		file.Status = models.FileStatusKnown

	case classify.KindEpisode:
		show, err := catRepo.FindOrCreateShow(verdict.Title)
		if err != nil {
			return err
		}
		if err := catRepo.EnsureLibraryShow(lib.ID, show.ID); err != nil {
			return err
		}
		season, err := catRepo.FindOrCreateSeason(show.ID, verdict.Season)
		if err != nil {
			return err
		}
		episode, err := catRepo.FindOrCreateEpisode(season.ID, verdict.Episode)
		if err != nil {
			return err
		}
		file.EpisodeID = &episode.ID
		file.Status = models.FileStatusKnown

	default:
		file.Status = models.FileStatusUnknown
	}
	return nil
}
