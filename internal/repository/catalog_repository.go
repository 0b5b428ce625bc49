package repository

import (
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/beamstream/vault/internal/coreerr"
	"github.com/beamstream/vault/internal/models"
)

// CatalogRepository persists Movie/MovieEntry/Show/Season/Episode rows and
// the library junction tables. "Ensure"/"FindOrCreate" operations are
// idempotent per spec.md §4.4: a unique-constraint violation on insert
// means "already exists" and the caller re-reads rather than treating it
// as an error.
type CatalogRepository struct {
	db dbtx
}

func NewCatalogRepository(db *sql.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// WithTx returns a CatalogRepository whose statements run inside tx instead
// of on the pool, so a caller can bracket several finds/creates atomically.
func (r *CatalogRepository) WithTx(tx *sql.Tx) *CatalogRepository {
	return &CatalogRepository{db: tx}
}

// isUniqueViolation reports whether err is a Postgres 23505 error, the
// signal that a concurrent writer won an idempotent insert race.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// withRaceRecovery runs attempt (an insert that may lose an idempotent
// create race). When r.db is a transaction, a 23505 aborts every later
// statement on that connection until rolled back — so attempt runs inside a
// SAVEPOINT the caller's subsequent re-read can survive. Outside a
// transaction a failed single-statement insert doesn't poison anything, so
// this is a passthrough.
func (r *CatalogRepository) withRaceRecovery(attempt func() error) error {
	tx, ok := r.db.(*sql.Tx)
	if !ok {
		return attempt()
	}
	if _, err := tx.Exec("SAVEPOINT catalog_create"); err != nil {
		return coreerr.New(coreerr.Repository, "create savepoint", err)
	}
	if err := attempt(); err != nil {
		if isUniqueViolation(err) {
			if _, rbErr := tx.Exec("ROLLBACK TO SAVEPOINT catalog_create"); rbErr != nil {
				return coreerr.New(coreerr.Repository, "rollback to savepoint", rbErr)
			}
		}
		return err
	}
	if _, err := tx.Exec("RELEASE SAVEPOINT catalog_create"); err != nil {
		return coreerr.New(coreerr.Repository, "release savepoint", err)
	}
	return nil
}

// ── Movie ──

func (r *CatalogRepository) FindMovieByTitle(title string) (*models.Movie, error) {
	m := &models.Movie{}
	err := r.db.QueryRow(`
		SELECT id, title, runtime_seconds, tmdb_id, imdb_id, tvdb_id, created_at, updated_at
		FROM movies WHERE LOWER(title) = LOWER($1) LIMIT 1`, title).
		Scan(&m.ID, &m.Title, &m.RuntimeSeconds, &m.TMDBID, &m.IMDBID, &m.TVDBID, &m.CreatedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, coreerr.New(coreerr.Repository, "find movie by title", err)
	}
	return m, nil
}

func (r *CatalogRepository) CreateMovie(m *models.Movie) error {
	err := r.db.QueryRow(`
		INSERT INTO movies (id, title, runtime_seconds, tmdb_id, imdb_id, tvdb_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`,
		m.ID, m.Title, m.RuntimeSeconds, m.TMDBID, m.IMDBID, m.TVDBID).
		Scan(&m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return coreerr.New(coreerr.Repository, "create movie", err)
	}
	return nil
}

// FindOrCreateMovie is idempotent: concurrent scanners racing to create the
// same movie title converge on one row.
func (r *CatalogRepository) FindOrCreateMovie(title string) (*models.Movie, error) {
	if m, err := r.FindMovieByTitle(title); err != nil {
		return nil, err
	} else if m != nil {
		return m, nil
	}
	m := &models.Movie{ID: uuid.New(), Title: title}
	if err := r.withRaceRecovery(func() error { return r.CreateMovie(m) }); err != nil {
		if isUniqueViolation(err) {
			return r.FindMovieByTitle(title)
		}
		return nil, err
	}
	return m, nil
}

// ── MovieEntry ──

func (r *CatalogRepository) FindMovieEntry(libraryID, movieID uuid.UUID, edition *string) (*models.MovieEntry, error) {
	e := &models.MovieEntry{}
	err := r.db.QueryRow(`
		SELECT id, library_id, movie_id, edition, is_primary, created_at, updated_at
		FROM movie_entries
		WHERE library_id = $1 AND movie_id = $2 AND edition IS NOT DISTINCT FROM $3`,
		libraryID, movieID, edition).
		Scan(&e.ID, &e.LibraryID, &e.MovieID, &e.Edition, &e.IsPrimary, &e.CreatedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, coreerr.New(coreerr.Repository, "find movie entry", err)
	}
	return e, nil
}

func (r *CatalogRepository) CreateMovieEntry(e *models.MovieEntry) error {
	err := r.db.QueryRow(`
		INSERT INTO movie_entries (id, library_id, movie_id, edition, is_primary)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`,
		e.ID, e.LibraryID, e.MovieID, e.Edition, e.IsPrimary).
		Scan(&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return coreerr.New(coreerr.Repository, "create movie entry", err)
	}
	return nil
}

// FindOrCreateMovieEntry ensures one MovieEntry exists for (library, movie,
// edition); the first entry created for a (library, movie) pair becomes
// primary. Idempotent under the (library_id, movie_id, edition) unique
// constraint.
func (r *CatalogRepository) FindOrCreateMovieEntry(libraryID, movieID uuid.UUID, edition *string) (*models.MovieEntry, error) {
	if e, err := r.FindMovieEntry(libraryID, movieID, edition); err != nil {
		return nil, err
	} else if e != nil {
		return e, nil
	}

	var count int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM movie_entries WHERE library_id = $1 AND movie_id = $2`,
		libraryID, movieID).Scan(&count); err != nil {
		return nil, coreerr.New(coreerr.Repository, "count movie entries", err)
	}

	e := &models.MovieEntry{
		ID:        uuid.New(),
		LibraryID: libraryID,
		MovieID:   movieID,
		Edition:   edition,
		IsPrimary: count == 0,
	}
	if err := r.withRaceRecovery(func() error { return r.CreateMovieEntry(e) }); err != nil {
		if isUniqueViolation(err) {
			return r.FindMovieEntry(libraryID, movieID, edition)
		}
		return nil, err
	}
	return e, nil
}

// EnsureLibraryMovie idempotently inserts the library/movie junction row.
func (r *CatalogRepository) EnsureLibraryMovie(libraryID, movieID uuid.UUID) error {
	_, err := r.db.Exec(`
		INSERT INTO library_movies (library_id, movie_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, libraryID, movieID)
	if err != nil {
		return coreerr.New(coreerr.Repository, "ensure library movie association", err)
	}
	return nil
}

// ── Show ──

func (r *CatalogRepository) FindShowByTitle(title string) (*models.Show, error) {
	s := &models.Show{}
	err := r.db.QueryRow(`
		SELECT id, title, created_at, updated_at FROM shows WHERE LOWER(title) = LOWER($1) LIMIT 1`, title).
		Scan(&s.ID, &s.Title, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, coreerr.New(coreerr.Repository, "find show by title", err)
	}
	return s, nil
}

func (r *CatalogRepository) CreateShow(s *models.Show) error {
	err := r.db.QueryRow(`
		INSERT INTO shows (id, title) VALUES ($1, $2)
		RETURNING created_at, updated_at`, s.ID, s.Title).
		Scan(&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return coreerr.New(coreerr.Repository, "create show", err)
	}
	return nil
}

func (r *CatalogRepository) FindOrCreateShow(title string) (*models.Show, error) {
	if s, err := r.FindShowByTitle(title); err != nil {
		return nil, err
	} else if s != nil {
		return s, nil
	}
	s := &models.Show{ID: uuid.New(), Title: title}
	if err := r.withRaceRecovery(func() error { return r.CreateShow(s) }); err != nil {
		if isUniqueViolation(err) {
			return r.FindShowByTitle(title)
		}
		return nil, err
	}
	return s, nil
}

// EnsureLibraryShow idempotently inserts the library/show junction row.
func (r *CatalogRepository) EnsureLibraryShow(libraryID, showID uuid.UUID) error {
	_, err := r.db.Exec(`
		INSERT INTO library_shows (library_id, show_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, libraryID, showID)
	if err != nil {
		return coreerr.New(coreerr.Repository, "ensure library show association", err)
	}
	return nil
}

// ── Season ──

func (r *CatalogRepository) FindSeason(showID uuid.UUID, number int) (*models.Season, error) {
	s := &models.Season{}
	err := r.db.QueryRow(`
		SELECT id, show_id, season_number, created_at, updated_at
		FROM seasons WHERE show_id = $1 AND season_number = $2`, showID, number).
		Scan(&s.ID, &s.ShowID, &s.SeasonNumber, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, coreerr.New(coreerr.Repository, "find season", err)
	}
	return s, nil
}

func (r *CatalogRepository) CreateSeason(s *models.Season) error {
	err := r.db.QueryRow(`
		INSERT INTO seasons (id, show_id, season_number) VALUES ($1, $2, $3)
		RETURNING created_at, updated_at`, s.ID, s.ShowID, s.SeasonNumber).
		Scan(&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return coreerr.New(coreerr.Repository, "create season", err)
	}
	return nil
}

// FindOrCreateSeason is one of the two operations spec.md §4.4 requires to
// be idempotent by name.
func (r *CatalogRepository) FindOrCreateSeason(showID uuid.UUID, number int) (*models.Season, error) {
	if s, err := r.FindSeason(showID, number); err != nil {
		return nil, err
	} else if s != nil {
		return s, nil
	}
	s := &models.Season{ID: uuid.New(), ShowID: showID, SeasonNumber: number}
	if err := r.withRaceRecovery(func() error { return r.CreateSeason(s) }); err != nil {
		if isUniqueViolation(err) {
			return r.FindSeason(showID, number)
		}
		return nil, err
	}
	return s, nil
}

// ── Episode ──

func (r *CatalogRepository) FindEpisode(seasonID uuid.UUID, number int) (*models.Episode, error) {
	e := &models.Episode{}
	err := r.db.QueryRow(`
		SELECT id, season_id, episode_number, title, runtime_seconds, air_date, created_at, updated_at
		FROM episodes WHERE season_id = $1 AND episode_number = $2`, seasonID, number).
		Scan(&e.ID, &e.SeasonID, &e.EpisodeNumber, &e.Title, &e.RuntimeSeconds, &e.AirDate, &e.CreatedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, coreerr.New(coreerr.Repository, "find episode", err)
	}
	return e, nil
}

func (r *CatalogRepository) CreateEpisode(e *models.Episode) error {
	err := r.db.QueryRow(`
		INSERT INTO episodes (id, season_id, episode_number, title, runtime_seconds, air_date)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`,
		e.ID, e.SeasonID, e.EpisodeNumber, e.Title, e.RuntimeSeconds, e.AirDate).
		Scan(&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return coreerr.New(coreerr.Repository, "create episode", err)
	}
	return nil
}

func (r *CatalogRepository) FindOrCreateEpisode(seasonID uuid.UUID, number int) (*models.Episode, error) {
	if e, err := r.FindEpisode(seasonID, number); err != nil {
		return nil, err
	} else if e != nil {
		return e, nil
	}
	e := &models.Episode{ID: uuid.New(), SeasonID: seasonID, EpisodeNumber: number}
	if err := r.withRaceRecovery(func() error { return r.CreateEpisode(e) }); err != nil {
		if isUniqueViolation(err) {
			return r.FindEpisode(seasonID, number)
		}
		return nil, err
	}
	return e, nil
}
