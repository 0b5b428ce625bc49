package models

import (
	"time"

	"github.com/google/uuid"
)

// ──────────────────── Library ────────────────────

type Library struct {
	ID                 uuid.UUID  `json:"id" db:"id"`
	Name               string     `json:"name" db:"name"`
	RootPath           string     `json:"root_path" db:"root_path"`
	LastScanStartedAt  *time.Time `json:"last_scan_started_at,omitempty" db:"last_scan_started_at"`
	LastScanFinishedAt *time.Time `json:"last_scan_finished_at,omitempty" db:"last_scan_finished_at"`
	LastScanFileCount  int        `json:"last_scan_file_count" db:"last_scan_file_count"`
	CreatedAt          time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at" db:"updated_at"`
}

// ──────────────────── Movie / MovieEntry ────────────────────

type Movie struct {
	ID             uuid.UUID `json:"id" db:"id"`
	Title          string    `json:"title" db:"title"`
	RuntimeSeconds *int      `json:"runtime_seconds,omitempty" db:"runtime_seconds"`
	TMDBID         *string   `json:"tmdb_id,omitempty" db:"tmdb_id"`
	IMDBID         *string   `json:"imdb_id,omitempty" db:"imdb_id"`
	TVDBID         *string   `json:"tvdb_id,omitempty" db:"tvdb_id"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// MovieEntry represents one edition of a Movie within one Library.
// Unique on (library_id, movie_id, edition); at most one IsPrimary=true
// per (library_id, movie_id).
type MovieEntry struct {
	ID        uuid.UUID `json:"id" db:"id"`
	LibraryID uuid.UUID `json:"library_id" db:"library_id"`
	MovieID   uuid.UUID `json:"movie_id" db:"movie_id"`
	Edition   *string   `json:"edition,omitempty" db:"edition"`
	IsPrimary bool      `json:"is_primary" db:"is_primary"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// ──────────────────── Show / Season / Episode ────────────────────

type Show struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Title     string    `json:"title" db:"title"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Season.(show_id, season_number) is unique.
type Season struct {
	ID           uuid.UUID `json:"id" db:"id"`
	ShowID       uuid.UUID `json:"show_id" db:"show_id"`
	SeasonNumber int       `json:"season_number" db:"season_number"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// Episode.(season_id, episode_number) is unique.
type Episode struct {
	ID             uuid.UUID  `json:"id" db:"id"`
	SeasonID       uuid.UUID  `json:"season_id" db:"season_id"`
	EpisodeNumber  int        `json:"episode_number" db:"episode_number"`
	Title          *string    `json:"title,omitempty" db:"title"`
	RuntimeSeconds *int       `json:"runtime_seconds,omitempty" db:"runtime_seconds"`
	AirDate        *time.Time `json:"air_date,omitempty" db:"air_date"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

// ──────────────────── File ────────────────────

type FileStatus string

const (
	FileStatusKnown   FileStatus = "known"
	FileStatusChanged FileStatus = "changed"
	FileStatusUnknown FileStatus = "unknown"
)

// File.(hash, path) is unique. Polymorphic association: Known files
// reference exactly one of MovieEntryID/EpisodeID; Unknown files
// reference neither.
type File struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	LibraryID    uuid.UUID  `json:"library_id" db:"library_id"`
	Path         string     `json:"path" db:"path"`
	Size         int64      `json:"size" db:"size"`
	Hash         uint64     `json:"hash" db:"hash"`
	Mime         *string    `json:"mime,omitempty" db:"mime"`
	DurationSecs *float64   `json:"duration_seconds,omitempty" db:"duration_seconds"`
	Container    *string    `json:"container,omitempty" db:"container"`
	// ProbeScore is the probe's container-confidence score, carried over
	// from the original record for observability only.
	ProbeScore   *float64   `json:"probe_score,omitempty" db:"probe_score"`
	Status       FileStatus `json:"file_status" db:"file_status"`
	MovieEntryID *uuid.UUID `json:"movie_entry_id,omitempty" db:"movie_entry_id"`
	EpisodeID    *uuid.UUID `json:"episode_id,omitempty" db:"episode_id"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}

// ContentRef returns whichever of MovieEntryID/EpisodeID is set, mirroring
// the tagged-union FileContent this row's two nullable columns encode.
func (f *File) ContentRef() (kind string, id uuid.UUID, ok bool) {
	if f.MovieEntryID != nil {
		return "movie_entry", *f.MovieEntryID, true
	}
	if f.EpisodeID != nil {
		return "episode", *f.EpisodeID, true
	}
	return "", uuid.Nil, false
}

// ──────────────────── MediaStream ────────────────────

type StreamKind string

const (
	StreamVideo    StreamKind = "video"
	StreamAudio    StreamKind = "audio"
	StreamSubtitle StreamKind = "subtitle"
)

// MediaStream.(file_id, stream_index) is unique. Kind-specific fields are
// nil when inapplicable to Kind.
type MediaStream struct {
	ID          uuid.UUID  `json:"id" db:"id"`
	FileID      uuid.UUID  `json:"file_id" db:"file_id"`
	StreamIndex int        `json:"stream_index" db:"stream_index"`
	Kind        StreamKind `json:"kind" db:"kind"`
	Codec       string     `json:"codec" db:"codec"`
	Language    *string    `json:"language,omitempty" db:"language"`
	Title       *string    `json:"title,omitempty" db:"title"`
	IsDefault   bool       `json:"is_default" db:"is_default"`
	IsForced    bool       `json:"is_forced" db:"is_forced"`

	// Video-specific
	Width         *int     `json:"width,omitempty" db:"width"`
	Height        *int     `json:"height,omitempty" db:"height"`
	FrameRate     *float64 `json:"frame_rate,omitempty" db:"frame_rate"`
	BitRate       *int64   `json:"bit_rate,omitempty" db:"bit_rate"`
	ColorSpace    *string  `json:"color_space,omitempty" db:"color_space"`
	ColorTransfer *string  `json:"color_transfer,omitempty" db:"color_transfer"`
	// Profile/Level mirror beam-stream's VideoMetadata.profile/level.
	Profile *string `json:"profile,omitempty" db:"profile"`
	Level   *string `json:"level,omitempty" db:"level"`

	// Audio-specific
	Channels      *int    `json:"channels,omitempty" db:"channels"`
	SampleRate    *int    `json:"sample_rate,omitempty" db:"sample_rate"`
	ChannelLayout *string `json:"channel_layout,omitempty" db:"channel_layout"`
}

// ──────────────────── StreamCache ────────────────────

// StreamCache: one artifact per (file_id, target profile). For the core
// specified here, the profile is fixed to fragmented-MP4/copy-codecs, so
// the fingerprint degenerates to FileID alone.
type StreamCache struct {
	ID           uuid.UUID `json:"id" db:"id"`
	FileID       uuid.UUID `json:"file_id" db:"file_id"`
	TargetCodec  string    `json:"target_codec" db:"target_codec"`
	Container    string    `json:"container" db:"container"`
	Resolution   *string   `json:"resolution,omitempty" db:"resolution"`
	BitRate      *int64    `json:"bit_rate,omitempty" db:"bit_rate"`
	ArtifactPath string    `json:"artifact_path" db:"artifact_path"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// ──────────────────── Scan result ────────────────────

type ScanResult struct {
	FilesDiscovered int      `json:"files_discovered"`
	FilesIngested   int      `json:"files_ingested"`
	FilesErrored    int      `json:"files_errored"`
	Errors          []string `json:"errors,omitempty"`
}
