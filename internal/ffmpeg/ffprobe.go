// Package ffmpeg wraps the ffprobe/ffmpeg CLI toolkit: the only way this
// corpus talks to a codec library, since no Go ffmpeg binding appears
// anywhere in the retrieved example pack.
package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/beamstream/vault/internal/coreerr"
)

// Prober wraps an ffprobe binary and offloads every call to a bounded
// semaphore so a burst of scan/materialize work can't fork unbounded
// subprocesses — grounded on beam-stream's MediaInfoService semaphore.
type Prober struct {
	path string
	sem  chan struct{}
}

// NewProber builds a Prober capped at maxConcurrent simultaneous ffprobe
// invocations. maxConcurrent <= 0 means unbounded.
func NewProber(ffprobePath string, maxConcurrent int) *Prober {
	var sem chan struct{}
	if maxConcurrent > 0 {
		sem = make(chan struct{}, maxConcurrent)
	}
	return &Prober{path: ffprobePath, sem: sem}
}

// ── raw ffprobe JSON shape ──

type rawProbe struct {
	Format   rawFormat   `json:"format"`
	Streams  []rawStream `json:"streams"`
	Chapters []rawChapter `json:"chapters"`
}

type rawFormat struct {
	FormatName string            `json:"format_name"`
	Duration   string            `json:"duration"`
	Size       string            `json:"size"`
	BitRate    string            `json:"bit_rate"`
	ProbeScore float64           `json:"probe_score"`
	Tags       map[string]string `json:"tags"`
}

type rawStream struct {
	Index         int               `json:"index"`
	CodecType     string            `json:"codec_type"`
	CodecName     string            `json:"codec_name"`
	Width         int               `json:"width"`
	Height        int               `json:"height"`
	RFrameRate    string            `json:"r_frame_rate"`
	BitRate       string            `json:"bit_rate"`
	Profile       string            `json:"profile"`
	Level         int               `json:"level"`
	ColorSpace    string            `json:"color_space"`
	ColorTransfer string            `json:"color_transfer"`
	Channels      int               `json:"channels"`
	ChannelLayout string            `json:"channel_layout"`
	SampleRate    string            `json:"sample_rate"`
	Tags          map[string]string `json:"tags"`
	Disposition   rawDisposition    `json:"disposition"`
}

type rawDisposition struct {
	Default int `json:"default"`
	Forced  int `json:"forced"`
}

type rawChapter struct {
	StartTime string            `json:"start_time"`
	EndTime   string            `json:"end_time"`
	Tags      map[string]string `json:"tags"`
}

// ── normalized metadata record ──

// VideoFileMetadata is the normalized record Probe returns, matching
// beam-stream's utils/metadata.rs FileMetadata shape.
type VideoFileMetadata struct {
	FormatName  string
	Duration    time.Duration
	BitRate     int64
	FileSize    int64
	ProbeScore  float64
	Streams     []StreamMetadata
	BestVideo   int // index into Streams, or -1
	BestAudio   int
	BestSubtitle int
	Chapters    []ChapterMetadata
}

type StreamKind string

const (
	KindVideo    StreamKind = "video"
	KindAudio    StreamKind = "audio"
	KindSubtitle StreamKind = "subtitle"
)

// StreamMetadata is one entry from VideoFileMetadata.Streams.
type StreamMetadata struct {
	Index     int
	Kind      StreamKind
	Codec     string
	Language  string
	Title     string
	IsDefault bool
	IsForced  bool

	Video *VideoMetadata
	Audio *AudioMetadata
}

// VideoMetadata holds kind-specific fields for a Video stream.
type VideoMetadata struct {
	Width         int
	Height        int
	FrameRate     float64
	BitRate       int64
	Profile       string
	Level         string
	ColorSpace    string
	ColorTransfer string
}

// AudioMetadata holds kind-specific fields for an Audio stream.
type AudioMetadata struct {
	Channels      int
	SampleRate    int
	ChannelLayout string
	BitRate       int64
}

type ChapterMetadata struct {
	Title        string
	StartSeconds float64
	EndSeconds   float64
}

// Probe runs ffprobe over path and returns a normalized VideoFileMetadata.
// Numeric fields that decoder parameters leave absent or zero fall back to
// the matching tag: BPS for format and stream bit rates, DURATION for the
// format duration. No frame count is read, so NUMBER_OF_FRAMES is not used.
func (p *Prober) Probe(ctx context.Context, path string) (*VideoFileMetadata, error) {
	if p.sem != nil {
		select {
		case p.sem <- struct{}{}:
			defer func() { <-p.sem }()
		case <-ctx.Done():
			return nil, coreerr.Wrap(coreerr.Cancelled, ctx.Err())
		}
	}

	cmd := exec.CommandContext(ctx, p.path,
		"-v", "quiet", "-print_format", "json",
		"-show_format", "-show_streams", "-show_chapters", path)
	output, err := cmd.Output()
	if err != nil {
		return nil, coreerr.New(coreerr.Codec, fmt.Sprintf("ffprobe %s", path), err)
	}

	var raw rawProbe
	if err := json.Unmarshal(output, &raw); err != nil {
		return nil, coreerr.New(coreerr.Codec, "parse ffprobe json", err)
	}

	return normalize(&raw), nil
}

func normalize(raw *rawProbe) *VideoFileMetadata {
	meta := &VideoFileMetadata{
		FormatName:   raw.Format.FormatName,
		BestVideo:    -1,
		BestAudio:    -1,
		BestSubtitle: -1,
	}

	meta.Duration = parseDuration(raw.Format.Duration)
	if meta.Duration == 0 {
		meta.Duration = parseDuration(raw.Format.Tags["DURATION"])
	}

	meta.BitRate = parseIntFallback(raw.Format.BitRate, raw.Format.Tags["BPS"])
	meta.FileSize, _ = strconv.ParseInt(raw.Format.Size, 10, 64)
	meta.ProbeScore = raw.Format.ProbeScore

	var bestVideoBitrate, bestAudioChannels int
	for _, s := range raw.Streams {
		sm := StreamMetadata{
			Index:     s.Index,
			Codec:     s.CodecName,
			IsDefault: s.Disposition.Default == 1,
			IsForced:  s.Disposition.Forced == 1,
		}
		if lang, ok := s.Tags["language"]; ok {
			sm.Language = lang
		}
		if title, ok := s.Tags["title"]; ok {
			sm.Title = title
		}

		switch s.CodecType {
		case "video":
			sm.Kind = KindVideo
			vm := &VideoMetadata{
				Width:         s.Width,
				Height:        s.Height,
				FrameRate:     parseRational(s.RFrameRate),
				BitRate:       parseIntFallback(s.BitRate, s.Tags["BPS"]),
				Profile:       s.Profile,
				ColorSpace:    s.ColorSpace,
				ColorTransfer: s.ColorTransfer,
			}
			if s.Level > 0 {
				vm.Level = strconv.Itoa(s.Level)
			}
			sm.Video = vm
			idx := len(meta.Streams)
			if int(vm.BitRate) >= bestVideoBitrate || meta.BestVideo < 0 {
				bestVideoBitrate = int(vm.BitRate)
				meta.BestVideo = idx
			}
		case "audio":
			sm.Kind = KindAudio
			am := &AudioMetadata{
				Channels:      s.Channels,
				ChannelLayout: s.ChannelLayout,
				BitRate:       parseIntFallback(s.BitRate, s.Tags["BPS"]),
			}
			if sr, err := strconv.Atoi(s.SampleRate); err == nil {
				am.SampleRate = sr
			}
			sm.Audio = am
			idx := len(meta.Streams)
			if sm.IsDefault || (meta.BestAudio < 0) || s.Channels > bestAudioChannels {
				bestAudioChannels = s.Channels
				meta.BestAudio = idx
			}
		case "subtitle":
			sm.Kind = KindSubtitle
			idx := len(meta.Streams)
			if sm.IsDefault || meta.BestSubtitle < 0 {
				meta.BestSubtitle = idx
			}
		default:
			continue
		}
		meta.Streams = append(meta.Streams, sm)
	}

	for _, c := range raw.Chapters {
		cm := ChapterMetadata{}
		if v, err := strconv.ParseFloat(c.StartTime, 64); err == nil {
			cm.StartSeconds = v
		}
		if v, err := strconv.ParseFloat(c.EndTime, 64); err == nil {
			cm.EndSeconds = v
		}
		if title, ok := c.Tags["title"]; ok {
			cm.Title = title
		}
		meta.Chapters = append(meta.Chapters, cm)
	}

	return meta
}

// parseDuration accepts "HH:MM:SS[.fraction]" (container tag form) as well
// as ffprobe's plain-seconds float string, per spec.md §4.2.
func parseDuration(s string) time.Duration {
	if s == "" {
		return 0
	}
	if strings.Contains(s, ":") {
		parts := strings.Split(s, ":")
		if len(parts) == 3 {
			h, _ := strconv.Atoi(parts[0])
			m, _ := strconv.Atoi(parts[1])
			sec, _ := strconv.ParseFloat(parts[2], 64)
			return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute +
				time.Duration(sec*float64(time.Second))
		}
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(v * float64(time.Second))
	}
	return 0
}

// parseRational parses ffprobe's "num/den" frame-rate strings.
func parseRational(s string) float64 {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 {
		v, _ := strconv.ParseFloat(s, 64)
		return v
	}
	num, errN := strconv.ParseFloat(parts[0], 64)
	den, errD := strconv.ParseFloat(parts[1], 64)
	if errN != nil || errD != nil || den == 0 {
		return 0
	}
	return num / den
}

func parseIntFallback(primary, tagFallback string) int64 {
	if v, err := strconv.ParseInt(primary, 10, 64); err == nil && v != 0 {
		return v
	}
	if v, err := strconv.ParseInt(tagFallback, 10, 64); err == nil {
		return v
	}
	return 0
}
