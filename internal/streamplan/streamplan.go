// Package streamplan builds an OutputStreamPlan from a set of probed input
// files: one track per source stream plus a GOP-aligned target segment
// duration. Grounded on beam-stream's utils/stream/mod.rs StreamBuilder and
// utils/stream/config.rs's VideoStream/AudioStream/SubtitleStream shapes.
package streamplan

import (
	"context"
	"math/big"
	"path/filepath"

	"github.com/beamstream/vault/internal/coreerr"
	"github.com/beamstream/vault/internal/ffmpeg"
)

type SourceKind string

const (
	SourceVideo    SourceKind = "video"
	SourceSubtitle SourceKind = "subtitle"
)

// Source is one input file the plan is built from.
type Source struct {
	Kind SourceKind
	Path string
}

// RemuxedCodec marks a track's codec as copy-through rather than
// transcoded, matching beam-stream's OutputVideoCodec::Remuxed variant.
type RemuxedCodec struct {
	Name string
}

type VideoTrack struct {
	SourceIndex  int
	StreamIndex  int
	Codec        RemuxedCodec
	MaxRate      int64
	BitRate      int64
	Width        int
	Height       int
	FrameRate    float64
}

type AudioTrack struct {
	SourceIndex    int
	StreamIndex    int
	Codec          RemuxedCodec
	Language       string
	Title          string
	ChannelLayout  string
	IsDefault      bool
	IsAutoselect   bool
}

type SubtitleTrack struct {
	SourceIndex  int
	StreamIndex  int
	Codec        string // always "webvtt"
	Language     string
	Title        string
	IsDefault    bool
	IsAutoselect bool
	IsForced     bool
}

// SourceRef records which file backed a track and its content hash, for
// cache-key and artifact provenance purposes.
type SourceRef struct {
	Kind SourceKind
	Path string
	Hash uint64
}

// StreamPlan is the output of Build: an ordered set of tracks and the
// segment duration every fragment in the materialized artifact should
// target.
type StreamPlan struct {
	Sources             []SourceRef
	VideoTracks         []VideoTrack
	AudioTracks         []AudioTrack
	SubtitleTracks      []SubtitleTrack
	TargetSegmentSeconds int
}

// defaultGOPSeconds is the fallback GOP duration when a video stream's GOP
// cannot be determined from probe data, per spec.md §4.6.
const defaultGOPSeconds = 2

// Builder assembles a StreamPlan from probed sources.
type Builder struct {
	prober *ffmpeg.Prober
	hasher interface {
		Hash(path string) (uint64, error)
	}
}

func NewBuilder(prober *ffmpeg.Prober, hasher interface{ Hash(path string) (uint64, error) }) *Builder {
	return &Builder{prober: prober, hasher: hasher}
}

// Build probes every source, requires at least one Video source, and
// produces a StreamPlan with one track per enumerated stream and a
// GOP-aligned target segment duration.
func (b *Builder) Build(ctx context.Context, sources []Source) (*StreamPlan, error) {
	hasVideo := false
	for _, s := range sources {
		if s.Kind == SourceVideo {
			hasVideo = true
			break
		}
	}
	if !hasVideo {
		return nil, coreerr.New(coreerr.Classification, "no video files", nil)
	}

	plan := &StreamPlan{}
	gopDurations := []*big.Rat{}

	for i, src := range sources {
		meta, err := b.prober.Probe(ctx, src.Path)
		if err != nil {
			return nil, coreerr.Wrap(coreerr.Codec, err)
		}
		hash, err := b.hasher.Hash(src.Path)
		if err != nil {
			return nil, coreerr.Wrap(coreerr.Io, err)
		}
		plan.Sources = append(plan.Sources, SourceRef{Kind: src.Kind, Path: src.Path, Hash: hash})

		sawSubtitle := false

		for streamIdx, sm := range meta.Streams {
			switch sm.Kind {
			case ffmpeg.KindVideo:
				if sm.Video == nil {
					continue
				}
				plan.VideoTracks = append(plan.VideoTracks, VideoTrack{
					SourceIndex: i,
					StreamIndex: streamIdx,
					Codec:       RemuxedCodec{Name: sm.Codec},
					MaxRate:     sm.Video.BitRate,
					BitRate:     sm.Video.BitRate,
					Width:       sm.Video.Width,
					Height:      sm.Video.Height,
					FrameRate:   sm.Video.FrameRate,
				})
				gopDurations = append(gopDurations, gopDurationFromFrameRate(sm.Video.FrameRate))

			case ffmpeg.KindAudio:
				if sm.Audio == nil {
					continue
				}
				plan.AudioTracks = append(plan.AudioTracks, AudioTrack{
					SourceIndex:   i,
					StreamIndex:   streamIdx,
					Codec:         RemuxedCodec{Name: sm.Codec},
					Language:      sm.Language,
					Title:         trackTitle(sm.Title, sm.Language, i),
					ChannelLayout: sm.Audio.ChannelLayout,
					IsDefault:     streamIdx == meta.BestAudio,
					IsAutoselect:  true,
				})

			case ffmpeg.KindSubtitle:
				sawSubtitle = true
				plan.SubtitleTracks = append(plan.SubtitleTracks, SubtitleTrack{
					SourceIndex:  i,
					StreamIndex:  streamIdx,
					Codec:        "webvtt",
					Language:     sm.Language,
					Title:        sm.Title,
					IsDefault:    streamIdx == meta.BestSubtitle,
					IsAutoselect: true,
					IsForced:     sm.IsForced,
				})
			}
		}

		// A SourceSubtitle file (e.g. a sidecar .srt) always probes as
		// exactly one subtitle stream, so the loop above already emitted its
		// track; only synthesize one here if the probe somehow yielded none,
		// so a subtitle source never produces two tracks for one stream.
		if src.Kind == SourceSubtitle && !sawSubtitle {
			plan.SubtitleTracks = append(plan.SubtitleTracks, SubtitleTrack{
				SourceIndex:  i,
				StreamIndex:  0,
				Codec:        "webvtt",
				Title:        filepath.Base(src.Path),
				IsAutoselect: true,
			})
		}
	}

	plan.TargetSegmentSeconds = targetSegmentSeconds(gopDurations)
	return plan, nil
}

func trackTitle(title, language string, sourceIndex int) string {
	if title != "" {
		return title
	}
	if language != "" {
		return language
	}
	return "Audio"
}

// gopDurationFromFrameRate reports the GOP duration for one video stream.
// TODO: derive this from actual keyframe spacing (ffprobe -show_frames);
// until then every stream falls back to defaultGOPSeconds, same as
// beam-stream's StreamBuilder.
func gopDurationFromFrameRate(frameRate float64) *big.Rat {
	return big.NewRat(defaultGOPSeconds, 1)
}

// targetSegmentSeconds computes target = ceil(k * lcm_gop) where
// k = ceil(6 / lcm_gop), using exact rational arithmetic so alignment is
// never off by floating-point rounding, per spec.md §4.6.
func targetSegmentSeconds(gopDurations []*big.Rat) int {
	lcmGOP := big.NewRat(defaultGOPSeconds, 1)
	if len(gopDurations) > 0 {
		lcmGOP = lcmRat(gopDurations)
	}

	six := big.NewRat(6, 1)
	k := ceilRat(new(big.Rat).Quo(six, lcmGOP))
	target := ceilRat(new(big.Rat).Mul(big.NewRat(k, 1), lcmGOP))
	if target < 1 {
		target = defaultGOPSeconds
	}
	return int(target)
}

// lcmRat folds a set of exact-rational durations with the identity
// lcm(a/b, c/d) = lcm(a, c) / gcd(b, d). The fold starts from 1, so the
// result is the LCM of the durations together with 1: always a whole
// number of seconds and a multiple of every input (lcmRat({1/2}) is 1).
func lcmRat(rats []*big.Rat) *big.Rat {
	acc := big.NewRat(1, 1)
	for _, r := range rats {
		accNum := new(big.Int).Abs(acc.Num())
		rNum := new(big.Int).Abs(r.Num())
		lcmNum := new(big.Int).Div(new(big.Int).Mul(accNum, rNum), new(big.Int).GCD(nil, nil, accNum, rNum))

		gcdDen := new(big.Int).GCD(nil, nil, acc.Denom(), r.Denom())

		acc = new(big.Rat).SetFrac(lcmNum, gcdDen)
	}
	return acc
}

func ceilRat(r *big.Rat) int64 {
	num := r.Num()
	den := r.Denom()
	q := new(big.Int).Div(num, den)
	if new(big.Int).Mod(num, den).Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return q.Int64()
}
