// Package materializer executes a StreamPlan to produce a fragmented-MP4
// artifact on disk, muxing subtitle tracks in as mov_text alongside the
// copy-through video/audio. Grounded on CineVault's internal/stream/remux.go
// (exec.CommandContext argument-building and stderr-drain idiom).
package materializer

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/beamstream/vault/internal/coreerr"
	"github.com/beamstream/vault/internal/streamplan"
)

// Materializer wraps an ffmpeg binary path used to run the fMP4 remux.
type Materializer struct {
	ffmpegPath string
}

func New(ffmpegPath string) *Materializer {
	return &Materializer{ffmpegPath: ffmpegPath}
}

// Materialize runs plan through ffmpeg and writes a fragmented-MP4 file at
// outputPath. Video and audio tracks are stream-copied; subtitle tracks are
// converted to mov_text so they can be muxed into the same MP4 container.
func (m *Materializer) Materialize(ctx context.Context, plan *streamplan.StreamPlan, outputPath string) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return coreerr.New(coreerr.Io, "create artifact directory", err)
	}

	args := []string{"-hide_banner", "-v", "error", "-y"}
	for _, src := range plan.Sources {
		args = append(args, "-i", src.Path)
	}

	for _, vt := range plan.VideoTracks {
		args = append(args, "-map", fmt.Sprintf("%d:%d", vt.SourceIndex, vt.StreamIndex))
	}
	for _, at := range plan.AudioTracks {
		args = append(args, "-map", fmt.Sprintf("%d:%d", at.SourceIndex, at.StreamIndex))
	}
	for _, st := range plan.SubtitleTracks {
		args = append(args, "-map", fmt.Sprintf("%d:%d", st.SourceIndex, st.StreamIndex))
	}

	args = append(args, "-c:v", "copy", "-c:a", "copy")
	if len(plan.SubtitleTracks) > 0 {
		args = append(args, "-c:s", "mov_text")
	}

	args = append(args,
		"-movflags", "frag_keyframe+empty_moov+default_base_moof",
		"-f", "mp4",
		outputPath,
	)

	cmd := exec.CommandContext(ctx, m.ffmpegPath, args...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return coreerr.New(coreerr.Codec, "stderr pipe", err)
	}

	if err := cmd.Start(); err != nil {
		return coreerr.New(coreerr.Codec, "start ffmpeg", err)
	}

	stderrBytes, _ := io.ReadAll(stderr)
	if err := cmd.Wait(); err != nil {
		errStr := string(stderrBytes)
		if len(errStr) > 1000 {
			errStr = errStr[len(errStr)-1000:]
		}
		log.Printf("materializer: ffmpeg failed for %s: %v | stderr: %s", outputPath, err, errStr)
		return coreerr.New(coreerr.Codec, "ffmpeg materialize", err)
	}

	return nil
}
