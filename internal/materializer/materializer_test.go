package materializer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/beamstream/vault/internal/streamplan"
)

// writeFakeFFmpeg writes a shell script standing in for the ffmpeg binary:
// it creates the last argument (the output path) and exits with exitCode.
func writeFakeFFmpeg(t *testing.T, exitCode int) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "ffmpeg")
	script := fmt.Sprintf(`#!/bin/sh
for out; do :; done
touch "$out"
exit %d
`, exitCode)
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func samplePlan() *streamplan.StreamPlan {
	return &streamplan.StreamPlan{
		Sources: []streamplan.SourceRef{{Kind: streamplan.SourceVideo, Path: "/media/a.mkv", Hash: 1}},
		VideoTracks: []streamplan.VideoTrack{
			{SourceIndex: 0, StreamIndex: 0, Codec: streamplan.RemuxedCodec{Name: "h264"}},
		},
		AudioTracks: []streamplan.AudioTrack{
			{SourceIndex: 0, StreamIndex: 1, Codec: streamplan.RemuxedCodec{Name: "aac"}},
		},
		TargetSegmentSeconds: 6,
	}
}

func TestMaterializeCreatesOutputDirAndFile(t *testing.T) {
	ffmpegPath := writeFakeFFmpeg(t, 0)
	m := New(ffmpegPath)

	outputPath := filepath.Join(t.TempDir(), "nested", "out.mp4")
	err := m.Materialize(context.Background(), samplePlan(), outputPath)
	require.NoError(t, err)

	_, statErr := os.Stat(outputPath)
	require.NoError(t, statErr)
}

func TestMaterializeReturnsErrorOnFFmpegFailure(t *testing.T) {
	ffmpegPath := writeFakeFFmpeg(t, 1)
	m := New(ffmpegPath)

	outputPath := filepath.Join(t.TempDir(), "out.mp4")
	err := m.Materialize(context.Background(), samplePlan(), outputPath)
	require.Error(t, err)
}
