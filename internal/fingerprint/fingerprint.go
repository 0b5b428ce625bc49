// Package fingerprint computes the stable 64-bit content fingerprint the
// catalog uses as half of a File's natural key. One process-wide worker
// pool, sized by New (by default to runtime.NumCPU(), the logical CPU
// count, not the physical core count), backs every hash call in the
// process; callers either block on it directly or suspend and let
// the pool run the read in the background.
package fingerprint

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/cespare/xxhash/v2"

	"github.com/beamstream/vault/internal/coreerr"
)

// chunkSize is the read buffer size streamed into the hash — 1 MiB per
// spec.md §4.1.
const chunkSize = 1 << 20

// Hasher streams a file through the 64-bit XXH64 hash and returns a
// deterministic fingerprint: equal byte sequences hash equal across runs
// and platforms, matching beam-stream's utils/hash.rs contract.
type Hasher struct {
	workers chan struct{}
}

// New builds a Hasher backed by a worker pool of n slots.
// n <= 0 defaults to runtime.NumCPU() (logical CPUs).
func New(n int) *Hasher {
	if n <= 0 {
		n = runtime.NumCPU()
	}
	if n < 1 {
		n = 1
	}
	return &Hasher{workers: make(chan struct{}, n)}
}

// Hash blocks the calling goroutine until a worker slot is free, then
// streams path through the hash. Call this from a goroutine already
// dedicated to blocking work.
func (h *Hasher) Hash(path string) (uint64, error) {
	h.workers <- struct{}{}
	defer func() { <-h.workers }()
	return hashFile(path)
}

// HashAsync offloads the hash to the worker pool and returns a channel
// the caller can select on, so the calling goroutine never blocks on
// I/O directly — the "suspending" entry point from spec.md §4.1.
func (h *Hasher) HashAsync(ctx context.Context, path string) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		select {
		case h.workers <- struct{}{}:
		case <-ctx.Done():
			out <- Result{Err: coreerr.Wrap(coreerr.Cancelled, ctx.Err())}
			return
		}
		defer func() { <-h.workers }()

		if ctx.Err() != nil {
			out <- Result{Err: coreerr.Wrap(coreerr.Cancelled, ctx.Err())}
			return
		}
		sum, err := hashFile(path)
		out <- Result{Sum: sum, Err: err}
	}()
	return out
}

// Result carries a hash outcome across the async boundary.
type Result struct {
	Sum uint64
	Err error
}

func hashFile(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, coreerr.New(coreerr.Io, "open file for hashing", err)
	}
	defer f.Close()

	digest := xxhash.New()
	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(digest, f, buf); err != nil {
		return 0, coreerr.New(coreerr.Io, fmt.Sprintf("read %s", path), err)
	}
	return digest.Sum64(), nil
}
