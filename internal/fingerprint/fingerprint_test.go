package fingerprint

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T, content []byte) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.bin")
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

func TestHashDeterministic(t *testing.T) {
	content := make([]byte, chunkSize*2+17)
	for i := range content {
		content[i] = byte(i % 251)
	}
	path := writeTempFile(t, content)

	h := New(2)
	first, err := h.Hash(path)
	require.NoError(t, err)
	second, err := h.Hash(path)
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.NotZero(t, first)
}

func TestHashDistinguishesContent(t *testing.T) {
	h := New(2)
	a, err := h.Hash(writeTempFile(t, []byte("alpha")))
	require.NoError(t, err)
	b, err := h.Hash(writeTempFile(t, []byte("beta")))
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestHashMissingFile(t *testing.T) {
	h := New(1)
	_, err := h.Hash(filepath.Join(t.TempDir(), "missing.bin"))
	require.Error(t, err)
}

func TestHashAsyncConcurrentCallsComplete(t *testing.T) {
	h := New(2)
	path := writeTempFile(t, []byte("concurrent content for hashing"))

	var wg sync.WaitGroup
	results := make([]uint64, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			r := <-h.HashAsync(context.Background(), path)
			require.NoError(t, r.Err)
			results[idx] = r.Sum
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		require.Equal(t, results[0], r)
	}
}
