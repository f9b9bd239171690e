package index

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMeta() Meta {
	return Meta{EmbeddingModel: "hash:hash-v1:3", Dimension: 3}
}

func testEntries() []Entry {
	return []Entry{
		{Chunk: Chunk{Text: "cpt eligibility", Source: "https://www.sjsu.edu/isss/cpt", Title: "CPT"}, Vector: []float32{1, 0, 0}},
		{Chunk: Chunk{Text: "opt timeline", Source: "https://www.sjsu.edu/isss/opt", Title: "OPT"}, Vector: []float32{0, 1, 0}},
		{Chunk: Chunk{Text: "cpt again", Source: "https://www.sjsu.edu/isss/cpt", Title: "CPT", Start: 800}, Vector: []float32{2, 0, 0}},
		{Chunk: Chunk{Text: "sevis", Source: "data-store/files/sevis.pdf", Title: "sevis"}, Vector: []float32{0, 0, 1}},
	}
}

func TestMemorySearchOrdersByScoreWithStableTies(t *testing.T) {
	idx, err := NewMemory(testMeta(), testEntries())
	require.NoError(t, err)

	hits, err := idx.Search(context.Background(), []float32{1, 0, 0}, 3)
	require.NoError(t, err)
	require.Len(t, hits, 3)

	assert.Equal(t, "cpt eligibility", hits[0].Chunk.Text)
	assert.Equal(t, "cpt again", hits[1].Chunk.Text)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-9)
	assert.InDelta(t, 1.0, hits[1].Score, 1e-9)
	assert.Equal(t, "opt timeline", hits[2].Chunk.Text)
	assert.Zero(t, hits[2].Score)
}

func TestMemorySearchReturnsAllWhenFewerThanK(t *testing.T) {
	idx, err := NewMemory(testMeta(), testEntries()[:2])
	require.NoError(t, err)

	hits, err := idx.Search(context.Background(), []float32{0, 1, 0}, 4)
	require.NoError(t, err)
	assert.Len(t, hits, 2)
	assert.Equal(t, "opt timeline", hits[0].Chunk.Text)
}

func TestMemorySearchZeroQuery(t *testing.T) {
	idx, err := NewMemory(testMeta(), testEntries())
	require.NoError(t, err)

	hits, err := idx.Search(context.Background(), []float32{0, 0, 0}, 4)
	require.NoError(t, err)
	require.Len(t, hits, 4)
	for i, hit := range hits {
		assert.Zero(t, hit.Score)
		assert.Equal(t, testEntries()[i].Chunk, hit.Chunk)
	}
}

func TestMemorySearchRejectsBadInput(t *testing.T) {
	idx, err := NewMemory(testMeta(), testEntries())
	require.NoError(t, err)

	_, err = idx.Search(context.Background(), []float32{1, 0}, 1)
	var mismatch *EmbeddingMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, 3, mismatch.IndexDim)
	assert.Equal(t, 2, mismatch.QueryDim)

	_, err = idx.Search(context.Background(), []float32{1, 0, 0}, 0)
	require.Error(t, err)
}

func TestNewMemoryRejectsWrongDimension(t *testing.T) {
	entries := testEntries()
	entries[1].Vector = []float32{1}
	_, err := NewMemory(testMeta(), entries)
	require.Error(t, err)
}

func TestCheckModel(t *testing.T) {
	require.NoError(t, CheckModel(testMeta(), "hash:hash-v1:3"))

	err := CheckModel(testMeta(), "openai:text-embedding-3-small:1536")
	var mismatch *EmbeddingMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "hash:hash-v1:3", mismatch.IndexModel)
	assert.Contains(t, err.Error(), "text-embedding-3-small")
}

func TestLocalStoreLoadBeforeBuild(t *testing.T) {
	store := NewLocalStore(filepath.Join(t.TempDir(), "faiss_index"))

	_, err := store.Load(context.Background())
	require.ErrorIs(t, err, ErrIndexNotFound)
}

func TestLocalStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewLocalStore(filepath.Join(t.TempDir(), "faiss_index"))
	builtAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	meta := testMeta()
	meta.BuiltAt = builtAt
	require.NoError(t, store.Build(ctx, meta, testEntries()))

	idx, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hash:hash-v1:3", idx.Meta().EmbeddingModel)
	assert.Equal(t, 4, idx.Meta().ChunkCount)
	assert.True(t, builtAt.Equal(idx.Meta().BuiltAt))

	hits, err := idx.Search(ctx, []float32{2, 0, 0}, 4)
	require.NoError(t, err)
	require.Len(t, hits, 4)
	assert.Equal(t, testEntries()[0].Chunk, hits[0].Chunk)
	assert.Equal(t, 800, hits[1].Chunk.Start)
}

func TestLocalStoreRebuildReplacesIndex(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "faiss_index")
	store := NewLocalStore(dir)

	require.NoError(t, store.Build(ctx, testMeta(), testEntries()))
	require.NoError(t, store.Build(ctx, testMeta(), testEntries()[3:]))

	idx, err := store.Load(ctx)
	require.NoError(t, err)
	hits, err := idx.Search(ctx, []float32{1, 0, 0}, 4)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "sevis", hits[0].Chunk.Text)

	siblings, err := filepath.Glob(dir + ".*")
	require.NoError(t, err)
	assert.Empty(t, siblings)

	require.NoError(t, store.Build(ctx, testMeta(), testEntries()[:2]))
	versions, err := filepath.Glob(filepath.Join(dir, versionPrefix+"*"))
	require.NoError(t, err)
	assert.Len(t, versions, 2, "live version and its predecessor are kept")
	assert.Contains(t, versions, liveVersion(t, dir))
}

func TestLocalStoreLoadDuringRebuilds(t *testing.T) {
	ctx := context.Background()
	store := NewLocalStore(filepath.Join(t.TempDir(), "faiss_index"))
	require.NoError(t, store.Build(ctx, testMeta(), testEntries()))

	done := make(chan error, 1)
	go func() {
		for i := 0; i < 60; i++ {
			entries := testEntries()
			if i%2 == 0 {
				entries = entries[3:]
			}
			if err := store.Build(ctx, testMeta(), entries); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()

	loads := 0
	for {
		select {
		case err := <-done:
			require.NoError(t, err)
			assert.Positive(t, loads)
			return
		default:
		}
		idx, err := store.Load(ctx)
		require.NoError(t, err)
		assert.Contains(t, []int{1, 4}, idx.Meta().ChunkCount)
		loads++
	}
}

func TestLocalStoreFailedBuildKeepsPreviousIndex(t *testing.T) {
	ctx := context.Background()
	store := NewLocalStore(filepath.Join(t.TempDir(), "faiss_index"))
	require.NoError(t, store.Build(ctx, testMeta(), testEntries()))

	bad := testEntries()
	bad[0].Vector = []float32{1, 2}
	require.Error(t, store.Build(ctx, testMeta(), bad))

	idx, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, idx.Meta().ChunkCount)
}

func TestLocalStoreDetectsTampering(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "faiss_index")
	store := NewLocalStore(dir)
	require.NoError(t, store.Build(ctx, testMeta(), testEntries()))

	f, err := os.OpenFile(filepath.Join(liveVersion(t, dir), dbName), os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.Write([]byte("tampered"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = store.Load(ctx)
	require.ErrorIs(t, err, ErrIndexCorrupt)
}

func TestLocalStoreRejectsBadPointer(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "faiss_index")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, currentName), []byte("../elsewhere\n"), 0o644))

	_, err := NewLocalStore(dir).Load(context.Background())
	require.ErrorIs(t, err, ErrIndexCorrupt)
}

func liveVersion(t *testing.T, dir string) string {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join(dir, currentName))
	require.NoError(t, err)
	return filepath.Join(dir, strings.TrimSpace(string(raw)))
}

func TestLocalStoreClear(t *testing.T) {
	ctx := context.Background()
	store := NewLocalStore(filepath.Join(t.TempDir(), "faiss_index"))
	require.NoError(t, store.Clear(ctx))
	require.NoError(t, store.Build(ctx, testMeta(), testEntries()))
	require.NoError(t, store.Clear(ctx))

	_, err := store.Load(ctx)
	assert.True(t, errors.Is(err, ErrIndexNotFound))
}

func TestVectorEncodingRoundTrip(t *testing.T) {
	in := []float32{0, -1.5, 3.25, 1e-7}
	out, err := decodeVector(encodeVector(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = decodeVector([]byte{1, 2, 3})
	require.Error(t, err)
}
