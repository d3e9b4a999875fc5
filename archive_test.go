package pack_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/pack"
	"github.com/meigma/pack/internal/testutil"
)

// simpleArchive packs a single 10-byte resource "r1".
func simpleArchive(t *testing.T) []byte {
	t.Helper()
	return buildArchive(t, nil, func(w *pack.Writer) {
		require.NoError(t, w.AddBytes("r1", 3, []byte("0123456789")))
	})
}

func TestOpenEmptyArchive(t *testing.T) {
	t.Parallel()

	a, err := pack.Open(pack.BytesSource(buildArchive(t, nil, nil)))
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, 0, a.Len())
	for range a.Entries() {
		t.Fatal("empty archive yielded an entry")
	}
	_, err = a.Resolve("anything")
	assert.ErrorIs(t, err, pack.ErrNotFound)
	require.NoError(t, a.Verify(context.Background()))
}

func TestResolveAndRead(t *testing.T) {
	t.Parallel()

	a, err := pack.Open(pack.BytesSource(simpleArchive(t)))
	require.NoError(t, err)
	defer a.Close()

	major, minor := a.Version()
	assert.Equal(t, uint16(1), major)
	assert.Equal(t, uint16(0), minor)
	assert.Equal(t, pack.PlacementInsertion, a.Placement())

	e, err := a.Resolve("r1")
	require.NoError(t, err)
	assert.Equal(t, uint64(10), e.Length)
	assert.Equal(t, pack.ContentTag(3), e.Tag)
	assert.False(t, e.Chunked())

	got, err := a.ReadAll("r1")
	require.NoError(t, err)
	assert.Equal(t, []byte("0123456789"), got)

	part, err := a.ReadRange("r1", 2, 5)
	require.NoError(t, err)
	assert.Equal(t, []byte("23456"), part)
}

func TestNotFound(t *testing.T) {
	t.Parallel()

	a, err := pack.Open(pack.BytesSource(simpleArchive(t)))
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Resolve("r2")
	require.ErrorIs(t, err, pack.ErrNotFound)
	_, err = a.ReadAll("r2")
	require.ErrorIs(t, err, pack.ErrNotFound)
}

func TestReadRangeWindows(t *testing.T) {
	t.Parallel()

	a, err := pack.Open(pack.BytesSource(simpleArchive(t)))
	require.NoError(t, err)
	defer a.Close()

	for _, w := range []struct{ off, length int64 }{
		{-1, 1},
		{0, -1},
		{5, 6},
		{11, 0},
	} {
		_, err := a.ReadRange("r1", w.off, w.length)
		assert.ErrorIs(t, err, pack.ErrOutOfRange, "window [%d,+%d)", w.off, w.length)
	}

	// Zero-length windows inside the payload are valid.
	got, err := a.ReadRange("r1", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMaxEntrySize(t *testing.T) {
	t.Parallel()

	a, err := pack.Open(pack.BytesSource(simpleArchive(t)), pack.WithMaxEntrySize(4))
	require.NoError(t, err)
	defer a.Close()

	_, err = a.ReadAll("r1")
	require.ErrorIs(t, err, pack.ErrSizeOverflow)

	got, err := a.ReadRange("r1", 0, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte("0123"), got)
}

func TestChunkedReadAcrossBoundaries(t *testing.T) {
	t.Parallel()

	content := payload(16384)
	data := buildArchive(t, nil, func(w *pack.Writer) {
		require.NoError(t, w.AddBytes("blob", 0, content, pack.WithChunkSize(4096)))
	})

	a, err := pack.Open(pack.BytesSource(data))
	require.NoError(t, err)
	defer a.Close()

	e, err := a.Resolve("blob")
	require.NoError(t, err)
	require.Len(t, e.Chunks, 4)

	got, err := a.ReadAll("blob")
	require.NoError(t, err)
	assert.Equal(t, content, got)

	// Windows that start mid-chunk and span chunk boundaries.
	for _, w := range []struct{ off, length int64 }{
		{4000, 600},
		{0, 4097},
		{12000, 4384},
		{4096, 8192},
	} {
		got, err := a.ReadRange("blob", w.off, w.length)
		require.NoError(t, err)
		assert.Equal(t, content[w.off:w.off+w.length], got, "window [%d,+%d)", w.off, w.length)
	}
}

func TestEntriesIteration(t *testing.T) {
	t.Parallel()

	data := buildArchive(t, nil, func(w *pack.Writer) {
		require.NoError(t, w.AddBytes("c", 0, payload(1)))
		require.NoError(t, w.AddBytes("a", 0, payload(2)))
		require.NoError(t, w.AddBytes("b", 0, payload(3)))
	})

	a, err := pack.Open(pack.BytesSource(data))
	require.NoError(t, err)
	defer a.Close()

	var ids []string
	for e := range a.Entries() {
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)

	// The sequence restarts and supports early break.
	for range a.Entries() {
		break
	}
	count := 0
	for range a.Entries() {
		count++
	}
	assert.Equal(t, 3, count)
}

func TestOpenRejectsBadInput(t *testing.T) {
	t.Parallel()

	_, err := pack.Open(nil)
	require.Error(t, err)

	_, err = pack.Open(pack.BytesSource(nil))
	require.ErrorIs(t, err, pack.ErrFormat)

	data := simpleArchive(t)
	_, err = pack.Open(pack.BytesSource(data[:64]))
	require.ErrorIs(t, err, pack.ErrFormat)

	corrupt := append([]byte(nil), data...)
	corrupt[0] ^= 0xff
	_, err = pack.Open(pack.BytesSource(corrupt))
	require.ErrorIs(t, err, pack.ErrFormat)
}

func TestOpenDetectsDirectoryCorruption(t *testing.T) {
	t.Parallel()

	data := simpleArchive(t)
	corrupt := append([]byte(nil), data...)
	corrupt[len(corrupt)-1] ^= 0xff
	_, err := pack.Open(pack.BytesSource(corrupt))
	require.ErrorIs(t, err, pack.ErrCorruptDirectory)
}

func TestOpenPropagatesReadErrors(t *testing.T) {
	t.Parallel()

	data := simpleArchive(t)
	ioErr := errors.New("device gone")
	src := &testutil.FailingSource{Data: data, Limit: 128, Err: ioErr}
	_, err := pack.Open(src)
	require.ErrorIs(t, err, ioErr)
}

// corruptPayload flips one payload byte of entry id and returns the bytes.
func corruptPayload(t *testing.T, data []byte, id string) []byte {
	t.Helper()

	a, err := pack.Open(pack.BytesSource(data), pack.WithVerifyPolicy(pack.VerifyNever))
	require.NoError(t, err)
	defer a.Close()
	e, err := a.Resolve(id)
	require.NoError(t, err)

	corrupt := append([]byte(nil), data...)
	corrupt[e.Offset+e.Length/2] ^= 0xff
	return corrupt
}

func TestVerifyPolicies(t *testing.T) {
	t.Parallel()

	corrupt := corruptPayload(t, simpleArchive(t), "r1")

	t.Run("on read", func(t *testing.T) {
		t.Parallel()
		a, err := pack.Open(pack.BytesSource(corrupt))
		require.NoError(t, err)
		defer a.Close()
		_, err = a.ReadAll("r1")
		require.ErrorIs(t, err, pack.ErrCorruptEntry)
	})

	t.Run("on open", func(t *testing.T) {
		t.Parallel()
		_, err := pack.Open(pack.BytesSource(corrupt), pack.WithVerifyPolicy(pack.VerifyOnOpen))
		require.ErrorIs(t, err, pack.ErrCorruptEntry)
	})

	t.Run("never", func(t *testing.T) {
		t.Parallel()
		a, err := pack.Open(pack.BytesSource(corrupt), pack.WithVerifyPolicy(pack.VerifyNever))
		require.NoError(t, err)
		defer a.Close()

		// Reads return the stored bytes unchecked; an explicit pass
		// still reports the damage.
		got, err := a.ReadAll("r1")
		require.NoError(t, err)
		assert.NotEqual(t, []byte("0123456789"), got)
		require.ErrorIs(t, a.Verify(context.Background()), pack.ErrCorruptEntry)
	})
}

func TestVerifyChunked(t *testing.T) {
	t.Parallel()

	data := buildArchive(t, nil, func(w *pack.Writer) {
		require.NoError(t, w.AddBytes("blob", 0, payload(16384), pack.WithChunkSize(4096)))
		require.NoError(t, w.AddBytes("ok", 0, payload(100)))
	})
	corrupt := corruptPayload(t, data, "blob")

	a, err := pack.Open(pack.BytesSource(corrupt))
	require.NoError(t, err)
	defer a.Close()

	require.ErrorIs(t, a.Verify(context.Background()), pack.ErrCorruptEntry)

	// Damage is confined: the intact entry reads fine, and so do windows
	// that avoid the damaged chunk.
	got, err := a.ReadAll("ok")
	require.NoError(t, err)
	assert.Equal(t, payload(100), got)

	_, err = a.ReadRange("blob", 0, 4096)
	require.NoError(t, err)
	_, err = a.ReadRange("blob", 8192, 100)
	require.ErrorIs(t, err, pack.ErrCorruptEntry)
}

func TestConcurrentReads(t *testing.T) {
	t.Parallel()

	content := payload(16384)
	data := buildArchive(t, nil, func(w *pack.Writer) {
		require.NoError(t, w.AddBytes("blob", 0, content, pack.WithChunkSize(4096)))
	})

	a, err := pack.Open(pack.BytesSource(data))
	require.NoError(t, err)
	defer a.Close()

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for g := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			off := int64(g * 900)
			got, err := a.ReadRange("blob", off, 2000)
			if err != nil {
				errs <- err
				return
			}
			if !assert.ObjectsAreEqual(content[off:off+2000], got) {
				errs <- errors.New("content mismatch")
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestMultiSource(t *testing.T) {
	t.Parallel()

	content := payload(8000)
	data := buildArchive(t, nil, func(w *pack.Writer) {
		require.NoError(t, w.AddBytes("blob", 0, content, pack.WithChunkSize(2048)))
	})

	// Split at arbitrary points, including mid-payload.
	src := pack.NewMultiSource(
		pack.BytesSource(data[:200]),
		pack.BytesSource(data[200:5000]),
		pack.BytesSource(data[5000:]),
	)
	assert.Equal(t, int64(len(data)), src.Size())

	a, err := pack.Open(src)
	require.NoError(t, err)
	defer a.Close()

	got, err := a.ReadAll("blob")
	require.NoError(t, err)
	assert.Equal(t, content, got)
	require.NoError(t, a.Verify(context.Background()))
}

func TestClose(t *testing.T) {
	t.Parallel()

	a, err := pack.Open(pack.BytesSource(simpleArchive(t)))
	require.NoError(t, err)

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	_, err = a.ReadAll("r1")
	assert.ErrorIs(t, err, pack.ErrClosed)
	assert.ErrorIs(t, a.Verify(context.Background()), pack.ErrClosed)

	// Metadata survives Close.
	e, err := a.Resolve("r1")
	require.NoError(t, err)
	assert.Equal(t, uint64(10), e.Length)
}

func TestInspect(t *testing.T) {
	t.Parallel()

	data := buildArchive(t, nil, func(w *pack.Writer) {
		require.NoError(t, w.AddBytes("small", 0, payload(10)))
		require.NoError(t, w.AddBytes("page", 0, payload(8192), pack.WithAlignment(4096), pack.WithChunkSize(4096)))
	})

	a, err := pack.Open(pack.BytesSource(data))
	require.NoError(t, err)
	defer a.Close()

	s := a.Inspect()
	assert.Equal(t, 2, s.EntryCount)
	assert.Equal(t, 2, s.ChunkCount)
	assert.Equal(t, uint64(8202), s.PayloadBytes)
	assert.Greater(t, s.DataBytes, s.PayloadBytes)
	assert.Equal(t, s.DataBytes-s.PayloadBytes, s.PaddingBytes)
	assert.NotZero(t, s.DirectoryBytes)
	assert.Equal(t, pack.PlacementInsertion, s.Placement)
}
