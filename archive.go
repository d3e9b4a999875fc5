package pack

import (
	"context"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"math"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/meigma/pack/internal/checksum"
	"github.com/meigma/pack/internal/directory"
	"github.com/meigma/pack/internal/layout"
	"github.com/meigma/pack/internal/packtype"
)

// Archive provides validated random access to a sealed resource pack.
//
// After Open completes the in-memory directory is immutable: Resolve and
// Entries are pure reads and ReadRange is safe for parallel use without
// locking. Entries returned to callers borrow nothing from the source and
// stay valid after Close; read results do not.
type Archive struct {
	source       ByteSource
	header       layout.Header
	entries      []packtype.Entry // sorted by identifier
	directoryLen uint64
	policy       VerifyPolicy
	maxEntrySize uint64
	logger       *slog.Logger

	closed      atomic.Bool
	verifyGroup singleflight.Group // zero value is valid
	verified    sync.Map           // span key -> struct{}
}

// log returns the logger, falling back to a discard logger if nil.
func (a *Archive) log() *slog.Logger {
	if a.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return a.logger
}

// Len returns the number of entries in the archive.
func (a *Archive) Len() int {
	return len(a.entries)
}

// Version returns the archive format version as major.minor.
func (a *Archive) Version() (major, minor uint16) {
	return a.header.Major, a.header.Minor
}

// Placement returns the placement policy recorded at write time.
func (a *Archive) Placement() Placement {
	return Placement(a.header.Flags & layout.FlagPlacementMask)
}

// Resolve returns the entry metadata for the given identifier.
//
// Lookup is a binary search over the sorted directory. The returned Entry
// is a value; its Chunks slice aliases the directory and must be treated
// as read-only.
func (a *Archive) Resolve(id string) (Entry, error) {
	i, ok := directory.Search(a.entries, id)
	if !ok {
		return Entry{}, fmt.Errorf("resolve %q: %w", id, ErrNotFound)
	}
	return a.entries[i], nil
}

// Entries returns an iterator over all entry metadata in directory order.
// The sequence is lazy, finite and restartable; it never touches payload
// bytes.
func (a *Archive) Entries() iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		for i := range a.entries {
			if !yield(a.entries[i]) {
				return
			}
		}
	}
}

// ReadAll reads one entry's entire payload.
func (a *Archive) ReadAll(id string) ([]byte, error) {
	e, err := a.Resolve(id)
	if err != nil {
		return nil, err
	}
	if e.Length > math.MaxInt64 {
		return nil, fmt.Errorf("read %q: %w", id, ErrSizeOverflow)
	}
	return a.ReadRange(id, 0, int64(e.Length))
}

// ReadRange reads length bytes of an entry's payload starting at off
// (relative to the payload start), resolving chunk boundaries
// transparently. The window must lie within the entry's declared length
// or the read fails with ErrOutOfRange.
//
// Under the VerifyOnRead policy the spans touched by the window (whole
// payload for single-span entries, individual chunks otherwise) are
// checksum-verified before bytes are returned; each span is verified at
// most once per handle, deduplicated across concurrent readers.
func (a *Archive) ReadRange(id string, off, length int64) ([]byte, error) {
	if a.closed.Load() {
		return nil, ErrClosed
	}
	e, err := a.Resolve(id)
	if err != nil {
		return nil, err
	}
	if off < 0 || length < 0 || uint64(off) > e.Length || uint64(length) > e.Length-uint64(off) {
		return nil, fmt.Errorf("read %q [%d,+%d): %w", id, off, length, ErrOutOfRange)
	}
	if a.maxEntrySize > 0 && uint64(length) > a.maxEntrySize {
		return nil, fmt.Errorf("read %q: window exceeds size limit %d: %w", id, a.maxEntrySize, ErrSizeOverflow)
	}
	if length == 0 {
		return []byte{}, nil
	}

	buf := make([]byte, length)
	if !e.Chunked() {
		if a.policy == VerifyOnRead {
			if err := a.verifySpan(id, e.Offset, e.Length, e.Checksum); err != nil {
				return nil, err
			}
		}
		if err := readFullAt(a.source, buf, int64(e.Offset)+off); err != nil {
			return nil, fmt.Errorf("read %q: %w", id, err)
		}
		return buf, nil
	}

	if err := a.readChunked(&e, uint64(off), buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// readChunked fills buf with the window starting at off, walking the chunk
// list and verifying touched chunks per policy.
func (a *Archive) readChunked(e *Entry, off uint64, buf []byte) error {
	var rel uint64 // payload-relative offset of the current chunk
	remaining := buf
	for i, c := range e.Chunks {
		if len(remaining) == 0 {
			break
		}
		if off >= rel+c.Length {
			rel += c.Length
			continue
		}

		if a.policy == VerifyOnRead {
			key := e.ID + "#" + strconv.Itoa(i)
			if err := a.verifySpan(key, c.Offset, c.Length, c.Checksum); err != nil {
				return err
			}
		}

		within := off - rel
		n := min(uint64(len(remaining)), c.Length-within)
		if err := readFullAt(a.source, remaining[:n], int64(c.Offset+within)); err != nil {
			return fmt.Errorf("read %q: %w", e.ID, err)
		}
		remaining = remaining[n:]
		off += n
		rel += c.Length
	}
	if len(remaining) != 0 {
		return fmt.Errorf("read %q: %w", e.ID, io.ErrUnexpectedEOF)
	}
	return nil
}

// verifySpan checks the checksum of one payload span, remembering the
// result so each span is verified at most once per handle. Concurrent
// verifications of the same span collapse into a single read.
func (a *Archive) verifySpan(key string, off, length, want uint64) error {
	if _, ok := a.verified.Load(key); ok {
		return nil
	}
	_, err, _ := a.verifyGroup.Do(key, func() (any, error) {
		if _, ok := a.verified.Load(key); ok {
			return nil, nil
		}
		h := checksum.New()
		if _, err := io.Copy(h, io.NewSectionReader(a.source, int64(off), int64(length))); err != nil {
			return nil, fmt.Errorf("pack: verify %s: %w", key, err)
		}
		if h.Sum64() != want {
			a.log().Warn("checksum mismatch", "span", key)
			return nil, fmt.Errorf("%w: %s", ErrCorruptEntry, key)
		}
		a.verified.Store(key, struct{}{})
		return nil, nil
	})
	return err
}

// Verify performs a full integrity pass over the data region: every chunk
// checksum and every entry checksum is recomputed from the stored bytes.
// Entries are verified concurrently; the first failure wins.
func (a *Archive) Verify(ctx context.Context) error {
	if a.closed.Load() {
		return ErrClosed
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range a.entries {
		e := &a.entries[i]
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return a.verifyEntry(e)
		})
	}
	return g.Wait()
}

// verifyEntry recomputes one entry's checksums from the stored bytes.
func (a *Archive) verifyEntry(e *packtype.Entry) error {
	entryHash := checksum.New()
	if !e.Chunked() {
		if _, err := io.Copy(entryHash, io.NewSectionReader(a.source, int64(e.Offset), int64(e.Length))); err != nil {
			return fmt.Errorf("pack: verify %q: %w", e.ID, err)
		}
		if entryHash.Sum64() != e.Checksum {
			return fmt.Errorf("%w: %s", ErrCorruptEntry, e.ID)
		}
		a.verified.Store(e.ID, struct{}{})
		return nil
	}
	for i, c := range e.Chunks {
		chunkHash := checksum.New()
		dst := io.MultiWriter(entryHash, chunkHash)
		if _, err := io.Copy(dst, io.NewSectionReader(a.source, int64(c.Offset), int64(c.Length))); err != nil {
			return fmt.Errorf("pack: verify %q chunk %d: %w", e.ID, i, err)
		}
		if chunkHash.Sum64() != c.Checksum {
			return fmt.Errorf("%w: %s chunk %d", ErrCorruptEntry, e.ID, i)
		}
		a.verified.Store(e.ID+"#"+strconv.Itoa(i), struct{}{})
	}
	if entryHash.Sum64() != e.Checksum {
		return fmt.Errorf("%w: %s", ErrCorruptEntry, e.ID)
	}
	return nil
}

// Close releases the byte source. Outstanding reads may fail; all
// subsequent reads return ErrClosed. Close is idempotent.
func (a *Archive) Close() error {
	if a.closed.Swap(true) {
		return nil
	}
	if c, ok := a.source.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
