package pack

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"slices"
	"sync/atomic"

	"github.com/opencontainers/go-digest"

	"github.com/meigma/pack/internal/checksum"
	"github.com/meigma/pack/internal/directory"
	"github.com/meigma/pack/internal/layout"
	"github.com/meigma/pack/internal/packtype"
)

// Writer builds an archive from a sequence of Add calls and seals it with
// Finalize. Sessions are single-writer by contract; overlapping calls are
// rejected with ErrConcurrentUse.
//
// Add only schedules entries. No payload byte is written until Finalize,
// which places payloads honoring alignment, streams them in a single pass
// while computing checksums, writes the directory and finally the header.
// A target that failed Finalize holds a partial archive and must be
// discarded; callers wanting atomicity should write to a temporary path
// and rename on success.
type Writer struct {
	target  io.WriteSeeker
	cfg     writerConfig
	pending []pendingEntry
	ids     map[string]struct{}
	closed  bool
	busy    atomic.Bool
}

type pendingEntry struct {
	id        string
	tag       ContentTag
	src       PayloadSource
	size      uint64
	align     uint32
	chunkLens []uint64 // nil for unchunked entries

	// Filled during placement.
	offset   uint64
	chunks   []packtype.Chunk
	checksum uint64
}

// Begin opens a writer session on target.
//
// The target is written only by Finalize. Opening a second session on the
// same target while another is pending is not detected here (there is no
// process-wide registry of open sessions); serializing sessions per target
// is the caller's responsibility.
func Begin(target io.WriteSeeker, opts ...WriterOption) (*Writer, error) {
	if target == nil {
		return nil, fmt.Errorf("pack: nil target")
	}
	cfg := writerConfig{defaultAlign: DefaultAlignment}
	for _, opt := range opts {
		opt(&cfg)
	}
	if !layout.PowerOfTwo(cfg.defaultAlign) {
		return nil, fmt.Errorf("pack: default alignment %d is not a power of two", cfg.defaultAlign)
	}
	return &Writer{
		target: target,
		cfg:    cfg,
		ids:    make(map[string]struct{}),
	}, nil
}

// log returns the logger, falling back to a discard logger if nil.
func (w *Writer) log() *slog.Logger {
	if w.cfg.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return w.cfg.logger
}

// Add schedules one resource for packaging.
//
// The identifier must be unique within the session and the payload source
// must report a definite length. The payload itself is streamed later,
// during Finalize.
func (w *Writer) Add(id string, tag ContentTag, src PayloadSource, opts ...AddOption) error {
	if !w.busy.CompareAndSwap(false, true) {
		return ErrConcurrentUse
	}
	defer w.busy.Store(false)

	if w.closed {
		return ErrSessionClosed
	}
	if id == "" {
		return fmt.Errorf("pack: empty identifier")
	}
	if len(id) > math.MaxUint16 {
		return fmt.Errorf("pack: identifier too long (%d bytes)", len(id))
	}
	if _, ok := w.ids[id]; ok {
		return fmt.Errorf("add %q: %w", id, ErrDuplicateIdentifier)
	}
	if src == nil {
		return fmt.Errorf("add %q: nil payload source", id)
	}
	size := src.Size()
	if size < 0 {
		return fmt.Errorf("add %q: %w", id, ErrUnknownLength)
	}

	cfg := addConfig{align: w.cfg.defaultAlign}
	for _, opt := range opts {
		opt(&cfg)
	}
	if !layout.PowerOfTwo(cfg.align) {
		return fmt.Errorf("add %q: alignment %d is not a power of two", id, cfg.align)
	}
	chunkLens, err := splitChunks(uint64(size), &cfg)
	if err != nil {
		return fmt.Errorf("add %q: %w", id, err)
	}

	w.ids[id] = struct{}{}
	w.pending = append(w.pending, pendingEntry{
		id:        id,
		tag:       tag,
		src:       src,
		size:      uint64(size),
		align:     cfg.align,
		chunkLens: chunkLens,
	})
	return nil
}

// AddBytes schedules an in-memory payload.
func (w *Writer) AddBytes(id string, tag ContentTag, payload []byte, opts ...AddOption) error {
	return w.Add(id, tag, BytesPayload(payload), opts...)
}

// AddContentAddressed schedules a resource whose identifier is derived from
// the payload's canonical digest, and returns that identifier. The payload
// is read once here to compute the digest and again during Finalize, so the
// source must be reopenable.
func (w *Writer) AddContentAddressed(tag ContentTag, src PayloadSource, opts ...AddOption) (string, error) {
	if src == nil {
		return "", fmt.Errorf("pack: nil payload source")
	}
	rc, err := src.Open()
	if err != nil {
		return "", err
	}
	dgst, err := digest.Canonical.FromReader(rc)
	rc.Close()
	if err != nil {
		return "", fmt.Errorf("pack: digesting payload: %w", err)
	}
	id := dgst.String()
	return id, w.Add(id, tag, src, opts...)
}

// splitChunks resolves the chunking policy into a list of chunk lengths.
// Returns nil when the entry stays a single span.
func splitChunks(size uint64, cfg *addConfig) ([]uint64, error) {
	if cfg.chunkSize > 0 && len(cfg.boundaries) > 0 {
		return nil, fmt.Errorf("chunk size and chunk boundaries are mutually exclusive")
	}
	if cfg.chunkSize > 0 {
		if size <= cfg.chunkSize {
			return nil, nil
		}
		count := (size + cfg.chunkSize - 1) / cfg.chunkSize
		lens := make([]uint64, 0, count)
		for remaining := size; remaining > 0; {
			n := min(cfg.chunkSize, remaining)
			lens = append(lens, n)
			remaining -= n
		}
		return lens, nil
	}
	if len(cfg.boundaries) > 0 {
		lens := make([]uint64, 0, len(cfg.boundaries)+1)
		prev := uint64(0)
		for _, b := range cfg.boundaries {
			if b <= prev || b >= size {
				return nil, fmt.Errorf("chunk boundary %d out of order or out of range", b)
			}
			lens = append(lens, b-prev)
			prev = b
		}
		lens = append(lens, size-prev)
		return lens, nil
	}
	return nil, nil
}

// Finalize places, streams and seals the archive.
//
// Placement is deterministic for a given policy, so rebuilding the same
// inputs reproduces the same layout. Checksums are computed while payloads
// stream through; nothing is re-read. The header is written last because it
// records the directory location and the archive digest.
func (w *Writer) Finalize(ctx context.Context) error {
	if !w.busy.CompareAndSwap(false, true) {
		return ErrConcurrentUse
	}
	defer w.busy.Store(false)

	if w.closed {
		return ErrSessionClosed
	}
	// The session ends with this call whether or not it succeeds; a target
	// that failed mid-write holds a partial archive.
	w.closed = true

	placed := w.place()
	dataEnd, err := w.assignOffsets(placed)
	if err != nil {
		return err
	}

	if _, err := w.target.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("pack: seek target: %w", err)
	}
	out := &countingWriter{w: w.target}
	if err := out.pad(layout.HeaderSize); err != nil {
		return err
	}
	for i := range placed {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.writePayload(out, &placed[i]); err != nil {
			return err
		}
	}

	dirOffset := layout.Align(dataEnd, 8)
	if err := out.pad(dirOffset); err != nil {
		return err
	}

	entries := make([]packtype.Entry, len(placed))
	for i, pe := range placed {
		entries[i] = packtype.Entry{
			ID:        pe.id,
			Offset:    pe.offset,
			Length:    pe.size,
			Tag:       pe.tag,
			Alignment: pe.align,
			Checksum:  pe.checksum,
			Chunks:    pe.chunks,
		}
	}
	dirBytes, err := directory.Encode(entries)
	if err != nil {
		return err
	}
	if _, err := out.Write(dirBytes); err != nil {
		return fmt.Errorf("pack: write directory: %w", err)
	}

	hdr := layout.Header{
		Major:         layout.VersionMajor,
		Minor:         layout.VersionMinor,
		HeaderSize:    layout.HeaderSize,
		Flags:         uint32(w.cfg.placement) & layout.FlagPlacementMask,
		DataOffset:    layout.HeaderSize,
		DataLength:    dataEnd - layout.HeaderSize,
		DirOffset:     dirOffset,
		DirLength:     uint64(len(dirBytes)),
		ArchiveDigest: checksum.ArchiveDigest(dirBytes),
	}
	if _, err := w.target.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("pack: seek target: %w", err)
	}
	if _, err := w.target.Write(layout.Encode(hdr)); err != nil {
		return fmt.Errorf("pack: write header: %w", err)
	}

	w.log().Info("archive sealed",
		"entries", len(placed),
		"data_bytes", hdr.DataLength,
		"directory_bytes", hdr.DirLength,
		"placement", w.cfg.placement.String())
	return nil
}

// Abort closes the session without sealing. Nothing is written; any bytes
// already on the target from a failed Finalize remain the caller's problem.
func (w *Writer) Abort() error {
	if !w.busy.CompareAndSwap(false, true) {
		return ErrConcurrentUse
	}
	defer w.busy.Store(false)

	if w.closed {
		return ErrSessionClosed
	}
	w.closed = true
	w.pending = nil
	return nil
}

// place returns pending entries in placement order.
func (w *Writer) place() []pendingEntry {
	placed := slices.Clone(w.pending)
	if w.cfg.placement == PlacementSizeDescending {
		slices.SortStableFunc(placed, func(a, b pendingEntry) int {
			switch {
			case a.size > b.size:
				return -1
			case a.size < b.size:
				return 1
			default:
				return 0
			}
		})
	}
	return placed
}

// assignOffsets computes payload and chunk offsets honoring alignment.
// Returns the end of the data region.
func (w *Writer) assignOffsets(placed []pendingEntry) (uint64, error) {
	cur := uint64(layout.HeaderSize)
	for i := range placed {
		pe := &placed[i]
		if pe.chunkLens == nil {
			off := layout.Align(cur, pe.align)
			if off < cur || pe.size > math.MaxUint64-off {
				return 0, ErrSizeOverflow
			}
			pe.offset = off
			cur = off + pe.size
			continue
		}
		pe.chunks = make([]packtype.Chunk, len(pe.chunkLens))
		for j, n := range pe.chunkLens {
			off := layout.Align(cur, pe.align)
			if off < cur || n > math.MaxUint64-off {
				return 0, ErrSizeOverflow
			}
			pe.chunks[j] = packtype.Chunk{Offset: off, Length: n}
			cur = off + n
		}
		pe.offset = pe.chunks[0].Offset
	}
	return cur, nil
}

// writePayload streams one entry's payload, filling in entry and chunk
// checksums as the bytes pass through.
func (w *Writer) writePayload(out *countingWriter, pe *pendingEntry) error {
	rc, err := pe.src.Open()
	if err != nil {
		return fmt.Errorf("pack: open payload %q: %w", pe.id, err)
	}
	defer rc.Close()

	entryHash := checksum.New()

	copyChunk := func(off, length uint64, chunkHash io.Writer) error {
		if err := out.pad(off); err != nil {
			return err
		}
		dst := io.MultiWriter(out, entryHash, chunkHash)
		n, err := io.CopyN(dst, rc, int64(length))
		if err != nil {
			if err == io.EOF {
				return fmt.Errorf("pack: payload %q: short source (%d of %d bytes)", pe.id, n, length)
			}
			return fmt.Errorf("pack: write payload %q: %w", pe.id, err)
		}
		return nil
	}

	if pe.chunks == nil {
		if err := copyChunk(pe.offset, pe.size, io.Discard); err != nil {
			return err
		}
	} else {
		for j := range pe.chunks {
			chunkHash := checksum.New()
			if err := copyChunk(pe.chunks[j].Offset, pe.chunks[j].Length, chunkHash); err != nil {
				return err
			}
			pe.chunks[j].Checksum = chunkHash.Sum64()
		}
	}

	// The declared length is a contract; extra bytes mean the source
	// changed between Add and Finalize.
	var one [1]byte
	if n, _ := rc.Read(one[:]); n != 0 {
		return fmt.Errorf("pack: payload %q: source longer than declared length %d", pe.id, pe.size)
	}

	pe.checksum = entryHash.Sum64()
	return nil
}

// countingWriter tracks the absolute write position so padding can be
// emitted up to each placed offset.
type countingWriter struct {
	w   io.Writer
	pos uint64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.pos += uint64(n)
	return n, err
}

var zeros [4096]byte

// pad writes zero bytes until the position reaches target.
func (c *countingWriter) pad(target uint64) error {
	if target < c.pos {
		return fmt.Errorf("pack: write position %d past target offset %d", c.pos, target)
	}
	for c.pos < target {
		n := min(target-c.pos, uint64(len(zeros)))
		if _, err := c.Write(zeros[:n]); err != nil {
			return fmt.Errorf("pack: write padding: %w", err)
		}
	}
	return nil
}
