package pack

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/meigma/pack/internal/checksum"
	"github.com/meigma/pack/internal/directory"
	"github.com/meigma/pack/internal/layout"
	"github.com/meigma/pack/internal/packtype"
)

// Open reads and validates an archive from src.
//
// Validation is eager: the magic and version gate run before anything else,
// the directory checksum and the archive digest are verified before any
// offset in the directory is trusted, and every entry is bounds- and
// alignment-checked. Lookups after a successful Open can therefore assume
// directory integrity.
//
// Ownership of src transfers to the Archive; Close releases it.
func Open(src ByteSource, opts ...Option) (*Archive, error) {
	if src == nil {
		return nil, fmt.Errorf("pack: nil byte source")
	}

	a := &Archive{
		source:       src,
		policy:       VerifyOnRead,
		maxEntrySize: DefaultMaxEntrySize,
	}
	for _, opt := range opts {
		opt(a)
	}

	size := src.Size()
	if size < layout.HeaderSize {
		return nil, fmt.Errorf("%w: archive too small (%d bytes)", ErrFormat, size)
	}

	hdrBuf := make([]byte, layout.HeaderSize)
	if err := readFullAt(src, hdrBuf, 0); err != nil {
		return nil, fmt.Errorf("pack: read header: %w", err)
	}
	hdr, err := layout.Decode(hdrBuf)
	if err != nil {
		return nil, err
	}
	if err := hdr.Validate(size); err != nil {
		return nil, err
	}
	a.header = hdr

	dirBytes := make([]byte, hdr.DirLength)
	if err := readFullAt(src, dirBytes, int64(hdr.DirOffset)); err != nil {
		return nil, fmt.Errorf("pack: read directory: %w", err)
	}
	digest := checksum.ArchiveDigest(dirBytes)
	if !bytes.Equal(digest[:], hdr.ArchiveDigest[:]) {
		return nil, fmt.Errorf("%w: archive digest mismatch", ErrCorruptDirectory)
	}
	entries, err := directory.Decode(dirBytes)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		if err := validateEntry(&entries[i], hdr); err != nil {
			return nil, err
		}
	}
	a.entries = entries
	a.directoryLen = uint64(len(dirBytes))

	if a.policy == VerifyOnOpen {
		if err := a.Verify(context.Background()); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// validateEntry checks the format invariants for one decoded entry against
// the data region declared in the header.
func validateEntry(e *packtype.Entry, hdr layout.Header) error {
	regionEnd := hdr.DataOffset + hdr.DataLength

	inRegion := func(off, length uint64) bool {
		return off >= hdr.DataOffset && off <= regionEnd && length <= regionEnd-off
	}
	if !inRegion(e.Offset, e.Length) {
		return fmt.Errorf("%w: %q payload [%d,+%d) outside data region", ErrInvalidEntry, e.ID, e.Offset, e.Length)
	}
	if !layout.PowerOfTwo(e.Alignment) {
		return fmt.Errorf("%w: %q alignment %d is not a power of two", ErrInvalidEntry, e.ID, e.Alignment)
	}
	if e.Offset%uint64(e.Alignment) != 0 {
		return fmt.Errorf("%w: %q offset %d not aligned to %d", ErrInvalidEntry, e.ID, e.Offset, e.Alignment)
	}
	if len(e.Chunks) == 0 {
		return nil
	}

	var sum uint64
	for i, c := range e.Chunks {
		if !inRegion(c.Offset, c.Length) {
			return fmt.Errorf("%w: %q chunk %d outside data region", ErrInvalidEntry, e.ID, i)
		}
		if c.Length > ^uint64(0)-sum {
			return ErrSizeOverflow
		}
		sum += c.Length
	}
	if sum != e.Length {
		return fmt.Errorf("%w: %q chunk lengths sum to %d, entry declares %d", ErrInvalidEntry, e.ID, sum, e.Length)
	}
	if e.Chunks[0].Offset != e.Offset {
		return fmt.Errorf("%w: %q first chunk offset disagrees with entry offset", ErrInvalidEntry, e.ID)
	}
	return nil
}

// readFullAt fills buf from src at off. Sources may legitimately return
// io.EOF together with a full read at the end of the data.
func readFullAt(src io.ReaderAt, buf []byte, off int64) error {
	n, err := src.ReadAt(buf, off)
	if n == len(buf) {
		return nil
	}
	if err == nil || err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return err
}
