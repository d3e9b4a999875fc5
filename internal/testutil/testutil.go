// Package testutil provides shared helpers for pack tests.
package testutil

import (
	"fmt"
	"io"
)

// SeekBuffer is an in-memory io.WriteSeeker for writer tests.
type SeekBuffer struct {
	buf []byte
	pos int64
}

// Write implements io.Writer, growing the buffer as needed.
func (b *SeekBuffer) Write(p []byte) (int, error) {
	end := b.pos + int64(len(p))
	if end > int64(len(b.buf)) {
		grown := make([]byte, end)
		copy(grown, b.buf)
		b.buf = grown
	}
	copy(b.buf[b.pos:], p)
	b.pos = end
	return len(p), nil
}

// Seek implements io.Seeker.
func (b *SeekBuffer) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = b.pos + offset
	case io.SeekEnd:
		abs = int64(len(b.buf)) + offset
	default:
		return 0, fmt.Errorf("testutil: invalid whence %d", whence)
	}
	if abs < 0 {
		return 0, fmt.Errorf("testutil: negative seek position %d", abs)
	}
	b.pos = abs
	return abs, nil
}

// Bytes returns the written archive bytes.
func (b *SeekBuffer) Bytes() []byte {
	return b.buf
}

// FailingSource wraps a byte slice and fails every ReadAt past Limit bytes,
// simulating an I/O error mid-archive.
type FailingSource struct {
	Data  []byte
	Limit int64
	Err   error
}

// ReadAt implements io.ReaderAt, failing beyond the configured limit.
func (s *FailingSource) ReadAt(p []byte, off int64) (int, error) {
	if off+int64(len(p)) > s.Limit {
		return 0, s.Err
	}
	n := copy(p, s.Data[off:])
	return n, nil
}

// Size returns the full data length.
func (s *FailingSource) Size() int64 {
	return int64(len(s.Data))
}
