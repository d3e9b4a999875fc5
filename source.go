package pack

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
)

// ByteSource provides bounded random access to archive bytes.
//
// Implementations exist for local files, in-memory buffers and multi-part
// archives. Reads against a ByteSource are independent across goroutines.
type ByteSource interface {
	io.ReaderAt
	Size() int64
}

// BytesSource is a ByteSource backed by an in-memory buffer.
type BytesSource []byte

// ReadAt implements io.ReaderAt over the backing slice.
func (s BytesSource) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(s)) {
		return 0, io.EOF
	}
	n := copy(p, s[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Size returns the buffer length.
func (s BytesSource) Size() int64 {
	return int64(len(s))
}

// FileSource is a ByteSource backed by an open file.
type FileSource struct {
	f    *os.File
	size int64
}

// OpenFile opens path as a ByteSource.
func OpenFile(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &FileSource{f: f, size: info.Size()}, nil
}

// ReadAt implements io.ReaderAt.
func (s *FileSource) ReadAt(p []byte, off int64) (int, error) {
	return s.f.ReadAt(p, off)
}

// Size returns the file size at open time.
func (s *FileSource) Size() int64 {
	return s.size
}

// Close closes the underlying file.
func (s *FileSource) Close() error {
	return s.f.Close()
}

// MultiSource joins several byte sources into one logical source, so an
// archive split across physical files opens unchanged. Directory offsets
// stay logical: part boundaries are invisible to the reader.
type MultiSource struct {
	parts []ByteSource
	// starts[i] is the logical offset of parts[i]; sorted ascending.
	starts []int64
	size   int64
}

// NewMultiSource concatenates parts in order.
func NewMultiSource(parts ...ByteSource) *MultiSource {
	m := &MultiSource{
		parts:  parts,
		starts: make([]int64, len(parts)),
	}
	for i, p := range parts {
		m.starts[i] = m.size
		m.size += p.Size()
	}
	return m
}

// ReadAt implements io.ReaderAt across part boundaries.
func (m *MultiSource) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= m.size {
		return 0, io.EOF
	}
	total := 0
	for len(p) > 0 && off < m.size {
		i := sort.Search(len(m.starts), func(i int) bool { return m.starts[i] > off }) - 1
		part := m.parts[i]
		rel := off - m.starts[i]
		want := int64(len(p))
		if avail := part.Size() - rel; want > avail {
			want = avail
		}
		n, err := part.ReadAt(p[:want], rel)
		total += n
		off += int64(n)
		p = p[n:]
		if err != nil && err != io.EOF {
			return total, err
		}
		if int64(n) < want {
			return total, io.ErrUnexpectedEOF
		}
	}
	if len(p) > 0 {
		return total, io.EOF
	}
	return total, nil
}

// Size returns the combined size of all parts.
func (m *MultiSource) Size() int64 {
	return m.size
}

// Close closes every part that implements io.Closer.
func (m *MultiSource) Close() error {
	var firstErr error
	for _, p := range m.parts {
		if c, ok := p.(io.Closer); ok {
			if err := c.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// PayloadSource supplies resource bytes to a writer session.
//
// Size must report the definite payload length before Open is called;
// sources that cannot are rejected with ErrUnknownLength. Open may be
// called more than once (content-addressed identifiers hash the payload
// before it is streamed into the archive).
type PayloadSource interface {
	Open() (io.ReadCloser, error)
	Size() int64
}

// BytesPayload returns a PayloadSource over an in-memory buffer.
func BytesPayload(data []byte) PayloadSource {
	return bytesPayload(data)
}

type bytesPayload []byte

func (p bytesPayload) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(p)), nil
}

func (p bytesPayload) Size() int64 {
	return int64(len(p))
}

// FilePayload returns a PayloadSource reading from path. The size is
// resolved lazily at Add time; a missing file reports an unknown length
// and the underlying error surfaces when the payload is opened.
func FilePayload(path string) PayloadSource {
	return &filePayload{path: path}
}

type filePayload struct {
	path string
}

func (p *filePayload) Open() (io.ReadCloser, error) {
	f, err := os.Open(p.path)
	if err != nil {
		return nil, fmt.Errorf("open payload %s: %w", p.path, err)
	}
	return f, nil
}

func (p *filePayload) Size() int64 {
	info, err := os.Stat(p.path)
	if err != nil || !info.Mode().IsRegular() {
		return -1
	}
	return info.Size()
}

// ReaderPayload wraps a reader with an explicit size. A negative size is
// rejected by Add with ErrUnknownLength. The reader is consumed exactly
// once, so ReaderPayload cannot be combined with AddContentAddressed.
func ReaderPayload(r io.Reader, size int64) PayloadSource {
	return &readerPayload{r: r, size: size}
}

type readerPayload struct {
	r    io.Reader
	size int64
}

func (p *readerPayload) Open() (io.ReadCloser, error) {
	if p.r == nil {
		return nil, fmt.Errorf("pack: reader payload already consumed")
	}
	r := p.r
	p.r = nil
	return io.NopCloser(r), nil
}

func (p *readerPayload) Size() int64 {
	return p.size
}
