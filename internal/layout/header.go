// Package layout defines the fixed archive header and region arithmetic.
package layout

import (
	"encoding/binary"
	"fmt"

	"github.com/meigma/pack/internal/packtype"
)

const (
	// Magic identifies the pack format ("mpak" little-endian).
	Magic uint32 = 0x6B61706D

	// VersionMajor and VersionMinor describe the format revision this
	// library writes. Readers accept any minor revision of a supported
	// major and ignore header bytes they do not know.
	VersionMajor uint16 = 1
	VersionMinor uint16 = 0

	// HeaderSize is the on-disk header length written by this library.
	// The header records its own size so newer minors can grow it.
	HeaderSize = 128

	// baseSize covers magic, version and the header size field; every
	// revision keeps at least these bytes stable.
	baseSize = 12
)

// Placement policy bits stored in the header flags.
const (
	FlagPlacementMask uint32 = 0x3
)

// Header is the decoded archive header.
type Header struct {
	Major      uint16
	Minor      uint16
	HeaderSize uint32
	Flags      uint32
	DataOffset uint64
	DataLength uint64
	DirOffset  uint64
	DirLength  uint64

	// ArchiveDigest is the blake3-256 digest of the directory region.
	ArchiveDigest [32]byte
}

// Encode serializes the header into a HeaderSize byte buffer.
func Encode(h Header) []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], Magic)
	binary.LittleEndian.PutUint16(buf[4:6], h.Major)
	binary.LittleEndian.PutUint16(buf[6:8], h.Minor)
	binary.LittleEndian.PutUint32(buf[8:12], HeaderSize)
	binary.LittleEndian.PutUint32(buf[12:16], h.Flags)
	binary.LittleEndian.PutUint64(buf[16:24], h.DataOffset)
	binary.LittleEndian.PutUint64(buf[24:32], h.DataLength)
	binary.LittleEndian.PutUint64(buf[32:40], h.DirOffset)
	binary.LittleEndian.PutUint64(buf[40:48], h.DirLength)
	copy(buf[48:80], h.ArchiveDigest[:])
	return buf
}

// Decode parses a header from buf.
//
// The magic is checked before anything else. A major version newer than
// VersionMajor fails with ErrUnsupportedVersion; a newer minor succeeds and
// any trailing header bytes beyond the known fields are ignored.
func Decode(buf []byte) (Header, error) {
	if len(buf) < baseSize {
		return Header{}, fmt.Errorf("%w: short header (%d bytes)", packtype.ErrFormat, len(buf))
	}
	if binary.LittleEndian.Uint32(buf[0:4]) != Magic {
		return Header{}, fmt.Errorf("%w: bad magic", packtype.ErrFormat)
	}

	var h Header
	h.Major = binary.LittleEndian.Uint16(buf[4:6])
	h.Minor = binary.LittleEndian.Uint16(buf[6:8])
	h.HeaderSize = binary.LittleEndian.Uint32(buf[8:12])

	if h.Major > VersionMajor {
		return Header{}, fmt.Errorf("%w: %d.%d (supported: <= %d.x)",
			packtype.ErrUnsupportedVersion, h.Major, h.Minor, VersionMajor)
	}
	if h.HeaderSize < HeaderSize || len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("%w: truncated header", packtype.ErrFormat)
	}

	h.Flags = binary.LittleEndian.Uint32(buf[12:16])
	h.DataOffset = binary.LittleEndian.Uint64(buf[16:24])
	h.DataLength = binary.LittleEndian.Uint64(buf[24:32])
	h.DirOffset = binary.LittleEndian.Uint64(buf[32:40])
	h.DirLength = binary.LittleEndian.Uint64(buf[40:48])
	copy(h.ArchiveDigest[:], buf[48:80])
	return h, nil
}

// Validate checks that both regions lie within an archive of the given
// total size and do not overlap.
func (h Header) Validate(total int64) error {
	if total < 0 {
		return fmt.Errorf("%w: negative source size", packtype.ErrFormat)
	}
	size := uint64(total)
	if err := regionInside("data", h.DataOffset, h.DataLength, size); err != nil {
		return err
	}
	if err := regionInside("directory", h.DirOffset, h.DirLength, size); err != nil {
		return err
	}
	if h.DataOffset < uint64(h.HeaderSize) {
		return fmt.Errorf("%w: data region inside header", packtype.ErrFormat)
	}
	if h.DirOffset < uint64(h.HeaderSize) {
		return fmt.Errorf("%w: directory region inside header", packtype.ErrFormat)
	}
	if overlaps(h.DataOffset, h.DataLength, h.DirOffset, h.DirLength) {
		return fmt.Errorf("%w: data and directory regions overlap", packtype.ErrFormat)
	}
	return nil
}

func regionInside(name string, off, length, size uint64) error {
	if off > size || length > size-off {
		return fmt.Errorf("%w: %s region [%d,+%d) exceeds archive size %d",
			packtype.ErrFormat, name, off, length, size)
	}
	return nil
}

func overlaps(aOff, aLen, bOff, bLen uint64) bool {
	if aLen == 0 || bLen == 0 {
		return false
	}
	return aOff < bOff+bLen && bOff < aOff+aLen
}

// Align rounds off up to the next multiple of align. Align must be a
// power of two.
func Align(off uint64, align uint32) uint64 {
	if align <= 1 {
		return off
	}
	mask := uint64(align) - 1
	return (off + mask) &^ mask
}

// PowerOfTwo reports whether align is a non-zero power of two.
func PowerOfTwo(align uint32) bool {
	return align != 0 && align&(align-1) == 0
}
