package packtype

import "errors"

// Sentinel errors shared between the codec, writer and reader packages.
var (
	// ErrFormat is returned when the header magic or structure is not a
	// pack archive.
	ErrFormat = errors.New("pack: not a pack archive")

	// ErrUnsupportedVersion is returned when the archive major version is
	// newer than this library supports.
	ErrUnsupportedVersion = errors.New("pack: unsupported format version")

	// ErrCorruptDirectory is returned when the directory checksum or digest
	// does not match its contents.
	ErrCorruptDirectory = errors.New("pack: corrupt directory")

	// ErrCorruptEntry is returned when payload bytes do not match the
	// checksum recorded in the directory.
	ErrCorruptEntry = errors.New("pack: corrupt entry payload")

	// ErrInvalidEntry is returned when a decoded entry violates a format
	// invariant (bounds, alignment, chunk sums).
	ErrInvalidEntry = errors.New("pack: invalid directory entry")

	// ErrSizeOverflow is returned when byte counts exceed supported limits.
	ErrSizeOverflow = errors.New("pack: size overflow")
)
