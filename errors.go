package pack

import (
	"errors"

	"github.com/meigma/pack/internal/packtype"
)

// Errors shared with the internal codec packages.
var (
	// ErrFormat is returned when the header magic or structure is not a
	// pack archive. The archive is unusable.
	ErrFormat = packtype.ErrFormat

	// ErrUnsupportedVersion is returned when the archive major version is
	// newer than this library supports.
	ErrUnsupportedVersion = packtype.ErrUnsupportedVersion

	// ErrCorruptDirectory is returned from Open when the directory checksum
	// or the archive digest does not match the directory bytes.
	ErrCorruptDirectory = packtype.ErrCorruptDirectory

	// ErrCorruptEntry is returned when payload bytes do not match the
	// checksum recorded in the directory. Other entries remain readable.
	ErrCorruptEntry = packtype.ErrCorruptEntry

	// ErrInvalidEntry is returned from Open when a decoded entry violates a
	// format invariant (bounds, alignment, chunk sums).
	ErrInvalidEntry = packtype.ErrInvalidEntry

	// ErrSizeOverflow is returned when byte counts exceed supported limits.
	ErrSizeOverflow = packtype.ErrSizeOverflow
)

// Errors specific to the reader and writer APIs.
var (
	// ErrNotFound is returned when no entry has the requested identifier.
	ErrNotFound = errors.New("pack: resource not found")

	// ErrOutOfRange is returned when a read window exceeds the entry's
	// declared length.
	ErrOutOfRange = errors.New("pack: read window out of range")

	// ErrDuplicateIdentifier is returned when Add is called with an
	// identifier already present in the session.
	ErrDuplicateIdentifier = errors.New("pack: duplicate identifier")

	// ErrUnknownLength is returned when a payload source cannot report a
	// definite length. Offsets are precomputed, so lengths are required.
	ErrUnknownLength = errors.New("pack: payload length unknown")

	// ErrSessionClosed is returned when a writer is used after Finalize
	// or Abort.
	ErrSessionClosed = errors.New("pack: writer session closed")

	// ErrConcurrentUse is returned when writer calls overlap. Sessions are
	// single-writer by contract.
	ErrConcurrentUse = errors.New("pack: concurrent writer use")

	// ErrClosed is returned when an archive is used after Close.
	ErrClosed = errors.New("pack: archive closed")
)
