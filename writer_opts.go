package pack

import "log/slog"

// DefaultAlignment is the placement boundary used when neither the writer
// nor the Add call specifies one.
const DefaultAlignment = 16

// WriterOption configures a writer session.
type WriterOption func(*writerConfig)

type writerConfig struct {
	defaultAlign uint32
	placement    Placement
	logger       *slog.Logger
}

// WithDefaultAlignment sets the session-wide placement boundary for entries
// that do not override it. Must be a power of two.
func WithDefaultAlignment(align uint32) WriterOption {
	return func(c *writerConfig) {
		c.defaultAlign = align
	}
}

// WithPlacement selects the payload placement order for Finalize.
// The policy is recorded in the archive header.
func WithPlacement(p Placement) WriterOption {
	return func(c *writerConfig) {
		c.placement = p
	}
}

// WithWriterLogger sets the logger for session diagnostics.
// By default nothing is logged.
func WithWriterLogger(l *slog.Logger) WriterOption {
	return func(c *writerConfig) {
		c.logger = l
	}
}

// AddOption configures a single Add call.
type AddOption func(*addConfig)

type addConfig struct {
	align      uint32
	chunkSize  uint64
	boundaries []uint64
}

// WithAlignment overrides the placement boundary for this entry.
// Must be a power of two. Use larger boundaries (e.g. 4096) for payloads
// consumed by device-mapped access.
func WithAlignment(align uint32) AddOption {
	return func(c *addConfig) {
		c.align = align
	}
}

// WithChunkSize splits the payload into fixed-size chunks so readers can
// fetch and verify sub-ranges without touching the whole payload.
// The final chunk may be shorter.
func WithChunkSize(n uint64) AddOption {
	return func(c *addConfig) {
		c.chunkSize = n
	}
}

// WithChunkBoundaries splits the payload at the given offsets (relative to
// the payload start, strictly ascending, exclusive of 0 and the payload
// length). Useful when split points follow content structure, e.g. mip
// levels.
func WithChunkBoundaries(offsets ...uint64) AddOption {
	return func(c *addConfig) {
		c.boundaries = offsets
	}
}
