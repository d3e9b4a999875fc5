package packtype

// ContentTag classifies a resource's payload kind or codec. The pack core
// carries it through unchanged; interpretation belongs to the consumer.
type ContentTag uint32

// Chunk describes one sub-segment of a chunked entry's payload.
//
// Chunks of one entry are contiguous in declared order from the reader's
// point of view, but need not be adjacent in the archive.
type Chunk struct {
	// Offset is the absolute byte offset of the chunk in the archive.
	Offset uint64

	// Length is the size in bytes of the chunk.
	Length uint64

	// Checksum is the xxhash64 digest of the chunk bytes.
	Checksum uint64
}

// Entry describes one packed resource.
type Entry struct {
	// ID is the resource identifier, unique within the archive.
	ID string

	// Offset is the absolute byte offset of the payload, aligned to Alignment.
	// For chunked entries this is the offset of the first chunk.
	Offset uint64

	// Length is the as-stored payload size in bytes. For chunked entries it
	// equals the sum of all chunk lengths.
	Length uint64

	// Tag is the opaque content classifier supplied at write time.
	Tag ContentTag

	// Alignment is the placement boundary the payload satisfies.
	Alignment uint32

	// Checksum is the xxhash64 digest of the whole payload.
	Checksum uint64

	// Chunks holds the chunk descriptors for streamable entries.
	// Nil for entries stored as a single span.
	Chunks []Chunk
}

// Chunked reports whether the entry payload is split into chunks.
func (e *Entry) Chunked() bool {
	return len(e.Chunks) > 0
}
