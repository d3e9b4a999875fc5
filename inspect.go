package pack

import "github.com/meigma/pack/internal/layout"

// Summary contains archive statistics computed from the directory alone;
// producing one touches no payload bytes.
type Summary struct {
	// EntryCount is the number of packed resources.
	EntryCount int

	// ChunkCount is the total number of chunk descriptors.
	ChunkCount int

	// PayloadBytes is the sum of all entry lengths.
	PayloadBytes uint64

	// DataBytes is the size of the data region, padding included.
	DataBytes uint64

	// PaddingBytes is the alignment waste inside the data region.
	PaddingBytes uint64

	// DirectoryBytes is the size of the encoded directory.
	DirectoryBytes uint64

	// Placement is the placement policy recorded at write time.
	Placement Placement
}

// Inspect summarizes the archive.
func (a *Archive) Inspect() Summary {
	s := Summary{
		EntryCount:     len(a.entries),
		DataBytes:      a.header.DataLength,
		DirectoryBytes: a.directoryLen,
		Placement:      Placement(a.header.Flags & layout.FlagPlacementMask),
	}
	for i := range a.entries {
		s.PayloadBytes += a.entries[i].Length
		s.ChunkCount += len(a.entries[i].Chunks)
	}
	if s.DataBytes > s.PayloadBytes {
		s.PaddingBytes = s.DataBytes - s.PayloadBytes
	}
	return s
}
