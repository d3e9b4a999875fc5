// Package checksum implements the pack integrity primitives.
//
// Per-entry, per-chunk and directory checksums use xxhash64: the goal is
// corruption detection, not tamper resistance, and reads must not pay a
// cryptographic hash on the hot path. The whole-archive digest sealed into
// the header uses blake3-256 over the encoded directory bytes, which covers
// the data region transitively through the per-entry checksums.
package checksum

import (
	"github.com/cespare/xxhash/v2"
	"github.com/zeebo/blake3"
)

// Sum returns the xxhash64 digest of data.
func Sum(data []byte) uint64 {
	return xxhash.Sum64(data)
}

// Verify reports whether data matches the expected xxhash64 digest.
func Verify(data []byte, want uint64) bool {
	return xxhash.Sum64(data) == want
}

// New returns a streaming xxhash64 state for single-pass checksumming
// while bytes are written.
func New() *xxhash.Digest {
	return xxhash.New()
}

// ArchiveDigest returns the blake3-256 digest that seals an archive.
// It is computed over the encoded directory region bytes.
func ArchiveDigest(directory []byte) [32]byte {
	return blake3.Sum256(directory)
}
