// Package directory encodes and decodes the archive resource index.
//
// The encoding is a fixed-size table for branch-free random access: a
// 16-byte directory header, one 56-byte record per entry sorted by
// identifier bytes, a chunk descriptor table, a variable-length section
// holding identifier bytes referenced by offset, and an xxhash64 trailer
// over everything preceding it. The codec is a pure data transform and
// performs no I/O.
package directory

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"slices"
	"sort"
	"strings"

	"github.com/meigma/pack/internal/checksum"
	"github.com/meigma/pack/internal/packtype"
)

const (
	headerSize  = 16
	recordSize  = 56
	chunkSize   = 24
	trailerSize = 8

	// NoChunks marks a record without chunk descriptors.
	NoChunks = ^uint32(0)
)

// Encode serializes entries into directory bytes.
//
// Entries are stored sorted by identifier bytes so lookups can binary
// search the fixed records. Decode(Encode(entries)) returns the same
// entries in sorted order.
func Encode(entries []packtype.Entry) ([]byte, error) {
	sorted := slices.Clone(entries)
	slices.SortStableFunc(sorted, func(a, b packtype.Entry) int {
		return strings.Compare(a.ID, b.ID)
	})
	for i := 1; i < len(sorted); i++ {
		if sorted[i].ID == sorted[i-1].ID {
			return nil, fmt.Errorf("%w: duplicate identifier %q", packtype.ErrInvalidEntry, sorted[i].ID)
		}
	}

	var varLen, chunkCount int
	for i := range sorted {
		varLen += len(sorted[i].ID)
		chunkCount += len(sorted[i].Chunks)
	}
	if len(sorted) > math.MaxUint32 || varLen > math.MaxUint32 || chunkCount > math.MaxUint32 {
		return nil, packtype.ErrSizeOverflow
	}

	size := headerSize + len(sorted)*recordSize + chunkCount*chunkSize + varLen + trailerSize
	buf := make([]byte, size)

	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(sorted)))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(chunkCount))
	binary.LittleEndian.PutUint32(buf[8:12], recordSize)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(varLen))

	records := buf[headerSize:]
	chunks := buf[headerSize+len(sorted)*recordSize:]
	vars := buf[headerSize+len(sorted)*recordSize+chunkCount*chunkSize:]

	varOff, chunkIdx := 0, 0
	for i := range sorted {
		e := &sorted[i]
		rec := records[i*recordSize:]

		binary.LittleEndian.PutUint32(rec[0:4], uint32(varOff))
		binary.LittleEndian.PutUint32(rec[4:8], uint32(len(e.ID)))
		binary.LittleEndian.PutUint64(rec[8:16], e.Offset)
		binary.LittleEndian.PutUint64(rec[16:24], e.Length)
		binary.LittleEndian.PutUint32(rec[24:28], uint32(e.Tag))
		binary.LittleEndian.PutUint32(rec[28:32], e.Alignment)
		binary.LittleEndian.PutUint64(rec[32:40], e.Checksum)

		first := NoChunks
		if len(e.Chunks) > 0 {
			first = uint32(chunkIdx)
		}
		binary.LittleEndian.PutUint32(rec[40:44], first)
		binary.LittleEndian.PutUint32(rec[44:48], uint32(len(e.Chunks)))

		for _, c := range e.Chunks {
			cd := chunks[chunkIdx*chunkSize:]
			binary.LittleEndian.PutUint64(cd[0:8], c.Offset)
			binary.LittleEndian.PutUint64(cd[8:16], c.Length)
			binary.LittleEndian.PutUint64(cd[16:24], c.Checksum)
			chunkIdx++
		}

		copy(vars[varOff:], e.ID)
		varOff += len(e.ID)
	}

	sum := checksum.Sum(buf[:size-trailerSize])
	binary.LittleEndian.PutUint64(buf[size-trailerSize:], sum)
	return buf, nil
}

// Decode parses directory bytes into entries.
//
// The trailer checksum is verified before any record is trusted; a
// mismatch fails with ErrCorruptDirectory. Records larger than this codec
// knows (a newer minor revision) are tolerated: the known prefix of each
// record is parsed and the remainder ignored.
func Decode(data []byte) ([]packtype.Entry, error) {
	if len(data) < headerSize+trailerSize {
		return nil, fmt.Errorf("%w: truncated (%d bytes)", packtype.ErrCorruptDirectory, len(data))
	}
	body := data[:len(data)-trailerSize]
	want := binary.LittleEndian.Uint64(data[len(data)-trailerSize:])
	if !checksum.Verify(body, want) {
		return nil, fmt.Errorf("%w: checksum mismatch", packtype.ErrCorruptDirectory)
	}

	entryCount := int(binary.LittleEndian.Uint32(data[0:4]))
	chunkCount := int(binary.LittleEndian.Uint32(data[4:8]))
	recSize := int(binary.LittleEndian.Uint32(data[8:12]))
	varLen := int(binary.LittleEndian.Uint32(data[12:16]))

	if recSize < recordSize {
		return nil, fmt.Errorf("%w: record size %d too small", packtype.ErrCorruptDirectory, recSize)
	}
	need := headerSize + entryCount*recSize + chunkCount*chunkSize + varLen
	if entryCount < 0 || chunkCount < 0 || varLen < 0 || need != len(body) {
		return nil, fmt.Errorf("%w: section sizes disagree with directory length", packtype.ErrCorruptDirectory)
	}

	records := body[headerSize:]
	chunks := body[headerSize+entryCount*recSize:]
	vars := body[headerSize+entryCount*recSize+chunkCount*chunkSize:]

	entries := make([]packtype.Entry, entryCount)
	for i := range entries {
		rec := records[i*recSize:]
		idOff := int(binary.LittleEndian.Uint32(rec[0:4]))
		idLen := int(binary.LittleEndian.Uint32(rec[4:8]))
		if idOff < 0 || idLen < 0 || idOff+idLen > varLen {
			return nil, fmt.Errorf("%w: identifier reference out of bounds", packtype.ErrCorruptDirectory)
		}

		e := &entries[i]
		e.ID = string(vars[idOff : idOff+idLen])
		e.Offset = binary.LittleEndian.Uint64(rec[8:16])
		e.Length = binary.LittleEndian.Uint64(rec[16:24])
		e.Tag = packtype.ContentTag(binary.LittleEndian.Uint32(rec[24:28]))
		e.Alignment = binary.LittleEndian.Uint32(rec[28:32])
		e.Checksum = binary.LittleEndian.Uint64(rec[32:40])

		first := binary.LittleEndian.Uint32(rec[40:44])
		count := int(binary.LittleEndian.Uint32(rec[44:48]))
		if first == NoChunks {
			if count != 0 {
				return nil, fmt.Errorf("%w: chunk count without chunk list", packtype.ErrCorruptDirectory)
			}
			continue
		}
		if count == 0 || int(first)+count > chunkCount {
			return nil, fmt.Errorf("%w: chunk reference out of bounds", packtype.ErrCorruptDirectory)
		}
		e.Chunks = make([]packtype.Chunk, count)
		for j := range e.Chunks {
			cd := chunks[(int(first)+j)*chunkSize:]
			e.Chunks[j] = packtype.Chunk{
				Offset:   binary.LittleEndian.Uint64(cd[0:8]),
				Length:   binary.LittleEndian.Uint64(cd[8:16]),
				Checksum: binary.LittleEndian.Uint64(cd[16:24]),
			}
		}
	}

	if !sortedByID(entries) {
		return nil, fmt.Errorf("%w: records not sorted by identifier", packtype.ErrCorruptDirectory)
	}
	return entries, nil
}

// Search returns the index of the entry with the given identifier in a
// sorted entry slice, in O(log n).
func Search(entries []packtype.Entry, id string) (int, bool) {
	i := sort.Search(len(entries), func(i int) bool {
		return entries[i].ID >= id
	})
	if i < len(entries) && entries[i].ID == id {
		return i, true
	}
	return 0, false
}

func sortedByID(entries []packtype.Entry) bool {
	for i := 1; i < len(entries); i++ {
		if bytes.Compare([]byte(entries[i-1].ID), []byte(entries[i].ID)) >= 0 {
			return false
		}
	}
	return true
}
