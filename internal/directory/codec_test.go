package directory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/pack/internal/packtype"
)

func testEntries() []packtype.Entry {
	return []packtype.Entry{
		{
			ID:        "textures/hero",
			Offset:    4096,
			Length:    16384,
			Tag:       7,
			Alignment: 4096,
			Checksum:  0xfeedface,
			Chunks: []packtype.Chunk{
				{Offset: 4096, Length: 8192, Checksum: 0x1111},
				{Offset: 12288, Length: 8192, Checksum: 0x2222},
			},
		},
		{
			ID:        "audio/theme",
			Offset:    128,
			Length:    100,
			Tag:       3,
			Alignment: 16,
			Checksum:  0xdeadbeef,
		},
		{
			ID:        "scripts/boot",
			Offset:    256,
			Length:    0,
			Tag:       1,
			Alignment: 16,
			Checksum:  0xef46db37,
		},
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	data, err := Encode(testEntries())
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	require.Len(t, got, 3)

	// Decode returns entries sorted by identifier.
	assert.Equal(t, "audio/theme", got[0].ID)
	assert.Equal(t, "scripts/boot", got[1].ID)
	assert.Equal(t, "textures/hero", got[2].ID)

	assert.Equal(t, uint64(100), got[0].Length)
	assert.Equal(t, packtype.ContentTag(3), got[0].Tag)
	assert.Equal(t, uint64(0xdeadbeef), got[0].Checksum)
	assert.Nil(t, got[0].Chunks)

	hero := got[2]
	require.Len(t, hero.Chunks, 2)
	assert.Equal(t, uint64(4096), hero.Chunks[0].Offset)
	assert.Equal(t, uint64(8192), hero.Chunks[0].Length)
	assert.Equal(t, uint64(0x2222), hero.Chunks[1].Checksum)
	assert.Equal(t, uint32(4096), hero.Alignment)
}

func TestEncodeDecodeEmpty(t *testing.T) {
	t.Parallel()

	data, err := Encode(nil)
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestEncodeRejectsDuplicateIdentifiers(t *testing.T) {
	t.Parallel()

	entries := []packtype.Entry{
		{ID: "same", Alignment: 16},
		{ID: "same", Alignment: 16},
	}
	_, err := Encode(entries)
	require.ErrorIs(t, err, packtype.ErrInvalidEntry)
}

func TestDecodeDetectsCorruption(t *testing.T) {
	t.Parallel()

	data, err := Encode(testEntries())
	require.NoError(t, err)

	// Flipping any single byte must fail the trailer checksum.
	for _, off := range []int{0, 7, headerSize + 3, len(data) / 2, len(data) - trailerSize - 1} {
		corrupt := append([]byte(nil), data...)
		corrupt[off] ^= 0xff
		_, err := Decode(corrupt)
		assert.ErrorIs(t, err, packtype.ErrCorruptDirectory, "flipped byte at %d", off)
	}
}

func TestDecodeTruncated(t *testing.T) {
	t.Parallel()

	data, err := Encode(testEntries())
	require.NoError(t, err)

	for _, n := range []int{0, 1, headerSize - 1, headerSize + trailerSize, len(data) - 1} {
		_, decodeErr := Decode(data[:n])
		assert.ErrorIs(t, decodeErr, packtype.ErrCorruptDirectory, "truncated to %d bytes", n)
	}
}

func TestSearch(t *testing.T) {
	t.Parallel()

	data, err := Encode(testEntries())
	require.NoError(t, err)
	entries, err := Decode(data)
	require.NoError(t, err)

	i, ok := Search(entries, "scripts/boot")
	require.True(t, ok)
	assert.Equal(t, "scripts/boot", entries[i].ID)

	_, ok = Search(entries, "missing")
	assert.False(t, ok)

	_, ok = Search(nil, "anything")
	assert.False(t, ok)
}

func TestDecodeIdempotent(t *testing.T) {
	t.Parallel()

	data, err := Encode(testEntries())
	require.NoError(t, err)

	first, err := Decode(data)
	require.NoError(t, err)
	second, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
