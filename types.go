package pack

import "github.com/meigma/pack/internal/packtype"

// Re-export types from internal/packtype for the public API.
type (
	// Entry describes one packed resource.
	Entry = packtype.Entry

	// Chunk describes one sub-segment of a chunked entry's payload.
	Chunk = packtype.Chunk

	// ContentTag classifies a resource's payload kind or codec.
	// The pack core carries it through unchanged.
	ContentTag = packtype.ContentTag
)

// Placement selects how Finalize orders payloads in the data region.
// The chosen policy is recorded in the header so layout is reproducible.
type Placement uint8

const (
	// PlacementInsertion places payloads in Add order.
	PlacementInsertion Placement = iota

	// PlacementSizeDescending places larger payloads first, which reduces
	// alignment padding waste. The order is stable for equal sizes.
	PlacementSizeDescending
)

// String returns the policy name.
func (p Placement) String() string {
	switch p {
	case PlacementInsertion:
		return "insertion"
	case PlacementSizeDescending:
		return "size-descending"
	default:
		return "unknown"
	}
}

// VerifyPolicy controls when payload checksums are validated.
// The directory checksum is always validated at open time.
type VerifyPolicy uint8

const (
	// VerifyOnRead validates the checksum of whatever a read touches:
	// the touched chunks of a chunked entry, the whole payload otherwise.
	// Results are remembered, so each span is verified at most once per
	// archive handle.
	VerifyOnRead VerifyPolicy = iota

	// VerifyOnOpen validates every payload once during Open; reads then
	// trust the data region.
	VerifyOnOpen

	// VerifyNever trusts the directory digest only. Use Verify for an
	// explicit integrity pass.
	VerifyNever
)
