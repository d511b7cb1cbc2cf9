package segment

import (
	"unsafe"

	"golang.org/x/crypto/blake2b"
)

// computeHeaderChecksum hashes the layout-describing prefix of Header
// (everything before the runtime Indices/heartbeat/metrics fields) with
// BLAKE2b-256, the same hash family spec §4.7 uses for schema fingerprints
// and blds.SchemaInfo computes theirs with — kept consistent across the
// module rather than reaching for a second hash algorithm for this one
// checksum.
func computeHeaderChecksum(h *Header) [32]byte {
	base := unsafe.Pointer(h)
	bytes := unsafe.Slice((*byte)(base), layoutDescribingBytes)
	return blake2b.Sum256(bytes)
}
