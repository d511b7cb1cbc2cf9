package slot

// ChecksumSize is the wire size of one SlotChecksum entry: a 32-byte
// digest plus a one-byte present flag (spec §4: "SlotChecksum[capacity],
// 33 bytes each").
const ChecksumSize = 33

// Checksum is one entry in the header's slot-checksum array.
type Checksum struct {
	Digest  [32]byte
	Present bool
}

// Set stores digest and marks the entry present.
func (c *Checksum) Set(digest [32]byte) {
	c.Digest = digest
	c.Present = true
}

// Clear marks the entry absent without zeroing the digest, matching
// producer semantics where a stale digest is allowed to linger until
// overwritten (spec §3.2: "Flex-zone stored checksum reflects the last
// producer-invoked update... not necessarily current content" — the same
// staleness tolerance applies to per-slot digests).
func (c *Checksum) Clear() {
	c.Present = false
}

// Verify reports whether digest matches the stored checksum. Always false
// if no checksum has ever been stored.
func (c *Checksum) Verify(digest [32]byte) bool {
	return c.Present && c.Digest == digest
}
