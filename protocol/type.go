package protocol

// Hardened derivation can only address indices below this bound.
const (
	HardenedOffset uint32 = 0x80000000
	MaxIndex       uint32 = HardenedOffset - 1
)

// ValidIndex reports whether i can be encoded as a hardened path segment.
func ValidIndex(i uint32) bool {
	return i < HardenedOffset
}
