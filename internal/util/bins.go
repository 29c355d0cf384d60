package util

import "math/bits"

// IsPowerOfTwo reports whether x is a power of two (> 0).
func IsPowerOfTwo(x uint64) bool {
	return x != 0 && (x&(x-1)) == 0
}

// BinIndex maps a 64-bit hash to a bin in [0, bins).
// Power-of-two bin counts use the high bits of the hash so neighbouring
// bins partition the key space into contiguous ranges; other counts fall
// back to modulo. bins <= 1 always yields 0.
func BinIndex(hash uint64, bins int) int {
	if bins <= 1 {
		return 0
	}
	if IsPowerOfTwo(uint64(bins)) {
		shift := 64 - bits.TrailingZeros64(uint64(bins))
		return int(hash >> shift)
	}
	return int(hash % uint64(bins))
}
