package wallet

import (
	"crypto/sha512"
	"encoding/hex"
	"regexp"
)

var rawSeedPattern = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)

// ExpandSeed turns a master seed into the 64-byte derivation seed.
//
// A 64-character hex string is a raw 32-byte secret and is doubled; anything
// else is treated as a passphrase and hashed with SHA-512.
func ExpandSeed(masterSeed string) []byte {
	if rawSeedPattern.MatchString(masterSeed) {
		raw, err := hex.DecodeString(masterSeed)
		if err == nil {
			out := make([]byte, 0, DerivationSeedSize)
			out = append(out, raw...)
			return append(out, raw...)
		}
	}

	sum := sha512.Sum512([]byte(masterSeed))
	return sum[:]
}
