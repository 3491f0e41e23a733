package protocol

import "github.com/pkg/errors"

// Error taxonomy shared by every package. Wrap with context and compare with
// errors.Is.
var (
	// seed or secret backend unreachable / unconfigured
	ErrSecretUnavailable = errors.New("secret unavailable")

	// malformed caller input
	ErrIndexOutOfRange  = errors.New("index out of range")
	ErrInvalidPath      = errors.New("invalid derivation path")
	ErrInvalidPublicKey = errors.New("invalid public key")

	// lookups
	ErrNotFound      = errors.New("not found")
	ErrPaymentExists = errors.New("payment already exists")

	// tamper or corruption
	ErrDecryptionFailed = errors.New("decryption failed")
	ErrMalformedBlob    = errors.New("malformed encrypted blob")

	// backing store could not complete the atomic allocation
	ErrAllocationConflict = errors.New("allocation conflict")
)
