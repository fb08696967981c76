package mls

import "github.com/pkg/errors"

// Error kinds, one sentinel per failure mode named in spec.md §7. Call
// sites wrap these with errors.Wrapf to attach context; errors.Cause
// (or errors.Is against the sentinel) recovers the kind.
var (
	// Input-validation
	ErrMalformedWire    = errors.New("mls: malformed wire encoding")
	ErrUnsupportedSuite = errors.New("mls: unsupported cipher suite")
	ErrInvalidKeySize   = errors.New("mls: invalid key size")
	ErrInvalidSignature = errors.New("mls: invalid signature")
	ErrInvalidCapability = errors.New("mls: invalid capability")

	// Tree-structural
	ErrNotAParent   = errors.New("mls: node is not a parent")
	ErrIsRoot       = errors.New("mls: node is the root")
	ErrIndexOutOfRange = errors.New("mls: index out of range")
	ErrNotShrinkable = errors.New("mls: tree is not shrinkable")
	ErrStaleDiff    = errors.New("mls: diff is stale")

	// Crypto
	ErrDerivationFailure = errors.New("mls: key derivation failed")
	ErrHpkeOpenFailure   = errors.New("mls: hpke open failed")
	ErrHpkeSealFailure   = errors.New("mls: hpke seal failed")
	ErrSignatureFailure  = errors.New("mls: signature operation failed")

	// Protocol
	ErrEpochClosed               = errors.New("mls: epoch already closed")
	ErrBlankSenderLeaf           = errors.New("mls: sender leaf is blank")
	ErrNoPathOverlap             = errors.New("mls: no overlap with sender's path")
	ErrCiphertextCountMismatch   = errors.New("mls: ciphertext count mismatch")
	ErrTreeKEMDerivationMismatch = errors.New("mls: derived public key does not match transmitted key")
	ErrInvalidParentHash         = errors.New("mls: parent hash mismatch")
	ErrReusedKeyPackage          = errors.New("mls: key package already used")
	ErrMemberNotFound            = errors.New("mls: member not found")

	// Resource
	ErrOutOfMemory = errors.New("mls: out of memory")
)
