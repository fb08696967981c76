package ciphersuite

import (
	"crypto/sha256"
	"crypto/sha512"
)

// hashForCurve pre-hashes content with the digest RFC 9420 pairs with
// each ECDSA scheme, since ecdsa.SignASN1/VerifyASN1 operate on a
// digest, not a message.
func hashForCurve(scheme SignatureScheme, content []byte) []byte {
	switch scheme {
	case ECDSA_P384_SHA384:
		d := sha512.Sum384(content)
		return d[:]
	case ECDSA_P521_SHA512:
		d := sha512.Sum512(content)
		return d[:]
	default: // ECDSA_P256_SHA256
		d := sha256.Sum256(content)
		return d[:]
	}
}
