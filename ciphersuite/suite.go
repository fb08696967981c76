// Package ciphersuite implements the MLS cipher-suite façade (RFC 9420
// §5, §16.1): it binds a single suite identifier to a hash function, an
// HKDF-based KDF, a signature scheme, and an HPKE KEM/KDF/AEAD triple,
// and exposes the labeled derivation primitives (DeriveSecret,
// ExpandWithLabel, SignWithLabel, VerifyWithLabel, exporter) that every
// other MLS component builds on.
package ciphersuite

import (
	"crypto"
	"crypto/hmac"
	"fmt"

	"github.com/bytemare/hash"
	"github.com/pkg/errors"

	hpke "github.com/cisco/go-hpke"
)

// ID is the MLS wire identifier for a cipher suite (RFC 9420 §16.1).
type ID uint16

// The suites registered by RFC 9420 §16.1, plus a reserved eighth slot
// for a suite the HPKE backend does not (yet) implement — exercising
// IsSupported's negative path.
const (
	X25519_AES128GCM_SHA256_Ed25519        ID = 0x0001
	P256_AES128GCM_SHA256_P256             ID = 0x0002
	X25519_CHACHA20POLY1305_SHA256_Ed25519 ID = 0x0003
	X448_AES256GCM_SHA512_Ed448            ID = 0x0004
	P521_AES256GCM_SHA512_P521             ID = 0x0005
	X448_CHACHA20POLY1305_SHA512_Ed448     ID = 0x0006
	P384_AES256GCM_SHA384_P384             ID = 0x0007
	ReservedExperimental                   ID = 0x0008
)

// SignatureScheme identifies the signature algorithm bound to a suite.
type SignatureScheme uint16

const (
	Ed25519         SignatureScheme = 0x0807
	Ed448           SignatureScheme = 0x0808
	ECDSA_P256_SHA256 SignatureScheme = 0x0403
	ECDSA_P384_SHA384 SignatureScheme = 0x0503
	ECDSA_P521_SHA512 SignatureScheme = 0x0603
)

// labelPrefix is the ASCII constant every MLS label is prefixed with
// before use in a labeled HKDF, sign, or verify construction (RFC 9420
// §8 and spec.md §4.3).
const labelPrefix = "MLS 1.0 "

// Sentinel error kinds (spec.md §7, "Crypto" and "Input-validation").
var (
	ErrUnsupportedSuite = errors.New("ciphersuite: suite not supported")
	ErrInvalidKeySize   = errors.New("ciphersuite: invalid key size")
	ErrSignatureFailure = errors.New("ciphersuite: signature operation failed")
	ErrDerivationFailure = errors.New("ciphersuite: key derivation failed")
)

type params struct {
	hashID    crypto.Hash
	sigScheme SignatureScheme
	kem       hpke.KEMID
	kdf       hpke.KDFID
	aead      hpke.AEADID
	supported bool
}

var registry = map[ID]params{
	X25519_AES128GCM_SHA256_Ed25519: {
		hashID: crypto.SHA256, sigScheme: Ed25519,
		kem: hpke.DHKEM_X25519, kdf: hpke.KDF_HKDF_SHA256, aead: hpke.AEAD_AESGCM128,
		supported: true,
	},
	P256_AES128GCM_SHA256_P256: {
		hashID: crypto.SHA256, sigScheme: ECDSA_P256_SHA256,
		kem: hpke.DHKEM_P256, kdf: hpke.KDF_HKDF_SHA256, aead: hpke.AEAD_AESGCM128,
		supported: true,
	},
	X25519_CHACHA20POLY1305_SHA256_Ed25519: {
		hashID: crypto.SHA256, sigScheme: Ed25519,
		kem: hpke.DHKEM_X25519, kdf: hpke.KDF_HKDF_SHA256, aead: hpke.AEAD_CHACHA20POLY1305,
		supported: true,
	},
	X448_AES256GCM_SHA512_Ed448: {
		hashID: crypto.SHA512, sigScheme: Ed448,
		kem: hpke.DHKEM_X448, kdf: hpke.KDF_HKDF_SHA512, aead: hpke.AEAD_AESGCM256,
		supported: true,
	},
	P521_AES256GCM_SHA512_P521: {
		hashID: crypto.SHA512, sigScheme: ECDSA_P521_SHA512,
		kem: hpke.DHKEM_P521, kdf: hpke.KDF_HKDF_SHA512, aead: hpke.AEAD_AESGCM256,
		supported: true,
	},
	X448_CHACHA20POLY1305_SHA512_Ed448: {
		hashID: crypto.SHA512, sigScheme: Ed448,
		kem: hpke.DHKEM_X448, kdf: hpke.KDF_HKDF_SHA512, aead: hpke.AEAD_CHACHA20POLY1305,
		supported: true,
	},
	P384_AES256GCM_SHA384_P384: {
		hashID: crypto.SHA384, sigScheme: ECDSA_P384_SHA384,
		kem: hpke.DHKEM_P384, kdf: hpke.KDF_HKDF_SHA384, aead: hpke.AEAD_AESGCM256,
		supported: true,
	},
	// The reserved slot has no HPKE/signature binding in this backend;
	// IsSupported reports false and every operation on it fails with
	// ErrUnsupportedSuite.
	ReservedExperimental: {supported: false},
}

// Suite is a resolved cipher suite: every labeled derivation, signature,
// and HPKE operation in the core is a method on a Suite value.
type Suite struct {
	id ID
	p  params
}

// New resolves suite id into a usable Suite. Fails with
// ErrUnsupportedSuite for an id this backend does not implement.
func New(id ID) (Suite, error) {
	p, ok := registry[id]
	if !ok || !p.supported {
		return Suite{}, errors.Wrapf(ErrUnsupportedSuite, "suite 0x%04x", uint16(id))
	}
	return Suite{id: id, p: p}, nil
}

// newHash returns a fresh streaming hasher bound to the suite's hash
// function. Hash, extract, and expand each take their own instance
// rather than sharing one across calls, so Write/Sum state from one
// operation never bleeds into another.
func (s Suite) newHash() *hash.Fixed {
	return hash.FromCrypto(s.p.hashID).GetHashFunction()
}

// IsSupported reports whether this backend implements id, without
// allocating a Suite.
func IsSupported(id ID) bool {
	p, ok := registry[id]
	return ok && p.supported
}

// ID returns the suite's wire identifier.
func (s Suite) ID() ID { return s.id }

// SignatureScheme returns the suite's bound signature algorithm.
func (s Suite) SignatureScheme() SignatureScheme { return s.p.sigScheme }

// Nh is the suite's hash (and thus secret) output length in bytes.
func (s Suite) Nh() int { return s.p.hashID.Size() }

// Hash computes H(data) for the suite's bound hash function.
func (s Suite) Hash(data []byte) []byte {
	h := s.newHash()
	h.Write(data)
	return h.Sum(nil)
}

// MAC computes HMAC(key, message) under the suite's bound hash,
// binding the confirmation tag to the confirmation key the same way
// RFC 9420 §6.1's MAC(confirmation_key, confirmed_transcript_hash)
// does.
func (s Suite) MAC(key, message []byte) []byte {
	h := hmac.New(s.p.hashID.New, key)
	h.Write(message)
	return h.Sum(nil)
}

// extract is HKDF-Extract(salt, ikm) under the suite's hash.
func (s Suite) extract(salt, ikm []byte) []byte {
	return s.newHash().HKDFExtract(ikm, salt)
}

// expand is HKDF-Expand(prk, info, length) under the suite's hash.
func (s Suite) expand(prk, info []byte, length int) []byte {
	return s.newHash().HKDFExpand(prk, info, length)
}

// Extract exposes HKDF-Extract for the key-schedule graph (spec.md
// §4.8), which extracts over a running init_secret/commit_secret chain
// rather than a labeled context.
func (s Suite) Extract(salt, ikm []byte) []byte { return s.extract(salt, ikm) }

// encodeLabel builds the `Encode(length, "MLS 1.0 "+label, context)`
// structure spec.md §4.3 feeds to HKDF-Expand: a u16 length, a
// u8-length-prefixed label, and a u32-length-prefixed context.
func encodeLabel(length int, label string, context []byte) ([]byte, error) {
	full := labelPrefix + label
	if len(full) > 0xff {
		return nil, errors.Wrapf(ErrInvalidKeySize, "label %q too long", label)
	}
	if length < 0 || length > 0xffff {
		return nil, errors.Wrapf(ErrInvalidKeySize, "length %d out of range", length)
	}

	out := make([]byte, 0, 2+1+len(full)+4+len(context))
	out = append(out, byte(length>>8), byte(length))
	out = append(out, byte(len(full)))
	out = append(out, full...)
	out = append(out,
		byte(len(context)>>24), byte(len(context)>>16),
		byte(len(context)>>8), byte(len(context)))
	out = append(out, context...)
	return out, nil
}

// ExpandWithLabel is spec.md §4.3's ExpandWithLabel(secret, label,
// context, length).
func (s Suite) ExpandWithLabel(secret []byte, label string, context []byte, length int) ([]byte, error) {
	enc, err := encodeLabel(length, label, context)
	if err != nil {
		return nil, err
	}
	return s.expand(secret, enc, length), nil
}

// DeriveSecret is spec.md §4.3's DeriveSecret(secret, label) =
// ExpandWithLabel(secret, label, "", Nh).
func (s Suite) DeriveSecret(secret []byte, label string) ([]byte, error) {
	return s.ExpandWithLabel(secret, label, nil, s.Nh())
}

// encodeSignContent builds the u8-label/u32-content structure that
// SignWithLabel and VerifyWithLabel sign over (spec.md §4.3).
func encodeSignContent(label string, content []byte) ([]byte, error) {
	full := labelPrefix + label
	if len(full) > 0xff {
		return nil, errors.Wrapf(ErrInvalidKeySize, "label %q too long", label)
	}
	out := make([]byte, 0, 1+len(full)+4+len(content))
	out = append(out, byte(len(full)))
	out = append(out, full...)
	out = append(out,
		byte(len(content)>>24), byte(len(content)>>16),
		byte(len(content)>>8), byte(len(content)))
	out = append(out, content...)
	return out, nil
}

// ExporterSecret is spec.md §4.3's ExporterSecret; its open ambiguity
// (§9) is resolved in DESIGN.md — this implementation follows the RFC
// 9420 text literally: DeriveSecret reapplies the full labeled-HKDF
// encoding to `label`, exactly as for any other DeriveSecret call.
func (s Suite) ExporterSecret(exporterSecret []byte, label string, context []byte, length int) ([]byte, error) {
	base, err := s.DeriveSecret(exporterSecret, label)
	if err != nil {
		return nil, err
	}
	return s.ExpandWithLabel(base, "exporter", s.Hash(context), length)
}

func (s Suite) String() string {
	return fmt.Sprintf("0x%04x", uint16(s.id))
}
