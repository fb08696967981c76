package ciphersuite

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"

	circled448 "github.com/cloudflare/circl/sign/ed448"
	"github.com/pkg/errors"
	"golang.org/x/crypto/ed25519"
)

// SignaturePrivateKey is an opaque signing key for whichever scheme the
// owning suite binds. The key material is scheme-specific (raw holds an
// ed25519.PrivateKey or ed448.PrivateKey; the ECDSA schemes keep an
// *ecdsa.PrivateKey in ecdsa instead) and is never exposed outside this
// package.
type SignaturePrivateKey struct {
	scheme SignatureScheme
	raw    []byte
	ecdsa  *ecdsa.PrivateKey
	public SignaturePublicKey
}

// SignaturePublicKey is the public half of a SignaturePrivateKey.
//
// On the wire it is the u16 scheme followed by the key bytes:
//
//	opaque SignaturePublicKey<1..2^16-1>;
type SignaturePublicKey struct {
	Scheme SignatureScheme
	Data   []byte `tls:"head=2"`
}

func curveFor(scheme SignatureScheme) elliptic.Curve {
	switch scheme {
	case ECDSA_P256_SHA256:
		return elliptic.P256()
	case ECDSA_P384_SHA384:
		return elliptic.P384()
	case ECDSA_P521_SHA512:
		return elliptic.P521()
	default:
		return nil
	}
}

// GenerateSignatureKeyPair creates a fresh signing key pair for the
// suite's bound signature scheme.
func (s Suite) GenerateSignatureKeyPair() (SignaturePrivateKey, error) {
	scheme := s.p.sigScheme
	switch scheme {
	case Ed25519:
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return SignaturePrivateKey{}, errors.Wrap(ErrDerivationFailure, err.Error())
		}
		return SignaturePrivateKey{
			scheme: scheme,
			raw:    priv,
			public: SignaturePublicKey{Scheme: scheme, Data: pub},
		}, nil

	case Ed448:
		pub, priv, err := circled448.GenerateKey(rand.Reader)
		if err != nil {
			return SignaturePrivateKey{}, errors.Wrap(ErrDerivationFailure, err.Error())
		}
		return SignaturePrivateKey{
			scheme: scheme,
			raw:    priv,
			public: SignaturePublicKey{Scheme: scheme, Data: pub},
		}, nil

	case ECDSA_P256_SHA256, ECDSA_P384_SHA384, ECDSA_P521_SHA512:
		curve := curveFor(scheme)
		priv, err := ecdsa.GenerateKey(curve, rand.Reader)
		if err != nil {
			return SignaturePrivateKey{}, errors.Wrap(ErrDerivationFailure, err.Error())
		}
		pub := elliptic.MarshalCompressed(curve, priv.PublicKey.X, priv.PublicKey.Y)
		return SignaturePrivateKey{
			scheme: scheme,
			ecdsa:  priv,
			public: SignaturePublicKey{Scheme: scheme, Data: pub},
		}, nil

	default:
		return SignaturePrivateKey{}, errors.Wrapf(ErrUnsupportedSuite, "signature scheme 0x%04x", uint16(scheme))
	}
}

// Public returns the public half of sk.
func (sk SignaturePrivateKey) Public() SignaturePublicKey { return sk.public }

func (sk SignaturePrivateKey) sign(content []byte) ([]byte, error) {
	switch sk.scheme {
	case Ed25519:
		return ed25519.Sign(ed25519.PrivateKey(sk.raw), content), nil
	case Ed448:
		return circled448.Sign(circled448.PrivateKey(sk.raw), content, ""), nil
	case ECDSA_P256_SHA256, ECDSA_P384_SHA384, ECDSA_P521_SHA512:
		digest := hashForCurve(sk.scheme, content)
		sig, err := ecdsa.SignASN1(rand.Reader, sk.ecdsa, digest)
		if err != nil {
			return nil, errors.Wrap(ErrSignatureFailure, err.Error())
		}
		return sig, nil
	default:
		return nil, errors.Wrapf(ErrUnsupportedSuite, "signature scheme 0x%04x", uint16(sk.scheme))
	}
}

func (pk SignaturePublicKey) verify(content, sig []byte) bool {
	switch pk.Scheme {
	case Ed25519:
		if len(pk.Data) != ed25519.PublicKeySize {
			return false
		}
		return ed25519.Verify(ed25519.PublicKey(pk.Data), content, sig)
	case Ed448:
		return circled448.Verify(circled448.PublicKey(pk.Data), content, sig, "")
	case ECDSA_P256_SHA256, ECDSA_P384_SHA384, ECDSA_P521_SHA512:
		curve := curveFor(pk.Scheme)
		x, y := elliptic.UnmarshalCompressed(curve, pk.Data)
		if x == nil {
			return false
		}
		pub := &ecdsa.PublicKey{Curve: curve, X: x, Y: y}
		digest := hashForCurve(pk.Scheme, content)
		return ecdsa.VerifyASN1(pub, digest, sig)
	default:
		return false
	}
}

// SignWithLabel is spec.md §4.3's SignWithLabel(sk, label, content): it
// signs Encode(u8-prefixed label, u32-prefixed content).
func (s Suite) SignWithLabel(sk SignaturePrivateKey, label string, content []byte) ([]byte, error) {
	enc, err := encodeSignContent(label, content)
	if err != nil {
		return nil, err
	}
	return sk.sign(enc)
}

// VerifyWithLabel is spec.md §4.3's VerifyWithLabel(pk, label, content,
// sig), the analogous verification encoding.
func (s Suite) VerifyWithLabel(pk SignaturePublicKey, label string, content, sig []byte) bool {
	enc, err := encodeSignContent(label, content)
	if err != nil {
		return false
	}
	return pk.verify(enc, sig)
}
