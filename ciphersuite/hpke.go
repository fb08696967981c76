package ciphersuite

import (
	"crypto/rand"

	hpke "github.com/cisco/go-hpke"
	"github.com/pkg/errors"
)

// HPKEPublicKey is an HPKE public key as carried on the wire (leaf-node
// encryption keys, init keys, and the public keys written into an
// update path).
//
//	opaque HPKEPublicKey<1..2^16-1>;
type HPKEPublicKey struct {
	Data []byte `tls:"head=2"`
}

// Equals compares two public keys by wire bytes.
func (pk HPKEPublicKey) Equals(o HPKEPublicKey) bool {
	if len(pk.Data) != len(o.Data) {
		return false
	}
	for i := range pk.Data {
		if pk.Data[i] != o.Data[i] {
			return false
		}
	}
	return true
}

// HPKEPrivateKey is never itself put on the wire. It stores the seed
// (the "node secret", spec.md §3 PathSecret) from which
// KEM.DeriveKeyPair reconstructs both halves of the key pair
// deterministically, rather than storing a second, redundant private
// scalar — the seed IS the private key under RFC 9420's derive-only
// construction.
type HPKEPrivateKey struct {
	PublicKey HPKEPublicKey
	seed      []byte
}

// HPKECiphertext is a single HPKE-sealed path secret: the KEM
// encapsulation output plus the symmetric ciphertext (spec.md §4.7
// step 3).
type HPKECiphertext struct {
	KEMOutput  []byte `tls:"head=2"`
	Ciphertext []byte `tls:"head=4"`
}

func (s Suite) hpkeSuite() (hpke.CipherSuite, error) {
	hs, err := hpke.AssembleCipherSuite(s.p.kem, s.p.kdf, s.p.aead)
	if err != nil {
		return hpke.CipherSuite{}, errors.Wrapf(ErrUnsupportedSuite, "hpke assembly: %v", err)
	}
	return hs, nil
}

// DeriveHPKEKeyPair derives an HPKE key pair from seed, per
// KEM.DeriveKeyPair(seed) (spec.md §3, §4.7 step 2b).
func (s Suite) DeriveHPKEKeyPair(seed []byte) (HPKEPrivateKey, error) {
	hs, err := s.hpkeSuite()
	if err != nil {
		return HPKEPrivateKey{}, err
	}

	_, pub, err := hs.KEM.DeriveKeyPair(seed)
	if err != nil {
		return HPKEPrivateKey{}, errors.Wrap(ErrDerivationFailure, err.Error())
	}

	cp := make([]byte, len(seed))
	copy(cp, seed)
	return HPKEPrivateKey{
		PublicKey: HPKEPublicKey{Data: hs.KEM.Marshal(pub)},
		seed:      cp,
	}, nil
}

// GenerateHPKEKeyPair samples a fresh random seed and derives a key
// pair from it — used for init keys (spec.md §4.6), which are not part
// of the path-secret ratchet chain.
func (s Suite) GenerateHPKEKeyPair() (HPKEPrivateKey, error) {
	seed := make([]byte, s.Nh())
	if _, err := rand.Read(seed); err != nil {
		return HPKEPrivateKey{}, errors.Wrap(ErrDerivationFailure, err.Error())
	}
	return s.DeriveHPKEKeyPair(seed)
}

func (priv HPKEPrivateKey) kemPrivate(s Suite) (hpke.KEMPrivateKey, error) {
	hs, err := s.hpkeSuite()
	if err != nil {
		return nil, err
	}
	kpriv, _, err := hs.KEM.DeriveKeyPair(priv.seed)
	if err != nil {
		return nil, errors.Wrap(ErrDerivationFailure, err.Error())
	}
	return kpriv, nil
}

// Seal encrypts pt to pub under info/aad, returning the KEM
// encapsulation and the AEAD ciphertext (spec.md §9's seal(pk, info,
// aad, pt) → (kem_output, ct) capability).
func (s Suite) Seal(pub HPKEPublicKey, info, aad, pt []byte) (kemOutput, ciphertext []byte, err error) {
	hs, err := s.hpkeSuite()
	if err != nil {
		return nil, nil, err
	}

	kpub, err := hs.KEM.Unmarshal(pub.Data)
	if err != nil {
		return nil, nil, errors.Wrapf(ErrInvalidKeySize, "unmarshal HPKE public key: %v", err)
	}

	enc, encCtx, err := hpke.SetupBaseS(hs, rand.Reader, kpub, info)
	if err != nil {
		return nil, nil, errors.Wrap(ErrDerivationFailure, err.Error())
	}

	ct := encCtx.Seal(aad, pt)

	return enc, ct, nil
}

// Open decrypts a ciphertext produced by Seal (spec.md §9's open(sk,
// kem_output, info, aad, ct) → pt capability).
func (s Suite) Open(priv HPKEPrivateKey, kemOutput, info, aad, ciphertext []byte) ([]byte, error) {
	hs, err := s.hpkeSuite()
	if err != nil {
		return nil, err
	}

	kpriv, err := priv.kemPrivate(s)
	if err != nil {
		return nil, err
	}

	decCtx, err := hpke.SetupBaseR(hs, kpriv, kemOutput, info)
	if err != nil {
		return nil, errors.Wrap(ErrHpkeOpenFailure, err.Error())
	}

	pt, err := decCtx.Open(aad, ciphertext)
	if err != nil {
		return nil, errors.Wrap(ErrHpkeOpenFailure, err.Error())
	}
	return pt, nil
}

// ErrHpkeOpenFailure is spec.md §7's HpkeOpenFailure.
var ErrHpkeOpenFailure = errors.New("ciphersuite: hpke open failed")
