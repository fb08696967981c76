package mls

import (
	"time"

	"github.com/pkg/errors"

	"github.com/nipee/mls/ciphersuite"
	"github.com/nipee/mls/wireformat"
)

// KeyPackage is the signed init-key bundle spec.md §4.6 describes: a
// prospective member's identity and the HPKE key a committer uses to
// Add them.
type KeyPackage struct {
	Version     ProtocolVersion
	CipherSuite ciphersuite.ID
	InitKey     ciphersuite.HPKEPublicKey
	LeafNode    LeafNode
	Extensions  ExtensionList
	Signature   []byte `tls:"head=2"`
}

type keyPackageTBS struct {
	Version     ProtocolVersion
	CipherSuite ciphersuite.ID
	InitKey     ciphersuite.HPKEPublicKey
	LeafNode    LeafNode
	Extensions  ExtensionList
}

func (kp KeyPackage) tbs() ([]byte, error) {
	return wireformat.Marshal(keyPackageTBS{
		Version:     kp.Version,
		CipherSuite: kp.CipherSuite,
		InitKey:     kp.InitKey,
		LeafNode:    kp.LeafNode,
		Extensions:  kp.Extensions,
	})
}

// sign computes the outer signature under label "KeyPackageTBS"
// (spec.md §4.6 step 3).
func (kp *KeyPackage) sign(suite ciphersuite.Suite, sk ciphersuite.SignaturePrivateKey) error {
	raw, err := kp.tbs()
	if err != nil {
		return err
	}
	sig, err := suite.SignWithLabel(sk, "KeyPackageTBS", raw)
	if err != nil {
		return errors.Wrap(ErrSignatureFailure, err.Error())
	}
	kp.Signature = sig
	return nil
}

// Verify checks both the outer KeyPackageTBS signature and the inner
// LeafNodeTBS signature (spec.md §4.6: "Consumers MUST verify both
// signatures before using a key package to Add").
func (kp KeyPackage) Verify(suite ciphersuite.Suite) error {
	raw, err := kp.tbs()
	if err != nil {
		return err
	}
	if !suite.VerifyWithLabel(kp.LeafNode.SignatureKey, "KeyPackageTBS", raw, kp.Signature) {
		return errors.Wrap(ErrInvalidSignature, "key package signature does not verify")
	}
	if err := kp.LeafNode.Verify(suite, nil, 0); err != nil {
		return err
	}
	if kp.InitKey.Equals(kp.LeafNode.EncryptionKey) {
		return errors.Wrap(ErrInvalidKeySize, "init key must differ from the leaf encryption key")
	}
	return nil
}

// IsLastResort reports whether the producer marked this key package
// reusable by joiners (spec.md §4.6).
func (kp KeyPackage) IsLastResort() bool {
	return kp.Extensions.Has(ExtensionTypeLastResort)
}

// Equals compares the public encoding of two key packages.
func (kp KeyPackage) Equals(o KeyPackage) bool {
	enc, err1 := wireformat.Marshal(kp)
	oenc, err2 := wireformat.Marshal(o)
	return err1 == nil && err2 == nil && string(enc) == string(oenc)
}

// KeyPackageBundle additionally owns the three private keys the
// producer generated alongside the public KeyPackage (spec.md §4.6
// step 4).
type KeyPackageBundle struct {
	KeyPackage     KeyPackage
	InitPrivateKey ciphersuite.HPKEPrivateKey
	EncPrivateKey  ciphersuite.HPKEPrivateKey
	SigPrivateKey  ciphersuite.SignaturePrivateKey
}

// NewKeyPackageBundle runs the full producer-side construction of
// spec.md §4.6: generate signature, init, and encryption key pairs;
// build and sign the leaf node; assemble and sign the outer TBS.
func NewKeyPackageBundle(suite ciphersuite.Suite, identity []byte, lifetime time.Duration, lastResort bool, extra []ExtensionBody) (KeyPackageBundle, error) {
	sigPriv, err := suite.GenerateSignatureKeyPair()
	if err != nil {
		return KeyPackageBundle{}, err
	}
	initPriv, err := suite.GenerateHPKEKeyPair()
	if err != nil {
		return KeyPackageBundle{}, err
	}
	encPriv, err := suite.GenerateHPKEKeyPair()
	if err != nil {
		return KeyPackageBundle{}, err
	}

	now := uint64(time.Now().Unix())
	leaf := LeafNode{
		EncryptionKey: encPriv.PublicKey,
		SignatureKey:  sigPriv.Public(),
		Credential:    NewBasicCredential(identity, suite.SignatureScheme(), sigPriv.Public()),
		Capabilities:  DefaultCapabilities(suite.ID()),
		Source: LeafNodeSource{
			SourceType: LeafNodeSourceTypeKeyPackage,
			Lifetime:   &Lifetime{NotBefore: now, NotAfter: now + uint64(lifetime.Seconds())},
		},
	}
	if err := leaf.Sign(suite, sigPriv, nil, 0); err != nil {
		return KeyPackageBundle{}, err
	}

	kp := KeyPackage{
		Version:     ProtocolVersionMLS10,
		CipherSuite: suite.ID(),
		InitKey:     initPriv.PublicKey,
		LeafNode:    leaf,
	}

	if lastResort {
		if err := kp.Extensions.Add(LastResortExtension{}); err != nil {
			return KeyPackageBundle{}, err
		}
	}
	for _, ext := range extra {
		if err := kp.Extensions.Add(ext); err != nil {
			return KeyPackageBundle{}, err
		}
	}

	if err := kp.sign(suite, sigPriv); err != nil {
		return KeyPackageBundle{}, err
	}

	return KeyPackageBundle{
		KeyPackage:     kp,
		InitPrivateKey: initPriv,
		EncPrivateKey:  encPriv,
		SigPrivateKey:  sigPriv,
	}, nil
}
