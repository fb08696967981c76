package mls_test

import (
	"time"

	mls "github.com/nipee/mls"
	"github.com/nipee/mls/ciphersuite"
)

// newTestSuite resolves the suite spec.md's scenarios use throughout
// (0x0001, X25519/AES128GCM/SHA256/Ed25519).
func newTestSuite() ciphersuite.Suite {
	suite, err := ciphersuite.New(ciphersuite.X25519_AES128GCM_SHA256_Ed25519)
	if err != nil {
		panic(err)
	}
	return suite
}

// newTestLeaf builds a signed, KeyPackage-sourced leaf for the given
// identity, for tests that exercise the tree directly without going
// through a full KeyPackageBundle.
func newTestLeaf(suite ciphersuite.Suite, identity string) mls.LeafNode {
	sigPriv, err := suite.GenerateSignatureKeyPair()
	if err != nil {
		panic(err)
	}
	encPriv, err := suite.GenerateHPKEKeyPair()
	if err != nil {
		panic(err)
	}
	now := uint64(time.Now().Unix())
	leaf := mls.LeafNode{
		EncryptionKey: encPriv.PublicKey,
		SignatureKey:  sigPriv.Public(),
		Credential:    mls.NewBasicCredential([]byte(identity), suite.SignatureScheme(), sigPriv.Public()),
		Capabilities:  mls.DefaultCapabilities(suite.ID()),
		Source: mls.LeafNodeSource{
			SourceType: mls.LeafNodeSourceTypeKeyPackage,
			Lifetime:   &mls.Lifetime{NotBefore: now, NotAfter: now + 3600},
		},
	}
	if err := leaf.Sign(suite, sigPriv, nil, 0); err != nil {
		panic(err)
	}
	return leaf
}
