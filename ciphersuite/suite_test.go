package ciphersuite_test

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nipee/mls/ciphersuite"
)

func TestDeriveSecretMatchesExpandWithLabel(t *testing.T) {
	// spec.md S2.
	suite, err := ciphersuite.New(ciphersuite.X25519_AES128GCM_SHA256_Ed25519)
	require.NoError(t, err)

	secret, err := hex.DecodeString("5a097e149f2a375d0b9e1d1f4dc3a9c6c1788df888e5441f41a8791f4dc56cea")
	require.NoError(t, err)

	got, err := suite.DeriveSecret(secret, "exporter")
	require.NoError(t, err)

	want, err := suite.ExpandWithLabel(secret, "exporter", nil, suite.Nh())
	require.NoError(t, err)

	require.Equal(t, want, got)
	require.Len(t, got, 32)
}

func TestSignedRoundTrip(t *testing.T) {
	// spec.md S3.
	suite, err := ciphersuite.New(ciphersuite.X25519_AES128GCM_SHA256_Ed25519)
	require.NoError(t, err)

	sk, err := suite.GenerateSignatureKeyPair()
	require.NoError(t, err)

	sig, err := suite.SignWithLabel(sk, "test_label", []byte("hello"))
	require.NoError(t, err)

	require.True(t, suite.VerifyWithLabel(sk.Public(), "test_label", []byte("hello"), sig))
	require.False(t, suite.VerifyWithLabel(sk.Public(), "wrong_label", []byte("hello"), sig))
}

func TestSignedRoundTripAcrossSchemes(t *testing.T) {
	// spec.md invariant 5: flipping the label, content, or either key
	// breaks verification, for every signature scheme this backend
	// supports.
	suites := []ciphersuite.ID{
		ciphersuite.X25519_AES128GCM_SHA256_Ed25519,
		ciphersuite.P256_AES128GCM_SHA256_P256,
		ciphersuite.X448_AES256GCM_SHA512_Ed448,
		ciphersuite.P384_AES256GCM_SHA384_P384,
		ciphersuite.P521_AES256GCM_SHA512_P521,
	}

	for _, id := range suites {
		suite, err := ciphersuite.New(id)
		require.NoError(t, err, "suite 0x%04x", id)

		sk, err := suite.GenerateSignatureKeyPair()
		require.NoError(t, err)

		content := []byte("hello")
		sig, err := suite.SignWithLabel(sk, "label", content)
		require.NoError(t, err)
		require.True(t, suite.VerifyWithLabel(sk.Public(), "label", content, sig))

		require.False(t, suite.VerifyWithLabel(sk.Public(), "other-label", content, sig))
		require.False(t, suite.VerifyWithLabel(sk.Public(), "label", []byte("goodbye"), sig))

		other, err := suite.GenerateSignatureKeyPair()
		require.NoError(t, err)
		require.False(t, suite.VerifyWithLabel(other.Public(), "label", content, sig))
	}
}

func TestHPKESealOpenRoundTrip(t *testing.T) {
	suite, err := ciphersuite.New(ciphersuite.X25519_AES128GCM_SHA256_Ed25519)
	require.NoError(t, err)

	priv, err := suite.GenerateHPKEKeyPair()
	require.NoError(t, err)

	kem, ct, err := suite.Seal(priv.PublicKey, []byte("info"), []byte("aad"), []byte("plaintext"))
	require.NoError(t, err)

	pt, err := suite.Open(priv, kem, []byte("info"), []byte("aad"), ct)
	require.NoError(t, err)
	require.Equal(t, []byte("plaintext"), pt)

	_, err = suite.Open(priv, kem, []byte("wrong-info"), []byte("aad"), ct)
	require.Error(t, err)
}

func TestDeriveHPKEKeyPairIsDeterministic(t *testing.T) {
	suite, err := ciphersuite.New(ciphersuite.X25519_AES128GCM_SHA256_Ed25519)
	require.NoError(t, err)

	seed := make([]byte, suite.Nh())
	a, err := suite.DeriveHPKEKeyPair(seed)
	require.NoError(t, err)
	b, err := suite.DeriveHPKEKeyPair(seed)
	require.NoError(t, err)

	require.True(t, a.PublicKey.Equals(b.PublicKey))
}

func TestMACDetectsTampering(t *testing.T) {
	suite, err := ciphersuite.New(ciphersuite.X25519_AES128GCM_SHA256_Ed25519)
	require.NoError(t, err)

	key := []byte("confirmation-key-material")
	tag := suite.MAC(key, []byte("confirmed transcript"))
	require.Equal(t, tag, suite.MAC(key, []byte("confirmed transcript")))
	require.NotEqual(t, tag, suite.MAC(key, []byte("different transcript")))
}

func TestHashIsStatelessAcrossCalls(t *testing.T) {
	// Hash must not accumulate state across calls — TreeHash calls it
	// recursively dozens of times per tree, and a prior call's input
	// must never bleed into a later one's digest.
	suite, err := ciphersuite.New(ciphersuite.X25519_AES128GCM_SHA256_Ed25519)
	require.NoError(t, err)

	want := suite.Hash([]byte("fixed input"))
	for i := 0; i < 50; i++ {
		suite.Hash([]byte("unrelated input"))
	}
	require.Equal(t, want, suite.Hash([]byte("fixed input")))
}

func TestDeriveSecretIsUnaffectedByPriorHashCalls(t *testing.T) {
	suite, err := ciphersuite.New(ciphersuite.X25519_AES128GCM_SHA256_Ed25519)
	require.NoError(t, err)

	secret, err := hex.DecodeString("5a097e149f2a375d0b9e1d1f4dc3a9c6c1788df888e5441f41a8791f4dc56cea")
	require.NoError(t, err)

	before, err := suite.DeriveSecret(secret, "exporter")
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		suite.Hash([]byte("noise"))
	}

	after, err := suite.DeriveSecret(secret, "exporter")
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestUnsupportedSuiteRejected(t *testing.T) {
	_, err := ciphersuite.New(ciphersuite.ReservedExperimental)
	require.Error(t, err)
	require.False(t, ciphersuite.IsSupported(ciphersuite.ReservedExperimental))
	require.True(t, ciphersuite.IsSupported(ciphersuite.X25519_AES128GCM_SHA256_Ed25519))
}
