package mls_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	mls "github.com/nipee/mls"
)

func TestDeriveEpochSecretsIsDeterministic(t *testing.T) {
	suite := newTestSuite()
	initSecret := make([]byte, suite.Nh())
	commitSecret := make([]byte, suite.Nh())
	for i := range commitSecret {
		commitSecret[i] = byte(i + 1)
	}
	groupContext := []byte("group-context")

	a, err := mls.DeriveEpochSecrets(suite, initSecret, commitSecret, groupContext, nil)
	require.NoError(t, err)
	b, err := mls.DeriveEpochSecrets(suite, initSecret, commitSecret, groupContext, nil)
	require.NoError(t, err)

	require.Equal(t, a, b)

	// Every derived secret is non-empty and the eight leaves of the
	// graph are pairwise distinct.
	leaves := [][]byte{
		a.SenderDataSecret, a.EncryptionSecret, a.ExporterSecret,
		a.ExternalSecret, a.ConfirmationKey, a.MembershipKey,
		a.ResumptionPSK, a.InitSecret,
	}
	seen := map[string]bool{}
	for _, l := range leaves {
		require.Len(t, l, suite.Nh())
		require.False(t, seen[string(l)], "derived secret collided")
		seen[string(l)] = true
	}
}

func TestDeriveEpochSecretsChangesWithGroupContext(t *testing.T) {
	suite := newTestSuite()
	initSecret := make([]byte, suite.Nh())
	commitSecret := make([]byte, suite.Nh())

	a, err := mls.DeriveEpochSecrets(suite, initSecret, commitSecret, []byte("ctx-a"), nil)
	require.NoError(t, err)
	b, err := mls.DeriveEpochSecrets(suite, initSecret, commitSecret, []byte("ctx-b"), nil)
	require.NoError(t, err)

	require.NotEqual(t, a.EpochSecret, b.EpochSecret)
	require.NotEqual(t, a.ExporterSecret, b.ExporterSecret)
}

func TestInitialEpochSecretsMatchesZeroInitSecret(t *testing.T) {
	suite := newTestSuite()
	founderLeafSecret := make([]byte, suite.Nh())
	for i := range founderLeafSecret {
		founderLeafSecret[i] = byte(2 * i)
	}
	groupContext := []byte("founding-context")

	got, err := mls.InitialEpochSecrets(suite, founderLeafSecret, groupContext)
	require.NoError(t, err)

	want, err := mls.DeriveEpochSecrets(suite, make([]byte, suite.Nh()), founderLeafSecret, groupContext, nil)
	require.NoError(t, err)

	require.Equal(t, want, got)
}

func TestExportUsesExporterSecret(t *testing.T) {
	suite := newTestSuite()
	initSecret := make([]byte, suite.Nh())
	commitSecret := make([]byte, suite.Nh())
	groupContext := []byte("group-context")

	secrets, err := mls.DeriveEpochSecrets(suite, initSecret, commitSecret, groupContext, nil)
	require.NoError(t, err)

	got, err := secrets.Export(suite, "nostr", nil, 32)
	require.NoError(t, err)
	require.Len(t, got, 32)

	want, err := suite.ExporterSecret(secrets.ExporterSecret, "nostr", nil, 32)
	require.NoError(t, err)
	require.Equal(t, want, got)

	other, err := secrets.Export(suite, "other-label", nil, 32)
	require.NoError(t, err)
	require.NotEqual(t, got, other)
}

func TestDeriveEpochSecretsDistinguishesPSK(t *testing.T) {
	suite := newTestSuite()
	initSecret := make([]byte, suite.Nh())
	commitSecret := make([]byte, suite.Nh())
	groupContext := []byte("group-context")

	withoutPSK, err := mls.DeriveEpochSecrets(suite, initSecret, commitSecret, groupContext, nil)
	require.NoError(t, err)

	psk := make([]byte, suite.Nh())
	for i := range psk {
		psk[i] = 0xff
	}
	withPSK, err := mls.DeriveEpochSecrets(suite, initSecret, commitSecret, groupContext, psk)
	require.NoError(t, err)

	require.Equal(t, withoutPSK.JoinerSecret, withPSK.JoinerSecret)
	require.NotEqual(t, withoutPSK.WelcomeSecret, withPSK.WelcomeSecret)
	require.NotEqual(t, withoutPSK.EpochSecret, withPSK.EpochSecret)
}
