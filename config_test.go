package mls_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	mls "github.com/nipee/mls"
)

func TestDefaultConfigFallsBackWithoutEnv(t *testing.T) {
	cfg := mls.DefaultConfig()
	require.NotZero(t, cfg.DefaultSuite)
	require.NotZero(t, cfg.KeyPackageLifetime)
}

func TestNewDefaultKeyPackageBundleUsesConfiguredSuite(t *testing.T) {
	cfg := mls.DefaultConfig()
	bundle, err := mls.NewDefaultKeyPackageBundle([]byte("alice"), nil)
	require.NoError(t, err)
	require.Equal(t, cfg.DefaultSuite, bundle.KeyPackage.CipherSuite)
}

func TestCreateDefaultGroupRoundTrip(t *testing.T) {
	bundle, err := mls.NewDefaultKeyPackageBundle([]byte("alice"), nil)
	require.NoError(t, err)

	group, err := mls.CreateDefaultGroup(bundle, []byte("g"), mls.ExtensionList{})
	require.NoError(t, err)
	require.EqualValues(t, 0, group.CurrentEpoch())
	require.Len(t, group.CurrentMembers(), 1)
}
