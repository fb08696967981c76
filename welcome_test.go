package mls_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	mls "github.com/nipee/mls"
	"github.com/nipee/mls/wireformat"
)

// groupInfoTBSMirror has the same field shape as GroupInfo's private
// to-be-signed projection, so a test can reproduce gi.sign's signed
// bytes without reaching into the package's internals.
type groupInfoTBSMirror struct {
	GroupContext mls.GroupContext
	Confirmation []byte `tls:"head=1"`
	Signer       uint32
}

func TestGroupInfoSignVerifyRoundTrip(t *testing.T) {
	suite := newTestSuite()
	sigPriv, err := suite.GenerateSignatureKeyPair()
	require.NoError(t, err)

	gi := mls.GroupInfo{
		GroupContext: mls.GroupContext{GroupID: []byte("g"), Epoch: 1},
		Confirmation: []byte("conf"),
		Signer:       0,
	}

	raw, err := wireformat.Marshal(groupInfoTBSMirror{
		GroupContext: gi.GroupContext,
		Confirmation: gi.Confirmation,
		Signer:       gi.Signer,
	})
	require.NoError(t, err)
	sig, err := suite.SignWithLabel(sigPriv, "GroupInfoTBS", raw)
	require.NoError(t, err)
	gi.Signature = sig

	require.NoError(t, gi.Verify(suite, sigPriv.Public()))

	other, err := suite.GenerateSignatureKeyPair()
	require.NoError(t, err)
	require.Error(t, gi.Verify(suite, other.Public()))

	gi.Confirmation = []byte("tampered")
	require.Error(t, gi.Verify(suite, sigPriv.Public()))
}

func TestWelcomeStructureRoundTrip(t *testing.T) {
	// spec.md invariant 4: Welcome's container structure round-trips,
	// independent of what the sealed secrets inside decrypt to.
	suite := newTestSuite()
	w := mls.Welcome{
		CipherSuite: suite.ID(),
		Secrets: []mls.EncryptedGroupSecrets{
			{KeyPackageHash: []byte("hash"), KEMOutput: []byte("kem"), Ciphertext: []byte("ct")},
		},
		GroupInfo: mls.GroupInfo{
			GroupContext: mls.GroupContext{GroupID: []byte("g"), Epoch: 1},
			Confirmation: []byte("conf"),
			Signature:    []byte("sig"),
		},
		Tree: []byte("tree-bytes"),
	}

	encoded, err := wireformat.Marshal(w)
	require.NoError(t, err)

	var decoded mls.Welcome
	require.NoError(t, wireformat.Unmarshal(encoded, &decoded))
	require.Equal(t, w.CipherSuite, decoded.CipherSuite)
	require.Len(t, decoded.Secrets, 1)
	require.Equal(t, w.Secrets[0].KeyPackageHash, decoded.Secrets[0].KeyPackageHash)
	require.Equal(t, w.Secrets[0].KEMOutput, decoded.Secrets[0].KEMOutput)
	require.Equal(t, w.Secrets[0].Ciphertext, decoded.Secrets[0].Ciphertext)
	require.Equal(t, w.GroupInfo.GroupContext.GroupID, decoded.GroupInfo.GroupContext.GroupID)
	require.Equal(t, w.GroupInfo.GroupContext.Epoch, decoded.GroupInfo.GroupContext.Epoch)
	require.Equal(t, w.GroupInfo.Confirmation, decoded.GroupInfo.Confirmation)
	require.Equal(t, w.GroupInfo.Signature, decoded.GroupInfo.Signature)
	require.Equal(t, w.Tree, decoded.Tree)

	require.Error(t, wireformat.Unmarshal(append(encoded, 0x00), &decoded))
}
