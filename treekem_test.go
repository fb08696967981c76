package mls_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	mls "github.com/nipee/mls"
	"github.com/nipee/mls/ciphersuite"
	"github.com/nipee/mls/treemath"
)

func TestPathSecretDerivationIsDeterministic(t *testing.T) {
	// spec.md S5: path_secret[1] = ExpandWithLabel(path_secret[0],
	// "path", "", Nh) from an all-zero path_secret[0].
	suite := newTestSuite()
	pathSecret0 := make([]byte, suite.Nh())

	priv, err := mls.NewTreeKEMPrivateKey(suite, 2, 0, pathSecret0)
	require.NoError(t, err)

	want, err := suite.ExpandWithLabel(pathSecret0, "path", nil, suite.Nh())
	require.NoError(t, err)

	root := treemath.Root(2)
	require.Equal(t, want, priv.PathSecrets[root])

	priv2, err := mls.NewTreeKEMPrivateKey(suite, 2, 0, pathSecret0)
	require.NoError(t, err)
	require.True(t, priv.PrivateKeys[root].PublicKey.Equals(priv2.PrivateKeys[root].PublicKey))
}

// treeKEMMember bundles a leaf with the TreeKEMPrivateKey whose
// leaf-node key pair matches the leaf's advertised EncryptionKey —
// mirroring how a real member's key package and path secret share one
// derivation.
type treeKEMMember struct {
	leaf mls.LeafNode
	priv *mls.TreeKEMPrivateKey
	sig  ciphersuite.SignaturePrivateKey
}

func newTreeKEMMember(t *testing.T, suite ciphersuite.Suite, identity string, index mls.LeafIndex, size mls.LeafCount) treeKEMMember {
	t.Helper()
	sigPriv, err := suite.GenerateSignatureKeyPair()
	require.NoError(t, err)

	leafSecret := make([]byte, suite.Nh())
	for i := range leafSecret {
		leafSecret[i] = byte(i + 1)
	}

	priv, err := mls.NewTreeKEMPrivateKey(suite, size, index, leafSecret)
	require.NoError(t, err)

	leaf := mls.LeafNode{
		EncryptionKey: priv.PrivateKeys[treemath.ToNodeIndex(index)].PublicKey,
		SignatureKey:  sigPriv.Public(),
		Credential:    mls.NewBasicCredential([]byte(identity), suite.SignatureScheme(), sigPriv.Public()),
		Capabilities:  mls.DefaultCapabilities(suite.ID()),
		Source:        mls.LeafNodeSource{SourceType: mls.LeafNodeSourceTypeKeyPackage, Lifetime: &mls.Lifetime{}},
	}
	require.NoError(t, leaf.Sign(suite, sigPriv, nil, 0))

	return treeKEMMember{leaf: leaf, priv: priv, sig: sigPriv}
}

func TestTreeKEMCommitSoundness(t *testing.T) {
	// spec.md invariant 6: the receiving member's derived commit_secret
	// matches the sender's.
	suite := newTestSuite()
	tree := mls.NewRatchetTree(suite.ID())
	tree.Grow()

	alice := newTreeKEMMember(t, suite, "alice", 0, 1)
	diff := tree.Diff()
	require.NoError(t, diff.ReplaceLeaf(0, &alice.leaf))
	require.NoError(t, tree.Merge(diff.Stage()))

	bob := newTreeKEMMember(t, suite, "bob", 1, 2)
	diff = tree.Diff()
	idx, err := diff.AddLeaf(bob.leaf)
	require.NoError(t, err)
	require.EqualValues(t, 1, idx)
	require.NoError(t, tree.Merge(diff.Stage()))

	groupContext := []byte("group-context")
	aliceNewPriv, path, commitSecretAlice, err := mls.EncapCommit(suite, tree, 0, groupContext, alice.sig)
	require.NoError(t, err)
	require.NotEmpty(t, commitSecretAlice)

	bobNewPriv, commitSecretBob, err := mls.DecapCommit(bob.priv, tree, 0, groupContext, path)
	require.NoError(t, err)
	require.Equal(t, commitSecretAlice, commitSecretBob)

	diff = tree.Diff()
	require.NoError(t, mls.ApplyUpdatePath(diff, tree, 0, path))
	require.NoError(t, tree.Merge(diff.Stage()))

	root := treemath.Root(tree.Size())
	require.True(t, tree.LeafAt(0).EncryptionKey.Equals(aliceNewPriv.PrivateKeys[treemath.ToNodeIndex(0)].PublicKey))
	require.True(t, tree.ParentAt(root).PublicKey.Equals(bobNewPriv.PrivateKeys[root].PublicKey))
}

func TestEncapCommitRejectsBlankSenderLeaf(t *testing.T) {
	suite := newTestSuite()
	tree := mls.NewRatchetTree(suite.ID())
	tree.Grow()
	tree.Grow()

	_, _, _, err := mls.EncapCommit(suite, tree, 0, []byte("ctx"), ciphersuite.SignaturePrivateKey{})
	require.Error(t, err)
}

func TestDecapCommitRejectsNoPathOverlap(t *testing.T) {
	// A single-leaf tree's root has no ancestors, so direct_path is
	// empty and no path step can overlap with anything.
	suite := newTestSuite()
	tree := mls.NewRatchetTree(suite.ID())
	tree.Grow()

	alice := newTreeKEMMember(t, suite, "alice", 0, 1)
	diff := tree.Diff()
	require.NoError(t, diff.ReplaceLeaf(0, &alice.leaf))
	require.NoError(t, tree.Merge(diff.Stage()))

	path := mls.UpdatePath{LeafNode: alice.leaf}
	_, _, err := mls.DecapCommit(alice.priv, tree, 0, []byte("ctx"), path)
	require.Error(t, err)
}
