package mls_test

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	mls "github.com/nipee/mls"
	"github.com/nipee/mls/treemath"
)

func TestMergeRejectsStaleDiff(t *testing.T) {
	tree, _ := buildFourLeafTree(t)

	diffA := tree.Diff()
	diffB := tree.Diff()

	require.NoError(t, diffA.ReplaceLeaf(0, nil))
	require.NoError(t, tree.Merge(diffA.Stage()))

	require.NoError(t, diffB.ReplaceLeaf(1, nil))
	err := tree.Merge(diffB.Stage())
	require.Error(t, err)
	require.True(t, errors.Is(err, mls.ErrStaleDiff))

	// diffA's merge went through; diffB's did not.
	require.Nil(t, tree.LeafAt(0))
	require.NotNil(t, tree.LeafAt(1))
}

func TestMergeLeavesTreeUnchangedOnFailure(t *testing.T) {
	// spec.md invariant 8: a failed Merge leaves the tree
	// byte-identical to before the call.
	tree, leaves := buildFourLeafTree(t)
	before := tree.Clone()

	diff := tree.Diff()
	require.NoError(t, diff.ReplaceLeaf(2, nil))
	staged := diff.Stage()

	// Invalidate the diff by merging an unrelated one first, so the
	// generation check fails and Merge returns before touching t.
	other := tree.Diff()
	require.NoError(t, other.ReplaceLeaf(0, nil))
	require.NoError(t, tree.Merge(other.Stage()))

	err := tree.Merge(staged)
	require.Error(t, err)

	// tree now reflects only "other"'s edit (leaf 0 blanked); leaf 2
	// from the stale staged diff was never applied.
	require.Nil(t, tree.LeafAt(0))
	require.True(t, tree.LeafAt(2).Equals(leaves[2]))
	require.NotNil(t, before.LeafAt(0))
	require.True(t, before.LeafAt(2).Equals(leaves[2]))
}

func TestAddLeafRecordsUnmergedLeaves(t *testing.T) {
	tree, _ := buildFourLeafTree(t)
	suite := newTestSuite()

	// Give leaf 3's direct path real (non-blank) parent nodes, then
	// blank the leaf itself without blanking its path, so refilling
	// the slot has a non-blank ancestor to record against.
	path := treemath.DirectPath(treemath.ToNodeIndex(mls.LeafIndex(3)), tree.Size())
	diff := tree.Diff()
	for _, n := range path {
		priv, err := suite.GenerateHPKEKeyPair()
		require.NoError(t, err)
		require.NoError(t, diff.ReplaceParent(n, &mls.ParentNode{PublicKey: priv.PublicKey}))
	}
	require.NoError(t, diff.ReplaceLeaf(3, nil))
	require.NoError(t, tree.Merge(diff.Stage()))

	replacement := newTestLeaf(suite, "rejoiner")
	diff = tree.Diff()
	idx, err := diff.AddLeaf(replacement)
	require.NoError(t, err)
	require.EqualValues(t, 3, idx)
	require.NoError(t, tree.Merge(diff.Stage()))

	for _, n := range path {
		p := tree.ParentAt(n)
		require.NotNil(t, p)
		require.Contains(t, p.UnmergedLeaves, mls.LeafIndex(3))
	}
}

func TestAddLeafGrowsWhenNoBlankSlot(t *testing.T) {
	tree, _ := buildFourLeafTree(t)
	require.EqualValues(t, 4, tree.Size())

	suite := newTestSuite()
	newMember := newTestLeaf(suite, "fifth")

	diff := tree.Diff()
	idx, err := diff.AddLeaf(newMember)
	require.NoError(t, err)
	require.EqualValues(t, 4, idx)
	require.NoError(t, tree.Merge(diff.Stage()))

	require.EqualValues(t, 8, tree.Size())
	require.True(t, tree.LeafAt(4).Equals(newMember))
	require.Nil(t, tree.LeafAt(5))
}

func TestReplaceParentRejectsLeafIndex(t *testing.T) {
	tree, _ := buildFourLeafTree(t)
	diff := tree.Diff()

	err := diff.ReplaceParent(mls.NodeIndex(0), nil)
	require.Error(t, err)
	require.True(t, errors.Is(err, mls.ErrNotAParent))
}

func TestGrowAndShrinkInSameDiffRejected(t *testing.T) {
	tree, _ := buildFourLeafTree(t)
	diff := tree.Diff()

	require.NoError(t, diff.Grow())
	require.Error(t, diff.Shrink())

	diff2 := tree.Diff()
	require.NoError(t, diff2.Shrink())
	require.Error(t, diff2.Grow())
}

func TestReplaceLeafOutOfRangeRejected(t *testing.T) {
	tree, _ := buildFourLeafTree(t)
	diff := tree.Diff()

	err := diff.ReplaceLeaf(mls.LeafIndex(4), nil)
	require.Error(t, err)
	require.True(t, errors.Is(err, mls.ErrIndexOutOfRange))
}
