package mls_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	mls "github.com/nipee/mls"
)

func TestTreeHashEmptyTreeHashesEmptyString(t *testing.T) {
	suite := newTestSuite()
	tree := mls.NewRatchetTree(suite.ID())
	require.Equal(t, suite.Hash(nil), mls.TreeHash(suite, tree))
}

func TestTreeHashIsDeterministic(t *testing.T) {
	suite := newTestSuite()
	tree, _ := buildFourLeafTree(t)

	first := mls.TreeHash(suite, tree)
	second := mls.TreeHash(suite, tree)
	require.Equal(t, first, second)
	require.NotEmpty(t, first)
}

func TestTreeHashChangesWhenLeafReplaced(t *testing.T) {
	suite := newTestSuite()
	tree, _ := buildFourLeafTree(t)

	before := mls.TreeHash(suite, tree)

	diff := tree.Diff()
	replacement := newTestLeaf(suite, "replacement")
	require.NoError(t, diff.ReplaceLeaf(1, &replacement))
	require.NoError(t, tree.Merge(diff.Stage()))

	after := mls.TreeHash(suite, tree)
	require.NotEqual(t, before, after)
}

func TestTreeHashChangesWhenLeafBlanked(t *testing.T) {
	suite := newTestSuite()
	tree, _ := buildFourLeafTree(t)

	before := mls.TreeHash(suite, tree)

	diff := tree.Diff()
	require.NoError(t, diff.ReplaceLeaf(2, nil))
	require.NoError(t, tree.Merge(diff.Stage()))

	after := mls.TreeHash(suite, tree)
	require.NotEqual(t, before, after)
}
