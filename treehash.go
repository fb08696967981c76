package mls

import (
	"github.com/nipee/mls/ciphersuite"
	"github.com/nipee/mls/treemath"
	"github.com/nipee/mls/wireformat"
)

// TreeHash is the group context's binding to the tree's full contents:
// a leaf hashes its own encoding (or the empty string if blank), a
// parent hashes its own encoding concatenated with both children's
// hashes (spec.md §3's Group context "tree_hash").
func TreeHash(suite ciphersuite.Suite, tree *RatchetTree) []byte {
	if tree.Size() == 0 {
		return suite.Hash(nil)
	}
	return treeHashAt(suite, tree, treemath.Root(tree.Size()))
}

func treeHashAt(suite ciphersuite.Suite, tree *RatchetTree, x NodeIndex) []byte {
	if treemath.IsLeaf(x) {
		var payload []byte
		if leaf := tree.LeafAt(treemath.ToLeafIndex(x)); leaf != nil {
			payload, _ = wireformat.Marshal(*leaf)
		}
		return suite.Hash(payload)
	}

	l, _ := treemath.Left(x)
	r, _ := treemath.Right(x, tree.Size())
	lh := treeHashAt(suite, tree, l)
	rh := treeHashAt(suite, tree, r)

	var payload []byte
	if parent := tree.ParentAt(x); parent != nil {
		enc, _ := wireformat.Marshal(*parent)
		payload = append(payload, enc...)
	}
	payload = append(payload, lh...)
	payload = append(payload, rh...)
	return suite.Hash(payload)
}
