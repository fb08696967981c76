package mls

import (
	"github.com/pkg/errors"

	"github.com/nipee/mls/ciphersuite"
	"github.com/nipee/mls/treemath"
)

// Index aliases: the tree storage and every component built on it
// speaks treemath's index types directly (spec.md §3: "Two strongly
// typed index variants... prevent cross-category confusion").
type (
	LeafIndex   = treemath.LeafIndex
	LeafCount   = treemath.LeafCount
	ParentIndex = treemath.ParentIndex
	NodeIndex   = treemath.NodeIndex
)

// ParentNode is spec.md §3's interior-node structure: an HPKE public
// key, the parent-hash chain, and the unmerged-leaves list (members
// added below this node since its key was last refreshed).
type ParentNode struct {
	PublicKey      ciphersuite.HPKEPublicKey
	ParentHash     []byte        `tls:"head=1"`
	UnmergedLeaves []LeafIndex   `tls:"head=4"`
}

// AddUnmerged records that leaf l joined below this parent since its
// last refresh.
func (p *ParentNode) AddUnmerged(l LeafIndex) {
	p.UnmergedLeaves = append(p.UnmergedLeaves, l)
}

func (p ParentNode) clone() ParentNode {
	out := ParentNode{
		PublicKey:  p.PublicKey,
		ParentHash: dup(p.ParentHash),
	}
	out.UnmergedLeaves = append(out.UnmergedLeaves, p.UnmergedLeaves...)
	return out
}

// nodeToParentIndex converts an odd NodeIndex to its ParentIndex slot.
func nodeToParentIndex(x NodeIndex) ParentIndex {
	if treemath.IsLeaf(x) {
		panic("mls: nodeToParentIndex called on a leaf index")
	}
	return ParentIndex((x - 1) / 2)
}

func parentToNodeIndex(p ParentIndex) NodeIndex {
	return NodeIndex(2*uint32(p) + 1)
}

// RatchetTree is the array-indexed storage of C4: even slots (leaves)
// and odd slots (parents) are kept as two parallel optional arrays,
// sized by the same LeafCount, rather than a single tree_size-wide
// array of a union type — the even/odd split falls directly out of
// treemath's own index typing and avoids a runtime type switch on
// every access.
type RatchetTree struct {
	Suite   ciphersuite.ID
	leaves  []*LeafNode
	parents []*ParentNode

	// generation increments on every successful Merge; a StagedDiff
	// records the generation it was opened against, so a merge of a
	// diff opened before a prior merge fails with ErrStaleDiff instead
	// of silently clobbering newer state.
	generation uint64
}

// NewRatchetTree returns an empty, zero-leaf tree for suite.
func NewRatchetTree(suite ciphersuite.ID) *RatchetTree {
	return &RatchetTree{Suite: suite}
}

// Size returns the tree's current leaf capacity.
func (t *RatchetTree) Size() LeafCount { return LeafCount(len(t.leaves)) }

func (t *RatchetTree) nodeWidth() uint32 { return treemath.NodeWidth(t.Size()) }

// LeafAt returns the leaf at index i, or nil if blank.
func (t *RatchetTree) LeafAt(i LeafIndex) *LeafNode {
	if uint32(i) >= uint32(len(t.leaves)) {
		return nil
	}
	return t.leaves[i]
}

// ParentAt returns the parent node at node index x, or nil if blank.
// Panics if x does not name a parent slot.
func (t *RatchetTree) ParentAt(x NodeIndex) *ParentNode {
	p := nodeToParentIndex(x)
	if uint32(p) >= uint32(len(t.parents)) {
		return nil
	}
	return t.parents[p]
}

// Grow doubles the leaf capacity, preserving existing contents and
// extending with blanks (spec.md §4.4). The only way to exceed current
// capacity.
func (t *RatchetTree) Grow() {
	newSize := t.Size() * 2
	if newSize == 0 {
		newSize = 1
	}
	newLeaves := make([]*LeafNode, newSize)
	copy(newLeaves, t.leaves)
	newParents := make([]*ParentNode, 0)
	if newSize > 0 {
		newParents = make([]*ParentNode, newSize-1)
	}
	copy(newParents, t.parents)
	t.leaves = newLeaves
	t.parents = newParents
}

// Shrink halves the leaf capacity iff every leaf in the upper half is
// blank; otherwise fails with ErrNotShrinkable (spec.md §4.4).
func (t *RatchetTree) Shrink() error {
	n := t.Size()
	if n <= 1 {
		return errors.Wrap(ErrNotShrinkable, "tree already at minimum size")
	}
	half := n / 2
	for i := half; i < n; i++ {
		if t.leaves[i] != nil {
			return errors.Wrapf(ErrNotShrinkable, "leaf %d in upper half is not blank", i)
		}
	}
	t.leaves = t.leaves[:half]
	if len(t.parents) > 0 {
		t.parents = t.parents[:treemath.NodeWidth(half)/2]
	}
	return nil
}

// BlankPath blanks every parent on direct_path(leaf) (spec.md §4.4).
func (t *RatchetTree) BlankPath(leaf LeafIndex) {
	ni := treemath.ToNodeIndex(leaf)
	for _, n := range treemath.DirectPath(ni, t.Size()) {
		t.parents[nodeToParentIndex(n)] = nil
	}
}

// Resolution is the minimal set of non-blank descendant public keys
// covering x's subtree, plus any unmerged-leaf keys attached along the
// way (spec.md §4.7, GLOSSARY "Resolution of a node").
func (t *RatchetTree) Resolution(x NodeIndex) []NodeIndex {
	if treemath.IsLeaf(x) {
		if t.LeafAt(treemath.ToLeafIndex(x)) != nil {
			return []NodeIndex{x}
		}
		return nil
	}

	if p := t.ParentAt(x); p != nil {
		res := []NodeIndex{x}
		for _, l := range p.UnmergedLeaves {
			res = append(res, treemath.ToNodeIndex(l))
		}
		return res
	}

	l, errL := treemath.Left(x)
	r, errR := treemath.Right(x, t.Size())
	if errL != nil || errR != nil {
		return nil
	}
	out := t.Resolution(l)
	out = append(out, t.Resolution(r)...)
	return out
}

// ResolutionKeys returns the HPKE public keys at each node in
// Resolution(x), in the same order.
func (t *RatchetTree) ResolutionKeys(x NodeIndex) []ciphersuite.HPKEPublicKey {
	res := t.Resolution(x)
	out := make([]ciphersuite.HPKEPublicKey, 0, len(res))
	for _, n := range res {
		out = append(out, t.publicKeyAt(n))
	}
	return out
}

func (t *RatchetTree) publicKeyAt(x NodeIndex) ciphersuite.HPKEPublicKey {
	if treemath.IsLeaf(x) {
		return t.LeafAt(treemath.ToLeafIndex(x)).EncryptionKey
	}
	return t.ParentAt(x).PublicKey
}

// FilteredDirectPath is direct_path(leaf) with every node whose
// matching copath resolution is empty removed — those steps would
// encrypt to zero recipients, so a committer need not generate a
// fresh key pair for them (spec.md §4.7). The root is always kept
// regardless of its copath resolution, since a commit always
// refreshes the root key.
func (t *RatchetTree) FilteredDirectPath(leaf LeafIndex) []NodeIndex {
	ni := treemath.ToNodeIndex(leaf)
	dp := treemath.DirectPath(ni, t.Size())
	cp := treemath.Copath(ni, t.Size())
	root := treemath.Root(t.Size())

	out := make([]NodeIndex, 0, len(dp))
	for k, n := range dp {
		if n == root || (k < len(cp) && len(t.Resolution(cp[k])) > 0) {
			out = append(out, n)
		}
	}
	return out
}

// Find locates kp's leaf index in the tree, if present.
func (t *RatchetTree) Find(kp KeyPackage) (LeafIndex, bool) {
	for i := LeafIndex(0); uint32(i) < uint32(t.Size()); i++ {
		leaf := t.LeafAt(i)
		if leaf == nil {
			continue
		}
		if leaf.EncryptionKey.Equals(kp.LeafNode.EncryptionKey) {
			return i, true
		}
	}
	return 0, false
}

// Clone returns a deep copy suitable as the base for an independent
// diff.
func (t *RatchetTree) Clone() *RatchetTree {
	out := &RatchetTree{
		Suite:   t.Suite,
		leaves:  make([]*LeafNode, len(t.leaves)),
		parents: make([]*ParentNode, len(t.parents)),
	}
	for i, l := range t.leaves {
		if l == nil {
			continue
		}
		cp := *l
		out.leaves[i] = &cp
	}
	for i, p := range t.parents {
		if p == nil {
			continue
		}
		cp := p.clone()
		out.parents[i] = &cp
	}
	return out
}
