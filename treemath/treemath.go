// Package treemath provides the index calculus for the left-balanced
// binary trees used throughout MLS (RFC 9420 §7). Nodes are addressed by
// a single flat index over an array of 2*n-1 positions: even indices are
// leaves, odd indices are parents. All functions here are pure and
// allocation-free except where they must return a slice.
//
//                                              X
//                      X
//          X                       X                       X
//    X           X           X           X           X
// X     X     X     X     X     X     X     X     X     X     X
// 0  1  2  3  4  5  6  7  8  9  a  b  c  d  e  f 10 11 12 13 14
package treemath

import "errors"

var (
	// ErrNotAParent is returned by Left/Right when called on a leaf index.
	ErrNotAParent = errors.New("treemath: index is a leaf, has no children")
	// ErrIsRoot is returned by Parent when called on the root of the tree.
	ErrIsRoot = errors.New("treemath: index is the root, has no parent")
)

// LeafIndex addresses a member slot; leaf i sits at node index 2*i.
type LeafIndex uint32

// LeafCount is a count of leaves (members) in a tree.
type LeafCount uint32

// ParentIndex addresses a parent slot; distinct type to avoid confusing
// it with a raw NodeIndex at call sites that only make sense for interior
// nodes (e.g. resolving unmerged-leaf bookkeeping).
type ParentIndex uint32

// NodeIndex addresses any node, leaf or parent, in the flat array.
type NodeIndex uint32

// ToNodeIndex converts a leaf index to its node-array position.
func ToNodeIndex(l LeafIndex) NodeIndex { return NodeIndex(2 * l) }

// IsLeaf reports whether a node index names a leaf (even) slot.
func IsLeaf(x NodeIndex) bool { return x&1 == 0 }

// ToLeafIndex converts a leaf node index back to a LeafIndex. It panics if
// x does not name a leaf; callers must check IsLeaf first.
func ToLeafIndex(x NodeIndex) LeafIndex {
	if !IsLeaf(x) {
		panic("treemath: ToLeafIndex called on a parent index")
	}
	return LeafIndex(x >> 1)
}

// log2 returns the position of the most significant 1 bit of x, i.e.
// floor(log2(x)). log2(0) is defined as 0.
func log2(x uint32) uint {
	if x == 0 {
		return 0
	}
	k := uint(0)
	for (x >> k) > 0 {
		k++
	}
	return k - 1
}

// Level returns the number of trailing one-bits of x. Leaves (even
// indices) are level 0.
func Level(x NodeIndex) uint {
	if x&1 == 0 {
		return 0
	}
	k := uint(0)
	for (uint32(x)>>k)&1 == 1 {
		k++
	}
	return k
}

// NodeWidth returns 2*n-1, the number of array slots needed to hold a
// tree with n leaves. Undefined (returns 0) for n == 0.
func NodeWidth(n LeafCount) uint32 {
	if n == 0 {
		return 0
	}
	return 2*uint32(n) - 1
}

// LeafWidth returns the number of leaves held by a node array of width w.
func LeafWidth(w uint32) LeafCount {
	return LeafCount((w + 1) >> 1)
}

// Root returns the index of the root of a tree with n leaves.
func Root(n LeafCount) NodeIndex {
	w := NodeWidth(n)
	if w == 0 {
		return 0
	}
	return NodeIndex((uint32(1) << log2(w)) - 1)
}

// Left returns the left child of x. Fails with ErrNotAParent if x is a leaf.
func Left(x NodeIndex) (NodeIndex, error) {
	if Level(x) == 0 {
		return 0, ErrNotAParent
	}
	return x ^ (1 << (Level(x) - 1)), nil
}

// Right returns the right child of x within a tree of n leaves. Fails
// with ErrNotAParent if x is a leaf.
func Right(x NodeIndex, n LeafCount) (NodeIndex, error) {
	if Level(x) == 0 {
		return 0, ErrNotAParent
	}
	w := NodeIndex(NodeWidth(n))
	r := x ^ (3 << (Level(x) - 1))
	for r >= w {
		r, _ = Left(r)
	}
	return r, nil
}

func parentStep(x NodeIndex) NodeIndex {
	k := Level(x)
	one := NodeIndex(1)
	return (x | (one << k)) &^ (one << (k + 1))
}

// Parent returns the immediate parent of x within a tree of n leaves.
// Fails with ErrIsRoot if x is the root.
func Parent(x NodeIndex, n LeafCount) (NodeIndex, error) {
	if x == Root(n) {
		return 0, ErrIsRoot
	}
	w := NodeIndex(NodeWidth(n))
	p := parentStep(x)
	for p >= w {
		p = parentStep(p)
	}
	return p, nil
}

// Sibling returns the other child of x's parent. Fails with ErrIsRoot if
// x is the root (the root has no sibling).
func Sibling(x NodeIndex, n LeafCount) (NodeIndex, error) {
	p, err := Parent(x, n)
	if err != nil {
		return 0, err
	}
	if x < p {
		return Right(p, n)
	}
	return Left(p)
}

// DirectPath returns the ascending sequence of ancestors of x starting at
// x's immediate parent and ending at, and including, the root. Empty if x
// is the root. Note this includes the root itself: a commit always
// refreshes the root's key pair, so the root must be on the path that
// gets updated.
func DirectPath(x NodeIndex, n LeafCount) []NodeIndex {
	r := Root(n)
	if x == r {
		return nil
	}
	var path []NodeIndex
	curr := x
	for curr != r {
		p, err := Parent(curr, n)
		if err != nil {
			break
		}
		path = append(path, p)
		curr = p
	}
	return path
}

// Copath returns the sibling of every node in {x} union DirectPath(x,n),
// excluding the root (which has no sibling), in ascending leaf-to-root
// order. Its length always equals len(DirectPath(x,n)).
func Copath(x NodeIndex, n LeafCount) []NodeIndex {
	r := Root(n)
	if x == r {
		return nil
	}
	dp := DirectPath(x, n)
	ancestors := append([]NodeIndex{x}, dp[:len(dp)-1]...)

	cp := make([]NodeIndex, 0, len(ancestors))
	for _, v := range ancestors {
		s, err := Sibling(v, n)
		if err != nil {
			continue
		}
		cp = append(cp, s)
	}
	return cp
}

// SubtreeSize returns the number of leaves in the subtree rooted at x,
// within a tree whose node array has width w (NodeWidth(n)).
func SubtreeSize(x NodeIndex, n LeafCount) LeafCount {
	w := NodeWidth(n)
	lr := (uint32(1) << Level(x)) - 1
	rr := lr
	if uint32(x)+rr >= w {
		rr = w - uint32(x) - 1
	}
	return LeafCount((lr+rr)/2 + 1)
}
