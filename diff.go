package mls

import (
	"github.com/pkg/errors"

	"github.com/nipee/mls/treemath"
)

// TreeDiff is a short-lived staging object over a RatchetTree (spec.md
// §4.4, §5: "the tree is immutable for the lifetime of any outstanding
// diff"). Reads through the diff see pending changes shadowing the
// base tree; nothing is installed until Merge succeeds.
type TreeDiff struct {
	base    *RatchetTree
	baseGen uint64

	leafEdits   map[LeafIndex]*LeafNode
	parentEdits map[ParentIndex]*ParentNode

	pendingGrow   bool
	pendingShrink bool
}

// Diff opens a new staging object over t.
func (t *RatchetTree) Diff() *TreeDiff {
	return &TreeDiff{
		base:        t,
		baseGen:     t.generation,
		leafEdits:   map[LeafIndex]*LeafNode{},
		parentEdits: map[ParentIndex]*ParentNode{},
	}
}

func (d *TreeDiff) effectiveSize() LeafCount {
	n := d.base.Size()
	switch {
	case d.pendingGrow:
		return n * 2
	case d.pendingShrink:
		return n / 2
	default:
		return n
	}
}

// LeafAt reads leaf i, preferring a pending edit over the base tree.
func (d *TreeDiff) LeafAt(i LeafIndex) *LeafNode {
	if l, ok := d.leafEdits[i]; ok {
		return l
	}
	if uint32(i) >= uint32(d.base.Size()) {
		return nil
	}
	return d.base.LeafAt(i)
}

// ParentAt reads the parent at node index x, preferring a pending edit.
func (d *TreeDiff) ParentAt(x NodeIndex) *ParentNode {
	pi := nodeToParentIndex(x)
	if p, ok := d.parentEdits[pi]; ok {
		return p
	}
	if uint32(x) >= d.base.nodeWidth() {
		return nil
	}
	return d.base.ParentAt(x)
}

// ReplaceLeaf stages a new leaf value at i (nil blanks it).
func (d *TreeDiff) ReplaceLeaf(i LeafIndex, leaf *LeafNode) error {
	if uint32(i) >= uint32(d.effectiveSize()) {
		return errors.Wrapf(ErrIndexOutOfRange, "leaf %d out of range", i)
	}
	d.leafEdits[i] = leaf
	return nil
}

// ReplaceParent stages a new parent value at node index x (nil blanks
// it). x must name a parent slot.
func (d *TreeDiff) ReplaceParent(x NodeIndex, p *ParentNode) error {
	if treemath.IsLeaf(x) {
		return errors.Wrap(ErrNotAParent, "ReplaceParent called on a leaf index")
	}
	d.parentEdits[nodeToParentIndex(x)] = p
	return nil
}

// Grow stages doubling the leaf capacity.
func (d *TreeDiff) Grow() error {
	if d.pendingShrink {
		return errors.Wrap(ErrStaleDiff, "cannot grow and shrink in the same diff")
	}
	d.pendingGrow = true
	return nil
}

// Shrink stages halving the leaf capacity, subject to the same
// all-blank-upper-half requirement Merge will enforce.
func (d *TreeDiff) Shrink() error {
	if d.pendingGrow {
		return errors.Wrap(ErrStaleDiff, "cannot grow and shrink in the same diff")
	}
	d.pendingShrink = true
	return nil
}

// BlankPath stages blanking every parent on direct_path(leaf).
func (d *TreeDiff) BlankPath(leaf LeafIndex) error {
	ni := treemath.ToNodeIndex(leaf)
	for _, n := range treemath.DirectPath(ni, d.effectiveSize()) {
		if err := d.ReplaceParent(n, nil); err != nil {
			return err
		}
	}
	return nil
}

// SetDirectPath stages a full path of parent replacements, as produced
// by a TreeKEM commit (spec.md §4.4's set_direct_path).
func (d *TreeDiff) SetDirectPath(leaf LeafIndex, pathNodes []NodeIndex, values []ParentNode) error {
	if len(pathNodes) != len(values) {
		return errors.Wrapf(ErrCiphertextCountMismatch, "path/value length mismatch: %d != %d", len(pathNodes), len(values))
	}
	for i, n := range pathNodes {
		v := values[i]
		if err := d.ReplaceParent(n, &v); err != nil {
			return err
		}
	}
	return nil
}

// AddLeaf installs leaf at the leftmost blank leaf slot, growing the
// tree first if none is free, and records the new member in the
// unmerged-leaves list of every non-blank ancestor (spec.md §3's
// ParentNode.unmerged_leaves).
func (d *TreeDiff) AddLeaf(leaf LeafNode) (LeafIndex, error) {
	n := d.effectiveSize()
	index := LeafIndex(0)
	found := false
	for i := LeafIndex(0); uint32(i) < uint32(n); i++ {
		if d.LeafAt(i) == nil {
			index = i
			found = true
			break
		}
	}

	if !found {
		if err := d.Grow(); err != nil {
			return 0, err
		}
		index = LeafIndex(n)
	}

	if err := d.ReplaceLeaf(index, &leaf); err != nil {
		return 0, err
	}

	ni := treemath.ToNodeIndex(index)
	for _, p := range treemath.DirectPath(ni, d.effectiveSize()) {
		parent := d.ParentAt(p)
		if parent == nil {
			continue
		}
		cp := parent.clone()
		cp.AddUnmerged(index)
		if err := d.ReplaceParent(p, &cp); err != nil {
			return 0, err
		}
	}

	return index, nil
}

// StagedDiff is the frozen, immutable result of TreeDiff.Stage. It
// carries the generation the base tree was at when the diff was
// opened; Merge fails with ErrStaleDiff if the tree has moved on.
type StagedDiff struct {
	baseGen       uint64
	leafEdits     map[LeafIndex]*LeafNode
	parentEdits   map[ParentIndex]*ParentNode
	pendingGrow   bool
	pendingShrink bool
}

// Stage freezes the diff into an immutable bundle.
func (d *TreeDiff) Stage() *StagedDiff {
	leafEdits := make(map[LeafIndex]*LeafNode, len(d.leafEdits))
	for k, v := range d.leafEdits {
		leafEdits[k] = v
	}
	parentEdits := make(map[ParentIndex]*ParentNode, len(d.parentEdits))
	for k, v := range d.parentEdits {
		parentEdits[k] = v
	}
	return &StagedDiff{
		baseGen:       d.baseGen,
		leafEdits:     leafEdits,
		parentEdits:   parentEdits,
		pendingGrow:   d.pendingGrow,
		pendingShrink: d.pendingShrink,
	}
}

// Merge atomically installs a staged diff into t. Fails with
// ErrStaleDiff if t was mutated (by another diff's merge) since this
// diff was opened — on failure t is left byte-identical to before the
// call (spec.md §8 invariant 8).
func (t *RatchetTree) Merge(staged *StagedDiff) error {
	if staged.baseGen != t.generation {
		return errors.Wrap(ErrStaleDiff, "tree has moved on since this diff was opened")
	}

	newSize := uint32(t.Size())
	if staged.pendingGrow {
		newSize = max(2*newSize, 1)
	} else if staged.pendingShrink {
		newSize /= 2
	}
	for i := range staged.leafEdits {
		if uint32(i) >= newSize {
			return errors.Wrapf(ErrIndexOutOfRange, "leaf %d out of range after resize", i)
		}
	}
	for pi := range staged.parentEdits {
		if uint32(pi)+1 >= newSize {
			return errors.Wrapf(ErrIndexOutOfRange, "parent %d out of range after resize", pi)
		}
	}

	switch {
	case staged.pendingGrow:
		t.Grow()
	case staged.pendingShrink:
		if err := t.Shrink(); err != nil {
			return err
		}
	}

	for i, l := range staged.leafEdits {
		if uint32(i) >= uint32(t.Size()) {
			return errors.Wrapf(ErrIndexOutOfRange, "leaf %d out of range after resize", i)
		}
		t.leaves[i] = l
	}
	for pi, p := range staged.parentEdits {
		if uint32(pi) >= uint32(len(t.parents)) {
			return errors.Wrapf(ErrIndexOutOfRange, "parent %d out of range after resize", pi)
		}
		t.parents[pi] = p
	}

	t.generation++
	return nil
}
