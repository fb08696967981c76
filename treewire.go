package mls

import (
	"github.com/pkg/errors"

	"github.com/nipee/mls/ciphersuite"
	"github.com/nipee/mls/wireformat"
)

// marshalTree and unmarshalTree give a RatchetTree a wire form for the
// ratchet_tree Welcome extension (spec.md §4.6a) and for persisting a
// Group (SPEC_FULL.md §4.9a's serialize/deserialize). RatchetTree's own
// leaves/parents arrays hold Go nil for a blank slot, which go-tls-syntax
// has no native optional-element-of-a-slice support for, so this is
// written by hand: a u32 leaf count, then one length-prefixed entry per
// leaf slot followed by one per parent slot, empty meaning blank (a real encoded LeafNode or ParentNode is
// never zero bytes).
func marshalTree(tree *RatchetTree) ([]byte, error) {
	w := wireformat.NewWriter()
	w.Uint32(uint32(tree.Size()))

	for i := LeafIndex(0); uint32(i) < uint32(tree.Size()); i++ {
		leaf := tree.LeafAt(i)
		if leaf == nil {
			if err := w.VarBytes(wireformat.Prefix32, nil); err != nil {
				return nil, err
			}
			continue
		}
		enc, err := wireformat.Marshal(*leaf)
		if err != nil {
			return nil, err
		}
		if err := w.VarBytes(wireformat.Prefix32, enc); err != nil {
			return nil, err
		}
	}

	width := tree.nodeWidth()
	for x := uint32(1); x < width; x += 2 {
		parent := tree.ParentAt(NodeIndex(x))
		if parent == nil {
			if err := w.VarBytes(wireformat.Prefix32, nil); err != nil {
				return nil, err
			}
			continue
		}
		enc, err := wireformat.Marshal(*parent)
		if err != nil {
			return nil, err
		}
		if err := w.VarBytes(wireformat.Prefix32, enc); err != nil {
			return nil, err
		}
	}

	return w.Bytes(), nil
}

func unmarshalTree(suiteID ciphersuite.ID, data []byte) (*RatchetTree, error) {
	r := wireformat.NewReader(data)
	n, err := r.Uint32()
	if err != nil {
		return nil, err
	}

	tree := &RatchetTree{Suite: suiteID, leaves: make([]*LeafNode, n)}
	if n > 0 {
		tree.parents = make([]*ParentNode, n-1)
	}

	for i := range tree.leaves {
		b, err := r.VarBytes(wireformat.Prefix32)
		if err != nil {
			return nil, err
		}
		if len(b) == 0 {
			continue
		}
		var l LeafNode
		if err := wireformat.Unmarshal(b, &l); err != nil {
			return nil, err
		}
		tree.leaves[i] = &l
	}

	for i := range tree.parents {
		b, err := r.VarBytes(wireformat.Prefix32)
		if err != nil {
			return nil, err
		}
		if len(b) == 0 {
			continue
		}
		var p ParentNode
		if err := wireformat.Unmarshal(b, &p); err != nil {
			return nil, err
		}
		tree.parents[i] = &p
	}

	if !r.AtEnd() {
		return nil, errors.Wrap(ErrMalformedWire, "trailing bytes after tree decode")
	}
	return tree, nil
}
