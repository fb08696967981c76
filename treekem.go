package mls

import (
	"crypto/rand"

	"github.com/pkg/errors"

	"github.com/nipee/mls/ciphersuite"
	"github.com/nipee/mls/treemath"
	"github.com/nipee/mls/wireformat"
)

// EncryptedPathSecret pairs a path-secret ciphertext with the node
// index of the copath-resolution public key it was sealed to, so a
// receiver can find the one entry it holds a matching private key for
// without needing a shared, unmarshalable map on the wire.
type EncryptedPathSecret struct {
	NodeIndex  uint32
	Ciphertext ciphersuite.HPKECiphertext
}

// UpdatePathNode is one step of an UpdatePath: the new public key
// installed at that tree position, and the path secret re-encrypted
// to every key in that position's copath resolution (spec.md §4.7).
type UpdatePathNode struct {
	PublicKey            ciphersuite.HPKEPublicKey
	EncryptedPathSecrets []EncryptedPathSecret `tls:"head=4"`
}

// UpdatePath is a committer's full path update: its freshly signed
// leaf node (source Commit) plus one UpdatePathNode per node on its
// direct path (leaf's parent up to and including the root).
type UpdatePath struct {
	LeafNode LeafNode
	Nodes    []UpdatePathNode `tls:"head=4"`
}

func nodeSecret(suite ciphersuite.Suite, pathSecret []byte) ([]byte, error) {
	return suite.ExpandWithLabel(pathSecret, "node", nil, suite.Nh())
}

func pathStep(suite ciphersuite.Suite, pathSecret []byte) ([]byte, error) {
	return suite.ExpandWithLabel(pathSecret, "path", nil, suite.Nh())
}

// TreeKEMPrivateKey is a member's view of the path-secret chain: the
// subset of tree positions (always including its own leaf and every
// ancestor up to and including the root) for which it currently holds
// the path secret and the derived HPKE key pair (spec.md §3's
// PathSecret lifecycle).
type TreeKEMPrivateKey struct {
	Suite       ciphersuite.Suite
	Index       LeafIndex
	PathSecrets map[NodeIndex][]byte
	PrivateKeys map[NodeIndex]ciphersuite.HPKEPrivateKey
}

func newTreeKEMPrivateKey(suite ciphersuite.Suite, index LeafIndex) *TreeKEMPrivateKey {
	return &TreeKEMPrivateKey{
		Suite:       suite,
		Index:       index,
		PathSecrets: map[NodeIndex][]byte{},
		PrivateKeys: map[NodeIndex]ciphersuite.HPKEPrivateKey{},
	}
}

// setPathSecrets walks from start up to and including the root,
// deriving each node's key pair from the "node"-labeled secret and
// chaining to the next path secret with the "path" label (spec.md §3,
// §4.7 step 2).
func (priv *TreeKEMPrivateKey) setPathSecrets(start NodeIndex, size LeafCount, secret []byte) error {
	r := treemath.Root(size)
	path := append([]NodeIndex{start}, treemath.DirectPath(start, size)...)

	pathSecret := secret
	for _, n := range path {
		priv.PathSecrets[n] = dup(pathSecret)

		ns, err := nodeSecret(priv.Suite, pathSecret)
		if err != nil {
			return err
		}
		kp, err := priv.Suite.DeriveHPKEKeyPair(ns)
		if err != nil {
			return err
		}
		priv.PrivateKeys[n] = kp

		if n == r {
			break
		}
		pathSecret, err = pathStep(priv.Suite, pathSecret)
		if err != nil {
			return err
		}
	}
	return nil
}

// NewTreeKEMPrivateKey derives a fresh leaf-to-root chain from
// leafSecret, as a founder does for its own first leaf.
func NewTreeKEMPrivateKey(suite ciphersuite.Suite, size LeafCount, index LeafIndex, leafSecret []byte) (*TreeKEMPrivateKey, error) {
	priv := newTreeKEMPrivateKey(suite, index)
	if err := priv.setPathSecrets(treemath.ToNodeIndex(index), size, leafSecret); err != nil {
		return nil, err
	}
	return priv, nil
}

// PathSecretTo returns the node index and path secret this key holds
// that is the lowest common ancestor with the given leaf.
func (priv TreeKEMPrivateKey) PathSecretTo(size LeafCount, to LeafIndex) (NodeIndex, []byte, bool) {
	n := treemath.ToNodeIndex(to)
	ancestors := append([]NodeIndex{n}, treemath.DirectPath(n, size)...)
	for _, a := range ancestors {
		if s, ok := priv.PathSecrets[a]; ok {
			return a, s, true
		}
	}
	return 0, nil, false
}

// EncapCommit is the sender side of spec.md §4.7's update path
// construction. It returns the sender's new TreeKEMPrivateKey, the
// UpdatePath to broadcast, and the commit_secret to feed the key
// schedule.
func EncapCommit(suite ciphersuite.Suite, tree *RatchetTree, from LeafIndex, groupContext []byte, sigPriv ciphersuite.SignaturePrivateKey) (*TreeKEMPrivateKey, UpdatePath, []byte, error) {
	if tree.LeafAt(from) == nil {
		return nil, UpdatePath{}, nil, errors.Wrap(ErrBlankSenderLeaf, "sender leaf is blank")
	}

	pathSecret := make([]byte, suite.Nh())
	if _, err := rand.Read(pathSecret); err != nil {
		return nil, UpdatePath{}, nil, errors.Wrap(ErrDerivationFailure, err.Error())
	}

	// The path and its aligned copath: path[k]'s ciphertexts are sealed
	// to the resolution of copath[k], which is the sibling of the node
	// immediately BELOW path[k] (the leaf itself for k==0, path[k-1]
	// otherwise) — not the sibling of path[k] itself. A recipient in
	// that resolution already sees path[k]'s new public key in the
	// clear and needs the path secret to climb past it, so what gets
	// sealed at step k is the CURRENT path secret (the one path[k]'s
	// own key pair was just derived from), not the next one.
	path := treemath.DirectPath(treemath.ToNodeIndex(from), tree.Size())
	copath := treemath.Copath(treemath.ToNodeIndex(from), tree.Size())
	if len(path) != len(copath) {
		return nil, UpdatePath{}, nil, errors.Wrap(ErrCiphertextCountMismatch, "direct path and copath length mismatch")
	}

	priv := newTreeKEMPrivateKey(suite, from)
	nodes := make([]UpdatePathNode, len(path))
	parentHashes := make([][]byte, len(path))

	var lastHash []byte
	for k, n := range path {
		ns, err := nodeSecret(suite, pathSecret)
		if err != nil {
			return nil, UpdatePath{}, nil, err
		}
		kp, err := suite.DeriveHPKEKeyPair(ns)
		if err != nil {
			return nil, UpdatePath{}, nil, err
		}
		priv.PathSecrets[n] = dup(pathSecret)
		priv.PrivateKeys[n] = kp

		var ciphertexts []EncryptedPathSecret
		for _, rn := range tree.Resolution(copath[k]) {
			pub := tree.publicKeyAt(rn)
			kem, ct, err := suite.Seal(pub, groupContext, nil, pathSecret)
			if err != nil {
				return nil, UpdatePath{}, nil, errors.Wrap(ErrHpkeSealFailure, err.Error())
			}
			ciphertexts = append(ciphertexts, EncryptedPathSecret{
				NodeIndex:  uint32(rn),
				Ciphertext: ciphersuite.HPKECiphertext{KEMOutput: kem, Ciphertext: ct},
			})
		}

		nodes[k] = UpdatePathNode{PublicKey: kp.PublicKey, EncryptedPathSecrets: ciphertexts}

		ph, err := wireformat.Marshal(ParentNode{PublicKey: kp.PublicKey, ParentHash: lastHash})
		if err != nil {
			return nil, UpdatePath{}, nil, err
		}
		parentHashes[k] = suite.Hash(ph)
		lastHash = parentHashes[k]

		nextSecret, err := pathStep(suite, pathSecret)
		if err != nil {
			return nil, UpdatePath{}, nil, err
		}
		pathSecret = nextSecret
	}

	commitSecret := pathSecret

	leafKeyPair, err := suite.GenerateHPKEKeyPair()
	if err != nil {
		return nil, UpdatePath{}, nil, err
	}

	leaf := *tree.LeafAt(from)
	leafParentHash := []byte{}
	if len(parentHashes) > 0 {
		leafParentHash = parentHashes[0]
	}
	leaf.Source = LeafNodeSource{SourceType: LeafNodeSourceTypeCommit, ParentHash: leafParentHash}
	leaf.EncryptionKey = leafKeyPair.PublicKey
	if err := leaf.Sign(suite, sigPriv, groupContext, from); err != nil {
		return nil, UpdatePath{}, nil, err
	}

	priv.PrivateKeys[treemath.ToNodeIndex(from)] = leafKeyPair

	return priv, UpdatePath{LeafNode: leaf, Nodes: nodes}, commitSecret, nil
}

// DecapCommit is the receiver side of spec.md §4.7's update path
// application. priv is the receiver's current TreeKEMPrivateKey; tree
// is the group's tree BEFORE the path is applied. It returns the
// receiver's updated TreeKEMPrivateKey and the commit_secret, which
// must equal the sender's.
func DecapCommit(priv *TreeKEMPrivateKey, tree *RatchetTree, from LeafIndex, groupContext []byte, path UpdatePath) (*TreeKEMPrivateKey, []byte, error) {
	dp := treemath.DirectPath(treemath.ToNodeIndex(from), tree.Size())
	if len(dp) != len(path.Nodes) {
		return nil, nil, errors.Wrapf(ErrCiphertextCountMismatch, "path has %d nodes, direct path has %d", len(path.Nodes), len(dp))
	}

	receiverAncestors := append([]NodeIndex{treemath.ToNodeIndex(priv.Index)}, treemath.DirectPath(treemath.ToNodeIndex(priv.Index), tree.Size())...)
	overlapIdx := -1
	var overlap NodeIndex
	for k, n := range dp {
		for _, a := range receiverAncestors {
			if a == n {
				overlapIdx = k
				overlap = n
				break
			}
		}
		if overlapIdx >= 0 {
			break
		}
	}
	if overlapIdx < 0 {
		return nil, nil, errors.Wrap(ErrNoPathOverlap, "receiver shares no node with sender's direct path")
	}

	var pathSecret []byte
	for _, eps := range path.Nodes[overlapIdx].EncryptedPathSecrets {
		nodePriv, ok := priv.PrivateKeys[NodeIndex(eps.NodeIndex)]
		if !ok {
			continue
		}
		pt, err := priv.Suite.Open(nodePriv, eps.Ciphertext.KEMOutput, groupContext, nil, eps.Ciphertext.Ciphertext)
		if err != nil {
			return nil, nil, errors.Wrap(ErrHpkeOpenFailure, err.Error())
		}
		pathSecret = pt
		break
	}
	if pathSecret == nil {
		return nil, nil, errors.Wrap(ErrHpkeOpenFailure, "no matching private key for any copath ciphertext")
	}

	out := newTreeKEMPrivateKey(priv.Suite, priv.Index)
	if err := out.setPathSecrets(overlap, tree.Size(), pathSecret); err != nil {
		return nil, nil, err
	}

	// Verify every derived public key from overlap onward matches what
	// the sender transmitted.
	for k := overlapIdx; k < len(dp); k++ {
		n := dp[k]
		derived, ok := out.PrivateKeys[n]
		if !ok {
			return nil, nil, errors.Wrapf(ErrTreeKEMDerivationMismatch, "missing derived key at node %d", n)
		}
		if !derived.PublicKey.Equals(path.Nodes[k].PublicKey) {
			return nil, nil, errors.Wrapf(ErrTreeKEMDerivationMismatch, "public key mismatch at node %d", n)
		}
	}

	// Carry over everything the receiver already knew that wasn't
	// overwritten by the fresher chain.
	for n, s := range priv.PathSecrets {
		if _, ok := out.PathSecrets[n]; ok {
			continue
		}
		out.PathSecrets[n] = s
		out.PrivateKeys[n] = priv.PrivateKeys[n]
	}
	for n, k := range priv.PrivateKeys {
		if _, ok := out.PrivateKeys[n]; !ok {
			out.PrivateKeys[n] = k
		}
	}

	// commit_secret is one more path step past the root's own stored
	// secret (spec.md §4.7 step 5) — setPathSecrets already chained
	// pathSecret all the way up to and including the root.
	rootSecret, ok := out.PathSecrets[treemath.Root(tree.Size())]
	if !ok {
		return nil, nil, errors.Wrap(ErrDerivationFailure, "root path secret missing after chaining")
	}
	commitSecret, err := pathStep(priv.Suite, rootSecret)
	if err != nil {
		return nil, nil, err
	}

	return out, commitSecret, nil
}

// ApplyUpdatePath installs path into a diff opened over tree: blanks
// the sender's direct path first (so stale unmerged-leaf lists reset),
// then writes the sender's new leaf and the new parent nodes (spec.md
// §4.7 step 4).
func ApplyUpdatePath(diff *TreeDiff, tree *RatchetTree, from LeafIndex, path UpdatePath) error {
	if err := diff.BlankPath(from); err != nil {
		return err
	}
	if err := diff.ReplaceLeaf(from, &path.LeafNode); err != nil {
		return err
	}

	dp := treemath.DirectPath(treemath.ToNodeIndex(from), tree.Size())
	if len(dp) != len(path.Nodes) {
		return errors.Wrapf(ErrCiphertextCountMismatch, "path has %d nodes, direct path has %d", len(path.Nodes), len(dp))
	}

	for k, n := range dp {
		pn := ParentNode{PublicKey: path.Nodes[k].PublicKey}
		if err := diff.ReplaceParent(n, &pn); err != nil {
			return err
		}
	}
	return nil
}
