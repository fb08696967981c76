package mls

import (
	"crypto/rand"

	"github.com/pkg/errors"

	"github.com/nipee/mls/ciphersuite"
	"github.com/nipee/mls/treemath"
	"github.com/nipee/mls/wireformat"
)

// GroupContext is spec.md §3's group context: the fields every
// signature TBS and HPKE `info` in the core binds itself to, so a
// ciphertext or signature produced in one epoch cannot be replayed
// into another.
type GroupContext struct {
	GroupID                 []byte `tls:"head=1"`
	Epoch                   uint64
	TreeHash                []byte `tls:"head=1"`
	ConfirmedTranscriptHash []byte `tls:"head=1"`
	Extensions              ExtensionList
}

// Group is the façade of C9: a thin handle tying the tree (C4), its
// TreeKEM private-key view (C7), and the current epoch's secrets (C8)
// together, and the sole legitimate mutator of all three (spec.md
// §4.9). It is the type SPEC_FULL.md's façade operations hang off.
type Group struct {
	Suite   ciphersuite.Suite
	GroupID []byte
	Epoch   uint64

	Tree                    *RatchetTree
	ConfirmedTranscriptHash []byte
	InterimTranscriptHash   []byte
	Extensions              ExtensionList

	OwnLeafIndex        LeafIndex
	OwnPrivateKeys      *TreeKEMPrivateKey
	SignaturePrivateKey ciphersuite.SignaturePrivateKey

	Secrets EpochSecrets

	pendingProposals []Proposal

	// pathUpdatedSinceRemove tracks this member's post-compromise-
	// security posture: it goes false the moment this member observes
	// a Remove of some other member via ProcessCommit, and back to
	// true the moment this member's own Commit refreshes its path.
	pathUpdatedSinceRemove bool
}

func (g *Group) context() GroupContext {
	return GroupContext{
		GroupID:                 g.GroupID,
		Epoch:                   g.Epoch,
		TreeHash:                TreeHash(g.Suite, g.Tree),
		ConfirmedTranscriptHash: g.ConfirmedTranscriptHash,
		Extensions:              g.Extensions,
	}
}

func (g *Group) contextBytes() ([]byte, error) {
	return wireformat.Marshal(g.context())
}

// CreateGroup is spec.md §6's create_group: a founder with no prior
// group starts epoch 0 with only its own leaf in the tree.
func CreateGroup(suite ciphersuite.Suite, creator KeyPackageBundle, groupID []byte, extensions ExtensionList) (grp *Group, err error) {
	defer func() {
		if err != nil {
			logError("create_group", groupID, err)
		}
	}()

	tree := NewRatchetTree(suite.ID())
	tree.Grow()

	diff := tree.Diff()
	leaf := creator.KeyPackage.LeafNode
	if err := diff.ReplaceLeaf(0, &leaf); err != nil {
		return nil, err
	}
	if err := tree.Merge(diff.Stage()); err != nil {
		return nil, err
	}

	leafSecret := make([]byte, suite.Nh())
	if _, err := rand.Read(leafSecret); err != nil {
		return nil, errors.Wrap(ErrDerivationFailure, err.Error())
	}
	priv, err := NewTreeKEMPrivateKey(suite, tree.Size(), 0, leafSecret)
	if err != nil {
		return nil, err
	}

	g := &Group{
		Suite:                  suite,
		GroupID:                groupID,
		Epoch:                  0,
		Tree:                   tree,
		Extensions:             extensions,
		OwnLeafIndex:           0,
		OwnPrivateKeys:         priv,
		SignaturePrivateKey:    creator.SigPrivateKey,
		pathUpdatedSinceRemove: true,
	}

	gc, err := g.contextBytes()
	if err != nil {
		return nil, err
	}
	secrets, err := InitialEpochSecrets(suite, leafSecret, gc)
	if err != nil {
		return nil, err
	}
	g.Secrets = secrets
	return g, nil
}

// ProposeAdd, ProposeUpdate, and ProposeRemove stage a proposal for
// the next commit (spec.md §4.9a's list_pending_proposals additions).
func (g *Group) ProposeAdd(kp KeyPackage) {
	g.pendingProposals = append(g.pendingProposals, NewAddProposal(kp))
}

func (g *Group) ProposeUpdate(leaf LeafNode) {
	g.pendingProposals = append(g.pendingProposals, NewUpdateProposal(leaf))
}

func (g *Group) ProposeRemove(index LeafIndex) {
	g.pendingProposals = append(g.pendingProposals, NewRemoveProposal(index))
}

// ListPendingProposals returns every proposal staged since the last
// commit (SPEC_FULL.md §4.9a).
func (g *Group) ListPendingProposals() []Proposal {
	out := make([]Proposal, len(g.pendingProposals))
	copy(out, g.pendingProposals)
	return out
}

// SelfUpdateRequired reports this member's PCS posture (SPEC_FULL.md
// §4.9a): true once this member has observed a Remove of some other
// member, via ProcessCommit, without having refreshed its own path
// with a Commit since. A fresh group or a member that just committed
// has nothing pending.
func (g *Group) SelfUpdateRequired() bool {
	return !g.pathUpdatedSinceRemove
}

// applyProposals folds every proposal into diff, returning the key
// packages of every member it just added (for Welcome construction).
func (g *Group) applyProposals(diff *TreeDiff, proposals []Proposal) ([]KeyPackage, error) {
	var added []KeyPackage
	for _, p := range proposals {
		switch p.ProposalType {
		case ProposalTypeAdd:
			if p.Add == nil {
				return nil, errors.Wrap(ErrMalformedWire, "add proposal missing key package")
			}
			if _, err := diff.AddLeaf(p.Add.LeafNode); err != nil {
				return nil, err
			}
			added = append(added, *p.Add)

		case ProposalTypeUpdate:
			if p.Update == nil {
				return nil, errors.Wrap(ErrMalformedWire, "update proposal missing leaf node")
			}
			idx, found := findLeafByEncryptionKey(g.Tree, p.Update.EncryptionKey)
			if !found {
				return nil, errors.Wrap(ErrMemberNotFound, "update proposal does not match any current leaf")
			}
			if err := diff.ReplaceLeaf(idx, p.Update); err != nil {
				return nil, err
			}

		case ProposalTypeRemove:
			if p.Remove == nil {
				return nil, errors.Wrap(ErrMalformedWire, "remove proposal missing leaf index")
			}
			if g.Tree.LeafAt(*p.Remove) == nil {
				return nil, errors.Wrapf(ErrMemberNotFound, "leaf %d already blank", *p.Remove)
			}
			if err := diff.ReplaceLeaf(*p.Remove, nil); err != nil {
				return nil, err
			}
			if err := diff.BlankPath(*p.Remove); err != nil {
				return nil, err
			}

		default:
			return nil, errors.Wrapf(ErrMalformedWire, "unknown proposal type %d", p.ProposalType)
		}
	}
	return added, nil
}

func findLeafByEncryptionKey(t *RatchetTree, key ciphersuite.HPKEPublicKey) (LeafIndex, bool) {
	for i := LeafIndex(0); uint32(i) < uint32(t.Size()); i++ {
		leaf := t.LeafAt(i)
		if leaf != nil && leaf.EncryptionKey.Equals(key) {
			return i, true
		}
	}
	return 0, false
}

func (g *Group) advanceTranscript(commitContent []byte) []byte {
	return g.Suite.Hash(append(dup(g.InterimTranscriptHash), commitContent...))
}

func (g *Group) confirmationTag(secrets EpochSecrets, confirmedTranscriptHash []byte) []byte {
	return g.Suite.MAC(secrets.ConfirmationKey, confirmedTranscriptHash)
}

// Commit is the committer side of spec.md §4.9's add_member /
// remove_member / update: fold every pending proposal into a diff,
// compute a fresh TreeKEM path over the result, advance the key
// schedule, and return the wire Commit plus a Welcome for any member
// it just added.
func (g *Group) Commit() (commitOut Commit, welcomeOut *Welcome, err error) {
	defer func() {
		if err != nil {
			logError("commit", g.GroupID, err)
		}
	}()

	diff := g.Tree.Diff()

	proposals := g.pendingProposals
	added, err := g.applyProposals(diff, proposals)
	if err != nil {
		return Commit{}, nil, err
	}

	staged := diff.Stage()
	if err := g.Tree.Merge(staged); err != nil {
		return Commit{}, nil, err
	}

	groupContext, err := g.contextBytes()
	if err != nil {
		return Commit{}, nil, err
	}
	newPriv, updatePath, commitSecret, err := EncapCommit(g.Suite, g.Tree, g.OwnLeafIndex, groupContext, g.SignaturePrivateKey)
	if err != nil {
		return Commit{}, nil, err
	}

	pathDiff := g.Tree.Diff()
	if err := ApplyUpdatePath(pathDiff, g.Tree, g.OwnLeafIndex, updatePath); err != nil {
		return Commit{}, nil, err
	}
	if err := g.Tree.Merge(pathDiff.Stage()); err != nil {
		return Commit{}, nil, err
	}
	g.OwnPrivateKeys = newPriv

	commit := Commit{Proposals: proposals, UpdatePath: &updatePath}
	commitEnc, err := wireformat.Marshal(commit)
	if err != nil {
		return Commit{}, nil, err
	}

	confirmedTranscriptHash := g.advanceTranscript(commitEnc)
	newGroupContext := GroupContext{
		GroupID:                 g.GroupID,
		Epoch:                   g.Epoch + 1,
		TreeHash:                TreeHash(g.Suite, g.Tree),
		ConfirmedTranscriptHash: confirmedTranscriptHash,
		Extensions:              g.Extensions,
	}
	newGroupContextEnc, err := wireformat.Marshal(newGroupContext)
	if err != nil {
		return Commit{}, nil, err
	}
	secrets, err := DeriveEpochSecrets(g.Suite, g.Secrets.InitSecret, commitSecret, newGroupContextEnc, nil)
	if err != nil {
		return Commit{}, nil, err
	}
	tag := g.confirmationTag(secrets, confirmedTranscriptHash)

	var welcome *Welcome
	if len(added) > 0 {
		w, err := g.buildWelcome(added, secrets, newGroupContext, tag)
		if err != nil {
			return Commit{}, nil, err
		}
		welcome = w
	}

	g.Epoch++
	g.ConfirmedTranscriptHash = confirmedTranscriptHash
	g.InterimTranscriptHash = g.Suite.Hash(append(dup(confirmedTranscriptHash), tag...))
	g.Secrets = secrets
	g.pendingProposals = nil
	g.pathUpdatedSinceRemove = true

	logEpoch("commit", g.GroupID, g.Epoch)
	return commit, welcome, nil
}

func (g *Group) buildWelcome(added []KeyPackage, secrets EpochSecrets, gc GroupContext, tag []byte) (*Welcome, error) {
	info := GroupInfo{GroupContext: gc, Confirmation: tag, Signer: uint32(g.OwnLeafIndex)}
	if err := info.sign(g.Suite, g.SignaturePrivateKey); err != nil {
		return nil, err
	}

	treeEnc, err := marshalTree(g.Tree)
	if err != nil {
		return nil, err
	}

	entries := make([]EncryptedGroupSecrets, 0, len(added))
	for _, kp := range added {
		es, err := sealGroupSecrets(g.Suite, kp, GroupSecrets{JoinerSecret: secrets.JoinerSecret})
		if err != nil {
			return nil, err
		}
		entries = append(entries, es)
	}

	return &Welcome{CipherSuite: g.Suite.ID(), Secrets: entries, GroupInfo: info, Tree: treeEnc}, nil
}

// ProcessCommit applies a peer's commit: fold its proposals, apply its
// update path, and advance the key schedule identically to the
// committer (spec.md §6's process_commit).
func (g *Group) ProcessCommit(from LeafIndex, commit Commit) (err error) {
	defer func() {
		if err != nil {
			logError("process_commit", g.GroupID, err)
		}
	}()

	if commit.UpdatePath == nil {
		return errors.Wrap(ErrMalformedWire, "commit missing update path")
	}

	diff := g.Tree.Diff()
	if _, err := g.applyProposals(diff, commit.Proposals); err != nil {
		return err
	}
	if err := g.Tree.Merge(diff.Stage()); err != nil {
		return err
	}

	groupContext, err := g.contextBytes()
	if err != nil {
		return err
	}
	newPriv, commitSecret, err := DecapCommit(g.OwnPrivateKeys, g.Tree, from, groupContext, *commit.UpdatePath)
	if err != nil {
		return err
	}

	pathDiff := g.Tree.Diff()
	if err := ApplyUpdatePath(pathDiff, g.Tree, from, *commit.UpdatePath); err != nil {
		return err
	}
	if err := g.Tree.Merge(pathDiff.Stage()); err != nil {
		return err
	}
	g.OwnPrivateKeys = newPriv

	commitEnc, err := wireformat.Marshal(commit)
	if err != nil {
		return err
	}
	confirmedTranscriptHash := g.advanceTranscript(commitEnc)
	newGroupContext := GroupContext{
		GroupID:                 g.GroupID,
		Epoch:                   g.Epoch + 1,
		TreeHash:                TreeHash(g.Suite, g.Tree),
		ConfirmedTranscriptHash: confirmedTranscriptHash,
		Extensions:              g.Extensions,
	}
	newGroupContextEnc, err := wireformat.Marshal(newGroupContext)
	if err != nil {
		return err
	}
	secrets, err := DeriveEpochSecrets(g.Suite, g.Secrets.InitSecret, commitSecret, newGroupContextEnc, nil)
	if err != nil {
		return err
	}
	tag := g.confirmationTag(secrets, confirmedTranscriptHash)

	g.Epoch++
	g.ConfirmedTranscriptHash = confirmedTranscriptHash
	g.InterimTranscriptHash = g.Suite.Hash(append(dup(confirmedTranscriptHash), tag...))
	g.Secrets = secrets
	g.pendingProposals = nil
	if removesOtherMember(commit.Proposals, g.OwnLeafIndex) {
		g.pathUpdatedSinceRemove = false
	}

	logEpoch("process_commit", g.GroupID, g.Epoch)
	return nil
}

// removesOtherMember reports whether proposals contains a Remove
// targeting a leaf other than self — a commit's Remove of someone
// else doesn't refresh self's own path, so it leaves self's PCS
// posture stale until self's next Commit.
func removesOtherMember(proposals []Proposal, self LeafIndex) bool {
	for _, p := range proposals {
		if p.ProposalType == ProposalTypeRemove && p.Remove != nil && *p.Remove != self {
			return true
		}
	}
	return false
}

// ProcessWelcome is a joiner's bootstrap: decrypt the Welcome entry
// meant for them, reconstruct the tree, and derive the epoch secrets
// the same way a Welcome recipient does (spec.md §6).
func ProcessWelcome(suite ciphersuite.Suite, bundle KeyPackageBundle, w Welcome) (grp *Group, err error) {
	defer func() {
		if err != nil {
			logError("process_welcome", nil, err)
		}
	}()

	joined, err := openGroupSecrets(suite, w, bundle.KeyPackage, bundle.InitPrivateKey)
	if err != nil {
		return nil, err
	}

	tree, err := unmarshalTree(suite.ID(), w.Tree)
	if err != nil {
		return nil, err
	}

	ownIdx, found := tree.Find(bundle.KeyPackage)
	if !found {
		return nil, errors.Wrap(ErrMemberNotFound, "joiner's key package not present in welcome tree")
	}

	signerLeaf := tree.LeafAt(LeafIndex(w.GroupInfo.Signer))
	if signerLeaf == nil {
		return nil, errors.Wrap(ErrMemberNotFound, "group info signer leaf is blank")
	}
	if err := w.GroupInfo.Verify(suite, signerLeaf.SignatureKey); err != nil {
		return nil, err
	}

	gc := w.GroupInfo.GroupContext
	// A joiner's joiner_secret already reflects the committer's
	// Extract(init_secret, commit_secret) step, so it replays only the
	// psk_secret Extract and epoch_secret Expand that follow, rather
	// than re-running DeriveEpochSecrets' first Extract from scratch.
	secrets, err := deriveFromJoinerSecret(suite, joined.JoinerSecret, gc)
	if err != nil {
		return nil, err
	}

	g := &Group{
		Suite:                   suite,
		GroupID:                 gc.GroupID,
		Epoch:                   gc.Epoch,
		Tree:                    tree,
		ConfirmedTranscriptHash: gc.ConfirmedTranscriptHash,
		InterimTranscriptHash:   suite.Hash(append(dup(gc.ConfirmedTranscriptHash), w.GroupInfo.Confirmation...)),
		Extensions:              gc.Extensions,
		OwnLeafIndex:            ownIdx,
		SignaturePrivateKey:     bundle.SigPrivateKey,
		Secrets:                 secrets,
		pathUpdatedSinceRemove:  true,
	}

	if len(joined.PathSecret) > 0 {
		priv, err := NewTreeKEMPrivateKey(suite, tree.Size(), ownIdx, joined.PathSecret)
		if err != nil {
			return nil, err
		}
		g.OwnPrivateKeys = priv
	} else {
		g.OwnPrivateKeys = newTreeKEMPrivateKey(suite, ownIdx)
	}
	g.OwnPrivateKeys.PrivateKeys[treemath.ToNodeIndex(ownIdx)] = bundle.EncPrivateKey

	return g, nil
}

// deriveFromJoinerSecret replays the psk_secret Extract and
// epoch_secret Expand stages starting from a joiner_secret a Welcome
// handed over, without re-running the preceding
// Extract(init_secret, commit_secret) the committer already folded
// into it.
func deriveFromJoinerSecret(suite ciphersuite.Suite, joinerSecret []byte, gc GroupContext) (EpochSecrets, error) {
	gcEnc, err := wireformat.Marshal(gc)
	if err != nil {
		return EpochSecrets{}, err
	}

	pskSecret := zeroPSK(suite)
	pskExtract := suite.Extract(joinerSecret, pskSecret)
	welcomeSecret, err := suite.DeriveSecret(pskExtract, "welcome")
	if err != nil {
		return EpochSecrets{}, err
	}
	epochSecret, err := suite.ExpandWithLabel(pskExtract, "epoch", gcEnc, suite.Nh())
	if err != nil {
		return EpochSecrets{}, err
	}

	derive := func(label string) ([]byte, error) { return suite.DeriveSecret(epochSecret, label) }
	out := EpochSecrets{JoinerSecret: joinerSecret, WelcomeSecret: welcomeSecret, EpochSecret: epochSecret}
	var e error
	if out.SenderDataSecret, e = derive("sender data"); e != nil {
		return EpochSecrets{}, e
	}
	if out.EncryptionSecret, e = derive("encryption"); e != nil {
		return EpochSecrets{}, e
	}
	if out.ExporterSecret, e = derive("exporter"); e != nil {
		return EpochSecrets{}, e
	}
	if out.ExternalSecret, e = derive("external"); e != nil {
		return EpochSecrets{}, e
	}
	if out.ConfirmationKey, e = derive("confirm"); e != nil {
		return EpochSecrets{}, e
	}
	if out.MembershipKey, e = derive("membership"); e != nil {
		return EpochSecrets{}, e
	}
	if out.ResumptionPSK, e = derive("resumption"); e != nil {
		return EpochSecrets{}, e
	}
	if out.InitSecret, e = derive("init"); e != nil {
		return EpochSecrets{}, e
	}
	return out, nil
}

// CurrentEpoch and CurrentMembers are spec.md §6's read-only façade
// accessors.
func (g *Group) CurrentEpoch() uint64 { return g.Epoch }

func (g *Group) CurrentMembers() []LeafNode {
	var out []LeafNode
	for i := LeafIndex(0); uint32(i) < uint32(g.Tree.Size()); i++ {
		if leaf := g.Tree.LeafAt(i); leaf != nil {
			out = append(out, *leaf)
		}
	}
	return out
}

// ExportSecret is spec.md §6's export_secret(label, context, length).
func (g *Group) ExportSecret(label string, context []byte, length int) ([]byte, error) {
	return g.Secrets.Export(g.Suite, label, context, length)
}

// persistedGroup is the on-disk layout SPEC_FULL.md §4.9a names:
// enough to resume driving the group, minus the private key material
// a caller must re-supply (a serialized blob that could reconstruct
// someone else's private keys on its own would be a liability, not a
// convenience).
type persistedGroup struct {
	Suite                   ciphersuite.ID
	GroupID                 []byte `tls:"head=1"`
	Epoch                   uint64
	Tree                    []byte `tls:"head=4"`
	ConfirmedTranscriptHash []byte `tls:"head=1"`
	InterimTranscriptHash   []byte `tls:"head=1"`
	InitSecret              []byte `tls:"head=1"`
	OwnLeafIndex            uint32
	PathUpdatedSinceRemove  uint8
}

// Serialize persists everything in persistedGroup's layout, including
// the PCS-posture flag SelfUpdateRequired reports off of — otherwise
// a serialize/restore cycle would silently forget that this member
// observed a Remove it hasn't path-updated past yet.
func (g *Group) Serialize() ([]byte, error) {
	treeEnc, err := marshalTree(g.Tree)
	if err != nil {
		return nil, err
	}
	pathUpdated := uint8(0)
	if g.pathUpdatedSinceRemove {
		pathUpdated = 1
	}
	return wireformat.Marshal(persistedGroup{
		Suite:                   g.Suite.ID(),
		GroupID:                 g.GroupID,
		Epoch:                   g.Epoch,
		Tree:                    treeEnc,
		ConfirmedTranscriptHash: g.ConfirmedTranscriptHash,
		InterimTranscriptHash:   g.InterimTranscriptHash,
		InitSecret:              g.Secrets.InitSecret,
		OwnLeafIndex:            uint32(g.OwnLeafIndex),
		PathUpdatedSinceRemove:  pathUpdated,
	})
}

// Deserialize restores a Group from data; the caller must separately
// supply the holder's own TreeKEM private-key view and signature key,
// since neither is part of persistedGroup's layout.
func Deserialize(data []byte, ownPrivateKeys *TreeKEMPrivateKey, sigPriv ciphersuite.SignaturePrivateKey) (*Group, error) {
	var pg persistedGroup
	if err := wireformat.Unmarshal(data, &pg); err != nil {
		return nil, err
	}
	suite, err := ciphersuite.New(pg.Suite)
	if err != nil {
		return nil, err
	}
	tree, err := unmarshalTree(pg.Suite, pg.Tree)
	if err != nil {
		return nil, err
	}
	return &Group{
		Suite:                   suite,
		GroupID:                 pg.GroupID,
		Epoch:                   pg.Epoch,
		Tree:                    tree,
		ConfirmedTranscriptHash: pg.ConfirmedTranscriptHash,
		InterimTranscriptHash:   pg.InterimTranscriptHash,
		OwnLeafIndex:            LeafIndex(pg.OwnLeafIndex),
		OwnPrivateKeys:          ownPrivateKeys,
		SignaturePrivateKey:     sigPriv,
		Secrets:                 EpochSecrets{InitSecret: pg.InitSecret},
		pathUpdatedSinceRemove:  pg.PathUpdatedSinceRemove != 0,
	}, nil
}
