package mls

import (
	"github.com/pkg/errors"

	"github.com/nipee/mls/ciphersuite"
	"github.com/nipee/mls/wireformat"
)

// ProtocolVersion is the wire version of the protocol a leaf declares
// support for.
type ProtocolVersion uint16

const ProtocolVersionMLS10 ProtocolVersion = 1

// ProposalType enumerates the proposal kinds a leaf declares it can
// process, per its Capabilities.
type ProposalType uint16

const (
	ProposalTypeAdd    ProposalType = 1
	ProposalTypeUpdate ProposalType = 2
	ProposalTypeRemove ProposalType = 3
)

// Capabilities is the leaf's declared support matrix (spec.md §4.5):
// protocol versions, cipher suites, extension types, proposal types,
// and credential types it understands.
type Capabilities struct {
	Versions        []ProtocolVersion  `tls:"head=1"`
	CipherSuites    []ciphersuite.ID   `tls:"head=1"`
	Extensions      []ExtensionType    `tls:"head=1"`
	ProposalTypes   []ProposalType     `tls:"head=1"`
	CredentialTypes []CredentialType   `tls:"head=1"`
}

// DefaultCapabilities declares support for the protocol version and
// suite in use, and the core's mandatory proposal/credential types.
func DefaultCapabilities(suite ciphersuite.ID) Capabilities {
	return Capabilities{
		Versions:     []ProtocolVersion{ProtocolVersionMLS10},
		CipherSuites: []ciphersuite.ID{suite},
		Extensions: []ExtensionType{
			ExtensionTypeParentHash, ExtensionTypeLastResort,
			ExtensionTypeRatchetTree, ExtensionTypeNostrRelays,
		},
		ProposalTypes:   []ProposalType{ProposalTypeAdd, ProposalTypeUpdate, ProposalTypeRemove},
		CredentialTypes: []CredentialType{CredentialTypeBasic, CredentialTypeX509},
	}
}

// Lifetime bounds a KeyPackage-sourced leaf's validity window, as Unix
// seconds.
type Lifetime struct {
	NotBefore uint64
	NotAfter  uint64
}

// LeafNodeSourceType is the discriminator for LeafNode's TBS shape
// (spec.md §4.5): a leaf born inside a key package, one produced by an
// Update proposal, or one produced by a committer's update path.
type LeafNodeSourceType uint8

const (
	LeafNodeSourceTypeKeyPackage LeafNodeSourceType = 1
	LeafNodeSourceTypeUpdate     LeafNodeSourceType = 2
	LeafNodeSourceTypeCommit     LeafNodeSourceType = 3
)

// LeafNodeSource is the tagged union of the three source-dependent
// field sets. Exactly one of Lifetime (source KeyPackage) or
// ParentHash (source Commit) is populated; source Update carries
// neither.
type LeafNodeSource struct {
	SourceType LeafNodeSourceType
	Lifetime   *Lifetime
	ParentHash []byte
}

func (s LeafNodeSource) MarshalTLS() ([]byte, error) {
	w := wireformat.NewWriter()
	if err := w.Marshal(s.SourceType); err != nil {
		return nil, err
	}

	switch s.SourceType {
	case LeafNodeSourceTypeKeyPackage:
		if s.Lifetime == nil {
			return nil, errors.Wrap(ErrMalformedWire, "KeyPackage source requires a lifetime")
		}
		if err := w.Marshal(*s.Lifetime); err != nil {
			return nil, err
		}
	case LeafNodeSourceTypeUpdate:
		// no source-dependent fields
	case LeafNodeSourceTypeCommit:
		if err := w.VarBytes(wireformat.Prefix8, s.ParentHash); err != nil {
			return nil, err
		}
	default:
		return nil, errors.Wrapf(ErrMalformedWire, "unknown leaf node source %d", s.SourceType)
	}

	return w.Bytes(), nil
}

func (s *LeafNodeSource) UnmarshalTLS(data []byte) (int, error) {
	r := wireformat.NewReader(data)
	if err := r.Unmarshal(&s.SourceType); err != nil {
		return 0, err
	}

	switch s.SourceType {
	case LeafNodeSourceTypeKeyPackage:
		var lt Lifetime
		if err := r.Unmarshal(&lt); err != nil {
			return 0, err
		}
		s.Lifetime = &lt
	case LeafNodeSourceTypeUpdate:
		// nothing to read
	case LeafNodeSourceTypeCommit:
		ph, err := r.VarBytes(wireformat.Prefix8)
		if err != nil {
			return 0, err
		}
		s.ParentHash = ph
	default:
		return 0, errors.Wrapf(ErrMalformedWire, "unknown leaf node source %d", s.SourceType)
	}

	return r.Consumed(), nil
}

// LeafNode is spec.md §4.5's tree-leaf structure: encryption key,
// signature key, credential, capabilities, source, extensions, and
// the signature over its TBS projection.
type LeafNode struct {
	EncryptionKey ciphersuite.HPKEPublicKey
	SignatureKey  ciphersuite.SignaturePublicKey
	Credential    Credential
	Capabilities  Capabilities
	Source        LeafNodeSource
	Extensions    ExtensionList
	Signature     []byte `tls:"head=2"`
}

// leafNodeTBS is the to-be-signed projection. For source KeyPackage
// the group context suffix is encoded empty (zero-length group_id,
// leaf_index 0), so the signature does not depend on either; for
// Update/Commit sources it carries (group_id, leaf_index) (spec.md §4.5).
type leafNodeTBS struct {
	EncryptionKey ciphersuite.HPKEPublicKey
	SignatureKey  ciphersuite.SignaturePublicKey
	Credential    Credential
	Capabilities  Capabilities
	Source        LeafNodeSource
	Extensions    ExtensionList
	GroupID       []byte `tls:"head=2"`
	LeafIndex     uint32
}

func (n LeafNode) tbs(groupID []byte, leafIndex LeafIndex) ([]byte, error) {
	tbs := leafNodeTBS{
		EncryptionKey: n.EncryptionKey,
		SignatureKey:  n.SignatureKey,
		Credential:    n.Credential,
		Capabilities:  n.Capabilities,
		Source:        n.Source,
		Extensions:    n.Extensions,
	}
	if n.Source.SourceType != LeafNodeSourceTypeKeyPackage {
		tbs.GroupID = groupID
		tbs.LeafIndex = uint32(leafIndex)
	}
	return wireformat.Marshal(tbs)
}

// Sign computes and installs the signature over the leaf's TBS
// projection using label "LeafNodeTBS" (spec.md §4.5).
func (n *LeafNode) Sign(suite ciphersuite.Suite, sk ciphersuite.SignaturePrivateKey, groupID []byte, leafIndex LeafIndex) error {
	raw, err := n.tbs(groupID, leafIndex)
	if err != nil {
		return err
	}
	sig, err := suite.SignWithLabel(sk, "LeafNodeTBS", raw)
	if err != nil {
		return errors.Wrap(ErrSignatureFailure, err.Error())
	}
	n.Signature = sig
	return nil
}

// Verify recomputes the TBS from the declared source and checks the
// signature against the leaf's own signature public key.
func (n LeafNode) Verify(suite ciphersuite.Suite, groupID []byte, leafIndex LeafIndex) error {
	raw, err := n.tbs(groupID, leafIndex)
	if err != nil {
		return err
	}
	if !suite.VerifyWithLabel(n.SignatureKey, "LeafNodeTBS", raw, n.Signature) {
		return errors.Wrap(ErrInvalidSignature, "leaf node signature does not verify")
	}
	return nil
}

// Equals compares the public aspects of two leaf nodes.
func (n LeafNode) Equals(o LeafNode) bool {
	enc, err1 := wireformat.Marshal(n)
	oenc, err2 := wireformat.Marshal(o)
	if err1 != nil || err2 != nil {
		return false
	}
	if len(enc) != len(oenc) {
		return false
	}
	for i := range enc {
		if enc[i] != oenc[i] {
			return false
		}
	}
	return true
}
