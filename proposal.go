package mls

import (
	"github.com/pkg/errors"

	"github.com/nipee/mls/wireformat"
)

// ProposalContentType discriminates Proposal's three variants. Named
// distinctly from ProposalType (leafnode.go's capability-declaration
// enum) since a capability set and a wire-tagged union serve different
// roles even though RFC 9420 overloads one enum for both.
type ProposalContentType = ProposalType

// Proposal is a pending group-membership change: add a new member,
// replace an existing leaf (a self-update), or remove a member
// (spec.md §4.9's add/remove/update operations, staged before a
// commit folds them into a single path update).
type Proposal struct {
	ProposalType ProposalContentType
	Add          *KeyPackage
	Update       *LeafNode
	Remove       *LeafIndex
}

func (p Proposal) MarshalTLS() ([]byte, error) {
	w := wireformat.NewWriter()
	if err := w.Marshal(p.ProposalType); err != nil {
		return nil, err
	}
	switch p.ProposalType {
	case ProposalTypeAdd:
		if p.Add == nil {
			return nil, errors.Wrap(ErrMalformedWire, "add proposal missing key package")
		}
		if err := w.Marshal(*p.Add); err != nil {
			return nil, err
		}
	case ProposalTypeUpdate:
		if p.Update == nil {
			return nil, errors.Wrap(ErrMalformedWire, "update proposal missing leaf node")
		}
		if err := w.Marshal(*p.Update); err != nil {
			return nil, err
		}
	case ProposalTypeRemove:
		if p.Remove == nil {
			return nil, errors.Wrap(ErrMalformedWire, "remove proposal missing leaf index")
		}
		if err := w.Marshal(uint32(*p.Remove)); err != nil {
			return nil, err
		}
	default:
		return nil, errors.Wrapf(ErrMalformedWire, "unknown proposal type %d", p.ProposalType)
	}
	return w.Bytes(), nil
}

func (p *Proposal) UnmarshalTLS(data []byte) (int, error) {
	r := wireformat.NewReader(data)
	if err := r.Unmarshal(&p.ProposalType); err != nil {
		return 0, err
	}
	switch p.ProposalType {
	case ProposalTypeAdd:
		var kp KeyPackage
		if err := r.Unmarshal(&kp); err != nil {
			return 0, err
		}
		p.Add = &kp
	case ProposalTypeUpdate:
		var ln LeafNode
		if err := r.Unmarshal(&ln); err != nil {
			return 0, err
		}
		p.Update = &ln
	case ProposalTypeRemove:
		var idx uint32
		if err := r.Unmarshal(&idx); err != nil {
			return 0, err
		}
		li := LeafIndex(idx)
		p.Remove = &li
	default:
		return 0, errors.Wrapf(ErrMalformedWire, "unknown proposal type %d", p.ProposalType)
	}
	return r.Consumed(), nil
}

// NewAddProposal, NewUpdateProposal, and NewRemoveProposal build the
// three proposal variants.
func NewAddProposal(kp KeyPackage) Proposal {
	return Proposal{ProposalType: ProposalTypeAdd, Add: &kp}
}

func NewUpdateProposal(leaf LeafNode) Proposal {
	return Proposal{ProposalType: ProposalTypeUpdate, Update: &leaf}
}

func NewRemoveProposal(index LeafIndex) Proposal {
	return Proposal{ProposalType: ProposalTypeRemove, Remove: &index}
}

// Commit is the wire message a committer sends: every proposal it is
// folding in, plus (if any proposal changes the tree's membership
// shape, or the committer chooses to refresh its own key regardless)
// the TreeKEM update path. UpdatePath is carried the same way the
// teacher's own optional fields are: a nil pointer encodes as absent.
type Commit struct {
	Proposals  []Proposal  `tls:"head=4"`
	UpdatePath *UpdatePath `tls:"optional"`
}
