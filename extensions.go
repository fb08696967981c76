package mls

import (
	"github.com/pkg/errors"

	"github.com/nipee/mls/wireformat"
)

// ExtensionType discriminates the entries of an ExtensionList. Type
// 0x0005 (parent_hash) is defined by the core (spec.md §4.7); the
// 0xff00+ range is reserved for the NIP-EE binding layer's
// application-defined extensions (SPEC_FULL.md §4.6a).
type ExtensionType uint16

const (
	ExtensionTypeParentHash   ExtensionType = 0x0005
	ExtensionTypeRatchetTree  ExtensionType = 0x0002
	ExtensionTypeLastResort   ExtensionType = 0x000a
	ExtensionTypeNostrRelays  ExtensionType = 0xff00
)

// ExtensionBody is anything that can be carried inside an Extension
// entry: it knows its own discriminator and marshals with wireformat.
type ExtensionBody interface {
	Type() ExtensionType
}

// Extension is a single opaque TLV entry.
//
//	struct {
//	    ExtensionType extension_type;
//	    opaque extension_data<0..2^16-1>;
//	} Extension;
type Extension struct {
	ExtensionType ExtensionType
	ExtensionData []byte `tls:"head=2"`
}

// ExtensionList is the extension list carried on key packages, leaf
// nodes, and group contexts.
type ExtensionList struct {
	Entries []Extension `tls:"head=2"`
}

// Add inserts or replaces the entry matching src's type.
func (el *ExtensionList) Add(src ExtensionBody) error {
	data, err := wireformat.Marshal(src)
	if err != nil {
		return errors.Wrapf(ErrMalformedWire, "marshal extension %d: %v", src.Type(), err)
	}

	for i := range el.Entries {
		if el.Entries[i].ExtensionType == src.Type() {
			el.Entries[i].ExtensionData = data
			return nil
		}
	}

	el.Entries = append(el.Entries, Extension{ExtensionType: src.Type(), ExtensionData: data})
	return nil
}

// Find decodes the entry matching dst's type into dst, reporting
// whether an entry of that type was present.
func (el ExtensionList) Find(dst ExtensionBody) (bool, error) {
	for _, ext := range el.Entries {
		if ext.ExtensionType != dst.Type() {
			continue
		}
		if err := wireformat.Unmarshal(ext.ExtensionData, dst); err != nil {
			return true, errors.Wrapf(ErrMalformedWire, "unmarshal extension %d: %v", dst.Type(), err)
		}
		return true, nil
	}
	return false, nil
}

// Has reports whether an extension of type t is present, without
// decoding its contents.
func (el ExtensionList) Has(t ExtensionType) bool {
	for _, ext := range el.Entries {
		if ext.ExtensionType == t {
			return true
		}
	}
	return false
}

// ParentHashExtension is a TLV form of a parent hash (spec.md §4.7
// step 4, §9's flagged open question on the exact byte layout —
// resolved in DESIGN.md). EncapCommit does not attach it: a leaf whose
// source is Commit carries its parent hash in LeafNodeSource.ParentHash.
type ParentHashExtension struct {
	ParentHash []byte `tls:"head=1"`
}

func (phe ParentHashExtension) Type() ExtensionType { return ExtensionTypeParentHash }

// LastResortExtension marks a key package as intentionally reusable
// by joiners (spec.md §4.6): absent this extension, a key package MUST
// be single-use.
type LastResortExtension struct{}

func (LastResortExtension) Type() ExtensionType { return ExtensionTypeLastResort }

func (LastResortExtension) MarshalTLS() ([]byte, error)    { return []byte{}, nil }
func (*LastResortExtension) UnmarshalTLS([]byte) (int, error) { return 0, nil }

// RatchetTreeOptOutExtension signals that the producer does not want
// the full ratchet tree embedded alongside its key package (NIP-EE
// dropped feature, SPEC_FULL.md §4.6a): harmless TLV for the core.
// No code path in this module reads it; a Welcome always embeds the
// tree.
type RatchetTreeOptOutExtension struct {
	OptOut bool
}

func (RatchetTreeOptOutExtension) Type() ExtensionType { return ExtensionTypeRatchetTree }

// NostrRelaysExtension carries the relay URLs a producer prefers for
// Welcome delivery (NIP-EE dropped feature, SPEC_FULL.md §4.6a). It is
// opaque TLV to the core, and the nipee package does not read it
// either: nipee's "relays" tag comes from KeyPackageEvent.Relays.
type NostrRelaysExtension struct {
	Relays [][]byte `tls:"head=2"`
}

func (NostrRelaysExtension) Type() ExtensionType { return ExtensionTypeNostrRelays }
