package mls

import (
	"github.com/pkg/errors"

	"github.com/nipee/mls/ciphersuite"
	"github.com/nipee/mls/wireformat"
)

// GroupSecrets is the per-joiner payload a Welcome carries: the
// joiner_secret needed to rejoin the key schedule, and a PathSecret
// field. Group.Commit always leaves PathSecret empty, so a joiner
// starts out holding only its own leaf key; ProcessWelcome derives a
// path from PathSecret only when it is non-empty. Spec.md §9 flags the
// exact Welcome decryption path as left unspecified; DESIGN.md records
// the simplification taken here.
type GroupSecrets struct {
	JoinerSecret []byte `tls:"head=1"`
	PathSecret   []byte `tls:"head=1"`
}

// EncryptedGroupSecrets pairs a joiner's key-package hash with their
// HPKE-sealed GroupSecrets, so each joiner can find the one entry
// meant for them without being told their own position in the list.
type EncryptedGroupSecrets struct {
	KeyPackageHash []byte `tls:"head=1"`
	KEMOutput      []byte `tls:"head=2"`
	Ciphertext     []byte `tls:"head=4"`
}

// GroupInfo is the group's public state as of the epoch a Welcome was
// produced for: enough for a joiner to reconstruct the tree and group
// context without trusting the committer's word alone.
type GroupInfo struct {
	GroupContext GroupContext
	Confirmation []byte `tls:"head=1"`
	Signer       uint32
	Signature    []byte `tls:"head=2"`
}

type groupInfoTBS struct {
	GroupContext GroupContext
	Confirmation []byte `tls:"head=1"`
	Signer       uint32
}

func (gi GroupInfo) tbs() ([]byte, error) {
	return wireformat.Marshal(groupInfoTBS{
		GroupContext: gi.GroupContext,
		Confirmation: gi.Confirmation,
		Signer:       gi.Signer,
	})
}

func (gi *GroupInfo) sign(suite ciphersuite.Suite, sk ciphersuite.SignaturePrivateKey) error {
	raw, err := gi.tbs()
	if err != nil {
		return err
	}
	sig, err := suite.SignWithLabel(sk, "GroupInfoTBS", raw)
	if err != nil {
		return errors.Wrap(ErrSignatureFailure, err.Error())
	}
	gi.Signature = sig
	return nil
}

// Verify checks GroupInfo's signature against the signer's public key
// (the signer leaf's signature key, read out of the tree GroupInfo
// itself describes).
func (gi GroupInfo) Verify(suite ciphersuite.Suite, pk ciphersuite.SignaturePublicKey) error {
	raw, err := gi.tbs()
	if err != nil {
		return err
	}
	if !suite.VerifyWithLabel(pk, "GroupInfoTBS", raw, gi.Signature) {
		return errors.Wrap(ErrInvalidSignature, "group info signature does not verify")
	}
	return nil
}

// Welcome bundles a signed GroupInfo with one HPKE-sealed
// GroupSecrets entry per invited joiner, plus the tree each joiner
// needs to reconstruct the group. Tree always carries the full
// marshaled tree: RatchetTreeOptOutExtension is not consulted when a
// Welcome is built, and ProcessWelcome requires the tree.
type Welcome struct {
	CipherSuite ciphersuite.ID
	Secrets     []EncryptedGroupSecrets `tls:"head=4"`
	GroupInfo   GroupInfo
	Tree        []byte `tls:"head=4"`
}

func keyPackageHash(suite ciphersuite.Suite, kp KeyPackage) ([]byte, error) {
	enc, err := wireformat.Marshal(kp)
	if err != nil {
		return nil, err
	}
	return suite.Hash(enc), nil
}

// sealGroupSecrets HPKE-seals secrets to kp's init key under label
// "Welcome", so only the holder of the matching init private key can
// recover it.
func sealGroupSecrets(suite ciphersuite.Suite, kp KeyPackage, secrets GroupSecrets) (EncryptedGroupSecrets, error) {
	hash, err := keyPackageHash(suite, kp)
	if err != nil {
		return EncryptedGroupSecrets{}, err
	}
	raw, err := wireformat.Marshal(secrets)
	if err != nil {
		return EncryptedGroupSecrets{}, err
	}
	kem, ct, err := suite.Seal(kp.InitKey, []byte("Welcome"), nil, raw)
	if err != nil {
		return EncryptedGroupSecrets{}, errors.Wrap(ErrHpkeSealFailure, err.Error())
	}
	return EncryptedGroupSecrets{KeyPackageHash: hash, KEMOutput: kem, Ciphertext: ct}, nil
}

// openGroupSecrets finds and opens the entry meant for ownKP among a
// Welcome's sealed secrets.
func openGroupSecrets(suite ciphersuite.Suite, w Welcome, ownKP KeyPackage, initPriv ciphersuite.HPKEPrivateKey) (GroupSecrets, error) {
	hash, err := keyPackageHash(suite, ownKP)
	if err != nil {
		return GroupSecrets{}, err
	}

	for _, entry := range w.Secrets {
		if string(entry.KeyPackageHash) != string(hash) {
			continue
		}
		pt, err := suite.Open(initPriv, entry.KEMOutput, []byte("Welcome"), nil, entry.Ciphertext)
		if err != nil {
			return GroupSecrets{}, errors.Wrap(ErrHpkeOpenFailure, err.Error())
		}
		var secrets GroupSecrets
		if err := wireformat.Unmarshal(pt, &secrets); err != nil {
			return GroupSecrets{}, errors.Wrap(ErrMalformedWire, err.Error())
		}
		return secrets, nil
	}
	return GroupSecrets{}, errors.Wrap(ErrMemberNotFound, "no group secrets entry for this key package")
}
