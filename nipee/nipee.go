// Package nipee implements the NIP-EE binding layer: it wraps the mls
// group façade's wire types in the Nostr event shapes a relay-based
// transport carries them in, without taking on relay I/O or NIP-44
// payload encryption itself (both are external collaborators, per
// spec.md's explicit Non-goals).
//
// Event IDs and content are this package's concern; event signatures
// are not — a nostr event's id/sig fields are produced by whatever
// secp256k1 signer the caller's Nostr client already owns, so Sign
// here takes a caller-supplied Signer rather than reimplementing one,
// and this package does not verify event signatures.
package nipee

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nipee/mls"
	"github.com/nipee/mls/ciphersuite"
	"github.com/nipee/mls/wireformat"
)

// Kind is a Nostr event kind, as used by the three NIP-EE event
// shapes this package defines (kinds 443, 444, 445).
type Kind uint16

const (
	// KindKeyPackage is the parameterized-replaceable event kind a
	// member publishes their current KeyPackage under.
	KindKeyPackage Kind = 443
	// KindWelcome is the event kind a Welcome travels in; it is never
	// published to a relay, only handed to the caller's own delivery
	// channel (direct message, gift wrap, or similar).
	KindWelcome Kind = 444
	// KindGroup is the event kind an MLS application or handshake
	// ciphertext travels in once a group is established.
	KindGroup Kind = 445
)

// Tag is a single Nostr tag: its first element is the tag name, the
// rest its values.
type Tag []string

// Event is the in-memory form of a Nostr event, mirroring the fields
// every NIP-EE event kind shares. ID and Sig are populated by the
// caller's own signer — this package only ever produces the
// unsigned fields and the canonical bytes a signer hashes.
type Event struct {
	ID        []byte
	PubKey    []byte
	CreatedAt int64
	Kind      Kind
	Tags      []Tag
	Content   []byte
	Sig       []byte
}

// eventJSON is the wire (JSON) mirror of Event, matching NIP-01's
// field names and string/hex encodings.
type eventJSON struct {
	ID        string     `json:"id"`
	PubKey    string     `json:"pubkey"`
	CreatedAt int64      `json:"created_at"`
	Kind      uint16     `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig"`
}

func (e *Event) toJSON() eventJSON {
	tags := make([][]string, len(e.Tags))
	for i, t := range e.Tags {
		tags[i] = []string(t)
	}
	return eventJSON{
		ID:        hex.EncodeToString(e.ID),
		PubKey:    hex.EncodeToString(e.PubKey),
		CreatedAt: e.CreatedAt,
		Kind:      uint16(e.Kind),
		Tags:      tags,
		Content:   hex.EncodeToString(e.Content),
		Sig:       hex.EncodeToString(e.Sig),
	}
}

// MarshalJSON renders the event in NIP-01's wire form.
func (e *Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.toJSON())
}

// UnmarshalJSON parses NIP-01 wire form into e.
func (e *Event) UnmarshalJSON(data []byte) error {
	var j eventJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return errors.Wrap(ErrMalformedEvent, err.Error())
	}
	id, err := hex.DecodeString(j.ID)
	if err != nil {
		return errors.Wrap(ErrMalformedEvent, "id: "+err.Error())
	}
	pk, err := hex.DecodeString(j.PubKey)
	if err != nil {
		return errors.Wrap(ErrMalformedEvent, "pubkey: "+err.Error())
	}
	sig, err := hex.DecodeString(j.Sig)
	if err != nil {
		return errors.Wrap(ErrMalformedEvent, "sig: "+err.Error())
	}
	content, err := hex.DecodeString(j.Content)
	if err != nil {
		return errors.Wrap(ErrMalformedEvent, "content: "+err.Error())
	}
	tags := make([]Tag, len(j.Tags))
	for i, t := range j.Tags {
		tags[i] = Tag(t)
	}
	e.ID = id
	e.PubKey = pk
	e.CreatedAt = j.CreatedAt
	e.Kind = Kind(j.Kind)
	e.Tags = tags
	e.Content = content
	e.Sig = sig
	return nil
}

// canonicalForm is NIP-01's `[0, pubkey, created_at, kind, tags,
// content]` array, the exact byte string an event's id is the
// SHA-256 of.
func (e *Event) canonicalForm() ([]byte, error) {
	tags := make([][]string, len(e.Tags))
	for i, t := range e.Tags {
		tags[i] = []string(t)
	}
	arr := []interface{}{
		0,
		hex.EncodeToString(e.PubKey),
		e.CreatedAt,
		uint16(e.Kind),
		tags,
		hex.EncodeToString(e.Content),
	}
	return json.Marshal(arr)
}

// ComputeID fills in e.ID from its canonical serialization, leaving
// Sig untouched — the caller signs ID with their own Nostr key after
// calling this.
func (e *Event) ComputeID() error {
	raw, err := e.canonicalForm()
	if err != nil {
		return errors.Wrap(ErrMalformedEvent, err.Error())
	}
	sum := sha256.Sum256(raw)
	e.ID = sum[:]
	return nil
}

// Signer is the caller-owned Nostr identity: whatever holds the
// secp256k1 key a relay will check an event's signature against.
// nipee never implements one itself (Schnorr/secp256k1 signing is
// outside the MLS core's domain).
type Signer interface {
	PublicKey() []byte
	Sign(message []byte) ([]byte, error)
}

// Sign computes e.ID from its canonical form, signs it with signer,
// and fills in PubKey and Sig.
func (e *Event) Sign(signer Signer) error {
	e.PubKey = signer.PublicKey()
	if err := e.ComputeID(); err != nil {
		return err
	}
	sig, err := signer.Sign(e.ID)
	if err != nil {
		return errors.Wrap(ErrSignFailure, err.Error())
	}
	e.Sig = sig
	return nil
}

// findTag returns the first tag's values whose name is n, or nil.
func findTag(tags []Tag, n string) []string {
	for _, t := range tags {
		if len(t) > 0 && t[0] == n {
			return t[1:]
		}
	}
	return nil
}

// Sentinel error kinds for the NIP-EE binding layer, in the same
// errors.New/errors.Wrap style as the core's error taxonomy.
var (
	ErrMalformedEvent  = errors.New("nipee: malformed event")
	ErrWrongKind       = errors.New("nipee: unexpected event kind")
	ErrSignFailure     = errors.New("nipee: signing failed")
	ErrMissingTag      = errors.New("nipee: missing required tag")
)

// KeyPackageEvent is the kind-443 wrapper around an mls.KeyPackage:
// a parameterized-replaceable event a member republishes whenever
// they rotate their key package, tagged with enough metadata for a
// prospective committer to pick a suite-compatible one without
// decoding the content first.
type KeyPackageEvent struct {
	KeyPackage  mls.KeyPackage
	CipherSuite ciphersuite.ID
	Relays      []string
}

// ToEvent renders kpe as the kind-443 Nostr event NIP-EE describes:
// the wire-encoded KeyPackage as content, protocol version and
// cipher suite as tags so relays and clients can filter without
// decoding, and one "relays" tag listing delivery preference. The
// returned event is unsigned; the caller signs it with Sign.
func (kpe KeyPackageEvent) ToEvent(createdAt int64) (*Event, error) {
	enc, err := wireformat.Marshal(kpe.KeyPackage)
	if err != nil {
		return nil, err
	}

	tags := []Tag{
		{"mls_protocol_version", "1"},
		{"mls_ciphersuite", hex.EncodeToString([]byte{byte(kpe.CipherSuite >> 8), byte(kpe.CipherSuite)})},
		{"d", "mls"},
	}
	if exts := kpe.KeyPackage.Extensions.Entries; len(exts) > 0 {
		extTag := Tag{"mls_extensions"}
		for _, e := range exts {
			extTag = append(extTag, hex.EncodeToString([]byte{byte(e.ExtensionType >> 8), byte(e.ExtensionType)}))
		}
		tags = append(tags, extTag)
	}
	if len(kpe.Relays) > 0 {
		relayTag := append(Tag{"relays"}, kpe.Relays...)
		tags = append(tags, relayTag)
	}

	return &Event{
		Kind:      KindKeyPackage,
		CreatedAt: createdAt,
		Tags:      tags,
		Content:   enc,
	}, nil
}

// KeyPackageFromEvent decodes a kind-443 event back into a
// KeyPackageEvent, verifying the event's declared kind and cipher
// suite tag agree with the decoded KeyPackage's own CipherSuite
// field before handing it back.
func KeyPackageFromEvent(ev *Event) (KeyPackageEvent, error) {
	if ev.Kind != KindKeyPackage {
		return KeyPackageEvent{}, errors.Wrapf(ErrWrongKind, "want %d, got %d", KindKeyPackage, ev.Kind)
	}

	var kp mls.KeyPackage
	if err := wireformat.Unmarshal(ev.Content, &kp); err != nil {
		return KeyPackageEvent{}, errors.Wrap(ErrMalformedEvent, err.Error())
	}

	suiteTag := findTag(ev.Tags, "mls_ciphersuite")
	if len(suiteTag) == 1 {
		if raw, err := hex.DecodeString(suiteTag[0]); err == nil && len(raw) == 2 {
			declared := ciphersuite.ID(uint16(raw[0])<<8 | uint16(raw[1]))
			if declared != kp.CipherSuite {
				return KeyPackageEvent{}, errors.Wrap(ErrMalformedEvent, "mls_ciphersuite tag does not match key package")
			}
		}
	}

	return KeyPackageEvent{
		KeyPackage:  kp,
		CipherSuite: kp.CipherSuite,
		Relays:      findTag(ev.Tags, "relays"),
	}, nil
}

// WelcomeEvent is the kind-444 wrapper around an mls.Welcome. Per
// NIP-EE, this event kind is never published to a relay; it is
// delivered directly (DM, gift wrap) by a transport this package
// does not implement, tagged with the key-package event it responds
// to so a joiner can correlate it.
type WelcomeEvent struct {
	Welcome         mls.Welcome
	KeyPackageEventID []byte
}

// ToEvent renders we as an unsigned kind-444 event.
func (we WelcomeEvent) ToEvent(createdAt int64) (*Event, error) {
	enc, err := wireformat.Marshal(we.Welcome)
	if err != nil {
		return nil, err
	}

	var tags []Tag
	if len(we.KeyPackageEventID) > 0 {
		tags = append(tags, Tag{"e", hex.EncodeToString(we.KeyPackageEventID)})
	}

	return &Event{
		Kind:      KindWelcome,
		CreatedAt: createdAt,
		Tags:      tags,
		Content:   enc,
	}, nil
}

// WelcomeFromEvent decodes a kind-444 event back into a WelcomeEvent.
func WelcomeFromEvent(ev *Event) (WelcomeEvent, error) {
	if ev.Kind != KindWelcome {
		return WelcomeEvent{}, errors.Wrapf(ErrWrongKind, "want %d, got %d", KindWelcome, ev.Kind)
	}

	var w mls.Welcome
	if err := wireformat.Unmarshal(ev.Content, &w); err != nil {
		return WelcomeEvent{}, errors.Wrap(ErrMalformedEvent, err.Error())
	}

	var refID []byte
	if e := findTag(ev.Tags, "e"); len(e) == 1 {
		if raw, err := hex.DecodeString(e[0]); err == nil {
			refID = raw
		}
	}

	return WelcomeEvent{Welcome: w, KeyPackageEventID: refID}, nil
}

// EventCipher is the AEAD collaborator a GroupEvent's content is
// sealed and opened with. nipee keys it from the group's exporter
// secret but leaves the construction itself (NIP-44 or otherwise) to
// the caller, per spec.md's explicit Non-goal on application-message
// encryption.
type EventCipher interface {
	Seal(key, plaintext []byte) ([]byte, error)
	Open(key, ciphertext []byte) ([]byte, error)
}

// exporterLabel is the label GroupEvent derives its AEAD key under
// via the group's export_secret operation.
const exporterLabel = "nostr"

// exporterKeyLength is the AEAD key length requested from the
// exporter secret; 32 bytes fits every AEAD an EventCipher is likely
// to wrap (ChaCha20-Poly1305, AES-256-GCM).
const exporterKeyLength = 32

// GroupEvent is the kind-445 wrapper around an MLS-application
// message: group state advances only through the mls.Group façade,
// this type's job is purely to carry the resulting ciphertext (and
// the group/epoch it belongs to) in Nostr event shape.
type GroupEvent struct {
	GroupID    []byte
	Epoch      uint64
	Ciphertext []byte
}

// SealGroupEvent exports an AEAD key from group at its current
// epoch, seals plaintext with cipher, and returns the resulting
// kind-445 event content wrapper ready for ToEvent.
func SealGroupEvent(group *mls.Group, cipher EventCipher, plaintext []byte) (GroupEvent, error) {
	key, err := group.ExportSecret(exporterLabel, nil, exporterKeyLength)
	if err != nil {
		return GroupEvent{}, err
	}
	ct, err := cipher.Seal(key, plaintext)
	if err != nil {
		return GroupEvent{}, errors.Wrap(ErrSignFailure, err.Error())
	}
	return GroupEvent{GroupID: group.GroupID, Epoch: group.CurrentEpoch(), Ciphertext: ct}, nil
}

// OpenGroupEvent is SealGroupEvent's inverse: export the same AEAD
// key from group and open ge.Ciphertext with cipher.
func OpenGroupEvent(group *mls.Group, cipher EventCipher, ge GroupEvent) ([]byte, error) {
	key, err := group.ExportSecret(exporterLabel, nil, exporterKeyLength)
	if err != nil {
		return nil, err
	}
	pt, err := cipher.Open(key, ge.Ciphertext)
	if err != nil {
		return nil, errors.Wrap(ErrSignFailure, err.Error())
	}
	return pt, nil
}

// ToEvent renders ge as an unsigned kind-445 event, tagged with the
// group id (hex) so a relay-side filter can route it without
// decrypting; the epoch is not put on the event.
func (ge GroupEvent) ToEvent(createdAt int64) *Event {
	tags := []Tag{
		{"h", hex.EncodeToString(ge.GroupID)},
	}
	return &Event{
		Kind:      KindGroup,
		CreatedAt: createdAt,
		Tags:      tags,
		Content:   ge.Ciphertext,
	}
}

// GroupEventFromEvent decodes a kind-445 event back into a
// GroupEvent; Epoch is left at zero since it is not carried on the
// wire (a relay-visible epoch tag would leak group activity rate) —
// a caller recovers it from the group's own bookkeeping once opened.
func GroupEventFromEvent(ev *Event) (GroupEvent, error) {
	if ev.Kind != KindGroup {
		return GroupEvent{}, errors.Wrapf(ErrWrongKind, "want %d, got %d", KindGroup, ev.Kind)
	}
	h := findTag(ev.Tags, "h")
	if len(h) != 1 {
		return GroupEvent{}, errors.Wrap(ErrMissingTag, "h")
	}
	groupID, err := hex.DecodeString(h[0])
	if err != nil {
		return GroupEvent{}, errors.Wrap(ErrMalformedEvent, "h: "+err.Error())
	}
	return GroupEvent{GroupID: groupID, Ciphertext: ev.Content}, nil
}

// logTags is a debugging helper for callers embedding a zap logger:
// it renders an event's tag names in a stable order, matching the
// core façade's structured-logging style.
func logTags(ev *Event) []string {
	names := make([]string, 0, len(ev.Tags))
	for _, t := range ev.Tags {
		if len(t) > 0 {
			names = append(names, t[0])
		}
	}
	sort.Strings(names)
	return names
}

// LogEvent emits a debug entry describing ev's shape (kind, tag
// names, content length) without leaking its content, in the same
// zap style the core façade logs epoch transitions.
func LogEvent(logger *zap.Logger, op string, ev *Event) {
	if logger == nil {
		return
	}
	logger.Debug("nipee event",
		zap.String("op", op),
		zap.Uint16("kind", uint16(ev.Kind)),
		zap.Strings("tags", logTags(ev)),
		zap.Int("content_len", len(ev.Content)),
	)
}
