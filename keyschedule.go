package mls

import (
	"github.com/nipee/mls/ciphersuite"
)

// EpochSecrets is the full derivation graph spec.md §4.8 computes at
// every commit: joiner_secret and welcome_secret bootstrap joiners
// off the Welcome path, epoch_secret is the root every other per-epoch
// secret hangs from.
type EpochSecrets struct {
	JoinerSecret  []byte
	WelcomeSecret []byte
	EpochSecret   []byte

	SenderDataSecret []byte
	EncryptionSecret []byte
	ExporterSecret   []byte
	ExternalSecret   []byte
	ConfirmationKey  []byte
	MembershipKey    []byte
	ResumptionPSK    []byte
	InitSecret       []byte
}

// zeroPSK returns the all-zero psk_secret used absent any PSK
// injection (spec.md §4.8).
func zeroPSK(suite ciphersuite.Suite) []byte {
	return make([]byte, suite.Nh())
}

// DeriveEpochSecrets runs spec.md §4.8's epoch secret graph forward
// from the previous epoch's init_secret and the commit_secret TreeKEM
// just produced. pskSecret should be zeroPSK(suite) absent a PSK
// injection (the core exposes only the resumption slot; see the
// group façade).
func DeriveEpochSecrets(suite ciphersuite.Suite, initSecret, commitSecret, groupContext, pskSecret []byte) (EpochSecrets, error) {
	if pskSecret == nil {
		pskSecret = zeroPSK(suite)
	}

	commitExtract := suite.Extract(initSecret, commitSecret)
	joinerSecret, err := suite.DeriveSecret(commitExtract, "joiner")
	if err != nil {
		return EpochSecrets{}, err
	}

	pskExtract := suite.Extract(joinerSecret, pskSecret)
	welcomeSecret, err := suite.DeriveSecret(pskExtract, "welcome")
	if err != nil {
		return EpochSecrets{}, err
	}
	epochSecret, err := suite.ExpandWithLabel(pskExtract, "epoch", groupContext, suite.Nh())
	if err != nil {
		return EpochSecrets{}, err
	}

	derive := func(label string) ([]byte, error) {
		return suite.DeriveSecret(epochSecret, label)
	}

	out := EpochSecrets{
		JoinerSecret:  joinerSecret,
		WelcomeSecret: welcomeSecret,
		EpochSecret:   epochSecret,
	}
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

// InitialEpochSecrets derives epoch zero's secrets for a group's
// founder: there is no prior epoch, so init_secret starts as an
// all-zero Nh-length string and commit_secret is the founder's own
// leaf secret run through the same graph as any other commit.
func InitialEpochSecrets(suite ciphersuite.Suite, founderLeafSecret, groupContext []byte) (EpochSecrets, error) {
	return DeriveEpochSecrets(suite, zeroPSK(suite), founderLeafSecret, groupContext, nil)
}

// Export implements the exporter interface of spec.md §4.3/§4.8: the
// only caller-visible consumer of exporter_secret.
func (s EpochSecrets) Export(suite ciphersuite.Suite, label string, context []byte, length int) ([]byte, error) {
	return suite.ExporterSecret(s.ExporterSecret, label, context, length)
}
