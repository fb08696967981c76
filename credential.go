package mls

import (
	"crypto/x509"
	"reflect"

	"github.com/pkg/errors"

	"github.com/nipee/mls/ciphersuite"
	"github.com/nipee/mls/wireformat"
)

// CredentialType discriminates the two variants spec.md §4.5 allows:
// Basic is mandatory, X509 is a forward-compatible slot reserved for
// a future certificate-chain credential variant.
type CredentialType uint8

const (
	CredentialTypeBasic CredentialType = 0
	CredentialTypeX509  CredentialType = 1
)

// BasicCredential is the only mandatory credential variant: a bare
// identity bound to a signature public key.
//
//	struct {
//	    opaque identity<0..2^16-1>;
//	    SignatureScheme signature_scheme;
//	    SignaturePublicKey public_key;
//	} BasicCredential;
type BasicCredential struct {
	Identity        []byte `tls:"head=2"`
	SignatureScheme ciphersuite.SignatureScheme
	PublicKey       ciphersuite.SignaturePublicKey
}

// X509Credential is the reserved certificate-chain variant. It is not
// exercised by the core group operations (spec.md §1 Non-goals: "no
// external identity format beyond a basic identity credential"), but
// the type is kept so the tagged-union codec round-trips it.
type X509Credential struct {
	Chain []*x509.Certificate
}

func (cred X509Credential) scheme() (ciphersuite.SignatureScheme, error) {
	if len(cred.Chain) == 0 {
		return 0, errors.Wrap(ErrInvalidCapability, "empty certificate chain")
	}
	switch cred.Chain[0].PublicKeyAlgorithm {
	case x509.ECDSA:
		return ciphersuite.ECDSA_P256_SHA256, nil
	case x509.Ed25519:
		return ciphersuite.Ed25519, nil
	default:
		return 0, errors.Wrap(ErrUnsupportedSuite, "unsupported certificate public key algorithm")
	}
}

type certChainData struct {
	Data []byte `tls:"head=3"`
}

func (cred X509Credential) MarshalTLS() ([]byte, error) {
	var all []byte
	for _, cert := range cred.Chain {
		all = append(all, cert.Raw...)
	}
	return wireformat.Marshal(certChainData{all})
}

func (cred *X509Credential) UnmarshalTLS(data []byte) (int, error) {
	var cd certChainData
	n := len(data)
	if err := wireformat.Unmarshal(data, &cd); err != nil {
		return 0, err
	}

	certs, err := x509.ParseCertificates(cd.Data)
	if err != nil {
		return 0, errors.Wrap(ErrMalformedWire, err.Error())
	}
	cred.Chain = certs
	return n, nil
}

// Credential is the tagged union spec.md §4.5 describes. Exactly one
// of Basic/X509 is populated at a time.
//
//	struct {
//	    CredentialType credential_type;
//	    select (Credential.credential_type) {
//	        case basic: BasicCredential;
//	        case x509:  opaque cert_data<1..2^24-1>;
//	    };
//	} Credential;
type Credential struct {
	Basic *BasicCredential
	X509  *X509Credential
}

// NewBasicCredential builds the mandatory credential variant.
func NewBasicCredential(identity []byte, scheme ciphersuite.SignatureScheme, pub ciphersuite.SignaturePublicKey) Credential {
	return Credential{Basic: &BasicCredential{
		Identity:        dup(identity),
		SignatureScheme: scheme,
		PublicKey:       pub,
	}}
}

// NewX509Credential builds the reserved certificate-chain variant.
func NewX509Credential(chain []*x509.Certificate) (Credential, error) {
	if len(chain) == 0 {
		return Credential{}, errors.Wrap(ErrMalformedWire, "x509 credential requires at least one certificate")
	}
	return Credential{X509: &X509Credential{Chain: chain}}, nil
}

func (c Credential) Type() CredentialType {
	switch {
	case c.X509 != nil:
		return CredentialTypeX509
	case c.Basic != nil:
		return CredentialTypeBasic
	default:
		panic("mls: malformed credential")
	}
}

// Identity returns the bare identity bytes: the BasicCredential
// identity, or the leaf certificate's raw subject for X509.
func (c Credential) Identity() []byte {
	switch c.Type() {
	case CredentialTypeX509:
		return c.X509.Chain[0].RawSubject
	default:
		return c.Basic.Identity
	}
}

func (c Credential) Scheme() (ciphersuite.SignatureScheme, error) {
	switch c.Type() {
	case CredentialTypeX509:
		return c.X509.scheme()
	default:
		return c.Basic.SignatureScheme, nil
	}
}

func (c Credential) PublicKey() (ciphersuite.SignaturePublicKey, error) {
	switch c.Type() {
	case CredentialTypeX509:
		scheme, err := c.X509.scheme()
		if err != nil {
			return ciphersuite.SignaturePublicKey{}, err
		}
		switch pub := c.X509.Chain[0].PublicKey.(type) {
		case interface{ Bytes() []byte }:
			return ciphersuite.SignaturePublicKey{Scheme: scheme, Data: pub.Bytes()}, nil
		default:
			return ciphersuite.SignaturePublicKey{}, errors.Wrap(ErrUnsupportedSuite, "unsupported certificate public key type")
		}
	default:
		return c.Basic.PublicKey, nil
	}
}

// Equals compares the public aspects of two credentials.
func (c Credential) Equals(o Credential) bool {
	if c.Type() != o.Type() {
		return false
	}
	switch c.Type() {
	case CredentialTypeX509:
		if len(c.X509.Chain) != len(o.X509.Chain) {
			return false
		}
		for i := range c.X509.Chain {
			if !c.X509.Chain[i].Equal(o.X509.Chain[i]) {
				return false
			}
		}
		return true
	default:
		return reflect.DeepEqual(c.Basic, o.Basic)
	}
}

func (c Credential) MarshalTLS() ([]byte, error) {
	w := wireformat.NewWriter()
	if err := w.Marshal(c.Type()); err != nil {
		return nil, err
	}

	var err error
	switch c.Type() {
	case CredentialTypeX509:
		err = w.Marshal(c.X509)
	default:
		err = w.Marshal(c.Basic)
	}
	if err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func (c *Credential) UnmarshalTLS(data []byte) (int, error) {
	r := wireformat.NewReader(data)
	var ct CredentialType
	if err := r.Unmarshal(&ct); err != nil {
		return 0, err
	}

	var err error
	switch ct {
	case CredentialTypeX509:
		c.X509 = new(X509Credential)
		err = r.Unmarshal(c.X509)
	case CredentialTypeBasic:
		c.Basic = new(BasicCredential)
		err = r.Unmarshal(c.Basic)
	default:
		err = errors.Wrapf(ErrMalformedWire, "unknown credential type %d", ct)
	}
	if err != nil {
		return 0, err
	}
	return r.Consumed(), nil
}
