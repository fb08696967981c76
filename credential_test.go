package mls_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	mls "github.com/nipee/mls"
	"github.com/nipee/mls/wireformat"
)

func TestBasicCredentialRoundTrip(t *testing.T) {
	// spec.md invariant 4: decode(encode(x)) == x.
	suite := newTestSuite()
	sigPriv, err := suite.GenerateSignatureKeyPair()
	require.NoError(t, err)

	cred := mls.NewBasicCredential([]byte("alice"), suite.SignatureScheme(), sigPriv.Public())

	encoded, err := wireformat.Marshal(cred)
	require.NoError(t, err)

	var decoded mls.Credential
	require.NoError(t, wireformat.Unmarshal(encoded, &decoded))
	require.True(t, cred.Equals(decoded))
	require.Equal(t, mls.CredentialTypeBasic, decoded.Type())
	require.Equal(t, []byte("alice"), decoded.Identity())

	pub, err := decoded.PublicKey()
	require.NoError(t, err)
	require.True(t, pub.Equals(sigPriv.Public()))
}

func TestCredentialUnmarshalRejectsTrailingBytes(t *testing.T) {
	suite := newTestSuite()
	sigPriv, err := suite.GenerateSignatureKeyPair()
	require.NoError(t, err)
	cred := mls.NewBasicCredential([]byte("bob"), suite.SignatureScheme(), sigPriv.Public())

	encoded, err := wireformat.Marshal(cred)
	require.NoError(t, err)

	var decoded mls.Credential
	err = wireformat.Unmarshal(append(encoded, 0xff), &decoded)
	require.Error(t, err)
}

func TestCredentialUnmarshalRejectsUnknownType(t *testing.T) {
	var decoded mls.Credential
	err := wireformat.Unmarshal([]byte{0x02}, &decoded)
	require.Error(t, err)
}

func TestCredentialEqualsDistinguishesIdentity(t *testing.T) {
	suite := newTestSuite()
	sigPriv, err := suite.GenerateSignatureKeyPair()
	require.NoError(t, err)

	a := mls.NewBasicCredential([]byte("alice"), suite.SignatureScheme(), sigPriv.Public())
	b := mls.NewBasicCredential([]byte("bob"), suite.SignatureScheme(), sigPriv.Public())
	require.False(t, a.Equals(b))
}
