package mls_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	mls "github.com/nipee/mls"
	"github.com/nipee/mls/wireformat"
)

func TestExtensionListAddFindRoundTrip(t *testing.T) {
	var el mls.ExtensionList
	require.NoError(t, el.Add(mls.NostrRelaysExtension{Relays: [][]byte{[]byte("wss://a"), []byte("wss://b")}}))
	require.True(t, el.Has(mls.ExtensionTypeNostrRelays))

	var got mls.NostrRelaysExtension
	found, err := el.Find(&got)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, [][]byte{[]byte("wss://a"), []byte("wss://b")}, got.Relays)
}

func TestExtensionListAddReplacesExistingEntry(t *testing.T) {
	var el mls.ExtensionList
	require.NoError(t, el.Add(mls.NostrRelaysExtension{Relays: [][]byte{[]byte("wss://a")}}))
	require.NoError(t, el.Add(mls.NostrRelaysExtension{Relays: [][]byte{[]byte("wss://b")}}))
	require.Len(t, el.Entries, 1)

	var got mls.NostrRelaysExtension
	_, err := el.Find(&got)
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("wss://b")}, got.Relays)
}

func TestExtensionListFindMissingReportsNotFound(t *testing.T) {
	var el mls.ExtensionList
	var got mls.ParentHashExtension
	found, err := el.Find(&got)
	require.NoError(t, err)
	require.False(t, found)
}

func TestExtensionListRoundTrip(t *testing.T) {
	// spec.md invariant 4.
	var el mls.ExtensionList
	require.NoError(t, el.Add(mls.LastResortExtension{}))
	require.NoError(t, el.Add(mls.ParentHashExtension{ParentHash: []byte{1, 2, 3}}))

	encoded, err := wireformat.Marshal(el)
	require.NoError(t, err)

	var decoded mls.ExtensionList
	require.NoError(t, wireformat.Unmarshal(encoded, &decoded))
	require.True(t, decoded.Has(mls.ExtensionTypeLastResort))

	var ph mls.ParentHashExtension
	found, err := decoded.Find(&ph)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte{1, 2, 3}, ph.ParentHash)

	require.Error(t, wireformat.Unmarshal(append(encoded, 0x00), &decoded))
}
