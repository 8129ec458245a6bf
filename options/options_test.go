package options

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergePrecedence(t *testing.T) {
	global := Bag{"workers": 10, "checksum": true}
	service := Bag{"workers": 20}
	call := Bag{"checksum": false}

	merged := global.Merge(service).Merge(call)
	assert.Equal(t, 20, merged["workers"])
	assert.Equal(t, false, merged["checksum"])
}

func TestDecodeIntoAuthOptions(t *testing.T) {
	b := Bag{"auth_version": "2.0", "user": "alice", "key": "secret"}
	var auth AuthOptions
	require.NoError(t, Decode(b, &auth))
	assert.Equal(t, "2.0", auth.AuthVersion)
	assert.Equal(t, "alice", auth.User)
}

func TestNormalizeDefaultsAuthVersion(t *testing.T) {
	auth := AuthOptions{}
	auth.Normalize()
	assert.Equal(t, "2.0", auth.AuthVersion)
	assert.NotNil(t, auth.OSOptions)
}

func TestNormalizeLeavesExplicitV3Alone(t *testing.T) {
	auth := AuthOptions{AuthVersion: "3"}
	auth.Normalize()
	assert.Equal(t, "3", auth.AuthVersion)
}

func TestNormalizeLeavesCompleteLegacyTrioAlone(t *testing.T) {
	auth := AuthOptions{Auth: "a", User: "u", Key: "k"}
	auth.Normalize()
	assert.Equal(t, "", auth.AuthVersion)
}

func TestNormalizeCopiesOSCredentialsOverEmptyLegacy(t *testing.T) {
	auth := AuthOptions{OSAuthURL: "http://example", OSUsername: "bob", OSPassword: "pw"}
	auth.Normalize()
	assert.Equal(t, "http://example", auth.Auth)
	assert.Equal(t, "bob", auth.User)
	assert.Equal(t, "pw", auth.Key)
}

func TestSplitHeadersTitleCasesAndPrefixes(t *testing.T) {
	out, err := SplitHeaders([]string{"content-type:text/plain"}, "X-Object-Meta-")
	require.NoError(t, err)
	assert.Equal(t, "text/plain", out["X-Object-Meta-Content-Type"])
}

func TestSplitHeadersRejectsMissingColon(t *testing.T) {
	_, err := SplitHeaders([]string{"no-colon-here"}, "")
	assert.Error(t, err)
}
