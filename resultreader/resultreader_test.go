package resultreader

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func md5HexOf(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestNewRejectsNonIntegerContentLength(t *testing.T) {
	_, err := New(strings.NewReader("body"), "not-a-number", "", false)
	require.Error(t, err)
}

func TestWriteToValidatesLengthAndETag(t *testing.T) {
	body := "hello world"
	r, err := New(strings.NewReader(body), "11", md5HexOf(body), false)
	require.NoError(t, err)

	var buf bytes.Buffer
	n, err := r.WriteTo(&buf)
	require.NoError(t, err)
	assert.EqualValues(t, 11, n)
	assert.Equal(t, body, buf.String())
}

func TestWriteToFailsOnLengthMismatch(t *testing.T) {
	body := "hello world"
	r, err := New(strings.NewReader(body), "999", md5HexOf(body), false)
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = r.WriteTo(&buf)
	require.Error(t, err)
}

func TestWriteToFailsOnETagMismatch(t *testing.T) {
	body := "hello world"
	r, err := New(strings.NewReader(body), "11", "wrongetag", false)
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = r.WriteTo(&buf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "md5 mismatch")
}

func TestLargeObjectSuppressesValidation(t *testing.T) {
	body := "segment 1segment 2"
	r, err := New(strings.NewReader(body), "999", "not-a-content-hash", true)
	require.NoError(t, err)

	var buf bytes.Buffer
	n, err := r.WriteTo(&buf)
	require.NoError(t, err)
	assert.EqualValues(t, len(body), n)
}

func TestMissingContentLengthFailsValidation(t *testing.T) {
	body := "hello"
	r, err := New(strings.NewReader(body), "", md5HexOf(body), false)
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = r.WriteTo(&buf)
	require.Error(t, err)
}
