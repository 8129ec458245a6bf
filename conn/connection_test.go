package conn

import (
	"context"
	"testing"

	"github.com/ncw/swift/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaypath/swiftengine/swifterr"
)

func TestShouldRetryStatusCodes(t *testing.T) {
	ctx := context.Background()
	for status, want := range retryStatusCodes {
		err := &swift.Error{StatusCode: status}
		assert.Equal(t, want, shouldRetry(ctx, err), "status %d", status)
	}
	assert.False(t, shouldRetry(ctx, &swift.Error{StatusCode: 404}))
	assert.False(t, shouldRetry(ctx, &swift.Error{StatusCode: 400}))
}

func TestShouldRetryRespectsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, shouldRetry(ctx, &swift.Error{StatusCode: 500}))
}

func TestShouldRetryNonSwiftError(t *testing.T) {
	ctx := context.Background()
	assert.False(t, shouldRetry(ctx, assertErr{}))
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }

func TestParseQueryString(t *testing.T) {
	values := parseQueryString("multipart-manifest=get")
	require.Contains(t, values, "multipart-manifest")
	assert.Equal(t, []string{"get"}, values["multipart-manifest"])

	empty := parseQueryString("")
	assert.Empty(t, empty)

	flag := parseQueryString("multipart-manifest")
	assert.Equal(t, []string{""}, flag["multipart-manifest"])
}

func TestWrapSwiftErrorCarriesHTTPStatus(t *testing.T) {
	err := wrapSwiftError("get_object", &swift.Error{StatusCode: 404, Text: "not found"})
	domainErr, ok := err.(*swifterr.Error)
	require.True(t, ok)
	assert.Contains(t, domainErr.Error(), "get_object")
	assert.Equal(t, 404, domainErr.HTTPStatus)
}

func TestWrapSwiftErrorNil(t *testing.T) {
	assert.Nil(t, wrapSwiftError("get_object", nil))
}
