package service

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaypath/swiftengine/conn"
	"github.com/relaypath/swiftengine/executor"
)

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "payload.bin")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// TestUploadSegmentEtagMismatchFailsSegment confirms a segment whose
// server-reported etag doesn't match the locally computed MD5 fails
// with an error mentioning "md5 mismatch", and the manifest is never
// written.
func TestUploadSegmentEtagMismatchFailsSegment(t *testing.T) {
	content := strings.Repeat("b", 30) // 3 segments of 10 bytes at segment_size=10
	path := writeTempFile(t, content)
	info, statErr := os.Stat(path)
	require.NoError(t, statErr)

	fc := newFakeConnection()
	// Every segment PUT returns a deliberately wrong etag so each
	// segment's CheckETag fails regardless of its true content MD5.
	for i := 0; i < 3; i++ {
		name := segmentName("test", info.ModTime(), info.Size(), 10, i, "")
		fc.putEtags[key("test_segments", name)] = "badresponseetag"
	}

	svc := newTestService(fc)
	obj, err := NewSwiftUploadObject(path, "test", nil)
	require.NoError(t, err)

	results := drain(svc.Upload(context.Background(), "test", []*SwiftUploadObject{obj}, UploadOptions{
		SegmentSize: "10",
		Checksum:    true,
	}))

	var sawSegmentFailure bool
	var sawManifestUpload bool
	for _, r := range results {
		if r.Action == executor.ActionUploadSegment {
			if !r.Success {
				sawSegmentFailure = true
				require.Error(t, r.Error)
				assert.Contains(t, r.Error.Error(), "md5 mismatch")
			}
		}
		if r.Action == executor.ActionUploadObject && r.Str("status") == "uploaded" {
			sawManifestUpload = true
		}
	}
	assert.True(t, sawSegmentFailure, "expected at least one segment etag mismatch")
	assert.False(t, sawManifestUpload, "manifest must not be written when a segment fails")
}

// TestUploadSkipIdenticalPlainObject confirms a plain object whose
// local MD5 and size already match the remote HEAD is reported as
// skipped-identical without a PUT.
func TestUploadSkipIdenticalPlainObject(t *testing.T) {
	content := "same bytes"
	path := writeTempFile(t, content)
	sum := md5Hex(content)

	fc := newFakeConnection()
	fc.headObjectHeaders[key("test", "test")] = conn.Headers{}
	fc.headObjectInfo[key("test", "test")] = conn.ObjectInfo{Hash: sum, Bytes: int64(len(content))}

	svc := newTestService(fc)
	obj, err := NewSwiftUploadObject(path, "test", nil)
	require.NoError(t, err)

	results := drain(svc.Upload(context.Background(), "test", []*SwiftUploadObject{obj}, UploadOptions{SkipIdentical: true}))

	require.NotEmpty(t, results)
	final := results[len(results)-1]
	assert.True(t, final.Success)
	assert.Equal(t, "skipped-identical", final.Str("status"))

	fc.mu.Lock()
	defer fc.mu.Unlock()
	assert.Empty(t, fc.putCalls)
}

// TestUploadSkipIdenticalNestedSLO confirms a local file matching a
// nested SLO (one leaf segment plus one sub_slo entry whose own two
// leaves are folded into a composite etag) is reported as
// skipped-identical, exercising the recursive LocalIdentity path rather
// than a flat hash over every leaf at once.
func TestUploadSkipIdenticalNestedSLO(t *testing.T) {
	seg1, seg2, seg3 := strings.Repeat("A", 10), strings.Repeat("B", 10), strings.Repeat("C", 10)
	path := writeTempFile(t, seg1+seg2+seg3)

	h1, h2, h3 := md5Hex(seg1), md5Hex(seg2), md5Hex(seg3)
	subEtag := md5Hex(h2 + h3)

	fc := newFakeConnection()
	fc.headObjectHeaders[key("test", "bigobj")] = conn.Headers{"X-Static-Large-Object": "true"}
	fc.manifests[key("test", "bigobj")] = []byte(`[
		{"name": "/segs/leaf1", "bytes": 10, "hash": "` + h1 + `", "sub_slo": false},
		{"name": "/segs/sub", "bytes": 20, "hash": "` + subEtag + `", "sub_slo": true}
	]`)
	fc.manifests[key("segs", "sub")] = []byte(`[
		{"name": "/segs/leaf2", "bytes": 10, "hash": "` + h2 + `"},
		{"name": "/segs/leaf3", "bytes": 10, "hash": "` + h3 + `"}
	]`)

	svc := newTestService(fc)
	obj, err := NewSwiftUploadObject(path, "bigobj", nil)
	require.NoError(t, err)

	results := drain(svc.Upload(context.Background(), "test", []*SwiftUploadObject{obj}, UploadOptions{SkipIdentical: true}))

	require.NotEmpty(t, results)
	final := results[len(results)-1]
	assert.True(t, final.Success)
	assert.Equal(t, "skipped-identical", final.Str("status"))

	fc.mu.Lock()
	defer fc.mu.Unlock()
	assert.Empty(t, fc.putCalls)
}

// TestUploadUnsegmentedPlainObject confirms a small file below the
// segment threshold is uploaded as a single PUT with a matching etag.
func TestUploadUnsegmentedPlainObject(t *testing.T) {
	content := "small file"
	path := writeTempFile(t, content)
	sum := md5Hex(content)

	fc := newFakeConnection()
	fc.putEtags[key("test", "test")] = sum

	svc := newTestService(fc)
	obj, err := NewSwiftUploadObject(path, "test", nil)
	require.NoError(t, err)

	results := drain(svc.Upload(context.Background(), "test", []*SwiftUploadObject{obj}, UploadOptions{Checksum: true}))

	require.NotEmpty(t, results)
	final := results[len(results)-1]
	assert.True(t, final.Success)
	assert.Equal(t, "uploaded", final.Str("status"))

	fc.mu.Lock()
	defer fc.mu.Unlock()
	require.Len(t, fc.putCalls, 1)
	assert.Equal(t, content, fc.putCalls[0].Body)
}
