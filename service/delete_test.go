package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaypath/swiftengine/conn"
	"github.com/relaypath/swiftengine/executor"
	"github.com/relaypath/swiftengine/largeobject"
)

func newTestService(fc *fakeConnection) *SwiftService {
	return &SwiftService{
		pool:      &fakePool{conn: fc},
		executor:  executor.New(10),
		inspector: largeobject.NewInspector(),
	}
}

func drain(ch <-chan *executor.Result) []*executor.Result {
	var out []*executor.Result
	for r := range ch {
		out = append(out, r)
	}
	return out
}

// TestDeleteObjectDLO covers a DLO delete: HeadObject reports
// x-object-manifest, the segment container pages in two batches, each
// segment is deleted, and the main object delete carries
// dlo_segments_deleted.
func TestDeleteObjectDLO(t *testing.T) {
	fc := newFakeConnection()
	fc.headObjectHeaders[key("test", "test")] = conn.Headers{"X-Object-Manifest": "test_segments/test/"}
	fc.containerPages["test_segments"] = [][]conn.ObjectInfo{
		{{Name: "test/0001", Bytes: 1024, Hash: "aaa"}, {Name: "test/0002", Bytes: 1024, Hash: "bbb"}},
		{},
	}

	svc := newTestService(fc)
	results := drain(svc.DeleteObject(context.Background(), "test", "test", DeleteOptions{}))

	require.NotEmpty(t, results)
	final := results[len(results)-1]
	assert.True(t, final.Success)
	assert.Equal(t, executor.ActionDeleteObject, final.Action)
	assert.True(t, final.Bool("dlo_segments_deleted"))

	fc.mu.Lock()
	defer fc.mu.Unlock()
	assert.Len(t, fc.deleteCalls, 3) // 2 segments + main object
	assert.Equal(t, "test", fc.deleteCalls[len(fc.deleteCalls)-1].Container)
	assert.Equal(t, "test", fc.deleteCalls[len(fc.deleteCalls)-1].Object)
}

// TestDeleteObjectSLOQueriesMultipartDelete confirms the bulk delete
// query string is used for the manifest object itself.
func TestDeleteObjectSLOQueriesMultipartDelete(t *testing.T) {
	fc := newFakeConnection()
	fc.headObjectHeaders[key("test", "big")] = conn.Headers{"X-Static-Large-Object": "true"}
	fc.manifests[key("test", "big")] = []byte(`[{"name":"/test_segments/big/00000000","bytes":1024,"hash":"aaa"}]`)

	svc := newTestService(fc)
	drain(svc.DeleteObject(context.Background(), "test", "big", DeleteOptions{}))

	fc.mu.Lock()
	defer fc.mu.Unlock()
	require.NotEmpty(t, fc.deleteCalls)
	last := fc.deleteCalls[len(fc.deleteCalls)-1]
	assert.Equal(t, "multipart-manifest=delete", last.QueryString)
}

// TestDeleteObjectNotFoundIsIdempotent confirms a missing object is
// reported as a successful no-op rather than a failure.
func TestDeleteObjectNotFoundIsIdempotent(t *testing.T) {
	fc := newFakeConnection()
	fc.headObjectErr[key("test", "ghost")] = notFoundErr("head_object")

	svc := newTestService(fc)
	results := drain(svc.DeleteObject(context.Background(), "test", "ghost", DeleteOptions{}))

	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
	assert.Equal(t, "not_found", results[0].Str("status"))
}

// TestDeleteObjectLeaveSegmentsSkipsSegmentDeletes confirms
// LeaveSegments suppresses the segment fan-out entirely.
func TestDeleteObjectLeaveSegmentsSkipsSegmentDeletes(t *testing.T) {
	fc := newFakeConnection()
	fc.headObjectHeaders[key("test", "test")] = conn.Headers{"X-Object-Manifest": "test_segments/test/"}
	fc.containerPages["test_segments"] = [][]conn.ObjectInfo{
		{{Name: "test/0001", Bytes: 1024, Hash: "aaa"}},
		{},
	}

	svc := newTestService(fc)
	results := drain(svc.DeleteObject(context.Background(), "test", "test", DeleteOptions{LeaveSegments: true}))

	require.Len(t, results, 1)
	assert.False(t, results[0].Bool("dlo_segments_deleted"))

	fc.mu.Lock()
	defer fc.mu.Unlock()
	assert.Len(t, fc.deleteCalls, 1)
}
