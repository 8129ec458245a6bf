package service

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/relaypath/swiftengine/conn"
	"github.com/relaypath/swiftengine/swifterr"
)

// fakeConnection is a minimal, fully in-memory stand-in for
// conn.Connection, the same boundary rclone's own backend tests stub
// *swift.Connection at in backend/swift/swift_internal_test.go.
type fakeConnection struct {
	mu sync.Mutex

	headObjectHeaders map[string]conn.Headers      // "container/object" -> headers
	headObjectInfo    map[string]conn.ObjectInfo    // "container/object" -> info
	headObjectErr     map[string]error              // "container/object" -> error (e.g. 404)
	manifests         map[string][]byte             // "container/object" -> raw SLO manifest JSON
	containerPages    map[string][][]conn.ObjectInfo // container -> ordered pages
	getObjectBodies   map[string]getObjectResponse   // "container/object" -> canned body/headers/err

	putEtags map[string]string // "container/object" -> etag to return from PutObject

	deleteCalls []deleteCall
	putCalls    []putCall

	attempts int
}

type getObjectResponse struct {
	body    string
	headers conn.Headers
	err     error
}

type deleteCall struct {
	Container, Object, QueryString string
}

type putCall struct {
	Container, Object string
	Body              string
}

func newFakeConnection() *fakeConnection {
	return &fakeConnection{
		headObjectHeaders: map[string]conn.Headers{},
		headObjectInfo:    map[string]conn.ObjectInfo{},
		headObjectErr:     map[string]error{},
		manifests:         map[string][]byte{},
		containerPages:    map[string][][]conn.ObjectInfo{},
		getObjectBodies:   map[string]getObjectResponse{},
		putEtags:          map[string]string{},
	}
}

func key(container, object string) string { return container + "/" + object }

func (f *fakeConnection) GetAccount(ctx context.Context, opts conn.AccountOpts) ([]conn.ContainerInfo, conn.Headers, error) {
	return nil, nil, nil
}

func (f *fakeConnection) GetContainer(ctx context.Context, container string, opts conn.ContainerOpts) ([]conn.ObjectInfo, conn.Headers, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pages := f.containerPages[container]
	idx := 0
	if opts.Marker != "" {
		for i := range pages {
			idx = i + 1
			if i < len(pages) && len(pages[i]) > 0 && pages[i][len(pages[i])-1].Name == opts.Marker {
				break
			}
		}
	}
	if idx >= len(pages) {
		return nil, nil, nil
	}
	return pages[idx], nil, nil
}

func (f *fakeConnection) HeadContainer(ctx context.Context, container string) (conn.Headers, error) {
	return conn.Headers{}, nil
}

func (f *fakeConnection) HeadObject(ctx context.Context, container, object string) (conn.ObjectInfo, conn.Headers, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := key(container, object)
	if err, ok := f.headObjectErr[k]; ok {
		return conn.ObjectInfo{}, nil, err
	}
	return f.headObjectInfo[k], f.headObjectHeaders[k], nil
}

func (f *fakeConnection) GetObject(ctx context.Context, container, object, queryString string, reqHeaders conn.Headers) (io.ReadCloser, conn.Headers, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := key(container, object)
	if queryString == "multipart-manifest=get" {
		if data, ok := f.manifests[k]; ok {
			return io.NopCloser(strings.NewReader(string(data))), conn.Headers{}, nil
		}
	}
	if resp, ok := f.getObjectBodies[k]; ok {
		if resp.err != nil {
			return nil, resp.headers, resp.err
		}
		return io.NopCloser(strings.NewReader(resp.body)), resp.headers, nil
	}
	return io.NopCloser(strings.NewReader("")), conn.Headers{}, nil
}

func (f *fakeConnection) PutObject(ctx context.Context, container, object string, body io.Reader, checkHash bool, etag, contentType string, headers conn.Headers) (conn.Headers, error) {
	data, _ := io.ReadAll(body)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.putCalls = append(f.putCalls, putCall{Container: container, Object: object, Body: string(data)})
	k := key(container, object)
	rxEtag := f.putEtags[k]
	return conn.Headers{"Etag": rxEtag}, nil
}

func (f *fakeConnection) PutManifest(ctx context.Context, container, object string, body io.Reader, headers conn.Headers) (conn.Headers, error) {
	data, _ := io.ReadAll(body)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.putCalls = append(f.putCalls, putCall{Container: container, Object: object, Body: string(data)})
	return conn.Headers{}, nil
}

func (f *fakeConnection) PostObject(ctx context.Context, container, object string, headers conn.Headers) error {
	return nil
}

func (f *fakeConnection) CopyObject(ctx context.Context, srcContainer, srcObject, dstContainer, dstObject string, headers conn.Headers) (conn.Headers, error) {
	return conn.Headers{}, nil
}

func (f *fakeConnection) DeleteObject(ctx context.Context, container, object, queryString string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls = append(f.deleteCalls, deleteCall{Container: container, Object: object, QueryString: queryString})
	return nil
}

func (f *fakeConnection) PutContainer(ctx context.Context, container string, headers conn.Headers) error {
	return nil
}

func (f *fakeConnection) DeleteContainer(ctx context.Context, container string) error { return nil }

func (f *fakeConnection) Attempts() int          { return 1 }
func (f *fakeConnection) AuthEndTime() time.Time { return time.Time{} }

// fakePool is a connectionSource that always hands back the same
// fakeConnection.
type fakePool struct {
	conn *fakeConnection
}

func (p *fakePool) Borrow(ctx context.Context) (conn.Connection, error) { return p.conn, nil }
func (p *fakePool) Return(conn.Connection)                              {}
func (p *fakePool) MakeContainer(ctx context.Context, container string) error { return nil }

// notFoundErr builds the domain error HeadObject/DeleteObject return
// for a 404 the same way conn.wrapSwiftError would.
func notFoundErr(op string) error {
	return swifterr.Newf(swifterr.KindTransport, op, "not found").WithHTTPStatus(http.StatusNotFound)
}

// notModifiedErr builds the domain error GetObject returns for a 304
// skip-identical probe.
func notModifiedErr(op string) error {
	return swifterr.Newf(swifterr.KindTransport, op, "not modified").WithHTTPStatus(http.StatusNotModified)
}
