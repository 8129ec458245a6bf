// Package conn defines the capability set the engine needs from the
// storage service's low-level HTTP connection (spec §9) and a pool that
// produces instances of it, each holding endpoint + token + retry
// budget (spec §3 "Connection Pool").
//
// The low-level wire protocol itself is explicitly out of this spec's
// scope (spec §1); this package's job is the thin, retry-counting shim
// around it, adapted from rclone's backend/swift/swift.go
// (swiftConnection, shouldRetry, shouldRetryHeaders, makeContainer) and
// backed by the real github.com/ncw/swift/v2 client, the same library
// rclone's own swift backend wraps.
package conn

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jpillora/backoff"
	"github.com/ncw/swift/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/relaypath/swiftengine/swifterr"
)

// Headers is a case-insensitive-by-convention header bag, mirroring
// swift.Headers at the boundary so callers never need to import the
// transport library directly.
type Headers map[string]string

// ContainerInfo is the subset of container metadata the engine needs.
type ContainerInfo struct {
	Name        string
	Bytes       int64
	Count       int64
	QuotaBytes  int64
}

// ObjectInfo is the subset of object metadata the engine needs.
type ObjectInfo struct {
	Name         string
	Bytes        int64
	Hash         string // etag
	ContentType  string
	LastModified time.Time
	SubSLO       bool // true when this entry is itself a manifest (nested SLO)
}

// AccountOpts configures GetAccount paging.
type AccountOpts struct {
	Prefix string
	Marker string
	Limit  int
}

// ContainerOpts configures GetContainer paging.
type ContainerOpts struct {
	Prefix string
	Marker string
	Limit  int
}

// Connection is the capability set spec §9 asks us to depend on rather
// than a concrete transport: get_account, get_container, head_object,
// get_object, put_object, post_object, copy_object, delete_object,
// put_container, delete_container, plus an attempts counter and
// auth_end_time.
type Connection interface {
	GetAccount(ctx context.Context, opts AccountOpts) ([]ContainerInfo, Headers, error)
	GetContainer(ctx context.Context, container string, opts ContainerOpts) ([]ObjectInfo, Headers, error)
	HeadContainer(ctx context.Context, container string) (Headers, error)
	HeadObject(ctx context.Context, container, object string) (ObjectInfo, Headers, error)
	GetObject(ctx context.Context, container, object, queryString string, reqHeaders Headers) (io.ReadCloser, Headers, error)
	PutObject(ctx context.Context, container, object string, body io.Reader, checkHash bool, etag, contentType string, headers Headers) (Headers, error)
	// PutManifest PUTs an SLO manifest body with ?multipart-manifest=put,
	// the one write operation that needs a raw query string rather than
	// a capability ncw/swift/v2 exposes at the high level (spec §6).
	PutManifest(ctx context.Context, container, object string, body io.Reader, headers Headers) (Headers, error)
	PostObject(ctx context.Context, container, object string, headers Headers) error
	CopyObject(ctx context.Context, srcContainer, srcObject, dstContainer, dstObject string, headers Headers) (Headers, error)
	DeleteObject(ctx context.Context, container, object, queryString string) error
	PutContainer(ctx context.Context, container string, headers Headers) error
	DeleteContainer(ctx context.Context, container string) error

	// Attempts is the number of HTTP attempts the most recently
	// completed call made (including retries), for Result.Attempts.
	Attempts() int
	// AuthEndTime is when authentication against the service completed,
	// surfaced on download results (spec §4.5.4).
	AuthEndTime() time.Time
}

// retryStatusCodes mirrors rclone's backend/swift retryErrorCodes: HTTP
// statuses worth a retry rather than an immediate failure.
var retryStatusCodes = map[int]bool{
	401: true, // token expired
	408: true,
	409: true,
	429: true,
	500: true,
	503: true,
	504: true,
}

// RetryPolicy controls how many attempts a single logical call gets and
// how long it sleeps between them. Retries are delegated entirely to the
// Connection, never imposed by the engine itself (spec §7).
type RetryPolicy struct {
	MaxAttempts int
	MinSleep    time.Duration
	MaxSleep    time.Duration
}

// DefaultRetryPolicy matches rclone's swift backend default (10ms min
// sleep, exponential backoff via the pacer).
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 5,
	MinSleep:    10 * time.Millisecond,
	MaxSleep:    2 * time.Second,
}

type swiftConnection struct {
	c      *swift.Connection
	policy RetryPolicy
	log    *logrus.Entry

	attempts    int32
	authEndTime time.Time
}

// New wraps an authenticated *swift.Connection (endpoint + token already
// resolved by the out-of-scope authentication collaborator, spec §1) in
// the engine's Connection capability set.
func New(c *swift.Connection, policy RetryPolicy, log *logrus.Entry) Connection {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &swiftConnection{c: c, policy: policy, log: log}
}

func (sc *swiftConnection) Attempts() int          { return int(atomic.LoadInt32(&sc.attempts)) }
func (sc *swiftConnection) AuthEndTime() time.Time { return sc.authEndTime }

// call runs fn with the retry policy, counting attempts and honouring
// ctx cancellation between attempts (adapted from rclone's
// f.pacer.Call/shouldRetryHeaders pattern in backend/swift/swift.go).
func (sc *swiftConnection) call(ctx context.Context, op string, fn func() (Headers, error)) (Headers, error) {
	b := &backoff.Backoff{Min: sc.policy.MinSleep, Max: sc.policy.MaxSleep, Factor: 2, Jitter: true}
	var lastHeaders Headers
	var lastErr error
	attempts := sc.policy.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	atomic.StoreInt32(&sc.attempts, 0)
	for attempt := 0; attempt < attempts; attempt++ {
		atomic.AddInt32(&sc.attempts, 1)
		lastHeaders, lastErr = fn()
		if lastErr == nil {
			return lastHeaders, nil
		}
		if !shouldRetry(ctx, lastErr) {
			return lastHeaders, wrapSwiftError(op, lastErr)
		}
		sc.log.WithError(lastErr).WithField("attempt", attempt+1).Debug("retrying swift call")
		select {
		case <-ctx.Done():
			return lastHeaders, wrapSwiftError(op, ctx.Err())
		case <-time.After(b.Duration()):
		}
	}
	return lastHeaders, wrapSwiftError(op, lastErr)
}

// shouldRetry decides whether err deserves another attempt, mirroring
// rclone's shouldRetry/shouldRetryHeaders in backend/swift/swift.go.
func shouldRetry(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if swiftErr, ok := err.(*swift.Error); ok {
		return retryStatusCodes[swiftErr.StatusCode]
	}
	return false
}

func wrapSwiftError(op string, err error) error {
	if err == nil {
		return nil
	}
	domainErr := swifterr.New(swifterr.KindTransport, op, err)
	if swiftErr, ok := errors.Cause(err).(*swift.Error); ok {
		domainErr.WithHTTPStatus(swiftErr.StatusCode)
	}
	return domainErr
}

func toHeaders(h swift.Headers) Headers {
	out := make(Headers, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

func fromHeaders(h Headers) swift.Headers {
	out := make(swift.Headers, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

func (sc *swiftConnection) GetAccount(ctx context.Context, opts AccountOpts) ([]ContainerInfo, Headers, error) {
	var result []ContainerInfo
	headers, err := sc.call(ctx, "get_account", func() (Headers, error) {
		containers, err := sc.c.Containers(ctx, &swift.ContainersOpts{Prefix: opts.Prefix, Marker: opts.Marker, Limit: opts.Limit})
		if err != nil {
			return nil, err
		}
		result = make([]ContainerInfo, len(containers))
		for i, c := range containers {
			result[i] = ContainerInfo{Name: c.Name, Bytes: c.Bytes, Count: c.Count, QuotaBytes: c.QuotaBytes}
		}
		return nil, nil
	})
	return result, headers, err
}

func (sc *swiftConnection) GetContainer(ctx context.Context, container string, opts ContainerOpts) ([]ObjectInfo, Headers, error) {
	var result []ObjectInfo
	headers, err := sc.call(ctx, "get_container", func() (Headers, error) {
		objects, err := sc.c.Objects(ctx, container, &swift.ObjectsOpts{
			Prefix: opts.Prefix,
			Marker: opts.Marker,
			Limit:  opts.Limit,
		})
		if err != nil {
			return nil, err
		}
		result = make([]ObjectInfo, len(objects))
		for i, o := range objects {
			result[i] = ObjectInfo{Name: o.Name, Bytes: o.Bytes, Hash: o.Hash, ContentType: o.ContentType, LastModified: o.LastModified}
		}
		return nil, nil
	})
	return result, headers, err
}

func (sc *swiftConnection) HeadContainer(ctx context.Context, container string) (Headers, error) {
	headers, err := sc.call(ctx, "head_container", func() (Headers, error) {
		_, h, err := sc.c.Container(ctx, container)
		return toHeaders(h), err
	})
	return headers, err
}

func (sc *swiftConnection) HeadObject(ctx context.Context, container, object string) (ObjectInfo, Headers, error) {
	var info ObjectInfo
	headers, err := sc.call(ctx, "head_object", func() (Headers, error) {
		o, h, err := sc.c.Object(ctx, container, object)
		if err != nil {
			return toHeaders(h), err
		}
		info = ObjectInfo{Name: o.Name, Bytes: o.Bytes, Hash: o.Hash, ContentType: o.ContentType, LastModified: o.LastModified}
		return toHeaders(h), nil
	})
	return info, headers, err
}

func (sc *swiftConnection) GetObject(ctx context.Context, container, object, queryString string, reqHeaders Headers) (io.ReadCloser, Headers, error) {
	var body io.ReadCloser
	headers, err := sc.call(ctx, "get_object", func() (Headers, error) {
		opts := &swift.RequestOpts{
			Container:  container,
			ObjectName: object,
			Operation:  "GET",
			Headers:    fromHeaders(reqHeaders),
		}
		if queryString != "" {
			opts.Parameters = parseQueryString(queryString)
		}
		resp, h, err := sc.c.Call(ctx, opts)
		if err != nil {
			return toHeaders(h), err
		}
		if resp.StatusCode == http.StatusNotModified {
			_ = resp.Body.Close()
			return toHeaders(h), &swift.Error{StatusCode: http.StatusNotModified, Text: "not modified"}
		}
		body = resp.Body
		return toHeaders(h), nil
	})
	return body, headers, err
}

func (sc *swiftConnection) PutObject(ctx context.Context, container, object string, body io.Reader, checkHash bool, etag, contentType string, headers Headers) (Headers, error) {
	var rx Headers
	_, err := sc.call(ctx, "put_object", func() (Headers, error) {
		h, err := sc.c.ObjectPut(ctx, container, object, body, checkHash, etag, contentType, fromHeaders(headers))
		rx = toHeaders(h)
		return rx, err
	})
	return rx, err
}

func (sc *swiftConnection) PutManifest(ctx context.Context, container, object string, body io.Reader, headers Headers) (Headers, error) {
	var rx Headers
	_, err := sc.call(ctx, "put_object", func() (Headers, error) {
		data, readErr := io.ReadAll(body)
		if readErr != nil {
			return nil, readErr
		}
		opts := &swift.RequestOpts{
			Container:  container,
			ObjectName: object,
			Operation:  "PUT",
			Parameters: parseQueryString("multipart-manifest=put"),
			Headers:    fromHeaders(headers),
			Body:       bytesReader(data),
		}
		resp, h, err := sc.c.Call(ctx, opts)
		if err != nil {
			return toHeaders(h), err
		}
		defer resp.Body.Close()
		rx = toHeaders(h)
		return rx, nil
	})
	return rx, err
}

func (sc *swiftConnection) PostObject(ctx context.Context, container, object string, headers Headers) error {
	_, err := sc.call(ctx, "post_object", func() (Headers, error) {
		return nil, sc.c.ObjectUpdate(ctx, container, object, fromHeaders(headers))
	})
	return err
}

func (sc *swiftConnection) CopyObject(ctx context.Context, srcContainer, srcObject, dstContainer, dstObject string, headers Headers) (Headers, error) {
	var rx Headers
	_, err := sc.call(ctx, "copy_object", func() (Headers, error) {
		h, err := sc.c.ObjectCopy(ctx, srcContainer, srcObject, dstContainer, dstObject, fromHeaders(headers))
		rx = toHeaders(h)
		return rx, err
	})
	return rx, err
}

func (sc *swiftConnection) DeleteObject(ctx context.Context, container, object, queryString string) error {
	_, err := sc.call(ctx, "delete_object", func() (Headers, error) {
		if queryString == "" {
			return nil, sc.c.ObjectDelete(ctx, container, object)
		}
		opts := &swift.RequestOpts{
			Container:  container,
			ObjectName: object,
			Operation:  "DELETE",
			Parameters: parseQueryString(queryString),
			ErrorMap:   swift.ObjectErrorMap,
		}
		_, _, err := sc.c.Call(ctx, opts)
		return nil, err
	})
	return err
}

func (sc *swiftConnection) PutContainer(ctx context.Context, container string, headers Headers) error {
	_, err := sc.call(ctx, "put_container", func() (Headers, error) {
		return nil, sc.c.ContainerCreate(ctx, container, fromHeaders(headers))
	})
	return err
}

func (sc *swiftConnection) DeleteContainer(ctx context.Context, container string) error {
	_, err := sc.call(ctx, "delete_container", func() (Headers, error) {
		return nil, sc.c.ContainerDelete(ctx, container)
	})
	return err
}

// parseQueryString turns "multipart-manifest=get" style strings into
// the url.Values swift.RequestOpts.Parameters expects, the way spec
// §6's literal query strings are expressed.
func parseQueryString(qs string) url.Values {
	values := url.Values{}
	if qs == "" {
		return values
	}
	key, value := qs, ""
	if i := strings.IndexByte(qs, '='); i >= 0 {
		key, value = qs[:i], qs[i+1:]
	}
	values.Set(key, value)
	return values
}

func bytesReader(data []byte) io.Reader {
	return bytes.NewReader(data)
}

// FormatFloatTime renders a time.Time as the float-seconds-since-epoch
// string the service uses for x-object-meta-mtime (spec §4.5.3).
func FormatFloatTime(t time.Time) string {
	return strconv.FormatFloat(float64(t.UnixNano())/1e9, 'f', 6, 64)
}
