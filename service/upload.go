package service

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/relaypath/swiftengine/conn"
	"github.com/relaypath/swiftengine/executor"
	"github.com/relaypath/swiftengine/largeobject"
	"github.com/relaypath/swiftengine/options"
	"github.com/relaypath/swiftengine/segreader"
	"github.com/relaypath/swiftengine/swifterr"
)

// UploadOptions configures an upload (spec §4.5.3).
type UploadOptions struct {
	SegmentSize         interface{} // string or int; validated by parseSegmentSize
	SegmentContainer    string
	SegmentNameTemplate string // default "<object>/<mtime>/<size>/<segment_size>/<index:08d>"
	UseSLO              bool
	SkipIdentical       bool
	LeaveSegments       bool
	Headers             []string
	HeaderPrefix        string
	Checksum            bool
}

// parseSegmentSize parses segment_size from an integer or an integer
// string (spec §4.5.3): non-integer values fail immediately with the
// exact message "Segment size should be an integer value". Zero and
// negative values are not rejected; they leave the upload unsegmented.
func parseSegmentSize(raw interface{}) (int64, error) {
	switch v := raw.(type) {
	case nil:
		return 0, nil
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case string:
		if v == "" {
			return 0, nil
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, swifterr.New(swifterr.KindInput, "upload_object", fmt.Errorf("Segment size should be an integer value"))
		}
		return n, nil
	default:
		return 0, swifterr.New(swifterr.KindInput, "upload_object", fmt.Errorf("Segment size should be an integer value"))
	}
}

// Upload ensures the destination container exists, then uploads each
// SwiftUploadObject in turn, segmenting sources at or above
// segment_size (spec §4.5.3).
func (s *SwiftService) Upload(ctx context.Context, container string, objects []*SwiftUploadObject, opts UploadOptions) <-chan *executor.Result {
	out := make(chan *executor.Result, s.executor.Workers()+2)
	go func() {
		defer close(out)

		if err := s.pool.MakeContainer(ctx, container); err != nil {
			emit(ctx, out, errorResult(executor.ActionCreateContainer, 0, err))
			return
		}
		cr := &executor.Result{Action: executor.ActionCreateContainer, Success: true}
		cr.Set("container", container)
		if !emit(ctx, out, cr) {
			return
		}

		segmentSize, err := parseSegmentSize(opts.SegmentSize)
		if err != nil {
			emit(ctx, out, errorResult(executor.ActionUploadObject, 0, err))
			return
		}

		for _, obj := range objects {
			if ctx.Err() != nil {
				return
			}
			for res := range s.uploadOne(ctx, container, obj, segmentSize, opts) {
				if !emit(ctx, out, res) {
					return
				}
			}
		}
	}()
	return out
}

func (s *SwiftService) uploadOne(ctx context.Context, container string, obj *SwiftUploadObject, segmentSize int64, opts UploadOptions) <-chan *executor.Result {
	out := make(chan *executor.Result, 4)
	go func() {
		defer close(out)

		var size int64
		var mtime time.Time
		var path string
		switch src := obj.Source.(type) {
		case string:
			path = src
			info, statErr := os.Stat(src)
			if statErr != nil {
				emit(ctx, out, errorResult(executor.ActionUploadObject, 0, swifterr.New(swifterr.KindTransport, "upload_object", statErr)))
				return
			}
			size = info.Size()
			mtime = info.ModTime()
		default:
			mtime = time.Now()
		}

		headers := map[string]string{}
		if len(opts.Headers) > 0 {
			split, splitErr := options.SplitHeaders(opts.Headers, opts.HeaderPrefix)
			if splitErr != nil {
				emit(ctx, out, errorResult(executor.ActionUploadObject, 0, splitErr))
				return
			}
			for k, v := range split {
				headers[k] = v
			}
		}
		headers["X-Object-Meta-Mtime"] = conn.FormatFloatTime(mtime)

		c, err := s.pool.Borrow(ctx)
		if err != nil {
			emit(ctx, out, errorResult(executor.ActionUploadObject, 0, err))
			return
		}

		if opts.SkipIdentical && path != "" {
			if skipped := s.trySkipIdentical(ctx, c, container, obj, path, size); skipped != nil {
				emit(ctx, out, skipped)
				return
			}
		}

		segmented := segmentSize > 0 && size >= segmentSize
		if !segmented {
			emit(ctx, out, s.uploadUnsegmented(ctx, c, container, obj, path, headers, opts))
			return
		}

		segContainer := opts.SegmentContainer
		if segContainer == "" {
			segContainer = container + "_segments"
		}
		if err := s.pool.MakeContainer(ctx, segContainer); err != nil {
			emit(ctx, out, errorResult(executor.ActionUploadObject, 0, err))
			return
		}

		numSegments := int((size + segmentSize - 1) / segmentSize)
		etags := make([]string, numSegments)
		sizes := make([]int64, numSegments)
		names := make([]string, numSegments)

		handles := make([]executor.Handle, 0, numSegments)
		for i := 0; i < numSegments; i++ {
			i := i
			start := int64(i) * segmentSize
			segLen := segmentSize
			if start+segLen > size {
				segLen = size - start
			}
			sizes[i] = segLen
			names[i] = segmentName(obj.ObjectName, mtime, size, segmentSize, i, opts.SegmentNameTemplate)

			h, submitErr := s.executor.Submit(ctx, executor.JobFunc{
				Kind: executor.ActionUploadSegment,
				Fn:   s.uploadSegmentJob(path, start, segLen, segContainer, names[i], obj.ObjectName, i, opts.Checksum),
			})
			if submitErr != nil {
				emit(ctx, out, errorResult(executor.ActionUploadSegment, 0, submitErr))
				continue
			}
			handles = append(handles, h)
		}

		allOK := true
		for res := range s.executor.AsCompleted(ctx, handles) {
			if !emit(ctx, out, res) {
				return
			}
			if !res.Success {
				allOK = false
				continue
			}
			idx, _ := res.Get("segment_index").(int)
			etags[idx] = res.Str("segment_etag")
		}
		if !allOK {
			return
		}

		if opts.UseSLO {
			emit(ctx, out, s.uploadSLOManifest(ctx, c, container, obj, path, headers, segContainer, names, sizes, etags))
		} else {
			emit(ctx, out, s.uploadDLOManifest(ctx, c, container, obj, path, headers, segContainer, obj.ObjectName, mtime, size, segmentSize))
		}
	}()
	return out
}

// trySkipIdentical HEADs the destination and compares it against the
// local source's identity, returning a skipped-identical Result when
// they match, or nil to continue with a normal upload (spec §4.5.3
// step 2, §8 scenario 2).
func (s *SwiftService) trySkipIdentical(ctx context.Context, c conn.Connection, container string, obj *SwiftUploadObject, path string, size int64) *executor.Result {
	manifest, inspectErr := s.inspector.Inspect(ctx, c, container, obj.ObjectName)
	if inspectErr != nil {
		return nil
	}
	if manifest.Kind == largeobject.KindPlain {
		info, _, headErr := c.HeadObject(ctx, container, obj.ObjectName)
		if headErr != nil {
			return nil
		}
		localMD5, hashErr := fileMD5(path)
		if hashErr != nil {
			return nil
		}
		if info.Hash == localMD5 && info.Bytes == size {
			return skippedIdenticalResult(container, obj.ObjectName, path)
		}
		return nil
	}

	localIdentity, err := manifest.LocalIdentity(path)
	if err != nil {
		return nil
	}
	if localIdentity == manifest.Identity() {
		return skippedIdenticalResult(container, obj.ObjectName, path)
	}
	return nil
}

func skippedIdenticalResult(container, object, path string) *executor.Result {
	r := &executor.Result{Action: executor.ActionUploadObject, Success: true}
	r.Set("container", container).Set("object", object).Set("path", path).
		Set("status", "skipped-identical").Set("large_object", false)
	return r
}

func fileMD5(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (s *SwiftService) uploadUnsegmented(ctx context.Context, c conn.Connection, container string, obj *SwiftUploadObject, path string, headers map[string]string, opts UploadOptions) *executor.Result {
	var body io.Reader
	var closer io.Closer
	switch src := obj.Source.(type) {
	case string:
		f, err := os.Open(src)
		if err != nil {
			return errorResult(executor.ActionUploadObject, 0, swifterr.New(swifterr.KindTransport, "upload_object", err))
		}
		body, closer = f, f
	default:
		if r, ok := obj.Source.(io.Reader); ok {
			body = r
		} else {
			body = bytes.NewReader(nil)
		}
	}
	if closer != nil {
		defer closer.Close()
	}

	reader := segreader.Wrap(body, 0, opts.Checksum)
	rxHeaders, err := c.PutObject(ctx, container, obj.ObjectName, reader, opts.Checksum, "", "", toConnHeaders(headers))
	r := &executor.Result{Action: executor.ActionUploadObject, Success: err == nil, Attempts: c.Attempts(), ResponseDict: responseDict(rxHeaders)}
	r.Set("container", container).Set("object", obj.ObjectName).Set("path", path).
		Set("headers", headers).Set("large_object", false).Set("status", "uploaded")
	if err != nil {
		fillError(r, err)
		return r
	}
	if etagErr := reader.CheckETag(rxHeaders["Etag"]); etagErr != nil {
		r.Success = false
		fillError(r, etagErr)
	}
	return r
}

func (s *SwiftService) uploadSegmentJob(path string, start, segLen int64, segContainer, segName, forObject string, index int, checksum bool) func(context.Context) *executor.Result {
	return func(ctx context.Context) *executor.Result {
		f, err := os.Open(path)
		if err != nil {
			return errorResult(executor.ActionUploadSegment, 0, swifterr.New(swifterr.KindTransport, "upload_segment", err))
		}
		defer f.Close()

		reader, err := segreader.Open(f, start, segLen, checksum)
		if err != nil {
			return errorResult(executor.ActionUploadSegment, 0, err)
		}

		c, err := s.pool.Borrow(ctx)
		if err != nil {
			return errorResult(executor.ActionUploadSegment, 0, err)
		}
		rxHeaders, putErr := c.PutObject(ctx, segContainer, segName, reader, checksum, "", "", nil)
		r := &executor.Result{Action: executor.ActionUploadSegment, Success: putErr == nil, Attempts: c.Attempts()}
		r.Set("for_object", forObject).Set("segment_index", index).Set("segment_size", segLen).
			Set("segment_location", segContainer+"/"+segName).Set("log_line", fmt.Sprintf("%s segment %d", forObject, index))
		if putErr != nil {
			fillError(r, putErr)
			return r
		}
		if etagErr := reader.CheckETag(rxHeaders["Etag"]); etagErr != nil {
			r.Success = false
			fillError(r, etagErr)
			return r
		}
		r.Set("segment_etag", rxHeaders["Etag"])
		return r
	}
}

func (s *SwiftService) uploadSLOManifest(ctx context.Context, c conn.Connection, container string, obj *SwiftUploadObject, path string, headers map[string]string, segContainer string, names []string, sizes []int64, etags []string) *executor.Result {
	type sloEntry struct {
		Path  string `json:"path"`
		ETag  string `json:"etag"`
		Bytes int64  `json:"size_bytes"`
	}
	entries := make([]sloEntry, len(names))
	for i := range names {
		entries[i] = sloEntry{Path: "/" + segContainer + "/" + names[i], ETag: etags[i], Bytes: sizes[i]}
	}
	body, _ := json.Marshal(entries)

	rxHeaders, err := c.PutManifest(ctx, container, obj.ObjectName, bytes.NewReader(body), toConnHeaders(headers))
	r := &executor.Result{Action: executor.ActionUploadObject, Success: err == nil, Attempts: c.Attempts(), ResponseDict: responseDict(rxHeaders)}
	r.Set("container", container).Set("object", obj.ObjectName).Set("path", path).
		Set("headers", headers).Set("large_object", true).Set("status", "uploaded")
	if err != nil {
		fillError(r, err)
	}
	return r
}

func (s *SwiftService) uploadDLOManifest(ctx context.Context, c conn.Connection, container string, obj *SwiftUploadObject, path string, headers map[string]string, segContainer, objectName string, mtime time.Time, size, segmentSize int64) *executor.Result {
	prefix := segmentPrefix(objectName, mtime, size, segmentSize)
	dloHeaders := toConnHeaders(headers)
	dloHeaders["X-Object-Manifest"] = segContainer + "/" + prefix

	rxHeaders, err := c.PutObject(ctx, container, obj.ObjectName, bytes.NewReader(nil), false, "", "", dloHeaders)
	r := &executor.Result{Action: executor.ActionUploadObject, Success: err == nil, Attempts: c.Attempts(), ResponseDict: responseDict(rxHeaders)}
	r.Set("container", container).Set("object", obj.ObjectName).Set("path", path).
		Set("headers", headers).Set("large_object", true).Set("status", "uploaded")
	if err != nil {
		fillError(r, err)
	}
	return r
}

// segmentPrefix is the shared "<object>/<mtime>/<size>/<segment_size>"
// portion of a segment's name (spec §4.5.3 step 3).
func segmentPrefix(objectName string, mtime time.Time, size, segmentSize int64) string {
	return fmt.Sprintf("%s/%s/%d/%d", objectName, conn.FormatFloatTime(mtime), size, segmentSize)
}

// segmentName is the default "<object>/<mtime>/<size>/<segment_size>/
// <index:08d>" naming scheme, or a user-provided template (spec
// §4.5.3 step 3).
func segmentName(objectName string, mtime time.Time, size, segmentSize int64, index int, template string) string {
	if template != "" {
		return fmt.Sprintf(template, index)
	}
	return fmt.Sprintf("%s/%08d", segmentPrefix(objectName, mtime, size, segmentSize), index)
}

func toConnHeaders(h map[string]string) conn.Headers {
	out := make(conn.Headers, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}
