package service

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/relaypath/swiftengine/conn"
	"github.com/relaypath/swiftengine/executor"
	"github.com/relaypath/swiftengine/largeobject"
	"github.com/relaypath/swiftengine/resultreader"
	"github.com/relaypath/swiftengine/swifterr"
)

// DownloadOptions configures a download (spec §4.5.4).
type DownloadOptions struct {
	OutFile       string
	OutDirectory  string
	Prefix        string
	RemovePrefix  bool
	SkipIdentical bool
}

// DownloadObject fetches one object to a local file path derived from
// opts, recording timing and integrity fields (spec §4.5.4). There is no
// stream destination; the body is always written to a file.
func (s *SwiftService) DownloadObject(ctx context.Context, container, object string, opts DownloadOptions) <-chan *executor.Result {
	out := make(chan *executor.Result, 1)
	go func() {
		defer close(out)
		emit(ctx, out, s.downloadOne(ctx, container, object, opts))
	}()
	return out
}

// DownloadContainer lists container in pages and submits a download
// job per object; the executor's backpressure naturally throttles how
// far ahead listing can run (spec §4.5.4).
func (s *SwiftService) DownloadContainer(ctx context.Context, container string, opts DownloadOptions) <-chan *executor.Result {
	out := make(chan *executor.Result, s.executor.Workers()+2)
	go func() {
		defer close(out)
		for page := range s.ListContainer(ctx, container, ListOptions{Prefix: opts.Prefix}) {
			if !page.Success {
				if !emit(ctx, out, page) {
					return
				}
				continue
			}
			var handles []executor.Handle
			for _, name := range resultListingNames(page) {
				name := name
				h, err := s.executor.Submit(ctx, executor.JobFunc{
					Kind: executor.ActionDownloadObject,
					Fn:   func(ctx context.Context) *executor.Result { return s.downloadOne(ctx, container, name, opts) },
				})
				if err != nil {
					continue
				}
				handles = append(handles, h)
			}
			for res := range s.executor.AsCompleted(ctx, handles) {
				if !emit(ctx, out, res) {
					return
				}
			}
		}
	}()
	return out
}

// DownloadAccount lists containers, recursing into each (spec §4.5.4).
func (s *SwiftService) DownloadAccount(ctx context.Context, opts DownloadOptions) <-chan *executor.Result {
	out := make(chan *executor.Result, s.executor.Workers()+2)
	go func() {
		defer close(out)
		for page := range s.ListAccount(ctx, ListOptions{}) {
			if !page.Success {
				if !emit(ctx, out, page) {
					return
				}
				continue
			}
			containers, _ := page.Get("listing").([]conn.ContainerInfo)
			for _, cinfo := range containers {
				for res := range s.DownloadContainer(ctx, cinfo.Name, opts) {
					if !emit(ctx, out, res) {
						return
					}
				}
			}
		}
	}()
	return out
}

func (s *SwiftService) downloadOne(ctx context.Context, container, object string, opts DownloadOptions) *executor.Result {
	startTime := time.Now()
	localPath := destinationPath(object, opts)

	c, err := s.pool.Borrow(ctx)
	if err != nil {
		return errorResult(executor.ActionDownloadObject, 0, err)
	}

	pseudodir := strings.HasSuffix(object, "/")

	manifest, inspectErr := s.inspector.Inspect(ctx, c, container, object)
	large := inspectErr == nil && manifest.Kind != largeobject.KindPlain

	if opts.SkipIdentical && localPath != "" {
		if large {
			if manifest != nil {
				if identity, idErr := manifest.LocalIdentity(localPath); idErr == nil && identity == manifest.Identity() {
					r := &executor.Result{Action: executor.ActionDownloadObject, Success: false, Attempts: c.Attempts()}
					r.Set("container", container).Set("object", object).Set("path", localPath)
					fillError(r, swifterr.New(swifterr.KindIntegrity, "download_object", fmt.Errorf("Large object is identical")).WithHTTPStatus(http.StatusNotModified))
					return r
				}
			}
		} else if localMD5, hashErr := fileMD5(localPath); hashErr == nil {
			probeBody, _, probeErr := c.GetObject(ctx, container, object, "multipart-manifest=get", conn.Headers{"If-None-Match": localMD5})
			if probeErr != nil {
				if swiftErr, ok := probeErr.(*swifterr.Error); ok && swiftErr.HTTPStatus == http.StatusNotModified {
					r := &executor.Result{Action: executor.ActionDownloadObject, Success: false, Attempts: c.Attempts(), ResponseDict: map[string]string{}}
					r.Set("container", container).Set("object", object).Set("path", localPath)
					fillError(r, swiftErr.WithHTTPStatus(http.StatusNotModified))
					return r
				}
			} else if probeBody != nil {
				probeBody.Close()
			}
		}
	}

	if pseudodir {
		if opts.OutDirectory != "" {
			dir := filepath.Join(opts.OutDirectory, strings.TrimSuffix(object, "/"))
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return errorResult(executor.ActionDownloadObject, c.Attempts(), swifterr.New(swifterr.KindTransport, "download_object", err))
			}
		}
		r := &executor.Result{Action: executor.ActionDownloadObject, Success: true, Attempts: c.Attempts()}
		r.Set("container", container).Set("object", object).Set("path", localPath).Set("pseudodir", true)
		return r
	}

	body, headers, err := c.GetObject(ctx, container, object, "", nil)
	headersReceipt := time.Now()
	if err != nil {
		return errorResult(executor.ActionDownloadObject, c.Attempts(), err)
	}
	defer body.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return errorResult(executor.ActionDownloadObject, c.Attempts(), swifterr.New(swifterr.KindTransport, "download_object", err))
	}
	f, err := os.Create(localPath)
	if err != nil {
		return errorResult(executor.ActionDownloadObject, c.Attempts(), swifterr.New(swifterr.KindTransport, "download_object", err))
	}
	defer f.Close()

	reader, err := resultreader.New(body, headers["Content-Length"], headers["Etag"], large)
	if err != nil {
		return errorResult(executor.ActionDownloadObject, c.Attempts(), err)
	}
	readLength, writeErr := reader.WriteTo(f)

	finishTime := time.Now()
	r := &executor.Result{Action: executor.ActionDownloadObject, Success: writeErr == nil, Attempts: c.Attempts(), ResponseDict: responseDict(headers)}
	r.Set("container", container).Set("object", object).Set("path", localPath).Set("pseudodir", false)
	if writeErr != nil {
		fillError(r, writeErr)
		return r
	}
	r.Set("read_length", readLength).
		Set("start_time", startTime).
		Set("headers_receipt", headersReceipt).
		Set("finish_time", finishTime).
		Set("auth_end_time", c.AuthEndTime())
	return r
}

// destinationPath derives the local path for object from out_file /
// out_directory / prefix / remove_prefix (spec §4.5.4).
func destinationPath(object string, opts DownloadOptions) string {
	if opts.OutFile != "" {
		return opts.OutFile
	}
	name := object
	if opts.RemovePrefix && opts.Prefix != "" {
		name = strings.TrimPrefix(name, opts.Prefix)
		name = strings.TrimPrefix(name, "/")
	}
	if opts.OutDirectory != "" {
		return filepath.Join(opts.OutDirectory, name)
	}
	return name
}
