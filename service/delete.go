package service

import (
	"context"

	"github.com/relaypath/swiftengine/conn"
	"github.com/relaypath/swiftengine/executor"
	"github.com/relaypath/swiftengine/largeobject"
	"github.com/relaypath/swiftengine/swifterr"
)

// resultListingNames extracts object names from a list_container_part
// result's "listing" field.
func resultListingNames(r *executor.Result) []string {
	objects, _ := r.Get("listing").([]conn.ObjectInfo)
	names := make([]string, len(objects))
	for i, o := range objects {
		names[i] = o.Name
	}
	return names
}

// DeleteOptions configures object/container deletion (spec §4.5.2).
type DeleteOptions struct {
	LeaveSegments bool
}

// DeleteObject HEADs the object, enumerates segments for a DLO/SLO,
// submits delete_segment jobs for each, then deletes the main object
// (spec §4.5.2, §6 wire protocol, §8 scenario 1).
func (s *SwiftService) DeleteObject(ctx context.Context, container, object string, opts DeleteOptions) <-chan *executor.Result {
	out := make(chan *executor.Result, s.executor.Workers()+2)
	go func() {
		defer close(out)

		c, err := s.pool.Borrow(ctx)
		if err != nil {
			emit(ctx, out, errorResult(executor.ActionDeleteObject, 0, err))
			return
		}

		manifest, err := s.inspector.Inspect(ctx, c, container, object)
		if err != nil {
			if swifterr.IsNotFound(err) {
				r := &executor.Result{Action: executor.ActionDeleteObject, Success: true, Attempts: c.Attempts()}
				r.Set("container", container).Set("object", object).Set("status", "not_found")
				emit(ctx, out, r)
				return
			}
			emit(ctx, out, errorResult(executor.ActionDeleteObject, c.Attempts(), err))
			return
		}

		dloSegmentsDeleted := false
		if manifest.Kind != largeobject.KindPlain && !opts.LeaveSegments {
			handles := s.submitSegmentDeletes(ctx, manifest)
			for res := range s.executor.AsCompleted(ctx, handles) {
				if !emit(ctx, out, res) {
					return
				}
			}
			if manifest.Kind == largeobject.KindDLO {
				dloSegmentsDeleted = true
			}
		}

		queryString := ""
		if manifest.Kind == largeobject.KindSLO {
			queryString = "multipart-manifest=delete"
		}
		deleteErr := c.DeleteObject(ctx, container, object, queryString)
		r := &executor.Result{Action: executor.ActionDeleteObject, Success: deleteErr == nil, Attempts: c.Attempts()}
		r.Set("container", container).Set("object", object)
		if dloSegmentsDeleted {
			r.Set("dlo_segments_deleted", true)
		}
		switch {
		case deleteErr == nil:
		case swifterr.IsNotFound(deleteErr):
			r.Success = true
			r.Set("status", "not_found")
		default:
			fillError(r, deleteErr)
		}
		emit(ctx, out, r)
	}()
	return out
}

func (s *SwiftService) submitSegmentDeletes(ctx context.Context, manifest *largeobject.Manifest) []executor.Handle {
	handles := make([]executor.Handle, 0, len(manifest.Segments))
	for _, seg := range manifest.Segments {
		seg := seg
		h, err := s.executor.Submit(ctx, executor.JobFunc{
			Kind: executor.ActionDeleteSegment,
			Fn: func(ctx context.Context) *executor.Result {
				sc, err := s.pool.Borrow(ctx)
				if err != nil {
					return errorResult(executor.ActionDeleteSegment, 0, err)
				}
				deleteErr := sc.DeleteObject(ctx, seg.Container, seg.Name, "")
				r := &executor.Result{Action: executor.ActionDeleteSegment, Success: deleteErr == nil, Attempts: sc.Attempts()}
				r.Set("container", seg.Container).Set("object", seg.Name)
				if deleteErr != nil {
					fillError(r, deleteErr)
				}
				return r
			},
		})
		if err != nil {
			continue
		}
		handles = append(handles, h)
	}
	return handles
}

// DeleteContainer lists every object, deletes each (recursively
// handling large objects the same way DeleteObject does), then
// deletes the now-empty container (spec §4.5.2).
func (s *SwiftService) DeleteContainer(ctx context.Context, container string, opts DeleteOptions) <-chan *executor.Result {
	out := make(chan *executor.Result, s.executor.Workers()+2)
	go func() {
		defer close(out)

		for page := range s.ListContainer(ctx, container, ListOptions{}) {
			if !page.Success {
				if !emit(ctx, out, page) {
					return
				}
				continue
			}
			for _, name := range resultListingNames(page) {
				for res := range s.DeleteObject(ctx, container, name, opts) {
					if !emit(ctx, out, res) {
						return
					}
				}
			}
		}

		c, err := s.pool.Borrow(ctx)
		if err != nil {
			emit(ctx, out, errorResult(executor.ActionDeleteContainer, 0, err))
			return
		}
		deleteErr := c.DeleteContainer(ctx, container)
		r := &executor.Result{Action: executor.ActionDeleteContainer, Success: deleteErr == nil, Attempts: c.Attempts()}
		r.Set("container", container).Set("object", nil)
		if deleteErr != nil {
			fillError(r, deleteErr)
		}
		emit(ctx, out, r)
	}()
	return out
}
