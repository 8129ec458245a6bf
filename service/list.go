package service

import (
	"context"

	"github.com/relaypath/swiftengine/conn"
	"github.com/relaypath/swiftengine/executor"
)

// ListOptions configures a listing (spec §4.5.1).
type ListOptions struct {
	Prefix string
	Long   bool
}

// ListContainer yields a lazy sequence of list_container_part page
// results (spec §4.5.1). Paging is done on its own goroutine rather
// than through the general job executor: each page's marker depends
// on the previous page's last entry, so listing is inherently
// sequential and cannot be parallelized the way segment/delete/
// download jobs can. The bounded output channel (capacity
// workers) reproduces the same backpressure invariant spec §4.1's
// test suite pins for W=10 (10 buffered + 1 blocked producer + 1
// consumed = 12 outstanding calls).
//
// The terminating empty page is never emitted (spec §8 scenario 6: 14
// one-element pages plus a terminator yield exactly 14 results), the
// same way original_source/tests/unit/test_service.py feeds
// get_account_returns[:-1] to its mock and asserts the empty page is
// never enqueued.
func (s *SwiftService) ListContainer(ctx context.Context, container string, opts ListOptions) <-chan *executor.Result {
	out := make(chan *executor.Result, s.executor.Workers())
	go func() {
		defer close(out)
		marker := ""
		for {
			if ctx.Err() != nil {
				return
			}
			c, err := s.pool.Borrow(ctx)
			if err != nil {
				emit(ctx, out, errorResult(executor.ActionListContainerPart, 0, err))
				return
			}
			objects, headers, err := c.GetContainer(ctx, container, conn.ContainerOpts{Prefix: opts.Prefix, Marker: marker})
			r := &executor.Result{Action: executor.ActionListContainerPart, Success: err == nil, Attempts: c.Attempts(), ResponseDict: responseDict(headers)}
			r.Set("container", container).Set("prefix", opts.Prefix).Set("marker", marker)
			if err != nil {
				fillError(r, err)
				emit(ctx, out, r)
				return
			}
			if len(objects) == 0 {
				return
			}
			r.Set("listing", objects)
			if !emit(ctx, out, r) {
				return
			}
			marker = objects[len(objects)-1].Name
		}
	}()
	return out
}

// ListAccount yields a lazy sequence of list_account_part page results.
// When Long is set, each returned container is HEAD'd for metadata;
// a failed head_container does not fail the page — the container row
// is yielded without its meta, matching python-swiftclient's original
// tolerance for a flaky head_container during a long listing
// (SUPPLEMENTED FEATURES).
func (s *SwiftService) ListAccount(ctx context.Context, opts ListOptions) <-chan *executor.Result {
	out := make(chan *executor.Result, s.executor.Workers())
	go func() {
		defer close(out)
		marker := ""
		for {
			if ctx.Err() != nil {
				return
			}
			c, err := s.pool.Borrow(ctx)
			if err != nil {
				emit(ctx, out, errorResult(executor.ActionListAccountPart, 0, err))
				return
			}
			containers, headers, err := c.GetAccount(ctx, conn.AccountOpts{Prefix: opts.Prefix, Marker: marker})
			r := &executor.Result{Action: executor.ActionListAccountPart, Success: err == nil, Attempts: c.Attempts(), ResponseDict: responseDict(headers)}
			r.Set("prefix", opts.Prefix).Set("marker", marker)
			if err != nil {
				fillError(r, err)
				emit(ctx, out, r)
				return
			}

			if len(containers) == 0 {
				return
			}

			if opts.Long {
				for _, cinfo := range containers {
					meta, headErr := c.HeadContainer(ctx, cinfo.Name)
					if headErr == nil {
						r.Set("meta_"+cinfo.Name, responseDict(meta))
					}
					// A failed head_container is tolerated: the
					// listing still includes the container, just
					// without its meta.
				}
			}

			r.Set("listing", containers)
			if !emit(ctx, out, r) {
				return
			}
			marker = containers[len(containers)-1].Name
		}
	}()
	return out
}

// emit sends r on out, returning false if ctx ended first.
func emit(ctx context.Context, out chan<- *executor.Result, r *executor.Result) bool {
	select {
	case out <- r:
		return true
	case <-ctx.Done():
		return false
	}
}
