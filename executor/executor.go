// Package executor implements the bounded-concurrency job executor
// described in spec §4.1: a worker pool that runs submitted jobs with
// bounded memory and yields their results in completion order, with
// support for interruptible cancellation.
package executor

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Action identifies the kind of HTTP-level unit of work a Job performs,
// matching the action names in spec §6.
type Action string

// Recognised job/result actions (spec §6).
const (
	ActionListAccountPart   Action = "list_account_part"
	ActionListContainerPart Action = "list_container_part"
	ActionDeleteObject      Action = "delete_object"
	ActionDeleteSegment     Action = "delete_segment"
	ActionDeleteContainer   Action = "delete_container"
	ActionUploadObject      Action = "upload_object"
	ActionUploadSegment     Action = "upload_segment"
	ActionDownloadObject    Action = "download_object"
	ActionCreateContainer   Action = "create_container"
	ActionPostObject        Action = "post_object"
	ActionCopyObject        Action = "copy_object"
	ActionStatObject        Action = "stat_object"
	ActionStatAccount       Action = "stat_account"
	ActionStatContainer     Action = "stat_container"
)

// Result is the tagged-variant record produced by every job, success or
// failure (spec §3, §6). Action-specific data lives in Fields so this
// header stays shared across every action kind; typed accessors in the
// service package wrap Fields for each orchestrator.
type Result struct {
	Action         Action
	Success        bool
	Attempts       int
	ResponseDict   map[string]string
	Error          error
	ErrorTimestamp time.Time
	Traceback      string
	Fields         map[string]interface{}
}

// Get returns a field value, or nil if absent.
func (r *Result) Get(key string) interface{} {
	if r.Fields == nil {
		return nil
	}
	return r.Fields[key]
}

// Set stores a field value, lazily allocating Fields.
func (r *Result) Set(key string, value interface{}) *Result {
	if r.Fields == nil {
		r.Fields = make(map[string]interface{})
	}
	r.Fields[key] = value
	return r
}

// Str returns a string field, or "" if absent or of another type.
func (r *Result) Str(key string) string {
	s, _ := r.Get(key).(string)
	return s
}

// Bool returns a bool field, or false if absent or of another type.
func (r *Result) Bool(key string) bool {
	b, _ := r.Get(key).(bool)
	return b
}

// Job is one HTTP-level unit of work. Implementations close over
// whatever connection-borrowing mechanism they need; Run must always
// return a non-nil Result, even on failure (spec §3: "every job,
// whether it succeeded or failed").
type Job interface {
	Action() Action
	Run(ctx context.Context) *Result
}

// JobFunc adapts a plain function to the Job interface for jobs that
// don't need their own type.
type JobFunc struct {
	Kind Action
	Fn   func(ctx context.Context) *Result
}

// Action implements Job.
func (f JobFunc) Action() Action { return f.Kind }

// Run implements Job.
func (f JobFunc) Run(ctx context.Context) *Result { return f.Fn(ctx) }

// Handle identifies one submitted job for AsCompleted.
type Handle struct {
	id uint64
}

// Executor bounds the number of submitted-but-unfinished jobs to W+Q
// (worker count W plus pending-queue depth Q, default W), so that once
// W*2 jobs are outstanding further submission blocks (spec §4.1, §5).
// Every admitted job starts running at once on its own goroutine, so up
// to W+Q jobs run concurrently; there is no separate cap of W running
// jobs.
type Executor struct {
	workers int

	sem *semaphore.Weighted // bounds in-flight + queued work to workers+queueDepth

	mu      sync.Mutex
	pending map[uint64]chan *Result
	nextID  uint64

	closeOnce sync.Once
	closed    chan struct{}
}

// Option configures an Executor.
type Option func(*Executor)

// WithQueueDepth overrides the default pending-queue depth (defaults to
// the worker count, per spec §4.1).
func WithQueueDepth(q int) Option {
	return func(e *Executor) {
		if q > 0 {
			e.sem = semaphore.NewWeighted(int64(e.workers + q))
		}
	}
}

// New creates an Executor with the given worker count (default 10 if
// workers <= 0, per spec §4.1).
func New(workers int, opts ...Option) *Executor {
	if workers <= 0 {
		workers = 10
	}
	e := &Executor{
		workers: workers,
		sem:     semaphore.NewWeighted(int64(workers * 2)),
		pending: make(map[uint64]chan *Result),
		closed:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Workers returns the configured worker count.
func (e *Executor) Workers() int { return e.workers }

// Submit schedules job to run. It blocks until a slot is free (the
// load-bearing backpressure described in spec §4.1 and §5) or ctx is
// cancelled. The job runs on its own goroutine the moment a slot frees,
// rather than waiting for one of a fixed pool of W long-lived workers,
// which gives the same "at most 2W outstanding" bound without a second
// hand-off queue.
func (e *Executor) Submit(ctx context.Context, job Job) (Handle, error) {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return Handle{}, err
	}
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	ch := make(chan *Result, 1)
	e.pending[id] = ch
	e.mu.Unlock()

	go func() {
		defer e.sem.Release(1)
		result := job.Run(ctx)
		if result == nil {
			result = &Result{Action: job.Action(), Success: false}
		}
		select {
		case ch <- result:
		case <-e.closed:
		}
	}()

	return Handle{id: id}, nil
}

// AsCompleted yields results for handles in completion order (spec §4.1,
// §5: "Result records are delivered in completion order, never in
// submission order"). It is interruptible: cancelling ctx stops the
// iteration promptly without forcibly aborting in-flight HTTP calls.
// The returned channel is closed once every handle has produced a
// result or ctx is done.
//
// Each handle's own result channel is fanned in concurrently rather
// than awaited one at a time in handle order, so a handle submitted
// last but finishing first is still the first one out.
func (e *Executor) AsCompleted(ctx context.Context, handles []Handle) <-chan *Result {
	out := make(chan *Result)
	go func() {
		defer close(out)

		merged := make(chan *Result)
		var wg sync.WaitGroup
		for _, h := range handles {
			e.mu.Lock()
			ch := e.pending[h.id]
			e.mu.Unlock()
			if ch == nil {
				continue
			}
			wg.Add(1)
			go func(id uint64, ch chan *Result) {
				defer wg.Done()
				select {
				case result := <-ch:
					e.mu.Lock()
					delete(e.pending, id)
					e.mu.Unlock()
					select {
					case merged <- result:
					case <-ctx.Done():
					case <-e.closed:
					}
				case <-ctx.Done():
				case <-e.closed:
				}
			}(h.id, ch)
		}
		go func() {
			wg.Wait()
			close(merged)
		}()

		for {
			select {
			case result, ok := <-merged:
				if !ok {
					return
				}
				select {
				case out <- result:
				case <-ctx.Done():
					return
				case <-e.closed:
					return
				}
			case <-ctx.Done():
				return
			case <-e.closed:
				return
			}
		}
	}()
	return out
}

// Cancel releases anything still waiting in AsCompleted; Submit is not
// affected and still accepts jobs. Jobs already running are not
// forcibly aborted; their results are dropped (spec §5 "Cancellation").
func (e *Executor) Cancel() {
	e.closeOnce.Do(func() { close(e.closed) })
}
