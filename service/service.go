// Package service implements the public façade: SwiftService and the
// SwiftUploadObject/SwiftPostObject value types, plus one file per
// operation orchestrator. Grounded on rclone's (f *Fs) methods in
// backend/swift/swift.go, generalized from "one object per call" to
// the lazy, result-streaming shape the source command-line tool uses.
package service

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/relaypath/swiftengine/conn"
	"github.com/relaypath/swiftengine/executor"
	"github.com/relaypath/swiftengine/largeobject"
	"github.com/relaypath/swiftengine/options"
	"github.com/relaypath/swiftengine/swifterr"
)

// Config configures a SwiftService.
type Config struct {
	Auth        options.AuthOptions
	Workers     int
	QueueDepth  int
	RetryPolicy conn.RetryPolicy
	Log         *logrus.Logger
}

// connectionSource is the subset of *conn.Pool the orchestrators need:
// borrow a retry-aware Connection and ensure a container exists. Kept
// as an interface so tests can stand in a fake Connection at the same
// boundary rclone's own backend tests stub *swift.Connection.
type connectionSource interface {
	Borrow(ctx context.Context) (conn.Connection, error)
	Return(conn.Connection)
	MakeContainer(ctx context.Context, container string) error
}

// SwiftService is the public façade: it owns one executor and one
// connection pool, and its lifetime bounds every job it launches
// (spec §3 "Ownership and lifecycles").
type SwiftService struct {
	pool      connectionSource
	executor  *executor.Executor
	inspector *largeobject.Inspector
	log       *logrus.Entry

	closeOnce sync.Once
}

// New builds a SwiftService from Config, normalising the auth options
// the way spec §4.6 requires at construction.
func New(cfg Config) *SwiftService {
	cfg.Auth.Normalize()

	log := cfg.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	entry := log.WithField("component", "swiftservice")

	policy := cfg.RetryPolicy
	if policy.MaxAttempts == 0 {
		policy = conn.DefaultRetryPolicy
	}

	authVersion := 0
	fmt.Sscanf(cfg.Auth.AuthVersion, "%d", &authVersion)

	pool := conn.NewPool(conn.AuthOptions{
		UserName:    cfg.Auth.User,
		APIKey:      cfg.Auth.Key,
		AuthURL:     cfg.Auth.Auth,
		AuthVersion: authVersion,
	}, policy, entry)

	workers := cfg.Workers
	if workers <= 0 {
		workers = 10
	}
	var execOpts []executor.Option
	if cfg.QueueDepth > 0 {
		execOpts = append(execOpts, executor.WithQueueDepth(cfg.QueueDepth))
	}

	return &SwiftService{
		pool:      pool,
		executor:  executor.New(workers, execOpts...),
		inspector: largeobject.NewInspector(),
		log:       entry,
	}
}

// Close cancels outstanding work and releases the executor. It is
// idempotent (spec SUPPLEMENTED FEATURES: SwiftService.close()),
// matching python-swiftclient's double-close guard.
func (s *SwiftService) Close() error {
	s.closeOnce.Do(func() {
		s.executor.Cancel()
		s.log.Debug("swift service closed")
	})
	return nil
}

// errorResult builds a failed Result with the given action/attempts,
// populating the required failure fields (spec §3).
func errorResult(action executor.Action, attempts int, err error) *executor.Result {
	r := &executor.Result{Action: action, Success: false, Attempts: attempts}
	fillError(r, err)
	return r
}

// fillError populates the required failure fields on an already
// constructed Result (spec §3: error, error_timestamp, traceback).
func fillError(r *executor.Result, err error) {
	r.Error = err
	r.ErrorTimestamp = swifterr.Timestamp()
	if se, ok := err.(*swifterr.Error); ok {
		r.Traceback = se.Traceback()
	} else {
		r.Traceback = fmt.Sprintf("%+v", err)
	}
}

// responseDict turns transport headers into the free-form
// response_dict field every Result carries (spec §3, §6).
func responseDict(h conn.Headers) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// SwiftUploadObject is one upload request: a local source (path,
// stream, or nil), its destination object name, and per-call option
// overrides (spec §4.5.3).
type SwiftUploadObject struct {
	Source     interface{} // string path, io.Reader, or nil
	ObjectName string
	Options    options.Bag
}

// NewSwiftUploadObject validates source against object_name per the
// source-validation rules in spec §4.5.3: a path may derive its own
// object name; a stream or nil source requires one explicitly.
func NewSwiftUploadObject(source interface{}, objectName string, opts options.Bag) (*SwiftUploadObject, error) {
	switch src := source.(type) {
	case string:
		name := objectName
		if name == "" {
			name = NormalizeObjectName(src)
		}
		return &SwiftUploadObject{Source: src, ObjectName: name, Options: opts}, nil
	case nil:
		if objectName == "" {
			return nil, swifterr.New(swifterr.KindInput, "upload_object", fmt.Errorf("object_name is required when source has no path"))
		}
		return &SwiftUploadObject{Source: nil, ObjectName: objectName, Options: opts}, nil
	default:
		// Anything implementing io.Reader is accepted as a stream
		// source; object_name is mandatory since there is no path to
		// derive it from.
		if _, ok := source.(interface{ Read([]byte) (int, error) }); ok {
			if objectName == "" {
				return nil, swifterr.New(swifterr.KindInput, "upload_object", fmt.Errorf("object_name is required for a stream source"))
			}
			return &SwiftUploadObject{Source: source, ObjectName: objectName, Options: opts}, nil
		}
		return nil, swifterr.New(swifterr.KindInput, "upload_object", fmt.Errorf("source must be a path, a stream, or nil, got %T", source))
	}
}

// String renders the upload object for failed-assertion output,
// grounded on python-swiftclient's SwiftUploadObject.__repr__.
func (u *SwiftUploadObject) String() string {
	return fmt.Sprintf("SwiftUploadObject(%v, object_name=%q)", u.Source, u.ObjectName)
}

// NormalizeObjectName derives an in-container name from a source path:
// strip a single leading "./" or ".\" and a leading current-working-
// directory prefix (spec §4.5.3, §8 "Upload name normalisation").
func NormalizeObjectName(path string) string {
	if stripped := strings.TrimPrefix(path, "./"); stripped != path {
		return stripped
	}
	if stripped := strings.TrimPrefix(path, `.\`); stripped != path {
		return stripped
	}
	if cwd, err := os.Getwd(); err == nil {
		prefix := cwd + string(os.PathSeparator)
		if stripped := strings.TrimPrefix(path, prefix); stripped != path {
			return stripped
		}
	}
	return path
}

// SwiftPostObject is one POST request: the target object name and
// per-call option overrides (spec §4.5.5).
type SwiftPostObject struct {
	ObjectName string
	Options    options.Bag
}

// NewSwiftPostObject validates object_name is a non-empty string
// (spec §4.5.5).
func NewSwiftPostObject(objectName string, opts options.Bag) (*SwiftPostObject, error) {
	if objectName == "" {
		return nil, swifterr.New(swifterr.KindInput, "post_object", fmt.Errorf("object_name must be a non-empty string"))
	}
	return &SwiftPostObject{ObjectName: objectName, Options: opts}, nil
}

// String renders the post object for failed-assertion output,
// grounded on python-swiftclient's SwiftPostObject.__repr__.
func (p *SwiftPostObject) String() string {
	return fmt.Sprintf("SwiftPostObject(%q)", p.ObjectName)
}
