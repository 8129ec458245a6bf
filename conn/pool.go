package conn

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ncw/swift/v2"
	"github.com/sirupsen/logrus"

	"github.com/relaypath/swiftengine/swifterr"
)

// AuthOptions is the subset of authentication parameters a Pool needs to
// build an authenticated *swift.Connection, adapted from the Options
// struct rclone's swiftConnection builds from (backend/swift/swift.go).
// The options package is responsible for decoding a raw option bag into
// this shape; Pool only consumes it.
type AuthOptions struct {
	UserName       string
	APIKey         string
	AuthURL        string
	AuthVersion    int
	Tenant         string
	TenantID       string
	TenantDomain   string
	Domain         string
	Region         string
	StorageURL     string // override, set post-authentication
	AuthToken      string // override, set post-authentication
	ConnectTimeout time.Duration
	Timeout        time.Duration
}

// Pool hands out authenticated, retry-aware Connections, one per
// concurrent caller, the same "borrow a connection, use it, return it"
// shape as spec §4.1's Connection Pool component.
type Pool struct {
	opts   AuthOptions
	policy RetryPolicy
	log    *logrus.Entry

	mu          sync.Mutex
	underlying  *swift.Connection
	authEndTime time.Time
}

// NewPool authenticates once (lazily, on first Borrow) and then hands
// out wrapped Connections backed by the same underlying
// *swift.Connection, the way a single Swift session is reused across
// many requests once a token is obtained. Concurrency is bounded by the
// executor's worker count, not by the pool itself.
func NewPool(opts AuthOptions, policy RetryPolicy, log *logrus.Entry) *Pool {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Pool{opts: opts, policy: policy, log: log}
}

// ensureAuthenticated builds and authenticates the underlying
// *swift.Connection on first use, adapted from rclone's
// backend/swift/swift.go swiftConnection function.
func (p *Pool) ensureAuthenticated(ctx context.Context) (*swift.Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.underlying != nil && p.underlying.Authenticated() {
		return p.underlying, nil
	}

	c := &swift.Connection{
		UserName:       p.opts.UserName,
		ApiKey:         p.opts.APIKey,
		AuthUrl:        p.opts.AuthURL,
		AuthVersion:    p.opts.AuthVersion,
		Tenant:         p.opts.Tenant,
		TenantId:       p.opts.TenantID,
		TenantDomain:   p.opts.TenantDomain,
		Domain:         p.opts.Domain,
		Region:         p.opts.Region,
		ConnectTimeout: p.opts.ConnectTimeout,
		Timeout:        p.opts.Timeout,
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Minute
	}

	c.ApplyEnvironment()

	start := time.Now()
	if err := c.Authenticate(ctx); err != nil {
		return nil, swifterr.New(swifterr.KindTransport, "authenticate", err)
	}
	p.authEndTime = time.Now()
	p.log.WithField("elapsed", time.Since(start)).Debug("authenticated against swift")

	if p.opts.StorageURL != "" || p.opts.AuthToken != "" {
		if p.opts.StorageURL != "" {
			c.StorageUrl = p.opts.StorageURL
		}
		if p.opts.AuthToken != "" {
			c.AuthToken = p.opts.AuthToken
		}
	}

	p.underlying = c
	return c, nil
}

// Borrow returns a Connection wrapping the pool's authenticated
// session. Unlike a literal object pool there is nothing per-borrow to
// hand back beyond bookkeeping, since the underlying *swift.Connection
// is safe for concurrent use the same way rclone shares one *Fs across
// goroutines; Borrow's job is authentication-on-demand plus uniform
// attempt counting/retry wiring for every caller.
func (p *Pool) Borrow(ctx context.Context) (Connection, error) {
	underlying, err := p.ensureAuthenticated(ctx)
	if err != nil {
		return nil, err
	}
	sc := &swiftConnection{c: underlying, policy: p.policy, log: p.log}
	p.mu.Lock()
	sc.authEndTime = p.authEndTime
	p.mu.Unlock()
	return sc, nil
}

// Return is a no-op placeholder kept for symmetry with Borrow; nothing
// needs releasing since Connections don't hold exclusive resources
// beyond the shared session, but callers should still call it so a
// future bounded pool (e.g. one session per tenant) can be introduced
// without changing call sites.
func (p *Pool) Return(Connection) {}

// MakeContainer creates container if it doesn't already exist,
// tolerating a concurrent creation race, adapted from rclone's
// (f *Fs) makeContainer in backend/swift/swift.go.
func (p *Pool) MakeContainer(ctx context.Context, container string) error {
	c, err := p.Borrow(ctx)
	if err != nil {
		return err
	}
	defer p.Return(c)

	if _, err := c.HeadContainer(ctx, container); err == nil {
		return nil
	}
	if err := c.PutContainer(ctx, container, nil); err != nil {
		return fmt.Errorf("create container %s: %w", container, err)
	}
	return nil
}
