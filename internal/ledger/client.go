// Package ledger is the client-side credit ledger: it validates
// entitlements, debits credits against the remote ledger, keeps a
// durable local cache for offline reads, and parks consumption
// requests in a FIFO queue while the backend is unreachable.
package ledger

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	goversion "github.com/hashicorp/go-version"

	"github.com/replyforge-ai/replyforge-cli/internal/backend"
	"github.com/replyforge-ai/replyforge-cli/internal/errdefs"
	"github.com/replyforge-ai/replyforge-cli/internal/identity"
	"github.com/replyforge-ai/replyforge-cli/internal/retry"
)

// Operation types the ledger can gate.
const (
	OpGenerate     = "generate"
	OpBulkPositive = "bulk_positive"
	OpBulkFull     = "bulk_full"
)

// SchemaVersion is written with every cache entry. Entries written by
// agents older than MinSchemaVersion are discarded on read.
const (
	SchemaVersion    = "2.1.0"
	MinSchemaVersion = "2.0.0"
)

// defaultFreshness is how long a cached status counts as current.
const defaultFreshness = 5 * time.Minute

// defaultDrainPause is the gap between queued requests during a drain.
const defaultDrainPause = 500 * time.Millisecond

// CreditAPI is the remote ledger surface the client needs. The
// production implementation is *backend.Client.
type CreditAPI interface {
	GetCreditStatus(ctx context.Context) (*backend.CreditStatus, error)
	ConsumeCredits(ctx context.Context, req backend.ConsumeRequest) (*backend.ConsumeResponse, error)
}

// Status is a credit status read, annotated with cache provenance.
type Status struct {
	backend.CreditStatus

	UserID   string
	CachedAt time.Time

	// Stale means the value came from an out-of-window cache because
	// the backend was unreachable. Validation callers must surface
	// "status may be outdated" rather than treating it as current.
	Stale bool
}

// ValidationResult is the pure decision returned by Validate.
type ValidationResult struct {
	CanProceed       bool
	Reason           string
	Kind             errdefs.Kind
	CreditsRequired  int
	CreditsAvailable int
	Stale            bool
}

// DeferredOutcome is delivered to the original caller of a queued
// consumption once the queue drains (or is rejected).
type DeferredOutcome struct {
	Success   bool
	Remaining int
	Err       error
}

// ConsumeResult is the answer to Consume. Exactly one of Success or
// Deferred is set on the non-error path.
type ConsumeResult struct {
	Success   bool
	Deferred  bool
	Remaining int

	// Outcome carries the final result of a deferred request. Nil
	// unless Deferred.
	Outcome <-chan DeferredOutcome
}

// Config holds construction parameters for the ledger client.
type Config struct {
	// API is the remote ledger client.
	API CreditAPI

	// Store is the durable local cache + offline queue.
	Store *Store

	// Sessions supplies the active identity and its change signal.
	Sessions *identity.Manager

	// Freshness overrides the 5-minute cache window (tests).
	Freshness time.Duration

	// RetryPolicy overrides the consumption retry schedule (tests).
	RetryPolicy retry.Policy

	// DrainPause overrides the inter-request pause while draining.
	DrainPause time.Duration

	// StartOnline sets the initial connectivity assumption.
	StartOnline bool

	// LogFn is an optional callback for log messages.
	LogFn func(level, msg string)
}

// Client is the credit ledger client. All mutation of the cached
// status goes through its methods; listeners are notified from a
// dedicated dispatch goroutine, never synchronously.
type Client struct {
	api        CreditAPI
	store      *Store
	sessions   *identity.Manager
	freshness  time.Duration
	policy     retry.Policy
	drainPause time.Duration
	minVersion *goversion.Version
	logFn      func(level, msg string)
	now        func() time.Time

	mu      sync.Mutex
	cached  *CachedStatus
	online  bool
	subs    map[int]func(Status)
	nextSub int
	waiters map[string]chan DeferredOutcome

	// drainMu serializes queue drains.
	drainMu sync.Mutex

	notify    chan func()
	done      chan struct{}
	closeOnce sync.Once
	unsubID   func()
}

// NewClient creates a ledger client and subscribes it to identity
// changes so that logout rejects the queue and clears the cache.
func NewClient(cfg Config) (*Client, error) {
	if cfg.API == nil || cfg.Store == nil || cfg.Sessions == nil {
		return nil, fmt.Errorf("ledger: API, Store and Sessions are required")
	}
	if cfg.Freshness == 0 {
		cfg.Freshness = defaultFreshness
	}
	if cfg.RetryPolicy.MaxAttempts == 0 {
		cfg.RetryPolicy = retry.LedgerPolicy()
	}
	if cfg.DrainPause == 0 {
		cfg.DrainPause = defaultDrainPause
	}

	minVersion, err := goversion.NewVersion(MinSchemaVersion)
	if err != nil {
		return nil, fmt.Errorf("ledger: parse min schema version: %w", err)
	}

	c := &Client{
		api:        cfg.API,
		store:      cfg.Store,
		sessions:   cfg.Sessions,
		freshness:  cfg.Freshness,
		policy:     cfg.RetryPolicy,
		drainPause: cfg.DrainPause,
		minVersion: minVersion,
		logFn:      cfg.LogFn,
		now:        time.Now,
		online:     cfg.StartOnline,
		subs:       make(map[int]func(Status)),
		waiters:    make(map[string]chan DeferredOutcome),
		notify:     make(chan func(), 32),
		done:       make(chan struct{}),
	}

	go c.dispatch()

	c.unsubID = cfg.Sessions.OnChange(func(s *identity.Session) {
		if s == nil {
			c.handleLogout()
		}
	})

	return c, nil
}

func (c *Client) log(level, format string, args ...any) {
	if c.logFn != nil {
		c.logFn(level, fmt.Sprintf(format, args...))
	}
}

// Close stops the notification dispatcher and detaches from the
// identity manager. The store is owned by the caller.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		if c.unsubID != nil {
			c.unsubID()
		}
		close(c.done)
	})
}

// GetStatus returns the cached status when fresh, otherwise performs
// one authoritative read and updates the cache. While offline a stale
// cache is returned with Stale set rather than failing outright.
func (c *Client) GetStatus(ctx context.Context) (*Status, error) {
	sess := c.sessions.Current()
	if sess == nil {
		return nil, errdefs.New(errdefs.KindUnauthenticated, "no active session")
	}

	cached, err := c.loadCached(sess.UserID)
	if err != nil {
		return nil, err
	}

	if cached != nil && c.now().Sub(cached.CachedAt) < c.freshness {
		return c.statusFrom(cached, false), nil
	}

	c.mu.Lock()
	online := c.online
	c.mu.Unlock()

	if !online {
		if cached != nil {
			return c.statusFrom(cached, true), nil
		}
		return nil, errdefs.New(errdefs.KindTransport, "offline and no cached credit status")
	}

	remote, err := c.api.GetCreditStatus(ctx)
	if err != nil {
		// Fall back to the stale cache on transport failure so the
		// caller can still make a (flagged) decision.
		if errdefs.IsRetryable(err) && cached != nil {
			c.log("warning", "credit status read failed, serving stale cache: %v", err)
			return c.statusFrom(cached, true), nil
		}
		return nil, err
	}

	entry := CachedStatus{
		Status:   *remote,
		UserID:   sess.UserID,
		Version:  SchemaVersion,
		CachedAt: c.now(),
	}
	c.storeCached(entry)
	return c.statusFrom(&entry, false), nil
}

// Validate is a pure decision over the current status: it performs no
// network side effects beyond a possible GetStatus read.
func (c *Client) Validate(ctx context.Context, operationType string, itemCount int) (*ValidationResult, error) {
	st, err := c.GetStatus(ctx)
	if err != nil {
		return nil, err
	}

	res := &ValidationResult{
		CanProceed:       true,
		CreditsRequired:  itemCount,
		CreditsAvailable: st.Balance.Available,
		Stale:            st.Stale,
	}

	if !st.HasFeature(operationType) {
		res.CanProceed = false
		res.Kind = errdefs.KindFeatureNotEntitled
		res.Reason = fmt.Sprintf("plan %q does not include %s", st.Plan, operationType)
		return res, nil
	}
	if isBulkOp(operationType) && st.MaxBulkItems > 0 && itemCount > st.MaxBulkItems {
		res.CanProceed = false
		res.Kind = errdefs.KindBulkSizeExceeded
		res.Reason = fmt.Sprintf("bulk size %d exceeds plan ceiling %d", itemCount, st.MaxBulkItems)
		return res, nil
	}
	if st.Balance.Available != backend.UnlimitedBalance && st.Balance.Available < itemCount {
		res.CanProceed = false
		res.Kind = errdefs.KindInsufficientCredits
		res.Reason = fmt.Sprintf("%d credits required, %d available", itemCount, st.Balance.Available)
		return res, nil
	}
	if res.Stale {
		res.Reason = "credit status may be outdated (offline)"
	}
	return res, nil
}

// Consume debits credits. Online, the call is retried on transport
// failures per the configured policy; offline, the request is queued
// FIFO and a Deferred result is returned immediately.
func (c *Client) Consume(ctx context.Context, req backend.ConsumeRequest) (*ConsumeResult, error) {
	sess := c.sessions.Current()
	if sess == nil {
		return nil, errdefs.New(errdefs.KindUnauthenticated, "no active session")
	}
	if req.RequestID == "" {
		req.RequestID = uuid.New().String()
	}
	if req.ItemCount <= 0 {
		req.ItemCount = 1
	}

	c.mu.Lock()
	online := c.online
	c.mu.Unlock()

	if !online {
		return c.enqueueOffline(sess.UserID, req)
	}

	var resp *backend.ConsumeResponse
	err := retry.Do(ctx, c.policy, func(ctx context.Context) error {
		r, err := c.api.ConsumeCredits(ctx, req)
		if err != nil {
			return err
		}
		if !r.Success {
			return consumeFailure(r)
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.ApplyServerBalance(sess.UserID, resp.Remaining)
	return &ConsumeResult{Success: true, Remaining: resp.Remaining}, nil
}

// consumeFailure maps a success=false consume response to an error kind.
func consumeFailure(r *backend.ConsumeResponse) error {
	switch r.Error {
	case backend.ErrCodeInsufficientCredits:
		return errdefs.New(errdefs.KindInsufficientCredits, "insufficient credits (remaining %d)", r.Remaining)
	case backend.ErrCodeTrialAlreadyUsed:
		return errdefs.New(errdefs.KindTrialAlreadyUsed, "trial generation already used")
	default:
		return errdefs.New(errdefs.KindValidation, "consumption rejected: %s", r.Error)
	}
}

func (c *Client) enqueueOffline(userID string, req backend.ConsumeRequest) (*ConsumeResult, error) {
	if _, err := c.store.Enqueue(userID, req, c.now()); err != nil {
		return nil, errdefs.Wrap(errdefs.KindValidation, err, "queue consumption request")
	}

	outcome := make(chan DeferredOutcome, 1)
	c.mu.Lock()
	c.waiters[req.RequestID] = outcome
	c.mu.Unlock()

	// The best-known balance may still be on disk only in a fresh
	// process, so read through the cache loader.
	remaining := 0
	if cached, err := c.loadCached(userID); err == nil && cached != nil {
		remaining = cached.Status.Balance.Available
	}

	c.log("info", "offline: queued consumption request %s", req.RequestID)
	return &ConsumeResult{Deferred: true, Remaining: remaining, Outcome: outcome}, nil
}

// OnStatusChange registers a listener invoked on every cache update,
// and once immediately with the current cached value if present.
// Returns an unsubscribe function.
func (c *Client) OnStatusChange(cb func(Status)) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = cb
	var initial *Status
	if c.cached != nil {
		initial = c.statusFrom(c.cached, false)
	}
	c.mu.Unlock()

	if initial != nil {
		st := *initial
		c.enqueueNotify(func() { cb(st) })
	}

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs, id)
	}
}

// SetOnline records a connectivity transition. Coming back online
// kicks off a queue drain in the background.
func (c *Client) SetOnline(online bool) {
	c.mu.Lock()
	was := c.online
	c.online = online
	c.mu.Unlock()

	if online && !was {
		c.log("info", "connectivity restored, draining consumption queue")
		go func() {
			if err := c.DrainQueue(context.Background()); err != nil {
				c.log("warning", "queue drain interrupted: %v", err)
			}
		}()
	}
}

// DrainQueue replays queued consumption requests strictly in enqueue
// order, one at a time, pausing between requests. A non-retryable
// failure resolves the original caller as failed and removes the
// request; a transport failure leaves the remainder queued for the
// next reconnect.
func (c *Client) DrainQueue(ctx context.Context) error {
	c.drainMu.Lock()
	defer c.drainMu.Unlock()

	items, err := c.store.QueueList()
	if err != nil {
		return err
	}

	for i, q := range items {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		var resp *backend.ConsumeResponse
		err := retry.Do(ctx, c.policy, func(ctx context.Context) error {
			r, err := c.api.ConsumeCredits(ctx, q.Request)
			if err != nil {
				return err
			}
			if !r.Success {
				return consumeFailure(r)
			}
			resp = r
			return nil
		})

		switch {
		case err == nil:
			c.ApplyServerBalance(q.UserID, resp.Remaining)
			c.resolveWaiter(q.Request.RequestID, DeferredOutcome{Success: true, Remaining: resp.Remaining})
			if derr := c.store.Dequeue(q.ID); derr != nil {
				c.log("warning", "dequeue %s: %v", q.Request.RequestID, derr)
			}
		case errdefs.IsRetryable(err):
			// Still unreachable: stop here, keep the rest queued.
			if ierr := c.store.IncrementRetry(q.ID); ierr != nil {
				c.log("warning", "increment retry %s: %v", q.Request.RequestID, ierr)
			}
			return err
		default:
			c.resolveWaiter(q.Request.RequestID, DeferredOutcome{Err: err})
			if derr := c.store.Dequeue(q.ID); derr != nil {
				c.log("warning", "dequeue %s: %v", q.Request.RequestID, derr)
			}
		}

		if i < len(items)-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.drainPause):
			}
		}
	}
	return nil
}

// RejectQueue fails every queued request and clears the queue. Used on
// logout.
func (c *Client) RejectQueue(cause error) {
	c.mu.Lock()
	waiters := c.waiters
	c.waiters = make(map[string]chan DeferredOutcome)
	c.mu.Unlock()

	for _, ch := range waiters {
		select {
		case ch <- DeferredOutcome{Err: cause}:
		default:
		}
	}
	if err := c.store.ClearQueue(); err != nil {
		c.log("warning", "clear queue: %v", err)
	}
}

// ApplyServerBalance overwrites the cached available/used from an
// authoritative post-debit balance, preserving total. The unlimited
// sentinel leaves the cache untouched. The cache write always precedes
// the listener broadcast.
func (c *Client) ApplyServerBalance(userID string, available int) {
	if available == backend.UnlimitedBalance {
		return
	}

	c.mu.Lock()
	if c.cached == nil || c.cached.UserID != userID {
		c.mu.Unlock()
		return
	}
	c.cached.Status.Balance.Available = available
	c.cached.Status.Balance.Used = c.cached.Status.Balance.Total - available
	c.cached.CachedAt = c.now()
	entry := *c.cached
	c.mu.Unlock()

	if err := c.store.SaveStatus(entry); err != nil {
		c.log("warning", "persist balance: %v", err)
	}
	c.broadcast(entry)
}

// ZeroAvailable forces the cached available balance to zero (used when
// the backend rejects a submission with INSUFFICIENT_CREDITS).
func (c *Client) ZeroAvailable(userID string) {
	c.ApplyServerBalance(userID, 0)
}

// QueueLen reports the offline queue depth.
func (c *Client) QueueLen() (int, error) {
	return c.store.QueueLen()
}

// --- internals ---

// loadCached returns a usable cache entry for userID, pulling from the
// store on first use and discarding entries that belong to another
// user or were written with an incompatible schema version.
func (c *Client) loadCached(userID string) (*CachedStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cached == nil {
		entry, err := c.store.LoadStatus(userID)
		if err != nil {
			return nil, errdefs.Wrap(errdefs.KindValidation, err, "read cached status")
		}
		c.cached = entry
	}
	if c.cached == nil {
		return nil, nil
	}
	if c.cached.UserID != userID || !c.versionOK(c.cached.Version) {
		stale := c.cached
		c.cached = nil
		if err := c.store.DeleteStatus(stale.UserID); err != nil {
			c.log("warning", "drop invalid cache entry: %v", err)
		}
		return nil, nil
	}
	entry := *c.cached
	return &entry, nil
}

func (c *Client) versionOK(v string) bool {
	parsed, err := goversion.NewVersion(v)
	if err != nil {
		return false
	}
	return parsed.GreaterThanOrEqual(c.minVersion)
}

func (c *Client) storeCached(entry CachedStatus) {
	c.mu.Lock()
	e := entry
	c.cached = &e
	c.mu.Unlock()

	if err := c.store.SaveStatus(entry); err != nil {
		c.log("warning", "persist status: %v", err)
	}
	c.broadcast(entry)
}

func (c *Client) statusFrom(entry *CachedStatus, stale bool) *Status {
	return &Status{
		CreditStatus: entry.Status,
		UserID:       entry.UserID,
		CachedAt:     entry.CachedAt,
		Stale:        stale,
	}
}

// broadcast queues a notification for every subscriber. Listener
// callbacks run on the dispatch goroutine so they can never mutate the
// client re-entrantly under the lock.
func (c *Client) broadcast(entry CachedStatus) {
	st := *c.statusFrom(&entry, false)

	c.mu.Lock()
	cbs := make([]func(Status), 0, len(c.subs))
	for _, cb := range c.subs {
		cbs = append(cbs, cb)
	}
	c.mu.Unlock()

	c.enqueueNotify(func() {
		for _, cb := range cbs {
			cb(st)
		}
	})
}

func (c *Client) enqueueNotify(fn func()) {
	select {
	case c.notify <- fn:
	case <-c.done:
	}
}

func (c *Client) dispatch() {
	for {
		select {
		case <-c.done:
			return
		case fn := <-c.notify:
			fn()
		}
	}
}

func (c *Client) resolveWaiter(requestID string, outcome DeferredOutcome) {
	c.mu.Lock()
	ch, ok := c.waiters[requestID]
	if ok {
		delete(c.waiters, requestID)
	}
	c.mu.Unlock()
	if ok {
		select {
		case ch <- outcome:
		default:
		}
	}
}

func (c *Client) handleLogout() {
	c.RejectQueue(errdefs.New(errdefs.KindUnauthenticated, "logged out"))

	c.mu.Lock()
	stale := c.cached
	c.cached = nil
	c.mu.Unlock()

	if stale != nil {
		if err := c.store.DeleteStatus(stale.UserID); err != nil {
			c.log("warning", "clear cache on logout: %v", err)
		}
	}
	c.log("info", "session cleared, ledger cache and queue dropped")
}

func isBulkOp(op string) bool {
	return strings.HasPrefix(op, "bulk_")
}
