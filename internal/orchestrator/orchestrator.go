// Package orchestrator runs the end-to-end generation pipeline: rate
// limit, entitlement check, job submission, balance bookkeeping, and
// the bounded watch on the remote job record.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/replyforge-ai/replyforge-cli/internal/backend"
	"github.com/replyforge-ai/replyforge-cli/internal/content"
	"github.com/replyforge-ai/replyforge-cli/internal/errdefs"
	"github.com/replyforge-ai/replyforge-cli/internal/identity"
	"github.com/replyforge-ai/replyforge-cli/internal/ledger"
	"github.com/replyforge-ai/replyforge-cli/internal/notify"
	"github.com/replyforge-ai/replyforge-cli/internal/retry"
	"github.com/replyforge-ai/replyforge-cli/internal/watch"
)

// defaultWatchTimeout bounds how long a submitted job is watched
// before the caller is told to check back later.
const defaultWatchTimeout = 5 * time.Minute

// lowCreditThreshold is the balance at or below which a low-credit
// notification fires after a successful debit.
const lowCreditThreshold = 5

// Business-id resolution is best effort: a few quick attempts, then
// the job is submitted without it.
const (
	businessIDAttempts = 3
	businessIDGap      = 500 * time.Millisecond
)

// Request describes one generation.
type Request struct {
	SystemPrompt string
	UserPrompt   string
	ReviewID     string
	Rating       int

	// BusinessID skips page resolution when already known.
	BusinessID string

	// Progress, when set, receives job status transitions while the
	// watch is active.
	Progress func(status string)
}

// Result is a finished generation.
type Result struct {
	ReplyText string
	JobID     string

	// Remaining is the post-debit available balance, or
	// backend.UnlimitedBalance.
	Remaining int

	// Direct means the reply came from the synchronous fallback
	// endpoint rather than a watched job.
	Direct bool
}

// JobAPI is the backend surface the orchestrator needs.
type JobAPI interface {
	CreateGenerationJob(ctx context.Context, req backend.JobRequest) (*backend.JobResponse, error)
	GenerateDirect(ctx context.Context, req backend.JobRequest) (*backend.DirectResponse, error)
}

// CreditLedger is the slice of the ledger client the pipeline uses.
type CreditLedger interface {
	Validate(ctx context.Context, operationType string, itemCount int) (*ledger.ValidationResult, error)
	Consume(ctx context.Context, req backend.ConsumeRequest) (*ledger.ConsumeResult, error)
	ApplyServerBalance(userID string, available int)
	ZeroAvailable(userID string)
}

// SlotLimiter gates outbound requests.
type SlotLimiter interface {
	AwaitSlot(ctx context.Context) error
}

// JobWatch is a live watch on one job record.
type JobWatch interface {
	Updates() <-chan watch.Update
	Err() <-chan error
	Close()
}

// WatchFunc opens a watch on a job record.
type WatchFunc func(ctx context.Context, userID, jobID string) (JobWatch, error)

// Config holds construction parameters for the orchestrator.
type Config struct {
	// Jobs is the backend job API.
	Jobs JobAPI

	// Ledger validates and debits credits.
	Ledger CreditLedger

	// Sessions supplies the active identity.
	Sessions *identity.Manager

	// Limiter gates submissions. Required.
	Limiter SlotLimiter

	// Watch opens job record watches. Required.
	Watch WatchFunc

	// Agent resolves the business id from the page. Optional.
	Agent content.Agent

	// Notify receives low-credit and deferred events. Optional.
	Notify notify.Sink

	// WatchTimeout overrides the 5-minute watch bound (tests).
	WatchTimeout time.Duration

	// RetryPolicy overrides the submission retry schedule (tests).
	RetryPolicy retry.Policy

	// LogFn is an optional callback for log messages.
	LogFn func(level, msg string)
}

// Orchestrator drives single generations.
type Orchestrator struct {
	jobs         JobAPI
	ledger       CreditLedger
	sessions     *identity.Manager
	limiter      SlotLimiter
	openWatch    WatchFunc
	agent        content.Agent
	notify       notify.Sink
	watchTimeout time.Duration
	policy       retry.Policy
	logFn        func(level, msg string)
}

// New creates an orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Jobs == nil || cfg.Ledger == nil || cfg.Sessions == nil || cfg.Limiter == nil || cfg.Watch == nil {
		return nil, fmt.Errorf("orchestrator: Jobs, Ledger, Sessions, Limiter and Watch are required")
	}
	if cfg.WatchTimeout == 0 {
		cfg.WatchTimeout = defaultWatchTimeout
	}
	if cfg.RetryPolicy.MaxAttempts == 0 {
		cfg.RetryPolicy = retry.LedgerPolicy()
	}
	if cfg.Notify == nil {
		cfg.Notify = notify.NopSink{}
	}
	return &Orchestrator{
		jobs:         cfg.Jobs,
		ledger:       cfg.Ledger,
		sessions:     cfg.Sessions,
		limiter:      cfg.Limiter,
		openWatch:    cfg.Watch,
		agent:        cfg.Agent,
		notify:       cfg.Notify,
		watchTimeout: cfg.WatchTimeout,
		policy:       cfg.RetryPolicy,
		logFn:        cfg.LogFn,
	}, nil
}

func (o *Orchestrator) log(level, format string, args ...any) {
	if o.logFn != nil {
		o.logFn(level, fmt.Sprintf(format, args...))
	}
}

// Generate runs one generation end to end and returns the reply text.
func (o *Orchestrator) Generate(ctx context.Context, req Request) (*Result, error) {
	sess := o.sessions.Current()
	if sess == nil {
		return nil, errdefs.New(errdefs.KindUnauthenticated, "no active session")
	}

	if err := o.limiter.AwaitSlot(ctx); err != nil {
		return nil, err
	}

	vr, err := o.ledger.Validate(ctx, ledger.OpGenerate, 1)
	if err != nil {
		return nil, err
	}
	if !vr.CanProceed {
		return nil, errdefs.New(vr.Kind, "%s", vr.Reason)
	}
	if vr.Stale {
		o.log("warning", "proceeding on possibly outdated credit status")
	}

	jobReq := backend.JobRequest{
		SystemPrompt: req.SystemPrompt,
		UserPrompt:   req.UserPrompt,
		ReviewID:     req.ReviewID,
		Rating:       req.Rating,
		BusinessID:   req.BusinessID,
	}
	if jobReq.BusinessID == "" && o.agent != nil {
		jobReq.BusinessID = o.resolveBusinessID(ctx)
	}

	var resp *backend.JobResponse
	err = retry.Do(ctx, o.policy, func(ctx context.Context) error {
		r, err := o.jobs.CreateGenerationJob(ctx, jobReq)
		if err != nil {
			return err
		}
		if !r.Success {
			return jobFailure(r)
		}
		resp = r
		return nil
	})
	if err != nil {
		switch errdefs.KindOf(err) {
		case errdefs.KindInsufficientCredits:
			// The backend is authoritative: reflect the rejection in
			// the cache before surfacing it.
			o.ledger.ZeroAvailable(sess.UserID)
			return nil, err
		case errdefs.KindTransport:
			o.log("warning", "job submission unreachable, trying direct endpoint: %v", err)
			return o.generateDirect(ctx, req, jobReq)
		default:
			return nil, err
		}
	}

	o.ledger.ApplyServerBalance(sess.UserID, resp.NewCreditBalance)
	if resp.NewCreditBalance != backend.UnlimitedBalance && resp.NewCreditBalance <= lowCreditThreshold {
		o.notify.Publish(notify.Event{
			Type:    notify.EventLowCredits,
			Message: "credits are running low",
			Fields:  map[string]any{"remaining": resp.NewCreditBalance},
		})
	}

	reply, err := o.awaitJob(ctx, sess.UserID, resp.JobID, req.Progress)
	if err != nil {
		return nil, err
	}
	return &Result{ReplyText: reply, JobID: resp.JobID, Remaining: resp.NewCreditBalance}, nil
}

// jobFailure maps a success=false job response to an error kind. The
// backend rejects in the body on 2xx as well as through HTTP status.
func jobFailure(r *backend.JobResponse) error {
	switch r.Error {
	case backend.ErrCodeInsufficientCredits:
		return errdefs.New(errdefs.KindInsufficientCredits, "insufficient credits")
	case backend.ErrCodeTrialAlreadyUsed:
		return errdefs.New(errdefs.KindTrialAlreadyUsed, "trial generation already used")
	default:
		return errdefs.New(errdefs.KindValidation, "job rejected: %s", r.Error)
	}
}

// resolveBusinessID asks the page a few times, then gives up. A
// missing business id degrades the generation, it does not block it.
func (o *Orchestrator) resolveBusinessID(ctx context.Context) string {
	var businessID string
	err := retry.Fixed(ctx, businessIDAttempts, businessIDGap, func(ctx context.Context) error {
		id, err := o.agent.ResolveBusinessID(ctx)
		if err != nil {
			return err
		}
		businessID = id
		return nil
	})
	if err != nil {
		o.log("debug", "business id unresolved, submitting without it: %v", err)
		return ""
	}
	return businessID
}

// awaitJob watches the job record until a terminal state, the watch
// timeout, or ctx cancellation. The watch and its timer are torn down
// together on every exit path.
func (o *Orchestrator) awaitJob(ctx context.Context, userID, jobID string, progress func(string)) (string, error) {
	w, err := o.openWatch(ctx, userID, jobID)
	if err != nil {
		return "", errdefs.Wrap(errdefs.KindWatchError, err, "open watch on job %s", jobID)
	}

	timer := time.NewTimer(o.watchTimeout)
	defer func() {
		timer.Stop()
		w.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
			return "", errdefs.New(errdefs.KindTimeout, "job %s still running after %v; the reply may arrive later", jobID, o.watchTimeout)
		case werr := <-w.Err():
			return "", errdefs.Wrap(errdefs.KindWatchError, werr, "watch on job %s failed", jobID)
		case u, ok := <-w.Updates():
			if !ok {
				return "", errdefs.New(errdefs.KindWatchError, "watch on job %s ended early", jobID)
			}
			if u.Missing {
				return "", errdefs.New(errdefs.KindJobRecordMissing, "job %s has no record", jobID)
			}
			if progress != nil && u.Status != "" {
				progress(u.Status)
			}
			switch u.Status {
			case watch.StatusCompleted:
				if u.AIResponse == "" {
					return "", errdefs.New(errdefs.KindEmptyResult, "job %s completed without a reply", jobID)
				}
				return u.AIResponse, nil
			case watch.StatusFailed:
				msg := u.Error
				if msg == "" {
					msg = "no reason given"
				}
				return "", errdefs.New(errdefs.KindValidation, "generation failed: %s", msg)
			}
		}
	}
}

// generateDirect is the legacy synchronous path, used when the job
// endpoint is unreachable: debit one credit through the ledger, then
// call the direct endpoint.
func (o *Orchestrator) generateDirect(ctx context.Context, req Request, jobReq backend.JobRequest) (*Result, error) {
	cres, err := o.ledger.Consume(ctx, backend.ConsumeRequest{
		OperationType: ledger.OpGenerate,
		ItemCount:     1,
		ReviewID:      req.ReviewID,
	})
	if err != nil {
		return nil, err
	}
	if cres.Deferred {
		o.notify.Publish(notify.Event{
			Type:    notify.EventDeferred,
			Message: "offline: generation credit queued for replay",
		})
		return nil, errdefs.New(errdefs.KindDeferred, "backend unreachable; request queued, try again once online")
	}

	dresp, err := o.jobs.GenerateDirect(ctx, jobReq)
	if err != nil {
		return nil, err
	}
	if dresp.Text == "" {
		return nil, errdefs.New(errdefs.KindEmptyResult, "direct generation returned no text")
	}
	return &Result{ReplyText: dresp.Text, Remaining: cres.Remaining, Direct: true}, nil
}
