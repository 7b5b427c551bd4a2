// Package bulk drives serial batch processing of the review list:
// one review at a time through the generation pipeline, with skip
// policies, a hard safety ceiling, and an operator confirmation gate.
package bulk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/replyforge-ai/replyforge-cli/internal/content"
	"github.com/replyforge-ai/replyforge-cli/internal/errdefs"
	"github.com/replyforge-ai/replyforge-cli/internal/identity"
	"github.com/replyforge-ai/replyforge-cli/internal/ledger"
	"github.com/replyforge-ai/replyforge-cli/internal/notify"
	"github.com/replyforge-ai/replyforge-cli/internal/orchestrator"
)

// Mode selects which reviews a run answers.
type Mode string

const (
	// ModePositive answers only reviews rated 4 stars and up.
	ModePositive Mode = "positive"

	// ModeFull answers every review without a reply.
	ModeFull Mode = "full"
)

// positiveRatingFloor is the lowest rating ModePositive answers.
const positiveRatingFloor = 4

// operation maps a mode to its ledger operation type.
func (m Mode) operation() string {
	if m == ModeFull {
		return ledger.OpBulkFull
	}
	return ledger.OpBulkPositive
}

// State is the driver's lifecycle position.
type State string

const (
	StateIdle       State = "idle"
	StateConfirming State = "confirming"
	StateActive     State = "active"
	StateCompleted  State = "completed"
	StateStopped    State = "stopped"
)

// RunState is a snapshot of a run.
type RunState struct {
	State     State
	Mode      Mode
	Processed int
	Skipped   int
	Errors    int

	// Reason explains a Stopped state.
	Reason string
}

// Defaults for the run's guardrails.
const (
	defaultSafetyCeiling = 20
	defaultPostSkipDelay = 2 * time.Second
	defaultPositionWait  = 10 * time.Second
)

// Generator produces one reply. The production implementation is the
// orchestrator.
type Generator interface {
	Generate(ctx context.Context, req orchestrator.Request) (*orchestrator.Result, error)
}

// Validator is the pre-run entitlement check.
type Validator interface {
	Validate(ctx context.Context, operationType string, itemCount int) (*ledger.ValidationResult, error)
}

// ConfirmFunc gates a run after its scope is known. Returning false
// cancels the run before any review is touched.
type ConfirmFunc func(mode Mode, items int) bool

// Config holds construction parameters for the bulk driver.
type Config struct {
	// Agent drives the review page. Required.
	Agent content.Agent

	// Generator produces replies. Required.
	Generator Generator

	// Validator checks entitlements before the run starts. Required.
	Validator Validator

	// Sessions supplies the active identity; revocation mid-run stops
	// the run. Required.
	Sessions *identity.Manager

	// Confirm gates the run. Nil means auto-confirm.
	Confirm ConfirmFunc

	// Notify receives run events. Optional.
	Notify notify.Sink

	// Enabled restricts modes. Nil means every mode is enabled.
	Enabled map[Mode]bool

	// SystemPrompt overrides the generation system prompt.
	SystemPrompt string

	// SafetyCeiling overrides the per-run outcome cap (tests).
	SafetyCeiling int

	// PostSkipDelay overrides the pause after a skipped review (tests).
	PostSkipDelay time.Duration

	// PositionWait overrides the post-submit advance wait (tests).
	PositionWait time.Duration

	// LogFn is an optional callback for log messages.
	LogFn func(level, msg string)
}

// Driver runs bulk passes over the review list. One run at a time.
type Driver struct {
	agent     content.Agent
	generator Generator
	validator Validator
	sessions  *identity.Manager
	confirm   ConfirmFunc
	notify    notify.Sink
	enabled   map[Mode]bool
	sysPrompt string
	ceiling   int
	skipDelay time.Duration
	posWait   time.Duration
	logFn     func(level, msg string)

	mu      sync.Mutex
	run     RunState
	stopCh  chan struct{}
	stalled bool
}

// New creates a bulk driver.
func New(cfg Config) (*Driver, error) {
	if cfg.Agent == nil || cfg.Generator == nil || cfg.Validator == nil || cfg.Sessions == nil {
		return nil, fmt.Errorf("bulk: Agent, Generator, Validator and Sessions are required")
	}
	if cfg.SafetyCeiling == 0 {
		cfg.SafetyCeiling = defaultSafetyCeiling
	}
	if cfg.PostSkipDelay == 0 {
		cfg.PostSkipDelay = defaultPostSkipDelay
	}
	if cfg.PositionWait == 0 {
		cfg.PositionWait = defaultPositionWait
	}
	if cfg.Notify == nil {
		cfg.Notify = notify.NopSink{}
	}
	return &Driver{
		agent:     cfg.Agent,
		generator: cfg.Generator,
		validator: cfg.Validator,
		sessions:  cfg.Sessions,
		confirm:   cfg.Confirm,
		notify:    cfg.Notify,
		enabled:   cfg.Enabled,
		sysPrompt: cfg.SystemPrompt,
		ceiling:   cfg.SafetyCeiling,
		skipDelay: cfg.PostSkipDelay,
		posWait:   cfg.PositionWait,
		logFn:     cfg.LogFn,
		run:       RunState{State: StateIdle},
	}, nil
}

func (d *Driver) log(level, format string, args ...any) {
	if d.logFn != nil {
		d.logFn(level, fmt.Sprintf(format, args...))
	}
}

// RunState returns a snapshot of the current (or last) run.
func (d *Driver) RunState() RunState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.run
}

// Stop requests the active run to halt after the current review. Safe
// to call from any goroutine, any number of times, in any state.
func (d *Driver) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopCh != nil {
		select {
		case <-d.stopCh:
		default:
			close(d.stopCh)
		}
	}
}

func (d *Driver) stopped() bool {
	d.mu.Lock()
	ch := d.stopCh
	d.mu.Unlock()
	if ch == nil {
		return false
	}
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func (d *Driver) modeEnabled(mode Mode) bool {
	if d.enabled == nil {
		return true
	}
	return d.enabled[mode]
}

func (d *Driver) setState(s State, reason string) {
	d.mu.Lock()
	d.run.State = s
	d.run.Reason = reason
	d.mu.Unlock()
}

// Run executes one bulk pass. It blocks until the run reaches a
// terminal state.
func (d *Driver) Run(ctx context.Context, mode Mode) error {
	d.mu.Lock()
	if d.run.State == StateConfirming || d.run.State == StateActive {
		d.mu.Unlock()
		return errdefs.New(errdefs.KindValidation, "a bulk run is already active")
	}
	d.run = RunState{State: StateConfirming, Mode: mode}
	d.stopCh = make(chan struct{})
	d.stalled = false
	d.mu.Unlock()

	if err := d.preflight(ctx, mode); err != nil {
		d.setState(StateStopped, err.Error())
		return err
	}

	pos, err := d.agent.Position(ctx)
	if err != nil {
		err = errdefs.Wrap(errdefs.KindValidation, err, "page position unavailable")
		d.setState(StateStopped, err.Error())
		return err
	}
	remaining := pos.TotalItems - pos.CurrentIndex
	if remaining <= 0 {
		d.setState(StateCompleted, "")
		return nil
	}

	vr, err := d.validator.Validate(ctx, mode.operation(), remaining)
	if err != nil {
		d.setState(StateStopped, err.Error())
		return err
	}
	if !vr.CanProceed {
		err := errdefs.New(vr.Kind, "%s", vr.Reason)
		d.setState(StateStopped, vr.Reason)
		return err
	}

	if d.confirm != nil && !d.confirm(mode, remaining) {
		d.setState(StateStopped, "cancelled before start")
		return nil
	}

	// Revoked identity halts the run at the next boundary.
	unsub := d.sessions.OnChange(func(s *identity.Session) {
		if s == nil {
			d.log("warning", "session revoked, stopping bulk run")
			d.Stop()
		}
	})
	defer unsub()

	d.setState(StateActive, "")
	return d.active(ctx, mode, pos)
}

// preflight checks the cheap preconditions before touching the ledger.
func (d *Driver) preflight(ctx context.Context, mode Mode) error {
	if d.sessions.Current() == nil {
		return errdefs.New(errdefs.KindUnauthenticated, "not signed in")
	}
	if mode != ModePositive && mode != ModeFull {
		return errdefs.New(errdefs.KindValidation, "unknown bulk mode %q", mode)
	}
	if !d.modeEnabled(mode) {
		return errdefs.New(errdefs.KindValidation, "bulk mode %q is disabled in configuration", mode)
	}
	return nil
}

// active is the per-review loop. Every review produces exactly one
// outcome (processed, skipped, or error); the safety ceiling bounds
// the total number of outcomes so the run always terminates.
func (d *Driver) active(ctx context.Context, mode Mode, pos content.Position) error {
	for {
		if err := ctx.Err(); err != nil {
			d.finish(StateStopped, "cancelled")
			return err
		}
		if d.stopped() {
			d.finish(StateStopped, "stopped")
			return nil
		}

		d.mu.Lock()
		outcomes := d.run.Processed + d.run.Skipped + d.run.Errors
		d.mu.Unlock()
		if outcomes > d.ceiling {
			d.notify.Publish(notify.Event{
				Type:    notify.EventBulkPaused,
				Message: "safety ceiling reached — paused, resume manually",
				Fields:  map[string]any{"outcomes": outcomes},
			})
			d.finish(StateStopped, "paused — resume manually")
			return nil
		}

		if done := d.step(ctx, mode, &pos); done {
			d.mu.Lock()
			stalled := d.stalled
			d.mu.Unlock()
			if stalled {
				d.finish(StateStopped, "position stalled on the last review")
				return nil
			}
			d.finish(StateCompleted, "")
			return nil
		}
	}
}

// step handles the review at pos and reports whether the list is
// exhausted. Every call records exactly one outcome, so the safety
// ceiling bounds the loop even when the page never advances.
func (d *Driver) step(ctx context.Context, mode Mode, pos *content.Position) (done bool) {
	item, err := d.agent.CurrentItem(ctx)
	if err != nil {
		d.recordError("read review: %v", err)
		return d.advanceAfterSkip(ctx, pos)
	}

	hasReply, err := d.agent.HasExistingReply(ctx)
	if err != nil {
		d.recordError("check existing reply: %v", err)
		return d.advanceAfterSkip(ctx, pos)
	}

	skip := hasReply || (mode == ModePositive && item.Rating < positiveRatingFloor)
	if skip {
		d.mu.Lock()
		d.run.Skipped++
		d.mu.Unlock()
		return d.advanceAfterSkip(ctx, pos)
	}

	res, err := d.generator.Generate(ctx, orchestrator.Request{
		SystemPrompt: d.sysPrompt,
		UserPrompt:   formatPrompt(item),
		ReviewID:     item.ID,
		Rating:       item.Rating,
	})
	if err != nil {
		d.recordError("generate reply for %s: %v", item.ID, err)
		return d.advanceAfterSkip(ctx, pos)
	}

	if err := d.agent.FillReply(ctx, res.ReplyText); err != nil {
		d.recordError("fill reply for %s: %v", item.ID, err)
		return d.advanceAfterSkip(ctx, pos)
	}
	if err := d.agent.SubmitReply(ctx); err != nil {
		d.recordError("submit reply for %s: %v", item.ID, err)
		return d.advanceAfterSkip(ctx, pos)
	}

	d.mu.Lock()
	d.run.Processed++
	d.mu.Unlock()

	return d.advanceAfterSubmit(ctx, pos)
}

// advanceAfterSkip pauses briefly for the page to move on, then polls
// the position once. The delay is a heuristic, not a guarantee.
func (d *Driver) advanceAfterSkip(ctx context.Context, pos *content.Position) (done bool) {
	select {
	case <-ctx.Done():
		return false
	case <-d.stopChan():
		return false
	case <-time.After(d.skipDelay):
	}

	newPos, err := d.agent.Position(ctx)
	if err != nil {
		d.log("warning", "position read failed after skip: %v", err)
		return false
	}
	return d.applyPosition(pos, newPos)
}

// advanceAfterSubmit waits for the page to move off the submitted
// review, falling back to a completion re-check on timeout.
func (d *Driver) advanceAfterSubmit(ctx context.Context, pos *content.Position) (done bool) {
	newPos, err := d.agent.WaitForPositionChange(ctx, *pos, d.posWait)
	if err != nil {
		if errdefs.KindOf(err) == errdefs.KindTimeout {
			if cur, perr := d.agent.Position(ctx); perr == nil {
				return d.applyPosition(pos, cur)
			}
		}
		d.log("warning", "position wait failed after submit: %v", err)
		return false
	}
	return d.applyPosition(pos, newPos)
}

func (d *Driver) applyPosition(pos *content.Position, newPos content.Position) (done bool) {
	moved := newPos != *pos
	*pos = newPos
	if newPos.TotalItems > 0 && newPos.CurrentIndex >= newPos.TotalItems {
		return true
	}
	if !moved && newPos.CurrentIndex == newPos.TotalItems-1 {
		// Last review and the page has nowhere to go. The list was not
		// confirmed exhausted, so the run ends as stopped, not completed.
		d.mu.Lock()
		d.stalled = true
		d.mu.Unlock()
		return true
	}
	return false
}

func (d *Driver) stopChan() chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopCh
}

func (d *Driver) recordError(format string, args ...any) {
	d.log("warning", format, args...)
	d.mu.Lock()
	d.run.Errors++
	d.mu.Unlock()
}

// finish records the terminal state and publishes the run summary.
func (d *Driver) finish(state State, reason string) {
	d.mu.Lock()
	d.run.State = state
	d.run.Reason = reason
	snapshot := d.run
	d.mu.Unlock()

	d.notify.Publish(notify.Event{
		Type:    notify.EventBulkSummary,
		Message: fmt.Sprintf("bulk run %s", state),
		Fields: map[string]any{
			"processed": snapshot.Processed,
			"skipped":   snapshot.Skipped,
			"errors":    snapshot.Errors,
		},
	})
}

func formatPrompt(item *content.Item) string {
	prompt := fmt.Sprintf("Rating: %d/5\n", item.Rating)
	if item.Author != "" {
		prompt += fmt.Sprintf("Review by %s:\n", item.Author)
	}
	return prompt + item.Text
}
