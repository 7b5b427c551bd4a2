// Package notify fans out user-facing pipeline events. Sinks are
// fire-and-forget: publishing never blocks the pipeline and a sink
// failure is the sink's problem.
package notify

import (
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/fatih/color"
)

// EventType classifies a notification.
type EventType string

const (
	// EventLowCredits fires when the available balance drops to the
	// warning threshold.
	EventLowCredits EventType = "low_credits"

	// EventDeferred fires when a consumption was queued offline.
	EventDeferred EventType = "deferred"

	// EventCompletion fires when a generation job resolves.
	EventCompletion EventType = "completion"

	// EventBulkSummary fires when a bulk run finishes.
	EventBulkSummary EventType = "bulk_summary"

	// EventBulkPaused fires when a bulk run hits the safety ceiling.
	EventBulkPaused EventType = "bulk_paused"

	// EventError fires for surfaced pipeline failures.
	EventError EventType = "error"
)

// Event is one notification.
type Event struct {
	Type    EventType
	Message string
	Fields  map[string]any
}

// Sink receives events.
type Sink interface {
	Publish(Event)
}

// NopSink discards every event.
type NopSink struct{}

func (NopSink) Publish(Event) {}

// ConsoleSink renders events to a terminal.
type ConsoleSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsoleSink writes to w, or stdout when w is nil.
func NewConsoleSink(w io.Writer) *ConsoleSink {
	if w == nil {
		w = os.Stdout
	}
	return &ConsoleSink{w: w}
}

func (s *ConsoleSink) Publish(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var prefix string
	switch e.Type {
	case EventLowCredits:
		prefix = color.YellowString("⚠ credits")
	case EventDeferred:
		prefix = color.YellowString("⧖ queued")
	case EventCompletion:
		prefix = color.GreenString("✓ done")
	case EventBulkSummary:
		prefix = color.CyanString("Σ bulk")
	case EventBulkPaused:
		prefix = color.YellowString("⏸ paused")
	case EventError:
		prefix = color.RedString("✗ error")
	default:
		prefix = string(e.Type)
	}

	fmt.Fprintf(s.w, "%s %s%s\n", prefix, e.Message, formatFields(e.Fields))
}

func formatFields(fields map[string]any) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := color.HiBlackString(" (")
	for i, k := range keys {
		if i > 0 {
			out += color.HiBlackString(", ")
		}
		out += color.HiBlackString("%s=%v", k, fields[k])
	}
	return out + color.HiBlackString(")")
}

// Multi fans one event out to several sinks.
type Multi []Sink

func (m Multi) Publish(e Event) {
	for _, s := range m {
		s.Publish(e)
	}
}
