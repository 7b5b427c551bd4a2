package notify

import (
	"bytes"
	"strings"
	"testing"

	"github.com/fatih/color"
)

func TestConsoleSinkRendersMessageAndFields(t *testing.T) {
	old := color.NoColor
	color.NoColor = true
	defer func() { color.NoColor = old }()

	var buf bytes.Buffer
	sink := NewConsoleSink(&buf)

	sink.Publish(Event{
		Type:    EventBulkSummary,
		Message: "run finished",
		Fields:  map[string]any{"processed": 3, "errors": 1},
	})

	out := buf.String()
	if !strings.Contains(out, "run finished") {
		t.Errorf("output missing message: %q", out)
	}
	// Fields render sorted by key.
	if !strings.Contains(out, "(errors=1, processed=3)") {
		t.Errorf("output missing sorted fields: %q", out)
	}
}

func TestMultiFansOut(t *testing.T) {
	var a, b bytes.Buffer
	m := Multi{NewConsoleSink(&a), NewConsoleSink(&b)}

	m.Publish(Event{Type: EventError, Message: "boom"})

	if !strings.Contains(a.String(), "boom") || !strings.Contains(b.String(), "boom") {
		t.Errorf("event not delivered to every sink: a=%q b=%q", a.String(), b.String())
	}
}
