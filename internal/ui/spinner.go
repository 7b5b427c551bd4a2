// internal/ui/spinner.go
package ui

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
)

// SpinnerStyle defines the visual style of the spinner
type SpinnerStyle int

const (
	// StyleThinking shows a pulsing dot for waiting states
	StyleThinking SpinnerStyle = iota
	// StyleWorking shows an active spinner for in-progress work
	StyleWorking
)

var (
	thinkingFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
	workingFrames  = []string{"◐", "◓", "◑", "◒"}
)

// Spinner renders a single-line animated status while a long
// operation (device approval, job watch) is in flight.
type Spinner struct {
	mu        sync.Mutex
	style     SpinnerStyle
	message   string
	detail    string
	running   bool
	done      chan struct{}
	writer    io.Writer
	startTime time.Time
}

// NewSpinner creates a new spinner with the given style
func NewSpinner(style SpinnerStyle) *Spinner {
	return &Spinner{
		style:  style,
		writer: os.Stdout,
	}
}

// SetWriter sets the output writer
func (s *Spinner) SetWriter(w io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writer = w
}

// Start begins the spinner animation with a message
func (s *Spinner) Start(message string) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.message = message
	s.detail = ""
	s.running = true
	s.done = make(chan struct{})
	s.startTime = time.Now()
	s.mu.Unlock()

	go s.animate()
}

// UpdateMessage changes the spinner message while running
func (s *Spinner) UpdateMessage(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.message = message
}

// UpdateDetail sets additional detail text (shown dimmed after the message)
func (s *Spinner) UpdateDetail(detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detail = detail
}

// Stop stops the spinner and optionally shows a final message
func (s *Spinner) Stop(finalMessage string) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.done)
	s.mu.Unlock()

	s.clearLine()
	if finalMessage != "" {
		fmt.Fprintln(s.writer, finalMessage)
	}
}

// Success stops with a green checkmark
func (s *Spinner) Success(message string) {
	s.Stop(color.GreenString("✓") + " " + message)
}

// Fail stops with a red X
func (s *Spinner) Fail(message string) {
	s.Stop(color.RedString("✗") + " " + message)
}

// Warning stops with a yellow warning
func (s *Spinner) Warning(message string) {
	s.Stop(color.YellowString("⚠") + " " + message)
}

func (s *Spinner) animate() {
	frames := thinkingFrames
	if s.style == StyleWorking {
		frames = workingFrames
	}
	frameIndex := 0
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.mu.Lock()
			frame := frames[frameIndex%len(frames)]
			message := s.message
			detail := s.detail
			elapsed := time.Since(s.startTime)
			style := s.style
			s.mu.Unlock()

			s.clearLine()
			s.renderFrame(frame, message, detail, elapsed, style)
			frameIndex++
		}
	}
}

func (s *Spinner) clearLine() {
	fmt.Fprint(s.writer, "\r\033[K")
}

func (s *Spinner) renderFrame(frame, message, detail string, elapsed time.Duration, style SpinnerStyle) {
	prefix := color.CyanString(frame)
	if style == StyleWorking {
		prefix = color.YellowString(frame)
	}

	var timeStr string
	if elapsed > time.Second {
		timeStr = color.HiBlackString(" (%s)", formatDuration(elapsed))
	}

	var detailStr string
	if detail != "" {
		detailStr = color.HiBlackString(" %s", detail)
	}

	fmt.Fprintf(s.writer, "%s %s%s%s", prefix, message, detailStr, timeStr)
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%dm%ds", minutes, seconds)
}
