// Package content talks to the review page. An Agent exposes the page
// operations the generation and bulk pipelines need; the production
// implementation is a WebSocket bridge to the browser-side script that
// actually reads and mutates the page.
package content

import (
	"context"
	"time"
)

// Item is one review as read from the page.
type Item struct {
	ID      string `json:"id"`
	Author  string `json:"author,omitempty"`
	Rating  int    `json:"rating"`
	Text    string `json:"text"`
	PageURL string `json:"pageUrl,omitempty"`
}

// Position locates the currently focused review within the page's
// review list.
type Position struct {
	CurrentIndex int `json:"currentIndex"`
	TotalItems   int `json:"totalItems"`
}

// Agent is the surface the pipelines use to observe and drive the page.
type Agent interface {
	// Position reports where the page currently is in the review list.
	Position(ctx context.Context) (Position, error)

	// CurrentItem reads the focused review.
	CurrentItem(ctx context.Context) (*Item, error)

	// HasExistingReply reports whether the focused review already has
	// an owner reply.
	HasExistingReply(ctx context.Context) (bool, error)

	// FillReply types text into the reply box without submitting.
	FillReply(ctx context.Context, text string) error

	// SubmitReply submits whatever is in the reply box.
	SubmitReply(ctx context.Context) error

	// ResolveBusinessID extracts the business identifier from the page.
	ResolveBusinessID(ctx context.Context) (string, error)

	// WaitForPositionChange blocks until the page moves off last, or
	// the timeout elapses.
	WaitForPositionChange(ctx context.Context, last Position, timeout time.Duration) (Position, error)
}
