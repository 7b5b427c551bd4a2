package content

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/replyforge-ai/replyforge-cli/internal/errdefs"
)

// defaultCallTimeout bounds a single request/response exchange with
// the page when the caller's context has no earlier deadline.
const defaultCallTimeout = 10 * time.Second

// frame is the wire shape of a bridge message. Requests and responses
// are correlated by ID; "position" frames are unsolicited pushes from
// the page script.
type frame struct {
	Type    string          `json:"type"` // "request", "response", "position"
	ID      string          `json:"id,omitempty"`
	Action  string          `json:"action,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Bridge actions understood by the page script.
const (
	actionGetPosition       = "get_position"
	actionGetCurrentItem    = "get_current_item"
	actionHasExistingReply  = "has_existing_reply"
	actionFillReply         = "fill_reply"
	actionSubmitReply       = "submit_reply"
	actionResolveBusinessID = "resolve_business_id"
)

// BridgeConfig holds configuration for the page bridge.
type BridgeConfig struct {
	// URL is the WebSocket endpoint the page script listens on.
	URL string

	// CallTimeout overrides the per-call deadline (tests).
	CallTimeout time.Duration

	// DebugFunc is an optional callback for debug logging.
	DebugFunc func(format string, args ...any)
}

// Bridge is the WebSocket implementation of Agent. All page operations
// are request/response exchanges keyed by a generated id; position
// pushes from the page fan out to any WaitForPositionChange callers.
type Bridge struct {
	url         string
	callTimeout time.Duration
	debugFunc   func(format string, args ...any)

	conn      *websocket.Conn
	connMu    sync.RWMutex
	connected bool
	writeMu   sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan frame

	posMu      sync.Mutex
	posWaiters map[int]chan Position
	nextWaiter int

	done     chan struct{}
	stopOnce sync.Once
}

var _ Agent = (*Bridge)(nil)

// NewBridge creates a page bridge. Call Connect before use.
func NewBridge(cfg BridgeConfig) *Bridge {
	if cfg.CallTimeout == 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	return &Bridge{
		url:         cfg.URL,
		callTimeout: cfg.CallTimeout,
		debugFunc:   cfg.DebugFunc,
		pending:     make(map[string]chan frame),
		posWaiters:  make(map[int]chan Position),
		done:        make(chan struct{}),
	}
}

func (b *Bridge) debug(format string, args ...any) {
	if b.debugFunc != nil {
		b.debugFunc(format, args...)
	}
}

// Connect establishes the WebSocket connection and starts the read
// pump.
func (b *Bridge) Connect(ctx context.Context) error {
	b.connMu.Lock()
	defer b.connMu.Unlock()

	if b.connected {
		return nil
	}

	b.debug("bridge: connecting to %s", b.url)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, b.url, http.Header{})
	if err != nil {
		if resp != nil {
			return errdefs.Wrap(errdefs.KindTransport, err, "bridge connect failed with status %d", resp.StatusCode)
		}
		return errdefs.Wrap(errdefs.KindTransport, err, "bridge connect failed")
	}

	b.conn = conn
	b.connected = true
	b.debug("bridge: connected")

	go b.readLoop(conn)
	return nil
}

// readLoop pumps frames off the connection until it fails or the
// bridge is closed.
func (b *Bridge) readLoop(conn *websocket.Conn) {
	defer b.failPending(errdefs.New(errdefs.KindTransport, "bridge connection lost"))

	for {
		select {
		case <-b.done:
			return
		default:
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			b.debug("bridge: read error: %v", err)
			b.connMu.Lock()
			b.connected = false
			b.connMu.Unlock()
			return
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			b.debug("bridge: bad frame: %v", err)
			continue
		}

		switch f.Type {
		case "response":
			b.pendingMu.Lock()
			ch, ok := b.pending[f.ID]
			if ok {
				delete(b.pending, f.ID)
			}
			b.pendingMu.Unlock()
			if ok {
				ch <- f
			}
		case "position":
			var pos Position
			if err := json.Unmarshal(f.Payload, &pos); err != nil {
				b.debug("bridge: bad position frame: %v", err)
				continue
			}
			b.notifyPosition(pos)
		default:
			b.debug("bridge: unknown frame type %q", f.Type)
		}
	}
}

// failPending resolves every in-flight call with err. Runs when the
// read pump exits so callers never hang on a dead connection.
func (b *Bridge) failPending(err error) {
	b.pendingMu.Lock()
	pending := b.pending
	b.pending = make(map[string]chan frame)
	b.pendingMu.Unlock()

	for _, ch := range pending {
		ch <- frame{Type: "response", Error: err.Error()}
	}
}

func (b *Bridge) notifyPosition(pos Position) {
	b.posMu.Lock()
	defer b.posMu.Unlock()
	for _, ch := range b.posWaiters {
		select {
		case ch <- pos:
		default:
		}
	}
}

// call performs one request/response exchange with the page.
func (b *Bridge) call(ctx context.Context, action string, payload any, out any) error {
	b.connMu.RLock()
	conn := b.conn
	connected := b.connected
	b.connMu.RUnlock()
	if !connected || conn == nil {
		return errdefs.New(errdefs.KindTransport, "bridge not connected")
	}

	req := frame{Type: "request", ID: uuid.New().String(), Action: action}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s payload: %w", action, err)
		}
		req.Payload = data
	}

	respCh := make(chan frame, 1)
	b.pendingMu.Lock()
	b.pending[req.ID] = respCh
	b.pendingMu.Unlock()
	defer func() {
		b.pendingMu.Lock()
		delete(b.pending, req.ID)
		b.pendingMu.Unlock()
	}()

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal %s frame: %w", action, err)
	}

	b.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, data)
	b.writeMu.Unlock()
	if err != nil {
		return errdefs.Wrap(errdefs.KindTransport, err, "send %s", action)
	}

	timer := time.NewTimer(b.callTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-b.done:
		return errdefs.New(errdefs.KindTransport, "bridge closed")
	case <-timer.C:
		return errdefs.New(errdefs.KindTimeout, "page did not answer %s", action)
	case resp := <-respCh:
		if resp.Error != "" {
			return errdefs.New(errdefs.KindValidation, "page rejected %s: %s", action, resp.Error)
		}
		if out != nil && len(resp.Payload) > 0 {
			if err := json.Unmarshal(resp.Payload, out); err != nil {
				return fmt.Errorf("parse %s response: %w", action, err)
			}
		}
		return nil
	}
}

// Position reports where the page currently is in the review list.
func (b *Bridge) Position(ctx context.Context) (Position, error) {
	var pos Position
	err := b.call(ctx, actionGetPosition, nil, &pos)
	return pos, err
}

// CurrentItem reads the focused review.
func (b *Bridge) CurrentItem(ctx context.Context) (*Item, error) {
	var item Item
	if err := b.call(ctx, actionGetCurrentItem, nil, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// HasExistingReply reports whether the focused review already has an
// owner reply.
func (b *Bridge) HasExistingReply(ctx context.Context) (bool, error) {
	var resp struct {
		HasReply bool `json:"hasReply"`
	}
	if err := b.call(ctx, actionHasExistingReply, nil, &resp); err != nil {
		return false, err
	}
	return resp.HasReply, nil
}

// FillReply types text into the reply box without submitting.
func (b *Bridge) FillReply(ctx context.Context, text string) error {
	return b.call(ctx, actionFillReply, map[string]string{"text": text}, nil)
}

// SubmitReply submits whatever is in the reply box.
func (b *Bridge) SubmitReply(ctx context.Context) error {
	return b.call(ctx, actionSubmitReply, nil, nil)
}

// ResolveBusinessID extracts the business identifier from the page.
func (b *Bridge) ResolveBusinessID(ctx context.Context) (string, error) {
	var resp struct {
		BusinessID string `json:"businessId"`
	}
	if err := b.call(ctx, actionResolveBusinessID, nil, &resp); err != nil {
		return "", err
	}
	if resp.BusinessID == "" {
		return "", errdefs.New(errdefs.KindValidation, "page has no business id")
	}
	return resp.BusinessID, nil
}

// WaitForPositionChange blocks until the page pushes a position that
// differs from last, or the timeout elapses.
func (b *Bridge) WaitForPositionChange(ctx context.Context, last Position, timeout time.Duration) (Position, error) {
	ch := make(chan Position, 4)
	b.posMu.Lock()
	id := b.nextWaiter
	b.nextWaiter++
	b.posWaiters[id] = ch
	b.posMu.Unlock()
	defer func() {
		b.posMu.Lock()
		delete(b.posWaiters, id)
		b.posMu.Unlock()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-b.done:
			return last, errdefs.New(errdefs.KindTransport, "bridge closed")
		case <-timer.C:
			return last, errdefs.New(errdefs.KindTimeout, "page position did not change within %v", timeout)
		case pos := <-ch:
			if pos != last {
				return pos, nil
			}
		}
	}
}

// IsConnected reports whether the bridge currently has a live
// connection.
func (b *Bridge) IsConnected() bool {
	b.connMu.RLock()
	defer b.connMu.RUnlock()
	return b.connected
}

// Close shuts the bridge down. Safe to call more than once.
func (b *Bridge) Close() error {
	b.stopOnce.Do(func() { close(b.done) })

	b.connMu.Lock()
	defer b.connMu.Unlock()

	b.connected = false
	if b.conn != nil {
		err := b.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		if err != nil {
			b.debug("bridge: error sending close message: %v", err)
		}
		return b.conn.Close()
	}
	return nil
}
