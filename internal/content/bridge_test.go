package content

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/replyforge-ai/replyforge-cli/internal/errdefs"
)

// pageScript handles one request frame on the fake page side.
type pageScript func(t *testing.T, conn *websocket.Conn, mu *sync.Mutex, f frame)

// respond writes a response frame correlated to req.
func respond(t *testing.T, conn *websocket.Conn, mu *sync.Mutex, req frame, payload any, errMsg string) {
	t.Helper()
	resp := frame{Type: "response", ID: req.ID, Error: errMsg}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Errorf("marshal response payload: %v", err)
			return
		}
		resp.Payload = data
	}
	data, err := json.Marshal(resp)
	if err != nil {
		t.Errorf("marshal response frame: %v", err)
		return
	}
	mu.Lock()
	defer mu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Logf("write response: %v", err)
	}
}

// newTestBridge runs a fake page behind an httptest server and returns
// a connected bridge plus a handle for pushing unsolicited frames.
func newTestBridge(t *testing.T, script pageScript) (*Bridge, func(any)) {
	t.Helper()

	var (
		mu   sync.Mutex
		conn *websocket.Conn
	)
	ready := make(chan struct{})
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		mu.Lock()
		conn = c
		mu.Unlock()
		close(ready)

		for {
			_, data, err := c.ReadMessage()
			if err != nil {
				return
			}
			var f frame
			if err := json.Unmarshal(data, &f); err != nil {
				t.Errorf("bad frame from bridge: %v", err)
				continue
			}
			if script != nil {
				script(t, c, &mu, f)
			}
		}
	}))
	t.Cleanup(srv.Close)

	b := NewBridge(BridgeConfig{
		URL:         "ws" + strings.TrimPrefix(srv.URL, "http"),
		CallTimeout: 2 * time.Second,
	})
	if err := b.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { b.Close() })

	<-ready
	push := func(v any) {
		data, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal push frame: %v", err)
		}
		mu.Lock()
		defer mu.Unlock()
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			t.Fatalf("push frame: %v", err)
		}
	}
	return b, push
}

func TestBridgeCurrentItem(t *testing.T) {
	b, _ := newTestBridge(t, func(t *testing.T, conn *websocket.Conn, mu *sync.Mutex, f frame) {
		if f.Action != actionGetCurrentItem {
			t.Errorf("unexpected action %q", f.Action)
		}
		respond(t, conn, mu, f, Item{ID: "rev-1", Author: "Dana", Rating: 5, Text: "Great service"}, "")
	})

	item, err := b.CurrentItem(context.Background())
	if err != nil {
		t.Fatalf("CurrentItem: %v", err)
	}
	if item.ID != "rev-1" || item.Rating != 5 || item.Text != "Great service" {
		t.Errorf("unexpected item: %+v", item)
	}
}

func TestBridgeFillReplyCarriesText(t *testing.T) {
	got := make(chan string, 1)
	b, _ := newTestBridge(t, func(t *testing.T, conn *websocket.Conn, mu *sync.Mutex, f frame) {
		var p struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			t.Errorf("parse fill payload: %v", err)
		}
		got <- p.Text
		respond(t, conn, mu, f, nil, "")
	})

	if err := b.FillReply(context.Background(), "Thanks for visiting!"); err != nil {
		t.Fatalf("FillReply: %v", err)
	}
	if text := <-got; text != "Thanks for visiting!" {
		t.Errorf("page saw %q", text)
	}
}

func TestBridgePageErrorBecomesValidation(t *testing.T) {
	b, _ := newTestBridge(t, func(t *testing.T, conn *websocket.Conn, mu *sync.Mutex, f frame) {
		respond(t, conn, mu, f, nil, "reply box not found")
	})

	err := b.SubmitReply(context.Background())
	if errdefs.KindOf(err) != errdefs.KindValidation {
		t.Errorf("expected Validation, got %v", err)
	}
}

func TestBridgeCallTimesOutWhenPageSilent(t *testing.T) {
	b, _ := newTestBridge(t, nil) // page never answers
	b.callTimeout = 50 * time.Millisecond

	_, err := b.Position(context.Background())
	if errdefs.KindOf(err) != errdefs.KindTimeout {
		t.Errorf("expected Timeout, got %v", err)
	}
}

func TestBridgeWaitForPositionChange(t *testing.T) {
	b, push := newTestBridge(t, nil)

	last := Position{CurrentIndex: 2, TotalItems: 10}
	done := make(chan struct{})
	var (
		pos Position
		err error
	)
	go func() {
		defer close(done)
		pos, err = b.WaitForPositionChange(context.Background(), last, 2*time.Second)
	}()

	// A push with the same position must not wake the waiter.
	push(frame{Type: "position", Payload: mustJSON(t, last)})
	time.Sleep(50 * time.Millisecond)
	push(frame{Type: "position", Payload: mustJSON(t, Position{CurrentIndex: 3, TotalItems: 10})})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never woke")
	}
	if err != nil {
		t.Fatalf("WaitForPositionChange: %v", err)
	}
	if pos.CurrentIndex != 3 {
		t.Errorf("position = %+v, want index 3", pos)
	}
}

func TestBridgeWaitForPositionChangeTimesOut(t *testing.T) {
	b, _ := newTestBridge(t, nil)

	_, err := b.WaitForPositionChange(context.Background(), Position{CurrentIndex: 1, TotalItems: 5}, 50*time.Millisecond)
	if errdefs.KindOf(err) != errdefs.KindTimeout {
		t.Errorf("expected Timeout, got %v", err)
	}
}

func TestBridgeCloseFailsSubsequentCalls(t *testing.T) {
	b, _ := newTestBridge(t, nil)
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	_, err := b.Position(context.Background())
	if errdefs.KindOf(err) != errdefs.KindTransport {
		t.Errorf("expected Transport after close, got %v", err)
	}
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}
