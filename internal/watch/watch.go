// Package watch observes remote generation job records. The backend
// keeps each job in a Redis hash and publishes transitions on a
// per-job Pub/Sub channel; the watcher turns those into a typed update
// stream the orchestrator can select on.
package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/replyforge-ai/replyforge-cli/internal/errdefs"
)

// Job record states written by the backend.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// IsTerminal reports whether a job status is final.
func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed
}

// Update is one observation of a job record.
type Update struct {
	Status     string
	AIResponse string
	Error      string

	// Missing means the record does not exist on the remote side.
	Missing bool
}

// recordEvent is the wire shape of a Pub/Sub transition message.
type recordEvent struct {
	Status     string `json:"status"`
	AIResponse string `json:"aiResponse,omitempty"`
	Error      string `json:"error,omitempty"`
}

// WatcherConfig holds configuration for the job watcher.
type WatcherConfig struct {
	// RedisURL is the Redis connection URL.
	RedisURL string

	// RedisPassword is the Redis password (optional).
	RedisPassword string

	// LogFn is an optional callback for log messages.
	LogFn func(level, msg string)
}

// Watcher opens watches over remote job records. At most one watch per
// job id may be active at a time.
type Watcher struct {
	client *redis.Client
	logFn  func(level, msg string)

	mu     sync.Mutex
	active map[string]*Watch
	closed bool
}

// NewWatcher connects to Redis and returns a job watcher.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse Redis URL: %w", err)
	}
	if cfg.RedisPassword != "" {
		opts.Password = cfg.RedisPassword
	}
	return &Watcher{
		client: redis.NewClient(opts),
		logFn:  cfg.LogFn,
		active: make(map[string]*Watch),
	}, nil
}

func (w *Watcher) log(level, format string, args ...any) {
	if w.logFn != nil {
		w.logFn(level, fmt.Sprintf(format, args...))
	}
}

// Watch is a live subscription to one job record.
type Watch struct {
	key     string
	updates chan Update
	errs    chan error
	done    chan struct{}
	once    sync.Once
	release func()
}

// Updates delivers record observations, the initial read included. The
// channel is closed when the watch ends.
func (j *Watch) Updates() <-chan Update { return j.updates }

// Err delivers at most one watch failure.
func (j *Watch) Err() <-chan error { return j.errs }

// Close tears down the subscription. Safe to call more than once and
// from any goroutine.
func (j *Watch) Close() {
	j.once.Do(func() {
		close(j.done)
		if j.release != nil {
			j.release()
		}
	})
}

func jobKey(userID, jobID string) string {
	return fmt.Sprintf("job:%s:%s", userID, jobID)
}

// Watch subscribes to the record for jobID. The transition channel is
// subscribed first and only then is the hash read, so a transition
// published between read and subscribe cannot be lost; an absent
// record is reported as Update{Missing: true} rather than an error.
func (w *Watcher) Watch(ctx context.Context, userID, jobID string) (*Watch, error) {
	key := jobKey(userID, jobID)

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil, errdefs.New(errdefs.KindWatchError, "watcher is closed")
	}
	if _, dup := w.active[key]; dup {
		w.mu.Unlock()
		return nil, errdefs.New(errdefs.KindWatchError, "watch already active for job %s", jobID)
	}
	j := &Watch{
		key:     key,
		updates: make(chan Update, 8),
		errs:    make(chan error, 1),
		done:    make(chan struct{}),
	}
	j.release = func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.active[key] == j {
			delete(w.active, key)
		}
	}
	w.active[key] = j
	w.mu.Unlock()

	pubsub := w.client.Subscribe(ctx, key+":events")
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		j.Close()
		return nil, errdefs.Wrap(errdefs.KindWatchError, err, "subscribe to job %s", jobID)
	}

	initial, err := w.readRecord(ctx, key)
	if err != nil {
		pubsub.Close()
		j.Close()
		return nil, err
	}

	go w.run(j, pubsub, initial)
	return j, nil
}

// readRecord reads the job hash. A missing record yields Missing: true.
func (w *Watcher) readRecord(ctx context.Context, key string) (Update, error) {
	fields, err := w.client.HGetAll(ctx, key).Result()
	if err != nil {
		return Update{}, errdefs.Wrap(errdefs.KindWatchError, err, "read job record %s", key)
	}
	if len(fields) == 0 {
		return Update{Missing: true}, nil
	}
	return Update{
		Status:     fields["status"],
		AIResponse: fields["aiResponse"],
		Error:      fields["error"],
	}, nil
}

// run pumps transition messages into the update channel until the
// watch is closed or the subscription fails.
func (w *Watcher) run(j *Watch, pubsub *redis.PubSub, initial Update) {
	defer pubsub.Close()
	defer close(j.updates)

	if !w.emit(j, initial) {
		return
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-j.done:
			return
		case msg, ok := <-ch:
			if !ok {
				select {
				case j.errs <- errdefs.New(errdefs.KindWatchError, "job subscription closed"):
				default:
				}
				return
			}

			var ev recordEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				// Malformed event: fall back to re-reading the record.
				w.log("warning", "bad job event on %s: %v", j.key, err)
				update, rerr := w.readRecord(context.Background(), j.key)
				if rerr != nil {
					select {
					case j.errs <- rerr:
					default:
					}
					return
				}
				if !w.emit(j, update) {
					return
				}
				continue
			}

			if !w.emit(j, Update{Status: ev.Status, AIResponse: ev.AIResponse, Error: ev.Error}) {
				return
			}
		}
	}
}

func (w *Watcher) emit(j *Watch, u Update) bool {
	select {
	case j.updates <- u:
		return true
	case <-j.done:
		return false
	}
}

// Ping probes the Redis connection.
func (w *Watcher) Ping(ctx context.Context) error {
	return w.client.Ping(ctx).Err()
}

// Close ends every active watch and closes the Redis connection.
func (w *Watcher) Close() error {
	w.mu.Lock()
	w.closed = true
	watches := make([]*Watch, 0, len(w.active))
	for _, j := range w.active {
		watches = append(watches, j)
	}
	w.mu.Unlock()

	for _, j := range watches {
		j.Close()
	}
	return w.client.Close()
}
