package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/replyforge-ai/replyforge-cli/internal/backend"
)

const schema = `
CREATE TABLE IF NOT EXISTS credit_status (
    user_id        TEXT PRIMARY KEY,
    payload        TEXT NOT NULL,
    schema_version TEXT NOT NULL,
    cached_at      TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS consumption_queue (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    request_id  TEXT NOT NULL UNIQUE,
    user_id     TEXT NOT NULL,
    payload     TEXT NOT NULL,
    enqueued_at TEXT NOT NULL,
    retry_count INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_consumption_queue_order ON consumption_queue(id);
`

// CachedStatus is a credit status snapshot persisted locally for
// offline reads.
type CachedStatus struct {
	Status   backend.CreditStatus
	UserID   string
	Version  string
	CachedAt time.Time
}

// QueuedRequest is a consumption request parked while offline.
type QueuedRequest struct {
	ID         int64
	UserID     string
	Request    backend.ConsumeRequest
	EnqueuedAt time.Time
	RetryCount int
}

// Store provides SQLite-backed persistence for the cached credit
// status and the offline consumption queue.
type Store struct {
	db *sql.DB
}

// OpenStore opens (or creates) the ledger database at dbPath and runs
// migrations.
func OpenStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open ledger db: %w", err)
	}

	// WAL keeps reads cheap while the drain loop writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// SaveStatus writes (or replaces) the cached status for a user.
func (s *Store) SaveStatus(c CachedStatus) error {
	payload, err := json.Marshal(c.Status)
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO credit_status (user_id, payload, schema_version, cached_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			payload = excluded.payload,
			schema_version = excluded.schema_version,
			cached_at = excluded.cached_at`,
		c.UserID, string(payload), c.Version, c.CachedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save status: %w", err)
	}
	return nil
}

// LoadStatus returns the cached status for a user, or nil when none is
// stored.
func (s *Store) LoadStatus(userID string) (*CachedStatus, error) {
	row := s.db.QueryRow(
		`SELECT payload, schema_version, cached_at FROM credit_status WHERE user_id = ?`,
		userID,
	)
	var payload, version, cachedAt string
	if err := row.Scan(&payload, &version, &cachedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load status: %w", err)
	}

	c := CachedStatus{UserID: userID, Version: version}
	if err := json.Unmarshal([]byte(payload), &c.Status); err != nil {
		return nil, fmt.Errorf("parse cached status: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, cachedAt)
	if err != nil {
		return nil, fmt.Errorf("parse cached_at: %w", err)
	}
	c.CachedAt = t
	return &c, nil
}

// DeleteStatus removes the cached status for a user.
func (s *Store) DeleteStatus(userID string) error {
	_, err := s.db.Exec(`DELETE FROM credit_status WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("delete status: %w", err)
	}
	return nil
}

// Enqueue appends a consumption request to the offline queue.
func (s *Store) Enqueue(userID string, req backend.ConsumeRequest, enqueuedAt time.Time) (int64, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return 0, fmt.Errorf("marshal request: %w", err)
	}
	res, err := s.db.Exec(`
		INSERT INTO consumption_queue (request_id, user_id, payload, enqueued_at)
		VALUES (?, ?, ?, ?)`,
		req.RequestID, userID, string(payload), enqueuedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("enqueue request: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("enqueue request id: %w", err)
	}
	return id, nil
}

// QueueList returns all queued requests in strict enqueue order.
func (s *Store) QueueList() ([]QueuedRequest, error) {
	rows, err := s.db.Query(`
		SELECT id, request_id, user_id, payload, enqueued_at, retry_count
		FROM consumption_queue ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list queue: %w", err)
	}
	defer rows.Close()

	var out []QueuedRequest
	for rows.Next() {
		var (
			q          QueuedRequest
			requestID  string
			payload    string
			enqueuedAt string
		)
		if err := rows.Scan(&q.ID, &requestID, &q.UserID, &payload, &enqueuedAt, &q.RetryCount); err != nil {
			return nil, fmt.Errorf("scan queue row: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &q.Request); err != nil {
			return nil, fmt.Errorf("parse queued request: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, enqueuedAt); err == nil {
			q.EnqueuedAt = t
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// Dequeue removes a request by row id.
func (s *Store) Dequeue(id int64) error {
	_, err := s.db.Exec(`DELETE FROM consumption_queue WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("dequeue request: %w", err)
	}
	return nil
}

// IncrementRetry bumps the retry counter for a queued request.
func (s *Store) IncrementRetry(id int64) error {
	_, err := s.db.Exec(`UPDATE consumption_queue SET retry_count = retry_count + 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("increment retry: %w", err)
	}
	return nil
}

// ClearQueue removes every queued request.
func (s *Store) ClearQueue() error {
	_, err := s.db.Exec(`DELETE FROM consumption_queue`)
	if err != nil {
		return fmt.Errorf("clear queue: %w", err)
	}
	return nil
}

// QueueLen returns the number of queued requests.
func (s *Store) QueueLen() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM consumption_queue`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count queue: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
