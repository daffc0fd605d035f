// Package usertrack keeps per-user chat history: a durable SQLite record of
// who has spoken and when, plus an in-memory set of users seen during the
// current session so first-message greetings fire once per stream.
package usertrack

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pkg/errors"

	"github.com/you/streamops/internal/core"
)

const schema = `CREATE TABLE IF NOT EXISTS users (
  platform TEXT NOT NULL,
  user_id TEXT NOT NULL,
  username TEXT NOT NULL,
  first_seen TEXT NOT NULL,
  last_seen TEXT NOT NULL,
  message_count INTEGER NOT NULL DEFAULT 0,
  PRIMARY KEY (platform, user_id)
);`

type UserStats struct {
	Platform     core.Platform `json:"platform"`
	UserID       string        `json:"userId"`
	Username     string        `json:"username"`
	FirstSeen    time.Time     `json:"firstSeen"`
	LastSeen     time.Time     `json:"lastSeen"`
	MessageCount int64         `json:"messageCount"`
}

type Store struct {
	db *sql.DB

	mu      sync.Mutex
	session map[string]struct{}
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "apply schema")
	}
	if _, err := db.Exec(`PRAGMA journal_mode=wal;`); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "set WAL")
	}
	applyTuningPragmas(context.Background(), db)
	return &Store{db: db, session: make(map[string]struct{})}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Ping() error { return s.db.Ping() }

func sessionKey(platform core.Platform, userID string) string {
	return string(platform) + "\x00" + strings.ToLower(userID)
}

// RecordMessage upserts the durable user row and marks the user as seen this
// session. It reports whether this was the user's first message since the
// session started.
func (s *Store) RecordMessage(ctx context.Context, platform core.Platform, userID, username string, ts time.Time) (firstOfSession bool, err error) {
	if userID == "" {
		return false, errors.New("userID is required")
	}

	const q = `INSERT INTO users (platform, user_id, username, first_seen, last_seen, message_count)
VALUES (?, ?, ?, ?, ?, 1)
ON CONFLICT(platform, user_id) DO UPDATE SET
  username = excluded.username,
  last_seen = excluded.last_seen,
  message_count = message_count + 1;`
	stamp := ts.UTC().Format(time.RFC3339Nano)
	if _, err := s.db.ExecContext(ctx, q, string(platform), userID, username, stamp, stamp); err != nil {
		return false, errors.Wrap(err, "upsert user")
	}

	key := sessionKey(platform, userID)
	s.mu.Lock()
	_, seen := s.session[key]
	s.session[key] = struct{}{}
	s.mu.Unlock()
	return !seen, nil
}

// SeenThisSession reports without recording.
func (s *Store) SeenThisSession(platform core.Platform, userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, seen := s.session[sessionKey(platform, userID)]
	return seen
}

// ResetSession clears the in-memory session set; the durable history stays.
func (s *Store) ResetSession() {
	s.mu.Lock()
	s.session = make(map[string]struct{})
	s.mu.Unlock()
}

func (s *Store) User(ctx context.Context, platform core.Platform, userID string) (*UserStats, error) {
	const q = `SELECT platform, user_id, username, first_seen, last_seen, message_count
FROM users WHERE platform = ? AND user_id = ?;`
	var (
		st                  UserStats
		p                   string
		firstSeen, lastSeen string
	)
	err := s.db.QueryRowContext(ctx, q, string(platform), userID).
		Scan(&p, &st.UserID, &st.Username, &firstSeen, &lastSeen, &st.MessageCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "query user")
	}
	st.Platform = core.Platform(p)
	if t, err := time.Parse(time.RFC3339Nano, firstSeen); err == nil {
		st.FirstSeen = t
	}
	if t, err := time.Parse(time.RFC3339Nano, lastSeen); err == nil {
		st.LastSeen = t
	}
	return &st, nil
}

// TopChatters lists users by message count, descending.
func (s *Store) TopChatters(ctx context.Context, limit int) ([]UserStats, error) {
	if limit <= 0 {
		limit = 25
	}
	const q = `SELECT platform, user_id, username, first_seen, last_seen, message_count
FROM users ORDER BY message_count DESC LIMIT ?;`
	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list users")
	}
	defer rows.Close()

	var out []UserStats
	for rows.Next() {
		var (
			st                  UserStats
			p                   string
			firstSeen, lastSeen string
		)
		if err := rows.Scan(&p, &st.UserID, &st.Username, &firstSeen, &lastSeen, &st.MessageCount); err != nil {
			return nil, errors.Wrap(err, "scan user")
		}
		st.Platform = core.Platform(p)
		if t, err := time.Parse(time.RFC3339Nano, firstSeen); err == nil {
			st.FirstSeen = t
		}
		if t, err := time.Parse(time.RFC3339Nano, lastSeen); err == nil {
			st.LastSeen = t
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate users")
	}
	return out, nil
}

func (s *Store) String() string {
	return fmt.Sprintf("usertrack.Store{%p}", s.db)
}
