// Package memory maintains a searchable SQLite index over session
// transcripts. It tails transcript files incrementally, driven by
// transcript-update events on the message bus.
package memory

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/openclaw/internal/bus"
	"github.com/nextlevelbuilder/openclaw/pkg/protocol"
)

const subscriberID = "memory-index"

const schema = `
CREATE TABLE IF NOT EXISTS entries (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	session_key TEXT NOT NULL,
	role        TEXT NOT NULL,
	content     TEXT NOT NULL,
	created_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_entries_session ON entries(session_key, id);

CREATE TABLE IF NOT EXISTS files (
	path        TEXT PRIMARY KEY,
	session_key TEXT NOT NULL,
	offset      INTEGER NOT NULL DEFAULT 0
);
`

// Entry is one indexed transcript record.
type Entry struct {
	ID         int64
	SessionKey string
	Role       string
	Content    string
	CreatedAt  string
}

// Index is the transcript search index. Safe for concurrent use; writes
// are serialized by an internal mutex (SQLite single-writer).
type Index struct {
	db  *sql.DB
	pub bus.EventPublisher

	mu sync.Mutex // serializes file tailing + inserts
}

// Open creates or opens the index database at path and subscribes to
// transcript updates on pub (pub may be nil for read-only use).
func Open(path string, pub bus.EventPublisher) (*Index, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create memory dir: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open memory index: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init memory schema: %w", err)
	}

	idx := &Index{db: db, pub: pub}
	if pub != nil {
		pub.Subscribe(subscriberID, idx.onEvent)
	}
	return idx, nil
}

// Close unsubscribes and closes the database.
func (idx *Index) Close() error {
	if idx.pub != nil {
		idx.pub.Unsubscribe(subscriberID)
	}
	return idx.db.Close()
}

// onEvent reacts to transcript updates. Bus handlers must not block, so
// the actual tailing runs on its own goroutine.
func (idx *Index) onEvent(ev bus.Event) {
	if ev.Name != protocol.EventSessionTranscriptUpdate {
		return
	}
	p, ok := ev.Payload.(bus.TranscriptUpdatePayload)
	if !ok {
		return
	}
	go func() {
		if err := idx.IndexFile(p.SessionKey, p.Path); err != nil {
			slog.Warn("memory index update failed", "session", p.SessionKey, "error", err)
		}
	}()
}

// IndexFile tails the transcript at path from its last indexed offset and
// inserts any new assistant or tool-result records.
func (idx *Index) IndexFile(sessionKey, path string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	var offset int64
	err := idx.db.QueryRow(`SELECT offset FROM files WHERE path = ?`, path).Scan(&offset)
	if err != nil && err != sql.ErrNoRows {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return err
	}

	tx, err := idx.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	consumed := offset
	for scanner.Scan() {
		line := scanner.Bytes()
		consumed += int64(len(line)) + 1
		role, content, ts := parseRecord(line)
		if content == "" {
			continue
		}
		if _, err := tx.Exec(
			`INSERT INTO entries (session_key, role, content, created_at) VALUES (?, ?, ?, ?)`,
			sessionKey, role, content, ts,
		); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	if _, err := tx.Exec(
		`INSERT INTO files (path, session_key, offset) VALUES (?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET offset = excluded.offset`,
		path, sessionKey, consumed,
	); err != nil {
		return err
	}
	return tx.Commit()
}

// parseRecord extracts role, searchable text, and timestamp from one
// transcript line. Non-message records yield empty content.
func parseRecord(line []byte) (role, content, ts string) {
	var rec struct {
		Type      string `json:"type"`
		Role      string `json:"role"`
		Text      string `json:"text"`
		Content   string `json:"content"`
		Timestamp string `json:"timestamp"`
	}
	if err := json.Unmarshal(line, &rec); err != nil {
		return "", "", ""
	}
	if rec.Type != "message" {
		return "", "", ""
	}
	text := rec.Text
	if text == "" {
		text = rec.Content
	}
	if strings.TrimSpace(text) == "" {
		return "", "", ""
	}
	if rec.Timestamp == "" {
		rec.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	return rec.Role, text, rec.Timestamp
}

// Search returns entries whose content matches query, newest first.
// sessionKey narrows the search when non-empty.
func (idx *Index) Search(ctx context.Context, sessionKey, query string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	pattern := "%" + escapeLike(query) + "%"

	var rows *sql.Rows
	var err error
	if sessionKey != "" {
		rows, err = idx.db.QueryContext(ctx,
			`SELECT id, session_key, role, content, created_at FROM entries
			 WHERE session_key = ? AND content LIKE ? ESCAPE '\'
			 ORDER BY id DESC LIMIT ?`, sessionKey, pattern, limit)
	} else {
		rows, err = idx.db.QueryContext(ctx,
			`SELECT id, session_key, role, content, created_at FROM entries
			 WHERE content LIKE ? ESCAPE '\'
			 ORDER BY id DESC LIMIT ?`, pattern, limit)
	}
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

// Recent returns the newest entries for a session.
func (idx *Index) Recent(ctx context.Context, sessionKey string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := idx.db.QueryContext(ctx,
		`SELECT id, session_key, role, content, created_at FROM entries
		 WHERE session_key = ? ORDER BY id DESC LIMIT ?`, sessionKey, limit)
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.SessionKey, &e.Role, &e.Content, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
