// Package store persists per-session metadata the core reads at announce
// time: delivery origin, queue settings, labels, and transcript paths.
// One JSON file per session under the storage directory.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Queue settings modes controlling how announcements reach a busy session.
const (
	QueueModeOff          = "off"
	QueueModeFollowup     = "followup"
	QueueModeCollect      = "collect"
	QueueModeInterrupt    = "interrupt"
	QueueModeSteer        = "steer"
	QueueModeSteerBacklog = "steer-backlog"
)

// Origin is the channel address a session was last reached at.
type Origin struct {
	Channel   string `json:"channel,omitempty"`
	AccountID string `json:"account_id,omitempty"`
	To        string `json:"to,omitempty"`
	ThreadID  string `json:"thread_id,omitempty"`
}

// Merge overlays other on top of o, other's fields winning when set.
func (o Origin) Merge(other Origin) Origin {
	out := o
	if other.Channel != "" {
		out.Channel = other.Channel
	}
	if other.AccountID != "" {
		out.AccountID = other.AccountID
	}
	if other.To != "" {
		out.To = other.To
	}
	if other.ThreadID != "" {
		out.ThreadID = other.ThreadID
	}
	return out
}

// IsZero reports whether no address is known.
func (o Origin) IsZero() bool { return o == Origin{} }

// SessionMeta is the durable metadata for one session.
type SessionMeta struct {
	Key            string    `json:"key"`
	Label          string    `json:"label,omitempty"`
	LastChannel    string    `json:"lastChannel,omitempty"`
	LastAccountID  string    `json:"lastAccountId,omitempty"`
	LastTo         string    `json:"lastTo,omitempty"`
	LastThreadID   string    `json:"lastThreadId,omitempty"`
	QueueMode      string    `json:"queueMode,omitempty"`
	TranscriptPath string    `json:"transcriptPath,omitempty"`
	CLISessionID   string    `json:"cliSessionId,omitempty"`
	SpawnedBy      string    `json:"spawnedBy,omitempty"`
	Created        time.Time `json:"created"`
	Updated        time.Time `json:"updated"`
}

// StoredOrigin returns the session's last-known delivery address.
func (s *SessionMeta) StoredOrigin() Origin {
	return Origin{
		Channel:   s.LastChannel,
		AccountID: s.LastAccountID,
		To:        s.LastTo,
		ThreadID:  s.LastThreadID,
	}
}

// SessionStore manages session metadata files.
type SessionStore struct {
	mu       sync.Mutex
	dir      string
	sessions map[string]*SessionMeta
}

// NewSessionStore opens (creating if needed) a store rooted at dir.
func NewSessionStore(dir string) (*SessionStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	return &SessionStore{dir: dir, sessions: make(map[string]*SessionMeta)}, nil
}

// Dir returns the storage root.
func (st *SessionStore) Dir() string { return st.dir }

// TranscriptPath returns the canonical transcript file for a session key.
func (st *SessionStore) TranscriptPath(key string) string {
	return filepath.Join(st.dir, fileSafe(key)+".jsonl")
}

func (st *SessionStore) metaPath(key string) string {
	return filepath.Join(st.dir, fileSafe(key)+".meta.json")
}

func fileSafe(key string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, key)
}

// GetOrCreate loads a session's metadata, reading the file on first access.
// The returned value is a snapshot; mutate stored state through Update.
func (st *SessionStore) GetOrCreate(key string) *SessionMeta {
	st.mu.Lock()
	defer st.mu.Unlock()
	copied := *st.getOrCreateLocked(key)
	return &copied
}

func (st *SessionStore) getOrCreateLocked(key string) *SessionMeta {
	if s, ok := st.sessions[key]; ok {
		return s
	}
	s := &SessionMeta{Key: key, Created: time.Now(), Updated: time.Now()}
	if data, err := os.ReadFile(st.metaPath(key)); err == nil {
		_ = json.Unmarshal(data, s)
		s.Key = key
	}
	if s.TranscriptPath == "" {
		s.TranscriptPath = st.TranscriptPath(key)
	}
	st.sessions[key] = s
	return s
}

// Update applies fn to the session's metadata and persists it.
func (st *SessionStore) Update(key string, fn func(*SessionMeta)) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s := st.getOrCreateLocked(key)
	fn(s)
	s.Updated = time.Now()
	st.saveLocked(s)
}

// SetLabel updates the session label.
func (st *SessionStore) SetLabel(key, label string) {
	st.Update(key, func(s *SessionMeta) { s.Label = label })
}

// RecordOrigin stores the last delivery address for a session.
func (st *SessionStore) RecordOrigin(key string, o Origin) {
	st.Update(key, func(s *SessionMeta) {
		if o.Channel != "" {
			s.LastChannel = o.Channel
		}
		if o.AccountID != "" {
			s.LastAccountID = o.AccountID
		}
		if o.To != "" {
			s.LastTo = o.To
		}
		if o.ThreadID != "" {
			s.LastThreadID = o.ThreadID
		}
	})
}

// Delete removes the session metadata and, when deleteTranscript is set,
// the transcript file.
func (st *SessionStore) Delete(key string, deleteTranscript bool) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	s := st.getOrCreateLocked(key)
	delete(st.sessions, key)
	if err := os.Remove(st.metaPath(key)); err != nil && !os.IsNotExist(err) {
		return err
	}
	if deleteTranscript && s.TranscriptPath != "" {
		if err := os.Remove(s.TranscriptPath); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// List returns a snapshot of every session with a metadata file on disk or
// in memory.
func (st *SessionStore) List() []*SessionMeta {
	st.mu.Lock()
	defer st.mu.Unlock()

	entries, _ := os.ReadDir(st.dir)
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, ".meta.json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(st.dir, name))
		if err != nil {
			continue
		}
		var s SessionMeta
		if err := json.Unmarshal(data, &s); err != nil || s.Key == "" {
			continue
		}
		if _, ok := st.sessions[s.Key]; !ok {
			copied := s
			if copied.TranscriptPath == "" {
				copied.TranscriptPath = st.TranscriptPath(copied.Key)
			}
			st.sessions[s.Key] = &copied
		}
	}

	out := make([]*SessionMeta, 0, len(st.sessions))
	for _, s := range st.sessions {
		copied := *s
		out = append(out, &copied)
	}
	return out
}

// saveLocked writes the metadata file atomically (write-to-temp + rename).
func (st *SessionStore) saveLocked(s *SessionMeta) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return
	}
	path := st.metaPath(s.Key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return
	}
	_ = os.Rename(tmp, path)
}
