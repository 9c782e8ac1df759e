// Package interact tracks pending AskUserQuestion / plan-approval requests
// per session and parses user answers against their options.
package interact

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/openclaw/internal/cliexec"
)

// Default lifetimes.
const (
	DefaultTTL             = 5 * time.Minute
	DefaultCleanupInterval = 60 * time.Second
)

// Pending is one interaction waiting for a user answer. Keyed by session:
// at most one pending interaction per sessionKey.
type Pending struct {
	ID           string                      `json:"id"`
	CLISessionID string                      `json:"cli_session_id"`
	SessionKey   string                      `json:"session_key"`
	ToolCallID   string                      `json:"tool_call_id"`
	Type         string                      `json:"type"` // cliexec.InteractionAskUser / InteractionPlanApproval
	Question     string                      `json:"question"`
	Options      []cliexec.InteractionOption `json:"options,omitempty"`
	MultiSelect  bool                        `json:"multi_select,omitempty"`
	CreatedAt    time.Time                   `json:"created_at"`
	ExpiresAt    time.Time                   `json:"expires_at"`
	AgentID      string                      `json:"agent_id,omitempty"`
	Provider     string                      `json:"provider,omitempty"`
}

// Manager is the process-wide pending-interaction map. A cleanup timer runs
// while any entries exist and stops when the map drains; it never blocks
// process exit.
type Manager struct {
	mu       sync.Mutex
	pending  map[string]*Pending
	ttl      time.Duration
	interval time.Duration
	timer    *time.Timer
	now      func() time.Time
}

// NewManager creates a manager. Zero durations use the defaults.
func NewManager(ttl, cleanupInterval time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if cleanupInterval <= 0 {
		cleanupInterval = DefaultCleanupInterval
	}
	return &Manager{
		pending:  make(map[string]*Pending),
		ttl:      ttl,
		interval: cleanupInterval,
		now:      time.Now,
	}
}

// Set records a detected interaction for a session, replacing any previous
// one, and returns the stored entry.
func (m *Manager) Set(sessionKey, cliSessionID, agentID, provider string, di *cliexec.DetectedInteraction) *Pending {
	now := m.now()
	p := &Pending{
		ID:           uuid.NewString(),
		CLISessionID: cliSessionID,
		SessionKey:   sessionKey,
		ToolCallID:   di.ToolCallID,
		Type:         di.Type,
		Question:     di.Question,
		Options:      di.Options,
		MultiSelect:  di.MultiSelect,
		CreatedAt:    now,
		ExpiresAt:    now.Add(m.ttl),
		AgentID:      agentID,
		Provider:     provider,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[sessionKey] = p
	m.ensureTimerLocked()
	return p
}

// Get returns the pending interaction for a session if it has not expired.
// An expired entry is deleted and nothing is returned.
func (m *Manager) Get(sessionKey string) (*Pending, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pending[sessionKey]
	if !ok {
		return nil, false
	}
	if m.now().After(p.ExpiresAt) {
		delete(m.pending, sessionKey)
		m.stopTimerIfEmptyLocked()
		return nil, false
	}
	return p, true
}

// Clear removes the pending interaction for a session.
func (m *Manager) Clear(sessionKey string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, sessionKey)
	m.stopTimerIfEmptyLocked()
}

// CleanupExpired removes every expired entry. Expiration is silent: no
// callback fires for a dropped question.
func (m *Manager) CleanupExpired() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for key, p := range m.pending {
		if now.After(p.ExpiresAt) {
			delete(m.pending, key)
		}
	}
	m.stopTimerIfEmptyLocked()
	if len(m.pending) > 0 && m.timer != nil {
		m.timer.Reset(m.interval)
	}
}

func (m *Manager) ensureTimerLocked() {
	if m.timer != nil {
		return
	}
	m.timer = time.AfterFunc(m.interval, m.CleanupExpired)
}

func (m *Manager) stopTimerIfEmptyLocked() {
	if len(m.pending) == 0 && m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}
