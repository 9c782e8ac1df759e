// Package subagent tracks spawned child runs: slot reservation, lifecycle
// state, a durable registry that survives restarts, and the announce flow
// reporting completed children back into their parent session.
package subagent

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/openclaw/internal/bus"
	"github.com/nextlevelbuilder/openclaw/internal/cliexec"
	"github.com/nextlevelbuilder/openclaw/internal/store"
	"github.com/nextlevelbuilder/openclaw/pkg/protocol"
)

// Default limits.
const (
	DefaultMaxConcurrent     = 5
	DefaultMaxRetained       = 15
	DefaultReservationTTL    = 30 * time.Second
	DefaultHeartbeatCoalesce = time.Second
)

// Outcome statuses.
const (
	StatusOK      = "ok"
	StatusError   = "error"
	StatusTimeout = "timeout"
	StatusUnknown = "unknown"
)

// Cleanup modes for child sessions after announce.
const (
	CleanupKeep   = "keep"
	CleanupDelete = "delete"
)

// Outcome is the terminal state of a child run.
type Outcome struct {
	Status string `json:"status"` // ok|error|timeout|unknown
	Error  string `json:"error,omitempty"`
}

// Context describes a running subagent.
type Context struct {
	RunID               string       `json:"runId"`
	ChildSessionKey     string       `json:"childSessionKey"`
	RequesterSessionKey string       `json:"requesterSessionKey"`
	Task                string       `json:"task"`
	Label               string       `json:"label,omitempty"`
	StartedAt           time.Time    `json:"startedAt"`
	Model               string       `json:"model,omitempty"`
	PlanMode            bool         `json:"planMode,omitempty"`
	Cleanup             string       `json:"cleanup,omitempty"`
	Origin              store.Origin `json:"origin,omitempty"` // requester origin captured at spawn
}

// Result is a completed subagent.
type Result struct {
	Context
	EndedAt      time.Time     `json:"endedAt"`
	Outcome      Outcome       `json:"outcome"`
	Summary      string        `json:"summary,omitempty"`
	Notified     bool          `json:"notified"`
	CompletedAt  time.Time     `json:"completedAt"`
	PlanApproved *bool         `json:"planApproved,omitempty"`
	Usage        cliexec.Usage `json:"usage,omitempty"`
}

// Reservation is a pre-registration hold on a slot.
type Reservation struct {
	ReserveID           string    `json:"reserveId"`
	RequesterSessionKey string    `json:"requesterSessionKey"`
	ReservedAt          time.Time `json:"reservedAt"`
}

// Decision is the result of admission control.
type Decision struct {
	Allowed     bool     `json:"allowed"`
	ReserveID   string   `json:"reserveId,omitempty"`
	Reason      string   `json:"reason,omitempty"`      // "concurrency" or "capacity"
	Suggestions []string `json:"suggestions,omitempty"` // removable runIds when capacity-denied
}

// Errors returned by Remove.
var (
	ErrStillRunning     = errors.New("subagent is still running")
	ErrPermissionDenied = errors.New("subagent belongs to a different session")
	ErrNotFound         = errors.New("subagent not found")
)

// Config bounds the manager.
type Config struct {
	MaxConcurrent     int
	MaxRetained       int
	ReservationTTL    time.Duration
	HeartbeatCoalesce time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = DefaultMaxConcurrent
	}
	if c.MaxRetained <= 0 {
		c.MaxRetained = DefaultMaxRetained
	}
	if c.ReservationTTL <= 0 {
		c.ReservationTTL = DefaultReservationTTL
	}
	if c.HeartbeatCoalesce <= 0 {
		c.HeartbeatCoalesce = DefaultHeartbeatCoalesce
	}
	return c
}

// Manager owns the (running, completed, reserved) triple. The triple is one
// logical resource: every mutation happens under a single mutex so admission
// control always sees a consistent snapshot.
type Manager struct {
	mu        sync.Mutex
	running   map[string]*Context
	completed map[string]*Result
	reserved  map[string]*Reservation

	// usageByRun holds usage reported for still-running children; folded
	// into the Result at completion.
	usageByRun map[string]*cliexec.Usage

	cfg      Config
	registry *Registry
	pub      bus.EventPublisher
	hb       *heartbeatCoalescer
	now      func() time.Time
}

// NewManager creates a manager. registry and pub may be nil (tests).
func NewManager(cfg Config, registry *Registry, pub bus.EventPublisher, heartbeat func()) *Manager {
	m := &Manager{
		running:   make(map[string]*Context),
		completed: make(map[string]*Result),
		reserved:  make(map[string]*Reservation),
		cfg:       cfg.withDefaults(),
		registry:  registry,
		pub:       pub,
		now:       time.Now,
	}
	if heartbeat != nil {
		m.hb = newHeartbeatCoalescer(m.cfg.HeartbeatCoalesce, heartbeat)
	}
	return m
}

// ReserveSlot runs admission control for a requester session. Atomic.
func (m *Manager) ReserveSlot(requesterSessionKey string) Decision {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireReservationsLocked()

	var running, completed, reserved int
	for _, c := range m.running {
		if c.RequesterSessionKey == requesterSessionKey {
			running++
		}
	}
	for _, r := range m.completed {
		if r.RequesterSessionKey == requesterSessionKey {
			completed++
		}
	}
	for _, r := range m.reserved {
		if r.RequesterSessionKey == requesterSessionKey {
			reserved++
		}
	}

	if running+reserved >= m.cfg.MaxConcurrent {
		return Decision{
			Allowed: false,
			Reason:  "concurrency",
		}
	}
	if running+completed+reserved >= m.cfg.MaxRetained {
		return Decision{
			Allowed:     false,
			Reason:      "capacity",
			Suggestions: m.oldestCompletedLocked(requesterSessionKey, 3),
		}
	}

	r := &Reservation{
		ReserveID:           uuid.NewString(),
		RequesterSessionKey: requesterSessionKey,
		ReservedAt:          m.now(),
	}
	m.reserved[r.ReserveID] = r
	return Decision{Allowed: true, ReserveID: r.ReserveID}
}

// Register consumes a reservation and moves the context into running.
// Exactly one matching reservation must exist or the call is rejected.
func (m *Manager) Register(ctx Context, reserveID string) error {
	m.mu.Lock()
	r, ok := m.reserved[reserveID]
	if !ok || r.RequesterSessionKey != ctx.RequesterSessionKey {
		m.mu.Unlock()
		return fmt.Errorf("register %s: no matching reservation", ctx.RunID)
	}
	delete(m.reserved, reserveID)
	if ctx.StartedAt.IsZero() {
		ctx.StartedAt = m.now()
	}
	c := ctx
	m.running[ctx.RunID] = &c
	m.persistLocked()
	m.mu.Unlock()

	slog.Info("subagent registered",
		"run_id", ctx.RunID, "requester", ctx.RequesterSessionKey, "label", ctx.Label)
	m.publish(protocol.AgentEventSpawned, &c, "")
	return nil
}

// RecordUsage attaches token usage to a running child before completion.
func (m *Manager) RecordUsage(runID string, usage cliexec.Usage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.completed[runID]; ok {
		r.Usage.Merge(usage)
		m.persistLocked()
		return
	}
	if _, ok := m.running[runID]; ok {
		// Stash under a provisional completed-usage entry keyed by run.
		// Usage is folded in at completion via pendingUsage.
		m.pendingUsage(runID).Merge(usage)
	}
}

func (m *Manager) pendingUsage(runID string) *cliexec.Usage {
	if m.usageByRun == nil {
		m.usageByRun = make(map[string]*cliexec.Usage)
	}
	u, ok := m.usageByRun[runID]
	if !ok {
		u = &cliexec.Usage{}
		m.usageByRun[runID] = u
	}
	return u
}

// MarkCompleted moves a running child into completed. A no-op for unknown
// runs. Announce delivery is driven by the registry listener, not here.
func (m *Manager) MarkCompleted(runID string, outcome Outcome, summary string, endedAt time.Time) {
	m.mu.Lock()
	c, ok := m.running[runID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.running, runID)
	if endedAt.IsZero() {
		endedAt = m.now()
	}
	if outcome.Status == "" {
		outcome.Status = StatusUnknown
	}
	res := &Result{
		Context:     *c,
		EndedAt:     endedAt,
		Outcome:     outcome,
		Summary:     summary,
		Notified:    false,
		CompletedAt: m.now(),
	}
	if u, ok := m.usageByRun[runID]; ok {
		res.Usage = *u
		delete(m.usageByRun, runID)
	}
	m.completed[runID] = res
	m.persistLocked()
	m.mu.Unlock()

	slog.Info("subagent completed", "run_id", runID, "status", outcome.Status)
	m.publish(protocol.AgentEventCompleted, &res.Context, outcome.Status)
	if m.hb != nil {
		m.hb.Request()
	}
}

// MarkNotified flags a completed child as announced.
func (m *Manager) MarkNotified(runID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.completed[runID]; ok {
		r.Notified = true
		m.persistLocked()
	}
}

// SetPlanApproved records the user's plan decision on a completed child.
func (m *Manager) SetPlanApproved(runID string, approved bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.completed[runID]; ok {
		r.PlanApproved = &approved
		m.persistLocked()
	}
}

// Remove deletes a completed record. Running subagents cannot be removed,
// and a requester can only remove its own children.
func (m *Manager) Remove(runID, requesterSessionKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.running[runID]; ok {
		return ErrStillRunning
	}
	r, ok := m.completed[runID]
	if !ok {
		return ErrNotFound
	}
	if r.RequesterSessionKey != requesterSessionKey {
		return ErrPermissionDenied
	}
	delete(m.completed, runID)
	m.persistLocked()
	return nil
}

// Get returns the completed result for a run, if any.
func (m *Manager) Get(runID string) (*Result, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.completed[runID]
	if !ok {
		return nil, false
	}
	copied := *r
	return &copied, true
}

// Running returns the running context for a run, if any.
func (m *Manager) Running(runID string) (*Context, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.running[runID]
	if !ok {
		return nil, false
	}
	copied := *c
	return &copied, true
}

// RunningForChild returns the running context whose child session matches
// childSessionKey, if any.
func (m *Manager) RunningForChild(childSessionKey string) (*Context, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.running {
		if c.ChildSessionKey == childSessionKey {
			copied := *c
			return &copied, true
		}
	}
	return nil, false
}

// ExpireReservations garbage-collects reservations past the TTL. Called
// periodically; also folded into ReserveSlot.
func (m *Manager) ExpireReservations() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireReservationsLocked()
}

func (m *Manager) expireReservationsLocked() {
	cutoff := m.now().Add(-m.cfg.ReservationTTL)
	for id, r := range m.reserved {
		if r.ReservedAt.Before(cutoff) {
			delete(m.reserved, id)
			slog.Debug("subagent reservation expired", "reserve_id", id, "requester", r.RequesterSessionKey)
		}
	}
}

// ReleaseReservation drops a reservation explicitly (spawn path aborted).
func (m *Manager) ReleaseReservation(reserveID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.reserved, reserveID)
}

func (m *Manager) oldestCompletedLocked(requesterSessionKey string, n int) []string {
	var results []*Result
	for _, r := range m.completed {
		if r.RequesterSessionKey == requesterSessionKey {
			results = append(results, r)
		}
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].CompletedAt.Before(results[j].CompletedAt)
	})
	ids := make([]string, 0, n)
	for _, r := range results {
		if len(ids) == n {
			break
		}
		ids = append(ids, r.RunID)
	}
	return ids
}

func (m *Manager) publish(eventType string, c *Context, status string) {
	if m.pub == nil {
		return
	}
	m.pub.Broadcast(bus.Event{
		Name: protocol.EventAgent,
		Payload: bus.AgentEventPayload{
			Type:       eventType,
			RunID:      c.RunID,
			SessionKey: c.RequesterSessionKey,
			ChildKey:   c.ChildSessionKey,
			Status:     status,
			Label:      c.Label,
		},
	})
}

// StatusText renders the running/completed subagents for a session as a
// short Markdown block for prompt injection. Empty string if none.
func (m *Manager) StatusText(sessionKey string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var running []*Context
	var completed []*Result
	for _, c := range m.running {
		if c.RequesterSessionKey == sessionKey {
			running = append(running, c)
		}
	}
	for _, r := range m.completed {
		if r.RequesterSessionKey == sessionKey {
			completed = append(completed, r)
		}
	}
	if len(running)+len(completed) == 0 {
		return ""
	}
	sort.Slice(running, func(i, j int) bool { return running[i].StartedAt.Before(running[j].StartedAt) })
	sort.Slice(completed, func(i, j int) bool { return completed[i].CompletedAt.Before(completed[j].CompletedAt) })

	var b strings.Builder
	used := len(running) + len(completed)
	fmt.Fprintf(&b, "## Subagents (%d/%d)\n", used, m.cfg.MaxRetained)
	for _, c := range running {
		tag := ""
		if c.PlanMode {
			tag = " [PLAN]"
		}
		fmt.Fprintf(&b, "- %s %s — running%s\n", shortID(c.RunID), displayLabel(c.Label, c.Task), tag)
	}
	for _, r := range completed {
		fmt.Fprintf(&b, "- %s %s — %s%s\n", shortID(r.RunID), displayLabel(r.Label, r.Task), r.Outcome.Status, planTag(r.PlanMode, r.PlanApproved))
	}
	return b.String()
}

func shortID(runID string) string {
	if len(runID) > 8 {
		return runID[:8]
	}
	return runID
}

func displayLabel(label, task string) string {
	if label != "" {
		return label
	}
	return truncate(task, 50)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func planTag(planMode bool, approved *bool) string {
	if !planMode {
		return ""
	}
	switch {
	case approved == nil:
		return " [PLAN:AWAITING APPROVAL]"
	case *approved:
		return " [PLAN:APPROVED]"
	default:
		return " [PLAN]"
	}
}

// persistLocked rewrites the durable registry. Must hold m.mu.
func (m *Manager) persistLocked() {
	if m.registry == nil {
		return
	}
	records := make([]RunRecord, 0, len(m.running)+len(m.completed))
	for _, c := range m.running {
		records = append(records, RunRecord{Context: *c, CreatedAt: c.StartedAt})
	}
	for _, r := range m.completed {
		rec := RunRecord{Context: r.Context, CreatedAt: r.StartedAt}
		rec.EndedAt = r.EndedAt
		rec.Outcome = &r.Outcome
		rec.Summary = r.Summary
		rec.Notified = r.Notified
		rec.CompletedAt = r.CompletedAt
		rec.PlanApproved = r.PlanApproved
		rec.Usage = r.Usage
		records = append(records, rec)
	}
	if err := m.registry.Save(records); err != nil {
		slog.Warn("subagent registry save failed", "error", err)
	}
}
