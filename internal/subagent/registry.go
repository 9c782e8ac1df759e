package subagent

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nextlevelbuilder/openclaw/internal/cliexec"
	"github.com/nextlevelbuilder/openclaw/pkg/protocol"
)

// RunRecord is the durable on-disk form of one subagent run.
type RunRecord struct {
	Context
	CreatedAt    time.Time     `json:"createdAt"`
	EndedAt      time.Time     `json:"endedAt,omitzero"`
	Outcome      *Outcome      `json:"outcome,omitempty"`
	Summary      string        `json:"summary,omitempty"`
	Notified     bool          `json:"notified,omitempty"`
	CompletedAt  time.Time     `json:"completedAt,omitzero"`
	PlanApproved *bool         `json:"planApproved,omitempty"`
	Usage        cliexec.Usage `json:"usage,omitempty"`
}

// registryFile is the file schema.
type registryFile struct {
	Version int         `json:"version"`
	Records []RunRecord `json:"records"`
}

// Registry is the per-host durable subagent record file. Every mutation
// rewrites the file atomically (write-to-temp + rename).
type Registry struct {
	mu   sync.Mutex
	path string
}

// NewRegistry creates a registry at path.
func NewRegistry(path string) *Registry {
	return &Registry{path: path}
}

// Save rewrites the registry with the given records.
func (r *Registry) Save(records []RunRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("create registry dir: %w", err)
	}
	data, err := json.MarshalIndent(registryFile{Version: 1, Records: records}, "", "  ")
	if err != nil {
		return err
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write registry: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("replace registry: %w", err)
	}
	return nil
}

// Load reads all records. A missing file is an empty registry.
func (r *Registry) Load() ([]RunRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read registry: %w", err)
	}
	var f registryFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse registry: %w", err)
	}
	return f.Records, nil
}

// Restore loads the durable registry into the manager. Finished records
// land in completed with notified=true (no double announcements after a
// restart); unfinished records are re-registered as running and republished
// as spawned so the run loop re-drives them instead of leaving them holding
// concurrency slots. observe is additionally invoked per live run.
func (m *Manager) Restore(observe func(Context)) error {
	if m.registry == nil {
		return nil
	}
	records, err := m.registry.Load()
	if err != nil {
		return err
	}
	for _, rec := range records {
		m.syncFromRecord(rec, observe)
	}
	if len(records) > 0 {
		slog.Info("subagent registry restored", "records", len(records))
	}
	return nil
}

func (m *Manager) syncFromRecord(rec RunRecord, observe func(Context)) {
	m.mu.Lock()
	if !rec.EndedAt.IsZero() && rec.Outcome != nil {
		m.completed[rec.RunID] = &Result{
			Context:      rec.Context,
			EndedAt:      rec.EndedAt,
			Outcome:      *rec.Outcome,
			Summary:      rec.Summary,
			Notified:     true,
			CompletedAt:  rec.CompletedAt,
			PlanApproved: rec.PlanApproved,
			Usage:        rec.Usage,
		}
		m.mu.Unlock()
		return
	}
	c := rec.Context
	if c.StartedAt.IsZero() {
		c.StartedAt = rec.CreatedAt
	}
	m.running[c.RunID] = &c
	m.mu.Unlock()
	m.publish(protocol.AgentEventSpawned, &c, "")
	if observe != nil {
		observe(c)
	}
}

// heartbeatCoalescer fires the first heartbeat request immediately and
// folds further requests inside the window into that beat.
type heartbeatCoalescer struct {
	mu       sync.Mutex
	window   time.Duration
	fire     func()
	lastFire time.Time
}

func newHeartbeatCoalescer(window time.Duration, fire func()) *heartbeatCoalescer {
	return &heartbeatCoalescer{window: window, fire: fire}
}

// Request fires a heartbeat unless one already fired within the window.
func (h *heartbeatCoalescer) Request() {
	h.mu.Lock()
	if !h.lastFire.IsZero() && time.Since(h.lastFire) < h.window {
		h.mu.Unlock()
		return
	}
	h.lastFire = time.Now()
	h.mu.Unlock()
	go h.fire()
}
