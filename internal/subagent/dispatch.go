package subagent

import "github.com/nextlevelbuilder/openclaw/internal/store"

// StoreDispatcher answers queue-mode lookups from the session store. The
// core runs no parent LLM loop of its own, so there is never a run to
// steer into or queue behind: Steer and EnqueueAnnouncement decline and
// delivery falls through to a direct gateway send.
type StoreDispatcher struct {
	sessions *store.SessionStore
}

func NewStoreDispatcher(sessions *store.SessionStore) *StoreDispatcher {
	return &StoreDispatcher{sessions: sessions}
}

func (d *StoreDispatcher) QueueMode(sessionKey string) string {
	if mode := d.sessions.GetOrCreate(sessionKey).QueueMode; mode != "" {
		return mode
	}
	return store.QueueModeOff
}

func (d *StoreDispatcher) RunActive(string) bool { return false }

func (d *StoreDispatcher) Steer(string, string) bool { return false }

func (d *StoreDispatcher) EnqueueAnnouncement(string, string) bool { return false }
