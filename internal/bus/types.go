package bus

// Event represents a server-side event broadcast to in-process subscribers.
type Event struct {
	Name    string      `json:"name"`              // event name (e.g. "agent", "heartbeat")
	Payload interface{} `json:"payload,omitempty"`
}

// AgentEventPayload is the payload of "agent" events published by the
// subagent registry (spawned / completed).
type AgentEventPayload struct {
	Type       string `json:"type"` // protocol.AgentEventSpawned / AgentEventCompleted
	RunID      string `json:"run_id"`
	SessionKey string `json:"session_key"`           // requester session
	ChildKey   string `json:"child_key,omitempty"`   // child session
	Status     string `json:"status,omitempty"`      // outcome status for completed events
	Label      string `json:"label,omitempty"`
}

// TranscriptUpdatePayload signals that a session transcript file gained
// new records. Consumed by the memory indexer.
type TranscriptUpdatePayload struct {
	SessionKey string `json:"session_key"`
	Path       string `json:"path"`
}

// EventHandler handles a broadcast event.
type EventHandler func(Event)

// EventPublisher abstracts event broadcast + subscription.
// Decouples the subagent registry, transcript writer, and memory indexer
// from the concrete MessageBus.
type EventPublisher interface {
	Subscribe(id string, handler EventHandler)
	Unsubscribe(id string)
	Broadcast(event Event)
}
