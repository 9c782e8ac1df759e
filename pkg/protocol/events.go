package protocol

// In-process bus event names.
const (
	EventAgent                   = "agent"
	EventHeartbeat               = "heartbeat"
	EventConfigChanged           = "config.changed"
	EventSessionTranscriptUpdate = "sessionTranscriptUpdate"
)

// Agent event subtypes (in payload.type)
const (
	AgentEventSpawned   = "subagent.spawned"
	AgentEventCompleted = "subagent.completed"
)

// Gateway-pushed event frame names.
const (
	PushMessageReceived = "message.received"
)
