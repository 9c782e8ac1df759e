package protocol

// ProtocolVersion is bumped whenever the gateway wire contract changes.
const ProtocolVersion = 3

// RPC method name constants for calls made against the gateway.
const (
	// Agent
	MethodAgent     = "agent"
	MethodAgentWait = "agent.wait"
	MethodTyping    = "typing"

	// Sessions
	MethodSessionsList   = "sessions.list"
	MethodSessionsPatch  = "sessions.patch"
	MethodSessionsDelete = "sessions.delete"

	// System
	MethodConnect   = "connect"
	MethodHealth    = "health"
	MethodHeartbeat = "heartbeat"
)
