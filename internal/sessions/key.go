// Package sessions — session key builder and parser.
//
// Session keys follow the canonical format:
//
//	agent:{agentId}:{rest}
//
// Where {rest} depends on the session type:
//
//	DM:       {channel}:direct:{peerId}
//	Group:    {channel}:group:{groupId}
//	Subagent: subagent:{slug}
//
// Examples:
//
//	agent:default:telegram:direct:386246614
//	agent:default:subagent:research-task-1a2b
package sessions

import (
	"fmt"
	"strings"
)

// PeerKind distinguishes DM from group conversations.
type PeerKind string

const (
	PeerDirect PeerKind = "direct"
	PeerGroup  PeerKind = "group"
)

// BuildSessionKey builds the canonical agent session key for a channel
// conversation.
func BuildSessionKey(agentID, channel string, kind PeerKind, chatID string) string {
	return fmt.Sprintf("agent:%s:%s:%s:%s", agentID, channel, kind, chatID)
}

// BuildSubagentSessionKey builds the session key for a spawned subagent.
//
//	agent:{agentId}:subagent:{slug}
func BuildSubagentSessionKey(agentID, slug string) string {
	return fmt.Sprintf("agent:%s:subagent:%s", agentID, slug)
}

// ParseSessionKey extracts the agentID and rest from a canonical session
// key. Returns ("", "") if the key is not in the expected format.
func ParseSessionKey(key string) (agentID, rest string) {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) < 3 || parts[0] != "agent" {
		return "", ""
	}
	return parts[1], parts[2]
}

// AgentID returns the agent id embedded in a session key, or "default" when
// the key is not canonical.
func AgentID(key string) string {
	if id, _ := ParseSessionKey(key); id != "" {
		return id
	}
	return "default"
}

// IsSubagentSession checks if a session key indicates a subagent session.
func IsSubagentSession(key string) bool {
	_, rest := ParseSessionKey(key)
	return strings.HasPrefix(strings.ToLower(rest), "subagent:")
}

// Slug converts free text into a key-safe slug (lowercase, dashes).
func Slug(s string, maxLen int) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
		if maxLen > 0 && b.Len() >= maxLen {
			break
		}
	}
	return strings.Trim(b.String(), "-")
}
