package gateway

import (
	"context"
	"time"

	"github.com/nextlevelbuilder/openclaw/pkg/protocol"
)

// AgentParams starts or continues a run in a session.
type AgentParams struct {
	SessionKey     string `json:"sessionKey"`
	Message        string `json:"message"`
	Channel        string `json:"channel,omitempty"`
	AccountID      string `json:"accountId,omitempty"`
	To             string `json:"to,omitempty"`
	ThreadID       string `json:"threadId,omitempty"`
	Deliver        bool   `json:"deliver"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
	ExpectFinal    bool   `json:"expectFinal,omitempty"`
}

// Agent invokes the "agent" method.
func (c *Client) Agent(ctx context.Context, p AgentParams) error {
	return c.CallInto(ctx, protocol.MethodAgent, p, nil)
}

// AgentWaitResult is the terminal state of a run.
type AgentWaitResult struct {
	Status    string `json:"status"` // ok|error|timeout
	StartedAt int64  `json:"startedAt,omitempty"`
	EndedAt   int64  `json:"endedAt,omitempty"`
	Error     string `json:"error,omitempty"`
}

// AgentWait blocks until a run finalizes or timeoutMs elapses gateway-side.
func (c *Client) AgentWait(ctx context.Context, runID string, timeoutMs int) (*AgentWaitResult, error) {
	var out AgentWaitResult
	err := c.CallInto(ctx, protocol.MethodAgentWait, map[string]interface{}{
		"runId":     runID,
		"timeoutMs": timeoutMs,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Typing refreshes the typing indicator on the session's channel.
func (c *Client) Typing(ctx context.Context, sessionKey string) error {
	return c.CallInto(ctx, protocol.MethodTyping, map[string]interface{}{
		"sessionKey": sessionKey,
	}, nil)
}

// SessionsPatch updates a session's label.
func (c *Client) SessionsPatch(ctx context.Context, key, label string) error {
	return c.CallInto(ctx, protocol.MethodSessionsPatch, map[string]interface{}{
		"key":   key,
		"label": label,
	}, nil)
}

// SessionsDelete removes a session, optionally with its transcript.
func (c *Client) SessionsDelete(ctx context.Context, key string, deleteTranscript bool) error {
	return c.CallInto(ctx, protocol.MethodSessionsDelete, map[string]interface{}{
		"key":              key,
		"deleteTranscript": deleteTranscript,
	}, nil)
}

// Heartbeat nudges the gateway dispatcher to run a wake-up pass.
func (c *Client) Heartbeat(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return c.CallInto(ctx, protocol.MethodHeartbeat, nil, nil)
}
