// Package config holds the per-user JSON5 config document: CLI backends,
// model pricing, gateway endpoint, subagent limits, typing behavior.
package config

import (
	"os"
	"path/filepath"
	"strings"
)

// Config is the root configuration document.
type Config struct {
	Gateway   GatewayConfig            `json:"gateway"`
	Backends  map[string]BackendConfig `json:"backends"`
	Models    map[string]ModelConfig   `json:"models"`
	Sessions  SessionsConfig           `json:"sessions"`
	Subagents SubagentsConfig          `json:"subagents"`
	Typing    TypingConfig             `json:"typing"`
	Interact  InteractConfig           `json:"interactions"`
	Tracing   TracingConfig            `json:"tracing"`
	Memory    MemoryConfig             `json:"memory"`
}

// GatewayConfig describes the gateway this core talks to.
type GatewayConfig struct {
	URL          string `json:"url"`            // ws:// or wss:// endpoint
	Token        string `json:"token"`          // overridden by OPENCLAW_GATEWAY_TOKEN
	CallsPerSec  int    `json:"calls_per_sec"`  // outbound rate limit (0 = default)
	CallBurst    int    `json:"call_burst"`
	DialTimeoutS int    `json:"dial_timeout_seconds"`
}

// BackendConfig declares how to invoke one external LLM CLI.
type BackendConfig struct {
	Command           string            `json:"command"`
	Args              []string          `json:"args,omitempty"`
	ResumeArgs        []string          `json:"resume_args,omitempty"`
	SessionArg        string            `json:"session_arg,omitempty"`
	SessionArgs       []string          `json:"session_args,omitempty"`
	SessionMode       string            `json:"session_mode,omitempty"` // always|existing|none
	SystemPromptArg   string            `json:"system_prompt_arg,omitempty"`
	SystemPromptWhen  string            `json:"system_prompt_when,omitempty"` // first|always|never
	ModelArg          string            `json:"model_arg,omitempty"`
	ModelAliases      map[string]string `json:"model_aliases,omitempty"`
	ImageArg          string            `json:"image_arg,omitempty"`
	ImageMode         string            `json:"image_mode,omitempty"` // repeat|list
	Input             string            `json:"input,omitempty"`      // arg|stdin
	MaxPromptArgChars int               `json:"max_prompt_arg_chars,omitempty"`
	Output            string            `json:"output,omitempty"` // text|json|jsonl|stream-jsonl
	ResumeOutput      string            `json:"resume_output,omitempty"`
	Env               map[string]string `json:"env,omitempty"`
	ClearEnv          bool              `json:"clear_env,omitempty"`
	SandboxMode       string            `json:"sandbox_mode,omitempty"` // off|inherit|always
	SandboxOverrides  map[string]string `json:"sandbox_overrides,omitempty"`
	Serialize         bool              `json:"serialize,omitempty"`
	EnableTools       bool              `json:"enable_tools,omitempty"`
	SessionIDFields   []string          `json:"session_id_fields,omitempty"`
}

// ModelConfig carries per-model metadata used by the announce stats line.
type ModelConfig struct {
	Cost *ModelCost `json:"cost,omitempty"`
}

// ModelCost is USD per million tokens.
type ModelCost struct {
	Input  float64 `json:"input"`
	Output float64 `json:"output"`
}

// SessionsConfig configures session storage.
type SessionsConfig struct {
	Storage string `json:"storage"` // directory for session metadata + transcripts
}

// SubagentsConfig configures subagent admission control and the registry.
type SubagentsConfig struct {
	MaxConcurrent       int    `json:"max_concurrent"`          // per requester session (default 5)
	MaxRetained         int    `json:"max_retained"`            // running+completed+reserved (default 15)
	ReservationTTLSec   int    `json:"reservation_ttl_seconds"` // default 30
	RegistryPath        string `json:"registry_path"`           // durable registry file
	AnnounceWaitMS      int    `json:"announce_wait_ms"`        // cap on agent.wait (default 60000)
	HeartbeatCoalesceMS int    `json:"heartbeat_coalesce_ms"`   // default 1000
}

// TypingConfig configures the typing controller.
type TypingConfig struct {
	IntervalSeconds   int    `json:"interval_seconds"`          // typing refresh period (default 6)
	TTLSeconds        int    `json:"ttl_seconds"`               // typing keep-alive deadline (default 120)
	ReminderIntervalS int    `json:"reminder_interval_seconds"` // timeout reminder period (default 300)
	SilentReplyToken  string `json:"silent_reply_token"`        // sentinel suppressing typing (default NO_REPLY)
}

// InteractConfig configures pending-interaction tracking.
type InteractConfig struct {
	TTLSeconds     int `json:"ttl_seconds"`     // default 300
	CleanupSeconds int `json:"cleanup_seconds"` // sweep interval (default 60)
}

// TracingConfig gates the OTLP trace exporter.
type TracingConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint,omitempty"` // OTLP HTTP endpoint
}

// MemoryConfig configures the transcript index.
type MemoryConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"` // sqlite file (default <storage>/memory.db)
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".openclaw")
	return &Config{
		Gateway: GatewayConfig{
			URL:          "ws://127.0.0.1:18790/ws",
			CallsPerSec:  10,
			CallBurst:    20,
			DialTimeoutS: 10,
		},
		Backends: map[string]BackendConfig{
			"claude-cli": {
				Command:          "claude",
				Args:             []string{"-p", "--output-format", "stream-json", "--verbose"},
				ResumeArgs:       []string{"--resume", "{sessionId}"},
				SessionMode:      "existing",
				SystemPromptArg:  "--append-system-prompt",
				SystemPromptWhen: "first",
				ModelArg:         "--model",
				Input:            "arg",
				Output:           "stream-jsonl",
				SandboxMode:      "inherit",
				Serialize:        true,
			},
		},
		Models:   map[string]ModelConfig{},
		Sessions: SessionsConfig{Storage: filepath.Join(base, "sessions")},
		Subagents: SubagentsConfig{
			MaxConcurrent:       5,
			MaxRetained:         15,
			ReservationTTLSec:   30,
			RegistryPath:        filepath.Join(base, "subagents.json"),
			AnnounceWaitMS:      60_000,
			HeartbeatCoalesceMS: 1000,
		},
		Typing: TypingConfig{
			IntervalSeconds:   6,
			TTLSeconds:        120,
			ReminderIntervalS: 300,
			SilentReplyToken:  "NO_REPLY",
		},
		Interact: InteractConfig{
			TTLSeconds:     300,
			CleanupSeconds: 60,
		},
	}
}

// GatewayToken resolves the bearer token, env var winning over config.
func (c *Config) GatewayToken() string {
	if v := os.Getenv("OPENCLAW_GATEWAY_TOKEN"); v != "" {
		return v
	}
	return c.Gateway.Token
}

// CLILogOutput reports whether per-call CLI argv/stdout/stderr logging is on.
func CLILogOutput() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("OPENCLAW_CLAUDE_CLI_LOG_OUTPUT")))
	switch v {
	case "", "0", "false", "no", "off":
		return false
	}
	return true
}
