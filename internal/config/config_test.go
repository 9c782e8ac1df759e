package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	c := Default()
	if c.Subagents.MaxConcurrent != 5 || c.Subagents.MaxRetained != 15 {
		t.Errorf("subagent limits = %d/%d", c.Subagents.MaxConcurrent, c.Subagents.MaxRetained)
	}
	if c.Subagents.ReservationTTLSec != 30 || c.Subagents.AnnounceWaitMS != 60_000 {
		t.Errorf("subagent timing = %d/%d", c.Subagents.ReservationTTLSec, c.Subagents.AnnounceWaitMS)
	}
	if c.Typing.IntervalSeconds != 6 || c.Typing.TTLSeconds != 120 || c.Typing.ReminderIntervalS != 300 {
		t.Errorf("typing = %+v", c.Typing)
	}
	if c.Typing.SilentReplyToken != "NO_REPLY" {
		t.Errorf("silent token = %q", c.Typing.SilentReplyToken)
	}
	if _, ok := c.Backends["claude-cli"]; !ok {
		t.Error("default claude-cli backend missing")
	}
}

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatal(err)
	}
	if c.Subagents.MaxConcurrent != 5 {
		t.Errorf("defaults not applied: %+v", c.Subagents)
	}
}

func TestLoad_JSON5Overlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	doc := `{
  // comments and trailing commas are fine
  subagents: {
    max_concurrent: 3,
  },
  typing: { silent_reply_token: "HUSH" },
  backends: {
    "codex-cli": { command: "codex", output: "jsonl" },
  },
}`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.Subagents.MaxConcurrent != 3 {
		t.Errorf("MaxConcurrent = %d", c.Subagents.MaxConcurrent)
	}
	// Unset values still refill from defaults.
	if c.Subagents.MaxRetained != 15 || c.Subagents.ReservationTTLSec != 30 {
		t.Errorf("refill failed: %+v", c.Subagents)
	}
	if c.Typing.SilentReplyToken != "HUSH" || c.Typing.IntervalSeconds != 6 {
		t.Errorf("typing = %+v", c.Typing)
	}
	if bc, ok := c.Backends["codex-cli"]; !ok || bc.Command != "codex" {
		t.Errorf("backends = %+v", c.Backends)
	}
}

func TestLoad_BadSyntax(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{nope"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("malformed config did not error")
	}
}

func TestGatewayToken_EnvWins(t *testing.T) {
	c := &Config{Gateway: GatewayConfig{Token: "from-file"}}
	t.Setenv("OPENCLAW_GATEWAY_TOKEN", "")
	if got := c.GatewayToken(); got != "from-file" {
		t.Errorf("got %q", got)
	}
	t.Setenv("OPENCLAW_GATEWAY_TOKEN", "from-env")
	if got := c.GatewayToken(); got != "from-env" {
		t.Errorf("got %q", got)
	}
}

func TestCLILogOutput(t *testing.T) {
	tests := []struct {
		val  string
		want bool
	}{
		{"", false},
		{"0", false},
		{"false", false},
		{"off", false},
		{"NO", false},
		{"1", true},
		{"true", true},
		{"yes", true},
	}
	for _, tt := range tests {
		t.Setenv("OPENCLAW_CLAUDE_CLI_LOG_OUTPUT", tt.val)
		if got := CLILogOutput(); got != tt.want {
			t.Errorf("CLILogOutput with %q = %v, want %v", tt.val, got, tt.want)
		}
	}
}
