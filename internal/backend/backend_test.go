package backend

import (
	"errors"
	"testing"

	"github.com/nextlevelbuilder/openclaw/internal/config"
)

func TestResolver_Resolve(t *testing.T) {
	cfg := &config.Config{Backends: map[string]config.BackendConfig{
		"claude-cli": {Command: "claude", Output: OutputStreamJSONL},
	}}
	r := NewResolver(cfg)

	id, spec, err := r.Resolve("claude-cli")
	if err != nil {
		t.Fatal(err)
	}
	if id != "claude-cli" || spec.Command != "claude" {
		t.Errorf("resolved %q %+v", id, spec)
	}

	_, _, err = r.Resolve("nope")
	var unknown *ErrUnknownBackend
	if !errors.As(err, &unknown) || unknown.Provider != "nope" {
		t.Errorf("err = %v", err)
	}
}

func TestResolver_Reload(t *testing.T) {
	r := NewResolver(&config.Config{Backends: map[string]config.BackendConfig{
		"a": {Command: "old"},
	}})
	r.Reload(&config.Config{Backends: map[string]config.BackendConfig{
		"a": {Command: "new"},
		"b": {Command: "added"},
	}})

	_, spec, err := r.Resolve("a")
	if err != nil || spec.Command != "new" {
		t.Errorf("reloaded a = %+v, %v", spec, err)
	}
	if _, _, err := r.Resolve("b"); err != nil {
		t.Errorf("added backend missing: %v", err)
	}
}

func TestSpecFromConfig_Defaults(t *testing.T) {
	s := specFromConfig(config.BackendConfig{Command: "x"})
	if s.SessionMode != SessionNone {
		t.Errorf("SessionMode = %q", s.SessionMode)
	}
	if s.SystemPromptWhen != SystemPromptFirst {
		t.Errorf("SystemPromptWhen = %q", s.SystemPromptWhen)
	}
	if s.Input != InputArg || s.Output != OutputText {
		t.Errorf("io = %q/%q", s.Input, s.Output)
	}
	if s.ImageMode != "repeat" || s.SandboxMode != SandboxOff {
		t.Errorf("image/sandbox = %q/%q", s.ImageMode, s.SandboxMode)
	}
}

func TestSpec_SessionFields(t *testing.T) {
	s := &Spec{}
	got := s.SessionFields()
	if len(got) == 0 || got[0] != "session_id" {
		t.Errorf("defaults = %v", got)
	}
	s.SessionIDFields = []string{"custom_id"}
	if got := s.SessionFields(); len(got) != 1 || got[0] != "custom_id" {
		t.Errorf("configured = %v", got)
	}
}

func TestSpec_NormalizeModel(t *testing.T) {
	s := &Spec{ModelAliases: map[string]string{
		"Opus": "claude-opus-4",
	}}
	tests := []struct{ in, want string }{
		{"Opus", "claude-opus-4"},
		{"opus", "claude-opus-4"},
		{"OPUS", "claude-opus-4"},
		{"sonnet", "sonnet"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := s.NormalizeModel(tt.in); got != tt.want {
			t.Errorf("NormalizeModel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
