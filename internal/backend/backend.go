// Package backend resolves named CLI backends to their declarative specs.
package backend

import (
	"fmt"
	"strings"
	"sync"

	"github.com/nextlevelbuilder/openclaw/internal/config"
)

// Session modes.
const (
	SessionAlways   = "always"
	SessionExisting = "existing"
	SessionNone     = "none"
)

// System prompt modes.
const (
	SystemPromptFirst  = "first"
	SystemPromptAlways = "always"
	SystemPromptNever  = "never"
)

// Input modes.
const (
	InputArg   = "arg"
	InputStdin = "stdin"
)

// Output modes.
const (
	OutputText        = "text"
	OutputJSON        = "json"
	OutputJSONL       = "jsonl"
	OutputStreamJSONL = "stream-jsonl"
)

// Sandbox modes.
const (
	SandboxOff     = "off"
	SandboxInherit = "inherit"
	SandboxAlways  = "always"
)

// DefaultSessionIDFields are scanned for a session id when the backend does
// not configure its own list.
var DefaultSessionIDFields = []string{"session_id", "sessionId", "conversation_id", "conversationId"}

// Spec is the immutable invocation contract for one backend.
type Spec struct {
	Command           string
	Args              []string
	ResumeArgs        []string
	SessionArg        string
	SessionArgs       []string
	SessionMode       string
	SystemPromptArg   string
	SystemPromptWhen  string
	ModelArg          string
	ModelAliases      map[string]string
	ImageArg          string
	ImageMode         string
	Input             string
	MaxPromptArgChars int
	Output            string
	ResumeOutput      string
	Env               map[string]string
	ClearEnv          bool
	SandboxMode       string
	SandboxOverrides  map[string]string
	Serialize         bool
	EnableTools       bool
	SessionIDFields   []string
}

// SessionFields returns the configured id fields or the defaults.
func (s *Spec) SessionFields() []string {
	if len(s.SessionIDFields) > 0 {
		return s.SessionIDFields
	}
	return DefaultSessionIDFields
}

// NormalizeModel maps a model id through the alias table. Exact match wins;
// a case-insensitive match is the fallback; unknown ids pass through.
func (s *Spec) NormalizeModel(modelID string) string {
	if modelID == "" || len(s.ModelAliases) == 0 {
		return modelID
	}
	if v, ok := s.ModelAliases[modelID]; ok {
		return v
	}
	lower := strings.ToLower(modelID)
	for k, v := range s.ModelAliases {
		if strings.ToLower(k) == lower {
			return v
		}
	}
	return modelID
}

// ErrUnknownBackend is returned when a provider has no configured backend.
type ErrUnknownBackend struct {
	Provider string
}

func (e *ErrUnknownBackend) Error() string {
	return fmt.Sprintf("unknown backend: %q", e.Provider)
}

// Resolver maps provider names to backend specs. The snapshot is swapped
// atomically on config reload.
type Resolver struct {
	mu    sync.RWMutex
	specs map[string]*Spec
}

// NewResolver builds a resolver from the config document.
func NewResolver(cfg *config.Config) *Resolver {
	r := &Resolver{}
	r.Reload(cfg)
	return r
}

// Reload replaces the backend snapshot.
func (r *Resolver) Reload(cfg *config.Config) {
	specs := make(map[string]*Spec, len(cfg.Backends))
	for id, bc := range cfg.Backends {
		specs[id] = specFromConfig(bc)
	}
	r.mu.Lock()
	r.specs = specs
	r.mu.Unlock()
}

// Resolve returns the backend id and spec for a provider, or ErrUnknownBackend.
func (r *Resolver) Resolve(provider string) (string, *Spec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.specs[provider]; ok {
		return provider, s, nil
	}
	return "", nil, &ErrUnknownBackend{Provider: provider}
}

func specFromConfig(bc config.BackendConfig) *Spec {
	s := &Spec{
		Command:           bc.Command,
		Args:              append([]string(nil), bc.Args...),
		ResumeArgs:        append([]string(nil), bc.ResumeArgs...),
		SessionArg:        bc.SessionArg,
		SessionArgs:       append([]string(nil), bc.SessionArgs...),
		SessionMode:       bc.SessionMode,
		SystemPromptArg:   bc.SystemPromptArg,
		SystemPromptWhen:  bc.SystemPromptWhen,
		ModelArg:          bc.ModelArg,
		ModelAliases:      bc.ModelAliases,
		ImageArg:          bc.ImageArg,
		ImageMode:         bc.ImageMode,
		Input:             bc.Input,
		MaxPromptArgChars: bc.MaxPromptArgChars,
		Output:            bc.Output,
		ResumeOutput:      bc.ResumeOutput,
		Env:               bc.Env,
		ClearEnv:          bc.ClearEnv,
		SandboxMode:       bc.SandboxMode,
		SandboxOverrides:  bc.SandboxOverrides,
		Serialize:         bc.Serialize,
		EnableTools:       bc.EnableTools,
		SessionIDFields:   append([]string(nil), bc.SessionIDFields...),
	}
	if s.SessionMode == "" {
		s.SessionMode = SessionNone
	}
	if s.SystemPromptWhen == "" {
		s.SystemPromptWhen = SystemPromptFirst
	}
	if s.Input == "" {
		s.Input = InputArg
	}
	if s.Output == "" {
		s.Output = OutputText
	}
	if s.ImageMode == "" {
		s.ImageMode = "repeat"
	}
	if s.SandboxMode == "" {
		s.SandboxMode = SandboxOff
	}
	return s
}
