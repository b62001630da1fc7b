package schema

import (
	"encoding/json"
	"fmt"
	"strings"
)

// BuiltinAgent identifies one of the five built-in review specialists.
type BuiltinAgent string

const (
	AgentSecurity        BuiltinAgent = "security"
	AgentLogic           BuiltinAgent = "logic"
	AgentPerformance     BuiltinAgent = "performance"
	AgentStyle           BuiltinAgent = "style"
	AgentMaintainability BuiltinAgent = "maintainability"
)

// BuiltinAgents lists the built-in specialists in canonical order.
var BuiltinAgents = []BuiltinAgent{
	AgentSecurity,
	AgentLogic,
	AgentPerformance,
	AgentStyle,
	AgentMaintainability,
}

// Agent names the specialist that produced a finding. It is either one of
// the built-in specialists or a free-form custom name. The zero value is
// invalid; construct with BuiltinAgentOf or CustomAgent.
type Agent struct {
	builtin BuiltinAgent
	custom  string
}

// BuiltinAgentOf wraps a built-in specialist as an Agent.
func BuiltinAgentOf(b BuiltinAgent) Agent {
	return Agent{builtin: b}
}

// CustomAgent wraps a free-form agent name as an Agent.
func CustomAgent(name string) Agent {
	return Agent{custom: name}
}

// ParseAgent converts a string to an Agent, recognizing built-in names and
// treating anything else as a custom agent. Empty names are rejected.
func ParseAgent(s string) (Agent, error) {
	if s == "" {
		return Agent{}, fmt.Errorf("schema: empty agent name")
	}
	switch BuiltinAgent(s) {
	case AgentSecurity, AgentLogic, AgentPerformance,
		AgentStyle, AgentMaintainability:
		return Agent{builtin: BuiltinAgent(s)}, nil
	}
	return Agent{custom: s}, nil
}

// IsBuiltin reports whether the agent is one of the built-in specialists.
func (a Agent) IsBuiltin() bool {
	return a.builtin != ""
}

// Name returns the agent's full name.
func (a Agent) Name() string {
	if a.builtin != "" {
		return string(a.builtin)
	}
	return a.custom
}

// String implements fmt.Stringer.
func (a Agent) String() string {
	return a.Name()
}

// Prefix returns the 3-letter issue-id prefix for the agent: the fixed
// abbreviation for built-ins, or the first three letters of a custom name
// lowercased and padded with 'x' when shorter.
func (a Agent) Prefix() string {
	switch a.builtin {
	case AgentSecurity:
		return "sec"
	case AgentLogic:
		return "log"
	case AgentPerformance:
		return "prf"
	case AgentStyle:
		return "sty"
	case AgentMaintainability:
		return "mnt"
	}
	p := strings.ToLower(a.custom)
	if len(p) > 3 {
		p = p[:3]
	}
	for len(p) < 3 {
		p += "x"
	}
	return p
}

// MarshalJSON encodes the agent as its name string.
func (a Agent) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.Name())
}

// UnmarshalJSON decodes an agent from its name string.
func (a *Agent) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("schema: agent must be a string: %w", err)
	}
	parsed, err := ParseAgent(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
