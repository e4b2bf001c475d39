// Package plugin discovers and runs commit hooks: external executables that
// are told about every word a session commits.
package plugin

import "encoding/json"

// ActionCommit is the action sent for a committed word.
const ActionCommit = "commit"

// Manifest describes a plugin's metadata and the actions it handles.
type Manifest struct {
	Name         string          `json:"name"`
	Version      string          `json:"version"`
	Description  string          `json:"description"`
	Executable   string          `json:"executable"`
	Actions      []string        `json:"actions"`
	Tokens       []string        `json:"tokens,omitempty"`
	ConfigSchema json.RawMessage `json:"configSchema,omitempty"`
}

// Request is written to a plugin's stdin as JSON.
type Request struct {
	Action     string          `json:"action"`
	Token      string          `json:"token"`
	SessionID  string          `json:"session_id"`
	TS         int64           `json:"ts"`
	Confidence float64         `json:"confidence"`
	Config     json.RawMessage `json:"config,omitempty"`
}

// Response is read from a plugin's stdout.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Plugin represents a discovered plugin with its manifest and location.
type Plugin struct {
	Manifest   Manifest
	Path       string
	Executable string
}

// Handles reports whether the plugin wants action for token. An empty
// Tokens list matches every token.
func (p *Plugin) Handles(action, token string) bool {
	found := false
	for _, a := range p.Manifest.Actions {
		if a == action {
			found = true
			break
		}
	}
	if !found {
		return false
	}
	if len(p.Manifest.Tokens) == 0 {
		return true
	}
	for _, t := range p.Manifest.Tokens {
		if t == token {
			return true
		}
	}
	return false
}
