package agentrt

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// State is the agent daemon's persisted identity: the id and bearer token
// handed back by a successful registration, kept across restarts so the
// agent doesn't re-register (and change identity) every time it starts.
type State struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Token string `json:"token"`
}

// StatePath returns the conventional path for an agent's state file under
// its home directory.
func StatePath(home string) string {
	return filepath.Join(home, "agent.json")
}

// LoadState reads a previously saved State; a missing file is not an error,
// it just means the agent hasn't registered yet.
func LoadState(path string) (State, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return State{}, false, nil
		}
		return State{}, false, fmt.Errorf("agentrt: read state: %w", err)
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return State{}, false, fmt.Errorf("agentrt: decode state: %w", err)
	}
	return s, true, nil
}

// SaveState writes State atomically (write-temp-then-rename) so a crash
// mid-write never leaves a truncated state file behind.
func SaveState(path string, s State) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("agentrt: create state dir: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("agentrt: encode state: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("agentrt: write state: %w", err)
	}
	return os.Rename(tmp, path)
}

// ResolveModelPath joins modelDir and requested so the result always stays
// inside modelDir: requested is anchored at the root and cleaned first, so
// ".." segments collapse instead of escaping. Only an empty requested path
// is an error.
func ResolveModelPath(modelDir, requested string) (string, error) {
	if requested == "" {
		return "", fmt.Errorf("agentrt: empty model path")
	}
	anchored := filepath.Clean(string(filepath.Separator) + requested) // collapses any ".." before it ever reaches Join
	return filepath.Join(modelDir, anchored), nil
}
