package agentrt

import (
	"path/filepath"
	"testing"
)

func TestSaveAndLoadStateRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := StatePath(dir)

	if _, ok, err := LoadState(path); err != nil || ok {
		t.Fatalf("expected no state file yet, got ok=%v err=%v", ok, err)
	}

	want := State{ID: "agent-1", Name: "host-1", Token: "secret-token"}
	if err := SaveState(path, want); err != nil {
		t.Fatalf("SaveState: %v", err)
	}

	got, ok, err := LoadState(path)
	if err != nil || !ok {
		t.Fatalf("LoadState: ok=%v err=%v", ok, err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestResolveModelPathCollapsesTraversal(t *testing.T) {
	modelDir := "/var/lib/kitt/models"
	resolved, err := ResolveModelPath(modelDir, "../../etc/passwd")
	if err != nil {
		t.Fatalf("ResolveModelPath: %v", err)
	}
	want := filepath.Join(modelDir, "etc", "passwd")
	if resolved != want {
		t.Fatalf("expected traversal to collapse to %q, got %q", want, resolved)
	}
}

func TestResolveModelPathJoinsOrdinaryPath(t *testing.T) {
	resolved, err := ResolveModelPath("/models", "llama3/model.safetensors")
	if err != nil {
		t.Fatalf("ResolveModelPath: %v", err)
	}
	if resolved != filepath.Join("/models", "llama3/model.safetensors") {
		t.Fatalf("unexpected resolved path: %q", resolved)
	}
}
