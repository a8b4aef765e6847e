package mqtt

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadOrCreateInstanceID_PersistsAcrossCalls(t *testing.T) {
	dir := t.TempDir()

	first, err := LoadOrCreateInstanceID(dir)
	if err != nil {
		t.Fatalf("LoadOrCreateInstanceID error: %v", err)
	}
	if first == "" {
		t.Fatal("expected non-empty instance id")
	}

	second, err := LoadOrCreateInstanceID(dir)
	if err != nil {
		t.Fatalf("LoadOrCreateInstanceID error: %v", err)
	}
	if second != first {
		t.Errorf("instance id changed across calls: %q != %q", first, second)
	}
}

func TestLoadOrCreateInstanceID_TrimsWhitespace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "instance_id")
	if err := os.WriteFile(path, []byte("fixed-id\n"), 0644); err != nil {
		t.Fatal(err)
	}

	got, err := LoadOrCreateInstanceID(dir)
	if err != nil {
		t.Fatalf("LoadOrCreateInstanceID error: %v", err)
	}
	if got != "fixed-id" {
		t.Errorf("got %q, want %q", got, "fixed-id")
	}
}
