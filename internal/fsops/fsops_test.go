package fsops

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestOptimizerRemove(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.json")
	if err := os.WriteFile(path, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	opt := NewOptimizer()
	defer func() { _ = opt.Close() }()

	if err := opt.Remove(context.Background(), path); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected file removed, stat err = %v", err)
	}
}

func TestOptimizerRemoveAll(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for i := 0; i < 5; i++ {
		p := filepath.Join(dir, "f"+string(rune('a'+i))+".json")
		if err := os.WriteFile(p, []byte("{}"), 0o644); err != nil {
			t.Fatal(err)
		}
		paths = append(paths, p)
	}

	opt := NewOptimizer()
	defer func() { _ = opt.Close() }()

	succeeded, err := opt.RemoveAll(context.Background(), paths)
	if err != nil {
		t.Fatalf("RemoveAll: %v", err)
	}
	if succeeded != len(paths) {
		t.Fatalf("expected %d removals to succeed, got %d", len(paths), succeeded)
	}
	for _, p := range paths {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Fatalf("expected %s removed", p)
		}
	}
}

func TestOptimizerRemoveMissingFileNotError(t *testing.T) {
	opt := NewOptimizer()
	defer func() { _ = opt.Close() }()

	if err := opt.Remove(context.Background(), filepath.Join(t.TempDir(), "missing.json")); err != nil {
		t.Fatalf("expected no error removing missing file, got %v", err)
	}
}
