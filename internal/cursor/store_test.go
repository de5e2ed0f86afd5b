package cursor

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestAdvanceAndFlushPersist(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cursor.json")

	store := NewStore(path, time.Hour, 1000)
	store.Advance("log-a", 42)
	store.Flush()

	reloaded := NewStore(path, time.Hour, 1000)

	got, ok := reloaded.Get("log-a")
	if !ok {
		t.Fatal("Get() after reload: not found")
	}

	if got != 42 {
		t.Fatalf("Get() after reload = %d, want 42", got)
	}
}

func TestAdvanceNeverMovesBackwards(t *testing.T) {
	store := NewStore("", time.Hour, 1000)

	store.Advance("log-a", 100)
	store.Advance("log-a", 50)

	got, ok := store.Get("log-a")
	if !ok || got != 100 {
		t.Fatalf("Get() = (%d, %v), want (100, true)", got, ok)
	}
}

func TestMissingFileIsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "does-not-exist.json")

	store := NewStore(path, time.Hour, 1000)

	if _, ok := store.Get("anything"); ok {
		t.Fatal("Get() on empty store: expected not found")
	}
}

func TestCorruptFileTreatedAsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cursor.json")

	if err := os.WriteFile(path, []byte("{not valid json"), 0o600); err != nil {
		t.Fatalf("WriteFile: %s", err)
	}

	store := NewStore(path, time.Hour, 1000)

	if _, ok := store.Get("anything"); ok {
		t.Fatal("Get() on corrupt store: expected not found")
	}
}
