package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestComputeHash(t *testing.T) {
	// Create temp file with known content
	tmpDir := t.TempDir()
	file1 := filepath.Join(tmpDir, "test1.txt")
	file2 := filepath.Join(tmpDir, "test2.txt")
	file3 := filepath.Join(tmpDir, "test1_copy.txt")

	os.WriteFile(file1, []byte("Hello, World!"), 0644)
	os.WriteFile(file2, []byte("Different content"), 0644)
	os.WriteFile(file3, []byte("Hello, World!"), 0644) // Same as file1

	hash1, err := ComputeHash(file1)
	if err != nil {
		t.Fatalf("ComputeHash failed: %v", err)
	}

	hash2, err := ComputeHash(file2)
	if err != nil {
		t.Fatalf("ComputeHash failed: %v", err)
	}

	hash3, err := ComputeHash(file3)
	if err != nil {
		t.Fatalf("ComputeHash failed: %v", err)
	}

	// Same content = same hash
	if hash1 != hash3 {
		t.Errorf("Same content should produce same hash: %s != %s", hash1, hash3)
	}

	// Different content = different hash
	if hash1 == hash2 {
		t.Errorf("Different content should produce different hash")
	}

	// Hash should be 32 hex chars
	if len(hash1) != 32 {
		t.Errorf("Hash should be 32 chars, got %d", len(hash1))
	}
}

func TestComputeHashSmallFile(t *testing.T) {
	tmpDir := t.TempDir()
	smallFile := filepath.Join(tmpDir, "small.txt")
	os.WriteFile(smallFile, []byte("tiny"), 0644)

	hash, err := ComputeHash(smallFile)
	if err != nil {
		t.Fatalf("ComputeHash failed on small file: %v", err)
	}

	if len(hash) != 32 {
		t.Errorf("Hash should be 32 chars even for small files, got %d", len(hash))
	}
}

func TestStateStore(t *testing.T) {
	// Use temp directory for state
	tmpDir := t.TempDir()
	t.Setenv("XDG_STATE_HOME", tmpDir)

	store, err := NewStateStore("")
	if err != nil {
		t.Fatalf("NewStateStore failed: %v", err)
	}
	if store.path != filepath.Join(tmpDir, "rebook", stateFileName) {
		t.Errorf("store path = %s", store.path)
	}

	testHash := "abcdef1234567890abcdef1234567890"

	if _, ok := store.Load(testHash); ok {
		t.Error("Expected no state for unknown hash")
	}

	err = store.Save(testHash, ReadingState{PageIndex: 3, SentenceIndex: 41, Title: "Book"})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	st, ok := store.Load(testHash)
	if !ok || st.PageIndex != 3 || st.SentenceIndex != 41 || st.Title != "Book" {
		t.Errorf("Load = %+v, %v", st, ok)
	}
	if st.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not set")
	}

	// Position updates keep the title.
	store.Save(testHash, ReadingState{PageIndex: 4, SentenceIndex: 50})
	if st, _ := store.Load(testHash); st.Title != "Book" || st.PageIndex != 4 {
		t.Errorf("after update = %+v", st)
	}

	err = store.Clear(testHash)
	if err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if _, ok := store.Load(testHash); ok {
		t.Error("Expected no state after clear")
	}
	if err := store.Clear(testHash); err != nil {
		t.Errorf("Clear of missing id: %v", err)
	}
}

func TestStateStorePersistence(t *testing.T) {
	dir := t.TempDir()

	testHash := "abcdef1234567890abcdef1234567890"

	store1, err := NewStateStore(dir)
	if err != nil {
		t.Fatalf("NewStateStore failed: %v", err)
	}
	store1.Save(testHash, ReadingState{PageIndex: 7, SentenceIndex: 88})

	// Create new store instance - should load persisted data
	store2, err := NewStateStore(dir)
	if err != nil {
		t.Fatalf("NewStateStore failed: %v", err)
	}

	st, ok := store2.Load(testHash)
	if !ok || st.PageIndex != 7 || st.SentenceIndex != 88 {
		t.Errorf("Expected page 7 sentence 88 from persisted state, got %+v", st)
	}
}

func TestStateStoreCorruptFile(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, stateFileName), []byte("{not json"), 0644)

	store, err := NewStateStore(dir)
	if err != nil {
		t.Fatalf("NewStateStore failed: %v", err)
	}
	if len(store.List()) != 0 {
		t.Error("corrupt state should load empty")
	}
	if err := store.Save("x", ReadingState{}); err != nil {
		t.Fatalf("Save over corrupt file: %v", err)
	}
}

func TestStateStoreList(t *testing.T) {
	store, err := NewStateStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStateStore failed: %v", err)
	}
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	store.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	for _, id := range []string{"a", "b", "c"} {
		store.Save(id, ReadingState{})
	}
	store.Save("a", ReadingState{PageIndex: 1})

	var ids []string
	for _, e := range store.List() {
		ids = append(ids, e.ID)
	}
	want := []string{"a", "c", "b"}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("List order = %v, want %v", ids, want)
		}
	}
}
