package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/parley-voice/parley/internal/speech"
)

func testResource(payload string) *speech.AudioResource {
	return &speech.AudioResource{
		Data:     []byte(payload),
		MIMEType: speech.MIMEWAV,
	}
}

func newTestStore(t *testing.T, maxEntries int) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := NewStore(dir, maxEntries)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, dir
}

func TestStorePutGet(t *testing.T) {
	s, _ := newTestStore(t, 0)

	audio := []*speech.AudioResource{testResource("unit-0"), testResource("unit-1")}
	if err := s.Put("What is Go?", "Go is a programming language.", audio); err != nil {
		t.Fatalf("Put: %v", err)
	}

	entry, err := s.Get("what is go")
	if err != nil {
		t.Fatalf("Get via normalized phrasing: %v", err)
	}
	if entry.Answer != "Go is a programming language." {
		t.Errorf("answer = %q", entry.Answer)
	}
	if len(entry.Audio) != 2 {
		t.Fatalf("audio units = %d, want 2", len(entry.Audio))
	}
	if string(entry.Audio[1].Data) != "unit-1" {
		t.Errorf("unit 1 payload = %q", entry.Audio[1].Data)
	}
	if !entry.Complete() {
		t.Error("entry with audio should be complete")
	}
}

func TestStoreGetMiss(t *testing.T) {
	s, _ := newTestStore(t, 0)

	if _, err := s.Get("never asked"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreEviction(t *testing.T) {
	s, dir := newTestStore(t, 3)

	for i := 0; i < 4; i++ {
		q := fmt.Sprintf("question %d", i)
		if err := s.Put(q, "answer", nil); err != nil {
			t.Fatalf("Put %d: %v", i, err)
		}
	}

	if s.Len() != 3 {
		t.Fatalf("len = %d, want 3", s.Len())
	}
	if _, err := s.Get("question 0"); !errors.Is(err, ErrNotFound) {
		t.Error("oldest entry should have been evicted")
	}
	if _, err := s.Get("question 3"); err != nil {
		t.Errorf("newest entry missing: %v", err)
	}

	// The evicted entry's blob is gone from disk too.
	if _, err := os.Stat(filepath.Join(dir, Key("question 0")+".zst")); !os.IsNotExist(err) {
		t.Error("evicted blob still on disk")
	}
}

func TestStoreGetRefreshesRecency(t *testing.T) {
	s, _ := newTestStore(t, 2)

	s.Put("first", "a", nil)
	s.Put("second", "b", nil)

	if _, err := s.Get("first"); err != nil {
		t.Fatalf("Get first: %v", err)
	}
	s.Put("third", "c", nil)

	if _, err := s.Get("first"); err != nil {
		t.Error("recently used entry was evicted")
	}
	if _, err := s.Get("second"); !errors.Is(err, ErrNotFound) {
		t.Error("least recently used entry survived eviction")
	}
}

func TestStoreAppendAudio(t *testing.T) {
	s, _ := newTestStore(t, 0)

	if err := s.Put("q", "a", nil); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if s.Contains("q") {
		t.Error("entry without audio reported as complete")
	}

	if err := s.AppendAudio("q", testResource("unit-0")); err != nil {
		t.Fatalf("AppendAudio: %v", err)
	}
	if err := s.AppendAudio("q", testResource("unit-1")); err != nil {
		t.Fatalf("AppendAudio: %v", err)
	}

	// Silence placeholders are skipped silently.
	if err := s.AppendAudio("q", &speech.AudioResource{Silence: true}); err != nil {
		t.Fatalf("AppendAudio silence: %v", err)
	}

	entry, err := s.Get("q")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(entry.Audio) != 2 {
		t.Fatalf("audio units = %d, want 2", len(entry.Audio))
	}
	if !s.Contains("q") {
		t.Error("entry with audio not reported as complete")
	}

	if err := s.AppendAudio("unknown", testResource("x")); !errors.Is(err, ErrNotFound) {
		t.Errorf("append to missing entry: got %v, want ErrNotFound", err)
	}
}

func TestStorePersistence(t *testing.T) {
	dir := t.TempDir()

	s, err := NewStore(dir, 0)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	audio := []*speech.AudioResource{testResource("persisted")}
	if err := s.Put("durable question", "durable answer", audio); err != nil {
		t.Fatalf("Put: %v", err)
	}
	s.Close()

	reopened, err := NewStore(dir, 0)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	entry, err := reopened.Get("durable question")
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if entry.Answer != "durable answer" {
		t.Errorf("answer = %q", entry.Answer)
	}
	if len(entry.Audio) != 1 || string(entry.Audio[0].Data) != "persisted" {
		t.Errorf("audio did not survive reopen: %+v", entry.Audio)
	}
}

func TestStoreCorruptIndex(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, indexFile), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := NewStore(dir, 0)
	if err != nil {
		t.Fatalf("NewStore with corrupt index: %v", err)
	}
	defer s.Close()

	if s.Len() != 0 {
		t.Errorf("len = %d, want 0 after corrupt index", s.Len())
	}
	if err := s.Put("q", "a", nil); err != nil {
		t.Errorf("Put after corrupt index: %v", err)
	}
}

func TestStoreCorruptBlob(t *testing.T) {
	s, dir := newTestStore(t, 0)

	if err := s.Put("q", "a", []*speech.AudioResource{testResource("x")}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, Key("q")+".zst"), []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Get("q"); !errors.Is(err, ErrNotFound) {
		t.Errorf("corrupt blob: got %v, want ErrNotFound", err)
	}
	if s.Len() != 0 {
		t.Error("corrupt entry not dropped from index")
	}
}

func TestStoreStats(t *testing.T) {
	s, _ := newTestStore(t, 5)

	s.Put("q1", "a1", []*speech.AudioResource{testResource("data")})
	s.Get("q1")
	s.Get("q2")

	st := s.Stats()
	if st.Entries != 1 {
		t.Errorf("entries = %d, want 1", st.Entries)
	}
	if st.Hits != 1 || st.Misses != 1 {
		t.Errorf("hits/misses = %d/%d, want 1/1", st.Hits, st.Misses)
	}
	if st.DiskBytes == 0 {
		t.Error("disk bytes = 0, want > 0")
	}
	if st.HitRate() != 0.5 {
		t.Errorf("hit rate = %v, want 0.5", st.HitRate())
	}
	if st.String() == "" {
		t.Error("empty stats string")
	}
}
