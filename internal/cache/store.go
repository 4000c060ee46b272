// Package cache provides the durable answer cache: question text,
// answer text and the synthesized audio for each answer unit, keyed by
// the normalized question. Entries survive restarts and are evicted
// least-recently-used beyond a fixed entry cap.
package cache

import (
	"container/list"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/klauspost/compress/zstd"

	"github.com/parley-voice/parley/internal/speech"
)

// DefaultMaxEntries is the standard entry cap for the answer cache.
const DefaultMaxEntries = 20

const indexFile = "answers.json"

// ErrNotFound is returned when no entry exists for a question.
var ErrNotFound = errors.New("cache: entry not found")

// Entry is one cached question/answer pair with its synthesized audio,
// one resource per answer unit in playback order.
type Entry struct {
	Question   string                  `json:"question"`
	Answer     string                  `json:"answer"`
	Audio      []*speech.AudioResource `json:"audio"`
	CreatedAt  time.Time               `json:"created_at"`
	LastAccess time.Time               `json:"last_access"`
}

// Complete reports whether the entry carries audio for its answer.
func (e *Entry) Complete() bool {
	return len(e.Audio) > 0
}

// indexRecord is the on-disk index row for one entry. Audio lives in a
// separate compressed blob per entry; the index stays small enough to
// rewrite on every mutation.
type indexRecord struct {
	Key        string    `json:"key"`
	Question   string    `json:"question"`
	Answer     string    `json:"answer"`
	Units      int       `json:"units"`
	CreatedAt  time.Time `json:"created_at"`
	LastAccess time.Time `json:"last_access"`
}

// Store is the durable LRU answer cache. All methods are safe for
// concurrent use.
type Store struct {
	mu         sync.Mutex
	dir        string
	maxEntries int

	items    map[string]*list.Element // key -> element holding *indexRecord
	eviction *list.List               // front = most recently used

	encoder *zstd.Encoder
	decoder *zstd.Decoder

	hits      int64
	misses    int64
	evictions int64
}

// NewStore opens the answer cache rooted at dir, creating the
// directory as needed. A corrupt or unreadable index is discarded and
// the store starts empty; cached audio is always reproducible.
func NewStore(dir string, maxEntries int) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	s := &Store{
		dir:        dir,
		maxEntries: maxEntries,
		items:      make(map[string]*list.Element),
		eviction:   list.New(),
		encoder:    encoder,
		decoder:    decoder,
	}

	if err := s.loadIndex(); err != nil {
		log.Warn("answer cache index unreadable, starting empty", "path", filepath.Join(dir, indexFile), "error", err)
		s.items = make(map[string]*list.Element)
		s.eviction = list.New()
	}

	return s, nil
}

// Get returns the cached entry for a question, or ErrNotFound. A hit
// refreshes the entry's recency.
func (s *Store) Get(question string) (*Entry, error) {
	key := Key(question)

	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.items[key]
	if !ok {
		s.misses++
		return nil, ErrNotFound
	}

	entry, err := s.readEntry(key)
	if err != nil {
		// Blob missing or corrupt: drop the entry and miss.
		log.Warn("dropping unreadable cache entry", "key", key, "error", err)
		s.removeLocked(elem)
		s.misses++
		return nil, ErrNotFound
	}

	rec := elem.Value.(*indexRecord)
	rec.LastAccess = time.Now()
	entry.LastAccess = rec.LastAccess
	s.eviction.MoveToFront(elem)
	s.hits++

	if err := s.saveIndex(); err != nil {
		log.Warn("failed to save cache index", "error", err)
	}
	return entry, nil
}

// Contains reports whether a complete entry (answer plus audio) exists
// for the question, without touching recency.
func (s *Store) Contains(question string) bool {
	key := Key(question)

	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.items[key]
	if !ok {
		return false
	}
	return elem.Value.(*indexRecord).Units > 0
}

// Put stores a new answer for a question, replacing any existing entry
// and evicting the least recently used entries beyond the cap. The
// audio slice may be empty; units are typically appended afterwards as
// synthesis completes.
func (s *Store) Put(question, answer string, audio []*speech.AudioResource) error {
	key := Key(question)
	now := time.Now()
	entry := &Entry{
		Question:   question,
		Answer:     answer,
		Audio:      audio,
		CreatedAt:  now,
		LastAccess: now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writeEntry(key, entry); err != nil {
		return err
	}

	if elem, ok := s.items[key]; ok {
		rec := elem.Value.(*indexRecord)
		rec.Answer = answer
		rec.Units = len(audio)
		rec.CreatedAt = now
		rec.LastAccess = now
		s.eviction.MoveToFront(elem)
	} else {
		rec := &indexRecord{
			Key:        key,
			Question:   question,
			Answer:     answer,
			Units:      len(audio),
			CreatedAt:  now,
			LastAccess: now,
		}
		s.items[key] = s.eviction.PushFront(rec)
	}

	for s.eviction.Len() > s.maxEntries {
		s.evictOldest()
	}

	return s.saveIndex()
}

// AppendAudio appends one synthesized unit to an existing entry, so a
// partially played answer is already durable. Placeholder silence must
// not be appended; callers filter it out.
func (s *Store) AppendAudio(question string, res *speech.AudioResource) error {
	if res == nil || res.Silence {
		return nil
	}
	key := Key(question)

	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.items[key]
	if !ok {
		return ErrNotFound
	}

	entry, err := s.readEntry(key)
	if err != nil {
		s.removeLocked(elem)
		return fmt.Errorf("cache: entry unreadable: %w", err)
	}

	entry.Audio = append(entry.Audio, res)
	if err := s.writeEntry(key, entry); err != nil {
		return err
	}

	rec := elem.Value.(*indexRecord)
	rec.Units = len(entry.Audio)
	rec.LastAccess = time.Now()
	s.eviction.MoveToFront(elem)

	return s.saveIndex()
}

// Delete removes the entry for a question, if present.
func (s *Store) Delete(question string) {
	key := Key(question)

	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, ok := s.items[key]; ok {
		s.removeLocked(elem)
		if err := s.saveIndex(); err != nil {
			log.Warn("failed to save cache index", "error", err)
		}
	}
}

// Clear removes every entry and its blob.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key := range s.items {
		os.Remove(s.blobPath(key))
	}
	s.items = make(map[string]*list.Element)
	s.eviction = list.New()

	return s.saveIndex()
}

// Len returns the number of cached entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eviction.Len()
}

// Questions returns the cached questions, most recently used first.
func (s *Store) Questions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, s.eviction.Len())
	for elem := s.eviction.Front(); elem != nil; elem = elem.Next() {
		out = append(out, elem.Value.(*indexRecord).Question)
	}
	return out
}

// Close releases the compressor state. The index is already persisted
// on every mutation.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.encoder.Close()
	s.decoder.Close()
	return nil
}

func (s *Store) blobPath(key string) string {
	return filepath.Join(s.dir, key+".zst")
}

// removeLocked drops an entry from the index and deletes its blob.
// Caller holds s.mu.
func (s *Store) removeLocked(elem *list.Element) {
	rec := elem.Value.(*indexRecord)
	s.eviction.Remove(elem)
	delete(s.items, rec.Key)
	os.Remove(s.blobPath(rec.Key))
}

func (s *Store) evictOldest() {
	elem := s.eviction.Back()
	if elem == nil {
		return
	}
	rec := elem.Value.(*indexRecord)
	log.Debug("evicting cached answer", "question", rec.Question)
	s.removeLocked(elem)
	s.evictions++
}

// readEntry loads and decompresses one entry blob. Caller holds s.mu.
func (s *Store) readEntry(key string) (*Entry, error) {
	compressed, err := os.ReadFile(s.blobPath(key))
	if err != nil {
		return nil, err
	}
	raw, err := s.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return &entry, nil
}

// writeEntry persists one entry blob via a temp file rename, so a
// crash mid-write never leaves a truncated blob behind. Caller holds
// s.mu.
func (s *Store) writeEntry(key string, entry *Entry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	compressed := s.encoder.EncodeAll(raw, nil)
	return atomicWrite(s.blobPath(key), compressed)
}

// loadIndex reads the persisted index. Ordering in the file is most
// recently used first. Caller holds no lock; runs before the store is
// shared.
func (s *Store) loadIndex() error {
	raw, err := os.ReadFile(filepath.Join(s.dir, indexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var records []*indexRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return fmt.Errorf("decode index: %w", err)
	}

	for _, rec := range records {
		if rec.Key == "" {
			continue
		}
		s.items[rec.Key] = s.eviction.PushBack(rec)
		if s.eviction.Len() >= s.maxEntries {
			break
		}
	}
	return nil
}

// saveIndex rewrites the index file. Caller holds s.mu.
func (s *Store) saveIndex() error {
	records := make([]*indexRecord, 0, s.eviction.Len())
	for elem := s.eviction.Front(); elem != nil; elem = elem.Next() {
		records = append(records, elem.Value.(*indexRecord))
	}

	raw, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode index: %w", err)
	}
	return atomicWrite(filepath.Join(s.dir, indexFile), raw)
}

func atomicWrite(path string, data []byte) error {
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return err
	}
	return nil
}
