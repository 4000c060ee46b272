package cache

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
)

// Stats holds answer cache metrics for display and logging.
type Stats struct {
	Entries   int
	Capacity  int
	DiskBytes int64
	Hits      int64
	Misses    int64
	Evictions int64
}

// HitRate returns the fraction of lookups served from cache.
func (st Stats) HitRate() float64 {
	total := st.Hits + st.Misses
	if total == 0 {
		return 0
	}
	return float64(st.Hits) / float64(total)
}

// String formats the stats for human consumption.
func (st Stats) String() string {
	return fmt.Sprintf("%d/%d entries, %s on disk, %.0f%% hit rate (%d hits, %d misses, %d evictions)",
		st.Entries, st.Capacity, humanize.Bytes(uint64(st.DiskBytes)),
		st.HitRate()*100, st.Hits, st.Misses, st.Evictions)
}

// Stats returns a snapshot of cache metrics, including total bytes of
// entry blobs on disk.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var diskBytes int64
	for key := range s.items {
		if info, err := os.Stat(s.blobPath(key)); err == nil {
			diskBytes += info.Size()
		}
	}
	if info, err := os.Stat(filepath.Join(s.dir, indexFile)); err == nil {
		diskBytes += info.Size()
	}

	return Stats{
		Entries:   s.eviction.Len(),
		Capacity:  s.maxEntries,
		DiskBytes: diskBytes,
		Hits:      s.hits,
		Misses:    s.misses,
		Evictions: s.evictions,
	}
}
