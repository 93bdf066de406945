package dedup

import (
	"sort"
	"sync"
	"time"
)

type signature struct {
	tableID string
	value   int
	bucket  int64
}

// SignatureIndex remembers recently accepted (table, value, time bucket)
// fingerprints across all tables. It is safe for concurrent use.
type SignatureIndex struct {
	mu     sync.Mutex
	seen   map[signature]time.Time
	maxLen int
}

func NewSignatureIndex(maxLen int) *SignatureIndex {
	if maxLen <= 0 {
		maxLen = DefaultConfig().MaxSignatures
	}
	return &SignatureIndex{seen: make(map[signature]time.Time), maxLen: maxLen}
}

// SeenWithin reports whether sig was recorded less than window before now.
func (s *SignatureIndex) SeenWithin(sig signature, now time.Time, window time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.seen[sig]
	return ok && now.Sub(at) < window
}

// Record stores sig at now. When the index grows past its cap it keeps only the
// newest half.
func (s *SignatureIndex) Record(sig signature, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen[sig] = now
	if len(s.seen) > s.maxLen {
		s.trim()
	}
}

func (s *SignatureIndex) trim() {
	type entry struct {
		sig signature
		at  time.Time
	}
	entries := make([]entry, 0, len(s.seen))
	for sig, at := range s.seen {
		entries = append(entries, entry{sig, at})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].at.After(entries[j].at) })

	keep := s.maxLen / 2
	for _, e := range entries[keep:] {
		delete(s.seen, e.sig)
	}
}

// Forget drops every signature of tableID.
func (s *SignatureIndex) Forget(tableID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sig := range s.seen {
		if sig.tableID == tableID {
			delete(s.seen, sig)
		}
	}
}

func (s *SignatureIndex) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}
