package cache

import (
	"strings"
	"sync"
	"time"

	"github.com/gobwas/glob"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryTier is the in-process tier. Entries carry their own expiry and are pruned
// lazily on access or in bulk by Sweep. It is private to one process and never
// authoritative.
type MemoryTier struct {
	mu   sync.RWMutex
	m    map[string]memoryEntry
	nowF func() time.Time
}

// NewMemoryTier returns an empty in-process tier.
func NewMemoryTier() *MemoryTier {
	return &MemoryTier{
		m:    make(map[string]memoryEntry),
		nowF: time.Now,
	}
}

// Get returns the value for key if present and unexpired.
func (s *MemoryTier) Get(key string) ([]byte, bool) {
	s.mu.RLock()
	e, ok := s.m[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if !e.expiresAt.After(s.nowF()) {
		s.mu.Lock()
		// Re-check: a concurrent Set may have replaced the entry.
		if cur, ok := s.m[key]; ok && !cur.expiresAt.After(s.nowF()) {
			delete(s.m, key)
		}
		s.mu.Unlock()
		return nil, false
	}
	return e.value, true
}

// Set stores value under key for ttl.
func (s *MemoryTier) Set(key string, value []byte, ttl time.Duration) {
	s.mu.Lock()
	s.m[key] = memoryEntry{value: value, expiresAt: s.nowF().Add(ttl)}
	s.mu.Unlock()
}

// Delete removes keys.
func (s *MemoryTier) Delete(keys ...string) {
	s.mu.Lock()
	for _, k := range keys {
		delete(s.m, k)
	}
	s.mu.Unlock()
}

// DeletePattern removes every key matching a Redis MATCH pattern (*, ?, [abc], [^a],
// [a-z], \x) and returns how many were removed.
func (s *MemoryTier) DeletePattern(pattern string) (int, error) {
	g, err := glob.Compile(redisGlob(pattern))
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.m {
		if g.Match(k) {
			delete(s.m, k)
			n++
		}
	}
	return n, nil
}

// Sweep removes all expired entries and returns how many were removed.
func (s *MemoryTier) Sweep() int {
	now := s.nowF()
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, e := range s.m {
		if !e.expiresAt.After(now) {
			delete(s.m, k)
			n++
		}
	}
	return n
}

// Len returns the number of stored entries, expired or not.
func (s *MemoryTier) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}

// Clear drops every entry.
func (s *MemoryTier) Clear() {
	s.mu.Lock()
	s.m = make(map[string]memoryEntry)
	s.mu.Unlock()
}

// redisGlob rewrites a Redis MATCH pattern into gobwas/glob syntax so both tiers select the
// same keys: class negation [^ becomes [! and braces, literal in Redis, are escaped.
func redisGlob(pattern string) string {
	var b strings.Builder
	inClass := false
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		switch {
		case c == '\\' && i+1 < len(pattern):
			b.WriteByte(c)
			i++
			b.WriteByte(pattern[i])
		case inClass:
			if c == ']' {
				inClass = false
			}
			b.WriteByte(c)
		case c == '[':
			inClass = true
			b.WriteByte(c)
			if i+1 < len(pattern) && pattern[i+1] == '^' {
				b.WriteByte('!')
				i++
			}
		case c == '{' || c == '}':
			b.WriteByte('\\')
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
