package crawler

// DedupSet tracks canonical links seen by a single job. It is owned by one
// goroutine and never shrinks, so it carries no lock.
type DedupSet struct {
	seen map[string]struct{}
}

// NewDedupSet returns an empty set.
func NewDedupSet() *DedupSet {
	return &DedupSet{seen: make(map[string]struct{})}
}

// MarkIfNew stores link if it has not been seen before and reports whether it was new.
// Empty links are never new.
func (s *DedupSet) MarkIfNew(link string) bool {
	if link == "" {
		return false
	}
	if _, ok := s.seen[link]; ok {
		return false
	}
	s.seen[link] = struct{}{}
	return true
}

// Contains reports whether link has been marked.
func (s *DedupSet) Contains(link string) bool {
	_, ok := s.seen[link]
	return ok
}

// Len returns the number of distinct links marked.
func (s *DedupSet) Len() int {
	return len(s.seen)
}
