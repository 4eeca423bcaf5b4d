package rollup

import "sync"

// SeenSet is the run-scoped set of organization ids already rolled up.
// It only grows; an id, once added, is never aggregated again in the same run.
type SeenSet struct {
	mu  sync.Mutex
	ids map[int64]struct{}
}

// NewSeenSet creates an empty set
func NewSeenSet() *SeenSet {
	return &SeenSet{ids: make(map[int64]struct{})}
}

// Add inserts id and reports whether it was newly added
func (s *SeenSet) Add(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = struct{}{}
	return true
}

// Claim adds every id not yet present and returns those ids in input order
func (s *SeenSet) Claim(ids []int64) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	claimed := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := s.ids[id]; ok {
			continue
		}
		s.ids[id] = struct{}{}
		claimed = append(claimed, id)
	}
	return claimed
}

// Has reports whether id is in the set
func (s *SeenSet) Has(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	return ok
}

// Len returns the number of ids in the set
func (s *SeenSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}
