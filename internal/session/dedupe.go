package session

import "sync"

// idSet remembers the last n ids in insertion order.
type idSet struct {
	mu    sync.Mutex
	ids   map[string]struct{}
	order []string
	next  int
}

func newIDSet(n int) *idSet {
	return &idSet{ids: make(map[string]struct{}, n), order: make([]string, n)}
}

// add reports true when id was not already present.
func (s *idSet) add(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; ok {
		return false
	}
	if old := s.order[s.next]; old != "" {
		delete(s.ids, old)
	}
	s.order[s.next] = id
	s.next = (s.next + 1) % len(s.order)
	s.ids[id] = struct{}{}
	return true
}
