package ingest

import "sync"

// DefaultRecentCapacity is how many recently ingested sources scope queries.
const DefaultRecentCapacity = 5

// RecentSources is a bounded, insertion-ordered set of source names. When
// full, adding a new name evicts the oldest; re-adding a present name moves
// it to the newest slot.
type RecentSources struct {
	mu    sync.RWMutex
	cap   int
	items []string
}

func NewRecentSources(capacity int) *RecentSources {
	if capacity <= 0 {
		capacity = DefaultRecentCapacity
	}
	return &RecentSources{cap: capacity, items: make([]string, 0, capacity)}
}

func (r *RecentSources) Add(name string) {
	if name == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, s := range r.items {
		if s == name {
			r.items = append(r.items[:i], r.items[i+1:]...)
			break
		}
	}
	if len(r.items) == r.cap {
		r.items = r.items[1:]
	}
	r.items = append(r.items, name)
}

// Snapshot returns the names oldest first, or nil when empty.
func (r *RecentSources) Snapshot() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.items) == 0 {
		return nil
	}
	out := make([]string, len(r.items))
	copy(out, r.items)
	return out
}

func (r *RecentSources) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}
