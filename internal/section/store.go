package section

import (
	"sort"
	"sync"
)

// Snapshot is an immutable view of the collection. Revision increases by one
// with every mutation that changed something.
type Snapshot struct {
	Revision uint64
	Sections []Section
}

// IDs returns the section ids in order.
func (s Snapshot) IDs() []int64 {
	ids := make([]int64, len(s.Sections))
	for i, item := range s.Sections {
		ids[i] = item.ID
	}
	return ids
}

// Store is the in-memory ordered collection of one project's sections.
// Every method is atomic: readers never observe a half-applied mutation.
type Store struct {
	mu       sync.RWMutex
	sections []Section
	removed  map[int64]struct{}
	revision uint64

	subs    map[int]*Subscription
	nextSub int
}

func NewStore() *Store {
	return &Store{
		removed: make(map[int64]struct{}),
		subs:    make(map[int]*Subscription),
	}
}

// List returns a copy of the sections in order.
func (s *Store) List() []Section {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copyLocked()
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{Revision: s.revision, Sections: s.copyLocked()}
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sections)
}

func (s *Store) IDs() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]int64, len(s.sections))
	for i, item := range s.sections {
		ids[i] = item.ID
	}
	return ids
}

func (s *Store) Get(id int64) (Section, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := s.indexLocked(id)
	if idx < 0 {
		return Section{}, false
	}
	return s.sections[idx].clone(), true
}

// Replace swaps the whole collection for an authoritative one. Incoming
// sections are ordered by their section_order (stable for ties) and then
// renumbered from their position. Sections this store has already seen
// deleted are dropped so a refetch racing a delete cannot bring them back.
func (s *Store) Replace(sections []Section) error {
	seen := make(map[int64]struct{}, len(sections))
	for _, item := range sections {
		if _, dup := seen[item.ID]; dup {
			return invariantError("replace", "duplicate section id %d", item.ID)
		}
		seen[item.ID] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]Section, 0, len(sections))
	for _, item := range sections {
		if _, gone := s.removed[item.ID]; gone {
			continue
		}
		next = append(next, item.clone())
	}
	sort.SliceStable(next, func(i, j int) bool {
		return next[i].SectionOrder < next[j].SectionOrder
	})
	renumber(next)
	s.sections = next
	s.changedLocked()
	return nil
}

// InsertAppend adds a section at the end with section_order = length.
func (s *Store) InsertAppend(section Section) (Section, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.indexLocked(section.ID) >= 0 {
		return Section{}, invariantError("insert", "section %d already present", section.ID)
	}
	if _, gone := s.removed[section.ID]; gone {
		return Section{}, invariantError("insert", "section id %d was deleted and cannot be reused", section.ID)
	}
	item := section.clone()
	item.SectionOrder = len(s.sections)
	s.sections = append(s.sections, item)
	s.changedLocked()
	return item.clone(), nil
}

// Remove deletes the section and closes the order gap. It reports whether
// the section was present.
func (s *Store) Remove(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.removed[id] = struct{}{}
	idx := s.indexLocked(id)
	if idx < 0 {
		return false
	}
	next := make([]Section, 0, len(s.sections)-1)
	next = append(next, s.sections[:idx]...)
	next = append(next, s.sections[idx+1:]...)
	renumber(next)
	s.sections = next
	s.changedLocked()
	return true
}

// Update applies patch to the section with the given id. An absent id is not
// an error: the section may have been deleted while a remote call was out.
func (s *Store) Update(id int64, patch Patch) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(id)
	if idx < 0 || patch.Empty() {
		return false
	}
	s.sections[idx] = patch.apply(s.sections[idx])
	s.changedLocked()
	return true
}

// ReorderTo rearranges the collection to follow ids, which must be a
// permutation of the current ids.
func (s *Store) ReorderTo(ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(ids) != len(s.sections) {
		return invariantError("reorder", "got %d ids for %d sections", len(ids), len(s.sections))
	}
	byID := make(map[int64]Section, len(s.sections))
	for _, item := range s.sections {
		byID[item.ID] = item
	}
	next := make([]Section, 0, len(ids))
	for _, id := range ids {
		item, ok := byID[id]
		if !ok {
			return invariantError("reorder", "section %d is unknown or repeated", id)
		}
		delete(byID, id)
		next = append(next, item)
	}
	renumber(next)
	s.sections = next
	s.changedLocked()
	return nil
}

// Subscribe returns a subscription that always holds the latest snapshot.
// The current snapshot is delivered immediately.
func (s *Store) Subscribe() *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub := &Subscription{
		ch:    make(chan Snapshot, 1),
		store: s,
		id:    s.nextSub,
	}
	sub.C = sub.ch
	s.nextSub++
	s.subs[sub.id] = sub
	sub.offer(Snapshot{Revision: s.revision, Sections: s.copyLocked()})
	return sub
}

func (s *Store) unsubscribe(sub *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[sub.id]; !ok {
		return
	}
	delete(s.subs, sub.id)
	close(sub.ch)
}

func (s *Store) changedLocked() {
	s.revision++
	if len(s.subs) == 0 {
		return
	}
	snap := Snapshot{Revision: s.revision, Sections: s.copyLocked()}
	for _, sub := range s.subs {
		sub.offer(snap)
	}
}

func (s *Store) copyLocked() []Section {
	out := make([]Section, len(s.sections))
	for i, item := range s.sections {
		out[i] = item.clone()
	}
	return out
}

func (s *Store) indexLocked(id int64) int {
	for i, item := range s.sections {
		if item.ID == id {
			return i
		}
	}
	return -1
}

func renumber(sections []Section) {
	for i := range sections {
		sections[i].SectionOrder = i
	}
}

// Subscription delivers snapshots on C. A slow reader only ever sees the
// most recent snapshot; intermediate ones are dropped.
type Subscription struct {
	C <-chan Snapshot

	ch    chan Snapshot
	store *Store
	id    int
}

func (sub *Subscription) offer(snap Snapshot) {
	select {
	case <-sub.ch:
	default:
	}
	select {
	case sub.ch <- snap:
	default:
	}
}

// Close stops delivery and closes C.
func (sub *Subscription) Close() {
	sub.store.unsubscribe(sub)
}
