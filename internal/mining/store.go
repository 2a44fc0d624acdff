package mining

import (
	list "github.com/bahlo/generic-list-go"
)

// Store holds slots newest-first and never more than its bound. It is not
// safe for concurrent use; the orchestrator confines it to its run loop.
type Store struct {
	slots *list.List[*Slot]
	index map[string]*list.Element[*Slot]
	bound int
}

// NewStore creates a store keeping at most bound slots (minimum 1).
func NewStore(bound int) *Store {
	if bound < 1 {
		bound = 1
	}
	return &Store{
		slots: list.New[*Slot](),
		index: make(map[string]*list.Element[*Slot]),
		bound: bound,
	}
}

// Len returns the number of slots.
func (s *Store) Len() int { return s.slots.Len() }

// Bound returns the maximum size.
func (s *Store) Bound() int { return s.bound }

// SetBound changes the maximum size and evicts down to it.
func (s *Store) SetBound(bound int) []*Slot {
	if bound < 1 {
		bound = 1
	}
	s.bound = bound
	return s.EvictOverBound()
}

// InsertNewest puts slot at the head. It does not evict; call
// EvictOverBound in the same step.
func (s *Store) InsertNewest(slot *Slot) {
	s.index[slot.ID] = s.slots.PushFront(slot)
}

// Head returns the newest slot or nil.
func (s *Store) Head() *Slot {
	if e := s.slots.Front(); e != nil {
		return e.Value
	}
	return nil
}

// EvictOldest disposes and removes the tail slot. It returns nil when empty.
func (s *Store) EvictOldest() *Slot {
	e := s.slots.Back()
	if e == nil {
		return nil
	}
	slot := e.Value
	slot.Dispose()
	s.slots.Remove(e)
	delete(s.index, slot.ID)
	return slot
}

// EvictOverBound evicts from the tail until the store fits its bound.
func (s *Store) EvictOverBound() []*Slot {
	var evicted []*Slot
	for s.slots.Len() > s.bound {
		evicted = append(evicted, s.EvictOldest())
	}
	return evicted
}

// Find returns the slot with id, or nil.
func (s *Store) Find(id string) *Slot {
	if e, ok := s.index[id]; ok {
		return e.Value
	}
	return nil
}

// Delete disposes and removes slot, matched by identity.
func (s *Store) Delete(slot *Slot) bool {
	for e := s.slots.Front(); e != nil; e = e.Next() {
		if e.Value != slot {
			continue
		}
		slot.Dispose()
		s.slots.Remove(e)
		delete(s.index, slot.ID)
		return true
	}
	return false
}

// ClearAll disposes every slot and empties the store.
func (s *Store) ClearAll() int {
	n := s.slots.Len()
	for e := s.slots.Front(); e != nil; e = e.Next() {
		e.Value.Dispose()
	}
	s.slots.Init()
	s.index = make(map[string]*list.Element[*Slot])
	return n
}

// Slots returns the slots newest-first.
func (s *Store) Slots() []*Slot {
	out := make([]*Slot, 0, s.slots.Len())
	for e := s.slots.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value)
	}
	return out
}

// Open returns the open slots, newest-first.
func (s *Store) Open() []*Slot {
	var out []*Slot
	for e := s.slots.Front(); e != nil; e = e.Next() {
		if e.Value.IsOpen() {
			out = append(out, e.Value)
		}
	}
	return out
}
