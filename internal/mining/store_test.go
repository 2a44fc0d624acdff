package mining

import (
	"testing"
	"time"
)

func fill(s *Store, texts ...string) []*Slot {
	var out []*Slot
	for _, text := range texts {
		slot := NewSlot(text, time.Now(), nil)
		s.InsertNewest(slot)
		out = append(out, slot)
	}
	return out
}

func TestStoreNewestFirst(t *testing.T) {
	s := NewStore(10)
	slots := fill(s, "a", "b", "c")

	got := s.Slots()
	if len(got) != 3 {
		t.Fatalf("len = %d", len(got))
	}
	for i, want := range []*Slot{slots[2], slots[1], slots[0]} {
		if got[i] != want {
			t.Fatalf("position %d = %q, want %q", i, got[i].Text, want.Text)
		}
	}
	if s.Head() != slots[2] {
		t.Fatal("head is not the newest")
	}
	if s.Find(slots[1].ID) != slots[1] {
		t.Fatal("Find missed")
	}
	if s.Find("missing") != nil {
		t.Fatal("Find of unknown id returned a slot")
	}
}

func TestStoreEvictOverBound(t *testing.T) {
	tests := []struct {
		name    string
		bound   int
		inserts int
		wantLen int
	}{
		{"under", 5, 3, 3},
		{"exact", 3, 3, 3},
		{"over", 3, 7, 3},
		{"min bound", 0, 4, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStore(tt.bound)
			var all []*Slot
			for i := 0; i < tt.inserts; i++ {
				all = append(all, fill(s, "x")...)
				s.EvictOverBound()
				if s.Len() > s.Bound() {
					t.Fatalf("len %d exceeds bound %d", s.Len(), s.Bound())
				}
			}
			if s.Len() != tt.wantLen {
				t.Fatalf("len = %d, want %d", s.Len(), tt.wantLen)
			}
			evicted := tt.inserts - tt.wantLen
			for i, slot := range all {
				if (i < evicted) != slot.Disposed() {
					t.Fatalf("slot %d disposed=%v, want %v", i, slot.Disposed(), i < evicted)
				}
			}
		})
	}
}

func TestStoreSetBoundEvictsOldest(t *testing.T) {
	s := NewStore(5)
	slots := fill(s, "a", "b", "c", "d", "e")
	evicted := s.SetBound(2)
	if len(evicted) != 3 || evicted[0] != slots[0] || evicted[2] != slots[2] {
		t.Fatalf("evicted wrong slots: %v", evicted)
	}
	if s.Len() != 2 || s.Head() != slots[4] {
		t.Fatal("newest slots not kept")
	}
	if s.Find(slots[0].ID) != nil {
		t.Fatal("evicted slot still indexed")
	}
}

func TestStoreDeleteByIdentity(t *testing.T) {
	s := NewStore(5)
	slots := fill(s, "a", "b")
	other := NewSlot("b", time.Now(), nil)

	if s.Delete(other) {
		t.Fatal("deleted a slot that is not in the store")
	}
	if !s.Delete(slots[0]) {
		t.Fatal("delete failed")
	}
	if !slots[0].Disposed() || s.Len() != 1 || s.Find(slots[0].ID) != nil {
		t.Fatal("deleted slot left behind")
	}
	if s.Delete(slots[0]) {
		t.Fatal("second delete succeeded")
	}
}

func TestStoreOpenAndClearAll(t *testing.T) {
	s := NewStore(5)
	slots := fill(s, "a", "b", "c")
	slots[0].seal([]byte{1})
	slots[2].seal([]byte{1})

	open := s.Open()
	if len(open) != 1 || open[0] != slots[1] {
		t.Fatalf("Open = %v", open)
	}

	if n := s.ClearAll(); n != 3 {
		t.Fatalf("ClearAll = %d", n)
	}
	if s.Len() != 0 || s.Head() != nil {
		t.Fatal("store not empty")
	}
	for _, slot := range slots {
		if !slot.Disposed() {
			t.Fatal("cleared slot not disposed")
		}
	}
	if s.EvictOldest() != nil {
		t.Fatal("EvictOldest on empty store returned a slot")
	}
}
