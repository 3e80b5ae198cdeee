package antireplay

import (
	"sync"

	"github.com/malcolmseyd/dhtunnel/crypto"
)

// DefaultSize is how many recent IVs a Filter remembers when no size is given.
const DefaultSize = 1024

// Filter remembers the last Size message IVs seen on a session and rejects
// any repeat among them. Every sealed message carries a fresh random IV, so a
// repeat within the window means the message was replayed.
//
// Older IVs fall out in arrival order, so the window is a ring over a set.
type Filter struct {
	mu   sync.Mutex
	seen map[crypto.IV]struct{}
	ring []crypto.IV
	next int
	full bool
}

// NewFilter creates a filter remembering size IVs. A size of zero or less
// means DefaultSize.
func NewFilter(size int) *Filter {
	if size <= 0 {
		size = DefaultSize
	}
	return &Filter{
		seen: make(map[crypto.IV]struct{}, size),
		ring: make([]crypto.IV, size),
	}
}

// Size returns the number of IVs the filter can hold.
func (f *Filter) Size() int {
	return len(f.ring)
}

// Check records seeing iv and returns true if it was not already in the
// window. If it returns false, the message should be dropped.
func (f *Filter) Check(iv crypto.IV) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.seen[iv]; ok {
		return false
	}

	// evict the oldest entry once the ring has wrapped
	if f.full {
		delete(f.seen, f.ring[f.next])
	}
	f.ring[f.next] = iv
	f.seen[iv] = struct{}{}

	f.next++
	if f.next == len(f.ring) {
		f.next = 0
		f.full = true
	}
	return true
}

// Reset forgets every IV.
func (f *Filter) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()

	clear(f.seen)
	f.next = 0
	f.full = false
}
