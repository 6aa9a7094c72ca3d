package signal

import "sync"

// Deduplicator remembers recently seen event ids in a bounded FIFO
// window. The relay redelivers: reconnects replay the lookback window,
// and multiple relays can hand over the same event. Everything past
// this gate is treated as exactly-once.
type Deduplicator struct {
	mu    sync.Mutex
	seen  map[string]struct{}
	order []string
	size  int
}

func NewDeduplicator(size int) *Deduplicator {
	if size < 1 {
		size = 1
	}
	return &Deduplicator{seen: make(map[string]struct{}, size), size: size}
}

// Seen records the id and reports whether it was already known.
// Check and insert are one step, so callers need no extra locking.
func (d *Deduplicator) Seen(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[id]; ok {
		return true
	}
	if len(d.order) == d.size {
		delete(d.seen, d.order[0])
		d.order = d.order[1:]
	}
	d.seen[id] = struct{}{}
	d.order = append(d.order, id)
	return false
}

func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.order)
}

func (d *Deduplicator) Reset() {
	d.mu.Lock()
	d.seen = make(map[string]struct{}, d.size)
	d.order = nil
	d.mu.Unlock()
}
