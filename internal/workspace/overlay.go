package workspace

// overlay holds the optimistic writes that are still in flight, per record id. The newest
// entry for an id wins in the view; a nil value hides the record. Entries are removed when
// their remote write resolves, so a failed write falls back to whatever is underneath:
// an older in-flight write or the subscription-fed base.
type overlay[T any] struct {
	seq     uint64
	entries map[string][]overlayEntry[T]
	// folded is the seq of the newest resolved write per id already folded into the base.
	folded map[string]uint64
}

type overlayEntry[T any] struct {
	seq   uint64
	value *T
}

func newOverlay[T any]() *overlay[T] {
	return &overlay[T]{
		entries: make(map[string][]overlayEntry[T]),
		folded:  make(map[string]uint64),
	}
}

// put stacks value on id and returns the write's sequence number.
func (o *overlay[T]) put(id string, value *T) uint64 {
	o.seq++
	o.entries[id] = append(o.entries[id], overlayEntry[T]{seq: o.seq, value: value})
	return o.seq
}

// drop removes the write seq from id. It reports whether the write is newer than anything
// already folded for id, i.e. whether a successful write should be folded into the base.
func (o *overlay[T]) drop(id string, seq uint64) bool {
	chain := o.entries[id]
	for i, e := range chain {
		if e.seq == seq {
			chain = append(chain[:i:i], chain[i+1:]...)
			break
		}
	}
	if len(chain) == 0 {
		delete(o.entries, id)
	} else {
		o.entries[id] = chain
	}
	return seq > o.folded[id]
}

// markFolded records that the write seq for id is now part of the base.
func (o *overlay[T]) markFolded(id string, seq uint64) {
	if seq > o.folded[id] {
		o.folded[id] = seq
	}
}

// top returns the newest write for id.
func (o *overlay[T]) top(id string) (*T, bool) {
	chain := o.entries[id]
	if len(chain) == 0 {
		return nil, false
	}
	return chain[len(chain)-1].value, true
}

// each calls fn with the newest write of every id.
func (o *overlay[T]) each(fn func(id string, value *T)) {
	for id, chain := range o.entries {
		fn(id, chain[len(chain)-1].value)
	}
}

func (o *overlay[T]) pending() int {
	n := 0
	for _, chain := range o.entries {
		n += len(chain)
	}
	return n
}

func (o *overlay[T]) reset() {
	o.entries = make(map[string][]overlayEntry[T])
	o.folded = make(map[string]uint64)
}
