package view

import "sync"

// Recorder keeps every batch it sees and forwards to Next, if set.
type Recorder struct {
	Next Sink

	mu      sync.Mutex
	batches []Batch
}

func (r *Recorder) Commit(b Batch) {
	r.mu.Lock()
	r.batches = append(r.batches, append(Batch(nil), b...))
	r.mu.Unlock()
	if r.Next != nil {
		r.Next.Commit(b)
	}
}

// Batches returns how many batches were committed.
func (r *Recorder) Batches() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

// Log returns every recorded mutation in order.
func (r *Recorder) Log() Batch {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out Batch
	for _, b := range r.batches {
		out = append(out, b...)
	}
	return out
}

// Reset forgets recorded mutations.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.batches = nil
	r.mu.Unlock()
}

// Count returns how many recorded mutations have op for id.
func (r *Recorder) Count(op Op, id string) int {
	n := 0
	for _, m := range r.Log() {
		if m.Op == op && m.ID == id {
			n++
		}
	}
	return n
}
