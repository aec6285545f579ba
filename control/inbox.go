package control

import "sync/atomic"

// inbox is the single-slot command mailbox for one axis. The operator side
// stores the latest intent with a fresh sequence number; the cycle engine
// loads the slot once per cycle and acts only when the sequence advanced.
// An unconsumed intent is silently superseded by a newer one.
type inbox struct {
	seq  atomic.Uint64
	slot atomic.Value // Intent
}

// post publishes a new intent, superseding whatever is in the slot.
func (b *inbox) post(intent Intent) uint64 {
	intent.Seq = b.seq.Add(1)
	b.slot.Store(intent)
	return intent.Seq
}

// peek returns the current slot contents. Ok is false until the first post.
func (b *inbox) peek() (Intent, bool) {
	v := b.slot.Load()
	if v == nil {
		return Intent{}, false
	}
	return v.(Intent), true
}
