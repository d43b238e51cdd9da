// Package tokenreg implements the shared interning/reference-counting
// behavior used by both the affinity registry (C3) and the group registry
// (C4): a dense token<->id mapping with a configurable capacity and
// watermark-triggered bulk garbage collection (spec section 4.3).
package tokenreg

import (
	"sync"

	iradix "github.com/hashicorp/go-immutable-radix/v2"
)

// ReservedID is the id reserved for "no affinity"/"no group". The empty
// string and the literal "-" both normalize to it at the edge.
const ReservedID uint32 = 0

// Watermarks configures when bulk GC runs: once occupancy exceeds High,
// every unreferenced id whose numeric value is below Low is reclaimed in
// one pass. DirtPercent is informational (exposed to stats) and does not
// change GC behavior; the original source's "dirt percentage" counter is
// surfaced the same way here, not turned into another GC threshold.
type Watermarks struct {
	Capacity    int
	Low         int
	High        int
	DirtPercent int
}

// DefaultWatermarks mirrors the original NetSchedule defaults: GC kicks in
// once a register holds more than 1<<17 (131,072) interned tokens, and
// then reclaims unreferenced ids below 1<<16 (65,536).
func DefaultWatermarks() Watermarks {
	return Watermarks{Capacity: 1 << 20, Low: 1 << 16, High: 1 << 17, DirtPercent: 10}
}

// Registry interns short string tokens into dense uint32 ids and tracks a
// reference count per id. Kind is a label used only for logging/metrics
// (e.g. "affinity" or "group").
type Registry struct {
	Kind string

	mu       sync.RWMutex
	byToken  *iradix.Tree[uint32]
	byID     map[uint32]string
	refCount map[uint32]uint32
	nextID   uint32
	wm       Watermarks
}

func New(kind string, wm Watermarks) *Registry {
	return &Registry{
		Kind:     kind,
		byToken:  iradix.New[uint32](),
		byID:     map[uint32]string{},
		refCount: map[uint32]uint32{},
		nextID:   1, // 0 is ReservedID
		wm:       wm,
	}
}

// normalize maps "" and "-" to the empty token, which always interns to
// ReservedID.
func normalize(token string) string {
	if token == "-" {
		return ""
	}
	return token
}

// Intern returns the dense id for token, allocating a new one if this is
// the first time it has been seen. The empty token (and "-") always maps
// to ReservedID without consuming a slot or a reference.
func (r *Registry) Intern(token string) uint32 {
	token = normalize(token)
	if token == "" {
		return ReservedID
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.byToken.Get([]byte(token)); ok {
		return id
	}
	id := r.nextID
	r.nextID++
	tree, _, _ := r.byToken.Insert([]byte(token), id)
	r.byToken = tree
	r.byID[id] = token
	r.refCount[id] = 0
	return id
}

// Lookup returns the id already assigned to token without interning a new
// one. ok is false if the token was never interned.
func (r *Registry) Lookup(token string) (id uint32, ok bool) {
	token = normalize(token)
	if token == "" {
		return ReservedID, true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byToken.Get([]byte(token))
}

// Token returns the string token for id, or "" if id is unknown or
// reserved.
func (r *Registry) Token(id uint32) (string, bool) {
	if id == ReservedID {
		return "", true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	tok, ok := r.byID[id]
	return tok, ok
}

// Ref increments id's reference count. No-op for the reserved id.
func (r *Registry) Ref(id uint32) {
	if id == ReservedID {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refCount[id]++
}

// Unref decrements id's reference count, floored at zero, and runs a GC
// sweep if occupancy has crossed the high watermark.
func (r *Registry) Unref(id uint32) {
	if id == ReservedID {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.refCount[id] > 0 {
		r.refCount[id]--
	}
	r.gcLocked()
}

// RefCount reports id's current reference count.
func (r *Registry) RefCount(id uint32) uint32 {
	if id == ReservedID {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.refCount[id]
}

// Len reports the number of interned (non-reserved) tokens.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// gcLocked reclaims unreferenced ids below the low watermark once
// occupancy exceeds the high watermark. Caller must hold r.mu.
func (r *Registry) gcLocked() {
	if len(r.byID) <= r.wm.High {
		return
	}
	for id, token := range r.byID {
		if int(id) >= r.wm.Low {
			continue
		}
		if r.refCount[id] != 0 {
			continue
		}
		tree, _, _ := r.byToken.Delete([]byte(token))
		r.byToken = tree
		delete(r.byID, id)
		delete(r.refCount, id)
	}
}
