package queue

import (
	"container/heap"
	"time"
)

// EventKind labels a Timeline entry (section 4.5).
type EventKind string

const (
	EventRunExpired      EventKind = "RunExpired"
	EventReadExpired     EventKind = "ReadExpired"
	EventJobExpired      EventKind = "JobExpired"
	EventListenerExpired EventKind = "ListenerExpired"
	EventWaiterExpired   EventKind = "WaiterExpired"
)

// timelineEntry is one scheduled deadline. generation is stamped from the
// owning job (or waiter) at schedule time; a popped entry whose
// generation no longer matches is lazily discarded instead of acted on,
// which is how JobDelayExpiration invalidates prior entries without
// walking the heap to remove them.
type timelineEntry struct {
	deadline   time.Time
	kind       EventKind
	targetID   uint64 // job id, or waiter id for EventWaiterExpired
	generation uint64
	index      int // heap.Interface bookkeeping
}

type timelineHeap []*timelineEntry

func (h timelineHeap) Len() int { return len(h) }
func (h timelineHeap) Less(i, j int) bool { return h[i].deadline.Before(h[j].deadline) }
func (h timelineHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *timelineHeap) Push(x any) {
	e := x.(*timelineEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *timelineHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Timeline is C6: a min-heap of expiration events. Callers are expected to
// already hold the owning Queue's lock.
type Timeline struct {
	h timelineHeap
}

func newTimeline() *Timeline {
	t := &Timeline{}
	heap.Init(&t.h)
	return t
}

// Schedule adds a deadline event. Returns nothing: the caller is not
// expected to cancel individual entries directly, only to bump the
// generation of the underlying job/waiter so stale pops are discarded.
func (t *Timeline) Schedule(deadline time.Time, kind EventKind, targetID uint64, generation uint64) {
	heap.Push(&t.h, &timelineEntry{deadline: deadline, kind: kind, targetID: targetID, generation: generation})
}

// PopDue removes and returns every entry whose deadline is <= now, in
// non-decreasing deadline order (section 5 ordering guarantee).
func (t *Timeline) PopDue(now time.Time) []*timelineEntry {
	var due []*timelineEntry
	for t.h.Len() > 0 && !t.h[0].deadline.After(now) {
		due = append(due, heap.Pop(&t.h).(*timelineEntry))
	}
	return due
}

// Peek returns the next deadline without removing it, for background
// tasks that want to sleep until the next interesting instant.
func (t *Timeline) Peek() (time.Time, bool) {
	if t.h.Len() == 0 {
		return time.Time{}, false
	}
	return t.h[0].deadline, true
}

// Len reports the number of entries still scheduled, including any that
// will be discarded as stale on pop.
func (t *Timeline) Len() int { return t.h.Len() }
