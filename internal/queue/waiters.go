package queue

import "time"

// waiter is C8's record of a parked GET/READ request (section 3/4.7).
type waiter struct {
	ID      uint64
	Node    string
	Role    Role // RoleWorker or RoleReader
	Host    string
	Port    int
	Deadline time.Time

	WantedAffinities []uint32
	AnyAffinity      bool
	ExclusiveNewAff  bool
	PrioritizedAff   bool
	WantedGroups     []uint32

	generation uint64
}

// eligible reports whether job j would satisfy this waiter's predicate,
// using the same rule the Dispatcher applies at GET/READ time (section
// 4.6), so a Submit/Return/Cancel can recognize "this waiter would now be
// served" without re-running the whole dispatch pass.
func (w *waiter) eligible(j *Job, expectStatus Status, affReg *AffinityRegistry, clients *ClientRegistry, now time.Time) bool {
	if j.Status != expectStatus {
		return false
	}
	if len(w.WantedGroups) > 0 && !containsU32(w.WantedGroups, j.GroupID) {
		return false
	}
	if clients.IsBlacklisted(w.Node, j.ID, now) {
		return false
	}
	preferred := clients.PreferredAffinities(w.Node, w.Role)
	ok, _ := eligibleWithPreferred(j.AffinityID, w.Role, w.WantedAffinities, preferred, w.AnyAffinity, w.ExclusiveNewAff, affReg)
	return ok
}

func containsU32(list []uint32, v uint32) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// WaiterRegistry is C8: parks blocked GET/READ requests and delivers
// notifications. Callers are expected to already hold the owning Queue's
// lock. Matching is a pure function here (deciding who matches); actually
// sending the UDP packet is the caller's job via the Notifier interface
// so this package stays free of net.
type WaiterRegistry struct {
	byID   map[uint64]*waiter
	order  []uint64 // insertion order, for the "insertion order" notify scan (section 4.7/9)
	nextID uint64
}

func newWaiterRegistry() *WaiterRegistry {
	return &WaiterRegistry{byID: map[uint64]*waiter{}}
}

// Park registers a new waiter and returns its id.
func (r *WaiterRegistry) Park(w *waiter) uint64 {
	r.nextID++
	w.ID = r.nextID
	r.byID[w.ID] = w
	r.order = append(r.order, w.ID)
	return w.ID
}

// Cancel removes a parked waiter, e.g. on CWGET/CWREAD or session reset.
func (r *WaiterRegistry) Cancel(id uint64) {
	if _, ok := r.byID[id]; !ok {
		return
	}
	delete(r.byID, id)
	for i, x := range r.order {
		if x == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Get returns the waiter record for id, or nil.
func (r *WaiterRegistry) Get(id uint64) *waiter { return r.byID[id] }

// CancelForNode cancels every waiter belonging to node (session reset,
// section 5 "cancellation / timeouts").
func (r *WaiterRegistry) CancelForNode(node string) {
	var toCancel []uint64
	for id, w := range r.byID {
		if w.Node == node {
			toCancel = append(toCancel, id)
		}
	}
	for _, id := range toCancel {
		r.Cancel(id)
	}
}

// Matching scans parked waiters in insertion order and returns those
// whose predicate matches job j (now in expectStatus), for the notify
// fan-out of section 4.7. Order is best-effort per the Open Question in
// section 9: tests must only assert "at least one match," never order.
func (r *WaiterRegistry) Matching(j *Job, expectStatus Status, role Role, affReg *AffinityRegistry, clients *ClientRegistry, now time.Time) []*waiter {
	var out []*waiter
	for _, id := range r.order {
		w := r.byID[id]
		if w == nil || w.Role != role {
			continue
		}
		if w.eligible(j, expectStatus, affReg, clients, now) {
			out = append(out, w)
		}
	}
	return out
}

// Len reports the number of currently parked waiters.
func (r *WaiterRegistry) Len() int { return len(r.byID) }
