package queue

import (
	"sync"

	"github.com/netschedule/netschedule/internal/queue/tokenreg"
)

// AffinityRegistry is C3: it interns affinity tokens via tokenreg.Registry
// and additionally tracks, per id, the set of clients that prefer it (by
// role) and the set of Pending jobs currently carrying it, per spec
// section 3/4.3.
type AffinityRegistry struct {
	reg *tokenreg.Registry

	mu            sync.RWMutex
	preferredBy   map[uint32]map[Role]map[string]bool // affinity id -> role -> client key -> true
	pendingJobs   map[uint32]map[uint32]bool           // affinity id -> job id -> true
}

func newAffinityRegistry() *AffinityRegistry {
	return &AffinityRegistry{
		reg:         tokenreg.New("affinity", tokenreg.DefaultWatermarks()),
		preferredBy: map[uint32]map[Role]map[string]bool{},
		pendingJobs: map[uint32]map[uint32]bool{},
	}
}

func (a *AffinityRegistry) Intern(token string) uint32 { return a.reg.Intern(token) }
func (a *AffinityRegistry) Lookup(token string) (uint32, bool) { return a.reg.Lookup(token) }
func (a *AffinityRegistry) Token(id uint32) (string, bool) { return a.reg.Token(id) }

// AddPendingJob records that job id (affinity aff) is now Pending,
// maintaining C3's "has pending jobs" multi-index (invariant in spec
// section 3).
func (a *AffinityRegistry) AddPendingJob(aff, jobID uint32) {
	if aff == NoAffinityID {
		return
	}
	a.reg.Ref(aff)
	a.mu.Lock()
	defer a.mu.Unlock()
	set, ok := a.pendingJobs[aff]
	if !ok {
		set = map[uint32]bool{}
		a.pendingJobs[aff] = set
	}
	set[jobID] = true
}

// RemovePendingJob undoes AddPendingJob, e.g. when a job leaves Pending.
func (a *AffinityRegistry) RemovePendingJob(aff, jobID uint32) {
	if aff == NoAffinityID {
		return
	}
	a.mu.Lock()
	if set, ok := a.pendingJobs[aff]; ok {
		delete(set, jobID)
		if len(set) == 0 {
			delete(a.pendingJobs, aff)
		}
	}
	a.mu.Unlock()
	a.reg.Unref(aff)
}

// HasPendingJob reports whether the multi-index contains jobID under aff
// (used by invariant tests).
func (a *AffinityRegistry) HasPendingJob(aff, jobID uint32) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.pendingJobs[aff][jobID]
}

// PendingJobIDs returns a snapshot of job ids currently Pending with aff.
func (a *AffinityRegistry) PendingJobIDs(aff uint32) []uint32 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	set := a.pendingJobs[aff]
	out := make([]uint32, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// SetPreferred records that clientKey prefers aff for role.
func (a *AffinityRegistry) SetPreferred(role Role, ck string, aff uint32) {
	if aff == NoAffinityID {
		return
	}
	a.reg.Ref(aff)
	a.mu.Lock()
	defer a.mu.Unlock()
	byRole, ok := a.preferredBy[aff]
	if !ok {
		byRole = map[Role]map[string]bool{}
		a.preferredBy[aff] = byRole
	}
	set, ok := byRole[role]
	if !ok {
		set = map[string]bool{}
		byRole[role] = set
	}
	set[ck] = true
}

// ClearPreferred removes clientKey's preference for aff under role.
func (a *AffinityRegistry) ClearPreferred(role Role, ck string, aff uint32) {
	if aff == NoAffinityID {
		return
	}
	a.mu.Lock()
	if byRole, ok := a.preferredBy[aff]; ok {
		if set, ok := byRole[role]; ok {
			delete(set, ck)
			if len(set) == 0 {
				delete(byRole, role)
			}
		}
		if len(byRole) == 0 {
			delete(a.preferredBy, aff)
		}
	}
	a.mu.Unlock()
	a.reg.Unref(aff)
}

// IsPreferredByAny reports whether any client prefers aff for role. Used
// by the exclusive_new_aff predicate (section 4.6): a job's affinity is
// "exclusive-new" only if no client currently prefers it for that role.
func (a *AffinityRegistry) IsPreferredByAny(role Role, aff uint32) bool {
	if aff == NoAffinityID {
		return false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.preferredBy[aff][role]) > 0
}
