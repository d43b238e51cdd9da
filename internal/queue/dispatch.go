package queue

import (
	"sort"
	"time"
)

// DispatchRequest is the waiter request W of section 4.6.
type DispatchRequest struct {
	Node            string
	Role            Role // RoleWorker or RoleReader
	AffinityList    []uint32
	AnyAffinity     bool
	ExclusiveNewAff bool
	PrioritizedAff  bool
	GroupList       []uint32
	Now             time.Time
}

// Validate enforces the flag constraints of section 4.6 that must be
// rejected before the request ever reaches the dispatcher.
func (r DispatchRequest) Validate() *Error {
	if r.ExclusiveNewAff && r.AnyAffinity {
		return newErr(ErrInvalidParameter, "exclusive_new_aff and any_aff are mutually exclusive")
	}
	if r.PrioritizedAff && len(r.AffinityList) == 0 {
		return newErr(ErrInvalidParameter, "prioritized_aff requires a non-empty affinity list")
	}
	return nil
}

// eligibleWithPreferred implements the affinity predicate of section 4.6,
// evaluated in the stated order. preferred is the requesting client's own
// preferred set for role (nil if it has none, or the client isn't
// "complete"). isExclusiveNewMatch reports whether the match came through
// the exclusive_new_aff branch, so the caller knows to record the
// preference on dispatch.
func eligibleWithPreferred(jobAff uint32, role Role, explicitList []uint32, preferred map[uint32]bool, anyAffinity, exclusiveNewAff bool, affReg *AffinityRegistry) (ok bool, isExclusiveNewMatch bool) {
	if len(explicitList) > 0 {
		return containsU32(explicitList, jobAff), false
	}
	if preferred != nil && preferred[jobAff] {
		return true, false
	}
	if exclusiveNewAff && !affReg.IsPreferredByAny(role, jobAff) {
		return true, true
	}
	if anyAffinity {
		return true, false
	}
	return false, false
}

// candidate is an eligible job plus the bookkeeping needed to tie-break
// it against its peers.
type candidate struct {
	job          *Job
	affRank      int // position in the caller's affinity list, or len(list) if not present
	exclusiveNew bool
}

// dispatch runs the full matching algorithm of section 4.6 against every
// job in sourceStatus (Pending for Worker, Done for Reader) and returns
// the chosen job, or nil if none match. It does not mutate state; the
// caller (Queue) performs the actual state transition so it can do so
// inside the same critical section as Timeline scheduling and client
// bookkeeping.
func dispatch(jobs []*Job, req DispatchRequest, preferred map[uint32]bool, clients *ClientRegistry, affReg *AffinityRegistry) (*candidate, *Error) {
	if verr := req.Validate(); verr != nil {
		return nil, verr
	}

	rank := make(map[uint32]int, len(req.AffinityList))
	for i, aff := range req.AffinityList {
		if _, ok := rank[aff]; !ok {
			rank[aff] = i
		}
	}

	var candidates []candidate
	for _, j := range jobs {
		if len(req.GroupList) > 0 && !containsU32(req.GroupList, j.GroupID) {
			continue
		}
		if clients.IsBlacklisted(req.Node, j.ID, req.Now) {
			continue
		}
		ok, isNew := eligibleWithPreferred(j.AffinityID, req.Role, req.AffinityList, preferred, req.AnyAffinity, req.ExclusiveNewAff, affReg)
		if !ok {
			continue
		}
		r, known := rank[j.AffinityID]
		if !known {
			r = len(req.AffinityList)
		}
		candidates = append(candidates, candidate{job: j, affRank: r, exclusiveNew: isNew})
	}

	if len(candidates) == 0 {
		return nil, nil
	}

	sort.SliceStable(candidates, func(i, k int) bool {
		if req.PrioritizedAff && candidates[i].affRank != candidates[k].affRank {
			return candidates[i].affRank < candidates[k].affRank
		}
		return candidates[i].job.ID < candidates[k].job.ID
	})
	return &candidates[0], nil
}
