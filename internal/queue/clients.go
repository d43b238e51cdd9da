package queue

import (
	"time"
)

// AccessResult is the outcome of check_access (section 4.4).
type AccessResult struct {
	Denied bool
	Reason string
}

// Allowed is a convenience constructor for a non-denied result.
var Allowed = AccessResult{}

// TouchResult reports what touch() observed about the client's session.
type TouchResult struct {
	IsNew        bool
	SessionReset bool
	HadPrefs     bool
}

// ClientRegistry is C5: per-client session, blacklist, preferred
// affinities, and role. Callers are expected to already hold the owning
// Queue's lock.
type ClientRegistry struct {
	byKey map[string]*Client
}

func newClientRegistry() *ClientRegistry {
	return &ClientRegistry{byKey: map[string]*Client{}}
}

// Touch is called on every command (section 4.4). If the client's session
// string changed from what the registry holds, its Worker and Reader
// preferred-affinity sets are reset.
func (r *ClientRegistry) Touch(node, session, address string, role Role, now time.Time, affReg *AffinityRegistry) TouchResult {
	key := clientKey(node, "") // clients are keyed by node; session changes are detected, not re-keyed
	c, ok := r.byKey[key]
	if !ok {
		c = newClient(node, session, address)
		r.byKey[key] = c
		c.Roles[role] = true
		return TouchResult{IsNew: true}
	}

	c.Address = address
	c.Roles[role] = true
	c.LastActivity = now

	if c.Session != session && session != "" {
		hadPrefs := len(c.PreferredAffinities[RoleWorker]) > 0 || len(c.PreferredAffinities[RoleReader]) > 0
		for role, set := range c.PreferredAffinities {
			for aff := range set {
				affReg.ClearPreferred(role, key, aff)
			}
		}
		c.PreferredAffinities = map[Role]map[uint32]bool{RoleWorker: {}, RoleReader: {}}
		c.Session = session
		c.complete = node != "" && session != ""
		return TouchResult{SessionReset: true, HadPrefs: hadPrefs}
	}
	if c.Session == "" && session != "" {
		c.Session = session
		c.complete = node != "" && session != ""
	}
	return TouchResult{}
}

// Get returns the client record for (node, session-irrelevant key), or
// nil if never touched.
func (r *ClientRegistry) Get(node string) *Client {
	return r.byKey[clientKey(node, "")]
}

// IsComplete reports whether the client supplied both node and session at
// handshake (section 4.4): commands relying on preferred affinities
// require this.
func (r *ClientRegistry) IsComplete(node string) bool {
	c := r.byKey[clientKey(node, "")]
	return c != nil && c.complete
}

// SetPreferredAffinities applies adds/dels to the client's preferred set
// for role.
func (r *ClientRegistry) SetPreferredAffinities(node string, role Role, adds, dels []uint32, affReg *AffinityRegistry) {
	c := r.byKey[clientKey(node, "")]
	if c == nil {
		return
	}
	key := clientKey(node, "")
	set := c.PreferredAffinities[role]
	if set == nil {
		set = map[uint32]bool{}
		c.PreferredAffinities[role] = set
	}
	for _, aff := range adds {
		if !set[aff] {
			set[aff] = true
			affReg.SetPreferred(role, key, aff)
		}
	}
	for _, aff := range dels {
		if set[aff] {
			delete(set, aff)
			affReg.ClearPreferred(role, key, aff)
		}
	}
}

// AddPreferredAffinityOnNewJob records aff as preferred for role, used
// when an exclusive_new_aff dispatch matches (section 4.4/4.6).
func (r *ClientRegistry) AddPreferredAffinityOnNewJob(node string, role Role, aff uint32, affReg *AffinityRegistry) {
	r.SetPreferredAffinities(node, role, []uint32{aff}, nil, affReg)
}

// PreferredAffinities returns the client's preferred set for role, or nil.
func (r *ClientRegistry) PreferredAffinities(node string, role Role) map[uint32]bool {
	c := r.byKey[clientKey(node, "")]
	if c == nil {
		return nil
	}
	return c.PreferredAffinities[role]
}

// IsBlacklisted reports whether node is currently blacklisted from jobID.
func (r *ClientRegistry) IsBlacklisted(node string, jobID uint32, now time.Time) bool {
	c := r.byKey[clientKey(node, "")]
	if c == nil {
		return false
	}
	until, ok := c.Blacklist[jobID]
	if !ok {
		return false
	}
	if now.After(until) {
		delete(c.Blacklist, jobID)
		return false
	}
	return true
}

// Blacklist bans node from jobID until the given deadline.
func (r *ClientRegistry) Blacklist(node string, jobID uint32, until time.Time) {
	c, ok := r.byKey[clientKey(node, "")]
	if !ok {
		c = newClient(node, "", "")
		r.byKey[clientKey(node, "")] = c
	}
	c.Blacklist[jobID] = until
}

// ClearWorkerNode resets all per-session state for node but preserves
// identity (section 4.4).
func (r *ClientRegistry) ClearWorkerNode(node string, affReg *AffinityRegistry) {
	c := r.byKey[clientKey(node, "")]
	if c == nil {
		return
	}
	key := clientKey(node, "")
	for role, set := range c.PreferredAffinities {
		for aff := range set {
			affReg.ClearPreferred(role, key, aff)
		}
	}
	c.PreferredAffinities = map[Role]map[uint32]bool{RoleWorker: {}, RoleReader: {}}
	c.Blacklist = map[uint32]time.Time{}
}

// CheckAccess implements check_access (section 4.4): required is the set
// of roles at least one of which the client must hold.
func (r *ClientRegistry) CheckAccess(node string, required []Role, requireComplete bool) AccessResult {
	c := r.byKey[clientKey(node, "")]
	if c == nil {
		return AccessResult{Denied: true, Reason: "unknown client"}
	}
	if requireComplete && !c.complete {
		return AccessResult{Denied: true, Reason: "anonymous client cannot use preferred affinities"}
	}
	if len(required) == 0 {
		return Allowed
	}
	for _, role := range required {
		if c.Roles[role] {
			return Allowed
		}
	}
	return AccessResult{Denied: true, Reason: "client lacks required role"}
}
