package queue

import (
	"sync"

	"github.com/netschedule/netschedule/internal/queue/tokenreg"
)

// GroupRegistry is C4: interns job-group tokens. Reference-counted by jobs
// and waiters, analogous to the affinity registry but without the
// preferred-by-client index (groups restrict dispatch, they are not
// "owned" by a client the way affinities are).
type GroupRegistry struct {
	reg *tokenreg.Registry

	mu      sync.RWMutex
	waiters map[uint32]uint32 // group id -> count of parked waiters referencing it
}

func newGroupRegistry() *GroupRegistry {
	return &GroupRegistry{
		reg:     tokenreg.New("group", tokenreg.DefaultWatermarks()),
		waiters: map[uint32]uint32{},
	}
}

func (g *GroupRegistry) Intern(token string) uint32       { return g.reg.Intern(token) }
func (g *GroupRegistry) Lookup(token string) (uint32, bool) { return g.reg.Lookup(token) }
func (g *GroupRegistry) Token(id uint32) (string, bool)    { return g.reg.Token(id) }

func (g *GroupRegistry) RefJob(id uint32)   { g.reg.Ref(id) }
func (g *GroupRegistry) UnrefJob(id uint32) { g.reg.Unref(id) }

func (g *GroupRegistry) RefWaiter(id uint32) {
	if id == NoGroupID {
		return
	}
	g.reg.Ref(id)
	g.mu.Lock()
	g.waiters[id]++
	g.mu.Unlock()
}

func (g *GroupRegistry) UnrefWaiter(id uint32) {
	if id == NoGroupID {
		return
	}
	g.mu.Lock()
	if g.waiters[id] > 0 {
		g.waiters[id]--
		if g.waiters[id] == 0 {
			delete(g.waiters, id)
		}
	}
	g.mu.Unlock()
	g.reg.Unref(id)
}
