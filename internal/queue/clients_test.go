package queue

import (
	"testing"
	"time"
)

func TestClientRegistryTouchNewAndReturning(t *testing.T) {
	r := newClientRegistry()
	affReg := newAffinityRegistry()
	now := time.Now()

	res := r.Touch("worker1", "sess1", "10.0.0.1:1234", RoleWorker, now, affReg)
	if !res.IsNew {
		t.Fatalf("expected IsNew on the first Touch")
	}
	if !r.IsComplete("worker1") {
		t.Fatalf("a client touched with both node and session should be complete")
	}

	res = r.Touch("worker1", "sess1", "10.0.0.2:5555", RoleWorker, now, affReg)
	if res.IsNew || res.SessionReset {
		t.Fatalf("touching with the same session must not reset state: %+v", res)
	}
	if got := r.Get("worker1").Address; got != "10.0.0.2:5555" {
		t.Fatalf("Address = %q, want the latest touch's address", got)
	}
}

func TestClientRegistryTouchResetsPreferredOnSessionChange(t *testing.T) {
	r := newClientRegistry()
	affReg := newAffinityRegistry()
	now := time.Now()

	r.Touch("worker1", "sess1", "", RoleWorker, now, affReg)
	gpu := affReg.Intern("gpu")
	r.SetPreferredAffinities("worker1", RoleWorker, []uint32{gpu}, nil, affReg)

	if !affReg.IsPreferredByAny(RoleWorker, gpu) {
		t.Fatalf("expected gpu to be preferred after SetPreferredAffinities")
	}

	res := r.Touch("worker1", "sess2", "", RoleWorker, now, affReg)
	if !res.SessionReset || !res.HadPrefs {
		t.Fatalf("expected SessionReset with HadPrefs on a session change, got %+v", res)
	}
	if affReg.IsPreferredByAny(RoleWorker, gpu) {
		t.Fatalf("a session reset must clear the client's preferred-affinity index entries")
	}
	if len(r.PreferredAffinities("worker1", RoleWorker)) != 0 {
		t.Fatalf("expected the client's own preferred set to be emptied too")
	}
}

func TestClientRegistryBlacklistExpires(t *testing.T) {
	r := newClientRegistry()
	affReg := newAffinityRegistry()
	now := time.Now()
	r.Touch("worker1", "sess1", "", RoleWorker, now, affReg)

	r.Blacklist("worker1", 42, now.Add(time.Minute))
	if !r.IsBlacklisted("worker1", 42, now) {
		t.Fatalf("expected job 42 to be blacklisted for worker1")
	}
	if r.IsBlacklisted("worker1", 42, now.Add(2*time.Minute)) {
		t.Fatalf("expected the blacklist entry to have expired")
	}
}

func TestClientRegistryCheckAccess(t *testing.T) {
	r := newClientRegistry()
	affReg := newAffinityRegistry()
	now := time.Now()

	if res := r.CheckAccess("ghost", nil, false); !res.Denied {
		t.Fatalf("an unknown client must be denied access")
	}

	r.Touch("worker1", "", "", RoleWorker, now, affReg)
	if res := r.CheckAccess("worker1", []Role{RoleSubmitter}, false); !res.Denied {
		t.Fatalf("a Worker-only client must be denied a Submitter-required action")
	}
	if res := r.CheckAccess("worker1", []Role{RoleWorker, RoleSubmitter}, false); res.Denied {
		t.Fatalf("a Worker client should pass when Worker is one of the allowed roles")
	}
	if res := r.CheckAccess("worker1", nil, true); !res.Denied {
		t.Fatalf("an anonymous client (no session) must be denied a requireComplete action")
	}
}

func TestClientRegistryClearWorkerNode(t *testing.T) {
	r := newClientRegistry()
	affReg := newAffinityRegistry()
	now := time.Now()
	r.Touch("worker1", "sess1", "", RoleWorker, now, affReg)

	gpu := affReg.Intern("gpu")
	r.SetPreferredAffinities("worker1", RoleWorker, []uint32{gpu}, nil, affReg)
	r.Blacklist("worker1", 1, now.Add(time.Minute))

	r.ClearWorkerNode("worker1", affReg)

	if len(r.PreferredAffinities("worker1", RoleWorker)) != 0 {
		t.Fatalf("expected preferred affinities cleared")
	}
	if r.IsBlacklisted("worker1", 1, now) {
		t.Fatalf("expected the blacklist cleared")
	}
	if affReg.IsPreferredByAny(RoleWorker, gpu) {
		t.Fatalf("expected the registry-side preferred index cleared too")
	}
}
