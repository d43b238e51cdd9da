package queue

import "testing"

func TestAffinityRegistryPendingJobIndex(t *testing.T) {
	a := newAffinityRegistry()
	gpu := a.Intern("gpu")

	a.AddPendingJob(gpu, 1)
	a.AddPendingJob(gpu, 2)
	if !a.HasPendingJob(gpu, 1) || !a.HasPendingJob(gpu, 2) {
		t.Fatalf("expected both jobs recorded as pending under gpu")
	}

	a.RemovePendingJob(gpu, 1)
	if a.HasPendingJob(gpu, 1) {
		t.Fatalf("job 1 should no longer be pending under gpu")
	}
	if !a.HasPendingJob(gpu, 2) {
		t.Fatalf("job 2 should still be pending under gpu")
	}

	ids := a.PendingJobIDs(gpu)
	if len(ids) != 1 || ids[0] != 2 {
		t.Fatalf("PendingJobIDs = %v, want [2]", ids)
	}
}

func TestAffinityRegistryNoAffinityIDIsANoop(t *testing.T) {
	a := newAffinityRegistry()
	a.AddPendingJob(NoAffinityID, 7)
	if a.HasPendingJob(NoAffinityID, 7) {
		t.Fatalf("NoAffinityID must never carry a pending-job index")
	}
	a.RemovePendingJob(NoAffinityID, 7) // must not panic
}

func TestAffinityRegistryPreferredByAny(t *testing.T) {
	a := newAffinityRegistry()
	gpu := a.Intern("gpu")

	if a.IsPreferredByAny(RoleWorker, gpu) {
		t.Fatalf("no client has preferred gpu yet")
	}

	a.SetPreferred(RoleWorker, "worker1\x00sess1", gpu)
	if !a.IsPreferredByAny(RoleWorker, gpu) {
		t.Fatalf("expected gpu to be preferred by worker1 for RoleWorker")
	}
	if a.IsPreferredByAny(RoleReader, gpu) {
		t.Fatalf("a Worker preference must not leak into RoleReader")
	}

	a.ClearPreferred(RoleWorker, "worker1\x00sess1", gpu)
	if a.IsPreferredByAny(RoleWorker, gpu) {
		t.Fatalf("expected gpu to no longer be preferred after ClearPreferred")
	}
}

func TestAffinityRegistryLookupAndToken(t *testing.T) {
	a := newAffinityRegistry()
	gpu := a.Intern("gpu")

	if id, ok := a.Lookup("gpu"); !ok || id != gpu {
		t.Fatalf("Lookup(gpu) = (%d, %v), want (%d, true)", id, ok, gpu)
	}
	if tok, ok := a.Token(gpu); !ok || tok != "gpu" {
		t.Fatalf("Token(%d) = (%q, %v), want (gpu, true)", gpu, tok, ok)
	}
	if _, ok := a.Lookup("cpu"); ok {
		t.Fatalf("Lookup(cpu) should fail before it is ever interned")
	}
}
