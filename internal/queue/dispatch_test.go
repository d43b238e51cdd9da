package queue

import (
	"testing"
	"time"
)

func jobWithAff(id, aff uint32) *Job {
	return &Job{ID: id, AffinityID: aff, Status: StatusPending}
}

func TestDispatchAnyAffinityPicksLowestJobID(t *testing.T) {
	clients := newClientRegistry()
	affReg := newAffinityRegistry()
	jobs := []*Job{jobWithAff(3, 0), jobWithAff(1, 0), jobWithAff(2, 0)}

	cand, err := dispatch(jobs, DispatchRequest{AnyAffinity: true}, nil, clients, affReg)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if cand == nil || cand.job.ID != 1 {
		t.Fatalf("expected job 1 (lowest id), got %+v", cand)
	}
}

func TestDispatchExplicitAffinityListExcludesOthers(t *testing.T) {
	clients := newClientRegistry()
	affReg := newAffinityRegistry()
	gpu, cpu := uint32(1), uint32(2)
	jobs := []*Job{jobWithAff(1, cpu), jobWithAff(2, gpu)}

	cand, err := dispatch(jobs, DispatchRequest{AffinityList: []uint32{gpu}}, nil, clients, affReg)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if cand == nil || cand.job.ID != 2 {
		t.Fatalf("expected the gpu-affinity job (id 2), got %+v", cand)
	}
}

func TestDispatchNoCandidatesReturnsNilWithoutError(t *testing.T) {
	clients := newClientRegistry()
	affReg := newAffinityRegistry()
	jobs := []*Job{jobWithAff(1, 99)}

	cand, err := dispatch(jobs, DispatchRequest{AffinityList: []uint32{1}}, nil, clients, affReg)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if cand != nil {
		t.Fatalf("expected no candidate, got %+v", cand)
	}
}

func TestDispatchBlacklistedJobIsSkipped(t *testing.T) {
	clients := newClientRegistry()
	affReg := newAffinityRegistry()
	now := time.Now()
	clients.Touch("worker1", "sess1", "", RoleWorker, now, affReg)
	clients.Blacklist("worker1", 1, now.Add(time.Minute))

	jobs := []*Job{jobWithAff(1, 0), jobWithAff(2, 0)}
	cand, err := dispatch(jobs, DispatchRequest{AnyAffinity: true, Node: "worker1", Now: now}, nil, clients, affReg)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if cand == nil || cand.job.ID != 2 {
		t.Fatalf("expected the non-blacklisted job 2, got %+v", cand)
	}
}

func TestDispatchGroupListRestrictsCandidates(t *testing.T) {
	clients := newClientRegistry()
	affReg := newAffinityRegistry()
	j1 := jobWithAff(1, 0)
	j1.GroupID = 5
	j2 := jobWithAff(2, 0)
	j2.GroupID = 6

	cand, err := dispatch([]*Job{j1, j2}, DispatchRequest{AnyAffinity: true, GroupList: []uint32{6}}, nil, clients, affReg)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if cand == nil || cand.job.ID != 2 {
		t.Fatalf("expected job 2 (group 6), got %+v", cand)
	}
}

func TestDispatchPrioritizedAffOrdersByRankThenID(t *testing.T) {
	clients := newClientRegistry()
	affReg := newAffinityRegistry()
	gpu, cpu := uint32(1), uint32(2)
	// job 5 has the lower id but a lower-priority affinity (cpu); job 9
	// carries the first-ranked affinity (gpu) and must win despite the
	// higher id.
	j5 := jobWithAff(5, cpu)
	j9 := jobWithAff(9, gpu)

	cand, err := dispatch([]*Job{j5, j9}, DispatchRequest{AffinityList: []uint32{gpu, cpu}, PrioritizedAff: true}, nil, clients, affReg)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if cand == nil || cand.job.ID != 9 {
		t.Fatalf("expected job 9 (ranked first by affinity), got %+v", cand)
	}
}

func TestDispatchValidateRejectsConflictingFlags(t *testing.T) {
	clients := newClientRegistry()
	affReg := newAffinityRegistry()
	jobs := []*Job{jobWithAff(1, 0)}

	_, err := dispatch(jobs, DispatchRequest{AnyAffinity: true, ExclusiveNewAff: true}, nil, clients, affReg)
	if err == nil {
		t.Fatalf("expected a validation error for any_aff + exclusive_new_aff")
	}
}

func TestDispatchExclusiveNewAffOnlyMatchesUnpreferred(t *testing.T) {
	clients := newClientRegistry()
	affReg := newAffinityRegistry()
	gpu := affReg.Intern("gpu")
	affReg.SetPreferred(RoleWorker, "someoneElse", gpu)

	jobs := []*Job{jobWithAff(1, gpu)}
	cand, err := dispatch(jobs, DispatchRequest{ExclusiveNewAff: true, Role: RoleWorker}, nil, clients, affReg)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if cand != nil {
		t.Fatalf("gpu is already preferred by another client, must not match exclusive_new_aff")
	}
}
