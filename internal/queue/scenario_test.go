package queue

import (
	"context"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
)

// These mirror the end-to-end scenarios against a bare in-memory Queue, no
// network involved; internal/server/integration_test.go repeats the
// submit-and-dispatch steps of scenario 1 at the wire level.

func TestScenarioBasicLifecycle(t *testing.T) {
	q := testQueue(t, DefaultPolicy())
	ctx := context.Background()

	id, err := q.Submit(ctx, SubmitInput{Node: "node1", Input: []byte("x")})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if id != 1 {
		t.Fatalf("first submitted job id = %d, want 1", id)
	}

	out, derr := q.GetJobOrWait(ctx, "node1", "sess1", "", DispatchRequest{AnyAffinity: true}, "", 0, 0)
	if derr != nil {
		t.Fatalf("GetJobOrWait: %v", derr)
	}
	if out.Job == nil || out.Job.ID != id {
		t.Fatalf("expected job %d dispatched, got %+v", id, out.Job)
	}
	token := out.Job.AuthToken

	if err := q.PutResult(ctx, "node1", id, token, []byte("y"), 0); err != nil {
		t.Fatalf("PutResult: %v", err)
	}

	j := q.Status(id)
	if j.Status != StatusDone {
		t.Fatalf("status = %s, want Done", j.Status)
	}
	if string(j.Output) != "y" {
		t.Fatalf("output = %q, want y", j.Output)
	}
}

func TestScenarioExclusiveNewAffinity(t *testing.T) {
	q := testQueue(t, DefaultPolicy())
	ctx := context.Background()

	id1, err := q.Submit(ctx, SubmitInput{Node: "submitter", Input: []byte("a"), Affinity: "A"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	out, derr := q.GetJobOrWait(ctx, "client1", "sess1", "", DispatchRequest{ExclusiveNewAff: true}, "", 0, 0)
	if derr != nil {
		t.Fatalf("GetJobOrWait: %v", derr)
	}
	if out.Job == nil || out.Job.ID != id1 {
		t.Fatalf("expected client1 to claim job %d, got %+v", id1, out.Job)
	}

	if _, err := q.Submit(ctx, SubmitInput{Node: "submitter", Input: []byte("b"), Affinity: "A"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	out, derr = q.GetJobOrWait(ctx, "client2", "sess2", "", DispatchRequest{ExclusiveNewAff: true, AnyAffinity: false}, "", 0, 0)
	if derr != nil {
		t.Fatalf("GetJobOrWait: %v", derr)
	}
	if out.Job != nil {
		t.Fatalf("expected client2 to get no job once A is exclusively claimed by client1, got %+v", out.Job)
	}
}

func TestScenarioRunTimeoutRetryBlacklistsWorker(t *testing.T) {
	policy := DefaultPolicy()
	policy.FailedRetries = 2
	policy.RunTimeout = time.Second
	policy.BlacklistTime = time.Hour
	q := testQueue(t, policy)
	ctx := context.Background()

	id, err := q.Submit(ctx, SubmitInput{Node: "submitter", Input: []byte("x")})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	out, derr := q.GetJobOrWait(ctx, "worker1", "sess1", "", DispatchRequest{AnyAffinity: true}, "", 0, 0)
	if derr != nil {
		t.Fatalf("GetJobOrWait: %v", derr)
	}
	if out.Job == nil || out.Job.ID != id {
		t.Fatalf("expected job %d dispatched to worker1", id)
	}

	// No PUT: tick past the run timeout and let the watcher retry it.
	q.Tick(ctx, time.Now().Add(2*time.Second))

	if j := q.Status(id); j.Status != StatusPending {
		t.Fatalf("status after run-timeout = %s, want Pending", j.Status)
	}

	out, derr = q.GetJobOrWait(ctx, "worker1", "sess1", "", DispatchRequest{AnyAffinity: true}, "", 0, 0)
	if derr != nil {
		t.Fatalf("GetJobOrWait (worker1 retry): %v", derr)
	}
	if out.Job != nil {
		t.Fatalf("worker1 should be blacklisted from the job it let time out, got %+v", out.Job)
	}

	out, derr = q.GetJobOrWait(ctx, "worker2", "sess2", "", DispatchRequest{AnyAffinity: true}, "", 0, 0)
	if derr != nil {
		t.Fatalf("GetJobOrWait (worker2): %v", derr)
	}
	if out.Job == nil || out.Job.ID != id {
		t.Fatalf("expected a different worker to pick up job %d, got %+v", id, out.Job)
	}
}

func TestScenarioPauseWithPullback(t *testing.T) {
	policy := DefaultPolicy()
	policy.RunTimeout = time.Hour // far in the future: pullback must not wait for this
	policy.FailedRetries = 2
	q := testQueue(t, policy)
	ctx := context.Background()

	id1, _ := q.Submit(ctx, SubmitInput{Node: "submitter", Input: []byte("a")})
	if _, err := q.Submit(ctx, SubmitInput{Node: "submitter", Input: []byte("b")}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	out, derr := q.GetJobOrWait(ctx, "worker1", "sess1", "", DispatchRequest{AnyAffinity: true}, "", 0, 0)
	if derr != nil || out.Job == nil || out.Job.ID != id1 {
		t.Fatalf("expected job %d dispatched, got %+v, %v", id1, out.Job, derr)
	}

	if warn := q.Pause(true); warn != nil {
		t.Fatalf("Pause: unexpected warning %+v", warn)
	}
	if q.GetPauseStatus() != PauseWithPullback {
		t.Fatalf("GetPauseStatus() = %s, want PauseWithPullback", q.GetPauseStatus())
	}

	out, derr = q.GetJobOrWait(ctx, "worker2", "sess2", "", DispatchRequest{AnyAffinity: true}, "", 0, 0)
	if derr != nil {
		t.Fatalf("GetJobOrWait while paused: %v", derr)
	}
	if out.Job != nil || !out.Paused {
		t.Fatalf("expected a Paused outcome with no job while paused, got %+v", out)
	}

	// RunTimeout is an hour away: if Tick only honored each job's own
	// deadline, id1 would still be Running here. Pullback must return it
	// to Pending anyway, on the next tick, regardless of that deadline.
	q.Tick(ctx, time.Now().Add(time.Second))
	if j := q.Status(id1); j.Status != StatusPending {
		t.Fatalf("status of the pulled-back running job = %s, want Pending", j.Status)
	}
	if q.clients.IsBlacklisted("worker1", id1, time.Now()) {
		t.Fatalf("worker1 should not be blacklisted by an administrative pullback")
	}

	if warn := q.Resume(); warn != nil {
		t.Fatalf("Resume: unexpected warning %+v", warn)
	}
	if q.GetPauseStatus() != NoPause {
		t.Fatalf("GetPauseStatus() = %s, want NoPause", q.GetPauseStatus())
	}
}

func TestScenarioReaderPathDoubleConfirmWarns(t *testing.T) {
	q := testQueue(t, DefaultPolicy())
	ctx := context.Background()

	id, _ := q.Submit(ctx, SubmitInput{Node: "node1", Input: []byte("x")})
	out, derr := q.GetJobOrWait(ctx, "node1", "sess1", "", DispatchRequest{AnyAffinity: true}, "", 0, 0)
	if derr != nil {
		t.Fatalf("GetJobOrWait: %v", derr)
	}
	if err := q.PutResult(ctx, "node1", id, out.Job.AuthToken, []byte("y"), 0); err != nil {
		t.Fatalf("PutResult: %v", err)
	}

	readOut, derr := q.GetJobForReadingOrWait(ctx, "reader1", "rsess1", "", DispatchRequest{AnyAffinity: true}, "", 0, 0)
	if derr != nil {
		t.Fatalf("GetJobForReadingOrWait: %v", derr)
	}
	if readOut.Job == nil || readOut.Job.ID != id {
		t.Fatalf("expected job %d up for reading, got %+v", id, readOut.Job)
	}
	readToken := readOut.Job.AuthToken

	warn, err := q.ConfirmReading(id, readToken)
	if err != nil {
		t.Fatalf("ConfirmReading: %v", err)
	}
	if warn != nil {
		t.Fatalf("unexpected warning on first confirm: %+v", warn)
	}
	if j := q.Status(id); j.Status != StatusConfirmed {
		t.Fatalf("status after confirm = %s, want Confirmed", j.Status)
	}

	warn, err = q.ConfirmReading(id, readToken)
	if err != nil {
		t.Fatalf("second ConfirmReading: %v", err)
	}
	if warn == nil || warn.Kind != WarnJobNotRead {
		t.Fatalf("expected WarnJobNotRead on a second confirm, got %+v", warn)
	}
}

func TestScenarioPrioritizedAffinity(t *testing.T) {
	q := testQueue(t, DefaultPolicy())
	ctx := context.Background()

	idB, err := q.Submit(ctx, SubmitInput{Node: "submitter", Input: []byte("b"), Affinity: "B"})
	if err != nil {
		t.Fatalf("Submit B: %v", err)
	}
	idC, err := q.Submit(ctx, SubmitInput{Node: "submitter", Input: []byte("c"), Affinity: "C"})
	if err != nil {
		t.Fatalf("Submit C: %v", err)
	}

	req := DispatchRequest{
		AffinityList:   q.ResolveAffinities([]string{"A", "B", "C"}),
		PrioritizedAff: true,
	}

	out, derr := q.GetJobOrWait(ctx, "worker1", "sess1", "", req, "", 0, 0)
	if derr != nil {
		t.Fatalf("GetJobOrWait (1st): %v", derr)
	}
	if out.Job == nil || out.Job.ID != idB {
		t.Fatalf("1st dispatch = %+v, want job %d (affinity B)", out.Job, idB)
	}

	out, derr = q.GetJobOrWait(ctx, "worker1", "sess1", "", req, "", 0, 0)
	if derr != nil {
		t.Fatalf("GetJobOrWait (2nd): %v", derr)
	}
	if out.Job == nil || out.Job.ID != idC {
		t.Fatalf("2nd dispatch = %+v, want job %d (affinity C)", out.Job, idC)
	}

	out, derr = q.GetJobOrWait(ctx, "worker1", "sess1", "", req, "", 0, 0)
	if derr != nil {
		t.Fatalf("GetJobOrWait (3rd): %v", derr)
	}
	if out.Job != nil {
		t.Fatalf("3rd dispatch expected no job, got %+v", out.Job)
	}
}
