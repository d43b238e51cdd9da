package queue

import (
	"context"
	"testing"

	"github.com/hashicorp/go-hclog"
	"pgregory.net/rapid"
)

// TestPropertySubmitGetNeverDoubleDispatches checks the core invariant of
// section 4.6: a pool of Submit/GetJobOrWait calls in any order never hands
// the same job out to two different workers while it is Running, and every
// dispatched job id was actually submitted.
func TestPropertySubmitGetNeverDoubleDispatches(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		q := newQueue(Options{Name: "prop", Policy: DefaultPolicy(), Logger: hclog.NewNullLogger()})
		ctx := context.Background()

		submitted := map[uint32]bool{}
		holder := map[uint32]string{} // job id -> node that holds it

		steps := rapid.IntRange(1, 30).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			if rapid.Bool().Draw(rt, "doSubmit") || len(submitted) == 0 {
				id, err := q.Submit(ctx, SubmitInput{Node: "submitter", Input: []byte("x")})
				if err != nil {
					rt.Fatalf("Submit: %v", err)
				}
				submitted[id] = true
				continue
			}

			worker := rapid.StringMatching(`worker[1-3]`).Draw(rt, "worker")
			out, derr := q.GetJobOrWait(ctx, worker, "", "", DispatchRequest{AnyAffinity: true}, "", 0, 0)
			if derr != nil {
				rt.Fatalf("GetJobOrWait: %v", derr)
			}
			if out.Job == nil {
				continue
			}
			if !submitted[out.Job.ID] {
				rt.Fatalf("dispatched job %d was never submitted", out.Job.ID)
			}
			if prev, held := holder[out.Job.ID]; held {
				rt.Fatalf("job %d double-dispatched to %q and %q", out.Job.ID, prev, worker)
			}
			holder[out.Job.ID] = worker
		}
	})
}

// TestPropertyAffinityDispatchNeverCrossesAffinities checks that a dispatch
// request scoped to an explicit affinity list never returns a job outside
// that list, across randomized submit/get interleavings.
func TestPropertyAffinityDispatchNeverCrossesAffinities(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		q := newQueue(Options{Name: "prop-aff", Policy: DefaultPolicy(), Logger: hclog.NewNullLogger()})
		ctx := context.Background()

		affinities := []string{"gpu", "cpu", "io"}
		n := rapid.IntRange(1, 20).Draw(rt, "numJobs")
		for i := 0; i < n; i++ {
			aff := rapid.SampledFrom(affinities).Draw(rt, "affinity")
			if _, err := q.Submit(ctx, SubmitInput{Node: "submitter", Input: []byte("x"), Affinity: aff}); err != nil {
				rt.Fatalf("Submit: %v", err)
			}
		}

		want := rapid.SampledFrom(affinities).Draw(rt, "wantedAffinity")
		wantID := q.ResolveAffinities([]string{want})

		for {
			out, derr := q.GetJobOrWait(ctx, "worker1", "", "", DispatchRequest{AffinityList: wantID}, "", 0, 0)
			if derr != nil {
				rt.Fatalf("GetJobOrWait: %v", derr)
			}
			if out.Job == nil {
				break
			}
			if name := q.AffinityName(out.Job.AffinityID); name != want {
				rt.Fatalf("dispatched job has affinity %q, want only %q", name, want)
			}
		}
	})
}
