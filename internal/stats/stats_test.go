package stats

import (
	"context"
	"testing"

	"github.com/netschedule/netschedule/internal/queue"
)

func TestCollectorSnapshotReflectsQueueState(t *testing.T) {
	dir := queue.NewDirectory(queue.DirectoryOptions{})
	dir.RegisterClass("default", queue.DefaultPolicy())
	q, err := dir.CreateStatic("jobs", "default", "")
	if err != nil {
		t.Fatalf("CreateStatic: %v", err)
	}

	c, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := q.Submit(context.Background(), queue.SubmitInput{Node: "client1", Input: []byte("x")}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	snap, ok := c.Snapshot("jobs")
	if !ok {
		t.Fatalf("expected a snapshot for the jobs queue")
	}
	if snap.PendingCount != 1 {
		t.Fatalf("PendingCount = %d, want 1", snap.PendingCount)
	}
	if snap.Submitted != 1 {
		t.Fatalf("Submitted = %d, want 1", snap.Submitted)
	}

	if _, ok := c.Snapshot("nonexistent"); ok {
		t.Fatalf("Snapshot should report false for an unknown queue")
	}
}

func TestCollectorSamplePopulatesIntervalData(t *testing.T) {
	dir := queue.NewDirectory(queue.DirectoryOptions{})
	dir.RegisterClass("default", queue.DefaultPolicy())
	if _, err := dir.CreateStatic("jobs", "default", ""); err != nil {
		t.Fatalf("CreateStatic: %v", err)
	}

	c, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.Sample()

	data := c.IntervalData()
	if len(data) == 0 {
		t.Fatalf("expected at least one interval bucket after Sample")
	}
	if len(data[len(data)-1].Gauges) == 0 {
		t.Fatalf("expected Sample to have recorded at least one gauge")
	}
}
