package queue

import (
	"context"
	"testing"
	"time"
)

func testDirectory(t *testing.T) *Directory {
	t.Helper()
	return NewDirectory(DirectoryOptions{})
}

func TestDirectoryCreateStaticRequiresRegisteredClass(t *testing.T) {
	d := testDirectory(t)
	if _, err := d.CreateStatic("jobs", "missing", ""); err == nil {
		t.Fatalf("expected an error for an unregistered queue class")
	}

	d.RegisterClass("default", DefaultPolicy())
	q, err := d.CreateStatic("jobs", "default", "")
	if err != nil {
		t.Fatalf("CreateStatic: %v", err)
	}
	if q == nil {
		t.Fatalf("expected a non-nil queue")
	}
	if _, err := d.CreateStatic("jobs", "default", ""); err == nil {
		t.Fatalf("expected an error creating a second queue under the same name")
	}
}

func TestDirectoryGetAndList(t *testing.T) {
	d := testDirectory(t)
	d.RegisterClass("default", DefaultPolicy())
	d.CreateStatic("jobs", "default", "primary queue")
	d.CreateDynamic("scratch", "default", "temp queue")

	if _, ok := d.Get("nonexistent"); ok {
		t.Fatalf("Get should report false for an unknown queue")
	}
	if _, ok := d.Get("jobs"); !ok {
		t.Fatalf("Get should find the static queue")
	}

	list := d.List()
	if len(list) != 2 {
		t.Fatalf("List() returned %d entries, want 2", len(list))
	}
	if list[0].Name != "jobs" || list[1].Name != "scratch" {
		t.Fatalf("List() = %+v, want sorted by name", list)
	}
	if !list[0].Static || list[1].Static {
		t.Fatalf("expected jobs static and scratch dynamic, got %+v", list)
	}
}

func TestDirectoryDeleteDynamicRefusesStaticQueues(t *testing.T) {
	d := testDirectory(t)
	d.RegisterClass("default", DefaultPolicy())
	d.CreateStatic("jobs", "default", "")

	if err := d.DeleteDynamic(context.Background(), "jobs", false); err == nil {
		t.Fatalf("expected an error deleting a static queue")
	}
}

func TestDirectoryDeleteDynamicRefusesActiveJobsWithoutForce(t *testing.T) {
	d := testDirectory(t)
	d.RegisterClass("default", DefaultPolicy())
	q, _ := d.CreateDynamic("scratch", "default", "")
	q.Submit(context.Background(), SubmitInput{Node: "client1", Input: []byte("x")})

	if err := d.DeleteDynamic(context.Background(), "scratch", false); err == nil {
		t.Fatalf("expected an error deleting a queue with an active job and force=false")
	}
	if err := d.DeleteDynamic(context.Background(), "scratch", true); err != nil {
		t.Fatalf("DeleteDynamic with force=true: %v", err)
	}
	if _, ok := d.Get("scratch"); ok {
		t.Fatalf("the queue must no longer be visible once tombstoned")
	}
}

func TestDirectoryPurgeReleasesTombstonedQueueOnceEmpty(t *testing.T) {
	d := testDirectory(t)
	policy := DefaultPolicy()
	policy.EmptyLifetime = time.Millisecond
	policy.DeleteGrace = time.Millisecond
	d.RegisterClass("fast", policy)

	q, _ := d.CreateDynamic("scratch", "fast", "")
	id, _ := q.Submit(context.Background(), SubmitInput{Node: "client1", Input: []byte("x")})
	q.Cancel(context.Background(), id)

	if err := d.DeleteDynamic(context.Background(), "scratch", true); err != nil {
		t.Fatalf("DeleteDynamic: %v", err)
	}

	future := time.Now().Add(time.Hour)
	d.Purge(context.Background(), future) // mark-delete pass
	d.Purge(context.Background(), future.Add(time.Second)) // physical-delete pass past the grace, and release the tombstone

	if _, err := d.CreateDynamic("scratch", "fast", ""); err != nil {
		t.Fatalf("expected the name to be reusable once its purge completed, got: %v", err)
	}
}

func TestDirectoryServerWideRefuseSubmitsAffectsExistingQueues(t *testing.T) {
	d := testDirectory(t)
	d.RegisterClass("default", DefaultPolicy())
	q, _ := d.CreateStatic("jobs", "default", "")

	d.SetRefuseSubmits(true)
	if !d.RefuseSubmits() {
		t.Fatalf("RefuseSubmits() should report true")
	}
	if _, err := q.Submit(context.Background(), SubmitInput{Node: "client1", Input: []byte("x")}); err == nil {
		t.Fatalf("expected the server-wide flag to reject submits on an already-created queue")
	}
}
