package queue

import (
	"fmt"
	"sort"
	"time"

	memdb "github.com/hashicorp/go-memdb"
)

const jobsTable = "jobs"

// jobStoreSchema backs the Job Store (C1) and doubles as the Status
// Matrix (C2): the "status" index gives O(log n) scans per status. memdb
// encodes uint keys as uvarints, whose byte order is not numeric order, so
// IterByStatus sorts the ids it collects to keep iteration deterministic
// ascending-id, as section 4.2 requires.
func jobStoreSchema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			jobsTable: {
				Name: jobsTable,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.UintFieldIndex{Field: "ID"},
					},
					"status": {
						Name:    "status",
						Unique:  false,
						Indexer: &memdb.StringFieldIndex{Field: "Status"},
					},
					"affinity": {
						Name:    "affinity",
						Unique:  false,
						Indexer: &memdb.UintFieldIndex{Field: "AffinityID"},
					},
					"group": {
						Name:    "group",
						Unique:  false,
						Indexer: &memdb.UintFieldIndex{Field: "GroupID"},
					},
				},
			},
		},
	}
}

// JobStore is C1: holds every job and its mutable state, and assigns job
// ids. Callers are expected to already hold the owning Queue's lock;
// JobStore itself does no independent locking beyond memdb's own
// transaction bookkeeping.
type JobStore struct {
	db     *memdb.MemDB
	nextID uint32
}

func newJobStore() *JobStore {
	db, err := memdb.NewMemDB(jobStoreSchema())
	if err != nil {
		// Only possible if jobStoreSchema() is malformed, which is a
		// programmer error, not a runtime condition.
		panic(fmt.Sprintf("queue: invalid job store schema: %v", err))
	}
	return &JobStore{db: db, nextID: 1}
}

// Submit inserts a new job built from spec, assigns it the next id, and
// returns that id. The job starts Pending.
func (s *JobStore) Submit(spec JobSpec) uint32 {
	id := s.nextID
	s.nextID++
	job := spec.toJob(id)
	txn := s.db.Txn(true)
	if err := txn.Insert(jobsTable, job); err != nil {
		txn.Abort()
		panic(fmt.Sprintf("queue: insert submitted job: %v", err))
	}
	txn.Commit()
	return id
}

// SubmitBatch reserves a contiguous id range for len(specs) jobs and
// inserts them all, returning the first id (section 4.1).
func (s *JobStore) SubmitBatch(specs []JobSpec) uint32 {
	if len(specs) == 0 {
		return 0
	}
	first := s.nextID
	s.nextID += uint32(len(specs))
	txn := s.db.Txn(true)
	for i, spec := range specs {
		job := spec.toJob(first + uint32(i))
		if err := txn.Insert(jobsTable, job); err != nil {
			txn.Abort()
			panic(fmt.Sprintf("queue: insert batch job: %v", err))
		}
	}
	txn.Commit()
	return first
}

// Get returns a copy of the job with the given id, or nil if it does not
// exist or has completed the two-phase delete.
func (s *JobStore) Get(id uint32) *Job {
	txn := s.db.Txn(false)
	defer txn.Abort()
	raw, err := txn.First(jobsTable, "id", id)
	if err != nil || raw == nil {
		return nil
	}
	return raw.(*Job).Copy()
}

// peek is like Get but returns the live pointer for in-transaction
// mutation by callers that already hold the Queue lock. Never returned
// across the package boundary.
func (s *JobStore) peek(id uint32) *Job {
	txn := s.db.Txn(false)
	defer txn.Abort()
	raw, err := txn.First(jobsTable, "id", id)
	if err != nil || raw == nil {
		return nil
	}
	return raw.(*Job)
}

// Mutate applies fn to a copy of the job with the given id and writes the
// result back atomically. Returns false if the job does not exist. fn may
// mutate the generation field's effects indirectly via bumpGeneration.
func (s *JobStore) Mutate(id uint32, fn func(j *Job)) bool {
	txn := s.db.Txn(true)
	raw, err := txn.First(jobsTable, "id", id)
	if err != nil || raw == nil {
		txn.Abort()
		return false
	}
	job := raw.(*Job).Copy()
	fn(job)
	if err := txn.Insert(jobsTable, job); err != nil {
		txn.Abort()
		panic(fmt.Sprintf("queue: mutate job %d: %v", id, err))
	}
	txn.Commit()
	return true
}

// BumpGeneration increments the job's generation counter and returns the
// new value, invalidating any previously scheduled Timeline entry for it
// (section 4.5/5: "extending via JobDelayExpiration invalidates prior
// Timeline entries via the generation mechanism").
func (s *JobStore) BumpGeneration(id uint32) uint64 {
	var gen uint64
	s.Mutate(id, func(j *Job) {
		j.generation++
		gen = j.generation
	})
	return gen
}

// Generation returns the job's current generation without mutating it.
func (s *JobStore) Generation(id uint32) (uint64, bool) {
	j := s.peek(id)
	if j == nil {
		return 0, false
	}
	return j.generation, true
}

// Remove marks a job for deletion (phase one of the two-phase removal in
// section 4.1): it moves to StatusDeleted and is stamped with a deletion
// time, but the record is retained until the purge loop calls
// PhysicalDelete once the grace period has elapsed.
func (s *JobStore) Remove(id uint32, now time.Time) bool {
	return s.Mutate(id, func(j *Job) {
		j.Status = StatusDeleted
		j.deletedAt = now
	})
}

// PhysicalDelete is phase two: it drops the record entirely.
func (s *JobStore) PhysicalDelete(id uint32) {
	txn := s.db.Txn(true)
	raw, err := txn.First(jobsTable, "id", id)
	if err != nil || raw == nil {
		txn.Abort()
		return
	}
	if err := txn.Delete(jobsTable, raw); err != nil {
		txn.Abort()
		panic(fmt.Sprintf("queue: physical delete job %d: %v", id, err))
	}
	txn.Commit()
}

// IterByStatus returns every job id currently in status, ascending.
func (s *JobStore) IterByStatus(status Status) []uint32 {
	txn := s.db.Txn(false)
	defer txn.Abort()
	it, err := txn.Get(jobsTable, "status", string(status))
	if err != nil {
		return nil
	}
	var ids []uint32
	for raw := it.Next(); raw != nil; raw = it.Next() {
		ids = append(ids, raw.(*Job).ID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// IterDeletedPastGrace returns ids of StatusDeleted jobs whose deletion
// time is more than grace in the past, for the purge loop's phase-two
// sweep.
func (s *JobStore) IterDeletedPastGrace(now time.Time, grace time.Duration) []uint32 {
	txn := s.db.Txn(false)
	defer txn.Abort()
	it, err := txn.Get(jobsTable, "status", string(StatusDeleted))
	if err != nil {
		return nil
	}
	var ids []uint32
	for raw := it.Next(); raw != nil; raw = it.Next() {
		j := raw.(*Job)
		if now.Sub(j.deletedAt) >= grace {
			ids = append(ids, j.ID)
		}
	}
	return ids
}

// IterTerminalPastExpiration returns ids of jobs in a purge-eligible
// terminal status whose Expiration deadline has passed (section 3
// lifecycle: "Destroyed by the purge loop when in a terminal status and
// past expiration").
func (s *JobStore) IterTerminalPastExpiration(now time.Time) []uint32 {
	txn := s.db.Txn(false)
	defer txn.Abort()
	it, err := txn.Get(jobsTable, "id")
	if err != nil {
		return nil
	}
	var ids []uint32
	for raw := it.Next(); raw != nil; raw = it.Next() {
		j := raw.(*Job)
		if j.Status.terminalForPurge() && !j.Expiration.IsZero() && !j.Expiration.After(now) {
			ids = append(ids, j.ID)
		}
	}
	return ids
}

// Count returns the number of live (non-physically-deleted) jobs.
func (s *JobStore) Count() int {
	txn := s.db.Txn(false)
	defer txn.Abort()
	it, err := txn.Get(jobsTable, "id")
	if err != nil {
		return 0
	}
	n := 0
	for raw := it.Next(); raw != nil; raw = it.Next() {
		n++
	}
	return n
}

// JobSpec is the caller-supplied description of a new job (Submit input).
type JobSpec struct {
	Input          []byte
	AffinityID     uint32
	GroupID        uint32
	Mask           uint32
	SubmitterNotif NotifTarget
	ClientIP       string
	ClientSID      string
	NCBIPhid       string
	Expiration     time.Time
}

func (sp JobSpec) toJob(id uint32) *Job {
	return &Job{
		ID:             id,
		Status:         StatusPending,
		Input:          append([]byte(nil), sp.Input...),
		AffinityID:     sp.AffinityID,
		GroupID:        sp.GroupID,
		Mask:           sp.Mask,
		SubmitterNotif: sp.SubmitterNotif,
		ClientIP:       sp.ClientIP,
		ClientSID:      sp.ClientSID,
		NCBIPhid:       sp.NCBIPhid,
		Expiration:     sp.Expiration,
		Events:         []Event{{Timestamp: time.Now(), Transition: "submit"}},
	}
}
