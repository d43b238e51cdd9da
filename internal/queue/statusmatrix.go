package queue

// transitions enumerates every permitted Status->Status move from the
// state diagram in spec section 4.9. set_status (below) asserts against
// this table; any other attempt leaves state unchanged, per the
// invariant tested in section 8.
var transitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusRunning:  true,
		StatusCanceled: true,
	},
	StatusRunning: {
		StatusDone:     true, // put
		StatusFailed:   true, // fail
		StatusPending:  true, // return / run-timeout retry
		StatusCanceled: true,
	},
	StatusDone: {
		StatusReading:  true, // read
		StatusPending:  true, // reschedule / redo
		StatusCanceled: true,
	},
	StatusReading: {
		StatusConfirmed:  true, // confirm
		StatusReadFailed: true, // fail-read
		StatusDone:       true, // rollback
		StatusCanceled:   true,
	},
	StatusConfirmed: {
		StatusPending: true, // reread
	},
	StatusReadFailed: {
		StatusPending: true, // reread
	},
	StatusFailed: {
		StatusPending:  true, // reschedule
		StatusCanceled: true,
	},
	StatusCanceled: {
		StatusPending: true, // reschedule
	},
}

// canTransition reports whether from->to is a permitted move.
func canTransition(from, to Status) bool {
	return transitions[from][to]
}

// setStatus is the choke point (section 4.2) for moving a job between
// status buckets. It asserts the job's current status equals
// from, and only then applies to, keeping the memdb "status" secondary
// index (Status Matrix, C2) consistent with the Job Store in the same
// write transaction. Returns false (no change) if from->to is not in the
// transitions table, the job is missing, or the current status does not
// match from. JobStore.Remove's move to StatusDeleted does not go through
// here.
func (s *JobStore) setStatus(id uint32, from, to Status, mutate func(j *Job)) bool {
	if !canTransition(from, to) {
		return false
	}
	ok := false
	s.Mutate(id, func(j *Job) {
		if j.Status != from {
			return
		}
		j.Status = to
		if mutate != nil {
			mutate(j)
		}
		ok = true
	})
	return ok
}
