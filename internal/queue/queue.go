package queue

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/netschedule/netschedule/internal/idgen"
)

// PauseMode is the queue-level pause state of section 4.8.
type PauseMode string

const (
	NoPause               PauseMode = "NoPause"
	PauseWithPullback     PauseMode = "PauseWithPullback"
	PauseWithoutPullback  PauseMode = "PauseWithoutPullback"
)

// Policy holds the per-queue configuration fields named in section 4.8,
// copied from a QueueClass template at creation time (section 4.10/4.12).
type Policy struct {
	RunTimeout        time.Duration
	ReadTimeout       time.Duration
	FailedRetries     int
	ReadFailedRetries int
	BlacklistTime     time.Duration
	EmptyLifetime     time.Duration
	MaxInputSize      int
	MaxOutputSize     int
	DeleteGrace       time.Duration

	// AllowCrossQueueProgressLookup controls the MPUT/MGET behavior named
	// as an Open Question in spec section 9: whether a job key naming a
	// different queue than the handshake queue is re-resolved rather than
	// rejected. Default false.
	AllowCrossQueueProgressLookup bool
}

// DefaultPolicy mirrors the original NetSchedule's conservative defaults.
func DefaultPolicy() Policy {
	return Policy{
		RunTimeout:        10 * time.Minute,
		ReadTimeout:       10 * time.Minute,
		FailedRetries:     3,
		ReadFailedRetries: 3,
		BlacklistTime:     5 * time.Minute,
		EmptyLifetime:     time.Hour,
		MaxInputSize:      1 << 20,
		MaxOutputSize:     1 << 20,
		DeleteGrace:       time.Minute,
	}
}

// Queue is C9: one addressable queue composing the Job Store, Status
// Matrix, registries, Timeline, and Waiter Registry behind a single
// coarse lock (section 5 locking discipline).
type Queue struct {
	Name string

	mu sync.Mutex

	jobs     *JobStore
	aff      *AffinityRegistry
	grp      *GroupRegistry
	clients  *ClientRegistry
	timeline *Timeline
	waiters  *WaiterRegistry

	durability Durability
	notifier   Notifier
	log        hclog.Logger

	policy Policy

	pause            PauseMode
	pauseTargets     []NotifTarget
	refuseSubmits    bool // queue-level refuse_submits (section 4.8)
	serverRefuse     *serverFlag
	serverShutdown   *serverFlag

	stats queueStats
}

// queueStats counts events for the statistics surface (internal/stats
// reads a snapshot of this via Queue.StatsSnapshot).
type queueStats struct {
	submitted   uint64
	dispatched  uint64
	completed   uint64
	failed      uint64
	purged      uint64
	notified    uint64
	runTimeouts uint64
}

// serverFlag is the atomic server-wide flag described in section 9
// ("Global mutable state ... modeled as two atomic flags held by the
// Directory"); defined here so Queue can read it without importing
// Directory (Directory embeds/owns the flags and hands Queue a pointer).
type serverFlag struct {
	mu  sync.RWMutex
	set bool
}

func newServerFlag() *serverFlag { return &serverFlag{} }
func (f *serverFlag) Get() bool  { f.mu.RLock(); defer f.mu.RUnlock(); return f.set }
func (f *serverFlag) Set(v bool) { f.mu.Lock(); f.set = v; f.mu.Unlock() }

// Options configures a new Queue.
type Options struct {
	Name           string
	Policy         Policy
	Durability     Durability
	Notifier       Notifier
	Logger         hclog.Logger
	ServerRefuse   *serverFlag
	ServerShutdown *serverFlag
}

func newQueue(opts Options) *Queue {
	if opts.Durability == nil {
		opts.Durability = NoopDurability{}
	}
	if opts.Notifier == nil {
		opts.Notifier = NoopNotifier{}
	}
	if opts.Logger == nil {
		opts.Logger = hclog.NewNullLogger()
	}
	if opts.ServerRefuse == nil {
		opts.ServerRefuse = newServerFlag()
	}
	if opts.ServerShutdown == nil {
		opts.ServerShutdown = newServerFlag()
	}
	return &Queue{
		Name:           opts.Name,
		jobs:           newJobStore(),
		aff:            newAffinityRegistry(),
		grp:            newGroupRegistry(),
		clients:        newClientRegistry(),
		timeline:       newTimeline(),
		waiters:        newWaiterRegistry(),
		durability:     opts.Durability,
		notifier:       opts.Notifier,
		log:            opts.Logger.Named("queue." + opts.Name),
		policy:         opts.Policy,
		serverRefuse:   opts.ServerRefuse,
		serverShutdown: opts.ServerShutdown,
	}
}

func (q *Queue) submitsRefused() bool {
	return q.refuseSubmits || q.serverRefuse.Get() || q.serverShutdown.Get()
}

// --- Submit -----------------------------------------------------------

// SubmitInput is the caller-supplied SUBMIT command payload (section 6.1).
type SubmitInput struct {
	Node         string
	Session      string
	Address      string
	Input        []byte
	Affinity     string
	Group        string
	Mask         uint32
	NotifHost    string
	NotifPort    int
	NotifTimeout time.Duration
	ClientIP     string
	ClientSID    string
	NCBIPhid     string
}

// Submit implements SUBMIT (section 4.8/6.1): creates a new Pending job.
func (q *Queue) Submit(ctx context.Context, in SubmitInput) (uint32, *Error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.submitsRefused() {
		return 0, newErr(ErrSubmitsDisabled, "submits are disabled")
	}
	if q.policy.MaxInputSize > 0 && len(in.Input) > q.policy.MaxInputSize {
		return 0, newErr(ErrInvalidParameter, "input exceeds max_input_size")
	}

	now := time.Now()
	q.clients.Touch(in.Node, in.Session, in.Address, RoleSubmitter, now, q.aff)

	affID := q.aff.Intern(in.Affinity)
	grpID := q.grp.Intern(in.Group)

	var notif NotifTarget
	if in.NotifPort > 0 {
		notif = NotifTarget{Host: in.NotifHost, Port: in.NotifPort, Deadline: now.Add(in.NotifTimeout)}
	}

	spec := JobSpec{
		Input:          in.Input,
		AffinityID:     affID,
		GroupID:        grpID,
		Mask:           in.Mask,
		SubmitterNotif: notif,
		ClientIP:       in.ClientIP,
		ClientSID:      in.ClientSID,
		NCBIPhid:       in.NCBIPhid,
		Expiration:     now.Add(q.policy.EmptyLifetime),
	}
	id := q.jobs.Submit(spec)
	q.grp.RefJob(grpID)
	q.aff.AddPendingJob(affID, id)
	q.stats.submitted++

	q.appendDurable(ctx, id, "submit")
	q.notifyWaiters(id, StatusPending, RoleWorker, now)
	return id, nil
}

// SubmitBatch implements SUBMIT/BTCH/ENDS streaming batch submission
// (section 6.1): reserves a contiguous id range and returns the first id.
func (q *Queue) SubmitBatch(ctx context.Context, node, session, address, group string, inputs [][]byte) (uint32, *Error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.submitsRefused() {
		return 0, newErr(ErrSubmitsDisabled, "submits are disabled")
	}

	now := time.Now()
	q.clients.Touch(node, session, address, RoleSubmitter, now, q.aff)
	grpID := q.grp.Intern(group)

	specs := make([]JobSpec, len(inputs))
	for i, input := range inputs {
		specs[i] = JobSpec{Input: input, GroupID: grpID, Expiration: now.Add(q.policy.EmptyLifetime)}
	}
	first := q.jobs.SubmitBatch(specs)
	for i := range specs {
		id := first + uint32(i)
		q.grp.RefJob(grpID)
		q.aff.AddPendingJob(NoAffinityID, id)
		q.appendDurable(ctx, id, "submit_batch")
		q.notifyWaiters(id, StatusPending, RoleWorker, now)
	}
	q.stats.submitted += uint64(len(specs))
	return first, nil
}

// notifyWaiters pings every parked waiter whose predicate now matches job
// jobID in status, then un-parks them: the notification is one-shot, the
// client is expected to re-issue GET/READ itself (section 4.7).
func (q *Queue) notifyWaiters(jobID uint32, status Status, role Role, now time.Time) {
	j := q.jobs.peek(jobID)
	if j == nil {
		return
	}
	for _, w := range q.waiters.Matching(j, status, role, q.aff, q.clients, now) {
		q.notifier.Notify(w.Host, w.Port, w.Node, q.Name, "get")
		q.stats.notified++
		for _, g := range w.WantedGroups {
			q.grp.UnrefWaiter(g)
		}
		q.waiters.Cancel(w.ID)
	}
}

// notifySubmitterAndListeners pushes a completion notification to the
// job's submitter callback and any still-live LISTEN subscribers (section
// 4.7/6.3). j is a snapshot taken before the status change that triggered
// this; its NotifTarget fields are unaffected by that change.
func (q *Queue) notifySubmitterAndListeners(j *Job, reason string) {
	now := time.Now()
	if j.SubmitterNotif.Port > 0 && j.SubmitterNotif.Deadline.After(now) {
		q.notifier.Notify(j.SubmitterNotif.Host, j.SubmitterNotif.Port, j.ClientSID, q.Name, reason)
		q.stats.notified++
	}
	for _, l := range j.ListenerNotif {
		if !l.Deadline.After(now) {
			continue
		}
		q.notifier.Notify(l.Host, l.Port, "", q.Name, reason)
		q.stats.notified++
	}
}

func (q *Queue) appendDurable(ctx context.Context, jobID uint32, transition string) {
	if err := q.durability.Append(ctx, DurabilityEvent{QueueName: q.Name, JobID: jobID, Payload: []byte(transition)}); err != nil {
		q.log.Warn("durability append failed", "job", jobID, "transition", transition, "error", err)
	}
}

// --- dispatch helpers shared by GET and READ ---------------------------

func (q *Queue) sourceJobs(status Status) []*Job {
	ids := q.jobs.IterByStatus(status)
	out := make([]*Job, 0, len(ids))
	for _, id := range ids {
		if j := q.jobs.peek(id); j != nil {
			out = append(out, j.Copy())
		}
	}
	return out
}

// DispatchOutcome is returned by GetJobOrWait/GetJobForReadingOrWait.
type DispatchOutcome struct {
	Job       *Job // nil if none available
	WaiterID  uint64 // non-zero if parked instead
	Paused    bool
}

// ResolveAffinities interns each non-empty name into the affinity
// registry and returns the resulting ids, for building a DispatchRequest
// from wire-level affinity name lists.
func (q *Queue) ResolveAffinities(names []string) []uint32 {
	if len(names) == 0 {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]uint32, 0, len(names))
	for _, n := range names {
		if n == "" {
			continue
		}
		out = append(out, q.aff.Intern(n))
	}
	return out
}

// ResolveGroups is ResolveAffinities for group tokens.
func (q *Queue) ResolveGroups(names []string) []uint32 {
	if len(names) == 0 {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]uint32, 0, len(names))
	for _, n := range names {
		if n == "" {
			continue
		}
		out = append(out, q.grp.Intern(n))
	}
	return out
}

// AffinityName resolves an interned affinity id back to its token, for
// rendering a Job's affinity on the wire.
func (q *Queue) AffinityName(id uint32) string {
	q.mu.Lock()
	defer q.mu.Unlock()
	name, _ := q.aff.Token(id)
	return name
}

// GroupName is AffinityName for group tokens.
func (q *Queue) GroupName(id uint32) string {
	q.mu.Lock()
	defer q.mu.Unlock()
	name, _ := q.grp.Token(id)
	return name
}

// GetJobOrWait implements GET/GET2/WGET (section 4.6/4.8).
func (q *Queue) GetJobOrWait(ctx context.Context, node, session, address string, req DispatchRequest, host string, port int, timeout time.Duration) (*DispatchOutcome, *Error) {
	return q.dispatchOrWait(ctx, node, session, address, RoleWorker, StatusPending, StatusRunning, req, host, port, timeout)
}

// GetJobForReadingOrWait implements READ/READ2 (section 4.6).
func (q *Queue) GetJobForReadingOrWait(ctx context.Context, node, session, address string, req DispatchRequest, host string, port int, timeout time.Duration) (*DispatchOutcome, *Error) {
	return q.dispatchOrWait(ctx, node, session, address, RoleReader, StatusDone, StatusReading, req, host, port, timeout)
}

func (q *Queue) dispatchOrWait(ctx context.Context, node, session, address string, role Role, fromStatus, toStatus Status, req DispatchRequest, host string, port int, timeout time.Duration) (*DispatchOutcome, *Error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	req.Now = now
	req.Node = node
	req.Role = role
	q.clients.Touch(node, session, address, role, now, q.aff)

	if q.pause != NoPause {
		if port > 0 && timeout > 0 {
			q.pauseTargets = append(q.pauseTargets, NotifTarget{Host: host, Port: port, Deadline: now.Add(timeout)})
		}
		return &DispatchOutcome{Paused: true}, nil
	}

	if verr := req.Validate(); verr != nil {
		return nil, verr
	}

	preferred := q.clients.PreferredAffinities(node, role)
	cand, derr := dispatch(q.sourceJobs(fromStatus), req, preferred, q.clients, q.aff)
	if derr != nil {
		return nil, derr
	}
	if cand != nil {
		job, err := q.commitDispatch(ctx, cand, role, fromStatus, toStatus, node, now)
		if err != nil {
			return nil, err
		}
		return &DispatchOutcome{Job: job}, nil
	}

	if timeout <= 0 || q.serverShutdown.Get() {
		return &DispatchOutcome{}, nil
	}

	w := &waiter{
		Node: node, Role: role, Host: host, Port: port, Deadline: now.Add(timeout),
		WantedAffinities: req.AffinityList, AnyAffinity: req.AnyAffinity,
		ExclusiveNewAff: req.ExclusiveNewAff, PrioritizedAff: req.PrioritizedAff,
		WantedGroups: req.GroupList,
	}
	id := q.waiters.Park(w)
	for _, g := range req.GroupList {
		q.grp.RefWaiter(g)
	}
	q.timeline.Schedule(w.Deadline, EventWaiterExpired, id, 0)
	return &DispatchOutcome{WaiterID: id}, nil
}

// commitDispatch performs the actual state transition for a matched
// candidate: issues an auth token, schedules the run/read timeout, and
// updates client preference bookkeeping for an exclusive_new_aff match.
func (q *Queue) commitDispatch(ctx context.Context, cand *candidate, role Role, fromStatus, toStatus Status, node string, now time.Time) (*Job, *Error) {
	token, terr := idgen.AuthToken()
	if terr != nil {
		return nil, newErr(ErrInternal, "generate auth token: %v", terr)
	}

	timeout := q.policy.RunTimeout
	if role == RoleReader {
		timeout = q.policy.ReadTimeout
	}
	deadline := now.Add(timeout)

	id := cand.job.ID
	ok := q.jobs.setStatus(id, fromStatus, toStatus, func(j *Job) {
		j.AuthToken = token
		j.HolderNode = node
		j.Events = append(j.Events, Event{Timestamp: now, Transition: string(toStatus), ClientNode: node})
		if role == RoleWorker {
			j.RunExpiration = deadline
			j.RunAttempts++
		} else {
			j.ReadExpiration = deadline
			j.ReadAttempts++
		}
	})
	if !ok {
		return nil, newErr(ErrTryAgain, "job %d changed state concurrently", id)
	}

	if fromStatus == StatusPending {
		q.aff.RemovePendingJob(cand.job.AffinityID, id)
	}

	gen := q.jobs.BumpGeneration(id)
	kind := EventRunExpired
	if role == RoleReader {
		kind = EventReadExpired
	}
	q.timeline.Schedule(deadline, kind, uint64(id), gen)

	if cand.exclusiveNew {
		q.clients.AddPreferredAffinityOnNewJob(node, role, cand.job.AffinityID, q.aff)
	}

	q.stats.dispatched++
	q.appendDurable(ctx, id, "dispatch:"+string(toStatus))
	return q.jobs.Get(id), nil
}

// CancelWaitGet/CancelWaitRead implement CWGET/CWREAD (section 4.7/5).
func (q *Queue) CancelWaitGet(waiterID uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cancelWaiterLocked(waiterID)
}

func (q *Queue) CancelWaitRead(waiterID uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cancelWaiterLocked(waiterID)
}

func (q *Queue) cancelWaiterLocked(waiterID uint64) {
	if w := q.waiters.Get(waiterID); w != nil {
		for _, g := range w.WantedGroups {
			q.grp.UnrefWaiter(g)
		}
	}
	q.waiters.Cancel(waiterID)
}

// --- PUT / FPUT / RETURN -----------------------------------------------

// PutResult implements PUT/PUT2 (Running -> Done).
func (q *Queue) PutResult(ctx context.Context, node string, jobID uint32, authToken string, output []byte, returnCode int) *Error {
	q.mu.Lock()
	defer q.mu.Unlock()

	j := q.jobs.peek(jobID)
	if j == nil {
		return newErr(ErrJobNotFound, "job %d not found", jobID)
	}
	if j.Status == StatusDone {
		return nil // idempotent double-PUT: treated as success per section 7 (no state change)
	}
	if j.Status != StatusRunning {
		return newErr(ErrInvalidJobStatus, "job %d is %s, not Running", jobID, j.Status)
	}
	if !idgen.Equal(j.AuthToken, authToken) {
		return newErr(ErrInvalidAuthToken, "auth token mismatch for job %d", jobID)
	}
	if q.policy.MaxOutputSize > 0 && len(output) > q.policy.MaxOutputSize {
		return newErr(ErrInvalidParameter, "output exceeds max_output_size")
	}

	now := time.Now()
	q.jobs.setStatus(jobID, StatusRunning, StatusDone, func(j *Job) {
		j.Output = append([]byte(nil), output...)
		j.ReturnCode = returnCode
		j.Events = append(j.Events, Event{Timestamp: now, Transition: "put", ClientNode: node})
	})
	q.stats.completed++
	q.appendDurable(ctx, jobID, "put")
	q.notifyWaiters(jobID, StatusDone, RoleReader, now)
	q.notifySubmitterAndListeners(j, "get")
	return nil
}

// PutFailure implements FPUT/FPUT2 (Running -> Failed, with retry policy).
func (q *Queue) PutFailure(ctx context.Context, node string, jobID uint32, authToken, errMsg string, output []byte, noRetries bool) *Error {
	q.mu.Lock()
	defer q.mu.Unlock()

	j := q.jobs.peek(jobID)
	if j == nil {
		return newErr(ErrJobNotFound, "job %d not found", jobID)
	}
	if j.Status == StatusFailed {
		return nil
	}
	if j.Status != StatusRunning {
		return newErr(ErrInvalidJobStatus, "job %d is %s, not Running", jobID, j.Status)
	}
	if !idgen.Equal(j.AuthToken, authToken) {
		return newErr(ErrInvalidAuthToken, "auth token mismatch for job %d", jobID)
	}

	now := time.Now()
	if !noRetries && j.RunAttempts < q.policy.FailedRetries {
		q.retryToPending(ctx, jobID, node, now, false, errMsg)
		return nil
	}
	q.jobs.setStatus(jobID, StatusRunning, StatusFailed, func(j *Job) {
		j.Output = append([]byte(nil), output...)
		j.Events = append(j.Events, Event{Timestamp: now, Transition: "fail", ClientNode: node, Err: errMsg})
	})
	q.stats.failed++
	q.appendDurable(ctx, jobID, "fail")
	return nil
}

// Return implements RETURN/RETURN2 (Running -> Pending, retry policy).
func (q *Queue) Return(ctx context.Context, node string, jobID uint32, authToken string, noBlacklist bool) *Error {
	q.mu.Lock()
	defer q.mu.Unlock()

	j := q.jobs.peek(jobID)
	if j == nil {
		return newErr(ErrJobNotFound, "job %d not found", jobID)
	}
	if j.Status != StatusRunning {
		return newErr(ErrInvalidJobStatus, "job %d is %s, not Running", jobID, j.Status)
	}
	if !idgen.Equal(j.AuthToken, authToken) {
		return newErr(ErrInvalidAuthToken, "auth token mismatch for job %d", jobID)
	}

	now := time.Now()
	if j.RunAttempts < q.policy.FailedRetries {
		q.retryToPending(ctx, jobID, node, now, noBlacklist, "")
		return nil
	}
	q.jobs.setStatus(jobID, StatusRunning, StatusFailed, func(j *Job) {
		j.Events = append(j.Events, Event{Timestamp: now, Transition: "return-exhausted", ClientNode: node})
	})
	q.stats.failed++
	q.appendDurable(ctx, jobID, "fail")
	return nil
}

// retryToPending implements the shared run-timeout/Return retry policy of
// section 4.9: back to Pending, worker blacklisted unless suppressed.
// Caller must hold q.mu.
func (q *Queue) retryToPending(ctx context.Context, jobID uint32, node string, now time.Time, noBlacklist bool, errMsg string) {
	var affID uint32
	q.jobs.setStatus(jobID, StatusRunning, StatusPending, func(j *Job) {
		affID = j.AffinityID
		j.AuthToken = ""
		j.Events = append(j.Events, Event{Timestamp: now, Transition: "run-timeout-retry", ClientNode: node, Err: errMsg})
	})
	q.aff.AddPendingJob(affID, jobID)
	if !noBlacklist && node != "" {
		q.clients.Blacklist(node, jobID, now.Add(q.policy.BlacklistTime))
	}
	q.appendDurable(ctx, jobID, "retry-pending")
	q.notifyWaiters(jobID, StatusPending, RoleWorker, now)
}

// Reschedule implements RESCHEDULE (section 6.1): moves a job back to
// Pending with a new affinity/group, from any status the transition table
// lets move to Pending (Running, Done, Failed, Canceled, Confirmed,
// ReadFailed).
func (q *Queue) Reschedule(ctx context.Context, jobID uint32, authToken, affinity, group string) *Error {
	q.mu.Lock()
	defer q.mu.Unlock()

	j := q.jobs.peek(jobID)
	if j == nil {
		return newErr(ErrJobNotFound, "job %d not found", jobID)
	}
	if j.Status != StatusRunning && !idgen.Equal(j.AuthToken, authToken) {
		return newErr(ErrInvalidAuthToken, "auth token mismatch for job %d", jobID)
	}
	from := j.Status
	if !canTransition(from, StatusPending) {
		return newErr(ErrInvalidJobStatus, "job %d is %s, cannot reschedule", jobID, from)
	}

	now := time.Now()
	newAff := q.aff.Intern(affinity)
	newGrp := q.grp.Intern(group)
	q.jobs.setStatus(jobID, from, StatusPending, func(j *Job) {
		j.AffinityID = newAff
		j.GroupID = newGrp
		j.AuthToken = ""
		j.Events = append(j.Events, Event{Timestamp: now, Transition: "reschedule"})
	})
	q.aff.AddPendingJob(newAff, jobID)
	q.appendDurable(ctx, jobID, "reschedule")
	q.notifyWaiters(jobID, StatusPending, RoleWorker, now)
	return nil
}

// Redo implements REDO (Done -> Pending, retains history).
func (q *Queue) Redo(ctx context.Context, jobID uint32) *Error {
	q.mu.Lock()
	defer q.mu.Unlock()

	j := q.jobs.peek(jobID)
	if j == nil {
		return newErr(ErrJobNotFound, "job %d not found", jobID)
	}
	if j.Status != StatusDone {
		return newErr(ErrInvalidJobStatus, "job %d is %s, not Done", jobID, j.Status)
	}
	now := time.Now()
	affID := j.AffinityID
	q.jobs.setStatus(jobID, StatusDone, StatusPending, func(j *Job) {
		j.AuthToken = ""
		j.Events = append(j.Events, Event{Timestamp: now, Transition: "redo"})
	})
	q.aff.AddPendingJob(affID, jobID)
	q.appendDurable(ctx, jobID, "redo")
	q.notifyWaiters(jobID, StatusPending, RoleWorker, now)
	return nil
}

// JobDelayExpiration implements JDEX: extends run_expiration. The
// generation bump invalidates the prior Timeline entry (section 5).
func (q *Queue) JobDelayExpiration(jobID uint32, extra time.Duration) *Error {
	q.mu.Lock()
	defer q.mu.Unlock()
	j := q.jobs.peek(jobID)
	if j == nil {
		return newErr(ErrJobNotFound, "job %d not found", jobID)
	}
	if j.Status != StatusRunning {
		return newErr(ErrInvalidJobStatus, "job %d is %s, not Running", jobID, j.Status)
	}
	newDeadline := time.Now().Add(extra)
	q.jobs.Mutate(jobID, func(j *Job) { j.RunExpiration = newDeadline })
	gen := q.jobs.BumpGeneration(jobID)
	q.timeline.Schedule(newDeadline, EventRunExpired, uint64(jobID), gen)
	return nil
}

// JobDelayReadExpiration implements JDREX, analogous to JobDelayExpiration
// for the Reading state.
func (q *Queue) JobDelayReadExpiration(jobID uint32, extra time.Duration) *Error {
	q.mu.Lock()
	defer q.mu.Unlock()
	j := q.jobs.peek(jobID)
	if j == nil {
		return newErr(ErrJobNotFound, "job %d not found", jobID)
	}
	if j.Status != StatusReading {
		return newErr(ErrInvalidJobStatus, "job %d is %s, not Reading", jobID, j.Status)
	}
	newDeadline := time.Now().Add(extra)
	q.jobs.Mutate(jobID, func(j *Job) { j.ReadExpiration = newDeadline })
	gen := q.jobs.BumpGeneration(jobID)
	q.timeline.Schedule(newDeadline, EventReadExpired, uint64(jobID), gen)
	return nil
}

// --- Reader-side transitions --------------------------------------------

// ConfirmReading implements CFRM (Reading -> Confirmed).
func (q *Queue) ConfirmReading(jobID uint32, authToken string) (*Warning, *Error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j := q.jobs.peek(jobID)
	if j == nil {
		return nil, newErr(ErrJobNotFound, "job %d not found", jobID)
	}
	if j.Status != StatusReading {
		return &Warning{Kind: WarnJobNotRead, Msg: "the job has not been read"}, nil
	}
	if !idgen.Equal(j.AuthToken, authToken) {
		return nil, newErr(ErrInvalidAuthToken, "auth token mismatch for job %d", jobID)
	}
	q.jobs.setStatus(jobID, StatusReading, StatusConfirmed, func(j *Job) {
		j.Events = append(j.Events, Event{Timestamp: time.Now(), Transition: "confirm"})
	})
	return nil, nil
}

// FailReading implements FRED (Reading -> ReadFailed, with retry policy).
func (q *Queue) FailReading(jobID uint32, authToken, errMsg string, noRetries bool) *Error {
	q.mu.Lock()
	defer q.mu.Unlock()
	j := q.jobs.peek(jobID)
	if j == nil {
		return newErr(ErrJobNotFound, "job %d not found", jobID)
	}
	if j.Status != StatusReading {
		return newErr(ErrInvalidJobStatus, "job %d is %s, not Reading", jobID, j.Status)
	}
	if !idgen.Equal(j.AuthToken, authToken) {
		return newErr(ErrInvalidAuthToken, "auth token mismatch for job %d", jobID)
	}
	now := time.Now()
	if !noRetries && j.ReadAttempts < q.policy.ReadFailedRetries {
		q.jobs.setStatus(jobID, StatusReading, StatusDone, func(j *Job) {
			j.AuthToken = ""
			j.Events = append(j.Events, Event{Timestamp: now, Transition: "read-retry", Err: errMsg})
		})
		q.notifyWaiters(jobID, StatusDone, RoleReader, now)
		return nil
	}
	q.jobs.setStatus(jobID, StatusReading, StatusReadFailed, func(j *Job) {
		j.Events = append(j.Events, Event{Timestamp: now, Transition: "fail-read", Err: errMsg})
	})
	return nil
}

// ReturnReading implements RDRB (Reading -> Done, rollback).
func (q *Queue) ReturnReading(jobID uint32, authToken string) *Error {
	q.mu.Lock()
	defer q.mu.Unlock()
	j := q.jobs.peek(jobID)
	if j == nil {
		return newErr(ErrJobNotFound, "job %d not found", jobID)
	}
	if j.Status != StatusReading {
		return newErr(ErrInvalidJobStatus, "job %d is %s, not Reading", jobID, j.Status)
	}
	if !idgen.Equal(j.AuthToken, authToken) {
		return newErr(ErrInvalidAuthToken, "auth token mismatch for job %d", jobID)
	}
	now := time.Now()
	q.jobs.setStatus(jobID, StatusReading, StatusDone, func(j *Job) {
		j.AuthToken = ""
		j.Events = append(j.Events, Event{Timestamp: now, Transition: "rollback"})
	})
	q.notifyWaiters(jobID, StatusDone, RoleReader, now)
	return nil
}

// RereadJob implements REREAD (Confirmed/ReadFailed -> Pending).
func (q *Queue) RereadJob(ctx context.Context, jobID uint32) *Error {
	q.mu.Lock()
	defer q.mu.Unlock()
	j := q.jobs.peek(jobID)
	if j == nil {
		return newErr(ErrJobNotFound, "job %d not found", jobID)
	}
	from := j.Status
	if from != StatusConfirmed && from != StatusReadFailed {
		return newErr(ErrInvalidJobStatus, "job %d is %s, cannot reread", jobID, from)
	}
	now := time.Now()
	affID := j.AffinityID
	q.jobs.setStatus(jobID, from, StatusPending, func(j *Job) {
		j.AuthToken = ""
		j.Events = append(j.Events, Event{Timestamp: now, Transition: "reread"})
	})
	q.aff.AddPendingJob(affID, jobID)
	q.appendDurable(ctx, jobID, "reread")
	q.notifyWaiters(jobID, StatusPending, RoleWorker, now)
	return nil
}

// --- Cancel ---------------------------------------------------------------

// Cancel implements CANCEL on a single job id (non-terminal -> Canceled).
// Returns a Warning if the job was already canceled/done/failed, per
// section 7/8 idempotence law.
func (q *Queue) Cancel(ctx context.Context, jobID uint32) (*Warning, *Error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.cancelLocked(ctx, jobID)
}

func (q *Queue) cancelLocked(ctx context.Context, jobID uint32) (*Warning, *Error) {
	j := q.jobs.peek(jobID)
	if j == nil {
		return nil, newErr(ErrJobNotFound, "job %d not found", jobID)
	}
	switch j.Status {
	case StatusCanceled:
		return &Warning{Kind: WarnJobAlreadyCanceled, Msg: "already canceled"}, nil
	case StatusDone:
		return &Warning{Kind: WarnJobAlreadyDone, Msg: "already done"}, nil
	case StatusFailed:
		return &Warning{Kind: WarnJobAlreadyFailed, Msg: "already failed"}, nil
	}
	if !canTransition(j.Status, StatusCanceled) {
		return nil, newErr(ErrInvalidJobStatus, "job %d is %s, cannot cancel", jobID, j.Status)
	}
	from := j.Status
	affID := j.AffinityID
	q.jobs.setStatus(jobID, from, StatusCanceled, func(j *Job) {
		j.Events = append(j.Events, Event{Timestamp: time.Now(), Transition: "cancel"})
	})
	if from == StatusPending {
		q.aff.RemovePendingJob(affID, jobID)
	}
	q.appendDurable(ctx, jobID, "cancel")
	return nil, nil
}

// CancelByFilter implements the group/affinity/status form of CANCEL.
func (q *Queue) CancelByFilter(ctx context.Context, status Status, affinity, group string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	var affFilter, grpFilter *uint32
	if affinity != "" {
		if id, ok := q.aff.Lookup(affinity); ok {
			affFilter = &id
		} else {
			return 0
		}
	}
	if group != "" {
		if id, ok := q.grp.Lookup(group); ok {
			grpFilter = &id
		} else {
			return 0
		}
	}

	var statuses []Status
	if status != "" {
		statuses = []Status{status}
	} else {
		statuses = []Status{StatusPending, StatusRunning, StatusDone, StatusReading}
	}

	n := 0
	for _, st := range statuses {
		for _, id := range q.jobs.IterByStatus(st) {
			j := q.jobs.peek(id)
			if j == nil {
				continue
			}
			if affFilter != nil && j.AffinityID != *affFilter {
				continue
			}
			if grpFilter != nil && j.GroupID != *grpFilter {
				continue
			}
			if _, err := q.cancelLocked(ctx, id); err == nil {
				n++
			}
		}
	}
	return n
}

// CancelAllJobs implements DROPQ/CANCELQ.
func (q *Queue) CancelAllJobs(ctx context.Context) int {
	return q.CancelByFilter(ctx, "", "", "")
}

// --- Status / progress / listeners ---------------------------------------

// Status implements STATUS/STATUS2/SST/SST2/WST/WST2: returns a copy of
// the job, or nil if not found (or past its retention grace window).
func (q *Queue) Status(jobID uint32) *Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	j := q.jobs.Get(jobID)
	if j == nil || j.Status == StatusDeleted {
		return nil
	}
	return j
}

// FastStatus returns only the job's status, for the lightweight
// FastStatus variants.
func (q *Queue) FastStatus(jobID uint32) (Status, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j := q.jobs.peek(jobID)
	if j == nil || j.Status == StatusDeleted {
		return "", false
	}
	return j.Status, true
}

// GetProgressMsg implements MGET.
func (q *Queue) GetProgressMsg(jobID uint32) (string, *Error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j := q.jobs.peek(jobID)
	if j == nil {
		return "", newErr(ErrJobNotFound, "job %d not found", jobID)
	}
	return j.ProgressMsg, nil
}

// PutProgressMsg implements MPUT.
func (q *Queue) PutProgressMsg(jobID uint32, msg string) *Error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.jobs.Mutate(jobID, func(j *Job) { j.ProgressMsg = msg }) {
		return newErr(ErrJobNotFound, "job %d not found", jobID)
	}
	return nil
}

// SetListener implements LISTEN: registers a third-party listener for
// state-change notifications on a single job.
func (q *Queue) SetListener(jobID uint32, host string, port int, timeout time.Duration) *Error {
	q.mu.Lock()
	defer q.mu.Unlock()
	deadline := time.Now().Add(timeout)
	ok := q.jobs.Mutate(jobID, func(j *Job) {
		j.ListenerNotif = append(j.ListenerNotif, NotifTarget{Host: host, Port: port, Deadline: deadline})
	})
	if !ok {
		return newErr(ErrJobNotFound, "job %d not found", jobID)
	}
	q.timeline.Schedule(deadline, EventListenerExpired, uint64(jobID), 0)
	return nil
}

// --- affinity / client preference commands --------------------------------

// ChangeAffinity implements CHAFF/CHRAFF: add/del the client's preferred
// affinity set for role.
func (q *Queue) ChangeAffinity(role Role, node string, add, del []string) *Error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.clients.IsComplete(node) {
		return newErr(ErrAccessDenied, "anonymous client cannot change preferred affinities")
	}
	adds := make([]uint32, len(add))
	for i, a := range add {
		adds[i] = q.aff.Intern(a)
	}
	dels := make([]uint32, len(del))
	for i, d := range del {
		dels[i] = q.aff.Intern(d)
	}
	q.clients.SetPreferredAffinities(node, role, adds, dels, q.aff)
	return nil
}

// SetAffinity implements SETAFF/SETRAFF: replaces the client's preferred
// affinity set outright.
func (q *Queue) SetAffinity(role Role, node string, affinities []string) *Error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.clients.IsComplete(node) {
		return newErr(ErrAccessDenied, "anonymous client cannot set preferred affinities")
	}
	current := q.clients.PreferredAffinities(node, role)
	dels := make([]uint32, 0, len(current))
	for aff := range current {
		dels = append(dels, aff)
	}
	adds := make([]uint32, len(affinities))
	for i, a := range affinities {
		adds[i] = q.aff.Intern(a)
	}
	q.clients.SetPreferredAffinities(node, role, nil, dels, q.aff)
	q.clients.SetPreferredAffinities(node, role, adds, nil, q.aff)
	return nil
}

// ClearWorkerNode implements CLRN.
func (q *Queue) ClearWorkerNode(node string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.clients.ClearWorkerNode(node, q.aff)
	q.waiters.CancelForNode(node)
}

// SetClientData records scope/address metadata for a client (used by the
// protocol layer's handshake).
func (q *Queue) SetClientData(node, session, address, scope string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.clients.Touch(node, session, address, RoleProgram, time.Now(), q.aff)
	if c := q.clients.Get(node); c != nil {
		c.Scope = scope
	}
}

// --- pause / resume / refuse submits --------------------------------------

// Pause implements QPAUSE.
func (q *Queue) Pause(pullback bool) *Warning {
	q.mu.Lock()
	defer q.mu.Unlock()
	mode := PauseWithoutPullback
	if pullback {
		mode = PauseWithPullback
	}
	if q.pause == mode {
		return &Warning{Kind: WarnQueueAlreadyPaused, Msg: "queue already paused"}
	}
	q.pause = mode
	return nil
}

// Resume implements QRESUME: notifies every parked pause-resume target.
func (q *Queue) Resume() *Warning {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pause == NoPause {
		return &Warning{Kind: WarnQueueNotPaused, Msg: "queue is not paused"}
	}
	q.pause = NoPause
	for _, t := range q.pauseTargets {
		q.notifier.Notify(t.Host, t.Port, q.Name, q.Name, "resume")
		q.stats.notified++
	}
	q.pauseTargets = nil
	return nil
}

// GetPauseStatus returns the current pause mode.
func (q *Queue) GetPauseStatus() PauseMode {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pause
}

// SetRefuseSubmits implements REFUSESUBMITS at the queue level.
func (q *Queue) SetRefuseSubmits(v bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.refuseSubmits = v
}

// StatsSnapshot returns a read-only copy of the queue's counters for
// internal/stats.
type StatsSnapshot struct {
	Submitted, Dispatched, Completed, Failed, Purged, Notified, RunTimeouts uint64
	PendingCount, RunningCount, DoneCount, ReadingCount                    int
	WaiterCount                                                            int
}

// Tick drains every Timeline entry due by now and applies the associated
// run/read-expiration, listener-expiration, or waiter-expiration action.
// The internal/server execution-watcher background task calls this on a
// fixed cadence (section 5).
func (q *Queue) Tick(ctx context.Context, now time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pause == PauseWithPullback {
		q.pullbackRunning(ctx, now)
	}
	for _, e := range q.timeline.PopDue(now) {
		switch e.kind {
		case EventRunExpired:
			q.handleRunExpired(ctx, uint32(e.targetID), e.generation, now)
		case EventReadExpired:
			q.handleReadExpired(ctx, uint32(e.targetID), e.generation, now)
		case EventWaiterExpired:
			q.cancelWaiterLocked(e.targetID)
		case EventListenerExpired:
			q.pruneListeners(uint32(e.targetID), now)
		case EventJobExpired:
			q.cancelLocked(ctx, uint32(e.targetID))
		}
	}
}

// pullbackRunning implements the PauseWithPullback mode of section 4.8:
// every currently-Running job is forced back to Pending at the next
// run-timeout check, independent of its own run_expiration deadline. This
// is an administrative action, not a worker failure, so the holder is not
// blacklisted and the retry stays outside the normal FailedRetries count.
func (q *Queue) pullbackRunning(ctx context.Context, now time.Time) {
	for _, jobID := range q.jobs.IterByStatus(StatusRunning) {
		q.retryToPending(ctx, jobID, "", now, true, "queue paused with pullback")
	}
}

// handleRunExpired applies the run-timeout retry policy of section 4.9. A
// stale entry (generation mismatch, or the job already left Running) is
// silently discarded: the job moved on through some other path before its
// timer fired.
func (q *Queue) handleRunExpired(ctx context.Context, jobID uint32, generation uint64, now time.Time) {
	j := q.jobs.peek(jobID)
	if j == nil || j.generation != generation || j.Status != StatusRunning {
		return
	}
	q.stats.runTimeouts++
	if j.RunAttempts < q.policy.FailedRetries {
		q.retryToPending(ctx, jobID, j.HolderNode, now, false, "run timeout")
		return
	}
	q.jobs.setStatus(jobID, StatusRunning, StatusFailed, func(j *Job) {
		j.Events = append(j.Events, Event{Timestamp: now, Transition: "run-timeout-exhausted"})
	})
	q.stats.failed++
	q.appendDurable(ctx, jobID, "fail")
}

// handleReadExpired is the Reading-side analogue of handleRunExpired
// (section 4.9: "read side is analogous").
func (q *Queue) handleReadExpired(ctx context.Context, jobID uint32, generation uint64, now time.Time) {
	j := q.jobs.peek(jobID)
	if j == nil || j.generation != generation || j.Status != StatusReading {
		return
	}
	if j.ReadAttempts < q.policy.ReadFailedRetries {
		q.jobs.setStatus(jobID, StatusReading, StatusDone, func(j *Job) {
			j.AuthToken = ""
			j.Events = append(j.Events, Event{Timestamp: now, Transition: "read-timeout-retry"})
		})
		q.notifyWaiters(jobID, StatusDone, RoleReader, now)
		return
	}
	q.jobs.setStatus(jobID, StatusReading, StatusReadFailed, func(j *Job) {
		j.Events = append(j.Events, Event{Timestamp: now, Transition: "read-timeout-exhausted"})
	})
	q.appendDurable(ctx, jobID, "fail-read")
}

// pruneListeners drops LISTEN subscriptions whose deadline has passed.
func (q *Queue) pruneListeners(jobID uint32, now time.Time) {
	q.jobs.Mutate(jobID, func(j *Job) {
		kept := j.ListenerNotif[:0]
		for _, l := range j.ListenerNotif {
			if l.Deadline.After(now) {
				kept = append(kept, l)
			}
		}
		j.ListenerNotif = kept
	})
}

// Purge implements the two-phase removal of section 4.1: terminal jobs
// past their expiration are mark-deleted, then deleted jobs past the
// configured grace period are physically removed. The internal/server
// purge background task calls this on a fixed cadence (section 5).
func (q *Queue) Purge(ctx context.Context, now time.Time) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, id := range q.jobs.IterTerminalPastExpiration(now) {
		j := q.jobs.peek(id)
		if j == nil || j.Status == StatusDeleted {
			continue
		}
		q.jobs.Remove(id, now)
		q.appendDurable(ctx, id, "mark-deleted")
		n++
	}
	for _, id := range q.jobs.IterDeletedPastGrace(now, q.policy.DeleteGrace) {
		j := q.jobs.peek(id)
		if j == nil {
			continue
		}
		if j.GroupID != NoGroupID {
			q.grp.UnrefJob(j.GroupID)
		}
		q.jobs.PhysicalDelete(id)
		n++
	}
	q.stats.purged += uint64(n)
	return n
}

// JobCount returns the number of live (non-physically-deleted) jobs,
// including those already mark-deleted but still in their grace window.
// Used by the Directory to decide when a tombstoned dynamic queue's purge
// has completed (section 4.10).
func (q *Queue) JobCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.jobs.Count()
}

func (q *Queue) StatsSnapshot() StatsSnapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	return StatsSnapshot{
		Submitted: q.stats.submitted, Dispatched: q.stats.dispatched,
		Completed: q.stats.completed, Failed: q.stats.failed, Purged: q.stats.purged,
		Notified: q.stats.notified, RunTimeouts: q.stats.runTimeouts,
		PendingCount: len(q.jobs.IterByStatus(StatusPending)),
		RunningCount: len(q.jobs.IterByStatus(StatusRunning)),
		DoneCount:    len(q.jobs.IterByStatus(StatusDone)),
		ReadingCount: len(q.jobs.IterByStatus(StatusReading)),
		WaiterCount:  q.waiters.Len(),
	}
}
