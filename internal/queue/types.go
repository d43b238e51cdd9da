// Package queue implements the NetSchedule queue engine: the in-memory
// authoritative job state machine, affinity/group dispatch, client
// registries, the expiration timeline, and waiter notification. Everything
// outside this package (wire codec, TCP/UDP transport, durable log,
// configuration, statistics) is an external collaborator reached only
// through the interfaces in collaborators.go.
package queue

import (
	"time"
)

// Status is one of the nine job lifecycle states of section 4.9.
type Status string

const (
	StatusPending    Status = "Pending"
	StatusRunning    Status = "Running"
	StatusCanceled   Status = "Canceled"
	StatusFailed     Status = "Failed"
	StatusDone       Status = "Done"
	StatusReading    Status = "Reading"
	StatusConfirmed  Status = "Confirmed"
	StatusReadFailed Status = "ReadFailed"
	StatusDeleted    Status = "Deleted"
)

// terminalForPurge reports whether a job in this status is eligible for
// the purge loop once past its expiration. Done is excluded: it awaits a
// Read.
func (s Status) terminalForPurge() bool {
	switch s {
	case StatusConfirmed, StatusCanceled, StatusReadFailed, StatusFailed, StatusDeleted:
		return true
	default:
		return false
	}
}

// Role is a client capability declared at handshake time.
type Role string

const (
	RoleSubmitter Role = "Submitter"
	RoleWorker    Role = "Worker"
	RoleReader    Role = "Reader"
	RoleAdmin     Role = "Admin"
	RoleProgram   Role = "Program"
)

// NoAffinityID and NoGroupID are the reserved ids for "no affinity" /
// "no group", interned at registry construction so id 0 is never a real
// token.
const (
	NoAffinityID uint32 = 0
	NoGroupID    uint32 = 0
)

// NotifTarget describes a push notification endpoint: a submitter
// completion callback or a listener subscription.
type NotifTarget struct {
	Host     string
	Port     int
	Deadline time.Time
	// LastEventIndex is carried on the target but not read anywhere:
	// every completion notification goes to every live target.
	LastEventIndex int
}

// Event is one entry in a Job's append-only transition log.
type Event struct {
	Timestamp   time.Time
	Transition  string
	ClientNode  string
	Err         string
}

// Job is the unit of work tracked by the queue. Owned exclusively by the
// Job Store (C1); all mutation goes through Queue/JobStore methods so the
// Status Matrix and registries stay consistent with it.
type Job struct {
	ID     uint32
	Status Status

	Input  []byte
	Output []byte

	AffinityID uint32
	GroupID    uint32
	Mask       uint32

	// ReturnCode is the worker-supplied job_return_code from PUT/PUT2,
	// distinct from Mask (the submitter-declared flag bitfield).
	ReturnCode int

	SubmitterNotif NotifTarget
	ListenerNotif  []NotifTarget

	AuthToken string

	Events []Event

	RunAttempts  int
	ReadAttempts int

	Expiration     time.Time
	RunExpiration  time.Time
	ReadExpiration time.Time

	ClientIP   string
	ClientSID  string
	NCBIPhid   string

	// HolderNode is the node currently holding the Running/Reading lease,
	// set on dispatch and consulted by the run-timeout watcher so an
	// expired lease blacklists the worker that let it expire.
	HolderNode string

	ProgressMsg string

	// generation is stamped on every Timeline-relevant change so stale
	// popped events can be discarded (lazy cancellation, section 4.5).
	generation uint64

	// deletedAt is set when the job enters the two-phase removal window
	// (section 4.1): index-removed but briefly retained for idempotent
	// client queries.
	deletedAt time.Time
}

// Copy returns a deep-enough copy of the job for safe return to callers
// outside the queue lock. Byte slices are copied; never aliased, per the
// shared-resource policy in section 5.
func (j *Job) Copy() *Job {
	cp := *j
	if j.Input != nil {
		cp.Input = append([]byte(nil), j.Input...)
	}
	if j.Output != nil {
		cp.Output = append([]byte(nil), j.Output...)
	}
	if j.ListenerNotif != nil {
		cp.ListenerNotif = append([]NotifTarget(nil), j.ListenerNotif...)
	}
	if j.Events != nil {
		cp.Events = append([]Event(nil), j.Events...)
	}
	return &cp
}

// BlacklistEntry is a per-client, per-job temporary dispatch ban.
type BlacklistEntry struct {
	JobID uint32
	Until time.Time
}

// Client is the per-session record owned by the Client Registry (C5).
type Client struct {
	Node    string
	Session string

	Address string
	Roles   map[Role]bool

	// PreferredAffinities is tracked separately per dispatch role, as
	// required by section 3 ("Worker and Reader tracked separately").
	PreferredAffinities map[Role]map[uint32]bool

	Blacklist map[uint32]time.Time

	Scope string

	LastActivity time.Time

	// complete clients supplied both node and session at handshake;
	// anonymous clients did not and may not rely on preferred affinities
	// (section 4.4).
	complete bool
}

func newClient(node, session, address string) *Client {
	return &Client{
		Node:                node,
		Session:             session,
		Address:             address,
		Roles:               make(map[Role]bool),
		PreferredAffinities: map[Role]map[uint32]bool{RoleWorker: {}, RoleReader: {}},
		Blacklist:           make(map[uint32]time.Time),
		complete:            node != "" && session != "",
		LastActivity:        time.Now(),
	}
}

func clientKey(node, session string) string {
	return node + "\x00" + session
}
