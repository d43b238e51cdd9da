package server

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/netschedule/netschedule/internal/protocol"
	"github.com/netschedule/netschedule/internal/queue"
)

// connState is the per-connection session: the queue selected at HELLO
// time plus the node/session/address identity every dispatch/put/cancel
// call needs (section 4.4's client identity model).
type connState struct {
	srv *Server

	q       *queue.Queue
	node    string
	session string
	address string
	role    queue.Role

	remoteHost string
}

// handleConn services one client connection until it disconnects or ctx
// is canceled. One goroutine per connection, in the teacher's net.Conn
// handling style; the queue's own coarse lock is what actually
// serializes state changes, not this loop.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		host = conn.RemoteAddr().String()
	}

	cs := &connState{srv: s, remoteHost: host}
	r := protocol.NewReader(conn)
	w := protocol.NewWriter(conn)

	for {
		if ctx.Err() != nil {
			return
		}
		req, err := r.ReadRequest()
		if err != nil {
			return
		}
		if req.Command == "QUIT" {
			_ = w.WriteOK()
			return
		}
		if err := cs.dispatch(ctx, req, w); err != nil {
			s.log.Debug("write response failed, closing connection", "error", err)
			return
		}
	}
}

// dispatch runs one request to completion and writes its response. A
// returned error means the connection write itself failed (caller closes
// the connection); protocol-level failures are always written as an
// ERR:/OK: line, never returned here.
func (cs *connState) dispatch(ctx context.Context, req protocol.Request, w *protocol.Writer) error {
	switch req.Command {
	case "HELLO":
		return cs.handleHello(req, w)
	case "SUBMIT":
		return cs.handleSubmit(ctx, req, w)
	case "BSUB":
		return cs.handleBatchSubmit(ctx, req, w)
	case "CANCEL":
		return cs.handleCancel(ctx, req, w)
	case "GET", "GET2", "WGET":
		return cs.handleGet(ctx, req, w)
	case "READ", "READ2":
		return cs.handleRead(ctx, req, w)
	case "PUT", "PUT2":
		return cs.handlePut(ctx, req, w)
	case "FPUT", "FPUT2":
		return cs.handleFPut(ctx, req, w)
	case "RETURN", "RETURN2":
		return cs.handleReturn(ctx, req, w)
	case "RESCHEDULE":
		return cs.handleReschedule(ctx, req, w)
	case "REDO":
		return cs.handleRedo(ctx, req, w)
	case "JDEX":
		return cs.handleDelayExpiration(req, w)
	case "JDREX":
		return cs.handleDelayReadExpiration(req, w)
	case "CFRM":
		return cs.handleConfirmReading(req, w)
	case "FRED":
		return cs.handleFailReading(req, w)
	case "RDRB":
		return cs.handleReturnReading(req, w)
	case "REREAD":
		return cs.handleReread(ctx, req, w)
	case "STATUS", "STATUS2":
		return cs.handleStatus(req, w)
	case "SST", "SST2":
		return cs.handleFastStatus(req, w)
	case "MGET":
		return cs.handleMGet(req, w)
	case "MPUT":
		return cs.handleMPut(req, w)
	case "LISTEN":
		return cs.handleListen(req, w)
	case "CHAFF":
		return cs.handleChangeAffinity(req, w, true)
	case "CHRAFF":
		return cs.handleChangeAffinity(req, w, false)
	case "SETAFF":
		return cs.handleSetAffinity(req, w, true)
	case "SETRAFF":
		return cs.handleSetAffinity(req, w, false)
	case "CWGET":
		return cs.handleCancelWait(req, w, true)
	case "CWREAD":
		return cs.handleCancelWait(req, w, false)
	case "QPAUSE":
		return cs.handlePause(req, w)
	case "QRESUME":
		return cs.handleResume(w)
	case "REFUSESUBMITS":
		return cs.handleRefuseSubmits(req, w)
	case "CLRN":
		return cs.handleClearNode(req, w)
	case "CANCELQ":
		return cs.handleCancelQueue(ctx, w)
	case "QCRE":
		return cs.handleQueueCreate(req, w)
	case "QDEL":
		return cs.handleQueueDelete(ctx, req, w)
	case "STAT":
		return cs.handleStat(req, w)
	default:
		return w.WriteErr(string(queue.ErrProtocolSyntax), "unknown command "+req.Command)
	}
}

func (cs *connState) requireQueue(w *protocol.Writer) (*queue.Queue, bool) {
	if cs.q == nil {
		_ = w.WriteErr(string(queue.ErrUnknownQueue), "no queue selected, send HELLO first")
		return nil, false
	}
	return cs.q, true
}

func writeQueueErr(w *protocol.Writer, e *queue.Error) error {
	return w.WriteErr(string(e.Kind), e.Msg)
}

func writeQueueWarnOrOK(w *protocol.Writer, warn *queue.Warning, fields ...string) error {
	if warn != nil {
		return w.WriteWarning(string(warn.Kind), warn.Msg)
	}
	return w.WriteOK(fields...)
}

// HELLO queue=<name> [node=...] [session=...] [role=...] selects the queue for
// the remainder of the connection and registers the client identity.
func (cs *connState) handleHello(req protocol.Request, w *protocol.Writer) error {
	name := req.ArgOr("queue", "")
	q, ok := cs.srv.dir.Get(name)
	if !ok {
		return w.WriteErr(string(queue.ErrUnknownQueue), name)
	}
	cs.q = q
	cs.node = req.ArgOr("node", "")
	cs.session = req.ArgOr("session", "")
	cs.address = req.ArgOr("address", cs.remoteHost)
	if role := req.ArgOr("role", ""); role != "" {
		cs.role = queue.Role(role)
	}
	q.SetClientData(cs.node, cs.session, cs.address, req.ArgOr("scope", ""))
	return w.WriteOK()
}

func (cs *connState) jobKey(id uint32) string {
	return protocol.JobKey{Prefix: cs.srv.prefix, ID: id, Port: cs.srv.port, Host: cs.srv.host}.String()
}

func parseJobID(cs *connState, raw string, w *protocol.Writer) (uint32, bool) {
	key, err := protocol.ParseJobKey(raw)
	if err == nil {
		if !key.BelongsTo(cs.srv.prefix, cs.srv.port, cs.srv.host) {
			_ = w.WriteErr(string(queue.ErrInvalidParameter), "job key names a different server")
			return 0, false
		}
		return key.ID, true
	}
	n, err2 := strconv.ParseUint(raw, 10, 32)
	if err2 != nil {
		_ = w.WriteErr(string(queue.ErrInvalidParameter), "malformed job id "+raw)
		return 0, false
	}
	return uint32(n), true
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func (cs *connState) handleSubmit(ctx context.Context, req protocol.Request, w *protocol.Writer) error {
	q, ok := cs.requireQueue(w)
	if !ok {
		return nil
	}
	timeout, _ := time.ParseDuration(req.ArgOr("notif_timeout", "0s"))
	port, _ := strconv.Atoi(req.ArgOr("port", "0"))
	id, err := q.Submit(ctx, queue.SubmitInput{
		Node:         cs.node,
		Session:      cs.session,
		Address:      cs.address,
		Input:        []byte(req.ArgOr("input", "")),
		Affinity:     req.ArgOr("aff", ""),
		Group:        req.ArgOr("group", ""),
		NotifHost:    req.ArgOr("ip", cs.remoteHost),
		NotifPort:    port,
		NotifTimeout: timeout,
		ClientIP:     req.ArgOr("ip", cs.remoteHost),
		ClientSID:    req.ArgOr("sid", ""),
		NCBIPhid:     req.ArgOr("ncbi_phid", ""),
	})
	if err != nil {
		return writeQueueErr(w, err)
	}
	return w.WriteOK(cs.jobKey(id))
}

// handleBatchSubmit implements BSUB as a single request line: the inputs
// argument is split on commas into one job per part, and every job in the
// batch shares one group (section 4.8's SubmitBatch). The multi-line
// BTCH/ENDB/ENDS framing is not handled, and an input cannot contain a
// comma.
func (cs *connState) handleBatchSubmit(ctx context.Context, req protocol.Request, w *protocol.Writer) error {
	q, ok := cs.requireQueue(w)
	if !ok {
		return nil
	}
	raw := req.ArgOr("inputs", "")
	var inputs [][]byte
	for _, part := range splitCSV(raw) {
		inputs = append(inputs, []byte(part))
	}
	first, err := q.SubmitBatch(ctx, cs.node, cs.session, cs.address, req.ArgOr("group", ""), inputs)
	if err != nil {
		return writeQueueErr(w, err)
	}
	return w.WriteOK(cs.jobKey(first), strconv.Itoa(len(inputs)))
}

func (cs *connState) handleCancel(ctx context.Context, req protocol.Request, w *protocol.Writer) error {
	q, ok := cs.requireQueue(w)
	if !ok {
		return nil
	}
	if raw := req.ArgOr("job_key", ""); raw != "" {
		id, ok := parseJobID(cs, raw, w)
		if !ok {
			return nil
		}
		warn, err := q.Cancel(ctx, id)
		if err != nil {
			return writeQueueErr(w, err)
		}
		return writeQueueWarnOrOK(w, warn)
	}
	status := queue.Status(req.ArgOr("status", string(queue.StatusPending)))
	n := q.CancelByFilter(ctx, status, req.ArgOr("aff", ""), req.ArgOr("group", ""))
	return w.WriteOK(strconv.Itoa(n))
}

func (cs *connState) dispatchRequestFromArgs(q *queue.Queue, req protocol.Request) queue.DispatchRequest {
	return queue.DispatchRequest{
		AffinityList:    q.ResolveAffinities(splitCSV(req.ArgOr("aff", ""))),
		AnyAffinity:     req.ArgOr("any_aff", "0") == "1",
		ExclusiveNewAff: req.ArgOr("exclusive_new_aff", "0") == "1",
		PrioritizedAff:  req.ArgOr("prioritized_aff", "0") == "1",
		GroupList:       q.ResolveGroups(splitCSV(req.ArgOr("group", ""))),
	}
}

func notifTargetFromArgs(req protocol.Request) (string, int, time.Duration) {
	port, _ := strconv.Atoi(req.ArgOr("port", "0"))
	timeout, _ := time.ParseDuration(req.ArgOr("timeout", "0s"))
	return req.ArgOr("ip", ""), port, timeout
}

func (cs *connState) renderJob(q *queue.Queue, j *queue.Job) []string {
	return []string{
		cs.jobKey(j.ID),
		string(j.Status),
		strconv.Itoa(len(j.Input)),
		string(j.Input),
		q.AffinityName(j.AffinityID),
		q.GroupName(j.GroupID),
	}
}

func (cs *connState) handleGet(ctx context.Context, req protocol.Request, w *protocol.Writer) error {
	q, ok := cs.requireQueue(w)
	if !ok {
		return nil
	}
	dreq := cs.dispatchRequestFromArgs(q, req)
	host, port, timeout := notifTargetFromArgs(req)
	out, err := q.GetJobOrWait(ctx, cs.node, cs.session, cs.address, dreq, host, port, timeout)
	if err != nil {
		return writeQueueErr(w, err)
	}
	if out.Job == nil {
		return w.WriteOK()
	}
	return w.WriteOK(cs.renderJob(q, out.Job)...)
}

func (cs *connState) handleRead(ctx context.Context, req protocol.Request, w *protocol.Writer) error {
	q, ok := cs.requireQueue(w)
	if !ok {
		return nil
	}
	dreq := cs.dispatchRequestFromArgs(q, req)
	host, port, timeout := notifTargetFromArgs(req)
	out, err := q.GetJobForReadingOrWait(ctx, cs.node, cs.session, cs.address, dreq, host, port, timeout)
	if err != nil {
		return writeQueueErr(w, err)
	}
	if out.Job == nil {
		return w.WriteOK()
	}
	fields := append(cs.renderJob(q, out.Job), string(out.Job.Status), out.Job.AuthToken)
	return w.WriteOK(fields...)
}

func (cs *connState) handlePut(ctx context.Context, req protocol.Request, w *protocol.Writer) error {
	q, ok := cs.requireQueue(w)
	if !ok {
		return nil
	}
	id, ok := parseJobID(cs, req.ArgOr("job_key", ""), w)
	if !ok {
		return nil
	}
	rc, _ := strconv.Atoi(req.ArgOr("rc", "0"))
	if err := q.PutResult(ctx, cs.node, id, req.ArgOr("auth_token", ""), []byte(req.ArgOr("output", "")), rc); err != nil {
		return writeQueueErr(w, err)
	}
	return w.WriteOK()
}

func (cs *connState) handleFPut(ctx context.Context, req protocol.Request, w *protocol.Writer) error {
	q, ok := cs.requireQueue(w)
	if !ok {
		return nil
	}
	id, ok := parseJobID(cs, req.ArgOr("job_key", ""), w)
	if !ok {
		return nil
	}
	noRetries := req.ArgOr("no_retries", "0") == "1"
	err := q.PutFailure(ctx, cs.node, id, req.ArgOr("auth_token", ""), req.ArgOr("err_msg", ""), []byte(req.ArgOr("output", "")), noRetries)
	if err != nil {
		return writeQueueErr(w, err)
	}
	return w.WriteOK()
}

func (cs *connState) handleReturn(ctx context.Context, req protocol.Request, w *protocol.Writer) error {
	q, ok := cs.requireQueue(w)
	if !ok {
		return nil
	}
	id, ok := parseJobID(cs, req.ArgOr("job_key", ""), w)
	if !ok {
		return nil
	}
	noBlacklist := req.ArgOr("no_blacklist", "0") == "1"
	if err := q.Return(ctx, cs.node, id, req.ArgOr("auth_token", ""), noBlacklist); err != nil {
		return writeQueueErr(w, err)
	}
	return w.WriteOK()
}

func (cs *connState) handleReschedule(ctx context.Context, req protocol.Request, w *protocol.Writer) error {
	q, ok := cs.requireQueue(w)
	if !ok {
		return nil
	}
	id, ok := parseJobID(cs, req.ArgOr("job_key", ""), w)
	if !ok {
		return nil
	}
	err := q.Reschedule(ctx, id, req.ArgOr("auth_token", ""), req.ArgOr("aff", ""), req.ArgOr("group", ""))
	if err != nil {
		return writeQueueErr(w, err)
	}
	return w.WriteOK()
}

func (cs *connState) handleRedo(ctx context.Context, req protocol.Request, w *protocol.Writer) error {
	q, ok := cs.requireQueue(w)
	if !ok {
		return nil
	}
	id, ok := parseJobID(cs, req.ArgOr("job_key", ""), w)
	if !ok {
		return nil
	}
	if err := q.Redo(ctx, id); err != nil {
		return writeQueueErr(w, err)
	}
	return w.WriteOK()
}

func (cs *connState) handleDelayExpiration(req protocol.Request, w *protocol.Writer) error {
	q, ok := cs.requireQueue(w)
	if !ok {
		return nil
	}
	id, ok := parseJobID(cs, req.ArgOr("job_key", ""), w)
	if !ok {
		return nil
	}
	extra, _ := time.ParseDuration(req.ArgOr("timeout", "0s"))
	if err := q.JobDelayExpiration(id, extra); err != nil {
		return writeQueueErr(w, err)
	}
	return w.WriteOK()
}

func (cs *connState) handleDelayReadExpiration(req protocol.Request, w *protocol.Writer) error {
	q, ok := cs.requireQueue(w)
	if !ok {
		return nil
	}
	id, ok := parseJobID(cs, req.ArgOr("job_key", ""), w)
	if !ok {
		return nil
	}
	extra, _ := time.ParseDuration(req.ArgOr("timeout", "0s"))
	if err := q.JobDelayReadExpiration(id, extra); err != nil {
		return writeQueueErr(w, err)
	}
	return w.WriteOK()
}

func (cs *connState) handleConfirmReading(req protocol.Request, w *protocol.Writer) error {
	q, ok := cs.requireQueue(w)
	if !ok {
		return nil
	}
	id, ok := parseJobID(cs, req.ArgOr("job_key", ""), w)
	if !ok {
		return nil
	}
	warn, err := q.ConfirmReading(id, req.ArgOr("auth_token", ""))
	if err != nil {
		return writeQueueErr(w, err)
	}
	return writeQueueWarnOrOK(w, warn)
}

func (cs *connState) handleFailReading(req protocol.Request, w *protocol.Writer) error {
	q, ok := cs.requireQueue(w)
	if !ok {
		return nil
	}
	id, ok := parseJobID(cs, req.ArgOr("job_key", ""), w)
	if !ok {
		return nil
	}
	noRetries := req.ArgOr("no_retries", "0") == "1"
	err := q.FailReading(id, req.ArgOr("auth_token", ""), req.ArgOr("err_msg", ""), noRetries)
	if err != nil {
		return writeQueueErr(w, err)
	}
	return w.WriteOK()
}

func (cs *connState) handleReturnReading(req protocol.Request, w *protocol.Writer) error {
	q, ok := cs.requireQueue(w)
	if !ok {
		return nil
	}
	id, ok := parseJobID(cs, req.ArgOr("job_key", ""), w)
	if !ok {
		return nil
	}
	if err := q.ReturnReading(id, req.ArgOr("auth_token", "")); err != nil {
		return writeQueueErr(w, err)
	}
	return w.WriteOK()
}

func (cs *connState) handleReread(ctx context.Context, req protocol.Request, w *protocol.Writer) error {
	q, ok := cs.requireQueue(w)
	if !ok {
		return nil
	}
	id, ok := parseJobID(cs, req.ArgOr("job_key", ""), w)
	if !ok {
		return nil
	}
	if err := q.RereadJob(ctx, id); err != nil {
		return writeQueueErr(w, err)
	}
	return w.WriteOK()
}

func (cs *connState) handleStatus(req protocol.Request, w *protocol.Writer) error {
	q, ok := cs.requireQueue(w)
	if !ok {
		return nil
	}
	id, ok := parseJobID(cs, req.ArgOr("job_key", ""), w)
	if !ok {
		return nil
	}
	key := q.Name + ":" + strconv.FormatUint(uint64(id), 10)
	v, _, _ := cs.srv.statusGroup.Do(key, func() (interface{}, error) {
		return q.Status(id), nil
	})
	j, _ := v.(*queue.Job)
	if j == nil {
		return w.WriteErr(string(queue.ErrJobNotFound), req.ArgOr("job_key", ""))
	}
	fields := append(cs.renderJob(q, j), strconv.Itoa(j.RunAttempts), strconv.Itoa(j.ReadAttempts))
	return w.WriteOK(fields...)
}

func (cs *connState) handleFastStatus(req protocol.Request, w *protocol.Writer) error {
	q, ok := cs.requireQueue(w)
	if !ok {
		return nil
	}
	id, ok := parseJobID(cs, req.ArgOr("job_key", ""), w)
	if !ok {
		return nil
	}
	status, found := q.FastStatus(id)
	if !found {
		return w.WriteErr(string(queue.ErrJobNotFound), req.ArgOr("job_key", ""))
	}
	return w.WriteOK(string(status))
}

func (cs *connState) handleMGet(req protocol.Request, w *protocol.Writer) error {
	q, ok := cs.requireQueue(w)
	if !ok {
		return nil
	}
	id, ok := parseJobID(cs, req.ArgOr("job_key", ""), w)
	if !ok {
		return nil
	}
	msg, err := q.GetProgressMsg(id)
	if err != nil {
		return writeQueueErr(w, err)
	}
	return w.WriteOK(msg)
}

func (cs *connState) handleMPut(req protocol.Request, w *protocol.Writer) error {
	q, ok := cs.requireQueue(w)
	if !ok {
		return nil
	}
	id, ok := parseJobID(cs, req.ArgOr("job_key", ""), w)
	if !ok {
		return nil
	}
	if err := q.PutProgressMsg(id, req.ArgOr("msg", "")); err != nil {
		return writeQueueErr(w, err)
	}
	return w.WriteOK()
}

func (cs *connState) handleListen(req protocol.Request, w *protocol.Writer) error {
	q, ok := cs.requireQueue(w)
	if !ok {
		return nil
	}
	id, ok := parseJobID(cs, req.ArgOr("job_key", ""), w)
	if !ok {
		return nil
	}
	host, port, timeout := notifTargetFromArgs(req)
	if host == "" {
		host = cs.remoteHost
	}
	if err := q.SetListener(id, host, port, timeout); err != nil {
		return writeQueueErr(w, err)
	}
	return w.WriteOK()
}

func (cs *connState) handleChangeAffinity(req protocol.Request, w *protocol.Writer, worker bool) error {
	q, ok := cs.requireQueue(w)
	if !ok {
		return nil
	}
	role := queue.RoleReader
	if worker {
		role = queue.RoleWorker
	}
	err := q.ChangeAffinity(role, cs.node, splitCSV(req.ArgOr("add", "")), splitCSV(req.ArgOr("del", "")))
	if err != nil {
		return writeQueueErr(w, err)
	}
	return w.WriteOK()
}

func (cs *connState) handleSetAffinity(req protocol.Request, w *protocol.Writer, worker bool) error {
	q, ok := cs.requireQueue(w)
	if !ok {
		return nil
	}
	role := queue.RoleReader
	if worker {
		role = queue.RoleWorker
	}
	if err := q.SetAffinity(role, cs.node, splitCSV(req.ArgOr("aff", ""))); err != nil {
		return writeQueueErr(w, err)
	}
	return w.WriteOK()
}

func (cs *connState) handleCancelWait(req protocol.Request, w *protocol.Writer, worker bool) error {
	q, ok := cs.requireQueue(w)
	if !ok {
		return nil
	}
	id, err := strconv.ParseUint(req.ArgOr("waiter_id", "0"), 10, 64)
	if err != nil {
		return w.WriteErr(string(queue.ErrInvalidParameter), "malformed waiter_id")
	}
	if worker {
		q.CancelWaitGet(id)
	} else {
		q.CancelWaitRead(id)
	}
	return w.WriteOK()
}

func (cs *connState) handlePause(req protocol.Request, w *protocol.Writer) error {
	q, ok := cs.requireQueue(w)
	if !ok {
		return nil
	}
	pullback := req.ArgOr("pullback", "1") == "1"
	return writeQueueWarnOrOK(w, q.Pause(pullback))
}

func (cs *connState) handleResume(w *protocol.Writer) error {
	q, ok := cs.requireQueue(w)
	if !ok {
		return nil
	}
	return writeQueueWarnOrOK(w, q.Resume())
}

func (cs *connState) handleRefuseSubmits(req protocol.Request, w *protocol.Writer) error {
	v := req.ArgOr("value", "1") == "1"
	if req.ArgOr("queue", "") != "" || cs.q != nil {
		q, ok := cs.requireQueue(w)
		if !ok {
			return nil
		}
		q.SetRefuseSubmits(v)
		return w.WriteOK()
	}
	cs.srv.dir.SetRefuseSubmits(v)
	return w.WriteOK()
}

func (cs *connState) handleClearNode(req protocol.Request, w *protocol.Writer) error {
	q, ok := cs.requireQueue(w)
	if !ok {
		return nil
	}
	q.ClearWorkerNode(req.ArgOr("node", cs.node))
	return w.WriteOK()
}

func (cs *connState) handleCancelQueue(ctx context.Context, w *protocol.Writer) error {
	q, ok := cs.requireQueue(w)
	if !ok {
		return nil
	}
	n := q.CancelAllJobs(ctx)
	return w.WriteOK(strconv.Itoa(n))
}

func (cs *connState) handleQueueCreate(req protocol.Request, w *protocol.Writer) error {
	name := req.ArgOr("qname", "")
	class := req.ArgOr("qclass", "")
	if _, err := cs.srv.dir.CreateDynamic(name, class, req.ArgOr("description", "")); err != nil {
		return w.WriteErr(string(queue.ErrInvalidParameter), err.Error())
	}
	return w.WriteOK()
}

func (cs *connState) handleQueueDelete(ctx context.Context, req protocol.Request, w *protocol.Writer) error {
	force := req.ArgOr("force", "0") == "1"
	if err := cs.srv.dir.DeleteDynamic(ctx, req.ArgOr("qname", ""), force); err != nil {
		return w.WriteErr(string(queue.ErrInvalidParameter), err.Error())
	}
	return w.WriteOK()
}

// handleStat implements the admin superset STAT command: a multi-line
// dump of one queue's counters, or every queue's if none is selected.
func (cs *connState) handleStat(req protocol.Request, w *protocol.Writer) error {
	names := []string{}
	if cs.q != nil {
		names = append(names, req.ArgOr("queue", cs.q.Name))
	}
	if len(names) == 0 || names[0] == "" {
		for _, info := range cs.srv.dir.List() {
			names = append(names, info.Name)
		}
	}
	var lines []string
	for _, name := range names {
		snap, ok := cs.srv.collector.Snapshot(name)
		if !ok {
			continue
		}
		lines = append(lines, fmt.Sprintf(
			"%s: pending=%d running=%d done=%d reading=%d waiters=%d submitted=%d dispatched=%d completed=%d failed=%d",
			name, snap.PendingCount, snap.RunningCount, snap.DoneCount, snap.ReadingCount, snap.WaiterCount,
			snap.Submitted, snap.Dispatched, snap.Completed, snap.Failed))
	}
	return w.WriteMultiline(lines)
}
