package server

import (
	"context"

	"github.com/hashicorp/go-hclog"

	"github.com/netschedule/netschedule/internal/queue"
)

// notifyJob is one queued UDP send.
type notifyJob struct {
	host, nsNode, queueName, reason string
	port                            int
}

// AsyncNotifier wraps an underlying queue.Notifier with a bounded queue
// and a small worker pool, so a slow or unreachable peer's UDP send never
// blocks a queue's coarse lock. This is the "Notification" background
// task spec section 5 names as distinct from Purge/Execution-watcher/
// Service.
type AsyncNotifier struct {
	underlying queue.Notifier
	log        hclog.Logger
	jobs       chan notifyJob
	workers    int
}

// NewAsyncNotifier wraps underlying with a queue of the given depth,
// drained by workers goroutines once Run is called.
func NewAsyncNotifier(underlying queue.Notifier, workers, queueDepth int, log hclog.Logger) *AsyncNotifier {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	if workers <= 0 {
		workers = 4
	}
	if queueDepth <= 0 {
		queueDepth = 1024
	}
	return &AsyncNotifier{
		underlying: underlying,
		log:        log.Named("notify.async"),
		jobs:       make(chan notifyJob, queueDepth),
		workers:    workers,
	}
}

// Notify implements queue.Notifier. A full queue drops the notification
// rather than blocking the caller's coarse lock; per section 6.3 there is
// no acknowledgement, so a drop only delays the waiter until its own
// expiration retry, never corrupts state.
func (n *AsyncNotifier) Notify(host string, port int, nsNode, queueName, reason string) {
	select {
	case n.jobs <- notifyJob{host: host, port: port, nsNode: nsNode, queueName: queueName, reason: reason}:
	default:
		n.log.Warn("notification queue full, dropping", "host", host, "port", port, "queue", queueName)
	}
}

// Run drains the queue across the configured number of workers until ctx
// is canceled.
func (n *AsyncNotifier) Run(ctx context.Context) error {
	done := make(chan struct{})
	for i := 0; i < n.workers; i++ {
		go n.worker(ctx, done)
	}
	<-ctx.Done()
	for i := 0; i < n.workers; i++ {
		<-done
	}
	return nil
}

func (n *AsyncNotifier) worker(ctx context.Context, done chan<- struct{}) {
	defer func() { done <- struct{}{} }()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-n.jobs:
			n.underlying.Notify(job.host, job.port, job.nsNode, job.queueName, job.reason)
		}
	}
}
