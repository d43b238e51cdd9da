package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
)

// QueueInfo is the read-only descriptor the Directory keeps for every
// queue, static or dynamic (section 4.10).
type QueueInfo struct {
	Name        string
	ClassName   string
	Description string
	Static      bool
}

// DirectoryOptions configures a new Directory.
type DirectoryOptions struct {
	Durability Durability
	Notifier   Notifier
	Logger     hclog.Logger
}

// Directory is C10: the map of queue name to Queue, plus dynamic
// create/delete and the queue-class template registry (section 4.10). It
// also owns the two server-wide atomic flags (refuse_submits, shutting
// down) named in spec.md section 9's "Global mutable state" design note;
// every Queue it creates shares pointers to these flags so a server-wide
// REFUSESUBMITS or shutdown takes effect without walking every queue.
type Directory struct {
	mu sync.RWMutex

	queues   map[string]*Queue
	draining map[string]*Queue // tombstoned dynamic queues awaiting their own purge to finish
	info     map[string]QueueInfo
	classes  map[string]Policy

	durability Durability
	notifier   Notifier
	log        hclog.Logger

	serverRefuse   *serverFlag
	serverShutdown *serverFlag
}

// NewDirectory constructs an empty Directory. Call RegisterClass for every
// configured queue class before calling CreateStatic/CreateDynamic.
func NewDirectory(opts DirectoryOptions) *Directory {
	if opts.Durability == nil {
		opts.Durability = NoopDurability{}
	}
	if opts.Notifier == nil {
		opts.Notifier = NoopNotifier{}
	}
	if opts.Logger == nil {
		opts.Logger = hclog.NewNullLogger()
	}
	return &Directory{
		queues:         map[string]*Queue{},
		draining:       map[string]*Queue{},
		info:           map[string]QueueInfo{},
		classes:        map[string]Policy{},
		durability:     opts.Durability,
		notifier:       opts.Notifier,
		log:            opts.Logger.Named("directory"),
		serverRefuse:   newServerFlag(),
		serverShutdown: newServerFlag(),
	}
}

// RegisterClass installs or replaces a named queue-class template
// (section 4.10: "each dynamic queue references a queue-class template").
func (d *Directory) RegisterClass(name string, policy Policy) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.classes[name] = policy
}

// CreateStatic installs a queue declared in the server's configuration
// file. Static queues are never deletable at runtime (section 4.10).
func (d *Directory) CreateStatic(name, className, description string) (*Queue, error) {
	return d.create(name, className, description, true)
}

// CreateDynamic implements QCRE: creates a queue referencing an existing
// class, rejecting the name while it is tombstoned from a prior delete
// whose purge has not yet completed (section 4.10).
func (d *Directory) CreateDynamic(name, className, description string) (*Queue, error) {
	return d.create(name, className, description, false)
}

func (d *Directory) create(name, className, description string, static bool) (*Queue, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, busy := d.draining[name]; busy {
		return nil, fmt.Errorf("queue %q name reserved pending purge completion", name)
	}
	if _, exists := d.queues[name]; exists {
		return nil, fmt.Errorf("queue %q already exists", name)
	}
	policy, ok := d.classes[className]
	if !ok {
		return nil, fmt.Errorf("unknown queue class %q", className)
	}

	q := newQueue(Options{
		Name:           name,
		Policy:         policy,
		Durability:     d.durability,
		Notifier:       d.notifier,
		Logger:         d.log,
		ServerRefuse:   d.serverRefuse,
		ServerShutdown: d.serverShutdown,
	})
	d.queues[name] = q
	d.info[name] = QueueInfo{Name: name, ClassName: className, Description: description, Static: static}
	d.log.Info("queue created", "name", name, "class", className, "static", static)
	return q, nil
}

// DeleteDynamic implements QDEL: refuses a queue with non-terminal jobs
// unless force is set, in which case those jobs are canceled first. The
// queue's name is tombstoned until a subsequent Purge sweep observes it
// holding zero jobs (section 4.10: "name may not be reused until its
// purge completes").
func (d *Directory) DeleteDynamic(ctx context.Context, name string, force bool) error {
	d.mu.Lock()
	q, ok := d.queues[name]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("unknown queue %q", name)
	}
	if d.info[name].Static {
		d.mu.Unlock()
		return fmt.Errorf("queue %q is static and cannot be deleted", name)
	}
	snap := q.StatsSnapshot()
	active := snap.PendingCount + snap.RunningCount + snap.DoneCount + snap.ReadingCount
	if active > 0 && !force {
		d.mu.Unlock()
		return fmt.Errorf("queue %q has %d active jobs; retry with force", name, active)
	}
	q.SetRefuseSubmits(true)
	delete(d.queues, name)
	d.draining[name] = q
	d.mu.Unlock()

	if force {
		q.CancelAllJobs(ctx)
	}
	d.log.Info("queue tombstoned pending purge", "name", name, "forced", force)
	return nil
}

// Get returns the named queue, or nil if it does not exist or is
// tombstoned and draining.
func (d *Directory) Get(name string) (*Queue, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	q, ok := d.queues[name]
	return q, ok
}

// List returns every live queue's info, ordered by name.
func (d *Directory) List() []QueueInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]QueueInfo, 0, len(d.info))
	for name := range d.queues {
		out = append(out, d.info[name])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// SetRefuseSubmits toggles the server-wide REFUSESUBMITS flag, affecting
// every queue immediately without iterating them.
func (d *Directory) SetRefuseSubmits(v bool) {
	d.serverRefuse.Set(v)
}

// RefuseSubmits reports the current server-wide flag.
func (d *Directory) RefuseSubmits() bool {
	return d.serverRefuse.Get()
}

// SetShuttingDown marks the server as draining for shutdown: submits are
// refused and GET/READ return immediately instead of parking, matching
// the ShuttingDown error kind of section 6.4.
func (d *Directory) SetShuttingDown(v bool) {
	d.serverShutdown.Set(v)
}

func (d *Directory) ShuttingDown() bool {
	return d.serverShutdown.Get()
}

// snapshot returns every currently tracked queue (live and draining), for
// the background tasks to iterate without holding the Directory lock
// across each queue's own Tick/Purge call.
func (d *Directory) snapshot() []*Queue {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*Queue, 0, len(d.queues)+len(d.draining))
	for _, q := range d.queues {
		out = append(out, q)
	}
	for _, q := range d.draining {
		out = append(out, q)
	}
	return out
}

// Tick drives the execution-watcher background task (section 5) across
// every queue.
func (d *Directory) Tick(ctx context.Context, now time.Time) {
	for _, q := range d.snapshot() {
		q.Tick(ctx, now)
	}
}

// Purge drives the purge background task (section 5) across every queue,
// and additionally releases any tombstoned dynamic queue whose purge has
// driven its job count to zero.
func (d *Directory) Purge(ctx context.Context, now time.Time) int {
	total := 0
	for _, q := range d.snapshot() {
		total += q.Purge(ctx, now)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for name, q := range d.draining {
		if q.JobCount() == 0 {
			delete(d.draining, name)
			delete(d.info, name)
			d.log.Info("queue purge complete, name released", "name", name)
		}
	}
	return total
}
