package queue

import "context"

// DurabilityEvent is one record appended to the durable log (section
// 6.5). The core never interprets Payload; it is opaque bytes produced
// and consumed by the external durability collaborator's own codec.
type DurabilityEvent struct {
	QueueName string
	JobID     uint32
	Payload   []byte
}

// Durability is the interface the core requires from the external
// durability collaborator (section 6.5). The on-disk format is out of
// scope for this package; internal/durability provides one concrete
// implementation.
type Durability interface {
	Append(ctx context.Context, ev DurabilityEvent) error
	Snapshot(ctx context.Context, queueName string) (handle string, err error)
	Recover(ctx context.Context, queueName string) (<-chan DurabilityEvent, error)
}

// NoopDurability discards everything. Used by tests and by a queue run
// with persistence disabled.
type NoopDurability struct{}

func (NoopDurability) Append(context.Context, DurabilityEvent) error { return nil }
func (NoopDurability) Snapshot(context.Context, string) (string, error) { return "", nil }
func (NoopDurability) Recover(context.Context, string) (<-chan DurabilityEvent, error) {
	ch := make(chan DurabilityEvent)
	close(ch)
	return ch, nil
}

// Notifier is the interface the core requires to push a UDP notification
// packet (section 6.3). internal/notify provides the concrete UDP sender;
// the core only needs to know who to tell.
type Notifier interface {
	Notify(host string, port int, nsNode, queueName, reason string)
}

// NoopNotifier discards everything. Used by tests.
type NoopNotifier struct{}

func (NoopNotifier) Notify(string, int, string, string, string) {}
