// Package durability implements the queue.Durability collaborator
// interface (spec section 6.5) on top of an embedded bbolt database: one
// bucket per queue, keyed by a monotonically increasing sequence so
// recovery replays events in append order.
package durability

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/hashicorp/go-msgpack/v2/codec"
	bolt "go.etcd.io/bbolt"

	"github.com/netschedule/netschedule/internal/queue"
)

var mpHandle codec.MsgpackHandle

// record is the on-disk wire shape of one durability event.
type record struct {
	JobID   uint32
	Payload []byte
}

// BoltStore is a queue.Durability implementation backed by bbolt.
type BoltStore struct {
	db *bolt.DB
}

// Open opens (creating if absent) the bbolt file at path.
func Open(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("durability: open %s: %w", path, err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error { return s.db.Close() }

// Append implements queue.Durability.
func (s *BoltStore) Append(_ context.Context, ev queue.DurabilityEvent) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(ev.QueueName))
		if err != nil {
			return fmt.Errorf("durability: create bucket %s: %w", ev.QueueName, err)
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		var buf bytes.Buffer
		if err := codec.NewEncoder(&buf, &mpHandle).Encode(record{JobID: ev.JobID, Payload: ev.Payload}); err != nil {
			return fmt.Errorf("durability: encode event for job %d: %w", ev.JobID, err)
		}
		return b.Put(seqKey(seq), buf.Bytes())
	})
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

// Snapshot copies the whole database to a side file and returns its path
// as the opaque handle (section 6.5: "the on-disk format itself is out of
// scope" beyond returning something that names the snapshot).
func (s *BoltStore) Snapshot(_ context.Context, queueName string) (string, error) {
	path := fmt.Sprintf("%s.snapshot-%d.bolt", queueName, time.Now().UnixNano())
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.CopyFile(path, 0600)
	})
	if err != nil {
		return "", fmt.Errorf("durability: snapshot %s: %w", queueName, err)
	}
	return path, nil
}

// Recover implements queue.Durability: it streams every event in a
// queue's bucket in append order over the returned channel, closing it
// when exhausted or when ctx is canceled.
func (s *BoltStore) Recover(ctx context.Context, queueName string) (<-chan queue.DurabilityEvent, error) {
	ch := make(chan queue.DurabilityEvent)
	go func() {
		defer close(ch)
		_ = s.db.View(func(tx *bolt.Tx) error {
			b := tx.Bucket([]byte(queueName))
			if b == nil {
				return nil
			}
			c := b.Cursor()
			for k, v := c.First(); k != nil; k, v = c.Next() {
				var rec record
				if err := codec.NewDecoderBytes(v, &mpHandle).Decode(&rec); err != nil {
					continue
				}
				select {
				case ch <- queue.DurabilityEvent{QueueName: queueName, JobID: rec.JobID, Payload: rec.Payload}:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			return nil
		})
	}()
	return ch, nil
}
