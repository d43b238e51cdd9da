// Package stats exposes the statistics/admin surface of spec section
// 4.13: periodic counters sampled into a go-metrics sink, plus a snapshot
// accessor for the admin-only STAT wire command.
package stats

import (
	"time"

	"github.com/hashicorp/go-metrics"

	"github.com/netschedule/netschedule/internal/queue"
)

// Collector samples every queue in a Directory into a go-metrics sink on
// a cadence driven by internal/server's Service background task.
type Collector struct {
	sink *metrics.InmemSink
	dir  *queue.Directory
}

// New wires a Collector to dir, installing an in-memory metrics sink as
// the process-global default (matching the teacher's telemetry setup:
// one global sink, gauges/counters recorded from anywhere via the
// package-level metrics.* helpers).
func New(dir *queue.Directory) (*Collector, error) {
	sink := metrics.NewInmemSink(10*time.Second, 5*time.Minute)
	cfg := metrics.DefaultConfig("netschedule")
	cfg.EnableHostname = false
	if _, err := metrics.NewGlobal(cfg, sink); err != nil {
		return nil, err
	}
	return &Collector{sink: sink, dir: dir}, nil
}

// Sample records one round of per-queue gauges. Called periodically by
// internal/server's Service task (spec section 5's fourth background
// thread).
func (c *Collector) Sample() {
	for _, info := range c.dir.List() {
		q, ok := c.dir.Get(info.Name)
		if !ok {
			continue
		}
		snap := q.StatsSnapshot()
		labels := []metrics.Label{{Name: "queue", Value: info.Name}}
		metrics.SetGaugeWithLabels([]string{"netschedule", "jobs", "pending"}, float32(snap.PendingCount), labels)
		metrics.SetGaugeWithLabels([]string{"netschedule", "jobs", "running"}, float32(snap.RunningCount), labels)
		metrics.SetGaugeWithLabels([]string{"netschedule", "jobs", "done"}, float32(snap.DoneCount), labels)
		metrics.SetGaugeWithLabels([]string{"netschedule", "jobs", "reading"}, float32(snap.ReadingCount), labels)
		metrics.SetGaugeWithLabels([]string{"netschedule", "waiters"}, float32(snap.WaiterCount), labels)
		metrics.SetGaugeWithLabels([]string{"netschedule", "submitted"}, float32(snap.Submitted), labels)
		metrics.SetGaugeWithLabels([]string{"netschedule", "dispatched"}, float32(snap.Dispatched), labels)
		metrics.SetGaugeWithLabels([]string{"netschedule", "completed"}, float32(snap.Completed), labels)
		metrics.SetGaugeWithLabels([]string{"netschedule", "failed"}, float32(snap.Failed), labels)
		metrics.SetGaugeWithLabels([]string{"netschedule", "purged"}, float32(snap.Purged), labels)
		metrics.SetGaugeWithLabels([]string{"netschedule", "notified"}, float32(snap.Notified), labels)
		metrics.SetGaugeWithLabels([]string{"netschedule", "run_timeouts"}, float32(snap.RunTimeouts), labels)
	}
}

// QueueStats is the snapshot shape returned to the STAT wire command.
type QueueStats = queue.StatsSnapshot

// Snapshot returns the named queue's current counters.
func (c *Collector) Snapshot(name string) (QueueStats, bool) {
	q, ok := c.dir.Get(name)
	if !ok {
		return QueueStats{}, false
	}
	return q.StatsSnapshot(), true
}

// IntervalData returns the sink's aggregated interval buckets, for a
// richer admin dump than the single-queue Snapshot.
func (c *Collector) IntervalData() []*metrics.IntervalMetrics {
	return c.sink.Data()
}
