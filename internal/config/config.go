// Package config loads the server-level and queue-class configuration of
// spec section 4.12 from HCL, mirroring the teacher's agent configuration
// approach (hclsimple.DecodeFile against a typed struct tree).
package config

import (
	"fmt"
	"time"

	"github.com/hashicorp/hcl/v2/hclsimple"

	"github.com/netschedule/netschedule/internal/queue"
)

// QueueClass is the read-only template spec section 4.10 says every
// dynamic queue references, and every static queue declaration names
// directly. Durations are HCL strings ("10m", "1h") parsed by ToPolicy.
type QueueClass struct {
	Name                          string `hcl:"name,label"`
	RunTimeout                    string `hcl:"run_timeout,optional"`
	ReadTimeout                   string `hcl:"read_timeout,optional"`
	FailedRetries                 int    `hcl:"failed_retries,optional"`
	ReadFailedRetries             int    `hcl:"read_failed_retries,optional"`
	BlacklistTime                 string `hcl:"blacklist_time,optional"`
	EmptyLifetime                 string `hcl:"empty_lifetime,optional"`
	MaxInputSize                  int    `hcl:"max_input_size,optional"`
	MaxOutputSize                 int    `hcl:"max_output_size,optional"`
	DeleteGrace                   string `hcl:"delete_grace,optional"`
	AllowCrossQueueProgressLookup bool   `hcl:"allow_cross_queue_progress_lookup,optional"`
}

func (qc *QueueClass) setDefaults() {
	if qc.RunTimeout == "" {
		qc.RunTimeout = "10m"
	}
	if qc.ReadTimeout == "" {
		qc.ReadTimeout = "10m"
	}
	if qc.FailedRetries <= 0 {
		qc.FailedRetries = 3
	}
	if qc.ReadFailedRetries <= 0 {
		qc.ReadFailedRetries = 3
	}
	if qc.BlacklistTime == "" {
		qc.BlacklistTime = "5m"
	}
	if qc.EmptyLifetime == "" {
		qc.EmptyLifetime = "1h"
	}
	if qc.MaxInputSize <= 0 {
		qc.MaxInputSize = 1 << 20
	}
	if qc.MaxOutputSize <= 0 {
		qc.MaxOutputSize = 1 << 20
	}
	if qc.DeleteGrace == "" {
		qc.DeleteGrace = "1m"
	}
}

// ToPolicy converts the class into the mutable queue.Policy a Directory
// copies onto each Queue it creates from this class (section 4.10/4.12).
func (qc QueueClass) ToPolicy() (queue.Policy, error) {
	durs := map[string]*time.Duration{}
	p := queue.Policy{
		FailedRetries:                 qc.FailedRetries,
		ReadFailedRetries:             qc.ReadFailedRetries,
		MaxInputSize:                  qc.MaxInputSize,
		MaxOutputSize:                 qc.MaxOutputSize,
		AllowCrossQueueProgressLookup: qc.AllowCrossQueueProgressLookup,
	}
	durs["run_timeout"] = &p.RunTimeout
	durs["read_timeout"] = &p.ReadTimeout
	durs["blacklist_time"] = &p.BlacklistTime
	durs["empty_lifetime"] = &p.EmptyLifetime
	durs["delete_grace"] = &p.DeleteGrace

	raw := map[string]string{
		"run_timeout": qc.RunTimeout, "read_timeout": qc.ReadTimeout,
		"blacklist_time": qc.BlacklistTime, "empty_lifetime": qc.EmptyLifetime,
		"delete_grace": qc.DeleteGrace,
	}
	for field, s := range raw {
		d, err := time.ParseDuration(s)
		if err != nil {
			return queue.Policy{}, fmt.Errorf("config: queue class %q: invalid %s %q: %w", qc.Name, field, s, err)
		}
		*durs[field] = d
	}
	return p, nil
}

// QueueConfig declares a static queue bound to a class at startup
// (section 4.10: "static queues from configuration").
type QueueConfig struct {
	Name        string `hcl:"name,label"`
	Class       string `hcl:"class"`
	Description string `hcl:"description,optional"`
}

// ServerConfig is the top-level HCL document.
type ServerConfig struct {
	ListenAddr     string       `hcl:"listen_addr,optional"`
	NotifyBindAddr string       `hcl:"notify_bind_addr,optional"`
	DurabilityPath string       `hcl:"durability_path,optional"`
	WorkerPoolSize int          `hcl:"worker_pool_size,optional"`
	ServerPrefix   string       `hcl:"server_prefix,optional"`
	Classes        []QueueClass  `hcl:"queue_class,block"`
	Queues         []QueueConfig `hcl:"queue,block"`
	// server_prefix, when unset, is generated at startup via idgen.ServerPrefix.
}

// Load decodes and validates the server configuration at path.
func Load(path string) (*ServerConfig, error) {
	var cfg ServerConfig
	if err := hclsimple.DecodeFile(path, nil, &cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *ServerConfig) setDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":9001"
	}
	if c.NotifyBindAddr == "" {
		c.NotifyBindAddr = ":9002"
	}
	if c.DurabilityPath == "" {
		c.DurabilityPath = "netschedule.bolt"
	}
	if c.WorkerPoolSize <= 0 {
		c.WorkerPoolSize = 8
	}
	for i := range c.Classes {
		c.Classes[i].setDefaults()
	}
}

// Validate checks cross-references between queues and classes (section
// 4.10: every static/dynamic queue must name a known class).
func (c *ServerConfig) Validate() error {
	seen := make(map[string]bool, len(c.Classes))
	for _, cl := range c.Classes {
		if seen[cl.Name] {
			return fmt.Errorf("config: duplicate queue class %q", cl.Name)
		}
		seen[cl.Name] = true
	}
	for _, q := range c.Queues {
		if !seen[q.Class] {
			return fmt.Errorf("config: queue %q references unknown class %q", q.Name, q.Class)
		}
	}
	return nil
}
