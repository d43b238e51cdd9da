package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestQueueClassToPolicyDefaults(t *testing.T) {
	qc := QueueClass{Name: "default"}
	qc.setDefaults()
	p, err := qc.ToPolicy()
	require.NoError(t, err)
	require.Equal(t, 3, p.FailedRetries)
	require.EqualValues(t, 1<<20, p.MaxInputSize)
}

func TestQueueClassToPolicyInvalidDuration(t *testing.T) {
	qc := QueueClass{Name: "bad", RunTimeout: "not-a-duration"}
	qc.setDefaults()
	_, err := qc.ToPolicy()
	require.Error(t, err)
}

func TestValidateCatchesUnknownClass(t *testing.T) {
	cfg := &ServerConfig{
		Classes: []QueueClass{{Name: "default"}},
		Queues:  []QueueConfig{{Name: "q1", Class: "missing"}},
	}
	require.Error(t, cfg.Validate())
}

func TestValidateCatchesDuplicateClass(t *testing.T) {
	cfg := &ServerConfig{
		Classes: []QueueClass{{Name: "dup"}, {Name: "dup"}},
	}
	require.Error(t, cfg.Validate())
}

func TestLoadAppliesDefaultsAndValidates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "netschedule.hcl")
	body := `
listen_addr = ":9101"

queue_class "default" {
  run_timeout = "5m"
}

queue "jobs" {
  class = "default"
}
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9101", cfg.ListenAddr)
	require.Len(t, cfg.Classes, 1)
	require.Equal(t, "default", cfg.Classes[0].Name)
	require.Equal(t, 8, cfg.WorkerPoolSize)
}

func TestLoadRejectsUnknownClassReference(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "netschedule.hcl")
	body := `
queue "jobs" {
  class = "nonexistent"
}
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))

	_, err := Load(path)
	require.Error(t, err)
}
