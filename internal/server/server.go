// Package server owns the TCP accept loop, per-connection command
// dispatch, and the four background tasks of spec section 5 (Purge,
// Notification, Execution-watcher, Service), coordinated with
// golang.org/x/sync/errgroup over a shared context.
package server

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/netschedule/netschedule/internal/config"
	"github.com/netschedule/netschedule/internal/idgen"
	"github.com/netschedule/netschedule/internal/queue"
	"github.com/netschedule/netschedule/internal/stats"
)

// Server is the process-level object: one TCP listener, one Directory of
// queues, one statistics collector, one notification pipeline.
type Server struct {
	log       hclog.Logger
	dir       *queue.Directory
	collector *stats.Collector
	notifier  *AsyncNotifier

	// statusGroup collapses concurrent STATUS/STATUS2 lookups for the same
	// queue+job key into one Queue.Status call, for the thundering-herd
	// poll pattern where many clients watch the same job.
	statusGroup singleflight.Group

	listenAddr string
	host       string
	port       int
	prefix     string

	execInterval    time.Duration
	purgeInterval   time.Duration
	serviceInterval time.Duration
}

// New builds a Server from a loaded configuration, an already-wired
// Directory (the caller registers queue classes and static queues onto it
// before calling Run, using the same notifier passed here so every queue
// shares the one async notification pipeline), and that notifier.
func New(cfg *config.ServerConfig, dir *queue.Directory, asyncNotifier *AsyncNotifier, log hclog.Logger) (*Server, error) {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	host, portStr, err := net.SplitHostPort(cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("server: parse listen_addr %q: %w", cfg.ListenAddr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("server: listen_addr %q has non-numeric port: %w", cfg.ListenAddr, err)
	}
	if host == "" {
		host = "0.0.0.0"
	}

	prefix := cfg.ServerPrefix
	if prefix == "" {
		prefix, err = idgen.ServerPrefix()
		if err != nil {
			return nil, fmt.Errorf("server: generate server prefix: %w", err)
		}
	}

	collector, err := stats.New(dir)
	if err != nil {
		return nil, fmt.Errorf("server: init stats collector: %w", err)
	}

	return &Server{
		log:             log.Named("server"),
		dir:             dir,
		collector:       collector,
		notifier:        asyncNotifier,
		listenAddr:      cfg.ListenAddr,
		host:            host,
		port:            port,
		prefix:          prefix,
		execInterval:    time.Second,
		purgeInterval:   30 * time.Second,
		serviceInterval: 10 * time.Second,
	}, nil
}

// Notifier returns the async notification pipeline, for wiring into
// queue.Options when the caller constructs queues via the Directory.
func (s *Server) Notifier() *AsyncNotifier { return s.notifier }

// Run starts the listener and every background task, blocking until ctx
// is canceled or a fatal listener error occurs (teacher pattern: context
// cancellation propagates shutdown through nested goroutines).
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.listenAddr, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.acceptLoop(gctx, ln) })
	g.Go(func() error { return s.notifier.Run(gctx) })
	g.Go(func() error { return s.tickLoop(gctx) })
	g.Go(func() error { return s.purgeLoop(gctx) })
	g.Go(func() error { return s.serviceLoop(gctx) })

	s.log.Info("server started", "listen", s.listenAddr, "prefix", s.prefix)

	<-ctx.Done()
	s.dir.SetShuttingDown(true)
	_ = ln.Close()
	return g.Wait()
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("server: accept: %w", err)
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) tickLoop(ctx context.Context) error {
	t := time.NewTicker(s.execInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-t.C:
			s.dir.Tick(ctx, now)
		}
	}
}

func (s *Server) purgeLoop(ctx context.Context) error {
	t := time.NewTicker(s.purgeInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-t.C:
			if n := s.dir.Purge(ctx, now); n > 0 {
				s.log.Debug("purge swept jobs", "count", n)
			}
		}
	}
}

func (s *Server) serviceLoop(ctx context.Context) error {
	t := time.NewTicker(s.serviceInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			s.collector.Sample()
		}
	}
}
