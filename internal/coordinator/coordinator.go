// Package coordinator wires the pieces together: accept a small pool of
// bidder connections, bind them to every configured auction task,
// broadcast the schedule, and hand the tasks to the scheduler.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/nugget/auctionhouse/internal/auction"
	"github.com/nugget/auctionhouse/internal/config"
	"github.com/nugget/auctionhouse/internal/lifecycle"
	"github.com/nugget/auctionhouse/internal/protocol"
	"github.com/nugget/auctionhouse/internal/scheduler"
	"github.com/nugget/auctionhouse/internal/session"
	"github.com/nugget/auctionhouse/internal/telemetry"
)

// TaskFactory constructs an auction.Task-compatible lifecycle.Task for a
// registered auction type name. Returning an error rejects the
// configuration at load time.
type TaskFactory func(cfg auction.Config) (lifecycle.Task, error)

// Registry maps auction type names (from config) to their factories.
// The reference ascending auction is always present under "ascending".
func Registry() map[string]TaskFactory {
	return map[string]TaskFactory{
		"ascending": func(cfg auction.Config) (lifecycle.Task, error) {
			return auction.NewAscending(cfg), nil
		},
	}
}

// Coordinator owns a listener, the configured schedule, and the bus/
// bridges that observe it.
type Coordinator struct {
	cfg      *config.Config
	registry map[string]TaskFactory
	logger   *slog.Logger
	bus      *telemetry.Bus

	pregraph *scheduler.Graph // built and cycle-checked once by New, reused by Run for Execute
}

// New validates the configured schedule against registry and builds the
// dependency graph, but does not listen yet.
func New(cfg *config.Config, registry map[string]TaskFactory, logger *slog.Logger, bus *telemetry.Bus) (*Coordinator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if registry == nil {
		registry = Registry()
	}

	graph := scheduler.New(logger, bus)
	for _, a := range cfg.Auctions {
		if _, ok := registry[a.Type]; !ok {
			return nil, fmt.Errorf("coordinator: unknown auction type %q for task %d", a.Type, a.ID)
		}
		if !graph.AddTask(a.ID) {
			return nil, fmt.Errorf("coordinator: duplicate task id %d", a.ID)
		}
	}
	for _, e := range cfg.Schedule.StartDeps {
		if err := graph.AddStartDepend(e.Task, e.DependsOn); err != nil {
			return nil, fmt.Errorf("coordinator: start_deps: %w", err)
		}
	}
	for _, e := range cfg.Schedule.EndDeps {
		if err := graph.AddEndDepend(e.Task, e.DependsOn); err != nil {
			return nil, fmt.Errorf("coordinator: end_deps: %w", err)
		}
	}

	// Fail fast on a cyclic start-dependency graph rather than letting
	// Execute discover it mid-run.
	if len(cfg.Auctions) > 0 && graph.TopologicalSort() == nil {
		return nil, fmt.Errorf("coordinator: start-dependency graph has a cycle")
	}

	return &Coordinator{cfg: cfg, registry: registry, logger: logger, bus: bus, pregraph: graph}, nil
}

// Run accepts up to cfg.Listen.MaxClients connections within
// cfg.Listen.MaxWaitSec, binds them to every task, broadcasts the
// schedule, and runs the scheduler to completion. It blocks until the
// schedule finishes, ctx is cancelled, or no client connects in time.
func (c *Coordinator) Run(ctx context.Context, ln net.Listener) error {
	clients, err := c.acceptClients(ctx, ln)
	if err != nil {
		return err
	}
	if len(clients) == 0 {
		return fmt.Errorf("coordinator: no clients connected within %ds", c.cfg.Listen.MaxWaitSec)
	}
	defer func() {
		for _, cl := range clients {
			cl.Close()
		}
	}()

	tasks, err := c.buildTasks(clients)
	if err != nil {
		return err
	}

	readCtx, cancelReads := context.WithCancel(ctx)
	defer cancelReads()
	for _, cl := range clients {
		go func(cl *session.Client) {
			if err := cl.ReadLoop(readCtx); err != nil {
				c.logger.Debug("client read loop exited", "client", cl.ID(), "error", err)
			}
		}(cl)
	}

	for id, t := range tasks {
		auctionCfg := c.auctionByID(id)
		spec := protocol.New("auction").With("sessionId", strconv.Itoa(c.cfg.Listen.SessionID)).With("auctionId", strconv.Itoa(id))
		for k, v := range auctionCfg.Params {
			spec = spec.With(k, v)
		}
		line := protocol.Encode(spec)
		for _, cl := range clients {
			if err := cl.Send(line); err != nil {
				c.logger.Warn("send spec failed", "client", cl.ID(), "task_id", id, "error", err)
			}
		}
		_ = t // spec broadcast doesn't need the task value itself
	}

	grace := time.Duration(c.cfg.Listen.GracePeriod) * time.Second
	select {
	case <-time.After(grace):
	case <-ctx.Done():
		return ctx.Err()
	}

	c.pregraph.Execute(ctx, tasks)
	return nil
}

func (c *Coordinator) auctionByID(id int) config.AuctionConfig {
	for _, a := range c.cfg.Auctions {
		if a.ID == id {
			return a
		}
	}
	return config.AuctionConfig{}
}

func (c *Coordinator) acceptClients(ctx context.Context, ln net.Listener) ([]*session.Client, error) {
	deadline := time.Now().Add(time.Duration(c.cfg.Listen.MaxWaitSec) * time.Second)
	var clients []*session.Client

	type acceptResult struct {
		conn net.Conn
		err  error
	}

	for len(clients) < c.cfg.Listen.MaxClients {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}

		resultCh := make(chan acceptResult, 1)
		go func() {
			conn, err := ln.Accept()
			resultCh <- acceptResult{conn, err}
		}()

		select {
		case <-ctx.Done():
			return clients, ctx.Err()
		case <-time.After(remaining):
			// maxWaitTime elapsed; not an error, stop accepting.
		case res := <-resultCh:
			if res.err != nil {
				c.logger.Warn("accept failed", "error", res.err)
				continue
			}
			cl := session.New(res.conn.RemoteAddr().String(), res.conn, c.logger)
			clients = append(clients, cl)
			c.publish(telemetry.KindClientConnected, map[string]any{"client_id": cl.ID()})
		}
	}

	return clients, nil
}

func (c *Coordinator) buildTasks(clients []*session.Client) (map[int]lifecycle.Task, error) {
	tasks := make(map[int]lifecycle.Task, len(c.cfg.Auctions))
	for _, a := range c.cfg.Auctions {
		factory := c.registry[a.Type]
		t, err := factory(auction.Config{
			ID:          a.ID,
			SessionID:   c.cfg.Listen.SessionID,
			Params:      a.Params,
			GracePeriod: time.Duration(c.cfg.Listen.GracePeriod) * time.Second,
			Logger:      c.logger,
			Bus:         c.bus,
		})
		if err != nil {
			return nil, fmt.Errorf("coordinator: build task %d: %w", a.ID, err)
		}
		if binder, ok := t.(interface {
			BindClients([]*session.Client)
		}); ok {
			binder.BindClients(clients)
		}
		tasks[a.ID] = t
	}
	return tasks, nil
}

func (c *Coordinator) publish(kind string, data map[string]any) {
	c.bus.Publish(telemetry.Event{Source: telemetry.SourceCoordinator, Kind: kind, Data: data})
}
