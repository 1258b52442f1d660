// ABOUTME: Assembles an agent from config: store, transports, multiplexer, pool and skills
// ABOUTME: Every transport type is registered; the config decides which ones are built

package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/2389/agent-runtime/internal/agent"
	"github.com/2389/agent-runtime/internal/config"
	"github.com/2389/agent-runtime/internal/connection"
	"github.com/2389/agent-runtime/internal/metrics"
	"github.com/2389/agent-runtime/internal/mux"
	"github.com/2389/agent-runtime/internal/pool"
	"github.com/2389/agent-runtime/internal/skills"
	"github.com/2389/agent-runtime/internal/store"
	"github.com/2389/agent-runtime/internal/transport/ledger"
	"github.com/2389/agent-runtime/internal/transport/local"
	"github.com/2389/agent-runtime/internal/transport/natsconn"
	"github.com/2389/agent-runtime/internal/transport/relayconn"
	"github.com/2389/agent-runtime/internal/transport/stub"
)

// runtime is one assembled agent and the resources it owns.
type runtime struct {
	agent     *agent.Agent
	mux       *mux.Multiplexer
	pool      *pool.Pool
	node      *local.Node
	store     *store.SQLiteStore
	collector *metrics.Collector
}

// build wires cfg into a runtime. The caller runs rt.agent and closes rt.
func build(cfg *config.Config, logger *slog.Logger) (rt *runtime, err error) {
	rt = &runtime{node: local.NewNode(local.DefaultBufferSize, logger)}
	defer func() {
		if err != nil {
			rt.Close()
			rt = nil
		}
	}()

	if cfg.Metrics.Enabled {
		rt.collector = metrics.NewCollector("agent")
	}
	if cfg.Database.Path != "" {
		rt.store, err = store.NewSQLiteStore(cfg.Database.Path)
		if err != nil {
			return nil, fmt.Errorf("opening store: %w", err)
		}
	}

	registry, err := newRegistry(cfg, rt)
	if err != nil {
		return nil, err
	}

	identity := connection.Identity{Name: cfg.Agent.Name, Address: cfg.Agent.Address}
	conns := make([]connection.Connection, 0, len(cfg.Connections))
	for _, cc := range cfg.Connections {
		c, err := registry.FromConfig(cc.Type, cc.ID, identity, connection.Config(cc.Config), logger)
		if err != nil {
			return nil, err
		}
		conns = append(conns, c)
	}

	var recorder mux.Recorder
	if rt.store != nil {
		recorder = rt.store
	}
	rt.mux, err = mux.New(mux.Params{
		Connections:       conns,
		DefaultConnection: cfg.Agent.DefaultConnection,
		InboxCapacity:     cfg.Inbox.Capacity,
		OutboxCapacity:    cfg.Outbox.Capacity,
		Logger:            logger,
		Metrics:           rt.collector,
		Recorder:          recorder,
	})
	if err != nil {
		return nil, fmt.Errorf("creating multiplexer: %w", err)
	}

	rt.pool = pool.New(pool.Config{
		MaxWorkers: cfg.Workers.Max,
		QueueSize:  cfg.Workers.Queue,
		Logger:     logger,
		Metrics:    rt.collector,
	})

	rt.agent, err = agent.New(agent.Params{
		Name:             cfg.Agent.Name,
		Address:          cfg.Agent.Address,
		Multiplexer:      rt.mux,
		Pool:             rt.pool,
		TickInterval:     cfg.Agent.TickInterval,
		MaxReactions:     cfg.Agent.MaxReactions,
		Metrics:          rt.collector,
		DialogueObserver: rt.collector,
		Logger:           logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating agent: %w", err)
	}

	builtin := skills.Builtin()
	for _, sc := range cfg.Skills {
		if _, err := builtin.Install(rt.agent, sc.Name, connection.Config(sc.Config)); err != nil {
			return nil, err
		}
	}
	return rt, nil
}

// newRegistry registers every transport type. The ledger type serves the
// configured ledgers from the SQLite store.
func newRegistry(cfg *config.Config, rt *runtime) (*connection.Registry, error) {
	ledgers := ledger.NewRegistry()
	for _, id := range cfg.Ledgers {
		if rt.store == nil {
			return nil, fmt.Errorf("ledger %s needs database.path", id)
		}
		if err := ledgers.Register(id, ledger.NewStoreAPI(id, rt.store)); err != nil {
			return nil, err
		}
	}

	r := connection.NewRegistry()
	err := errors.Join(
		local.Register(r, rt.node),
		stub.Register(r),
		relayconn.Register(r),
		natsconn.Register(r),
		ledger.Register(r, ledgers, rt.collector),
	)
	if err != nil {
		return nil, fmt.Errorf("registering transports: %w", err)
	}
	return r, nil
}

// Close releases everything build created. The agent run loop disconnects
// the multiplexer itself.
func (rt *runtime) Close() {
	if rt.pool != nil {
		rt.pool.Close()
	}
	if rt.node != nil {
		rt.node.Close()
	}
	if rt.store != nil {
		_ = rt.store.Close()
	}
}
