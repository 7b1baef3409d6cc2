// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package reactor

import (
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/nishisan-dev/reactor/internal/logging"
	"github.com/nishisan-dev/reactor/internal/pool"
	"github.com/nishisan-dev/reactor/internal/workerpool"
)

// Connector dials out to a remote TCP address and hands the resulting
// socket to the engine as a Session (spec.md §4.G). Unlike an Acceptor,
// it does not run its own background loop — callers invoke Connect
// explicitly, once per desired outbound connection.
type Connector struct {
	cfg        EmitterConfig
	engine     *Engine
	handler    Listener
	exHandler  EmitterListener
	logger     *slog.Logger
	cache      *pool.ObjectCache[Session]
	dataCache  *pool.Pool
	workers    *workerpool.Pool
	ownWorkers bool

	closed atomic.Bool
}

// AddConnector registers a Connector for cfg.Address. Call Connect on the
// result to actually dial.
func (e *Engine) AddConnector(cfg EmitterConfig, handler Listener, ex EmitterListener) (*Connector, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	if _, exists := e.connectors[cfg.Address]; exists {
		e.mu.Unlock()
		return nil, ErrAlreadyRegistered
	}
	workers, ownWorkers := e.buildWorkers(cfg)
	c := &Connector{
		cfg:        cfg,
		engine:     e,
		handler:    handler,
		exHandler:  ex,
		logger:     logging.ForEmitter(e.logger, "connector", cfg.Address),
		cache:      pool.NewObjectCache[Session](cfg.SessionCacheSize),
		dataCache:  e.buildDataCache(&cfg),
		workers:    workers,
		ownWorkers: ownWorkers,
	}
	e.connectors[cfg.Address] = c
	e.mu.Unlock()

	return c, nil
}

// Connect dials cfg.Address and registers the resulting connection as a
// new Session, delivered to the connector's handler.
func (c *Connector) Connect() (*Session, error) {
	if c.closed.Load() {
		return nil, ErrEngineStopped
	}
	conn, err := net.Dial("tcp", c.cfg.Address)
	if err != nil {
		if c.exHandler != nil {
			c.exHandler.OnException(err)
		}
		return nil, fmt.Errorf("reactor: dialing %s: %w", c.cfg.Address, err)
	}

	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		_ = conn.Close()
		return nil, fmt.Errorf("reactor: unexpected conn type %T", conn)
	}

	var limiter *rate.Limiter
	if c.cfg.OutboundRateLimitRaw > 0 {
		limiter = rate.NewLimiter(rate.Limit(c.cfg.OutboundRateLimitRaw), int(c.cfg.OutboundRateLimitRaw))
	}

	return c.engine.adopt(tcpConn, c.handler, limiter, c.cache, c.dataCache, c.workers)
}

// Close stops this connector from being used for further Connect calls
// (they return ErrEngineStopped) and releases its dedicated resources;
// already-established sessions are unaffected. Mirrors
// Acceptor.Close's owned-worker-pool teardown — a Connector with
// ThreadPoolThreads set leaks nothing on engine shutdown.
func (c *Connector) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	if c.ownWorkers {
		c.workers.StopAndWait()
	}
}
