// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package reactor

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"syscall"

	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"

	"github.com/nishisan-dev/reactor/internal/logging"
	"github.com/nishisan-dev/reactor/internal/pool"
	"github.com/nishisan-dev/reactor/internal/workerpool"
)

// Acceptor listens for inbound TCP connections and hands each accepted
// socket to the engine as a Session (spec.md §4.G). Accepting itself
// happens on a dedicated goroutine outside the reactor — only the
// resulting fd's registration is handed over to the reactor goroutine.
type Acceptor struct {
	cfg        EmitterConfig
	engine     *Engine
	listener   net.Listener
	handler    Listener
	exHandler  EmitterListener
	logger     *slog.Logger
	cache      *pool.ObjectCache[Session]
	dataCache  *pool.Pool
	workers    *workerpool.Pool
	ownWorkers bool

	closed atomic.Bool
	done   chan struct{}
}

// AddAcceptor registers and starts listening on cfg.Address, delivering
// every accepted connection's events to handler.
func (e *Engine) AddAcceptor(cfg EmitterConfig, handler Listener, ex EmitterListener) (*Acceptor, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	if _, exists := e.acceptors[cfg.Address]; exists {
		e.mu.Unlock()
		return nil, ErrAlreadyRegistered
	}
	workers, ownWorkers := e.buildWorkers(cfg)
	a := &Acceptor{
		cfg:        cfg,
		engine:     e,
		handler:    handler,
		exHandler:  ex,
		logger:     logging.ForEmitter(e.logger, "acceptor", cfg.Address),
		cache:      pool.NewObjectCache[Session](cfg.SessionCacheSize),
		dataCache:  e.buildDataCache(&cfg),
		workers:    workers,
		ownWorkers: ownWorkers,
		done:       make(chan struct{}),
	}
	e.acceptors[cfg.Address] = a
	e.mu.Unlock()

	lc := net.ListenConfig{}
	if cfg.ReuseAddr {
		lc.Control = func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			if ctlErr := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			}); ctlErr != nil {
				return ctlErr
			}
			return sockErr
		}
	}

	ln, err := lc.Listen(context.Background(), "tcp", cfg.Address)
	if err != nil {
		e.mu.Lock()
		delete(e.acceptors, cfg.Address)
		e.mu.Unlock()
		if ownWorkers {
			workers.StopAndWait()
		}
		return nil, fmt.Errorf("reactor: listening on %s: %w", cfg.Address, err)
	}
	a.listener = ln

	go a.acceptLoop()
	return a, nil
}

// Addr returns the acceptor's bound local address, useful when cfg.Address
// used an ephemeral port ("127.0.0.1:0").
func (a *Acceptor) Addr() net.Addr {
	return a.listener.Addr()
}

func (a *Acceptor) acceptLoop() {
	defer close(a.done)

	for {
		conn, err := a.listener.Accept()
		if err != nil {
			if a.closed.Load() {
				return
			}
			if a.exHandler != nil {
				a.exHandler.OnException(err)
			}
			continue
		}

		tcpConn, ok := conn.(*net.TCPConn)
		if !ok {
			a.logger.Error("accepted non-TCP connection", "type", fmt.Sprintf("%T", conn))
			_ = conn.Close()
			continue
		}

		if _, err := a.engine.adopt(tcpConn, a.handler, a.buildLimiter(), a.cache, a.dataCache, a.workers); err != nil {
			a.logger.Warn("failed to adopt accepted connection", "error", err)
		}
	}
}

func (a *Acceptor) buildLimiter() *rate.Limiter {
	if a.cfg.OutboundRateLimitRaw <= 0 {
		return nil
	}
	limit := rate.Limit(a.cfg.OutboundRateLimitRaw)
	return rate.NewLimiter(limit, int(a.cfg.OutboundRateLimitRaw))
}

// Close stops accepting new connections. Already-established sessions are
// unaffected and keep running until the engine itself stops or they
// close individually.
func (a *Acceptor) Close() error {
	if !a.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := a.listener.Close()
	<-a.done
	if a.ownWorkers {
		a.workers.StopAndWait()
	}
	return err
}
