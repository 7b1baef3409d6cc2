// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package reactor

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"github.com/nishisan-dev/reactor/internal/logging"
	"github.com/nishisan-dev/reactor/internal/pool"
	"github.com/nishisan-dev/reactor/internal/poller"
	"github.com/nishisan-dev/reactor/internal/selectorqueue"
	"github.com/nishisan-dev/reactor/internal/workerpool"
)

type engineState int32

const (
	stateCreated engineState = iota
	stateRunning
	stateStopping
	stateStopped
)

const maxPollEvents = 1024

// Engine owns the reactor goroutine, the shared worker pool, the shared
// slab buffer pool, and the registry of live sessions and emitters
// (spec.md §4.E). One Engine is the unit of lifecycle: Start launches the
// reactor goroutine, Stop tears everything down in two hops — mark
// STOPPING and let the reactor drain in-flight work, then close the
// poller once the multiplexer has no registered fds left
// (registeredFds reaches zero).
type Engine struct {
	cfg          EngineConfig
	logger       *slog.Logger
	loggerCloser io.Closer

	pool    *pool.Pool
	workers *workerpool.Pool
	poller  poller.Poller
	queue   *selectorqueue.Queue

	state         atomic.Int32
	activeReaders atomic.Int32
	registeredFds atomic.Int32

	mu            sync.Mutex
	acceptors     map[string]*Acceptor
	connectors    map[string]*Connector
	sessions      map[uint64]*Session
	sessionsByFd  map[int]*Session
	nextSessionID atomic.Uint64

	cron *cron.Cron

	loopDone chan struct{}
}

// NewEngine creates an Engine from cfg. The engine is not running until
// Start is called.
func NewEngine(cfg EngineConfig, logger *slog.Logger) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	var loggerCloser io.Closer
	if logger == nil {
		logger, loggerCloser = logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.FilePath)
	}

	bufPool := pool.NewPool(int(cfg.BufferPool.ChunkSizeRaw), cfg.BufferPool.Prefill, cfg.BufferPool.MaxRetained)
	wp := workerpool.New(cfg.Workers, cfg.WorkerQueueDepth)

	p, err := poller.New(maxPollEvents)
	if err != nil {
		return nil, fmt.Errorf("reactor: creating poller: %w", err)
	}

	e := &Engine{
		cfg:          cfg,
		logger:       logger,
		loggerCloser: loggerCloser,
		pool:         bufPool,
		workers:      wp,
		poller:       p,
		acceptors:    make(map[string]*Acceptor),
		connectors:   make(map[string]*Connector),
		sessions:     make(map[uint64]*Session),
		sessionsByFd: make(map[int]*Session),
		loopDone:     make(chan struct{}),
	}
	e.queue = selectorqueue.New(wp, func() { _ = e.poller.Wake() })
	return e, nil
}

// Start launches the worker pool, the maintenance scheduler (if
// configured), and the reactor goroutine.
func (e *Engine) Start() error {
	if !e.state.CompareAndSwap(int32(stateCreated), int32(stateRunning)) {
		return ErrEngineStopped
	}

	e.workers.Start()

	if e.cfg.Maintenance.Schedule != "" {
		e.cron = cron.New()
		if _, err := e.cron.AddFunc(e.cfg.Maintenance.Schedule, e.runMaintenance); err != nil {
			return fmt.Errorf("reactor: invalid maintenance schedule: %w", err)
		}
		e.cron.Start()
	}

	go e.loop()
	return nil
}

// Stop marks the engine STOPPING, stops accepting new connections, closes
// every live session, and blocks until the reactor goroutine has drained
// all in-flight work and exited.
func (e *Engine) Stop() error {
	if !e.state.CompareAndSwap(int32(stateRunning), int32(stateStopping)) {
		return ErrEngineStopped
	}

	if e.cron != nil {
		e.cron.Stop()
	}

	e.mu.Lock()
	acceptors := make([]*Acceptor, 0, len(e.acceptors))
	for _, a := range e.acceptors {
		acceptors = append(acceptors, a)
	}
	connectors := make([]*Connector, 0, len(e.connectors))
	for _, c := range e.connectors {
		connectors = append(connectors, c)
	}
	e.mu.Unlock()
	for _, a := range acceptors {
		_ = a.Close()
	}
	for _, c := range connectors {
		c.Close()
	}

	e.queue.Enqueue(func() int {
		e.stopSessions()
		return 0
	})

	<-e.loopDone
	e.state.Store(int32(stateStopped))
	e.workers.StopAndWait()
	e.pool.Clear()
	if e.loggerCloser != nil {
		_ = e.loggerCloser.Close()
	}
	return nil
}

// stopSessions closes every live session. Runs on the reactor goroutine,
// dispatched through the run-queue by Stop.
func (e *Engine) stopSessions() {
	e.mu.Lock()
	sessions := make([]*Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		sessions = append(sessions, s)
	}
	e.mu.Unlock()

	for _, s := range sessions {
		s.closeConnection(nil)
	}
}

func (e *Engine) registerSession(s *Session) {
	e.mu.Lock()
	e.sessions[s.id] = s
	e.sessionsByFd[s.fd] = s
	e.mu.Unlock()
}

func (e *Engine) unregisterSession(s *Session) {
	e.mu.Lock()
	delete(e.sessions, s.id)
	delete(e.sessionsByFd, s.fd)
	e.mu.Unlock()
}

func (e *Engine) sessionForFd(fd int) *Session {
	e.mu.Lock()
	s := e.sessionsByFd[fd]
	e.mu.Unlock()
	return s
}

// buildDataCache resolves cfg's DataBlockCache: a dedicated pool.Pool when
// the emitter customized any of the input-queue fields (spec.md §4.F), or
// the engine's single shared pool otherwise. The resolved value is also
// what runMaintenance later trims.
func (e *Engine) buildDataCache(cfg *EmitterConfig) *pool.Pool {
	if !cfg.hasOwnDataCache {
		return e.pool
	}

	blockSize := cfg.InputQueueBlockSizeRaw
	if blockSize <= 0 {
		blockSize = e.cfg.BufferPool.ChunkSizeRaw
	}
	maxRetained := cfg.InputQueueCacheMaxSize
	if maxRetained <= 0 {
		maxRetained = e.cfg.BufferPool.MaxRetained
	}

	return pool.NewPoolWithOptions(int(blockSize), cfg.InputQueueCacheInitialSize, maxRetained, pool.PoolOptions{
		Direct: cfg.UseDirectBuffers,
	})
}

// buildWorkers resolves cfg's worker pool: a dedicated workerpool.Pool when
// ThreadPoolThreads is set, or the engine's shared pool otherwise. The bool
// result tells the caller (Acceptor/Connector) whether it now owns a pool
// it must stop on Close.
func (e *Engine) buildWorkers(cfg EmitterConfig) (*workerpool.Pool, bool) {
	if cfg.ThreadPoolThreads <= 0 {
		return e.workers, false
	}
	wp := workerpool.New(cfg.ThreadPoolThreads, e.cfg.WorkerQueueDepth)
	wp.Start()
	return wp, true
}

// adopt takes ownership of an already-accepted or already-dialed TCP
// connection: it extracts the raw fd, pulls a recycled Session out of
// cache (or allocates one), and schedules fd registration on the reactor
// goroutine. The session is not usable by handler until
// OnConnectionEstablished fires. dataCache and workers are the emitter's
// resolved DataBlockCache and worker pool (shared or dedicated).
func (e *Engine) adopt(conn *net.TCPConn, handler Listener, limiter *rate.Limiter, cache *pool.ObjectCache[Session], dataCache *pool.Pool, workers *workerpool.Pool) (*Session, error) {
	if state := engineState(e.state.Load()); state != stateRunning {
		_ = conn.Close()
		return nil, ErrEngineStopped
	}

	rc, err := conn.SyscallConn()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	var fd int
	if ctlErr := rc.Control(func(p uintptr) { fd = int(p) }); ctlErr != nil {
		_ = conn.Close()
		return nil, ctlErr
	}

	s := cache.Get()
	if s == nil {
		s = &Session{}
	}
	id := e.nextSessionID.Add(1)
	logger := logging.ForSession(e.logger, strconv.FormatUint(id, 10), conn.RemoteAddr())
	s.reinit(id, e, conn, fd, handler, limiter, logger, cache, dataCache, workers)

	e.registerSession(s)

	e.queue.Enqueue(func() int {
		if err := e.poller.Add(fd, poller.Readable); err != nil {
			s.closeConnection(err)
			return 0
		}
		s.registered.Store(true)
		e.registeredFds.Add(1)
		s.workers.Execute(func() { s.listener.OnConnectionEstablished(s) })
		return 0
	})

	return s, nil
}
