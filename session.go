// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package reactor

import (
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/nishisan-dev/reactor/internal/pool"
	"github.com/nishisan-dev/reactor/internal/workerpool"
)

// Session represents one accepted or connected TCP socket owned by an
// Engine. Every exported method is safe to call from any goroutine;
// internally, fd registration and the actual reads/writes only ever
// happen on the engine's reactor goroutine (spec.md §4.F).
//
// Sessions are recycled through a per-emitter ObjectCache (component A)
// rather than freshly allocated on every connection, so reinit resets
// every mutable field instead of a constructor doing it once.
type Session struct {
	id     uint64
	engine *Engine
	conn   net.Conn
	fd     int
	remote net.Addr

	listener  Listener
	limiter   *rate.Limiter
	logger    *slog.Logger
	cache     *pool.ObjectCache[Session]
	dataCache *pool.Pool
	workers   *workerpool.Pool

	closed     atomic.Bool
	registered atomic.Bool

	inboundMu    sync.Mutex
	inboundQueue []inboundChunk
	inFlight     atomic.Bool

	writeMu       sync.Mutex
	pending       [][]byte
	pendingBytes  atomic.Int64
	writeArmed    bool
	enqueuedCount int64
	flushedCount  int64
	writeCond     *sync.Cond
}

// reinit (re)initializes a session for a freshly accepted or connected
// fd, whether s is brand new or being pulled back out of an ObjectCache.
func (s *Session) reinit(id uint64, engine *Engine, conn net.Conn, fd int, listener Listener, limiter *rate.Limiter, logger *slog.Logger, cache *pool.ObjectCache[Session], dataCache *pool.Pool, workers *workerpool.Pool) {
	s.id = id
	s.engine = engine
	s.conn = conn
	s.fd = fd
	s.remote = conn.RemoteAddr()
	s.listener = listener
	s.limiter = limiter
	s.logger = logger
	s.cache = cache
	s.dataCache = dataCache
	s.workers = workers

	s.closed.Store(false)
	s.registered.Store(false)
	s.inFlight.Store(false)
	s.inboundQueue = s.inboundQueue[:0]
	s.pending = s.pending[:0]
	s.pendingBytes.Store(0)
	s.writeArmed = false
	s.enqueuedCount = 0
	s.flushedCount = 0
	if s.writeCond == nil {
		s.writeCond = sync.NewCond(&s.writeMu)
	}
}

// ID returns the session's engine-unique identifier.
func (s *Session) ID() uint64 { return s.id }

// RemoteAddr returns the peer's network address.
func (s *Session) RemoteAddr() net.Addr { return s.remote }

// PendingBytes returns the number of outbound bytes still queued for
// flush — a simple backpressure gauge for callers that want to throttle
// their own SendData calls instead of relying solely on an emitter's
// configured outbound rate limit.
func (s *Session) PendingBytes() int {
	return int(s.pendingBytes.Load())
}

// SendData queues data for output and schedules a flush on the reactor
// goroutine. It never blocks and never performs I/O itself: data is
// copied into the session's outbound queue, and the actual writev happens
// on the next reactor iteration (spec.md §4.F).
func (s *Session) SendData(data []byte) error {
	_, err := s.enqueueSend(data)
	return err
}

// SendDataSync queues data exactly like SendData, but blocks the caller
// until the reactor goroutine has actually flushed it (or the session
// closes first). It uses the same condition-variable-style wait the
// teacher's ring buffer uses to coordinate producers and consumers:
// flushOutbound broadcasts writeCond on every successful writev, and
// closeConnection broadcasts it once more so a blocked caller is never
// left waiting on a session that will never flush again.
func (s *Session) SendDataSync(data []byte) error {
	seq, err := s.enqueueSend(data)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	for s.flushedCount < seq && !s.closed.Load() {
		s.writeCond.Wait()
	}
	done := s.flushedCount >= seq
	s.writeMu.Unlock()

	if !done {
		return ErrInterrupted
	}
	return nil
}

// enqueueSend appends data to the outbound queue and schedules a flush,
// returning the sequence number the write must reach before it is
// considered flushed.
func (s *Session) enqueueSend(data []byte) (int64, error) {
	if s.closed.Load() {
		return 0, ErrEngineStopped
	}
	if len(data) == 0 {
		s.writeMu.Lock()
		seq := s.flushedCount
		s.writeMu.Unlock()
		return seq, nil
	}

	cp := make([]byte, len(data))
	copy(cp, data)

	s.writeMu.Lock()
	s.pending = append(s.pending, cp)
	s.enqueuedCount++
	seq := s.enqueuedCount
	s.writeMu.Unlock()
	s.pendingBytes.Add(int64(len(cp)))

	s.engine.queue.Enqueue(func() int {
		s.flushOutbound()
		return 0
	})
	return seq, nil
}

// Close initiates an orderly shutdown of the session. The call itself
// never blocks; fd teardown and the OnConnectionClosed callback happen
// asynchronously on the reactor goroutine and a worker, respectively.
func (s *Session) Close() error {
	if s.closed.Load() {
		return nil
	}
	s.engine.queue.Enqueue(func() int {
		s.closeConnection(nil)
		return 0
	})
	return nil
}
