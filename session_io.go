// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package reactor

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/nishisan-dev/reactor/internal/poller"
	"github.com/nishisan-dev/reactor/internal/pool"
)

// inboundChunk is one decoded read still waiting to reach the listener.
// buf already carries the caller's sole reference, truncated to exactly
// the bytes actually read.
type inboundChunk struct {
	buf *pool.Buffer
}

// handleReadable performs one non-blocking read for the session. The
// poller is level-triggered, so any bytes left unread after this call
// simply raise Readable again on the next Wait — there is no need to loop
// until EAGAIN here.
func (s *Session) handleReadable() {
	if s.closed.Load() {
		return
	}

	buf, err := s.dataCache.Alloc(s.dataCache.ChunkSize())
	if err != nil {
		s.closeConnection(err)
		return
	}

	n, rerr := unix.Read(s.fd, buf.Bytes())
	if n > 0 {
		buf.Truncate(n)
		s.queueInbound(inboundChunk{buf: buf})
	} else {
		buf.Release()
	}

	switch {
	case rerr != nil && rerr != unix.EAGAIN:
		s.closeConnection(rerr)
	case n == 0 && rerr == nil:
		s.closeConnection(nil) // clean EOF
	}
}

// queueInbound appends a decoded chunk to the session's private inbound
// queue and, if nothing is currently draining it, dispatches a worker to
// do so. The in-flight flag guarantees the listener is never invoked
// concurrently for the same session (spec.md §4.F).
func (s *Session) queueInbound(c inboundChunk) {
	s.inboundMu.Lock()
	s.inboundQueue = append(s.inboundQueue, c)
	start := !s.inFlight.Load() && s.inFlight.CompareAndSwap(false, true)
	s.inboundMu.Unlock()

	if start {
		s.engine.activeReaders.Add(1)
		s.workers.Execute(s.drainInbound)
	}
}

// drainInbound runs on a worker goroutine, delivering every queued chunk
// to the listener in order. It only goes idle once it observes — under
// the same lock queueInbound appends under — that the queue is empty,
// closing the lost-wakeup race between a final append and going idle.
func (s *Session) drainInbound() {
	for {
		s.inboundMu.Lock()
		if len(s.inboundQueue) == 0 {
			s.inFlight.Store(false)
			s.inboundMu.Unlock()
			s.engine.queue.EnqueueNoWake(func() int { return 1 })
			return
		}
		c := s.inboundQueue[0]
		s.inboundQueue = s.inboundQueue[1:]
		s.inboundMu.Unlock()

		// The listener now owns c.buf's sole reference: it may Retain to
		// keep it past this call, but must always Release exactly once.
		s.listener.OnDataReceived(s, c.buf)
	}
}

// handleWritable flushes pending output. It runs inline on the reactor
// goroutine — writev on a non-blocking fd never blocks, so there is
// nothing here that needs a worker.
func (s *Session) handleWritable() {
	s.flushOutbound()
}

// handleHangup reports a peer-initiated close or socket error the poller
// observed outside of a read.
func (s *Session) handleHangup() {
	s.closeConnection(ErrIoFailure)
}

// flushOutbound performs a single non-blocking writev of whatever is
// queued. It only ever runs on the reactor goroutine — from handleWritable
// or from a run-queue task posted by SendData — so arming and disarming
// Writable interest never races with the poller itself.
func (s *Session) flushOutbound() {
	s.writeMu.Lock()
	if len(s.pending) == 0 {
		s.writeMu.Unlock()
		s.disarmWrite()
		return
	}
	bufs := make([][]byte, len(s.pending))
	copy(bufs, s.pending)
	s.writeMu.Unlock()

	if s.limiter != nil {
		total := 0
		for _, b := range bufs {
			total += len(b)
		}
		// A flush larger than the bucket's burst would never be admitted,
		// so only throttle requests the limiter can actually satisfy.
		if total <= s.limiter.Burst() && !s.limiter.AllowN(time.Now(), total) {
			s.armWrite()
			return
		}
	}

	n, err := unix.Writev(s.fd, bufs)
	if n > 0 {
		s.pendingBytes.Add(-int64(n))
		s.writeMu.Lock()
		var completed int
		s.pending, completed = dropWritten(s.pending, n)
		remaining := len(s.pending)
		s.flushedCount += int64(completed)
		s.writeCond.Broadcast()
		s.writeMu.Unlock()

		if remaining == 0 {
			s.disarmWrite()
		} else {
			s.armWrite()
		}
	}

	if err != nil && err != unix.EAGAIN {
		s.closeConnection(err)
	}
}

func (s *Session) armWrite() {
	if s.writeArmed {
		return
	}
	if err := s.engine.poller.Modify(s.fd, poller.Readable|poller.Writable); err == nil {
		s.writeArmed = true
	}
}

func (s *Session) disarmWrite() {
	if !s.writeArmed {
		return
	}
	if err := s.engine.poller.Modify(s.fd, poller.Readable); err == nil {
		s.writeArmed = false
	}
}

// dropWritten trims n fully- or partially-written leading byte slices off
// bufs, returning whatever remains to be written and the number of entries
// that were fully consumed (as opposed to merely shortened).
func dropWritten(bufs [][]byte, n int) ([][]byte, int) {
	completed := 0
	for n > 0 && len(bufs) > 0 {
		if n < len(bufs[0]) {
			bufs[0] = bufs[0][n:]
			return bufs, completed
		}
		n -= len(bufs[0])
		bufs = bufs[1:]
		completed++
	}
	return bufs, completed
}

// closeConnection tears the session down exactly once, regardless of
// which path — EOF, a read/write error, or an explicit Close — triggered
// it, and returns the session object to its owning emitter's cache once
// the listener has been notified.
func (s *Session) closeConnection(err error) {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	_ = s.engine.poller.Remove(s.fd)
	if s.registered.CompareAndSwap(true, false) {
		s.engine.registeredFds.Add(-1)
	}
	_ = s.conn.Close()
	s.engine.unregisterSession(s)

	// Wake any SendDataSync caller still blocked on writeCond: the session
	// will never flush again, so it must see s.closed and give up.
	s.writeMu.Lock()
	s.writeCond.Broadcast()
	s.writeMu.Unlock()

	s.workers.Execute(func() {
		s.listener.OnConnectionClosed(s, err)
		if s.cache != nil {
			s.cache.Put(s)
		}
	})
}
