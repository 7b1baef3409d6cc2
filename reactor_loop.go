// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package reactor

import "github.com/nishisan-dev/reactor/internal/poller"

// loop is the reactor goroutine: the only goroutine that ever calls
// poller.Wait, registers or modifies a session's interest set, or
// touches a session's read/write buffers directly (spec.md §4.E).
//
// Each iteration: (1) pick a poll mode and wait for readiness or the
// timeout, (2) dispatch every ready fd inline, (3) drain the
// selector-thread run-queue (session flushes, new-session fd
// registration, shutdown), (4) drain the later list, (5) exit once
// STOPPING and the multiplexer has no registered fds left.
func (e *Engine) loop() {
	defer close(e.loopDone)

	events := make([]poller.PollEvent, maxPollEvents)
	blockingMs := int(e.cfg.PollTimeout.Milliseconds())

	for {
		n, err := e.poller.Wait(events, e.pollTimeout(blockingMs))
		if err != nil {
			e.logger.Error("poller wait failed", "error", err)
			continue
		}

		for i := 0; i < n; i++ {
			e.dispatchReadiness(events[i])
		}

		delta := e.queue.Drain()
		e.queue.DrainLater()
		if delta != 0 {
			e.activeReaders.Add(int32(-delta))
		}

		if engineState(e.state.Load()) == stateStopping && e.registeredFds.Load() == 0 {
			_ = e.poller.Close()
			return
		}
	}
}

// pollTimeout implements spec.md §4.E step 1's three-way switch: while
// STOPPING the reactor must drain without ever blocking again, a session
// still being drained by a worker (active_readers > 0) means there is
// already work in flight and blocking would just add latency, and only a
// genuinely idle, RUNNING reactor blocks for the configured timeout.
func (e *Engine) pollTimeout(blockingMs int) int {
	if engineState(e.state.Load()) == stateStopping {
		return 0
	}
	if e.activeReaders.Load() > 0 {
		return 0
	}
	return blockingMs
}

// dispatchReadiness runs the fd-local handler for one readiness event.
// Read dispatch may hand work off to the worker pool (bumping
// active_readers); write and hangup handling are cheap enough to run
// inline without ever blocking this goroutine.
func (e *Engine) dispatchReadiness(ev poller.PollEvent) {
	s := e.sessionForFd(ev.Fd)
	if s == nil {
		return
	}

	if ev.Events&(poller.Error|poller.Hangup) != 0 {
		s.handleHangup()
		return
	}
	if ev.Events&poller.Readable != 0 {
		s.handleReadable()
	}
	if ev.Events&poller.Writable != 0 {
		s.handleWritable()
	}
}
