// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package selectorqueue implements the engine's selector-thread run-queue:
// a lock-free multi-producer single-consumer list of tasks that must run
// on the reactor goroutine, modelled per spec.md §4.D as a 47-slot padded
// atomic array holding a TAIL pointer (slot 31) and a HEAD pointer (slot
// 15), each runnable carrying its own next pointer.
package selectorqueue

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/nishisan-dev/reactor/internal/workerpool"
)

// Indices into the 47-slot array. head, tail, and alarm are the three
// logical fields the array carries; 15, 31, and 23 keep them each on
// their own cache line and away from each other, preserved exactly as in
// the source design (spec.md §3, §9 Open Questions).
const (
	headIdx  = 15
	alarmIdx = 23
	tailIdx  = 31
	numSlots = 47
)

// runnable is a node in the MPSC list. run returns a delta to be applied
// to the reactor's active_readers counter (spec.md §4.E).
type runnable struct {
	fn   func() int
	next atomic.Pointer[runnable]
}

// Queue is the selector-thread run-queue. Producers call Enqueue /
// EnqueueNoWake / EnqueueLater from any goroutine; only the reactor
// goroutine calls Drain / DrainLater.
type Queue struct {
	slots [numSlots]atomic.Pointer[runnable] // slots[alarmIdx] holds the idle alarm node, or nil while checked out

	laterMu sync.Mutex
	later   []func() int

	pool   *workerpool.Pool
	wakeFn func()
}

// New creates a run-queue whose wake alarms are posted to pool and whose
// wakeFn is invoked (from a worker goroutine) to nudge a blocked
// multiplexer poll into returning.
func New(pool *workerpool.Pool, wakeFn func()) *Queue {
	q := &Queue{pool: pool, wakeFn: wakeFn}
	q.slots[alarmIdx].Store(&runnable{})
	return q
}

// Enqueue appends fn and, if the list was empty, posts a worker-pool alarm
// that wakes the reactor's multiplexer poll.
func (q *Queue) Enqueue(fn func() int) {
	q.enqueue(fn, true)
}

// EnqueueNoWake appends fn without posting a wake alarm even if the list
// was empty — used when the caller knows the reactor will observe the
// task some other way (e.g. it is about to return from a readiness
// dispatch anyway).
func (q *Queue) EnqueueNoWake(fn func() int) {
	q.enqueue(fn, false)
}

// EnqueueLater appends fn to the selector-thread-private list drained only
// after the current batch, via DrainLater. Per spec.md §4.D, fn must
// return 0 — these tasks don't contribute to active_readers.
func (q *Queue) EnqueueLater(fn func() int) {
	q.laterMu.Lock()
	q.later = append(q.later, fn)
	q.laterMu.Unlock()
}

func (q *Queue) enqueue(fn func() int, wake bool) {
	r := &runnable{fn: fn}
	wasEmpty := q.publish(r)
	if wasEmpty && wake {
		q.postAlarm(r)
	}
}

// publish links r onto the tail of the list. Returns true if the list was
// empty beforehand (r is now also HEAD).
func (q *Queue) publish(r *runnable) bool {
	r.next.Store(nil) // invariant: next == nil at enqueue time
	prev := q.slots[tailIdx].Swap(r)
	if prev == nil {
		q.slots[headIdx].Store(r)
		return true
	}
	prev.next.Store(r)
	return false
}

// postAlarm posts a SelectorAlarm task to the worker pool, checking the
// single recyclable alarm object out of its cell so concurrent Enqueue
// calls never post more than one outstanding alarm. The alarm compares
// HEAD to the node it captured; if the reactor has already consumed past
// it, waking the poller is unnecessary.
func (q *Queue) postAlarm(expected *runnable) {
	obj := q.slots[alarmIdx].Load()
	if obj == nil {
		return // an alarm is already in flight
	}
	if !q.slots[alarmIdx].CompareAndSwap(obj, nil) {
		return // lost the race to check it out
	}
	obj.fn = func() int {
		if q.slots[headIdx].Load() == expected {
			q.wakeFn()
		}
		q.slots[alarmIdx].CompareAndSwap(nil, obj) // return to the cell for reuse
		return 0
	}
	q.pool.Execute(func() { obj.fn() })
}

// Drain runs every runnable enqueued before this call (plus, harmlessly,
// any that race in while it runs), per spec.md §4.D/§4.E steps 2-4: it
// first publishes a dummy sentinel into TAIL to guarantee HEAD becomes
// non-nil, then walks the list until it closes TAIL back to nil. It
// returns the sum of every runnable's active_readers delta.
func (q *Queue) Drain() int {
	sentinel := &runnable{}
	q.publish(sentinel)

	total := 0
	node := q.waitHead()
	for {
		next := q.waitNext(node)

		fn := node.fn
		node.fn = nil
		node.next.Store(nil) // invariant: cleared before run

		if next != nil {
			q.slots[headIdx].Store(next)
		} else {
			// TAIL is already nil, so a producer may have published a new
			// HEAD since; only clear HEAD if it still points at node.
			q.slots[headIdx].CompareAndSwap(node, nil)
		}

		if fn != nil {
			total += fn()
		}

		if node == sentinel || next == nil {
			return total
		}
		node = next
	}
}

// waitHead busy-waits until HEAD is observable. Drain always publishes a
// sentinel first, so this resolves almost immediately.
func (q *Queue) waitHead() *runnable {
	for {
		if h := q.slots[headIdx].Load(); h != nil {
			return h
		}
		runtime.Gosched()
	}
}

// waitNext returns node.next, or nil once TAIL has been successfully
// closed back to nil (CAS node -> nil). If a producer raced in after we
// started looking (linked itself onto node but the CAS above therefore
// fails), this busy-waits for that producer to finish publishing next.
func (q *Queue) waitNext(node *runnable) *runnable {
	for {
		if next := node.next.Load(); next != nil {
			return next
		}
		if q.slots[tailIdx].CompareAndSwap(node, nil) {
			return nil
		}
		runtime.Gosched()
	}
}

// DrainLater runs every task enqueued via EnqueueLater since the previous
// DrainLater call.
func (q *Queue) DrainLater() {
	q.laterMu.Lock()
	later := q.later
	q.later = nil
	q.laterMu.Unlock()

	for _, fn := range later {
		fn()
	}
}
