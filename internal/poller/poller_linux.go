// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

//go:build linux

package poller

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// epollPoller is the Linux multiplexer: epoll for readiness, plus an
// eventfd registered alongside every connection fd so that Wake can
// interrupt a blocked epoll_wait from any goroutine.
type epollPoller struct {
	epfd    int
	wakeFd  int
	raw     []unix.EpollEvent
	closed  atomic.Bool
	woken   atomic.Bool
	mu      sync.Mutex // serialises Close; Add, Modify and Remove do not take it
}

// New creates an epoll-backed Poller sized to hold up to maxEvents
// readiness notifications per Wait call.
func New(maxEvents int) (Poller, error) {
	if maxEvents < 1 {
		maxEvents = 256
	}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}

	wakeFd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, err
	}

	p := &epollPoller{
		epfd:   epfd,
		wakeFd: wakeFd,
		raw:    make([]unix.EpollEvent, maxEvents),
	}

	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakeFd, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(wakeFd),
	}); err != nil {
		_ = unix.Close(wakeFd)
		_ = unix.Close(epfd)
		return nil, err
	}

	return p, nil
}

func (p *epollPoller) Add(fd int, interest Event) error {
	if p.closed.Load() {
		return ErrClosed
	}
	ev := &unix.EpollEvent{Events: toEpoll(interest), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, ev)
}

func (p *epollPoller) Modify(fd int, interest Event) error {
	if p.closed.Load() {
		return ErrClosed
	}
	ev := &unix.EpollEvent{Events: toEpoll(interest), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, ev)
}

func (p *epollPoller) Remove(fd int) error {
	if p.closed.Load() {
		return ErrClosed
	}
	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	if err == unix.ENOENT {
		return nil
	}
	return err
}

func (p *epollPoller) Wait(events []PollEvent, timeoutMillis int) (int, error) {
	if p.closed.Load() {
		return 0, ErrClosed
	}

	n, err := unix.EpollWait(p.epfd, p.raw, timeoutMillis)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}

	count := 0
	for i := 0; i < n; i++ {
		fd := int(p.raw[i].Fd)
		if fd == p.wakeFd {
			p.drainWake()
			continue
		}
		if count >= len(events) {
			break
		}
		events[count] = PollEvent{Fd: fd, Events: fromEpoll(p.raw[i].Events)}
		count++
	}
	return count, nil
}

func (p *epollPoller) drainWake() {
	var buf [8]byte
	for {
		_, err := unix.Read(p.wakeFd, buf[:])
		if err != nil {
			break
		}
	}
	p.woken.Store(false)
}

// Wake writes to the eventfd, coalescing with any already-pending wake:
// the counter just accumulates until drained, and a single drain clears
// any number of accumulated writes.
func (p *epollPoller) Wake() error {
	if p.closed.Load() {
		return ErrClosed
	}
	if !p.woken.CompareAndSwap(false, true) {
		return nil
	}
	var one uint64 = 1
	buf := (*[8]byte)(unsafe.Pointer(&one))[:]
	_, err := unix.Write(p.wakeFd, buf)
	return err
}

func (p *epollPoller) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	_ = unix.Close(p.wakeFd)
	return unix.Close(p.epfd)
}

func toEpoll(e Event) uint32 {
	var out uint32
	if e&Readable != 0 {
		out |= unix.EPOLLIN
	}
	if e&Writable != 0 {
		out |= unix.EPOLLOUT
	}
	return out
}

func fromEpoll(bits uint32) Event {
	var e Event
	if bits&unix.EPOLLIN != 0 {
		e |= Readable
	}
	if bits&unix.EPOLLOUT != 0 {
		e |= Writable
	}
	if bits&unix.EPOLLERR != 0 {
		e |= Error
	}
	if bits&unix.EPOLLHUP != 0 || bits&unix.EPOLLRDHUP != 0 {
		e |= Hangup
	}
	return e
}
