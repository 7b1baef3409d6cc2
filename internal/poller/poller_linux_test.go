// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

//go:build linux

package poller

import (
	"golang.org/x/sys/unix"
	"testing"
	"time"
)

func socketPair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	t.Cleanup(func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestEpollPoller_ReportsReadable(t *testing.T) {
	p, err := New(8)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	a, b := socketPair(t)
	if err := p.Add(a, Readable); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if _, err := unix.Write(b, []byte("x")); err != nil {
		t.Fatalf("write: %v", err)
	}

	buf := make([]PollEvent, 8)
	n, err := p.Wait(buf, 1000)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if n != 1 || buf[0].Fd != a || buf[0].Events&Readable == 0 {
		t.Fatalf("expected one readable event for fd %d, got %+v (n=%d)", a, buf[:n], n)
	}
}

func TestEpollPoller_WakeInterruptsBlockedWait(t *testing.T) {
	p, err := New(8)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	done := make(chan struct{})
	go func() {
		buf := make([]PollEvent, 8)
		p.Wait(buf, -1)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	if err := p.Wake(); err != nil {
		t.Fatalf("Wake: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Wake did not unblock a pending Wait")
	}
}

func TestEpollPoller_ModifyAndRemove(t *testing.T) {
	p, err := New(8)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	a, b := socketPair(t)
	if err := p.Add(a, Writable); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := p.Modify(a, Readable); err != nil {
		t.Fatalf("Modify: %v", err)
	}
	if err := p.Remove(a); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := p.Remove(a); err != nil {
		t.Fatalf("Remove on already-removed fd should be a no-op, got %v", err)
	}
	_ = b
}

func TestEpollPoller_CloseThenOperationsFail(t *testing.T) {
	p, err := New(8)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	a, _ := socketPair(t)
	if err := p.Add(a, Readable); err != ErrClosed {
		t.Fatalf("expected ErrClosed after Close, got %v", err)
	}
}
