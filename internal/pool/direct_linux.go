// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

//go:build linux

package pool

import "golang.org/x/sys/unix"

// allocDirect backs a chunk with an anonymous OS-page mapping instead of a
// Go-heap slice, for emitters configured with useDirectBuffers — useful when
// the kernel can hand the pages straight to a syscall read/write without an
// extra heap copy. Falls back to a heap slice if the mapping fails (e.g. the
// process is out of mmap regions).
func allocDirect(size int) []byte {
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return make([]byte, size)
	}
	return data
}

// freeDirect unmaps memory obtained from allocDirect. Called from a
// chunk's finalizer, since nothing else in the pool explicitly frees
// chunk.data.
func freeDirect(data []byte) {
	if len(data) == 0 {
		return
	}
	_ = unix.Munmap(data)
}
