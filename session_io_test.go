// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package reactor

import "testing"

func TestDropWritten_PartialWriteShortensFirstEntry(t *testing.T) {
	bufs := [][]byte{[]byte("hello"), []byte("world")}
	remaining, completed := dropWritten(bufs, 3)
	if completed != 0 {
		t.Errorf("expected 0 completed entries, got %d", completed)
	}
	if len(remaining) != 2 || string(remaining[0]) != "lo" || string(remaining[1]) != "world" {
		t.Errorf("unexpected remaining: %v", remaining)
	}
}

func TestDropWritten_ExactWriteDropsWholeEntries(t *testing.T) {
	bufs := [][]byte{[]byte("hello"), []byte("world")}
	remaining, completed := dropWritten(bufs, 5)
	if completed != 1 {
		t.Errorf("expected 1 completed entry, got %d", completed)
	}
	if len(remaining) != 1 || string(remaining[0]) != "world" {
		t.Errorf("unexpected remaining: %v", remaining)
	}
}

func TestDropWritten_FullWriteDrainsEverything(t *testing.T) {
	bufs := [][]byte{[]byte("hello"), []byte("world")}
	remaining, completed := dropWritten(bufs, 10)
	if completed != 2 {
		t.Errorf("expected 2 completed entries, got %d", completed)
	}
	if len(remaining) != 0 {
		t.Errorf("expected no remaining entries, got %v", remaining)
	}
}

func TestDropWritten_SpanningPartialFinalEntry(t *testing.T) {
	bufs := [][]byte{[]byte("hello"), []byte("world")}
	remaining, completed := dropWritten(bufs, 7)
	if completed != 1 {
		t.Errorf("expected 1 completed entry, got %d", completed)
	}
	if len(remaining) != 1 || string(remaining[0]) != "rld" {
		t.Errorf("unexpected remaining: %v", remaining)
	}
}
