// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package reactor

import (
	"testing"
	"time"
)

// TestNewEngine_NilLoggerBuildsOwnViaLoggingConfig covers spec.md §4.E /
// §7: when a caller doesn't supply a *slog.Logger, the engine must build
// one from its own LoggingConfig (internal/logging.NewLogger) rather than
// silently falling back to slog.Default, and must own its shutdown.
func TestNewEngine_NilLoggerBuildsOwnViaLoggingConfig(t *testing.T) {
	cfg := EngineConfig{
		Workers:     2,
		PollTimeout: 20 * time.Millisecond,
		BufferPool:  BufferPoolConfig{ChunkSize: "4kb", Prefill: 1, MaxRetained: 4},
		Logging:     LoggingConfig{Level: "debug", Format: "text"},
	}
	e, err := NewEngine(cfg, nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if e.logger == nil {
		t.Fatal("expected NewEngine to build a logger when none was supplied")
	}
	if e.loggerCloser == nil {
		t.Fatal("expected NewEngine to retain a closer for its own logger")
	}

	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := e.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
