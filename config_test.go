// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package reactor

import "testing"

func TestParseByteSize(t *testing.T) {
	cases := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"64kb", 64 * 1024, false},
		{"1mb", 1024 * 1024, false},
		{"2gb", 2 * 1024 * 1024 * 1024, false},
		{"512b", 512, false},
		{"1024", 1024, false},
		{"", 0, true},
		{"nonsense", 0, true},
		{"mb", 0, true},
	}
	for _, c := range cases {
		got, err := ParseByteSize(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("ParseByteSize(%q): expected error, got %d", c.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseByteSize(%q): unexpected error: %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("ParseByteSize(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestEngineConfig_ValidateAppliesDefaults(t *testing.T) {
	cfg := EngineConfig{}
	if err := cfg.validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.Workers <= 0 {
		t.Errorf("expected Workers to default to a positive count, got %d", cfg.Workers)
	}
	if cfg.WorkerQueueDepth != 4096 {
		t.Errorf("expected default queue depth 4096, got %d", cfg.WorkerQueueDepth)
	}
	if cfg.BufferPool.ChunkSizeRaw != 64*1024 {
		t.Errorf("expected default chunk size 64kb, got %d", cfg.BufferPool.ChunkSizeRaw)
	}
	if cfg.BufferPool.MaxRetained != 64 {
		t.Errorf("expected default max_retained 64, got %d", cfg.BufferPool.MaxRetained)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("expected default logging info/json, got %q/%q", cfg.Logging.Level, cfg.Logging.Format)
	}
}

func TestEngineConfig_ValidateRejectsTinyChunkSize(t *testing.T) {
	cfg := EngineConfig{BufferPool: BufferPoolConfig{ChunkSize: "128b"}}
	if err := cfg.validate(); err == nil {
		t.Fatal("expected error for chunk_size below 4kb")
	}
}

func TestEmitterConfig_ValidateRequiresAddress(t *testing.T) {
	cfg := EmitterConfig{}
	if err := cfg.validate(); err == nil {
		t.Fatal("expected error for missing address")
	}
}

func TestEmitterConfig_ValidateDefaultsSessionCache(t *testing.T) {
	cfg := EmitterConfig{Address: "127.0.0.1:9000"}
	if err := cfg.validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.SessionCacheSize != 256 {
		t.Errorf("expected default session cache size 256, got %d", cfg.SessionCacheSize)
	}
}

func TestEmitterConfig_ValidateParsesRateLimit(t *testing.T) {
	cfg := EmitterConfig{Address: "127.0.0.1:9000", OutboundRateLimit: "1mb"}
	if err := cfg.validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.OutboundRateLimitRaw != 1024*1024 {
		t.Errorf("expected 1mb parsed to %d, got %d", 1024*1024, cfg.OutboundRateLimitRaw)
	}
}

func TestEmitterConfig_ValidateLeavesDataCacheUnsetByDefault(t *testing.T) {
	cfg := EmitterConfig{Address: "127.0.0.1:9000"}
	if err := cfg.validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.hasOwnDataCache {
		t.Error("expected an unconfigured emitter to not request its own DataBlockCache")
	}
}

func TestEmitterConfig_ValidateDetectsCustomDataCache(t *testing.T) {
	cases := []EmitterConfig{
		{Address: "127.0.0.1:9000", InputQueueBlockSize: "16kb"},
		{Address: "127.0.0.1:9000", InputQueueCacheInitialSize: 4},
		{Address: "127.0.0.1:9000", InputQueueCacheMaxSize: 16},
		{Address: "127.0.0.1:9000", UseDirectBuffers: true},
	}
	for _, cfg := range cases {
		if err := cfg.validate(); err != nil {
			t.Fatalf("validate(%+v): %v", cfg, err)
		}
		if !cfg.hasOwnDataCache {
			t.Errorf("expected %+v to request its own DataBlockCache", cfg)
		}
	}
}

func TestEmitterConfig_ValidateParsesInputQueueBlockSize(t *testing.T) {
	cfg := EmitterConfig{Address: "127.0.0.1:9000", InputQueueBlockSize: "16kb"}
	if err := cfg.validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.InputQueueBlockSizeRaw != 16*1024 {
		t.Errorf("expected 16kb parsed to %d, got %d", 16*1024, cfg.InputQueueBlockSizeRaw)
	}
}

func TestEmitterConfig_ValidateRejectsTinyInputQueueBlockSize(t *testing.T) {
	cfg := EmitterConfig{Address: "127.0.0.1:9000", InputQueueBlockSize: "128b"}
	if err := cfg.validate(); err == nil {
		t.Fatal("expected error for input_queue_block_size below 4kb")
	}
}

func TestEmitterConfig_ValidateRejectsNegativeThreadPoolThreads(t *testing.T) {
	cfg := EmitterConfig{Address: "127.0.0.1:9000", ThreadPoolThreads: -1}
	if err := cfg.validate(); err == nil {
		t.Fatal("expected error for negative thread_pool_threads")
	}
}
