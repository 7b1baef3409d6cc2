// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package reactor

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"gopkg.in/yaml.v3"
)

// EngineConfig is the top-level configuration for one Engine: the thread
// pool, the shared buffer pool, and engine-wide maintenance.
type EngineConfig struct {
	Workers          int             `yaml:"workers"`            // 0 = auto (logical CPU count, at least 4)
	WorkerQueueDepth int             `yaml:"worker_queue_depth"` // 0 = auto
	PollTimeout      time.Duration   `yaml:"poll_timeout"`       // multiplexer wait timeout, default 250ms
	BufferPool       BufferPoolConfig `yaml:"buffer_pool"`
	Maintenance      MaintenanceConfig `yaml:"maintenance"`
	Logging          LoggingConfig   `yaml:"logging"`
}

// BufferPoolConfig sizes the slab allocator shared by every session on an
// engine (spec.md §4.B).
type BufferPoolConfig struct {
	ChunkSize      string `yaml:"chunk_size"`       // ex: "64kb" (default: 64kb)
	ChunkSizeRaw   int64  `yaml:"-"`
	Prefill        int    `yaml:"prefill"`          // chunks pre-allocated at startup (default: 0)
	MaxRetained    int    `yaml:"max_retained"`     // idle chunks kept before GC eligible (default: 64)
}

// MaintenanceConfig schedules the engine's periodic trim-and-report job.
type MaintenanceConfig struct {
	Schedule string `yaml:"schedule"` // cron expression; empty disables maintenance
}

// LoggingConfig controls the engine's structured logger. It only takes
// effect when NewEngine is called with a nil *slog.Logger — a caller that
// supplies its own logger owns its lifecycle and these fields are ignored.
type LoggingConfig struct {
	Level    string `yaml:"level"`     // debug|info|warn|error (default: info)
	Format   string `yaml:"format"`    // json|text (default: json)
	FilePath string `yaml:"file_path"` // optional: also write logs to this file
}

// EmitterConfig configures one Acceptor or Connector registered on an
// engine (spec.md §4.G). Leaving the DataBlockCache fields at their zero
// value means the emitter's sessions share the engine's single buffer
// pool; setting any of them builds this emitter a dedicated
// DataBlockCache sized to its own traffic instead.
type EmitterConfig struct {
	Address              string `yaml:"address"`               // listen address (acceptor) or remote address (connector)
	SessionCacheSize     int    `yaml:"session_cache_capacity"` // ObjectCache capacity for this emitter's sessions (default: 256)
	OutboundRateLimit    string `yaml:"outbound_rate_limit"`    // ex: "10mb"; empty disables throttling
	OutboundRateLimitRaw int64  `yaml:"-"`

	// InputQueueBlockSize, when set, gives this emitter its own
	// DataBlockCache instead of sharing the engine's buffer pool.
	InputQueueBlockSize        string `yaml:"input_queue_block_size"`
	InputQueueBlockSizeRaw     int64  `yaml:"-"`
	InputQueueCacheInitialSize int    `yaml:"input_queue_cache_initial_size"` // prefill for this emitter's own cache
	InputQueueCacheMaxSize     int    `yaml:"input_queue_cache_max_size"`     // idle-chunk bound for this emitter's own cache
	UseDirectBuffers           bool   `yaml:"use_direct_buffers"`             // back this emitter's chunks with OS-page mappings
	ThreadPoolThreads          int    `yaml:"thread_pool_threads"`            // >0 gives this emitter its own worker pool
	ReuseAddr                  bool   `yaml:"reuse_addr"`                     // SO_REUSEADDR on the listening socket (acceptors only)

	// hasOwnDataCache is set by validate() when any of the fields above
	// were customized, distinguishing "build a dedicated DataBlockCache"
	// from "inherit the engine's shared pool".
	hasOwnDataCache bool
}

// LoadEngineConfig reads and validates a YAML engine configuration file.
func LoadEngineConfig(path string) (*EngineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading engine config: %w", err)
	}

	var cfg EngineConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing engine config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating engine config: %w", err)
	}
	return &cfg, nil
}

func (c *EngineConfig) validate() error {
	if c.Workers <= 0 {
		c.Workers = defaultWorkerCount()
	}
	if c.WorkerQueueDepth <= 0 {
		c.WorkerQueueDepth = 4096
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = 250 * time.Millisecond
	}

	if c.BufferPool.ChunkSize == "" {
		c.BufferPool.ChunkSize = "64kb"
	}
	chunkSize, err := ParseByteSize(c.BufferPool.ChunkSize)
	if err != nil {
		return fmt.Errorf("buffer_pool.chunk_size: %w", err)
	}
	if chunkSize < 4096 {
		return fmt.Errorf("buffer_pool.chunk_size must be at least 4kb, got %s", c.BufferPool.ChunkSize)
	}
	c.BufferPool.ChunkSizeRaw = chunkSize

	if c.BufferPool.Prefill < 0 {
		return fmt.Errorf("buffer_pool.prefill must be >= 0, got %d", c.BufferPool.Prefill)
	}
	if c.BufferPool.MaxRetained <= 0 {
		c.BufferPool.MaxRetained = 64
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	return nil
}

func (e *EmitterConfig) validate() error {
	if e.Address == "" {
		return fmt.Errorf("address is required")
	}
	if e.SessionCacheSize <= 0 {
		e.SessionCacheSize = 256
	}
	if e.OutboundRateLimit != "" {
		raw, err := ParseByteSize(e.OutboundRateLimit)
		if err != nil {
			return fmt.Errorf("outbound_rate_limit: %w", err)
		}
		e.OutboundRateLimitRaw = raw
	}

	if e.InputQueueBlockSize != "" {
		raw, err := ParseByteSize(e.InputQueueBlockSize)
		if err != nil {
			return fmt.Errorf("input_queue_block_size: %w", err)
		}
		if raw < 4096 {
			return fmt.Errorf("input_queue_block_size must be at least 4kb, got %s", e.InputQueueBlockSize)
		}
		e.InputQueueBlockSizeRaw = raw
		e.hasOwnDataCache = true
	}
	if e.InputQueueCacheInitialSize < 0 {
		return fmt.Errorf("input_queue_cache_initial_size must be >= 0, got %d", e.InputQueueCacheInitialSize)
	}
	if e.InputQueueCacheMaxSize < 0 {
		return fmt.Errorf("input_queue_cache_max_size must be >= 0, got %d", e.InputQueueCacheMaxSize)
	}
	if e.InputQueueCacheInitialSize > 0 || e.InputQueueCacheMaxSize > 0 || e.UseDirectBuffers {
		e.hasOwnDataCache = true
	}
	if e.ThreadPoolThreads < 0 {
		return fmt.Errorf("thread_pool_threads must be >= 0, got %d", e.ThreadPoolThreads)
	}

	return nil
}

// defaultWorkerCount sizes the thread pool to the machine's logical CPU
// count with a floor of 4, falling back to 4 when the count cannot be
// determined (e.g. inside a restricted container).
func defaultWorkerCount() int {
	n, err := cpu.Counts(true)
	if err != nil || n < 4 {
		return 4
	}
	return n
}

// ParseByteSize converts human-readable sizes such as "64kb" or "256mb"
// into a byte count.
func ParseByteSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}

	type suffix struct {
		s string
		m int64
	}
	// Longest suffix first so "mb" isn't misread as "b".
	suffixes := []suffix{
		{"gb", 1024 * 1024 * 1024},
		{"mb", 1024 * 1024},
		{"kb", 1024},
		{"b", 1},
	}

	for _, sfx := range suffixes {
		if strings.HasSuffix(s, sfx.s) {
			numStr := strings.TrimSuffix(s, sfx.s)
			num, err := strconv.ParseInt(numStr, 10, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid number %q: %w", numStr, err)
			}
			return num * sfx.m, nil
		}
	}

	num, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unknown size format %q", s)
	}
	return num, nil
}
