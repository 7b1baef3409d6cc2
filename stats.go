// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package reactor

import (
	"github.com/shirou/gopsutil/v3/cpu"

	"github.com/nishisan-dev/reactor/internal/pool"
)

// EngineStats is a point-in-time snapshot of an engine's internal state,
// useful for health checks and periodic reporting.
type EngineStats struct {
	Sessions      int
	Acceptors     int
	Connectors    int
	ActiveReaders int32
	CachedChunks  int
}

// Stats returns a snapshot of the engine's current session, emitter, and
// buffer-pool counts.
func (e *Engine) Stats() EngineStats {
	e.mu.Lock()
	st := EngineStats{
		Sessions:   len(e.sessions),
		Acceptors:  len(e.acceptors),
		Connectors: len(e.connectors),
	}
	e.mu.Unlock()

	st.ActiveReaders = e.activeReaders.Load()
	st.CachedChunks = e.pool.CachedChunks()
	return st
}

// runMaintenance is invoked by the cron scheduler configured via
// EngineConfig.Maintenance.Schedule. It trims the engine's shared buffer
// pool, and every emitter's own DataBlockCache (where one was built),
// back to their configured max-retained sizes, and logs the result
// alongside a snapshot of CPU usage.
func (e *Engine) runMaintenance() {
	e.pool.TrimTo(e.cfg.BufferPool.MaxRetained)

	e.mu.Lock()
	acceptors := make([]*Acceptor, 0, len(e.acceptors))
	for _, a := range e.acceptors {
		acceptors = append(acceptors, a)
	}
	connectors := make([]*Connector, 0, len(e.connectors))
	for _, c := range e.connectors {
		connectors = append(connectors, c)
	}
	e.mu.Unlock()

	for _, a := range acceptors {
		e.trimEmitterCache(a.dataCache, a.cfg)
	}
	for _, c := range connectors {
		e.trimEmitterCache(c.dataCache, c.cfg)
	}

	st := e.Stats()
	percents, err := cpu.Percent(0, false)
	var cpuPct float64
	if err == nil && len(percents) > 0 {
		cpuPct = percents[0]
	} else if err != nil {
		e.logger.Warn("engine maintenance: cpu.Percent failed", "error", err)
	}

	e.logger.Info("engine maintenance",
		"sessions", st.Sessions,
		"acceptors", st.Acceptors,
		"connectors", st.Connectors,
		"active_readers", st.ActiveReaders,
		"cached_chunks", st.CachedChunks,
		"cpu_percent", cpuPct,
	)
}

// trimEmitterCache trims cache down to cfg's configured max-retained size,
// skipping emitters that alias the engine's shared pool (already trimmed
// above) or were never customized.
func (e *Engine) trimEmitterCache(cache *pool.Pool, cfg EmitterConfig) {
	if cache == nil || !cfg.hasOwnDataCache {
		return
	}
	maxRetained := cfg.InputQueueCacheMaxSize
	if maxRetained <= 0 {
		maxRetained = e.cfg.BufferPool.MaxRetained
	}
	cache.TrimTo(maxRetained)
}
