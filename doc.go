// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package reactor implements a single-reactor, multi-threaded TCP network
// engine: one goroutine owns a non-blocking multiplexer and dispatches
// readiness events itself: socket reads and writes run on that goroutine,
// while listener callbacks run on a fixed worker pool and engine-wide
// maintenance runs on its own scheduler goroutine.
//
// An Engine owns a thread pool, a shared slab buffer pool, and a registry
// of Acceptors and Connectors. Each accepted or connected socket becomes a
// Session, whose inbound bytes are decoded and handed to a Listener and
// whose outbound bytes are coalesced and flushed without ever blocking the
// reactor goroutine.
package reactor
