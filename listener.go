// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package reactor

import "github.com/nishisan-dev/reactor/internal/pool"

// Listener receives inbound data and lifecycle notifications for a
// Session. The engine never calls these methods concurrently for the same
// session — a per-session in-flight flag serializes delivery — but
// different sessions are freely dispatched across different worker
// goroutines at the same time.
type Listener interface {
	// OnConnectionEstablished is called once, after a session has been
	// accepted or connected and registered with the reactor.
	OnConnectionEstablished(s *Session)

	// OnDataReceived is called with each decoded inbound chunk, in the
	// order it was read from the socket. buf carries the caller's one
	// reference to a retainable, reference-counted byte view: the listener
	// may call buf.Retain() to keep it alive past this call (e.g. to hand
	// it to another goroutine), but must always call buf.Release() exactly
	// once when it is done with the reference it was given.
	OnDataReceived(s *Session, buf *pool.Buffer)

	// OnConnectionClosed is called exactly once per session, regardless
	// of whether the local side, the remote peer, or an I/O error ended
	// it. err is nil on a clean EOF or an explicit Session.Close.
	OnConnectionClosed(s *Session, err error)
}

// EmitterListener receives lifecycle notifications for an Acceptor or
// Connector itself, independent of any one session.
type EmitterListener interface {
	// OnException is called when the emitter's own listening or
	// connecting socket fails outside of any session's lifetime.
	OnException(err error)
}
