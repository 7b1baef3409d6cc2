// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package reactor

import "errors"

// Sentinel errors returned across the engine's public surface. Callers
// should compare with errors.Is, since internal wrapping may add context.
var (
	// ErrIoFailure is the error passed to Listener.OnConnectionClosed when
	// the poller reports an error or hang-up on a session's socket. A failed
	// read or write passes the underlying syscall error instead.
	ErrIoFailure = errors.New("reactor: io failure")

	// ErrAlreadyRegistered is returned by Engine.AddAcceptor /
	// Engine.AddConnector when the emitter's local or remote address is
	// already registered.
	ErrAlreadyRegistered = errors.New("reactor: emitter already registered")

	// ErrEngineStopped is returned by any operation attempted after
	// Engine.Stop has been called, by Session.SendData and
	// Session.SendDataSync once the session has closed, and by
	// Connector.Connect once the connector has been closed.
	ErrEngineStopped = errors.New("reactor: engine stopped")

	// ErrOutOfMemory is the sentinel for a failed buffer allocation. No
	// function in this module returns it: the buffer pool reports only
	// pool.ErrInvalidSize, and a chunk allocation the runtime cannot satisfy
	// aborts the process.
	ErrOutOfMemory = errors.New("reactor: out of memory")

	// ErrInterrupted is returned when a blocking call (e.g.
	// Session.SendDataSync) is unblocked by the session or engine
	// shutting down before it completed.
	ErrInterrupted = errors.New("reactor: interrupted")
)
