// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package logging

import (
	"log/slog"
	"net"
)

// ForSession returns a child logger carrying the session's identity as
// structured attributes. Every log line emitted through it is automatically
// tagged with session_id and, when known, the remote address — callers never
// need to repeat them.
func ForSession(base *slog.Logger, sessionID string, remote net.Addr) *slog.Logger {
	if remote == nil {
		return base.With("session_id", sessionID)
	}
	return base.With("session_id", sessionID, "remote_addr", remote.String())
}

// ForEmitter returns a child logger tagged with an emitter's kind
// ("acceptor" or "connector") and the address it was given, recorded under
// "local_addr" (an acceptor's listen address, or a connector's remote
// address), used for registration and shutdown logging before any session
// exists.
func ForEmitter(base *slog.Logger, kind, localAddr string) *slog.Logger {
	return base.With("emitter", kind, "local_addr", localAddr)
}
