// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

//go:build !linux

package poller

// New returns ErrUnsupportedPlatform: the reactor's multiplexer is
// epoll-only, matching the single production target of the engine this
// package was extracted from.
func New(maxEvents int) (Poller, error) {
	return nil, ErrUnsupportedPlatform
}
