// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server

import "time"

// SetRateLimitNowFunc overrides the rate limiter clock for testing.
func (s *Server) SetRateLimitNowFunc(fn func() time.Time) {
	s.limiter.mu.Lock()
	defer s.limiter.mu.Unlock()
	s.limiter.nowFunc = fn
}
