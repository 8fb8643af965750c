// Copyright 2016 David Lazar. All rights reserved.
// Use of this source code is governed by the GNU AGPL
// license that can be found in the LICENSE file.

package blametest

import "sync"

// Sink collects the payloads delivered by a successful round, for test
// assertions.
type Sink struct {
	mu       sync.Mutex
	Payloads [][]byte
}

func (s *Sink) Deliver(payloads [][]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Payloads = payloads
}

func (s *Sink) Get() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Payloads
}
