// Copyright 2016 David Lazar. All rights reserved.
// Use of this source code is governed by the GNU AGPL
// license that can be found in the LICENSE file.

package shuffleround

// Hooks are instrumentation callbacks fired at fixed points in the round
// regardless of whether Blame is ever entered. A nil field is simply not
// called -- hooks never alter protocol behavior, only observe it.
type Hooks struct {
	// OnStartBlame fires when the round enters Blame, after the blame set
	// is pre-populated but before the local Blame message is broadcast.
	OnStartBlame func()

	// OnDecrypt fires on entry to Decryption, before any ciphertext is
	// opened.
	OnDecrypt func()

	// OnBlameRound fires once every member's Blame submission is in (or
	// the Blame-phase timeout fires) and deterministic replay is about to
	// run.
	OnBlameRound func()
}

// NullSink discards delivered payloads, for callers that only care about
// a round's terminal Status rather than its delivered multiset.
type NullSink struct{}

func (NullSink) Deliver([][]byte) {}
