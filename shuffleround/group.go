// Copyright 2016 David Lazar. All rights reserved.
// Use of this source code is governed by the GNU AGPL
// license that can be found in the LICENSE file.

// Package shuffleround implements the shuffle round state machine, its
// cryptographic pipeline wiring, and the blame sub-protocol. This is the
// core of the system.
package shuffleround

import (
	"crypto/ed25519"
)

// MemberID indexes into a Group's member list: the ordered set of all
// participants, indexed 0..N-1.
type MemberID uint32

// Member is one participant's static, round-independent identity.
type Member struct {
	ID         MemberID
	SigningKey ed25519.PublicKey
}

// Group is the static participant roster for one round: the ordered
// member list and the ordered subset of shufflers.
type Group struct {
	Members   []Member
	Shufflers []MemberID
}

// N returns the number of members.
func (g *Group) N() int { return len(g.Members) }

// S returns the number of shufflers.
func (g *Group) S() int { return len(g.Shufflers) }

// Key returns the signing key of member id, or nil if id is out of range.
func (g *Group) Key(id MemberID) ed25519.PublicKey {
	if int(id) < 0 || int(id) >= len(g.Members) {
		return nil
	}
	return g.Members[id].SigningKey
}

// Keys returns the signing keys of every member, in member order, for
// use with transcript.Verify.
func (g *Group) Keys() [][]byte {
	keys := make([][]byte, len(g.Members))
	for i, m := range g.Members {
		keys[i] = m.SigningKey
	}
	return keys
}

// shufflerPosition returns the index of id within Shufflers, or -1 if id
// is not a shuffler.
func (g *Group) shufflerPosition(id MemberID) int {
	for i, s := range g.Shufflers {
		if s == id {
			return i
		}
	}
	return -1
}

// Local is this participant's position in the round: its own index, and
// whether it is a shuffler.
type Local struct {
	ID          MemberID
	IsShuffler  bool
	ShufflerPos int // valid iff IsShuffler
}

func newLocal(g *Group, id MemberID) Local {
	pos := g.shufflerPosition(id)
	return Local{ID: id, IsShuffler: pos >= 0, ShufflerPos: pos}
}
