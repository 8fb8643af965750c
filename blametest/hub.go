// Copyright 2016 David Lazar. All rights reserved.
// Use of this source code is governed by the GNU AGPL
// license that can be found in the LICENSE file.

// Package blametest provides in-memory Network, Sink, and Clock fakes for
// driving a group of shuffleround.Round instances in a single test process
// without real sockets.
package blametest

import (
	"sync"

	"vuvuzela.io/shuffle/shuffleround"
	"vuvuzela.io/shuffle/wire"
)

// Deliverer is the collaborator fed every routed message; shuffleround.Round
// satisfies it directly.
type Deliverer interface {
	Deliver(data []byte, from shuffleround.MemberID)
}

// AnyMember, used as the "to" argument of DropFrom, matches every
// recipient of messages from the given sender.
const AnyMember shuffleround.MemberID = 1<<32 - 1

type dropKey struct {
	from, to shuffleround.MemberID
}

type phaseDropKey struct {
	from  shuffleround.MemberID
	phase wire.Phase
}

// Hub is an in-memory message bus connecting every member's Round for one
// test. Send and Broadcast deliver each message on its own goroutine,
// never on the caller's: a Round's own handlers run with its mutex held,
// and a synchronous deliver-while-broadcasting call chain can loop back
// to the original sender before it has released that mutex. Real
// transports (see blamenet) avoid this the same way, by handing inbound
// messages to a per-connection reader goroutine instead of calling
// Deliver from the sender's stack.
type Hub struct {
	mu        sync.Mutex
	members   map[shuffleround.MemberID]Deliverer
	drop      map[dropKey]bool
	dropPhase map[phaseDropKey]bool
}

// NewHub constructs an empty hub.
func NewHub() *Hub {
	return &Hub{members: make(map[shuffleround.MemberID]Deliverer)}
}

// NewNetwork returns the Network collaborator a member's Round should be
// constructed with. The member isn't reachable by other members' Send or
// Broadcast calls until Bind registers its Deliverer -- this two-step
// construction exists because a Round needs its Network at construction
// time, before the Round itself (the Deliverer) exists.
func (h *Hub) NewNetwork(id shuffleround.MemberID) *Network {
	return &Network{hub: h, id: id}
}

// Bind registers d (typically a *shuffleround.Round) as the recipient for
// messages addressed to id. Call it for every member before starting any
// round, so no message is dropped for an unbound recipient.
func (h *Hub) Bind(id shuffleround.MemberID, d Deliverer) {
	h.mu.Lock()
	h.members[id] = d
	h.mu.Unlock()
}

// Register is a convenience that combines NewNetwork and Bind for callers
// that already have a Deliverer (e.g. blametest.Sink-backed fakes) at
// registration time.
func (h *Hub) Register(id shuffleround.MemberID, d Deliverer) *Network {
	n := h.NewNetwork(id)
	h.Bind(id, d)
	return n
}

// DropFrom makes the hub silently discard every future message sent by
// "from" to "to" (AnyMember for every recipient). This models a shuffler
// that drops a ciphertext, or a member that stops responding entirely.
func (h *Hub) DropFrom(from, to shuffleround.MemberID) {
	h.mu.Lock()
	if h.drop == nil {
		h.drop = make(map[dropKey]bool)
	}
	h.drop[dropKey{from, to}] = true
	h.mu.Unlock()
}

func (h *Hub) blocked(from, to shuffleround.MemberID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.drop[dropKey{from, AnyMember}] {
		return true
	}
	return h.drop[dropKey{from, to}]
}

// DropPhase makes the hub silently discard every future message of the
// given phase sent by "from". This models a member that withholds one
// specific protocol message (e.g. PrivateKey) while otherwise behaving
// honestly.
func (h *Hub) DropPhase(from shuffleround.MemberID, phase wire.Phase) {
	h.mu.Lock()
	if h.dropPhase == nil {
		h.dropPhase = make(map[phaseDropKey]bool)
	}
	h.dropPhase[phaseDropKey{from, phase}] = true
	h.mu.Unlock()
}

func (h *Hub) blockedPhase(from shuffleround.MemberID, data []byte) bool {
	if len(data) < 33 {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropPhase[phaseDropKey{from, wire.Phase(data[32])}]
}

// Network is one member's shuffleround.Network collaborator backed by a
// shared Hub.
type Network struct {
	hub *Hub
	id  shuffleround.MemberID
}

func (n *Network) Send(to shuffleround.MemberID, data []byte) {
	if n.hub.blocked(n.id, to) || n.hub.blockedPhase(n.id, data) {
		return
	}
	n.hub.mu.Lock()
	d, ok := n.hub.members[to]
	n.hub.mu.Unlock()
	if !ok {
		return
	}
	cp := append([]byte(nil), data...)
	go d.Deliver(cp, n.id)
}

func (n *Network) Broadcast(data []byte) {
	if n.hub.blockedPhase(n.id, data) {
		return
	}
	n.hub.mu.Lock()
	targets := make(map[shuffleround.MemberID]Deliverer, len(n.hub.members))
	for id, d := range n.hub.members {
		targets[id] = d
	}
	n.hub.mu.Unlock()

	for id, d := range targets {
		if n.hub.blocked(n.id, id) {
			continue
		}
		cp := append([]byte(nil), data...)
		go d.Deliver(cp, n.id)
	}
}
