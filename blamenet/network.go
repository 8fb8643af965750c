// Copyright 2016 David Lazar. All rights reserved.
// Use of this source code is governed by the GNU AGPL
// license that can be found in the LICENSE file.

// Package blamenet is a reference shuffleround.Network implementation: a
// full mesh of plain websocket connections, one per ordered pair of
// members. It deliberately skips TLS -- member authentication is handled
// one level up, by the ed25519 signatures every shuffleround message
// already carries.
package blamenet

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"vuvuzela.io/shuffle/internal/plog"
	"vuvuzela.io/shuffle/shuffleround"
)

const (
	writeWait      = 30 * time.Second
	pongWait       = 300 * time.Second
	pingPeriod     = 20 * time.Second
	maxMessageSize = 1 << 20
)

// Deliverer is the collaborator fed every inbound message; shuffleround.Round
// satisfies it directly.
type Deliverer interface {
	Deliver(data []byte, from shuffleround.MemberID)
}

// Peer names one member's network address.
type Peer struct {
	ID      shuffleround.MemberID
	Address string // host:port the peer's Network listens on
}

// Network is a full-mesh, non-TLS websocket Network for one round. The
// caller is responsible for calling ListenAndServe (or wiring Handler into
// its own mux) and DialPeers before starting the round.
type Network struct {
	Local shuffleround.MemberID
	Peers []Peer

	Deliver Deliverer

	logger *plog.Logger

	mu    sync.Mutex
	conns map[shuffleround.MemberID]*peerConn
}

// New constructs a Network for the local member; peers should include
// every member in the group, including the local one (which is ignored).
func New(local shuffleround.MemberID, peers []Peer, deliver Deliverer) *Network {
	return &Network{
		Local:   local,
		Peers:   peers,
		Deliver: deliver,
		logger:  plog.WithFields(plog.Fields{"component": "blamenet", "member": local}),
		conns:   make(map[shuffleround.MemberID]*peerConn),
	}
}

type frame struct {
	From uint32
	Data []byte
}

type peerConn struct {
	mu     sync.Mutex
	ws     *websocket.Conn
	closed bool
}

func (c *peerConn) writeFrame(f *frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteJSON(f); err != nil {
		c.closed = true
	}
}

func (n *Network) register(id shuffleround.MemberID, ws *websocket.Conn) *peerConn {
	c := &peerConn{ws: ws}
	n.mu.Lock()
	n.conns[id] = c
	n.mu.Unlock()
	return c
}

// readPump runs for the lifetime of one peer connection, delivering every
// well-formed frame to n.Deliver and dropping malformed ones.
func (n *Network) readPump(id shuffleround.MemberID, c *peerConn) {
	defer func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		c.ws.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var f frame
		if err := c.ws.ReadJSON(&f); err != nil {
			n.logger.Debug("blamenet: connection to member ", id, " closed: ", err)
			return
		}
		n.Deliver.Deliver(f.Data, shuffleround.MemberID(f.From))
	}
}

func (n *Network) keepalive(c *peerConn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for range ticker.C {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		err := c.ws.WriteMessage(websocket.PingMessage, nil)
		c.mu.Unlock()
		if err != nil {
			return
		}
	}
}

// Send unicasts data to the named peer. Send never returns an error: a
// dead or missing connection is logged and the message is simply dropped,
// matching shuffleround.Network's no-error-return contract -- a round
// handles missing messages itself via its phase timeout, not via a
// transport-level error.
func (n *Network) Send(to shuffleround.MemberID, data []byte) {
	n.mu.Lock()
	c, ok := n.conns[to]
	n.mu.Unlock()
	if !ok {
		n.logger.Error("blamenet: no connection to member ", to)
		return
	}
	c.writeFrame(&frame{From: uint32(n.Local), Data: data})
}

// Broadcast sends data to every connected peer.
func (n *Network) Broadcast(data []byte) {
	n.mu.Lock()
	conns := make([]*peerConn, 0, len(n.conns))
	for _, c := range n.conns {
		conns = append(conns, c)
	}
	n.mu.Unlock()

	f := &frame{From: uint32(n.Local), Data: data}
	for _, c := range conns {
		c.writeFrame(f)
	}
}
