// Copyright 2016 David Lazar. All rights reserved.
// Use of this source code is governed by the GNU AGPL
// license that can be found in the LICENSE file.

package blamenet

import (
	"fmt"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"vuvuzela.io/shuffle/internal/perr"
	"vuvuzela.io/shuffle/shuffleround"
)

// DialPeers connects this Network to every peer with a higher MemberID
// than Local. Combined with every other member doing the same, this
// establishes exactly one connection per ordered pair -- the lower id
// always dials, the higher id always accepts via Handler -- without
// either side needing to coordinate who dials whom.
func (n *Network) DialPeers() error {
	for _, p := range n.Peers {
		if p.ID <= n.Local {
			continue
		}
		if err := n.dialPeer(p); err != nil {
			return perr.Wrap(err, "dialing member %d at %s", p.ID, p.Address)
		}
	}
	return nil
}

func (n *Network) dialPeer(p Peer) error {
	u := url.URL{Scheme: "ws", Host: p.Address, Path: "/shuffle", RawQuery: fmt.Sprintf("peer=%d", n.Local)}

	dialer := &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, _, err := dialer.Dial(u.String(), nil)
	if err != nil {
		return err
	}

	c := n.register(p.ID, ws)
	go n.keepalive(c)
	go n.readPump(p.ID, c)
	return nil
}
