// Copyright 2016 David Lazar. All rights reserved.
// Use of this source code is governed by the GNU AGPL
// license that can be found in the LICENSE file.

package blamenet

import (
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"

	"vuvuzela.io/shuffle/shuffleround"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// Handler returns an http.Handler that accepts inbound peer connections.
// The connecting peer identifies itself with a "peer" query parameter
// (its MemberID); only members already present in n.Peers are accepted.
// Mount this under whatever path the Network was configured to listen on
// (e.g. "/shuffle").
func (n *Network) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		idStr := r.URL.Query().Get("peer")
		id64, err := strconv.ParseUint(idStr, 10, 32)
		if err != nil {
			http.Error(w, "missing or invalid peer id", http.StatusBadRequest)
			return
		}
		id := shuffleround.MemberID(id64)
		if !n.knownPeer(id) {
			http.Error(w, "unknown peer id", http.StatusForbidden)
			return
		}

		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			n.logger.Error("blamenet: upgrade failed for member ", id, ": ", err)
			return
		}

		c := n.register(id, ws)
		go n.keepalive(c)
		n.readPump(id, c)
	})
}

func (n *Network) knownPeer(id shuffleround.MemberID) bool {
	for _, p := range n.Peers {
		if p.ID == id {
			return true
		}
	}
	return false
}
