// Copyright 2016 David Lazar. All rights reserved.
// Use of this source code is governed by the GNU AGPL
// license that can be found in the LICENSE file.

package blametest

import (
	"crypto/ed25519"

	vzrand "vuvuzela.io/crypto/rand"
	"vuvuzela.io/shuffle/internal/perr"
	"vuvuzela.io/shuffle/shuffleround"
)

// GeneratedGroup bundles a freshly generated shuffleround.Group with its
// matching private signing keys, indexed by MemberID.
type GeneratedGroup struct {
	Group       *shuffleround.Group
	SigningKeys []ed25519.PrivateKey
}

// NewGroup builds a group of n members, with shufflerPos naming which
// member indices are shufflers, in order.
func NewGroup(n int, shufflerPos []int) (*GeneratedGroup, error) {
	members := make([]shuffleround.Member, n)
	privs := make([]ed25519.PrivateKey, n)
	for i := 0; i < n; i++ {
		pub, priv, err := ed25519.GenerateKey(vzrand.Reader)
		if err != nil {
			return nil, perr.Wrap(err, "generating signing key for member %d", i)
		}
		members[i] = shuffleround.Member{ID: shuffleround.MemberID(i), SigningKey: pub}
		privs[i] = priv
	}

	shufflers := make([]shuffleround.MemberID, len(shufflerPos))
	for i, p := range shufflerPos {
		shufflers[i] = shuffleround.MemberID(p)
	}

	return &GeneratedGroup{
		Group: &shuffleround.Group{
			Members:   members,
			Shufflers: shufflers,
		},
		SigningKeys: privs,
	}, nil
}
