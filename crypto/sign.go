// Copyright 2016 David Lazar. All rights reserved.
// Use of this source code is governed by the GNU AGPL
// license that can be found in the LICENSE file.

package crypto

import (
	"crypto/ed25519"
)

// Sign signs the canonical encoding of a message.
func Sign(key ed25519.PrivateKey, canonical []byte) []byte {
	return ed25519.Sign(key, canonical)
}

// Verify checks a signature produced by Sign.
func Verify(key ed25519.PublicKey, canonical []byte, sig []byte) bool {
	if len(key) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(key, canonical, sig)
}
