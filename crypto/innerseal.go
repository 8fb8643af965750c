// Copyright 2016 David Lazar. All rights reserved.
// Use of this source code is governed by the GNU AGPL
// license that can be found in the LICENSE file.

package crypto

import (
	"golang.org/x/crypto/nacl/box"
)

// InnerOverhead is the number of bytes InnerSeal adds to a payload.
const InnerOverhead = box.Overhead

// InnerSeal encrypts payload under the sender's own inner key pair: the
// NaCl box Diffie-Hellman is computed between a member's inner public key
// and its own inner private key, rather than addressing the payload to a
// single external sink key. That way, revealing the inner private key
// during PrivateKeySharing is exactly what makes that one payload -- now
// sitting at an unknown position in the shuffled multiset -- recoverable,
// without revealing which position it occupies until the key is revealed.
func InnerSeal(payload []byte, nonce *[24]byte, kp *BoxKeyPair) []byte {
	return box.Seal(nil, payload, nonce, kp.Public, kp.Private)
}

// InnerOpen attempts to decrypt ciphertext using the (public, private)
// inner key pair of a single candidate member. It succeeds only for the
// ciphertext originally sealed with that exact key pair.
func InnerOpen(ciphertext []byte, nonce *[24]byte, pub *[32]byte, priv *[32]byte) ([]byte, bool) {
	return box.Open(nil, ciphertext, nonce, pub, priv)
}
