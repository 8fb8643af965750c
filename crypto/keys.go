// Copyright 2016 David Lazar. All rights reserved.
// Use of this source code is governed by the GNU AGPL
// license that can be found in the LICENSE file.

// Package crypto implements the cryptographic primitives used by a shuffle
// round: signing identities, onion-layer key pairs, the onion encryption
// pipeline, and the transcript digest.
package crypto

import (
	"crypto/ed25519"
	"io"

	"golang.org/x/crypto/nacl/box"
	vzrand "vuvuzela.io/crypto/rand"
)

// SigningKeyPair is a member's long-lived identity used to sign every
// protocol message.
type SigningKeyPair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

func GenerateSigningKey() (*SigningKeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(vzrand.Reader)
	if err != nil {
		return nil, err
	}
	return &SigningKeyPair{Public: pub, Private: priv}, nil
}

// BoxKeyPair is a curve25519 key pair used for NaCl box encryption. Both
// the outer (onion-layer) and inner (payload) keys use this shape.
type BoxKeyPair struct {
	Public  *[32]byte
	Private *[32]byte
}

// GenerateBoxKey creates a fresh box key pair using the package's
// cryptographically strong randomness source.
func GenerateBoxKey() (*BoxKeyPair, error) {
	return GenerateBoxKeyFrom(vzrand.Reader)
}

// GenerateBoxKeyFrom creates a box key pair from an externally supplied
// randomness source.
func GenerateBoxKeyFrom(rand io.Reader) (*BoxKeyPair, error) {
	pub, priv, err := box.GenerateKey(rand)
	if err != nil {
		return nil, err
	}
	return &BoxKeyPair{Public: pub, Private: priv}, nil
}

// Zero overwrites the private half of the key pair. Called when a round
// destroys its keys: the inner key on entry to Finished, the outer key on
// entry to Finished or after broadcasting it during Blame.
func (kp *BoxKeyPair) Zero() {
	if kp == nil || kp.Private == nil {
		return
	}
	for i := range kp.Private {
		kp.Private[i] = 0
	}
}
