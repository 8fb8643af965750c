// Copyright 2016 David Lazar. All rights reserved.
// Use of this source code is governed by the GNU AGPL
// license that can be found in the LICENSE file.

// Package pipeline implements the per-phase cryptographic operations of
// the shuffle round: building a member's onion-encrypted input, peeling
// one layer off a batch of ciphertexts, computing the transcript digest,
// and recovering payloads once inner keys are revealed. Every function
// here is pure and stateless; the shuffleround package owns all round
// state and calls into this package.
package pipeline

import (
	"io"

	"vuvuzela.io/shuffle/crypto"
)

// OuterEncrypt builds a member's Data ciphertext: the payload first
// sealed under the member's own inner key pair (see crypto.InnerSeal),
// then wrapped in one onion layer per shuffler, outermost first.
func OuterEncrypt(payload []byte, innerKP *crypto.BoxKeyPair, innerNonce *[24]byte, outerPubs []*[32]byte, outerNonce *[24]byte, rand io.Reader) ([]byte, error) {
	sealed := crypto.InnerSeal(payload, innerNonce, innerKP)
	return crypto.Seal(sealed, outerNonce, outerPubs, rand)
}

// parallelPeelThreshold is the batch size at or above which PeelBatch offloads
// to the worker pool: below it, goroutine setup and the fan-in outweigh
// the saving from parallelizing a handful of box opens.
const parallelPeelThreshold = 32

// PeelBatch peels one outer layer off every ciphertext in onions using
// the shuffler's outer private key. Ciphertexts that fail to decrypt are
// omitted from plaintexts and their indices are returned in badIdx for
// the caller to map back to senders. Large batches are fanned out across
// a worker pool; see ParallelPeelBatch.
func PeelBatch(outerPriv *[32]byte, nonce *[24]byte, onions [][]byte) (plaintexts [][]byte, badIdx []int) {
	if len(onions) >= parallelPeelThreshold {
		return ParallelPeelBatch(outerPriv, nonce, onions)
	}
	return crypto.PeelAll(outerPriv, nonce, onions)
}

// HashTranscript computes the transcript digest:
// H(pub_inner[0]||pub_outer[0]||data[0]||...||pub_inner[N-1]||pub_outer[N-1]||data[N-1])
// in member order. Every honest peer that received the same PublicKeys
// and Data messages computes the same digest.
func HashTranscript(innerPubs [][32]byte, outerPubs [][32]byte, data [][]byte) crypto.Digest {
	parts := make([][]byte, 0, 3*len(innerPubs))
	for i := range innerPubs {
		ip := innerPubs[i]
		op := outerPubs[i]
		parts = append(parts, ip[:], op[:], data[i])
	}
	return crypto.Sum(parts...)
}

// InnerDecryptOne attempts to recover the payload sealed by a single
// member's revealed inner key pair out of the final ciphertext multiset.
// It returns the matching ciphertext's index and plaintext, or ok=false
// if no ciphertext in the multiset was sealed with this key pair.
func InnerDecryptOne(ciphertexts [][]byte, nonce *[24]byte, innerPub *[32]byte, innerPriv *[32]byte) (index int, payload []byte, ok bool) {
	for i, ct := range ciphertexts {
		pt, open := crypto.InnerOpen(ct, nonce, innerPub, innerPriv)
		if open {
			return i, pt, true
		}
	}
	return -1, nil, false
}
