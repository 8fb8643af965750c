// Copyright 2016 David Lazar. All rights reserved.
// Use of this source code is governed by the GNU AGPL
// license that can be found in the LICENSE file.

package crypto

import (
	"io"

	"golang.org/x/crypto/nacl/box"
	"vuvuzela.io/crypto/onionbox"
)

// LayerOverhead is the number of bytes a single onion layer adds: a
// 32-byte ephemeral public key followed by a NaCl box.
//
// onionbox.Overhead is imported only for its documented per-layer
// accounting convention; Seal/Peel below do the actual layering
// themselves so that a failed layer can be attributed to a single
// ciphertext instead of failing the whole batch (needed by the blame
// sub-protocol, which onionbox's all-or-nothing Open cannot support).
const LayerOverhead = onionbox.Overhead

// Seal wraps payload in len(outerPubs) onion layers. outerPubs must be in
// encryption order: outerPubs[0] is the outermost layer, peeled first by
// shuffler 0; outerPubs[len-1] is innermost, peeled last.
func Seal(payload []byte, nonce *[24]byte, outerPubs []*[32]byte, rand io.Reader) ([]byte, error) {
	data := payload
	for i := len(outerPubs) - 1; i >= 0; i-- {
		ephPub, ephPriv, err := box.GenerateKey(rand)
		if err != nil {
			return nil, err
		}
		sealed := box.Seal(nil, data, nonce, outerPubs[i], ephPriv)
		layer := make([]byte, 32+len(sealed))
		copy(layer[:32], ephPub[:])
		copy(layer[32:], sealed)
		data = layer
	}
	return data, nil
}

// Peel decrypts exactly one outer layer of onion using priv. ok is false
// if the layer fails to authenticate, meaning the ciphertext was
// malformed or addressed to a different key.
func Peel(priv *[32]byte, nonce *[24]byte, onion []byte) (plaintext []byte, ok bool) {
	if len(onion) < 32+box.Overhead {
		return nil, false
	}
	var ephPub [32]byte
	copy(ephPub[:], onion[:32])
	return box.Open(nil, onion[32:], nonce, &ephPub, priv)
}

// PeelAll peels one layer off every onion in onions using priv. The
// indices of ciphertexts that fail to decrypt are returned in badIdx, in
// the order encountered; plaintexts preserves the relative order of the
// onions that succeeded. A bad ciphertext is excluded from plaintexts and
// its index recorded so the caller can attribute the failure and drive
// the round into Blame.
func PeelAll(priv *[32]byte, nonce *[24]byte, onions [][]byte) (plaintexts [][]byte, badIdx []int) {
	plaintexts = make([][]byte, 0, len(onions))
	for i, onion := range onions {
		pt, ok := Peel(priv, nonce, onion)
		if !ok {
			badIdx = append(badIdx, i)
			continue
		}
		plaintexts = append(plaintexts, pt)
	}
	return plaintexts, badIdx
}

// NonceFromRound derives the fixed nonce used for every onion layer in a
// round. Reusing one nonce across layers is safe here because every layer
// is keyed by a freshly generated ephemeral key pair, so the (key, nonce)
// pair is never repeated.
func NonceFromRound(roundID [32]byte) *[24]byte {
	var nonce [24]byte
	copy(nonce[:], roundID[:24])
	return &nonce
}
