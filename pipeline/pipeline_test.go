// Copyright 2016 David Lazar. All rights reserved.
// Use of this source code is governed by the GNU AGPL
// license that can be found in the LICENSE file.

package pipeline

import (
	"bytes"
	"testing"

	vzrand "vuvuzela.io/crypto/rand"
	"vuvuzela.io/shuffle/crypto"
)

func genKeys(t *testing.T, n int) []*crypto.BoxKeyPair {
	t.Helper()
	kps := make([]*crypto.BoxKeyPair, n)
	for i := range kps {
		kp, err := crypto.GenerateBoxKey()
		if err != nil {
			t.Fatal(err)
		}
		kps[i] = kp
	}
	return kps
}

// TestOuterEncryptAndPeelChain walks a single member's Data ciphertext
// through every shuffler's outer layer, then recovers the inner payload
// with the member's own inner key pair, mirroring what the real round
// does across PeelBatch calls and the final PrivateKeySharing reveal.
func TestOuterEncryptAndPeelChain(t *testing.T) {
	var roundID [32]byte
	roundID[0] = 3
	outerNonce := crypto.NonceFromRound(roundID)
	innerNonce := crypto.NonceFromRound(roundID)

	shufflerKPs := genKeys(t, 3)
	outerPubs := make([]*[32]byte, len(shufflerKPs))
	for i, kp := range shufflerKPs {
		outerPubs[i] = kp.Public
	}

	innerKP, err := crypto.GenerateBoxKey()
	if err != nil {
		t.Fatal(err)
	}
	payload := []byte("message for the sink")

	ciphertext, err := OuterEncrypt(payload, innerKP, innerNonce, outerPubs, outerNonce, vzrand.Reader)
	if err != nil {
		t.Fatal(err)
	}

	onions := [][]byte{ciphertext}
	for i, kp := range shufflerKPs {
		plaintexts, badIdx := PeelBatch(kp.Private, outerNonce, onions)
		if len(badIdx) > 0 {
			t.Fatalf("shuffler %d: peel failed for indices %v", i, badIdx)
		}
		onions = plaintexts
	}

	idx, recovered, ok := InnerDecryptOne(onions, innerNonce, innerKP.Public, innerKP.Private)
	if !ok {
		t.Fatal("InnerDecryptOne failed after every outer layer was peeled")
	}
	if idx != 0 {
		t.Fatalf("idx = %d, want 0", idx)
	}
	if !bytes.Equal(recovered, payload) {
		t.Fatalf("recovered = %q, want %q", recovered, payload)
	}
}

func TestHashTranscriptDeterministicAndOrderSensitive(t *testing.T) {
	innerPubs := [][32]byte{{1}, {2}}
	outerPubs := [][32]byte{{3}, {4}}
	data := [][]byte{[]byte("a"), []byte("b")}

	h1 := HashTranscript(innerPubs, outerPubs, data)
	h2 := HashTranscript(innerPubs, outerPubs, data)
	if h1 != h2 {
		t.Fatal("HashTranscript is not deterministic for identical inputs")
	}

	swapped := [][]byte{[]byte("b"), []byte("a")}
	h3 := HashTranscript(innerPubs, outerPubs, swapped)
	if h1 == h3 {
		t.Fatal("HashTranscript did not change when member Data order changed")
	}
}

func TestInnerDecryptOneFindsOwnerAmongManyCiphertexts(t *testing.T) {
	nonce := crypto.NonceFromRound([32]byte{})
	kps := genKeys(t, 3)

	ciphertexts := make([][]byte, len(kps))
	for i, kp := range kps {
		ciphertexts[i] = crypto.InnerSeal([]byte("payload"), nonce, kp)
	}

	// Shuffle the multiset by reversing it, so InnerDecryptOne must scan
	// rather than rely on index alignment with kps.
	for i, j := 0, len(ciphertexts)-1; i < j; i, j = i+1, j-1 {
		ciphertexts[i], ciphertexts[j] = ciphertexts[j], ciphertexts[i]
	}

	target := kps[1]
	idx, payload, ok := InnerDecryptOne(ciphertexts, nonce, target.Public, target.Private)
	if !ok {
		t.Fatal("InnerDecryptOne failed to find the owning ciphertext")
	}
	if idx != len(ciphertexts)-1-1 {
		t.Fatalf("idx = %d, want %d", idx, len(ciphertexts)-1-1)
	}
	if string(payload) != "payload" {
		t.Fatalf("payload = %q, want %q", payload, "payload")
	}
}

// TestPeelBatchParallelMatchesSequential drives PeelBatch with a batch
// large enough to cross parallelPeelThreshold and checks its output
// against crypto.PeelAll run directly on the same input, including a
// scattering of malformed onions so badIdx attribution is also checked.
func TestPeelBatchParallelMatchesSequential(t *testing.T) {
	nonce := crypto.NonceFromRound([32]byte{9})
	kp, err := crypto.GenerateBoxKey()
	if err != nil {
		t.Fatal(err)
	}
	otherKp, err := crypto.GenerateBoxKey()
	if err != nil {
		t.Fatal(err)
	}

	n := parallelPeelThreshold + 10
	onions := make([][]byte, n)
	for i := range onions {
		payload := []byte{byte(i), byte(i >> 8)}
		if i%7 == 0 {
			// Sealed under the wrong key: Peel must fail for this index.
			onions[i], err = crypto.Seal(payload, nonce, []*[32]byte{otherKp.Public}, vzrand.Reader)
		} else {
			onions[i], err = crypto.Seal(payload, nonce, []*[32]byte{kp.Public}, vzrand.Reader)
		}
		if err != nil {
			t.Fatal(err)
		}
	}

	if n < parallelPeelThreshold {
		t.Fatalf("test batch size %d doesn't reach parallelPeelThreshold %d", n, parallelPeelThreshold)
	}

	gotPlain, gotBad := PeelBatch(kp.Private, nonce, onions)
	wantPlain, wantBad := crypto.PeelAll(kp.Private, nonce, onions)

	if len(gotBad) != len(wantBad) {
		t.Fatalf("badIdx length = %d, want %d", len(gotBad), len(wantBad))
	}
	for i := range wantBad {
		if gotBad[i] != wantBad[i] {
			t.Fatalf("badIdx[%d] = %d, want %d", i, gotBad[i], wantBad[i])
		}
	}
	if len(gotPlain) != len(wantPlain) {
		t.Fatalf("plaintexts length = %d, want %d", len(gotPlain), len(wantPlain))
	}
	for i := range wantPlain {
		if !bytes.Equal(gotPlain[i], wantPlain[i]) {
			t.Fatalf("plaintexts[%d] = %x, want %x", i, gotPlain[i], wantPlain[i])
		}
	}
}

func TestInnerDecryptOneNoMatch(t *testing.T) {
	nonce := crypto.NonceFromRound([32]byte{})
	kps := genKeys(t, 2)
	ciphertexts := [][]byte{crypto.InnerSeal([]byte("payload"), nonce, kps[0])}

	if _, _, ok := InnerDecryptOne(ciphertexts, nonce, kps[1].Public, kps[1].Private); ok {
		t.Fatal("InnerDecryptOne matched a ciphertext sealed under a different key")
	}
}
