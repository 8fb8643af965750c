// Copyright 2016 David Lazar. All rights reserved.
// Use of this source code is governed by the GNU AGPL
// license that can be found in the LICENSE file.

package transcript

import (
	"crypto/ed25519"
	"testing"

	vzrand "vuvuzela.io/crypto/rand"

	"vuvuzela.io/shuffle/crypto"
	"vuvuzela.io/shuffle/wire"
)

func signedEnvelope(t *testing.T, key ed25519.PrivateKey, phase wire.Phase, sender uint32, payload []byte) *wire.Envelope {
	t.Helper()
	var roundID [32]byte
	roundID[0] = 1
	env := &wire.Envelope{RoundID: roundID, Phase: phase, Sender: sender, Payload: payload}
	env.Sig = crypto.Sign(key, env.SigningBytes())
	return env
}

func TestAppendAndGet(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(vzrand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	l := New()
	env := signedEnvelope(t, priv, wire.PhaseData, 0, []byte("ciphertext"))

	if r := l.Append(env, pub); r != Accepted {
		t.Fatalf("Append = %v, want Accepted", r)
	}
	e, ok := l.Get(wire.PhaseData, 0)
	if !ok {
		t.Fatal("Get did not find the appended entry")
	}
	if string(e.Payload()) != "ciphertext" {
		t.Fatalf("Payload() = %q, want %q", e.Payload(), "ciphertext")
	}
}

func TestAppendRejectsBadSignature(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(vzrand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	_, otherPriv, err := ed25519.GenerateKey(vzrand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	l := New()
	env := signedEnvelope(t, otherPriv, wire.PhaseData, 0, []byte("ciphertext"))

	if r := l.Append(env, pub); r != SignatureInvalid {
		t.Fatalf("Append = %v, want SignatureInvalid", r)
	}
	if l.Has(wire.PhaseData, 0) {
		t.Fatal("an entry with an invalid signature was recorded")
	}
}

func TestAppendIgnoresDuplicate(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(vzrand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	l := New()
	first := signedEnvelope(t, priv, wire.PhaseData, 0, []byte("first"))
	second := signedEnvelope(t, priv, wire.PhaseData, 0, []byte("second"))

	if r := l.Append(first, pub); r != Accepted {
		t.Fatalf("first Append = %v, want Accepted", r)
	}
	if r := l.Append(second, pub); r != DuplicateIgnored {
		t.Fatalf("second Append = %v, want DuplicateIgnored", r)
	}

	e, _ := l.Get(wire.PhaseData, 0)
	if string(e.Payload()) != "first" {
		t.Fatal("the later message for an already-seen (sender, phase) overwrote the first")
	}
}

func TestCountPhase(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(vzrand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	l := New()
	for i := uint32(0); i < 3; i++ {
		env := signedEnvelope(t, priv, wire.PhaseData, i, []byte("x"))
		if r := l.Append(env, pub); r != Accepted {
			t.Fatalf("Append(%d) = %v, want Accepted", i, r)
		}
	}
	if n := l.CountPhase(wire.PhaseData); n != 3 {
		t.Fatalf("CountPhase(Data) = %d, want 3", n)
	}
	if n := l.CountPhase(wire.PhaseGoNoGo); n != 0 {
		t.Fatalf("CountPhase(GoNoGo) = %d, want 0", n)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(vzrand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	l := New()
	envs := []*wire.Envelope{
		signedEnvelope(t, priv, wire.PhasePublicKeys, 0, []byte("pubkeys")),
		signedEnvelope(t, priv, wire.PhaseData, 0, []byte("data")),
	}
	for _, env := range envs {
		if r := l.Append(env, pub); r != Accepted {
			t.Fatalf("Append = %v, want Accepted", r)
		}
	}

	entries, err := ParseSnapshot(l.Snapshot())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != len(envs) {
		t.Fatalf("got %d entries, want %d", len(entries), len(envs))
	}
	for i, e := range entries {
		if e.Phase != envs[i].Phase || e.Sender != envs[i].Sender {
			t.Fatalf("entry %d = (phase %v, sender %d), want (phase %v, sender %d)", i, e.Phase, e.Sender, envs[i].Phase, envs[i].Sender)
		}
		if string(e.Payload()) != string(envs[i].Payload) {
			t.Fatalf("entry %d payload = %q, want %q", i, e.Payload(), envs[i].Payload)
		}
	}
	if !Verify(entries, [][]byte{pub}) {
		t.Fatal("Verify rejected a snapshot signed by the claimed key")
	}
}

func TestVerifyRejectsForgedEntry(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(vzrand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	l := New()
	env := signedEnvelope(t, priv, wire.PhaseData, 0, []byte("data"))
	l.Append(env, pub)

	entries, err := ParseSnapshot(l.Snapshot())
	if err != nil {
		t.Fatal(err)
	}
	entries[0].Sig[0] ^= 0xff
	if Verify(entries, [][]byte{pub}) {
		t.Fatal("Verify accepted a snapshot with a corrupted signature")
	}
}

func TestParseSnapshotRejectsTruncated(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(vzrand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	l := New()
	env := signedEnvelope(t, priv, wire.PhaseData, 0, []byte("data"))
	l.Append(env, pub)

	snap := l.Snapshot()
	if _, err := ParseSnapshot(snap[:len(snap)-1]); err == nil {
		t.Fatal("ParseSnapshot accepted a truncated snapshot")
	}
}
