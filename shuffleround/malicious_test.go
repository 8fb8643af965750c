// Copyright 2016 David Lazar. All rights reserved.
// Use of this source code is governed by the GNU AGPL
// license that can be found in the LICENSE file.

package shuffleround_test

import (
	"crypto/ed25519"
	"sync"

	vzrand "vuvuzela.io/crypto/rand"
	"vuvuzela.io/crypto/shuffle"
	"vuvuzela.io/shuffle/blametest"
	"vuvuzela.io/shuffle/crypto"
	"vuvuzela.io/shuffle/pipeline"
	"vuvuzela.io/shuffle/shuffleround"
	"vuvuzela.io/shuffle/wire"
)

// signEnvelope builds and signs a raw envelope the way Round's
// signEnvelopeLocked does, for members driven directly at the wire level
// instead of through a real Round.
func signEnvelope(key ed25519.PrivateKey, roundID [32]byte, phase wire.Phase, sender shuffleround.MemberID, payload []byte) *wire.Envelope {
	env := &wire.Envelope{
		RoundID: roundID,
		Phase:   phase,
		Sender:  uint32(sender),
		Payload: payload,
	}
	env.Sig = crypto.Sign(key, env.SigningBytes())
	return env
}

func shufflerOuterPubsFor(group *shuffleround.Group, outerPubs map[shuffleround.MemberID][32]byte) []*[32]byte {
	pubs := make([]*[32]byte, len(group.Shufflers))
	for i, id := range group.Shufflers {
		pub := outerPubs[id]
		pubs[i] = &pub
	}
	return pubs
}

func shufflerPositionOf(group *shuffleround.Group, id shuffleround.MemberID) int {
	for i, s := range group.Shufflers {
		if s == id {
			return i
		}
	}
	return -1
}

// junkDataMember behaves honestly through key sharing, then broadcasts a
// Data message whose ciphertext isn't a valid onion layer for anyone --
// modeling a member that submits garbage instead of a real Data
// ciphertext (spec.md S2).
type junkDataMember struct {
	id      shuffleround.MemberID
	roundID [32]byte
	signKey ed25519.PrivateKey
	group   *shuffleround.Group
	net     *blametest.Network

	mu   sync.Mutex
	seen map[shuffleround.MemberID]bool
	sent bool
}

func newJunkDataMember(id shuffleround.MemberID, roundID [32]byte, signKey ed25519.PrivateKey, group *shuffleround.Group, net *blametest.Network) *junkDataMember {
	return &junkDataMember{id: id, roundID: roundID, signKey: signKey, group: group, net: net, seen: make(map[shuffleround.MemberID]bool)}
}

func (m *junkDataMember) Start() {
	innerKP, _ := crypto.GenerateBoxKey()
	outerKP, _ := crypto.GenerateBoxKey()
	p := &wire.PublicKeysPayload{InnerPub: *innerKP.Public, OuterPub: *outerKP.Public}
	env := signEnvelope(m.signKey, m.roundID, wire.PhasePublicKeys, m.id, p.Marshal())
	m.net.Broadcast(env.Marshal())
}

func (m *junkDataMember) Deliver(data []byte, from shuffleround.MemberID) {
	env, err := wire.Unmarshal(data, m.group.N())
	if err != nil || env.Phase != wire.PhasePublicKeys {
		return
	}

	m.mu.Lock()
	m.seen[env.Sender] = true
	ready := len(m.seen) >= m.group.N() && !m.sent
	if ready {
		m.sent = true
	}
	m.mu.Unlock()

	if !ready {
		return
	}
	dp := &wire.DataPayload{Ciphertext: []byte("this is not a valid onion-sealed ciphertext")}
	denv := signEnvelope(m.signKey, m.roundID, wire.PhaseData, m.id, dp.Marshal())
	m.net.Broadcast(denv.Marshal())
}

// droppingShufflerMember behaves honestly through key sharing and its own
// Data submission, peels and shuffles its Shuffle input like a real
// shuffler, but drops one ciphertext before forwarding (spec.md S3).
type droppingShufflerMember struct {
	id      shuffleround.MemberID
	roundID [32]byte
	signKey ed25519.PrivateKey
	group   *shuffleround.Group
	net     *blametest.Network
	payload []byte

	innerKP, outerKP       *crypto.BoxKeyPair
	innerNonce, outerNonce *[24]byte

	pos  int
	prev shuffleround.MemberID
	next shuffleround.MemberID
	last bool

	mu        sync.Mutex
	outerPubs map[shuffleround.MemberID][32]byte
	dataSent  bool
	shuffled  bool
}

func newDroppingShufflerMember(id shuffleround.MemberID, roundID [32]byte, signKey ed25519.PrivateKey, group *shuffleround.Group, net *blametest.Network, payload []byte) *droppingShufflerMember {
	pos := shufflerPositionOf(group, id)
	m := &droppingShufflerMember{
		id: id, roundID: roundID, signKey: signKey, group: group, net: net, payload: payload,
		outerNonce: crypto.NonceFromRound(roundID),
		innerNonce: crypto.NonceFromRound(roundID),
		pos:        pos,
		last:       pos == group.S()-1,
		outerPubs:  make(map[shuffleround.MemberID][32]byte),
	}
	if pos > 0 {
		m.prev = group.Shufflers[pos-1]
	}
	if !m.last {
		m.next = group.Shufflers[pos+1]
	}
	return m
}

func (m *droppingShufflerMember) Start() {
	m.innerKP, _ = crypto.GenerateBoxKey()
	m.outerKP, _ = crypto.GenerateBoxKey()
	p := &wire.PublicKeysPayload{InnerPub: *m.innerKP.Public, OuterPub: *m.outerKP.Public}
	env := signEnvelope(m.signKey, m.roundID, wire.PhasePublicKeys, m.id, p.Marshal())
	m.net.Broadcast(env.Marshal())
}

func (m *droppingShufflerMember) Deliver(data []byte, from shuffleround.MemberID) {
	env, err := wire.Unmarshal(data, m.group.N())
	if err != nil {
		return
	}

	switch env.Phase {
	case wire.PhasePublicKeys:
		p, err := wire.UnmarshalPublicKeys(env.Payload)
		if err != nil {
			return
		}
		m.mu.Lock()
		m.outerPubs[env.Sender] = p.OuterPub
		ready := len(m.outerPubs) >= m.group.N() && !m.dataSent
		if ready {
			m.dataSent = true
		}
		m.mu.Unlock()
		if ready {
			m.broadcastOwnData()
		}
	case wire.PhaseShuffle:
		if env.Sender != uint32(m.prev) {
			return
		}
		m.mu.Lock()
		already := m.shuffled
		m.shuffled = true
		m.mu.Unlock()
		if already {
			return
		}
		sp, err := wire.UnmarshalShuffle(env.Payload)
		if err != nil {
			return
		}
		m.dropAndForward(sp.Ciphertexts)
	}
}

func (m *droppingShufflerMember) broadcastOwnData() {
	shufflerOuterPubs := shufflerOuterPubsFor(m.group, m.outerPubs)
	ciphertext, err := pipeline.OuterEncrypt(m.payload, m.innerKP, m.innerNonce, shufflerOuterPubs, m.outerNonce, vzrand.Reader)
	if err != nil {
		return
	}
	dp := &wire.DataPayload{Ciphertext: ciphertext}
	env := signEnvelope(m.signKey, m.roundID, wire.PhaseData, m.id, dp.Marshal())
	m.net.Broadcast(env.Marshal())
}

// dropAndForward peels its own outer layer off every input ciphertext,
// shuffles, then forwards all but the last -- an honest shuffler's logic
// with one line of deliberate misbehavior.
func (m *droppingShufflerMember) dropAndForward(input [][]byte) {
	plaintexts, _ := pipeline.PeelBatch(m.outerKP.Private, m.outerNonce, input)
	if len(plaintexts) == 0 {
		return
	}
	shuffle.New(vzrand.Reader, len(plaintexts)).Shuffle(plaintexts)
	dropped := plaintexts[:len(plaintexts)-1]

	if m.last {
		p := &wire.EncryptedDataPayload{Ciphertexts: dropped}
		env := signEnvelope(m.signKey, m.roundID, wire.PhaseEncryptedData, m.id, p.Marshal())
		m.net.Broadcast(env.Marshal())
		return
	}
	p := &wire.ShufflePayload{Ciphertexts: dropped}
	env := signEnvelope(m.signKey, m.roundID, wire.PhaseShuffle, m.id, p.Marshal())
	m.net.Send(m.next, env.Marshal())
}

// equivocatingMember behaves honestly through key sharing, then signs two
// different Data messages and sends each to a disjoint subset of peers,
// so honest members disagree on its contribution (spec.md S5).
type equivocatingMember struct {
	id       shuffleround.MemberID
	roundID  [32]byte
	signKey  ed25519.PrivateKey
	group    *shuffleround.Group
	net      *blametest.Network
	payloadA []byte
	payloadB []byte
	sendA    []shuffleround.MemberID
	sendB    []shuffleround.MemberID

	innerKP                *crypto.BoxKeyPair
	innerNonce, outerNonce *[24]byte

	mu        sync.Mutex
	outerPubs map[shuffleround.MemberID][32]byte
	sent      bool
}

func newEquivocatingMember(id shuffleround.MemberID, roundID [32]byte, signKey ed25519.PrivateKey, group *shuffleround.Group, net *blametest.Network, payloadA, payloadB []byte, sendA, sendB []shuffleround.MemberID) *equivocatingMember {
	return &equivocatingMember{
		id: id, roundID: roundID, signKey: signKey, group: group, net: net,
		payloadA: payloadA, payloadB: payloadB, sendA: sendA, sendB: sendB,
		outerNonce: crypto.NonceFromRound(roundID),
		innerNonce: crypto.NonceFromRound(roundID),
		outerPubs:  make(map[shuffleround.MemberID][32]byte),
	}
}

func (m *equivocatingMember) Start() {
	m.innerKP, _ = crypto.GenerateBoxKey()
	outerKP, _ := crypto.GenerateBoxKey()
	p := &wire.PublicKeysPayload{InnerPub: *m.innerKP.Public, OuterPub: *outerKP.Public}
	env := signEnvelope(m.signKey, m.roundID, wire.PhasePublicKeys, m.id, p.Marshal())
	m.net.Broadcast(env.Marshal())
}

func (m *equivocatingMember) Deliver(data []byte, from shuffleround.MemberID) {
	env, err := wire.Unmarshal(data, m.group.N())
	if err != nil || env.Phase != wire.PhasePublicKeys {
		return
	}
	p, err := wire.UnmarshalPublicKeys(env.Payload)
	if err != nil {
		return
	}

	m.mu.Lock()
	m.outerPubs[env.Sender] = p.OuterPub
	ready := len(m.outerPubs) >= m.group.N() && !m.sent
	if ready {
		m.sent = true
	}
	m.mu.Unlock()
	if !ready {
		return
	}

	shufflerOuterPubs := shufflerOuterPubsFor(m.group, m.outerPubs)
	ctA, errA := pipeline.OuterEncrypt(m.payloadA, m.innerKP, m.innerNonce, shufflerOuterPubs, m.outerNonce, vzrand.Reader)
	ctB, errB := pipeline.OuterEncrypt(m.payloadB, m.innerKP, m.innerNonce, shufflerOuterPubs, m.outerNonce, vzrand.Reader)
	if errA != nil || errB != nil {
		return
	}

	envA := signEnvelope(m.signKey, m.roundID, wire.PhaseData, m.id, (&wire.DataPayload{Ciphertext: ctA}).Marshal())
	envB := signEnvelope(m.signKey, m.roundID, wire.PhaseData, m.id, (&wire.DataPayload{Ciphertext: ctB}).Marshal())
	for _, to := range m.sendA {
		m.net.Send(to, envA.Marshal())
	}
	for _, to := range m.sendB {
		m.net.Send(to, envB.Marshal())
	}
}
