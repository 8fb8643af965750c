// Copyright 2016 David Lazar. All rights reserved.
// Use of this source code is governed by the GNU AGPL
// license that can be found in the LICENSE file.

package shuffleround

import (
	"bytes"
	"sort"

	vzrand "vuvuzela.io/crypto/rand"
	"vuvuzela.io/crypto/shuffle"
	"vuvuzela.io/shuffle/crypto"
	"vuvuzela.io/shuffle/internal/perr"
	"vuvuzela.io/shuffle/pipeline"
	"vuvuzela.io/shuffle/wire"
)

// evaluateLocked dispatches an accepted envelope to the phase handler for
// the round's current state. A message whose phase doesn't correspond to
// an active wait is inert: the log already has it (see ingestLocked), and
// a later transition's phase-complete check will find it there once the
// round catches up.
func (r *Round) evaluateLocked(env *wire.Envelope) {
	switch env.Phase {
	case wire.PhasePublicKeys:
		if r.state == KeySharing {
			r.maybeFinishKeySharingLocked()
		}
	case wire.PhaseData:
		// Every member, not only shuffler[0], collects the member-ordered
		// Data ciphertexts as they're broadcast in: the transcript hash
		// is computed over them by every honest peer.
		r.maybeCollectDataByMemberLocked()
		if r.state == WaitingForShuffle && r.local.IsShuffler && r.local.ShufflerPos == 0 {
			r.maybeStartShuffler0Locked()
		}
	case wire.PhaseShuffle:
		if r.state == WaitingForShuffle && r.local.IsShuffler && r.local.ShufflerPos > 0 {
			r.maybeAcceptShuffleInputLocked(env)
		}
	case wire.PhaseEncryptedData:
		if r.state == WaitingForEncryptedInnerData {
			r.maybeFinishWaitingForEncryptedDataLocked(env)
		}
	case wire.PhaseGoNoGo:
		if r.state == Verification {
			r.maybeFinishVerificationLocked()
		}
	case wire.PhasePrivateKey:
		if r.state == PrivateKeySharing {
			r.maybeFinishPrivateKeySharingLocked()
		}
	case wire.PhaseBlame:
		if r.state == Blame {
			r.maybeFinishBlameLocked()
		}
	}
}

// broadcastPublicKeysLocked sends this member's (inner pub, outer pub)
// pair, entering the round at KeySharing.
func (r *Round) broadcastPublicKeysLocked() {
	p := &wire.PublicKeysPayload{InnerPub: *r.innerKP.Public, OuterPub: *r.outerKP.Public}
	r.broadcastLocked(wire.PhasePublicKeys, p.Marshal())
}

// maybeFinishKeySharingLocked advances KeySharing -> DataSubmission once
// every member's PublicKeys message is in.
func (r *Round) maybeFinishKeySharingLocked() {
	n := r.group.N()
	if r.log.CountPhase(wire.PhasePublicKeys) < n {
		return
	}

	innerPubs := make([][32]byte, n)
	outerPubs := make([][32]byte, n)
	for i := 0; i < n; i++ {
		e, ok := r.log.Get(wire.PhasePublicKeys, uint32(i))
		if !ok {
			// A member is still missing; the count above already
			// confirmed n distinct senders, so this can't happen for a
			// well-formed log, but bail rather than index with stale data.
			return
		}
		p, err := wire.UnmarshalPublicKeys(e.Payload())
		if err != nil {
			r.enterBlameLocked([]MemberID{MemberID(i)}, "malformed PublicKeys payload")
			return
		}
		innerPubs[i] = p.InnerPub
		outerPubs[i] = p.OuterPub
	}
	r.innerPubs = innerPubs
	r.outerPubs = outerPubs

	r.state = DataSubmission
	r.setDeadlineLocked()
	r.logger.Info("entering DataSubmission")

	r.broadcastOwnDataLocked()
}

// broadcastOwnDataLocked builds this member's onion-encrypted Data
// ciphertext and publishes it. The message is transported as a broadcast
// rather than a true unicast: the transcript hash is computed over every
// member's Data by every honest peer, which requires every member to
// observe every Data ciphertext, not only shuffler[0]. The cryptographic
// target of Data remains shuffler[0] alone -- every other recipient
// merely logs it for the transcript.
func (r *Round) broadcastOwnDataLocked() {
	shufflerOuterPubs := make([]*[32]byte, r.group.S())
	for k, id := range r.group.Shufflers {
		pub := r.outerPubs[id]
		shufflerOuterPubs[k] = &pub
	}

	ciphertext, err := pipeline.OuterEncrypt(r.payload, r.innerKP, r.innerNonce, shufflerOuterPubs, r.outerNonce, vzrand.Reader)
	if err != nil {
		r.abortLocked(perr.Wrap(err, "sealing onion-encrypted Data"))
		return
	}

	p := &wire.DataPayload{Ciphertext: ciphertext}
	r.broadcastLocked(wire.PhaseData, p.Marshal())

	if r.local.IsShuffler {
		r.state = WaitingForShuffle
	} else {
		r.state = WaitingForEncryptedInnerData
	}
	r.setDeadlineLocked()
	r.logger.Info("entering ", r.state)

	// The own Data copy was self-ingested while still in DataSubmission;
	// if it completed the set, shuffler[0] has to start from here.
	if r.state == WaitingForShuffle && r.local.IsShuffler && r.local.ShufflerPos == 0 {
		r.maybeStartShuffler0Locked()
	}
}

// maybeCollectDataByMemberLocked fills r.dataByMember, in member order,
// once every member's Data message has been logged. It is idempotent and
// safe to call on every PhaseData arrival regardless of this member's
// role or current state.
func (r *Round) maybeCollectDataByMemberLocked() {
	if r.dataByMember != nil {
		return
	}
	n := r.group.N()
	if r.log.CountPhase(wire.PhaseData) < n {
		return
	}

	dataByMember := make([][]byte, n)
	for i := 0; i < n; i++ {
		e, ok := r.log.Get(wire.PhaseData, uint32(i))
		if !ok {
			return
		}
		p, err := wire.UnmarshalData(e.Payload())
		if err != nil {
			r.enterBlameLocked([]MemberID{MemberID(i)}, "malformed Data payload")
			return
		}
		dataByMember[i] = p.Ciphertext
	}
	r.dataByMember = dataByMember
}

// maybeStartShuffler0Locked runs shuffler[0]'s input-gathering wait:
// shuffler[0] waits for all Data messages before peeling.
func (r *Round) maybeStartShuffler0Locked() {
	if r.dataByMember == nil {
		return
	}
	n := r.group.N()
	input := make([][]byte, n)
	origin := make([]MemberID, n)
	copy(input, r.dataByMember)
	for i := range origin {
		origin[i] = MemberID(i)
	}

	r.runShufflingLocked(input, origin)
}

// maybeAcceptShuffleInputLocked handles an inbound Shuffle message for a
// shuffler at position > 0: it must come from shuffler[k-1]; any other
// sender while waiting is an out-of-order Shuffle message, a protocol
// violation.
func (r *Round) maybeAcceptShuffleInputLocked(env *wire.Envelope) {
	expected := r.group.Shufflers[r.local.ShufflerPos-1]
	if MemberID(env.Sender) != expected {
		r.enterBlameLocked([]MemberID{MemberID(env.Sender)}, "out-of-order Shuffle message")
		return
	}

	e, ok := r.log.Get(wire.PhaseShuffle, env.Sender)
	if !ok {
		return
	}
	p, err := wire.UnmarshalShuffle(e.Payload())
	if err != nil {
		r.enterBlameLocked([]MemberID{expected}, "malformed Shuffle payload")
		return
	}

	r.runShufflingLocked(p.Ciphertexts, nil)
}

// runShufflingLocked is the Shuffling phase: peel exactly one outer layer
// off every input ciphertext, permute uniformly at random, and forward.
// A peel failure drives the round directly into Blame, attributing the
// failure to the original Data sender at position 0 (origin is non-nil
// there) or to the preceding shuffler otherwise.
func (r *Round) runShufflingLocked(input [][]byte, origin []MemberID) {
	r.state = Shuffling
	r.logger.Info("entering Shuffling")

	plaintexts, badIdx := pipeline.PeelBatch(r.outerKP.Private, r.outerNonce, input)
	if len(badIdx) > 0 {
		accused := make([]MemberID, 0, len(badIdx))
		for _, idx := range badIdx {
			if origin != nil {
				accused = append(accused, origin[idx])
			} else {
				accused = append(accused, r.group.Shufflers[r.local.ShufflerPos-1])
			}
		}
		r.enterBlameLocked(accused, "peel failure during Shuffling")
		return
	}

	shuffler := shuffle.New(vzrand.Reader, len(plaintexts))
	shuffler.Shuffle(plaintexts)
	r.shuffleOutput = plaintexts

	// The state must already read WaitingForEncryptedInnerData before the
	// EncryptedData broadcast goes out: when this member is also the last
	// shuffler, broadcastLocked self-ingests that very message, and
	// evaluateLocked only routes a PhaseEncryptedData envelope to its
	// handler while the round is in this state. EncryptedData is produced
	// by exactly one member, so unlike the other phases its completeness
	// predicate can be satisfied by a single, self-ingested message.
	r.state = WaitingForEncryptedInnerData
	r.setDeadlineLocked()
	r.logger.Info("entering WaitingForEncryptedInnerData")

	last := r.local.ShufflerPos == r.group.S()-1
	if last {
		r.encryptedData = plaintexts
		p := &wire.EncryptedDataPayload{Ciphertexts: plaintexts}
		r.broadcastLocked(wire.PhaseEncryptedData, p.Marshal())
	} else {
		next := r.group.Shufflers[r.local.ShufflerPos+1]
		p := &wire.ShufflePayload{Ciphertexts: plaintexts}
		r.sendToLocked(next, wire.PhaseShuffle, p.Marshal())
	}
}

// maybeFinishWaitingForEncryptedDataLocked handles the broadcast
// EncryptedData message from the last shuffler.
func (r *Round) maybeFinishWaitingForEncryptedDataLocked(env *wire.Envelope) {
	last := r.group.Shufflers[r.group.S()-1]
	if MemberID(env.Sender) != last {
		// Only the last shuffler may produce this phase.
		return
	}

	e, ok := r.log.Get(wire.PhaseEncryptedData, uint32(last))
	if !ok {
		return
	}
	p, err := wire.UnmarshalEncryptedData(e.Payload())
	if err != nil {
		r.enterBlameLocked([]MemberID{last}, "malformed EncryptedData payload")
		return
	}
	r.encryptedData = p.Ciphertexts

	r.transcriptHash = pipeline.HashTranscript(r.innerPubs, r.outerPubs, r.dataByMember)

	// A dropped (or duplicated) ciphertext changes the final count without
	// touching the transcript hash, which is computed from the submitted
	// Data alone: a size mismatch is the one thing an honest member can
	// catch here, before any outer key is revealed in Blame.
	countOK := len(r.encryptedData) == r.group.N()
	gp := &wire.GoNoGoPayload{Hash: [32]byte(r.transcriptHash), Go: countOK}
	r.state = Verification
	r.setDeadlineLocked()
	r.logger.Info("entering Verification")
	r.broadcastLocked(wire.PhaseGoNoGo, gp.Marshal())
}

// maybeFinishVerificationLocked advances Verification -> PrivateKeySharing
// once every member's GoNoGo ballot is in, or drives the round into Blame
// if any ballot is no-go or any hash disagrees with the local transcript
// hash. A no-go vote or a differing hash only identifies that something is
// wrong, not who caused it -- a no-go voter is as likely to be the honest
// party that caught the problem as the culprit -- so nobody is preaccused
// here; blameReplayLocked finds the actual culprit once every log and
// outer key is in.
func (r *Round) maybeFinishVerificationLocked() {
	n := r.group.N()
	if r.log.CountPhase(wire.PhaseGoNoGo) < n {
		return
	}

	var malformed []MemberID
	disagreement := false
	for i := 0; i < n; i++ {
		e, ok := r.log.Get(wire.PhaseGoNoGo, uint32(i))
		if !ok {
			return
		}
		p, err := wire.UnmarshalGoNoGo(e.Payload())
		if err != nil {
			malformed = append(malformed, MemberID(i))
			continue
		}
		r.goNoGoVotes[MemberID(i)] = p.Go
		r.goNoGoHashes[MemberID(i)] = crypto.Digest(p.Hash)
		if !p.Go || crypto.Digest(p.Hash) != r.transcriptHash {
			disagreement = true
		}
	}
	if len(malformed) > 0 {
		r.enterBlameLocked(malformed, "malformed GoNoGo payload")
		return
	}
	if disagreement {
		r.enterBlameLocked(nil, "GoNoGo disagreement")
		return
	}

	pk := &wire.PrivateKeyPayload{InnerPriv: *r.innerKP.Private}
	r.state = PrivateKeySharing
	r.setDeadlineLocked()
	r.logger.Info("entering PrivateKeySharing")
	r.broadcastLocked(wire.PhasePrivateKey, pk.Marshal())
}

// maybeFinishPrivateKeySharingLocked advances PrivateKeySharing ->
// Decryption -> Finished once every member's inner private key is
// revealed.
func (r *Round) maybeFinishPrivateKeySharingLocked() {
	n := r.group.N()
	if r.log.CountPhase(wire.PhasePrivateKey) < n {
		return
	}

	innerPrivs := make([]*[32]byte, n)
	for i := 0; i < n; i++ {
		e, ok := r.log.Get(wire.PhasePrivateKey, uint32(i))
		if !ok {
			return
		}
		p, err := wire.UnmarshalPrivateKey(e.Payload())
		if err != nil {
			r.enterBlameLocked([]MemberID{MemberID(i)}, "malformed PrivateKey payload")
			return
		}
		priv := p.InnerPriv
		innerPrivs[i] = &priv
		r.privateKeys[MemberID(i)] = &priv
	}

	r.state = Decryption
	r.logger.Info("entering Decryption")
	if r.cfg.Hooks != nil && r.cfg.Hooks.OnDecrypt != nil {
		r.cfg.Hooks.OnDecrypt()
	}

	remaining := append([][]byte(nil), r.encryptedData...)
	payloads := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		pub := r.innerPubs[i]
		idx, pt, ok := pipeline.InnerDecryptOne(remaining, r.innerNonce, &pub, innerPrivs[i])
		if !ok {
			r.enterBlameLocked([]MemberID{}, "undecryptable inner payload after key reveal")
			return
		}
		payloads = append(payloads, pt)
		remaining = append(remaining[:idx], remaining[idx+1:]...)
	}

	r.deliveredPayloads = payloads
	r.sink.Deliver(payloads)

	r.state = Finished
	r.destroyKeysLocked()
	r.logger.Info("Finished")
}

// multisetEqual reports whether a and b contain the same byte slices, up
// to order.
func multisetEqual(a, b [][]byte) bool {
	if len(a) != len(b) {
		return false
	}
	sa := sortedCopy(a)
	sb := sortedCopy(b)
	for i := range sa {
		if !bytes.Equal(sa[i], sb[i]) {
			return false
		}
	}
	return true
}

func sortedCopy(in [][]byte) [][]byte {
	out := make([][]byte, len(in))
	copy(out, in)
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i], out[j]) < 0 })
	return out
}

// onTimeoutLocked handles an expired phase deadline: Blame itself
// finalizes with whatever logs arrived, every other waiting state enters
// Blame accusing whichever members failed to produce the expected
// message.
func (r *Round) onTimeoutLocked() {
	if r.state == Blame {
		r.finishBlameLocked()
		return
	}
	missing := r.missingSendersForCurrentPhaseLocked()
	r.enterBlameLocked(missing, "timeout")
}

// missingSendersForCurrentPhaseLocked identifies, for the round's current
// waiting state, which members have not yet produced the message the
// phase-complete predicate is waiting on.
func (r *Round) missingSendersForCurrentPhaseLocked() []MemberID {
	n := r.group.N()
	var phase wire.Phase

	switch r.state {
	case KeySharing:
		phase = wire.PhasePublicKeys
	case WaitingForShuffle:
		if r.local.ShufflerPos == 0 {
			phase = wire.PhaseData
		} else {
			prev := r.group.Shufflers[r.local.ShufflerPos-1]
			if !r.log.Has(wire.PhaseShuffle, uint32(prev)) {
				return []MemberID{prev}
			}
			return nil
		}
	case WaitingForEncryptedInnerData:
		last := r.group.Shufflers[r.group.S()-1]
		if !r.log.Has(wire.PhaseEncryptedData, uint32(last)) {
			return []MemberID{last}
		}
		return nil
	case Verification:
		phase = wire.PhaseGoNoGo
	case PrivateKeySharing:
		phase = wire.PhasePrivateKey
	default:
		return nil
	}

	var missing []MemberID
	for i := 0; i < n; i++ {
		if !r.log.Has(phase, uint32(i)) {
			missing = append(missing, MemberID(i))
		}
	}
	return missing
}
