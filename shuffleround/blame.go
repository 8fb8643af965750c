// Copyright 2016 David Lazar. All rights reserved.
// Use of this source code is governed by the GNU AGPL
// license that can be found in the LICENSE file.

package shuffleround

import (
	"bytes"

	"vuvuzela.io/shuffle/pipeline"
	"vuvuzela.io/shuffle/transcript"
	"vuvuzela.io/shuffle/wire"
)

// enterBlameLocked transitions the round into Blame from any state: a
// transcript hash mismatch, any GoNoGo no-go, timeout, or peel failure.
// preaccused members are recorded immediately; blameReplayLocked may
// accuse additional members once every submitted log is in.
func (r *Round) enterBlameLocked(preaccused []MemberID, reason string) {
	if r.terminal() || r.state == Blame {
		return
	}
	r.logger.Info("entering Blame: ", reason)
	r.state = Blame
	r.inBlame = true
	for _, m := range preaccused {
		r.blameSet[m] = true
	}

	if r.cfg.Hooks != nil && r.cfg.Hooks.OnStartBlame != nil {
		r.cfg.Hooks.OnStartBlame()
	}

	// Broadcast the outer private key before destroying it: it is only
	// ever disclosed during Blame. The inner key is never broadcast, but
	// it has no further use once the round has aborted, so it is
	// destroyed here too rather than lingering until disposal.
	var outerPriv [32]byte
	if r.outerKP != nil && r.outerKP.Private != nil {
		outerPriv = *r.outerKP.Private
		r.outerKP.Zero()
	}
	if r.innerKP != nil {
		r.innerKP.Zero()
	}

	p := &wire.BlamePayload{Log: r.log.Snapshot(), OuterPriv: outerPriv}
	r.setDeadlineLocked()
	r.broadcastLocked(wire.PhaseBlame, p.Marshal())
}

// maybeFinishBlameLocked waits for every member's Blame message;
// onTimeoutLocked finalizes early with whatever arrived.
func (r *Round) maybeFinishBlameLocked() {
	if r.log.CountPhase(wire.PhaseBlame) < r.group.N() {
		return
	}
	r.finishBlameLocked()
}

// finishBlameLocked accuses non-responders, verifies each submitted log,
// replays the shuffle deterministically using the disclosed outer keys,
// and ends the round in BlameFinished with the accused set.
func (r *Round) finishBlameLocked() {
	n := r.group.N()
	for i := 0; i < n; i++ {
		e, ok := r.log.Get(wire.PhaseBlame, uint32(i))
		if !ok {
			r.blameSet[MemberID(i)] = true // non-responder
			continue
		}
		p, err := wire.UnmarshalBlame(e.Payload())
		if err != nil {
			r.blameSet[MemberID(i)] = true
			continue
		}
		r.blameSubs[MemberID(i)] = p
	}

	if r.cfg.Hooks != nil && r.cfg.Hooks.OnBlameRound != nil {
		r.cfg.Hooks.OnBlameRound()
	}

	r.blameReplayLocked()

	r.state = BlameFinished
	r.logger.Info("BlameFinished, accused: ", r.sortedBlameSet())
}

// blameReplayLocked is the crux of the blame sub-protocol: with every
// outer private key revealed and every message log attested, each
// shuffler's declared input and output multisets are derivable and
// checked for equality. A submitter's log is verified for internal
// signature consistency before any cryptographic replay is attempted
// against it.
func (r *Round) blameReplayLocked() {
	keys := r.group.Keys()

	verifiedLogs := make(map[MemberID][]*transcript.Entry)
	for sender, p := range r.blameSubs {
		entries, err := transcript.ParseSnapshot(p.Log)
		if err != nil || !transcript.Verify(entries, keys) {
			r.blameSet[sender] = true
			continue
		}
		verifiedLogs[sender] = entries
	}
	if len(verifiedLogs) == 0 {
		return
	}

	outerPrivOf := make(map[MemberID]*[32]byte, len(verifiedLogs))
	for sender := range verifiedLogs {
		priv := r.blameSubs[sender].OuterPriv
		outerPrivOf[sender] = &priv
	}

	numMembers := r.group.N()
	dataBySender, dataEquivocators := reconcileDataAllLocked(verifiedLogs, numMembers)
	for _, m := range dataEquivocators {
		r.blameSet[m] = true
	}
	// An equivocator's Data still went into shuffler[0]'s batch: replay
	// with the copy shuffler[0] itself logged, since that is what it peeled.
	if r.group.S() > 0 {
		s0 := r.group.Shufflers[0]
		if s0Log, ok := verifiedLogs[s0]; ok {
			one := map[MemberID][]*transcript.Entry{s0: s0Log}
			for _, m := range dataEquivocators {
				if pl, _, found := collectSignedPayloadLocked(one, wire.PhaseData, m); found {
					if p, err := wire.UnmarshalData(pl); err == nil {
						dataBySender[m] = p.Ciphertext
					}
				}
			}
		}
	}

	input := make([][]byte, 0, numMembers)
	origin := make([]MemberID, 0, numMembers)
	for i := 0; i < numMembers; i++ {
		if ct, ok := dataBySender[MemberID(i)]; ok {
			input = append(input, ct)
			origin = append(origin, MemberID(i))
		}
	}

	for k, shufflerID := range r.group.Shufflers {
		isLast := k == r.group.S()-1

		declared, declaredEquivocators, declaredPresent := reconcileShuffleOutputLocked(verifiedLogs, shufflerID, isLast)
		for _, m := range declaredEquivocators {
			r.blameSet[m] = true
		}

		priv, haveKey := outerPrivOf[shufflerID]
		if !haveKey {
			// shufflerID's own Blame submission was missing or invalid
			// and it is already accused for that; without its outer key
			// this stage (and anything downstream) cannot be verified,
			// so stop rather than risk accusing an honest later shuffler
			// over a gap this member didn't create.
			break
		}

		plaintexts, badIdx := pipeline.PeelBatch(priv, r.outerNonce, input)
		for _, idx := range badIdx {
			if origin != nil {
				r.blameSet[origin[idx]] = true
			} else if k > 0 {
				r.blameSet[r.group.Shufflers[k-1]] = true
			}
		}

		if !declaredPresent {
			// A shuffler that stopped on an input that failed to peel is
			// not at fault for withholding its output.
			if len(badIdx) == 0 {
				r.blameSet[shufflerID] = true
			}
			break
		}
		if !multisetEqual(plaintexts, declared) {
			r.blameSet[shufflerID] = true
		}

		input = declared
		origin = nil
	}
}

// collectSignedPayloadLocked scans every submitted log for entries
// matching (phase, sender) and returns the payload bytes, whether two
// logs disagree on its content (equivocation: sender signed two
// different messages for the same phase), and whether any copy was
// found at all.
func collectSignedPayloadLocked(logs map[MemberID][]*transcript.Entry, phase wire.Phase, sender MemberID) (payload []byte, equivocated bool, found bool) {
	for _, entries := range logs {
		for _, e := range entries {
			if e.Phase != phase || MemberID(e.Sender) != sender {
				continue
			}
			pl := e.Payload()
			if !found {
				payload = pl
				found = true
				continue
			}
			if !bytes.Equal(payload, pl) {
				equivocated = true
			}
		}
	}
	return payload, equivocated, found
}

// reconcileDataAllLocked recovers each member's Data ciphertext from the
// union of submitted logs (Data is broadcast, so any honest log has it).
func reconcileDataAllLocked(logs map[MemberID][]*transcript.Entry, n int) (map[MemberID][]byte, []MemberID) {
	out := make(map[MemberID][]byte, n)
	var equivocators []MemberID
	for i := 0; i < n; i++ {
		sender := MemberID(i)
		payload, equivocated, found := collectSignedPayloadLocked(logs, wire.PhaseData, sender)
		if equivocated {
			equivocators = append(equivocators, sender)
			continue
		}
		if !found {
			continue
		}
		p, err := wire.UnmarshalData(payload)
		if err != nil {
			equivocators = append(equivocators, sender)
			continue
		}
		out[sender] = p.Ciphertext
	}
	return out, equivocators
}

// reconcileShuffleOutputLocked recovers shufflerID's declared output: its
// Shuffle message if it isn't the last shuffler, or the broadcast
// EncryptedData message if it is.
func reconcileShuffleOutputLocked(logs map[MemberID][]*transcript.Entry, shufflerID MemberID, isLast bool) (declared [][]byte, equivocators []MemberID, present bool) {
	phase := wire.PhaseShuffle
	if isLast {
		phase = wire.PhaseEncryptedData
	}
	payload, equivocated, found := collectSignedPayloadLocked(logs, phase, shufflerID)
	if equivocated {
		equivocators = append(equivocators, shufflerID)
	}
	if !found {
		return nil, equivocators, false
	}

	var cts [][]byte
	var err error
	if isLast {
		var p *wire.EncryptedDataPayload
		p, err = wire.UnmarshalEncryptedData(payload)
		if p != nil {
			cts = p.Ciphertexts
		}
	} else {
		var p *wire.ShufflePayload
		p, err = wire.UnmarshalShuffle(payload)
		if p != nil {
			cts = p.Ciphertexts
		}
	}
	if err != nil {
		equivocators = append(equivocators, shufflerID)
		return nil, equivocators, false
	}
	return cts, equivocators, true
}
