// Copyright 2016 David Lazar. All rights reserved.
// Use of this source code is governed by the GNU AGPL
// license that can be found in the LICENSE file.

package shuffleround

import (
	"crypto/ed25519"
	"sync"
	"time"

	vzrand "vuvuzela.io/crypto/rand"
	"vuvuzela.io/shuffle/crypto"
	"vuvuzela.io/shuffle/internal/perr"
	"vuvuzela.io/shuffle/internal/plog"
	"vuvuzela.io/shuffle/transcript"
	"vuvuzela.io/shuffle/wire"
)

// State is one phase of the shuffle round state machine.
type State int

const (
	Offline State = iota
	KeySharing
	DataSubmission
	WaitingForShuffle
	Shuffling
	WaitingForEncryptedInnerData
	Verification
	PrivateKeySharing
	Decryption
	Finished
	Blame
	BlameFinished
	Aborted
)

func (s State) String() string {
	switch s {
	case Offline:
		return "Offline"
	case KeySharing:
		return "KeySharing"
	case DataSubmission:
		return "DataSubmission"
	case WaitingForShuffle:
		return "WaitingForShuffle"
	case Shuffling:
		return "Shuffling"
	case WaitingForEncryptedInnerData:
		return "WaitingForEncryptedInnerData"
	case Verification:
		return "Verification"
	case PrivateKeySharing:
		return "PrivateKeySharing"
	case Decryption:
		return "Decryption"
	case Finished:
		return "Finished"
	case Blame:
		return "Blame"
	case BlameFinished:
		return "BlameFinished"
	case Aborted:
		return "Aborted"
	default:
		return "Unknown"
	}
}

// Network is the transport collaborator consumed by the round.
// Implementations must preserve per-(src,dst) FIFO order.
type Network interface {
	Send(to MemberID, data []byte)
	Broadcast(data []byte)
}

// Sink receives the delivered multiset of payloads on successful
// termination.
type Sink interface {
	Deliver(payloads [][]byte)
}

// Clock supplies the current time for timeout evaluation.
type Clock interface {
	Now() time.Time
}

// StatusKind is the coarse outcome reported by Round.Status.
type StatusKind int

const (
	StatusRunning StatusKind = iota
	StatusFinished
	StatusAborted
)

// RoundStatus is the result of Round.Status.
type RoundStatus struct {
	Kind     StatusKind
	Payloads [][]byte   // valid iff Kind == StatusFinished
	BlameSet []MemberID // valid iff Kind == StatusAborted
}

// Credentials bundles a member's long-lived signing identity, passed in
// at round construction.
type Credentials struct {
	SigningKey ed25519.PrivateKey
}

// Config carries optional knobs as a configuration struct rather than
// subclassing: instrumentation hooks fired at fixed points in the round.
type Config struct {
	Hooks *Hooks

	// PhaseTimeout bounds every waiting state. Zero means no timeout is
	// enforced.
	PhaseTimeout time.Duration
}

// Round is one execution of the shuffle state machine: it lives through
// one execution and is not reusable.
type Round struct {
	mu sync.Mutex

	group   *Group
	local   Local
	roundID [32]byte
	creds   Credentials
	net     Network
	sink    Sink
	clock   Clock
	cfg     Config
	logger  *plog.Logger

	state State

	innerKP *crypto.BoxKeyPair
	outerKP *crypto.BoxKeyPair

	log *transcript.Log

	payload []byte // this member's own payload, set by SetPayload before Start

	innerPubs [][32]byte // member order, filled during KeySharing
	outerPubs [][32]byte
	dataByMember [][]byte // member-ordered original Data ciphertexts, for the transcript hash

	shuffleOutput [][]byte // this shuffler's own permuted, peeled output (kept for blame replay)
	encryptedData [][]byte // final ciphertext multiset from the last shuffler
	deliveredPayloads [][]byte // decrypted payloads, set on entry to Finished

	transcriptHash crypto.Digest
	goNoGoVotes    map[MemberID]bool         // true == go
	goNoGoHashes   map[MemberID]crypto.Digest

	privateKeys map[MemberID]*[32]byte // revealed inner private keys, by sender

	blameSet  map[MemberID]bool
	inBlame   bool
	blameSubs map[MemberID]*wire.BlamePayload

	deadline time.Time

	outerNonce *[24]byte
	innerNonce *[24]byte
}

// NewRound constructs one shuffle round instance.
func NewRound(group *Group, localID MemberID, roundID [32]byte, creds Credentials, net Network, sink Sink, clock Clock, cfg Config) *Round {
	r := &Round{
		group:   group,
		local:   newLocal(group, localID),
		roundID: roundID,
		creds:   creds,
		net:     net,
		sink:    sink,
		clock:   clock,
		cfg:     cfg,
		logger:  plog.WithFields(plog.Fields{"round": roundID, "member": localID}),
		state:   Offline,
		log:     transcript.New(),

		goNoGoVotes:  make(map[MemberID]bool),
		goNoGoHashes: make(map[MemberID]crypto.Digest),
		privateKeys: make(map[MemberID]*[32]byte),
		blameSet:    make(map[MemberID]bool),
		blameSubs:   make(map[MemberID]*wire.BlamePayload),

		outerNonce: crypto.NonceFromRound(roundID),
		innerNonce: crypto.NonceFromRound(roundID),
	}
	return r
}

// SetPayload sets the fixed-size message this member contributes to the
// shuffle. It must be called before Start.
func (r *Round) SetPayload(payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payload = payload
}

// Status reports the round's current outcome.
func (r *Round) Status() RoundStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.state {
	case Finished:
		return RoundStatus{Kind: StatusFinished, Payloads: r.deliveredPayloads}
	case BlameFinished, Aborted:
		return RoundStatus{Kind: StatusAborted, BlameSet: r.sortedBlameSet()}
	default:
		return RoundStatus{Kind: StatusRunning}
	}
}

// GetState returns the current state, for callers observing the round.
func (r *Round) GetState() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// GetGo reports member i's GoNoGo vote, if received yet.
func (r *Round) GetGo(i MemberID) (vote bool, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	vote, ok = r.goNoGoVotes[i]
	return
}

func (r *Round) sortedBlameSet() []MemberID {
	out := make([]MemberID, 0, len(r.blameSet))
	for m := range r.blameSet {
		out = append(out, m)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// Start transitions Offline -> KeySharing.
func (r *Round) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != Offline {
		return perr.New("shuffleround: Start called in state %s", r.state)
	}

	kp, err := crypto.GenerateBoxKey()
	if err != nil {
		return r.abortLocked(perr.Wrap(err, "generating inner key pair"))
	}
	r.innerKP = kp

	if r.outerKP == nil {
		okp, err := crypto.GenerateBoxKeyFrom(vzrand.Reader)
		if err != nil {
			return r.abortLocked(perr.Wrap(err, "generating outer key pair"))
		}
		r.outerKP = okp
	}

	r.state = KeySharing
	r.setDeadlineLocked()
	r.logger.Info("started round, entering KeySharing")

	r.broadcastPublicKeysLocked()
	return nil
}

// abortLocked terminates the round in the Aborted state with an empty
// blame set: an internal cryptographic failure (as opposed to a peer
// misbehaving) is fatal to the round rather than attributable to anyone.
func (r *Round) abortLocked(err error) error {
	r.logger.Error("aborting round: ", err)
	r.state = Aborted
	r.destroyKeysLocked()
	return err
}

// destroyKeysLocked zeroes key material: the inner key is destroyed on
// entry to Finished (never broadcast on success); the outer key is
// destroyed on entry to Finished, or broadcast first then destroyed in
// Blame.
func (r *Round) destroyKeysLocked() {
	if r.innerKP != nil {
		r.innerKP.Zero()
	}
	if r.outerKP != nil {
		r.outerKP.Zero()
	}
}

// Deliver injects an inbound message from the network.
func (r *Round) Deliver(data []byte, from MemberID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliverLocked(data, from)
}

func (r *Round) deliverLocked(data []byte, from MemberID) {
	if r.terminal() {
		return
	}

	env, err := wire.Unmarshal(data, r.group.N())
	if err != nil {
		r.logger.Debug("dropping malformed message: ", err)
		return
	}
	if MemberID(env.Sender) != from {
		r.logger.Debug("dropping message with mismatched sender/transport id")
		return
	}

	r.ingestLocked(env)
}

// ingestLocked is the single path by which a well-formed envelope, whether
// received over the network or produced locally, enters the transcript
// log and drives the state machine. Every message this member sends is
// also ingested here so its own log (used by Blame's snapshot) contains
// its own actions as well as everyone else's.
func (r *Round) ingestLocked(env *wire.Envelope) {
	key := r.group.Key(MemberID(env.Sender))
	if key == nil {
		return
	}

	result := r.log.Append(env, key)
	switch result {
	case transcript.SignatureInvalid:
		r.logger.Debug("dropping message with invalid signature from ", env.Sender)
		return
	case transcript.DuplicateIgnored:
		return
	}

	r.evaluateLocked(env)
}

// signEnvelopeLocked builds and signs an envelope from this member for
// phase/payload: the signature covers the canonical encoding of the
// round identifier, phase tag, sender, and payload.
func (r *Round) signEnvelopeLocked(phase wire.Phase, payload []byte) *wire.Envelope {
	env := &wire.Envelope{
		RoundID: r.roundID,
		Phase:   phase,
		Sender:  uint32(r.local.ID),
		Payload: payload,
	}
	env.Sig = crypto.Sign(r.creds.SigningKey, env.SigningBytes())
	return env
}

// broadcastLocked signs and broadcasts a message from this member, then
// ingests it into the local log exactly as a received message would be:
// broadcasting is equivalent to sending to every member including the
// sender itself, so the sender observes its own action too.
func (r *Round) broadcastLocked(phase wire.Phase, payload []byte) {
	env := r.signEnvelopeLocked(phase, payload)
	r.net.Broadcast(env.Marshal())
	r.ingestLocked(env)
}

// sendToLocked signs and unicasts a message from this member to a single
// recipient, then ingests it locally (see broadcastLocked).
func (r *Round) sendToLocked(to MemberID, phase wire.Phase, payload []byte) {
	env := r.signEnvelopeLocked(phase, payload)
	r.net.Send(to, env.Marshal())
	r.ingestLocked(env)
}

func (r *Round) terminal() bool {
	switch r.state {
	case Finished, BlameFinished, Aborted:
		return true
	default:
		return false
	}
}

// Tick advances timeouts: callers invoke it periodically with the current
// time, and the round itself decides whether its phase deadline has passed.
func (r *Round) Tick(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.terminal() {
		return
	}
	if r.deadline.IsZero() || now.Before(r.deadline) {
		return
	}
	r.onTimeoutLocked()
}

func (r *Round) setDeadlineLocked() {
	if r.cfg.PhaseTimeout <= 0 || r.clock == nil {
		r.deadline = time.Time{}
		return
	}
	r.deadline = r.clock.Now().Add(r.cfg.PhaseTimeout)
}
