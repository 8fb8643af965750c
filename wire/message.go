// Copyright 2016 David Lazar. All rights reserved.
// Use of this source code is governed by the GNU AGPL
// license that can be found in the LICENSE file.

// Package wire implements the canonical message framing for the shuffle
// round protocol: the seven message kinds and their length-prefixed
// encoding, used both on the wire and as the input to signing and
// hashing.
package wire

import (
	"encoding/binary"

	"vuvuzela.io/shuffle/internal/perr"
)

// Phase identifies both the protocol message kind and the state-machine
// phase that produces it; message kind and phase name share the same tag
// space.
type Phase byte

const (
	PhasePublicKeys Phase = iota + 1
	PhaseData
	PhaseShuffle
	PhaseEncryptedData
	PhaseGoNoGo
	PhasePrivateKey
	PhaseBlame
)

func (p Phase) String() string {
	switch p {
	case PhasePublicKeys:
		return "PublicKeys"
	case PhaseData:
		return "Data"
	case PhaseShuffle:
		return "Shuffle"
	case PhaseEncryptedData:
		return "EncryptedData"
	case PhaseGoNoGo:
		return "GoNoGo"
	case PhasePrivateKey:
		return "PrivateKey"
	case PhaseBlame:
		return "Blame"
	default:
		return "Unknown"
	}
}

// ValidPhase reports whether tag is one of the seven known phase tags. An
// unrecognized tag must be dropped, never interpreted.
func ValidPhase(tag byte) bool {
	return tag >= byte(PhasePublicKeys) && tag <= byte(PhaseBlame)
}

// Envelope is the canonical wire message: round_id, phase_tag,
// sender_index, payload, and a detachable signature.
type Envelope struct {
	RoundID [32]byte
	Phase   Phase
	Sender  uint32
	Payload []byte
	Sig     []byte
}

// SigningBytes returns the canonical bytes covered by the sender's
// signature: everything in the envelope except the signature itself.
func (e *Envelope) SigningBytes() []byte {
	buf := make([]byte, 0, 32+1+4+4+len(e.Payload))
	buf = append(buf, e.RoundID[:]...)
	buf = append(buf, byte(e.Phase))
	var senderBuf [4]byte
	binary.BigEndian.PutUint32(senderBuf[:], e.Sender)
	buf = append(buf, senderBuf[:]...)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(e.Payload)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, e.Payload...)
	return buf
}

// Marshal produces the full on-wire byte form, including the signature
// trailer: round_id(32B), phase_tag(1B), sender_index(varint),
// payload_len(u32), payload_bytes, sig_len(u32), sig_bytes.
func (e *Envelope) Marshal() []byte {
	var senderVarint [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(senderVarint[:], uint64(e.Sender))

	buf := make([]byte, 0, 32+1+n+4+len(e.Payload)+4+len(e.Sig))
	buf = append(buf, e.RoundID[:]...)
	buf = append(buf, byte(e.Phase))
	buf = append(buf, senderVarint[:n]...)

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(e.Payload)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, e.Payload...)

	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(e.Sig)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, e.Sig...)

	return buf
}

// Unmarshal decodes the wire format produced by Marshal. A truncated
// message or one with an unrecognized phase tag is dropped: the caller
// sees an error and must not let it influence protocol state.
func Unmarshal(data []byte, numMembers int) (*Envelope, error) {
	if len(data) < 33 {
		return nil, perr.New("wire: truncated envelope header")
	}
	e := new(Envelope)
	copy(e.RoundID[:], data[:32])
	tag := data[32]
	if !ValidPhase(tag) {
		return nil, perr.New("wire: unknown phase tag %d", tag)
	}
	e.Phase = Phase(tag)
	rest := data[33:]

	sender, n := binary.Uvarint(rest)
	if n <= 0 {
		return nil, perr.New("wire: truncated sender index")
	}
	if sender >= uint64(numMembers) {
		return nil, perr.New("wire: sender index %d out of range [0,%d)", sender, numMembers)
	}
	e.Sender = uint32(sender)
	rest = rest[n:]

	if len(rest) < 4 {
		return nil, perr.New("wire: truncated payload length")
	}
	payloadLen := binary.BigEndian.Uint32(rest[:4])
	rest = rest[4:]
	if uint64(len(rest)) < uint64(payloadLen) {
		return nil, perr.New("wire: truncated payload")
	}
	e.Payload = append([]byte(nil), rest[:payloadLen]...)
	rest = rest[payloadLen:]

	if len(rest) < 4 {
		return nil, perr.New("wire: truncated signature length")
	}
	sigLen := binary.BigEndian.Uint32(rest[:4])
	rest = rest[4:]
	if uint64(len(rest)) < uint64(sigLen) {
		return nil, perr.New("wire: truncated signature")
	}
	e.Sig = append([]byte(nil), rest[:sigLen]...)

	return e, nil
}
