// Copyright 2016 David Lazar. All rights reserved.
// Use of this source code is governed by the GNU AGPL
// license that can be found in the LICENSE file.

// Package transcript implements the append-only per-round message log.
// It is the single source of truth consulted by the blame sub-protocol:
// an honest replay of an attested log must reproduce the sender's
// observable actions.
package transcript

import (
	"encoding/binary"
	"sync"

	"github.com/dchest/siphash"

	"vuvuzela.io/shuffle/crypto"
	"vuvuzela.io/shuffle/wire"
)

// indexKeys are fixed per process; the log's in-memory index is never
// persisted or compared across participants, so they need not be secret.
const (
	indexK0 = 0x7368756666656c31
	indexK1 = 0x6f6e696f6e626f78
)

// AppendResult reports the outcome of Append.
type AppendResult int

const (
	Accepted AppendResult = iota
	DuplicateIgnored
	SignatureInvalid
)

// Entry is one accepted message: the canonical signed bytes and the
// detached signature, indexed by (phase, sender).
type Entry struct {
	Phase  wire.Phase
	Sender uint32
	Bytes  []byte
	Sig    []byte
}

// Log is the per-round transcript: at most one accepted entry per
// (sender, phase).
type Log struct {
	mu      sync.Mutex
	entries map[uint64]*Entry
	order   []*Entry
}

func New() *Log {
	return &Log{entries: make(map[uint64]*Entry)}
}

func indexKey(phase wire.Phase, sender uint32) uint64 {
	var buf [5]byte
	buf[0] = byte(phase)
	binary.BigEndian.PutUint32(buf[1:], sender)
	return siphash.Hash(indexK0, indexK1, buf[:])
}

// Append validates env's signature against verifyKey and, if the
// signature is valid and no prior message from (env.Sender, env.Phase)
// has been accepted, records it.
func (l *Log) Append(env *wire.Envelope, verifyKey []byte) AppendResult {
	if !crypto.Verify(verifyKey, env.SigningBytes(), env.Sig) {
		return SignatureInvalid
	}

	key := indexKey(env.Phase, env.Sender)

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.entries[key]; exists {
		return DuplicateIgnored
	}
	e := &Entry{
		Phase:  env.Phase,
		Sender: env.Sender,
		Bytes:  env.SigningBytes(),
		Sig:    append([]byte(nil), env.Sig...),
	}
	l.entries[key] = e
	l.order = append(l.order, e)
	return Accepted
}

// signingHeaderSize is the fixed-width prefix of wire.Envelope.SigningBytes
// before the payload: RoundID(32) + Phase(1) + Sender(4) + PayloadLen(4).
const signingHeaderSize = 32 + 1 + 4 + 4

// Payload returns the payload portion of an entry's canonical signing
// bytes, recovered by slicing past the fixed-width header that
// wire.Envelope.SigningBytes always writes. This lets callers recover the
// typed payload (e.g. wire.UnmarshalPublicKeys) without storing it twice.
func (e *Entry) Payload() []byte {
	if len(e.Bytes) < signingHeaderSize {
		return nil
	}
	return e.Bytes[signingHeaderSize:]
}

// Get returns the accepted entry for (sender, phase), if any.
func (l *Log) Get(phase wire.Phase, sender uint32) (*Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[indexKey(phase, sender)]
	return e, ok
}

// Has reports whether an entry has been accepted for (sender, phase).
func (l *Log) Has(phase wire.Phase, sender uint32) bool {
	_, ok := l.Get(phase, sender)
	return ok
}

// CountPhase returns the number of distinct senders with an accepted
// entry for phase, used to evaluate phase-complete predicates.
func (l *Log) CountPhase(phase wire.Phase) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.order {
		if e.Phase == phase {
			n++
		}
	}
	return n
}

// Snapshot serializes every accepted entry, in acceptance order, as the
// canonical byte form the Blame message carries.
func (l *Log) Snapshot() []byte {
	l.mu.Lock()
	defer l.mu.Unlock()

	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(len(l.order)))
	for _, e := range l.order {
		var hdr [9]byte
		hdr[0] = byte(e.Phase)
		binary.BigEndian.PutUint32(hdr[1:5], e.Sender)
		binary.BigEndian.PutUint32(hdr[5:9], uint32(len(e.Bytes)))
		buf = append(buf, hdr[:]...)
		buf = append(buf, e.Bytes...)
		var sigLen [4]byte
		binary.BigEndian.PutUint32(sigLen[:], uint32(len(e.Sig)))
		buf = append(buf, sigLen[:]...)
		buf = append(buf, e.Sig...)
	}
	return buf
}

// ParseSnapshot decodes the bytes produced by Snapshot back into entries,
// without verifying signatures (callers verify against the claimed
// sender's key, which requires knowing the Group).
func ParseSnapshot(data []byte) ([]*Entry, error) {
	if len(data) < 4 {
		return nil, errShort
	}
	count := binary.BigEndian.Uint32(data[:4])
	rest := data[4:]
	entries := make([]*Entry, 0, count)
	for i := uint32(0); i < count; i++ {
		if len(rest) < 9 {
			return nil, errShort
		}
		phase := wire.Phase(rest[0])
		sender := binary.BigEndian.Uint32(rest[1:5])
		bodyLen := binary.BigEndian.Uint32(rest[5:9])
		rest = rest[9:]
		if uint64(len(rest)) < uint64(bodyLen) {
			return nil, errShort
		}
		body := append([]byte(nil), rest[:bodyLen]...)
		rest = rest[bodyLen:]
		if len(rest) < 4 {
			return nil, errShort
		}
		sigLen := binary.BigEndian.Uint32(rest[:4])
		rest = rest[4:]
		if uint64(len(rest)) < uint64(sigLen) {
			return nil, errShort
		}
		sig := append([]byte(nil), rest[:sigLen]...)
		rest = rest[sigLen:]
		entries = append(entries, &Entry{Phase: phase, Sender: sender, Bytes: body, Sig: sig})
	}
	return entries, nil
}

// Verify checks every entry's signature against verifyKeys (indexed by
// sender) and reports whether every entry verified.
func Verify(entries []*Entry, verifyKeys [][]byte) (ok bool) {
	ok = true
	for _, e := range entries {
		if int(e.Sender) >= len(verifyKeys) {
			ok = false
			continue
		}
		if !crypto.Verify(verifyKeys[e.Sender], e.Bytes, e.Sig) {
			ok = false
		}
	}
	return ok
}

var errShort = shortErr{}

type shortErr struct{}

func (shortErr) Error() string { return "transcript: truncated snapshot" }
