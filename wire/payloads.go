// Copyright 2016 David Lazar. All rights reserved.
// Use of this source code is governed by the GNU AGPL
// license that can be found in the LICENSE file.

package wire

import (
	"encoding/binary"

	"vuvuzela.io/shuffle/internal/perr"
)

// PublicKeysPayload is the body of a PublicKeys message: a member's
// inner and outer box public keys for the round.
type PublicKeysPayload struct {
	InnerPub [32]byte
	OuterPub [32]byte
}

func (p *PublicKeysPayload) Marshal() []byte {
	buf := make([]byte, 64)
	copy(buf[0:32], p.InnerPub[:])
	copy(buf[32:64], p.OuterPub[:])
	return buf
}

func UnmarshalPublicKeys(data []byte) (*PublicKeysPayload, error) {
	if len(data) != 64 {
		return nil, perr.New("wire: bad PublicKeys payload length %d", len(data))
	}
	p := new(PublicKeysPayload)
	copy(p.InnerPub[:], data[0:32])
	copy(p.OuterPub[:], data[32:64])
	return p, nil
}

// DataPayload is the body of a Data message: a member's onion-encrypted
// input, addressed to shuffler 0.
type DataPayload struct {
	Ciphertext []byte
}

func (p *DataPayload) Marshal() []byte {
	return append([]byte(nil), p.Ciphertext...)
}

func UnmarshalData(data []byte) (*DataPayload, error) {
	return &DataPayload{Ciphertext: append([]byte(nil), data...)}, nil
}

// ShufflePayload is the body of a Shuffle message: the permuted,
// one-layer-peeled ciphertexts forwarded from shuffler k to shuffler k+1.
type ShufflePayload struct {
	Ciphertexts [][]byte
}

func (p *ShufflePayload) Marshal() []byte {
	return marshalByteVector(p.Ciphertexts)
}

func UnmarshalShuffle(data []byte) (*ShufflePayload, error) {
	cts, err := unmarshalByteVector(data)
	if err != nil {
		return nil, perr.Wrap(err, "wire: Shuffle payload")
	}
	return &ShufflePayload{Ciphertexts: cts}, nil
}

// EncryptedDataPayload is the body of an EncryptedData message: the final
// ciphertext multiset broadcast by the last shuffler.
type EncryptedDataPayload struct {
	Ciphertexts [][]byte
}

func (p *EncryptedDataPayload) Marshal() []byte {
	return marshalByteVector(p.Ciphertexts)
}

func UnmarshalEncryptedData(data []byte) (*EncryptedDataPayload, error) {
	cts, err := unmarshalByteVector(data)
	if err != nil {
		return nil, perr.Wrap(err, "wire: EncryptedData payload")
	}
	return &EncryptedDataPayload{Ciphertexts: cts}, nil
}

// GoNoGoPayload is the body of a GoNoGo message: the sender's computed
// transcript hash and its go/no-go verdict bit.
type GoNoGoPayload struct {
	Hash [32]byte
	Go   bool
}

func (p *GoNoGoPayload) Marshal() []byte {
	buf := make([]byte, 33)
	copy(buf[0:32], p.Hash[:])
	if p.Go {
		buf[32] = 1
	}
	return buf
}

func UnmarshalGoNoGo(data []byte) (*GoNoGoPayload, error) {
	if len(data) != 33 {
		return nil, perr.New("wire: bad GoNoGo payload length %d", len(data))
	}
	p := new(GoNoGoPayload)
	copy(p.Hash[:], data[0:32])
	p.Go = data[32] != 0
	return p, nil
}

// PrivateKeyPayload is the body of a PrivateKey message: the sender's
// inner private key, revealed only after all shuffling is verified.
type PrivateKeyPayload struct {
	InnerPriv [32]byte
}

func (p *PrivateKeyPayload) Marshal() []byte {
	buf := make([]byte, 32)
	copy(buf, p.InnerPriv[:])
	return buf
}

func UnmarshalPrivateKey(data []byte) (*PrivateKeyPayload, error) {
	if len(data) != 32 {
		return nil, perr.New("wire: bad PrivateKey payload length %d", len(data))
	}
	p := new(PrivateKeyPayload)
	copy(p.InnerPriv[:], data)
	return p, nil
}

// BlamePayload is the body of a Blame message: a signed snapshot of the
// sender's transcript log plus its outer private key.
type BlamePayload struct {
	Log       []byte
	OuterPriv [32]byte
}

func (p *BlamePayload) Marshal() []byte {
	buf := make([]byte, 0, 4+len(p.Log)+32)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(p.Log)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, p.Log...)
	buf = append(buf, p.OuterPriv[:]...)
	return buf
}

func UnmarshalBlame(data []byte) (*BlamePayload, error) {
	if len(data) < 4 {
		return nil, perr.New("wire: truncated Blame payload")
	}
	logLen := binary.BigEndian.Uint32(data[:4])
	rest := data[4:]
	if uint64(len(rest)) < uint64(logLen)+32 {
		return nil, perr.New("wire: truncated Blame payload body")
	}
	p := new(BlamePayload)
	p.Log = append([]byte(nil), rest[:logLen]...)
	copy(p.OuterPriv[:], rest[logLen:logLen+32])
	return p, nil
}

// marshalByteVector encodes a list of byte slices as count(u32) followed
// by length-prefixed(u32) entries, the same style the fixed-field
// messages above use for their own length prefixes.
func marshalByteVector(vs [][]byte) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(len(vs)))
	for _, v := range vs {
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(v)))
		buf = append(buf, lenBuf[:]...)
		buf = append(buf, v...)
	}
	return buf
}

func unmarshalByteVector(data []byte) ([][]byte, error) {
	if len(data) < 4 {
		return nil, perr.New("truncated vector count")
	}
	count := binary.BigEndian.Uint32(data[:4])
	rest := data[4:]
	vs := make([][]byte, 0, count)
	for i := uint32(0); i < count; i++ {
		if len(rest) < 4 {
			return nil, perr.New("truncated vector entry length")
		}
		n := binary.BigEndian.Uint32(rest[:4])
		rest = rest[4:]
		if uint64(len(rest)) < uint64(n) {
			return nil, perr.New("truncated vector entry")
		}
		vs = append(vs, append([]byte(nil), rest[:n]...))
		rest = rest[n:]
	}
	return vs, nil
}
