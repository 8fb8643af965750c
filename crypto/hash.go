// Copyright 2016 David Lazar. All rights reserved.
// Use of this source code is governed by the GNU AGPL
// license that can be found in the LICENSE file.

package crypto

import (
	"bytes"
	"crypto/sha256"
)

// Digest is a 32-byte hash, used both for the transcript digest and for
// general canonical-buffer hashing.
type Digest [32]byte

// Sum hashes the concatenation of parts with no separators: fixed-order
// fields written directly into one buffer, then hashed or signed as a
// whole.
func Sum(parts ...[]byte) Digest {
	buf := new(bytes.Buffer)
	for _, p := range parts {
		buf.Write(p)
	}
	return sha256.Sum256(buf.Bytes())
}
