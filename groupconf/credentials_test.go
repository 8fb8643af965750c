// Copyright 2017 David Lazar. All rights reserved.
// Use of this source code is governed by the GNU AGPL
// license that can be found in the LICENSE file.

package groupconf

import (
	"bytes"
	"crypto/ed25519"
	"testing"
)

func TestSealOpenSigningKey(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}

	sealed, err := SealSigningKey(priv, []byte("correct horse battery staple"))
	if err != nil {
		t.Fatal(err)
	}

	opened, err := OpenSigningKey(sealed, []byte("correct horse battery staple"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(opened, priv) {
		t.Fatal("opened key does not match original")
	}

	if _, err := OpenSigningKey(sealed, []byte("wrong passphrase")); err == nil {
		t.Fatal("expected error for wrong passphrase")
	}
}
