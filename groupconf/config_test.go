// Copyright 2016 David Lazar. All rights reserved.
// Use of this source code is governed by the GNU AGPL
// license that can be found in the LICENSE file.

package groupconf

import (
	"crypto/ed25519"
	"fmt"
	"testing"

	"vuvuzela.io/shuffle/encoding/toml"
)

func TestParseGroup(t *testing.T) {
	_, pub0, _ := generateTestKey(t)
	_, pub1, _ := generateTestKey(t)
	_, pub2, _ := generateTestKey(t)

	data := []byte(fmt.Sprintf(`
shufflers = [1, 2]

[[member]]
id = 0
signing_key = %q

[[member]]
id = 1
signing_key = %q

[[member]]
id = 2
signing_key = %q
`, toml.EncodeBytes(pub0), toml.EncodeBytes(pub1), toml.EncodeBytes(pub2)))

	g, err := Parse(data)
	if err != nil {
		t.Fatal(err)
	}
	if g.N() != 3 {
		t.Fatalf("got %d members, want 3", g.N())
	}
	if g.S() != 2 {
		t.Fatalf("got %d shufflers, want 2", g.S())
	}
	if g.Shufflers[0] != 1 || g.Shufflers[1] != 2 {
		t.Fatalf("unexpected shuffler order: %v", g.Shufflers)
	}
	if !pubKeyEqual(g.Members[0].SigningKey, pub0) {
		t.Fatalf("member 0 signing key mismatch")
	}
}

func TestParseGroupDuplicateID(t *testing.T) {
	_, pub, _ := generateTestKey(t)
	data := []byte(fmt.Sprintf(`
[[member]]
id = 0
signing_key = %q

[[member]]
id = 0
signing_key = %q
`, toml.EncodeBytes(pub), toml.EncodeBytes(pub)))

	if _, err := Parse(data); err == nil {
		t.Fatal("expected error for duplicate member id")
	}
}

func TestParseGroupMissingID(t *testing.T) {
	_, pub, _ := generateTestKey(t)
	data := []byte(fmt.Sprintf(`
[[member]]
id = 1
signing_key = %q
`, toml.EncodeBytes(pub)))

	if _, err := Parse(data); err == nil {
		t.Fatal("expected error for out-of-range member id")
	}
}

func generateTestKey(t *testing.T) (ed25519.PrivateKey, ed25519.PublicKey, error) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}
	return priv, pub, nil
}

func pubKeyEqual(a, b ed25519.PublicKey) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
