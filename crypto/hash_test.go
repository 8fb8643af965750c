// Copyright 2016 David Lazar. All rights reserved.
// Use of this source code is governed by the GNU AGPL
// license that can be found in the LICENSE file.

package crypto

import "testing"

func TestSumDeterministic(t *testing.T) {
	a := Sum([]byte("one"), []byte("two"), []byte("three"))
	b := Sum([]byte("one"), []byte("two"), []byte("three"))
	if a != b {
		t.Fatal("Sum is not deterministic for identical inputs")
	}
}

func TestSumNoSeparator(t *testing.T) {
	// Sum concatenates parts with no separator, so a split at a different
	// boundary that yields the same bytes must hash the same.
	a := Sum([]byte("ab"), []byte("cd"))
	b := Sum([]byte("a"), []byte("bcd"))
	if a != b {
		t.Fatal("Sum depends on how the input was split into parts")
	}
}

func TestSumDistinctInputsDiffer(t *testing.T) {
	a := Sum([]byte("foo"), []byte("bar"))
	b := Sum([]byte("foo"), []byte("baz"))
	if a == b {
		t.Fatal("Sum collided for distinct concatenations")
	}
}
