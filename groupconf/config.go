// Copyright 2016 David Lazar. All rights reserved.
// Use of this source code is governed by the GNU AGPL
// license that can be found in the LICENSE file.

// Package groupconf loads a round's group roster -- the ordered member
// list, their signing keys, and the shuffler subset -- from a TOML file,
// and seals a member's own long-term signing key at rest.
package groupconf

import (
	"crypto/ed25519"
	"io/ioutil"

	"vuvuzela.io/shuffle/encoding/toml"
	"vuvuzela.io/shuffle/internal/perr"
	"vuvuzela.io/shuffle/shuffleround"
)

// MemberEntry is one row of the TOML member table.
type MemberEntry struct {
	ID         uint32
	SigningKey ed25519.PublicKey `mapstructure:"signing_key"`
}

// File is the decoded shape of a group's TOML config file.
type File struct {
	Member    []MemberEntry
	Shufflers []uint32
}

// ReadFile loads and validates a group roster from path.
func ReadFile(path string) (*shuffleround.Group, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, perr.Wrap(err, "reading group config %q", path)
	}
	return Parse(data)
}

// Parse decodes TOML-encoded group config data into a shuffleround.Group,
// validating that member ids are a dense 0..N-1 range and that every
// shuffler id names an existing member.
func Parse(data []byte) (*shuffleround.Group, error) {
	var f File
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, perr.Wrap(err, "parsing group config")
	}

	n := len(f.Member)
	members := make([]shuffleround.Member, n)
	seen := make([]bool, n)
	for _, m := range f.Member {
		if int(m.ID) >= n {
			return nil, perr.New("member id %d out of range for %d members", m.ID, n)
		}
		if seen[m.ID] {
			return nil, perr.New("duplicate member id %d", m.ID)
		}
		seen[m.ID] = true
		if len(m.SigningKey) != ed25519.PublicKeySize {
			return nil, perr.New("member %d: signing key has wrong size: got %d, want %d", m.ID, len(m.SigningKey), ed25519.PublicKeySize)
		}
		members[m.ID] = shuffleround.Member{
			ID:         shuffleround.MemberID(m.ID),
			SigningKey: m.SigningKey,
		}
	}
	for i, ok := range seen {
		if !ok {
			return nil, perr.New("missing entry for member id %d", i)
		}
	}

	shufflers := make([]shuffleround.MemberID, len(f.Shufflers))
	for i, id := range f.Shufflers {
		if int(id) >= n {
			return nil, perr.New("shuffler id %d out of range for %d members", id, n)
		}
		shufflers[i] = shuffleround.MemberID(id)
	}

	return &shuffleround.Group{
		Members:   members,
		Shufflers: shufflers,
	}, nil
}
