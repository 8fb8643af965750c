// Copyright 2017 David Lazar. All rights reserved.
// Use of this source code is governed by the GNU AGPL
// license that can be found in the LICENSE file.

package groupconf

import (
	"crypto/ed25519"
	"io"
	"io/ioutil"
	"strings"

	"github.com/davidlazar/go-crypto/encoding/base32"
	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"

	vzrand "vuvuzela.io/crypto/rand"

	"vuvuzela.io/shuffle/internal/perr"
)

const scryptSalt = "vuvuzela.io/shuffle/groupconf"

// DeriveSealingKey stretches passphrase into a secretbox key via scrypt.
func DeriveSealingKey(passphrase []byte) (*[32]byte, error) {
	dk, err := scrypt.Key(passphrase, []byte(scryptSalt), 2<<15, 8, 1, 32)
	if err != nil {
		return nil, perr.Wrap(err, "scrypt.Key")
	}
	var key [32]byte
	copy(key[:], dk)
	return &key, nil
}

// SealSigningKey encrypts a member's long-term ed25519 private key under a
// passphrase-derived key, for storage at rest. The nonce is prepended to
// the returned ciphertext.
func SealSigningKey(priv ed25519.PrivateKey, passphrase []byte) ([]byte, error) {
	key, err := DeriveSealingKey(passphrase)
	if err != nil {
		return nil, err
	}
	var nonce [24]byte
	if _, err := io.ReadFull(vzrand.Reader, nonce[:]); err != nil {
		return nil, perr.Wrap(err, "generating nonce")
	}
	return secretbox.Seal(nonce[:], priv, &nonce, key), nil
}

// OpenSigningKey reverses SealSigningKey.
func OpenSigningKey(sealed []byte, passphrase []byte) (ed25519.PrivateKey, error) {
	if len(sealed) < 24+secretbox.Overhead {
		return nil, perr.New("sealed signing key is too short")
	}
	var nonce [24]byte
	copy(nonce[:], sealed[:24])
	ctxt := sealed[24:]

	key, err := DeriveSealingKey(passphrase)
	if err != nil {
		return nil, err
	}
	msg, ok := secretbox.Open(nil, ctxt, &nonce, key)
	if !ok {
		return nil, perr.New("wrong passphrase or corrupted signing key file")
	}
	return ed25519.PrivateKey(msg), nil
}

// WriteSealedSigningKey base32-encodes a sealed key and writes it to path.
func WriteSealedSigningKey(path string, sealed []byte) error {
	return ioutil.WriteFile(path, []byte(base32.EncodeToString(sealed)+"\n"), 0600)
}

// ReadSealedSigningKey reads and base32-decodes a file written by
// WriteSealedSigningKey, then opens it with passphrase.
func ReadSealedSigningKey(path string, passphrase []byte) (ed25519.PrivateKey, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, perr.Wrap(err, "reading sealed signing key %q", path)
	}
	sealed, err := base32.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, perr.Wrap(err, "decoding base32 signing key %q", path)
	}
	return OpenSigningKey(sealed, passphrase)
}
