// Copyright 2016 David Lazar. All rights reserved.
// Use of this source code is governed by the GNU AGPL
// license that can be found in the LICENSE file.

// Command shuffle-demo runs one member of a shuffle round over a real
// websocket network (blamenet), loading the group roster and local
// credentials from disk. It is a thin driver: all protocol logic lives in
// shuffleround, all networking in blamenet.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"io/ioutil"
	"net"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/davidlazar/go-crypto/encoding/base32"
	"golang.org/x/crypto/ed25519"
	"golang.org/x/crypto/ssh/terminal"

	vzrand "vuvuzela.io/crypto/rand"

	"vuvuzela.io/shuffle/blamenet"
	"vuvuzela.io/shuffle/cmd/cmdutil"
	"vuvuzela.io/shuffle/crypto"
	"vuvuzela.io/shuffle/encoding/toml"
	"vuvuzela.io/shuffle/groupconf"
	"vuvuzela.io/shuffle/internal/plog"
	"vuvuzela.io/shuffle/shuffleround"
)

var (
	doinit    = flag.Bool("init", false, "generate and seal a new signing key, then exit")
	groupConf = flag.String("group", "group.conf", "path to the group roster (written by hand or by another member's -init)")
	peersConf = flag.String("peers", "peers.conf", "path to this deployment's listen address and peer addresses")
	keyFile   = flag.String("keyfile", "signing.key", "path to this member's sealed signing key")
	id        = flag.Uint("id", 0, "this member's id in the group roster")
	round     = flag.String("round", "demo-round", "label hashed into the round id; every member must agree on it")
	payload   = flag.String("payload", "", "the message this member contributes to the shuffle")
	timeout   = flag.Duration("timeout", 30*time.Second, "phase timeout; 0 disables timeouts")
)

// PeerConfig is the TOML shape of -peers: this member's listen address and
// the address every other member can be reached at. Member identity and
// signing keys live in the group roster instead, since those are shared
// across deployments while addresses are local to one.
type PeerConfig struct {
	ListenAddr string
	Peer       []PeerEntry
}

type PeerEntry struct {
	ID      uint32
	Address string
}

func confirmPassphrase() []byte {
	for {
		fmt.Fprintf(os.Stderr, "Enter passphrase: ")
		pw, err := terminal.ReadPassword(0)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			plog.Fatalf("terminal.ReadPassword: %s", err)
		}
		if len(pw) == 0 {
			continue
		}

		fmt.Fprintf(os.Stderr, "Enter same passphrase again: ")
		again, err := terminal.ReadPassword(0)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			plog.Fatalf("terminal.ReadPassword: %s", err)
		}
		if bytes.Equal(pw, again) {
			return pw
		}
		fmt.Fprintf(os.Stderr, "passphrases do not match, try again\n")
	}
}

func readPassphrase() []byte {
	fmt.Fprintf(os.Stderr, "Enter passphrase: ")
	pw, err := terminal.ReadPassword(0)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		plog.Fatalf("terminal.ReadPassword: %s", err)
	}
	return pw
}

func runInit() {
	if !cmdutil.Overwrite(*keyFile) {
		return
	}
	pub, priv, err := ed25519.GenerateKey(vzrand.Reader)
	if err != nil {
		plog.Fatal(err)
	}

	pw := confirmPassphrase()
	sealed, err := groupconf.SealSigningKey(priv, pw)
	if err != nil {
		plog.Fatal(err)
	}
	if err := groupconf.WriteSealedSigningKey(*keyFile, sealed); err != nil {
		plog.Fatal(err)
	}
	fmt.Printf("wrote %s\n", *keyFile)
	fmt.Printf("add this member to the group roster:\n\n")
	fmt.Printf("[[Member]]\nID = %d\nsigning_key = %q\n", *id, base32.EncodeToString(pub))
}

// dialPeers retries DialPeers until every higher-numbered peer is reachable
// or the deadline passes; a peer started moments later than this one is the
// common case, not an error worth failing fast on.
func dialPeers(network *blamenet.Network) {
	deadline := time.Now().Add(30 * time.Second)
	for {
		err := network.DialPeers()
		if err == nil {
			return
		}
		if time.Now().After(deadline) {
			plog.Fatalf("dialing peers: %s", err)
		}
		time.Sleep(time.Second)
	}
}

func main() {
	flag.Parse()

	if *doinit {
		runInit()
		return
	}

	group, err := groupconf.ReadFile(*groupConf)
	if err != nil {
		plog.Fatal(err)
	}
	localID := shuffleround.MemberID(*id)

	peerData, err := ioutil.ReadFile(*peersConf)
	if err != nil {
		plog.Fatal(err)
	}
	var pc PeerConfig
	if err := toml.Unmarshal(peerData, &pc); err != nil {
		plog.Fatalf("parsing %s: %s", *peersConf, err)
	}
	peers := make([]blamenet.Peer, len(pc.Peer))
	for i, p := range pc.Peer {
		peers[i] = blamenet.Peer{ID: shuffleround.MemberID(p.ID), Address: p.Address}
	}

	priv, err := groupconf.ReadSealedSigningKey(*keyFile, readPassphrase())
	if err != nil {
		plog.Fatal(err)
	}
	creds := shuffleround.Credentials{SigningKey: priv}

	roundID := [32]byte(crypto.Sum([]byte(*round)))

	// network.Deliver can't be set until the Round exists, and NewRound
	// needs the Network -- assign the field after construction rather than
	// threading a forward reference through both constructors.
	network := blamenet.New(localID, peers, nil)
	cfg := shuffleround.Config{PhaseTimeout: *timeout}
	r := shuffleround.NewRound(group, localID, roundID, creds, network, shuffleround.NullSink{}, wallClock{}, cfg)
	network.Deliver = r

	ln, err := net.Listen("tcp", pc.ListenAddr)
	if err != nil {
		plog.Fatal(err)
	}
	srv := &http.Server{Handler: network.Handler()}
	go srv.Serve(ln)

	dialPeers(network)

	r.SetPayload([]byte(*payload))
	if err := r.Start(); err != nil {
		plog.Fatal(err)
	}

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		r.Tick(time.Now())
		status := r.Status()
		if status.Kind == shuffleround.StatusRunning {
			continue
		}
		if status.Kind == shuffleround.StatusFinished {
			out := make([]string, len(status.Payloads))
			for i, p := range status.Payloads {
				out[i] = string(p)
			}
			sort.Strings(out)
			fmt.Println("round finished, delivered payloads:")
			for _, s := range out {
				fmt.Println(" ", s)
			}
		} else {
			fmt.Println("round aborted, blame set:", status.BlameSet)
		}
		return
	}
}

// wallClock is the real-time shuffleround.Clock used outside of tests.
type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }
