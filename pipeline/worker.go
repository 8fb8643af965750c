// Copyright 2016 David Lazar. All rights reserved.
// Use of this source code is governed by the GNU AGPL
// license that can be found in the LICENSE file.

package pipeline

import (
	"vuvuzela.io/concurrency"
	"vuvuzela.io/shuffle/crypto"
)

// ParallelPeelBatch is the worker-pool variant of PeelBatch, used once a
// batch is large enough that fanning the box-open calls across a worker
// pool beats doing them one at a time, the same way addfriend/mixer.go's
// GenerateNoise fans out with concurrency.ParallelFor. Output order
// matches PeelAll's regardless of the order workers finish in: each
// worker writes to its own index before the single-threaded pass that
// builds plaintexts/badIdx in index order.
func ParallelPeelBatch(outerPriv *[32]byte, nonce *[24]byte, onions [][]byte) (plaintexts [][]byte, badIdx []int) {
	n := len(onions)
	ok := make([]bool, n)
	out := make([][]byte, n)

	concurrency.ParallelFor(n, func(p *concurrency.P) {
		for i, more := p.Next(); more; i, more = p.Next() {
			pt, good := crypto.Peel(outerPriv, nonce, onions[i])
			if good {
				ok[i] = true
				out[i] = pt
			}
		}
	})

	plaintexts = make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		if ok[i] {
			plaintexts = append(plaintexts, out[i])
		} else {
			badIdx = append(badIdx, i)
		}
	}
	return plaintexts, badIdx
}
