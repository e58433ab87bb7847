/*
 * Copyright 2022 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package gen

import (
    `github.com/bits-and-blooms/bitset`
)

// Dataflow is a problem for the fixed-point solver. A forward problem joins
// the dfOut sets of the predecessors into dfIn and transfers dfIn to dfOut,
// a backward problem does the opposite. Transfer reports whether the set it
// computes has changed.
type Dataflow interface {
    Forward() bool
    Init(bb *BB)
    Join(bb *BB)
    Transfer(bb *BB) bool
}

// solve runs a dataflow problem to a fixed point. Blocks are visited in
// reverse post-order for forward problems and post-order for backward ones.
func (self *Context) solve(df Dataflow) {
    fwd := df.Forward()
    order := self.computeRPO()
    nb := len(order)

    /* backward problems walk the post-order */
    if !fwd {
        order = append([]*BB(nil), order...)
        for i, j := 0, nb - 1; i < j; i, j = i + 1, j - 1 {
            order[i], order[j] = order[j], order[i]
        }
    }

    /* position of a block in the visiting order */
    pos := func(bb *BB) uint {
        if fwd {
            return uint(bb.rpo)
        } else {
            return uint(nb - 1 - bb.rpo)
        }
    }

    /* initialize every block, all pending */
    pending := bitset.New(uint(nb))
    for i, bb := range order {
        df.Init(bb)
        pending.Set(uint(i))
    }

    /* iterate until nothing changes */
    for pending.Any() {
        for i, bb := range order {
            if !pending.Test(uint(i)) {
                continue
            }
            pending.Clear(uint(i))
            if df.Join(bb); !df.Transfer(bb) {
                continue
            }
            if fwd {
                for _, e := range bb.out {
                    pending.Set(pos(self.dst(e)))
                }
            } else {
                for _, e := range bb.in {
                    pending.Set(pos(self.src(e)))
                }
            }
        }
    }
}

// unionPreds sets bb.dfIn to the union of the dfOut sets of its predecessors.
func (self *Context) unionPreds(bb *BB) {
    bb.dfIn.ClearAll()
    for _, e := range bb.in {
        bb.dfIn.InPlaceUnion(self.src(e).dfOut)
    }
}

// intersectPreds sets bb.dfIn to the intersection of the dfOut sets of its
// predecessors, or the empty set when there are none.
func (self *Context) intersectPreds(bb *BB) {
    if len(bb.in) == 0 {
        bb.dfIn.ClearAll()
        return
    }
    self.src(bb.in[0]).dfOut.CopyFull(bb.dfIn)
    for _, e := range bb.in[1:] {
        bb.dfIn.InPlaceIntersection(self.src(e).dfOut)
    }
}

// unionSuccs sets bb.dfOut to the union of the dfIn sets of its successors.
func (self *Context) unionSuccs(bb *BB) {
    bb.dfOut.ClearAll()
    for _, e := range bb.out {
        bb.dfOut.InPlaceUnion(self.dst(e).dfIn)
    }
}

// transferGenKill computes dst = gen | (src - kill) and reports a change.
func transferGenKill(dst *bitset.BitSet, src *bitset.BitSet, gen *bitset.BitSet, kill *bitset.BitSet) bool {
    v := src.Difference(kill)
    v.InPlaceUnion(gen)
    if v.Equal(dst) {
        return false
    } else {
        v.CopyFull(dst)
        return true
    }
}

// resetSets allocates the dataflow sets of every block with n bits.
func (self *Context) resetSets(n uint) {
    for _, bb := range self.blocks {
        bb.dfIn = resize(bb.dfIn, n)
        bb.dfOut = resize(bb.dfOut, n)
        bb.dfGen = resize(bb.dfGen, n)
        bb.dfKill = resize(bb.dfKill, n)
    }
}

func resize(s *bitset.BitSet, n uint) *bitset.BitSet {
    if s == nil || s.Len() != n {
        return bitset.New(n)
    } else {
        s.ClearAll()
        return s
    }
}
