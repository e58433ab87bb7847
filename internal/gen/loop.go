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
    `fmt`

    `github.com/oleiade/lane`
)

const (
    _LoopFreqFactor = 8
    _MaxLoopFreq    = 1 << 30
)

// loopNode is a natural loop. The root node stands for the whole function
// and has no header.
type loopNode struct {
    index     int
    header    *BB
    parent    *loopNode
    children  []*loopNode
    preheader *BB
    depth     int
}

func (self *loopNode) String() string {
    if self.header == nil {
        return "loop.root"
    } else {
        return fmt.Sprintf("loop%d(%s)", self.index, self.header)
    }
}

// contains reports whether bb belongs to the loop or one of its sub-loops.
func (self *loopNode) contains(bb *BB) bool {
    for l := bb.loop; l != nil; l = l.parent {
        if l == self {
            return true
        }
    }
    return false
}

func (self *loopNode) top() *loopNode {
    l := self
    for l.parent != nil {
        l = l.parent
    }
    return l
}

type _LoopScratch struct {
    gen   int
    valid bool
    root  *loopNode
    loops []*loopNode
}

// buildLoopTree finds the natural loops. Retreating edges to a block that
// does not dominate their source belong to irreducible regions and are not
// loops.
func (self *Context) buildLoopTree() {
    rpo := self.computeRPO()
    self.ensureDominators()
    self.loop = _LoopScratch { gen: self.cfgGen, valid: true }

    /* reset the membership */
    for _, bb := range self.blocks {
        bb.loop = nil
        for _, e := range bb.out {
            self.edge(e).back = false
        }
    }

    /* inner loops have larger header numbers, visit them first */
    for i := len(rpo) - 1; i >= 0; i-- {
        h := rpo[i]
        if h.domPre < 0 {
            continue
        }
        var tails []*BB
        for _, e := range h.in {
            if u := self.src(e); u.domPre >= 0 && u.rpo >= h.rpo && self.dominates(h, u) {
                self.edge(e).back = true
                tails = append(tails, u)
            }
        }
        if len(tails) != 0 {
            self.collectLoop(h, tails)
        }
    }

    /* the root holds everything else */
    root := &loopNode { index: len(self.loop.loops) }
    self.loop.root = root
    for _, l := range self.loop.loops {
        if l.parent == nil {
            l.parent = root
        }
        l.parent.children = append(l.parent.children, l)
    }
    for _, bb := range self.blocks {
        if bb.loop == nil {
            bb.loop = root
        }
    }

    /* depths are set from the outside in, the loop list is innermost first */
    for i := len(self.loop.loops) - 1; i >= 0; i-- {
        l := self.loop.loops[i]
        l.depth = l.parent.depth + 1
    }
}

func (self *Context) collectLoop(h *BB, tails []*BB) {
    l := &loopNode { index: len(self.loop.loops), header: h }
    self.loop.loops = append(self.loop.loops, l)
    h.loop = l

    /* walk backward from the tails up to the header */
    seen := map[*BB]bool { h: true }
    work := lane.NewStack()
    for _, u := range tails {
        work.Push(u)
    }
    for !work.Empty() {
        bb := work.Pop().(*BB)
        if seen[bb] {
            continue
        }
        seen[bb] = true

        /* a plain block joins the loop */
        var from *BB
        if bb.loop == nil {
            bb.loop = l
            from = bb
        } else if t := bb.loop.top(); t != l {
            t.parent = l
            from = t.header
        } else {
            continue
        }

        /* continue with the predecessors */
        for _, e := range from.in {
            if p := self.src(e); p.domPre >= 0 && !seen[p] {
                work.Push(p)
            }
        }
    }
}

// ensureLoopTree rebuilds the loop tree if the CFG changed.
func (self *Context) ensureLoopTree() {
    if !self.loop.valid || self.loop.gen != self.cfgGen {
        self.buildLoopTree()
    }
}

// setFrequencies estimates block execution counts from the loop depth.
func (self *Context) setFrequencies() {
    self.ensureLoopTree()
    for _, bb := range self.blocks {
        f := int64(1)
        for d := 0; d < bb.loop.depth && f < _MaxLoopFreq; d++ {
            f *= _LoopFreqFactor
        }
        bb.freq = f
    }
}

// loopBlocks returns the blocks of l in reverse post-order.
func (self *Context) loopBlocks(l *loopNode) []*BB {
    var r []*BB
    for _, bb := range self.computeRPO() {
        if l.contains(bb) {
            r = append(r, bb)
        }
    }
    return r
}

// ensurePreheader finds or creates the block through which control enters
// a loop. Loops entered by more than one edge have none.
func (self *Context) ensurePreheader(l *loopNode) *BB {
    var entries []EdgeRef
    for _, e := range l.header.in {
        if !l.contains(self.src(e)) {
            entries = append(entries, e)
        }
    }
    if len(entries) != 1 {
        return nil
    }

    /* the source can hold the hoisted code by itself */
    e := entries[0]
    if s := self.src(e); s != self.entry && len(s.out) == 1 {
        l.preheader = s
        return s
    }

    /* a new block on the entering edge */
    bb := self.splitEdge(e)
    if bb == nil {
        return nil
    }
    bb.loop = l.parent
    bb.freq = self.src(bb.in[0]).freq
    l.preheader = bb
    return bb
}
