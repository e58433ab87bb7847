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
    `math`

    `github.com/bits-and-blooms/bitset`
    `github.com/cloudwego/mirgen/ir`
    `golang.org/x/exp/slices`
)

// _Split moves a variable out of its hard register over a set of blocks
// it passes through without being referenced.
type _Split struct {
    v      int
    h      ir.HardReg
    slot   int
    blocks *bitset.BitSet
}

type _RAScratch struct {
    nlocs  int
    loc    []int
    hint   []int
    used   []*bitset.BitSet
    owners [][]int
    nslots int
    splits []_Split
    saved  []ir.HardReg
}

const (
    _NoLoc = -1
)

// isSlot reports whether a location is a stack slot.
func (self *Context) isSlot(loc int) bool {
    return loc >= self.nhard
}

func (self *Context) slotOf(loc int) int {
    return loc - self.nhard
}

// freeOver reports whether a location and the ones it extends to are free
// at every point of the spans.
func (self *Context) freeOver(loc int, t ir.Type, spans []_Span) bool {
    n := self.tgt.LocsNum(loc, t)
    for _, s := range spans {
        for pt := s.start; pt <= s.finish; pt++ {
            for k := 0; k < n; k++ {
                if self.ra.used[pt].Test(uint(loc + k)) {
                    return false
                }
            }
        }
    }
    return true
}

func (self *Context) occupy(loc int, t ir.Type, spans []_Span, set bool) {
    n := self.tgt.LocsNum(loc, t)
    for _, s := range spans {
        for pt := s.start; pt <= s.finish; pt++ {
            for k := 0; k < n; k++ {
                self.ra.used[pt].SetTo(uint(loc + k), set)
            }
        }
    }
}

// collectHints records the hard register each pseudo register is moved
// from or into most frequently.
func (self *Context) collectHints() {
    best := make([]int64, self.nvars())
    for _, bb := range self.blocks {
        for _, p := range bb.insns() {
            if !p.Code.IsMove() {
                continue
            }
            a, b := p.Ops[0], p.Ops[1]
            if a.Mode == ir.OpHardReg && b.Mode == ir.OpReg {
                a, b = b, a
            }
            if a.Mode != ir.OpReg || b.Mode != ir.OpHardReg {
                continue
            }
            if v := self.regVar(a.Reg); bb.freq >= best[v] && self.tgt.HardRegTypeOK(b.HReg, self.varType(v)) {
                best[v] = bb.freq
                self.ra.hint[v] = int(b.HReg)
            }
        }
    }
}

// allocOrder sorts the pseudo registers: tied ones first, then by
// decreasing frequency and live length.
func (self *Context) allocOrder() []int {
    var vars []int
    for v := self.nhard; v < self.nvars(); v++ {
        if len(self.live.spans[v]) != 0 {
            vars = append(vars, v)
        }
    }
    slices.SortStableFunc(vars, func(a int, b int) bool {
        ta, tb := self.fn.Regs[self.varReg(a)].Tied, self.fn.Regs[self.varReg(b)].Tied
        switch {
            case ta != tb                                   : return ta
            case self.live.freq[a] != self.live.freq[b]     : return self.live.freq[a] > self.live.freq[b]
            case self.live.length[a] != self.live.length[b] : return self.live.length[a] > self.live.length[b]
            default                                         : return a < b
        }
    })
    return vars
}

// hardCandidates lists the hard registers for type t, the hint first, then
// the call-used registers before the callee-saved ones.
func (self *Context) hardCandidates(v int, t ir.Type) []ir.HardReg {
    var r []ir.HardReg
    for h := ir.HardReg(0); int(h) < self.nhard; h++ {
        if !self.tgt.FixedHardReg(h) && self.tgt.HardRegTypeOK(h, t) {
            r = append(r, h)
        }
    }
    slices.SortStableFunc(r, func(a ir.HardReg, b ir.HardReg) bool {
        return self.tgt.CallUsedHardReg(a) && !self.tgt.CallUsedHardReg(b)
    })
    if hint := self.ra.hint[v]; hint != _NoLoc {
        if i := slices.Index(r, ir.HardReg(hint)); i > 0 {
            r = append([]ir.HardReg { ir.HardReg(hint) }, slices.Delete(r, i, i + 1)...)
        }
    }
    return r
}

// assign gives every pseudo register a hard register or a stack slot.
func (self *Context) assign() error {
    self.buildLiveRanges()
    nv := self.nvars()
    self.ra = _RAScratch {
        nlocs  : self.nhard,
        loc    : make([]int, nv),
        hint   : make([]int, nv),
        used   : make([]*bitset.BitSet, self.live.npoints),
        owners : make([][]int, self.nhard),
    }
    for i := range self.ra.loc {
        self.ra.loc[i] = _NoLoc
        self.ra.hint[i] = _NoLoc
    }
    for i := range self.ra.used {
        self.ra.used[i] = bitset.New(uint(self.nhard))
    }

    /* hard registers occupy themselves */
    for h := 0; h < self.nhard; h++ {
        self.ra.loc[h] = h
        self.occupy(h, self.varType(h), self.live.spans[h], true)
    }
    self.collectHints()

    /* the pseudo registers */
    for _, v := range self.allocOrder() {
        if err := self.assignVar(v); err != nil {
            return err
        }
    }
    return nil
}

func (self *Context) assignVar(v int) error {
    t := self.varType(v)
    spans := self.live.spans[v]
    desc := self.fn.Regs[self.varReg(v)]

    /* tied registers have no choice */
    if desc.Tied {
        self.setLoc(v, int(desc.HardReg))
        return nil
    }

    /* a free hard register */
    for _, h := range self.hardCandidates(v, t) {
        if self.freeOver(int(h), t, spans) {
            self.setLoc(v, int(h))
            return nil
        }
    }

    /* a hard register freed by splitting another range */
    if self.opts.Splitting() {
        if h, ok := self.trySplit(v, t); ok {
            self.setLoc(v, int(h))
            return nil
        }
    }

    /* a stack slot */
    slot, err := self.findSlot(t, spans)
    if err != nil {
        return err
    }
    self.setLoc(v, self.nhard + slot)
    return nil
}

func (self *Context) setLoc(v int, loc int) {
    self.ra.loc[v] = loc
    self.occupy(loc, self.varType(v), self.live.spans[v], true)
    if !self.isSlot(loc) {
        self.ra.owners[loc] = append(self.ra.owners[loc], v)
    }
}

// findSlot reuses a stack slot free over the spans or creates a new one.
func (self *Context) findSlot(t ir.Type, spans []_Span) (int, error) {
    for s := 0; s < self.ra.nslots; s++ {
        if self.freeOver(self.nhard + s, t, spans) {
            return s, nil
        }
    }
    return self.newSlot(t)
}

// newSlot allocates a stack slot nothing else uses yet.
func (self *Context) newSlot(t ir.Type) (int, error) {
    s := self.ra.nslots
    if n := s + self.tgt.LocsNum(self.nhard + s, t); n > self.opts.MaxStackSlots {
        return 0, AllocError { Func: self.fn.Name, Slots: self.opts.MaxStackSlots }
    } else {
        self.ra.nslots = n
        return s, nil
    }
}

func (self *Context) isSplit(v int) bool {
    for _, sp := range self.ra.splits {
        if sp.v == v {
            return true
        }
    }
    return false
}

/** live range splitting **/

// spanBlocks returns the blocks containing the points shared by two span
// lists, or false if one of them is outside the allowed set.
func (self *Context) spanBlocks(a []_Span, b []_Span, allowed *bitset.BitSet) (*bitset.BitSet, bool) {
    r := bitset.New(uint(len(self.blocks)))
    i, j := 0, 0
    for i < len(a) && j < len(b) {
        lo, hi := a[i].start, a[i].finish
        if b[j].start > lo { lo = b[j].start }
        if b[j].finish < hi { hi = b[j].finish }
        for pt := lo; pt <= hi; pt++ {
            bb := self.live.bbAt[pt / 2]
            if allowed == nil || !allowed.Test(uint(bb.index)) {
                return nil, false
            }
            r.Set(uint(bb.index))
        }
        if a[i].finish < b[j].finish {
            i++
        } else {
            j++
        }
    }
    return r, true
}

// splitCost is the frequency of the moves on the edges entering and
// leaving a set of blocks where variable d is live.
func (self *Context) splitCost(d int, blocks *bitset.BitSet) (int64, bool) {
    cost := int64(0)
    for i, ok := blocks.NextSet(0); ok; i, ok = blocks.NextSet(i + 1) {
        bb := self.blocks[i]
        for _, e := range bb.in {
            if s := self.src(e); !blocks.Test(uint(s.index)) {
                if !self.edgePlaceable(e) {
                    return 0, false
                }
                cost += self.edgeFreq(e)
            }
        }
        for _, e := range bb.out {
            if s := self.dst(e); !blocks.Test(uint(s.index)) && s.dfIn.Test(uint(d)) {
                if !self.edgePlaceable(e) {
                    return 0, false
                }
                cost += self.edgeFreq(e)
            }
        }
    }
    return cost, true
}

// trySplit looks for a hard register held by a single other variable that
// passes through the conflicting blocks without being referenced there.
// That variable goes to a stack slot over those blocks, freeing the
// register for v.
func (self *Context) trySplit(v int, t ir.Type) (ir.HardReg, bool) {
    spans := self.live.spans[v]
    best, bestCost := -1, int64(math.MaxInt64)
    var bestBlocks *bitset.BitSet
    var bestOwner int

    /* evaluate every register */
    for _, h := range self.hardCandidates(v, t) {
        if spansIntersect(self.live.spans[h], spans) {
            continue
        }
        owner, n := -1, 0
        for _, w := range self.ra.owners[h] {
            if spansIntersect(self.live.spans[w], spans) {
                owner, n = w, n + 1
            }
        }
        if n != 1 || self.isSplit(owner) || self.fn.Regs[self.varReg(owner)].Tied || self.tgt.LocsNum(int(h), t) != 1 {
            continue
        }
        blocks, ok := self.spanBlocks(self.live.spans[owner], spans, self.live.through[owner])
        if !ok {
            continue
        }
        if cost, ok := self.splitCost(owner, blocks); ok && cost < bestCost && cost <= self.live.freq[v] {
            best, bestCost, bestBlocks, bestOwner = int(h), cost, blocks, owner
        }
    }
    if best < 0 {
        return 0, false
    }

    /* the owner leaves the register over the blocks */
    var region []_Span
    for i, ok := bestBlocks.NextSet(0); ok; i, ok = bestBlocks.NextSet(i + 1) {
        bb := self.blocks[i]
        region = append(region, _Span { bb.startPt, bb.endPt })
    }
    slot, err := self.newSlot(self.varType(bestOwner))
    if err != nil {
        return 0, false
    }
    self.occupy(best, self.varType(bestOwner), region, false)
    self.occupy(self.nhard + slot, self.varType(bestOwner), region, true)
    self.ra.splits = append(self.ra.splits, _Split {
        v      : bestOwner,
        h      : ir.HardReg(best),
        slot   : slot,
        blocks : bestBlocks,
    })
    return ir.HardReg(best), true
}

// edgePlaceable reports whether code can be inserted on an edge after
// register allocation.
func (self *Context) edgePlaceable(e EdgeRef) bool {
    src, dst := self.src(e), self.dst(e)
    switch t := src.terminator(); {
        case len(src.out) == 1 && (t == nil || t.Code == ir.JMP)                       : return true
        case len(dst.in) == 1 && dst != self.exit                                      : return true
        case t != nil && t.Code == ir.JMPI                                             : return false
        case src == self.entry || dst == self.exit                                     : return false
        case self.edge(e).fall                                                         : return true
        default                                                                        : return isJump(self.fn.Insns.Back().Code)
    }
}
