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
    `strings`

    `github.com/bits-and-blooms/bitset`
    `github.com/cloudwego/mirgen/ir`
    `golang.org/x/exp/slices`
)

// _Span is an inclusive range of program points. Instruction k reads its
// inputs at point 2k and writes its outputs at point 2k+1.
type _Span struct {
    start  int
    finish int
}

type _LiveScratch struct {
    npoints int
    spans   [][]_Span
    freq    []int64
    length  []int
    through []*bitset.BitSet
    insnAt  []*ir.Insn
    bbAt    []*BB
}

/** liveness **/

// callClobbers returns the call-used hard registers.
func (self *Context) callClobbers() []ir.HardReg {
    var r []ir.HardReg
    for h := ir.HardReg(0); h <= self.tgt.MaxHardReg(); h++ {
        if self.tgt.CallUsedHardReg(h) {
            r = append(r, h)
        }
    }
    return r
}

// stepLive moves a set of live variables backward over p.
func (self *Context) stepLive(live *bitset.BitSet, p *ir.Insn) {
    self.forEachVar(p, func(_ int, v int, out bool) {
        if out {
            live.Clear(uint(v))
        }
    })
    if p.Code == ir.CALL {
        for _, h := range self.callClobbers() {
            live.Clear(uint(h))
        }
    }
    self.forEachVar(p, func(_ int, v int, out bool) {
        if !out {
            live.Set(uint(v))
        }
    })
}

// _Liveness is the backward problem of live variables.
type _Liveness struct {
    ctx *Context
}

func (_Liveness) Forward() bool {
    return false
}

func (self _Liveness) Init(bb *BB) {
    n := uint(self.ctx.nvars())
    bb.dfIn = resize(bb.dfIn, n)
    bb.dfOut = resize(bb.dfOut, n)
    bb.dfGen = resize(bb.dfGen, n)
    bb.dfKill = resize(bb.dfKill, n)

    /* upward exposed uses and definitions */
    for p := bb.head; p != nil; p = p.Next() {
        self.ctx.forEachVar(p, func(_ int, v int, out bool) {
            if !out && !bb.dfKill.Test(uint(v)) {
                bb.dfGen.Set(uint(v))
            }
        })
        self.ctx.forEachVar(p, func(_ int, v int, out bool) {
            if out {
                bb.dfKill.Set(uint(v))
            }
        })
        if p.Code == ir.CALL {
            for _, h := range self.ctx.callClobbers() {
                bb.dfKill.Set(uint(h))
            }
        }
        if p == bb.tail {
            break
        }
    }
}

func (self _Liveness) Join(bb *BB) {
    self.ctx.unionSuccs(bb)
}

func (self _Liveness) Transfer(bb *BB) bool {
    return transferGenKill(bb.dfIn, bb.dfOut, bb.dfGen, bb.dfKill)
}

// computeLiveness sets dfIn and dfOut of every block to its live variables.
func (self *Context) computeLiveness() {
    self.solve(_Liveness { self })
}

/** live ranges **/

func (self *Context) addSpan(v int, start int, finish int) {
    self.live.spans[v] = append(self.live.spans[v], _Span { start, finish })
}

// buildLiveRanges numbers the program points and computes the live ranges,
// reference frequencies and unreferenced live-through blocks of every
// variable.
func (self *Context) buildLiveRanges() {
    self.computeLiveness()
    nv := self.nvars()
    nb := uint(len(self.blocks))
    self.live = _LiveScratch {
        spans   : make([][]_Span, nv),
        freq    : make([]int64, nv),
        length  : make([]int, nv),
        through : make([]*bitset.BitSet, nv),
    }

    /* number the points in layout order, empty blocks take one slot */
    pt := 0
    for _, bb := range self.blocks {
        bb.startPt = pt
        for _, p := range bb.insns() {
            self.live.insnAt = append(self.live.insnAt, p)
            self.live.bbAt = append(self.live.bbAt, bb)
            pt += 2
        }
        if bb.empty() {
            self.live.insnAt = append(self.live.insnAt, nil)
            self.live.bbAt = append(self.live.bbAt, bb)
            pt += 2
        }
        bb.endPt = pt - 1
    }
    self.live.npoints = pt

    /* build the ranges backward in every block */
    end := make([]int, nv)
    refs := bitset.New(uint(nv))
    for _, bb := range self.blocks {
        f := bb.freq
        if f <= 0 {
            f = 1
        }
        live := bb.dfOut.Clone()
        refs.ClearAll()
        for v, ok := live.NextSet(0); ok; v, ok = live.NextSet(v + 1) {
            end[v] = bb.endPt
        }

        /* instructions from the last one */
        insns := bb.insns()
        for k := len(insns) - 1; k >= 0; k-- {
            p := insns[k]
            u := bb.startPt + 2 * k
            d := u + 1

            /* definitions close the ranges */
            def := func(v int) {
                refs.Set(uint(v))
                if live.Test(uint(v)) {
                    self.addSpan(v, d, end[v])
                    live.Clear(uint(v))
                } else {
                    self.addSpan(v, d, d)
                }
            }
            outs := make(map[int]bool)
            self.forEachVar(p, func(_ int, v int, out bool) {
                if out {
                    outs[v] = true
                    self.live.freq[v] += f
                    def(v)
                }
            })
            if p.Code == ir.CALL {
                for _, h := range self.callClobbers() {
                    if !outs[int(h)] {
                        def(int(h))
                    }
                }
            }

            /* registers written before the inputs are read */
            for _, h := range self.tgt.EarlyClobberedHardRegs(p) {
                refs.Set(uint(h))
                self.addSpan(int(h), u, d)
            }

            /* uses open them */
            self.forEachVar(p, func(_ int, v int, out bool) {
                if !out {
                    refs.Set(uint(v))
                    self.live.freq[v] += f
                    if !live.Test(uint(v)) {
                        live.Set(uint(v))
                        end[v] = u
                    }
                }
            })
        }

        /* live at the block start */
        for v, ok := live.NextSet(0); ok; v, ok = live.NextSet(v + 1) {
            self.addSpan(int(v), bb.startPt, end[v])
        }

        /* unreferenced and live all the way through */
        through := bb.dfIn.Intersection(bb.dfOut)
        through.InPlaceDifference(refs)
        for v, ok := through.NextSet(0); ok; v, ok = through.NextSet(v + 1) {
            if self.live.through[v] == nil {
                self.live.through[v] = bitset.New(nb)
            }
            self.live.through[v].Set(uint(bb.index))
        }
    }

    /* sort and merge the spans */
    for v, sp := range self.live.spans {
        self.live.spans[v] = mergeSpans(sp)
        for _, s := range self.live.spans[v] {
            self.live.length[v] += s.finish - s.start + 1
        }
    }
}

func mergeSpans(sp []_Span) []_Span {
    if len(sp) <= 1 {
        return sp
    }
    slices.SortFunc(sp, func(a _Span, b _Span) bool {
        return a.start < b.start
    })
    r := sp[:1]
    for _, s := range sp[1:] {
        if last := &r[len(r) - 1]; s.start <= last.finish + 1 {
            if s.finish > last.finish {
                last.finish = s.finish
            }
        } else {
            r = append(r, s)
        }
    }
    return r
}

// spansIntersect reports whether two sorted span lists share a point.
func spansIntersect(a []_Span, b []_Span) bool {
    i, j := 0, 0
    for i < len(a) && j < len(b) {
        switch {
            case a[i].finish < b[j].start : i++
            case b[j].finish < a[i].start : j++
            default                       : return true
        }
    }
    return false
}

// liveAt reports whether variable v is live at point pt.
func (self *Context) liveAt(v int, pt int) bool {
    sp := self.live.spans[v]
    lo, hi := 0, len(sp)
    for lo < hi {
        m := (lo + hi) / 2
        switch {
            case sp[m].finish < pt : lo = m + 1
            case sp[m].start > pt  : hi = m
            default                : return true
        }
    }
    return false
}

func (self *Context) dumpLiveRanges() string {
    var buf []string
    for v, sp := range self.live.spans {
        if len(sp) == 0 {
            continue
        }
        var rs []string
        for _, s := range sp {
            rs = append(rs, fmt.Sprintf("[%d,%d]", s.start, s.finish))
        }
        var name string
        if self.isHardVar(v) {
            name = ir.HardReg(v).String()
        } else {
            name = self.varReg(v).String()
        }
        buf = append(buf, fmt.Sprintf("  %s: %s freq=%d", name, strings.Join(rs, " "), self.live.freq[v]))
    }
    return strings.Join(buf, "\n")
}
