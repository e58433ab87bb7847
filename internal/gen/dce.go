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
    `github.com/cloudwego/mirgen/ir`
    `github.com/oleiade/lane`
)

// pureDef reports whether p only computes its register outputs.
func pureDef(p *ir.Insn) bool {
    switch p.Code {
        case ir.LABEL : return false
        case ir.DEF   : return true
        case ir.PHI   : return true
        default       : return !p.HasSideEffects() && len(p.Ops) != 0 && !writesMem(p)
    }
}

// ssaDCE removes the instructions whose results are never used, following
// the chains of definitions that become dead.
func (self *Context) ssaDCE() {
    q := lane.NewQueue()
    for _, bb := range self.blocks {
        for p := bb.head; p != nil; p = p.Next() {
            if pureDef(p) && !self.hasUses(p) {
                q.Enqueue(p)
            }
            if p == bb.tail {
                break
            }
        }
    }

    /* delete and revisit the inputs */
    for !q.Empty() {
        p := q.Dequeue().(*ir.Insn)
        if !p.Attached() || self.hasUses(p) {
            continue
        }
        var defs []*ir.Insn
        for i := range p.Ops {
            if d, ok := self.defOf(p, i); ok && d.p != p {
                defs = append(defs, d.p)
            }
        }
        self.deleteInsn(p)
        for _, d := range defs {
            if d.Attached() && pureDef(d) && !self.hasUses(d) {
                q.Enqueue(d)
            }
        }
    }
}

// deadInsn reports whether p only writes registers that are not live.
func (self *Context) deadInsn(p *ir.Insn, live *bitset.BitSet) bool {
    if !pureDef(p) || p.Code == ir.DEF || p.Code == ir.PHI {
        return false
    }
    dead, nout := true, 0
    self.forEachVar(p, func(_ int, v int, out bool) {
        if out {
            nout++
            if live.Test(uint(v)) || (self.isHardVar(v) && self.tgt.FixedHardReg(ir.HardReg(v))) {
                dead = false
            }
        }
    })
    return dead && nout != 0
}

// dce removes dead instructions outside of SSA, using liveness.
func (self *Context) dce() bool {
    done := false
    for changed := true; changed; {
        changed = false
        self.computeLiveness()
        for _, bb := range self.blocks {
            live := bb.dfOut.Clone()
            insns := bb.insns()
            for i := len(insns) - 1; i >= 0; i-- {
                if p := insns[i]; self.deadInsn(p, live) {
                    self.deleteInsn(p)
                    changed = true
                } else {
                    self.stepLive(live, p)
                }
            }
        }
        done = done || changed
    }
    return done
}

/** dead store elimination **/

func (self *Context) memAliases(mi int) *bitset.BitSet {
    if s, ok := self.gvn.aliases[mi]; ok {
        return s
    }
    s := bitset.New(uint(len(self.gvn.mems)))
    for j, m := range self.gvn.mems {
        if mayAlias(self.gvn.mems[mi], m) {
            s.Set(uint(j))
        }
    }
    self.gvn.aliases[mi] = s
    return s
}

// memOf returns the location index of a memory move still touching memory.
func (self *Context) memOf(p *ir.Insn) (int, bool) {
    if mi := self.info(p).mem; mi == 0 || !p.Code.IsMove() {
        return 0, false
    } else if p.Ops[0].IsMem() || p.Ops[1].IsMem() {
        return mi - 1, true
    } else {
        return 0, false
    }
}

// scanStores walks bb backward from the live locations at its end. Stores
// to locations that are overwritten before being read are deleted when del
// is set.
func (self *Context) scanStores(bb *BB, live *bitset.BitSet, del bool) {
    insns := bb.insns()
    for i := len(insns) - 1; i >= 0; i-- {
        p := insns[i]
        if p.Code == ir.CALL {
            live.SetAll()
            continue
        }
        mi, ok := self.memOf(p)
        switch {
            case !ok && readsMem(p) : live.SetAll()
            case !ok                : break
            case p.Ops[0].IsMem(): {
                if live.Test(uint(mi)) {
                    live.Clear(uint(mi))
                } else if del {
                    self.deleteInsn(p)
                }
            }
            default: {
                live.InPlaceUnion(self.memAliases(mi))
            }
        }
    }
}

// _LiveMem is the backward problem of memory locations that may be read.
type _LiveMem struct {
    ctx *Context
}

func (_LiveMem) Forward() bool {
    return false
}

func (self _LiveMem) Init(bb *BB) {
    n := uint(len(self.ctx.gvn.mems))
    bb.dfIn = resize(bb.dfIn, n)
    bb.dfOut = resize(bb.dfOut, n)
}

func (self _LiveMem) Join(bb *BB) {
    if bb == self.ctx.exit {
        bb.dfOut.SetAll()
    } else {
        self.ctx.unionSuccs(bb)
    }
}

func (self _LiveMem) Transfer(bb *BB) bool {
    in := bb.dfOut.Clone()
    self.ctx.scanStores(bb, in, false)
    if in.Equal(bb.dfIn) {
        return false
    } else {
        in.CopyFull(bb.dfIn)
        return true
    }
}

// dse deletes stores never read before being overwritten. The locations
// come from the last value numbering.
func (self *Context) dse() {
    if len(self.gvn.mems) == 0 {
        return
    }
    self.gvn.aliases = make(map[int]*bitset.BitSet)
    self.solve(_LiveMem { self })
    for _, bb := range self.blocks {
        self.scanStores(bb, bb.dfOut.Clone(), true)
    }
}
