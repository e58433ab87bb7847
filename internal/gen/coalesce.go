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
    `github.com/cloudwego/mirgen/ir`
    `github.com/oleiade/lane`
)

type _MovePair struct {
    dst ir.Reg
    src ir.Reg
}

// regMove returns the registers of a pseudo to pseudo move.
func regMove(p *ir.Insn) (_MovePair, bool) {
    if !p.Code.IsMove() || p.Ops[0].Mode != ir.OpReg || p.Ops[1].Mode != ir.OpReg {
        return _MovePair{}, false
    } else {
        return _MovePair { dst: p.Ops[0].Reg, src: p.Ops[1].Reg }, true
    }
}

// coalesce merges the registers of moves whose live ranges do not
// intersect, most frequently executed moves first. The merged moves become
// identities and are removed.
func (self *Context) coalesce() bool {
    self.buildLiveRanges()
    q := lane.NewPQueue(lane.MAXPQ)
    for _, bb := range self.blocks {
        for _, p := range bb.insns() {
            if mv, ok := regMove(p); ok && mv.dst != mv.src {
                q.Push(mv, int(bb.freq))
            }
        }
    }

    /* union-find over the pseudo registers */
    rep := make([]ir.Reg, self.fn.NumRegs())
    for i := range rep {
        rep[i] = ir.Reg(i)
    }
    var find func(r ir.Reg) ir.Reg
    find = func(r ir.Reg) ir.Reg {
        if rep[r] != r {
            rep[r] = find(rep[r])
        }
        return rep[r]
    }

    /* merge the most frequent moves first */
    merged := false
    for !q.Empty() {
        v, _ := q.Pop()
        mv := v.(_MovePair)
        a, b := find(mv.dst), find(mv.src)
        if a == b || !self.canMerge(a, b) {
            continue
        }
        va, vb := self.regVar(a), self.regVar(b)
        self.live.spans[va] = mergeSpans(append(self.live.spans[va], self.live.spans[vb]...))
        self.live.spans[vb] = nil
        self.live.freq[va] += self.live.freq[vb]
        rep[b] = a
        merged = true
    }
    if !merged {
        return false
    }

    /* rename to the representatives and drop the identities */
    for _, bb := range self.blocks {
        for _, p := range bb.insns() {
            for i := range p.Ops {
                op := &p.Ops[i]
                switch op.Mode {
                    case ir.OpReg: {
                        op.Reg = find(op.Reg)
                    }
                    case ir.OpMem: {
                        if op.Mem.Base != ir.NoReg { op.Mem.Base = find(op.Mem.Base) }
                        if op.Mem.Index != ir.NoReg { op.Mem.Index = find(op.Mem.Index) }
                    }
                }
            }
            if mv, ok := regMove(p); ok && mv.dst == mv.src {
                self.deleteInsn(p)
            }
        }
    }
    return true
}

func (self *Context) canMerge(a ir.Reg, b ir.Reg) bool {
    da, db := self.fn.Regs[a], self.fn.Regs[b]
    switch {
        case da.Tied || db.Tied                       : return false
        case da.Type.IsFloat() != db.Type.IsFloat()   : return false
        default                                       : return !spansIntersect(self.live.spans[self.regVar(a)], self.live.spans[self.regVar(b)])
    }
}
