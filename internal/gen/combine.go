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
)

// _CombineBlock is the state of the combiner over one block.
type _CombineBlock struct {
    ctx   *Context
    bb    *BB
    insns []*ir.Insn
    after []*bitset.BitSet
}

// combine merges instructions of the allocated code inside every block:
// copies and loads are substituted into their single user, address
// arithmetic is folded into memory operands, extension chains shrink and
// results are computed straight into the register they are moved to.
func (self *Context) combine() bool {
    done := false
    self.computeLiveness()
    for _, bb := range self.blocks {
        for self.combineBlock(bb) {
            done = true
        }
    }
    return done
}

func (self *Context) combineBlock(bb *BB) bool {
    cb := &_CombineBlock { ctx: self, bb: bb, insns: bb.insns() }
    cb.after = make([]*bitset.BitSet, len(cb.insns))
    live := bb.dfOut.Clone()
    for i := len(cb.insns) - 1; i >= 0; i-- {
        cb.after[i] = live.Clone()
        self.stepLive(live, cb.insns[i])
    }

    /* the first successful rewrite restarts the block */
    for i, p := range cb.insns {
        if cb.tryInsn(i, p) {
            return true
        }
    }
    return false
}

/** register effects **/

func (self *_CombineBlock) writes(p *ir.Insn, h ir.HardReg) bool {
    if p.Code == ir.CALL && self.ctx.tgt.CallUsedHardReg(h) {
        return true
    }
    for i, v := range p.Ops {
        if v.Mode == ir.OpHardReg && v.HReg == h && p.IsOutput(i) {
            return true
        }
    }
    return false
}

func (self *_CombineBlock) reads(p *ir.Insn, h ir.HardReg) bool {
    r := false
    self.ctx.forEachVar(p, func(_ int, v int, out bool) {
        if !out && v == int(h) {
            r = true
        }
    })
    return r
}

// lastDef returns the index of the closest instruction before i writing h.
func (self *_CombineBlock) lastDef(i int, h ir.HardReg) int {
    for j := i - 1; j >= 0; j-- {
        if self.writes(self.insns[j], h) {
            return j
        }
    }
    return -1
}

// unchanged reports whether the registers keep their values between
// instructions j and i, exclusive, and memory too when mem is set.
func (self *_CombineBlock) unchanged(j int, i int, mem bool, regs ...ir.HardReg) bool {
    for k := j + 1; k < i; k++ {
        q := self.insns[k]
        if mem && (q.Code == ir.CALL || writesMem(q)) {
            return false
        }
        for _, h := range regs {
            if h != ir.NoHardReg && self.writes(q, h) {
                return false
            }
        }
    }
    return true
}

// onlyUse reports whether p at i is the last reader of the value defined
// at j in h.
func (self *_CombineBlock) onlyUse(j int, i int, h ir.HardReg) bool {
    for k := j + 1; k < i; k++ {
        if self.reads(self.insns[k], h) {
            return false
        }
    }
    return !self.after[i].Test(uint(h)) || self.writes(self.insns[i], h)
}

// try replaces the operands of p, keeping the change if the target accepts it.
func (self *_CombineBlock) try(p *ir.Insn, code ir.Code, ops []ir.Op) bool {
    oldCode, oldOps := p.Code, p.Ops
    if p.Code, p.Ops = code, ops; self.ctx.tgt.InsnOK(p) {
        return true
    } else {
        p.Code, p.Ops = oldCode, oldOps
        return false
    }
}

func (self *_CombineBlock) tryInsn(i int, p *ir.Insn) bool {
    if p.Code == ir.CALL || p.Code == ir.RET || p.Code == ir.LABEL {
        return false
    }
    for k, op := range p.Ops {
        switch {
            case op.Mode == ir.OpHardReg && !p.IsOutput(k): {
                if self.substReg(i, p, k) || self.shrinkExt(i, p, k) {
                    return true
                }
            }
            case op.Mode == ir.OpHardRegMem: {
                if self.foldAddr(i, p, k) {
                    return true
                }
            }
        }
    }
    return self.foldIntoMove(i, p)
}

// substReg replaces input k of p with the source of the move defining it.
func (self *_CombineBlock) substReg(i int, p *ir.Insn, k int) bool {
    h := p.Ops[k].HReg
    j := self.lastDef(i, h)
    if j < 0 || !self.onlyUse(j, i, h) {
        return false
    }
    d := self.insns[j]
    if !d.Code.IsMove() || d.Ops[0].Mode != ir.OpHardReg {
        return false
    }

    /* the source must hold the same value at p */
    src := d.Ops[1]
    switch src.Mode {
        case ir.OpHardReg    : if !self.unchanged(j, i, false, src.HReg) { return false }
        case ir.OpHardRegMem : if !self.unchanged(j, i, true, src.Mem.HBase, src.Mem.HIndex) { return false }
        case ir.OpInt        : break
        default              : return false
    }

    /* every read of h in p is replaced */
    ops := append([]ir.Op(nil), p.Ops...)
    for m, v := range ops {
        if v.Mode == ir.OpHardReg && v.HReg == h && !p.IsOutput(m) {
            ops[m] = src
        }
    }
    if self.reads(&ir.Insn { Code: p.Code, NRes: p.NRes, Ops: ops }, h) || !self.try(p, p.Code, ops) {
        return false
    }
    self.ctx.deleteInsn(d)
    return true
}

func extWidth(code ir.Code) int {
    switch code {
        case ir.EXT8, ir.UEXT8   : return 8
        case ir.EXT16, ir.UEXT16 : return 16
        default                  : return 32
    }
}

func extSigned(code ir.Code) bool {
    return code == ir.EXT8 || code == ir.EXT16 || code == ir.EXT32
}

// shrinkExt merges an extension of an extended value into one extension.
func (self *_CombineBlock) shrinkExt(i int, p *ir.Insn, k int) bool {
    if !p.Code.IsExt() || k != 1 {
        return false
    }
    h := p.Ops[1].HReg
    j := self.lastDef(i, h)
    if j < 0 {
        return false
    }
    d := self.insns[j]
    if !d.Code.IsExt() || d.Ops[1].Mode != ir.OpHardReg || !self.unchanged(j, i, false, d.Ops[1].HReg) || d.Ops[1].HReg == h {
        return false
    }

    /* the narrower extension wins, or p alone when it is the narrower one */
    code := p.Code
    switch wd, wp := extWidth(d.Code), extWidth(p.Code); {
        case wd < wp && (extSigned(d.Code) == extSigned(p.Code) || !extSigned(d.Code)) : code = d.Code
        case wd < wp                                                                   : return false
    }
    return self.try(p, code, []ir.Op { p.Ops[0], d.Ops[1] })
}

// foldAddr folds the computation of a base register into the address.
func (self *_CombineBlock) foldAddr(i int, p *ir.Insn, k int) bool {
    m := p.Ops[k].Mem
    if m.HBase == ir.NoHardReg {
        return false
    }
    h := m.HBase
    j := self.lastDef(i, h)
    if j < 0 || m.HIndex == h || !self.onlyUse(j, i, h) {
        return false
    }
    d := self.insns[j]

    /* the new address */
    nm := m
    switch {
        case d.Code == ir.MOV && d.Ops[1].Mode == ir.OpHardReg: {
            nm.HBase = d.Ops[1].HReg
        }
        case d.Code == ir.ADD && d.Ops[1].Mode == ir.OpHardReg && d.Ops[2].Mode == ir.OpInt: {
            nm.HBase = d.Ops[1].HReg
            nm.Disp += d.Ops[2].Int
        }
        case d.Code == ir.ADD && d.Ops[1].Mode == ir.OpHardReg && d.Ops[2].Mode == ir.OpHardReg && m.HIndex == ir.NoHardReg: {
            nm.HBase = d.Ops[1].HReg
            nm.HIndex = d.Ops[2].HReg
            nm.Scale = 1
        }
        case d.Code == ir.LSH && d.Ops[1].Mode == ir.OpHardReg && d.Ops[2].Mode == ir.OpInt && m.HIndex == ir.NoHardReg: {
            if s := d.Ops[2].Int; s < 1 || s > 3 {
                return false
            }
            nm.HBase = ir.NoHardReg
            nm.HIndex = d.Ops[1].HReg
            nm.Scale = 1 << d.Ops[2].Int
        }
        default: {
            return false
        }
    }

    /* the registers of the new address must be unchanged */
    if nm.HBase == h || nm.HIndex == h || !self.unchanged(j, i, false, nm.HBase, nm.HIndex) {
        return false
    }
    ops := append([]ir.Op(nil), p.Ops...)
    for n, v := range ops {
        if v.Mode == ir.OpHardRegMem && v.Mem == m {
            ops[n].Mem = nm
        }
    }
    if self.reads(&ir.Insn { Code: p.Code, NRes: p.NRes, Ops: ops }, h) || !self.try(p, p.Code, ops) {
        return false
    }
    self.ctx.deleteInsn(d)
    return true
}

// foldIntoMove computes the source of a register move directly into the
// destination of the move.
func (self *_CombineBlock) foldIntoMove(i int, p *ir.Insn) bool {
    if !p.Code.IsMove() || p.Ops[0].Mode != ir.OpHardReg || p.Ops[1].Mode != ir.OpHardReg {
        return false
    }
    r, h := p.Ops[0].HReg, p.Ops[1].HReg
    j := self.lastDef(i, h)
    if j < 0 || r == h || !self.onlyUse(j, i, h) || self.after[i].Test(uint(h)) {
        return false
    }
    d := self.insns[j]
    if d.Code == ir.CALL || !(d.Code.IsMove() || d.Code.IsUnary() || d.Code.IsBinary()) || !d.Ops[0].Equal(ir.HR(h)) {
        return false
    }

    /* r must be free between the two */
    for k := j + 1; k < i; k++ {
        if q := self.insns[k]; self.reads(q, r) || self.writes(q, r) {
            return false
        }
    }

    /* the output moves to r, commutative operands may swap */
    ops := append([]ir.Op(nil), d.Ops...)
    ops[0] = ir.HR(r)
    if !self.try(d, d.Code, ops) {
        if !d.Code.IsCommutative() || len(ops) != 3 {
            return false
        }
        ops = []ir.Op { ops[0], ops[2], ops[1] }
        if !self.try(d, d.Code, ops) {
            return false
        }
    }
    self.ctx.deleteInsn(p)
    return true
}
