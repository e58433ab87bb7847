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

    `github.com/cloudwego/mirgen/ir`
    `golang.org/x/exp/slices`
)

// slotMem is the memory operand of a stack slot.
func (self *Context) slotMem(slot int, t ir.Type) ir.Op {
    return ir.HM(t, self.tgt.StackSlotOffset(slot, t), self.tgt.FPHardReg(), ir.NoHardReg, 0)
}

// hardOf returns the hard register of a pseudo register, or false if it
// lives in a stack slot.
func (self *Context) hardOf(r ir.Reg) (ir.HardReg, bool) {
    switch loc := self.ra.loc[self.regVar(r)]; {
        case loc == _NoLoc     : return 0, true
        case self.isSlot(loc)  : return 0, false
        default                : return ir.HardReg(loc), true
    }
}

// rewrite replaces the pseudo registers with their locations. Stack slots
// become memory operands when the target accepts them, and go through the
// scratch registers otherwise.
func (self *Context) rewrite() []ir.HardReg {
    for _, bb := range self.blocks {
        for _, p := range bb.insns() {
            self.rewriteOperands(bb, p)
        }
    }
    self.placeSplits()

    /* callee-saved registers that need saving */
    var saved []ir.HardReg
    for v := self.nhard; v < len(self.ra.loc); v++ {
        if loc := self.ra.loc[v]; loc != _NoLoc && !self.isSlot(loc) {
            if h := ir.HardReg(loc); !self.tgt.CallUsedHardReg(h) && !slices.Contains(saved, h) {
                saved = append(saved, h)
            }
        }
    }
    slices.Sort(saved)
    return saved
}

type _Spill struct {
    reg  ir.Reg
    slot int
    tmp  ir.HardReg
    in   bool
    out  bool
}

func (self *Context) rewriteOperands(bb *BB, p *ir.Insn) {
    var spills []*_Spill
    find := func(r ir.Reg) *_Spill {
        for _, s := range spills {
            if s.reg == r {
                return s
            }
        }
        s := &_Spill { reg: r, slot: self.slotOf(self.ra.loc[self.regVar(r)]) }
        spills = append(spills, s)
        return s
    }

    /* the hard registers, collecting the spilled registers */
    orig := append([]ir.Op(nil), p.Ops...)
    for i := range p.Ops {
        op := &p.Ops[i]
        switch op.Mode {
            case ir.OpReg: {
                if h, ok := self.hardOf(op.Reg); ok {
                    *op = ir.HR(h)
                } else if s := find(op.Reg); p.IsOutput(i) {
                    s.out = true
                } else {
                    s.in = true
                }
            }
            case ir.OpMem: {
                m := op.Mem
                base, index := ir.NoHardReg, ir.NoHardReg
                if m.Base != ir.NoReg {
                    if h, ok := self.hardOf(m.Base); ok {
                        base = h
                    } else {
                        find(m.Base).in = true
                    }
                }
                if m.Index != ir.NoReg {
                    if h, ok := self.hardOf(m.Index); ok {
                        index = h
                    } else {
                        find(m.Index).in = true
                    }
                }
                *op = ir.HM(m.Type, m.Disp, base, index, m.Scale).WithAlias(m.Alias, m.NonAlias)
            }
        }
    }

    /* identity moves disappear */
    if len(spills) == 0 {
        if p.Code.IsMove() && p.Ops[0].Mode == ir.OpHardReg && p.Ops[0].Equal(p.Ops[1]) {
            self.deleteInsn(p)
        }
        return
    }

    /* a single spilled register may be used in place */
    if len(spills) == 1 && self.slotInPlace(p, orig, spills[0]) {
        return
    }

    /* scratch registers: inputs first, outputs reuse the first one */
    var nint, nfp int
    for _, s := range spills {
        if !s.in {
            continue
        }
        t := self.fn.RegType(s.reg)
        n := &nint
        if t.IsFloat() {
            n = &nfp
        }
        if *n > 1 {
            panic(fmt.Sprintf("gen: too many spilled operands in %s", p))
        }
        s.tmp = self.tgt.TempHardReg(t, *n)
        *n++
        self.insertBefore(bb, p, ir.NewInsn(moveCode(t), ir.HR(s.tmp), self.slotMem(s.slot, t)))
    }
    for _, s := range spills {
        if s.out && !s.in {
            s.tmp = self.tgt.TempHardReg(self.fn.RegType(s.reg), 0)
        }
    }

    /* substitute the scratch registers */
    for i, op := range orig {
        switch op.Mode {
            case ir.OpReg: {
                if _, ok := self.hardOf(op.Reg); !ok {
                    p.Ops[i] = ir.HR(find(op.Reg).tmp)
                }
            }
            case ir.OpMem: {
                m := &p.Ops[i].Mem
                if op.Mem.Base != ir.NoReg && m.HBase == ir.NoHardReg {
                    m.HBase = find(op.Mem.Base).tmp
                }
                if op.Mem.Index != ir.NoReg && m.HIndex == ir.NoHardReg {
                    m.HIndex = find(op.Mem.Index).tmp
                }
            }
        }
    }

    /* results go back to their slots */
    at := p
    for _, s := range spills {
        if s.out {
            t := self.fn.RegType(s.reg)
            st := ir.NewInsn(moveCode(t), self.slotMem(s.slot, t), ir.HR(s.tmp))
            self.insertAfter(bb, at, st)
            at = st
        }
    }
}

// slotInPlace tries the slot memory operand for every occurrence of the
// spilled register, keeping the instruction if the target accepts it.
func (self *Context) slotInPlace(p *ir.Insn, orig []ir.Op, s *_Spill) bool {
    t := self.fn.RegType(s.reg)
    ops := append([]ir.Op(nil), p.Ops...)
    for i, op := range orig {
        switch {
            case op.Mode == ir.OpMem : return false
            case op.Mode == ir.OpReg && op.Reg == s.reg : ops[i] = self.slotMem(s.slot, t)
        }
    }
    saved := p.Ops
    if p.Ops = ops; self.tgt.InsnOK(p) {
        return true
    } else {
        p.Ops = saved
        return false
    }
}

/** split ranges **/

type _EdgeCode struct {
    stores []*ir.Insn
    loads  []*ir.Insn
}

// placeSplits inserts the stores and loads on the edges entering and
// leaving the split regions.
func (self *Context) placeSplits() {
    code := make(map[EdgeRef]*_EdgeCode)
    var order []EdgeRef
    get := func(e EdgeRef) *_EdgeCode {
        if c, ok := code[e]; ok {
            return c
        }
        c := new(_EdgeCode)
        code[e] = c
        order = append(order, e)
        return c
    }

    /* collect the moves of every edge */
    for _, sp := range self.ra.splits {
        t := self.varType(sp.v)
        mem := self.slotMem(sp.slot, t)
        for i, ok := sp.blocks.NextSet(0); ok; i, ok = sp.blocks.NextSet(i + 1) {
            bb := self.blocks[i]
            for _, e := range bb.in {
                if !sp.blocks.Test(uint(self.src(e).index)) {
                    c := get(e)
                    c.stores = append(c.stores, ir.NewInsn(moveCode(t), mem, ir.HR(sp.h)))
                }
            }
            for _, e := range bb.out {
                if d := self.dst(e); !sp.blocks.Test(uint(d.index)) && d.dfIn.Test(uint(sp.v)) {
                    c := get(e)
                    c.loads = append(c.loads, ir.NewInsn(moveCode(t), ir.HR(sp.h), mem))
                }
            }
        }
    }

    /* stores read the registers before the loads overwrite them */
    for _, e := range order {
        c := code[e]
        self.placeOnEdge(e, append(c.stores, c.loads...))
    }
}

// placeOnEdge inserts code executed only when control passes along e.
func (self *Context) placeOnEdge(e EdgeRef, insns []*ir.Insn) {
    src, dst := self.src(e), self.dst(e)
    t := src.terminator()
    switch {
        case len(src.out) == 1 && (t == nil || t.Code == ir.JMP): {
            for _, p := range insns {
                self.appendInsn(src, p)
            }
        }
        case len(dst.in) == 1 && dst != self.exit: {
            for i := len(insns) - 1; i >= 0; i-- {
                self.prepend(dst, insns[i])
            }
        }
        default: {
            bb := self.splitEdge(e)
            if bb == nil {
                panic("gen: cannot place code on edge " + src.String() + " -> " + dst.String())
            }
            for _, p := range insns {
                self.appendInsn(bb, p)
            }
        }
    }
}
