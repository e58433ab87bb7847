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
    `math/bits`

    `github.com/cloudwego/mirgen/ir`
    `golang.org/x/exp/slices`
)

type _DefKey struct {
    bb *BB
    r  ir.Reg
}

// _SSADef is a defining operand: operand op of instruction p.
type _SSADef struct {
    p  *ir.Insn
    op int
}

type _SSAScratch struct {
    lastDef  map[_DefKey]_SSADef
    startDef map[_DefKey]_SSADef
}

/** SSA edges **/

// isDefOp reports whether operand i of p defines a pseudo register.
func isDefOp(p *ir.Insn, i int) bool {
    return p.Ops[i].Mode == ir.OpReg && p.IsOutput(i)
}

// useReg returns the pseudo register read by operand i of p, if any.
func useReg(p *ir.Insn, i int) ir.Reg {
    switch op := p.Ops[i]; op.Mode {
        case ir.OpReg : if p.IsOutput(i) { return ir.NoReg } else { return op.Reg }
        case ir.OpMem : return op.Mem.Base
        default       : return ir.NoReg
    }
}

// setUseReg renames the register read by operand i of p.
func setUseReg(p *ir.Insn, i int, r ir.Reg) {
    switch op := &p.Ops[i]; op.Mode {
        case ir.OpReg : op.Reg = r
        case ir.OpMem : op.Mem.Base = r
        default       : panic("ssa: operand does not use a register")
    }
}

// addUse links operand useOp of use to the definition in operand defOp of def.
func (self *Context) addUse(def *ir.Insn, defOp int, use *ir.Insn, useOp int) {
    di := self.info(def)
    ui := self.info(use)
    if !ui.ops[useOp].IsNil() {
        panic("ssa: operand already has a definition: " + use.String())
    }
    r, e := self.uses.New()
    e.def, e.defOp = def, defOp
    e.use, e.useOp = use, useOp
    e.next = di.ops[defOp]
    if !e.next.IsNil() {
        self.uses.Get(e.next).prev = r
    }
    di.ops[defOp] = r
    ui.ops[useOp] = r
}

// removeUse unlinks an SSA edge from both of its ends.
func (self *Context) removeUse(r SSARef) {
    e := self.uses.Get(r)
    if e.prev.IsNil() {
        self.info(e.def).ops[e.defOp] = e.next
    } else {
        self.uses.Get(e.prev).next = e.next
    }
    if !e.next.IsNil() {
        self.uses.Get(e.next).prev = e.prev
    }
    self.info(e.use).ops[e.useOp] = SSARef{}
    self.uses.Free(r)
}

// dropUses unlinks every operand of p that uses a value.
func (self *Context) dropUses(p *ir.Insn) {
    pi := self.info(p)
    for i, r := range pi.ops {
        if !r.IsNil() && !isDefOp(p, i) {
            self.removeUse(r)
        }
    }
}

// removeSSAEdges unlinks every edge touching p, leaving the remaining users
// of its definitions without a definition.
func (self *Context) removeSSAEdges(p *ir.Insn) {
    self.dropUses(p)
    pi := self.info(p)
    for i, r := range pi.ops {
        if !r.IsNil() && isDefOp(p, i) {
            for !r.IsNil() {
                e := self.uses.Get(r)
                next := e.next
                self.info(e.use).ops[e.useOp] = SSARef{}
                self.uses.Free(r)
                r = next
            }
            pi.ops[i] = SSARef{}
        }
    }
}

// defOf returns the definition reaching operand i of p.
func (self *Context) defOf(p *ir.Insn, i int) (_SSADef, bool) {
    if r := self.info(p).ops[i]; r.IsNil() {
        return _SSADef{}, false
    } else {
        e := self.uses.Get(r)
        return _SSADef { e.def, e.defOp }, true
    }
}

// usesOf returns the edges of all the uses of a definition.
func (self *Context) usesOf(p *ir.Insn, i int) []*ssaEdge {
    var r []*ssaEdge
    for v := self.info(p).ops[i]; !v.IsNil(); {
        e := self.uses.Get(v)
        r = append(r, e)
        v = e.next
    }
    return r
}

// hasUses reports whether any output of p is used.
func (self *Context) hasUses(p *ir.Insn) bool {
    for i, r := range self.info(p).ops {
        if !r.IsNil() && isDefOp(p, i) {
            return true
        }
    }
    return false
}

// redirectUses makes every user of (p, i) use d instead, renaming the
// operands to the register defined by d.
func (self *Context) redirectUses(p *ir.Insn, i int, d _SSADef) {
    reg := d.p.Ops[d.op].Reg
    for _, e := range self.usesOf(p, i) {
        use, op := e.use, e.useOp
        if use == p {
            continue
        }
        self.removeUse(self.info(use).ops[op])
        setUseReg(use, op, reg)
        self.addUse(d.p, d.op, use, op)
    }
}

// rewriteInsn replaces the code and operands of a single-output instruction
// in place. The users of its output are kept, the new operands are not
// linked to any definition.
func (self *Context) rewriteInsn(p *ir.Insn, code ir.Code, ops ...ir.Op) {
    pi := self.info(p)
    if !isDefOp(p, 0) {
        panic("ssa: rewriting an instruction without an output: " + p.String())
    }
    head := pi.ops[0]
    self.dropUses(p)
    p.Code = code
    p.Ops = ops
    pi.ops = make([]SSARef, len(ops))
    pi.ops[0] = head
}

// linkOperand links a rewritten register operand to the definition that
// reaches it through the value d.
func (self *Context) linkOperand(p *ir.Insn, i int, d _SSADef) {
    setUseReg(p, i, d.p.Ops[d.op].Reg)
    self.addUse(d.p, d.op, p, i)
}

// removePhiOperand drops operand i of a phi.
func (self *Context) removePhiOperand(p *ir.Insn, i int) {
    pi := self.info(p)
    if r := pi.ops[i]; !r.IsNil() && self.inSSA {
        self.removeUse(r)
    }

    /* shift the remaining SSA edges down */
    for j := i + 1; j < len(pi.ops); j++ {
        if r := pi.ops[j]; !r.IsNil() {
            self.uses.Get(r).useOp = j - 1
        }
    }
    p.Ops = slices.Delete(p.Ops, i, i + 1)
    pi.ops = slices.Delete(pi.ops, i, i + 1)
}

/** memory simplification **/

// simplifyMem leaves memory operands in moves only, each addressed by at
// most a base register.
func (self *Context) simplifyMem() {
    for _, bb := range self.blocks {
        for _, p := range bb.insns() {
            if p.Code.IsMove() {
                if p.Ops[0].IsMem() && p.Ops[1].IsMem() {
                    self.memToTemp(bb, p, 1)
                }
            } else {
                for i, v := range p.Ops {
                    if v.Mode == ir.OpMem {
                        self.memToTemp(bb, p, i)
                    }
                }
            }
        }
    }
    for _, bb := range self.blocks {
        for _, p := range bb.insns() {
            for i, v := range p.Ops {
                if v.Mode == ir.OpMem && v.Mem.Index != ir.NoReg {
                    self.foldIndex(bb, p, i)
                }
            }
        }
    }
}

func (self *Context) memToTemp(bb *BB, p *ir.Insn, i int) {
    m := p.Ops[i]
    t := self.fn.NewReg(m.Mem.Type.RegType(), "")
    if p.IsOutput(i) {
        self.insertAfter(bb, p, ir.NewInsn(moveCode(m.Mem.Type), m, ir.R(t)))
    } else {
        self.insertBefore(bb, p, ir.NewInsn(moveCode(m.Mem.Type), ir.R(t), m))
    }
    p.Ops[i] = ir.R(t)
}

// foldIndex computes base+index*scale into a new register.
func (self *Context) foldIndex(bb *BB, p *ir.Insn, i int) {
    m := &p.Ops[i].Mem
    x := m.Index

    /* scale the index */
    if m.Scale > 1 {
        t := self.fn.NewReg(ir.I64, "")
        if m.Scale & (m.Scale - 1) == 0 {
            self.insertBefore(bb, p, ir.NewInsn(ir.LSH, ir.R(t), ir.R(x), ir.I(int64(bits.TrailingZeros8(m.Scale)))))
        } else {
            self.insertBefore(bb, p, ir.NewInsn(ir.MUL, ir.R(t), ir.R(x), ir.I(int64(m.Scale))))
        }
        x = t
    }

    /* add the base */
    if m.Base != ir.NoReg {
        t := self.fn.NewReg(ir.I64, "")
        self.insertBefore(bb, p, ir.NewInsn(ir.ADD, ir.R(t), ir.R(m.Base), ir.R(x)))
        x = t
    }
    m.Base = x
    m.Index = ir.NoReg
    m.Scale = 0
}

/** SSA construction **/

// buildSSA links every use to its reaching definition, creating phis at
// the start of merge blocks and DEF placeholders in entry.
func (self *Context) buildSSA() {
    self.inSSA = true
    self.ssa.lastDef = make(map[_DefKey]_SSADef)
    self.ssa.startDef = make(map[_DefKey]_SSADef)

    /* Phase 1: the last definition of every register in each block */
    for _, bb := range self.blocks {
        for _, p := range bb.insns() {
            for i := range p.Ops {
                if isDefOp(p, i) {
                    self.ssa.lastDef[_DefKey { bb, p.Ops[i].Reg }] = _SSADef { p, i }
                }
            }
        }
    }

    /* Phase 2: resolve the uses */
    for _, bb := range self.computeRPO() {
        cur := make(map[ir.Reg]_SSADef)
        for _, p := range bb.insns() {
            if p.Code == ir.PHI {
                continue
            }
            for i, v := range p.Ops {
                if v.Mode == ir.OpMem && v.Mem.Index != ir.NoReg {
                    panic("ssa: indexed memory operand: " + p.String())
                }
                if r := useReg(p, i); r != ir.NoReg {
                    d, ok := cur[r]
                    if !ok {
                        d = self.defAtStart(bb, r)
                    }
                    self.addUse(d.p, d.op, p, i)
                }
            }
            for i := range p.Ops {
                if isDefOp(p, i) {
                    cur[p.Ops[i].Reg] = _SSADef { p, i }
                }
            }
        }
    }
    self.ssa = _SSAScratch{}
}

func (self *Context) defAtEnd(bb *BB, r ir.Reg) _SSADef {
    if d, ok := self.ssa.lastDef[_DefKey { bb, r }]; ok {
        return d
    } else {
        return self.defAtStart(bb, r)
    }
}

func (self *Context) defAtStart(bb *BB, r ir.Reg) _SSADef {
    key := _DefKey { bb, r }
    if d, ok := self.ssa.startDef[key]; ok {
        return d
    }

    /* entry values are arguments or undefined */
    if bb == self.entry || len(bb.in) == 0 {
        p := ir.NewInsn(ir.DEF, ir.R(r))
        self.insertBefore(self.entry, nil, p)
        d := _SSADef { p, 0 }
        self.ssa.startDef[key] = d
        self.ssa.lastDef[_DefKey { self.entry, r }] = d
        return d
    }

    /* single predecessor, no merge */
    if len(bb.in) == 1 {
        d := self.defAtEnd(self.src(bb.in[0]), r)
        self.ssa.startDef[key] = d
        return d
    }

    /* create the phi before resolving its operands to break cycles */
    ops := make([]ir.Op, len(bb.in) + 1)
    for i := range ops {
        ops[i] = ir.R(r)
    }
    phi := ir.NewInsn(ir.PHI, ops...)
    self.prepend(bb, phi)
    d := _SSADef { phi, 0 }
    self.ssa.startDef[key] = d

    /* resolve every operand */
    for i, e := range bb.in {
        od := self.defAtEnd(self.src(e), r)
        self.addUse(od.p, od.op, phi, i + 1)
    }
    return d
}

// phiValue returns the single value a phi merges besides itself.
func (self *Context) phiValue(p *ir.Insn) (_SSADef, bool) {
    var v _SSADef
    for i := 1; i < len(p.Ops); i++ {
        d, ok := self.defOf(p, i)
        switch {
            case !ok                              : return _SSADef{}, false
            case d.p == p                         : continue
            case v.p == nil                       : v = d
            case v.p != d.p || v.op != d.op       : return _SSADef{}, false
        }
    }
    return v, v.p != nil
}

// minimizeSSA removes trivial phis until none is left.
func (self *Context) minimizeSSA() {
    for changed := true; changed; {
        changed = false
        for _, bb := range self.blocks {
            for _, p := range self.phis(bb) {
                if d, ok := self.phiValue(p); ok {
                    self.redirectUses(p, 0, d)
                    self.deleteInsn(p)
                    changed = true
                }
            }
        }
    }
}

// renameSSA gives every definition its own register. The first definition
// of a register in reverse post-order keeps the name.
func (self *Context) renameSSA() {
    seen := make(map[ir.Reg]bool)
    for _, bb := range self.computeRPO() {
        for _, p := range bb.insns() {
            for i, v := range p.Ops {
                if !isDefOp(p, i) {
                    continue
                }
                if !seen[v.Reg] {
                    seen[v.Reg] = true
                    continue
                }
                nr := self.fn.NewReg(self.fn.RegType(v.Reg), "")
                p.Ops[i].Reg = nr
                for _, e := range self.usesOf(p, i) {
                    setUseReg(e.use, e.useOp, nr)
                }
            }
        }
    }
}

/** SSA destruction **/

// leaveSSA drops every SSA edge, turning the phis into plain instructions.
func (self *Context) leaveSSA() {
    for p := self.fn.Insns.Front(); p != nil; p = p.Next() {
        pi := self.info(p)
        for i := range pi.ops {
            pi.ops[i] = SSARef{}
        }
    }
    self.uses.Reset()
    self.inSSA = false
}

// makeConventional gives every phi a dedicated register, assigned by a copy
// at the end of each predecessor and copied into the phi result after the
// phis of the block.
func (self *Context) makeConventional() {
    self.leaveSSA()
    for _, bb := range self.blocks {
        phis := self.phis(bb)
        if len(phis) == 0 {
            continue
        }
        last := phis[len(phis) - 1]
        for _, p := range phis {
            res := p.Ops[0].Reg
            t := self.fn.RegType(res)
            n := self.fn.NewReg(t, "")
            for i, e := range bb.in {
                self.appendInsn(self.src(e), ir.NewInsn(moveCode(t), ir.R(n), p.Ops[i + 1]))
                p.Ops[i + 1] = ir.R(n)
            }
            mov := ir.NewInsn(moveCode(t), ir.R(res), ir.R(n))
            self.insertAfter(bb, last, mov)
            last = mov
        }
    }
}

// undoSSA removes the phis and DEF placeholders of a conventional function.
func (self *Context) undoSSA() {
    for _, bb := range self.blocks {
        for _, p := range bb.insns() {
            if p.Code == ir.PHI || p.Code == ir.DEF {
                self.deleteInsn(p)
            }
        }
    }
}
