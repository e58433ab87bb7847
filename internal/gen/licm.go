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
)

// movable reports whether p can be executed anywhere its inputs are
// available: a pure register computation that never traps.
func movable(p *ir.Insn) bool {
    if !(p.Code.IsMove() || p.Code.IsUnary() || p.Code.IsBinary()) || p.Code.MayTrap() {
        return false
    }
    for _, v := range p.Ops {
        if v.IsMem() {
            return false
        }
    }
    return isDefOp(p, 0)
}

// expensive instructions are worth hoisting even when their users stay.
func expensive(p *ir.Insn) bool {
    switch p.Code {
        case ir.MUL, ir.DMUL, ir.DDIV : return true
        default                       : return false
    }
}

// licm moves loop invariant computations into the loop preheaders, inner
// loops first.
func (self *Context) licm() bool {
    moved := false
    self.ensureLoopTree()
    loops := append([]*loopNode(nil), self.loop.loops...)

    /* the loop list is already innermost first */
    for _, l := range loops {
        if self.hoistInvariants(l) {
            moved = true
        }
    }

    /* the new preheaders do not change the loop structure */
    self.loop.gen = self.cfgGen
    return moved
}

func (self *Context) hoistInvariants(l *loopNode) bool {
    var cands []*ir.Insn
    isCand := make(map[*ir.Insn]bool)

    /* candidates: movable, with inputs defined outside or by candidates */
    for _, bb := range self.loopBlocks(l) {
        for _, p := range bb.insns() {
            if !movable(p) {
                continue
            }
            ok := true
            for i := 1; i < len(p.Ops) && ok; i++ {
                if p.Ops[i].Mode == ir.OpReg {
                    d, found := self.defOf(p, i)
                    ok = found && (!l.contains(self.bbOf(d.p)) || isCand[d.p])
                }
            }
            if ok {
                isCand[p] = true
                cands = append(cands, p)
            }
        }
    }
    if len(cands) == 0 {
        return false
    }

    /* users are decided before their inputs */
    hoist := make(map[*ir.Insn]bool)
    needed := make(map[*ir.Insn]bool)
    for i := len(cands) - 1; i >= 0; i-- {
        p := cands[i]
        if !needed[p] && !expensive(p) && !self.usersHoisted(p, hoist) {
            continue
        }
        hoist[p] = true
        for j := 1; j < len(p.Ops); j++ {
            if d, ok := self.defOf(p, j); ok && isCand[d.p] {
                needed[d.p] = true
            }
        }
    }
    if len(hoist) == 0 {
        return false
    }

    /* the preheader is only created when something moves */
    ph := self.ensurePreheader(l)
    if ph == nil {
        return false
    }
    for _, p := range cands {
        if hoist[p] {
            self.moveInsn(p, ph, nil)
        }
    }
    return true
}

func (self *Context) usersHoisted(p *ir.Insn, hoist map[*ir.Insn]bool) bool {
    uses := self.usesOf(p, 0)
    for _, e := range uses {
        if !hoist[e.use] {
            return false
        }
    }
    return len(uses) != 0
}

// relievePressure moves single-use computations next to their use in
// another block, when that block is not more deeply nested.
func (self *Context) relievePressure() bool {
    moved := false
    self.ensureLoopTree()
    rpo := self.computeRPO()
    for i := len(rpo) - 1; i >= 0; i-- {
        bb := rpo[i]
        insns := bb.insns()
        for j := len(insns) - 1; j >= 0; j-- {
            p := insns[j]
            if !movable(p) {
                continue
            }
            uses := self.usesOf(p, 0)
            if len(uses) != 1 || uses[0].use.Code == ir.PHI {
                continue
            }
            u := uses[0].use
            if ub := self.bbOf(u); ub != bb && self.notDeeper(ub, bb) {
                self.moveInsn(p, ub, u)
                moved = true
            }
        }
    }
    return moved
}

// notDeeper reports whether the loop of a is the loop of b or encloses it.
func (self *Context) notDeeper(a *BB, b *BB) bool {
    for l := b.loop; l != nil; l = l.parent {
        if l == a.loop {
            return true
        }
    }
    return false
}
