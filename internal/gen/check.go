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

func (self *Context) fail(format string, args ...interface{}) {
    panic(fmt.Sprintf("gen: %s: ", self.fn.Name) + fmt.Sprintf(format, args...))
}

// verify checks the CFG, and the SSA edges while in SSA form.
func (self *Context) verify() {
    self.verifyCFG()
    if self.inSSA {
        self.verifySSA()
    }
}

func (self *Context) verifyCFG() {
    n := len(self.blocks)
    switch {
        case n < 2                           : self.fail("less than two blocks")
        case self.blocks[0] != self.entry    : self.fail("entry is not the first block")
        case self.blocks[n - 1] != self.exit : self.fail("exit is not the last block")
        case len(self.entry.in) != 0         : self.fail("entry has predecessors")
        case len(self.exit.out) != 0         : self.fail("exit has successors")
        case !self.exit.empty()              : self.fail("exit is not empty")
    }

    /* the edge lists agree with each other */
    for i, bb := range self.blocks {
        if bb.index != i {
            self.fail("%s is at position %d", bb, i)
        }
        if bb != self.exit && len(bb.out) == 0 {
            self.fail("%s has no successors", bb)
        }
        for _, e := range bb.out {
            if !self.edges.Valid(e) {
                self.fail("%s has a stale out edge %s", bb, e)
            }
            if self.src(e) != bb || !slices.Contains(self.dst(e).in, e) {
                self.fail("out edge %s of %s is not an in edge of %s", e, bb, self.dst(e))
            }
        }
        for _, e := range bb.in {
            if !self.edges.Valid(e) {
                self.fail("%s has a stale in edge %s", bb, e)
            }
            if self.dst(e) != bb || !slices.Contains(self.src(e).out, e) {
                self.fail("in edge %s of %s is not an out edge of %s", e, bb, self.src(e))
            }
        }
    }

    /* every instruction is in exactly one block */
    total := 0
    for _, bb := range self.blocks {
        for _, p := range bb.insns() {
            total++
            if self.bbOf(p) != bb {
                self.fail("%q is listed in %s but belongs to %s", p, bb, self.bbOf(p))
            }
            if p.Code.EndsBlock() && p != bb.tail {
                self.fail("%q ends %s before its tail", p, bb)
            }
            if p.Code == ir.PHI && len(p.Ops) != len(bb.in) + 1 {
                self.fail("%q has %d operands, %s has %d predecessors", p, len(p.Ops) - 1, bb, len(bb.in))
            }
        }
        if !bb.empty() && bb.tail.Next() != nil && self.bbOf(bb.tail.Next()) == bb {
            self.fail("%s continues after its tail", bb)
        }
    }
    for p := self.fn.Insns.Front(); p != nil; p = p.Next() {
        total--
    }
    if total != 0 {
        self.fail("%d instructions are outside of the blocks", -total)
    }
}

// verifySSA checks that every SSA edge is linked from both ends, and that
// definitions dominate their non-phi uses.
func (self *Context) verifySSA() {
    self.ensureDominators()
    for _, bb := range self.blocks {
        for _, p := range bb.insns() {
            for i, r := range self.info(p).ops {
                if r.IsNil() {
                    continue
                }
                if !self.uses.Valid(r) {
                    self.fail("operand %d of %q has a stale SSA edge", i, p)
                }
                if isDefOp(p, i) {
                    self.verifyUses(p, i)
                } else {
                    self.verifyDef(bb, p, i)
                }
            }
        }
    }
}

func (self *Context) verifyUses(p *ir.Insn, i int) {
    for v := self.info(p).ops[i]; !v.IsNil(); {
        e := self.uses.Get(v)
        if e.def != p || e.defOp != i {
            self.fail("use list of operand %d of %q holds a foreign edge", i, p)
        }
        if !e.use.Attached() || self.info(e.use).ops[e.useOp] != v {
            self.fail("use %q of %q does not point back", e.use, p)
        }
        v = e.next
    }
}

func (self *Context) verifyDef(bb *BB, p *ir.Insn, i int) {
    e := self.uses.Get(self.info(p).ops[i])
    switch {
        case e.use != p || e.useOp != i             : self.fail("operand %d of %q holds a foreign edge", i, p)
        case !e.def.Attached()                      : self.fail("%q uses a deleted definition", p)
        case useReg(p, i) != e.def.Ops[e.defOp].Reg : self.fail("operand %d of %q does not read %q", i, p, e.def)
    }
    if p.Code == ir.PHI {
        return
    }

    /* the definition comes first */
    if db := self.bbOf(e.def); db != bb {
        if !self.dominates(db, bb) {
            self.fail("%q does not dominate %q", e.def, p)
        }
    } else {
        for q := p; q != nil && q != bb.head.Prev(); q = q.Prev() {
            if q == e.def {
                return
            }
        }
        self.fail("%q comes after its use %q", e.def, p)
    }
}
