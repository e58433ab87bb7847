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

    `github.com/cloudwego/mirgen/ir`
    `github.com/oleiade/lane`
    `golang.org/x/exp/slices`
)

// buildCFG splits the function into basic blocks and connects them.
func (self *Context) buildCFG(f *ir.Func) {
    self.fn = f
    self.entry = self.newBB()
    self.blocks = append(self.blocks[:0], self.entry)

    /* snapshot the body, the loop below inserts labels */
    var body []*ir.Insn
    for p := f.Insns.Front(); p != nil; p = p.Next() {
        body = append(body, p)
    }

    /* split into blocks */
    var cur *BB
    for _, p := range body {
        if p.Code == ir.LABEL || cur == nil {
            cur = self.newBB()
            cur.index = len(self.blocks)
            self.blocks = append(self.blocks, cur)
            if p.Code != ir.LABEL {
                lb := self.newLabel()
                f.Insns.InsertBefore(p, lb)
                self.attach(cur, lb)
                cur.head, cur.tail = lb, lb
            }
        }
        self.attach(cur, p)
        if cur.head == nil {
            cur.head = p
        }
        if cur.tail = p; p.Code.EndsBlock() {
            cur = nil
        }
    }

    /* the exit block is always the last one */
    self.exit = self.newBB()
    self.exit.index = len(self.blocks)
    self.blocks = append(self.blocks, self.exit)
    self.removeBranchesToNext()
    self.connect()
    self.removeUnreachable()
}

// removeBranchesToNext deletes conditional branches to the next block, which
// would otherwise make two edges between the same pair of blocks.
func (self *Context) removeBranchesToNext() {
    for i, bb := range self.blocks {
        if i + 1 < len(self.blocks) - 1 {
            if t := bb.terminator(); t != nil && t.Code.IsCondBranch() && t.Ops[0].Label == self.blocks[i + 1].head {
                self.deleteInsn(t)
            }
        }
    }
}

// labelBB returns the block starting with the given label.
func (self *Context) labelBB(lb *ir.Insn) *BB {
    if lb == nil || !lb.Attached() || lb.Code != ir.LABEL {
        panic("gen: branch to an unknown label")
    }
    if bb := self.bbOf(lb); bb.head != lb {
        panic("gen: label in the middle of a block: " + lb.String())
    } else {
        return bb
    }
}

// addressTaken returns the blocks whose label is used by LADDR.
func (self *Context) addressTaken() []*BB {
    var r []*BB
    for p := self.fn.Insns.Front(); p != nil; p = p.Next() {
        if p.Code == ir.LADDR {
            if bb := self.labelBB(p.Ops[1].Label); !slices.Contains(r, bb) {
                r = append(r, bb)
            }
        }
    }
    return r
}

func (self *Context) connect() {
    taken := self.addressTaken()
    last := len(self.blocks) - 1

    /* the entry flows into the first block */
    if last == 1 {
        self.addEdge(self.entry, self.exit, true)
    } else {
        self.addEdge(self.entry, self.blocks[1], true)
    }

    /* address-taken blocks are entered from outside the normal flow */
    for _, bb := range taken {
        self.addEdge(self.entry, bb, false)
    }

    /* successors of every block */
    for i := 1; i < last; i++ {
        bb := self.blocks[i]
        next := self.blocks[i + 1]
        t := bb.terminator()
        switch {
            case t == nil: {
                self.addEdge(bb, next, true)
            }
            case t.Code == ir.RET: {
                self.addEdge(bb, self.exit, false)
            }
            case t.Code == ir.JMP: {
                self.addEdge(bb, self.labelBB(t.Ops[0].Label), false)
            }
            case t.Code.IsCondBranch(): {
                self.addEdge(bb, next, true)
                self.addEdge(bb, self.labelBB(t.Ops[0].Label), false)
            }
            case t.Code == ir.SWITCH: {
                for _, v := range t.Ops[1:] {
                    self.addEdge(bb, self.labelBB(v.Label), false)
                }
            }
            case t.Code == ir.JMPI: {
                for _, v := range taken {
                    self.addEdge(bb, v, false)
                }
            }
        }

        /* a jump with nowhere to go leaves the function */
        if len(bb.out) == 0 {
            self.addEdge(bb, self.exit, false)
        }
    }
}

// findEdge returns the edge from src to dst if it exists.
func (self *Context) findEdge(src *BB, dst *BB) (EdgeRef, bool) {
    for _, e := range src.out {
        if self.edge(e).dst == dst.ref {
            return e, true
        }
    }
    return EdgeRef{}, false
}

// addEdge connects two blocks, at most once.
func (self *Context) addEdge(src *BB, dst *BB, fall bool) EdgeRef {
    if e, ok := self.findEdge(src, dst); ok {
        return e
    }
    r, e := self.edges.New()
    e.ref = r
    e.src = src.ref
    e.dst = dst.ref
    e.fall = fall
    src.out = append(src.out, r)
    dst.in = append(dst.in, r)
    self.cfgGen++
    return r
}

// inIndex returns the position of e among the in-edges of its destination,
// which is also the phi operand position minus one.
func (self *Context) inIndex(e EdgeRef) int {
    if i := slices.Index(self.dst(e).in, e); i < 0 {
        panic("gen: edge is not in the in-list of its destination")
    } else {
        return i
    }
}

// removeEdge disconnects an edge, dropping the matching phi operands.
func (self *Context) removeEdge(e EdgeRef) {
    src, dst := self.src(e), self.dst(e)
    i := self.inIndex(e)
    for _, p := range self.phis(dst) {
        self.removePhiOperand(p, i + 1)
    }
    j := slices.Index(src.out, e)
    src.out = slices.Delete(src.out, j, j + 1)
    dst.in = slices.Delete(dst.in, i, i + 1)
    self.edges.Free(e)
    self.cfgGen++
}

// phis returns the phi instructions at the start of bb.
func (self *Context) phis(bb *BB) []*ir.Insn {
    var r []*ir.Insn
    for p := bb.head; p != nil; p = p.Next() {
        if p.Code == ir.PHI {
            r = append(r, p)
        } else if p.Code != ir.LABEL {
            break
        }
        if p == bb.tail {
            break
        }
    }
    return r
}

// renumber recomputes the layout positions of blocks from the instruction
// list, keeping entry first and exit last.
func (self *Context) renumber() {
    self.blocks = append(self.blocks[:0], self.entry)
    for p := self.fn.Insns.Front(); p != nil; p = p.Next() {
        if bb := self.bbOf(p); bb != self.entry && bb.head == p {
            self.blocks = append(self.blocks, bb)
        }
    }
    self.blocks = append(self.blocks, self.exit)
    for i, bb := range self.blocks {
        bb.index = i
    }
}

// computeRPO numbers the blocks in reverse post-order from entry. Blocks
// not reachable from entry are numbered last.
func (self *Context) computeRPO() []*BB {
    order := make([]*BB, 0, len(self.blocks))
    for _, bb := range self.blocks {
        bb.mark = false
    }

    /* iterative DFS, each stack entry is a block and its next successor */
    type _Frame struct {
        bb *BB
        i  int
    }
    st := lane.NewStack()
    self.entry.mark = true
    for st.Push(&_Frame { bb: self.entry }); !st.Empty(); {
        fr := st.Head().(*_Frame)
        if fr.i < len(fr.bb.out) {
            to := self.dst(fr.bb.out[fr.i])
            if fr.i++; !to.mark {
                to.mark = true
                st.Push(&_Frame { bb: to })
            }
        } else {
            order = append(order, fr.bb)
            st.Pop()
        }
    }

    /* reverse to get the RPO */
    for i, j := 0, len(order) - 1; i < j; i, j = i + 1, j - 1 {
        order[i], order[j] = order[j], order[i]
    }

    /* unreachable blocks at the end */
    for _, bb := range self.blocks {
        if !bb.mark {
            order = append(order, bb)
        }
    }
    for i, bb := range order {
        bb.rpo = i
    }
    return order
}

// removeUnreachable deletes blocks that cannot be reached from entry, with
// their instructions and edges. It reports whether anything was removed.
func (self *Context) removeUnreachable() bool {
    var dead []*BB
    self.computeRPO()

    /* find all the unreachable blocks, exit is always kept */
    for _, bb := range self.blocks {
        if !bb.mark && bb != self.exit {
            dead = append(dead, bb)
        }
    }
    if len(dead) == 0 {
        return false
    }

    /* out-edges first so live blocks lose their phi operands */
    for _, bb := range dead {
        for len(bb.out) != 0 {
            self.removeEdge(bb.out[len(bb.out) - 1])
        }
    }
    for _, bb := range dead {
        for len(bb.in) != 0 {
            self.removeEdge(bb.in[len(bb.in) - 1])
        }
    }

    /* unlink every use first, the defs may live in another dead block */
    if self.inSSA {
        for _, bb := range dead {
            for _, p := range bb.insns() {
                self.dropUses(p)
            }
        }
    }

    /* instructions, then the blocks themselves */
    for _, bb := range dead {
        for _, p := range bb.insns() {
            self.deleteInsn(p)
        }
        self.bbs.Free(bb.ref)
    }
    self.cfgGen++
    self.renumber()
    return true
}

// splitEdge inserts an empty block on e and returns it, or nil when the
// edge comes from an indirect jump.
func (self *Context) splitEdge(e EdgeRef) *BB {
    ed := self.edge(e)
    src, dst := self.bb(ed.src), self.bb(ed.dst)
    t := src.terminator()

    /* edges of indirect jumps have no label to retarget */
    if t != nil && t.Code == ir.JMPI {
        return nil
    }
    if src == self.entry && !ed.fall {
        return nil
    }
    if dst == self.exit {
        return nil
    }
    if last := self.fn.Insns.Back(); !ed.fall && (last == nil || !isJump(last.Code)) {
        return nil
    }

    /* create the new block */
    bb := self.newBB()
    lb := self.newLabel()
    if ed.fall {
        self.attach(bb, lb)
        self.fn.Insns.InsertBefore(dst.head, lb)
        bb.head, bb.tail = lb, lb
    } else {
        jmp := ir.NewInsn(ir.JMP, ir.LabelOf(dst.head))
        self.attach(bb, lb)
        self.attach(bb, jmp)
        self.fn.Insns.PushBack(lb)
        self.fn.Insns.PushBack(jmp)
        bb.head, bb.tail = lb, jmp
        for i, v := range t.Ops {
            if v.Mode == ir.OpLabel && v.Label == dst.head {
                t.Ops[i] = ir.LabelOf(lb)
            }
        }
    }

    /* src -> bb takes the place of e in src, bb -> dst takes it in dst */
    r1, e1 := self.edges.New()
    r2, e2 := self.edges.New()
    *e1 = Edge { ref: r1, src: src.ref, dst: bb.ref, fall: ed.fall }
    *e2 = Edge { ref: r2, src: bb.ref, dst: dst.ref, fall: ed.fall }
    src.out[slices.Index(src.out, e)] = r1
    dst.in[slices.Index(dst.in, e)] = r2
    bb.in = []EdgeRef { r1 }
    bb.out = []EdgeRef { r2 }
    self.edges.Free(e)
    self.cfgGen++
    self.renumber()
    return bb
}

// isJump reports whether control never falls through the instruction.
func isJump(code ir.Code) bool {
    return code == ir.JMP || code == ir.RET || code == ir.JMPI || code == ir.SWITCH
}

// edgeFreq is the execution frequency estimate of an edge.
func (self *Context) edgeFreq(e EdgeRef) int64 {
    src := self.src(e)
    if n := int64(len(src.out)); n == 0 {
        return src.freq
    } else if f := src.freq / n; f == 0 {
        return 1
    } else {
        return f
    }
}

func (self *Context) dumpCFG() string {
    var buf []string
    buf = append(buf, fmt.Sprintf("func %s:", self.fn.Name))
    for _, bb := range self.blocks {
        var in, out []string
        for _, e := range bb.in {
            in = append(in, self.src(e).String())
        }
        for _, e := range bb.out {
            out = append(out, self.dst(e).String())
        }
        buf = append(buf, fmt.Sprintf("  %s: in={%s} out={%s} freq=%d", bb, strings.Join(in, ","), strings.Join(out, ","), bb.freq))
        for _, p := range bb.insns() {
            buf = append(buf, "    " + p.String())
        }
    }
    return strings.Join(buf, "\n")
}
