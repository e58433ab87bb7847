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

    `github.com/bits-and-blooms/bitset`
    `github.com/cloudwego/mirgen/internal/opts`
    `github.com/cloudwego/mirgen/ir`
    `github.com/cloudwego/mirgen/target`
)

type (
    BBRef   = Ref[BB]
    EdgeRef = Ref[Edge]
    InsnRef = Ref[bbInsn]
    SSARef  = Ref[ssaEdge]
)

// BB is a basic block: the instructions from head to tail inclusive. Every
// block but entry and exit starts with a label; entry holds the argument
// definitions and exit is always empty.
type BB struct {
    ref     Ref[BB]
    index   int
    rpo     int
    head    *ir.Insn
    tail    *ir.Insn
    in      []Ref[Edge]
    out     []Ref[Edge]
    dfIn    *bitset.BitSet
    dfOut   *bitset.BitSet
    dfGen   *bitset.BitSet
    dfKill  *bitset.BitSet
    loop    *loopNode
    freq    int64
    idom    *BB
    domPre  int
    domPost int
    startPt int
    endPt   int
    mark    bool
}

func (self *BB) String() string {
    return fmt.Sprintf("bb%d", self.index)
}

func (self *BB) empty() bool {
    return self.head == nil
}

// insns returns a snapshot of the block body, safe to iterate while editing.
func (self *BB) insns() []*ir.Insn {
    var r []*ir.Insn
    for p := self.head; p != nil; p = p.Next() {
        r = append(r, p)
        if p == self.tail {
            break
        }
    }
    return r
}

// terminator returns the control transfer that ends the block, if any.
func (self *BB) terminator() *ir.Insn {
    if self.tail != nil && self.tail.Code.EndsBlock() {
        return self.tail
    } else {
        return nil
    }
}

// Edge is a CFG edge. Its position in the in-edge list of dst is the phi
// operand position, so in-edge lists are only ever edited in place.
type Edge struct {
    ref  Ref[Edge]
    src  Ref[BB]
    dst  Ref[BB]
    fall bool
    back bool
}

// bbInsn is the per-instruction record of the code generator, kept in
// ir.Insn.Data.
type bbInsn struct {
    bb    Ref[BB]
    index int
    ops   []Ref[ssaEdge]
    mem   int
    mark  bool
}

// ssaEdge links an operand using a value to the operand defining it. The
// uses of one definition form a list headed by the def operand slot.
type ssaEdge struct {
    def   *ir.Insn
    defOp int
    use   *ir.Insn
    useOp int
    prev  Ref[ssaEdge]
    next  Ref[ssaEdge]
}

// AllocError occurs when a function needs more stack slots than allowed.
type AllocError struct {
    Func  string
    Slots int
}

func (self AllocError) Error() string {
    return fmt.Sprintf("AllocError(%s): more than %d stack slots required", self.Func, self.Slots)
}

// Context is the per-function state of the code generator. A context is
// reused across functions but never shared between goroutines.
type Context struct {
    tgt     target.Target
    opts    *opts.Options
    fn      *ir.Func
    bbs     Arena[BB]
    edges   Arena[Edge]
    infos   Arena[bbInsn]
    uses    Arena[ssaEdge]
    blocks  []*BB
    entry   *BB
    exit    *BB
    cfgGen  int
    nlabel  int
    nhard   int
    inSSA   bool
    dom     _DomScratch
    loop    _LoopScratch
    live    _LiveScratch
    ra      _RAScratch
    gvn     _GVNScratch
    ssa     _SSAScratch
}

func New(tgt target.Target, o *opts.Options) *Context {
    return &Context {
        tgt   : tgt,
        opts  : o,
        nhard : int(tgt.MaxHardReg()) + 1,
    }
}

// Reset releases everything referring to the current function.
func (self *Context) Reset() {
    if self.fn != nil {
        for p := self.fn.Insns.Front(); p != nil; p = p.Next() {
            p.Data = nil
        }
    }
    self.fn = nil
    self.bbs.Reset()
    self.edges.Reset()
    self.infos.Reset()
    self.uses.Reset()
    self.blocks = self.blocks[:0]
    self.entry = nil
    self.exit = nil
    self.cfgGen = 0
    self.nlabel = 0
    self.inSSA = false
    self.dom = _DomScratch{}
    self.loop = _LoopScratch{}
    self.live = _LiveScratch{}
    self.ra = _RAScratch{}
    self.gvn = _GVNScratch{}
    self.ssa = _SSAScratch{}
}

func (self *Context) bb(r BBRef) *BB {
    return self.bbs.Get(r)
}

func (self *Context) edge(r EdgeRef) *Edge {
    return self.edges.Get(r)
}

func (self *Context) src(r EdgeRef) *BB {
    return self.bbs.Get(self.edges.Get(r).src)
}

func (self *Context) dst(r EdgeRef) *BB {
    return self.bbs.Get(self.edges.Get(r).dst)
}

func (self *Context) info(p *ir.Insn) *bbInsn {
    if r, ok := p.Data.(InsnRef); !ok {
        panic("gen: instruction is not in a basic block: " + p.String())
    } else {
        return self.infos.Get(r)
    }
}

func (self *Context) bbOf(p *ir.Insn) *BB {
    return self.bbs.Get(self.info(p).bb)
}

func (self *Context) newBB() *BB {
    r, bb := self.bbs.New()
    bb.ref = r
    self.cfgGen++
    return bb
}

func (self *Context) newLabel() *ir.Insn {
    self.nlabel++
    return ir.NewLabel(fmt.Sprintf(".L%d", self.nlabel))
}

// attach records p as a member of bb, without linking it into the list.
func (self *Context) attach(bb *BB, p *ir.Insn) {
    r, v := self.infos.New()
    v.bb = bb.ref
    v.ops = make([]SSARef, len(p.Ops))
    p.Data = r
}

func (self *Context) detach(p *ir.Insn) {
    self.infos.Free(p.Data.(InsnRef))
    p.Data = nil
}

// insertBefore places p into bb before at. A nil at appends to the block.
func (self *Context) insertBefore(bb *BB, at *ir.Insn, p *ir.Insn) {
    switch {
        case at == nil && bb.tail != nil : self.insertAfter(bb, bb.tail, p); return
        case at == nil                   : self.insertEmpty(bb, p); return
    }
    self.attach(bb, p)
    self.fn.Insns.InsertBefore(at, p)
    if at == bb.head {
        bb.head = p
    }
}

func (self *Context) insertAfter(bb *BB, at *ir.Insn, p *ir.Insn) {
    self.attach(bb, p)
    self.fn.Insns.InsertAfter(at, p)
    if at == bb.tail {
        bb.tail = p
    }
}

// insertEmpty places the first instruction of an empty block, right after
// the closest non-empty block in layout order.
func (self *Context) insertEmpty(bb *BB, p *ir.Insn) {
    var at *ir.Insn
    if bb == self.exit {
        panic("gen: inserting into the exit block")
    }
    for i := bb.index - 1; i >= 0 && at == nil; i-- {
        at = self.blocks[i].tail
    }
    self.attach(bb, p)
    self.fn.Insns.InsertAfter(at, p)
    bb.head, bb.tail = p, p
}

// prepend places p at the start of bb, after its label.
func (self *Context) prepend(bb *BB, p *ir.Insn) {
    if bb.head != nil && bb.head.Code == ir.LABEL {
        self.insertAfter(bb, bb.head, p)
    } else {
        self.insertBefore(bb, bb.head, p)
    }
}

// appendInsn places p at the end of bb, before its terminator.
func (self *Context) appendInsn(bb *BB, p *ir.Insn) {
    if t := bb.terminator(); t != nil {
        self.insertBefore(bb, t, p)
    } else {
        self.insertBefore(bb, nil, p)
    }
}

// deleteInsn removes p from its block and the function.
func (self *Context) deleteInsn(p *ir.Insn) {
    bb := self.bbOf(p)
    if self.inSSA {
        self.removeSSAEdges(p)
    }
    switch {
        case p == bb.head && p == bb.tail : bb.head, bb.tail = nil, nil
        case p == bb.head                 : bb.head = p.Next()
        case p == bb.tail                 : bb.tail = p.Prev()
    }
    self.detach(p)
    self.fn.Insns.Remove(p)
}

// moveInsn relocates p to the end of bb (before its terminator).
func (self *Context) moveInsn(p *ir.Insn, bb *BB, before *ir.Insn) {
    old := self.bbOf(p)
    switch {
        case p == old.head && p == old.tail : old.head, old.tail = nil, nil
        case p == old.head                  : old.head = p.Next()
        case p == old.tail                  : old.tail = p.Prev()
    }
    self.fn.Insns.Remove(p)
    r := p.Data.(InsnRef)
    if before == nil {
        before = bb.terminator()
    }
    if before == nil {
        if bb.tail == nil {
            panic("gen: moving into an empty block")
        }
        self.fn.Insns.InsertAfter(bb.tail, p)
        bb.tail = p
    } else {
        self.fn.Insns.InsertBefore(before, p)
        if before == bb.head {
            bb.head = p
        }
    }
    self.infos.Get(r).bb = bb.ref
}

/** target.Editor implementation **/

func (self *Context) Func() *ir.Func {
    return self.fn
}

func (self *Context) NewReg(t ir.Type) ir.Reg {
    return self.fn.NewReg(t, "")
}

// Prepend inserts p at the very start of the function.
func (self *Context) Prepend(p *ir.Insn) {
    self.insertBefore(self.entry, self.entry.head, p)
}

// InsertBefore inserts p before at. Nothing goes in front of a block label,
// so p lands right after the label in that case.
func (self *Context) InsertBefore(at *ir.Insn, p *ir.Insn) {
    if at.Code == ir.LABEL {
        self.insertAfter(self.bbOf(at), at, p)
    } else {
        self.insertBefore(self.bbOf(at), at, p)
    }
}

func (self *Context) InsertAfter(at *ir.Insn, p *ir.Insn) {
    if at.Code.EndsBlock() {
        panic("gen: inserting after a block terminator: " + at.String())
    } else {
        self.insertAfter(self.bbOf(at), at, p)
    }
}

func (self *Context) Delete(p *ir.Insn) {
    self.deleteInsn(p)
}

/** variable numbering **/

// Hard registers are variables 0 to nhard-1, pseudo register r is
// variable nhard+r.

func (self *Context) nvars() int {
    return self.nhard + self.fn.NumRegs()
}

func (self *Context) regVar(r ir.Reg) int {
    return self.nhard + int(r)
}

func (self *Context) varReg(v int) ir.Reg {
    return ir.Reg(v - self.nhard)
}

func (self *Context) isHardVar(v int) bool {
    return v < self.nhard
}

// varType returns the register type of a variable.
func (self *Context) varType(v int) ir.Type {
    if v >= self.nhard {
        return self.fn.RegType(self.varReg(v))
    } else if self.tgt.IsFloatHardReg(ir.HardReg(v)) {
        return ir.D
    } else {
        return ir.I64
    }
}

// forEachVar calls fn for every register referenced by p: out is true for
// registers written by p. Registers in memory addresses are always read.
func (self *Context) forEachVar(p *ir.Insn, fn func(i int, v int, out bool)) {
    for i, op := range p.Ops {
        switch op.Mode {
            case ir.OpReg: {
                fn(i, self.regVar(op.Reg), p.IsOutput(i))
            }
            case ir.OpHardReg: {
                fn(i, int(op.HReg), p.IsOutput(i))
            }
            case ir.OpMem: {
                if op.Mem.Base != ir.NoReg {
                    fn(i, self.regVar(op.Mem.Base), false)
                }
                if op.Mem.Index != ir.NoReg {
                    fn(i, self.regVar(op.Mem.Index), false)
                }
            }
            case ir.OpHardRegMem: {
                if op.Mem.HBase != ir.NoHardReg {
                    fn(i, int(op.Mem.HBase), false)
                }
                if op.Mem.HIndex != ir.NoHardReg {
                    fn(i, int(op.Mem.HIndex), false)
                }
            }
        }
    }
}

// writesMem reports whether p stores to memory.
func writesMem(p *ir.Insn) bool {
    for i, v := range p.Ops {
        if v.IsMem() && p.IsOutput(i) {
            return true
        }
    }
    return false
}

// readsMem reports whether p loads from memory.
func readsMem(p *ir.Insn) bool {
    for i, v := range p.Ops {
        if v.IsMem() && !p.IsOutput(i) {
            return true
        }
    }
    return false
}

func moveCode(t ir.Type) ir.Code {
    if t.IsFloat() {
        return ir.DMOV
    } else {
        return ir.MOV
    }
}
