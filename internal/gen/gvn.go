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
    `math`

    `github.com/bits-and-blooms/bitset`
    `github.com/cloudwego/mirgen/ir`
)

// _Val is a value number: expression id plus a constant offset. Id 0 is
// the constant off itself, doubles are kept as their bits.
type _Val struct {
    id  int
    off int64
}

func (self _Val) isConst() bool {
    return self.id == 0
}

func (self _Val) less(other _Val) bool {
    return self.id < other.id || (self.id == other.id && self.off < other.off)
}

type _ExprKey struct {
    code ir.Code
    a    _Val
    b    _Val
}

// _MemAttr identifies a memory location by the value of its address.
type _MemAttr struct {
    addr     _Val
    typ      ir.Type
    alias    ir.Alias
    nonalias ir.Alias
}

type _Provider struct {
    p   *ir.Insn
    mem int
    val _Val
}

type _GVNScratch struct {
    nid     int
    vals    map[_SSADef]_Val
    exprs   map[_ExprKey]int
    leaders map[_Val]_SSADef
    mems    []_MemAttr
    memIdx  map[_MemAttr]int
    provs   []_Provider
    provIdx map[*ir.Insn]int
    byMem   []*bitset.BitSet
    kills   map[int]*bitset.BitSet
    aliases map[int]*bitset.BitSet
    folds   []*ir.Insn
}

func (self *Context) freshVal() _Val {
    self.gvn.nid++
    return _Val { id: self.gvn.nid }
}

// runGVN runs global value numbering with constant propagation, redundant
// load and store elimination and constant branch folding.
func (self *Context) runGVN() {
    self.gvn = _GVNScratch {
        vals    : make(map[_SSADef]_Val),
        exprs   : make(map[_ExprKey]int),
        leaders : make(map[_Val]_SSADef),
        memIdx  : make(map[_MemAttr]int),
        kills   : make(map[int]*bitset.BitSet),
        provIdx : make(map[*ir.Insn]int),
    }

    /* Phase 1: value numbering of register expressions */
    self.ensureDominators()
    for _, bb := range self.computeRPO() {
        for _, p := range bb.insns() {
            self.numberInsn(p)
        }
    }

    /* Phase 2: memory locations and their availability */
    self.collectProviders()
    self.solve(_MemAvail { self })

    /* Phase 3: forward loads and drop redundant stores */
    for _, bb := range self.blocks {
        self.forwardMem(bb)
    }

    /* fold the constant branches, the CFG changes here */
    if self.foldBranches() {
        self.removeUnreachable()
        self.minimizeSSA()
    }
}

/** Phase 1 **/

// opVal returns the value of an input operand, or of the base register of
// a memory operand.
func (self *Context) opVal(p *ir.Insn, i int) _Val {
    switch op := p.Ops[i]; op.Mode {
        case ir.OpInt    : return _Val { off: op.Int }
        case ir.OpDouble : return _Val { off: int64(math.Float64bits(op.Dbl)) }
        case ir.OpReg    : break
        case ir.OpMem    : break
        default          : return self.freshVal()
    }
    if d, ok := self.defOf(p, i); !ok {
        return self.freshVal()
    } else if v, ok := self.gvn.vals[d]; ok {
        return v
    } else {
        return self.freshVal()
    }
}

// constOp builds the immediate operand of a constant held by register r.
func (self *Context) constOp(r ir.Reg, v int64) ir.Op {
    if self.fn.RegType(r).IsFloat() {
        return ir.F(math.Float64frombits(uint64(v)))
    } else {
        return ir.I(v)
    }
}

// propagate replaces register inputs holding constants with immediates.
func (self *Context) propagate(p *ir.Insn) {
    for i, op := range p.Ops {
        if op.Mode != ir.OpReg || p.IsOutput(i) || (p.Code == ir.CALL && i == 0) {
            continue
        }
        if v := self.opVal(p, i); v.isConst() {
            if r := self.info(p).ops[i]; !r.IsNil() {
                self.removeUse(r)
            }
            p.Ops[i] = self.constOp(op.Reg, v.off)
        }
    }
}

func (self *Context) exprVal(key _ExprKey) _Val {
    if id, ok := self.gvn.exprs[key]; ok {
        return _Val { id: id }
    } else {
        v := self.freshVal()
        self.gvn.exprs[key] = v.id
        return v
    }
}

// computeVal returns the value computed by a unary or binary instruction,
// folding constants and reassociating additions of constants.
func (self *Context) computeVal(p *ir.Insn) (_Val, bool) {
    a := self.opVal(p, 1)

    /* unary instructions */
    if len(p.Ops) == 2 {
        if p.Code.IsMove() {
            return a, false
        }
        if a.isConst() {
            if v, ok := ir.EvalUnary(p.Code, uint64(a.off)); ok {
                return _Val { off: int64(v) }, true
            }
        }
        return self.exprVal(_ExprKey { code: p.Code, a: a }), false
    }

    /* binary instructions */
    b := self.opVal(p, 2)
    if a.isConst() && b.isConst() {
        if v, ok := ir.EvalBinary(p.Code, uint64(a.off), uint64(b.off)); ok {
            return _Val { off: int64(v) }, true
        } else {
            return self.exprVal(_ExprKey { code: p.Code, a: a, b: b }), false
        }
    }

    /* reg +- const */
    switch {
        case p.Code == ir.ADD && b.isConst() : return _Val { id: a.id, off: a.off + b.off }, false
        case p.Code == ir.ADD && a.isConst() : return _Val { id: b.id, off: b.off + a.off }, false
        case p.Code == ir.SUB && b.isConst() : return _Val { id: a.id, off: a.off - b.off }, false
    }

    /* canonical order of commutative operands */
    if p.Code.IsCommutative() && b.less(a) {
        a, b = b, a
    }
    return self.exprVal(_ExprKey { code: p.Code, a: a, b: b }), false
}

func (self *Context) defDominates(d _SSADef, p *ir.Insn) bool {
    a, b := self.bbOf(d.p), self.bbOf(p)
    if a != b {
        return self.dominates(a, b)
    }
    for q := d.p; q != nil; q = q.Next() {
        if q == p {
            return true
        }
    }
    return false
}

// numberInsn gives a value to every definition of p and replaces p with a
// move when its value is a constant or is already held by a dominating
// register.
func (self *Context) numberInsn(p *ir.Insn) {
    switch {
        case p.Code == ir.PHI: {
            v := self.phiVal(p)
            self.gvn.vals[_SSADef { p, 0 }] = v
            if _, ok := self.gvn.leaders[v]; !ok && !v.isConst() {
                self.gvn.leaders[v] = _SSADef { p, 0 }
            }
            return
        }
        case p.Code == ir.CALL: {
            for i := 1; i <= p.NRes; i++ {
                if isDefOp(p, i) {
                    self.gvn.vals[_SSADef { p, i }] = self.freshVal()
                }
            }
            self.propagate(p)
            return
        }
        case p.Code.IsCondBranch() || p.Code == ir.SWITCH: {
            if self.propagate(p); self.constBranch(p) {
                self.gvn.folds = append(self.gvn.folds, p)
            }
            return
        }
        case p.Code == ir.RET || p.Code == ir.USE: {
            self.propagate(p)
            return
        }
        case len(p.Ops) == 0 || !isDefOp(p, 0): {
            if p.Code.IsMove() {
                self.propagate(p)
            }
            return
        }
    }

    /* loads, argument definitions and label addresses are opaque */
    d := _SSADef { p, 0 }
    if p.Code == ir.DEF || p.Code == ir.LADDR || readsMem(p) {
        v := self.freshVal()
        self.gvn.vals[d] = v
        self.gvn.leaders[v] = d
        return
    }

    /* arithmetic, moves and extensions */
    self.propagate(p)
    v, _ := self.computeVal(p)
    self.gvn.vals[d] = v
    r := p.Ops[0].Reg

    /* constants become immediate moves */
    if v.isConst() {
        if !(p.Code.IsMove() && p.Ops[1].IsImm()) {
            self.rewriteInsn(p, moveCode(self.fn.RegType(r)), p.Ops[0], self.constOp(r, v.off))
        }
        return
    }

    /* a dominating register already holds the value */
    if l, ok := self.gvn.leaders[v]; ok && l.p != p {
        lr := l.p.Ops[l.op].Reg
        if self.fn.RegType(lr).IsFloat() == self.fn.RegType(r).IsFloat() && self.defDominates(l, p) {
            if !(p.Code.IsMove() && p.Ops[1].Mode == ir.OpReg && p.Ops[1].Reg == lr) {
                self.rewriteInsn(p, moveCode(self.fn.RegType(r)), p.Ops[0], ir.R(lr))
                self.addUse(l.p, l.op, p, 1)
            }
            return
        }
    }

    /* first holder of the value */
    if _, ok := self.gvn.leaders[v]; !ok {
        self.gvn.leaders[v] = d
    }
}

func (self *Context) phiVal(p *ir.Insn) _Val {
    var v _Val
    for i := 1; i < len(p.Ops); i++ {
        d, ok := self.defOf(p, i)
        if !ok {
            return self.freshVal()
        }
        w, ok := self.gvn.vals[d]
        if !ok || (i > 1 && w != v) {
            return self.freshVal()
        }
        v = w
    }
    if len(p.Ops) < 2 {
        return self.freshVal()
    }
    return v
}

// constBranch reports whether the direction of a branch is known.
func (self *Context) constBranch(p *ir.Insn) bool {
    for _, v := range p.Ops {
        if v.Mode == ir.OpReg || v.IsMem() {
            return false
        }
    }
    return true
}

// foldBranches resolves the branches with constant operands, reporting
// whether any edge was removed.
func (self *Context) foldBranches() bool {
    done := false
    for _, p := range self.gvn.folds {
        if !p.Attached() {
            continue
        }
        bb := self.bbOf(p)
        switch {
            case p.Code == ir.SWITCH: {
                i := uint64(p.Ops[0].Int)
                if i >= uint64(len(p.Ops) - 1) {
                    continue
                }
                to := self.labelBB(p.Ops[i + 1].Label)
                lb := p.Ops[i + 1]
                for _, e := range append([]EdgeRef(nil), bb.out...) {
                    if self.dst(e) != to {
                        self.removeEdge(e)
                    }
                }
                self.dropUses(p)
                p.Code = ir.JMP
                p.Ops = []ir.Op { lb }
                self.info(p).ops = make([]SSARef, 1)
            }
            default: {
                var b uint64
                if len(p.Ops) > 2 {
                    b = uint64(p.Ops[2].Int)
                }
                taken := ir.EvalBranch(p.Code, uint64(p.Ops[1].Int), b)
                to := self.labelBB(p.Ops[0].Label)
                for _, e := range append([]EdgeRef(nil), bb.out...) {
                    if ed := self.edge(e); (ed.fall && taken) || (!ed.fall && !taken && self.bb(ed.dst) == to) {
                        self.removeEdge(e)
                    }
                }
                if taken {
                    self.dropUses(p)
                    p.Code = ir.JMP
                    p.Ops = p.Ops[:1]
                    self.info(p).ops = make([]SSARef, 1)
                } else {
                    self.deleteInsn(p)
                }
            }
        }
        done = true
    }
    return done
}

/** Phase 2 **/

func (self *Context) memAttr(p *ir.Insn, i int) int {
    m := p.Ops[i].Mem
    addr := _Val { off: m.Disp }
    if m.Base != ir.NoReg {
        b := self.opVal(p, i)
        addr = _Val { id: b.id, off: b.off + m.Disp }
    }
    key := _MemAttr { addr: addr, typ: m.Type, alias: m.Alias, nonalias: m.NonAlias }
    if idx, ok := self.gvn.memIdx[key]; ok {
        return idx
    }
    idx := len(self.gvn.mems)
    self.gvn.mems = append(self.gvn.mems, key)
    self.gvn.memIdx[key] = idx
    return idx
}

// mayAlias reports whether two locations can overlap.
func mayAlias(a _MemAttr, b _MemAttr) bool {
    if a.addr.id == b.addr.id {
        return a.addr.off < b.addr.off + int64(b.typ.Size()) && b.addr.off < a.addr.off + int64(a.typ.Size())
    }
    if a.alias != 0 && b.alias != 0 && a.alias != b.alias {
        return false
    }
    if a.nonalias != 0 && a.nonalias == b.nonalias {
        return false
    }
    return true
}

// collectProviders finds every load and store, the instructions that make
// the content of a memory location known.
func (self *Context) collectProviders() {
    for _, bb := range self.blocks {
        for _, p := range bb.insns() {
            self.info(p).mem = 0
            if !p.Code.IsMove() {
                continue
            }
            switch {
                case p.Ops[1].Mode == ir.OpMem: {
                    mi := self.memAttr(p, 1)
                    self.info(p).mem = mi + 1
                    self.gvn.provs = append(self.gvn.provs, _Provider { p: p, mem: mi, val: self.gvn.vals[_SSADef { p, 0 }] })
                }
                case p.Ops[0].Mode == ir.OpMem: {
                    mi := self.memAttr(p, 0)
                    self.info(p).mem = mi + 1
                    self.gvn.provs = append(self.gvn.provs, _Provider { p: p, mem: mi, val: self.opVal(p, 1) })
                }
            }
        }
    }

    /* providers of every location */
    np := uint(len(self.gvn.provs))
    self.gvn.byMem = make([]*bitset.BitSet, len(self.gvn.mems))
    for i := range self.gvn.byMem {
        self.gvn.byMem[i] = bitset.New(np)
    }
    for i, v := range self.gvn.provs {
        self.gvn.byMem[v.mem].Set(uint(i))
        self.gvn.provIdx[v.p] = i
    }
}

// killSet returns the providers invalidated by a store to location mi.
func (self *Context) killSet(mi int) *bitset.BitSet {
    if ks, ok := self.gvn.kills[mi]; ok {
        return ks
    }
    ks := bitset.New(uint(len(self.gvn.provs)))
    for j, m := range self.gvn.mems {
        if mayAlias(self.gvn.mems[mi], m) {
            ks.InPlaceUnion(self.gvn.byMem[j])
        }
    }
    self.gvn.kills[mi] = ks
    return ks
}

// _MemAvail is the forward problem of available memory providers.
type _MemAvail struct {
    ctx *Context
}

func (_MemAvail) Forward() bool {
    return true
}

func (self _MemAvail) Init(bb *BB) {
    n := uint(len(self.ctx.gvn.provs))
    bb.dfIn = resize(bb.dfIn, n)
    bb.dfOut = resize(bb.dfOut, n)
    bb.dfGen = resize(bb.dfGen, n)
    bb.dfKill = resize(bb.dfKill, n)

    /* local effect of the block */
    for _, p := range bb.insns() {
        if p.Code == ir.CALL {
            bb.dfGen.ClearAll()
            bb.dfKill.SetAll()
            continue
        }
        if mi := self.ctx.info(p).mem; mi != 0 {
            if p.Ops[0].IsMem() {
                ks := self.ctx.killSet(mi - 1)
                bb.dfGen.InPlaceDifference(ks)
                bb.dfKill.InPlaceUnion(ks)
            }
            bb.dfGen.Set(uint(self.ctx.gvn.provIdx[p]))
        }
    }

    /* everything is available until proven otherwise */
    if bb != self.ctx.entry {
        bb.dfOut.SetAll()
    }
}

func (self _MemAvail) Join(bb *BB) {
    self.ctx.intersectPreds(bb)
}

func (self _MemAvail) Transfer(bb *BB) bool {
    return transferGenKill(bb.dfOut, bb.dfIn, bb.dfGen, bb.dfKill)
}

/** Phase 3 **/

// available returns an available provider of location mi other than p.
func (self *Context) available(avail *bitset.BitSet, mi int, p *ir.Insn) (_Provider, bool) {
    set := self.gvn.byMem[mi]
    for i, ok := set.NextSet(0); ok; i, ok = set.NextSet(i + 1) {
        if v := self.gvn.provs[i]; v.p != p && avail.Test(i) && v.p.Attached() {
            return v, true
        }
    }
    return _Provider{}, false
}

func (self *Context) forwardMem(bb *BB) {
    avail := bb.dfIn.Clone()
    for _, p := range bb.insns() {
        if p.Code == ir.CALL {
            avail.ClearAll()
            continue
        }
        mi := self.info(p).mem
        if mi == 0 {
            continue
        }
        mi--
        idx := uint(self.gvn.provIdx[p])

        /* stores of a value the location already holds */
        if p.Ops[0].IsMem() {
            if v, ok := self.available(avail, mi, p); ok && v.val == self.gvn.provs[idx].val {
                self.deleteInsn(p)
                continue
            }
            avail.InPlaceDifference(self.killSet(mi))
            avail.Set(idx)
            continue
        }

        /* loads from a location with a known content */
        v, ok := self.available(avail, mi, p)
        if !ok {
            avail.Set(idx)
            continue
        }
        self.forwardLoad(p, v)
    }
}

// forwardLoad replaces the load p with the value held by provider v.
func (self *Context) forwardLoad(p *ir.Insn, v _Provider) {
    t := p.Ops[1].Mem.Type
    dst := p.Ops[0]

    /* the provider is a load of the same location */
    if !v.p.Ops[0].IsMem() {
        self.rewriteInsn(p, moveCode(t), dst, v.p.Ops[0])
        self.addUse(v.p, 0, p, 1)
        return
    }

    /* the provider is a store, the stored value is converted like a load */
    switch src := v.p.Ops[1]; src.Mode {
        case ir.OpInt: {
            self.rewriteInsn(p, ir.MOV, dst, ir.I(int64(ir.Extend(t, uint64(src.Int)))))
        }
        case ir.OpDouble: {
            self.rewriteInsn(p, ir.DMOV, dst, src)
        }
        default: {
            d, ok := self.defOf(v.p, 1)
            if !ok {
                return
            }
            self.rewriteInsn(p, ir.ExtCodeOf(t), dst, src)
            self.addUse(d.p, d.op, p, 1)
        }
    }
}
