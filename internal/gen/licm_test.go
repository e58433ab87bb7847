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
    `testing`

    `github.com/cloudwego/mirgen/ir`
    `github.com/cloudwego/mirgen/target`
    `github.com/stretchr/testify/assert`
    `github.com/stretchr/testify/require`
)

// scaledSum adds a1*7 to a sum a0 times.
func scaledSum() (*ir.Func, *ir.Insn) {
    b := ir.NewBuilder("scaled", []ir.Type { ir.I64, ir.I64 }, []ir.Type { ir.I64 })
    i := b.Reg(ir.I64, "i")
    s := b.Reg(ir.I64, "s")
    k := b.Reg(ir.I64, "k")
    b.Mov(ir.R(i), ir.I(0))
    b.Mov(ir.R(s), ir.I(0))
    b.Label("loop")
    b.Emit(ir.BGE, ir.L("done"), ir.R(i), ir.R(b.Arg(0)))
    mul := b.Emit(ir.MUL, ir.R(k), ir.R(b.Arg(1)), ir.I(7))
    b.Emit(ir.ADD, ir.R(s), ir.R(s), ir.R(k))
    b.Emit(ir.ADD, ir.R(i), ir.R(i), ir.I(1))
    b.Jmp("loop")
    b.Label("done")
    b.Ret(ir.R(s))
    return b.Build(), mul
}

func TestLoop_Tree(t *testing.T) {
    b := ir.NewBuilder("nest", []ir.Type { ir.I64 }, []ir.Type { ir.I64 })
    i := b.Reg(ir.I64, "i")
    j := b.Reg(ir.I64, "j")
    s := b.Reg(ir.I64, "s")
    b.Mov(ir.R(i), ir.I(0))
    b.Mov(ir.R(s), ir.I(0))
    b.Label("outer")
    b.Emit(ir.BGE, ir.L("done"), ir.R(i), ir.R(b.Arg(0)))
    b.Mov(ir.R(j), ir.I(0))
    b.Label("inner")
    b.Emit(ir.BGE, ir.L("next"), ir.R(j), ir.R(i))
    b.Emit(ir.ADD, ir.R(s), ir.R(s), ir.I(1))
    b.Emit(ir.ADD, ir.R(j), ir.R(j), ir.I(1))
    b.Jmp("inner")
    b.Label("next")
    b.Emit(ir.ADD, ir.R(i), ir.R(i), ir.I(1))
    b.Jmp("outer")
    b.Label("done")
    b.Ret(ir.R(s))
    fn := b.Build()

    ctx := newTestContext(2, target.Config{})
    ctx.buildCFG(fn)
    ctx.ensureLoopTree()
    require.Len(t, ctx.loop.loops, 2, cfgToDot(ctx))

    /* innermost first */
    in, out := ctx.loop.loops[0], ctx.loop.loops[1]
    assert.Same(t, out, in.parent)
    assert.Same(t, ctx.loop.root, out.parent)
    assert.Equal(t, 2, in.depth)
    assert.Equal(t, 1, out.depth)
    assert.True(t, out.contains(in.header))
    assert.False(t, in.contains(out.header))
    assert.Same(t, ctx.loop.root, ctx.entry.loop)

    /* frequencies grow with the depth */
    ctx.setFrequencies()
    assert.Equal(t, int64(1), ctx.entry.freq)
    assert.Equal(t, int64(_LoopFreqFactor), out.header.freq)
    assert.Equal(t, int64(_LoopFreqFactor * _LoopFreqFactor), in.header.freq)
}

func TestLICM_HoistsExpensive(t *testing.T) {
    fn, mul := scaledSum()
    ctx := newTestContext(2, target.Config{})
    ctx.buildCFG(fn)
    ctx.enterSSA()
    ctx.ensureLoopTree()
    require.Len(t, ctx.loop.loops, 1)
    l := ctx.loop.loops[0]
    require.True(t, l.contains(ctx.bbOf(mul)))

    /* the product moves out, the loop body keeps the additions */
    assert.True(t, ctx.licm())
    require.True(t, mul.Attached())
    assert.False(t, l.contains(ctx.bbOf(mul)), "%s", fn)
    assert.NotNil(t, l.preheader)
    assert.Same(t, l.preheader, ctx.bbOf(mul))
    require.NotPanics(t, ctx.verify, "%s", fn)

    /* nothing left to move */
    assert.False(t, ctx.licm())
    leave(t, ctx)
    assert.Equal(t, []uint64 { 84 }, runSource(fn, 3, 4).ret)
    assert.Equal(t, []uint64 { 0 }, runSource(fn, 0, 4).ret)
}

func TestLICM_KeepsCheapAlone(t *testing.T) {
    b := ir.NewBuilder("cheap", []ir.Type { ir.I64, ir.I64 }, []ir.Type { ir.I64 })
    i := b.Reg(ir.I64, "i")
    s := b.Reg(ir.I64, "s")
    k := b.Reg(ir.I64, "k")
    b.Mov(ir.R(i), ir.I(0))
    b.Mov(ir.R(s), ir.I(0))
    b.Label("loop")
    b.Emit(ir.BGE, ir.L("done"), ir.R(i), ir.R(b.Arg(0)))
    add := b.Emit(ir.ADD, ir.R(k), ir.R(b.Arg(1)), ir.I(7))
    b.Emit(ir.XOR, ir.R(s), ir.R(s), ir.R(k))
    b.Emit(ir.ADD, ir.R(i), ir.R(i), ir.I(1))
    b.Jmp("loop")
    b.Label("done")
    b.Ret(ir.R(s))
    fn := b.Build()
    ctx := newTestContext(2, target.Config{})
    ctx.buildCFG(fn)
    ctx.enterSSA()
    ctx.ensureLoopTree()
    l := ctx.loop.loops[0]

    /* a cheap invariant whose user stays is not worth a register */
    assert.False(t, ctx.licm())
    assert.True(t, l.contains(ctx.bbOf(add)))
    leave(t, ctx)
}

func TestRelievePressure_SinksToUse(t *testing.T) {
    b := ir.NewBuilder("sink", []ir.Type { ir.I64 }, []ir.Type { ir.I64 })
    x := b.Reg(ir.I64, "x")
    add := b.Emit(ir.ADD, ir.R(x), ir.R(b.Arg(0)), ir.I(5))
    b.Emit(ir.BEQ, ir.L("zero"), ir.R(b.Arg(0)), ir.I(0))
    ret := b.Ret(ir.R(x))
    b.Label("zero")
    b.Ret(ir.I(0))
    fn := b.Build()
    ctx := newTestContext(2, target.Config{})
    ctx.buildCFG(fn)
    ctx.enterSSA()
    require.NotSame(t, ctx.bbOf(ret), ctx.bbOf(add))
    assert.True(t, ctx.relievePressure())
    assert.Same(t, ctx.bbOf(ret), ctx.bbOf(add))
    assert.Same(t, add, ret.Prev())
    require.NotPanics(t, ctx.verify, "%s", fn)
    leave(t, ctx)
    assert.Equal(t, []uint64 { 6 }, runSource(fn, 1).ret)
    assert.Equal(t, []uint64 { 0 }, runSource(fn, 0).ret)
}

func TestRelievePressure_StaysOutOfLoops(t *testing.T) {
    fn, mul := scaledSum()
    ctx := newTestContext(2, target.Config{})
    ctx.buildCFG(fn)
    ctx.enterSSA()
    ctx.licm()
    ph := ctx.bbOf(mul)
    ctx.relievePressure()
    assert.Same(t, ph, ctx.bbOf(mul), "%s", fn)
    leave(t, ctx)
}
