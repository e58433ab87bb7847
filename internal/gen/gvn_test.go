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

// optimizeSSA runs the value numbering passes on a fresh CFG of f.
func optimizeSSA(t *testing.T, f *ir.Func) *Context {
    ctx := newTestContext(2, target.Config{})
    ctx.buildCFG(f)
    ctx.simplifyMem()
    ctx.enterSSA()
    ctx.runGVN()
    ctx.ssaDCE()
    require.NotPanics(t, ctx.verify, "%s", f)
    return ctx
}

// leave finishes the SSA form and releases the per-instruction data.
func leave(t *testing.T, ctx *Context) {
    ctx.exitSSA()
    require.NotPanics(t, ctx.verify)
    ctx.Reset()
}

func loads(f *ir.Func) int {
    n := 0
    for p := f.Insns.Front(); p != nil; p = p.Next() {
        if p.Code.IsMove() && p.Ops[1].IsMem() {
            n++
        }
    }
    return n
}

func stores(f *ir.Func) int {
    n := 0
    for p := f.Insns.Front(); p != nil; p = p.Next() {
        if p.Code.IsMove() && p.Ops[0].IsMem() {
            n++
        }
    }
    return n
}

func TestGVN_AddSubCancels(t *testing.T) {
    b := ir.NewBuilder("addsub", []ir.Type { ir.I64 }, []ir.Type { ir.I64 })
    x := b.Reg(ir.I64, "x")
    y := b.Reg(ir.I64, "y")
    b.Emit(ir.ADD, ir.R(x), ir.R(b.Arg(0)), ir.I(3))
    b.Emit(ir.SUB, ir.R(y), ir.R(x), ir.I(3))
    b.Ret(ir.R(y))
    fn := b.Build()
    ctx := optimizeSSA(t, fn)
    assert.Zero(t, countCode(fn, ir.SUB), "%s", fn)
    assert.Zero(t, countCode(fn, ir.ADD), "%s", fn)
    leave(t, ctx)
    assert.Equal(t, []uint64 { 17 }, runSource(fn, 17).ret)
}

func TestGVN_CommonSubexpression(t *testing.T) {
    b := ir.NewBuilder("cse", []ir.Type { ir.I64, ir.I64 }, []ir.Type { ir.I64 })
    x := b.Reg(ir.I64, "x")
    y := b.Reg(ir.I64, "y")
    z := b.Reg(ir.I64, "z")
    b.Emit(ir.MUL, ir.R(x), ir.R(b.Arg(0)), ir.R(b.Arg(1)))
    b.Emit(ir.MUL, ir.R(y), ir.R(b.Arg(1)), ir.R(b.Arg(0)))
    b.Emit(ir.XOR, ir.R(z), ir.R(x), ir.R(y))
    b.Ret(ir.R(z))
    fn := b.Build()
    ctx := optimizeSSA(t, fn)
    assert.Equal(t, 1, countCode(fn, ir.MUL), "%s", fn)
    leave(t, ctx)
    assert.Equal(t, []uint64 { 0 }, runSource(fn, 6, 7).ret)
}

func TestGVN_ConstantBranch(t *testing.T) {
    b := ir.NewBuilder("cbr", nil, []ir.Type { ir.I64 })
    x := b.Reg(ir.I64, "x")
    b.Mov(ir.R(x), ir.I(5))
    b.Emit(ir.BLT, ir.L("small"), ir.R(x), ir.I(10))
    b.Ret(ir.I(1))
    b.Label("small")
    b.Ret(ir.I(2))
    fn := b.Build()
    ctx := optimizeSSA(t, fn)

    /* the branch became a jump and the fall path is gone */
    assert.Zero(t, countCode(fn, ir.BLT), "%s", fn)
    assert.Zero(t, countCode(fn, ir.MOV), "%s", fn)
    assert.Equal(t, 1, countCode(fn, ir.RET), "%s", fn)
    leave(t, ctx)
    assert.Equal(t, []uint64 { 2 }, runSource(fn).ret)
}

func TestGVN_LoadForwarding(t *testing.T) {
    b := ir.NewBuilder("fwd", []ir.Type { ir.P, ir.I64 }, []ir.Type { ir.I64, ir.I64 })
    x := b.Reg(ir.I64, "x")
    y := b.Reg(ir.I64, "y")
    b.Mov(ir.M(ir.I8, 8, b.Arg(0), ir.NoReg, 0), ir.R(b.Arg(1)))
    b.Mov(ir.R(x), ir.M(ir.I8, 8, b.Arg(0), ir.NoReg, 0))
    b.Mov(ir.R(y), ir.M(ir.I8, 8, b.Arg(0), ir.NoReg, 0))
    b.Ret(ir.R(x), ir.R(y))
    fn := b.Build()
    ctx := optimizeSSA(t, fn)

    /* both loads read the stored register, truncated and sign extended */
    assert.Zero(t, loads(fn), "%s", fn)
    assert.Equal(t, 1, stores(fn), "%s", fn)
    assert.Equal(t, 2, countCode(fn, ir.EXT8), "%s", fn)
    leave(t, ctx)
    assert.Equal(t, []uint64 { ^uint64(0), ^uint64(0) }, runSource(fn, _MemBase, 0x1ff).ret)
}

func TestGVN_RedundantStore(t *testing.T) {
    b := ir.NewBuilder("rst", []ir.Type { ir.P }, []ir.Type { ir.I64 })
    x := b.Reg(ir.I64, "x")
    b.Mov(ir.R(x), ir.M(ir.I64, 0, b.Arg(0), ir.NoReg, 0))
    b.Mov(ir.M(ir.I64, 0, b.Arg(0), ir.NoReg, 0), ir.R(x))
    b.Ret(ir.R(x))
    fn := b.Build()
    ctx := optimizeSSA(t, fn)
    assert.Zero(t, stores(fn), "%s", fn)
    leave(t, ctx)
}

func TestGVN_AliasingStoreKills(t *testing.T) {
    b := ir.NewBuilder("alias", []ir.Type { ir.P, ir.P }, []ir.Type { ir.I64 })
    x := b.Reg(ir.I64, "x")
    b.Mov(ir.M(ir.I64, 0, b.Arg(0), ir.NoReg, 0), ir.I(1))
    b.Mov(ir.M(ir.I64, 0, b.Arg(1), ir.NoReg, 0), ir.I(2))
    b.Mov(ir.R(x), ir.M(ir.I64, 0, b.Arg(0), ir.NoReg, 0))
    b.Ret(ir.R(x))
    fn := b.Build()
    ctx := optimizeSSA(t, fn)
    assert.Equal(t, 1, loads(fn), "%s", fn)
    leave(t, ctx)
    assert.Equal(t, []uint64 { 2 }, runSource(fn, _MemBase, _MemBase).ret)
    assert.Equal(t, []uint64 { 1 }, runSource(fn, _MemBase, _MemBase + 8).ret)
}

func TestDSE_OverwrittenStore(t *testing.T) {
    b := ir.NewBuilder("dse", []ir.Type { ir.P }, []ir.Type { ir.I64 })
    b.Mov(ir.M(ir.I64, 0, b.Arg(0), ir.NoReg, 0), ir.I(1))
    b.Mov(ir.M(ir.I64, 0, b.Arg(0), ir.NoReg, 0), ir.I(2))
    b.Ret(ir.I(0))
    fn := b.Build()
    ctx := optimizeSSA(t, fn)
    ctx.dse()
    assert.Equal(t, 1, stores(fn), "%s", fn)
    leave(t, ctx)
    e := newEmulator()
    _, err := e.Run(fn, _MemBase)
    require.NoError(t, err)
    assert.Equal(t, byte(2), e.Mem[_MemBase])
}

func TestDSE_ReadThroughAlias(t *testing.T) {
    b := ir.NewBuilder("dse2", []ir.Type { ir.P, ir.P }, []ir.Type { ir.I64 })
    x := b.Reg(ir.I64, "x")
    b.Mov(ir.M(ir.I64, 0, b.Arg(0), ir.NoReg, 0), ir.I(1))
    b.Mov(ir.R(x), ir.M(ir.I64, 0, b.Arg(1), ir.NoReg, 0))
    b.Mov(ir.M(ir.I64, 0, b.Arg(0), ir.NoReg, 0), ir.I(2))
    b.Ret(ir.R(x))
    fn := b.Build()
    ctx := optimizeSSA(t, fn)
    ctx.dse()
    assert.Equal(t, 2, stores(fn), "%s", fn)
    leave(t, ctx)
    assert.Equal(t, []uint64 { 1 }, runSource(fn, _MemBase, _MemBase).ret)
}

func TestDCE_Liveness(t *testing.T) {
    b := ir.NewBuilder("dce", []ir.Type { ir.I64 }, []ir.Type { ir.I64 })
    x := b.Reg(ir.I64, "x")
    y := b.Reg(ir.I64, "y")
    b.Mov(ir.R(x), ir.I(5))
    b.Emit(ir.ADD, ir.R(x), ir.R(x), ir.I(1))
    b.Mov(ir.R(y), ir.R(b.Arg(0)))
    b.Ret(ir.R(y))
    fn := b.Build()
    ctx := newTestContext(1, target.Config{})
    ctx.buildCFG(fn)
    assert.True(t, ctx.dce())
    assert.False(t, ctx.dce())
    assert.Zero(t, countCode(fn, ir.ADD), "%s", fn)
    assert.Equal(t, 1, countCode(fn, ir.MOV), "%s", fn)
    ctx.Reset()
    assert.Equal(t, []uint64 { 9 }, runSource(fn, 9).ret)
}
