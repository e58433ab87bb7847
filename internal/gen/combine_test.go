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

func machineFunc(name string, insns ...*ir.Insn) *ir.Func {
    fn := ir.NewFunc(name, []ir.Type { ir.I64, ir.I64 }, []ir.Type { ir.I64 })
    for _, p := range insns {
        fn.Insns.PushBack(p)
    }
    return fn
}

func TestCombine_CopyAndResult(t *testing.T) {
    tgt := target.NewAMD64(target.Config{})
    fn := machineFunc("copy",
        ir.NewInsn(ir.MOV, ir.HR(target.RCX), ir.HR(target.RDI)),
        ir.NewInsn(ir.ADD, ir.HR(target.RDX), ir.HR(target.RCX), ir.I(5)),
        ir.NewInsn(ir.MOV, ir.HR(target.RAX), ir.HR(target.RDX)),
        ir.NewInsn(ir.RET, ir.HR(target.RAX)),
    )
    ctx := New(tgt, testOptions(1))
    ctx.buildCFG(fn)
    assert.True(t, ctx.combine())
    require.NotPanics(t, ctx.verify)

    /* add rax, rdi, 5 */
    assert.Zero(t, countCode(fn, ir.MOV), "%s", fn)
    require.Equal(t, 1, countCode(fn, ir.ADD), "%s", fn)
    for p := fn.Insns.Front(); p != nil; p = p.Next() {
        if p.Code == ir.ADD {
            assert.Equal(t, ir.HR(target.RAX), p.Ops[0])
            assert.Equal(t, ir.HR(target.RDI), p.Ops[1])
        }
    }
    assert.False(t, ctx.combine())
    ctx.Reset()
    assert.Equal(t, []uint64 { 42 }, runMachine(fn, tgt, 37).ret)
}

func TestCombine_KeepsLiveCopy(t *testing.T) {
    tgt := target.NewAMD64(target.Config{})
    fn := machineFunc("live",
        ir.NewInsn(ir.MOV, ir.HR(target.RCX), ir.HR(target.RDI)),
        ir.NewInsn(ir.ADD, ir.HR(target.RAX), ir.HR(target.RCX), ir.HR(target.RSI)),
        ir.NewInsn(ir.ADD, ir.HR(target.RAX), ir.HR(target.RAX), ir.HR(target.RCX)),
        ir.NewInsn(ir.RET, ir.HR(target.RAX)),
    )
    ctx := New(tgt, testOptions(1))
    ctx.buildCFG(fn)
    ctx.combine()
    require.NotPanics(t, ctx.verify)
    ctx.Reset()
    assert.Equal(t, []uint64 { 3 + 4 + 3 }, runMachine(fn, tgt, 3, 4).ret)
}

func TestCombine_AddressFolding(t *testing.T) {
    tgt := target.NewAMD64(target.Config{})
    fn := machineFunc("addr",
        ir.NewInsn(ir.ADD, ir.HR(target.RCX), ir.HR(target.RDI), ir.I(16)),
        ir.NewInsn(ir.MOV, ir.HM(ir.I64, 8, target.RCX, ir.NoHardReg, 0), ir.HR(target.RSI)),
        ir.NewInsn(ir.MOV, ir.HR(target.RAX), ir.I(0)),
        ir.NewInsn(ir.RET, ir.HR(target.RAX)),
    )
    ctx := New(tgt, testOptions(1))
    ctx.buildCFG(fn)
    assert.True(t, ctx.combine())
    require.NotPanics(t, ctx.verify)

    /* the store addresses rdi+24 by itself */
    assert.Zero(t, countCode(fn, ir.ADD), "%s", fn)
    for p := fn.Insns.Front(); p != nil; p = p.Next() {
        if p.Code == ir.MOV && p.Ops[0].IsMem() {
            assert.Equal(t, target.RDI, p.Ops[0].Mem.HBase)
            assert.Equal(t, int64(24), p.Ops[0].Mem.Disp)
        }
    }
    ctx.Reset()
    e := newEmulator()
    _, err := e.RunMachine(fn, tgt, _MemBase, 0x55)
    require.NoError(t, err)
    assert.Equal(t, byte(0x55), e.Mem[_MemBase + 24])
}

func TestCombine_ShrinkExtension(t *testing.T) {
    tgt := target.NewAMD64(target.Config{})
    fn := machineFunc("ext",
        ir.NewInsn(ir.EXT32, ir.HR(target.RCX), ir.HR(target.RDI)),
        ir.NewInsn(ir.EXT8, ir.HR(target.RAX), ir.HR(target.RCX)),
        ir.NewInsn(ir.RET, ir.HR(target.RAX)),
    )
    ctx := New(tgt, testOptions(1))
    ctx.buildCFG(fn)
    assert.True(t, ctx.combine())
    ctx.dce()
    require.NotPanics(t, ctx.verify)
    assert.Zero(t, countCode(fn, ir.EXT32), "%s", fn)
    ctx.Reset()
    assert.Equal(t, []uint64 { ^uint64(0) }, runMachine(fn, tgt, 0x1ff).ret)
}
