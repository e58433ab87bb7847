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

// singleDefs reports the first register defined more than once.
func singleDefs(f *ir.Func) (ir.Reg, bool) {
    seen := make(map[ir.Reg]bool)
    for p := f.Insns.Front(); p != nil; p = p.Next() {
        for i, v := range p.Ops {
            if !isDefOp(p, i) {
                continue
            }
            if seen[v.Reg] {
                return v.Reg, false
            }
            seen[v.Reg] = true
        }
    }
    return ir.NoReg, true
}

func TestSSA_SumTo(t *testing.T) {
    fn := sumTo()
    ctx := newTestContext(2, target.Config{})
    ctx.buildCFG(fn)
    ctx.simplifyMem()
    ctx.enterSSA()
    require.NotPanics(t, ctx.verify, "%s", fn)

    /* the counter and the sum meet at the loop header, the argument does not */
    assert.Equal(t, 2, countCode(fn, ir.PHI), "%s", fn)
    assert.Equal(t, 1, countCode(fn, ir.DEF), "%s", fn)
    r, ok := singleDefs(fn)
    assert.True(t, ok, "%s is defined twice\n%s", r, fn)

    /* back to conventional form */
    ctx.exitSSA()
    require.NotPanics(t, ctx.verify, "%s", fn)
    assert.Zero(t, countCode(fn, ir.PHI))
    assert.Zero(t, countCode(fn, ir.DEF))
    ctx.Reset()
    assert.Equal(t, []uint64 { 55 }, runSource(fn, 10).ret)
}

func TestSSA_Swap(t *testing.T) {
    b := ir.NewBuilder("swap", []ir.Type { ir.I64, ir.I64, ir.I64 }, []ir.Type { ir.I64, ir.I64 })
    x := b.Reg(ir.I64, "x")
    y := b.Reg(ir.I64, "y")
    tmp := b.Reg(ir.I64, "t")
    n := b.Reg(ir.I64, "n")
    b.Mov(ir.R(x), ir.R(b.Arg(0)))
    b.Mov(ir.R(y), ir.R(b.Arg(1)))
    b.Mov(ir.R(n), ir.I(0))
    b.Label("loop")
    b.Emit(ir.BGE, ir.L("done"), ir.R(n), ir.R(b.Arg(2)))
    b.Mov(ir.R(tmp), ir.R(x))
    b.Mov(ir.R(x), ir.R(y))
    b.Mov(ir.R(y), ir.R(tmp))
    b.Emit(ir.ADD, ir.R(n), ir.R(n), ir.I(1))
    b.Jmp("loop")
    b.Label("done")
    b.Ret(ir.R(x), ir.R(y))

    /* the two loop phis read each other through the copies */
    fn := b.Build()
    ctx := newTestContext(2, target.Config{})
    ctx.buildCFG(fn)
    ctx.enterSSA()
    ctx.runGVN()
    ctx.ssaDCE()
    require.NotPanics(t, ctx.verify, "%s", fn)
    ctx.exitSSA()
    require.NotPanics(t, ctx.verify, "%s", fn)
    ctx.Reset()
    assert.Equal(t, []uint64 { 1, 2 }, runSource(fn, 1, 2, 4).ret)
    assert.Equal(t, []uint64 { 2, 1 }, runSource(fn, 1, 2, 5).ret)
}

func TestSSA_RandomPrograms(t *testing.T) {
    for seed := int64(1); seed <= 60; seed++ {
        fn := randomFunc(seed)
        ctx := newTestContext(2, target.Config{})
        ctx.buildCFG(fn)
        ctx.simplifyMem()
        ctx.enterSSA()
        require.NotPanics(t, ctx.verify, "seed %d\n%s", seed, fn)
        r, ok := singleDefs(fn)
        require.True(t, ok, "seed %d: %s is defined twice\n%s", seed, r, fn)
        ctx.exitSSA()
        require.NotPanics(t, ctx.verify, "seed %d\n%s", seed, fn)
        ctx.Reset()
        for _, a := range _argSets {
            assert.Equal(t, runSource(randomFunc(seed), a...), runSource(fn, a...), "seed %d, args %v", seed, a)
        }
    }
}
