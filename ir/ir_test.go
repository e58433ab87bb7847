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

package ir

import (
    `math`
    `testing`

    `github.com/stretchr/testify/assert`
    `github.com/stretchr/testify/require`
)

func TestBuilder_ForwardAndBackwardLabels(t *testing.T) {
    b := NewBuilder("loop", []Type { I64 }, []Type { I64 })
    i := b.Reg(I64, "i")
    b.Mov(R(i), I(0))
    b.Label("head")
    br := b.Emit(BGE, L("done"), R(i), R(b.Arg(0)))
    b.Emit(ADD, R(i), R(i), I(1))
    jmp := b.Jmp("head")
    done := b.Label("done")
    b.Ret(R(i))
    fn := b.Build()
    require.Equal(t, 7, fn.Insns.Len())
    assert.Equal(t, done, br.Ops[0].Label)
    assert.Equal(t, "head", jmp.Ops[0].Label.LabelName())
    assert.Equal(t, I64, fn.RegType(i))
    assert.True(t, fn.IsArg(1))
    assert.False(t, fn.IsArg(i))
}

func TestBuilder_UnresolvedLabel(t *testing.T) {
    b := NewBuilder("bad", nil, nil)
    b.Jmp("nowhere")
    assert.PanicsWithValue(t, "labels are not fully resolved: nowhere", func() { b.Build() })
}

func TestInsnList_Operations(t *testing.T) {
    var l InsnList
    a := l.PushBack(NewInsn(MOV, R(1), I(1)))
    c := l.PushBack(NewInsn(MOV, R(3), I(3)))
    b := l.InsertBefore(c, NewInsn(MOV, R(2), I(2)))
    z := l.PushFront(NewInsn(MOV, R(4), I(0)))
    d := l.InsertAfter(c, NewInsn(RET, R(3)))
    require.Equal(t, 5, l.Len())
    var got []*Insn
    for p := l.Front(); p != nil; p = p.Next() {
        got = append(got, p)
    }
    assert.Equal(t, []*Insn { z, a, b, c, d }, got)
    l.Remove(b)
    l.Remove(z)
    l.Remove(d)
    assert.Equal(t, a, l.Front())
    assert.Equal(t, c, l.Back())
    assert.Equal(t, c, a.Next())
    assert.False(t, b.Attached())
    assert.Panics(t, func() { l.Remove(b) })
}

func TestInsn_Directions(t *testing.T) {
    call := NewCall(Ref("f"), 2, R(1), R(2), R(3))
    assert.False(t, call.IsOutput(0))
    assert.True(t, call.IsOutput(1))
    assert.True(t, call.IsOutput(2))
    assert.False(t, call.IsOutput(3))
    st := NewInsn(MOV, M(I32, 8, 1, 0, 0), R(2))
    assert.True(t, st.HasSideEffects())
    ld := NewInsn(MOV, R(2), M(I32, 8, 1, 0, 0))
    assert.False(t, ld.HasSideEffects())
    assert.True(t, NewInsn(DIV, R(1), R(2), R(3)).HasSideEffects())
    assert.True(t, NewInsn(DLT, R(1), R(2), R(3)).IsFloatOp(1))
    assert.False(t, NewInsn(DLT, R(1), R(2), R(3)).IsFloatOp(0))
}

func TestEval(t *testing.T) {
    v, ok := EvalBinary(SUB, 3, 5)
    require.True(t, ok)
    assert.Equal(t, int64(-2), int64(v))
    _, ok = EvalBinary(DIV, 1, 0)
    assert.False(t, ok)
    _, ok = EvalBinary(DIV, uint64(1) << 63, math.MaxUint64)
    assert.False(t, ok)
    v, _ = EvalBinary(RSH, uint64(math.MaxUint64), 60)
    assert.Equal(t, uint64(math.MaxUint64), v)
    v, _ = EvalUnary(EXT8, 0xff)
    assert.Equal(t, uint64(math.MaxUint64), v)
    v, _ = EvalUnary(UEXT16, 0x12345)
    assert.Equal(t, uint64(0x2345), v)
    v, _ = EvalBinary(DADD, math.Float64bits(1.5), math.Float64bits(2))
    assert.Equal(t, 3.5, math.Float64frombits(v))
    assert.True(t, EvalBranch(UBLT, 1, math.MaxUint64))
    assert.False(t, EvalBranch(BLT, 1, math.MaxUint64))
    assert.True(t, EvalBranch(BF, 0, 0))
    assert.Equal(t, uint64(math.MaxUint64 - 127), Extend(I8, 0x80))
    assert.Equal(t, BGE, BLT.Reverse())
}
