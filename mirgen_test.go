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

package mirgen

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/cloudwego/mirgen/internal/emu"
	"github.com/cloudwego/mirgen/ir"
	"github.com/cloudwego/mirgen/target"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// triangle returns k plus the sum of 1 to n.
func triangle(k int64) *ir.Func {
	b := ir.NewBuilder(fmt.Sprintf("tri%d", k), []ir.Type{ir.I64}, []ir.Type{ir.I64})
	i := b.Reg(ir.I64, "i")
	s := b.Reg(ir.I64, "s")
	b.Mov(ir.R(i), ir.I(0))
	b.Mov(ir.R(s), ir.I(k))
	b.Label("loop")
	b.Emit(ir.BGE, ir.L("done"), ir.R(i), ir.R(b.Arg(0)))
	b.Emit(ir.ADD, ir.R(i), ir.R(i), ir.I(1))
	b.Emit(ir.ADD, ir.R(s), ir.R(s), ir.R(i))
	b.Jmp("loop")
	b.Label("done")
	b.Ret(ir.R(s))
	return b.Build()
}

func isMachineForm(f *ir.Func) bool {
	for p := f.Insns.Front(); p != nil; p = p.Next() {
		for _, v := range p.Ops {
			if v.Mode == ir.OpReg || v.Mode == ir.OpMem {
				return false
			}
		}
	}
	return true
}

func TestGenerator_Generate(t *testing.T) {
	tgt := target.NewAMD64(target.Config{})
	for level := 0; level <= 3; level++ {
		fn := triangle(0)
		g := NewGenerator(tgt, WithOptLevel(level), WithInvariantChecks(true))
		require.NoError(t, g.Generate(fn))
		assert.True(t, isMachineForm(fn), "%s", fn)
		ret, err := emu.New().RunMachine(fn, tgt, 10)
		require.NoError(t, err)
		assert.Equal(t, []uint64{55}, ret, "level %d", level)
	}
}

func TestGenerator_GenerateAll(t *testing.T) {
	tgt := target.NewAMD64(target.Config{IntRegs: 4})
	g := NewGenerator(tgt, WithWorkers(4), WithInvariantChecks(true))
	fns := make([]*ir.Func, 40)
	for i := range fns {
		fns[i] = triangle(int64(i))
	}
	require.NoError(t, g.GenerateAll(context.Background(), fns))
	for i, fn := range fns {
		ret, err := emu.New().RunMachine(fn, tgt, 4)
		require.NoError(t, err)
		assert.Equal(t, []uint64{uint64(10 + i)}, ret, "%s", fn.Name)
	}
}

func TestGenerator_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fns := []*ir.Func{triangle(1), triangle(2)}
	err := NewGenerator(target.NewAMD64(target.Config{})).GenerateAll(ctx, fns)
	assert.ErrorIs(t, err, context.Canceled)
	for _, fn := range fns {
		assert.False(t, isMachineForm(fn))
	}
}

func TestGenerator_AllocError(t *testing.T) {
	b := ir.NewBuilder("wide", []ir.Type{ir.I64}, []ir.Type{ir.I64})
	var regs []ir.Reg
	for i := 0; i < 6; i++ {
		r := b.Reg(ir.I64, "")
		b.Emit(ir.MUL, ir.R(r), ir.R(b.Arg(0)), ir.I(int64(i+2)))
		regs = append(regs, r)
	}
	s := b.Reg(ir.I64, "s")
	b.Mov(ir.R(s), ir.I(0))
	for _, r := range regs {
		b.Emit(ir.XOR, ir.R(s), ir.R(s), ir.R(r))
	}
	b.Ret(ir.R(s))

	g := NewGenerator(target.NewAMD64(target.Config{IntRegs: 1}), WithOptLevel(0), WithMaxStackSlots(1))
	err := g.GenerateAll(context.Background(), []*ir.Func{b.Build()})
	var ae AllocError
	require.True(t, errors.As(err, &ae), "%v", err)
	assert.Equal(t, "wide", ae.Func)
}

func TestOptions(t *testing.T) {
	assert.Panics(t, func() { WithOptLevel(4) })
	assert.Panics(t, func() { WithMaxStackSlots(0) })
	assert.Panics(t, func() { WithWorkers(0) })
	old := SetOptLevel(1)
	defer SetOptLevel(old)
	g := NewGenerator(nil)
	assert.Equal(t, 1, g.opts.OptLevel)
	assert.NotNil(t, g.Target())
	assert.False(t, NewGenerator(nil, WithLiveRangeSplitting(false)).opts.Splitting())
}

func TestGenerator_ConcurrentTrace(t *testing.T) {
	var buf bytes.Buffer
	g := NewGenerator(target.NewAMD64(target.Config{}), WithWorkers(4), WithTrace(&buf), WithDebugLevel(1))
	fns := make([]*ir.Func, 16)
	for i := range fns {
		fns[i] = triangle(int64(i))
	}
	require.NoError(t, g.GenerateAll(context.Background(), fns))

	/* the dumps of one function are never mixed with another */
	var heads []string
	for _, line := range strings.Split(buf.String(), "\n") {
		switch line {
		case "=== CFG Construction ===", "=== Prolog and Epilog ===":
			heads = append(heads, line)
		}
	}
	require.Len(t, heads, 2*len(fns))
	for i := 0; i < len(heads); i += 2 {
		assert.Equal(t, "=== CFG Construction ===", heads[i])
		assert.Equal(t, "=== Prolog and Epilog ===", heads[i+1])
	}
}
