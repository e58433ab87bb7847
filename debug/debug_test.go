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

package debug

import (
	"testing"

	"github.com/cloudwego/mirgen"
	"github.com/cloudwego/mirgen/ir"
	"github.com/cloudwego/mirgen/target"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetStats(t *testing.T) {
	b := ir.NewBuilder("stats", []ir.Type{ir.I64}, []ir.Type{ir.I64})
	x := b.Reg(ir.I64, "x")
	y := b.Reg(ir.I64, "y")
	b.Emit(ir.ADD, ir.R(x), ir.R(b.Arg(0)), ir.I(1))
	b.Emit(ir.ADD, ir.R(y), ir.R(b.Arg(0)), ir.I(2))
	b.Emit(ir.XOR, ir.R(x), ir.R(x), ir.R(y))
	b.Ret(ir.R(x))

	before := GetStats()
	tgt := target.NewAMD64(target.Config{IntRegs: 1})
	require.NoError(t, mirgen.Generate(tgt, b.Build(), mirgen.WithOptLevel(0)))
	after := GetStats()
	assert.Equal(t, before.Funcs.Compiled+1, after.Funcs.Compiled)
	assert.Equal(t, before.Funcs.Failed, after.Funcs.Failed)
	assert.Greater(t, after.Alloc.Slots, before.Alloc.Slots)
}
