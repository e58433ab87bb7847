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
    `fmt`
    `math`
    `strings`
)

type OpMode uint8

const (
    OpNone OpMode = iota
    OpReg
    OpHardReg
    OpInt
    OpDouble
    OpMem
    OpHardRegMem
    OpLabel
    OpRef
)

// Mem is a memory operand: Type[Base + Index * Scale + Disp]. Base and Index
// are used for OpMem, HBase and HIndex for OpHardRegMem.
type Mem struct {
    Type     Type
    Scale    uint8
    Disp     int64
    Base     Reg
    Index    Reg
    HBase    HardReg
    HIndex   HardReg
    Alias    Alias
    NonAlias Alias
}

// Op is an instruction operand.
type Op struct {
    Mode  OpMode
    Reg   Reg
    HReg  HardReg
    Int   int64
    Dbl   float64
    Mem   Mem
    Label *Insn
    Ref   string
}

func R(r Reg) Op {
    return Op { Mode: OpReg, Reg: r }
}

func HR(h HardReg) Op {
    return Op { Mode: OpHardReg, HReg: h }
}

func I(v int64) Op {
    return Op { Mode: OpInt, Int: v }
}

func F(v float64) Op {
    return Op { Mode: OpDouble, Dbl: v }
}

// M creates a memory operand addressed through pseudo registers.
func M(t Type, disp int64, base Reg, index Reg, scale uint8) Op {
    if index != NoReg && scale == 0 {
        scale = 1
    }
    return Op {
        Mode : OpMem,
        Mem  : Mem { Type: t, Disp: disp, Base: base, Index: index, Scale: scale, HBase: NoHardReg, HIndex: NoHardReg },
    }
}

// HM creates a memory operand addressed through hard registers.
func HM(t Type, disp int64, base HardReg, index HardReg, scale uint8) Op {
    if index != NoHardReg && scale == 0 {
        scale = 1
    }
    return Op {
        Mode : OpHardRegMem,
        Mem  : Mem { Type: t, Disp: disp, HBase: base, HIndex: index, Scale: scale },
    }
}

// L creates an unresolved label reference, resolved by the Builder.
func L(name string) Op {
    return Op { Mode: OpLabel, Ref: name }
}

// LabelOf creates a reference to a label instruction.
func LabelOf(p *Insn) Op {
    return Op { Mode: OpLabel, Label: p }
}

func Ref(name string) Op {
    return Op { Mode: OpRef, Ref: name }
}

// WithAlias returns a copy of a memory operand with the alias classes set.
func (self Op) WithAlias(alias Alias, nonalias Alias) Op {
    self.Mem.Alias = alias
    self.Mem.NonAlias = nonalias
    return self
}

func (self Op) IsMem() bool {
    return self.Mode == OpMem || self.Mode == OpHardRegMem
}

func (self Op) IsImm() bool {
    return self.Mode == OpInt || self.Mode == OpDouble
}

// Equal reports whether the two operands denote the same location or value.
func (self Op) Equal(other Op) bool {
    if self.Mode != other.Mode {
        return false
    }
    switch self.Mode {
        case OpNone       : return true
        case OpReg        : return self.Reg == other.Reg
        case OpHardReg    : return self.HReg == other.HReg
        case OpInt        : return self.Int == other.Int
        case OpDouble     : return math.Float64bits(self.Dbl) == math.Float64bits(other.Dbl)
        case OpMem        : return memEqual(self.Mem, other.Mem, false)
        case OpHardRegMem : return memEqual(self.Mem, other.Mem, true)
        case OpLabel      : return self.Label == other.Label && self.Ref == other.Ref
        case OpRef        : return self.Ref == other.Ref
        default           : panic("ir: invalid operand mode")
    }
}

func memEqual(a Mem, b Mem, hard bool) bool {
    if a.Type != b.Type || a.Disp != b.Disp || a.Scale != b.Scale {
        return false
    } else if hard {
        return a.HBase == b.HBase && a.HIndex == b.HIndex
    } else {
        return a.Base == b.Base && a.Index == b.Index
    }
}

func (self Op) String() string {
    switch self.Mode {
        case OpNone       : return "<none>"
        case OpReg        : return self.Reg.String()
        case OpHardReg    : return self.HReg.String()
        case OpInt        : return fmt.Sprintf("%d", self.Int)
        case OpDouble     : return fmt.Sprintf("%g", self.Dbl)
        case OpMem        : return self.Mem.string(false)
        case OpHardRegMem : return self.Mem.string(true)
        case OpRef        : return "$" + self.Ref
        case OpLabel      : return self.labelName()
        default           : return fmt.Sprintf("<mode %d>", self.Mode)
    }
}

func (self Op) labelName() string {
    if self.Label == nil {
        return "L?" + self.Ref
    } else if self.Label.Ops != nil && len(self.Label.Ops) != 0 && self.Label.Ops[0].Mode == OpRef {
        return self.Label.Ops[0].Ref
    } else {
        return fmt.Sprintf("L%p", self.Label)
    }
}

func (self Mem) string(hard bool) string {
    var buf []string
    if hard {
        if self.HBase != NoHardReg {
            buf = append(buf, self.HBase.String())
        }
        if self.HIndex != NoHardReg {
            buf = append(buf, fmt.Sprintf("%s*%d", self.HIndex, self.Scale))
        }
    } else {
        if self.Base != NoReg {
            buf = append(buf, self.Base.String())
        }
        if self.Index != NoReg {
            buf = append(buf, fmt.Sprintf("%s*%d", self.Index, self.Scale))
        }
    }
    if self.Disp != 0 || len(buf) == 0 {
        buf = append(buf, fmt.Sprintf("%d", self.Disp))
    }
    return fmt.Sprintf("%s[%s]", self.Type, strings.Join(buf, "+"))
}
