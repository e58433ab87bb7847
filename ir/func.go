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
    `strings`
)

// RegDesc describes a pseudo register. A tied register lives in HardReg
// for its whole lifetime.
type RegDesc struct {
    Name    string
    Type    Type
    Tied    bool
    HardReg HardReg
}

// Func is a function body: argument registers, result types and the
// instruction list.
type Func struct {
    Name      string
    ArgTypes  []Type
    ResTypes  []Type
    Regs      []RegDesc
    Insns     InsnList
    FrameSize int64
}

// NewFunc creates an empty function whose arguments are registers 1..len(args).
func NewFunc(name string, args []Type, res []Type) *Func {
    f := &Func {
        Name     : name,
        ArgTypes : append([]Type(nil), args...),
        ResTypes : append([]Type(nil), res...),
        Regs     : []RegDesc {{ Name: "<invalid>" }},
    }
    for i, t := range args {
        f.NewReg(t, fmt.Sprintf("a%d", i))
    }
    return f
}

func (self *Func) NArgs() int {
    return len(self.ArgTypes)
}

// NumRegs returns the number of pseudo registers, register 0 included.
func (self *Func) NumRegs() int {
    return len(self.Regs)
}

// NewReg creates a new pseudo register. Integer memory types are widened
// to 64-bit register types.
func (self *Func) NewReg(t Type, name string) Reg {
    r := Reg(len(self.Regs))
    if name == "" {
        name = fmt.Sprintf("t%d", r)
    }
    self.Regs = append(self.Regs, RegDesc { Name: name, Type: t.RegType(), HardReg: NoHardReg })
    return r
}

// TieReg pins a pseudo register to a hard register.
func (self *Func) TieReg(r Reg, h HardReg) {
    self.Regs[r].Tied = true
    self.Regs[r].HardReg = h
}

func (self *Func) RegType(r Reg) Type {
    return self.Regs[r].Type
}

func (self *Func) IsArg(r Reg) bool {
    return r != NoReg && int(r) <= len(self.ArgTypes)
}

func (self *Func) String() string {
    args := make([]string, 0, len(self.ArgTypes))
    res := make([]string, 0, len(self.ResTypes))
    for i, t := range self.ArgTypes {
        args = append(args, fmt.Sprintf("%s:%s", Reg(i + 1), t))
    }
    for _, t := range self.ResTypes {
        res = append(res, t.String())
    }
    buf := []string { fmt.Sprintf("func %s(%s) (%s)", self.Name, strings.Join(args, ", "), strings.Join(res, ", ")) }
    for p := self.Insns.Front(); p != nil; p = p.Next() {
        if p.Code == LABEL {
            buf = append(buf, p.String())
        } else {
            buf = append(buf, "    " + p.String())
        }
    }
    return strings.Join(buf, "\n")
}
