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
    `sort`
)

type _PendingRef struct {
    p *Insn
    i int
}

// Builder assembles a function body, resolving forward label references.
type Builder struct {
    fn    *Func
    refs  map[string]*Insn
    pends map[string][]_PendingRef
}

func NewBuilder(name string, args []Type, res []Type) *Builder {
    return &Builder {
        fn    : NewFunc(name, args, res),
        refs  : make(map[string]*Insn),
        pends : make(map[string][]_PendingRef),
    }
}

// Arg returns the register of the i-th argument.
func (self *Builder) Arg(i int) Reg {
    if i < 0 || i >= len(self.fn.ArgTypes) {
        panic("ir: argument index out of range")
    }
    return Reg(i + 1)
}

func (self *Builder) Reg(t Type, name string) Reg {
    return self.fn.NewReg(t, name)
}

func (self *Builder) Label(name string) *Insn {
    if _, ok := self.refs[name]; ok {
        panic("label " + name + " has already been linked")
    }

    /* patch all the pending references */
    p := self.fn.Insns.PushBack(NewLabel(name))
    for _, v := range self.pends[name] {
        v.p.Ops[v.i].Label = p
    }

    /* mark the label as resolved */
    self.refs[name] = p
    delete(self.pends, name)
    return p
}

func (self *Builder) add(p *Insn) *Insn {
    for i := range p.Ops {
        if op := &p.Ops[i]; op.Mode == OpLabel && op.Label == nil {
            if lb, ok := self.refs[op.Ref]; ok {
                op.Label = lb
            } else {
                self.pends[op.Ref] = append(self.pends[op.Ref], _PendingRef { p, i })
            }
        }
    }
    return self.fn.Insns.PushBack(p)
}

func (self *Builder) Emit(code Code, ops ...Op) *Insn {
    return self.add(NewInsn(code, ops...))
}

func (self *Builder) Mov(d Op, s Op) *Insn {
    return self.Emit(MOV, d, s)
}

func (self *Builder) Jmp(to string) *Insn {
    return self.Emit(JMP, L(to))
}

func (self *Builder) Ret(ops ...Op) *Insn {
    return self.Emit(RET, ops...)
}

// Call emits a call to an external function.
func (self *Builder) Call(callee string, res []Reg, args ...Op) *Insn {
    ops := make([]Op, 0, len(res) + len(args))
    for _, r := range res {
        ops = append(ops, R(r))
    }
    return self.add(NewCall(Ref(callee), len(res), append(ops, args...)...))
}

func (self *Builder) Build() *Func {
    if len(self.pends) != 0 {
        keys := make([]string, 0, len(self.pends))
        for k := range self.pends {
            keys = append(keys, k)
        }
        sort.Strings(keys)
        panic("labels are not fully resolved: " + keys[0])
    }
    return self.fn
}
