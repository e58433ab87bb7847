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

// Insn is an instruction in the function body. Data is reserved for the
// code generator which keeps its per-instruction bookkeeping there.
type Insn struct {
    Code Code
    NRes int
    Ops  []Op
    Data interface{}
    prev *Insn
    next *Insn
    list *InsnList
}

// NewInsn creates a detached instruction.
func NewInsn(code Code, ops ...Op) *Insn {
    return &Insn {
        Code : code,
        Ops  : append([]Op(nil), ops...),
    }
}

// NewCall creates a call instruction with nres results followed by the arguments.
func NewCall(callee Op, nres int, ops ...Op) *Insn {
    p := NewInsn(CALL, append([]Op { callee }, ops...)...)
    p.NRes = nres
    return p
}

// NewLabel creates a named label instruction.
func NewLabel(name string) *Insn {
    return NewInsn(LABEL, Ref(name))
}

func (self *Insn) Next() *Insn { return self.next }
func (self *Insn) Prev() *Insn { return self.prev }

// Attached reports whether the instruction is in a list.
func (self *Insn) Attached() bool {
    return self.list != nil
}

// LabelName returns the name of a label instruction.
func (self *Insn) LabelName() string {
    if len(self.Ops) != 0 && self.Ops[0].Mode == OpRef {
        return self.Ops[0].Ref
    } else {
        return fmt.Sprintf("L%p", self)
    }
}

// IsOutput reports whether the operand at index i is written by the instruction.
func (self *Insn) IsOutput(i int) bool {
    switch {
        case self.Code == CALL                           : return i >= 1 && i <= self.NRes
        case self.Code == DEF                            : return i == 0
        case self.Code == PHI                            : return i == 0
        case self.Code == LADDR                          : return i == 0
        case self.Code.IsUnary() || self.Code.IsBinary() : return i == 0
        case self.Code.IsMove()                          : return i == 0
        default                                          : return false
    }
}

// IsFloatOp reports whether the operand at index i holds a double. Only
// meaningful for instructions with a fixed signature.
func (self *Insn) IsFloatOp(i int) bool {
    switch self.Code {
        case I2D                          : return i == 0
        case D2I                          : return i != 0
        case DEQ, DNE, DLT, DLE, DGT, DGE : return i != 0
        default                           : return self.Code.IsFloat()
    }
}

// Labels returns the indices of the label operands.
func (self *Insn) Labels() []int {
    var r []int
    for i, v := range self.Ops {
        if v.Mode == OpLabel {
            r = append(r, i)
        }
    }
    return r
}

// HasSideEffects reports whether the instruction does something besides
// writing its register outputs.
func (self *Insn) HasSideEffects() bool {
    switch self.Code {
        case CALL, RET, JMPI, SWITCH, LABEL, USE : return true
    }
    if self.Code.IsBranch() || self.Code.MayTrap() {
        return true
    }
    for i, v := range self.Ops {
        if v.IsMem() && self.IsOutput(i) {
            return true
        }
    }
    return false
}

// Clone copies an instruction, leaving it detached.
func (self *Insn) Clone() *Insn {
    return &Insn {
        Code : self.Code,
        NRes : self.NRes,
        Ops  : append([]Op(nil), self.Ops...),
    }
}

func (self *Insn) String() string {
    if self.Code == LABEL {
        return self.LabelName() + ":"
    }
    ops := make([]string, 0, len(self.Ops))
    for _, v := range self.Ops {
        ops = append(ops, v.String())
    }
    if len(ops) == 0 {
        return self.Code.String()
    } else {
        return fmt.Sprintf("%-7s %s", self.Code, strings.Join(ops, ", "))
    }
}

// InsnList is a doubly linked list of instructions with O(1) insertion and removal.
type InsnList struct {
    head *Insn
    tail *Insn
    size int
}

func (self *InsnList) Front() *Insn { return self.head }
func (self *InsnList) Back() *Insn  { return self.tail }
func (self *InsnList) Len() int     { return self.size }

func (self *InsnList) attach(p *Insn) {
    if p.list != nil {
        panic("ir: instruction is already in a list: " + p.String())
    }
    p.list = self
    self.size++
}

func (self *InsnList) PushBack(p *Insn) *Insn {
    self.attach(p)
    p.prev = self.tail
    p.next = nil
    if self.tail == nil {
        self.head = p
    } else {
        self.tail.next = p
    }
    self.tail = p
    return p
}

func (self *InsnList) PushFront(p *Insn) *Insn {
    self.attach(p)
    p.prev = nil
    p.next = self.head
    if self.head == nil {
        self.tail = p
    } else {
        self.head.prev = p
    }
    self.head = p
    return p
}

// InsertBefore inserts p before at.
func (self *InsnList) InsertBefore(at *Insn, p *Insn) *Insn {
    if at == nil {
        return self.PushBack(p)
    }
    self.attach(p)
    p.next = at
    p.prev = at.prev
    if at.prev == nil {
        self.head = p
    } else {
        at.prev.next = p
    }
    at.prev = p
    return p
}

// InsertAfter inserts p after at.
func (self *InsnList) InsertAfter(at *Insn, p *Insn) *Insn {
    if at == nil {
        return self.PushFront(p)
    }
    self.attach(p)
    p.prev = at
    p.next = at.next
    if at.next == nil {
        self.tail = p
    } else {
        at.next.prev = p
    }
    at.next = p
    return p
}

func (self *InsnList) Remove(p *Insn) {
    if p.list != self {
        panic("ir: instruction is not in this list: " + p.String())
    }
    if p.prev == nil {
        self.head = p.next
    } else {
        p.prev.next = p.next
    }
    if p.next == nil {
        self.tail = p.prev
    } else {
        p.next.prev = p.prev
    }
    p.prev = nil
    p.next = nil
    p.list = nil
    self.size--
}
