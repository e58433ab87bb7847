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

package emu

import (
    `github.com/cloudwego/mirgen/ir`
)

var dispatchTab [ir.NumCodes]func(e *Emulator, p *ir.Insn)

func init() {
    for c := ir.Code(0); c < ir.NumCodes; c++ {
        switch {
            case c.IsMove()       : dispatchTab[c] = (*Emulator).emu_unary
            case c.IsUnary()      : dispatchTab[c] = (*Emulator).emu_unary
            case c.IsBinary()     : dispatchTab[c] = (*Emulator).emu_binary
            case c.IsCondBranch() : dispatchTab[c] = (*Emulator).emu_branch
            default               : dispatchTab[c] = (*Emulator).emu_invalid
        }
    }
    dispatchTab[ir.JMP]    = (*Emulator).emu_jmp
    dispatchTab[ir.LADDR]  = (*Emulator).emu_laddr
    dispatchTab[ir.JMPI]   = (*Emulator).emu_jmpi
    dispatchTab[ir.SWITCH] = (*Emulator).emu_switch
    dispatchTab[ir.CALL]   = (*Emulator).emu_call
    dispatchTab[ir.RET]    = (*Emulator).emu_ret
    dispatchTab[ir.LABEL]  = (*Emulator).emu_nop
    dispatchTab[ir.USE]    = (*Emulator).emu_nop
    dispatchTab[ir.DEF]    = (*Emulator).emu_nop
}

func (self *Emulator) emu_invalid(p *ir.Insn) {
    self.fault("instruction cannot be executed")
}

func (self *Emulator) emu_nop(_ *ir.Insn) {}

func (self *Emulator) emu_unary(p *ir.Insn) {
    v, _ := ir.EvalUnary(p.Code, self.read(p.Ops[1]))
    self.write(p.Ops[0], v)
}

func (self *Emulator) emu_binary(p *ir.Insn) {
    if v, ok := ir.EvalBinary(p.Code, self.read(p.Ops[1]), self.read(p.Ops[2])); !ok {
        self.fault("arithmetic exception")
    } else {
        self.write(p.Ops[0], v)
    }
}

func (self *Emulator) emu_branch(p *ir.Insn) {
    var b uint64
    if len(p.Ops) > 2 {
        b = self.read(p.Ops[2])
    }
    if ir.EvalBranch(p.Code, self.read(p.Ops[1]), b) {
        self.jump(p.Ops[0])
    }
}

func (self *Emulator) emu_jmp(p *ir.Insn) {
    self.jump(p.Ops[0])
}

func (self *Emulator) emu_laddr(p *ir.Insn) {
    self.write(p.Ops[0], self.labelAddr(p.Ops[1].Label))
}

func (self *Emulator) emu_jmpi(p *ir.Insn) {
    if i := self.read(p.Ops[0]) - _LabelBase; i >= uint64(len(self.labels)) {
        self.fault("indirect jump to an invalid address")
    } else {
        self.PC = self.labels[i]
    }
}

func (self *Emulator) emu_switch(p *ir.Insn) {
    if i := self.read(p.Ops[0]); i >= uint64(len(p.Ops) - 1) {
        self.fault("switch index out of range")
    } else {
        self.jump(p.Ops[i + 1])
    }
}

func (self *Emulator) emu_call(p *ir.Insn) {
    fn, ok := self.Externs[p.Ops[0].Ref]
    if p.Ops[0].Mode != ir.OpRef || !ok {
        self.fault("call to an unknown function")
    }
    res := p.Ops[1:1 + p.NRes]
    args := make([]uint64, 0, len(p.Ops) - 1 - p.NRes)
    for _, v := range p.Ops[1 + p.NRes:] {
        args = append(args, self.read(v))
    }
    rv := fn(self, args)
    if len(rv) < len(res) {
        self.fault("extern returned too few values")
    }

    /* the callee may trash every call-used register */
    if self.tgt != nil {
        for h := range self.Hr {
            if self.tgt.CallUsedHardReg(ir.HardReg(h)) {
                self.Hr[h] = _ClobberPattern ^ uint64(self.Steps)
            }
        }
    }
    for i, v := range res {
        self.write(v, rv[i])
    }
}

func (self *Emulator) emu_ret(p *ir.Insn) {
    self.rets = make([]uint64, 0, len(p.Ops))
    for _, v := range p.Ops {
        self.rets = append(self.rets, self.read(v))
    }
    self.done = true
}
