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
    `encoding/binary`
    `fmt`
    `math`

    `github.com/cloudwego/mirgen/ir`
    `github.com/cloudwego/mirgen/target`
)

const (
    _DefaultMemSize  = 1 << 16
    _DefaultMaxSteps = 1 << 20
    _LabelBase       = 0x7000_0000
    _ClobberPattern  = 0xdead_beef_0000_0000
    _SavedPattern    = 0x5a5a_0000_0000_0000
    _FramePattern    = 0xf7a3_e000
)

// Extern is a function the emulated code can call by name.
type Extern func(e *Emulator, args []uint64) []uint64

// Fault is a run time error of the emulated program.
type Fault struct {
    Insn   string
    Reason string
}

func (self Fault) Error() string {
    return fmt.Sprintf("fault at `%s`: %s", self.Insn, self.Reason)
}

// Emulator interprets IR functions, either in pseudo-register form or after
// register allocation when a target is attached.
type Emulator struct {
    PC       *ir.Insn
    cur      *ir.Insn
    Gr       []uint64
    Hr       []uint64
    Mem      []byte
    Steps    int
    MaxSteps int
    Externs  map[string]Extern
    tgt      target.Target
    labels   []*ir.Insn
    done     bool
    rets     []uint64
}

func New() *Emulator {
    return &Emulator {
        Mem      : make([]byte, _DefaultMemSize),
        MaxSteps : _DefaultMaxSteps,
        Externs  : make(map[string]Extern),
    }
}

// Load64 and Store64 give externs and tests access to the emulated memory.
func (self *Emulator) Load64(addr uint64) uint64 {
    return self.load(ir.I64, addr)
}

func (self *Emulator) Store64(addr uint64, v uint64) {
    self.store(ir.I64, addr, v)
}

func (self *Emulator) fault(reason string) {
    if self.cur == nil {
        panic(Fault { Insn: "<none>", Reason: reason })
    } else {
        panic(Fault { Insn: self.cur.String(), Reason: reason })
    }
}

func (self *Emulator) reset(f *ir.Func) {
    self.Gr = make([]uint64, f.NumRegs())
    self.labels = self.labels[:0]
    self.done = false
    self.rets = nil
    self.Steps = 0
    for p := f.Insns.Front(); p != nil; p = p.Next() {
        if p.Code == ir.LABEL {
            self.labels = append(self.labels, p)
        }
    }
}

// Run executes a function in pseudo-register form.
func (self *Emulator) Run(f *ir.Func, args ...uint64) (ret []uint64, err error) {
    self.tgt = nil
    self.reset(f)
    for i, v := range args {
        self.Gr[i + 1] = v
    }
    return self.exec(f)
}

// RunMachine executes an allocated function: arguments are passed in the
// hard registers of the target calling convention, and callee-saved
// registers, the stack and frame pointers must be preserved.
func (self *Emulator) RunMachine(f *ir.Func, tgt target.Target, args ...uint64) (ret []uint64, err error) {
    self.tgt = tgt
    self.reset(f)
    self.Hr = make([]uint64, int(tgt.MaxHardReg()) + 1)
    for h := range self.Hr {
        self.Hr[h] = _ClobberPattern + uint64(h)
        if !tgt.CallUsedHardReg(ir.HardReg(h)) {
            self.Hr[h] = _SavedPattern + uint64(h)
        }
    }
    sp := uint64(len(self.Mem) - 64)
    self.Hr[tgt.SPHardReg()] = sp
    self.Hr[tgt.FPHardReg()] = _FramePattern
    ni, nf := 0, 0
    for i, v := range args {
        if t := f.ArgTypes[i]; t.IsFloat() {
            self.Hr[tgt.ArgHardReg(nf, t)] = v
            nf++
        } else {
            self.Hr[tgt.ArgHardReg(ni, t)] = v
            ni++
        }
    }
    saved := append([]uint64(nil), self.Hr...)
    if ret, err = self.exec(f); err != nil {
        return
    }
    for h := range self.Hr {
        if hr := ir.HardReg(h); !tgt.CallUsedHardReg(hr) && self.Hr[h] != saved[h] {
            return nil, Fault { Insn: "ret", Reason: fmt.Sprintf("callee-saved register %s not preserved", hr) }
        }
    }
    if self.Hr[tgt.SPHardReg()] != sp {
        return nil, Fault { Insn: "ret", Reason: "stack pointer not restored" }
    }
    return
}

func (self *Emulator) exec(f *ir.Func) (ret []uint64, err error) {
    defer func() {
        if v := recover(); v != nil {
            if e, ok := v.(Fault); ok {
                err = e
            } else {
                panic(v)
            }
        }
    }()
    for self.PC = f.Insns.Front(); self.PC != nil && !self.done; {
        if self.Steps++; self.Steps > self.MaxSteps {
            self.fault("step limit exceeded")
        }
        p := self.PC
        self.cur = p
        self.PC = p.Next()
        dispatchTab[p.Code](self, p)
    }
    if !self.done {
        return nil, Fault { Insn: "<end>", Reason: "fell off the end of the function" }
    }
    return self.rets, nil
}

func (self *Emulator) addr(m ir.Mem, hard bool) uint64 {
    var a uint64
    if hard {
        if m.HBase != ir.NoHardReg {
            a += self.Hr[m.HBase]
        }
        if m.HIndex != ir.NoHardReg {
            a += self.Hr[m.HIndex] * uint64(m.Scale)
        }
    } else {
        if m.Base != ir.NoReg {
            a += self.Gr[m.Base]
        }
        if m.Index != ir.NoReg {
            a += self.Gr[m.Index] * uint64(m.Scale)
        }
    }
    return a + uint64(m.Disp)
}

func (self *Emulator) load(t ir.Type, a uint64) uint64 {
    n := uint64(t.Size())
    if a + n > uint64(len(self.Mem)) || a + n < a {
        self.fault(fmt.Sprintf("load out of bounds: %#x", a))
    }
    var buf [8]byte
    copy(buf[:], self.Mem[a:a + n])
    return ir.Extend(t, binary.LittleEndian.Uint64(buf[:]))
}

func (self *Emulator) store(t ir.Type, a uint64, v uint64) {
    n := uint64(t.Size())
    if a + n > uint64(len(self.Mem)) || a + n < a {
        self.fault(fmt.Sprintf("store out of bounds: %#x", a))
    }
    var buf [8]byte
    binary.LittleEndian.PutUint64(buf[:], v)
    copy(self.Mem[a:a + n], buf[:n])
}

func (self *Emulator) read(op ir.Op) uint64 {
    switch op.Mode {
        case ir.OpReg        : return self.Gr[op.Reg]
        case ir.OpHardReg    : return self.Hr[op.HReg]
        case ir.OpInt        : return uint64(op.Int)
        case ir.OpDouble     : return math.Float64bits(op.Dbl)
        case ir.OpMem        : return self.load(op.Mem.Type, self.addr(op.Mem, false))
        case ir.OpHardRegMem : return self.load(op.Mem.Type, self.addr(op.Mem, true))
        default              : self.fault("cannot read operand " + op.String()); return 0
    }
}

func (self *Emulator) write(op ir.Op, v uint64) {
    switch op.Mode {
        case ir.OpReg        : self.Gr[op.Reg] = v
        case ir.OpHardReg    : self.Hr[op.HReg] = v
        case ir.OpMem        : self.store(op.Mem.Type, self.addr(op.Mem, false), v)
        case ir.OpHardRegMem : self.store(op.Mem.Type, self.addr(op.Mem, true), v)
        default              : self.fault("cannot write operand " + op.String())
    }
}

func (self *Emulator) jump(op ir.Op) {
    if op.Mode != ir.OpLabel || op.Label == nil {
        self.fault("invalid branch target")
    }
    self.PC = op.Label
}

func (self *Emulator) labelAddr(p *ir.Insn) uint64 {
    for i, v := range self.labels {
        if v == p {
            return _LabelBase + uint64(i)
        }
    }
    self.fault("label is not in the function")
    return 0
}
