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
)

// Type is the value type of a register or a memory location.
type Type uint8

const (
    I8 Type = iota
    U8
    I16
    U16
    I32
    U32
    I64
    U64
    D
    P
)

var typeNames = [...]string {
    I8  : "i8",
    U8  : "u8",
    I16 : "i16",
    U16 : "u16",
    I32 : "i32",
    U32 : "u32",
    I64 : "i64",
    U64 : "u64",
    D   : "d",
    P   : "p",
}

func (self Type) String() string {
    if int(self) < len(typeNames) {
        return typeNames[self]
    } else {
        return fmt.Sprintf("type(%d)", self)
    }
}

// Size returns the size of the type in bytes.
func (self Type) Size() int {
    switch self {
        case I8, U8   : return 1
        case I16, U16 : return 2
        case I32, U32 : return 4
        default       : return 8
    }
}

// IsFloat reports whether values of this type live in floating-point registers.
func (self Type) IsFloat() bool {
    return self == D
}

// RegType maps a memory type to the type of a register that can hold it.
func (self Type) RegType() Type {
    switch self {
        case D                 : return D
        case U8, U16, U32, U64 : return U64
        default                : return I64
    }
}

// Reg is a pseudo register. Register 0 is invalid; the function arguments
// occupy registers 1 to NArgs.
type Reg uint32

const NoReg Reg = 0

func (self Reg) String() string {
    return fmt.Sprintf("r%d", uint32(self))
}

// HardReg is a physical register of the target machine.
type HardReg uint16

const NoHardReg HardReg = 0xffff

func (self HardReg) String() string {
    if self == NoHardReg {
        return "hr?"
    } else {
        return fmt.Sprintf("hr%d", uint16(self))
    }
}

// Alias is a memory alias class. Zero means unknown.
type Alias uint32
