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

type Code uint8

const (
    MOV Code = iota     // d = s
    DMOV                // d = s (double)
    EXT8                // d = sign-extend 8 bits of s
    EXT16               // d = sign-extend 16 bits of s
    EXT32               // d = sign-extend 32 bits of s
    UEXT8               // d = zero-extend 8 bits of s
    UEXT16              // d = zero-extend 16 bits of s
    UEXT32              // d = zero-extend 32 bits of s
    I2D                 // d = double(int64(s))
    D2I                 // d = int64(double(s))
    NEG                 // d = -s
    DNEG                // d = -s (double)
    ADD                 // d = a + b
    SUB                 // d = a - b
    MUL                 // d = a * b
    DIV                 // d = a / b (signed)
    UDIV                // d = a / b (unsigned)
    MOD                 // d = a % b (signed)
    UMOD                // d = a % b (unsigned)
    AND                 // d = a & b
    OR                  // d = a | b
    XOR                 // d = a ^ b
    LSH                 // d = a << b
    RSH                 // d = a >> b (arithmetic)
    URSH                // d = a >> b (logical)
    DADD                // d = a + b (double)
    DSUB                // d = a - b (double)
    DMUL                // d = a * b (double)
    DDIV                // d = a / b (double)
    EQ                  // d = a == b
    NE                  // d = a != b
    LT                  // d = a <  b (signed)
    ULT                 // d = a <  b (unsigned)
    LE                  // d = a <= b (signed)
    ULE                 // d = a <= b (unsigned)
    GT                  // d = a >  b (signed)
    UGT                 // d = a >  b (unsigned)
    GE                  // d = a >= b (signed)
    UGE                 // d = a >= b (unsigned)
    DEQ                 // d = a == b (double)
    DNE                 // d = a != b (double)
    DLT                 // d = a <  b (double)
    DLE                 // d = a <= b (double)
    DGT                 // d = a >  b (double)
    DGE                 // d = a >= b (double)
    JMP                 // goto L
    BT                  // if a != 0 goto L
    BF                  // if a == 0 goto L
    BEQ                 // if a == b goto L
    BNE                 // if a != b goto L
    BLT                 // if a <  b goto L (signed)
    UBLT                // if a <  b goto L (unsigned)
    BLE                 // if a <= b goto L (signed)
    UBLE                // if a <= b goto L (unsigned)
    BGT                 // if a >  b goto L (signed)
    UBGT                // if a >  b goto L (unsigned)
    BGE                 // if a >= b goto L (signed)
    UBGE                // if a >= b goto L (unsigned)
    LADDR               // d = address of L
    JMPI                // goto *a
    SWITCH              // goto L[a]
    CALL                // callee, results..., args...
    RET                 // return a...
    LABEL               // branch target
    PHI                 // d = phi(a1, ..., an)
    USE                 // keeps a... alive
    DEF                 // d = <argument or undefined value>
    NumCodes
)

var codeNames = [...]string {
    MOV    : "mov",
    DMOV   : "dmov",
    EXT8   : "ext8",
    EXT16  : "ext16",
    EXT32  : "ext32",
    UEXT8  : "uext8",
    UEXT16 : "uext16",
    UEXT32 : "uext32",
    I2D    : "i2d",
    D2I    : "d2i",
    NEG    : "neg",
    DNEG   : "dneg",
    ADD    : "add",
    SUB    : "sub",
    MUL    : "mul",
    DIV    : "div",
    UDIV   : "udiv",
    MOD    : "mod",
    UMOD   : "umod",
    AND    : "and",
    OR     : "or",
    XOR    : "xor",
    LSH    : "lsh",
    RSH    : "rsh",
    URSH   : "ursh",
    DADD   : "dadd",
    DSUB   : "dsub",
    DMUL   : "dmul",
    DDIV   : "ddiv",
    EQ     : "eq",
    NE     : "ne",
    LT     : "lt",
    ULT    : "ult",
    LE     : "le",
    ULE    : "ule",
    GT     : "gt",
    UGT    : "ugt",
    GE     : "ge",
    UGE    : "uge",
    DEQ    : "deq",
    DNE    : "dne",
    DLT    : "dlt",
    DLE    : "dle",
    DGT    : "dgt",
    DGE    : "dge",
    JMP    : "jmp",
    BT     : "bt",
    BF     : "bf",
    BEQ    : "beq",
    BNE    : "bne",
    BLT    : "blt",
    UBLT   : "ublt",
    BLE    : "ble",
    UBLE   : "uble",
    BGT    : "bgt",
    UBGT   : "ubgt",
    BGE    : "bge",
    UBGE   : "ubge",
    LADDR  : "laddr",
    JMPI   : "jmpi",
    SWITCH : "switch",
    CALL   : "call",
    RET    : "ret",
    LABEL  : "label",
    PHI    : "phi",
    USE    : "use",
    DEF    : "def",
}

func (self Code) String() string {
    if self < NumCodes {
        return codeNames[self]
    } else {
        return fmt.Sprintf("code(%d)", self)
    }
}

// IsMove reports whether the instruction is a plain register/memory move.
func (self Code) IsMove() bool {
    return self == MOV || self == DMOV
}

func (self Code) IsExt() bool {
    return self >= EXT8 && self <= UEXT32
}

func (self Code) IsUnary() bool {
    return self >= EXT8 && self <= DNEG
}

func (self Code) IsBinary() bool {
    return self >= ADD && self <= DGE
}

func (self Code) IsCompare() bool {
    return self >= EQ && self <= DGE
}

// IsCondBranch reports whether the instruction is a conditional branch.
func (self Code) IsCondBranch() bool {
    return self >= BT && self <= UBGE
}

// IsBranch reports whether the instruction may transfer control to a label.
func (self Code) IsBranch() bool {
    return self >= JMP && self <= UBGE
}

// EndsBlock reports whether a basic block must end after the instruction.
func (self Code) EndsBlock() bool {
    return self.IsBranch() || self == JMPI || self == SWITCH || self == RET
}

// IsCommutative reports whether the two inputs of a binary instruction can be swapped.
func (self Code) IsCommutative() bool {
    switch self {
        case ADD, MUL, AND, OR, XOR, DADD, DMUL, EQ, NE, DEQ, DNE : return true
        default                                                    : return false
    }
}

// IsFloat reports whether the instruction computes with doubles.
func (self Code) IsFloat() bool {
    switch self {
        case DMOV, I2D, DNEG, DADD, DSUB, DMUL, DDIV : return true
        default                                      : return false
    }
}

// InputsFloat reports whether the inputs of the instruction are doubles.
func (self Code) InputsFloat() bool {
    switch self {
        case DMOV, D2I, DNEG, DADD, DSUB, DMUL, DDIV : return true
        case DEQ, DNE, DLT, DLE, DGT, DGE            : return true
        default                                      : return false
    }
}

// MayTrap reports whether executing the instruction can fault.
func (self Code) MayTrap() bool {
    switch self {
        case DIV, UDIV, MOD, UMOD : return true
        default                   : return false
    }
}

// Reverse returns the branch with the opposite condition.
func (self Code) Reverse() Code {
    switch self {
        case BT   : return BF
        case BF   : return BT
        case BEQ  : return BNE
        case BNE  : return BEQ
        case BLT  : return BGE
        case BGE  : return BLT
        case BLE  : return BGT
        case BGT  : return BLE
        case UBLT : return UBGE
        case UBGE : return UBLT
        case UBLE : return UBGT
        case UBGT : return UBLE
        default   : panic("ir: not a conditional branch: " + self.String())
    }
}
