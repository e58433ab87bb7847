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
    `math`
)

func b2u(v bool) uint64 {
    if v {
        return 1
    } else {
        return 0
    }
}

func f64(v uint64) float64 {
    return math.Float64frombits(v)
}

func u64(v float64) uint64 {
    return math.Float64bits(v)
}

// EvalUnary computes a unary instruction on raw 64-bit values. Doubles are
// passed as their IEEE-754 bits.
func EvalUnary(code Code, a uint64) (uint64, bool) {
    switch code {
        case MOV, DMOV : return a, true
        case EXT8      : return uint64(int64(int8(a))), true
        case EXT16     : return uint64(int64(int16(a))), true
        case EXT32     : return uint64(int64(int32(a))), true
        case UEXT8     : return uint64(uint8(a)), true
        case UEXT16    : return uint64(uint16(a)), true
        case UEXT32    : return uint64(uint32(a)), true
        case I2D       : return u64(float64(int64(a))), true
        case D2I       : return uint64(int64(f64(a))), true
        case NEG       : return -a, true
        case DNEG      : return u64(-f64(a)), true
        default        : return 0, false
    }
}

// EvalBinary computes a binary instruction. It fails on division by zero
// and on signed division overflow, which trap at run time.
func EvalBinary(code Code, a uint64, b uint64) (uint64, bool) {
    x, y := int64(a), int64(b)
    switch code {
        case ADD  : return a + b, true
        case SUB  : return a - b, true
        case MUL  : return a * b, true
        case AND  : return a & b, true
        case OR   : return a | b, true
        case XOR  : return a ^ b, true
        case LSH  : return a << (b & 63), true
        case RSH  : return uint64(x >> (b & 63)), true
        case URSH : return a >> (b & 63), true
        case DADD : return u64(f64(a) + f64(b)), true
        case DSUB : return u64(f64(a) - f64(b)), true
        case DMUL : return u64(f64(a) * f64(b)), true
        case DDIV : return u64(f64(a) / f64(b)), true
        case EQ   : return b2u(a == b), true
        case NE   : return b2u(a != b), true
        case LT   : return b2u(x <  y), true
        case ULT  : return b2u(a <  b), true
        case LE   : return b2u(x <= y), true
        case ULE  : return b2u(a <= b), true
        case GT   : return b2u(x >  y), true
        case UGT  : return b2u(a >  b), true
        case GE   : return b2u(x >= y), true
        case UGE  : return b2u(a >= b), true
        case DEQ  : return b2u(f64(a) == f64(b)), true
        case DNE  : return b2u(f64(a) != f64(b)), true
        case DLT  : return b2u(f64(a) <  f64(b)), true
        case DLE  : return b2u(f64(a) <= f64(b)), true
        case DGT  : return b2u(f64(a) >  f64(b)), true
        case DGE  : return b2u(f64(a) >= f64(b)), true
    }
    if b == 0 || ((code == DIV || code == MOD) && x == math.MinInt64 && y == -1) {
        return 0, false
    }
    switch code {
        case DIV  : return uint64(x / y), true
        case UDIV : return a / b, true
        case MOD  : return uint64(x % y), true
        case UMOD : return a % b, true
        default   : return 0, false
    }
}

// CompareOf returns the comparison computed by a two-operand conditional branch.
func CompareOf(code Code) Code {
    switch code {
        case BEQ  : return EQ
        case BNE  : return NE
        case BLT  : return LT
        case UBLT : return ULT
        case BLE  : return LE
        case UBLE : return ULE
        case BGT  : return GT
        case UBGT : return UGT
        case BGE  : return GE
        case UBGE : return UGE
        default   : panic("ir: not a compare-and-branch: " + code.String())
    }
}

// EvalBranch reports whether a conditional branch is taken. BT and BF
// ignore b.
func EvalBranch(code Code, a uint64, b uint64) bool {
    switch code {
        case BT : return a != 0
        case BF : return a == 0
    }
    v, _ := EvalBinary(CompareOf(code), a, b)
    return v != 0
}

// Extend applies the implicit conversion of a memory load of type t.
func Extend(t Type, v uint64) uint64 {
    switch t {
        case I8  : return uint64(int64(int8(v)))
        case U8  : return uint64(uint8(v))
        case I16 : return uint64(int64(int16(v)))
        case U16 : return uint64(uint16(v))
        case I32 : return uint64(int64(int32(v)))
        case U32 : return uint64(uint32(v))
        default  : return v
    }
}

// ExtCodeOf returns the extension instruction equivalent to loading a
// value of type t from a location that was stored from a register.
func ExtCodeOf(t Type) Code {
    switch t {
        case I8  : return EXT8
        case U8  : return UEXT8
        case I16 : return EXT16
        case U16 : return UEXT16
        case I32 : return EXT32
        case U32 : return UEXT32
        case D   : return DMOV
        default  : return MOV
    }
}
