// Copyright 2017 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bpf

import (
	"errors"
	"fmt"
)

// ErrEmptyProgram is returned by Validate when given a zero-length
// instruction slice; a filter must return a verdict, so it must contain
// at least one RET.
var ErrEmptyProgram = errors.New("bpf: empty program")

// ErrReturnByRegister is returned by Validate for RET+BPF_X, which the
// classical BPF ISA does not define (only RET+K and RET+A are valid).
var ErrReturnByRegister = errors.New("bpf: RET X is not a valid instruction")

// LiteralDivideByZeroError is returned by Validate for an ALU DIV
// whose divisor is the constant K=0: unlike a division by X, this is
// always a mistake the loader can catch statically, so classical BPF
// rejects it at load time rather than letting it fire at every packet.
type LiteralDivideByZeroError struct {
	Index int
}

func (e LiteralDivideByZeroError) Error() string {
	return fmt.Sprintf("bpf: instruction %d: division by literal zero", e.Index)
}

// JumpOutOfRangeError is returned by Validate (and re-derived defensively
// by the analyzer) when a JMP instruction's jt or jf displacement would
// carry control flow outside [0, len(insns)).
type JumpOutOfRangeError struct {
	Index int // index of the offending JMP instruction
}

func (e JumpOutOfRangeError) Error() string {
	return fmt.Sprintf("bpf: instruction %d: jump target out of range", e.Index)
}

// ScratchIndexError is returned by Validate when a BPF_MEM-mode
// instruction or a BPF_ST/BPF_STX references a scratch cell index
// outside [0, MemWords).
type ScratchIndexError struct {
	Index int    // index of the offending instruction
	K     uint32 // the out-of-range scratch cell index it named
}

func (e ScratchIndexError) Error() string {
	return fmt.Sprintf("bpf: instruction %d: scratch index %d out of range [0,%d)", e.Index, e.K, MemWords)
}

// UnsupportedOpcodeError is returned by Validate when an instruction's
// code byte does not match any accepted class/size/mode/op combination
// listed in the opcode table.
type UnsupportedOpcodeError struct {
	Index int    // index of the offending instruction
	Code  uint16 // the unrecognized opcode
}

func (e UnsupportedOpcodeError) Error() string {
	return fmt.Sprintf("bpf: instruction %d: unsupported opcode 0x%04x", e.Index, e.Code)
}
