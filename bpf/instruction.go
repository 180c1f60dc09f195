// Copyright 2017 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package bpf describes the classical packet-filter bytecode format: the
// fixed-size instruction record, the abstract machine it addresses (the
// accumulator, the index register and the scratch memory cells), and the
// collaborators that sit around the JIT compiler in package jit — a
// validator, a disassembler and a reference interpreter used as a test
// oracle.
package bpf

import "fmt"

// MemWords is the number of 32-bit scratch cells addressable by BPF_MEM
// instructions. Bytecode may not reference an index >= MemWords.
const MemWords = 16

// Instruction is the on-the-wire classical-BPF instruction record: an
// opcode, two small jump displacements and a 32-bit immediate. Its layout
// matches the 8-byte wire format (code uint16, jt uint8, jf uint8, k
// uint32) so a program can be decoded directly from a byte stream with
// encoding/binary.
type Instruction struct {
	Code uint16
	Jt   uint8
	Jf   uint8
	K    uint32
}

// Opcode classes (BPF_CLASS).
const (
	ClassLD   = 0x00
	ClassLDX  = 0x01
	ClassST   = 0x02
	ClassSTX  = 0x03
	ClassALU  = 0x04
	ClassJMP  = 0x05
	ClassRET  = 0x06
	ClassMISC = 0x07
)

const classMask = 0x07

// Class returns the instruction class (load, store, alu, jump, ...).
func (i Instruction) Class() uint16 { return i.Code & classMask }

// Load/store size (BPF_SIZE), valid for LD/LDX/ST/STX.
const (
	SizeW = 0x00 // word, 4 bytes
	SizeH = 0x08 // half word, 2 bytes
	SizeB = 0x10 // byte
)

const sizeMask = 0x18

// Size returns the BPF_SIZE field.
func (i Instruction) Size() uint16 { return i.Code & sizeMask }

// Width returns the read width in bytes for Size(), or 0 if Size() is not
// one of SizeW/SizeH/SizeB.
func (i Instruction) Width() uint32 {
	switch i.Size() {
	case SizeW:
		return 4
	case SizeH:
		return 2
	case SizeB:
		return 1
	default:
		return 0
	}
}

// Addressing mode (BPF_MODE), valid for LD/LDX.
const (
	ModeIMM = 0x00
	ModeABS = 0x20
	ModeIND = 0x40
	ModeMEM = 0x60
	ModeLEN = 0x80
	ModeMSH = 0xa0
)

const modeMask = 0xe0

// Mode returns the BPF_MODE field.
func (i Instruction) Mode() uint16 { return i.Code & modeMask }

// ALU/JMP operand source (BPF_SRC).
const (
	SrcK = 0x00 // operand is the immediate K
	SrcX = 0x08 // operand is the X register
)

const srcMask = 0x08

// Src returns the BPF_SRC field.
func (i Instruction) Src() uint16 { return i.Code & srcMask }

// ALU operations (BPF_OP for class ALU).
const (
	AluAdd = 0x00
	AluSub = 0x10
	AluMul = 0x20
	AluDiv = 0x30
	AluOr  = 0x40
	AluAnd = 0x50
	AluLsh = 0x60
	AluRsh = 0x70
	AluNeg = 0x80
)

// Jump operations (BPF_OP for class JMP).
const (
	JmpJA   = 0x00
	JmpJEQ  = 0x10
	JmpJGT  = 0x20
	JmpJGE  = 0x30
	JmpJSET = 0x40
)

const opMask = 0xf0

// Op returns the BPF_OP field (shared by ALU and JMP classes).
func (i Instruction) Op() uint16 { return i.Code & opMask }

// MISC operations (BPF_MISCOP).
const (
	MiscTAX  = 0x00
	MiscCOP  = 0x20
	MiscCOPX = 0x30
	MiscTXA  = 0x80
)

const miscMask = 0xf8

// MiscOp returns the BPF_MISCOP field, valid for class MISC.
func (i Instruction) MiscOp() uint16 { return i.Code & miscMask }

// Return-value source (BPF_RVAL), valid for class RET.
const (
	RvalK = 0x00
	RvalA = 0x10
	RvalX = 0x18
)

const rvalMask = 0x18

// Rval returns the BPF_RVAL field.
func (i Instruction) Rval() uint16 { return i.Code & rvalMask }

// String renders a single instruction as a human-readable mnemonic. It is
// used by Disassemble and never by the JIT itself.
func (i Instruction) String() string {
	switch i.Class() {
	case ClassLD, ClassLDX:
		return i.loadString()
	case ClassST:
		return fmt.Sprintf("st M[%d]", i.K)
	case ClassSTX:
		return fmt.Sprintf("stx M[%d]", i.K)
	case ClassALU:
		return i.aluString()
	case ClassJMP:
		return i.jumpString()
	case ClassRET:
		return i.retString()
	case ClassMISC:
		return i.miscString()
	default:
		return fmt.Sprintf("unknown(0x%02x)", i.Code)
	}
}

func (i Instruction) loadString() string {
	prefix := "ld"
	if i.Class() == ClassLDX {
		prefix = "ldx"
	}
	switch i.Mode() {
	case ModeIMM:
		return fmt.Sprintf("%s #%d", prefix, i.K)
	case ModeABS:
		return fmt.Sprintf("%s [%d]", prefix, i.K)
	case ModeIND:
		return fmt.Sprintf("%s [x+%d]", prefix, i.K)
	case ModeMEM:
		return fmt.Sprintf("%s M[%d]", prefix, i.K)
	case ModeLEN:
		return fmt.Sprintf("%s len", prefix)
	case ModeMSH:
		return fmt.Sprintf("ldx 4*([%d]&0xf)", i.K)
	default:
		return fmt.Sprintf("%s ?(0x%02x)", prefix, i.Code)
	}
}

func (i Instruction) aluString() string {
	op := aluMnemonic(i.Op())
	if i.Op() == AluNeg {
		return "neg"
	}
	if i.Src() == SrcX {
		return fmt.Sprintf("%s x", op)
	}
	return fmt.Sprintf("%s #%d", op, i.K)
}

func aluMnemonic(op uint16) string {
	switch op {
	case AluAdd:
		return "add"
	case AluSub:
		return "sub"
	case AluMul:
		return "mul"
	case AluDiv:
		return "div"
	case AluOr:
		return "or"
	case AluAnd:
		return "and"
	case AluLsh:
		return "lsh"
	case AluRsh:
		return "rsh"
	case AluNeg:
		return "neg"
	default:
		return "alu?"
	}
}

func (i Instruction) jumpString() string {
	if i.Op() == JmpJA {
		return fmt.Sprintf("ja %d", i.K)
	}
	op := jmpMnemonic(i.Op())
	if i.Src() == SrcX {
		return fmt.Sprintf("%s x, jt %d, jf %d", op, i.Jt, i.Jf)
	}
	return fmt.Sprintf("%s #%d, jt %d, jf %d", op, i.K, i.Jt, i.Jf)
}

func jmpMnemonic(op uint16) string {
	switch op {
	case JmpJEQ:
		return "jeq"
	case JmpJGT:
		return "jgt"
	case JmpJGE:
		return "jge"
	case JmpJSET:
		return "jset"
	default:
		return "jmp?"
	}
}

func (i Instruction) retString() string {
	switch i.Rval() {
	case RvalK:
		return fmt.Sprintf("ret #%d", i.K)
	case RvalA:
		return "ret a"
	case RvalX:
		return "ret x"
	default:
		return "ret ?"
	}
}

func (i Instruction) miscString() string {
	switch i.MiscOp() {
	case MiscTAX:
		return "tax"
	case MiscTXA:
		return "txa"
	case MiscCOP:
		return fmt.Sprintf("cop #%d", i.K)
	case MiscCOPX:
		return "copx"
	default:
		return fmt.Sprintf("misc?(0x%02x)", i.Code)
	}
}

// IsPacketRead reports whether the instruction reads from the packet
// buffer (LD/LDX with mode ABS, IND or MSH), and if so, the byte width of
// the read and the clamped-to-MaxUint32 offset-plus-width ("safe length")
// it requires. It is shared by the analyzer and the emitter in package
// jit.
func (i Instruction) IsPacketRead() (width uint32, safeLength uint32, ok bool) {
	switch i.Class() {
	case ClassLD:
		switch i.Mode() {
		case ModeABS, ModeIND:
			width = i.Width()
			ok = width != 0
		}
	case ClassLDX:
		if i.Code == uint16(ClassLDX)|SizeB|ModeMSH {
			width, ok = 1, true
		}
	}
	if !ok {
		return 0, 0, false
	}
	const maxU32 = ^uint32(0)
	if i.K > maxU32-width {
		safeLength = maxU32
	} else {
		safeLength = i.K + width
	}
	return width, safeLength, true
}
