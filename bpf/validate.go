// Copyright 2017 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bpf

// Validate performs the single forward scan a JIT caller is expected to
// run before compiling: it rejects a program the analyzer could not
// safely reason about. It is the Go-native stand-in for the bytecode
// validator that spec.md treats as an external collaborator — jit.Generate
// calls it unconditionally, since the checks it performs are cheap next
// to code emission and a caller skipping it is still protected.
func Validate(insns []Instruction) error {
	n := len(insns)
	if n == 0 {
		return ErrEmptyProgram
	}

	for i, insn := range insns {
		logger.Printf("validating insn %d: %s", i, insn)

		switch insn.Class() {
		case ClassLD, ClassLDX:
			if err := validateLoad(i, insn); err != nil {
				return err
			}
		case ClassST, ClassSTX:
			if insn.K >= MemWords {
				return ScratchIndexError{Index: i, K: insn.K}
			}
		case ClassALU:
			if err := validateALU(i, insn); err != nil {
				return err
			}
		case ClassJMP:
			if err := validateJump(i, insn, n); err != nil {
				return err
			}
		case ClassRET:
			if insn.Rval() == RvalX {
				return ErrReturnByRegister
			}
			if insn.Rval() != RvalK && insn.Rval() != RvalA {
				return UnsupportedOpcodeError{Index: i, Code: insn.Code}
			}
		case ClassMISC:
			if err := validateMisc(i, insn); err != nil {
				return err
			}
		default:
			return UnsupportedOpcodeError{Index: i, Code: insn.Code}
		}
	}
	return nil
}

func validateLoad(i int, insn Instruction) error {
	switch insn.Mode() {
	case ModeIMM, ModeLEN:
		if insn.Size() != SizeW {
			return UnsupportedOpcodeError{Index: i, Code: insn.Code}
		}
		return nil
	case ModeABS, ModeIND:
		if insn.Width() == 0 {
			return UnsupportedOpcodeError{Index: i, Code: insn.Code}
		}
		return nil
	case ModeMEM:
		if insn.K >= MemWords {
			return ScratchIndexError{Index: i, K: insn.K}
		}
		return nil
	case ModeMSH:
		if insn.Class() != ClassLDX || insn.Size() != SizeB {
			return UnsupportedOpcodeError{Index: i, Code: insn.Code}
		}
		return nil
	default:
		return UnsupportedOpcodeError{Index: i, Code: insn.Code}
	}
}

func validateALU(i int, insn Instruction) error {
	switch insn.Op() {
	case AluAdd, AluSub, AluMul, AluDiv, AluOr, AluAnd, AluLsh, AluRsh, AluNeg:
		if insn.Op() == AluDiv && insn.Src() == SrcK && insn.K == 0 {
			return LiteralDivideByZeroError{Index: i}
		}
		return nil
	default:
		return UnsupportedOpcodeError{Index: i, Code: insn.Code}
	}
}

func validateJump(i int, insn Instruction, n int) error {
	var jt, jf uint32
	if insn.Op() == JmpJA {
		jt, jf = insn.K, insn.K
	} else {
		switch insn.Op() {
		case JmpJEQ, JmpJGT, JmpJGE, JmpJSET:
		default:
			return UnsupportedOpcodeError{Index: i, Code: insn.Code}
		}
		jt, jf = uint32(insn.Jt), uint32(insn.Jf)
	}

	remaining := uint32(n - (i + 1))
	if jt >= remaining || jf >= remaining {
		return JumpOutOfRangeError{Index: i}
	}
	return nil
}

func validateMisc(i int, insn Instruction) error {
	switch insn.MiscOp() {
	case MiscTAX, MiscTXA, MiscCOP, MiscCOPX:
		return nil
	default:
		return UnsupportedOpcodeError{Index: i, Code: insn.Code}
	}
}
