// Copyright 2017 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bpf

import "encoding/binary"

// Interpret runs insns against args using a straightforward fetch/decode/
// switch loop, exactly mirroring the semantics jit.Generate must compile
// to native code: an out-of-bounds packet read, a division by zero or an
// out-of-range/unavailable extension call all abort evaluation and yield
// 0, the same "shared return-0 tail" the compiled code branches to. It
// exists purely as a test oracle (§8 of the spec requires every compiled
// program's Run to agree with a reference interpreter on every input) and
// is never called by the compiler itself.
//
// insns is assumed to have passed Validate; Interpret does not re-check
// jump ranges or scratch indices and will panic on a malformed program,
// the same contract bpf_filter() has in the original C implementation.
func Interpret(ctx *Context, insns []Instruction, args *Args) uint32 {
	var a, x uint32
	var mem [MemWords]uint32

	pc := 0
	for pc < len(insns) {
		insn := insns[pc]

		switch insn.Class() {
		case ClassLD:
			v, ok := interpLoad(insn, x, mem, args)
			if !ok {
				return 0
			}
			a = v
		case ClassLDX:
			v, ok := interpLoadX(insn, mem, args)
			if !ok {
				return 0
			}
			x = v
		case ClassST:
			mem[insn.K] = a
		case ClassSTX:
			mem[insn.K] = x
		case ClassALU:
			v, ok := interpALU(insn, a, x)
			if !ok {
				return 0
			}
			a = v
		case ClassJMP:
			pc = interpJump(insn, a, x, pc)
			continue
		case ClassRET:
			switch insn.Rval() {
			case RvalA:
				return a
			default:
				return insn.K
			}
		case ClassMISC:
			v, newX, newMem, ok := interpMisc(ctx, insn, a, x, args, mem)
			if !ok {
				return 0
			}
			a, x, mem = v, newX, newMem
		}
		pc++
	}
	return 0
}

func interpLoad(insn Instruction, x uint32, mem [MemWords]uint32, args *Args) (uint32, bool) {
	switch insn.Mode() {
	case ModeIMM:
		return insn.K, true
	case ModeMEM:
		return mem[insn.K], true
	case ModeLEN:
		return args.WireLen, true
	case ModeABS, ModeIND:
		off := insn.K
		if insn.Mode() == ModeIND {
			off += x
		}
		return readPacket(args, off, insn.Width())
	default:
		return 0, false
	}
}

func interpLoadX(insn Instruction, mem [MemWords]uint32, args *Args) (uint32, bool) {
	switch insn.Mode() {
	case ModeIMM:
		return insn.K, true
	case ModeLEN:
		return args.WireLen, true
	case ModeMEM:
		return mem[insn.K], true
	case ModeMSH:
		v, ok := readPacket(args, insn.K, 1)
		if !ok {
			return 0, false
		}
		return 4 * (v & 0xf), true
	default:
		return 0, false
	}
}

func readPacket(args *Args, off, width uint32) (uint32, bool) {
	if uint64(off)+uint64(width) <= uint64(len(args.Pkt)) {
		switch width {
		case 1:
			return uint32(args.Pkt[off]), true
		case 2:
			return uint32(binary.BigEndian.Uint16(args.Pkt[off:])), true
		case 4:
			return binary.BigEndian.Uint32(args.Pkt[off:]), true
		}
	}
	if args.Chain == nil {
		return 0, false
	}
	switch width {
	case 1:
		v, ok := args.Chain.ReadByte(off)
		return uint32(v), ok
	case 2:
		v, ok := args.Chain.ReadHalf(off)
		return uint32(v), ok
	case 4:
		return args.Chain.ReadWord(off)
	}
	return 0, false
}

func interpALU(insn Instruction, a, x uint32) (uint32, bool) {
	if insn.Op() == AluNeg {
		return -a, true
	}
	var operand uint32
	if insn.Src() == SrcX {
		operand = x
	} else {
		operand = insn.K
	}
	switch insn.Op() {
	case AluAdd:
		return a + operand, true
	case AluSub:
		return a - operand, true
	case AluMul:
		return a * operand, true
	case AluDiv:
		if operand == 0 {
			return 0, false
		}
		return a / operand, true
	case AluOr:
		return a | operand, true
	case AluAnd:
		return a & operand, true
	case AluLsh:
		return a << operand, true
	case AluRsh:
		return a >> operand, true
	default:
		return a, true
	}
}

func interpJump(insn Instruction, a, x uint32, pc int) int {
	if insn.Op() == JmpJA {
		return pc + 1 + int(insn.K)
	}

	var operand uint32
	if insn.Src() == SrcX {
		operand = x
	} else {
		operand = insn.K
	}

	var taken bool
	switch insn.Op() {
	case JmpJEQ:
		taken = a == operand
	case JmpJGT:
		taken = a > operand
	case JmpJGE:
		taken = a >= operand
	case JmpJSET:
		taken = a&operand != 0
	}

	if taken {
		return pc + 1 + int(insn.Jt)
	}
	return pc + 1 + int(insn.Jf)
}

func interpMisc(ctx *Context, insn Instruction, a, x uint32, args *Args, mem [MemWords]uint32) (newA, newX uint32, newMem [MemWords]uint32, ok bool) {
	switch insn.MiscOp() {
	case MiscTAX:
		return a, a, mem, true
	case MiscTXA:
		return x, x, mem, true
	case MiscCOP, MiscCOPX:
		idx := insn.K
		if insn.MiscOp() == MiscCOPX {
			idx = x
		}
		if ctx == nil || int(idx) >= ctx.NFuncs() {
			return 0, x, mem, false
		}
		state := &State{Mem: mem, A: a}
		ret := ctx.CopFuncs[idx](ctx, args, state)
		return ret, x, state.Mem, true
	default:
		return a, x, mem, true
	}
}
