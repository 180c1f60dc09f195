// Copyright 2019 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package jit

import (
	"unsafe"

	asm "github.com/twitchyliquid64/golang-asm"
	"github.com/twitchyliquid64/golang-asm/obj"
	"github.com/twitchyliquid64/golang-asm/obj/x86"

	"github.com/malfaux/bpfjit/bpf"
)

// Field offsets within frame, computed once against the struct layout
// rather than hand counted — see native.go for the field list.
const (
	offBuf     = unsafe.Offsetof(frame{}.buf)
	offBufLen  = unsafe.Offsetof(frame{}.bufLen)
	offWireLen = unsafe.Offsetof(frame{}.wireLen)
	offA       = unsafe.Offsetof(frame{}.a)
	offX       = unsafe.Offsetof(frame{}.x)
	offMem     = unsafe.Offsetof(frame{}.mem)
	offCopFn   = unsafe.Offsetof(frame{}.copFn)
	offChainFn = unsafe.Offsetof(frame{}.chainFn)
	offIdx     = unsafe.Offsetof(frame{}.idx)
	offKind    = unsafe.Offsetof(frame{}.kind)
	offOK      = unsafe.Offsetof(frame{}.ok)
)

// Registers reserved for the lifetime of the generated function.
// frameReg is never clobbered by straight-line codegen; it is, however,
// not callee-saved in the call-bridge's own convention, so every call
// site reloads it from the stack slot it was passed in.
const (
	frameReg = x86.REG_DI
	tmp0     = x86.REG_AX
	tmp1     = x86.REG_CX
	tmp2     = x86.REG_DX
	tmp3     = x86.REG_BX
	tmp4     = x86.REG_SI
	fnReg    = x86.REG_R8
)

// AMD64Backend is the only native backend this package implements.
type AMD64Backend struct {
	opts Options
}

func regAddr(reg int16) obj.Addr {
	return obj.Addr{Type: obj.TYPE_REG, Reg: reg}
}

func constAddr(v int64) obj.Addr {
	return obj.Addr{Type: obj.TYPE_CONST, Offset: v}
}

// emitter carries the mutable state of a single emit call: the
// golang-asm builder, the jump-patching bookkeeping and the emitted
// abort targets that feed the shared return-0 tail.
type emitter struct {
	builder *asm.Builder
	opts    Options
	an      *analysis

	zeroJumps []*obj.Prog // every abort branches here, patched once at the end
}

func (e *emitter) prog() *obj.Prog { return e.builder.NewProg() }

func (e *emitter) add(as obj.As, from, to obj.Addr) *obj.Prog {
	p := e.prog()
	p.As = as
	p.From = from
	p.To = to
	e.builder.AddInstruction(p)
	return p
}

func (e *emitter) loadFrame32(off uintptr, reg int16) {
	e.add(x86.AMOVL, obj.Addr{Type: obj.TYPE_MEM, Reg: frameReg, Offset: int64(off)}, regAddr(reg))
}

func (e *emitter) storeFrame32(reg int16, off uintptr) {
	e.add(x86.AMOVL, regAddr(reg), obj.Addr{Type: obj.TYPE_MEM, Reg: frameReg, Offset: int64(off)})
}

func (e *emitter) loadFrame64(off uintptr, reg int16) {
	e.add(x86.AMOVQ, obj.Addr{Type: obj.TYPE_MEM, Reg: frameReg, Offset: int64(off)}, regAddr(reg))
}

// emit runs the second (emission) pass over an analysis produced by
// analyze, under opts, and returns the finished machine code, ready to
// be handed to an allocator.
func emit(an *analysis, opts Options) ([]byte, error) {
	if opts.Mode == ModeKernel {
		assert(an.initMask&(initABit-1) == 0,
			"kernel-mode program reads a scratch cell before any write")
	}

	b, err := asm.NewBuilder("amd64", len(an.insns)*6+8)
	if err != nil {
		return nil, &AssemblerError{Stage: "assemble", Err: err}
	}
	e := &emitter{builder: b, opts: opts, an: an}

	for i, insn := range an.insns {
		d := &an.data[i]
		if len(d.incoming) > 0 {
			label := e.prog()
			label.As = obj.ANOP
			e.builder.AddInstruction(label)
			for _, node := range d.incoming {
				if node.jump != nil {
					node.jump.To.Val = label
				}
			}
		}
		if d.unreachable {
			continue
		}

		switch insn.Class() {
		case bpf.ClassLD:
			e.emitLD(i, insn)
		case bpf.ClassLDX:
			e.emitLDX(i, insn)
		case bpf.ClassST:
			e.storeFrame32(tmp0loadA(e), offMemSlot(insn.K))
		case bpf.ClassSTX:
			e.emitSTX(insn)
		case bpf.ClassALU:
			e.emitALU(insn)
		case bpf.ClassJMP:
			e.emitJMP(i, insn)
		case bpf.ClassRET:
			e.emitRET(insn)
		case bpf.ClassMISC:
			e.emitMISC(insn)
		}
	}

	zeroLabel := e.prog()
	zeroLabel.As = obj.ANOP
	e.builder.AddInstruction(zeroLabel)
	e.add(x86.AMOVL, constAddr(0), regAddr(tmp0))
	ret := e.prog()
	ret.As = obj.ARET
	e.builder.AddInstruction(ret)
	for _, j := range e.zeroJumps {
		j.To.Val = zeroLabel
	}

	return e.builder.Assemble(), nil
}

func offMemSlot(k uint32) uintptr { return offMem + uintptr(k)*4 }

// tmp0loadA loads frame.a into tmp0 and returns tmp0, a small helper to
// keep the ClassST case above on one line.
func tmp0loadA(e *emitter) int16 {
	e.loadFrame32(offA, tmp0)
	return tmp0
}

func (e *emitter) emitLD(i int, insn bpf.Instruction) {
	switch insn.Mode() {
	case bpf.ModeIMM:
		e.add(x86.AMOVL, constAddr(int64(insn.K)), regAddr(tmp0))
		e.storeFrame32(tmp0, offA)
	case bpf.ModeLEN:
		e.loadFrame32(offWireLen, tmp0)
		e.storeFrame32(tmp0, offA)
	case bpf.ModeMEM:
		e.loadFrame32(offMemSlot(insn.K), tmp0)
		e.storeFrame32(tmp0, offA)
	case bpf.ModeABS, bpf.ModeIND:
		e.emitPacketRead(i, insn)
	}
}

func (e *emitter) emitLDX(i int, insn bpf.Instruction) {
	switch insn.Mode() {
	case bpf.ModeIMM:
		e.add(x86.AMOVL, constAddr(int64(insn.K)), regAddr(tmp0))
		e.storeFrame32(tmp0, offX)
	case bpf.ModeLEN:
		e.loadFrame32(offWireLen, tmp0)
		e.storeFrame32(tmp0, offX)
	case bpf.ModeMEM:
		e.loadFrame32(offMemSlot(insn.K), tmp0)
		e.storeFrame32(tmp0, offX)
	case bpf.ModeMSH:
		// X = (P[k:1] & 0x0f) << 2
		if needLen := e.an.data[i].checkLength; needLen > 0 && e.opts.Mode != ModeKernel {
			e.loadFrame32(offBufLen, tmp0)
			e.add(x86.ACMPL, regAddr(tmp0), constAddr(int64(needLen)))
			jb := e.prog()
			jb.As = x86.AJCS // below: bufLen < needLen
			jb.To.Type = obj.TYPE_BRANCH
			e.builder.AddInstruction(jb)
			e.zeroJumps = append(e.zeroJumps, jb)
		}
		e.emitLoadByteAt(int64(insn.K), tmp0)
		e.add(x86.AANDL, constAddr(0x0f), regAddr(tmp0))
		e.add(x86.ASHLL, constAddr(2), regAddr(tmp0))
		e.storeFrame32(tmp0, offX)
	}
}

func (e *emitter) emitSTX(insn bpf.Instruction) {
	e.loadFrame32(offX, tmp0)
	e.storeFrame32(tmp0, offMemSlot(insn.K))
}

// emitPacketRead handles LD [k], LD [x+k] and the safe-length bounds
// check that guards them. In userspace mode the check is hoisted to the
// first read of a block (checkLength, computed by analyze), and an
// LD [x+k] additionally checks x+k+width itself, since x is only known
// at run time; in kernel
// mode every read is checked individually and a failed check triggers a
// ChainReader fallback instead of an immediate abort (§4.7).
func (e *emitter) emitPacketRead(i int, insn bpf.Instruction) {
	width, _, _ := insn.IsPacketRead()

	// offset = k, or k+x for BPF_IND
	offsetReg := int16(tmp1)
	e.add(x86.AMOVL, constAddr(int64(insn.K)), regAddr(offsetReg))
	if insn.Mode() == bpf.ModeIND {
		e.loadFrame32(offX, tmp2)
		e.add(x86.AADDL, regAddr(tmp2), regAddr(offsetReg))
	}

	needLen := e.an.data[i].checkLength
	switch e.opts.Mode {
	case ModeKernel:
		e.emitBoundsCheckedReadKernel(offsetReg, uint32(width))
	default:
		if needLen > 0 {
			e.loadFrame32(offBufLen, tmp0)
			e.add(x86.ACMPL, regAddr(tmp0), constAddr(int64(needLen)))
			jb := e.prog()
			jb.As = x86.AJCS // below: bufLen < needLen
			jb.To.Type = obj.TYPE_BRANCH
			e.builder.AddInstruction(jb)
			e.zeroJumps = append(e.zeroJumps, jb)
		}
		if insn.Mode() == bpf.ModeIND {
			// offset+width in 64 bits, so the sum cannot wrap.
			e.add(x86.AMOVL, regAddr(offsetReg), regAddr(tmp3))
			e.add(x86.AADDQ, constAddr(int64(width)), regAddr(tmp3))
			e.loadFrame32(offBufLen, tmp0)
			e.add(x86.ACMPQ, regAddr(tmp0), regAddr(tmp3))
			jx := e.prog()
			jx.As = x86.AJCS // below: bufLen < offset+width
			jx.To.Type = obj.TYPE_BRANCH
			e.builder.AddInstruction(jx)
			e.zeroJumps = append(e.zeroJumps, jx)
		}
		e.emitInlineRead(offsetReg, width)
		e.storeFrame32(tmp0, offA)
	}
}

// emitInlineRead loads `width` bytes at frame.buf+offsetReg into tmp0,
// converting from network (big-endian) to host byte order.
func (e *emitter) emitInlineRead(offsetReg int16, width uint32) {
	e.loadFrame64(offBuf, tmp4)
	switch width {
	case 1:
		e.add(x86.AMOVBLZX, obj.Addr{Type: obj.TYPE_MEM, Reg: tmp4, Index: offsetReg, Scale: 1}, regAddr(tmp0))
	case 2:
		e.add(x86.AMOVWLZX, obj.Addr{Type: obj.TYPE_MEM, Reg: tmp4, Index: offsetReg, Scale: 1}, regAddr(tmp0))
		e.add(x86.AROLW, constAddr(8), regAddr(tmp0))
	case 4:
		e.add(x86.AMOVL, obj.Addr{Type: obj.TYPE_MEM, Reg: tmp4, Index: offsetReg, Scale: 1}, regAddr(tmp0))
		e.add(x86.ABSWAPL, obj.Addr{}, regAddr(tmp0))
	}
}

func (e *emitter) emitLoadByteAt(k int64, dst int16) {
	e.loadFrame64(offBuf, tmp4)
	e.add(x86.AMOVBLZX, obj.Addr{Type: obj.TYPE_MEM, Reg: tmp4, Offset: k}, regAddr(dst))
}

// emitBoundsCheckedReadKernel checks this single read against bufLen and,
// on failure, falls back to a ChainReader call instead of aborting.
func (e *emitter) emitBoundsCheckedReadKernel(offsetReg int16, width uint32) {
	// want := offset + width in 64 bits (no wrap), compared against bufLen.
	e.add(x86.AMOVL, regAddr(offsetReg), regAddr(tmp3))
	e.add(x86.AADDQ, constAddr(int64(width)), regAddr(tmp3))
	e.loadFrame32(offBufLen, tmp0)
	e.add(x86.ACMPQ, regAddr(tmp0), regAddr(tmp3))
	fallback := e.prog()
	fallback.As = x86.AJCS // bufLen < want
	fallback.To.Type = obj.TYPE_BRANCH
	e.builder.AddInstruction(fallback)

	e.emitInlineRead(offsetReg, width)
	e.storeFrame32(tmp0, offA)
	done := e.prog()
	done.As = obj.AJMP
	done.To.Type = obj.TYPE_BRANCH
	e.builder.AddInstruction(done)

	fallbackLabel := e.prog()
	fallbackLabel.As = obj.ANOP
	e.builder.AddInstruction(fallbackLabel)
	fallback.To.Val = fallbackLabel

	var kind int64
	switch width {
	case 1:
		kind = 2
	case 2:
		kind = 1
	default:
		kind = 0
	}
	e.storeFrame32(offsetReg, offIdx)
	e.add(x86.AMOVL, constAddr(kind), regAddr(tmp0))
	e.storeFrame32(tmp0, offKind)
	e.emitCallBridge(offChainFn)
	e.emitCopAbortCheck()

	doneLabel := e.prog()
	doneLabel.As = obj.ANOP
	e.builder.AddInstruction(doneLabel)
	done.To.Val = doneLabel
}

// emitCallBridge calls through the function pointer stored at frame
// offset fnOff, passing frameReg as its sole argument per the stack
// convention copBridgeEntry/chainBridgeEntry expect, then reloads
// frameReg (the callee's own ABI is not required to preserve it).
func (e *emitter) emitCallBridge(fnOff uintptr) {
	e.loadFrame64(fnOff, fnReg)
	e.add(x86.ASUBQ, constAddr(8), regAddr(x86.REG_SP))
	e.add(x86.AMOVQ, regAddr(frameReg), obj.Addr{Type: obj.TYPE_MEM, Reg: x86.REG_SP})
	call := e.prog()
	call.As = obj.ACALL
	call.To = regAddr(fnReg)
	e.builder.AddInstruction(call)
	e.add(x86.AMOVQ, obj.Addr{Type: obj.TYPE_MEM, Reg: x86.REG_SP}, regAddr(frameReg))
	e.add(x86.AADDQ, constAddr(8), regAddr(x86.REG_SP))
}

func (e *emitter) emitALU(insn bpf.Instruction) {
	if insn.Op() == bpf.AluNeg {
		e.loadFrame32(offA, tmp0)
		p := e.prog()
		p.As = x86.ANEGL
		p.To = regAddr(tmp0)
		e.builder.AddInstruction(p)
		e.storeFrame32(tmp0, offA)
		return
	}

	if insn.Op() == bpf.AluDiv {
		e.emitDivide(insn)
		return
	}

	e.loadFrame32(offA, tmp0)
	var rhs obj.Addr
	if insn.Src() == bpf.SrcK {
		rhs = constAddr(int64(insn.K))
	} else {
		e.loadFrame32(offX, tmp1)
		rhs = regAddr(tmp1)
	}

	switch insn.Op() {
	case bpf.AluAdd:
		e.add(x86.AADDL, rhs, regAddr(tmp0))
	case bpf.AluSub:
		e.add(x86.ASUBL, rhs, regAddr(tmp0))
	case bpf.AluOr:
		e.add(x86.AORL, rhs, regAddr(tmp0))
	case bpf.AluAnd:
		e.add(x86.AANDL, rhs, regAddr(tmp0))
	case bpf.AluLsh:
		if insn.Src() == bpf.SrcX {
			e.add(x86.AMOVL, regAddr(tmp1), regAddr(x86.REG_CX))
			e.add(x86.ASHLL, regAddr(x86.REG_CX), regAddr(tmp0))
		} else {
			e.add(x86.ASHLL, rhs, regAddr(tmp0))
		}
	case bpf.AluRsh:
		if insn.Src() == bpf.SrcX {
			e.add(x86.AMOVL, regAddr(tmp1), regAddr(x86.REG_CX))
			e.add(x86.ASHRL, regAddr(x86.REG_CX), regAddr(tmp0))
		} else {
			e.add(x86.ASHRL, rhs, regAddr(tmp0))
		}
	case bpf.AluMul:
		e.add(x86.AMOVL, rhs, regAddr(x86.REG_CX))
		p := e.prog()
		p.As = x86.AMULL
		p.From = regAddr(x86.REG_CX)
		e.builder.AddInstruction(p)
	}
	e.storeFrame32(tmp0, offA)
}

func (e *emitter) emitDivide(insn bpf.Instruction) {
	var divisor int16 = x86.REG_CX
	if insn.Src() == bpf.SrcK {
		e.add(x86.AMOVL, constAddr(int64(insn.K)), regAddr(divisor))
	} else {
		e.loadFrame32(offX, divisor)
		e.add(x86.ACMPL, regAddr(divisor), constAddr(0))
		jz := e.prog()
		jz.As = x86.AJEQ
		jz.To.Type = obj.TYPE_BRANCH
		e.builder.AddInstruction(jz)
		e.zeroJumps = append(e.zeroJumps, jz)
	}
	e.loadFrame32(offA, x86.REG_AX)
	e.add(x86.AXORL, regAddr(x86.REG_DX), regAddr(x86.REG_DX))
	p := e.prog()
	p.As = x86.ADIVL
	p.From = regAddr(divisor)
	e.builder.AddInstruction(p)
	e.storeFrame32(x86.REG_AX, offA)
}

func (e *emitter) emitJMP(i int, insn bpf.Instruction) {
	d := &e.an.data[i]

	// ja, or a conditional jump whose arms coincide (analyze then links
	// only jtf[0]): a single unconditional jump.
	if insn.Op() == bpf.JmpJA || insn.Jt == insn.Jf {
		p := e.prog()
		p.As = obj.AJMP
		p.To.Type = obj.TYPE_BRANCH
		e.builder.AddInstruction(p)
		d.jtf[0].jump = p
		return
	}

	e.loadFrame32(offA, tmp0)
	var rhs obj.Addr
	if insn.Src() == bpf.SrcK {
		rhs = constAddr(int64(insn.K))
	} else {
		e.loadFrame32(offX, tmp1)
		rhs = regAddr(tmp1)
	}

	var taken *obj.Prog
	if insn.Op() == bpf.JmpJSET {
		e.add(x86.ATESTL, rhs, regAddr(tmp0))
		taken = e.prog()
		taken.As = x86.AJNE
	} else {
		e.add(x86.ACMPL, regAddr(tmp0), rhs)
		taken = e.prog()
		switch insn.Op() {
		case bpf.JmpJEQ:
			taken.As = x86.AJEQ
		case bpf.JmpJGT:
			taken.As = x86.AJHI
		case bpf.JmpJGE:
			taken.As = x86.AJCC
		}
	}
	taken.To.Type = obj.TYPE_BRANCH
	e.builder.AddInstruction(taken)
	d.jtf[0].jump = taken

	notTaken := e.prog()
	notTaken.As = obj.AJMP
	notTaken.To.Type = obj.TYPE_BRANCH
	e.builder.AddInstruction(notTaken)
	d.jtf[1].jump = notTaken
}

func (e *emitter) emitRET(insn bpf.Instruction) {
	if insn.Rval() == bpf.RvalA {
		e.loadFrame32(offA, tmp0)
	} else {
		e.add(x86.AMOVL, constAddr(int64(insn.K)), regAddr(tmp0))
	}
	ret := e.prog()
	ret.As = obj.ARET
	e.builder.AddInstruction(ret)
}

func (e *emitter) emitMISC(insn bpf.Instruction) {
	switch insn.MiscOp() {
	case bpf.MiscTAX:
		e.loadFrame32(offA, tmp0)
		e.storeFrame32(tmp0, offX)
	case bpf.MiscTXA:
		e.loadFrame32(offX, tmp0)
		e.storeFrame32(tmp0, offA)
	case bpf.MiscCOP:
		e.add(x86.AMOVL, constAddr(int64(insn.K)), regAddr(tmp0))
		e.storeFrame32(tmp0, offIdx)
		e.emitCallBridge(offCopFn)
		e.emitCopAbortCheck()
	case bpf.MiscCOPX:
		e.loadFrame32(offX, tmp0)
		e.storeFrame32(tmp0, offIdx)
		e.emitCallBridge(offCopFn)
		e.emitCopAbortCheck()
	}
}

func (e *emitter) emitCopAbortCheck() {
	e.loadFrame32(offOK, tmp0)
	e.add(x86.ACMPL, regAddr(tmp0), constAddr(0))
	abort := e.prog()
	abort.As = x86.AJEQ
	abort.To.Type = obj.TYPE_BRANCH
	e.builder.AddInstruction(abort)
	e.zeroJumps = append(e.zeroJumps, abort)
}
