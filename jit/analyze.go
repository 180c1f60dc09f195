// Copyright 2019 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package jit

import (
	"math"

	"github.com/twitchyliquid64/golang-asm/obj"

	"github.com/malfaux/bpfjit/bpf"
)

// initMask is a bitset over {A, X, M[0..MemWords)}: the slots the
// analyzer has proven may be read before any instruction on some path
// writes them. The emitter emits no zeroing code of its own: every slot
// lives in the frame Run zero-values before each call. The mask is
// reported as Program.InitMask.
type initMask uint32

const (
	initABit initMask = 1 << bpf.MemWords
	initXBit initMask = 1 << (bpf.MemWords + 1)
)

func memBit(k uint32) initMask { return 1 << initMask(k) }

// jumpNode is a (patchable handle, safe_length) pair linked into a jump
// target's incoming list. It is created here with a nil handle; the
// emitter assigns handle when it visits the source instruction and
// resolves it to a label when it visits the target.
type jumpNode struct {
	jump       *obj.Prog
	safeLength uint32
}

// instData is the per-instruction analysis record.
type instData struct {
	incoming []*jumpNode // jumps that target this instruction

	// jtf holds the (at most two) jump nodes sourced at this
	// instruction, used only when this instruction is a two-way JMP:
	// jtf[0] is the taken-branch node, jtf[1] the not-taken one. Their
	// addresses are stable for the analysis's lifetime (data is never
	// regrown after analyze allocates it), so other instructions'
	// incoming lists can safely hold pointers into this array.
	jtf [2]jumpNode

	// checkLength is non-zero only on the first packet-read
	// instruction of a block; see setCheckLength.
	checkLength uint32

	invalid     initMask
	unreachable bool
}

// analysis is the output of analyze: the per-instruction records plus the
// three summary values the emitter's prologue needs.
type analysis struct {
	insns      []bpf.Instruction
	data       []instData
	initMask   initMask
	nscratches int
	ncopfuncs  int
}

// analyze performs the single forward scan described in §4.1: it
// partitions insns into blocks, computes each block's safe packet
// length, tracks which abstract-machine slots need zero-initialization,
// marks unreachable instructions and counts the scratch registers and
// extension-call sites the emitter must plan for.
//
// insns is assumed to have passed bpf.Validate; analyze re-derives the
// jump-range check anyway (cheap, and it is the one failure mode that
// would otherwise corrupt the incoming-jump bookkeeping below).
func analyze(insns []bpf.Instruction) (*analysis, error) {
	n := len(insns)
	if n > math.MaxInt32 {
		return nil, ErrProgramTooLarge
	}

	an := &analysis{
		insns:      insns,
		data:       make([]instData, n),
		nscratches: 2,
	}

	var safeLength uint32
	invalid := ^initMask(0)
	unreachable := false
	firstRead := -1

	for i := 0; i < n; i++ {
		d := &an.data[i]

		jumpDst := len(d.incoming) > 0
		breakBlock := insns[i].Class() == bpf.ClassMISC &&
			(insns[i].MiscOp() == bpf.MiscCOP || insns[i].MiscOp() == bpf.MiscCOPX)

		if jumpDst || (breakBlock && !unreachable) {
			unreachable = false
			setCheckLength(insns, an.data, firstRead, i, safeLength)
			firstRead = -1
			if jumpDst {
				safeLength = getSafeLength(d.incoming)
			}
		}

		d.unreachable = unreachable
		if unreachable {
			continue
		}

		invalid |= d.invalid

		if _, sl, ok := insns[i].IsPacketRead(); ok {
			if firstRead == -1 {
				firstRead = i
			}
			if sl > safeLength {
				safeLength = sl
			}
		}

		switch insns[i].Class() {
		case bpf.ClassRET:
			if insns[i].Rval() == bpf.RvalA {
				an.initMask |= invalid & initABit
			}
			unreachable = true

		case bpf.ClassLD:
			switch insns[i].Mode() {
			case bpf.ModeIND, bpf.ModeABS:
				if insns[i].Mode() == bpf.ModeIND && an.nscratches < 4 {
					an.nscratches = 4 // uses X
				}
				if an.nscratches < 3 && insns[i].Width() == 4 {
					an.nscratches = 3 // uses a second temporary
				}
			}
			if insns[i].Mode() == bpf.ModeIND {
				an.initMask |= invalid & initXBit
			}
			if insns[i].Mode() == bpf.ModeMEM && insns[i].K < bpf.MemWords {
				an.initMask |= invalid & memBit(insns[i].K)
			}
			invalid &^= initABit

		case bpf.ClassLDX:
			if an.nscratches < 4 {
				an.nscratches = 4 // uses X
			}
			if insns[i].Mode() == bpf.ModeMEM && insns[i].K < bpf.MemWords {
				an.initMask |= invalid & memBit(insns[i].K)
			}
			invalid &^= initXBit

		case bpf.ClassST:
			an.initMask |= invalid & initABit
			if insns[i].K < bpf.MemWords {
				invalid &^= memBit(insns[i].K)
			}

		case bpf.ClassSTX:
			if an.nscratches < 4 {
				an.nscratches = 4 // uses X
			}
			an.initMask |= invalid & initXBit
			if insns[i].K < bpf.MemWords {
				invalid &^= memBit(insns[i].K)
			}

		case bpf.ClassALU:
			an.initMask |= invalid & initABit
			if insns[i].Op() != bpf.AluNeg && insns[i].Src() == bpf.SrcX {
				an.initMask |= invalid & initXBit
				if an.nscratches < 4 {
					an.nscratches = 4
				}
			}
			invalid &^= initABit

		case bpf.ClassMISC:
			switch insns[i].MiscOp() {
			case bpf.MiscTAX:
				if an.nscratches < 4 {
					an.nscratches = 4
				}
				an.initMask |= invalid & initABit
				invalid &^= initXBit

			case bpf.MiscTXA:
				if an.nscratches < 4 {
					an.nscratches = 4
				}
				an.initMask |= invalid & initXBit
				invalid &^= initABit

			case bpf.MiscCOPX:
				if an.nscratches < 4 {
					an.nscratches = 4
				}
				fallthrough
			case bpf.MiscCOP:
				if an.nscratches < 3 {
					an.nscratches = 3
				}
				an.ncopfuncs++
				an.initMask |= invalid & initABit
				invalid &^= initABit
			}

		case bpf.ClassJMP:
			var jt, jf uint32
			if insns[i].Op() == bpf.JmpJA {
				jt, jf = insns[i].K, insns[i].K
			} else {
				jt, jf = uint32(insns[i].Jt), uint32(insns[i].Jf)
			}

			remaining := uint32(n - (i + 1))
			if jt >= remaining || jf >= remaining {
				return nil, bpf.JumpOutOfRangeError{Index: i}
			}

			if jt > 0 && jf > 0 {
				unreachable = true
			}

			jtIdx := i + 1 + int(jt)
			jfIdx := i + 1 + int(jf)

			d.jtf[0].safeLength = safeLength
			an.data[jtIdx].incoming = append(an.data[jtIdx].incoming, &d.jtf[0])

			if jfIdx != jtIdx {
				d.jtf[1].safeLength = safeLength
				an.data[jfIdx].incoming = append(an.data[jfIdx].incoming, &d.jtf[1])
			}

			an.data[jfIdx].invalid |= invalid
			an.data[jtIdx].invalid |= invalid
			invalid = 0
		}
	}

	setCheckLength(insns, an.data, firstRead, n, safeLength)

	return an, nil
}

// setCheckLength assigns length to the first "read from packet"
// instruction in [from, to) and zeroes the check_length of any later
// reads in the same range, so the emitter produces exactly one bounds
// check per block (§4.1, §8 "safe-length hoisting"). from == -1 means the
// block contained no reads and is a no-op.
func setCheckLength(insns []bpf.Instruction, data []instData, from, to int, length uint32) {
	if from < 0 {
		return
	}
	for ; from < to; from++ {
		if _, _, ok := insns[from].IsPacketRead(); ok {
			data[from].checkLength = length
			length = 0
		}
	}
}

// getSafeLength computes the join (greatest lower bound, i.e. minimum)
// of a jump target's incoming predecessors' safe lengths: a block can
// only assume as much as the least favorable predecessor guaranteed.
func getSafeLength(incoming []*jumpNode) uint32 {
	rv := uint32(math.MaxUint32)
	for _, jmp := range incoming {
		if jmp.safeLength < rv {
			rv = jmp.safeLength
		}
	}
	return rv
}
