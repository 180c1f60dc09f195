// Copyright 2017 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bpf

import (
	"fmt"
	"strings"
)

// Disassemble renders a program as one line per instruction, each
// prefixed with its absolute index. Instruction.String shows a JMP's raw
// relative displacements, so each JMP is followed by an extra "->" line
// giving its targets as absolute indices (i+1+displacement) that can be
// cross referenced by eye. It performs no validation of its own: a
// target outside the program is printed as computed, without comment
// (Validate is the place that rejects those).
func Disassemble(insns []Instruction) string {
	var b strings.Builder
	for i, insn := range insns {
		fmt.Fprintf(&b, "%4d  %s\n", i, insn)
		if insn.Class() == ClassJMP {
			annotateJumpTargets(&b, i, insn)
		}
	}
	return b.String()
}

func annotateJumpTargets(b *strings.Builder, i int, insn Instruction) {
	if insn.Op() == JmpJA {
		fmt.Fprintf(b, "      -> %d\n", i+1+int(insn.K))
		return
	}
	fmt.Fprintf(b, "      -> jt=%d jf=%d\n", i+1+int(insn.Jt), i+1+int(insn.Jf))
}
