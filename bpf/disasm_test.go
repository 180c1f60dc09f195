// Copyright 2017 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bpf

import (
	"strings"
	"testing"
)

func TestDisassemble(t *testing.T) {
	insns := []Instruction{
		{Code: ClassLD | SizeB | ModeABS, K: 14},
		{Code: ClassJMP | JmpJEQ | SrcK, K: 0x0800, Jt: 0, Jf: 1},
		{Code: ClassRET | RvalK, K: 0xffffffff},
		{Code: ClassRET | RvalK, K: 0},
	}

	out := Disassemble(insns)

	for _, want := range []string{"ld [14]", "jeq #2048, jt 0, jf 1", "-> jt=2 jf=3", "ret #4294967295", "ret #0"} {
		if !strings.Contains(out, want) {
			t.Errorf("Disassemble() = %q, want it to contain %q", out, want)
		}
	}
}
