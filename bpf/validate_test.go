// Copyright 2017 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bpf

import (
	"errors"
	"testing"
)

func TestValidateEmpty(t *testing.T) {
	if err := Validate(nil); !errors.Is(err, ErrEmptyProgram) {
		t.Errorf("Validate(nil) = %v, want ErrEmptyProgram", err)
	}
}

func TestValidateAccepts(t *testing.T) {
	tests := []struct {
		name  string
		insns []Instruction
	}{
		{"ja-then-rets", []Instruction{
			{Code: ClassJMP | JmpJA, K: 1},
			{Code: ClassRET | RvalK, K: 0},
			{Code: ClassRET | RvalK, K: 0xffffffff},
		}},
		{"cond-jump-then-rets", []Instruction{
			{Code: ClassLD | ModeIMM, K: 2},
			{Code: ClassJMP | JmpJGT | SrcK, K: 1, Jt: 1, Jf: 0},
			{Code: ClassRET | RvalK, K: 7},
			{Code: ClassRET | RvalK, K: 0xffffffff},
		}},
		{"abs-byte-read", []Instruction{
			{Code: ClassLD | SizeB | ModeABS, K: 0},
			{Code: ClassRET | RvalA},
		}},
		{"division-by-x", []Instruction{
			{Code: ClassLDX | ModeIMM, K: 0},
			{Code: ClassLD | ModeIMM, K: 10},
			{Code: ClassALU | AluDiv | SrcX},
			{Code: ClassRET | RvalA},
		}},
		{"scratch-roundtrip", []Instruction{
			{Code: ClassLD | ModeIMM, K: 5},
			{Code: ClassST, K: 0},
			{Code: ClassLD | ModeMEM, K: 0},
			{Code: ClassRET | RvalA},
		}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := Validate(tc.insns); err != nil {
				t.Errorf("Validate(%v) = %v, want nil", tc.insns, err)
			}
		})
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name  string
		insns []Instruction
		want  error
	}{
		{"jump-out-of-range", []Instruction{
			{Code: ClassJMP | JmpJA, K: 5},
			{Code: ClassRET | RvalK, K: 0},
		}, JumpOutOfRangeError{Index: 0}},
		{"ret-x", []Instruction{
			{Code: ClassRET | RvalX},
		}, ErrReturnByRegister},
		{"scratch-index-st", []Instruction{
			{Code: ClassST, K: MemWords},
			{Code: ClassRET | RvalK},
		}, ScratchIndexError{Index: 0, K: MemWords}},
		{"scratch-index-ld-mem", []Instruction{
			{Code: ClassLD | ModeMEM, K: 100},
			{Code: ClassRET | RvalA},
		}, ScratchIndexError{Index: 0, K: 100}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.insns)
			if err == nil || err.Error() != tc.want.Error() {
				t.Errorf("Validate(%v) = %v, want %v", tc.insns, err, tc.want)
			}
		})
	}
}
