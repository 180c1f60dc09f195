// Copyright 2019 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package jit

import (
	"testing"

	"github.com/malfaux/bpfjit/bpf"
)

func TestAnalyzeScratchCounts(t *testing.T) {
	tests := []struct {
		name  string
		insns []bpf.Instruction
		want  int
	}{
		{"ret-only", []bpf.Instruction{
			{Code: bpf.ClassRET | bpf.RvalK, K: 0},
		}, 2},
		{"indexed-load-needs-x", []bpf.Instruction{
			{Code: bpf.ClassLD | bpf.SizeB | bpf.ModeIND, K: 0},
			{Code: bpf.ClassRET | bpf.RvalA},
		}, 4},
		{"word-abs-load-needs-third", []bpf.Instruction{
			{Code: bpf.ClassLD | bpf.SizeW | bpf.ModeABS, K: 0},
			{Code: bpf.ClassRET | bpf.RvalA},
		}, 3},
		{"tax-needs-x-scratch", []bpf.Instruction{
			{Code: bpf.ClassLD | bpf.ModeIMM, K: 1},
			{Code: bpf.ClassMISC | bpf.MiscTAX},
			{Code: bpf.ClassRET | bpf.RvalA},
		}, 4},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			an, err := analyze(tc.insns)
			if err != nil {
				t.Fatalf("analyze() error = %v", err)
			}
			if an.nscratches != tc.want {
				t.Errorf("nscratches = %d, want %d", an.nscratches, tc.want)
			}
		})
	}
}

func TestAnalyzeCopFuncCount(t *testing.T) {
	insns := []bpf.Instruction{
		{Code: bpf.ClassMISC | bpf.MiscCOP, K: 0},
		{Code: bpf.ClassMISC | bpf.MiscCOPX},
		{Code: bpf.ClassRET | bpf.RvalA},
	}
	an, err := analyze(insns)
	if err != nil {
		t.Fatalf("analyze() error = %v", err)
	}
	if an.ncopfuncs != 2 {
		t.Errorf("ncopfuncs = %d, want 2", an.ncopfuncs)
	}
}

func TestAnalyzeJumpOutOfRange(t *testing.T) {
	insns := []bpf.Instruction{
		{Code: bpf.ClassJMP | bpf.JmpJA, K: 5},
		{Code: bpf.ClassRET | bpf.RvalK, K: 0},
	}
	if _, err := analyze(insns); err == nil {
		t.Fatal("analyze() = nil error, want JumpOutOfRangeError")
	} else if _, ok := err.(bpf.JumpOutOfRangeError); !ok {
		t.Errorf("analyze() error = %T, want bpf.JumpOutOfRangeError", err)
	}
}

// TestAnalyzeInitMaskUnconditionalRead checks that a program that always
// reads A before writing it requires A in the zero-initialization mask,
// mirroring optimize1's invalid-bit propagation for straight-line code.
func TestAnalyzeInitMaskUnconditionalRead(t *testing.T) {
	insns := []bpf.Instruction{
		{Code: bpf.ClassRET | bpf.RvalA},
	}
	an, err := analyze(insns)
	if err != nil {
		t.Fatalf("analyze() error = %v", err)
	}
	if an.initMask&initABit == 0 {
		t.Errorf("initMask = %#x, want initABit set", an.initMask)
	}
}

// TestAnalyzeInitMaskWriteBeforeRead checks the opposite: A is written
// before the only read of it, so no zero-init is required.
func TestAnalyzeInitMaskWriteBeforeRead(t *testing.T) {
	insns := []bpf.Instruction{
		{Code: bpf.ClassLD | bpf.ModeIMM, K: 7},
		{Code: bpf.ClassRET | bpf.RvalA},
	}
	an, err := analyze(insns)
	if err != nil {
		t.Fatalf("analyze() error = %v", err)
	}
	if an.initMask&initABit != 0 {
		t.Errorf("initMask = %#x, want initABit clear", an.initMask)
	}
}

// TestAnalyzeSafeLengthHoisting checks that only the first packet read of
// a straight-line block records a non-zero checkLength, and that it
// reflects the widest read seen in the block (setCheckLength, safeLength).
func TestAnalyzeSafeLengthHoisting(t *testing.T) {
	insns := []bpf.Instruction{
		{Code: bpf.ClassLD | bpf.SizeB | bpf.ModeABS, K: 0},
		{Code: bpf.ClassLD | bpf.SizeW | bpf.ModeABS, K: 4},
		{Code: bpf.ClassRET | bpf.RvalA},
	}
	an, err := analyze(insns)
	if err != nil {
		t.Fatalf("analyze() error = %v", err)
	}
	if got, want := an.data[0].checkLength, uint32(8); got != want {
		t.Errorf("data[0].checkLength = %d, want %d", got, want)
	}
	if got := an.data[1].checkLength; got != 0 {
		t.Errorf("data[1].checkLength = %d, want 0 (hoisted to first read)", got)
	}
}

// TestAnalyzeUnreachableAfterUnconditionalJump checks that an instruction
// with no predecessor following an unconditional JA is marked unreachable
// and excluded from init-mask propagation.
func TestAnalyzeUnreachableAfterUnconditionalJump(t *testing.T) {
	insns := []bpf.Instruction{
		{Code: bpf.ClassJMP | bpf.JmpJA, K: 1},
		{Code: bpf.ClassRET | bpf.RvalA}, // unreachable: nothing jumps here
		{Code: bpf.ClassRET | bpf.RvalK, K: 1},
	}
	an, err := analyze(insns)
	if err != nil {
		t.Fatalf("analyze() error = %v", err)
	}
	if !an.data[1].unreachable {
		t.Error("data[1].unreachable = false, want true")
	}
	if an.data[2].unreachable {
		t.Error("data[2].unreachable = true, want false")
	}
}
