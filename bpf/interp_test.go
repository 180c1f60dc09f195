// Copyright 2017 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bpf

import "testing"

// These mirror the concrete scenarios seeded in §8 of the specification
// literally; package jit repeats the same scenarios in its own table to
// cross-check the JIT against Interpret.
func TestInterpretScenarios(t *testing.T) {
	tests := []struct {
		name  string
		insns []Instruction
		pkt   []byte
		wire  uint32
		want  uint32
	}{
		{"unconditional-ja", []Instruction{
			{Code: ClassJMP | JmpJA, K: 1},
			{Code: ClassRET | RvalK, K: 0},
			{Code: ClassRET | RvalK, K: 0xffffffff},
		}, nil, 0, 0xffffffff},
		{"cond-jump-taken", []Instruction{
			{Code: ClassLD | ModeIMM, K: 2},
			{Code: ClassJMP | JmpJGT | SrcK, K: 1, Jt: 1, Jf: 0},
			{Code: ClassRET | RvalK, K: 7},
			{Code: ClassRET | RvalK, K: 0xffffffff},
		}, nil, 0, 0xffffffff},
		{"byte-read-in-bounds", []Instruction{
			{Code: ClassLD | SizeB | ModeABS, K: 0},
			{Code: ClassRET | RvalA},
		}, []byte{0xAB}, 0, 0xAB},
		{"byte-read-out-of-bounds", []Instruction{
			{Code: ClassLD | SizeB | ModeABS, K: 0},
			{Code: ClassRET | RvalA},
		}, nil, 0, 0},
		{"word-read-in-bounds", []Instruction{
			{Code: ClassLD | SizeW | ModeABS, K: 0},
			{Code: ClassRET | RvalA},
		}, []byte{0x01, 0x02, 0x03, 0x04}, 0, 0x01020304},
		{"word-read-truncated", []Instruction{
			{Code: ClassLD | SizeW | ModeABS, K: 0},
			{Code: ClassRET | RvalA},
		}, []byte{0x01, 0x02, 0x03}, 0, 0},
		{"division-by-zero-x", []Instruction{
			{Code: ClassLDX | ModeIMM, K: 0},
			{Code: ClassLD | ModeIMM, K: 10},
			{Code: ClassALU | AluDiv | SrcX},
			{Code: ClassRET | RvalA},
		}, nil, 0, 0},
		{"load-len", []Instruction{
			{Code: ClassLD | SizeW | ModeLEN},
			{Code: ClassRET | RvalA},
		}, nil, 1500, 1500},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			args := &Args{Pkt: tc.pkt, WireLen: tc.wire}
			if got := Interpret(nil, tc.insns, args); got != tc.want {
				t.Errorf("Interpret() = %#x, want %#x", got, tc.want)
			}
		})
	}
}

func TestInterpretExtensionCall(t *testing.T) {
	ctx := &Context{
		CopFuncs: []HostFunc{
			func(ctx *Context, args *Args, state *State) uint32 {
				return state.A + 1
			},
		},
	}
	insns := []Instruction{
		{Code: ClassLD | ModeIMM, K: 41},
		{Code: ClassMISC | MiscCOP, K: 0},
		{Code: ClassRET | RvalA},
	}
	if got, want := Interpret(ctx, insns, &Args{}), uint32(42); got != want {
		t.Errorf("Interpret() = %d, want %d", got, want)
	}

	// Out-of-range cop index aborts to 0, with or without a context.
	insns[1].K = 7
	if got := Interpret(ctx, insns, &Args{}); got != 0 {
		t.Errorf("Interpret() with out-of-range cop = %d, want 0", got)
	}
	if got := Interpret(nil, insns, &Args{}); got != 0 {
		t.Errorf("Interpret() with nil ctx = %d, want 0", got)
	}
}

// A cop function's writes to state.Mem must be visible to scratch-memory
// loads later in the same program, the same way BPF_COP exposes the live
// scratch array in the original calling convention.
func TestInterpretExtensionCallMutatesScratch(t *testing.T) {
	ctx := &Context{
		CopFuncs: []HostFunc{
			func(ctx *Context, args *Args, state *State) uint32 {
				state.Mem[3] = 0xCAFE
				return state.A
			},
		},
	}
	insns := []Instruction{
		{Code: ClassMISC | MiscCOP, K: 0},
		{Code: ClassLD | ModeMEM, K: 3},
		{Code: ClassRET | RvalA},
	}
	if got, want := Interpret(ctx, insns, &Args{}), uint32(0xCAFE); got != want {
		t.Errorf("Interpret() = %#x, want %#x", got, want)
	}
}
