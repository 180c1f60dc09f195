// Copyright 2019 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package jit compiles classical BPF programs into native amd64
// machine code using a two-pass translator: analyze builds the
// per-instruction bookkeeping (block boundaries, hoisted bounds
// checks, zero-initialization requirements), and the amd64 backend
// walks that analysis to emit code through golang-asm.
package jit

import "github.com/malfaux/bpfjit/bpf"

// Generate validates, analyzes and compiles insns, returning an
// executable Program. ctx may be nil; compilation does not consult it.
// The compiled program takes its extension table from Args.Ctx at each
// Run, and a cop/copx with no table or an out-of-range index makes Run
// return 0.
func Generate(ctx *bpf.Context, insns []bpf.Instruction, opts Options) (*Program, error) {
	if err := bpf.Validate(insns); err != nil {
		return nil, err
	}

	an, err := analyze(insns)
	if err != nil {
		return nil, err
	}

	code, err := emit(an, opts)
	if err != nil {
		return nil, err
	}
	logger.Printf("compiled %d instructions to %d bytes (nscratches=%d ncopfuncs=%d initmask=%#x)",
		len(insns), len(code), an.nscratches, an.ncopfuncs, an.initMask)

	alloc := &MMapAllocator{}
	block, off, err := alloc.AllocateExec(code)
	if err != nil {
		alloc.Close()
		return nil, err
	}

	return &Program{
		block:      block,
		off:        off,
		alloc:      alloc,
		NScratches: an.nscratches,
		NCopFuncs:  an.ncopfuncs,
		InitMask:   uint32(an.initMask),
	}, nil
}
