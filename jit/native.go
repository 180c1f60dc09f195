// Copyright 2019 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package jit

import (
	"unsafe"

	"github.com/malfaux/bpfjit/bpf"
)

// frame is the struct the generated machine code receives a pointer to
// in DI on entry and operates on directly for the lifetime of the call.
// The abstract machine's A/X/M state lives here rather than in CPU
// registers, so a cop/copx or chain-read call-out never needs a
// spill/reload dance around the call: the memory already holds the
// truth.
//
// backend_amd64.go indexes into it with unsafe.Offsetof, not
// hand-computed constants, so the offsets follow the field order.
type frame struct {
	buf     uintptr // &args.Pkt[0], 0 if empty
	bufLen  uint32
	wireLen uint32
	a       uint32
	x       uint32
	mem     [bpf.MemWords]uint32
	ctx     unsafe.Pointer // *bpf.Context, nil if none was supplied
	args    unsafe.Pointer // *bpf.Args, for Chain dispatch
	copFn   uintptr        // funcPC(copBridgeEntry)
	chainFn uintptr        // funcPC(chainBridgeEntry)
	idx     uint32         // scratch in-arg to a bridge call
	kind    uint32         // scratch in-arg: read width for chainBridgeEntry
	ok      uint32         // scratch out-arg: 1 on success, 0 on abort
}

// Args supplies a single invocation's packet and host environment. It
// plays the same role jit.Args plays in SPEC_FULL.md §6 and mirrors
// bpf.Args so the interpreter and the compiled code see identical
// input.
type Args struct {
	Pkt     []byte
	WireLen uint32
	Chain   bpf.ChainReader
	Ctx     *bpf.Context
}

// Program is a compiled, runnable BPF program. The zero value is not
// usable; obtain one from Generate.
type Program struct {
	block *execBlock
	off   uint32

	NScratches int
	NCopFuncs  int
	InitMask   uint32

	alloc *MMapAllocator
}

// Close releases the executable memory backing p. After Close, Run must
// not be called again.
func (p *Program) Close() error {
	if p.alloc == nil {
		return nil
	}
	return p.alloc.Close()
}

// Run executes the compiled program against args and returns the verdict
// word, exactly as the classical BPF abstract machine's RET would: 0
// means reject/drop, any other value is the number of bytes of the
// packet the caller should keep.
func (p *Program) Run(args *Args) uint32 {
	var fr frame
	if len(args.Pkt) > 0 {
		fr.buf = uintptr(unsafe.Pointer(&args.Pkt[0]))
		fr.bufLen = uint32(len(args.Pkt))
	}
	fr.wireLen = args.WireLen
	fr.ctx = unsafe.Pointer(args.Ctx)
	fr.args = unsafe.Pointer(args)
	fr.copFn = funcPC(copBridgeEntry)
	fr.chainFn = funcPC(chainBridgeEntry)

	entry := p.block.entryAt(p.off)
	return jitcall(entry, unsafe.Pointer(&fr))
}

// jitcall is implemented in jitcall_amd64.s: it loads frame into DI and
// calls entry, returning whatever the generated code left in AX. It
// exists because Go cannot call a bare function pointer directly; it
// needs an assembly shim to set up the call.
//
//go:noescape
func jitcall(entry uintptr, frame unsafe.Pointer) uint32

// copBridgeEntry and chainBridgeEntry are called by the JIT'd code
// through the function pointers stashed in frame.copFn/frame.chainFn.
// They are invoked via a small ABI of their own (frame pointer in, a
// uint32 status in frame.ok plus any output in frame.a or frame.mem) so
// the call site in the generated code doesn't need to know Go's own
// calling convention — see copbridge_amd64.s / chainbridge_amd64.s.
func bridgeCop(f *frame) {
	ctx := (*bpf.Context)(f.ctx)
	args := (*Args)(f.args)
	if ctx == nil || int(f.idx) >= ctx.NFuncs() {
		f.ok = 0
		return
	}
	state := &bpf.State{Mem: f.mem, A: f.a}
	bargs := &bpf.Args{Pkt: args.Pkt, WireLen: args.WireLen, Chain: args.Chain}
	f.a = ctx.CopFuncs[f.idx](ctx, bargs, state)
	f.mem = state.Mem
	f.ok = 1
}

// bridgeChainRead reads one word/half/byte (selected by f.kind: 0, 1,
// 2 respectively) at offset f.idx from args.Chain, for the kernel-mode
// segmented-buffer fallback described in SPEC_FULL.md §4.7.
func bridgeChainRead(f *frame) {
	args := (*Args)(f.args)
	if args.Chain == nil {
		f.ok = 0
		return
	}
	var v uint32
	var ok bool
	switch f.kind {
	case 0:
		v, ok = args.Chain.ReadWord(f.idx)
	case 1:
		var h uint16
		h, ok = args.Chain.ReadHalf(f.idx)
		v = uint32(h)
	case 2:
		var b uint8
		b, ok = args.Chain.ReadByte(f.idx)
		v = uint32(b)
	}
	if !ok {
		f.ok = 0
		return
	}
	f.a = v
	f.ok = 1
}

// funcPC returns the entry address of a Go function value. It relies on
// the layout of runtime.funcval (a single leading code-pointer field)
// and the direct-interface representation of pointer-shaped types; both
// are unexported implementation details, not part of any Go compatibility
// promise, but have been stable across the toolchain versions this
// package targets.
func funcPC(f interface{}) uintptr {
	type emptyInterface struct {
		typ  unsafe.Pointer
		word unsafe.Pointer
	}
	return *(*uintptr)((*emptyInterface)(unsafe.Pointer(&f)).word)
}
