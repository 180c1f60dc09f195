// Copyright 2019 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package jit

import (
	"fmt"
	"unsafe"

	"github.com/edsrzf/mmap-go"
)

// minAllocSize is the size of each backing mmap block. Programs smaller
// than this share a block; larger ones get a dedicated block sized to
// fit them.
const minAllocSize = 32 * 1024

// allocationAlignment is the granularity each allocation within a block
// is rounded up to, so every program starts on a 32-byte boundary.
const allocationAlignment = 32

type execBlock struct {
	mem       mmap.MMap
	consumed  uint32
	remaining uint32
}

// MMapAllocator hands out read-write-execute pages for compiled code.
// It bump-allocates within a chunk of minAllocSize and grows a fresh
// chunk, sized to fit, once the current one runs out. The zero value is
// ready to use.
type MMapAllocator struct {
	blocks []*execBlock
	last   *execBlock
}

func alignUp(n uint32, align uint32) uint32 {
	return (n + align - 1) &^ (align - 1)
}

// AllocateExec copies code into an executable page and returns the block
// holding the copy and the copy's offset within it; entryAt(off) on that
// block is the address of its first byte.
func (a *MMapAllocator) AllocateExec(code []byte) (*execBlock, uint32, error) {
	need := alignUp(uint32(len(code)), allocationAlignment)

	if a.last == nil || a.last.remaining < need {
		size := uint32(minAllocSize)
		if need > size {
			size = need
		}
		region, err := mmap.MapRegion(nil, int(size), mmap.RDWR|mmap.EXEC, 0, 0)
		if err != nil {
			return nil, 0, &AssemblerError{Stage: "allocate", Err: err}
		}
		b := &execBlock{mem: region, remaining: size}
		a.blocks = append(a.blocks, b)
		a.last = b
	}

	b := a.last
	off := b.consumed
	copy(b.mem[off:off+uint32(len(code))], code)

	if err := b.mem.Flush(); err != nil {
		return nil, 0, &AssemblerError{Stage: "allocate", Err: err}
	}

	b.consumed += need
	b.remaining -= need

	return b, off, nil
}

// Close unmaps every block this allocator has handed out code from.
// Calling any entry point obtained from it afterwards is undefined
// behaviour.
func (a *MMapAllocator) Close() error {
	var firstErr error
	for _, b := range a.blocks {
		if err := b.mem.Unmap(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("jit: unmap: %w", err)
		}
	}
	a.blocks = nil
	a.last = nil
	return firstErr
}

func (b *execBlock) entryAt(off uint32) uintptr {
	return uintptr(unsafe.Pointer(&b.mem[off]))
}
