// Copyright 2019 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package jit

import (
	"errors"
	"fmt"
)

// ErrProgramTooLarge is returned by Generate when the instruction count
// would overflow the arithmetic the analyzer uses to index its
// per-instruction record slice.
var ErrProgramTooLarge = errors.New("jit: program too large to compile")

// AssemblerError wraps a failure surfaced by the underlying golang-asm
// builder or by the executable-page allocator. It is Kind 2 of §7:
// resource exhaustion, never a structural rejection of the bytecode
// itself.
type AssemblerError struct {
	Stage string // "assemble" or "allocate"
	Err   error
}

func (e *AssemblerError) Error() string {
	return fmt.Sprintf("jit: %s: %v", e.Stage, e.Err)
}

func (e *AssemblerError) Unwrap() error { return e.Err }
